package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

type OpenAIProvider struct {
	client      *openai.Client
	model       string
	temperature float64
	usage       usageTracker
}

// NewOpenAIProvider creates an OpenAI chat completions provider. Extra
// request options are passed to the client.
func NewOpenAIProvider(apiKey, model string, temperature float64, opts ...option.RequestOption) *OpenAIProvider {
	if model == "" {
		model = openai.ChatModelGPT4oMini
	}
	client := openai.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)
	return &OpenAIProvider{
		client:      &client,
		model:       model,
		temperature: temperature,
	}
}

func (p *OpenAIProvider) Name() string {
	return p.model
}

func (p *OpenAIProvider) GetUsage() Usage {
	return p.usage.get()
}

func (p *OpenAIProvider) Generate(ctx context.Context, systemPrompt string, history []Message, message string) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+2)
	if systemPrompt != "" {
		messages = append(messages, openai.SystemMessage(systemPrompt))
	}
	for _, m := range history {
		switch m.Role {
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}
	messages = append(messages, openai.UserMessage(message))

	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(p.model),
		Messages:    messages,
		Temperature: openai.Float(p.temperature),
	})
	if err != nil {
		return "", fmt.Errorf("OpenAI API error: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("no response from OpenAI")
	}

	p.usage.track(int(resp.Usage.PromptTokens), int(resp.Usage.CompletionTokens))

	return resp.Choices[0].Message.Content, nil
}
