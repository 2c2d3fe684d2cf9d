// Package chat produces conversational replies with an LLM provider, keeps
// per-session history and hands every reply to the order dispatcher.
package chat

import (
	"context"
	"sync"
)

// Role of a message in a conversation.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation message sent to a provider.
type Message struct {
	Role    Role
	Content string
}

// Provider generates the next assistant message.
type Provider interface {
	Name() string
	Generate(ctx context.Context, systemPrompt string, history []Message, message string) (string, error)
	GetUsage() Usage
}

// Usage tracks token usage.
type Usage struct {
	Requests     int `json:"requests"`
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type usageTracker struct {
	mu    sync.Mutex
	usage Usage
}

func (u *usageTracker) track(inputTokens, outputTokens int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.usage.Requests++
	u.usage.InputTokens += inputTokens
	u.usage.OutputTokens += outputTokens
}

func (u *usageTracker) get() Usage {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.usage
}
