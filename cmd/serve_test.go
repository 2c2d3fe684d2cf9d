package cmd

import (
	"context"
	"testing"

	"github.com/kozaktomas/candy-kiosk/internal/config"
)

func TestNewChatProvider(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		openAI   string
		gemini   string
		wantNil  bool
		wantErr  bool
		wantName string
	}{
		{"none configured", "", "", "", true, false, ""},
		{"openai by key", "", "sk-test", "", false, false, "gpt-4o-mini"},
		{"openai without key", "openai", "", "", false, true, ""},
		{"gemini without key", "gemini", "", "", false, true, ""},
		{"unknown", "claude", "sk-test", "", false, true, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &config.Config{
				Chat:   config.ChatConfig{Provider: tc.provider, OpenAIModel: "gpt-4o-mini"},
				OpenAI: config.OpenAIConfig{Token: tc.openAI},
				Gemini: config.GeminiConfig{APIKey: tc.gemini},
			}

			p, err := newChatProvider(context.Background(), cfg)
			if (err != nil) != tc.wantErr {
				t.Fatalf("unexpected error state: %v", err)
			}
			if tc.wantErr {
				return
			}
			if (p == nil) != tc.wantNil {
				t.Fatalf("expected nil provider=%v, got %v", tc.wantNil, p)
			}
			if p != nil && p.Name() != tc.wantName {
				t.Errorf("expected provider %q, got %q", tc.wantName, p.Name())
			}
		})
	}
}
