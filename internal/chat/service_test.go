package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/kozaktomas/candy-kiosk/internal/database/mock"
)

type fakeProvider struct {
	reply       string
	err         error
	lastHistory []Message
	lastPrompt  string
	calls       int
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) GetUsage() Usage { return Usage{Requests: p.calls} }

func (p *fakeProvider) Generate(_ context.Context, systemPrompt string, history []Message, _ string) (string, error) {
	p.calls++
	p.lastPrompt = systemPrompt
	p.lastHistory = history
	return p.reply, p.err
}

type recordingDispatcher struct {
	texts []string
	keys  []string
}

func (d *recordingDispatcher) DispatchIfOrder(text, sessionKey string) bool {
	d.texts = append(d.texts, text)
	d.keys = append(d.keys, sessionKey)
	return true
}

func newTestService(p Provider, d Dispatcher) (*Service, *mock.MockChatHistory) {
	history := mock.NewMockChatHistory()
	cfg := Config{SystemPrompt: "be nice", MaxHistory: 10, ErrorReply: "sorry"}
	return NewService(p, history, d, cfg, nil), history
}

func TestService_Chat(t *testing.T) {
	p := &fakeProvider{reply: "hello"}
	d := &recordingDispatcher{}
	svc, history := newTestService(p, d)
	ctx := context.Background()

	reply, err := svc.Chat(ctx, "", "hi")
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if reply.Response != "hello" || reply.SessionID != "default" || reply.TurnID == "" {
		t.Errorf("unexpected reply %+v", reply)
	}
	if p.lastPrompt != "be nice" {
		t.Errorf("expected system prompt passed, got %q", p.lastPrompt)
	}
	if len(d.texts) != 1 || d.texts[0] != "hello" || d.keys[0] != "default" {
		t.Errorf("expected reply handed to dispatcher, got %v %v", d.texts, d.keys)
	}

	if _, err := svc.Chat(ctx, "default", "again"); err != nil {
		t.Fatalf("second Chat failed: %v", err)
	}
	if len(p.lastHistory) != 2 || p.lastHistory[0].Content != "hi" || p.lastHistory[1].Role != RoleAssistant {
		t.Errorf("expected previous turn as history, got %v", p.lastHistory)
	}

	turns, _ := history.History(ctx, "default", 0)
	if len(turns) != 2 {
		t.Errorf("expected 2 stored turns, got %d", len(turns))
	}
}

func TestService_ChatProviderFailure(t *testing.T) {
	p := &fakeProvider{err: errors.New("rate limited")}
	d := &recordingDispatcher{}
	svc, history := newTestService(p, d)

	reply, err := svc.Chat(context.Background(), "s1", "hi")
	if err != nil {
		t.Fatalf("expected provider failure absorbed, got %v", err)
	}
	if reply.Response != "sorry" || !reply.Failed {
		t.Errorf("expected error reply, got %+v", reply)
	}
	if len(d.texts) != 0 {
		t.Error("expected no dispatch for an error reply")
	}
	turns, _ := history.History(context.Background(), "s1", 0)
	if len(turns) != 1 {
		t.Fatalf("expected error turn stored, got %d", len(turns))
	}
	if turns[0].AIResponse != "sorry" {
		t.Errorf("expected the error reply stored as the response, got %q", turns[0].AIResponse)
	}
}

func TestService_ChatEmptyMessage(t *testing.T) {
	p := &fakeProvider{reply: "x"}
	svc, _ := newTestService(p, nil)

	if _, err := svc.Chat(context.Background(), "s", "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("expected ErrEmptyMessage, got %v", err)
	}
	if p.calls != 0 {
		t.Error("expected provider not called")
	}
}

func TestService_ChatHistoryError(t *testing.T) {
	svc, history := newTestService(&fakeProvider{reply: "x"}, nil)
	history.HistoryError = errors.New("db down")

	if _, err := svc.Chat(context.Background(), "s", "hi"); err == nil {
		t.Error("expected history error")
	}
}

func TestService_ClearAndSessions(t *testing.T) {
	svc, _ := newTestService(&fakeProvider{reply: "x"}, nil)
	ctx := context.Background()

	_, _ = svc.Chat(ctx, "a", "one")
	_, _ = svc.Chat(ctx, "b", "two")

	sessions, err := svc.Sessions(ctx)
	if err != nil || len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %v, %v", sessions, err)
	}

	if err := svc.Clear(ctx, "a"); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	turns, err := svc.History(ctx, "a", 0)
	if err != nil || len(turns) != 0 {
		t.Errorf("expected cleared session, got %v, %v", turns, err)
	}
	if turns, _ := svc.History(ctx, "b", 0); len(turns) != 1 {
		t.Errorf("expected other session kept, got %d", len(turns))
	}
}
