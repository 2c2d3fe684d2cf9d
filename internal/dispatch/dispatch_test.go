package dispatch

import (
	"sync"
	"testing"

	"go.uber.org/zap"
)

type recordingSender struct {
	mu       sync.Mutex
	messages []string
	result   bool
}

func (s *recordingSender) Send(message string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, message)
	return s.result
}

func (s *recordingSender) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.messages...)
}

var testMarkers = []string{"[주문 내역]", "[order]"}

func TestDetectOrder(t *testing.T) {
	e := New(testMarkers, &recordingSender{}, zap.NewNop())

	tests := []struct {
		name string
		text string
		want bool
	}{
		{"korean marker", "[주문 내역]\n- 젤리 x 2", true},
		{"english marker", "Here you go [order] lollipop x1", true},
		{"uppercase marker", "[ORDER] chocolate", true},
		{"mixed case marker", "[OrDeR]", true},
		{"no marker", "What candy would you like?", false},
		{"partial marker", "[orde", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.DetectOrder(tt.text); got != tt.want {
				t.Errorf("DetectOrder(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestDispatchIfOrder_ExactlyOnce(t *testing.T) {
	sender := &recordingSender{result: true}
	e := New(testMarkers, sender, zap.NewNop())

	text := "[order] gummy x1\n[ORDER] again\n[주문 내역]"
	if !e.DispatchIfOrder(text, "s1") {
		t.Fatal("expected dispatch to start")
	}
	e.Wait()

	sent := sender.sent()
	if len(sent) != 1 {
		t.Fatalf("expected exactly one send, got %d", len(sent))
	}
	if sent[0] != text {
		t.Errorf("expected text sent verbatim, got %q", sent[0])
	}
}

func TestDispatchIfOrder_NoMarkerNoSend(t *testing.T) {
	sender := &recordingSender{result: true}
	e := New(testMarkers, sender, zap.NewNop())

	if e.DispatchIfOrder("Hello! What would you like?", "s1") {
		t.Error("expected no dispatch without marker")
	}
	e.Wait()

	if len(sender.sent()) != 0 {
		t.Errorf("expected no sends, got %v", sender.sent())
	}
}

func TestDispatchIfOrder_FailureNotRetried(t *testing.T) {
	sender := &recordingSender{result: false}
	e := New(testMarkers, sender, zap.NewNop())

	if !e.DispatchIfOrder("[order] x", "s1") {
		t.Fatal("expected dispatch to start even if the send fails")
	}
	e.Wait()

	if len(sender.sent()) != 1 {
		t.Errorf("expected a single attempt, got %d", len(sender.sent()))
	}
}

func TestDispatchIfOrder_PerCall(t *testing.T) {
	sender := &recordingSender{result: true}
	e := New(testMarkers, sender, zap.NewNop())

	for range 3 {
		e.DispatchIfOrder("[order] same text", "s1")
	}
	e.Wait()

	if len(sender.sent()) != 3 {
		t.Errorf("expected one send per call, got %d", len(sender.sent()))
	}
	if e.Dispatched() != 3 {
		t.Errorf("expected dispatched counter 3, got %d", e.Dispatched())
	}
}

func TestNew_IgnoresBlankMarkers(t *testing.T) {
	e := New([]string{"", "  ", "[order]"}, &recordingSender{}, nil)

	if e.DetectOrder("just text with spaces  ") {
		t.Error("blank markers must not match")
	}
}
