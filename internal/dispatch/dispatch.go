// Package dispatch detects order confirmations in generated text and forwards
// them to the robot.
package dispatch

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/kozaktomas/candy-kiosk/internal/transport"
)

// Engine fires one send per detected order. Sends run on their own goroutine
// and are never retried.
type Engine struct {
	markers []string // case-folded, NFC
	sender  transport.Sender
	logger  *zap.Logger

	wg         sync.WaitGroup
	mu         sync.Mutex
	dispatched int
}

// New creates an Engine matching any of markers, case-insensitively.
func New(markers []string, sender transport.Sender, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		sender: sender,
		logger: logger.With(zap.String("component", "dispatch")),
	}
	for _, m := range markers {
		if f := normalize(m); strings.TrimSpace(f) != "" {
			e.markers = append(e.markers, f)
		}
	}
	return e
}

// normalize folds case after NFC. A Caser is stateful, so one is made per call.
func normalize(s string) string {
	return cases.Fold().String(norm.NFC.String(s))
}

// DetectOrder reports whether text contains any order marker.
func (e *Engine) DetectOrder(text string) bool {
	if text == "" {
		return false
	}
	folded := normalize(text)
	for _, m := range e.markers {
		if strings.Contains(folded, m) {
			return true
		}
	}
	return false
}

// DispatchIfOrder sends text verbatim when it contains an order marker and
// reports whether a send was started. sessionKey only labels the log entry.
func (e *Engine) DispatchIfOrder(text, sessionKey string) bool {
	if !e.DetectOrder(text) {
		return false
	}

	e.mu.Lock()
	e.dispatched++
	e.mu.Unlock()

	e.logger.Info("order detected, dispatching", zap.String("session", sessionKey), zap.Int("bytes", len(text)))

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if !e.sender.Send(text) {
			e.logger.Warn("order dispatch failed", zap.String("session", sessionKey))
		}
	}()
	return true
}

// Dispatched returns how many sends have been started.
func (e *Engine) Dispatched() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dispatched
}

// Wait blocks until all started sends have finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}
