package handlers

import (
	"context"
	"encoding/json"
	"image"
	"io"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/candy-kiosk/internal/camera"
	"github.com/kozaktomas/candy-kiosk/internal/chat"
	"github.com/kozaktomas/candy-kiosk/internal/database"
	"github.com/kozaktomas/candy-kiosk/internal/facematch"
	"github.com/kozaktomas/candy-kiosk/internal/recognition"
	"github.com/kozaktomas/candy-kiosk/internal/transport"
)

// requestWithChiParams creates a request with chi URL parameters set.
func requestWithChiParams(method, path, body string, params map[string]string) *http.Request {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

type fakeCamera struct {
	mu       sync.Mutex
	startErr error
	started  []int
	stopped  int
	status   camera.Status
}

func (f *fakeCamera) Start(index int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started = append(f.started, index)
	f.status.Running = true
	f.status.Index = index
	return nil
}

func (f *fakeCamera) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	f.status.Running = false
}

func (f *fakeCamera) EnsureStarted() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.status.Running = true
	return nil
}

func (f *fakeCamera) Status() camera.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

type fakeStream struct {
	frames [][]byte
	err    error
}

func (f *fakeStream) Frames(ctx context.Context) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for _, frame := range f.frames {
			if !yield(frame, nil) {
				return
			}
		}
		if f.err != nil {
			yield(nil, f.err)
		}
	}
}

type fakeFrames struct {
	img image.Image
	err error
}

func (f *fakeFrames) Read() (image.Image, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.img, nil
}

type fakeFaceMatcher struct {
	cmp   recognition.Comparison
	err   error
	info  recognition.Info
	calls int
	bbox  facematch.BBox
}

func (f *fakeFaceMatcher) Compare(_ context.Context, _ image.Image, bbox facematch.BBox, userID string) (recognition.Comparison, error) {
	f.calls++
	f.bbox = bbox
	if f.err != nil {
		return recognition.Comparison{}, f.err
	}
	cmp := f.cmp
	cmp.UserID = userID
	return cmp, nil
}

func (f *fakeFaceMatcher) Info() recognition.Info {
	return f.info
}

type fakeRobot struct {
	sendErr error
	sent    []string
}

func (f *fakeRobot) SendContext(_ context.Context, message string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, message)
	return nil
}

func (f *fakeRobot) TestMessage() string { return "TEST_CONNECTION" }

func (f *fakeRobot) Status() transport.Status {
	return transport.Status{Host: "127.0.0.1", Port: 8888, Protocol: "udp", FireAndForget: true, Sent: len(f.sent)}
}

type fakeChat struct {
	reply      chat.Reply
	err        error
	gotSession string
	gotMessage string
	gotLimit   int
	cleared    []string
	turns      []database.ChatTurn
	sessions   []database.ChatSession
}

func (f *fakeChat) Chat(_ context.Context, sessionID, message string) (chat.Reply, error) {
	f.gotSession = sessionID
	f.gotMessage = message
	if f.err != nil {
		return chat.Reply{}, f.err
	}
	return f.reply, nil
}

func (f *fakeChat) Clear(_ context.Context, sessionID string) error {
	if f.err != nil {
		return f.err
	}
	f.cleared = append(f.cleared, sessionID)
	return nil
}

func (f *fakeChat) History(_ context.Context, _ string, limit int) ([]database.ChatTurn, error) {
	f.gotLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	return f.turns, nil
}

func (f *fakeChat) Sessions(context.Context) ([]database.ChatSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.sessions, nil
}
