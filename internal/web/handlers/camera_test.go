package handlers

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/kozaktomas/candy-kiosk/internal/camera"
)

func TestCameraHandler_Start(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		startErr  error
		wantCode  int
		wantIndex int
	}{
		{"default index", "", nil, http.StatusOK, 0},
		{"explicit index", "?camera_index=2", nil, http.StatusOK, 2},
		{"invalid index", "?camera_index=abc", nil, http.StatusBadRequest, -1},
		{"negative index", "?camera_index=-1", nil, http.StatusBadRequest, -1},
		{"device failure", "", camera.ErrCaptureUnavailable, http.StatusServiceUnavailable, -1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cam := &fakeCamera{startErr: tc.startErr}
			h := NewCameraHandler(cam, &fakeStream{}, zap.NewNop())

			rec := httptest.NewRecorder()
			h.Start(rec, httptest.NewRequest(http.MethodPost, "/api/v1/camera/start"+tc.query, nil))

			if rec.Code != tc.wantCode {
				t.Fatalf("expected status %d, got %d: %s", tc.wantCode, rec.Code, rec.Body.String())
			}
			if tc.wantIndex >= 0 {
				if len(cam.started) != 1 || cam.started[0] != tc.wantIndex {
					t.Errorf("expected camera started on %d, got %v", tc.wantIndex, cam.started)
				}
			}
		})
	}
}

func TestCameraHandler_StopAndStatus(t *testing.T) {
	cam := &fakeCamera{status: camera.Status{Running: true, Width: 640, Height: 480}}
	h := NewCameraHandler(cam, &fakeStream{}, zap.NewNop())

	rec := httptest.NewRecorder()
	h.Stop(rec, httptest.NewRequest(http.MethodPost, "/api/v1/camera/stop", nil))
	if rec.Code != http.StatusOK || cam.stopped != 1 {
		t.Fatalf("expected stop to succeed, got %d (stopped=%d)", rec.Code, cam.stopped)
	}

	rec = httptest.NewRecorder()
	h.Status(rec, httptest.NewRequest(http.MethodGet, "/api/v1/camera/status", nil))
	body := decodeBody(t, rec)
	if body["is_running"] != false {
		t.Errorf("expected is_running=false after stop, got %v", body["is_running"])
	}
	if body["width"] != float64(640) {
		t.Errorf("expected width 640, got %v", body["width"])
	}
}

func TestCameraHandler_StreamWritesMultipartFrames(t *testing.T) {
	frames := [][]byte{[]byte("frame-one"), []byte("frame-two")}
	h := NewCameraHandler(&fakeCamera{}, &fakeStream{frames: frames, err: camera.ErrCaptureUnavailable}, zap.NewNop())

	rec := httptest.NewRecorder()
	h.Stream(rec, httptest.NewRequest(http.MethodGet, "/api/v1/camera/stream", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "multipart/x-mixed-replace; boundary=frame" {
		t.Errorf("unexpected Content-Type %q", ct)
	}

	mr := multipart.NewReader(strings.NewReader(rec.Body.String()), "frame")
	for i, want := range frames {
		part, err := mr.NextPart()
		if err != nil {
			t.Fatalf("part %d: %v", i, err)
		}
		if ct := part.Header.Get("Content-Type"); ct != "image/jpeg" {
			t.Errorf("part %d: expected image/jpeg, got %q", i, ct)
		}
		got, _ := io.ReadAll(part)
		if string(got) != string(want) {
			t.Errorf("part %d: expected %q, got %q", i, want, got)
		}
	}
}

func TestCameraHandler_StreamCameraUnavailable(t *testing.T) {
	h := NewCameraHandler(&fakeCamera{startErr: errors.New("no device")}, &fakeStream{}, zap.NewNop())

	rec := httptest.NewRecorder()
	h.Stream(rec, httptest.NewRequest(http.MethodGet, "/api/v1/camera/stream", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", rec.Code)
	}
}
