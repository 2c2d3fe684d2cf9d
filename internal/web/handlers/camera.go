package handlers

import (
	"context"
	"errors"
	"iter"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"

	"go.uber.org/zap"

	"github.com/kozaktomas/candy-kiosk/internal/camera"
	"github.com/kozaktomas/candy-kiosk/internal/constants"
)

// CameraSource controls the capture device.
type CameraSource interface {
	Start(index int) error
	Stop()
	EnsureStarted() error
	Status() camera.Status
}

// FrameStream produces encoded frames.
type FrameStream interface {
	Frames(ctx context.Context) iter.Seq2[[]byte, error]
}

// CameraHandler handles camera endpoints.
type CameraHandler struct {
	source CameraSource
	stream FrameStream
	logger *zap.Logger
}

// NewCameraHandler creates a new camera handler.
func NewCameraHandler(source CameraSource, stream FrameStream, logger *zap.Logger) *CameraHandler {
	return &CameraHandler{source: source, stream: stream, logger: logger}
}

// Start opens the camera, releasing any open device first.
func (h *CameraHandler) Start(w http.ResponseWriter, r *http.Request) {
	index := h.source.Status().Index
	if s := r.URL.Query().Get("camera_index"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid camera_index")
			return
		}
		index = n
	}

	if err := h.source.Start(index); err != nil {
		h.logger.Error("failed to start camera", zap.Int("camera_index", index), zap.Error(err))
		respondError(w, http.StatusServiceUnavailable, "failed to start camera")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"message":      "camera started",
		"camera_index": index,
	})
}

// Stop releases the camera.
func (h *CameraHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.source.Stop()
	respondJSON(w, http.StatusOK, map[string]string{"message": "camera stopped"})
}

// Status returns the camera status.
func (h *CameraHandler) Status(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.source.Status())
}

// Stream serves annotated frames as multipart/x-mixed-replace until the
// client disconnects or the camera fails.
func (h *CameraHandler) Stream(w http.ResponseWriter, r *http.Request) {
	if err := h.source.EnsureStarted(); err != nil {
		h.logger.Error("failed to start camera for stream", zap.Error(err))
		respondError(w, http.StatusServiceUnavailable, "camera unavailable")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	mw := multipart.NewWriter(w)
	if err := mw.SetBoundary(constants.StreamBoundary); err != nil {
		respondError(w, http.StatusInternalServerError, "invalid stream boundary")
		return
	}
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+constants.StreamBoundary)
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Type", "image/jpeg")

	for frame, err := range h.stream.Frames(r.Context()) {
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				h.logger.Warn("camera stream ended", zap.Error(err))
			}
			return
		}
		header.Set("Content-Length", strconv.Itoa(len(frame)))
		part, err := mw.CreatePart(header)
		if err != nil {
			return
		}
		if _, err := part.Write(frame); err != nil {
			// Client went away.
			return
		}
		flusher.Flush()
	}
}
