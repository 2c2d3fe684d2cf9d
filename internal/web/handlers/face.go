package handlers

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kozaktomas/candy-kiosk/internal/database"
	"github.com/kozaktomas/candy-kiosk/internal/facematch"
	"github.com/kozaktomas/candy-kiosk/internal/recognition"
	"github.com/kozaktomas/candy-kiosk/internal/session"
)

// FaceMatcher compares the face in view with stored identities.
type FaceMatcher interface {
	Compare(ctx context.Context, img image.Image, bbox facematch.BBox, userID string) (recognition.Comparison, error)
	Info() recognition.Info
}

// FrameReader grabs the current camera frame.
type FrameReader interface {
	Read() (image.Image, error)
}

// FaceHandler handles face session and identity endpoints.
type FaceHandler struct {
	session      *session.Manager
	store        database.IdentityWriter
	matcher      FaceMatcher
	frames       FrameReader
	minUserIDLen int
	logger       *zap.Logger
}

// NewFaceHandler creates a new face handler.
func NewFaceHandler(
	sess *session.Manager,
	store database.IdentityWriter,
	matcher FaceMatcher,
	frames FrameReader,
	minUserIDLen int,
	logger *zap.Logger,
) *FaceHandler {
	return &FaceHandler{
		session:      sess,
		store:        store,
		matcher:      matcher,
		frames:       frames,
		minUserIDLen: minUserIDLen,
		logger:       logger,
	}
}

// IdentityResponse represents a stored identity in API responses.
type IdentityResponse struct {
	UserID    string    `json:"user_id"`
	Dim       int       `json:"dim"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Status returns the session stats, the embedding setup and the identity count.
func (h *FaceHandler) Status(w http.ResponseWriter, r *http.Request) {
	count, err := h.store.Count(r.Context())
	if err != nil {
		h.logger.Error("failed to count identities", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to count identities")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"session":    h.session.Stats(),
		"embedding":  h.matcher.Info(),
		"identities": count,
	})
}

type registerRequest struct {
	UserID string `json:"user_id"`
}

// RegisterCurrentFace queues the face in view for registration. The
// embedding is stored by the frame pipeline on the next frame with a face.
func (h *FaceHandler) RegisterCurrentFace(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req, false); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	userID, err := facematch.NormalizeUserID(req.UserID, h.minUserIDLen)
	if err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("user_id must be at least %d characters", h.minUserIDLen))
		return
	}

	reg, err := h.session.RegisterCurrentFace(userID)
	if errors.Is(err, session.ErrNoFaceDetected) {
		respondError(w, http.StatusBadRequest, "no face detected")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.logger.Info("registration requested", zap.String("user_id", sanitizeForLog(userID)))
	respondJSON(w, http.StatusAccepted, map[string]any{
		"message":         "registration pending",
		"user_id":         userID,
		"registration_id": reg.ID,
		"bbox":            reg.BBox,
	})
}

// ListUsers returns all stored identities.
func (h *FaceHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list identities", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list identities")
		return
	}

	users := make([]IdentityResponse, 0, len(records))
	for _, rec := range records {
		users = append(users, IdentityResponse{
			UserID:    rec.UserID,
			Dim:       rec.Dim,
			CreatedAt: rec.CreatedAt,
			UpdatedAt: rec.UpdatedAt,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"users": users,
		"count": len(users),
	})
}

// DeleteUser removes one identity. A session recognized as that user is reset.
func (h *FaceHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	if userID == "" {
		respondError(w, http.StatusBadRequest, "missing user_id")
		return
	}

	deleted, err := h.store.Delete(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to delete identity", zap.String("user_id", sanitizeForLog(userID)), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to delete identity")
		return
	}
	if !deleted {
		respondError(w, http.StatusNotFound, "user not found")
		return
	}

	if current, ok := h.session.CurrentUserID(); ok && current == userID {
		h.session.Reset()
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"message": "user deleted",
		"user_id": userID,
	})
}

// CurrentSession returns a snapshot of the face session.
func (h *FaceHandler) CurrentSession(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.session.Snapshot())
}

// ResetSession returns the session to no face.
func (h *FaceHandler) ResetSession(w http.ResponseWriter, r *http.Request) {
	h.session.Reset()
	respondJSON(w, http.StatusOK, map[string]string{"message": "session reset"})
}

// ClearDatabase removes every identity and resets the session.
func (h *FaceHandler) ClearDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Clear(r.Context()); err != nil {
		h.logger.Error("failed to clear identities", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to clear identities")
		return
	}
	h.session.Reset()
	h.logger.Info("identity database cleared")
	respondJSON(w, http.StatusOK, map[string]string{"message": "face database cleared"})
}

// SimilarityTest compares the face in view with a stored identity.
func (h *FaceHandler) SimilarityTest(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")

	bbox, ok := h.session.CurrentBBox()
	if !ok {
		respondError(w, http.StatusBadRequest, "no face detected")
		return
	}

	frame, err := h.frames.Read()
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "camera unavailable")
		return
	}

	cmp, err := h.matcher.Compare(r.Context(), frame, bbox, userID)
	switch {
	case errors.Is(err, recognition.ErrUnknownUser):
		respondError(w, http.StatusNotFound, "user not found")
	case errors.Is(err, recognition.ErrNoFaceInRegion):
		respondError(w, http.StatusBadRequest, "no face in region")
	case err != nil:
		h.logger.Error("similarity test failed", zap.String("user_id", sanitizeForLog(userID)), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "similarity test failed")
	default:
		respondJSON(w, http.StatusOK, cmp)
	}
}
