package handlers

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/kozaktomas/candy-kiosk/internal/config"
	"github.com/kozaktomas/candy-kiosk/internal/transport"
)

// RobotChannel sends messages to the robot control PC.
type RobotChannel interface {
	SendContext(ctx context.Context, message string) error
	TestMessage() string
	Status() transport.Status
}

// RobotHandler handles robot communication endpoints.
type RobotHandler struct {
	channel RobotChannel
	config  config.RobotConfig
	logger  *zap.Logger
}

// NewRobotHandler creates a new robot handler.
func NewRobotHandler(channel RobotChannel, cfg config.RobotConfig, logger *zap.Logger) *RobotHandler {
	return &RobotHandler{channel: channel, config: cfg, logger: logger}
}

// SendResult is the outcome of a manual send. UDP has no acknowledgement, so
// success only means the datagram left this host.
type SendResult struct {
	Status       string `json:"status"`
	SentMessage  string `json:"sent_message,omitempty"`
	RobotAddress string `json:"robot_address"`
	Error        string `json:"error,omitempty"`
}

// Status returns the channel status.
func (h *RobotHandler) Status(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "online",
		"robot_config": h.channel.Status(),
	})
}

type testConnectionRequest struct {
	TestMessage string `json:"test_message"`
}

// TestConnection sends a test message, the configured one unless the body names another.
func (h *RobotHandler) TestConnection(w http.ResponseWriter, r *http.Request) {
	var req testConnectionRequest
	if err := decodeJSON(r, &req, true); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	message := strings.TrimSpace(req.TestMessage)
	if message == "" {
		message = h.channel.TestMessage()
	}
	respondJSON(w, http.StatusOK, h.send(r.Context(), message))
}

type manualMessageRequest struct {
	Message string `json:"message"`
}

// SendManualMessage sends an operator-provided message verbatim.
func (h *RobotHandler) SendManualMessage(w http.ResponseWriter, r *http.Request) {
	var req manualMessageRequest
	if err := decodeJSON(r, &req, false); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		respondError(w, http.StatusBadRequest, "message is empty")
		return
	}
	respondJSON(w, http.StatusOK, h.send(r.Context(), req.Message))
}

func (h *RobotHandler) send(ctx context.Context, message string) SendResult {
	res := SendResult{RobotAddress: h.config.RobotAddr()}
	if err := h.channel.SendContext(ctx, message); err != nil {
		res.Status = "failed"
		res.Error = err.Error()
		return res
	}
	res.Status = "success"
	res.SentMessage = message
	return res
}

// Config returns the robot communication settings.
func (h *RobotHandler) Config(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"robot_ip":        h.config.Host,
		"robot_port":      h.config.Port,
		"udp_timeout":     h.config.Timeout.Seconds(),
		"udp_buffer_size": h.config.BufferSize,
	})
}
