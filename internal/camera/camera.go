// Package camera owns the single capture device of the process.
package camera

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/kozaktomas/candy-kiosk/internal/config"
)

// ErrCaptureUnavailable is returned when the device cannot be opened or read.
var ErrCaptureUnavailable = errors.New("camera capture unavailable")

// Device is an open capture device.
type Device interface {
	Read() (image.Image, error)
	Close() error
}

// Opener opens the capture device with the given index.
type Opener func(index int) (Device, error)

// Status describes the camera source.
type Status struct {
	Running    bool       `json:"is_running"`
	Index      int        `json:"camera_index"`
	Width      int        `json:"width"`
	Height     int        `json:"height"`
	FPS        int        `json:"fps"`
	FramesRead int64      `json:"frames_read"`
	ReadErrors int64      `json:"read_errors"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
}

// Source serializes access to one capture device. Reads from concurrent
// consumers interleave on the same device.
type Source struct {
	mu     sync.Mutex
	open   Opener
	cfg    config.CameraConfig
	clock  clockwork.Clock
	logger *zap.Logger

	device     Device
	index      int
	startedAt  time.Time
	framesRead int64
	readErrors int64
}

// NewSource creates a stopped Source.
func NewSource(open Opener, cfg config.CameraConfig, clock clockwork.Clock, logger *zap.Logger) *Source {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{open: open, cfg: cfg, clock: clock, logger: logger, index: cfg.Index}
}

// Start releases any open device and opens the one at index.
func (s *Source) Start(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(index)
}

func (s *Source) startLocked(index int) error {
	s.closeLocked()

	dev, err := s.open(index)
	if err != nil {
		return fmt.Errorf("%w: open camera %d: %w", ErrCaptureUnavailable, index, err)
	}
	s.device = dev
	s.index = index
	s.startedAt = s.clock.Now()
	s.logger.Info("camera started", zap.Int("camera_index", index))
	return nil
}

// EnsureStarted opens the configured device unless one is already open.
func (s *Source) EnsureStarted() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.device != nil {
		return nil
	}
	return s.startLocked(s.index)
}

// Stop releases the device. Stopping a stopped source is a no-op.
func (s *Source) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.device != nil {
		s.logger.Info("camera stopped", zap.Int("camera_index", s.index))
	}
	s.closeLocked()
}

func (s *Source) closeLocked() {
	if s.device == nil {
		return
	}
	if err := s.device.Close(); err != nil {
		s.logger.Warn("failed to release camera", zap.Error(err))
	}
	s.device = nil
}

// Read captures one frame.
func (s *Source) Read() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.device == nil {
		return nil, ErrCaptureUnavailable
	}
	img, err := s.device.Read()
	if err != nil {
		s.readErrors++
		return nil, fmt.Errorf("%w: %w", ErrCaptureUnavailable, err)
	}
	s.framesRead++
	return img, nil
}

// IsRunning reports whether a device is open.
func (s *Source) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device != nil
}

// Status returns the current source status.
func (s *Source) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Running:    s.device != nil,
		Index:      s.index,
		Width:      s.cfg.Width,
		Height:     s.cfg.Height,
		FPS:        s.cfg.FPS,
		FramesRead: s.framesRead,
		ReadErrors: s.readErrors,
	}
	if st.Running {
		started := s.startedAt
		st.StartedAt = &started
	}
	return st
}
