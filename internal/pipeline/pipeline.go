// Package pipeline turns camera frames into annotated JPEG frames while
// driving the face session: detection, identity search and pending
// registrations all happen per frame.
package pipeline

import (
	"context"
	"image"
	"iter"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/kozaktomas/candy-kiosk/internal/constants"
	"github.com/kozaktomas/candy-kiosk/internal/database"
	"github.com/kozaktomas/candy-kiosk/internal/facematch"
	"github.com/kozaktomas/candy-kiosk/internal/recognition"
	"github.com/kozaktomas/candy-kiosk/internal/session"
)

// FrameReader produces frames.
type FrameReader interface {
	Read() (image.Image, error)
}

// Detector finds face bounding boxes in a frame.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]facematch.BBox, error)
}

// Matcher embeds and identifies faces.
type Matcher interface {
	Embed(ctx context.Context, img image.Image, bbox facematch.BBox) ([]float32, error)
	Identify(ctx context.Context, img image.Image, bbox facematch.BBox) (recognition.Result, error)
}

// Config holds pipeline settings.
type Config struct {
	// Interval between frames; zero disables pacing.
	Interval    time.Duration
	JPEGQuality int
}

// Stats are cumulative frame counters.
type Stats struct {
	Frames        int64 `json:"frames"`
	Encoded       int64 `json:"encoded"`
	DetectErrors  int64 `json:"detect_errors"`
	EncodeErrors  int64 `json:"encode_errors"`
	Searches      int64 `json:"searches"`
	Registrations int64 `json:"registrations"`
	Logouts       int64 `json:"logouts"`
}

// Pipeline wires a frame source to the face session.
type Pipeline struct {
	source   FrameReader
	detector Detector
	matcher  Matcher
	store    database.IdentityWriter
	session  *session.Manager
	cfg      Config
	clock    clockwork.Clock
	logger   *zap.Logger

	frames        atomic.Int64
	encoded       atomic.Int64
	detectErrors  atomic.Int64
	encodeErrors  atomic.Int64
	searches      atomic.Int64
	registrations atomic.Int64
	logouts       atomic.Int64
}

// New creates a Pipeline.
func New(
	source FrameReader,
	detector Detector,
	matcher Matcher,
	store database.IdentityWriter,
	sess *session.Manager,
	cfg Config,
	clock clockwork.Clock,
	logger *zap.Logger,
) *Pipeline {
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = constants.DefaultJPEGQuality
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		source:   source,
		detector: detector,
		matcher:  matcher,
		store:    store,
		session:  sess,
		cfg:      cfg,
		clock:    clock,
		logger:   logger,
	}
}

// Frames returns a lazy sequence of annotated JPEG frames. The sequence ends
// after yielding the capture error when the source fails, or silently when
// ctx is done or the consumer stops ranging. Each call starts a new sequence.
func (p *Pipeline) Frames(ctx context.Context) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for ctx.Err() == nil {
			img, err := p.source.Read()
			if err != nil {
				yield(nil, err)
				return
			}

			if data, ok := p.Process(ctx, img); ok {
				if !yield(data, nil) {
					return
				}
			}

			if !p.sleep(ctx) {
				return
			}
		}
	}
}

func (p *Pipeline) sleep(ctx context.Context) bool {
	if p.cfg.Interval <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-p.clock.After(p.cfg.Interval):
		return true
	}
}

// Process runs one frame through detection, the session and annotation.
// It returns false when the frame could not be encoded.
func (p *Pipeline) Process(ctx context.Context, img image.Image) ([]byte, bool) {
	p.frames.Add(1)

	bbox := p.detect(ctx, img)
	if bbox != nil {
		p.search(ctx, img, *bbox)
		p.commitRegistration(ctx, img, *bbox)
	}

	label := constants.FaceLabel
	if userID, ok := p.session.CurrentUserID(); ok {
		label = userID
	}

	data, err := encodeJPEG(annotate(img, bbox, label), p.cfg.JPEGQuality)
	if err != nil {
		p.encodeErrors.Add(1)
		p.logger.Warn("dropping frame", zap.Error(err))
		return nil, false
	}
	p.encoded.Add(1)
	return data, true
}

// detect reports presence or absence to the session and returns the face
// box. A detector error is reported as neither.
func (p *Pipeline) detect(ctx context.Context, img image.Image) *facematch.BBox {
	boxes, err := p.detector.Detect(ctx, img)
	if err != nil {
		p.detectErrors.Add(1)
		p.logger.Debug("face detection failed", zap.Error(err))
		return nil
	}

	for _, b := range boxes {
		b = b.ClampTo(img.Bounds())
		if b.Empty() {
			continue
		}
		if p.session.OnFaceObserved(b) {
			p.logger.Info("face appeared", zap.Any("bbox", b))
		}
		return &b
	}

	userID, wasRecognized := p.session.CurrentUserID()
	if p.session.OnFaceAbsent(p.session.Timeout()) {
		p.logouts.Add(1)
		if wasRecognized {
			p.logger.Info("user logged out", zap.String("user_id", userID))
		} else {
			p.logger.Info("face session ended")
		}
	}
	return nil
}

func (p *Pipeline) search(ctx context.Context, img image.Image, bbox facematch.BBox) {
	if !p.session.ShouldSearch() {
		return
	}
	p.searches.Add(1)

	res, err := p.matcher.Identify(ctx, img, bbox)
	if err != nil {
		p.logger.Debug("identity search failed", zap.Error(err))
		p.session.MarkUnknown()
		return
	}
	if !res.Matched {
		p.session.MarkUnknown()
		p.logger.Info("unknown face", zap.Float64("best_similarity", res.Similarity))
		return
	}
	p.session.MarkRecognized(res.UserID)
	p.logger.Info("user logged in", zap.String("user_id", res.UserID), zap.Float64("similarity", res.Similarity))
}

func (p *Pipeline) commitRegistration(ctx context.Context, img image.Image, bbox facematch.BBox) {
	reg, ok := p.session.PendingRegistration()
	if !ok {
		return
	}

	emb, err := p.matcher.Embed(ctx, img, bbox)
	if err != nil {
		p.logger.Warn("registration embedding failed, will retry", zap.String("user_id", reg.UserID), zap.Error(err))
		return
	}
	if err := p.store.Upsert(ctx, reg.UserID, emb); err != nil {
		p.logger.Warn("registration store failed, will retry", zap.String("user_id", reg.UserID), zap.Error(err))
		return
	}

	p.session.CommitPendingRegistration(reg.ID)
	p.session.MarkRecognized(reg.UserID)
	p.registrations.Add(1)
	p.logger.Info("user registered", zap.String("user_id", reg.UserID))
}

// Stats returns the cumulative counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Frames:        p.frames.Load(),
		Encoded:       p.encoded.Load(),
		DetectErrors:  p.detectErrors.Load(),
		EncodeErrors:  p.encodeErrors.Load(),
		Searches:      p.searches.Load(),
		Registrations: p.registrations.Load(),
		Logouts:       p.logouts.Load(),
	}
}
