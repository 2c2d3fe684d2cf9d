// Package recognition turns a face region of a frame into an identity.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"image"

	"go.uber.org/zap"
	"golang.org/x/image/draw"

	"github.com/kozaktomas/candy-kiosk/internal/constants"
	"github.com/kozaktomas/candy-kiosk/internal/database"
	"github.com/kozaktomas/candy-kiosk/internal/facematch"
)

var (
	// ErrNoFaceInRegion is returned when the bbox has no area inside the frame
	// or the embedder found no face in the crop.
	ErrNoFaceInRegion = errors.New("no face in region")
	// ErrEmbeddingFailed wraps embedder failures.
	ErrEmbeddingFailed = errors.New("embedding failed")
	// ErrUnknownUser is returned by Compare for a user id that is not stored.
	ErrUnknownUser = errors.New("unknown user")
)

// Embedder computes the embedding of the face in img.
type Embedder interface {
	Embed(ctx context.Context, img image.Image) ([]float32, error)
}

// Config holds matcher settings.
type Config struct {
	Threshold float64
	Dim       int
	Model     string
}

// Result is the outcome of identifying one face.
type Result struct {
	UserID     string  `json:"user_id,omitempty"`
	Similarity float64 `json:"similarity"`
	Matched    bool    `json:"matched"`
}

// Comparison is the similarity between the face in view and one stored identity.
type Comparison struct {
	UserID     string  `json:"user_id"`
	Similarity float64 `json:"similarity"`
	Threshold  float64 `json:"threshold"`
	IsMatch    bool    `json:"is_match"`
}

// Info describes the embedding setup.
type Info struct {
	EmbeddingSize       int     `json:"embedding_size"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
	Model               string  `json:"model"`
}

// Matcher embeds face regions and matches them against the identity store.
type Matcher struct {
	embedder Embedder
	store    database.IdentityReader
	cfg      Config
	logger   *zap.Logger
}

// NewMatcher creates a Matcher. A non-positive threshold selects the default.
func NewMatcher(embedder Embedder, store database.IdentityReader, cfg Config, logger *zap.Logger) *Matcher {
	if cfg.Threshold <= 0 {
		cfg.Threshold = constants.DefaultMatchThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Matcher{embedder: embedder, store: store, cfg: cfg, logger: logger}
}

// Threshold returns the match threshold.
func (m *Matcher) Threshold() float64 {
	return m.cfg.Threshold
}

// Embed crops bbox out of img and returns the embedding of the face in it.
func (m *Matcher) Embed(ctx context.Context, img image.Image, bbox facematch.BBox) ([]float32, error) {
	region := bbox.ClampTo(img.Bounds())
	if region.Empty() {
		return nil, ErrNoFaceInRegion
	}

	emb, err := m.embedder.Embed(ctx, crop(img, region.Rect()))
	if err != nil {
		if errors.Is(err, facematch.ErrNoFace) {
			return nil, ErrNoFaceInRegion
		}
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
	}
	if len(emb) == 0 {
		return nil, ErrNoFaceInRegion
	}
	return emb, nil
}

// crop copies r out of img into a new image anchored at the origin.
func crop(img image.Image, r image.Rectangle) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst
}

// Similarity returns the cosine similarity of a and b remapped to [0,1].
func (m *Matcher) Similarity(a, b []float32) float64 {
	return facematch.Similarity(a, b)
}

// IsMatch reports whether a and b are similar enough to be the same person.
func (m *Matcher) IsMatch(a, b []float32) bool {
	return m.Similarity(a, b) >= m.cfg.Threshold
}

// Identify embeds the face at bbox and looks up the closest stored identity.
// A face that matches nobody is a Result with Matched false, not an error.
func (m *Matcher) Identify(ctx context.Context, img image.Image, bbox facematch.BBox) (Result, error) {
	emb, err := m.Embed(ctx, img, bbox)
	if err != nil {
		return Result{}, err
	}

	best, err := database.BestMatch(ctx, m.store, emb)
	if err != nil {
		return Result{}, fmt.Errorf("search identities: %w", err)
	}
	if best == nil {
		return Result{}, nil
	}

	res := Result{Similarity: best.Similarity}
	if best.Similarity >= m.cfg.Threshold {
		res.UserID = best.UserID
		res.Matched = true
	}
	m.logger.Debug("identity search",
		zap.String("best_user_id", best.UserID),
		zap.Float64("similarity", best.Similarity),
		zap.Bool("matched", res.Matched))
	return res, nil
}

// Compare embeds the face at bbox and compares it with the stored identity of userID.
func (m *Matcher) Compare(ctx context.Context, img image.Image, bbox facematch.BBox, userID string) (Comparison, error) {
	rec, err := m.store.Get(ctx, userID)
	if err != nil {
		return Comparison{}, fmt.Errorf("get identity: %w", err)
	}
	if rec == nil {
		return Comparison{}, ErrUnknownUser
	}

	emb, err := m.Embed(ctx, img, bbox)
	if err != nil {
		return Comparison{}, err
	}

	sim := m.Similarity(emb, rec.Embedding)
	return Comparison{
		UserID:     userID,
		Similarity: sim,
		Threshold:  m.cfg.Threshold,
		IsMatch:    sim >= m.cfg.Threshold,
	}, nil
}

// Info describes the embedding setup.
func (m *Matcher) Info() Info {
	return Info{
		EmbeddingSize:       m.cfg.Dim,
		SimilarityThreshold: m.cfg.Threshold,
		Model:               m.cfg.Model,
	}
}
