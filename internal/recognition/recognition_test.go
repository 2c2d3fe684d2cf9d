package recognition

import (
	"context"
	"errors"
	"image"
	"math"
	"testing"

	"github.com/kozaktomas/candy-kiosk/internal/database/mock"
	"github.com/kozaktomas/candy-kiosk/internal/facematch"
)

type fakeEmbedder struct {
	embedding []float32
	err       error
	calls     int
	lastSize  image.Point
}

func (f *fakeEmbedder) Embed(_ context.Context, img image.Image) ([]float32, error) {
	f.calls++
	f.lastSize = img.Bounds().Size()
	if f.err != nil {
		return nil, f.err
	}
	return f.embedding, nil
}

func frame() image.Image {
	return image.NewRGBA(image.Rect(0, 0, 640, 480))
}

func TestMatcher_EmbedCropsClampedRegion(t *testing.T) {
	emb := &fakeEmbedder{embedding: []float32{1, 0}}
	m := NewMatcher(emb, mock.NewMockIdentityStore(), Config{}, nil)

	_, err := m.Embed(context.Background(), frame(), facematch.BBox{X1: 600, Y1: 400, X2: 700, Y2: 500})
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if emb.lastSize != (image.Point{X: 40, Y: 80}) {
		t.Errorf("expected 40x80 crop, got %v", emb.lastSize)
	}
}

func TestMatcher_EmbedErrors(t *testing.T) {
	tests := []struct {
		name    string
		bbox    facematch.BBox
		err     error
		wantErr error
	}{
		{"degenerate bbox", facematch.BBox{X1: 10, Y1: 10, X2: 10, Y2: 50}, nil, ErrNoFaceInRegion},
		{"outside frame", facematch.BBox{X1: 700, Y1: 10, X2: 800, Y2: 50}, nil, ErrNoFaceInRegion},
		{"no face in crop", facematch.BBox{X1: 0, Y1: 0, X2: 50, Y2: 50}, facematch.ErrNoFace, ErrNoFaceInRegion},
		{"embedder failure", facematch.BBox{X1: 0, Y1: 0, X2: 50, Y2: 50}, errors.New("server down"), ErrEmbeddingFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			emb := &fakeEmbedder{embedding: []float32{1}, err: tt.err}
			m := NewMatcher(emb, mock.NewMockIdentityStore(), Config{}, nil)

			_, err := m.Embed(context.Background(), frame(), tt.bbox)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestMatcher_SimilarityAndIsMatch(t *testing.T) {
	m := NewMatcher(&fakeEmbedder{}, mock.NewMockIdentityStore(), Config{}, nil)

	a := []float32{0.3, 0.4, 0.5}
	if got := m.Similarity(a, a); math.Abs(got-1) > 1e-6 {
		t.Errorf("Similarity(a, a) = %v, want 1", got)
	}
	b := []float32{-0.3, -0.4, -0.5}
	if got := m.Similarity(a, b); math.Abs(got) > 1e-6 {
		t.Errorf("Similarity(a, -a) = %v, want 0", got)
	}
	if m.Similarity(a, []float32{1}) != 0 {
		t.Error("expected 0 for mismatched lengths")
	}
	if !m.IsMatch(a, a) {
		t.Error("expected identical vectors to match")
	}
	// Orthogonal vectors sit at 0.5, under the default threshold.
	if m.IsMatch([]float32{1, 0}, []float32{0, 1}) {
		t.Error("expected orthogonal vectors not to match")
	}
	if m.Threshold() != 0.6 {
		t.Errorf("expected default threshold 0.6, got %v", m.Threshold())
	}
}

func TestMatcher_Identify(t *testing.T) {
	store := mock.NewMockIdentityStore()
	store.AddIdentity("alice", []float32{1, 0})
	store.AddIdentity("bob", []float32{0, 1})

	bbox := facematch.BBox{X1: 10, Y1: 10, X2: 110, Y2: 110}

	tests := []struct {
		name        string
		embedding   []float32
		wantUser    string
		wantMatched bool
	}{
		{"matches alice", []float32{0.9, 0.1}, "alice", true},
		{"matches bob", []float32{0.1, 0.9}, "bob", true},
		{"nobody above threshold", []float32{-1, -1}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMatcher(&fakeEmbedder{embedding: tt.embedding}, store, Config{Threshold: 0.6}, nil)

			res, err := m.Identify(context.Background(), frame(), bbox)
			if err != nil {
				t.Fatalf("Identify failed: %v", err)
			}
			if res.Matched != tt.wantMatched || res.UserID != tt.wantUser {
				t.Errorf("got %+v, want user %q matched %v", res, tt.wantUser, tt.wantMatched)
			}
		})
	}
}

func TestMatcher_IdentifyEmptyStore(t *testing.T) {
	m := NewMatcher(&fakeEmbedder{embedding: []float32{1, 0}}, mock.NewMockIdentityStore(), Config{}, nil)

	res, err := m.Identify(context.Background(), frame(), facematch.BBox{X2: 50, Y2: 50})
	if err != nil {
		t.Fatalf("expected no error for empty store, got %v", err)
	}
	if res.Matched {
		t.Error("expected no match for empty store")
	}
}

func TestMatcher_IdentifySearchError(t *testing.T) {
	store := mock.NewMockIdentityStore()
	store.SearchError = errors.New("db down")
	m := NewMatcher(&fakeEmbedder{embedding: []float32{1, 0}}, store, Config{}, nil)

	if _, err := m.Identify(context.Background(), frame(), facematch.BBox{X2: 50, Y2: 50}); err == nil {
		t.Error("expected search error")
	}
}

func TestMatcher_Compare(t *testing.T) {
	store := mock.NewMockIdentityStore()
	store.AddIdentity("alice", []float32{1, 0})
	m := NewMatcher(&fakeEmbedder{embedding: []float32{1, 0}}, store, Config{Threshold: 0.7}, nil)
	bbox := facematch.BBox{X2: 50, Y2: 50}

	cmp, err := m.Compare(context.Background(), frame(), bbox, "alice")
	if err != nil {
		t.Fatalf("Compare failed: %v", err)
	}
	if !cmp.IsMatch || math.Abs(cmp.Similarity-1) > 1e-6 || cmp.Threshold != 0.7 {
		t.Errorf("unexpected comparison %+v", cmp)
	}

	if _, err := m.Compare(context.Background(), frame(), bbox, "nobody"); !errors.Is(err, ErrUnknownUser) {
		t.Errorf("expected ErrUnknownUser, got %v", err)
	}
}

func TestMatcher_Info(t *testing.T) {
	m := NewMatcher(&fakeEmbedder{}, mock.NewMockIdentityStore(), Config{Dim: 512, Model: "buffalo_l"}, nil)

	info := m.Info()
	if info.EmbeddingSize != 512 || info.Model != "buffalo_l" || info.SimilarityThreshold != 0.6 {
		t.Errorf("unexpected info %+v", info)
	}
}
