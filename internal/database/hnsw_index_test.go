package database

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func vec(vals ...float32) []float32 { return vals }

func TestHNSWIndex_SearchEmpty(t *testing.T) {
	idx := NewHNSWIndex()

	matches := idx.Search(vec(1, 0, 0), 5)
	if matches == nil || len(matches) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", matches)
	}
}

func TestHNSWIndex_PutAndSearch(t *testing.T) {
	idx := NewHNSWIndex()
	for _, rec := range []IdentityRecord{
		{UserID: "alice", Embedding: vec(1, 0, 0)},
		{UserID: "bob", Embedding: vec(0, 1, 0)},
		{UserID: "carol", Embedding: vec(0, 0, 1)},
	} {
		if err := idx.Put(rec); err != nil {
			t.Fatalf("Put(%s) failed: %v", rec.UserID, err)
		}
	}

	matches := idx.Search(vec(0.9, 0.1, 0), 2)
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].UserID != "alice" {
		t.Errorf("expected best match alice, got %s", matches[0].UserID)
	}
	if matches[0].Similarity < matches[1].Similarity {
		t.Error("expected matches sorted by descending similarity")
	}
}

func TestHNSWIndex_PutOverwrites(t *testing.T) {
	idx := NewHNSWIndex()
	_ = idx.Put(IdentityRecord{UserID: "alice", Embedding: vec(1, 0)})
	_ = idx.Put(IdentityRecord{UserID: "bob", Embedding: vec(0.7, 0.7)})
	if err := idx.Put(IdentityRecord{UserID: "alice", Embedding: vec(0, 1)}); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}

	if idx.Count() != 2 {
		t.Errorf("expected 2 records after overwrite, got %d", idx.Count())
	}
	matches := idx.Search(vec(0, 1), 1)
	if len(matches) != 1 || matches[0].UserID != "alice" {
		t.Fatalf("expected alice for the new embedding, got %v", matches)
	}
	if math.Abs(matches[0].Similarity-1) > 1e-6 {
		t.Errorf("expected similarity 1, got %v", matches[0].Similarity)
	}
}

func TestHNSWIndex_Delete(t *testing.T) {
	idx := NewHNSWIndex()
	_ = idx.Put(IdentityRecord{UserID: "alice", Embedding: vec(1, 0)})
	_ = idx.Put(IdentityRecord{UserID: "bob", Embedding: vec(0, 1)})

	if !idx.Delete("alice") {
		t.Error("expected Delete to report existing record")
	}
	if idx.Delete("alice") {
		t.Error("expected second Delete to report missing record")
	}
	for _, m := range idx.Search(vec(1, 0), 5) {
		if m.UserID == "alice" {
			t.Error("deleted record returned from search")
		}
	}
}

func TestHNSWIndex_RejectsInvalidEmbeddings(t *testing.T) {
	idx := NewHNSWIndex()

	if err := idx.Put(IdentityRecord{UserID: "a", Embedding: nil}); !errors.Is(err, ErrInvalidEmbedding) {
		t.Errorf("expected ErrInvalidEmbedding for nil embedding, got %v", err)
	}
	if err := idx.Put(IdentityRecord{UserID: "a", Embedding: vec(0, 0)}); !errors.Is(err, ErrInvalidEmbedding) {
		t.Errorf("expected ErrInvalidEmbedding for zero vector, got %v", err)
	}

	_ = idx.Put(IdentityRecord{UserID: "a", Embedding: vec(1, 0)})
	if err := idx.Put(IdentityRecord{UserID: "b", Embedding: vec(1, 0, 0)}); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestHNSWIndex_SearchWrongDimension(t *testing.T) {
	idx := NewHNSWIndex()
	_ = idx.Put(IdentityRecord{UserID: "a", Embedding: vec(1, 0)})

	if matches := idx.Search(vec(1, 0, 0), 1); len(matches) != 0 {
		t.Errorf("expected no matches for wrong dimension query, got %v", matches)
	}
}

func TestHNSWIndex_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identities.hnsw")

	idx := NewHNSWIndex()
	_ = idx.Put(IdentityRecord{UserID: "alice", Embedding: vec(1, 0, 0)})
	_ = idx.Put(IdentityRecord{UserID: "bob", Embedding: vec(0, 1, 0)})
	if err := idx.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	meta, err := LoadHNSWMetadata(path)
	if err != nil {
		t.Fatalf("LoadHNSWMetadata failed: %v", err)
	}
	if meta.Count != 2 || meta.Dim != 3 {
		t.Errorf("unexpected metadata %+v", meta)
	}

	loaded := NewHNSWIndex()
	if err := loaded.Load(path); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Count() != 2 {
		t.Fatalf("expected 2 records after load, got %d", loaded.Count())
	}
	matches := loaded.Search(vec(0, 1, 0), 1)
	if len(matches) != 1 || matches[0].UserID != "bob" {
		t.Errorf("expected bob after load, got %v", matches)
	}
}

func TestHNSWIndex_ConcurrentSaves(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "identities.hnsw")

	idx := NewHNSWIndex()
	_ = idx.Put(IdentityRecord{UserID: "alice", Embedding: vec(1, 0, 0)})
	_ = idx.Put(IdentityRecord{UserID: "bob", Embedding: vec(0, 1, 0)})

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for range 8 {
		wg.Go(func() { errs <- idx.Save(path) })
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}

	loaded := NewHNSWIndex()
	if err := loaded.Load(path); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Count() != 2 {
		t.Errorf("expected 2 records after load, got %d", loaded.Count())
	}
}

func TestHNSWIndex_LoadWithoutMetadataRebuilds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identities.hnsw")

	idx := NewHNSWIndex()
	_ = idx.Put(IdentityRecord{UserID: "alice", Embedding: vec(1, 0, 0)})
	if err := idx.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// A save interrupted after the records were renamed: newer records, stale graph, no meta.
	_ = idx.Put(IdentityRecord{UserID: "bob", Embedding: vec(0, 1, 0)})
	if err := idx.Save(path + ".next"); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := os.Rename(path+".next.records", path+".records"); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(path + ".meta"); err != nil {
		t.Fatal(err)
	}

	loaded := NewHNSWIndex()
	if err := loaded.Load(path); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	matches := loaded.Search(vec(0, 1, 0), 1)
	if len(matches) != 1 || matches[0].UserID != "bob" {
		t.Errorf("expected bob from the rebuilt graph, got %v", matches)
	}
}

func TestHNSWIndex_LoadMissing(t *testing.T) {
	idx := NewHNSWIndex()
	if err := idx.Load(filepath.Join(t.TempDir(), "missing.hnsw")); err != nil {
		t.Errorf("expected no error for missing index, got %v", err)
	}
	if idx.Count() != 0 {
		t.Errorf("expected empty index, got %d", idx.Count())
	}
}

type staticReader struct {
	IdentityReader
	matches []IdentityMatch
}

func (s staticReader) Search(_ context.Context, _ []float32, topK int) ([]IdentityMatch, error) {
	if len(s.matches) > topK {
		return s.matches[:topK], nil
	}
	return s.matches, nil
}

func TestBestMatch(t *testing.T) {
	ctx := context.Background()

	m, err := BestMatch(ctx, staticReader{matches: []IdentityMatch{}}, vec(1))
	if err != nil || m != nil {
		t.Errorf("expected nil match for empty store, got %v, %v", m, err)
	}

	m, err = BestMatch(ctx, staticReader{matches: []IdentityMatch{{UserID: "a", Similarity: 0.9}, {UserID: "b", Similarity: 0.1}}}, vec(1))
	if err != nil || m == nil || m.UserID != "a" {
		t.Errorf("expected best match a, got %v, %v", m, err)
	}
}
