package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/coder/hnsw"
	"github.com/fxamacker/cbor/v2"

	"github.com/kozaktomas/candy-kiosk/internal/facematch"
)

// HNSWIndexMetadata stores metadata for validating cached HNSW indexes.
type HNSWIndexMetadata struct {
	Count     int       `json:"count"`
	Dim       int       `json:"dim"`
	BuildTime time.Time `json:"build_time"`
	Version   int       `json:"version"` // For future compatibility
}

const hnswMetadataVersion = 1

var recordEncMode = mustRecordEncMode()

func mustRecordEncMode() cbor.EncMode {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic("invalid cbor options: " + err.Error())
	}
	return em
}

// HNSWIndex wraps the HNSW graph for identity search. Records are the source
// of truth; the graph only proposes candidates which are re-ranked exactly.
type HNSWIndex struct {
	saveMu  sync.Mutex
	mu      sync.RWMutex
	graph   *hnsw.Graph[string]
	records map[string]*IdentityRecord
}

// NewHNSWIndex creates a new empty HNSW index.
func NewHNSWIndex() *HNSWIndex {
	return &HNSWIndex{
		records: make(map[string]*IdentityRecord),
	}
}

func newGraph() *hnsw.Graph[string] {
	g := hnsw.NewGraph[string]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors) // Standard HNSW formula
	g.EfSearch = HNSWEfSearch
	g.Distance = hnsw.CosineDistance
	return g
}

// Build replaces the index contents with records.
func (h *HNSWIndex) Build(records []IdentityRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.records = make(map[string]*IdentityRecord, len(records))
	for i := range records {
		rec := records[i]
		if len(rec.Embedding) == 0 {
			continue
		}
		h.records[rec.UserID] = &rec
	}
	h.rebuildLocked()
}

// rebuildLocked recreates the graph from records. The graph has no reliable
// in-place replacement, so overwrites and deletes rebuild it.
func (h *HNSWIndex) rebuildLocked() {
	if len(h.records) == 0 {
		h.graph = nil
		return
	}

	keys := make([]string, 0, len(h.records))
	for k := range h.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	g := newGraph()
	for _, k := range keys {
		g.Add(hnsw.MakeNode(k, h.records[k].Embedding))
	}
	h.graph = g
}

// Dim returns the embedding dimension of the indexed records, 0 when empty.
func (h *HNSWIndex) Dim() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dimLocked()
}

func (h *HNSWIndex) dimLocked() int {
	for _, rec := range h.records {
		return len(rec.Embedding)
	}
	return 0
}

// Put inserts or replaces a record.
func (h *HNSWIndex) Put(rec IdentityRecord) error {
	if err := ValidateEmbedding(rec.Embedding); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.putLocked(rec)
}

// Upsert stores embedding for userID at time now, keeping the created_at of
// an existing record.
func (h *HNSWIndex) Upsert(userID string, embedding []float32, now time.Time) error {
	if err := ValidateEmbedding(embedding); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	created := now
	if existing, ok := h.records[userID]; ok {
		created = existing.CreatedAt
	}
	return h.putLocked(IdentityRecord{
		UserID:    userID,
		Embedding: embedding,
		CreatedAt: created,
		UpdatedAt: now,
	})
}

func (h *HNSWIndex) putLocked(rec IdentityRecord) error {
	if dim := h.dimLocked(); dim != 0 && dim != len(rec.Embedding) {
		if _, replacing := h.records[rec.UserID]; !replacing || len(h.records) > 1 {
			return fmt.Errorf("%w: got %d, index has %d", ErrDimensionMismatch, len(rec.Embedding), dim)
		}
	}

	rec.Embedding = slices.Clone(rec.Embedding)
	rec.Dim = len(rec.Embedding)
	_, existed := h.records[rec.UserID]
	h.records[rec.UserID] = &rec

	if existed || h.graph == nil {
		h.rebuildLocked()
		return nil
	}
	h.graph.Add(hnsw.MakeNode(rec.UserID, rec.Embedding))
	return nil
}

// Delete removes a record, returns false if it was not indexed.
func (h *HNSWIndex) Delete(userID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.records[userID]; !ok {
		return false
	}
	delete(h.records, userID)
	h.rebuildLocked()
	return true
}

// Clear removes all records.
func (h *HNSWIndex) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = make(map[string]*IdentityRecord)
	h.graph = nil
}

// Get returns a copy of the record for userID.
func (h *HNSWIndex) Get(userID string) (IdentityRecord, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rec, ok := h.records[userID]
	if !ok {
		return IdentityRecord{}, false
	}
	out := *rec
	out.Embedding = slices.Clone(rec.Embedding)
	return out, true
}

// List returns copies of all records ordered by user id.
func (h *HNSWIndex) List() []IdentityRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]IdentityRecord, 0, len(h.records))
	for _, rec := range h.records {
		r := *rec
		r.Embedding = slices.Clone(rec.Embedding)
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Count returns the number of indexed records.
func (h *HNSWIndex) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.records)
}

// Search returns up to k records closest to query, by descending similarity.
func (h *HNSWIndex) Search(query []float32, k int) []IdentityMatch {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil || k <= 0 || len(query) != h.dimLocked() {
		return []IdentityMatch{}
	}

	neighbors := h.graph.Search(query, max(k*HNSWSearchMultiplier, k))

	matches := make([]IdentityMatch, 0, len(neighbors))
	for _, n := range neighbors {
		rec, ok := h.records[n.Key]
		if !ok {
			continue
		}
		// Exact similarity from the stored record, not the graph's distance.
		matches = append(matches, IdentityMatch{
			UserID:     rec.UserID,
			Similarity: facematch.Similarity(query, rec.Embedding),
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].UserID < matches[j].UserID
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

// Save persists the graph, a .meta file and a .records sidecar to path.
// Each file is written to a temp file and renamed into place. The .meta file
// goes last, so an interrupted save makes Load rebuild from the records.
func (h *HNSWIndex) Save(path string) error {
	if path == "" {
		return nil // No path set
	}

	h.saveMu.Lock()
	defer h.saveMu.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil {
		// Remove existing files if index is empty (best-effort cleanup).
		_ = os.Remove(path + ".meta")
		_ = os.Remove(path)
		_ = os.Remove(path + ".records")
		return nil
	}

	if err := os.Remove(path + ".meta"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove stale metadata file: %w", err)
	}

	if err := writeFileAtomic(path, h.graph.Export); err != nil {
		return fmt.Errorf("failed to export HNSW graph: %w", err)
	}

	records := make([]IdentityRecord, 0, len(h.records))
	for _, rec := range h.records {
		records = append(records, *rec)
	}
	data, err := recordEncMode.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to encode records: %w", err)
	}
	if err := writeFileAtomic(path+".records", writeBytes(data)); err != nil {
		return fmt.Errorf("failed to write records file: %w", err)
	}

	metadata := HNSWIndexMetadata{
		Count:     len(h.records),
		Dim:       h.dimLocked(),
		BuildTime: time.Now(),
		Version:   hnswMetadataVersion,
	}
	metaData, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := writeFileAtomic(path+".meta", writeBytes(metaData)); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}
	return nil
}

func writeBytes(data []byte) func(io.Writer) error {
	return func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	}
}

// writeFileAtomic writes through a temp file in the same directory and
// renames it over path.
func writeFileAtomic(path string, write func(io.Writer) error) error {
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer os.Remove(tmp) // no-op after a successful rename

	if err := write(f); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// LoadHNSWMetadata loads metadata from a separate .meta file.
func LoadHNSWMetadata(path string) (HNSWIndexMetadata, error) {
	var metadata HNSWIndexMetadata

	data, err := os.ReadFile(path + ".meta") //nolint:gosec // path is from trusted config
	if err != nil {
		return metadata, fmt.Errorf("failed to read metadata file: %w", err)
	}
	if err := json.Unmarshal(data, &metadata); err != nil {
		return metadata, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return metadata, nil
}

// Load restores an index saved with Save. A missing index is not an error
// and leaves the index empty. A graph that disagrees with the records is
// rebuilt from the records.
func (h *HNSWIndex) Load(path string) error {
	if _, err := os.Stat(path + ".records"); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	data, err := os.ReadFile(path + ".records") //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to read records file: %w", err)
	}
	var records []IdentityRecord
	if err := cbor.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("failed to decode records: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.records = make(map[string]*IdentityRecord, len(records))
	for i := range records {
		rec := records[i]
		h.records[rec.UserID] = &rec
	}

	meta, metaErr := LoadHNSWMetadata(path)
	if metaErr == nil && meta.Version == hnswMetadataVersion && meta.Count == len(h.records) {
		if _, err := os.Stat(path); err == nil {
			saved, err := hnsw.LoadSavedGraph[string](path)
			if err == nil && saved.Len() == len(h.records) {
				g := saved.Graph
				g.Distance = hnsw.CosineDistance
				h.graph = g
				return nil
			}
		}
	}

	h.rebuildLocked()
	return nil
}
