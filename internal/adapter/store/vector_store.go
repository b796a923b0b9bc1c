package store

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"

	"go.etcd.io/bbolt"

	"siteqa/internal/domain"
	"siteqa/internal/port"
)

var (
	bucketVectors = []byte("vectors")
)

// BoltVectorStore implements VectorIndex using BoltDB for persistence.
// Uses brute-force cosine search over an in-memory copy kept in insertion order.
type BoltVectorStore struct {
	db        *bbolt.DB
	dimension int
	mu        sync.RWMutex
	entries   []vectorEntry
	position  map[string]int
}

var (
	_ port.VectorIndex    = (*BoltVectorStore)(nil)
	_ port.VectorExporter = (*BoltVectorStore)(nil)
	_ port.IDLister       = (*BoltVectorStore)(nil)
)

type vectorEntry struct {
	id       string
	seq      uint64
	vector   []float32
	metadata map[string]string
}

type storedVector struct {
	Seq      uint64            `json:"s"`
	Vector   []float32         `json:"v"`
	Metadata map[string]string `json:"m,omitempty"`
}

// NewBoltVectorStore creates a new BoltDB-backed vector store. The database
// must have been opened with Open; its recorded model and dimension must
// match.
func NewBoltVectorStore(db *bbolt.DB, dimension int, model string) (*BoltVectorStore, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", domain.ErrConfiguration)
	}
	if err := CheckIndexInfo(db, IndexInfo{Model: model, Dimension: dimension}); err != nil {
		return nil, err
	}

	store := &BoltVectorStore{
		db:        db,
		dimension: dimension,
		position:  make(map[string]int),
	}

	// Load existing vectors into memory
	if err := store.loadVectors(); err != nil {
		return nil, fmt.Errorf("failed to load vectors: %w", err)
	}

	return store, nil
}

// loadVectors loads all vectors from BoltDB into memory.
func (s *BoltVectorStore) loadVectors() error {
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketVectors).ForEach(func(k, v []byte) error {
			var stored storedVector
			if err := json.Unmarshal(v, &stored); err != nil {
				return fmt.Errorf("corrupt vector %s: %w", k, err)
			}
			if len(stored.Vector) != s.dimension {
				return fmt.Errorf("stored vector %s has %d values: %w", k, len(stored.Vector), domain.ErrDimensionMismatch)
			}
			s.entries = append(s.entries, vectorEntry{
				id:       string(k),
				seq:      stored.Seq,
				vector:   stored.Vector,
				metadata: stored.Metadata,
			})
			return nil
		})
	})
	if err != nil {
		return err
	}

	sort.Slice(s.entries, func(i, j int) bool { return s.entries[i].seq < s.entries[j].seq })
	for i, e := range s.entries {
		s.position[e.id] = i
	}
	return nil
}

// Upsert adds or updates vectors in the store. An updated id keeps its
// original insertion position.
func (s *BoltVectorStore) Upsert(_ context.Context, items []port.VectorItem) error {
	for _, item := range items {
		if item.ID == "" {
			return fmt.Errorf("%w: vector id is required", domain.ErrValidation)
		}
		if len(item.Vector) != s.dimension {
			return fmt.Errorf("vector %s has %d values, expected %d: %w", item.ID, len(item.Vector), s.dimension, domain.ErrDimensionMismatch)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []vectorEntry
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketVectors)
		assigned := make(map[string]uint64)
		for _, item := range items {
			var seq uint64
			if pos, ok := s.position[item.ID]; ok {
				seq = s.entries[pos].seq
			} else if prev, ok := assigned[item.ID]; ok {
				seq = prev
			} else {
				next, err := b.NextSequence()
				if err != nil {
					return err
				}
				seq = next
				assigned[item.ID] = seq
			}

			data, err := json.Marshal(storedVector{Seq: seq, Vector: item.Vector, Metadata: item.Metadata})
			if err != nil {
				return err
			}
			if err := b.Put([]byte(item.ID), data); err != nil {
				return err
			}
			vec := make([]float32, len(item.Vector))
			copy(vec, item.Vector)
			pending = append(pending, vectorEntry{id: item.ID, seq: seq, vector: vec, metadata: item.Metadata})
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Update in-memory cache only after the transaction committed.
	for _, e := range pending {
		if pos, ok := s.position[e.id]; ok {
			s.entries[pos] = e
			continue
		}
		s.position[e.id] = len(s.entries)
		s.entries = append(s.entries, e)
	}
	return nil
}

// Search finds the k nearest vectors to the query using cosine similarity.
func (s *BoltVectorStore) Search(_ context.Context, query []float32, k int) ([]port.VectorResult, error) {
	if k <= 0 {
		return nil, domain.ErrInvalidK
	}
	if len(query) != s.dimension {
		return nil, fmt.Errorf("query dimension mismatch: expected %d, got %d: %w", s.dimension, len(query), domain.ErrDimensionMismatch)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.entries) == 0 {
		return nil, nil
	}

	type scored struct {
		pos   int
		score float64
	}

	scores := make([]scored, len(s.entries))
	for i, entry := range s.entries {
		scores[i] = scored{pos: i, score: cosineSimilarity(query, entry.vector)}
	}

	// Sort by score descending; equal scores keep insertion order.
	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].score > scores[j].score
	})

	if k > len(scores) {
		k = len(scores)
	}

	results := make([]port.VectorResult, k)
	for i := 0; i < k; i++ {
		e := s.entries[scores[i].pos]
		results[i] = port.VectorResult{
			ID:       e.id,
			Score:    scores[i].score,
			Metadata: e.metadata,
		}
	}

	return results, nil
}

// DeleteAll removes every vector and resets the insertion sequence.
func (s *BoltVectorStore) DeleteAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketVectors); err != nil && err != bbolt.ErrBucketNotFound {
			return err
		}
		_, err := tx.CreateBucket(bucketVectors)
		return err
	})
	if err != nil {
		return err
	}
	s.entries = nil
	s.position = make(map[string]int)
	return nil
}

// Count returns the number of vectors in the store.
func (s *BoltVectorStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}

func (s *BoltVectorStore) Metric() port.Metric { return port.MetricCosine }

func (s *BoltVectorStore) Dimension() int { return s.dimension }

// Export returns every entry in insertion order.
func (s *BoltVectorStore) Export(_ context.Context) ([]port.VectorItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]port.VectorItem, len(s.entries))
	for i, e := range s.entries {
		vec := make([]float32, len(e.vector))
		copy(vec, e.vector)
		items[i] = port.VectorItem{ID: e.id, Vector: vec, Metadata: e.metadata}
	}
	return items, nil
}

func (s *BoltVectorStore) ListIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, len(s.entries))
	for i, e := range s.entries {
		ids[i] = e.id
	}
	return ids, nil
}

// cosineSimilarity calculates the cosine similarity between two vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
