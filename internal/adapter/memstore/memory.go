package memstore

import (
	"context"
	"fmt"
	"sync"

	"siteqa/internal/domain"
	"siteqa/internal/port"
)

// MemoryStore is a MetadataStore held entirely in memory. It backs the
// local metadata.json records and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	docs  map[string]domain.Document
	order []string
}

var _ port.MetadataStore = (*MemoryStore)(nil)

func NewMemoryStore(docs ...domain.Document) *MemoryStore {
	s := &MemoryStore{docs: make(map[string]domain.Document)}
	for _, doc := range docs {
		s.put(doc)
	}
	return s
}

func (s *MemoryStore) put(doc domain.Document) {
	if _, ok := s.docs[doc.ID]; !ok {
		s.order = append(s.order, doc.ID)
	}
	s.docs[doc.ID] = doc
}

func (s *MemoryStore) Get(_ context.Context, id string) (domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return domain.Document{}, fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
	}
	return doc, nil
}

func (s *MemoryStore) PutMany(_ context.Context, docs []domain.Document) error {
	for _, doc := range docs {
		if doc.ID == "" {
			return fmt.Errorf("%w: document id is required", domain.ErrValidation)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, doc := range docs {
		s.put(doc)
	}
	return nil
}

func (s *MemoryStore) DeleteAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = make(map[string]domain.Document)
	s.order = nil
	return nil
}

func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs), nil
}

// ListIDs returns ids in the order they were first stored.
func (s *MemoryStore) ListIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...), nil
}

// Documents returns all documents in the order they were first stored.
func (s *MemoryStore) Documents() []domain.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Document, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.docs[id])
	}
	return out
}

func (s *MemoryStore) Close() error { return nil }
