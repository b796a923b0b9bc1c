package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"siteqa/internal/adapter/embedding"
	"siteqa/internal/adapter/memstore"
	"siteqa/internal/adapter/vectorindex/flat"
	"siteqa/internal/domain"
	"siteqa/internal/port"
)

// testDim matches the default ada-002 embedding width.
const testDim = 1536

// countingEmbedder wraps the hash embedder and counts calls.
type countingEmbedder struct {
	port.Embedder
	calls atomic.Int32
	err   error
}

func newCountingEmbedder() *countingEmbedder {
	return &countingEmbedder{Embedder: embedding.NewHashEmbedder(testDim)}
}

func (e *countingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	if e.err != nil {
		return nil, e.err
	}
	return e.Embedder.Embed(ctx, texts)
}

type fakeLLM struct {
	calls  int
	system string
	user   string
	reply  string
	err    error
}

func (l *fakeLLM) GenerateWithSystem(_ context.Context, system, user string) (string, error) {
	l.calls++
	l.system, l.user = system, user
	return l.reply, l.err
}

func (l *fakeLLM) ModelName() string { return "fake" }

// failingIndex fails Upsert from the failAt-th call on.
type failingIndex struct {
	port.VectorIndex
	upserts int
	failAt  int
}

func (f *failingIndex) Upsert(ctx context.Context, items []port.VectorItem) error {
	f.upserts++
	if f.upserts >= f.failAt {
		return fmt.Errorf("upsert: %w: %w", domain.ErrIndexUnavailable, domain.ErrTransient)
	}
	return f.VectorIndex.Upsert(ctx, items)
}

// brokenStore fails every lookup with an unclassified error.
type brokenStore struct {
	port.MetadataStore
}

func (b brokenStore) Get(context.Context, string) (domain.Document, error) {
	return domain.Document{}, errors.New("server selection timeout")
}

// brokenIndex fails every search.
type brokenIndex struct {
	port.VectorIndex
}

func (b brokenIndex) Search(context.Context, []float32, int) ([]port.VectorResult, error) {
	return nil, errors.New("connection refused")
}

func siteDocs() []domain.Document {
	return []domain.Document{
		{ID: "1", Title: "Pricing", Content: "Our plans start at ten dollars per month.", URL: "https://example.com/pricing"},
		{ID: "2", Title: "Shipping", Content: "Shipping is free on orders over fifty dollars. Standard shipping takes three days.", URL: "https://example.com/shipping"},
		{ID: "3", Title: "Returns", Content: "You can return items within thirty days for a refund.", URL: "https://example.com/returns"},
	}
}

// buildCorpus embeds docs into a fresh flat index and memory store.
func buildCorpus(docs []domain.Document) (*flat.Index, *memstore.MemoryStore, error) {
	idx, err := flat.New("", testDim, "hash")
	if err != nil {
		return nil, nil, err
	}
	e := embedding.NewHashEmbedder(testDim)
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = EmbeddingText(d)
	}
	vectors, err := e.Embed(context.Background(), texts)
	if err != nil {
		return nil, nil, err
	}
	items := make([]port.VectorItem, len(docs))
	for i, d := range docs {
		items[i] = port.VectorItem{ID: d.ID, Vector: vectors[i]}
	}
	if err := idx.Upsert(context.Background(), items); err != nil {
		return nil, nil, err
	}
	return idx, memstore.NewMemoryStore(docs...), nil
}
