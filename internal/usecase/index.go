package usecase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"siteqa/internal/adapter/corpus"
	"siteqa/internal/domain"
	"siteqa/internal/port"
)

// IndexUseCase builds a local index and its metadata from corpus records.
type IndexUseCase struct {
	embedder port.Embedder
	index    port.VectorIndex
	store    port.MetadataStore
	logger   *zap.Logger
}

func NewIndexUseCase(embedder port.Embedder, index port.VectorIndex, store port.MetadataStore, logger *zap.Logger) *IndexUseCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IndexUseCase{
		embedder: embedder,
		index:    index,
		store:    store,
		logger:   logger,
	}
}

// IndexResult contains the results of an indexing operation.
type IndexResult struct {
	Records     int
	Embedded    int // vectors computed by the embedder
	Precomputed int // vectors taken from the records
}

type IndexOptions struct {
	BatchSize int
	Progress  func(done, total int)
}

// Index replaces the contents of the index and store with records, in record
// order. Records without an embedding are embedded in batches.
func (u *IndexUseCase) Index(ctx context.Context, records []corpus.Record, opts IndexOptions) (*IndexResult, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	dim := u.index.Dimension()
	for _, r := range records {
		if r.Embedding != nil && len(r.Embedding) != dim {
			return nil, fmt.Errorf("record %s has %d values, index expects %d: %w", r.Document.ID, len(r.Embedding), dim, domain.ErrDimensionMismatch)
		}
	}

	if err := u.index.DeleteAll(ctx); err != nil {
		return nil, fmt.Errorf("failed to clear index: %w", err)
	}
	if err := u.store.DeleteAll(ctx); err != nil {
		return nil, fmt.Errorf("failed to clear metadata: %w", err)
	}

	result := &IndexResult{Records: len(records)}
	for start := 0; start < len(records); start += opts.BatchSize {
		end := start + opts.BatchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[start:end]

		vectors, embedded, err := u.vectorsFor(ctx, batch)
		if err != nil {
			return nil, err
		}
		result.Embedded += embedded
		result.Precomputed += len(batch) - embedded

		items := make([]port.VectorItem, len(batch))
		docs := make([]domain.Document, len(batch))
		for i, r := range batch {
			items[i] = port.VectorItem{ID: r.Document.ID, Vector: vectors[i]}
			docs[i] = r.Document
		}
		if err := u.index.Upsert(ctx, items); err != nil {
			return nil, fmt.Errorf("failed to store vectors: %w", err)
		}
		if err := u.store.PutMany(ctx, docs); err != nil {
			return nil, fmt.Errorf("failed to store documents: %w", err)
		}
		if opts.Progress != nil {
			opts.Progress(end, len(records))
		}
	}

	if p, ok := u.index.(port.Persister); ok {
		if err := p.Save(); err != nil {
			return nil, fmt.Errorf("failed to save index: %w", err)
		}
	}

	u.logger.Info("index built",
		zap.Int("records", result.Records),
		zap.Int("embedded", result.Embedded),
		zap.Int("precomputed", result.Precomputed))
	return result, nil
}

// vectorsFor returns one vector per record, embedding the missing ones with a
// single call.
func (u *IndexUseCase) vectorsFor(ctx context.Context, batch []corpus.Record) ([][]float32, int, error) {
	vectors := make([][]float32, len(batch))
	var texts []string
	var positions []int
	for i, r := range batch {
		if r.Embedding != nil {
			vectors[i] = r.Embedding
			continue
		}
		texts = append(texts, EmbeddingText(r.Document))
		positions = append(positions, i)
	}
	if len(texts) == 0 {
		return vectors, 0, nil
	}
	if u.embedder == nil {
		return nil, 0, fmt.Errorf("%w: records without embeddings need an embedder", domain.ErrConfiguration)
	}

	embeddings, err := u.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to embed records: %w", err)
	}
	if len(embeddings) != len(texts) {
		return nil, 0, fmt.Errorf("embedder returned %d vectors for %d texts: %w", len(embeddings), len(texts), domain.ErrProviderUnavailable)
	}
	for j, pos := range positions {
		vectors[pos] = embeddings[j]
	}
	return vectors, len(texts), nil
}

// EmbeddingText is the text a document is embedded from.
func EmbeddingText(doc domain.Document) string {
	if doc.Title == "" {
		return doc.Content
	}
	return doc.Title + "\n" + doc.Content
}
