package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"siteqa/internal/adapter/embedding"
	"siteqa/internal/domain"
	"siteqa/internal/port"
)

// RetrieverOptions tunes a Retriever. Zero values select defaults.
type RetrieverOptions struct {
	// MetadataConcurrency bounds parallel metadata lookups.
	MetadataConcurrency int
	// CallTimeout bounds each embedding, search and lookup call.
	CallTimeout time.Duration
	Logger      *zap.Logger
}

// Retriever answers "which documents are relevant to this question": it
// embeds the question, searches the vector index and joins the hits with
// their metadata.
type Retriever struct {
	embedder    port.Embedder
	index       port.VectorIndex
	store       port.MetadataStore
	concurrency int
	callTimeout time.Duration
	logger      *zap.Logger
	orphans     atomic.Int64
}

var _ port.Retriever = (*Retriever)(nil)

func NewRetriever(embedder port.Embedder, index port.VectorIndex, store port.MetadataStore, opts RetrieverOptions) *Retriever {
	if opts.MetadataConcurrency <= 0 {
		opts.MetadataConcurrency = 4
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Retriever{
		embedder:    embedder,
		index:       index,
		store:       store,
		concurrency: opts.MetadataConcurrency,
		callTimeout: opts.CallTimeout,
		logger:      opts.Logger,
	}
}

// OrphansSkipped counts hits dropped because their document was missing.
func (r *Retriever) OrphansSkipped() int64 {
	return r.orphans.Load()
}

// Search returns at most k documents, most relevant first. An empty index
// yields no results and no error.
func (r *Retriever) Search(ctx context.Context, question string, k int) ([]domain.SearchResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, domain.ErrEmptyQuestion
	}
	if k <= 0 {
		return nil, domain.ErrInvalidK
	}

	count, err := r.count(ctx)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		r.logger.Debug("index is empty")
		return nil, nil
	}

	vector, err := r.embed(ctx, question)
	if err != nil {
		return nil, err
	}

	if k > count {
		k = count
	}
	hits, err := r.search(ctx, vector, k)
	if err != nil {
		return nil, err
	}

	docs, err := r.lookup(ctx, hits)
	if err != nil {
		return nil, err
	}

	metric := r.index.Metric()
	results := make([]domain.SearchResult, 0, len(hits))
	for i, hit := range hits {
		if docs[i] == nil {
			continue
		}
		results = append(results, domain.SearchResult{
			Document: *docs[i],
			Score:    NormalizeScore(metric, hit.Score),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results, nil
}

func (r *Retriever) count(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()
	n, err := r.index.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: count vectors: %w", domain.ErrRetrievalFailed, asIndexError(err))
	}
	return n, nil
}

func (r *Retriever) embed(ctx context.Context, question string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()
	vector, err := embedding.EmbedOne(ctx, r.embedder, question)
	if err != nil {
		return nil, fmt.Errorf("%w: embed question: %w", domain.ErrRetrievalFailed, err)
	}
	if len(vector) != r.index.Dimension() {
		return nil, fmt.Errorf("query has %d values, index expects %d: %w", len(vector), r.index.Dimension(), domain.ErrDimensionMismatch)
	}
	return vector, nil
}

func (r *Retriever) search(ctx context.Context, vector []float32, k int) ([]port.VectorResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()
	hits, err := r.index.Search(ctx, vector, k)
	if err != nil {
		return nil, fmt.Errorf("%w: vector search: %w", domain.ErrRetrievalFailed, asIndexError(err))
	}
	return hits, nil
}

// lookup fetches the document for every hit. docs[i] stays nil for hits
// whose document is missing.
func (r *Retriever) lookup(ctx context.Context, hits []port.VectorResult) ([]*domain.Document, error) {
	docs := make([]*domain.Document, len(hits))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for i, hit := range hits {
		i, hit := i, hit
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, r.callTimeout)
			defer cancel()

			doc, err := r.store.Get(callCtx, hit.ID)
			if errors.Is(err, domain.ErrNotFound) {
				r.orphans.Add(1)
				r.logger.Warn("vector has no metadata, skipping",
					zap.String("id", hit.ID),
					zap.Error(domain.ErrIntegrity))
				return nil
			}
			if err != nil {
				return fmt.Errorf("%w: metadata lookup %s: %w", domain.ErrRetrievalFailed, hit.ID, asIndexError(err))
			}
			docs[i] = &doc
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return docs, nil
}

// NormalizeScore maps a raw index score so that higher is always more
// relevant. Distances d become 1/(1+d).
func NormalizeScore(metric port.Metric, raw float64) float64 {
	if metric.HigherIsBetter() {
		return raw
	}
	if raw < 0 {
		raw = 0
	}
	return 1 / (1 + raw)
}

func asIndexError(err error) error {
	if errors.Is(err, domain.ErrIndexUnavailable) || errors.Is(err, domain.ErrValidation) || errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrIndexUnavailable, err)
}
