package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"siteqa/internal/adapter/memstore"
	"siteqa/internal/adapter/vectorindex/flat"
	"siteqa/internal/domain"
	"siteqa/internal/port"
)

func TestRetriever_PicksShipping(t *testing.T) {
	idx, store, err := buildCorpus(siteDocs())
	require.NoError(t, err)

	r := NewRetriever(newCountingEmbedder(), idx, store, RetrieverOptions{})
	top, err := r.Search(context.Background(), "How much does shipping cost?", 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "Shipping", top[0].Document.Title)
	assert.Equal(t, "https://example.com/shipping", top[0].Document.URL)

	results, err := r.Search(context.Background(), "How much does shipping cost?", 3)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "Shipping", results[0].Document.Title)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
	for _, res := range results {
		assert.Greater(t, res.Score, 0.0)
		assert.LessOrEqual(t, res.Score, 1.0)
	}
}

func TestRetriever_KBounds(t *testing.T) {
	idx, store, err := buildCorpus(siteDocs())
	require.NoError(t, err)
	r := NewRetriever(newCountingEmbedder(), idx, store, RetrieverOptions{})

	results, err := r.Search(context.Background(), "returns refund", 10)
	require.NoError(t, err)
	assert.Len(t, results, 3)

	_, err = r.Search(context.Background(), "returns", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidK)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestRetriever_EmptyQuestion(t *testing.T) {
	idx, store, err := buildCorpus(siteDocs())
	require.NoError(t, err)
	e := newCountingEmbedder()
	r := NewRetriever(e, idx, store, RetrieverOptions{})

	_, err = r.Search(context.Background(), "   ", 3)
	assert.ErrorIs(t, err, domain.ErrEmptyQuestion)
	assert.Zero(t, e.calls.Load())
}

func TestRetriever_EmptyCorpus(t *testing.T) {
	idx, err := flat.New("", testDim, "hash")
	require.NoError(t, err)
	e := newCountingEmbedder()
	r := NewRetriever(e, idx, memstore.NewMemoryStore(), RetrieverOptions{})

	results, err := r.Search(context.Background(), "anything", 3)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Zero(t, e.calls.Load(), "an empty index must not trigger an embedding call")
}

func TestRetriever_SkipsOrphans(t *testing.T) {
	docs := siteDocs()
	idx, _, err := buildCorpus(docs)
	require.NoError(t, err)
	// Metadata for document 2 is missing.
	store := memstore.NewMemoryStore(docs[0], docs[2])

	r := NewRetriever(newCountingEmbedder(), idx, store, RetrieverOptions{MetadataConcurrency: 2})
	results, err := r.Search(context.Background(), "shipping", 3)
	require.NoError(t, err)
	assert.Len(t, results, 2)
	for _, res := range results {
		assert.NotEqual(t, "2", res.Document.ID)
	}
	assert.Equal(t, int64(1), r.OrphansSkipped())
}

func TestRetriever_EmbeddingFailure(t *testing.T) {
	idx, store, err := buildCorpus(siteDocs())
	require.NoError(t, err)
	e := newCountingEmbedder()
	e.err = domain.ErrProviderUnavailable

	r := NewRetriever(e, idx, store, RetrieverOptions{})
	results, err := r.Search(context.Background(), "shipping", 3)
	assert.Empty(t, results)
	assert.ErrorIs(t, err, domain.ErrRetrievalFailed)
	assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
}

func TestRetriever_IndexFailure(t *testing.T) {
	idx, store, err := buildCorpus(siteDocs())
	require.NoError(t, err)

	r := NewRetriever(newCountingEmbedder(), brokenIndex{idx}, store, RetrieverOptions{})
	_, err = r.Search(context.Background(), "shipping", 3)
	assert.ErrorIs(t, err, domain.ErrIndexUnavailable)
}

func TestRetriever_MetadataStoreFailure(t *testing.T) {
	idx, store, err := buildCorpus(siteDocs())
	require.NoError(t, err)

	r := NewRetriever(newCountingEmbedder(), idx, brokenStore{store}, RetrieverOptions{})
	_, err = r.Search(context.Background(), "shipping", 3)
	assert.ErrorIs(t, err, domain.ErrIndexUnavailable)
	assert.ErrorIs(t, err, domain.ErrRetrievalFailed)
}

func TestNormalizeScore(t *testing.T) {
	assert.Equal(t, 0.8, NormalizeScore(port.MetricCosine, 0.8))
	assert.Equal(t, 1.0, NormalizeScore(port.MetricL2, 0))
	assert.Equal(t, 0.5, NormalizeScore(port.MetricL2, 1))
	assert.Greater(t, NormalizeScore(port.MetricL2, 0.1), NormalizeScore(port.MetricL2, 0.2))
}
