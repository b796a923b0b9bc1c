package port

import "context"

// Metric is the similarity measure an index scores with.
type Metric string

const (
	MetricCosine Metric = "cosine"
	MetricDot    Metric = "dotproduct"
	// MetricL2 scores are distances: lower is closer.
	MetricL2 Metric = "euclidean"
)

// HigherIsBetter reports whether larger raw scores mean more relevant.
func (m Metric) HigherIsBetter() bool {
	return m != MetricL2
}

// VectorIndex stores and searches embedding vectors.
type VectorIndex interface {
	// Upsert adds or updates vectors in the index. An existing id is replaced (last write wins).
	Upsert(ctx context.Context, items []VectorItem) error

	// Search finds the k nearest vectors to the query, most relevant first
	// according to Metric. k larger than Count returns everything.
	Search(ctx context.Context, query []float32, k int) ([]VectorResult, error)

	// DeleteAll removes every vector.
	DeleteAll(ctx context.Context) error

	// Count returns the number of vectors in the index.
	Count(ctx context.Context) (int, error)

	Metric() Metric

	Dimension() int
}

// VectorItem represents a vector to be stored.
type VectorItem struct {
	ID       string            // Document ID
	Vector   []float32         // Embedding vector
	Metadata map[string]string // Optional metadata, only a doc_id pointer for cloud indexes
}

// VectorResult represents a search result.
type VectorResult struct {
	ID       string
	Score    float64 // Raw score in the index's Metric
	Metadata map[string]string
}

// IndexProvisioner is implemented by indexes that must exist before use.
type IndexProvisioner interface {
	// EnsureIndex creates the index when absent. An existing index with a
	// different dimension is an error.
	EnsureIndex(ctx context.Context) error
}

// VectorExporter is implemented by local indexes that can hand back every
// stored entry in insertion order.
type VectorExporter interface {
	Export(ctx context.Context) ([]VectorItem, error)
}

// IDLister enumerates stored ids.
type IDLister interface {
	ListIDs(ctx context.Context) ([]string, error)
}

// Persister is implemented by indexes backed by a local artifact.
type Persister interface {
	Save() error
}

// MetadataKeyDocID is the only metadata attached to cloud index entries.
const MetadataKeyDocID = "doc_id"
