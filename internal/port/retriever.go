package port

import (
	"context"

	"siteqa/internal/domain"
)

// Retriever defines the interface for searching the corpus.
type Retriever interface {
	// Search returns at most k documents relevant to the question, most relevant first.
	Search(ctx context.Context, question string, k int) ([]domain.SearchResult, error)
}
