package port

import (
	"context"

	"siteqa/internal/domain"
)

// MetadataStore holds the full document records keyed by id.
type MetadataStore interface {
	// Get returns the document with the id, or an error wrapping domain.ErrNotFound.
	Get(ctx context.Context, id string) (domain.Document, error)

	// PutMany stores a batch of documents, replacing existing ids.
	PutMany(ctx context.Context, docs []domain.Document) error

	DeleteAll(ctx context.Context) error

	Count(ctx context.Context) (int, error)

	ListIDs(ctx context.Context) ([]string, error)

	Close() error
}
