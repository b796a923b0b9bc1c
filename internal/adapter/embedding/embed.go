package embedding

import (
	"context"
	"fmt"

	"siteqa/internal/domain"
	"siteqa/internal/port"
)

// EmbedOne embeds a single text and checks the vector dimension.
func EmbedOne(ctx context.Context, e port.Embedder, text string) ([]float32, error) {
	embeddings, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("embedding returned empty result: %w", domain.ErrProviderUnavailable)
	}
	if len(embeddings[0]) != e.Dimension() {
		return nil, fmt.Errorf("got %d values, expected %d: %w", len(embeddings[0]), e.Dimension(), domain.ErrDimensionMismatch)
	}
	return embeddings[0], nil
}
