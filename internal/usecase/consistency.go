package usecase

import (
	"context"
	"fmt"

	"siteqa/internal/domain"
	"siteqa/internal/port"
)

// CheckConsistency compares the ids held by an index and a metadata store.
// The index must be able to list its ids.
func CheckConsistency(ctx context.Context, index port.VectorIndex, store port.MetadataStore) (domain.ConsistencyReport, error) {
	var report domain.ConsistencyReport

	lister, ok := index.(port.IDLister)
	if !ok {
		return report, fmt.Errorf("%w: index cannot list its ids", domain.ErrConfiguration)
	}
	vectorIDs, err := lister.ListIDs(ctx)
	if err != nil {
		return report, fmt.Errorf("list vector ids: %w", err)
	}
	docIDs, err := store.ListIDs(ctx)
	if err != nil {
		return report, fmt.Errorf("list document ids: %w", err)
	}

	report.VectorCount = len(vectorIDs)
	report.DocumentCount = len(docIDs)

	docs := make(map[string]struct{}, len(docIDs))
	for _, id := range docIDs {
		docs[id] = struct{}{}
	}
	vectors := make(map[string]struct{}, len(vectorIDs))
	for _, id := range vectorIDs {
		vectors[id] = struct{}{}
		if _, ok := docs[id]; !ok {
			report.OrphanVectors = append(report.OrphanVectors, id)
		}
	}
	for _, id := range docIDs {
		if _, ok := vectors[id]; !ok {
			report.OrphanDocuments = append(report.OrphanDocuments, id)
		}
	}
	return report, nil
}
