package usecase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"siteqa/internal/domain"
	"siteqa/internal/port"
)

const DefaultBatchSize = 100

// MigrationSource is a local artifact pair: every stored vector in insertion
// order and the documents aligned with them by position.
type MigrationSource struct {
	Vectors   port.VectorExporter
	Documents []domain.Document
}

type MigrateOptions struct {
	// Reset clears the destination index and store first.
	Reset     bool
	BatchSize int
	// Progress is called after each committed batch.
	Progress func(done, total int)
}

// Migrator copies a local index and its metadata into a destination index
// and metadata store.
type Migrator struct {
	source MigrationSource
	index  port.VectorIndex
	store  port.MetadataStore
	logger *zap.Logger
}

func NewMigrator(source MigrationSource, index port.VectorIndex, store port.MetadataStore, logger *zap.Logger) *Migrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Migrator{source: source, index: index, store: store, logger: logger}
}

// Migrate writes batches sequentially, vectors before documents. On failure
// the returned summary counts exactly what was written before the error.
func (m *Migrator) Migrate(ctx context.Context, opts MigrateOptions) (domain.MigrationSummary, error) {
	var summary domain.MigrationSummary
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}

	if p, ok := m.index.(port.IndexProvisioner); ok {
		if err := p.EnsureIndex(ctx); err != nil {
			return summary, fmt.Errorf("ensure destination index: %w", err)
		}
	}

	items, err := m.source.Vectors.Export(ctx)
	if err != nil {
		return summary, fmt.Errorf("export source vectors: %w", err)
	}
	if err := m.validate(items); err != nil {
		return summary, err
	}
	summary.Total = len(items)

	if opts.Reset {
		m.logger.Warn("resetting destination")
		if err := m.index.DeleteAll(ctx); err != nil {
			return summary, fmt.Errorf("reset index: %w", err)
		}
		if err := m.store.DeleteAll(ctx); err != nil {
			return summary, fmt.Errorf("reset metadata: %w", err)
		}
		if err := persist(m.index); err != nil {
			return summary, fmt.Errorf("reset index: %w", err)
		}
		if err := persist(m.store); err != nil {
			return summary, fmt.Errorf("reset metadata: %w", err)
		}
	}

	docs := m.source.Documents
	for start := 0; start < len(items); start += opts.BatchSize {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		end := start + opts.BatchSize
		if end > len(items) {
			end = len(items)
		}

		batch := make([]port.VectorItem, 0, end-start)
		for _, item := range items[start:end] {
			batch = append(batch, port.VectorItem{
				ID:       item.ID,
				Vector:   item.Vector,
				Metadata: map[string]string{port.MetadataKeyDocID: item.ID},
			})
		}
		if err := m.index.Upsert(ctx, batch); err != nil {
			return summary, fmt.Errorf("batch %d: upsert vectors: %w", summary.Batches+1, err)
		}
		if err := persist(m.index); err != nil {
			return summary, fmt.Errorf("batch %d: save vectors: %w", summary.Batches+1, err)
		}
		summary.VectorsMigrated += len(batch)

		if err := m.store.PutMany(ctx, docs[start:end]); err != nil {
			return summary, fmt.Errorf("batch %d: store metadata: %w", summary.Batches+1, err)
		}
		if err := persist(m.store); err != nil {
			return summary, fmt.Errorf("batch %d: save metadata: %w", summary.Batches+1, err)
		}
		summary.DocsMigrated += end - start
		summary.Batches++

		m.logger.Debug("batch migrated",
			zap.Int("batch", summary.Batches),
			zap.Int("done", end),
			zap.Int("total", len(items)))
		if opts.Progress != nil {
			opts.Progress(end, len(items))
		}
	}

	m.logger.Info("migration complete",
		zap.Int("vectors", summary.VectorsMigrated),
		zap.Int("documents", summary.DocsMigrated),
		zap.Int("batches", summary.Batches))
	return summary, nil
}

// persist flushes destinations backed by a local artifact. A batch only
// counts as migrated once it is on disk.
func persist(dest any) error {
	if p, ok := dest.(port.Persister); ok {
		return p.Save()
	}
	return nil
}

// validate checks that vectors and documents correspond one to one by
// position and id before anything is written.
func (m *Migrator) validate(items []port.VectorItem) error {
	docs := m.source.Documents
	if len(items) != len(docs) {
		return fmt.Errorf("%w: source has %d vectors but %d documents", domain.ErrIntegrity, len(items), len(docs))
	}

	dim := m.index.Dimension()
	seen := make(map[string]struct{}, len(items))
	for i, item := range items {
		if item.ID == "" {
			return fmt.Errorf("%w: vector %d has no id", domain.ErrIntegrity, i)
		}
		if _, dup := seen[item.ID]; dup {
			return fmt.Errorf("%w: duplicate id %s", domain.ErrIntegrity, item.ID)
		}
		seen[item.ID] = struct{}{}
		if docs[i].ID != item.ID {
			return fmt.Errorf("%w: position %d holds vector %s but document %s", domain.ErrIntegrity, i, item.ID, docs[i].ID)
		}
		if len(item.Vector) != dim {
			return fmt.Errorf("vector %s has %d values, destination expects %d: %w", item.ID, len(item.Vector), dim, domain.ErrDimensionMismatch)
		}
	}
	return nil
}
