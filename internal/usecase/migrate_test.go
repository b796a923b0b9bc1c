package usecase

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"siteqa/internal/adapter/memstore"
	"siteqa/internal/adapter/vectorindex/flat"
	"siteqa/internal/domain"
	"siteqa/internal/port"
)

// syntheticSource builds n aligned vectors and documents of dimension 4.
func syntheticSource(t *testing.T, n int) MigrationSource {
	t.Helper()
	idx, err := flat.New("", 4, "m")
	require.NoError(t, err)
	docs := make([]domain.Document, n)
	items := make([]port.VectorItem, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprint(i)
		docs[i] = domain.Document{ID: id, Title: "Doc " + id, URL: "https://example.com/" + id}
		items[i] = port.VectorItem{ID: id, Vector: []float32{float32(i), 1, 0, 0}}
	}
	require.NoError(t, idx.Upsert(context.Background(), items))
	return MigrationSource{Vectors: idx, Documents: docs}
}

func TestMigrator_Completeness(t *testing.T) {
	ctx := context.Background()
	dest, err := flat.New("", 4, "m")
	require.NoError(t, err)
	store := memstore.NewMemoryStore()

	var progress []int
	m := NewMigrator(syntheticSource(t, 250), dest, store, nil)
	summary, err := m.Migrate(ctx, MigrateOptions{BatchSize: 100, Progress: func(done, total int) {
		assert.Equal(t, 250, total)
		progress = append(progress, done)
	}})
	require.NoError(t, err)

	assert.Equal(t, domain.MigrationSummary{Total: 250, VectorsMigrated: 250, DocsMigrated: 250, Batches: 3}, summary)
	assert.Equal(t, []int{100, 200, 250}, progress)

	n, _ := dest.Count(ctx)
	assert.Equal(t, 250, n)
	n, _ = store.Count(ctx)
	assert.Equal(t, 250, n)

	report, err := CheckConsistency(ctx, dest, store)
	require.NoError(t, err)
	assert.True(t, report.Consistent())
}

func TestMigrator_Idempotent(t *testing.T) {
	ctx := context.Background()
	dest, _ := flat.New("", 4, "m")
	store := memstore.NewMemoryStore()
	m := NewMigrator(syntheticSource(t, 30), dest, store, nil)

	_, err := m.Migrate(ctx, MigrateOptions{BatchSize: 7})
	require.NoError(t, err)
	_, err = m.Migrate(ctx, MigrateOptions{BatchSize: 7})
	require.NoError(t, err)

	n, _ := dest.Count(ctx)
	assert.Equal(t, 30, n)
	n, _ = store.Count(ctx)
	assert.Equal(t, 30, n)
}

func TestMigrator_Reset(t *testing.T) {
	ctx := context.Background()
	dest, _ := flat.New("", 4, "m")
	require.NoError(t, dest.Upsert(ctx, []port.VectorItem{{ID: "stale", Vector: []float32{0, 0, 0, 1}}}))
	store := memstore.NewMemoryStore(domain.Document{ID: "stale"})

	_, err := NewMigrator(syntheticSource(t, 5), dest, store, nil).Migrate(ctx, MigrateOptions{Reset: true})
	require.NoError(t, err)

	report, err := CheckConsistency(ctx, dest, store)
	require.NoError(t, err)
	assert.Equal(t, 5, report.VectorCount)
	assert.True(t, report.Consistent())
}

func TestMigrator_PartialFailure(t *testing.T) {
	ctx := context.Background()
	inner, _ := flat.New("", 4, "m")
	dest := &failingIndex{VectorIndex: inner, failAt: 2}
	store := memstore.NewMemoryStore()

	summary, err := NewMigrator(syntheticSource(t, 250), dest, store, nil).Migrate(ctx, MigrateOptions{BatchSize: 100})
	require.Error(t, err)
	assert.True(t, domain.IsRetryable(err))
	assert.Equal(t, domain.MigrationSummary{Total: 250, VectorsMigrated: 100, DocsMigrated: 100, Batches: 1}, summary)

	n, _ := store.Count(ctx)
	assert.Equal(t, 100, n)
}

func TestMigrator_SavesLocalDestination(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "dest.idx")
	dest, err := flat.OpenOrCreate(path, 4, "m")
	require.NoError(t, err)

	summary, err := NewMigrator(syntheticSource(t, 250), dest, memstore.NewMemoryStore(), nil).Migrate(ctx, MigrateOptions{BatchSize: 100})
	require.NoError(t, err)
	assert.Equal(t, 250, summary.VectorsMigrated)

	reopened, err := flat.Open(path, 4, "m")
	require.NoError(t, err)
	n, _ := reopened.Count(ctx)
	assert.Equal(t, 250, n)
}

// unsavableIndex accepts upserts but fails Save from the failAt-th call on.
type unsavableIndex struct {
	*flat.Index
	saves  int
	failAt int
}

func (u *unsavableIndex) Save() error {
	u.saves++
	if u.saves >= u.failAt {
		return errors.New("disk full")
	}
	return u.Index.Save()
}

func TestMigrator_SaveFailureNotCounted(t *testing.T) {
	ctx := context.Background()
	inner, _ := flat.New(filepath.Join(t.TempDir(), "dest.idx"), 4, "m")
	dest := &unsavableIndex{Index: inner, failAt: 2}
	store := memstore.NewMemoryStore()

	summary, err := NewMigrator(syntheticSource(t, 250), dest, store, nil).Migrate(ctx, MigrateOptions{BatchSize: 100})
	require.Error(t, err)
	assert.Equal(t, domain.MigrationSummary{Total: 250, VectorsMigrated: 100, DocsMigrated: 100, Batches: 1}, summary)

	n, _ := store.Count(ctx)
	assert.Equal(t, 100, n, "documents of an unsaved batch must not be written")
}

func TestMigrator_Misaligned(t *testing.T) {
	ctx := context.Background()
	src := syntheticSource(t, 3)
	src.Documents[0], src.Documents[1] = src.Documents[1], src.Documents[0]

	dest, _ := flat.New("", 4, "m")
	store := memstore.NewMemoryStore()
	_, err := NewMigrator(src, dest, store, nil).Migrate(ctx, MigrateOptions{})
	assert.ErrorIs(t, err, domain.ErrIntegrity)

	n, _ := dest.Count(ctx)
	assert.Zero(t, n, "nothing may be written when the source is inconsistent")

	src.Documents = src.Documents[:2]
	_, err = NewMigrator(src, dest, store, nil).Migrate(ctx, MigrateOptions{})
	assert.ErrorIs(t, err, domain.ErrIntegrity)
}

func TestMigrator_DimensionMismatch(t *testing.T) {
	dest, _ := flat.New("", 8, "m")
	_, err := NewMigrator(syntheticSource(t, 3), dest, memstore.NewMemoryStore(), nil).Migrate(context.Background(), MigrateOptions{})
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
}

func TestCheckConsistency_Orphans(t *testing.T) {
	ctx := context.Background()
	idx, _ := flat.New("", 2, "m")
	require.NoError(t, idx.Upsert(ctx, []port.VectorItem{
		{ID: "a", Vector: []float32{1, 0}},
		{ID: "b", Vector: []float32{0, 1}},
	}))
	store := memstore.NewMemoryStore(domain.Document{ID: "a"}, domain.Document{ID: "c"})

	report, err := CheckConsistency(ctx, idx, store)
	require.NoError(t, err)
	assert.False(t, report.Consistent())
	assert.Equal(t, []string{"b"}, report.OrphanVectors)
	assert.Equal(t, []string{"c"}, report.OrphanDocuments)
}
