package mongo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"siteqa/internal/domain"
)

func TestClassify(t *testing.T) {
	err := classify("find", context.DeadlineExceeded)
	assert.ErrorIs(t, err, domain.ErrTransient)
	assert.ErrorIs(t, err, domain.ErrIndexUnavailable)
	assert.True(t, domain.IsRetryable(err))

	assert.Same(t, context.Canceled, classify("find", context.Canceled))

	plain := classify("find", errors.New("server selection error"))
	assert.ErrorIs(t, plain, domain.ErrIndexUnavailable)
	assert.False(t, domain.IsRetryable(plain))
}

func TestConnect_EmptyURI(t *testing.T) {
	_, err := Connect(context.Background(), "", Options{})
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

// TestStore_Live runs against a real server when SITEQA_TEST_MONGO_URI is set.
func TestStore_Live(t *testing.T) {
	uri := os.Getenv("SITEQA_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("SITEQA_TEST_MONGO_URI not set")
	}
	ctx := context.Background()
	s, err := Connect(ctx, uri, Options{
		Database:   "siteqa_test",
		Collection: fmt.Sprintf("metadata_%d", time.Now().UnixNano()),
		Timeout:    5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.coll.Drop(context.Background())
		_ = s.Close()
	})

	require.NoError(t, s.PutMany(ctx, []domain.Document{{ID: "1", Title: "One"}, {ID: "2", Title: "Two"}}))
	require.NoError(t, s.PutMany(ctx, []domain.Document{{ID: "1", Title: "Uno"}}))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	doc, err := s.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "Uno", doc.Title)

	_, err = s.Get(ctx, "3")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	ids, err := s.ListIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, ids)

	require.NoError(t, s.DeleteAll(ctx))
	n, _ = s.Count(ctx)
	assert.Zero(t, n)
}
