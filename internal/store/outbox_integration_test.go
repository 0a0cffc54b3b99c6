package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dsn := strings.TrimSpace(os.Getenv("DOCGATE_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("DOCGATE_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations"))
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `DELETE FROM pending_flushes`)
	require.NoError(t, err)
	return NewPostgresStore(db)
}

func TestOutboxEnqueueAndComplete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	version, err := s.EnqueueFlush(ctx, "42-space-7", []byte{1, 2, 3})
	require.NoError(t, err)
	require.Equal(t, int64(1), version)

	items, err := s.ListPendingFlushes(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "42-space-7", items[0].DocumentName)
	assert.Equal(t, []byte{1, 2, 3}, items[0].State)

	removed, err := s.CompleteFlush(ctx, "42-space-7", version)
	require.NoError(t, err)
	require.True(t, removed)

	count, err := s.PendingFlushCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestOutboxPendingFlushByName(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, found, err := s.PendingFlush(ctx, "doc-p")
	require.NoError(t, err)
	assert.False(t, found)

	_, err = s.EnqueueFlush(ctx, "doc-p", []byte("old"))
	require.NoError(t, err)
	version, err := s.EnqueueFlush(ctx, "doc-p", []byte("new"))
	require.NoError(t, err)
	_, err = s.EnqueueFlush(ctx, "doc-other", []byte("other"))
	require.NoError(t, err)

	item, found, err := s.PendingFlush(ctx, "doc-p")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "doc-p", item.DocumentName)
	assert.Equal(t, []byte("new"), item.State)
	assert.Equal(t, version, item.Version)
	assert.False(t, item.EnqueuedAt.IsZero())
}

func TestOutboxReenqueueBumpsVersion(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, err := s.EnqueueFlush(ctx, "doc-a", []byte("old"))
	require.NoError(t, err)
	require.NoError(t, s.MarkFlushFailed(ctx, "doc-a", first, errors.New("redis down")))

	second, err := s.EnqueueFlush(ctx, "doc-a", []byte("new"))
	require.NoError(t, err)
	require.Equal(t, first+1, second)

	// a flush that read the old version must not remove the newer state
	removed, err := s.CompleteFlush(ctx, "doc-a", first)
	require.NoError(t, err)
	require.False(t, removed)

	items, err := s.ListPendingFlushes(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "new", string(items[0].State))
	assert.Equal(t, 0, items[0].Attempts, "re-enqueue resets failure info")
	assert.Empty(t, items[0].LastError)
}

func TestOutboxMarkFailedAndDiscard(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	version, err := s.EnqueueFlush(ctx, "doc-b", []byte("state"))
	require.NoError(t, err)
	require.NoError(t, s.MarkFlushFailed(ctx, "doc-b", version, errors.New(strings.Repeat("x", 2000))))

	items, err := s.ListPendingFlushes(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].Attempts)
	assert.Len(t, items[0].LastError, maxErrorLength)

	require.NoError(t, s.DiscardFlush(ctx, "doc-b"))
	require.NoError(t, s.DiscardFlush(ctx, "doc-b"), "discarding a missing entry")

	count, err := s.PendingFlushCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestOutboxListsOldestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"first", "second", "third"} {
		_, err := s.EnqueueFlush(ctx, name, []byte(name))
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
	}

	items, err := s.ListPendingFlushes(ctx, 2)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "first", items[0].DocumentName)
	assert.Equal(t, "second", items[1].DocumentName)
}
