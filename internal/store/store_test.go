package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/postwatch/postwatch/internal/monitor"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "posts.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func testPost(id int64, author string) monitor.Post {
	return monitor.Post{
		ID:          id,
		Author:      author,
		Body:        "hello from " + author,
		PublishedAt: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC).Add(time.Duration(id) * time.Minute),
		URL:         "https://x.com/" + author + "/status/1",
		RawPayload:  json.RawMessage(`{"source":"test"}`),
	}
}

func TestUpsertRoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	post := testPost(100, "someone")

	require.NoError(t, s.Upsert(ctx, post))

	got, ok, err := s.GetByID(ctx, 100)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, post.ID, got.ID)
	require.Equal(t, post.Author, got.Author)
	require.Equal(t, post.Body, got.Body)
	require.True(t, post.PublishedAt.Equal(got.PublishedAt))
	require.Equal(t, post.URL, got.URL)
	require.JSONEq(t, string(post.RawPayload), string(got.RawPayload))
	require.False(t, got.Processed)
}

func TestGetByIDMissing(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	_, ok, err := s.GetByID(context.Background(), 999)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUpsertUpdatesInsteadOfDuplicating(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	post := testPost(100, "someone")
	require.NoError(t, s.Upsert(ctx, post))
	require.NoError(t, s.MarkProcessed(ctx, 100, true))

	post.Body = "edited body"
	require.NoError(t, s.Upsert(ctx, post))

	got, ok, err := s.GetByID(ctx, 100)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "edited body", got.Body)
	require.True(t, got.Processed, "processed flag survives an upsert")

	stats, err := s.GetStats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.TotalPosts)
}

func TestListFilters(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, testPost(1, "alpha")))
	require.NoError(t, s.Upsert(ctx, testPost(2, "alpha")))
	require.NoError(t, s.Upsert(ctx, testPost(3, "beta")))
	require.NoError(t, s.MarkProcessed(ctx, 1, true))

	all, err := s.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, int64(3), all[0].ID, "newest first")

	alpha, err := s.List(ctx, ListFilter{Author: "alpha"})
	require.NoError(t, err)
	require.Len(t, alpha, 2)

	processed := true
	done, err := s.List(ctx, ListFilter{Processed: &processed})
	require.NoError(t, err)
	require.Len(t, done, 1)
	require.Equal(t, int64(1), done[0].ID)

	limited, err := s.List(ctx, ListFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	require.Equal(t, int64(2), limited[0].ID)
}

func TestSearch(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	p1 := testPost(1, "alpha")
	p1.Body = "shipping a new release today"
	p2 := testPost(2, "beta")
	p2.Body = "nothing to see here"
	require.NoError(t, s.Upsert(ctx, p1))
	require.NoError(t, s.Upsert(ctx, p2))

	hits, err := s.Search(ctx, "release", "", 10, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, int64(1), hits[0].ID)

	none, err := s.Search(ctx, "release", "beta", 10, 0)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestMarkProcessedUnknownPost(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	err := s.MarkProcessed(context.Background(), 12345, true)
	require.Error(t, err)
	require.ErrorIs(t, err, monitor.ErrPersistence)
}

func TestGetStats(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	stats, err := s.GetStats(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.TotalPosts)
	require.Nil(t, stats.Earliest)

	require.NoError(t, s.Upsert(ctx, testPost(1, "alpha")))
	require.NoError(t, s.Upsert(ctx, testPost(2, "alpha")))
	require.NoError(t, s.Upsert(ctx, testPost(3, "beta")))
	require.NoError(t, s.MarkProcessed(ctx, 1, true))

	stats, err = s.GetStats(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, stats.TotalPosts)
	require.Equal(t, 2, stats.DistinctAuthors)
	require.Equal(t, 1, stats.ProcessedCount)
	require.Equal(t, 2, stats.UnprocessedCount)
	require.NotNil(t, stats.Earliest)
	require.NotNil(t, stats.Latest)
	require.True(t, stats.Latest.After(*stats.Earliest))
	require.Equal(t, map[string]int{"alpha": 2, "beta": 1}, stats.CountsByAuthor)
}

func TestOpenCreatesDirectory(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "dir", "posts.db")
	s, err := Open(path, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.Close())
}
