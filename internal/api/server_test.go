package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/postwatch/postwatch/internal/monitor"
	"github.com/postwatch/postwatch/internal/store"
)

type fakeReader struct {
	posts     []monitor.Post
	stats     store.Stats
	err       error
	gotFilter store.ListFilter
	gotQuery  string
}

func (f *fakeReader) List(_ context.Context, filter store.ListFilter) ([]monitor.Post, error) {
	f.gotFilter = filter
	return f.posts, f.err
}

func (f *fakeReader) Search(_ context.Context, keyword, author string, limit, offset int) ([]monitor.Post, error) {
	f.gotQuery = keyword
	return f.posts, f.err
}

func (f *fakeReader) GetStats(_ context.Context) (store.Stats, error) {
	return f.stats, f.err
}

func newTestServer(reader *fakeReader) *httptest.Server {
	return httptest.NewServer(NewServer(reader, zap.NewNop()).Handler())
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	ts := newTestServer(&fakeReader{})
	defer ts.Close()

	var body map[string]string
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/healthz", &body))
	require.Equal(t, "ok", body["status"])
}

func TestListPosts(t *testing.T) {
	t.Parallel()

	reader := &fakeReader{posts: []monitor.Post{
		{ID: 2, Author: "someone", Body: "b", PublishedAt: time.Now()},
		{ID: 1, Author: "someone", Body: "a", PublishedAt: time.Now()},
	}}
	ts := newTestServer(reader)
	defer ts.Close()

	var body struct {
		Posts []monitor.Post `json:"posts"`
		Count int            `json:"count"`
	}
	status := getJSON(t, ts.URL+"/posts?author=someone&processed=false&limit=5&offset=2", &body)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, 2, body.Count)
	require.Len(t, body.Posts, 2)

	require.Equal(t, "someone", reader.gotFilter.Author)
	require.NotNil(t, reader.gotFilter.Processed)
	require.False(t, *reader.gotFilter.Processed)
	require.Equal(t, 5, reader.gotFilter.Limit)
	require.Equal(t, 2, reader.gotFilter.Offset)
}

func TestListPostsBadProcessedParam(t *testing.T) {
	t.Parallel()

	ts := newTestServer(&fakeReader{})
	defer ts.Close()
	require.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/posts?processed=maybe", nil))
}

func TestListPostsEmptyIsAnArray(t *testing.T) {
	t.Parallel()

	ts := newTestServer(&fakeReader{})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/posts")
	require.NoError(t, err)
	defer resp.Body.Close()
	var raw map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	require.JSONEq(t, `[]`, string(raw["posts"]))
}

func TestSearchRequiresQuery(t *testing.T) {
	t.Parallel()

	ts := newTestServer(&fakeReader{})
	defer ts.Close()
	require.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/posts/search", nil))
}

func TestSearch(t *testing.T) {
	t.Parallel()

	reader := &fakeReader{posts: []monitor.Post{{ID: 7, Author: "someone", Body: "release day"}}}
	ts := newTestServer(reader)
	defer ts.Close()

	var body struct {
		Count int `json:"count"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/posts/search?q=release", &body))
	require.Equal(t, 1, body.Count)
	require.Equal(t, "release", reader.gotQuery)
}

func TestStats(t *testing.T) {
	t.Parallel()

	reader := &fakeReader{stats: store.Stats{
		TotalPosts:      3,
		DistinctAuthors: 2,
		CountsByAuthor:  map[string]int{"a": 2, "b": 1},
	}}
	ts := newTestServer(reader)
	defer ts.Close()

	var stats store.Stats
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/stats", &stats))
	require.Equal(t, 3, stats.TotalPosts)
	require.Equal(t, map[string]int{"a": 2, "b": 1}, stats.CountsByAuthor)
}

func TestReaderErrorIs500(t *testing.T) {
	t.Parallel()

	ts := newTestServer(&fakeReader{err: fmt.Errorf("db exploded")})
	defer ts.Close()
	require.Equal(t, http.StatusInternalServerError, getJSON(t, ts.URL+"/posts", nil))
	require.Equal(t, http.StatusInternalServerError, getJSON(t, ts.URL+"/stats", nil))
}
