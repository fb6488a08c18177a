package feed

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/postwatch/postwatch/internal/monitor"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time {
	return c.now
}

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
	<title>someone / mirror</title>
	<item>
		<title>first &lt;b&gt;post&lt;/b&gt; text</title>
		<link>https://nitter.net/someone/status/102</link>
		<pubDate>Mon, 01 Jun 2026 12:00:00 GMT</pubDate>
	</item>
	<item>
		<title>second post text</title>
		<link>https://nitter.net/someone/status/101</link>
		<pubDate>Mon, 01 Jun 2026 11:00:00 GMT</pubDate>
	</item>
	<item>
		<title>not a status link</title>
		<link>https://nitter.net/someone</link>
	</item>
</channel>
</rss>`

func newTestStrategy(t *testing.T, endpoints []string) *Strategy {
	t.Helper()
	clock := fixedClock{now: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)}
	return New(Config{Endpoints: endpoints, HostRate: 1000}, clock, zap.NewNop())
}

func TestFetchParsesFeedItems(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/someone/rss", r.URL.Path)
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, sampleFeed)
	}))
	defer ts.Close()

	s := newTestStrategy(t, []string{ts.URL + "/%s/rss"})
	posts, err := s.Fetch(context.Background(), monitor.FetchRequest{Username: "someone", MaxPosts: 10})
	require.NoError(t, err)

	require.Len(t, posts, 2, "items without a status link are skipped")
	require.Equal(t, int64(102), posts[0].ID)
	require.Equal(t, "first post text", posts[0].Body, "markup is stripped")
	require.Equal(t, "https://x.com/someone/status/102", posts[0].URL)
	require.Equal(t, "someone", posts[0].Author)
	require.Equal(t, time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC), posts[0].PublishedAt.UTC())
}

func TestFetchHonorsMaxPosts(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, sampleFeed)
	}))
	defer ts.Close()

	s := newTestStrategy(t, []string{ts.URL + "/%s/rss"})
	posts, err := s.Fetch(context.Background(), monitor.FetchRequest{Username: "someone", MaxPosts: 1})
	require.NoError(t, err)
	require.Len(t, posts, 1)
	require.Equal(t, int64(102), posts[0].ID)
}

func TestFetchFallsThroughToNextEndpoint(t *testing.T) {
	t.Parallel()

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusBadGateway)
	}))
	defer broken.Close()
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, sampleFeed)
	}))
	defer healthy.Close()

	s := newTestStrategy(t, []string{broken.URL + "/%s/rss", healthy.URL + "/%s/rss"})
	posts, err := s.Fetch(context.Background(), monitor.FetchRequest{Username: "someone", MaxPosts: 10})
	require.NoError(t, err)
	require.Len(t, posts, 2)
}

func TestFetchAllEndpointsDownIsTransient(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusBadGateway)
	}))
	defer ts.Close()

	s := newTestStrategy(t, []string{ts.URL + "/%s/rss"})
	_, err := s.Fetch(context.Background(), monitor.FetchRequest{Username: "someone", MaxPosts: 10})
	require.Error(t, err)
	require.ErrorIs(t, err, monitor.ErrTransient)
}

func TestFetchMissingTimestampUsesClock(t *testing.T) {
	t.Parallel()

	feedNoDate := `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>m</title>
<item><title>undated</title><link>https://nitter.net/someone/status/55</link></item>
</channel></rss>`

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, feedNoDate)
	}))
	defer ts.Close()

	s := newTestStrategy(t, []string{ts.URL + "/%s/rss"})
	posts, err := s.Fetch(context.Background(), monitor.FetchRequest{Username: "someone", MaxPosts: 10})
	require.NoError(t, err)
	require.Len(t, posts, 1)
	require.Equal(t, time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC), posts[0].PublishedAt)
}

func TestStripHTML(t *testing.T) {
	t.Parallel()

	require.Equal(t, "plain", stripHTML("plain"))
	require.Equal(t, "bold", stripHTML("<b>bold</b>"))
	require.Equal(t, "", stripHTML("<br/>"))
	require.NotContains(t, stripHTML(`before <a href="x">link</a> after`), "<")
}
