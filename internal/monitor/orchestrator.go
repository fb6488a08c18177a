package monitor

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/postwatch/postwatch/internal/metrics"
)

// Fetcher selects among strategies in fixed priority order and validates
// freshness of the primary strategy's result. The first strategy returning a
// non-empty batch wins; batches are never mixed across strategies.
type Fetcher struct {
	strategies []Strategy
	clock      Clock
	logger     *zap.Logger
}

// NewFetcher builds a Fetcher. Strategy order is the fallback order; the
// first entry is the primary and the only one subject to staleness checks.
func NewFetcher(strategies []Strategy, clock Clock, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		strategies: strategies,
		clock:      clock,
		logger:     logger,
	}
}

// Fetch returns up to maxPosts posts for the account, newest-first by id,
// ids unique. An empty result is not an error: it means no strategy could
// retrieve data this time.
func (f *Fetcher) Fetch(ctx context.Context, username string, maxPosts int) []Post {
	for i, s := range f.strategies {
		posts, err := s.Fetch(ctx, FetchRequest{Username: username, MaxPosts: maxPosts})
		if err != nil {
			metrics.ObserveFetch(s.Name(), "error")
			f.logger.Warn("strategy fetch failed",
				zap.String("strategy", s.Name()),
				zap.String("username", username),
				zap.Error(err),
			)
			continue
		}
		if len(posts) == 0 {
			metrics.ObserveFetch(s.Name(), "empty")
			continue
		}
		metrics.ObserveFetch(s.Name(), "ok")

		if i == 0 && f.allStale(posts) {
			posts = f.retryStale(ctx, s, username, maxPosts, posts)
		}
		return finalize(posts, maxPosts)
	}
	return nil
}

// retryStale performs the single bounded retry for an all-stale primary
// batch: a fresh browser session with a forced page refresh. Whatever the
// retry returns is accepted, except that an empty or failed retry keeps the
// original batch rather than discarding usable data.
func (f *Fetcher) retryStale(ctx context.Context, s Strategy, username string, maxPosts int, stale []Post) []Post {
	metrics.ObserveStaleRetry()
	f.logger.Warn("all fetched posts look stale, retrying once with a forced refresh",
		zap.String("strategy", s.Name()),
		zap.String("username", username),
		zap.Int("posts", len(stale)),
		zap.Error(ErrStale),
	)

	retry, err := s.Fetch(ctx, FetchRequest{Username: username, MaxPosts: maxPosts, ForceRefresh: true})
	if err != nil {
		f.logger.Warn("stale retry failed, keeping original batch",
			zap.String("username", username), zap.Error(err))
		return stale
	}
	if len(retry) == 0 {
		return stale
	}
	if f.allStale(retry) {
		f.logger.Warn("retry batch is still stale, proceeding with it anyway",
			zap.String("username", username))
	}
	return retry
}

// allStale reports whether every post in the batch was published before
// last year, which suggests a cached or mis-rendered page rather than
// genuine old content.
func (f *Fetcher) allStale(posts []Post) bool {
	threshold := f.clock.Now().Year() - 1
	for _, p := range posts {
		if p.PublishedAt.Year() >= threshold {
			return false
		}
	}
	return true
}

// finalize deduplicates by id (first occurrence wins), sorts by id
// descending, and truncates. Ids are a more reliable total order than the
// parsed timestamps.
func finalize(posts []Post, maxPosts int) []Post {
	seen := make(map[int64]struct{}, len(posts))
	out := make([]Post, 0, len(posts))
	for _, p := range posts {
		if _, ok := seen[p.ID]; ok {
			continue
		}
		seen[p.ID] = struct{}{}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if maxPosts > 0 && len(out) > maxPosts {
		out = out[:maxPosts]
	}
	return out
}
