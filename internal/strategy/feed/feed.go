// Package feed implements the last-resort fetch strategy: public mirror
// feeds of the account's timeline.
package feed

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/postwatch/postwatch/internal/monitor"
)

const defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// defaultEndpoints are format strings taking the username. Ordered by
// observed reliability; the first endpoint yielding items wins.
var defaultEndpoints = []string{
	"https://nitter.net/%s/rss",
	"https://nitter.privacydev.net/%s/rss",
	"https://rsshub.app/twitter/user/%s",
}

var htmlTagPattern = regexp.MustCompile(`<[^>]+>`)

// Config controls the feed strategy.
type Config struct {
	Endpoints []string      // format strings, %s = username
	UserAgent string
	Timeout   time.Duration // per-endpoint, default 15s
	HostRate  rate.Limit    // requests per second per mirror host, default 0.5
}

func (c Config) withDefaults() Config {
	if len(c.Endpoints) == 0 {
		c.Endpoints = defaultEndpoints
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.HostRate <= 0 {
		c.HostRate = 0.5
	}
	return c
}

// Strategy reads the account timeline from public mirror feeds. Mirrors are
// shared infrastructure, so requests are rate limited per host.
type Strategy struct {
	cfg      Config
	parser   *gofeed.Parser
	limiters sync.Map // host -> *rate.Limiter
	clock    monitor.Clock
	logger   *zap.Logger
}

// New builds the feed strategy.
func New(cfg Config, clock monitor.Clock, logger *zap.Logger) *Strategy {
	cfg = cfg.withDefaults()
	parser := gofeed.NewParser()
	parser.Client = &http.Client{
		Timeout:   cfg.Timeout,
		Transport: &userAgentTransport{agent: cfg.UserAgent, next: http.DefaultTransport},
	}
	return &Strategy{cfg: cfg, parser: parser, clock: clock, logger: logger}
}

// Name implements monitor.Strategy.
func (s *Strategy) Name() string {
	return "feed"
}

// Fetch tries each endpoint in order and returns the first non-empty parse.
func (s *Strategy) Fetch(ctx context.Context, req monitor.FetchRequest) ([]monitor.Post, error) {
	var lastErr error
	for _, endpoint := range s.cfg.Endpoints {
		feedURL := fmt.Sprintf(endpoint, req.Username)
		posts, err := s.fetchOne(ctx, feedURL, req)
		if err != nil {
			lastErr = err
			s.logger.Debug("feed endpoint failed",
				zap.String("url", feedURL), zap.Error(err))
			continue
		}
		if len(posts) > 0 {
			s.logger.Debug("feed endpoint succeeded",
				zap.String("url", feedURL), zap.Int("posts", len(posts)))
			return posts, nil
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: all feed endpoints failed: %v", monitor.ErrTransient, lastErr)
	}
	return nil, nil
}

func (s *Strategy) fetchOne(ctx context.Context, feedURL string, req monitor.FetchRequest) ([]monitor.Post, error) {
	if err := s.waitHostBudget(ctx, feedURL); err != nil {
		return nil, err
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	parsed, err := s.parser.ParseURLWithContext(feedURL, fetchCtx)
	if err != nil {
		return nil, err
	}

	var posts []monitor.Post
	for _, item := range parsed.Items {
		id, ok := monitor.ParsePostID(item.Link)
		if !ok {
			continue
		}

		body := stripHTML(item.Title)
		if body == "" {
			body = stripHTML(item.Description)
		}
		if body == "" {
			body = monitor.PlaceholderBody
		}

		publishedAt := s.clock.Now()
		if item.PublishedParsed != nil {
			publishedAt = *item.PublishedParsed
		} else if item.Published != "" {
			s.logger.Warn("unparsable feed timestamp, substituting current time",
				zap.Int64("post_id", id),
				zap.String("published", item.Published),
				zap.Error(monitor.ErrParse),
			)
		}

		posts = append(posts, monitor.Post{
			ID:          id,
			Author:      req.Username,
			Body:        body,
			PublishedAt: publishedAt,
			URL:         monitor.CanonicalPostURL(item.Link, req.Username, id),
		})
		if req.MaxPosts > 0 && len(posts) >= req.MaxPosts {
			break
		}
	}
	return posts, nil
}

// waitHostBudget blocks until the mirror host's rate budget allows another
// request.
func (s *Strategy) waitHostBudget(ctx context.Context, feedURL string) error {
	u, err := url.Parse(feedURL)
	if err != nil {
		return fmt.Errorf("%w: bad feed url %s: %v", monitor.ErrTransient, feedURL, err)
	}
	v, _ := s.limiters.LoadOrStore(u.Host, rate.NewLimiter(s.cfg.HostRate, 1))
	if err := v.(*rate.Limiter).Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate wait for %s: %v", monitor.ErrTransient, u.Host, err)
	}
	return nil
}

// stripHTML drops markup and collapses the leftover whitespace.
func stripHTML(s string) string {
	return strings.Join(strings.Fields(htmlTagPattern.ReplaceAllString(s, " ")), " ")
}

type userAgentTransport struct {
	agent string
	next  http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r.Header.Set("User-Agent", t.agent)
	return t.next.RoundTrip(r)
}
