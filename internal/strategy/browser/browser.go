// Package browser implements the primary fetch strategy: a headless Chrome
// session driven via chromedp against the account's public timeline page.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/postwatch/postwatch/internal/monitor"
)

const defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// postSelectors is the ordered element-discovery list: the primary selector
// first, then fallbacks tried when it yields nothing.
var postSelectors = []string{
	`article[data-testid="tweet"]`,
	`article[data-testid]`,
	`div[aria-label*="Timeline"] div[data-testid]`,
	`div[role="article"]`,
}

// Config controls the browser strategy.
type Config struct {
	BaseURL         string        // profile page base, default https://x.com
	UserAgent       string
	NavTimeout      time.Duration // whole-fetch budget, default 90s
	ReadyTimeout    time.Duration // per-attempt wait for post elements, default 15s
	MaxLoadAttempts int           // page load/refresh attempts, default 3
	MaxScrolls      int           // timeline scrolls, default 3
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = "https://x.com"
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.NavTimeout <= 0 {
		c.NavTimeout = 90 * time.Second
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = 15 * time.Second
	}
	if c.MaxLoadAttempts <= 0 {
		c.MaxLoadAttempts = 3
	}
	if c.MaxScrolls <= 0 {
		c.MaxScrolls = 3
	}
	return c
}

// Strategy fetches posts by rendering the timeline in headless Chrome. Each
// fetch owns a private browser session, torn down on every exit path.
type Strategy struct {
	cfg    Config
	clock  monitor.Clock
	logger *zap.Logger
}

// New builds the browser strategy.
func New(cfg Config, clock monitor.Clock, logger *zap.Logger) *Strategy {
	return &Strategy{cfg: cfg.withDefaults(), clock: clock, logger: logger}
}

// Name implements monitor.Strategy.
func (s *Strategy) Name() string {
	return "browser"
}

// rawPost is the per-element data read out of the page before parsing.
type rawPost struct {
	Link     string `json:"link"`
	Text     string `json:"text"`
	Datetime string `json:"datetime"`
}

// Fetch renders the account page and extracts posts top-to-bottom
// (newest-first). Any internal failure is returned as a transient fault.
func (s *Strategy) Fetch(ctx context.Context, req monitor.FetchRequest) ([]monitor.Post, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("incognito", true),
		chromedp.Flag("disable-application-cache", true),
		chromedp.Flag("disk-cache-size", "0"),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)
	defer func() {
		// Graceful browser shutdown first; if Chrome does not comply the
		// allocator cancel force-kills the descendant processes.
		if cerr := chromedp.Cancel(tabCtx); cerr != nil {
			s.logger.Warn("graceful browser teardown failed, forcing shutdown", zap.Error(cerr))
		}
		tabCancel()
		allocCancel()
	}()

	runCtx, cancel := context.WithTimeout(tabCtx, s.cfg.NavTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/%s", s.cfg.BaseURL, req.Username)
	if err := chromedp.Run(runCtx,
		network.Enable(),
		emulation.SetUserAgentOverride(s.cfg.UserAgent),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return nil, fmt.Errorf("%w: navigate %s: %v", monitor.ErrTransient, url, err)
	}

	selector, err := s.waitForPosts(runCtx, req.ForceRefresh)
	if err != nil {
		return nil, err
	}

	if err := s.scrollTimeline(runCtx); err != nil {
		s.logger.Warn("timeline scroll failed, reading what is loaded", zap.Error(err))
	}

	var raw []rawPost
	if err := chromedp.Run(runCtx, chromedp.Evaluate(extractScript(selector), &raw)); err != nil {
		return nil, fmt.Errorf("%w: extract posts: %v", monitor.ErrTransient, err)
	}

	return s.buildPosts(raw, req), nil
}

// waitForPosts runs the page-readiness state machine: up to MaxLoadAttempts
// tries, each after the first preceded by a full page refresh, each waiting
// a bounded time for any selector in the fallback list to produce elements.
func (s *Strategy) waitForPosts(ctx context.Context, forceRefresh bool) (string, error) {
	for attempt := 0; attempt < s.cfg.MaxLoadAttempts; attempt++ {
		if attempt > 0 || forceRefresh {
			s.logger.Info("refreshing page",
				zap.Int("attempt", attempt+1),
				zap.Int("max_attempts", s.cfg.MaxLoadAttempts),
			)
			if err := chromedp.Run(ctx,
				chromedp.Reload(),
				chromedp.Sleep(3*time.Second),
				chromedp.WaitReady("body", chromedp.ByQuery),
			); err != nil {
				s.logger.Warn("page refresh failed", zap.Int("attempt", attempt+1), zap.Error(err))
				continue
			}
		}
		for i, sel := range postSelectors {
			waitCtx, cancel := context.WithTimeout(ctx, s.cfg.ReadyTimeout)
			err := chromedp.Run(waitCtx, chromedp.WaitVisible(sel, chromedp.ByQuery))
			cancel()
			if err == nil {
				if i > 0 {
					s.logger.Info("primary selector empty, using fallback", zap.String("selector", sel))
				}
				return sel, nil
			}
			if ctx.Err() != nil {
				return "", fmt.Errorf("%w: wait for posts: %v", monitor.ErrTransient, ctx.Err())
			}
		}
		s.logger.Warn("post elements not ready", zap.Int("attempt", attempt+1))
	}
	return "", fmt.Errorf("%w: no post elements after %d attempts",
		monitor.ErrTransient, s.cfg.MaxLoadAttempts)
}

// scrollTimeline scrolls down up to MaxScrolls times to load more items,
// stopping early once the document height stops growing, then returns to
// the top so elements read newest-first.
func (s *Strategy) scrollTimeline(ctx context.Context) error {
	var lastHeight float64
	if err := chromedp.Run(ctx,
		chromedp.Evaluate(`document.body.scrollHeight`, &lastHeight),
	); err != nil {
		return fmt.Errorf("read page height: %w", err)
	}
	for i := 0; i < s.cfg.MaxScrolls; i++ {
		var height float64
		if err := chromedp.Run(ctx,
			chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight); true`, nil),
			chromedp.Sleep(2*time.Second),
			chromedp.Evaluate(`document.body.scrollHeight`, &height),
		); err != nil {
			return fmt.Errorf("scroll timeline: %w", err)
		}
		if height == lastHeight {
			break
		}
		lastHeight = height
	}
	return chromedp.Run(ctx,
		chromedp.Evaluate(`window.scrollTo(0, 0); true`, nil),
		chromedp.Sleep(time.Second),
	)
}

// buildPosts converts raw element data into Posts: id from the permalink,
// placeholder body when the text node was missing, clock-now timestamp
// (with a logged parse fault) when the datetime attribute is unusable.
func (s *Strategy) buildPosts(raw []rawPost, req monitor.FetchRequest) []monitor.Post {
	posts := make([]monitor.Post, 0, len(raw))
	for _, r := range raw {
		if req.MaxPosts > 0 && len(posts) >= req.MaxPosts {
			break
		}
		id, ok := monitor.ParsePostID(r.Link)
		if !ok {
			s.logger.Warn("skipping element without a status permalink", zap.String("link", r.Link))
			continue
		}

		body := r.Text
		if body == "" {
			body = monitor.PlaceholderBody
		}

		publishedAt, err := parseTimestamp(r.Datetime)
		if err != nil {
			publishedAt = s.clock.Now()
			s.logger.Warn("unparsable post timestamp, substituting current time",
				zap.Int64("post_id", id),
				zap.String("datetime", r.Datetime),
				zap.Error(fmt.Errorf("%w: %v", monitor.ErrParse, err)),
			)
		}

		posts = append(posts, monitor.Post{
			ID:          id,
			Author:      req.Username,
			Body:        body,
			PublishedAt: publishedAt,
			URL:         monitor.CanonicalPostURL(r.Link, req.Username, id),
			RawPayload:  mustJSON(r),
		})
	}
	if len(posts) > 0 {
		s.logger.Info("browser fetch succeeded",
			zap.String("username", req.Username), zap.Int("posts", len(posts)))
	}
	return posts
}

func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty datetime attribute")
	}
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, err
	}
	return ts, nil
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

func extractScript(selector string) string {
	return fmt.Sprintf(`(() => {
	const out = [];
	for (const el of document.querySelectorAll(%q)) {
		const a = el.querySelector('a[href*="/status/"]');
		if (!a) continue;
		const textEl = el.querySelector('[data-testid="tweetText"]');
		const timeEl = el.querySelector('time');
		out.push({
			link: a.href,
			text: textEl ? textEl.innerText : "",
			datetime: timeEl ? (timeEl.getAttribute('datetime') || "") : "",
		});
	}
	return out;
})()`, selector)
}
