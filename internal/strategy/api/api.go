// Package api implements the secondary fetch strategy: a plain HTTP fetch of
// the account page, reading the embedded timeline JSON when present and
// falling back to markup scraping.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/postwatch/postwatch/internal/monitor"
)

const defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

var embeddedDataPattern = regexp.MustCompile(
	`(?s)<script id="__NEXT_DATA__" type="application/json">(.*?)</script>`)

// Config controls the HTTP strategy.
type Config struct {
	BaseURL   string // default https://x.com
	UserAgent string
	Timeout   time.Duration // per-request, default 20s
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = "https://x.com"
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.Timeout <= 0 {
		c.Timeout = 20 * time.Second
	}
	return c
}

// Strategy fetches the profile page without a browser. The embedded data
// blob is the preferred source; rendered markup is the fallback. No
// JavaScript runs, so sparse results are expected.
type Strategy struct {
	cfg       Config
	collector *colly.Collector
	clock     monitor.Clock
	logger    *zap.Logger
}

// New builds the HTTP strategy with its own collector.
func New(cfg Config, clock monitor.Clock, logger *zap.Logger) *Strategy {
	cfg = cfg.withDefaults()
	c := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.IgnoreRobotsTxt(),
	)
	c.SetRequestTimeout(cfg.Timeout)
	return &Strategy{cfg: cfg, collector: c, clock: clock, logger: logger}
}

// Name implements monitor.Strategy.
func (s *Strategy) Name() string {
	return "api"
}

// Fetch downloads the profile page and parses posts out of it.
func (s *Strategy) Fetch(ctx context.Context, req monitor.FetchRequest) ([]monitor.Post, error) {
	body, err := s.download(ctx, fmt.Sprintf("%s/%s", s.cfg.BaseURL, req.Username))
	if err != nil {
		return nil, err
	}

	if posts := s.fromEmbeddedData(body, req); len(posts) > 0 {
		s.logger.Debug("parsed posts from embedded data",
			zap.String("username", req.Username), zap.Int("posts", len(posts)))
		return posts, nil
	}

	posts, err := s.fromMarkup(body, req)
	if err != nil {
		return nil, err
	}
	if len(posts) > 0 {
		s.logger.Debug("parsed posts from markup",
			zap.String("username", req.Username), zap.Int("posts", len(posts)))
	}
	return posts, nil
}

// download fetches one URL through the collector, honoring ctx cancellation.
func (s *Strategy) download(ctx context.Context, url string) ([]byte, error) {
	c := s.collector.Clone()

	var (
		body     []byte
		fetchErr error
	)
	c.OnResponse(func(r *colly.Response) {
		body = r.Body
	})
	c.OnError(func(r *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := c.Visit(url); err != nil && fetchErr == nil {
			fetchErr = err
		}
		c.Wait()
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: fetch %s: %v", monitor.ErrTransient, url, ctx.Err())
	case <-done:
	}
	if fetchErr != nil {
		return nil, fmt.Errorf("%w: fetch %s: %v", monitor.ErrTransient, url, fetchErr)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: fetch %s: empty response", monitor.ErrTransient, url)
	}
	return body, nil
}

// embeddedData mirrors the shape of the page's bootstrap JSON, only the
// fields the timeline needs.
type embeddedData struct {
	Props struct {
		PageProps struct {
			Timeline *timelineData `json:"timeline"`
			Profile  struct {
				Timeline *timelineData `json:"timeline"`
			} `json:"profile"`
		} `json:"pageProps"`
	} `json:"props"`
}

type timelineData struct {
	Entries []timelineEntry `json:"entries"`
}

type timelineEntry struct {
	Content struct {
		Tweet *embeddedTweet `json:"tweet"`
		Item  struct {
			Content struct {
				Tweet *embeddedTweet `json:"tweet"`
			} `json:"content"`
		} `json:"item"`
	} `json:"content"`
}

type embeddedTweet struct {
	IDStr     string `json:"id_str"`
	FullText  string `json:"full_text"`
	CreatedAt string `json:"created_at"`
}

// fromEmbeddedData pulls posts out of the page's bootstrap JSON blob.
// Returns nil when the blob is absent or holds no usable entries.
func (s *Strategy) fromEmbeddedData(body []byte, req monitor.FetchRequest) []monitor.Post {
	m := embeddedDataPattern.FindSubmatch(body)
	if m == nil {
		return nil
	}

	var data embeddedData
	if err := json.Unmarshal(m[1], &data); err != nil {
		s.logger.Warn("embedded data blob is not valid JSON",
			zap.Error(fmt.Errorf("%w: %v", monitor.ErrParse, err)))
		return nil
	}

	timeline := data.Props.PageProps.Timeline
	if timeline == nil {
		timeline = data.Props.PageProps.Profile.Timeline
	}
	if timeline == nil {
		return nil
	}

	var posts []monitor.Post
	for _, entry := range timeline.Entries {
		tweet := entry.Content.Tweet
		if tweet == nil {
			tweet = entry.Content.Item.Content.Tweet
		}
		if tweet == nil || tweet.IDStr == "" {
			continue
		}
		id, err := strconv.ParseInt(tweet.IDStr, 10, 64)
		if err != nil {
			continue
		}

		text := tweet.FullText
		if text == "" {
			text = monitor.PlaceholderBody
		}

		publishedAt, err := time.Parse(time.RubyDate, tweet.CreatedAt)
		if err != nil {
			publishedAt = s.clock.Now()
			s.logger.Warn("unparsable embedded timestamp, substituting current time",
				zap.Int64("post_id", id),
				zap.String("created_at", tweet.CreatedAt),
				zap.Error(fmt.Errorf("%w: %v", monitor.ErrParse, err)),
			)
		}

		raw, _ := json.Marshal(tweet)
		posts = append(posts, monitor.Post{
			ID:          id,
			Author:      req.Username,
			Body:        text,
			PublishedAt: publishedAt,
			URL:         monitor.CanonicalPostURL("", req.Username, id),
			RawPayload:  raw,
		})
		if req.MaxPosts > 0 && len(posts) >= req.MaxPosts {
			break
		}
	}
	return posts
}

// fromMarkup scrapes article elements out of the raw HTML. Timestamps are
// rarely present in unrendered markup, so the current time stands in.
func (s *Strategy) fromMarkup(body []byte, req monitor.FetchRequest) ([]monitor.Post, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: parse markup: %v", monitor.ErrParse, err)
	}

	var posts []monitor.Post
	doc.Find("article").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		link, _ := sel.Find(`a[href*="/status/"]`).First().Attr("href")
		id, ok := monitor.ParsePostID(link)
		if !ok {
			return true
		}

		text := strings.TrimSpace(sel.Find(`[data-testid="tweetText"]`).First().Text())
		if text == "" {
			text = strings.TrimSpace(sel.Text())
		}
		if text == "" {
			text = monitor.PlaceholderBody
		}

		posts = append(posts, monitor.Post{
			ID:          id,
			Author:      req.Username,
			Body:        text,
			PublishedAt: s.clock.Now(),
			URL:         monitor.CanonicalPostURL(link, req.Username, id),
		})
		return req.MaxPosts <= 0 || len(posts) < req.MaxPosts
	})
	return posts, nil
}
