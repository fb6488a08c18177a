package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/postwatch/postwatch/internal/metrics"
)

// PostFetcher is the orchestrator surface the poller depends on.
type PostFetcher interface {
	Fetch(ctx context.Context, username string, maxPosts int) []Post
}

// PollerConfig controls cycle cadence and fan-out.
type PollerConfig struct {
	Interval    time.Duration // between loop iterations
	MaxPosts    int           // per fetch
	NotifyCap   int           // notifications per cycle per account
	Tick        time.Duration // sleep slice, bounds cancellation latency
	StopTimeout time.Duration // join timeout on Stop
	BodyLimit   int           // notification body truncation, in runes
}

func (c PollerConfig) withDefaults() PollerConfig {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if c.MaxPosts <= 0 {
		c.MaxPosts = 10
	}
	if c.NotifyCap <= 0 {
		c.NotifyCap = 3
	}
	if c.Tick <= 0 {
		c.Tick = 10 * time.Second
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 30 * time.Second
	}
	if c.BodyLimit <= 0 {
		c.BodyLimit = 200
	}
	return c
}

// Poller drives one polling cycle per account on a timer. Accounts are
// polled sequentially: the browser session and the store connection are
// single-owner resources and are never shared across concurrent cycles.
type Poller struct {
	fetcher    PostFetcher
	store      Store
	dispatcher Dispatcher
	cursors    CursorStore
	clock      Clock
	logger     *zap.Logger
	cfg        PollerConfig
	accounts   []Account

	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller constructs a Poller over the given accounts. The accounts slice
// is owned by the poller afterwards; cursor state is mutated in place.
func NewPoller(
	fetcher PostFetcher,
	store Store,
	dispatcher Dispatcher,
	cursors CursorStore,
	clock Clock,
	accounts []Account,
	cfg PollerConfig,
	logger *zap.Logger,
) *Poller {
	return &Poller{
		fetcher:    fetcher,
		store:      store,
		dispatcher: dispatcher,
		cursors:    cursors,
		clock:      clock,
		logger:     logger,
		cfg:        cfg.withDefaults(),
		accounts:   accounts,
	}
}

// Run blocks, polling all accounts each iteration until ctx is canceled.
func (p *Poller) Run(ctx context.Context) {
	for {
		for i := range p.accounts {
			if ctx.Err() != nil {
				return
			}
			if err := p.CheckAccount(ctx, &p.accounts[i]); err != nil {
				metrics.ObserveCycle("error")
				p.logger.Error("account cycle failed",
					zap.String("username", p.accounts[i].Username),
					zap.Error(err),
				)
			}
		}
		if !p.sleep(ctx) {
			return
		}
	}
}

// Start launches Run on a background goroutine.
func (p *Poller) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	p.cancel = cancel
	p.done = make(chan struct{})
	go func() {
		defer close(p.done)
		p.Run(ctx)
	}()
	usernames := make([]string, len(p.accounts))
	for i, a := range p.accounts {
		usernames[i] = "@" + a.Username
	}
	p.logger.Info("monitor started",
		zap.String("accounts", strings.Join(usernames, ", ")),
		zap.Duration("interval", p.cfg.Interval),
	)
}

// Stop cancels the loop and joins it with a bounded timeout. A loop that
// does not exit in time is logged and abandoned; shutdown is best-effort.
func (p *Poller) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	select {
	case <-p.done:
		p.logger.Info("monitor stopped")
	case <-time.After(p.cfg.StopTimeout):
		p.logger.Warn("monitor loop did not stop within timeout",
			zap.Duration("timeout", p.cfg.StopTimeout))
	}
}

// CheckAccount runs one full cycle for a single account: fetch, compare
// against the cursor, persist new posts, notify (capped), advance and save
// the cursor. Every failure inside the cycle is contained here.
func (p *Poller) CheckAccount(ctx context.Context, acct *Account) error {
	log := p.logger.With(
		zap.String("cycle_id", uuid.NewString()),
		zap.String("username", acct.Username),
	)

	posts := p.fetcher.Fetch(ctx, acct.Username, p.cfg.MaxPosts)
	if len(posts) == 0 {
		metrics.ObserveCycle("empty")
		log.Warn("no posts retrieved this cycle")
		return nil
	}
	newest := posts[0].ID

	// First-ever poll: record a baseline cursor and suppress everything else.
	if acct.Cursor == nil {
		log.Info("first poll, recording baseline cursor", zap.Int64("cursor", newest))
		acct.Cursor = &newest
		if err := p.cursors.SaveCursor(acct.Username, newest); err != nil {
			return fmt.Errorf("save baseline cursor: %w", err)
		}
		metrics.ObserveCycle("ok")
		return nil
	}

	cursor := *acct.Cursor
	var fresh []Post
	for _, post := range posts {
		if post.ID > cursor {
			fresh = append(fresh, post)
		}
	}

	if len(fresh) > 0 {
		log.Info("new posts found", zap.Int("count", len(fresh)), zap.Int64("cursor", cursor))
		p.persist(ctx, fresh, acct.Username, log)
		p.notify(ctx, fresh, acct.Username, log)
	} else {
		log.Debug("no new posts", zap.Int64("cursor", cursor))
	}

	// The cursor is a forward-only watermark: advance it even when nothing
	// was new, so a strategy replaying an already-seen set cannot move it
	// backwards, and save it once per cycle after persist and notify.
	if newest > cursor {
		acct.Cursor = &newest
		if err := p.cursors.SaveCursor(acct.Username, newest); err != nil {
			return fmt.Errorf("save cursor: %w", err)
		}
	}
	metrics.ObserveCycle("ok")
	return nil
}

// persist upserts every new post before any notification goes out, so a
// crash between the two loses at most a duplicate notification, never data.
func (p *Poller) persist(ctx context.Context, fresh []Post, username string, log *zap.Logger) {
	for i := range fresh {
		if fresh[i].Author == "" {
			fresh[i].Author = username
		}
		if err := p.store.Upsert(ctx, fresh[i]); err != nil {
			metrics.ObservePersist(false)
			log.Error("persist post failed", zap.Int64("post_id", fresh[i].ID), zap.Error(err))
			continue
		}
		metrics.ObservePersist(true)
	}
}

// notify dispatches at most NotifyCap notifications, newest first. A failed
// dispatch is logged and forgotten.
func (p *Poller) notify(ctx context.Context, fresh []Post, username string, log *zap.Logger) {
	limit := p.cfg.NotifyCap
	if len(fresh) < limit {
		limit = len(fresh)
	}
	for _, post := range fresh[:limit] {
		title := fmt.Sprintf("@%s posted", username)
		if err := p.dispatcher.Notify(ctx, title, p.notifyBody(post), post.URL); err != nil {
			metrics.ObserveNotification(false)
			log.Warn("notification dispatch failed", zap.Int64("post_id", post.ID), zap.Error(err))
			continue
		}
		metrics.ObserveNotification(true)
		log.Info("notification sent", zap.Int64("post_id", post.ID))
	}
}

func (p *Poller) notifyBody(post Post) string {
	body := strings.TrimSpace(post.Body)
	if body == "" {
		body = PlaceholderBody
	}
	if runes := []rune(body); len(runes) > p.cfg.BodyLimit {
		body = string(runes[:p.cfg.BodyLimit]) + "..."
	}
	return fmt.Sprintf("%s\n\nPublished: %s", body, post.PublishedAt.Format("2006-01-02 15:04:05"))
}

// sleep waits out the configured interval in small slices so cancellation
// is observed within one tick. Returns false when ctx ended.
func (p *Poller) sleep(ctx context.Context) bool {
	remaining := p.cfg.Interval
	for remaining > 0 {
		slice := p.cfg.Tick
		if remaining < slice {
			slice = remaining
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(slice):
		}
		remaining -= slice
	}
	return true
}
