package monitor

import (
	"context"
	"sync"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

type fakeStrategy struct {
	name string
	fn   func(req FetchRequest) ([]Post, error)

	mu    sync.Mutex
	calls []FetchRequest
}

func (s *fakeStrategy) Name() string {
	return s.name
}

func (s *fakeStrategy) Fetch(_ context.Context, req FetchRequest) ([]Post, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	s.mu.Unlock()
	return s.fn(req)
}

func (s *fakeStrategy) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type fakeFetcher struct {
	batches [][]Post

	mu    sync.Mutex
	calls int
}

func (f *fakeFetcher) Fetch(_ context.Context, _ string, _ int) []Post {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls >= len(f.batches) {
		f.calls++
		return nil
	}
	batch := f.batches[f.calls]
	f.calls++
	return batch
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeStore struct {
	mu      sync.Mutex
	upserts []Post
	failIDs map[int64]error
}

func (s *fakeStore) Upsert(_ context.Context, post Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.failIDs[post.ID]; ok {
		return err
	}
	s.upserts = append(s.upserts, post)
	return nil
}

type sentNotification struct {
	Title string
	Body  string
	URL   string
}

type fakeDispatcher struct {
	mu   sync.Mutex
	sent []sentNotification
	err  error
}

func (d *fakeDispatcher) Notify(_ context.Context, title, body, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, sentNotification{Title: title, Body: body, URL: url})
	return nil
}

type cursorSave struct {
	Username string
	ID       int64
}

type fakeCursorStore struct {
	mu    sync.Mutex
	saves []cursorSave
	err   error
}

func (c *fakeCursorStore) SaveCursor(username string, id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.saves = append(c.saves, cursorSave{Username: username, ID: id})
	return nil
}
