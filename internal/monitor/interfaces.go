package monitor

import (
	"context"
	"time"
)

// Strategy is one concrete technique for retrieving posts for an account.
// A returned error is a fault value for the caller to log and route around;
// strategies never panic and never abort the polling cycle.
type Strategy interface {
	Name() string
	Fetch(ctx context.Context, req FetchRequest) ([]Post, error)
}

// Store is the slice of the persistence contract the poller consumes.
type Store interface {
	Upsert(ctx context.Context, post Post) error
}

// Dispatcher delivers a notification for one qualifying post. Failures are
// logged by the caller and never retried.
type Dispatcher interface {
	Notify(ctx context.Context, title, body, url string) error
}

// CursorStore persists the advanced per-account cursor, once per cycle.
type CursorStore interface {
	SaveCursor(username string, id int64) error
}

// Clock returns the current time (injectable for staleness tests).
type Clock interface {
	Now() time.Time
}
