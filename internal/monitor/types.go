// Package monitor defines the core domain types and the polling pipeline:
// fetch strategies, the strategy orchestrator, and the per-account poller.
package monitor

import (
	"encoding/json"
	"time"
)

// Post is one platform-issued content item. ID is the authoritative ordering
// key; PublishedAt is best-effort and may have been synthesized from the
// local clock when the source timestamp was absent or unparsable.
type Post struct {
	ID          int64           `json:"id"`
	Author      string          `json:"author"`
	Body        string          `json:"body"`
	PublishedAt time.Time       `json:"published_at"`
	URL         string          `json:"url"`
	RawPayload  json.RawMessage `json:"raw_payload,omitempty"`
	Processed   bool            `json:"processed"`
}

// Account is one monitored handle. Cursor is the highest post ID already
// processed; nil means the account has never been polled. Once set it only
// moves forward.
type Account struct {
	Username string
	Cursor   *int64
}

// FetchRequest captures everything a strategy needs for one fetch attempt.
// ForceRefresh asks browser-backed strategies to bypass caches and reload
// the page before reading it; other strategies ignore it.
type FetchRequest struct {
	Username     string
	MaxPosts     int
	ForceRefresh bool
}

// PlaceholderBody substitutes for posts whose text node could not be read.
const PlaceholderBody = "[no text content]"
