// Package store persists posts in a local SQLite database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/postwatch/postwatch/internal/monitor"
)

// Store wraps the SQLite handle. It is safe for concurrent use; SQLite
// serializes writers internally.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// ListFilter narrows List results. Nil Processed means both states.
type ListFilter struct {
	Author    string
	Processed *bool
	Limit     int
	Offset    int
}

// Stats is an aggregate snapshot of the posts table.
type Stats struct {
	TotalPosts       int            `json:"total_posts"`
	DistinctAuthors  int            `json:"distinct_authors"`
	ProcessedCount   int            `json:"processed_count"`
	UnprocessedCount int            `json:"unprocessed_count"`
	Earliest         *time.Time     `json:"earliest,omitempty"`
	Latest           *time.Time     `json:"latest,omitempty"`
	CountsByAuthor   map[string]int `json:"counts_by_author"`
}

// Open creates the database file (and its directory) if needed and applies
// the schema.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	logger.Info("database ready", zap.String("path", path))
	return &Store{db: db, logger: logger}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert inserts a post or, on id conflict, refreshes the mutable columns.
// created_at and processed keep their original values on update.
func (s *Store) Upsert(ctx context.Context, post monitor.Post) error {
	const query = `
INSERT INTO posts (id, author, body, published_at, url, created_at, raw_payload, processed)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	author       = excluded.author,
	body         = excluded.body,
	published_at = excluded.published_at,
	url          = excluded.url,
	raw_payload  = excluded.raw_payload
`
	var raw any
	if len(post.RawPayload) > 0 {
		raw = string(post.RawPayload)
	}
	_, err := s.db.ExecContext(ctx, query,
		post.ID,
		post.Author,
		post.Body,
		formatTime(post.PublishedAt),
		post.URL,
		formatTime(time.Now().UTC()),
		raw,
		boolToInt(post.Processed),
	)
	if err != nil {
		return fmt.Errorf("%w: upsert post %d: %v", monitor.ErrPersistence, post.ID, err)
	}
	return nil
}

// GetByID loads one post. The second return is false when the id is unknown.
func (s *Store) GetByID(ctx context.Context, id int64) (monitor.Post, bool, error) {
	const query = `
SELECT id, author, body, published_at, url, raw_payload, processed
FROM posts WHERE id = ?
`
	post, err := scanPost(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return monitor.Post{}, false, nil
	}
	if err != nil {
		return monitor.Post{}, false, fmt.Errorf("%w: get post %d: %v", monitor.ErrPersistence, id, err)
	}
	return post, true, nil
}

// List returns posts newest-first, optionally filtered.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]monitor.Post, error) {
	var (
		conds []string
		args  []any
	)
	if filter.Author != "" {
		conds = append(conds, "author = ?")
		args = append(args, filter.Author)
	}
	if filter.Processed != nil {
		conds = append(conds, "processed = ?")
		args = append(args, boolToInt(*filter.Processed))
	}

	query := "SELECT id, author, body, published_at, url, raw_payload, processed FROM posts"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY published_at DESC, id DESC"
	query += fmt.Sprintf(" LIMIT %d OFFSET %d", normalizeLimit(filter.Limit), max(filter.Offset, 0))

	return s.queryPosts(ctx, query, args...)
}

// Search returns posts whose body contains the keyword, newest-first.
func (s *Store) Search(ctx context.Context, keyword, author string, limit, offset int) ([]monitor.Post, error) {
	query := "SELECT id, author, body, published_at, url, raw_payload, processed FROM posts WHERE body LIKE ?"
	args := []any{"%" + keyword + "%"}
	if author != "" {
		query += " AND author = ?"
		args = append(args, author)
	}
	query += " ORDER BY published_at DESC, id DESC"
	query += fmt.Sprintf(" LIMIT %d OFFSET %d", normalizeLimit(limit), max(offset, 0))

	return s.queryPosts(ctx, query, args...)
}

// MarkProcessed flips the processed flag on one post.
func (s *Store) MarkProcessed(ctx context.Context, id int64, processed bool) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE posts SET processed = ? WHERE id = ?", boolToInt(processed), id)
	if err != nil {
		return fmt.Errorf("%w: mark post %d: %v", monitor.ErrPersistence, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: mark post %d: no such post", monitor.ErrPersistence, id)
	}
	return nil
}

// GetStats computes aggregate counts over the posts table.
func (s *Store) GetStats(ctx context.Context) (Stats, error) {
	stats := Stats{CountsByAuthor: map[string]int{}}

	var earliest, latest sql.NullString
	err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*),
       COUNT(DISTINCT author),
       COALESCE(SUM(processed), 0),
       MIN(published_at),
       MAX(published_at)
FROM posts
`).Scan(&stats.TotalPosts, &stats.DistinctAuthors, &stats.ProcessedCount, &earliest, &latest)
	if err != nil {
		return Stats{}, fmt.Errorf("%w: stats: %v", monitor.ErrPersistence, err)
	}
	stats.UnprocessedCount = stats.TotalPosts - stats.ProcessedCount
	if earliest.Valid {
		if t, err := parseTime(earliest.String); err == nil {
			stats.Earliest = &t
		}
	}
	if latest.Valid {
		if t, err := parseTime(latest.String); err == nil {
			stats.Latest = &t
		}
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT author, COUNT(*) FROM posts GROUP BY author ORDER BY COUNT(*) DESC")
	if err != nil {
		return Stats{}, fmt.Errorf("%w: stats by author: %v", monitor.ErrPersistence, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			author string
			count  int
		)
		if err := rows.Scan(&author, &count); err != nil {
			return Stats{}, fmt.Errorf("%w: stats by author: %v", monitor.ErrPersistence, err)
		}
		stats.CountsByAuthor[author] = count
	}
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("%w: stats by author: %v", monitor.ErrPersistence, err)
	}
	return stats, nil
}

func (s *Store) queryPosts(ctx context.Context, query string, args ...any) ([]monitor.Post, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query posts: %v", monitor.ErrPersistence, err)
	}
	defer rows.Close()

	var posts []monitor.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan post: %v", monitor.ErrPersistence, err)
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate posts: %v", monitor.ErrPersistence, err)
	}
	return posts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (monitor.Post, error) {
	var (
		post        monitor.Post
		publishedAt sql.NullString
		url         sql.NullString
		raw         sql.NullString
		processed   int
	)
	err := row.Scan(&post.ID, &post.Author, &post.Body, &publishedAt, &url, &raw, &processed)
	if err != nil {
		return monitor.Post{}, err
	}
	if publishedAt.Valid {
		if t, perr := parseTime(publishedAt.String); perr == nil {
			post.PublishedAt = t
		}
	}
	post.URL = url.String
	if raw.Valid && raw.String != "" {
		post.RawPayload = json.RawMessage(raw.String)
	}
	post.Processed = processed != 0
	return post, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}
