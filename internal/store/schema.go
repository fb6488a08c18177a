package store

const schema = `
CREATE TABLE IF NOT EXISTS posts (
	id           INTEGER PRIMARY KEY,
	author       TEXT NOT NULL,
	body         TEXT NOT NULL,
	published_at TEXT,
	url          TEXT,
	created_at   TEXT NOT NULL,
	raw_payload  TEXT,
	processed    INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_posts_author       ON posts (author);
CREATE INDEX IF NOT EXISTS idx_posts_published_at ON posts (published_at);
CREATE INDEX IF NOT EXISTS idx_posts_processed    ON posts (processed);
`
