package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/prochat/prochat/internal/profile"
	"github.com/prochat/prochat/store"
)

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens the SQLite database behind the profile DSN.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	// WAL journal mode avoids reader/writer lock contention during
	// debounced stream flushes; busy_timeout covers the rare overlap.
	sqliteDB, err := sql.Open("sqlite", profile.DSN+"?_pragma=foreign_keys(0)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}

	// A single connection is optimal for SQLite with WAL.
	sqliteDB.SetMaxOpenConns(1)
	sqliteDB.SetMaxIdleConns(1)
	sqliteDB.SetConnMaxLifetime(0)
	sqliteDB.SetConnMaxIdleTime(0)

	driver := DB{db: sqliteDB, profile: profile}
	return &driver, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

var schema = `
CREATE TABLE IF NOT EXISTS thread (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	uid TEXT NOT NULL UNIQUE,
	title TEXT NOT NULL DEFAULT '',
	title_source TEXT NOT NULL DEFAULT 'default',
	created_ts BIGINT NOT NULL,
	updated_ts BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS message (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	uid TEXT NOT NULL UNIQUE,
	thread_id INTEGER NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL DEFAULT '',
	model_id TEXT NOT NULL DEFAULT '',
	trace TEXT NOT NULL DEFAULT '[]',
	sources TEXT NOT NULL DEFAULT '[]',
	prompt_tokens INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	total_cost REAL NOT NULL DEFAULT 0,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	created_ts BIGINT NOT NULL,
	updated_ts BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_message_thread_id ON message (thread_id);

CREATE TABLE IF NOT EXISTS attachment (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	uid TEXT NOT NULL UNIQUE,
	thread_id INTEGER NOT NULL,
	message_id INTEGER,
	filename TEXT NOT NULL DEFAULT '',
	type TEXT NOT NULL DEFAULT '',
	size BIGINT NOT NULL DEFAULT 0,
	extracted_text TEXT NOT NULL DEFAULT '',
	created_ts BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_attachment_thread_id ON attachment (thread_id);

CREATE TABLE IF NOT EXISTS chat_model (
	id TEXT PRIMARY KEY,
	display_name TEXT NOT NULL DEFAULT '',
	provider TEXT NOT NULL DEFAULT '',
	model TEXT NOT NULL DEFAULT '',
	input_rate REAL NOT NULL DEFAULT 0,
	output_rate REAL NOT NULL DEFAULT 0,
	max_tokens INTEGER NOT NULL DEFAULT 0,
	enabled BOOLEAN NOT NULL DEFAULT TRUE,
	created_ts BIGINT NOT NULL,
	updated_ts BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS active_stream (
	id TEXT PRIMARY KEY,
	thread_id INTEGER NOT NULL,
	user_message_id INTEGER NOT NULL,
	assistant_message_id INTEGER,
	status TEXT NOT NULL,
	partial_content TEXT NOT NULL DEFAULT '',
	partial_trace TEXT NOT NULL DEFAULT '[]',
	model_id TEXT NOT NULL DEFAULT '',
	thinking_level TEXT NOT NULL DEFAULT '',
	started_ts BIGINT NOT NULL,
	last_activity_ts BIGINT NOT NULL,
	completed_ts BIGINT
);
CREATE INDEX IF NOT EXISTS idx_active_stream_thread_id ON active_stream (thread_id);
CREATE INDEX IF NOT EXISTS idx_active_stream_status ON active_stream (status);
`

// Migrate applies the latest schema. Statements are idempotent.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "failed to apply schema")
	}
	return nil
}
