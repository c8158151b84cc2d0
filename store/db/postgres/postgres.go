package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	// Import the PostgreSQL driver.
	_ "github.com/lib/pq"

	"github.com/prochat/prochat/internal/profile"
	"github.com/prochat/prochat/store"
)

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens a PostgreSQL connection behind the profile DSN.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.DSN == "" {
		return nil, fmt.Errorf("dsn required")
	}

	pgDB, err := sql.Open("postgres", profile.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	driver := DB{db: pgDB, profile: profile}
	return &driver, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

// placeholder returns $n for the n-th query argument.
func placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}

// placeholders returns "$1, $2, ..., $n".
func placeholders(n int) string {
	list := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		list = append(list, placeholder(i))
	}
	return strings.Join(list, ", ")
}

func marshalJSON(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal json column: %w", err)
	}
	return string(raw), nil
}

var schema = `
CREATE TABLE IF NOT EXISTS thread (
	id SERIAL PRIMARY KEY,
	uid TEXT NOT NULL UNIQUE,
	title TEXT NOT NULL DEFAULT '',
	title_source TEXT NOT NULL DEFAULT 'default',
	created_ts BIGINT NOT NULL,
	updated_ts BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS message (
	id BIGSERIAL PRIMARY KEY,
	uid TEXT NOT NULL UNIQUE,
	thread_id INTEGER NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL DEFAULT '',
	model_id TEXT NOT NULL DEFAULT '',
	trace TEXT NOT NULL DEFAULT '[]',
	sources TEXT NOT NULL DEFAULT '[]',
	prompt_tokens INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	total_cost DOUBLE PRECISION NOT NULL DEFAULT 0,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	created_ts BIGINT NOT NULL,
	updated_ts BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_message_thread_id ON message (thread_id);

CREATE TABLE IF NOT EXISTS attachment (
	id SERIAL PRIMARY KEY,
	uid TEXT NOT NULL UNIQUE,
	thread_id INTEGER NOT NULL,
	message_id BIGINT,
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
	input_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
	output_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
	max_tokens INTEGER NOT NULL DEFAULT 0,
	enabled BOOLEAN NOT NULL DEFAULT TRUE,
	created_ts BIGINT NOT NULL,
	updated_ts BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS active_stream (
	id TEXT PRIMARY KEY,
	thread_id INTEGER NOT NULL,
	user_message_id BIGINT NOT NULL,
	assistant_message_id BIGINT,
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
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
