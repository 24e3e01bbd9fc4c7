package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// ErrRuleNotFound is returned when a rule ID has no row
var ErrRuleNotFound = errors.New("sync rule not found")

// ErrProfileNotFound is returned when a profile ID has no row
var ErrProfileNotFound = errors.New("profile not found")

// DB is the durable store for rules, baselines, conflicts and profiles
type DB struct {
	db *sql.DB
}

// Open opens (creating if needed) the sqlite database at path
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	instance := &DB{db: db}
	if err := instance.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return instance, nil
}

func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

func (d *DB) Migrate(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, schemaSQL)
	return err
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS sync_rules (
	id TEXT PRIMARY KEY,
	profile_id TEXT NOT NULL,
	bucket TEXT NOT NULL,
	prefix TEXT NOT NULL DEFAULT '',
	local_path TEXT NOT NULL,
	direction TEXT NOT NULL,
	conflict_policy TEXT NOT NULL,
	poll_interval_ms INTEGER NOT NULL,
	exclude_patterns TEXT,
	enabled INTEGER NOT NULL DEFAULT 0,
	last_sync_at INTEGER,
	last_sync_status TEXT,
	last_sync_error TEXT,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS file_records (
	rule_id TEXT NOT NULL,
	relative_path TEXT NOT NULL,
	local_mtime_ms INTEGER NOT NULL,
	local_size INTEGER NOT NULL,
	remote_etag TEXT NOT NULL,
	remote_mtime_ms INTEGER NOT NULL,
	remote_size INTEGER NOT NULL,
	synced_at INTEGER NOT NULL,
	PRIMARY KEY (rule_id, relative_path),
	FOREIGN KEY (rule_id) REFERENCES sync_rules(id)
);

CREATE TABLE IF NOT EXISTS conflict_records (
	rule_id TEXT NOT NULL,
	relative_path TEXT NOT NULL,
	reason TEXT NOT NULL,
	local_size INTEGER NOT NULL,
	local_mtime_ms INTEGER NOT NULL,
	remote_size INTEGER NOT NULL,
	remote_etag TEXT NOT NULL,
	remote_mtime_ms INTEGER NOT NULL,
	detected_at INTEGER NOT NULL,
	PRIMARY KEY (rule_id, relative_path)
);

CREATE TABLE IF NOT EXISTS profiles (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	provider TEXT NOT NULL,
	endpoint TEXT,
	region TEXT,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_file_records_rule ON file_records(rule_id);
CREATE INDEX IF NOT EXISTS idx_conflict_records_rule ON conflict_records(rule_id);
`
