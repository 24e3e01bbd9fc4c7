package store

import (
	"context"
	"database/sql"
	"time"
)

// ListRecords returns the full baseline for a rule keyed by relative path
func (d *DB) ListRecords(ctx context.Context, ruleID string) (records map[string]FileRecord, err error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT rule_id, relative_path, local_mtime_ms, local_size, remote_etag, remote_mtime_ms, remote_size, synced_at
		FROM file_records WHERE rule_id = ?
	`, ruleID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	records = make(map[string]FileRecord)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records[record.RelativePath] = record
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// GetRecord returns the baseline record for one path, or nil if absent
func (d *DB) GetRecord(ctx context.Context, ruleID, relPath string) (*FileRecord, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT rule_id, relative_path, local_mtime_ms, local_size, remote_etag, remote_mtime_ms, remote_size, synced_at
		FROM file_records WHERE rule_id = ? AND relative_path = ?
	`, ruleID, relPath)
	record, err := scanRecord(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// UpsertRecord atomically writes the baseline for one path. Called only after
// the operation for that path succeeded; failed paths keep their old row.
func (d *DB) UpsertRecord(ctx context.Context, record FileRecord) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO file_records (
			rule_id, relative_path, local_mtime_ms, local_size, remote_etag, remote_mtime_ms, remote_size, synced_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(rule_id, relative_path) DO UPDATE SET
			local_mtime_ms=excluded.local_mtime_ms,
			local_size=excluded.local_size,
			remote_etag=excluded.remote_etag,
			remote_mtime_ms=excluded.remote_mtime_ms,
			remote_size=excluded.remote_size,
			synced_at=excluded.synced_at
	`, record.RuleID, record.RelativePath, record.LocalMTime, record.LocalSize,
		record.RemoteETag, record.RemoteLastModified, record.RemoteSize, record.SyncedAt.UnixMilli())
	return err
}

// DeleteRecord drops the baseline row for one path
func (d *DB) DeleteRecord(ctx context.Context, ruleID, relPath string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM file_records WHERE rule_id = ? AND relative_path = ?`, ruleID, relPath)
	return err
}

// DeleteRecords drops the entire baseline for a rule
func (d *DB) DeleteRecords(ctx context.Context, ruleID string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM file_records WHERE rule_id = ?`, ruleID)
	return err
}

func scanRecord(scanner interface {
	Scan(dest ...interface{}) error
}) (FileRecord, error) {
	var record FileRecord
	var syncedAt int64
	err := scanner.Scan(&record.RuleID, &record.RelativePath, &record.LocalMTime, &record.LocalSize,
		&record.RemoteETag, &record.RemoteLastModified, &record.RemoteSize, &syncedAt)
	if err != nil {
		return FileRecord{}, err
	}
	record.SyncedAt = time.UnixMilli(syncedAt)
	return record, nil
}
