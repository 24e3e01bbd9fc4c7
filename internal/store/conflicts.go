package store

import (
	"context"
	"time"
)

// UpsertConflict records (or refreshes) an unresolved conflict for a path
func (d *DB) UpsertConflict(ctx context.Context, record ConflictRecord) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO conflict_records (
			rule_id, relative_path, reason, local_size, local_mtime_ms, remote_size, remote_etag, remote_mtime_ms, detected_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(rule_id, relative_path) DO UPDATE SET
			reason=excluded.reason,
			local_size=excluded.local_size,
			local_mtime_ms=excluded.local_mtime_ms,
			remote_size=excluded.remote_size,
			remote_etag=excluded.remote_etag,
			remote_mtime_ms=excluded.remote_mtime_ms,
			detected_at=excluded.detected_at
	`, record.RuleID, record.RelativePath, record.Reason, record.LocalSize, record.LocalMTime,
		record.RemoteSize, record.RemoteETag, record.RemoteLastModified, record.DetectedAt.UnixMilli())
	return err
}

// ListConflicts returns unresolved conflicts; ruleID == "" lists all rules
func (d *DB) ListConflicts(ctx context.Context, ruleID string) (records []ConflictRecord, err error) {
	query := `
		SELECT rule_id, relative_path, reason, local_size, local_mtime_ms, remote_size, remote_etag, remote_mtime_ms, detected_at
		FROM conflict_records`
	args := []interface{}{}
	if ruleID != "" {
		query += ` WHERE rule_id = ?`
		args = append(args, ruleID)
	}
	query += ` ORDER BY rule_id, relative_path`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	for rows.Next() {
		var record ConflictRecord
		var detectedAt int64
		if err := rows.Scan(&record.RuleID, &record.RelativePath, &record.Reason,
			&record.LocalSize, &record.LocalMTime, &record.RemoteSize,
			&record.RemoteETag, &record.RemoteLastModified, &detectedAt); err != nil {
			return nil, err
		}
		record.DetectedAt = time.UnixMilli(detectedAt)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// DeleteConflict clears the conflict record for one path
func (d *DB) DeleteConflict(ctx context.Context, ruleID, relPath string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM conflict_records WHERE rule_id = ? AND relative_path = ?`, ruleID, relPath)
	return err
}

// ClearConflicts removes conflict records; ruleID == "" clears all rules
func (d *DB) ClearConflicts(ctx context.Context, ruleID string) error {
	if ruleID == "" {
		_, err := d.db.ExecContext(ctx, `DELETE FROM conflict_records`)
		return err
	}
	_, err := d.db.ExecContext(ctx, `DELETE FROM conflict_records WHERE rule_id = ?`, ruleID)
	return err
}
