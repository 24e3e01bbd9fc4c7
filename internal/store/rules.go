package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// UpsertRule inserts or replaces a rule row
func (d *DB) UpsertRule(ctx context.Context, rule Rule) error {
	patterns, err := json.Marshal(rule.ExcludePatterns)
	if err != nil {
		return fmt.Errorf("failed to encode exclude patterns: %w", err)
	}

	var lastSyncAt sql.NullInt64
	if !rule.LastSyncAt.IsZero() {
		lastSyncAt = sql.NullInt64{Int64: rule.LastSyncAt.UnixMilli(), Valid: true}
	}

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO sync_rules (
			id, profile_id, bucket, prefix, local_path, direction, conflict_policy,
			poll_interval_ms, exclude_patterns, enabled, last_sync_at, last_sync_status, last_sync_error, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			profile_id=excluded.profile_id,
			bucket=excluded.bucket,
			prefix=excluded.prefix,
			local_path=excluded.local_path,
			direction=excluded.direction,
			conflict_policy=excluded.conflict_policy,
			poll_interval_ms=excluded.poll_interval_ms,
			exclude_patterns=excluded.exclude_patterns,
			enabled=excluded.enabled,
			last_sync_at=excluded.last_sync_at,
			last_sync_status=excluded.last_sync_status,
			last_sync_error=excluded.last_sync_error
	`, rule.ID, rule.ProfileID, rule.Bucket, rule.Prefix, rule.LocalPath, string(rule.Direction),
		rule.ConflictPolicy, rule.PollInterval.Milliseconds(), string(patterns), boolToInt(rule.Enabled),
		lastSyncAt, string(rule.LastSyncStatus), rule.LastSyncError, rule.CreatedAt.UnixMilli())
	return err
}

// GetRule returns the rule with the given ID, or ErrRuleNotFound
func (d *DB) GetRule(ctx context.Context, id string) (*Rule, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, profile_id, bucket, prefix, local_path, direction, conflict_policy,
		       poll_interval_ms, exclude_patterns, enabled, last_sync_at, last_sync_status, last_sync_error, created_at
		FROM sync_rules WHERE id = ?
	`, id)
	rule, err := scanRule(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRuleNotFound
		}
		return nil, err
	}
	return &rule, nil
}

// ListRules returns all rules ordered by creation time
func (d *DB) ListRules(ctx context.Context) (rules []Rule, err error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, profile_id, bucket, prefix, local_path, direction, conflict_policy,
		       poll_interval_ms, exclude_patterns, enabled, last_sync_at, last_sync_status, last_sync_error, created_at
		FROM sync_rules ORDER BY created_at, id
	`)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rules, nil
}

// DeleteRule removes a rule together with its baseline and conflict records
func (d *DB) DeleteRule(ctx context.Context, id string) (err error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM file_records WHERE rule_id = ?`, id); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM conflict_records WHERE rule_id = ?`, id); err != nil {
		return err
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM sync_rules WHERE id = ?`, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrRuleNotFound
	}
	return tx.Commit()
}

// SetRuleEnabled toggles a rule on or off
func (d *DB) SetRuleEnabled(ctx context.Context, id string, enabled bool) error {
	result, err := d.db.ExecContext(ctx, `UPDATE sync_rules SET enabled = ? WHERE id = ?`, boolToInt(enabled), id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// UpdateRuleResult records the outcome of the last reconciliation
func (d *DB) UpdateRuleResult(ctx context.Context, id string, status SyncStatus, syncErr string) error {
	result, err := d.db.ExecContext(ctx, `
		UPDATE sync_rules SET last_sync_at = ?, last_sync_status = ?, last_sync_error = ? WHERE id = ?
	`, time.Now().UnixMilli(), string(status), syncErr, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrRuleNotFound
	}
	return nil
}

func scanRule(scanner interface {
	Scan(dest ...interface{}) error
}) (Rule, error) {
	var rule Rule
	var direction string
	var patterns sql.NullString
	var lastSyncAt sql.NullInt64
	var lastSyncStatus, lastSyncError sql.NullString
	var enabled int
	var pollMs, createdAt int64

	err := scanner.Scan(&rule.ID, &rule.ProfileID, &rule.Bucket, &rule.Prefix, &rule.LocalPath,
		&direction, &rule.ConflictPolicy, &pollMs, &patterns, &enabled,
		&lastSyncAt, &lastSyncStatus, &lastSyncError, &createdAt)
	if err != nil {
		return Rule{}, err
	}

	rule.Direction = Direction(direction)
	rule.PollInterval = time.Duration(pollMs) * time.Millisecond
	rule.Enabled = enabled != 0
	rule.CreatedAt = time.UnixMilli(createdAt)
	if patterns.Valid && patterns.String != "" {
		if err := json.Unmarshal([]byte(patterns.String), &rule.ExcludePatterns); err != nil {
			return Rule{}, fmt.Errorf("failed to decode exclude patterns: %w", err)
		}
	}
	if lastSyncAt.Valid {
		rule.LastSyncAt = time.UnixMilli(lastSyncAt.Int64)
	}
	if lastSyncStatus.Valid {
		rule.LastSyncStatus = SyncStatus(lastSyncStatus.String)
	}
	if lastSyncError.Valid {
		rule.LastSyncError = lastSyncError.String
	}
	return rule, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
