package store

import (
	"context"
	"database/sql"
	"time"
)

// UpsertProfile inserts or replaces a remote store profile
func (d *DB) UpsertProfile(ctx context.Context, profile Profile) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO profiles (id, name, provider, endpoint, region, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name,
			provider=excluded.provider,
			endpoint=excluded.endpoint,
			region=excluded.region
	`, profile.ID, profile.Name, profile.Provider, profile.Endpoint, profile.Region, profile.CreatedAt.UnixMilli())
	return err
}

// GetProfile returns the profile with the given ID, or ErrProfileNotFound
func (d *DB) GetProfile(ctx context.Context, id string) (*Profile, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, name, provider, endpoint, region, created_at FROM profiles WHERE id = ?
	`, id)
	var profile Profile
	var endpoint, region sql.NullString
	var createdAt int64
	if err := row.Scan(&profile.ID, &profile.Name, &profile.Provider, &endpoint, &region, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}
	profile.Endpoint = endpoint.String
	profile.Region = region.String
	profile.CreatedAt = time.UnixMilli(createdAt)
	return &profile, nil
}

// ListProfiles returns all profiles ordered by name
func (d *DB) ListProfiles(ctx context.Context) (profiles []Profile, err error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, name, provider, endpoint, region, created_at FROM profiles ORDER BY name, id
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
		var profile Profile
		var endpoint, region sql.NullString
		var createdAt int64
		if err := rows.Scan(&profile.ID, &profile.Name, &profile.Provider, &endpoint, &region, &createdAt); err != nil {
			return nil, err
		}
		profile.Endpoint = endpoint.String
		profile.Region = region.String
		profile.CreatedAt = time.UnixMilli(createdAt)
		profiles = append(profiles, profile)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return profiles, nil
}

// DeleteProfile removes a profile row
func (d *DB) DeleteProfile(ctx context.Context, id string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM profiles WHERE id = ?`, id)
	return err
}
