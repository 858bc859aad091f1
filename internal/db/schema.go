package db

import "context"

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		username TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS refresh_tokens (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		token TEXT NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		revoked_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS maps (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_maps_user_id ON maps (user_id)`,
	`CREATE TABLE IF NOT EXISTS tracks (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		map_id TEXT NOT NULL REFERENCES maps(id) ON DELETE CASCADE,
		hash CHAR(64) NOT NULL,
		name TEXT NOT NULL,
		filename TEXT NOT NULL,
		creator TEXT,
		activity_type TEXT,
		activity_date TIMESTAMPTZ NOT NULL,
		uploaded_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		distance_meters DOUBLE PRECISION,
		duration_seconds BIGINT,
		avg_speed_ms DOUBLE PRECISION,
		max_speed_ms DOUBLE PRECISION,
		min_speed_ms DOUBLE PRECISION,
		elevation_gain_meters DOUBLE PRECISION,
		elevation_loss_meters DOUBLE PRECISION,
		bounds_min_lat DOUBLE PRECISION,
		bounds_max_lat DOUBLE PRECISION,
		bounds_min_lon DOUBLE PRECISION,
		bounds_max_lon DOUBLE PRECISION,
		visible BOOLEAN NOT NULL DEFAULT TRUE,
		coordinates JSONB,
		segment_speeds JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (map_id, hash)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tracks_user_id ON tracks (user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_tracks_user_hash ON tracks (user_id, hash)`,
	`CREATE INDEX IF NOT EXISTS idx_tracks_date ON tracks (activity_date)`,
}

// EnsureSchema applies the idempotent DDL at startup.
func EnsureSchema(ctx context.Context, q Querier) error {
	for _, stmt := range schemaStatements {
		if _, err := q.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
