// Package migrations creates the database schema. Statements are idempotent
// and applied in order on every startup.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

var statements = []string{
	`CREATE TABLE IF NOT EXISTS miners (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		node_id     TEXT,
		reward_addr TEXT,
		extra_info  TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS jobs (
		id               TEXT PRIMARY KEY,
		cruncher_ver     TEXT NOT NULL,
		started_at       TIMESTAMPTZ NOT NULL,
		updated_at       TIMESTAMPTZ NOT NULL,
		finished_at      TIMESTAMPTZ,
		requestor_id     TEXT,
		hashes_accepted  DOUBLE PRECISION NOT NULL DEFAULT 0,
		hashes_reported  DOUBLE PRECISION NOT NULL DEFAULT 0,
		entries_accepted BIGINT NOT NULL DEFAULT 0,
		entries_rejected BIGINT NOT NULL DEFAULT 0,
		cost_reported    DOUBLE PRECISION NOT NULL DEFAULT 0,
		miner_id         TEXT REFERENCES miners(id),
		extra_info       TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS factories (
		id       TEXT PRIMARY KEY,
		address  TEXT NOT NULL UNIQUE,
		added_at TIMESTAMPTZ NOT NULL,
		owner_id TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS public_key_bases (
		id       TEXT PRIMARY KEY,
		hex      TEXT NOT NULL UNIQUE,
		added_at TIMESTAMPTZ NOT NULL,
		owner_id TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS candidates (
		address         TEXT PRIMARY KEY,
		salt            TEXT NOT NULL,
		factory         TEXT,
		public_key_base TEXT,
		created_at      TIMESTAMPTZ NOT NULL,
		score           DOUBLE PRECISION NOT NULL,
		category        TEXT NOT NULL,
		price           BIGINT NOT NULL DEFAULT 0,
		job_id          TEXT REFERENCES jobs(id),
		owner_id        TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_candidates_score
		ON candidates (score DESC, created_at DESC)`,
}

// Apply runs every schema statement against db.
func Apply(ctx context.Context, db *sql.DB) error {
	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}
