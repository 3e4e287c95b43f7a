// Package db opens the reference server's Postgres database and keeps its
// schema and soft-deleted rows in order.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// Schema creates the owners and secret_tags tables. Tag names are unique
// per owner ignoring case, among tags that are not soft-deleted. The
// registration record is opaque bytes; nothing in it recovers a phrase.
const Schema = `
CREATE TABLE IF NOT EXISTS owners (
    login TEXT PRIMARY KEY,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE SEQUENCE IF NOT EXISTS secret_tag_version;

CREATE TABLE IF NOT EXISTS secret_tags (
    id TEXT PRIMARY KEY,
    owner_login TEXT NOT NULL REFERENCES owners(login) ON DELETE CASCADE,
    name TEXT NOT NULL,
    color_code TEXT NOT NULL DEFAULT '',
    auth_method TEXT NOT NULL DEFAULT 'opaque',
    security_level TEXT NOT NULL DEFAULT 'standard',
    device_fingerprint TEXT NOT NULL DEFAULT '',
    migrated_from TEXT NOT NULL DEFAULT '',
    record BYTEA NOT NULL,
    version BIGINT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    deleted BOOLEAN NOT NULL DEFAULT FALSE
);

ALTER TABLE secret_tags ADD COLUMN IF NOT EXISTS migrated_from TEXT NOT NULL DEFAULT '';

CREATE UNIQUE INDEX IF NOT EXISTS secret_tags_owner_name_idx
    ON secret_tags (owner_login, lower(name)) WHERE deleted = false;
`

// InitPostgres connects to dsn and applies Schema.
func InitPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := ApplySchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// ApplySchema runs Schema against db.
func ApplySchema(db *sql.DB) error {
	if _, err := db.Exec(Schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}
