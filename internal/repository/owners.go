// Package repository stores owners and secret tags in Postgres.
package repository

import (
	"context"
	"database/sql"
)

// PostgresOwnerRepository keeps the owners that hold a client certificate.
type PostgresOwnerRepository struct {
	DB *sql.DB
}

func NewPostgresOwnerRepository(db *sql.DB) *PostgresOwnerRepository {
	return &PostgresOwnerRepository{DB: db}
}

// OwnerExists reports whether login has enrolled.
func (r *PostgresOwnerRepository) OwnerExists(ctx context.Context, login string) (bool, error) {
	var exists bool
	err := r.DB.QueryRowContext(
		ctx,
		`SELECT EXISTS(SELECT 1 FROM owners WHERE login = $1)`,
		login,
	).Scan(&exists)
	return exists, err
}

// CreateOwner records login. Enrolling the same login twice is a no-op.
func (r *PostgresOwnerRepository) CreateOwner(ctx context.Context, login string) error {
	_, err := r.DB.ExecContext(
		ctx,
		`INSERT INTO owners (login) VALUES ($1) ON CONFLICT DO NOTHING`,
		login,
	)
	return err
}
