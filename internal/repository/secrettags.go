package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/atinyakov/tagkeeper/internal/errs"
	"github.com/atinyakov/tagkeeper/internal/models"
)

const uniqueViolation = "23505"

// PostgresSecretTagRepository stores secret tags with their registration
// records. Every change takes a fresh value from the secret_tag_version
// sequence so clients can tell newer rows apart.
type PostgresSecretTagRepository struct {
	DB *sql.DB
}

func NewPostgresSecretTagRepository(db *sql.DB) *PostgresSecretTagRepository {
	return &PostgresSecretTagRepository{DB: db}
}

// NameTaken reports whether owner already has a live tag with this name,
// ignoring case.
func (r *PostgresSecretTagRepository) NameTaken(ctx context.Context, owner, name string) (bool, error) {
	var taken bool
	err := r.DB.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM secret_tags WHERE owner_login = $1 AND lower(name) = lower($2) AND deleted = false)
	`, owner, name).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("NameTaken: %w", err)
	}
	return taken, nil
}

// Create inserts tag with its record and returns it with the server-side
// fields filled in. A name clash maps to errs.ErrDuplicateName.
func (r *PostgresSecretTagRepository) Create(ctx context.Context, owner string, tag models.Tag, record []byte) (models.Tag, error) {
	err := r.DB.QueryRowContext(ctx, `
		INSERT INTO secret_tags (id, owner_login, name, color_code, auth_method, security_level, device_fingerprint, migrated_from, record, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, nextval('secret_tag_version'))
		RETURNING version, created_at, updated_at
	`, tag.ID, owner, tag.Name, tag.ColorCode, string(tag.AuthMethod), string(tag.SecurityLevel), tag.DeviceFingerprint, tag.MigratedFrom, record).
		Scan(&tag.Version, &tag.CreatedAt, &tag.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return models.Tag{}, fmt.Errorf("%w: %q", errs.ErrDuplicateName, tag.Name)
		}
		return models.Tag{}, fmt.Errorf("Create: %w", err)
	}
	tag.OwnerID = owner
	tag.Secret = true
	return tag, nil
}

// GetCredential returns the registration record of a live tag together
// with its security level and device binding.
func (r *PostgresSecretTagRepository) GetCredential(ctx context.Context, owner, tagID string) (models.StoredCredential, error) {
	var (
		c     models.StoredCredential
		level string
	)
	err := r.DB.QueryRowContext(ctx, `
		SELECT record, security_level, device_fingerprint FROM secret_tags
		WHERE owner_login = $1 AND id = $2 AND deleted = false
	`, owner, tagID).Scan(&c.Record, &level, &c.DeviceFingerprint)
	if errors.Is(err, sql.ErrNoRows) {
		return models.StoredCredential{}, errs.ErrNotFound
	}
	if err != nil {
		return models.StoredCredential{}, fmt.Errorf("GetCredential: %w", err)
	}
	c.SecurityLevel = models.SecurityLevel(level)
	return c, nil
}

// List returns the owner's live secret tags ordered by name.
func (r *PostgresSecretTagRepository) List(ctx context.Context, owner string) ([]models.Tag, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, name, color_code, auth_method, security_level, device_fingerprint, migrated_from, version, created_at, updated_at
		FROM secret_tags WHERE owner_login = $1 AND deleted = false ORDER BY lower(name), id
	`, owner)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	defer rows.Close()

	tags := make([]models.Tag, 0)
	for rows.Next() {
		var (
			t             models.Tag
			method, level string
		)
		if err := rows.Scan(&t.ID, &t.Name, &t.ColorCode, &method, &level, &t.DeviceFingerprint, &t.MigratedFrom, &t.Version, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		t.AuthMethod = models.AuthMethod(method)
		t.SecurityLevel = models.SecurityLevel(level)
		t.OwnerID = owner
		t.Secret = true
		tags = append(tags, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	return tags, nil
}

// Delete soft-deletes a tag. The cleaner removes the row after retention.
func (r *PostgresSecretTagRepository) Delete(ctx context.Context, owner, tagID string) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE secret_tags SET deleted = true, updated_at = now(), version = nextval('secret_tag_version')
		WHERE owner_login = $1 AND id = $2 AND deleted = false
	`, owner, tagID)
	if err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	if n == 0 {
		return errs.ErrNotFound
	}
	return nil
}
