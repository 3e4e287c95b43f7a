package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func setupOwnerMock(t *testing.T) (*PostgresOwnerRepository, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock database: %v", err)
	}
	repo := NewPostgresOwnerRepository(db)
	cleanup := func() { db.Close() }
	return repo, mock, cleanup
}

func TestOwnerExists(t *testing.T) {
	for _, want := range []bool{true, false} {
		repo, mock, cleanup := setupOwnerMock(t)

		mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS(SELECT 1 FROM owners WHERE login = $1)`)).
			WithArgs("alice").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(want))

		got, err := repo.OwnerExists(context.Background(), "alice")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != want {
			t.Errorf("OwnerExists = %v; want %v", got, want)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
		cleanup()
	}
}

func TestOwnerExists_Error(t *testing.T) {
	repo, mock, cleanup := setupOwnerMock(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS(SELECT 1 FROM owners WHERE login = $1)`)).
		WithArgs("alice").
		WillReturnError(errors.New("query fail"))

	if _, err := repo.OwnerExists(context.Background(), "alice"); err == nil {
		t.Error("expected error, got nil")
	}
}

func TestCreateOwner(t *testing.T) {
	repo, mock, cleanup := setupOwnerMock(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO owners (login) VALUES ($1) ON CONFLICT DO NOTHING`)).
		WithArgs("alice").
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := repo.CreateOwner(context.Background(), "alice"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
