package db_test

import (
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atinyakov/tagkeeper/internal/db"
)

func TestInitPostgres_Unreachable(t *testing.T) {
	for _, dsn := range []string{
		"some=random",
		"postgres://u:p@127.0.0.1:1/x?sslmode=disable&connect_timeout=1",
	} {
		conn, err := db.InitPostgres(dsn)
		assert.Nil(t, conn, dsn)
		assert.ErrorContains(t, err, "ping postgres", dsn)
	}
}

func TestApplySchema(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS owners").WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, db.ApplySchema(conn))

	mock.ExpectExec("CREATE TABLE").WillReturnError(errors.New("permission denied"))
	assert.ErrorContains(t, db.ApplySchema(conn), "create schema")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSchema_EnforcesCaseInsensitiveNames(t *testing.T) {
	assert.Contains(t, db.Schema, "(owner_login, lower(name))")
	assert.Contains(t, db.Schema, "WHERE deleted = false")
}
