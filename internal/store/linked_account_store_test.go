package store

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinkedAccountStore_Get(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	id, userID := uuid.New(), uuid.New()
	rows := sqlmock.NewRows([]string{
		"id", "user_id", "account_type", "account_name", "scopes", "status", "created_at", "updated_at",
	}).AddRow(id, userID, "shopify", "my-shop", "{read_orders,write_refunds}", "active", nowUTC(), nowUTC())
	mock.ExpectQuery("SELECT id, user_id, account_type").
		WithArgs(id).
		WillReturnRows(rows)

	s := NewLinkedAccountStore(db)
	account, err := s.Get(context.Background(), id)

	require.NoError(t, err)
	assert.Equal(t, "my-shop", account.AccountName)
	assert.Equal(t, "shopify", account.AccountType)
	assert.Contains(t, account.Scopes, "read_orders")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLinkedAccountStore_Get_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	id := uuid.New()
	mock.ExpectQuery("SELECT id, user_id, account_type").
		WillReturnError(assert.AnError)

	s := NewLinkedAccountStore(db)
	_, err = s.Get(context.Background(), id)
	assert.Error(t, err)
}
