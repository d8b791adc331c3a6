package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachedDataStore_Get_ExpiredRowIsAMiss(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	linkedAccountID := uuid.New()
	rows := sqlmock.NewRows([]string{"id", "user_id", "linked_account_id", "cache_key", "data", "cached_at", "expires_at"}).
		AddRow(uuid.New(), uuid.New(), linkedAccountID, "orders:list", []byte(`{}`), now.Add(-time.Hour), now.Add(-time.Minute))
	mock.ExpectQuery("SELECT (.+) FROM cached_external_data").WillReturnRows(rows)

	s := NewCachedDataStore(db)
	_, found, err := s.Get(context.Background(), linkedAccountID, "orders:list", now)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCachedDataStore_Get_FreshRowIsAHit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	linkedAccountID := uuid.New()
	rows := sqlmock.NewRows([]string{"id", "user_id", "linked_account_id", "cache_key", "data", "cached_at", "expires_at"}).
		AddRow(uuid.New(), uuid.New(), linkedAccountID, "orders:list", []byte(`{"ok":true}`), now, now.Add(time.Hour))
	mock.ExpectQuery("SELECT (.+) FROM cached_external_data").WillReturnRows(rows)

	s := NewCachedDataStore(db)
	row, found, err := s.Get(context.Background(), linkedAccountID, "orders:list", now)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte(`{"ok":true}`), row.Data)
}

func TestCachedDataStore_Get_AbsentRowIsAMiss(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM cached_external_data").WillReturnRows(sqlmock.NewRows(nil))

	s := NewCachedDataStore(db)
	_, found, err := s.Get(context.Background(), uuid.New(), "orders:list", time.Now())
	require.NoError(t, err)
	assert.False(t, found)
}
