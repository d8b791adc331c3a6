package store

import (
	"context"
	"database/sql"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreferencesStore_Get_NoRowReturnsNilNil(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	userID := uuid.New()
	mock.ExpectQuery("SELECT planner, aggregator, tool, creative").
		WillReturnError(sql.ErrNoRows)

	s := NewPreferencesStore(db)
	p, err := s.Get(context.Background(), userID)

	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestPreferencesStore_Get_PartialOverridesLeaveOthersNil(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	userID := uuid.New()
	rows := sqlmock.NewRows([]string{"planner", "aggregator", "tool", "creative", "updated_at"}).
		AddRow("anthropic.claude-3-opus", nil, nil, nil, nowUTC())
	mock.ExpectQuery("SELECT planner, aggregator, tool, creative").
		WillReturnRows(rows)

	s := NewPreferencesStore(db)
	p, err := s.Get(context.Background(), userID)

	require.NoError(t, err)
	require.NotNil(t, p)
	require.NotNil(t, p.Planner)
	assert.Equal(t, "anthropic.claude-3-opus", *p.Planner)
	assert.Nil(t, p.Aggregator)
	assert.Nil(t, p.Tool)
	assert.Nil(t, p.Creative)
}

func TestPreferencesStore_Upsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	userID := uuid.New()
	planner := "anthropic.claude-3-sonnet"
	mock.ExpectExec("INSERT INTO user_preferences").
		WillReturnResult(sqlmock.NewResult(0, 1))

	s := NewPreferencesStore(db)
	err = s.Upsert(context.Background(), userID, &planner, nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
