package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckpointer_Get_NoSnapshotYet(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	threadID := uuid.New()
	mock.ExpectQuery("SELECT agent_state").
		WillReturnRows(sqlmock.NewRows([]string{"agent_state"}).AddRow([]byte(nil)))

	c := NewCheckpointer(db)
	snapshot, found, err := c.Get(context.Background(), threadID)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, snapshot)
}

func TestCheckpointer_PutThenGet_RoundTrips(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	threadID := uuid.New()
	checkpoint := json.RawMessage(`{"plan":[{"step":1}]}`)

	mock.ExpectExec("UPDATE analysis_requests SET agent_state").WillReturnResult(sqlmock.NewResult(0, 1))

	c := NewCheckpointer(db)
	err = c.Put(context.Background(), threadID, checkpoint)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckpointer_Get_CorruptedSnapshot(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	threadID := uuid.New()
	mock.ExpectQuery("SELECT agent_state").
		WillReturnRows(sqlmock.NewRows([]string{"agent_state"}).AddRow([]byte(`not-json`)))

	c := NewCheckpointer(db)
	_, found, err := c.Get(context.Background(), threadID)
	assert.Error(t, err)
	assert.False(t, found)
}
