package store

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentfabric/platform/internal/model"
)

func TestAgentTaskStore_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	userID, reqID := uuid.New(), uuid.New()
	mock.ExpectQuery("INSERT INTO agent_tasks").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(nowUTC(), nowUTC()))

	s := NewAgentTaskStore(db)
	task, err := s.Create(context.Background(), userID, reqID, model.DeptQuantitative, []byte(`{}`))

	require.NoError(t, err)
	assert.Equal(t, model.TaskPending, task.Status)
	assert.Equal(t, model.DeptQuantitative, task.TaskType)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAgentTaskStore_UpdateStatus_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE agent_tasks").WillReturnResult(sqlmock.NewResult(0, 0))

	s := NewAgentTaskStore(db)
	err = s.UpdateStatus(context.Background(), uuid.New(), model.TaskCompleted, StatusUpdate{})
	assert.Error(t, err)
}

func TestAgentTaskStore_UpdateStatus_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE agent_tasks").WillReturnResult(sqlmock.NewResult(0, 1))

	logs := "task finished"
	s := NewAgentTaskStore(db)
	err = s.UpdateStatus(context.Background(), uuid.New(), model.TaskCompleted, StatusUpdate{Logs: &logs})
	assert.NoError(t, err)
}

func TestAgentTaskStore_GetMany_EmptyIDs(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewAgentTaskStore(db)
	tasks, err := s.GetMany(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, tasks)
}
