package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentfabric/platform/internal/logger"
	"github.com/agentfabric/platform/internal/store"
)

type fakeHandler struct {
	department string
	attempts   int
	failUntil  int // Handle fails for attempts <= failUntil
	err        error
}

func (f *fakeHandler) Department() string { return f.department }

func (f *fakeHandler) Handle(ctx context.Context, msg Message) ([]byte, error) {
	f.attempts++
	if f.attempts <= f.failUntil {
		return nil, errors.New("transient failure")
	}
	if f.err != nil {
		return nil, f.err
	}
	return []byte(`{"ok":true}`), nil
}

func fastRetryPolicy() RetryPolicy {
	p := DefaultRetryPolicy()
	p.MaxDelay = time.Millisecond
	return p
}

func TestRunWithRetry_SucceedsFirstAttempt(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	handler := &fakeHandler{department: "quantitative"}
	s := &Skeleton{handler: handler, retry: fastRetryPolicy(), log: logger.New("test")}

	taskStore := store.NewAgentTaskStore(db)
	out, err := s.runWithRetry(context.Background(), Message{TaskID: uuid.New()}, taskStore)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(out))
	assert.Equal(t, 1, handler.attempts)
}

func TestRunWithRetry_SucceedsAfterRetries(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// Two failed attempts before success: two retrying->running status
	// update pairs.
	mock.ExpectExec("UPDATE agent_tasks").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE agent_tasks").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE agent_tasks").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE agent_tasks").WillReturnResult(sqlmock.NewResult(0, 1))

	handler := &fakeHandler{department: "quantitative", failUntil: 2}
	s := &Skeleton{handler: handler, retry: fastRetryPolicy(), log: logger.New("test")}

	taskStore := store.NewAgentTaskStore(db)
	out, err := s.runWithRetry(context.Background(), Message{TaskID: uuid.New()}, taskStore)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(out))
	assert.Equal(t, 3, handler.attempts)
}

func TestRunWithRetry_ExhaustsAndReturnsLastError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	for i := 0; i < 10; i++ {
		mock.ExpectExec("UPDATE agent_tasks").WillReturnResult(sqlmock.NewResult(0, 1))
	}

	handler := &fakeHandler{department: "quantitative", failUntil: 999}
	s := &Skeleton{handler: handler, retry: fastRetryPolicy(), log: logger.New("test")}

	taskStore := store.NewAgentTaskStore(db)
	_, err = s.runWithRetry(context.Background(), Message{TaskID: uuid.New()}, taskStore)
	assert.Error(t, err)
	assert.Equal(t, 6, handler.attempts) // 1 initial + 5 retries
}

func TestHandleWithTenant_TerminalTaskIsAckedWithoutRerunning(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	taskID := uuid.New()
	rows := sqlmock.NewRows([]string{
		"id", "user_id", "analysis_request_id", "task_type", "status",
		"input_data", "output_data", "logs", "retry_count", "started_at", "completed_at", "created_at", "updated_at",
	}).AddRow(taskID, uuid.New(), uuid.New(), "quantitative", "completed",
		[]byte(`{}`), []byte(`{}`), "done", 0, nil, nil, time.Now(), time.Now())
	mock.ExpectQuery("SELECT (.+) FROM agent_tasks").WillReturnRows(rows)

	handler := &fakeHandler{department: "quantitative"}
	s := &Skeleton{db: db, handler: handler, retry: fastRetryPolicy(), log: logger.New("test")}

	ack, err := s.handleWithTenant(context.Background(), Message{TaskID: taskID})
	require.NoError(t, err)
	assert.True(t, ack)
	assert.Equal(t, 0, handler.attempts)
}
