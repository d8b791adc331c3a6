package hitl

import (
	"context"
	"database/sql"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentfabric/platform/internal/audit"
	"github.com/agentfabric/platform/internal/broker"
	"github.com/agentfabric/platform/internal/logger"
)

type fakePublisher struct {
	published []publishedMessage
	err       error
}

type publishedMessage struct {
	queue   string
	payload interface{}
}

func (f *fakePublisher) Publish(_ context.Context, queue string, payload interface{}) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, publishedMessage{queue: queue, payload: payload})
	return nil
}

func newTestService(t *testing.T, pub Publisher) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	auditLogger := audit.New(logger.New("hitl-test"))
	return NewService(db, pub, auditLogger), mock
}

func TestPropose_InsertsOneRowPerDraft(t *testing.T) {
	svc, mock := newTestService(t, &fakePublisher{})

	userID := uuid.New()
	requestID := uuid.New()
	linkedAccountID := uuid.New()

	drafts := []Draft{
		{ActionType: "update_product_price", Description: "lower price", Parameters: `{"product_variant_id":"v1","new_price":"9.99"}`},
		{ActionType: "adjust_inventory", Description: "restock", Parameters: `{"inventory_item_id":"i1","location_id":"l1","delta":5}`},
	}

	mock.ExpectExec("INSERT INTO proposed_actions").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO proposed_actions").WillReturnResult(sqlmock.NewResult(1, 1))

	ids, err := svc.Propose(context.Background(), userID, requestID, linkedAccountID, drafts)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApprove_NotFoundOrNotOwned(t *testing.T) {
	svc, mock := newTestService(t, &fakePublisher{})

	actionID := uuid.New()
	userID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT analysis_request_id, status FROM proposed_actions").
		WithArgs(actionID, userID).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := svc.Approve(context.Background(), userID, actionID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found or not owned")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApprove_RejectsInvalidState(t *testing.T) {
	svc, mock := newTestService(t, &fakePublisher{})

	actionID := uuid.New()
	userID := uuid.New()
	requestID := uuid.New()

	mock.ExpectBegin()
	rows := sqlmock.NewRows([]string{"analysis_request_id", "status"}).AddRow(requestID, "executed")
	mock.ExpectQuery("SELECT analysis_request_id, status FROM proposed_actions").
		WithArgs(actionID, userID).
		WillReturnRows(rows)
	mock.ExpectRollback()

	err := svc.Approve(context.Background(), userID, actionID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in a proposed state")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApprove_SuccessPublishesToActionExecuteQueue(t *testing.T) {
	pub := &fakePublisher{}
	svc, mock := newTestService(t, pub)

	actionID := uuid.New()
	userID := uuid.New()
	requestID := uuid.New()

	mock.ExpectBegin()
	rows := sqlmock.NewRows([]string{"analysis_request_id", "status"}).AddRow(requestID, "proposed")
	mock.ExpectQuery("SELECT analysis_request_id, status FROM proposed_actions").
		WithArgs(actionID, userID).
		WillReturnRows(rows)
	mock.ExpectExec("UPDATE proposed_actions SET status = \\$2, approved_at = now").
		WithArgs(actionID, "approved").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := svc.Approve(context.Background(), userID, actionID)
	require.NoError(t, err)
	require.Len(t, pub.published, 1)
	assert.Equal(t, broker.QueueActionExecute, pub.published[0].queue)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApprove_PublishFailureAppendsCriticalLogButReturnsError(t *testing.T) {
	pub := &fakePublisher{err: assertError("amqp down")}
	svc, mock := newTestService(t, pub)

	actionID := uuid.New()
	userID := uuid.New()
	requestID := uuid.New()

	mock.ExpectBegin()
	rows := sqlmock.NewRows([]string{"analysis_request_id", "status"}).AddRow(requestID, "proposed")
	mock.ExpectQuery("SELECT analysis_request_id, status FROM proposed_actions").
		WithArgs(actionID, userID).
		WillReturnRows(rows)
	mock.ExpectExec("UPDATE proposed_actions SET status = \\$2, approved_at = now").
		WithArgs(actionID, "approved").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectExec("UPDATE proposed_actions SET execution_logs").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := svc.Approve(context.Background(), userID, actionID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish approved action")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReject_TransitionsWithoutPublishing(t *testing.T) {
	pub := &fakePublisher{}
	svc, mock := newTestService(t, pub)

	actionID := uuid.New()
	userID := uuid.New()
	requestID := uuid.New()

	mock.ExpectBegin()
	rows := sqlmock.NewRows([]string{"analysis_request_id", "status"}).AddRow(requestID, "proposed")
	mock.ExpectQuery("SELECT analysis_request_id, status FROM proposed_actions").
		WithArgs(actionID, userID).
		WillReturnRows(rows)
	mock.ExpectExec("UPDATE proposed_actions SET status = \\$2, updated_at = now").
		WithArgs(actionID, "rejected").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := svc.Reject(context.Background(), userID, actionID)
	require.NoError(t, err)
	assert.Empty(t, pub.published)
	require.NoError(t, mock.ExpectationsWereMet())
}

type simpleError string

func (e simpleError) Error() string { return string(e) }

func assertError(msg string) error { return simpleError(msg) }
