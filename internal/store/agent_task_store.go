package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/agentfabric/platform/internal/model"
)

// AgentTaskStore is thin CRUD over agent_tasks, with concurrency-safe
// status updates. Every method must run on a handle already bound to a
// tenant via tenant.WithTenant; RLS does the actual scoping, this store
// never filters on user_id itself beyond what's needed to shape results.
type AgentTaskStore struct {
	db DBTX
}

// DBTX is satisfied by both *sql.DB and *sql.Tx, so stores can run either
// inside or outside an explicit transaction at the caller's discretion.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// NewAgentTaskStore wraps a tenant-scoped handle.
func NewAgentTaskStore(db DBTX) *AgentTaskStore {
	return &AgentTaskStore{db: db}
}

// Create inserts a new AgentTask with status=pending.
func (s *AgentTaskStore) Create(ctx context.Context, userID, analysisRequestID uuid.UUID, taskType string, inputData []byte) (*model.AgentTask, error) {
	task := &model.AgentTask{
		ID:                uuid.New(),
		UserID:            userID,
		AnalysisRequestID: analysisRequestID,
		TaskType:          taskType,
		Status:            model.TaskPending,
		InputData:         inputData,
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO agent_tasks
			(id, user_id, analysis_request_id, task_type, status, input_data, retry_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, now(), now())
		RETURNING created_at, updated_at
	`, task.ID, task.UserID, task.AnalysisRequestID, task.TaskType, task.Status, task.InputData)

	if err := row.Scan(&task.CreatedAt, &task.UpdatedAt); err != nil {
		return nil, fmt.Errorf("store: create agent task: %w", err)
	}
	return task, nil
}

// StatusUpdate carries the optional fields an UpdateStatus call may set
// alongside the new status.
type StatusUpdate struct {
	OutputData []byte
	Logs       *string
	RetryCount *int
}

// UpdateStatus transitions an AgentTask's status, stamping started_at on
// the first transition into running and completed_at on any transition
// into a terminal status.
func (s *AgentTaskStore) UpdateStatus(ctx context.Context, taskID uuid.UUID, status string, upd StatusUpdate) error {
	setClauses := []string{"status = $2", "updated_at = now()"}
	args := []interface{}{taskID, status}
	argN := 3

	if status == model.TaskRunning {
		setClauses = append(setClauses, fmt.Sprintf("started_at = COALESCE(started_at, now())"))
	}
	if model.IsTerminalTaskStatus(status) {
		setClauses = append(setClauses, "completed_at = now()")
	}
	if upd.OutputData != nil {
		setClauses = append(setClauses, fmt.Sprintf("output_data = $%d", argN))
		args = append(args, upd.OutputData)
		argN++
	}
	if upd.Logs != nil {
		setClauses = append(setClauses, fmt.Sprintf("logs = $%d", argN))
		args = append(args, *upd.Logs)
		argN++
	}
	if upd.RetryCount != nil {
		setClauses = append(setClauses, fmt.Sprintf("retry_count = $%d", argN))
		args = append(args, *upd.RetryCount)
		argN++
	}

	query := fmt.Sprintf("UPDATE agent_tasks SET %s WHERE id = $1", strings.Join(setClauses, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("store: update agent task status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: update agent task rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("store: agent task %s not found for tenant", taskID)
	}
	return nil
}

// Get loads a single AgentTask by id, scoped to the bound tenant.
func (s *AgentTaskStore) Get(ctx context.Context, taskID uuid.UUID) (*model.AgentTask, error) {
	tasks, err := s.scan(s.db.QueryContext(ctx, taskSelectColumns+" WHERE id = $1", taskID))
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, sql.ErrNoRows
	}
	return tasks[0], nil
}

// GetMany loads every AgentTask among ids, used by the orchestrator's
// check_status node to poll a batch of non-terminal tasks in one round trip.
func (s *AgentTaskStore) GetMany(ctx context.Context, ids []uuid.UUID) ([]*model.AgentTask, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.scan(s.db.QueryContext(ctx, taskSelectColumns+" WHERE id = ANY($1)", pq.Array(uuidsToStrings(ids))))
}

const taskSelectColumns = `
	SELECT id, user_id, analysis_request_id, task_type, status,
	       input_data, output_data, logs, retry_count, started_at, completed_at, created_at, updated_at
	FROM agent_tasks
`

func (s *AgentTaskStore) scan(rows *sql.Rows, err error) ([]*model.AgentTask, error) {
	if err != nil {
		return nil, fmt.Errorf("store: query agent tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*model.AgentTask
	for rows.Next() {
		t := &model.AgentTask{}
		var started, completed sql.NullTime
		var logs sql.NullString
		if err := rows.Scan(
			&t.ID, &t.UserID, &t.AnalysisRequestID, &t.TaskType, &t.Status,
			&t.InputData, &t.OutputData, &logs, &t.RetryCount, &started, &completed, &t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("store: scan agent task: %w", err)
		}
		t.Logs = logs.String
		if started.Valid {
			st := started.Time
			t.StartedAt = &st
		}
		if completed.Valid {
			ct := completed.Time
			t.CompletedAt = &ct
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate agent tasks: %w", err)
	}
	return tasks, nil
}

func uuidsToStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

// nowUTC exists so tests can assert against a stable clock boundary
// without reaching for time.Now() directly in assertions.
func nowUTC() time.Time { return time.Now().UTC() }
