package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/agentfabric/platform/internal/model"
)

// RequestStore is thin CRUD over analysis_requests plus the status
// transitions §3/§4.8 define.
type RequestStore struct {
	db DBTX
}

// NewRequestStore wraps a tenant-scoped handle.
func NewRequestStore(db DBTX) *RequestStore {
	return &RequestStore{db: db}
}

// Create inserts a new AnalysisRequest with status=pending.
func (s *RequestStore) Create(ctx context.Context, userID, linkedAccountID uuid.UUID, prompt string) (*model.AnalysisRequest, error) {
	req := &model.AnalysisRequest{
		ID:              uuid.New(),
		UserID:          userID,
		LinkedAccountID: linkedAccountID,
		Prompt:          prompt,
		Status:          model.RequestPending,
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO analysis_requests
			(id, user_id, linked_account_id, prompt, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		RETURNING created_at, updated_at
	`, req.ID, req.UserID, req.LinkedAccountID, req.Prompt, req.Status)

	if err := row.Scan(&req.CreatedAt, &req.UpdatedAt); err != nil {
		return nil, fmt.Errorf("store: create analysis request: %w", err)
	}
	return req, nil
}

// Get loads a single AnalysisRequest by id, scoped to the bound tenant.
func (s *RequestStore) Get(ctx context.Context, id uuid.UUID) (*model.AnalysisRequest, error) {
	row := s.db.QueryRowContext(ctx, requestSelectColumns+" WHERE id = $1", id)
	return scanRequest(row)
}

const requestSelectColumns = `
	SELECT id, user_id, linked_account_id, prompt, status,
	       result_summary, result_data, agent_state, error_message, completed_at, created_at, updated_at
	FROM analysis_requests
`

func scanRequest(row *sql.Row) (*model.AnalysisRequest, error) {
	r := &model.AnalysisRequest{}
	var summary, errMsg sql.NullString
	var completed sql.NullTime
	if err := row.Scan(
		&r.ID, &r.UserID, &r.LinkedAccountID, &r.Prompt, &r.Status,
		&summary, &r.ResultData, &r.AgentState, &errMsg, &completed, &r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("store: scan analysis request: %w", err)
	}
	if summary.Valid {
		s := summary.String
		r.ResultSummary = &s
	}
	if errMsg.Valid {
		e := errMsg.String
		r.ErrorMessage = &e
	}
	if completed.Valid {
		c := completed.Time
		r.CompletedAt = &c
	}
	return r, nil
}

// TransitionToProcessing marks a pending request as picked up by the
// orchestrator's driver loop.
func (s *RequestStore) TransitionToProcessing(ctx context.Context, id uuid.UUID) error {
	return s.updateStatus(ctx, id, model.RequestProcessing, nil, nil, nil)
}

// Complete marks a request completed, storing the final summary (and
// optional structured result_data).
func (s *RequestStore) Complete(ctx context.Context, id uuid.UUID, summary string, resultData []byte) error {
	return s.updateStatus(ctx, id, model.RequestCompleted, &summary, resultData, nil)
}

// Fail marks a request failed with a consolidated error message.
func (s *RequestStore) Fail(ctx context.Context, id uuid.UUID, errMsg string) error {
	return s.updateStatus(ctx, id, model.RequestFailed, nil, nil, &errMsg)
}

// Cancel marks a request cancelled; admissible from any non-terminal
// status per §3.
func (s *RequestStore) Cancel(ctx context.Context, id uuid.UUID) error {
	return s.updateStatus(ctx, id, model.RequestCancelled, nil, nil, nil)
}

func (s *RequestStore) updateStatus(ctx context.Context, id uuid.UUID, status string, summary *string, resultData []byte, errMsg *string) error {
	setClauses := []string{"status = $2", "updated_at = now()"}
	args := []interface{}{id, status}
	argN := 3

	if model.IsTerminalRequestStatus(status) {
		setClauses = append(setClauses, "completed_at = now()")
	}
	if summary != nil {
		setClauses = append(setClauses, fmt.Sprintf("result_summary = $%d", argN))
		args = append(args, *summary)
		argN++
	}
	if resultData != nil {
		setClauses = append(setClauses, fmt.Sprintf("result_data = $%d", argN))
		args = append(args, resultData)
		argN++
	}
	if errMsg != nil {
		setClauses = append(setClauses, fmt.Sprintf("error_message = $%d", argN))
		args = append(args, *errMsg)
		argN++
	}

	query := fmt.Sprintf("UPDATE analysis_requests SET %s WHERE id = $1", strings.Join(setClauses, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("store: update analysis request status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: update analysis request rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("store: analysis request %s not found for tenant", id)
	}
	return nil
}
