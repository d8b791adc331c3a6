package hitl

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/agentfabric/platform/internal/audit"
	"github.com/agentfabric/platform/internal/broker"
	"github.com/agentfabric/platform/internal/model"
)

// Publisher is the one broker capability Service needs: publishing an
// approved action onto action.execute. *broker.Broker satisfies this;
// tests substitute a fake so Service doesn't need a live AMQP connection.
type Publisher interface {
	Publish(ctx context.Context, queue string, payload interface{}) error
}

// Service implements the proposal insertion and approve/reject
// transitions of §4.6, grounded on the teacher's HITLApprovalService
// interface shape and the Repository/Service/Handler split its
// agent/hitl package stubs out.
type Service struct {
	db     *sql.DB
	broker Publisher
	audit  *audit.Logger
}

// NewService constructs a Service.
func NewService(db *sql.DB, b Publisher, auditLogger *audit.Logger) *Service {
	return &Service{db: db, broker: b, audit: auditLogger}
}

// Propose inserts one ProposedAction row per successfully parsed Draft,
// emitting ACTION_PROPOSED for each. Must run inside a tenant-scoped
// transaction (tenant.WithTenant already bound).
func (s *Service) Propose(ctx context.Context, userID, analysisRequestID, linkedAccountID uuid.UUID, drafts []Draft) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(drafts))
	for _, d := range drafts {
		id := uuid.New()
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO proposed_actions
				(id, user_id, analysis_request_id, linked_account_id, action_type, description, parameters, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		`, id, userID, analysisRequestID, linkedAccountID, d.ActionType, d.Description, d.Parameters, model.ActionProposed)
		if err != nil {
			return nil, fmt.Errorf("hitl: insert proposed action: %w", err)
		}
		s.audit.Emit(audit.ActionProposed, userID, analysisRequestID, id, "proposed", "", map[string]interface{}{
			"action_type": d.ActionType,
		})
		ids = append(ids, id)
	}
	return ids, nil
}

// Approve runs the single row-locked transaction of §4.6 steps 1-5: load
// with FOR UPDATE, verify status, transition to approved, commit, then
// publish to action.execute. A publish failure after commit is reported
// to the caller but the action remains approved for operator replay.
func (s *Service) Approve(ctx context.Context, userID, actionID uuid.UUID) error {
	actionRequestID, err := s.transition(ctx, userID, actionID, model.ActionApproved, audit.ActionApproved)
	if err != nil {
		return err
	}

	if err := s.broker.Publish(ctx, broker.QueueActionExecute, map[string]string{
		"action_id": actionID.String(),
		"user_id":   userID.String(),
	}); err != nil {
		s.appendCriticalLog(ctx, actionID, "publish to action.execute failed after approval commit: "+err.Error())
		return fmt.Errorf("hitl: publish approved action %s: %w", actionID, err)
	}

	s.audit.Emit(audit.ActionEnqueued, userID, actionRequestID, actionID, "enqueued", "", nil)
	return nil
}

// Reject runs the analogous single-transaction proposed→rejected transition.
func (s *Service) Reject(ctx context.Context, userID, actionID uuid.UUID) error {
	_, err := s.transition(ctx, userID, actionID, model.ActionRejected, audit.ActionRejected)
	return err
}

// transition performs the shared row-locked load-check-update-commit
// sequence for both Approve and Reject, returning the action's
// analysis_request_id for audit correlation.
func (s *Service) transition(ctx context.Context, userID, actionID uuid.UUID, newStatus, event string) (uuid.UUID, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return uuid.Nil, fmt.Errorf("hitl: begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var analysisRequestID uuid.UUID
	var status string
	err = tx.QueryRowContext(ctx, `
		SELECT analysis_request_id, status FROM proposed_actions
		WHERE id = $1 AND user_id = $2
		FOR UPDATE
	`, actionID, userID).Scan(&analysisRequestID, &status)
	if err == sql.ErrNoRows {
		return uuid.Nil, fmt.Errorf("hitl: not found or not owned")
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("hitl: load proposed action: %w", err)
	}

	if status != model.ActionProposed {
		return uuid.Nil, fmt.Errorf("Action %s is not in a proposed state (current: %s).", actionID, status)
	}

	timestampCol := "approved_at"
	if newStatus == model.ActionRejected {
		timestampCol = "" // rejection has no approved_at to stamp
	}

	var execErr error
	if timestampCol != "" {
		_, execErr = tx.ExecContext(ctx, fmt.Sprintf(`
			UPDATE proposed_actions SET status = $2, %s = now(), updated_at = now() WHERE id = $1
		`, timestampCol), actionID, newStatus)
	} else {
		_, execErr = tx.ExecContext(ctx, `
			UPDATE proposed_actions SET status = $2, updated_at = now() WHERE id = $1
		`, actionID, newStatus)
	}
	if execErr != nil {
		return uuid.Nil, fmt.Errorf("hitl: update proposed action status: %w", execErr)
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, fmt.Errorf("hitl: commit transition: %w", err)
	}

	s.audit.Emit(event, userID, analysisRequestID, actionID, newStatus, "", nil)
	return analysisRequestID, nil
}

// appendCriticalLog records a publish-failure marker in execution_logs
// outside the original transaction, since the status transition already
// committed.
func (s *Service) appendCriticalLog(ctx context.Context, actionID uuid.UUID, note string) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE proposed_actions SET execution_logs = execution_logs || $2 || E'\n', updated_at = now()
		WHERE id = $1
	`, actionID, "[CRITICAL] "+note)
	if err != nil {
		// Nothing further to do: the approval itself already committed;
		// this is best-effort diagnostic breadcrumb only.
		_ = err
	}
}
