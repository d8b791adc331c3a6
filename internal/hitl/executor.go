package hitl

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/agentfabric/platform/internal/audit"
	"github.com/agentfabric/platform/internal/broker"
	"github.com/agentfabric/platform/internal/commerceclient"
	"github.com/agentfabric/platform/internal/logger"
	"github.com/agentfabric/platform/internal/metrics"
	"github.com/agentfabric/platform/internal/model"
	"github.com/agentfabric/platform/internal/tenant"
)

// actionMessage is the action.execute queue's message schema, published
// by Service.Approve: {action_id, user_id}.
type actionMessage struct {
	ActionID uuid.UUID `json:"action_id"`
	UserID   uuid.UUID `json:"user_id"`
}

// ClientFactory builds a commerce client for a given user/linked account,
// binding the vault and cache the caller's process already owns.
type ClientFactory func(userID, linkedAccountID uuid.UUID, accountName string) *commerceclient.Client

// ActionExecutor is the dedicated worker of §4.6's Execution subsection.
// It is shaped like worker.DepartmentHandler but consumes ProposedAction
// rows keyed by action_id rather than AgentTask rows keyed by task_id,
// so it runs its own small consumer loop instead of worker.Skeleton's.
type ActionExecutor struct {
	db            *sql.DB
	broker        *broker.Broker
	audit         *audit.Logger
	log           *logger.Logger
	newClient     ClientFactory
	supportedType string // account_type this executor instance is wired for
}

// NewActionExecutor constructs an ActionExecutor for accountType (the
// commerce backend this process instance talks to).
func NewActionExecutor(db *sql.DB, b *broker.Broker, auditLogger *audit.Logger, log *logger.Logger, newClient ClientFactory, accountType string) *ActionExecutor {
	return &ActionExecutor{db: db, broker: b, audit: auditLogger, log: log, newClient: newClient, supportedType: accountType}
}

// Run consumes action.execute until ctx is cancelled.
func (e *ActionExecutor) Run(ctx context.Context) error {
	return e.broker.Consume(ctx, broker.QueueActionExecute, e.processDelivery)
}

func (e *ActionExecutor) processDelivery(ctx context.Context, body []byte) (ack bool, err error) {
	var msg actionMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		e.log.Error("", "", "hitl: malformed action.execute message", err, nil)
		return false, err
	}

	var infraErr error
	txErr := tenant.WithTenant(ctx, e.db, msg.UserID, func(ctx context.Context) error {
		infraErr = e.execute(ctx, msg)
		return infraErr
	})
	if txErr != nil && infraErr == nil {
		return false, txErr
	}
	if infraErr != nil {
		return false, infraErr
	}
	return true, nil
}

// execute implements §4.6 Execution steps 1-8.
func (e *ActionExecutor) execute(ctx context.Context, msg actionMessage) error {
	action, err := e.loadAction(ctx, msg.UserID, msg.ActionID)
	if err != nil {
		return fmt.Errorf("hitl: load proposed action %s: %w", msg.ActionID, err)
	}

	if action.Status != model.ActionApproved {
		e.log.Info(msg.UserID.String(), action.AnalysisRequestID.String(), "hitl: skipping duplicate action delivery", map[string]interface{}{
			"action_id": msg.ActionID.String(),
			"status":    action.Status,
		})
		return nil
	}

	e.audit.Emit(audit.ActionExecutionStarted, msg.UserID, action.AnalysisRequestID, msg.ActionID, "started", "", nil)

	if err := e.transitionExecuting(ctx, msg.ActionID); err != nil {
		return fmt.Errorf("hitl: transition to executing: %w", err)
	}

	account, err := e.loadLinkedAccount(ctx, msg.UserID, action.LinkedAccountID)
	if err != nil {
		return fmt.Errorf("hitl: load linked account %s: %w", action.LinkedAccountID, err)
	}
	if account.AccountType != e.supportedType {
		return e.finishFailed(ctx, msg.UserID, action, "unsupported account type: "+account.AccountType)
	}

	required, known := RequiredScopesFor(action.ActionType)
	if !known {
		return e.finishFailed(ctx, msg.UserID, action, "not implemented: "+action.ActionType)
	}
	if !account.HasScopes(required) {
		return e.finishFailed(ctx, msg.UserID, action, scopeDenialMessage(action.ActionType, required, account.Scopes))
	}

	client := e.newClient(msg.UserID, action.LinkedAccountID, account.AccountName)

	dispatchErr := e.dispatch(ctx, client, action)
	if dispatchErr != nil {
		return e.finishFailed(ctx, msg.UserID, action, dispatchErr.Error())
	}

	return e.finishExecuted(ctx, msg.UserID, action)
}

// dispatch performs step 5: construct and invoke the typed commerce call
// for action.ActionType.
func (e *ActionExecutor) dispatch(ctx context.Context, client *commerceclient.Client, action *model.ProposedAction) error {
	var params map[string]interface{}
	if err := json.Unmarshal(action.Parameters, &params); err != nil {
		return fmt.Errorf("parameter-validation: invalid parameters JSON: %w", err)
	}

	switch action.ActionType {
	case "update_product_price":
		variantID, _ := params["product_variant_id"].(string)
		newPrice, _ := params["new_price"].(string)
		if variantID == "" || newPrice == "" {
			return fmt.Errorf("parameter-validation: product_variant_id and new_price required")
		}
		return client.UpdateProductPrice(ctx, variantID, newPrice)

	case "create_discount_code":
		return client.CreateDiscountCode(ctx, params)

	case "adjust_inventory":
		itemID, _ := params["inventory_item_id"].(string)
		locationID, _ := params["location_id"].(string)
		delta, _ := params["delta"].(float64)
		if itemID == "" || locationID == "" {
			return fmt.Errorf("parameter-validation: inventory_item_id and location_id required")
		}
		return client.AdjustInventory(ctx, itemID, locationID, int(delta))

	default:
		return fmt.Errorf("not implemented: %s", action.ActionType)
	}
}

func (e *ActionExecutor) loadAction(ctx context.Context, userID, actionID uuid.UUID) (*model.ProposedAction, error) {
	a := &model.ProposedAction{}
	err := e.db.QueryRowContext(ctx, `
		SELECT id, user_id, analysis_request_id, linked_account_id, action_type, description, parameters, status
		FROM proposed_actions WHERE id = $1 AND user_id = $2
	`, actionID, userID).Scan(&a.ID, &a.UserID, &a.AnalysisRequestID, &a.LinkedAccountID, &a.ActionType, &a.Description, &a.Parameters, &a.Status)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (e *ActionExecutor) loadLinkedAccount(ctx context.Context, userID, linkedAccountID uuid.UUID) (*model.LinkedAccount, error) {
	la := &model.LinkedAccount{}
	err := e.db.QueryRowContext(ctx, `
		SELECT id, user_id, account_type, account_name, scopes, status FROM linked_accounts WHERE id = $1 AND user_id = $2
	`, linkedAccountID, userID).Scan(&la.ID, &la.UserID, &la.AccountType, &la.AccountName, pq.Array(&la.Scopes), &la.Status)
	if err != nil {
		return nil, err
	}
	return la, nil
}

func (e *ActionExecutor) transitionExecuting(ctx context.Context, actionID uuid.UUID) error {
	_, err := e.db.ExecContext(ctx, `
		UPDATE proposed_actions SET status = $2, updated_at = now() WHERE id = $1
	`, actionID, model.ActionExecuting)
	return err
}

func (e *ActionExecutor) finishExecuted(ctx context.Context, userID uuid.UUID, action *model.ProposedAction) error {
	_, err := e.db.ExecContext(ctx, `
		UPDATE proposed_actions SET status = $2, executed_at = now(), execution_logs = $3, updated_at = now() WHERE id = $1
	`, action.ID, model.ActionExecuted, truncate("action executed successfully", 2000))
	if err != nil {
		return e.failSafeCommitFailure(ctx, userID, action.ID, err)
	}
	metrics.ActionsExecuted.WithLabelValues(action.ActionType, "executed").Inc()
	e.audit.Emit(audit.ActionExecutionFinished, userID, action.AnalysisRequestID, action.ID, "executed", "", nil)
	return nil
}

func (e *ActionExecutor) finishFailed(ctx context.Context, userID uuid.UUID, action *model.ProposedAction, reason string) error {
	_, err := e.db.ExecContext(ctx, `
		UPDATE proposed_actions SET status = $2, execution_logs = $3, updated_at = now() WHERE id = $1
	`, action.ID, model.ActionFailed, truncate(reason, 2000))
	if err != nil {
		return e.failSafeCommitFailure(ctx, userID, action.ID, err)
	}
	metrics.ActionsExecuted.WithLabelValues(action.ActionType, "failed").Inc()
	e.audit.Emit(audit.ActionExecutionFinished, userID, action.AnalysisRequestID, action.ID, "failed", reason, nil)
	return nil
}

// failSafeCommitFailure implements §4.6 step 8: if the final write itself
// fails, open a fresh attempt and persist failed with a critical note
// rather than leaving the action stuck in executing.
func (e *ActionExecutor) failSafeCommitFailure(ctx context.Context, userID, actionID uuid.UUID, original error) error {
	_, err := e.db.ExecContext(ctx, `
		UPDATE proposed_actions SET status = $2, execution_logs = $3, updated_at = now() WHERE id = $1
	`, actionID, model.ActionFailed, truncate("critical executor failure: "+original.Error(), 2000))
	if err != nil {
		e.log.Error(userID.String(), "", "hitl: fail-safe write also failed", err, map[string]interface{}{
			"action_id": actionID.String(),
		})
		return fmt.Errorf("hitl: fail-safe commit also failed: %w", err)
	}
	return nil
}

// scopeDenialMessage builds the permission-denied log line naming both the
// scopes the action requires and the scopes actually granted.
func scopeDenialMessage(actionType string, required, granted []string) string {
	return fmt.Sprintf("Permission denied. Action '%s' requires scopes: %s, but user only granted: %s.",
		actionType, scopeList(required), scopeList(granted))
}

// scopeList formats a scope slice as a Python-style string list literal,
// matching the original executor's logged repr of required_scopes/granted_scopes.
func scopeList(scopes []string) string {
	quoted := make([]string, len(scopes))
	for i, s := range scopes {
		quoted[i] = "'" + s + "'"
	}
	return "[" + strings.Join(quoted, ",") + "]"
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
