// Package audit emits the structured state-transition events the HITL
// action pipeline must produce, grounded on the teacher's audit_logger.go
// structured-entry style but collapsed to this spec's six named events
// and routed through internal/logger instead of a dedicated audit table.
package audit

import (
	"github.com/google/uuid"

	"github.com/agentfabric/platform/internal/logger"
)

// Event names for every ProposedAction/execution state transition §4.6
// requires to be audited.
const (
	ActionProposed           = "ACTION_PROPOSED"
	ActionApproved           = "ACTION_APPROVED"
	ActionRejected           = "ACTION_REJECTED"
	ActionEnqueued           = "ACTION_ENQUEUED"
	ActionExecutionStarted   = "ACTION_EXECUTION_STARTED"
	ActionExecutionFinished  = "ACTION_EXECUTION_FINISHED"
)

// Logger emits audit events as structured log lines with a fixed
// "event" field, so log aggregation can filter on audit activity
// independent of severity level.
type Logger struct {
	log *logger.Logger
}

// New wraps an *internal/logger.Logger already scoped to the emitting
// component (hitl-service or action-executor).
func New(log *logger.Logger) *Logger {
	return &Logger{log: log}
}

// Emit records one audit event for a ProposedAction, with outcome and
// optional error detail merged into the structured fields.
func (a *Logger) Emit(event string, userID, requestID, actionID uuid.UUID, outcome string, errDetail string, extra map[string]interface{}) {
	fields := map[string]interface{}{
		"event":     event,
		"action_id": actionID.String(),
		"outcome":   outcome,
	}
	if errDetail != "" {
		fields["error_details"] = errDetail
	}
	for k, v := range extra {
		fields[k] = v
	}
	a.log.Info(userID.String(), requestID.String(), event, fields)
}
