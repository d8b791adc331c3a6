// Package model defines the persistent entities of the analysis platform:
// users, linked commerce accounts, analysis requests, agent tasks, proposed
// actions and cached external data. See §3 of the design for invariants.
package model

import (
	"time"

	"github.com/google/uuid"
)

// AnalysisRequest status values. Terminal states freeze all fields except
// future audit edits; completed_at is set iff status is terminal.
const (
	RequestPending    = "pending"
	RequestProcessing = "processing"
	RequestCompleted  = "completed"
	RequestFailed     = "failed"
	RequestCancelled  = "cancelled"
)

// IsTerminalRequestStatus reports whether an AnalysisRequest status admits
// no further transitions other than the audit-only edits the data model
// allows.
func IsTerminalRequestStatus(status string) bool {
	switch status {
	case RequestCompleted, RequestFailed, RequestCancelled:
		return true
	default:
		return false
	}
}

// AgentTask status values. Status may only advance monotonically except for
// the pending<->retrying<->running oscillation the retry policy drives.
const (
	TaskPending   = "pending"
	TaskRunning   = "running"
	TaskRetrying  = "retrying"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
	TaskCancelled = "cancelled"
)

// IsTerminalTaskStatus reports whether an AgentTask status is a unit of
// at-most-once work that has already produced its one outcome.
func IsTerminalTaskStatus(status string) bool {
	return status == TaskCompleted || status == TaskFailed || status == TaskCancelled
}

// ProposedAction status values. Allowed transitions: proposed->approved
// ->executing->{executed,failed}; proposed->rejected. No other edges.
const (
	ActionProposed  = "proposed"
	ActionApproved  = "approved"
	ActionRejected  = "rejected"
	ActionExecuting = "executing"
	ActionExecuted  = "executed"
	ActionFailed    = "failed"
)

// Department tags, one per specialized worker queue.
const (
	DeptDataRetrieval = "data_retrieval"
	DeptQuantitative  = "quantitative"
	DeptQualitative   = "qualitative"
	DeptRecommendation = "recommendation"
	DeptComparative   = "comparative"
	DeptPredictive    = "predictive"
)

// AllDepartments lists every department tag in dispatch order preference.
var AllDepartments = []string{
	DeptDataRetrieval,
	DeptQuantitative,
	DeptQualitative,
	DeptRecommendation,
	DeptComparative,
	DeptPredictive,
}

// LinkedAccount status values.
const (
	AccountActive  = "active"
	AccountRevoked = "revoked"
)

// ModelRole names the four LLM roles UserPreferences may override.
const (
	RolePlanner    = "planner"
	RoleAggregator = "aggregator"
	RoleTool       = "tool"
	RoleCreative   = "creative"
)

// User is a platform account. Password hash and external subject id are
// optional (either, neither, or both may be set depending on how the user
// authenticated through the excluded front door).
type User struct {
	ID                 uuid.UUID
	Email              string
	PasswordHash       *string
	ExternalProviderID *string
	Active             bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// UserPreferences holds per-role preferred model identifiers. A nil field
// means "use the server default for that role".
type UserPreferences struct {
	UserID    uuid.UUID
	Planner   *string
	Aggregator *string
	Tool      *string
	Creative  *string
	UpdatedAt time.Time
}

// ResolveModel returns the preferred model for role, or def if unset.
func (p *UserPreferences) ResolveModel(role, def string) string {
	if p == nil {
		return def
	}
	var pref *string
	switch role {
	case RolePlanner:
		pref = p.Planner
	case RoleAggregator:
		pref = p.Aggregator
	case RoleTool:
		pref = p.Tool
	case RoleCreative:
		pref = p.Creative
	}
	if pref == nil || *pref == "" {
		return def
	}
	return *pref
}

// LinkedAccount is a tenant's credential record for an external commerce
// account. (user_id, account_type, account_name) is unique.
type LinkedAccount struct {
	ID                   uuid.UUID
	UserID               uuid.UUID
	AccountType          string
	AccountName          string
	EncryptedCredentials []byte
	Scopes               []string
	Status               string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// HasScopes reports whether every scope in required is present.
func (a *LinkedAccount) HasScopes(required []string) bool {
	granted := make(map[string]bool, len(a.Scopes))
	for _, s := range a.Scopes {
		granted[s] = true
	}
	for _, r := range required {
		if !granted[r] {
			return false
		}
	}
	return true
}

// AnalysisRequest is a user-submitted unit of work carried through
// planning, dispatch, aggregation and terminal reporting.
type AnalysisRequest struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	LinkedAccountID uuid.UUID
	Prompt          string
	Status          string
	ResultSummary   *string
	ResultData      []byte // free-form structured JSON
	AgentState      []byte // opaque checkpoint blob, jsonb
	ErrorMessage    *string
	CompletedAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// AgentTask is one step in a plan, executed by exactly one department
// worker and recorded as one row; it is the unit of idempotency.
type AgentTask struct {
	ID                uuid.UUID
	UserID            uuid.UUID
	AnalysisRequestID uuid.UUID
	TaskType          string
	Status            string
	InputData         []byte
	OutputData        []byte
	Logs              string
	RetryCount        int
	StartedAt         *time.Time
	CompletedAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ProposedAction is a structured, permission-guarded side effect proposed
// by the recommendation worker, approved by a user, executed by the action
// executor.
type ProposedAction struct {
	ID                uuid.UUID
	UserID            uuid.UUID
	AnalysisRequestID uuid.UUID
	LinkedAccountID   uuid.UUID
	ActionType        string
	Description       string
	Parameters        []byte // JSON object
	Status            string
	ExecutionLogs     string
	ApprovedAt        *time.Time
	ExecutedAt        *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// CachedExternalData is a TTL-bounded cache row fronting the commerce
// client's read operations; belongs to a LinkedAccount (and thus a User).
type CachedExternalData struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	LinkedAccountID uuid.UUID
	CacheKey        string
	Data            []byte
	CachedAt        time.Time
	ExpiresAt       time.Time
}

// Expired reports whether the cache row is no longer a hit as of now.
// expires_at == now is itself a miss (strict inequality).
func (c *CachedExternalData) Expired(now time.Time) bool {
	return !c.ExpiresAt.After(now)
}
