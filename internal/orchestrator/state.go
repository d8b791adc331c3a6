// Package orchestrator implements the five-node graph of §4.8: plan,
// dispatch, check_status, aggregate, handle_error, driving an
// AnalysisRequest from pending to a terminal status. It is grounded on
// the teacher's workflow_engine.go state-machine shape and
// planning_engine.go/result_aggregator.go's LLM-call-with-fallback
// pattern, generalized from the teacher's travel/healthcare/finance
// domains to this spec's fixed commerce-analytics department set.
package orchestrator

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/agentfabric/platform/internal/model"
)

// Step is one planned unit of work, as emitted by the planner LLM.
type Step struct {
	StepNum     int             `json:"step"`
	Department  string          `json:"department"`
	TaskDetails json.RawMessage `json:"task_details"`
	Description string          `json:"description"`
}

// TaskInfo tracks one dispatched Step's lifecycle as the graph sees it:
// the orchestrator's own mirror of the AgentTask row, refreshed by
// check_status.
type TaskInfo struct {
	TaskID        uuid.UUID       `json:"task_id"`
	Department    string          `json:"department"`
	Status        string          `json:"status"`
	InputPayload  json.RawMessage `json:"input_payload"`
	Result        json.RawMessage `json:"result,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
}

// State is the full, serializable graph state for one AnalysisRequest.
// It round-trips through the Checkpointer's agent_state blob verbatim:
// load(save(state)) == state for every reachable state, per §8.
type State struct {
	AnalysisRequestID uuid.UUID `json:"analysis_request_id"`
	UserID            uuid.UUID `json:"user_id"`
	ShopDomain        string    `json:"shop_domain"`
	OriginalPrompt    string    `json:"original_prompt"`

	Plan               []Step              `json:"plan,omitempty"`
	DispatchedTasks    []TaskInfo          `json:"dispatched_tasks,omitempty"`
	AggregatedResults  map[string]json.RawMessage `json:"aggregated_results,omitempty"`
	FinalResult        *string             `json:"final_result,omitempty"`
	Error              *string             `json:"error,omitempty"`

	// Node is the graph node to resume into; not part of spec.md's literal
	// State shape but required to make the checkpoint self-describing for
	// resume, since §4.8 leaves "thread_id -> (config, checkpoint)" config
	// opaque to this spec. Stored alongside State rather than invented as
	// a separate store concept.
	Node string `json:"node"`
}

// NewState constructs the initial State for a freshly-ingested request,
// entering at the plan node per §4.8's edges ("entry -> plan").
func NewState(analysisRequestID, userID uuid.UUID, shopDomain, prompt string) *State {
	return &State{
		AnalysisRequestID: analysisRequestID,
		UserID:            userID,
		ShopDomain:        shopDomain,
		OriginalPrompt:    prompt,
		AggregatedResults: map[string]json.RawMessage{},
		Node:              nodePlan,
	}
}

// Marshal serializes State for the Checkpointer.
func (s *State) Marshal() (json.RawMessage, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: marshal state: %w", err)
	}
	return b, nil
}

// UnmarshalState deserializes a checkpoint blob back into a State.
func UnmarshalState(raw json.RawMessage) (*State, error) {
	s := &State{}
	if err := json.Unmarshal(raw, s); err != nil {
		return nil, fmt.Errorf("orchestrator: unmarshal state: %w", err)
	}
	if s.AggregatedResults == nil {
		s.AggregatedResults = map[string]json.RawMessage{}
	}
	return s, nil
}

// setError records a consolidated error, used by every node on an
// unrecoverable failure; the calling node sets Node to handle_error itself.
func (s *State) setError(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	s.Error = &msg
}

// taskByID finds the mutable TaskInfo for taskID, or nil.
func (s *State) taskByID(taskID uuid.UUID) *TaskInfo {
	for i := range s.DispatchedTasks {
		if s.DispatchedTasks[i].TaskID == taskID {
			return &s.DispatchedTasks[i]
		}
	}
	return nil
}

// allDispatched reports whether every planned Step has a TaskInfo.
func (s *State) allDispatched() bool {
	return len(s.DispatchedTasks) >= len(s.Plan)
}

// nonTerminalTaskIDs returns the task ids still pending/running/retrying.
func (s *State) nonTerminalTaskIDs() []uuid.UUID {
	var ids []uuid.UUID
	for _, t := range s.DispatchedTasks {
		if !model.IsTerminalTaskStatus(t.Status) {
			ids = append(ids, t.TaskID)
		}
	}
	return ids
}

// allTerminalNoneFailed reports whether every dispatched task has reached
// a terminal status and none of them failed.
func (s *State) allTerminalNoneFailed() bool {
	if len(s.DispatchedTasks) == 0 {
		return true // zero-step plan: §8 "plan length zero... moves directly to aggregate"
	}
	anyNonTerminal := false
	for _, t := range s.DispatchedTasks {
		if !model.IsTerminalTaskStatus(t.Status) {
			anyNonTerminal = true
		}
		if t.Status == model.TaskFailed {
			return false
		}
	}
	return !anyNonTerminal
}

// anyFailed reports whether at least one dispatched task failed.
func (s *State) anyFailed() bool {
	for _, t := range s.DispatchedTasks {
		if t.Status == model.TaskFailed {
			return true
		}
	}
	return false
}
