package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentfabric/platform/internal/broker"
	"github.com/agentfabric/platform/internal/model"
	"github.com/agentfabric/platform/internal/store"
	"github.com/agentfabric/platform/internal/worker"
)

// Node names, exactly the five of §4.8 plus a terminal sentinel.
const (
	nodePlan        = "plan"
	nodeDispatch    = "dispatch"
	nodeCheckStatus = "check_status"
	nodeAggregate   = "aggregate"
	nodeHandleError = "handle_error"
	nodeDone        = "done"
)

// Publisher is the broker capability the dispatch node needs.
type Publisher interface {
	Publish(ctx context.Context, queue string, payload interface{}) error
}

// Graph wires the five §4.8 nodes over a tenant-scoped AgentTaskStore and
// a Publisher, plus the planner/aggregator LLM engines. The driver builds
// one Graph per delivery through its graphFor factory; all per-request
// mutable data lives in State, not in Graph.
type Graph struct {
	tasks     *store.AgentTaskStore
	publisher Publisher
	planner   *PlanningEngine
	aggreg    *ResultAggregator
}

// NewGraph constructs a Graph for one tenant-scoped request handling.
func NewGraph(tasks *store.AgentTaskStore, publisher Publisher, planner *PlanningEngine, aggreg *ResultAggregator) *Graph {
	return &Graph{tasks: tasks, publisher: publisher, planner: planner, aggreg: aggreg}
}

// Step advances state by exactly one node visit and returns whether the
// graph has reached a terminal node (done or handle_error having already
// run). The driver loop calls Step repeatedly, checkpointing before and
// after each call, until Step reports done.
func (g *Graph) Step(ctx context.Context, prefs *model.UserPreferences, s *State) (done bool, err error) {
	switch s.Node {
	case nodePlan:
		return g.runPlan(ctx, prefs, s)
	case nodeDispatch:
		return g.runDispatch(ctx, s)
	case nodeCheckStatus:
		return g.runCheckStatus(ctx, s)
	case nodeAggregate:
		return g.runAggregate(ctx, prefs, s)
	case nodeHandleError:
		return g.runHandleError(ctx, s)
	case nodeDone:
		return true, nil
	default:
		return false, fmt.Errorf("orchestrator: unknown node %q", s.Node)
	}
}

// runPlan implements §4.8 node 1. Parse failures set error and route to
// handle_error; success resets plan-scoped state and routes to dispatch.
func (g *Graph) runPlan(ctx context.Context, prefs *model.UserPreferences, s *State) (bool, error) {
	steps, err := g.planner.GeneratePlan(ctx, prefs, s.OriginalPrompt)
	if err != nil {
		s.setError("%s", err.Error())
		s.Node = nodeHandleError
		return false, nil
	}

	s.Plan = steps
	s.DispatchedTasks = nil
	s.AggregatedResults = map[string]json.RawMessage{}
	s.Node = nodeDispatch
	return false, nil
}

// runDispatch implements §4.8 node 2: exactly one step dispatched per
// visit, looping through this node until the plan is exhausted.
func (g *Graph) runDispatch(ctx context.Context, s *State) (bool, error) {
	if s.allDispatched() {
		s.Node = nodeCheckStatus
		return false, nil
	}

	idx := len(s.DispatchedTasks)
	step := s.Plan[idx]

	details, err := g.injectDependency(s, idx, step)
	if err != nil {
		s.setError("%s", err.Error())
		s.Node = nodeHandleError
		return false, nil
	}

	task, err := g.tasks.Create(ctx, s.UserID, s.AnalysisRequestID, step.Department, details)
	if err != nil {
		return false, fmt.Errorf("orchestrator: create agent task for step %d: %w", step.StepNum, err)
	}

	queue, err := broker.DepartmentQueue(step.Department)
	if err != nil {
		return false, fmt.Errorf("orchestrator: resolve queue for department %s: %w", step.Department, err)
	}

	msg := worker.Message{
		TaskID:            task.ID,
		AnalysisRequestID: s.AnalysisRequestID,
		UserID:            s.UserID,
		ShopDomain:        s.ShopDomain,
		TaskDetails:       details,
	}
	if err := g.publisher.Publish(ctx, queue, msg); err != nil {
		return false, fmt.Errorf("orchestrator: publish task %s to %s: %w", task.ID, queue, err)
	}

	s.DispatchedTasks = append(s.DispatchedTasks, TaskInfo{
		TaskID:       task.ID,
		Department:   step.Department,
		Status:       model.TaskPending,
		InputPayload: details,
	})

	// Stay on dispatch while steps remain; once the last step is out, move
	// straight to check_status.
	if s.allDispatched() {
		s.Node = nodeCheckStatus
	}
	return false, nil
}

// injectDependency resolves §4.8 step 2's dependency rule: Quantitative,
// Qualitative, Recommendation and Comparative steps receive the prior
// step's aggregated result injected into task_details, under
// retrieved_data (or analysis_results for Recommendation). A missing
// prior result is an error per §4.8.
func (g *Graph) injectDependency(s *State, idx int, step Step) (json.RawMessage, error) {
	needsPrior := map[string]bool{
		model.DeptQuantitative:   true,
		model.DeptQualitative:    true,
		model.DeptRecommendation: true,
		model.DeptComparative:    true,
	}
	if idx == 0 || !needsPrior[step.Department] {
		return step.TaskDetails, nil
	}

	prior := s.DispatchedTasks[idx-1]
	result, ok := s.AggregatedResults[prior.TaskID.String()]
	if !ok {
		return nil, fmt.Errorf("missing prior result for step %d (department %s depends on task %s)", step.StepNum, step.Department, prior.TaskID)
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(step.TaskDetails, &merged); err != nil {
		merged = map[string]json.RawMessage{}
	}

	key := "retrieved_data"
	if step.Department == model.DeptRecommendation {
		key = "analysis_results"
	}
	merged[key] = result

	out, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("marshal merged task_details: %w", err)
	}
	return out, nil
}

// runCheckStatus implements §4.8 node 3: a single batch read of every
// non-terminal dispatched task, copying status/output/logs into the
// matching TaskInfo and routing on the aggregate edges.
func (g *Graph) runCheckStatus(ctx context.Context, s *State) (bool, error) {
	ids := s.nonTerminalTaskIDs()
	if len(ids) > 0 {
		rows, err := g.tasks.GetMany(ctx, ids)
		if err != nil {
			return false, fmt.Errorf("orchestrator: poll agent tasks: %w", err)
		}
		for _, row := range rows {
			info := s.taskByID(row.ID)
			if info == nil {
				continue
			}
			info.Status = row.Status
			if row.Status == model.TaskCompleted {
				info.Result = row.OutputData
				s.AggregatedResults[row.ID.String()] = row.OutputData
			}
			if row.Status == model.TaskFailed {
				info.ErrorMessage = row.Logs
				errPayload, _ := json.Marshal(map[string]string{"error": row.Logs})
				s.AggregatedResults[row.ID.String()] = errPayload
			}
		}
	}

	switch {
	case s.Error != nil:
		s.Node = nodeHandleError
	case s.allTerminalNoneFailed():
		s.Node = nodeAggregate
	case s.anyFailed():
		s.Node = nodeHandleError
	default:
		// loop: remain on check_status, the driver loop sleeps between visits
	}
	return false, nil
}

// runAggregate implements §4.8 node 4. Aggregator failure sets error and
// routes to handle_error rather than silently falling back, per the
// Open Question decision recorded in SPEC_FULL.md (C8).
func (g *Graph) runAggregate(ctx context.Context, prefs *model.UserPreferences, s *State) (bool, error) {
	final, err := g.aggreg.Aggregate(ctx, prefs, s.OriginalPrompt, s.AggregatedResults)
	if err != nil {
		s.setError("aggregation failed: %s", err.Error())
		s.Node = nodeHandleError
		return false, nil
	}
	s.FinalResult = &final
	s.Node = nodeDone
	return true, nil
}

// runHandleError implements §4.8 node 5: consolidates any task-level
// failures into s.Error if not already set, then marks done. The driver
// loop is responsible for writing AnalysisRequest.failed from s.Error.
func (g *Graph) runHandleError(ctx context.Context, s *State) (bool, error) {
	if s.Error == nil {
		s.setError("%s", consolidateTaskFailures(s))
	}
	s.Node = nodeDone
	return true, nil
}

// consolidateTaskFailures builds the error message §8 scenario 3 expects:
// naming the failing department and task id.
func consolidateTaskFailures(s *State) string {
	for _, t := range s.DispatchedTasks {
		if t.Status == model.TaskFailed {
			return fmt.Sprintf("task %s (department %s) failed: %s", t.TaskID, t.Department, t.ErrorMessage)
		}
	}
	return "unknown orchestration failure"
}
