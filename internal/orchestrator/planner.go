package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agentfabric/platform/internal/llm"
	"github.com/agentfabric/platform/internal/model"
)

// departmentHints mirrors the teacher's DomainTemplate.Hints, collapsed
// from travel/healthcare/finance domains to this spec's fixed
// commerce-analytics department set (§2's C7 row).
var departmentHints = map[string]string{
	model.DeptDataRetrieval:   "fetch the raw records (orders, products, inventory) the request needs",
	model.DeptQuantitative:    "compute metrics (totals, rates, trends) over retrieved data",
	model.DeptQualitative:     "analyze sentiment/themes in free-text signals",
	model.DeptRecommendation:  "recommend concrete next steps, proposing actions where appropriate",
	model.DeptComparative:     "compare cohorts, periods or segments",
	model.DeptPredictive:      "forecast forward from historical data",
}

// PlanningEngine generates a Plan (an ordered list of Steps) from a
// natural-language prompt, grounded on the teacher's PlanningEngine:
// an LLM call expected to return JSON. A failed call or output that
// doesn't parse is returned as an error; there is no heuristic fallback.
type PlanningEngine struct {
	router *llm.Router
}

// NewPlanningEngine constructs a PlanningEngine bound to router.
func NewPlanningEngine(router *llm.Router) *PlanningEngine {
	return &PlanningEngine{router: router}
}

// plannerStep is the wire shape the planner LLM is asked to emit; decoded
// separately from Step so a step that arrives without task_details can be
// given an empty object.
type plannerStep struct {
	Step        int             `json:"step"`
	Department  string          `json:"department"`
	TaskDetails json.RawMessage `json:"task_details"`
	Description string          `json:"description"`
}

// GeneratePlan invokes the planner-role LLM with prompt and decodes its
// response as a JSON array of Steps. A response that isn't valid JSON,
// or whose department names aren't in model.AllDepartments, is a
// BadFormat per §9's PlanResult sum type: the caller (the plan node)
// treats the returned error as the parse-failure edge to handle_error.
func (e *PlanningEngine) GeneratePlan(ctx context.Context, prefs *model.UserPreferences, prompt string) ([]Step, error) {
	llmPrompt := buildPlannerPrompt(prompt)

	resp, err := e.router.QueryForRole(ctx, model.RolePlanner, prefs, llmPrompt, llm.Options{})
	if err != nil {
		return nil, fmt.Errorf("Parse fail: planner LLM call failed: %w", err)
	}

	steps, parseErr := parsePlanResponse(resp.Content)
	if parseErr != nil {
		return nil, fmt.Errorf("Parse fail: %w", parseErr)
	}
	return steps, nil
}

func buildPlannerPrompt(prompt string) string {
	var b strings.Builder
	b.WriteString("You are the planning agent for a commerce analytics platform. ")
	b.WriteString("Decompose the user's request into an ordered JSON array of steps. ")
	b.WriteString("Each step is an object with fields: step (int, 1-based), department (one of ")
	b.WriteString(strings.Join(model.AllDepartments, ", "))
	b.WriteString("), task_details (an object with at least a \"query\" field), description (one line). ")
	b.WriteString("Respond with ONLY the JSON array, no surrounding prose.\n\n")
	b.WriteString("Department hints:\n")
	for _, d := range model.AllDepartments {
		fmt.Fprintf(&b, "- %s: %s\n", d, departmentHints[d])
	}
	b.WriteString("\nUser request: ")
	b.WriteString(prompt)
	return b.String()
}

// parsePlanResponse decodes content as a JSON array of plannerStep and
// validates every department name, per the plan node's contract in §4.8.
func parsePlanResponse(content string) ([]Step, error) {
	trimmed := strings.TrimSpace(content)
	trimmed = stripCodeFence(trimmed)

	var raw []plannerStep
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		return nil, fmt.Errorf("planner output is not a JSON array: %w", err)
	}
	if len(raw) == 0 {
		return []Step{}, nil // zero-length plan is valid, per §8
	}

	known := make(map[string]bool, len(model.AllDepartments))
	for _, d := range model.AllDepartments {
		known[d] = true
	}

	steps := make([]Step, 0, len(raw))
	for _, r := range raw {
		if !known[r.Department] {
			return nil, fmt.Errorf("unknown department %q in planner step %d", r.Department, r.Step)
		}
		details := r.TaskDetails
		if len(details) == 0 {
			details = json.RawMessage(`{}`)
		}
		steps = append(steps, Step{
			StepNum:     r.Step,
			Department:  r.Department,
			TaskDetails: details,
			Description: r.Description,
		})
	}
	return steps, nil
}

// stripCodeFence removes a surrounding ```json ... ``` or ``` ... ```
// fence, since LLMs frequently wrap JSON output in one despite being
// asked not to.
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
