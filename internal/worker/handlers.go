package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentfabric/platform/internal/commerceclient"
	"github.com/agentfabric/platform/internal/llm"
	"github.com/agentfabric/platform/internal/model"
)

// taskDetails is the department-specific payload carried in a dispatched
// AgentTask's input_data / a dept.* message's task_details, as the
// orchestrator's dispatch node assembles it (§4.8 step 2).
type taskDetails struct {
	Query           string          `json:"query"`
	RetrievedData   json.RawMessage `json:"retrieved_data,omitempty"`
	AnalysisResults json.RawMessage `json:"analysis_results,omitempty"`
}

// llmHandlerResult is the common output shape every LLM-backed department
// handler produces.
type llmHandlerResult struct {
	Content string `json:"content"`
}

// buildTaskPrompt assembles the per-department prompt text, generalized
// from the teacher's per-domain buildTaskPrompt into one shape per
// commerce-analytics department. Each department's hint steers the LLM
// toward the kind of analysis its name implies.
func buildTaskPrompt(department, hint string, d taskDetails) string {
	prompt := fmt.Sprintf("You are the %s analysis agent for a commerce analytics platform.\n\n", department)
	prompt += hint + "\n\n"
	prompt += fmt.Sprintf("Task: %s\n\n", d.Query)
	if len(d.RetrievedData) > 0 {
		prompt += fmt.Sprintf("Retrieved data:\n%s\n\n", string(d.RetrievedData))
	}
	if len(d.AnalysisResults) > 0 {
		prompt += fmt.Sprintf("Prior analysis results:\n%s\n\n", string(d.AnalysisResults))
	}
	prompt += "Respond with a clear, complete answer to the task."
	return prompt
}

func parseTaskDetails(msg Message) (taskDetails, error) {
	var d taskDetails
	if len(msg.TaskDetails) == 0 {
		return d, fmt.Errorf("worker: empty task_details")
	}
	if err := json.Unmarshal(msg.TaskDetails, &d); err != nil {
		return d, fmt.Errorf("worker: parse task_details: %w", err)
	}
	return d, nil
}

// llmDepartmentHandler is shared plumbing for the four departments whose
// work is entirely "ask the tool-role LLM and return its text": only the
// department tag and its prompt hint differ.
type llmDepartmentHandler struct {
	department string
	hint       string
	router     *llm.Router
}

func (h *llmDepartmentHandler) Department() string { return h.department }

func (h *llmDepartmentHandler) Handle(ctx context.Context, msg Message) ([]byte, error) {
	details, err := parseTaskDetails(msg)
	if err != nil {
		return nil, err
	}

	prompt := buildTaskPrompt(h.department, h.hint, details)
	resp, err := h.router.QueryForRole(ctx, model.RoleTool, nil, prompt, llm.Options{})
	if err != nil {
		return nil, fmt.Errorf("worker(%s): llm query: %w", h.department, err)
	}

	out, err := json.Marshal(llmHandlerResult{Content: resp.Content})
	if err != nil {
		return nil, fmt.Errorf("worker(%s): marshal output: %w", h.department, err)
	}
	return out, nil
}

// NewQuantitativeHandler analyzes retrieved numeric/data results
// (order volumes, revenue, growth rates) the prior data-retrieval step
// produced.
func NewQuantitativeHandler(router *llm.Router) DepartmentHandler {
	return &llmDepartmentHandler{
		department: model.DeptQuantitative,
		hint:       "Compute and explain quantitative metrics (totals, rates, trends) from the retrieved data.",
		router:     router,
	}
}

// NewQualitativeHandler analyzes free-text signals (reviews, support
// tickets, feedback) for sentiment and themes.
func NewQualitativeHandler(router *llm.Router) DepartmentHandler {
	return &llmDepartmentHandler{
		department: model.DeptQualitative,
		hint:       "Identify themes, sentiment, and notable qualitative patterns in the retrieved data.",
		router:     router,
	}
}

// NewComparativeHandler compares cohorts, periods, or segments against
// each other.
func NewComparativeHandler(router *llm.Router) DepartmentHandler {
	return &llmDepartmentHandler{
		department: model.DeptComparative,
		hint:       "Compare the relevant segments, periods, or cohorts and highlight material differences.",
		router:     router,
	}
}

// NewPredictiveHandler projects forward from historical data (forecasts,
// trend extrapolation).
func NewPredictiveHandler(router *llm.Router) DepartmentHandler {
	return &llmDepartmentHandler{
		department: model.DeptPredictive,
		hint:       "Project forward from the historical data: forecast the relevant metric with a stated confidence basis.",
		router:     router,
	}
}

// RecommendationHandler additionally prompts for, and forwards,
// [PROPOSED_ACTION] blocks per §4.6 — its output isn't just advisory text,
// it may contain concrete action proposals the HITL pipeline parses out
// downstream.
type RecommendationHandler struct {
	router *llm.Router
}

// NewRecommendationHandler constructs the recommendation department's
// handler.
func NewRecommendationHandler(router *llm.Router) DepartmentHandler {
	return &RecommendationHandler{router: router}
}

func (h *RecommendationHandler) Department() string { return model.DeptRecommendation }

func (h *RecommendationHandler) Handle(ctx context.Context, msg Message) ([]byte, error) {
	details, err := parseTaskDetails(msg)
	if err != nil {
		return nil, err
	}

	hint := "Recommend concrete next steps. For any action you recommend taking on the " +
		"commerce backend (price change, discount code, inventory adjustment), emit a block:\n" +
		"[PROPOSED_ACTION]\naction_type: <type>\ndescription: <one line>\nparameters: <JSON object>\n[/PROPOSED_ACTION]"
	prompt := buildTaskPrompt(model.DeptRecommendation, hint, details)

	resp, err := h.router.QueryForRole(ctx, model.RoleCreative, nil, prompt, llm.Options{})
	if err != nil {
		return nil, fmt.Errorf("worker(recommendation): llm query: %w", err)
	}

	out, err := json.Marshal(llmHandlerResult{Content: resp.Content})
	if err != nil {
		return nil, fmt.Errorf("worker(recommendation): marshal output: %w", err)
	}
	return out, nil
}

// DataRetrievalHandler is the one department backed by the commerce
// client rather than an LLM call: it fetches raw data the later
// departments analyze.
type DataRetrievalHandler struct {
	newClient func(ctx context.Context, msg Message) (*commerceclient.Client, error)
}

// NewDataRetrievalHandler takes a factory so the caller can bind per-task
// tenant/account context (user_id, linked_account_id) without this
// handler needing to know how clients are constructed.
func NewDataRetrievalHandler(newClient func(ctx context.Context, msg Message) (*commerceclient.Client, error)) DepartmentHandler {
	return &DataRetrievalHandler{newClient: newClient}
}

func (h *DataRetrievalHandler) Department() string { return model.DeptDataRetrieval }

// retrievalRequest is the data_retrieval department's task_details shape:
// an operation name plus its canonicalized args, forwarded to the cache-
// fronted commerceclient.Get.
type retrievalRequest struct {
	Operation string            `json:"operation"`
	Path      string            `json:"path"`
	Args      map[string]string `json:"args"`
}

func (h *DataRetrievalHandler) Handle(ctx context.Context, msg Message) ([]byte, error) {
	var req retrievalRequest
	if err := json.Unmarshal(msg.TaskDetails, &req); err != nil {
		return nil, fmt.Errorf("worker(data_retrieval): parse task_details: %w", err)
	}

	client, err := h.newClient(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("worker(data_retrieval): build commerce client: %w", err)
	}

	data, err := client.Get(ctx, req.Operation, req.Path, req.Args)
	if err != nil {
		return nil, fmt.Errorf("worker(data_retrieval): fetch %s: %w", req.Operation, err)
	}
	return data, nil
}
