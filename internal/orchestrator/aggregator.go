package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/agentfabric/platform/internal/llm"
	"github.com/agentfabric/platform/internal/model"
)

// ResultAggregator synthesizes aggregatedResults into one final answer,
// grounded on the teacher's ResultAggregator.AggregateResults: an LLM
// synthesis call over the successful task outputs. Unlike the teacher,
// whose simpleConcatenation fallback silently substitutes for a failed
// LLM call, this spec's aggregate node treats aggregator failure as an
// ordinary error edge to handle_error (§4.8, decided in SPEC_FULL/DESIGN.md),
// so Aggregate returns the error rather than falling back.
type ResultAggregator struct {
	router *llm.Router
}

// NewResultAggregator constructs a ResultAggregator bound to router.
func NewResultAggregator(router *llm.Router) *ResultAggregator {
	return &ResultAggregator{router: router}
}

// Aggregate invokes the aggregator-role LLM with the original prompt and
// the keyed results map, returning its text synthesis.
func (a *ResultAggregator) Aggregate(ctx context.Context, prefs *model.UserPreferences, originalPrompt string, results map[string]json.RawMessage) (string, error) {
	prompt := buildSynthesisPrompt(originalPrompt, results)

	resp, err := a.router.QueryForRole(ctx, model.RoleAggregator, prefs, prompt, llm.Options{})
	if err != nil {
		return "", fmt.Errorf("aggregator LLM call failed: %w", err)
	}
	if strings.TrimSpace(resp.Content) == "" {
		return "", fmt.Errorf("aggregator LLM returned empty synthesis")
	}
	return resp.Content, nil
}

// buildSynthesisPrompt mirrors the teacher's buildSynthesisPrompt,
// listing every task's id and its output (or error) in a stable order so
// the LLM call is deterministic given the same aggregatedResults map.
func buildSynthesisPrompt(originalPrompt string, results map[string]json.RawMessage) string {
	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	b.WriteString("You are the synthesis agent for a commerce analytics platform. ")
	b.WriteString("Combine the following task results into a single, coherent answer ")
	b.WriteString("to the user's original request.\n\n")
	fmt.Fprintf(&b, "Original request: %s\n\n", originalPrompt)
	b.WriteString("Task results:\n")
	for _, id := range ids {
		fmt.Fprintf(&b, "- %s: %s\n", id, string(results[id]))
	}
	b.WriteString("\nRespond with the final answer only.")
	return b.String()
}
