package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentfabric/platform/internal/llm"
)

func TestGeneratePlan_ParsesValidJSONArray(t *testing.T) {
	router := llm.NewRouter("mock", nil)
	router.Register(llm.NewMockProvider(`[
		{"step":1,"department":"data_retrieval","task_details":{"query":"fetch orders"},"description":"get orders"},
		{"step":2,"department":"quantitative","task_details":{"query":"totals"},"description":"compute totals"}
	]`))

	e := NewPlanningEngine(router)
	steps, err := e.GeneratePlan(context.Background(), nil, "how did we do last month")

	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, "data_retrieval", steps[0].Department)
	assert.Equal(t, "quantitative", steps[1].Department)
}

func TestGeneratePlan_StripsCodeFence(t *testing.T) {
	router := llm.NewRouter("mock", nil)
	router.Register(llm.NewMockProvider("```json\n[{\"step\":1,\"department\":\"data_retrieval\",\"task_details\":{},\"description\":\"x\"}]\n```"))

	e := NewPlanningEngine(router)
	steps, err := e.GeneratePlan(context.Background(), nil, "prompt")

	require.NoError(t, err)
	require.Len(t, steps, 1)
}

func TestGeneratePlan_EmptyArrayIsValid(t *testing.T) {
	router := llm.NewRouter("mock", nil)
	router.Register(llm.NewMockProvider("[]"))

	e := NewPlanningEngine(router)
	steps, err := e.GeneratePlan(context.Background(), nil, "prompt")

	require.NoError(t, err)
	assert.Len(t, steps, 0)
}

func TestGeneratePlan_NonJSONResponseIsParseFailure(t *testing.T) {
	router := llm.NewRouter("mock", nil)
	router.Register(llm.NewMockProvider("I cannot help with that."))

	e := NewPlanningEngine(router)
	_, err := e.GeneratePlan(context.Background(), nil, "prompt")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "Parse fail")
}

func TestGeneratePlan_UnknownDepartmentIsParseFailure(t *testing.T) {
	router := llm.NewRouter("mock", nil)
	router.Register(llm.NewMockProvider(`[{"step":1,"department":"astrology","task_details":{},"description":"x"}]`))

	e := NewPlanningEngine(router)
	_, err := e.GeneratePlan(context.Background(), nil, "prompt")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "Parse fail")
}
