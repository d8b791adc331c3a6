package orchestrator

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentfabric/platform/internal/llm"
)

func TestAggregate_ReturnsSynthesisContent(t *testing.T) {
	router := llm.NewRouter("mock", nil)
	router.Register(llm.NewMockProvider("orders are up 12% month over month"))

	a := NewResultAggregator(router)
	results := map[string]json.RawMessage{
		"task-1": json.RawMessage(`{"total":1200}`),
	}

	out, err := a.Aggregate(context.Background(), nil, "how did we do last month", results)

	require.NoError(t, err)
	assert.Equal(t, "orders are up 12% month over month", out)
}

func TestAggregate_EmptySynthesisIsError(t *testing.T) {
	router := llm.NewRouter("mock", nil)
	router.Register(llm.NewMockProvider("   "))

	a := NewResultAggregator(router)
	_, err := a.Aggregate(context.Background(), nil, "prompt", nil)

	require.Error(t, err)
}

func TestBuildSynthesisPrompt_IsDeterministicAcrossMapOrdering(t *testing.T) {
	results := map[string]json.RawMessage{
		"b": json.RawMessage(`2`),
		"a": json.RawMessage(`1`),
	}

	first := buildSynthesisPrompt("prompt", results)
	second := buildSynthesisPrompt("prompt", results)

	assert.Equal(t, first, second)
	assert.Less(t, indexOf(first, "- a:"), indexOf(first, "- b:"))
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
