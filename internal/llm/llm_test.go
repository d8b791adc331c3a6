package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentfabric/platform/internal/model"
)

func TestRouter_QueryForRole_UsesUserPreferenceOverDefault(t *testing.T) {
	r := NewRouter("mock", map[string]string{model.RolePlanner: "default-planner-model"})
	r.Register(NewMockProvider("hello"))

	preferred := "user-preferred-model"
	prefs := &model.UserPreferences{Planner: &preferred}

	resp, err := r.QueryForRole(context.Background(), model.RolePlanner, prefs, "plan this", Options{})
	require.NoError(t, err)
	assert.Equal(t, "user-preferred-model", resp.Model)
	assert.Equal(t, "hello", resp.Content)
}

func TestRouter_QueryForRole_FallsBackToDefault(t *testing.T) {
	r := NewRouter("mock", map[string]string{model.RoleAggregator: "default-aggregator-model"})
	r.Register(NewMockProvider("synthesis"))

	resp, err := r.QueryForRole(context.Background(), model.RoleAggregator, nil, "aggregate this", Options{})
	require.NoError(t, err)
	assert.Equal(t, "default-aggregator-model", resp.Model)
}

func TestRouter_QueryForRole_MissingProvider(t *testing.T) {
	r := NewRouter("bedrock", map[string]string{})
	_, err := r.QueryForRole(context.Background(), model.RoleTool, nil, "x", Options{})
	assert.Error(t, err)
}

func TestRouter_IsHealthy(t *testing.T) {
	r := NewRouter("mock", nil)
	assert.False(t, r.IsHealthy())

	r.Register(&MockProvider{Healthy: true})
	assert.True(t, r.IsHealthy())
}
