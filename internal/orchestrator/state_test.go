package orchestrator

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentfabric/platform/internal/model"
)

func TestNewState_EntersAtPlanNode(t *testing.T) {
	reqID, userID := uuid.New(), uuid.New()
	s := NewState(reqID, userID, "shop.myshopify.com", "how did we do last month")

	assert.Equal(t, nodePlan, s.Node)
	assert.Equal(t, reqID, s.AnalysisRequestID)
	assert.NotNil(t, s.AggregatedResults)
}

func TestState_MarshalUnmarshal_RoundTrips(t *testing.T) {
	s := NewState(uuid.New(), uuid.New(), "shop.myshopify.com", "prompt")
	s.Plan = []Step{{StepNum: 1, Department: model.DeptDataRetrieval, TaskDetails: json.RawMessage(`{"query":"x"}`)}}
	s.DispatchedTasks = []TaskInfo{{TaskID: uuid.New(), Department: model.DeptDataRetrieval, Status: model.TaskPending}}
	s.Node = nodeDispatch

	raw, err := s.Marshal()
	require.NoError(t, err)

	out, err := UnmarshalState(raw)
	require.NoError(t, err)
	assert.Equal(t, s.AnalysisRequestID, out.AnalysisRequestID)
	assert.Equal(t, s.Node, out.Node)
	assert.Len(t, out.Plan, 1)
	assert.Len(t, out.DispatchedTasks, 1)
}

func TestAllTerminalNoneFailed_ZeroLengthPlanIsTrue(t *testing.T) {
	s := &State{}
	assert.True(t, s.allTerminalNoneFailed())
}

func TestAllTerminalNoneFailed_FalseWhileAnyNonTerminal(t *testing.T) {
	s := &State{DispatchedTasks: []TaskInfo{{Status: model.TaskCompleted}, {Status: model.TaskRunning}}}
	assert.False(t, s.allTerminalNoneFailed())
}

func TestAllTerminalNoneFailed_FalseWhenOneFailed(t *testing.T) {
	s := &State{DispatchedTasks: []TaskInfo{{Status: model.TaskCompleted}, {Status: model.TaskFailed}}}
	assert.False(t, s.allTerminalNoneFailed())
	assert.True(t, s.anyFailed())
}

func TestAllTerminalNoneFailed_TrueWhenAllCompleted(t *testing.T) {
	s := &State{DispatchedTasks: []TaskInfo{{Status: model.TaskCompleted}, {Status: model.TaskCompleted}}}
	assert.True(t, s.allTerminalNoneFailed())
	assert.False(t, s.anyFailed())
}

func TestAllDispatched(t *testing.T) {
	s := &State{Plan: []Step{{}, {}}}
	assert.False(t, s.allDispatched())
	s.DispatchedTasks = []TaskInfo{{}, {}}
	assert.True(t, s.allDispatched())
}

func TestNonTerminalTaskIDs_ExcludesTerminal(t *testing.T) {
	pending, done := uuid.New(), uuid.New()
	s := &State{DispatchedTasks: []TaskInfo{
		{TaskID: pending, Status: model.TaskPending},
		{TaskID: done, Status: model.TaskCompleted},
	}}
	ids := s.nonTerminalTaskIDs()
	require.Len(t, ids, 1)
	assert.Equal(t, pending, ids[0])
}

func TestTaskByID_ReturnsMutablePointer(t *testing.T) {
	id := uuid.New()
	s := &State{DispatchedTasks: []TaskInfo{{TaskID: id, Status: model.TaskPending}}}

	info := s.taskByID(id)
	require.NotNil(t, info)
	info.Status = model.TaskCompleted

	assert.Equal(t, model.TaskCompleted, s.DispatchedTasks[0].Status)
	assert.Nil(t, s.taskByID(uuid.New()))
}
