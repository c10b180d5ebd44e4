package workflow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateWorkflowComputesInitialReadySet(t *testing.T) {
	m := New(NewMemoryStore(), nil, nil)
	w, err := m.CreateWorkflow("wf1", []TaskSpec{
		{ID: "A"},
		{ID: "B", DependsOn: []string{"A"}},
		{ID: "C", DependsOn: []string{"B"}},
	})
	require.NoError(t, err)
	require.Equal(t, TaskReady, w.Tasks["A"].Status)
	require.Equal(t, TaskPending, w.Tasks["B"].Status)
	require.Equal(t, TaskPending, w.Tasks["C"].Status)
}

// TestDAGReadyPropagationAToBToC exercises the A -> B -> C linear chain:
// completing A must ready B (not C), and completing B must ready C.
func TestDAGReadyPropagationAToBToC(t *testing.T) {
	m := New(NewMemoryStore(), nil, nil)
	_, err := m.CreateWorkflow("wf1", []TaskSpec{
		{ID: "A"},
		{ID: "B", DependsOn: []string{"A"}},
		{ID: "C", DependsOn: []string{"B"}},
	})
	require.NoError(t, err)

	require.NoError(t, m.UpdateTaskStatus("wf1", "A", TaskDone, nil, ""))
	ready, err := m.GetReadyTasks("wf1")
	require.NoError(t, err)
	require.Len(t, ready, 1)
	require.Equal(t, "B", ready[0].ID)

	require.NoError(t, m.UpdateTaskStatus("wf1", "B", TaskDone, nil, ""))
	ready, err = m.GetReadyTasks("wf1")
	require.NoError(t, err)
	require.Len(t, ready, 1)
	require.Equal(t, "C", ready[0].ID)
}

func TestFailedDependencyBlocksDownstreamTask(t *testing.T) {
	m := New(NewMemoryStore(), nil, nil)
	_, err := m.CreateWorkflow("wf1", []TaskSpec{
		{ID: "A"},
		{ID: "B", DependsOn: []string{"A"}},
	})
	require.NoError(t, err)

	require.NoError(t, m.UpdateTaskStatus("wf1", "A", TaskFailed, nil, "boom"))
	w, ok := m.GetWorkflow("wf1")
	require.True(t, ok)
	require.Equal(t, TaskBlocked, w.Tasks["B"].Status)
}

func TestAddTaskToExistingWorkflowRecomputesReadiness(t *testing.T) {
	m := New(NewMemoryStore(), nil, nil)
	_, err := m.CreateWorkflow("wf1", []TaskSpec{{ID: "A"}})
	require.NoError(t, err)
	require.NoError(t, m.UpdateTaskStatus("wf1", "A", TaskDone, nil, ""))

	require.NoError(t, m.AddTask("wf1", TaskSpec{ID: "B", DependsOn: []string{"A"}}))
	w, _ := m.GetWorkflow("wf1")
	require.Equal(t, TaskReady, w.Tasks["B"].Status)
}

func TestCheckpointAndResumeContext(t *testing.T) {
	m := New(NewMemoryStore(), nil, nil)
	_, err := m.CreateWorkflow("wf1", []TaskSpec{
		{ID: "A"},
		{ID: "B", DependsOn: []string{"A"}},
	})
	require.NoError(t, err)

	_, err = m.CreateCheckpoint("wf1", "initial")
	require.NoError(t, err)

	require.NoError(t, m.UpdateTaskStatus("wf1", "A", TaskDone, nil, ""))
	_, err = m.CreateCheckpoint("wf1", "after-A")
	require.NoError(t, err)

	latest, err := m.FindLatestCheckpoint("wf1")
	require.NoError(t, err)
	require.Equal(t, "after-A", latest.Label)

	resume, err := m.BuildResumeContext("wf1")
	require.NoError(t, err)
	require.Equal(t, "after-A", resume.Checkpoint.Label)
	require.Len(t, resume.ReadyTasks, 1)
	require.Equal(t, "B", resume.ReadyTasks[0].ID)
}

func TestFindLatestCheckpointNoneFoundError(t *testing.T) {
	m := New(NewMemoryStore(), nil, nil)
	_, err := m.CreateWorkflow("wf1", nil)
	require.NoError(t, err)

	_, err = m.FindLatestCheckpoint("wf1")
	require.ErrorIs(t, err, ErrNoCheckpoint)
}

type fakeAgentProvider struct{ agents []string }

func (f fakeAgentProvider) AvailableAgents() []string { return f.agents }

func TestGetAvailableAgentsDelegatesToProvider(t *testing.T) {
	m := New(NewMemoryStore(), fakeAgentProvider{agents: []string{"a1", "a2"}}, nil)
	require.Equal(t, []string{"a1", "a2"}, m.GetAvailableAgents())
}
