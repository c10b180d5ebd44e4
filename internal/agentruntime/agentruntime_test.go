package agentruntime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDeployRespectsQuota(t *testing.T) {
	r := New(1, nil, nil, nil)
	r.RegisterTemplate(CatalogEntry{ID: "worker", Name: "Worker"})

	inst1, err := r.Deploy("worker", nil, nil)
	require.NoError(t, err)
	require.Equal(t, InstanceIdle, inst1.Status)

	_, err = r.Deploy("worker", nil, nil)
	require.ErrorIs(t, err, ErrQuotaExceeded)
}

func TestDeployUnknownTemplate(t *testing.T) {
	r := New(1, nil, nil, nil)
	_, err := r.Deploy("ghost", nil, nil)
	require.ErrorIs(t, err, ErrUnknownTemplate)
}

func TestResolveQuotaPrecedenceWorkflowOverProjectOverDefault(t *testing.T) {
	r := New(5, nil, nil, nil)
	r.SetQuota("worker", Quota{Default: 3})

	wf := 1
	proj := 2
	require.Equal(t, 1, r.ResolveQuota("worker", &wf, &proj))
	require.Equal(t, 2, r.ResolveQuota("worker", nil, &proj))
	require.Equal(t, 3, r.ResolveQuota("worker", nil, nil))
	require.Equal(t, 5, r.ResolveQuota("other", nil, nil))
}

func TestDispatchAcceptsImmediatelyWhenInstanceIdle(t *testing.T) {
	r := New(1, nil, nil, nil)
	r.RegisterTemplate(CatalogEntry{ID: "worker"})
	_, err := r.Deploy("worker", nil, nil)
	require.NoError(t, err)

	a, status, err := r.Dispatch(context.Background(), DispatchRequest{Target: "worker", Task: map[string]any{"x": 1}})
	require.NoError(t, err)
	require.Equal(t, DispatchQueued, status)
	require.Equal(t, PhaseStarted, a.Phase)
}

// TestDispatchToUndeployedTargetFailsAgentNotStarted covers the spec rule
// that Deploy must precede Dispatch: a target with zero instances fails
// fast instead of queueing forever.
func TestDispatchToUndeployedTargetFailsAgentNotStarted(t *testing.T) {
	r := New(0, nil, nil, nil)
	r.RegisterTemplate(CatalogEntry{ID: "worker"})

	_, _, err := r.Dispatch(context.Background(), DispatchRequest{Target: "worker"})
	require.ErrorIs(t, err, ErrAgentNotStarted)
}

func TestDispatchQueuesWhenInstanceBusy(t *testing.T) {
	r := New(1, nil, nil, nil)
	r.RegisterTemplate(CatalogEntry{ID: "worker"})
	_, err := r.Deploy("worker", nil, nil)
	require.NoError(t, err)

	a1, status1, err := r.Dispatch(context.Background(), DispatchRequest{Target: "worker"})
	require.NoError(t, err)
	require.Equal(t, DispatchQueued, status1)
	require.Equal(t, InstanceBusy, r.ViewTarget("worker").Instances[0].Status)

	a2, status2, err := r.Dispatch(context.Background(), DispatchRequest{Target: "worker", QueueOnBusy: true})
	require.NoError(t, err)
	require.Equal(t, DispatchQueued, status2)
	require.Equal(t, PhaseQueued, a2.Phase)
	require.NotEqual(t, a1.ID, a2.ID)
}

func TestCompleteAssignmentDrainsQueueFIFO(t *testing.T) {
	r := New(1, nil, nil, nil)
	r.RegisterTemplate(CatalogEntry{ID: "worker"})
	_, err := r.Deploy("worker", nil, nil)
	require.NoError(t, err)

	a1, status1, _ := r.Dispatch(context.Background(), DispatchRequest{Target: "worker", Task: map[string]any{"n": 1}})
	require.Equal(t, DispatchQueued, status1)
	a2, status2, _ := r.Dispatch(context.Background(), DispatchRequest{Target: "worker", Task: map[string]any{"n": 2}})
	require.Equal(t, DispatchQueued, status2)

	require.NoError(t, r.CompleteAssignment(a1.ID, "done", ""))

	view := r.ViewTarget("worker")
	require.Equal(t, 0, view.QueueLen)
	require.Equal(t, PhaseStarted, a2.Phase)
	require.Equal(t, InstanceBusy, view.Instances[0].Status)
}

func TestCompleteAssignmentReviewDecisionMapping(t *testing.T) {
	r := New(1, nil, nil, nil)
	r.RegisterTemplate(CatalogEntry{ID: "worker"})
	_, err := r.Deploy("worker", nil, nil)
	require.NoError(t, err)

	a, _, _ := r.Dispatch(context.Background(), DispatchRequest{Target: "worker"})
	require.NoError(t, r.CompleteAssignment(a.ID, map[string]any{"reviewDecision": "retry"}, ""))
	require.Equal(t, PhaseRetry, a.Phase)

	b, _, _ := r.Dispatch(context.Background(), DispatchRequest{Target: "worker"})
	require.NoError(t, r.CompleteAssignment(b.ID, map[string]any{"reviewDecision": "reject"}, ""))
	require.Equal(t, PhaseClosed, b.Phase)
	require.NotEmpty(t, b.Error)

	c, _, _ := r.Dispatch(context.Background(), DispatchRequest{Target: "worker"})
	require.NoError(t, r.CompleteAssignment(c.ID, map[string]any{"reviewDecision": "pass"}, ""))
	require.Equal(t, PhaseClosed, c.Phase)
}

func TestReattemptResetsPhaseAndIncrementsAttempt(t *testing.T) {
	r := New(1, nil, nil, nil)
	r.RegisterTemplate(CatalogEntry{ID: "worker"})
	_, _ = r.Deploy("worker", nil, nil)
	a, _, _ := r.Dispatch(context.Background(), DispatchRequest{Target: "worker"})

	require.NoError(t, r.Reattempt(a.ID))
	require.Equal(t, 2, a.Attempt)
	require.Equal(t, PhaseAssigned, a.Phase)
}

func TestAdvancePhaseRejectsRegression(t *testing.T) {
	r := New(1, nil, nil, nil)
	r.RegisterTemplate(CatalogEntry{ID: "worker"})
	_, _ = r.Deploy("worker", nil, nil)
	a, _, _ := r.Dispatch(context.Background(), DispatchRequest{Target: "worker"})

	require.NoError(t, r.AdvancePhase(a.ID, PhaseReviewing))
	err := r.AdvancePhase(a.ID, PhaseStarted)
	require.ErrorIs(t, err, ErrPhaseRegression)
}

// TestSelfDispatchAtSoleSlotDeadlocks covers spec scenario S3: an agent
// blocking-dispatching to itself, when it is the sole instance and
// already holds its own only slot, can never drain and must fail fast.
func TestSelfDispatchAtSoleSlotDeadlocks(t *testing.T) {
	r := New(1, nil, nil, nil)
	r.RegisterTemplate(CatalogEntry{ID: "looper"})
	_, err := r.Deploy("looper", nil, nil)
	require.NoError(t, err)

	_, status, err := r.Dispatch(context.Background(), DispatchRequest{
		SourceAgentID: "looper", Target: "looper",
	})
	require.NoError(t, err)
	require.Equal(t, DispatchQueued, status)

	_, _, err = r.Dispatch(context.Background(), DispatchRequest{
		SourceAgentID: "looper", Target: "looper", Blocking: true,
	})
	require.ErrorIs(t, err, ErrDispatchDeadlock)
}

// TestBlockingDispatchSuspendsUntilSlotDrains covers blocking-dispatch
// suspend-until-drain: a second caller blocks until the first assignment
// completes and frees its instance.
func TestBlockingDispatchSuspendsUntilSlotDrains(t *testing.T) {
	r := New(1, nil, nil, nil)
	r.RegisterTemplate(CatalogEntry{ID: "worker"})
	_, err := r.Deploy("worker", nil, nil)
	require.NoError(t, err)

	first, _, err := r.Dispatch(context.Background(), DispatchRequest{Target: "worker"})
	require.NoError(t, err)

	done := make(chan struct{})
	var second *Assignment
	var secondStatus DispatchStatus
	go func() {
		second, secondStatus, err = r.Dispatch(context.Background(), DispatchRequest{
			Target: "worker", Blocking: true,
		})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("blocking dispatch returned before the slot drained")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, r.CompleteAssignment(first.ID, "ok", ""))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("blocking dispatch never resumed after the slot drained")
	}
	require.NoError(t, err)
	require.Equal(t, DispatchCompleted, secondStatus)
	require.Equal(t, PhaseStarted, second.Phase)
}

func TestControlStopAndResumeInstance(t *testing.T) {
	r := New(1, nil, nil, nil)
	r.RegisterTemplate(CatalogEntry{ID: "worker"})
	inst, _ := r.Deploy("worker", nil, nil)

	require.NoError(t, r.Control(inst.ID, "stop"))
	view := r.ViewTarget("worker")
	require.Equal(t, InstanceStopped, view.Instances[0].Status)

	require.NoError(t, r.Control(inst.ID, "resume"))
	view = r.ViewTarget("worker")
	require.Equal(t, InstanceIdle, view.Instances[0].Status)
}

func TestControlUnknownInstance(t *testing.T) {
	r := New(1, nil, nil, nil)
	err := r.Control("ghost", "stop")
	require.ErrorIs(t, err, ErrInstanceNotFound)
}

func TestCatalogMergesTemplatesAndFiltersByLayer(t *testing.T) {
	r := New(1, nil, nil, nil)
	r.RegisterTemplate(CatalogEntry{ID: "worker", Name: "Worker", Layer: LayerExecution})
	r.RegisterTemplate(CatalogEntry{ID: "auditor", Name: "Auditor", Layer: LayerGovernance})

	all, err := r.Catalog(LayerFull)
	require.NoError(t, err)
	require.Len(t, all, 2)

	execOnly, err := r.Catalog(LayerExecution)
	require.NoError(t, err)
	require.Len(t, execOnly, 1)
	require.Equal(t, "worker", execOnly[0].ID)
}

func TestListStartupTemplatesIsUnfilteredAndConfigFree(t *testing.T) {
	r := New(1, nil, nil, nil)
	r.RegisterTemplate(CatalogEntry{ID: "worker", Layer: LayerExecution})
	r.SetAgentConfigDir("/nonexistent/agents/dir/that/has/no/files")

	templates := r.ListStartupTemplates()
	require.Len(t, templates, 1)
}
