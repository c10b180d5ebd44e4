package agentruntime

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// FanoutResult pairs one target's dispatch outcome with its assignment.
type FanoutResult struct {
	Target     string
	Assignment *Assignment
	Status     DispatchStatus
}

// DispatchFanout dispatches the same payload to every target concurrently,
// used by the research fan-out branch of the Orchestrator FSM to send one
// query to several research agents at once. It returns once every
// dispatch call has returned. A failing target does not cancel the other
// dispatches; the first error any target returned is then reported, with
// no results.
//
// Grounded on the teacher's workflowagent.ParallelAgent (parallel.go):
// sub-agents run concurrently over the same input via errgroup.Group,
// generalized here from running whole sub-agents to dispatching one
// assignment per target through the existing Dispatch method.
func (r *Runtime) DispatchFanout(ctx context.Context, sourceAgentID string, targets []string, payload map[string]any, workflowQuota, projectQuota *int) ([]FanoutResult, error) {
	results := make([]FanoutResult, len(targets))

	var g errgroup.Group
	for i, target := range targets {
		i, target := i, target
		g.Go(func() error {
			a, status, err := r.Dispatch(ctx, DispatchRequest{
				SourceAgentID: sourceAgentID,
				Target:        target,
				Task:          payload,
				Blocking:      true,
				WorkflowQuota: workflowQuota,
				ProjectQuota:  projectQuota,
			})
			if err != nil {
				return err
			}
			results[i] = FanoutResult{Target: target, Assignment: a, Status: status}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
