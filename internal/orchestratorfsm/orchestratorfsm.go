// Package orchestratorfsm implements finger's Orchestrator FSM v2 (spec
// §4.I/§4.M): the high-level intake -> plan -> review -> schedule ->
// dispatch -> review state machine, built on top of the generic engine
// in internal/fsm. It adds, on top of the base Workflow FSM shape, a
// pre-intake probe for resumable work, a low-confidence clarification
// branch, a bounded plan-review feedback loop, a research fan-out
// branch, a schedule-then-queue branch for busy resources, and an
// evidence-required guard on review acceptance.
//
// Grounded on the fan-out/merge shape of
// orchestrator/event_handlers_workflow.go, which routes a workflow-level
// event into scheduler, executor, or watcher branches depending on
// payload fields much the way this machine's guards route on
// context.Payload entries such as "confidence" or "route".
package orchestratorfsm

import (
	"fmt"

	"github.com/jasonzhangf/finger/internal/fsm"
)

// States of the orchestrator machine.
const (
	StateIdle                  fsm.State = "idle"
	StateIntakeProbe           fsm.State = "intake_probe"
	StateSemanticUnderstanding fsm.State = "semantic_understanding"
	StateAskClarification      fsm.State = "ask_clarification"
	StateRoutingDecision       fsm.State = "routing_decision"
	StatePlanLoop              fsm.State = "plan_loop"
	StateResearchFanout        fsm.State = "research_fanout"
	StateScheduling            fsm.State = "scheduling"
	StateQueued                fsm.State = "queued"
	StateExecution             fsm.State = "execution"
	StateReview                fsm.State = "review"
	StateReplanEvaluation      fsm.State = "replan_evaluation"
	StateWaitUserDecision      fsm.State = "wait_user_decision"
	StatePaused                fsm.State = "paused"
	StateCompleted             fsm.State = "completed"
	StateFailed                fsm.State = "failed"
)

// Events (triggers) accepted by the orchestrator machine.
const (
	EventIntakeProbeDone      fsm.Event = "intake_probe_done"
	EventSemanticUnderstood   fsm.Event = "semantic_understood"
	EventClarificationReceived fsm.Event = "clarification_received"
	EventRoutingDecided       fsm.Event = "routing_decided"
	EventPlanReviewed         fsm.Event = "plan_reviewed"
	EventPlanApproved         fsm.Event = "plan_approved"
	EventResearchNeeded       fsm.Event = "research_needed"
	EventResearchResult       fsm.Event = "research_result"
	EventScheduleRequested    fsm.Event = "schedule_requested"
	EventResourceBusy         fsm.Event = "resource_busy"
	EventResourceAvailable    fsm.Event = "resource_available"
	EventTaskCompleted        fsm.Event = "task_completed"
	EventReviewAccept         fsm.Event = "review_accept"
	EventReviewReject         fsm.Event = "review_reject"
	EventMajorChangeDetected  fsm.Event = "major_change_detected"
	EventReplanDecided        fsm.Event = "replan_decided"
	EventPauseRequested       fsm.Event = "pause_requested"
	EventResumeRequested      fsm.Event = "resume_requested"
	EventCancel               fsm.Event = "cancel"
	EventFatalError           fsm.Event = "fatal_error"
)

// MaxPlanReviewRounds bounds the plan-review feedback loop: the fourth
// unresolved review forces escalation to the user instead of looping
// again.
const MaxPlanReviewRounds = 3

const dataKeyRound = "plan_review_round"

// resumableStates lists every non-terminal state a pause could have
// been requested from; EventResumeRequested has one transition row per
// entry so a payload's "priorState" can route back to it.
var resumableStates = []fsm.State{
	StateIdle, StateIntakeProbe, StateSemanticUnderstanding, StateAskClarification,
	StateRoutingDecision, StatePlanLoop, StateResearchFanout, StateScheduling,
	StateQueued, StateExecution, StateReview, StateReplanEvaluation, StateWaitUserDecision,
}

func isNonTerminal(s fsm.State) bool {
	return s != StateCompleted && s != StateFailed
}

func payloadBool(ctx fsm.Context, key string) bool {
	v, ok := ctx.Payload[key]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

func payloadString(ctx fsm.Context, key string) string {
	v, ok := ctx.Payload[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// NewMachine builds a fsm.Machine wired with the orchestrator's full
// transition table, starting in StateIdle.
func NewMachine() *fsm.Machine {
	m := fsm.New(StateIdle, transitionTable())
	m.SetData(dataKeyRound, 0)
	return m
}

func transitionTable() []fsm.Transition {
	table := []fsm.Transition{
		{From: StateIdle, Event: EventIntakeProbeDone, To: StateWaitUserDecision,
			Guard: func(ctx fsm.Context) bool { return payloadBool(ctx, "resumable") }},
		{From: StateIdle, Event: EventIntakeProbeDone, To: StateSemanticUnderstanding},

		{From: StateSemanticUnderstanding, Event: EventSemanticUnderstood, To: StateAskClarification,
			Guard: func(ctx fsm.Context) bool {
				conf, _ := ctx.Payload["confidence"].(float64)
				return conf < 0.5
			}},
		{From: StateSemanticUnderstanding, Event: EventSemanticUnderstood, To: StateRoutingDecision},

		{From: StateAskClarification, Event: EventClarificationReceived, To: StateRoutingDecision},

		{From: StateRoutingDecision, Event: EventRoutingDecided, To: StatePlanLoop,
			Guard: routeIn("full", "minor_replan")},
		{From: StateRoutingDecision, Event: EventRoutingDecided, To: StateExecution,
			Guard: routeIn("continue_execution")},
		{From: StateRoutingDecision, Event: EventRoutingDecided, To: StateWaitUserDecision,
			Guard: routeIn("wait_user_decision", "new_task")},

		// Bounded plan-review feedback loop: each unresolved review
		// increments the round counter in Data; on hitting the bound the
		// loop escalates to the user instead of looping a fourth time.
		{From: StatePlanLoop, Event: EventPlanReviewed, To: StateWaitUserDecision,
			Guard: func(ctx fsm.Context) bool { return payloadBool(ctx, "_round_exceeded") }},
		{From: StatePlanLoop, Event: EventPlanReviewed, To: StatePlanLoop},
		{From: StatePlanLoop, Event: EventResearchNeeded, To: StateResearchFanout},
		{From: StatePlanLoop, Event: EventPlanApproved, To: StateExecution},

		{From: StateResearchFanout, Event: EventResearchResult, To: StateResearchFanout,
			Guard: func(ctx fsm.Context) bool { return payloadString(ctx, "result") == "need_more_results" }},
		{From: StateResearchFanout, Event: EventResearchResult, To: StatePlanLoop,
			Guard: func(ctx fsm.Context) bool { return payloadString(ctx, "result") == "enough_info" }},

		{From: StateExecution, Event: EventScheduleRequested, To: StateScheduling},
		{From: StateScheduling, Event: EventResourceBusy, To: StateQueued},
		{From: StateQueued, Event: EventResourceAvailable, To: StateExecution},
		{From: StateScheduling, Event: EventResourceAvailable, To: StateExecution},

		{From: StateExecution, Event: EventTaskCompleted, To: StateCompleted,
			Guard: func(ctx fsm.Context) bool { return payloadBool(ctx, "all_terminal_success") }},
		{From: StateExecution, Event: EventTaskCompleted, To: StateReview},

		// Evidence-required guard: a review_accept without supporting
		// evidence is treated as an implicit reject back into plan_loop
		// rather than advancing to execution.
		{From: StateReview, Event: EventReviewAccept, To: StateExecution,
			Guard: func(ctx fsm.Context) bool { return payloadBool(ctx, "has_evidence") }},
		{From: StateReview, Event: EventReviewAccept, To: StatePlanLoop},
		{From: StateReview, Event: EventReviewReject, To: StatePlanLoop},

		{From: StateExecution, Event: EventMajorChangeDetected, To: StateReplanEvaluation},
		{From: StateReplanEvaluation, Event: EventReplanDecided, To: StateExecution,
			Guard: func(ctx fsm.Context) bool { return payloadString(ctx, "decision") == "continue" }},
		{From: StateReplanEvaluation, Event: EventReplanDecided, To: StatePlanLoop},
	}

	// Global pause/cancel/fatal_error transitions apply from every
	// non-terminal state; expressed as one wildcard row each, guarded to
	// exclude the terminal states.
	table = append(table,
		fsm.Transition{From: fsm.Wildcard, Event: EventPauseRequested, To: StatePaused,
			Guard: func(ctx fsm.Context) bool { return isNonTerminal(ctx.State) }},
		fsm.Transition{From: fsm.Wildcard, Event: EventCancel, To: StateFailed,
			Guard: func(ctx fsm.Context) bool { return isNonTerminal(ctx.State) }},
		fsm.Transition{From: fsm.Wildcard, Event: EventFatalError, To: StateFailed,
			Guard: func(ctx fsm.Context) bool { return isNonTerminal(ctx.State) }},
	)

	// Resume restores the state that preceded pause: one row per
	// candidate prior state, selected via payload["priorState"] (computed
	// by ResumeFromPause from the machine's own history, since a single
	// transition's To cannot be chosen dynamically).
	for _, prior := range resumableStates {
		prior := prior
		table = append(table, fsm.Transition{
			From: StatePaused, Event: EventResumeRequested, To: prior,
			Guard: func(ctx fsm.Context) bool { return payloadString(ctx, "priorState") == string(prior) },
		})
	}

	return table
}

func routeIn(routes ...string) fsm.Guard {
	set := make(map[string]struct{}, len(routes))
	for _, r := range routes {
		set[r] = struct{}{}
	}
	return func(ctx fsm.Context) bool {
		_, ok := set[payloadString(ctx, "route")]
		return ok
	}
}

// ErrNoPriorState is returned by ResumeFromPause when the machine's
// history contains no state preceding its most recent transition into
// StatePaused.
var ErrNoPriorState = fmt.Errorf("orchestratorfsm: no state preceded pause")

// TrackPlanReviewRound increments the machine's plan-review round
// counter and reports whether MaxPlanReviewRounds has now been
// exceeded. Callers pass the result as payload["_round_exceeded"] on the
// next EventPlanReviewed trigger so the bounded-loop guard can escalate
// instead of looping indefinitely.
func TrackPlanReviewRound(m *fsm.Machine) (round int, exceeded bool) {
	v, _ := m.Data(dataKeyRound)
	round, _ = v.(int)
	round++
	m.SetData(dataKeyRound, round)
	return round, round > MaxPlanReviewRounds
}

// ResetPlanReviewRound clears the round counter, called once a plan is
// approved or the loop escalates.
func ResetPlanReviewRound(m *fsm.Machine) {
	m.SetData(dataKeyRound, 0)
}

// ResumeFromPause restores the state that preceded the machine's most
// recent entry into StatePaused, per the spec's "resume restores the
// state preceding the last paused entry in history" rule. Returns
// ErrNoPriorState if history holds no such entry (e.g. resume requested
// before any pause was ever recorded).
func ResumeFromPause(m *fsm.Machine) (fsm.State, error) {
	history := m.History()
	var prior fsm.State
	found := false
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].To == StatePaused {
			prior = history[i].From
			found = true
			break
		}
	}
	if !found {
		return "", ErrNoPriorState
	}
	to, err := m.Trigger(EventResumeRequested, map[string]any{"priorState": string(prior)})
	if err != nil {
		return "", err
	}
	// Resume's transition rows never target StatePaused, so an unapplied
	// trigger (no matching row) is distinguishable from success by the
	// state staying put at StatePaused.
	if to != prior {
		return "", fmt.Errorf("%w: %s", ErrNoPriorState, prior)
	}
	return to, nil
}
