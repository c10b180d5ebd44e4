// Package agentruntime implements finger's Agent-Runtime Block (spec
// §4.G/§4.H): a catalog of deployable agents assembled from on-disk
// agent configs, runtime-registered modules and built-in templates,
// instance deployment, quota resolution (workflow overrides project
// overrides default), a per-target FIFO dispatch queue wired through the
// Message Hub, and the monotonic assignment-phase lifecycle.
//
// Grounded on the teacher's orchestrator/scheduler/scheduler.go and
// orchestrator/queue/queue.go (a queue of pending work items drained as
// capacity frees up, tracked per target) and
// orchestrator/executor/executor.go's LaunchAgentRequest/Response
// envelope shape (generalized here into DispatchRequest/Assignment),
// generalized from a single global queue and a single Docker-backed
// executor to an arbitrary catalog of targets each with their own
// instance pool and FIFO queue.
package agentruntime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/jasonzhangf/finger/internal/eventbus"
	"github.com/jasonzhangf/finger/internal/hub"
	"github.com/jasonzhangf/finger/internal/logger"
)

// Errors surfaced by the Agent-Runtime Block.
var (
	ErrUnknownTemplate    = errors.New("agentruntime: unknown catalog template")
	ErrQuotaExceeded      = errors.New("agentruntime: deploy would exceed quota")
	ErrAgentNotStarted    = errors.New("agentruntime: target has zero deployed instances")
	ErrDispatchDeadlock   = errors.New("agentruntime: self-dispatch would deadlock on the sole inflight slot")
	ErrInstanceNotFound   = errors.New("agentruntime: instance not found")
	ErrAssignmentNotFound = errors.New("agentruntime: assignment not found")
	ErrPhaseRegression    = errors.New("agentruntime: assignment phase cannot move backward")
)

// AgentLayer filters Catalog results to a capability tier.
type AgentLayer string

const (
	LayerSummary    AgentLayer = "summary"
	LayerExecution  AgentLayer = "execution"
	LayerGovernance AgentLayer = "governance"
	LayerFull       AgentLayer = "full"
)

// CatalogEntry describes one deployable agent, whether it came from a
// runtime-registered template or an on-disk agent config.
type CatalogEntry struct {
	ID           string
	Name         string
	Description  string
	ModuleID     string // hub module id Dispatch invokes; defaults to ID
	AllowedTools []string
	Layer        AgentLayer
	Source       string // "template" | "config"
}

// AgentConfig mirrors the on-disk agent runtime config schema (spec
// §6): agents/<agentId>.agent.json. Only the fields Catalog consumes are
// modeled; unknown top-level keys are ignored by encoding/json already.
type AgentConfig struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role,omitempty"`
	Tools *struct {
		Whitelist             []string `json:"whitelist,omitempty"`
		Blacklist              []string `json:"blacklist,omitempty"`
		AuthorizationRequired  []string `json:"authorizationRequired,omitempty"`
	} `json:"tools,omitempty"`
}

// InstanceStatus is a runtime instance's current state.
type InstanceStatus string

const (
	InstanceStarting InstanceStatus = "starting"
	InstanceIdle     InstanceStatus = "idle"
	InstanceBusy     InstanceStatus = "busy"
	InstanceStopped  InstanceStatus = "stopped"
)

// Instance is one deployed agent-runtime process slot.
type Instance struct {
	ID         string
	Target     string
	ModuleID   string // hub module id to invoke; defaults to Target
	Status     InstanceStatus
	Assignment string // current assignment ID, if InstanceBusy
}

// AssignmentPhase is a point in the assignment lifecycle (spec §3:
// assigned, queued, started, reviewing, passed, failed, retry, closed).
// Phases advance monotonically within an attempt; Retry starts a new one.
type AssignmentPhase string

const (
	PhaseAssigned  AssignmentPhase = "assigned"
	PhaseQueued    AssignmentPhase = "queued"
	PhaseStarted   AssignmentPhase = "started"
	PhaseReviewing AssignmentPhase = "reviewing"
	PhasePassed    AssignmentPhase = "passed"
	PhaseFailed    AssignmentPhase = "failed"
	PhaseRetry     AssignmentPhase = "retry"
	PhaseClosed    AssignmentPhase = "closed"
)

// phaseOrder ranks phases for the monotonic-advance check. passed,
// failed and retry are siblings reached from reviewing; closed is always
// last.
var phaseOrder = map[AssignmentPhase]int{
	PhaseAssigned:  0,
	PhaseQueued:    1,
	PhaseStarted:   2,
	PhaseReviewing: 3,
	PhasePassed:    4,
	PhaseFailed:    4,
	PhaseRetry:     4,
	PhaseClosed:    5,
}

// Assignment is one unit of dispatched work (spec §3 Assignment
// lifecycle / Dispatch queue entry, merged into a single record).
type Assignment struct {
	ID              string
	EpicID          string
	TaskID          string
	AssignerAgentID string
	AssigneeAgentID string
	Attempt         int
	Phase           AssignmentPhase

	Target        string // dispatch target, == AssigneeAgentID
	SourceAgentID string
	SessionID     string
	WorkflowID    string
	InstanceID    string
	Payload       map[string]any
	Result        any
	Error         string
}

// AssignmentSpec carries the optional assignment-lifecycle identity
// fields a caller may attach to a dispatch (spec §3).
type AssignmentSpec struct {
	EpicID          string
	TaskID          string
	AssignerAgentID string
	Attempt         int
}

// DispatchRequest is Dispatch's input, named after the teacher's
// LaunchAgentRequest envelope shape (executor.go).
type DispatchRequest struct {
	SourceAgentID string
	Target        string
	Task          map[string]any
	SessionID     string
	WorkflowID    string
	Blocking      bool
	QueueOnBusy   bool // false only suppresses queuePosition reporting; overflow is always enqueued
	Assignment    *AssignmentSpec
	WorkflowQuota *int
	ProjectQuota  *int
}

// DispatchStatus is Dispatch's immediate result (spec §4.G step 3/4): a
// non-blocking call always returns Queued right away, regardless of
// whether its instance was idle or it actually waited in the target's
// FIFO queue — the call never waits for module execution to finish. A
// blocking call instead suspends until it has a result and returns
// Completed or Failed.
type DispatchStatus string

const (
	DispatchQueued    DispatchStatus = "queued"
	DispatchCompleted DispatchStatus = "completed"
	DispatchFailed    DispatchStatus = "failed"
)

// Quota bounds how many instances may be deployed for a target.
type Quota struct {
	Default int
}

// Runtime is the process-wide Agent-Runtime Block.
type Runtime struct {
	mu             sync.Mutex
	catalog        map[string]CatalogEntry
	instances      map[string]*Instance
	byTarget       map[string][]string
	queues         map[string][]*Assignment
	waiters        map[string]chan *Instance // assignment ID -> blocked dispatcher
	assignments    map[string]*Assignment
	quotas         map[string]int
	defaultQuota   int
	agentConfigDir string
	nextSeq        int64

	hub *hub.Hub
	bus *eventbus.Bus
	log *logger.Logger
}

// New constructs a Runtime. defaultQuota bounds instance count for any
// target without a more specific quota. hubInstance and bus are both
// optional: a nil hub falls back to a local no-op invocation (tests and
// callers that drive CompleteAssignment explicitly); a nil bus disables
// lifecycle event emission.
func New(defaultQuota int, hubInstance *hub.Hub, bus *eventbus.Bus, log *logger.Logger) *Runtime {
	if log == nil {
		log = logger.Default()
	}
	return &Runtime{
		catalog:      make(map[string]CatalogEntry),
		instances:    make(map[string]*Instance),
		byTarget:     make(map[string][]string),
		queues:       make(map[string][]*Assignment),
		waiters:      make(map[string]chan *Instance),
		assignments:  make(map[string]*Assignment),
		quotas:       make(map[string]int),
		defaultQuota: defaultQuota,
		hub:          hubInstance,
		bus:          bus,
		log:          log,
	}
}

// RegisterTemplate adds an entry to the runtime-registered template
// catalog, the same catalog Catalog merges on-disk agent configs into.
func (r *Runtime) RegisterTemplate(entry CatalogEntry) {
	if entry.Source == "" {
		entry.Source = "template"
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.catalog[entry.ID] = entry
}

// ListStartupTemplates returns the runtime-registered template catalog
// only, unfiltered by layer and without joining on-disk agent configs —
// the narrower, legacy startup-listing operation. Catalog is the
// complete spec §4.G operation.
func (r *Runtime) ListStartupTemplates() []CatalogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]CatalogEntry, 0, len(r.catalog))
	for _, e := range r.catalog {
		out = append(out, e)
	}
	return out
}

// SetAgentConfigDir points Catalog at the directory holding
// agents/*.agent.json files (spec §6). Empty (the default) skips the
// on-disk join entirely.
func (r *Runtime) SetAgentConfigDir(dir string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agentConfigDir = dir
}

// Catalog enumerates known agents (spec §4.G): runtime-registered
// modules and built-in templates (RegisterTemplate), merged with
// on-disk agent configs read from the configured agent-config
// directory, each carrying its allowed tools and a layer tag. layer
// filters the result to entries tagged with that layer, entries with no
// layer set, or LayerFull/"" (which always match everything).
func (r *Runtime) Catalog(layer AgentLayer) ([]CatalogEntry, error) {
	r.mu.Lock()
	merged := make(map[string]CatalogEntry, len(r.catalog))
	for id, e := range r.catalog {
		merged[id] = e
	}
	dir := r.agentConfigDir
	r.mu.Unlock()

	if dir != "" {
		configs, err := loadAgentConfigs(dir)
		if err != nil {
			return nil, err
		}
		for _, cfg := range configs {
			entry := merged[cfg.ID]
			entry.ID = cfg.ID
			if cfg.Name != "" {
				entry.Name = cfg.Name
			}
			if entry.Description == "" {
				entry.Description = cfg.Role
			}
			if cfg.Tools != nil {
				entry.AllowedTools = cfg.Tools.Whitelist
			}
			entry.Source = "config"
			merged[cfg.ID] = entry
		}
	}

	out := make([]CatalogEntry, 0, len(merged))
	for _, e := range merged {
		if !matchesLayer(e.Layer, layer) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func matchesLayer(have, want AgentLayer) bool {
	if want == "" || want == LayerFull {
		return true
	}
	if have == "" || have == LayerFull {
		return true
	}
	return have == want
}

func loadAgentConfigs(dir string) ([]AgentConfig, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.agent.json"))
	if err != nil {
		return nil, fmt.Errorf("agentruntime: glob agent configs in %s: %w", dir, err)
	}
	out := make([]AgentConfig, 0, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("agentruntime: read agent config %s: %w", path, err)
		}
		var cfg AgentConfig
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("agentruntime: parse agent config %s: %w", path, err)
		}
		out = append(out, cfg)
	}
	return out, nil
}

// SetQuota overrides the per-target quota, taking precedence over
// defaultQuota.
func (r *Runtime) SetQuota(target string, q Quota) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.quotas[target] = q.Default
}

// ResolveQuota resolves the effective quota for target: an explicit
// workflow-level override wins, then a project-level override, then any
// target-specific quota set via SetQuota, then the runtime default.
func (r *Runtime) ResolveQuota(target string, workflowQuota, projectQuota *int) int {
	if workflowQuota != nil {
		return *workflowQuota
	}
	if projectQuota != nil {
		return *projectQuota
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolveQuotaLocked(target, nil, nil)
}

func (r *Runtime) resolveQuotaLocked(target string, workflowQuota, projectQuota *int) int {
	if workflowQuota != nil {
		return *workflowQuota
	}
	if projectQuota != nil {
		return *projectQuota
	}
	if q, ok := r.quotas[target]; ok {
		return q
	}
	return r.defaultQuota
}

func (r *Runtime) seq() int64 {
	r.nextSeq++
	return r.nextSeq
}

// Deploy creates a new idle instance for target, if doing so would not
// exceed the resolved quota.
func (r *Runtime) Deploy(target string, workflowQuota, projectQuota *int) (*Instance, error) {
	r.mu.Lock()
	_, known := r.catalog[target]
	r.mu.Unlock()
	if !known {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTemplate, target)
	}

	quota := r.ResolveQuota(target, workflowQuota, projectQuota)

	r.mu.Lock()
	defer r.mu.Unlock()
	if quota > 0 && len(r.byTarget[target]) >= quota {
		return nil, fmt.Errorf("%w: target=%s quota=%d", ErrQuotaExceeded, target, quota)
	}

	inst := &Instance{ID: fmt.Sprintf("%s-inst-%d", target, r.seq()), Target: target, Status: InstanceIdle}
	if e, ok := r.catalog[target]; ok {
		inst.ModuleID = e.ModuleID
	}
	r.instances[inst.ID] = inst
	r.byTarget[target] = append(r.byTarget[target], inst.ID)
	r.log.Info("agent instance deployed", zap.String("instance_id", inst.ID), zap.String("target", target))
	return inst, nil
}

// Dispatch implements spec §4.G's dispatch operation: hand payload to an
// idle instance for target immediately, or enqueue it in the target's
// FIFO queue. Dispatching to a target with zero deployed instances fails
// with ErrAgentNotStarted (Deploy must precede Dispatch). A non-blocking
// call always returns DispatchQueued right away — whether its instance
// was idle or it waited in the FIFO queue, the call never waits for the
// module to actually finish (spec scenario S3: a non-blocking
// self-dispatch onto a free sole slot still reports queued, because it
// occupies the slot without waiting on it). A blocking caller instead
// suspends until it has a slot, runs the assignment, and returns
// DispatchCompleted/DispatchFailed — except when
// sourceAgentId == targetAgentId and the target's only inflight slot is
// already owned by that same source, which would wedge forever and so
// fails fast with ErrDispatchDeadlock instead.
func (r *Runtime) Dispatch(ctx context.Context, req DispatchRequest) (*Assignment, DispatchStatus, error) {
	r.mu.Lock()

	if len(r.byTarget[req.Target]) == 0 {
		r.mu.Unlock()
		return nil, "", fmt.Errorf("%w: %s", ErrAgentNotStarted, req.Target)
	}

	a := r.newAssignmentLocked(req)

	var idle *Instance
	for _, id := range r.byTarget[req.Target] {
		if inst := r.instances[id]; inst.Status == InstanceIdle {
			idle = inst
			break
		}
	}

	if idle != nil {
		idle.Status = InstanceBusy
		idle.Assignment = a.ID
		a.InstanceID = idle.ID
		a.Phase = PhaseStarted
		r.assignments[a.ID] = a
		r.mu.Unlock()

		r.emitLifecycle(a, "dispatch.accepted", nil)
		r.emitLifecycle(a, "dispatch.started", nil)

		if !req.Blocking {
			go r.activate(context.Background(), idle, a)
			return a, DispatchQueued, nil
		}
		r.activate(ctx, idle, a)
		return a, statusFromAssignment(a), nil
	}

	if req.Blocking && r.selfDispatchDeadlockedLocked(req.SourceAgentID, req.Target) {
		r.mu.Unlock()
		return nil, "", fmt.Errorf("%w: source=%s target=%s", ErrDispatchDeadlock, req.SourceAgentID, req.Target)
	}

	a.Phase = PhaseQueued
	r.assignments[a.ID] = a
	r.queues[req.Target] = append(r.queues[req.Target], a)
	position := len(r.queues[req.Target]) - 1

	var waiter chan *Instance
	if req.Blocking {
		waiter = make(chan *Instance, 1)
		r.waiters[a.ID] = waiter
	}
	r.mu.Unlock()

	extra := map[string]any{}
	if req.QueueOnBusy {
		extra["queuePosition"] = position
	}
	r.emitLifecycle(a, "dispatch.queued", extra)

	if !req.Blocking {
		return a, DispatchQueued, nil
	}

	select {
	case inst := <-waiter:
		_ = r.AdvancePhase(a.ID, PhaseStarted)
		r.emitLifecycle(a, "dispatch.started", nil)
		r.activate(ctx, inst, a)
		return a, statusFromAssignment(a), nil
	case <-ctx.Done():
		r.mu.Lock()
		delete(r.waiters, a.ID)
		r.mu.Unlock()
		return a, DispatchQueued, ctx.Err()
	}
}

func (r *Runtime) newAssignmentLocked(req DispatchRequest) *Assignment {
	a := &Assignment{
		ID:              fmt.Sprintf("%s-asn-%d", req.Target, r.seq()),
		Target:          req.Target,
		AssigneeAgentID: req.Target,
		AssignerAgentID: req.SourceAgentID,
		SourceAgentID:   req.SourceAgentID,
		SessionID:       req.SessionID,
		WorkflowID:      req.WorkflowID,
		Payload:         req.Task,
		Phase:           PhaseAssigned,
		Attempt:         1,
	}
	if req.Assignment != nil {
		a.EpicID = req.Assignment.EpicID
		a.TaskID = req.Assignment.TaskID
		if req.Assignment.AssignerAgentID != "" {
			a.AssignerAgentID = req.Assignment.AssignerAgentID
		}
		if req.Assignment.Attempt > 0 {
			a.Attempt = req.Assignment.Attempt
		}
	}
	return a
}

// selfDispatchDeadlockedLocked reports whether target has exactly one
// instance, it is busy, and the assignment occupying it was dispatched
// by sourceAgentID with target == sourceAgentID: a blocking self-dispatch
// onto that sole slot could never drain, since the only thing that could
// free it is the caller currently blocked waiting on it.
func (r *Runtime) selfDispatchDeadlockedLocked(sourceAgentID, target string) bool {
	if sourceAgentID == "" || sourceAgentID != target {
		return false
	}
	ids := r.byTarget[target]
	if len(ids) != 1 {
		return false
	}
	inst := r.instances[ids[0]]
	if inst.Status != InstanceBusy {
		return false
	}
	occupant, ok := r.assignments[inst.Assignment]
	return ok && occupant.SourceAgentID == sourceAgentID
}

// activate hands a started assignment off to its instance's module. When a
// Hub is wired, the module is invoked through hub.SendToModule and the
// assignment is completed with its result once that call returns.
// Without a Hub there is no module to invoke: the instance is left busy
// and the caller (typically a test) is expected to drive the assignment
// to completion itself via CompleteAssignment.
func (r *Runtime) activate(ctx context.Context, inst *Instance, a *Assignment) {
	if r.hub == nil {
		return
	}
	moduleID := inst.ModuleID
	if moduleID == "" {
		moduleID = a.Target
	}
	result, err := r.hub.SendToModule(ctx, moduleID, hub.Message{
		"type":         "dispatch",
		"task":         a.Payload,
		"assignmentId": a.ID,
		"sessionId":    a.SessionID,
	}, nil)
	errStr := ""
	if err != nil {
		errStr = err.Error()
	}
	_ = r.CompleteAssignment(a.ID, result, errStr)
}

// AdvancePhase moves an assignment's phase forward. A request to move to
// a phase at or before the current one fails with ErrPhaseRegression,
// enforcing the spec's monotonic-within-an-attempt lifecycle invariant.
func (r *Runtime) AdvancePhase(assignmentID string, to AssignmentPhase) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.assignments[assignmentID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAssignmentNotFound, assignmentID)
	}
	if phaseOrder[to] <= phaseOrder[a.Phase] {
		return fmt.Errorf("%w: %s is at %s, requested %s", ErrPhaseRegression, assignmentID, a.Phase, to)
	}
	a.Phase = to
	return nil
}

// Reattempt starts a fresh attempt for assignmentID: increments Attempt
// and resets Phase to PhaseAssigned, the one transition the spec allows
// to move backward (reviewDecision "retry").
func (r *Runtime) Reattempt(assignmentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.assignments[assignmentID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAssignmentNotFound, assignmentID)
	}
	a.Attempt++
	a.Phase = PhaseAssigned
	return nil
}

// statusFromAssignment reports a blocking Dispatch call's terminal
// DispatchStatus once activate has run a to completion.
func statusFromAssignment(a *Assignment) DispatchStatus {
	if a.Error != "" || a.Phase == PhaseFailed || a.Phase == PhaseRetry {
		return DispatchFailed
	}
	return DispatchCompleted
}

// reviewDecisionOf extracts a "reviewDecision" key from a child result
// shaped as map[string]any, per spec §4.G step 7.
func reviewDecisionOf(result any) string {
	m, ok := result.(map[string]any)
	if !ok {
		return ""
	}
	d, _ := m["reviewDecision"].(string)
	return d
}

// CompleteAssignment finishes assignmentID, applying the spec's
// assignment phase-mapping rule (§4.G step 7): success advances
// passed -> closed; failure advances failed -> closed. If result carries
// a "reviewDecision" key, it overrides this with retry -> retry (stays
// open for a new attempt), pass -> passed -> closed, or
// reject -> failed -> closed. It then frees the assignment's instance and
// drains the next queued assignment (if any) onto it, waking a blocked
// caller if one is waiting on it or running it in the background
// otherwise.
func (r *Runtime) CompleteAssignment(assignmentID string, result any, failErr string) error {
	r.mu.Lock()

	a, ok := r.assignments[assignmentID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAssignmentNotFound, assignmentID)
	}

	eventType := "dispatch.completed"
	switch decision := reviewDecisionOf(result); {
	case decision == "retry":
		a.Phase = PhaseRetry
		eventType = "dispatch.retry"
	case decision == "reject":
		a.Error = "review rejected"
		a.Phase = PhaseClosed
		eventType = "dispatch.failed"
	case decision == "pass":
		a.Result = result
		a.Phase = PhaseClosed
	case failErr != "":
		a.Error = failErr
		a.Phase = PhaseClosed
		eventType = "dispatch.failed"
	default:
		a.Result = result
		a.Phase = PhaseClosed
	}

	inst, hasInst := r.instances[a.InstanceID]
	if hasInst {
		inst.Status = InstanceIdle
		inst.Assignment = ""
	}

	var (
		drainWaiter   chan *Instance
		drainAsync    *Assignment
		drainInstance *Instance
	)
	if hasInst {
		queue := r.queues[a.Target]
		if len(queue) > 0 {
			next := queue[0]
			r.queues[a.Target] = queue[1:]
			inst.Status = InstanceBusy
			inst.Assignment = next.ID
			next.InstanceID = inst.ID
			if w, waiting := r.waiters[next.ID]; waiting {
				delete(r.waiters, next.ID)
				drainWaiter = w
				drainInstance = inst
			} else {
				drainAsync = next
				drainInstance = inst
			}
		}
	}
	r.mu.Unlock()

	r.emitLifecycle(a, eventType, nil)

	switch {
	case drainWaiter != nil:
		drainWaiter <- drainInstance
	case drainAsync != nil:
		_ = r.AdvancePhase(drainAsync.ID, PhaseStarted)
		r.emitLifecycle(drainAsync, "dispatch.started", nil)
		go r.activate(context.Background(), drainInstance, drainAsync)
	}
	return nil
}

// emitLifecycle logs and, if a Bus is wired, publishes one of the dispatch
// lifecycle events named in spec §4.G step 6.
func (r *Runtime) emitLifecycle(a *Assignment, eventType string, extra map[string]any) {
	r.log.Info(eventType,
		zap.String("assignment_id", a.ID),
		zap.String("target", a.Target),
		zap.String("phase", string(a.Phase)))

	if r.bus == nil {
		return
	}
	payload := map[string]any{"assignment": a}
	for k, v := range extra {
		payload[k] = v
	}
	r.bus.Emit(eventbus.Event{
		Type:      eventType,
		Group:     eventbus.GroupTask,
		SessionID: a.SessionID,
		AgentID:   a.Target,
		Payload:   payload,
	})
}

// RuntimeView returns an observability snapshot for target: its
// instances and queue depth.
type RuntimeView struct {
	Target    string
	Instances []Instance
	QueueLen  int
}

// ViewTarget returns a RuntimeView for target.
func (r *Runtime) ViewTarget(target string) RuntimeView {
	r.mu.Lock()
	defer r.mu.Unlock()
	view := RuntimeView{Target: target, QueueLen: len(r.queues[target])}
	for _, id := range r.byTarget[target] {
		view.Instances = append(view.Instances, *r.instances[id])
	}
	return view
}

// AvailableAgents returns the IDs of every instance currently InstanceIdle,
// implementing workflow.AgentProvider.
func (r *Runtime) AvailableAgents() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for id, inst := range r.instances {
		if inst.Status == InstanceIdle {
			out = append(out, id)
		}
	}
	return out
}

// Control applies a lifecycle action ("stop", "pause", "resume") to
// instanceID.
func (r *Runtime) Control(instanceID, action string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[instanceID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrInstanceNotFound, instanceID)
	}
	switch action {
	case "stop":
		inst.Status = InstanceStopped
	case "pause":
		if inst.Status == InstanceIdle {
			inst.Status = InstanceStopped
		}
	case "resume":
		if inst.Status == InstanceStopped {
			inst.Status = InstanceIdle
		}
	default:
		return fmt.Errorf("agentruntime: unknown control action %q", action)
	}
	return nil
}
