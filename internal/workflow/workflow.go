// Package workflow implements finger's Workflow Manager (spec §4.H/J):
// DAG-shaped workflows of dependent tasks, ready-task propagation as
// dependencies complete, and checkpointing for resume-after-restart.
//
// Grounded on the teacher's workflow/service/service.go (CreateWorkflow /
// AddTask / ready-task computation over a dependency graph) and
// orchestrator/workflow_store.go (append-style persistence of workflow
// state); durable storage follows the filesystem layout named in spec §6
// (one workflows/<id>.json file per workflow), implemented in
// file_store.go, with store.go's MemoryStore as the non-durable fallback.
package workflow

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jasonzhangf/finger/internal/logger"
)

// TaskStatus is a task node's lifecycle state within a workflow DAG.
type TaskStatus string

const (
	TaskPending TaskStatus = "pending"
	TaskReady   TaskStatus = "ready"
	TaskRunning TaskStatus = "running"
	TaskDone    TaskStatus = "done"
	TaskFailed  TaskStatus = "failed"
	TaskBlocked TaskStatus = "blocked"
)

// TaskSpec declares one task node when creating or extending a workflow.
type TaskSpec struct {
	ID        string
	DependsOn []string
	AgentID   string
}

// TaskNode is a task's live state within a workflow.
type TaskNode struct {
	ID        string     `json:"id"`
	DependsOn []string   `json:"dependsOn"`
	Status    TaskStatus `json:"status"`
	AgentID   string     `json:"agentId,omitempty"`
	Result    any        `json:"result,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// Workflow is a DAG of task nodes.
type Workflow struct {
	ID        string               `json:"id"`
	Tasks     map[string]*TaskNode `json:"tasks"`
	CreatedAt time.Time            `json:"createdAt"`
	UpdatedAt time.Time            `json:"updatedAt"`
}

// Checkpoint is a point-in-time snapshot of a workflow's task states.
type Checkpoint struct {
	ID         string               `json:"id"`
	WorkflowID string               `json:"workflowId"`
	Label      string               `json:"label"`
	Tasks      map[string]*TaskNode `json:"tasks"`
	CreatedAt  time.Time            `json:"createdAt"`
}

// Errors surfaced by the Workflow Manager.
var (
	ErrWorkflowNotFound = fmt.Errorf("workflow: workflow not found")
	ErrWorkflowExists   = fmt.Errorf("workflow: workflow already exists")
	ErrTaskNotFound     = fmt.Errorf("workflow: task not found")
	ErrTaskExists       = fmt.Errorf("workflow: task already exists")
	ErrNoCheckpoint     = fmt.Errorf("workflow: no checkpoint found")
)

// Store persists workflow and checkpoint state. MemoryStore and
// FileStore both implement it.
type Store interface {
	SaveWorkflow(w *Workflow) error
	LoadWorkflow(id string) (*Workflow, error)
	SaveCheckpoint(cp *Checkpoint) error
	ListCheckpoints(workflowID string) ([]*Checkpoint, error)
}

// AgentProvider is queried by GetAvailableAgents; the Agent-Runtime Block
// implements it in the wired daemon.
type AgentProvider interface {
	AvailableAgents() []string
}

// Manager is the process-wide Workflow Manager.
type Manager struct {
	mu        sync.Mutex
	workflows map[string]*Workflow
	store     Store
	agents    AgentProvider
	log       *logger.Logger
	nextCPSeq int64
}

// New constructs a Manager backed by store (use NewMemoryStore for a
// non-durable default).
func New(store Store, agents AgentProvider, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Default()
	}
	return &Manager{workflows: make(map[string]*Workflow), store: store, agents: agents, log: log}
}

// CreateWorkflow creates a new workflow with the given initial tasks,
// computing the initial ready set (tasks with no unmet dependencies).
func (m *Manager) CreateWorkflow(id string, tasks []TaskSpec) (*Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.workflows[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowExists, id)
	}

	now := time.Now().UTC()
	w := &Workflow{ID: id, Tasks: make(map[string]*TaskNode), CreatedAt: now, UpdatedAt: now}
	for _, t := range tasks {
		w.Tasks[t.ID] = &TaskNode{ID: t.ID, DependsOn: t.DependsOn, Status: TaskPending, AgentID: t.AgentID}
	}
	m.recomputeReady(w)
	m.workflows[id] = w
	m.persist(w)
	return w, nil
}

// AddTask adds a new task node to an existing workflow and recomputes
// readiness.
func (m *Manager) AddTask(workflowID string, spec TaskSpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workflows[workflowID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowID)
	}
	if _, exists := w.Tasks[spec.ID]; exists {
		return fmt.Errorf("%w: %s", ErrTaskExists, spec.ID)
	}
	w.Tasks[spec.ID] = &TaskNode{ID: spec.ID, DependsOn: spec.DependsOn, Status: TaskPending, AgentID: spec.AgentID}
	m.recomputeReady(w)
	w.UpdatedAt = time.Now().UTC()
	m.persist(w)
	return nil
}

// UpdateTaskStatus sets a task's status and, when the task transitions to
// TaskDone, recomputes readiness for every task depending on it.
func (m *Manager) UpdateTaskStatus(workflowID, taskID string, status TaskStatus, result any, taskErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workflows[workflowID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowID)
	}
	task, ok := w.Tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}

	task.Status = status
	task.Result = result
	task.Error = taskErr
	m.recomputeReady(w)
	w.UpdatedAt = time.Now().UTC()
	m.persist(w)
	return nil
}

// recomputeReady promotes every TaskPending task whose DependsOn are all
// TaskDone to TaskReady, and demotes a pending task to TaskBlocked if any
// dependency has TaskFailed. Must be called with m.mu held.
func (m *Manager) recomputeReady(w *Workflow) {
	for _, t := range w.Tasks {
		if t.Status != TaskPending && t.Status != TaskBlocked && t.Status != TaskReady {
			continue
		}
		allDone := true
		anyFailed := false
		for _, dep := range t.DependsOn {
			dt, ok := w.Tasks[dep]
			if !ok || dt.Status != TaskDone {
				allDone = false
			}
			if ok && dt.Status == TaskFailed {
				anyFailed = true
			}
		}
		switch {
		case anyFailed:
			t.Status = TaskBlocked
		case allDone:
			t.Status = TaskReady
		default:
			if t.Status == TaskReady {
				t.Status = TaskPending
			}
		}
	}
}

// GetReadyTasks returns every task currently in TaskReady state.
func (m *Manager) GetReadyTasks(workflowID string) ([]*TaskNode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workflows[workflowID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowID)
	}
	var out []*TaskNode
	for _, t := range w.Tasks {
		if t.Status == TaskReady {
			out = append(out, t)
		}
	}
	return out, nil
}

// GetWorkflow returns the workflow registered under id.
func (m *Manager) GetWorkflow(id string) (*Workflow, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workflows[id]
	return w, ok
}

// GetAvailableAgents delegates to the configured AgentProvider, returning
// nil if none was configured.
func (m *Manager) GetAvailableAgents() []string {
	if m.agents == nil {
		return nil
	}
	return m.agents.AvailableAgents()
}

func (m *Manager) persist(w *Workflow) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveWorkflow(w); err != nil {
		m.log.Error("persist workflow failed", zap.String("workflow_id", w.ID), zap.Error(err))
	}
}

// CreateCheckpoint snapshots the workflow's current task states and
// persists the snapshot.
func (m *Manager) CreateCheckpoint(workflowID, label string) (*Checkpoint, error) {
	m.mu.Lock()
	w, ok := m.workflows[workflowID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowID)
	}
	m.nextCPSeq++
	cp := &Checkpoint{
		ID:         fmt.Sprintf("%s-cp-%d", workflowID, m.nextCPSeq),
		WorkflowID: workflowID,
		Label:      label,
		Tasks:      cloneTasks(w.Tasks),
		CreatedAt:  time.Now().UTC(),
	}
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.SaveCheckpoint(cp); err != nil {
			return nil, fmt.Errorf("workflow: save checkpoint: %w", err)
		}
	}
	return cp, nil
}

// FindLatestCheckpoint returns the most recently created checkpoint for
// workflowID.
func (m *Manager) FindLatestCheckpoint(workflowID string) (*Checkpoint, error) {
	if m.store == nil {
		return nil, ErrNoCheckpoint
	}
	cps, err := m.store.ListCheckpoints(workflowID)
	if err != nil {
		return nil, err
	}
	if len(cps) == 0 {
		return nil, ErrNoCheckpoint
	}
	latest := cps[0]
	for _, cp := range cps[1:] {
		if cp.CreatedAt.After(latest.CreatedAt) {
			latest = cp
		}
	}
	return latest, nil
}

// ResumeContext is the state needed to resume a workflow after a restart:
// the latest checkpoint and the tasks currently ready to run.
type ResumeContext struct {
	Checkpoint  *Checkpoint `json:"checkpoint"`
	ReadyTasks  []*TaskNode `json:"readyTasks"`
}

// BuildResumeContext combines the latest checkpoint with the live
// workflow's current ready set, for handing to a process restarting work
// after a crash.
func (m *Manager) BuildResumeContext(workflowID string) (*ResumeContext, error) {
	cp, err := m.FindLatestCheckpoint(workflowID)
	if err != nil {
		return nil, err
	}
	ready, err := m.GetReadyTasks(workflowID)
	if err != nil {
		return nil, err
	}
	return &ResumeContext{Checkpoint: cp, ReadyTasks: ready}, nil
}

func cloneTasks(tasks map[string]*TaskNode) map[string]*TaskNode {
	out := make(map[string]*TaskNode, len(tasks))
	for id, t := range tasks {
		cp := *t
		cp.DependsOn = append([]string(nil), t.DependsOn...)
		out[id] = &cp
	}
	return out
}
