// Package gateway implements finger's Gateway Supervisor (spec §4.F):
// manifest-driven child process management over a line-delimited JSON
// envelope protocol (request / ack / result / input / event), with
// ack/result timeouts, a restart policy, and child-exit handling routed
// through the Error Handler.
//
// Grounded on the teacher's agent/lifecycle/{manager,process_runner}.go
// shape: one process per managed child, one reader goroutine draining
// its stdout, a mutex-guarded writer for stdin, and a supervisor-level
// table of live sessions. Deliberately decoupled from the teacher's
// Docker SDK integration (agent/docker/client.go) — the spec's gateway
// protocol is a generic stdio contract, not Docker-specific; a gateway
// manifest MAY itself shell out to `docker run` as its Command, but this
// package never imports the Docker SDK directly (see DESIGN.md for the
// justification).
package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/jasonzhangf/finger/internal/errorhandler"
	"github.com/jasonzhangf/finger/internal/logger"
)

// Errors surfaced by the Gateway Supervisor.
var (
	ErrSessionNotFound = errors.New("gateway: session not found")
	ErrAckTimeout      = errors.New("gateway: timed out waiting for ack")
	ErrResultTimeout   = errors.New("gateway: timed out waiting for result")
	ErrSessionExited   = errors.New("gateway: session exited before responding")
)

// EnvelopeType is one of the fixed stdio protocol message kinds.
type EnvelopeType string

const (
	EnvelopeRequest EnvelopeType = "request"
	EnvelopeAck     EnvelopeType = "ack"
	EnvelopeResult  EnvelopeType = "result"
	EnvelopeInput   EnvelopeType = "input"
	EnvelopeEvent   EnvelopeType = "event"
)

// Envelope is one line of the gateway's line-delimited JSON protocol.
type Envelope struct {
	Type    EnvelopeType   `json:"type"`
	ID      string         `json:"id"`
	Method  string         `json:"method,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// RestartPolicy controls how the supervisor reacts to a child exiting.
type RestartPolicy string

const (
	RestartAlways     RestartPolicy = "always"
	RestartOnFailure  RestartPolicy = "on-failure"
	RestartNever      RestartPolicy = "never"
)

// Manifest declares a gateway child process, loaded from a YAML file.
type Manifest struct {
	Name          string            `yaml:"name"`
	Command       string            `yaml:"command"`
	Args          []string          `yaml:"args"`
	Env           map[string]string `yaml:"env"`
	WorkDir       string            `yaml:"workDir"`
	RestartPolicy RestartPolicy     `yaml:"restartPolicy"`
	MaxRestarts   int               `yaml:"maxRestarts"`
}

// LoadManifest reads and parses a gateway manifest from a YAML file.
func LoadManifest(path string, readFile func(string) ([]byte, error)) (Manifest, error) {
	data, err := readFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("gateway: read manifest %s: %w", path, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("gateway: parse manifest %s: %w", path, err)
	}
	return m, nil
}

// EventHook observes unsolicited "event" envelopes from a session.
type EventHook func(sessionName string, env Envelope)

// ExitHook observes a session's process exiting, before any restart
// decision is applied.
type ExitHook func(sessionName string, err error)

// Session is one managed child process.
type Session struct {
	manifest  Manifest
	stdin     io.WriteCloser
	writeMu   sync.Mutex
	stop      func() error
	pendingMu sync.Mutex
	pending   map[string]chan Envelope
	restarts  int
	log       *logger.Logger
	closed    chan struct{}
}

func newSession(manifest Manifest, stdin io.WriteCloser, stdout io.Reader, stop func() error, log *logger.Logger, onEvent EventHook) *Session {
	s := &Session{
		manifest: manifest,
		stdin:    stdin,
		stop:     stop,
		pending:  make(map[string]chan Envelope),
		log:      log,
		closed:   make(chan struct{}),
	}
	go s.readLoop(stdout, onEvent)
	return s
}

// readLoop is the session's single stdout-reading goroutine: every other
// goroutine must go through Send/deliverToWaiter, never read stdout
// directly, preserving single-reader ownership of the stream.
func (s *Session) readLoop(stdout io.Reader, onEvent EventHook) {
	defer close(s.closed)
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var env Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			s.log.Warn("gateway: malformed envelope line", zap.String("session", s.manifest.Name), zap.Error(err))
			continue
		}
		s.dispatch(env, onEvent)
	}
}

func (s *Session) dispatch(env Envelope, onEvent EventHook) {
	switch env.Type {
	case EnvelopeAck, EnvelopeResult:
		s.pendingMu.Lock()
		ch, ok := s.pending[env.ID]
		s.pendingMu.Unlock()
		if ok {
			ch <- env
		}
	case EnvelopeEvent:
		if onEvent != nil {
			onEvent(s.manifest.Name, env)
		}
	default:
		s.log.Warn("gateway: unexpected envelope type from child",
			zap.String("session", s.manifest.Name), zap.String("type", string(env.Type)))
	}
}

// send writes env as a single JSON line to the child's stdin, serialized
// against concurrent writers.
func (s *Session) send(env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("gateway: marshal envelope: %w", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err = s.stdin.Write(append(data, '\n'))
	return err
}

// registerWaiter installs a 2-slot channel (one for the ack, one for the
// result) under id, removing it on return.
func (s *Session) registerWaiter(id string) (chan Envelope, func()) {
	ch := make(chan Envelope, 2)
	s.pendingMu.Lock()
	s.pending[id] = ch
	s.pendingMu.Unlock()
	return ch, func() {
		s.pendingMu.Lock()
		delete(s.pending, id)
		s.pendingMu.Unlock()
	}
}

// SendInput sends an unsolicited "input" envelope (e.g. relayed user
// keystrokes) with no ack/result wait.
func (s *Session) SendInput(payload map[string]any) error {
	return s.send(Envelope{Type: EnvelopeInput, Payload: payload})
}

// Supervisor manages the set of live gateway sessions.
type Supervisor struct {
	mu            sync.Mutex
	sessions      map[string]*Session
	ackTimeout    time.Duration
	resultTimeout time.Duration
	errHandler    *errorhandler.Handler
	log           *logger.Logger
	onEvent       EventHook
	onExit        ExitHook
	starter       func(ctx context.Context, m Manifest) (stdin io.WriteCloser, stdout io.Reader, stop func() error, wait func() error, err error)
}

// New constructs a Supervisor. ackTimeout bounds how long Request waits
// for the child's ack envelope; resultTimeout bounds how long it then
// waits (from the ack) for the result envelope.
func New(ackTimeout, resultTimeout time.Duration, errHandler *errorhandler.Handler, log *logger.Logger) *Supervisor {
	if log == nil {
		log = logger.Default()
	}
	sup := &Supervisor{
		sessions:      make(map[string]*Session),
		ackTimeout:    ackTimeout,
		resultTimeout: resultTimeout,
		errHandler:    errHandler,
		log:           log,
	}
	sup.starter = sup.startRealProcess
	return sup
}

// SetOnEvent installs the unsolicited-event observation hook.
func (sup *Supervisor) SetOnEvent(hook EventHook) {
	sup.mu.Lock()
	defer sup.mu.Unlock()
	sup.onEvent = hook
}

// SetOnExit installs the child-exit observation hook.
func (sup *Supervisor) SetOnExit(hook ExitHook) {
	sup.mu.Lock()
	defer sup.mu.Unlock()
	sup.onExit = hook
}

func (sup *Supervisor) startRealProcess(ctx context.Context, m Manifest) (io.WriteCloser, io.Reader, func() error, func() error, error) {
	cmd := exec.CommandContext(ctx, m.Command, m.Args...)
	cmd.Dir = m.WorkDir
	for k, v := range m.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, nil, nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, nil, nil, err
	}
	stop := func() error { return cmd.Process.Kill() }
	wait := cmd.Wait
	return stdin, stdout, stop, wait, nil
}

// Start launches manifest's process (or, in tests, a substituted
// starter), wires up its Session, and begins supervising it for exit per
// its RestartPolicy.
func (sup *Supervisor) Start(ctx context.Context, m Manifest) (*Session, error) {
	stdin, stdout, stop, wait, err := sup.starter(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("gateway: start %s: %w", m.Name, err)
	}

	sup.mu.Lock()
	onEvent := sup.onEvent
	sup.mu.Unlock()

	session := newSession(m, stdin, stdout, stop, sup.log, onEvent)

	sup.mu.Lock()
	sup.sessions[m.Name] = session
	sup.mu.Unlock()

	go sup.superviseExit(ctx, m, session, wait)
	return session, nil
}

func (sup *Supervisor) superviseExit(ctx context.Context, m Manifest, session *Session, wait func() error) {
	err := wait()

	sup.mu.Lock()
	onExit := sup.onExit
	sup.mu.Unlock()
	if onExit != nil {
		onExit(m.Name, err)
	}

	restart := false
	switch m.RestartPolicy {
	case RestartAlways:
		restart = true
	case RestartOnFailure:
		restart = err != nil
	}
	sup.mu.Lock()
	if m.MaxRestarts > 0 && session.restarts >= m.MaxRestarts {
		restart = false
	}
	delete(sup.sessions, m.Name)
	sup.mu.Unlock()

	if !restart || ctx.Err() != nil {
		return
	}

	restarts := session.restarts + 1
	retry := func() error {
		next, startErr := sup.Start(ctx, m)
		if startErr == nil {
			sup.mu.Lock()
			next.restarts = restarts
			sup.mu.Unlock()
		}
		return startErr
	}
	if sup.errHandler != nil {
		_ = sup.errHandler.Execute(ctx, retry)
	} else {
		_ = retry()
	}
}

// Get returns the live session registered under name.
func (sup *Supervisor) Get(name string) (*Session, bool) {
	sup.mu.Lock()
	defer sup.mu.Unlock()
	s, ok := sup.sessions[name]
	return s, ok
}

// Stop terminates the session registered under name.
func (sup *Supervisor) Stop(name string) error {
	sup.mu.Lock()
	s, ok := sup.sessions[name]
	sup.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, name)
	}
	return s.stop()
}

// Request sends a "request" envelope to the named session's method and
// waits first for its ack (within ackTimeout), then for its result
// (within resultTimeout measured from when the ack arrived).
func (sup *Supervisor) Request(ctx context.Context, name, id, method string, payload map[string]any) (Envelope, error) {
	sup.mu.Lock()
	session, ok := sup.sessions[name]
	sup.mu.Unlock()
	if !ok {
		return Envelope{}, fmt.Errorf("%w: %s", ErrSessionNotFound, name)
	}

	ch, cleanup := session.registerWaiter(id)
	defer cleanup()

	if err := session.send(Envelope{Type: EnvelopeRequest, ID: id, Method: method, Payload: payload}); err != nil {
		return Envelope{}, fmt.Errorf("gateway: send request: %w", err)
	}

	ack, err := waitEnvelope(ctx, ch, session.closed, sup.ackTimeout, ErrAckTimeout)
	if err != nil {
		return Envelope{}, err
	}
	if ack.Type != EnvelopeAck {
		return ack, nil // child skipped straight to a result
	}

	result, err := waitEnvelope(ctx, ch, session.closed, sup.resultTimeout, ErrResultTimeout)
	if err != nil {
		return Envelope{}, err
	}
	return result, nil
}

func waitEnvelope(ctx context.Context, ch chan Envelope, closed chan struct{}, timeout time.Duration, timeoutErr error) (Envelope, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case env := <-ch:
		return env, nil
	case <-closed:
		return Envelope{}, ErrSessionExited
	case <-timer.C:
		return Envelope{}, timeoutErr
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	}
}
