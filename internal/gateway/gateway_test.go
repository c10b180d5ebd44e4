package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeChild wires a Supervisor's starter to an in-process io.Pipe pair
// instead of a real subprocess, so the protocol logic can be exercised
// deterministically without depending on any external binary.
type fakeChild struct {
	toChild   *io.PipeReader // child reads its "stdin" from here
	fromChild *io.PipeWriter // child writes its "stdout" to here
	stdin     *io.PipeWriter // supervisor writes to here
	stdout    *io.PipeReader // supervisor reads from here
	stopped   chan struct{}
	stopOnce  sync.Once
}

func newFakeChild() *fakeChild {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	return &fakeChild{toChild: inR, fromChild: outW, stdin: inW, stdout: outR, stopped: make(chan struct{})}
}

func (f *fakeChild) starter(ctx context.Context, m Manifest) (io.WriteCloser, io.Reader, func() error, func() error, error) {
	return f.stdin, f.stdout, func() error {
		f.stopOnce.Do(func() { close(f.stopped) })
		return nil
	}, func() error {
		<-f.stopped
		return nil
	}, nil
}

// respondWithAckThenResult reads one request line from the child's
// stdin and writes back an ack followed by a result, simulating a
// well-behaved gateway child.
func respondWithAckThenResult(t *testing.T, f *fakeChild, result map[string]any) {
	t.Helper()
	go func() {
		scanner := bufio.NewScanner(f.toChild)
		if !scanner.Scan() {
			return
		}
		var req Envelope
		_ = json.Unmarshal(scanner.Bytes(), &req)

		ack, _ := json.Marshal(Envelope{Type: EnvelopeAck, ID: req.ID})
		f.fromChild.Write(append(ack, '\n'))

		res, _ := json.Marshal(Envelope{Type: EnvelopeResult, ID: req.ID, Payload: result})
		f.fromChild.Write(append(res, '\n'))
	}()
}

func TestRequestReceivesAckThenResult(t *testing.T) {
	f := newFakeChild()
	sup := New(time.Second, time.Second, nil, nil)
	sup.starter = f.starter

	_, err := sup.Start(context.Background(), Manifest{Name: "child1"})
	require.NoError(t, err)

	respondWithAckThenResult(t, f, map[string]any{"ok": true})

	env, err := sup.Request(context.Background(), "child1", "req-1", "doThing", nil)
	require.NoError(t, err)
	require.Equal(t, EnvelopeResult, env.Type)
	require.Equal(t, true, env.Payload["ok"])
}

func TestRequestAckTimeout(t *testing.T) {
	f := newFakeChild()
	sup := New(10*time.Millisecond, time.Second, nil, nil)
	sup.starter = f.starter

	_, err := sup.Start(context.Background(), Manifest{Name: "child1"})
	require.NoError(t, err)

	// Drain the request so the write doesn't block, but never respond.
	go func() {
		scanner := bufio.NewScanner(f.toChild)
		scanner.Scan()
	}()

	_, err = sup.Request(context.Background(), "child1", "req-1", "doThing", nil)
	require.ErrorIs(t, err, ErrAckTimeout)
}

func TestRequestResultTimeoutAfterAck(t *testing.T) {
	f := newFakeChild()
	sup := New(time.Second, 10*time.Millisecond, nil, nil)
	sup.starter = f.starter

	_, err := sup.Start(context.Background(), Manifest{Name: "child1"})
	require.NoError(t, err)

	go func() {
		scanner := bufio.NewScanner(f.toChild)
		if !scanner.Scan() {
			return
		}
		var req Envelope
		_ = json.Unmarshal(scanner.Bytes(), &req)
		ack, _ := json.Marshal(Envelope{Type: EnvelopeAck, ID: req.ID})
		f.fromChild.Write(append(ack, '\n'))
		// never sends the result
	}()

	_, err = sup.Request(context.Background(), "child1", "req-1", "doThing", nil)
	require.ErrorIs(t, err, ErrResultTimeout)
}

func TestRequestUnknownSession(t *testing.T) {
	sup := New(time.Second, time.Second, nil, nil)
	_, err := sup.Request(context.Background(), "nope", "req-1", "m", nil)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestEventEnvelopeRoutedToHook(t *testing.T) {
	f := newFakeChild()
	sup := New(time.Second, time.Second, nil, nil)
	sup.starter = f.starter

	events := make(chan Envelope, 1)
	sup.SetOnEvent(func(name string, env Envelope) { events <- env })

	_, err := sup.Start(context.Background(), Manifest{Name: "child1"})
	require.NoError(t, err)

	evt, _ := json.Marshal(Envelope{Type: EnvelopeEvent, ID: "e1", Method: "log"})
	f.fromChild.Write(append(evt, '\n'))

	select {
	case e := <-events:
		require.Equal(t, "e1", e.ID)
	case <-time.After(time.Second):
		t.Fatal("expected event to be routed to hook")
	}
}

func TestStopInvokesChildStop(t *testing.T) {
	f := newFakeChild()
	sup := New(time.Second, time.Second, nil, nil)
	sup.starter = f.starter

	_, err := sup.Start(context.Background(), Manifest{Name: "child1"})
	require.NoError(t, err)

	require.NoError(t, sup.Stop("child1"))
	select {
	case <-f.stopped:
	case <-time.After(time.Second):
		t.Fatal("expected stop() to be invoked")
	}
}

func TestSessionExitUnblocksPendingRequest(t *testing.T) {
	f := newFakeChild()
	sup := New(time.Second, time.Second, nil, nil)
	sup.starter = f.starter

	session, err := sup.Start(context.Background(), Manifest{Name: "child1"})
	require.NoError(t, err)

	// Drain the request so the write doesn't block, but never respond.
	go func() {
		scanner := bufio.NewScanner(f.toChild)
		scanner.Scan()
	}()
	go func() {
		time.Sleep(20 * time.Millisecond)
		f.fromChild.Close()
	}()
	_ = session

	_, err = sup.Request(context.Background(), "child1", "req-1", "doThing", nil)
	require.ErrorIs(t, err, ErrSessionExited)
}
