package hub

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSendLiteralRouteBlocking(t *testing.T) {
	h := New(10, nil)
	h.AddRoute(&Route{
		ID:       "r1",
		Pattern:  Literal("ping"),
		Blocking: true,
		Handler: func(ctx context.Context, msg Message) (any, error) {
			return "pong", nil
		},
	})

	res, err := h.Send(context.Background(), Message{"type": "ping"}, nil)
	require.NoError(t, err)
	require.Equal(t, "pong", res)
}

func TestSendNoRouteEnqueues(t *testing.T) {
	h := New(10, nil)
	res, err := h.Send(context.Background(), Message{"type": "unhandled"}, nil)
	require.NoError(t, err)
	require.Nil(t, res)
	require.Equal(t, 1, h.QueueLen())
}

func TestProcessQueueDrainsOnceRouteExists(t *testing.T) {
	h := New(10, nil)
	_, _ = h.Send(context.Background(), Message{"type": "later"}, nil)
	require.Equal(t, 1, h.QueueLen())

	var invoked int32
	var mu sync.Mutex
	h.AddRoute(&Route{
		ID:      "r1",
		Pattern: Literal("later"),
		Handler: func(ctx context.Context, msg Message) (any, error) {
			mu.Lock()
			invoked++
			mu.Unlock()
			return nil, nil
		},
	})

	drained := h.ProcessQueue()
	require.Equal(t, 1, drained)
	require.Equal(t, 0, h.QueueLen())
}

func TestBlockingPriorityOrderDeterminesResult(t *testing.T) {
	h := New(10, nil)
	h.AddRoute(&Route{
		ID: "low", Pattern: Literal("x"), Blocking: true, Priority: 1,
		Handler: func(ctx context.Context, msg Message) (any, error) { return "low", nil },
	})
	h.AddRoute(&Route{
		ID: "high", Pattern: Literal("x"), Blocking: true, Priority: 10,
		Handler: func(ctx context.Context, msg Message) (any, error) { return "high", nil },
	})

	res, err := h.Send(context.Background(), Message{"type": "x"}, nil)
	require.NoError(t, err)
	require.Equal(t, "high", res)
}

func TestEachMatchingHandlerInvokedExactlyOnce(t *testing.T) {
	h := New(10, nil)
	var mu sync.Mutex
	counts := map[string]int{}
	mk := func(id string, blocking bool) *Route {
		return &Route{
			ID: id, Pattern: Literal("x"), Blocking: blocking,
			Handler: func(ctx context.Context, msg Message) (any, error) {
				mu.Lock()
				counts[id]++
				mu.Unlock()
				return id, nil
			},
		}
	}
	h.AddRoute(mk("a", true))
	h.AddRoute(mk("b", false))
	h.AddRoute(mk("c", false))

	_, _ = h.Send(context.Background(), Message{"type": "x"}, nil)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return counts["a"] == 1 && counts["b"] == 1 && counts["c"] == 1
	}, time.Second, 10*time.Millisecond)
}

func TestRegexPatternMatchesStableSerialization(t *testing.T) {
	h := New(10, nil)
	re := regexp.MustCompile(`"type":"tool\.exec"`)
	h.AddRoute(&Route{
		ID: "r", Pattern: Regex(re), Blocking: true,
		Handler: func(ctx context.Context, msg Message) (any, error) { return "matched", nil },
	})

	res, err := h.Send(context.Background(), Message{"type": "tool.exec", "tool": "grep"}, nil)
	require.NoError(t, err)
	require.Equal(t, "matched", res)
}

func TestSendToModuleNotFound(t *testing.T) {
	h := New(10, nil)
	_, err := h.SendToModule(context.Background(), "missing", Message{}, nil)
	require.ErrorIs(t, err, ErrModuleNotFound)
}

func TestRouteToOutputRejectsNonOutput(t *testing.T) {
	h := New(10, nil)
	h.RegisterInput("in1", func(ctx context.Context, msg Message) (any, error) { return nil, nil })
	_, err := h.RouteToOutput(context.Background(), "in1", Message{}, nil)
	require.ErrorIs(t, err, ErrNotOutput)
}

func TestPendingCallbackResolution(t *testing.T) {
	h := New(10, nil)
	var got any
	id := h.RegisterPendingCallback(func(res any, err error) { got = res })
	ok := h.ResolvePendingCallback(id, "done", nil)
	require.True(t, ok)
	require.Equal(t, "done", got)

	ok = h.ResolvePendingCallback(id, "again", nil)
	require.False(t, ok)
}
