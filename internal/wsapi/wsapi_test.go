package wsapi

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/jasonzhangf/finger/internal/eventbus"
)

func newTestHub(t *testing.T) (*Hub, *eventbus.Bus, context.CancelFunc) {
	t.Helper()
	bus := eventbus.New(100, nil)
	hub := New(bus, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	// give Run a moment to subscribe before the test emits events.
	time.Sleep(10 * time.Millisecond)
	return hub, bus, cancel
}

func newTestWSServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws", Handler(hub, nil))
	return httptest.NewServer(r)
}

func dialWS(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	return conn
}

func TestSubscribeReceivesConfirmation(t *testing.T) {
	hub, _, cancel := newTestHub(t)
	defer cancel()
	server := newTestWSServer(t, hub)
	defer server.Close()

	conn := dialWS(t, server)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(inboundMessage{Type: "subscribe", Groups: []string{"TASK"}}))

	var frame outboundFrame
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&frame))
	require.Equal(t, "subscribe_confirmed", frame.Type)
}

func TestSubscribedClientReceivesMatchingGroupEvent(t *testing.T) {
	hub, bus, cancel := newTestHub(t)
	defer cancel()
	server := newTestWSServer(t, hub)
	defer server.Close()

	conn := dialWS(t, server)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(inboundMessage{Type: "subscribe", Groups: []string{"TASK"}}))
	var ack outboundFrame
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&ack))
	require.Equal(t, "subscribe_confirmed", ack.Type)

	bus.Emit(eventbus.Event{Type: "task.started", Group: eventbus.GroupTask, Payload: map[string]any{"taskId": "t1"}})

	var frame outboundFrame
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&frame))
	require.Equal(t, "event:task.started", frame.Type)
	require.Equal(t, eventbus.GroupTask, frame.Group)
}

func TestUnsubscribedGroupEventNotDelivered(t *testing.T) {
	hub, bus, cancel := newTestHub(t)
	defer cancel()
	server := newTestWSServer(t, hub)
	defer server.Close()

	conn := dialWS(t, server)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(inboundMessage{Type: "subscribe", Groups: []string{"TASK"}}))
	var ack outboundFrame
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&ack))

	bus.Emit(eventbus.Event{Type: "session.created", Group: eventbus.GroupSession})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	var frame outboundFrame
	err := conn.ReadJSON(&frame)
	require.Error(t, err)
}

func TestUnsubscribeConfirmation(t *testing.T) {
	hub, _, cancel := newTestHub(t)
	defer cancel()
	server := newTestWSServer(t, hub)
	defer server.Close()

	conn := dialWS(t, server)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(inboundMessage{Type: "subscribe", Groups: []string{"TASK"}}))
	var ack outboundFrame
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&ack))

	require.NoError(t, conn.WriteJSON(inboundMessage{Type: "unsubscribe", Groups: []string{"TASK"}}))
	var frame outboundFrame
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&frame))
	require.Equal(t, "unsubscribe_confirmed", frame.Type)
}

func TestUnknownMessageTypeReturnsError(t *testing.T) {
	hub, _, cancel := newTestHub(t)
	defer cancel()
	server := newTestWSServer(t, hub)
	defer server.Close()

	conn := dialWS(t, server)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(inboundMessage{Type: "bogus"}))
	var frame outboundFrame
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&frame))
	require.Equal(t, "error", frame.Type)
}

func TestClientDisconnectRemovesFromHub(t *testing.T) {
	hub, _, cancel := newTestHub(t)
	defer cancel()
	server := newTestWSServer(t, hub)
	defer server.Close()

	conn := dialWS(t, server)
	require.NoError(t, conn.WriteJSON(inboundMessage{Type: "subscribe", Groups: []string{"TASK"}}))
	var ack outboundFrame
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&ack))
	require.Equal(t, 1, hub.ClientCount())

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 20*time.Millisecond)
}
