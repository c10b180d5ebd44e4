package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jasonzhangf/finger/internal/eventbus"
	"github.com/jasonzhangf/finger/internal/hub"
	"github.com/jasonzhangf/finger/internal/toolregistry"
	"github.com/jasonzhangf/finger/internal/workflow"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s := New(nil)
	s.Bus = eventbus.New(0, nil)
	s.Hub = hub.New(0, nil)
	s.Tools = toolregistry.New()
	s.Workflows = workflow.New(workflow.NewMemoryStore(), nil, nil)
	return s
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s.Router(), http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "healthy")
}

func TestCreateAndGetSession(t *testing.T) {
	s := newTestServer(t)
	r := s.Router()

	rec := doJSON(t, r, http.MethodPost, "/api/v1/sessions", nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var sess Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sess))
	require.NotEmpty(t, sess.ID)

	rec = doJSON(t, r, http.MethodGet, "/api/v1/sessions/"+sess.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, r, http.MethodGet, "/api/v1/sessions/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMessageRouteDispatchesThroughHub(t *testing.T) {
	s := newTestServer(t)
	s.Hub.RegisterInput("echo-module", func(ctx context.Context, msg hub.Message) (any, error) {
		return msg["text"], nil
	})
	s.Hub.AddRoute(&hub.Route{ID: "r1", Pattern: hub.Literal("echo-module"), Handler: func(ctx context.Context, msg hub.Message) (any, error) {
		return msg["text"], nil
	}, Blocking: true})

	rec := doJSON(t, s.Router(), http.MethodPost, "/api/v1/message", map[string]any{
		"target":   "echo-module",
		"blocking": true,
		"message":  map[string]any{"text": "hello"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "hello")
}

func TestToolExecuteViaHTTP(t *testing.T) {
	s := newTestServer(t)
	s.Tools.Access.AllowAll()
	require.NoError(t, s.Tools.Register(toolregistry.ToolDef{
		Name: "echo",
		Execute: func(ctx context.Context, args map[string]any) (any, error) {
			return args["msg"], nil
		},
	}))

	rec := doJSON(t, s.Router(), http.MethodPost, "/api/v1/tools/execute", map[string]any{
		"agentId": "agent-1", "toolName": "echo", "input": map[string]any{"msg": "hi"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "hi")
}

func TestToolPolicyDenyViaHTTP(t *testing.T) {
	s := newTestServer(t)
	s.Tools.Access.AllowAll()
	require.NoError(t, s.Tools.Register(toolregistry.ToolDef{
		Name: "echo",
		Execute: func(ctx context.Context, args map[string]any) (any, error) {
			return args["msg"], nil
		},
	}))

	rec := doJSON(t, s.Router(), http.MethodPut, "/api/v1/tools/echo/policy", map[string]any{"policy": "deny"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s.Router(), http.MethodPost, "/api/v1/tools/execute", map[string]any{
		"agentId": "agent-1", "toolName": "echo", "input": map[string]any{"msg": "hi"},
	})
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWorkflowNotFound(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s.Router(), http.MethodGet, "/api/v1/workflows/missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMailboxClearEmptiesRecords(t *testing.T) {
	s := newTestServer(t)
	s.mailbox.records["m1"] = &MailboxRecord{ID: "m1"}

	rec := doJSON(t, s.Router(), http.MethodPost, "/api/v1/mailbox/clear", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Empty(t, s.mailbox.records)
}
