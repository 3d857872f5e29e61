package a2a_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goa.design/orchestra/a2a"
	"goa.design/orchestra/telemetry"
)

func TestServer_DispatchesRegisteredMethod(t *testing.T) {
	srv := a2a.NewServer(telemetry.Noop())
	srv.Handle(a2a.MethodGetAgentCard, func(context.Context, json.RawMessage) (any, error) {
		return a2a.AgentCard{Name: "crm", Version: "1.0.0"}, nil
	})

	rec := post(t, srv, `{"jsonrpc":"2.0","method":"get_agent_card","id":"1"}`)
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Nil(t, resp["error"])
	result := resp["result"].(map[string]any)
	require.Equal(t, "crm", result["name"])
}

func TestServer_MethodNotFound(t *testing.T) {
	srv := a2a.NewServer(telemetry.Noop())
	rec := post(t, srv, `{"jsonrpc":"2.0","method":"nope","id":"1"}`)
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	errObj := resp["error"].(map[string]any)
	require.InDelta(t, float64(a2a.CodeMethodNotFound), errObj["code"], 0)
}

func TestServer_InvalidRequest(t *testing.T) {
	srv := a2a.NewServer(telemetry.Noop())
	rec := post(t, srv, `not json`)
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	errObj := resp["error"].(map[string]any)
	require.InDelta(t, float64(a2a.CodeInvalidRequest), errObj["code"], 0)
}

func TestServer_HandlerErrorBecomesInternal(t *testing.T) {
	srv := a2a.NewServer(telemetry.Noop())
	srv.Handle(a2a.MethodProcessTask, func(context.Context, json.RawMessage) (any, error) {
		return nil, errBoom
	})
	rec := post(t, srv, `{"jsonrpc":"2.0","method":"process_task","id":"2"}`)
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	errObj := resp["error"].(map[string]any)
	require.InDelta(t, float64(a2a.CodeInternal), errObj["code"], 0)
}

func TestServer_RejectsOverCapWithServiceUnavailable(t *testing.T) {
	release := make(chan struct{})
	srv := a2a.NewServer(telemetry.Noop(), a2a.WithMaxInFlight(1))
	srv.Handle(a2a.MethodProcessTask, func(context.Context, json.RawMessage) (any, error) {
		<-release
		return a2a.TaskResult{Status: "completed"}, nil
	})

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() { done <- post(t, srv, `{"jsonrpc":"2.0","method":"process_task","id":"1"}`) }()

	var rec2 *httptest.ResponseRecorder
	require.Eventually(t, func() bool {
		rec2 = post(t, srv, `{"jsonrpc":"2.0","method":"process_task","id":"2"}`)
		return rec2.Code == http.StatusServiceUnavailable
	}, time.Second, time.Millisecond)

	close(release)
	<-done
}

var errBoom = &a2a.RPCError{Code: a2a.CodeInternal, Message: "boom"}

func post(t *testing.T, srv *a2a.Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/a2a", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}
