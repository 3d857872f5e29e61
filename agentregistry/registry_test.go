package agentregistry_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/orchestra/a2a"
	"goa.design/orchestra/agentregistry"
	"goa.design/orchestra/resilience"
	"goa.design/orchestra/telemetry"
)

func newCall() *resilience.Call {
	breaker := resilience.NewBreaker("test", resilience.DefaultBreakerConfig(), telemetry.Noop())
	return resilience.NewCall(breaker, resilience.RetryConfig{MaxAttempts: 1}, 5*time.Second)
}

func cardServer(t *testing.T, capabilities []string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := map[string]any{
			"jsonrpc": "2.0",
			"id":      req["id"],
			"result": a2a.AgentCard{
				Name:         "crm",
				Capabilities: capabilities,
			},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func TestRegistry_ProbeMarksAgentHealthy(t *testing.T) {
	srv := cardServer(t, []string{"crm_lookup"})
	defer srv.Close()

	client := a2a.NewClient(srv.URL, newCall())
	reg := agentregistry.New(client, agentregistry.DefaultConfig(), telemetry.Noop())
	reg.Register("crm", srv.URL, resilience.DefaultBreakerConfig())

	reg.Probe(t.Context())
	assert.Equal(t, agentregistry.Healthy, reg.AgentStatus("crm"))

	name, endpoint, err := reg.Find("crm_lookup")
	require.NoError(t, err)
	assert.Equal(t, "crm", name)
	assert.Equal(t, srv.URL, endpoint)
}

func TestRegistry_FindReturnsNoAgentAvailableWhenUnhealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := a2a.NewClient(srv.URL, newCall())
	reg := agentregistry.New(client, agentregistry.DefaultConfig(), telemetry.Noop())
	reg.Register("crm", srv.URL, resilience.DefaultBreakerConfig())

	reg.Probe(t.Context())
	assert.Equal(t, agentregistry.Unhealthy, reg.AgentStatus("crm"))

	_, _, err := reg.Find("crm_lookup")
	assert.ErrorIs(t, err, agentregistry.ErrNoAgentAvailable)
}

func TestRegistry_ListHealthyReturnsOnlyHealthyEntries(t *testing.T) {
	healthy := cardServer(t, []string{"crm_lookup"})
	defer healthy.Close()
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer down.Close()

	client := a2a.NewClient(healthy.URL, newCall())
	reg := agentregistry.New(client, agentregistry.DefaultConfig(), telemetry.Noop())
	reg.Register("crm", healthy.URL, resilience.DefaultBreakerConfig())
	reg.Register("itsm", down.URL, resilience.DefaultBreakerConfig())
	reg.Probe(t.Context())

	summaries := reg.ListHealthy()
	require.Len(t, summaries, 1)
	assert.Equal(t, "crm", summaries[0].Name)
	assert.Equal(t, []string{"crm_lookup"}, summaries[0].Capabilities)
}

func TestRegistry_CallAgentDispatchesToRegisteredEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := map[string]any{
			"jsonrpc": "2.0",
			"id":      req["id"],
			"result":  a2a.TaskResult{Status: "completed"},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	client := a2a.NewClient(srv.URL, newCall())
	reg := agentregistry.New(client, agentregistry.DefaultConfig(), telemetry.Noop())
	reg.Register("crm", srv.URL, resilience.DefaultBreakerConfig())

	result, err := reg.CallAgent(t.Context(), "crm", &a2a.Task{ID: "t1", Instruction: "look up account"})
	require.NoError(t, err)
	assert.Equal(t, "completed", result.Status)
}

func TestRegistry_CallAgentUnknownNameIsError(t *testing.T) {
	reg := agentregistry.New(a2a.NewClient("http://unused", newCall()), agentregistry.DefaultConfig(), telemetry.Noop())
	_, err := reg.CallAgent(t.Context(), "missing", &a2a.Task{ID: "t1"})
	assert.Error(t, err)
}

func TestRegistry_FindIgnoresCapabilityNotAdvertised(t *testing.T) {
	srv := cardServer(t, []string{"itsm_lookup"})
	defer srv.Close()

	client := a2a.NewClient(srv.URL, newCall())
	reg := agentregistry.New(client, agentregistry.DefaultConfig(), telemetry.Noop())
	reg.Register("crm", srv.URL, resilience.DefaultBreakerConfig())
	reg.Probe(t.Context())

	_, _, err := reg.Find("crm_lookup")
	assert.ErrorIs(t, err, agentregistry.ErrNoAgentAvailable)
}
