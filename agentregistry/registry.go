// Package agentregistry implements the agent registry + health component
// (C7): a mutex-guarded set of specialist agents, capability-tag-based
// routing, and a background health-probe loop. Grounded on the teacher's
// toolset-schema cache/refresh idiom (runtime/registry/cache.go's
// ticker-driven background refresh loop) but repurposed from toolset
// schemas onto agent-card discovery backed by a per-agent circuit
// breaker, since this module has no distributed coordination needs (no
// goa.design/pulse — see DESIGN.md).
package agentregistry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"goa.design/orchestra/a2a"
	"goa.design/orchestra/resilience"
	"goa.design/orchestra/telemetry"
)

// Status is a specialist agent's last-known health.
type Status int

const (
	// Unhealthy is the default status until the first successful probe.
	Unhealthy Status = iota
	Healthy
	// CircuitOpenStatus reflects that the agent's breaker has tripped;
	// distinct from Unhealthy so callers can tell "probe failed" from
	// "probe fast-failed".
	CircuitOpenStatus
)

func (s Status) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case CircuitOpenStatus:
		return "circuit_open"
	default:
		return "unhealthy"
	}
}

// ErrNoAgentAvailable is returned by Find when no healthy agent exposes
// the requested capability.
var ErrNoAgentAvailable = errors.New("agentregistry: no agent available")

// entry is one registered specialist: its static endpoint configuration
// plus the mutable health state the probe loop updates. client is a
// dedicated a2a.Client bound to this entry's own endpoint and breaker, so
// probing one agent can never trip or fast-fail another's circuit.
type entry struct {
	name     string
	endpoint string
	breaker  *resilience.Breaker
	client   *a2a.Client

	mu        sync.RWMutex
	card      *a2a.AgentCard
	status    Status
	lastProbe time.Time
}

// Registry holds every configured specialist agent and periodically
// probes each one's health through its own circuit breaker.
type Registry struct {
	// client is an unregistered-endpoint convenience client (e.g. used
	// directly by tests or ad hoc probes); per-entry calls always go
	// through entry.client instead.
	client *a2a.Client
	obs    telemetry.Provider

	mu      sync.RWMutex
	entries map[string]*entry

	probeInterval time.Duration
	probeTimeout  time.Duration
	taskTimeout   time.Duration

	stop chan struct{}
	wg   sync.WaitGroup
}

// Config configures the registry's background probe loop and the
// per-entry task-dispatch client built on Register.
type Config struct {
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
	// TaskTimeout bounds a process_task round trip; distinct from
	// ProbeTimeout so a slow specialist task never looks like a failed
	// health probe (§4.2 per-call timeout discipline).
	TaskTimeout time.Duration
}

// DefaultConfig matches §4.7: probe every 30s with a 10s timeout; task
// dispatch gets a longer 60s budget.
func DefaultConfig() Config {
	return Config{ProbeInterval: 30 * time.Second, ProbeTimeout: 10 * time.Second, TaskTimeout: 60 * time.Second}
}

// New builds a Registry. client is kept as the unregistered-endpoint
// convenience client; probes and task dispatch use each entry's own
// client built in Register. obs wires logging/metrics for transitions.
func New(client *a2a.Client, cfg Config, obs telemetry.Provider) *Registry {
	if obs.Logger == nil {
		obs = telemetry.Noop()
	}
	if cfg.ProbeInterval <= 0 {
		cfg = DefaultConfig()
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = DefaultConfig().TaskTimeout
	}
	return &Registry{
		client:        client,
		obs:           obs,
		entries:       make(map[string]*entry),
		probeInterval: cfg.ProbeInterval,
		probeTimeout:  cfg.ProbeTimeout,
		taskTimeout:   cfg.TaskTimeout,
		stop:          make(chan struct{}),
	}
}

// Register adds a specialist agent by name and endpoint, starting it
// Unhealthy until the first probe succeeds. Each entry gets its own
// breaker-wrapped a2a.Client bound to its own endpoint, so one
// specialist's failures can never fast-fail calls to another.
func (r *Registry) Register(name, endpoint string, breakerCfg resilience.BreakerConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	breaker := resilience.NewBreaker(name, breakerCfg, r.obs)
	call := resilience.NewCall(breaker, resilience.DefaultRetryConfig(), r.taskTimeout)
	r.entries[name] = &entry{
		name:     name,
		endpoint: endpoint,
		breaker:  breaker,
		client:   a2a.NewClient(endpoint, call),
	}
}

// Probe runs get_agent_card against every registered agent once,
// through that agent's breaker, and records the resulting Status.
func (r *Registry) Probe(ctx context.Context) {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	for _, e := range entries {
		r.probeOne(ctx, e)
	}
}

func (r *Registry) probeOne(ctx context.Context, e *entry) {
	probeCtx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()

	card, err := e.client.GetAgentCard(probeCtx)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastProbe = time.Now()
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		e.status = CircuitOpenStatus
	case err != nil:
		e.status = Unhealthy
	default:
		e.status = Healthy
		e.card = card
	}
}

// StartBackgroundProbing launches the periodic probe loop (default every
// 30s). Call Stop to terminate it.
func (r *Registry) StartBackgroundProbing(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.probeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stop:
				return
			case <-ticker.C:
				r.Probe(ctx)
			}
		}
	}()
}

// Stop terminates the background probe loop and waits for it to exit.
func (r *Registry) Stop() {
	close(r.stop)
	r.wg.Wait()
}

// Find returns the first healthy agent whose capability set contains
// tag, or ErrNoAgentAvailable.
func (r *Registry) Find(tag string) (name, endpoint string, err error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.entries {
		e.mu.RLock()
		status, card := e.status, e.card
		e.mu.RUnlock()
		if status != Healthy || card == nil {
			continue
		}
		for _, c := range card.Capabilities {
			if c == tag {
				return e.name, e.endpoint, nil
			}
		}
	}
	return "", "", ErrNoAgentAvailable
}

// AgentSummary is a snapshot of one registered specialist, returned by
// ListHealthy for building a tool catalogue (§4.5).
type AgentSummary struct {
	Name         string
	Endpoint     string
	Capabilities []string
}

// ListHealthy returns every currently Healthy agent with its advertised
// capabilities, used to build one delegating tool per specialist.
func (r *Registry) ListHealthy() []AgentSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]AgentSummary, 0, len(r.entries))
	for _, e := range r.entries {
		e.mu.RLock()
		status, card := e.status, e.card
		e.mu.RUnlock()
		if status != Healthy || card == nil {
			continue
		}
		out = append(out, AgentSummary{Name: e.name, Endpoint: e.endpoint, Capabilities: card.Capabilities})
	}
	return out
}

// CallAgent dispatches task to the named specialist through its own
// breaker-wrapped client (C2's call_agent, per §4.5's "tools" node).
func (r *Registry) CallAgent(ctx context.Context, name string, task *a2a.Task) (*a2a.TaskResult, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("agentregistry: unknown agent %q", name)
	}
	return e.client.CallAgent(ctx, task)
}

// AgentStatus returns the current status of the named agent, or
// Unhealthy if the agent isn't registered.
func (r *Registry) AgentStatus(name string) Status {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return Unhealthy
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}
