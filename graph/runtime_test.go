package graph_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/orchestra/graph"
	"goa.design/orchestra/store"
	"goa.design/orchestra/telemetry"
)

// memBackend is a minimal in-memory store.Backend double, grounded on the
// same shape as store package's own test fake, used here only to give a
// Runtime somewhere to persist checkpoints without touching a real file
// or network backend.
type memBackend struct {
	mu   sync.Mutex
	data map[string]map[string][]byte
}

func newMemBackend() *memBackend {
	return &memBackend{data: make(map[string]map[string][]byte)}
}

func (m *memBackend) Get(_ context.Context, ns store.Namespace, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket, ok := m.data[ns.String()]
	if !ok {
		return nil, store.ErrNotFound
	}
	v, ok := bucket[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return v, nil
}

func (m *memBackend) Put(_ context.Context, ns store.Namespace, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket, ok := m.data[ns.String()]
	if !ok {
		bucket = make(map[string][]byte)
		m.data[ns.String()] = bucket
	}
	bucket[key] = value
	return nil
}

func (m *memBackend) List(_ context.Context, ns store.Namespace) ([]store.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Record
	for k, v := range m.data[ns.String()] {
		out = append(out, store.Record{Key: k, Value: v})
	}
	return out, nil
}

func (m *memBackend) Delete(_ context.Context, ns store.Namespace, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket, ok := m.data[ns.String()]
	if !ok {
		return store.ErrNotFound
	}
	if _, ok := bucket[key]; !ok {
		return store.ErrNotFound
	}
	delete(bucket, key)
	return nil
}

func (m *memBackend) Close() error { return nil }

func newTestCheckpoints() *graph.CheckpointStore {
	return graph.NewCheckpointStore(store.New(newMemBackend(), 2))
}

func TestRuntime_LinearGraphCompletes(t *testing.T) {
	b := graph.NewBuilder(graph.DefaultOrchestratorSchema())
	b.AddNode("start", func(_ context.Context, s graph.State) graph.StepResult {
		return graph.Complete(graph.State{graph.KeySummary: "started"})
	})
	b.AddNode("finish", func(_ context.Context, s graph.State) graph.StepResult {
		return graph.Complete(graph.State{graph.KeySummary: "finished"})
	})
	b.SetEntry("start")
	b.AddEdge("start", graph.To("finish"))
	b.AddEdge("finish", graph.End())

	g, err := b.Freeze()
	require.NoError(t, err)

	rt := graph.NewRuntime(g, newTestCheckpoints(), graph.DefaultRuntimeConfig(), telemetry.Noop())
	result := rt.Run(context.Background(), "thread-1", graph.State{})

	require.Equal(t, graph.Completed, result.Kind)
	assert.Equal(t, "finished", result.State[graph.KeySummary])
}

func TestRuntime_ConditionalEdgeRoutesOnState(t *testing.T) {
	b := graph.NewBuilder(graph.DefaultOrchestratorSchema())
	b.AddNode("check", func(_ context.Context, s graph.State) graph.StepResult {
		return graph.Complete(graph.State{graph.KeyNeedsPlanExecute: true})
	})
	b.AddNode("plan", func(_ context.Context, s graph.State) graph.StepResult {
		return graph.Complete(graph.State{graph.KeySummary: "planned"})
	})
	b.AddNode("chat", func(_ context.Context, s graph.State) graph.StepResult {
		return graph.Complete(graph.State{graph.KeySummary: "chatted"})
	})
	b.SetEntry("check")
	b.AddConditionalEdge("check", func(_ context.Context, s graph.State) graph.Destination {
		if needs, _ := s[graph.KeyNeedsPlanExecute].(bool); needs {
			return graph.To("plan")
		}
		return graph.To("chat")
	})
	b.AddEdge("plan", graph.End())
	b.AddEdge("chat", graph.End())

	g, err := b.Freeze()
	require.NoError(t, err)

	rt := graph.NewRuntime(g, newTestCheckpoints(), graph.DefaultRuntimeConfig(), telemetry.Noop())
	result := rt.Run(context.Background(), "thread-2", graph.State{})

	require.Equal(t, graph.Completed, result.Kind)
	assert.Equal(t, "planned", result.State[graph.KeySummary])
}

func TestRuntime_SendFanOutMergesResults(t *testing.T) {
	b := graph.NewBuilder(graph.DefaultOrchestratorSchema())
	b.AddNode("dispatch", func(_ context.Context, s graph.State) graph.StepResult {
		return graph.Complete(graph.State{})
	})
	b.AddNode("workerA", func(_ context.Context, s graph.State) graph.StepResult {
		return graph.Complete(graph.State{graph.KeyMessages: []graph.Message{{ID: "a", Content: "from A"}}})
	})
	b.AddNode("workerB", func(_ context.Context, s graph.State) graph.StepResult {
		return graph.Complete(graph.State{graph.KeyMessages: []graph.Message{{ID: "b", Content: "from B"}}})
	})
	b.SetEntry("dispatch")
	b.AddConditionalEdge("dispatch", func(_ context.Context, s graph.State) graph.Destination {
		return graph.Fan(
			graph.Send{Target: "workerA"},
			graph.Send{Target: "workerB"},
		)
	})
	b.AddEdge("workerA", graph.End())
	b.AddEdge("workerB", graph.End())

	g, err := b.Freeze()
	require.NoError(t, err)

	rt := graph.NewRuntime(g, newTestCheckpoints(), graph.DefaultRuntimeConfig(), telemetry.Noop())
	result := rt.Run(context.Background(), "thread-3", graph.State{})

	require.Equal(t, graph.Completed, result.Kind)
	msgs := result.State[graph.KeyMessages].([]graph.Message)
	assert.Len(t, msgs, 2)
}

func TestRuntime_RecursionLimitExceeded(t *testing.T) {
	b := graph.NewBuilder(graph.DefaultOrchestratorSchema())
	b.AddNode("loop", func(_ context.Context, s graph.State) graph.StepResult {
		return graph.Complete(graph.State{})
	})
	b.SetEntry("loop")
	b.AddEdge("loop", graph.To("loop"))

	g, err := b.Freeze()
	require.NoError(t, err)

	cfg := graph.RuntimeConfig{RecursionLimit: 3}
	rt := graph.NewRuntime(g, newTestCheckpoints(), cfg, telemetry.Noop())
	result := rt.Run(context.Background(), "thread-4", graph.State{})

	require.Equal(t, graph.Failed, result.Kind)
	var recErr *graph.RecursionExceeded
	assert.ErrorAs(t, result.Err, &recErr)
}

func TestRuntime_SuspendThenResume(t *testing.T) {
	schema := graph.DefaultOrchestratorSchema()
	schema["answer"] = graph.ReplaceReducer
	b := graph.NewBuilder(schema)
	b.AddNode("ask", func(_ context.Context, s graph.State) graph.StepResult {
		if _, answered := s["answer"]; answered {
			return graph.Complete(graph.State{graph.KeySummary: "resumed"})
		}
		return graph.Suspend(graph.ClarificationSuspension("ask", "what is the account name?"))
	})
	b.SetEntry("ask")
	b.AddEdge("ask", graph.End())

	g, err := b.Freeze()
	require.NoError(t, err)

	checkpoints := newTestCheckpoints()
	rt := graph.NewRuntime(g, checkpoints, graph.DefaultRuntimeConfig(), telemetry.Noop())

	first := rt.Run(context.Background(), "thread-5", graph.State{})
	require.Equal(t, graph.Suspended, first.Kind)
	require.Equal(t, "ask", first.Suspend.NodeName)

	second, err := rt.Resume(context.Background(), "thread-5", graph.State{"answer": "yes"})
	require.NoError(t, err)
	require.Equal(t, graph.Completed, second.Kind)
	assert.Equal(t, "resumed", second.State[graph.KeySummary])
}

func TestBuilder_FreezeRejectsMissingEntry(t *testing.T) {
	b := graph.NewBuilder(graph.DefaultOrchestratorSchema())
	b.AddNode("only", func(_ context.Context, s graph.State) graph.StepResult {
		return graph.Complete(graph.State{})
	})
	_, err := b.Freeze()
	assert.Error(t, err)
}

func TestBuilder_FreezeRejectsDuplicateNode(t *testing.T) {
	b := graph.NewBuilder(graph.DefaultOrchestratorSchema())
	noop := func(_ context.Context, s graph.State) graph.StepResult { return graph.Complete(graph.State{}) }
	b.AddNode("dup", noop)
	b.AddNode("dup", noop)
	b.SetEntry("dup")
	_, err := b.Freeze()
	assert.Error(t, err)
}
