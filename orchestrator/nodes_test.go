package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/orchestra/a2a"
	"goa.design/orchestra/graph"
	"goa.design/orchestra/llm"
	"goa.design/orchestra/memory"
	"goa.design/orchestra/store"
	"goa.design/orchestra/telemetry"
)

func TestPlanExecuteNode_NoApprovalPromptPassesThroughImmediately(t *testing.T) {
	node := planExecuteNode(Dependencies{})
	s := graph.State{graph.KeyPlanExecuteTask: map[string]any{"instruction": "look up account Acme"}}

	result := node(context.Background(), s)
	require.Equal(t, graph.Completed, result.Kind)
	assert.Equal(t, false, result.State[graph.KeyNeedsPlanExecute])
	messages, _ := result.State[graph.KeyMessages].([]graph.Message)
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0].Content, "look up account Acme")
}

func TestPlanExecuteNode_ApprovalPromptSuspendsThenResumes(t *testing.T) {
	node := planExecuteNode(Dependencies{})
	task := map[string]any{"instruction": "place order for $1500", "approval_prompt": "Approve order > $1000?"}
	s := graph.State{graph.KeyPlanExecuteTask: task}

	result := node(context.Background(), s)
	require.Equal(t, graph.Suspended, result.Kind)
	require.NotNil(t, result.Suspend)
	assert.Equal(t, "Approve order > $1000?", result.Suspend.Prompt)
	assert.Equal(t, nodePlanExecute, result.Suspend.NodeName)

	resumed := s.Clone()
	resumed[graph.KeyPlanExecuteApproval] = "yes"
	result = node(context.Background(), resumed)
	require.Equal(t, graph.Completed, result.Kind)
	assert.Equal(t, false, result.State[graph.KeyNeedsPlanExecute])
	messages, _ := result.State[graph.KeyMessages].([]graph.Message)
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0].Content, "approved=true")
}

func TestPlanExecuteNode_RejectedApprovalDoesNotSetApprovedTrue(t *testing.T) {
	node := planExecuteNode(Dependencies{})
	task := map[string]any{"instruction": "place order for $1500", "approval_prompt": "Approve order > $1000?"}
	s := graph.State{graph.KeyPlanExecuteTask: task, graph.KeyPlanExecuteApproval: "no"}

	result := node(context.Background(), s)
	require.Equal(t, graph.Completed, result.Kind)
	messages, _ := result.State[graph.KeyMessages].([]graph.Message)
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0].Content, "approved=false")
}

func TestPlanExecuteRouting_DetectsApprovalPrompt(t *testing.T) {
	result := &a2a.TaskResult{Artifacts: []*a2a.Artifact{{
		Metadata: map[string]string{
			"needs_plan_execute": "true",
			"instruction":        "place order for $1500",
			"approval_prompt":    "Approve order > $1000?",
		},
	}}}

	routing := planExecuteRouting(result)
	require.NotNil(t, routing)
	assert.Equal(t, "Approve order > $1000?", routing["approval_prompt"])
}

// persistenceFailingBackend fails every Put to a particular namespace
// prefix, simulating a durable-tier outage while the cache tier stays up.
type persistenceFailingBackend struct {
	data map[string][]byte
}

func (b *persistenceFailingBackend) Get(_ context.Context, ns store.Namespace, key string) ([]byte, error) {
	v, ok := b.data[ns.String()+"/"+key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return v, nil
}
func (b *persistenceFailingBackend) Put(context.Context, store.Namespace, string, []byte) error {
	return errBoomDurable
}
func (b *persistenceFailingBackend) List(context.Context, store.Namespace) ([]store.Record, error) {
	return nil, nil
}
func (b *persistenceFailingBackend) Delete(context.Context, store.Namespace, string) error {
	return nil
}
func (b *persistenceFailingBackend) Close() error { return nil }

var errBoomDurable = errors.New("durable backend unreachable")

func TestUpdateMemoryNode_DurableFailureRecordsEventInsteadOfFailing(t *testing.T) {
	obs := telemetry.Noop()
	cache := store.New(newMemBackend(), 2)
	durable := store.New(&persistenceFailingBackend{data: map[string][]byte{}}, 2)
	memStore := memory.NewStore(cache, durable, obs)

	client := &scriptedLLM{responses: []llm.Response{{
		Message: llm.Message{Role: "assistant", Content: `{"accounts":[{"name":"Acme Corp"}]}`},
	}}}
	deps := Dependencies{
		Memory:    memStore,
		Extractor: memory.NewExtractor(client, "test-model"),
	}

	node := updateMemoryNode(deps)
	s := graph.State{
		graph.KeyUserID:   "user-1",
		graph.KeyMessages: []graph.Message{{ID: "m1", Role: "user", Content: "I work with Acme Corp"}},
	}

	result := node(context.Background(), s)
	require.Equal(t, graph.Completed, result.Kind)
	events, _ := result.State[graph.KeyEvents].([]graph.Event)
	require.Len(t, events, 1)
	assert.Equal(t, "persistence_error", events[0].Name)
	assert.Equal(t, "user-1", events[0].Data["user_id"])
}
