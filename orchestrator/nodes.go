package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"goa.design/orchestra/a2a"
	"goa.design/orchestra/agentregistry"
	"goa.design/orchestra/config"
	"goa.design/orchestra/graph"
	"goa.design/orchestra/llm"
	"goa.design/orchestra/memory"
)

// toolAgentRegistryQuery is the fixed pure-function tool every chatbot
// call is offered, letting the model discover specialists by capability
// before delegating (§4.5).
const toolAgentRegistryQuery = "agent_registry_query"

// taskAgentPrefix names the per-specialist delegating tool generated for
// each healthy registry entry: "task_agent_<name>".
const taskAgentPrefix = "task_agent_"

// Dependencies bundles every external collaborator the orchestrator's
// nodes close over. Building the graph is just wiring these into
// graph.NodeFunc closures (orchestrator/build.go).
type Dependencies struct {
	LLM          llm.Client
	Model        string
	Memory       *memory.Store
	Extractor    *memory.Extractor
	Registry     *agentregistry.Registry
	Conversation config.ConversationConfig
}

func initializeMemoryNode(deps Dependencies) graph.NodeFunc {
	return func(ctx context.Context, s graph.State) graph.StepResult {
		if done, _ := s[graph.KeyMemoryInitDone].(bool); done {
			return graph.Complete(graph.State{})
		}
		userID, _ := s[graph.KeyUserID].(string)
		mem := deps.Memory.Load(ctx, userID)
		return graph.Complete(graph.State{
			graph.KeyMemory:         mem,
			graph.KeyMemoryInitDone: true,
		})
	}
}

func chatbotNode(deps Dependencies) graph.NodeFunc {
	return func(ctx context.Context, s graph.State) graph.StepResult {
		messages, _ := s[graph.KeyMessages].([]graph.Message)
		summary, _ := s[graph.KeySummary].(string)
		mem, _ := s[graph.KeyMemory].(memory.UserMemory)

		preserved, _ := window(messages, deps.Conversation.MaxMessagesToPreserve, deps.Conversation.MaxTokensToPreserve)

		reqMessages := make([]llm.Message, 0, len(preserved)+2)
		if system := systemPrompt(summary, memory.ContextString(mem)); system != "" {
			reqMessages = append(reqMessages, llm.Message{Role: "system", Content: system})
		}
		for _, m := range preserved {
			reqMessages = append(reqMessages, toLLMMessage(m))
		}

		resp, err := deps.LLM.Complete(ctx, llm.Request{
			Messages: reqMessages,
			Tools:    toolCatalogue(deps.Registry),
			Model:    deps.Model,
		})
		if err != nil {
			return graph.Fail(fmt.Errorf("orchestrator: chatbot completion: %w", err))
		}

		assistant := fromLLMMessage(resp.Message)
		return graph.Complete(graph.State{
			graph.KeyMessages: []graph.Message{assistant},
		})
	}
}

// toolsNode executes every tool call in the most recent assistant
// message, dispatching delegating tools through C2's CallAgent and
// answering agent_registry_query as a pure lookup (§4.5).
func toolsNode(deps Dependencies) graph.NodeFunc {
	return func(ctx context.Context, s graph.State) graph.StepResult {
		messages, _ := s[graph.KeyMessages].([]graph.Message)
		last := lastMessage(messages)
		if last == nil || len(last.ToolCalls) == 0 {
			return graph.Complete(graph.State{})
		}

		results := make([]graph.Message, 0, len(last.ToolCalls))
		needsPlanExecute := false
		var planExecuteTask map[string]any

		for _, call := range last.ToolCalls {
			content, routing, err := runTool(ctx, deps, call)
			if err != nil {
				content = fmt.Sprintf("error: %s", err)
			}
			results = append(results, graph.Message{
				ID:         uuid.NewString(),
				Role:       "tool",
				Content:    content,
				ToolCallID: call.ID,
			})
			if routing != nil {
				needsPlanExecute = true
				planExecuteTask = routing
			}
		}

		delta := graph.State{graph.KeyMessages: results}
		if needsPlanExecute {
			delta[graph.KeyNeedsPlanExecute] = true
			delta[graph.KeyPlanExecuteTask] = planExecuteTask
		}
		return graph.Complete(delta)
	}
}

// runTool dispatches one tool call, returning its result content and,
// when the call's result carries a plan_execute routing payload, that
// payload for the caller to thread into state.
func runTool(ctx context.Context, deps Dependencies, call graph.ToolCall) (content string, routing map[string]any, err error) {
	if call.Name == toolAgentRegistryQuery {
		tag, _ := call.Arguments["capability"].(string)
		name, endpoint, err := deps.Registry.Find(tag)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("agent %q available at %s", name, endpoint), nil, nil
	}

	agentName, ok := specialistName(call.Name)
	if !ok {
		return "", nil, fmt.Errorf("unknown tool %q", call.Name)
	}
	instruction, _ := call.Arguments["instruction"].(string)
	result, err := deps.Registry.CallAgent(ctx, agentName, &a2a.Task{
		ID:          call.ID,
		Instruction: instruction,
		Context:     call.Arguments,
	})
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("status=%s artifacts=%d", result.Status, len(result.Artifacts)), planExecuteRouting(result), nil
}

// planExecuteRouting detects a specialist's routing payload: an artifact
// whose metadata flags needs_plan_execute, per §4.5 ("invoked when a
// tool returns a routing payload {needs_plan_execute: true, ...}"). A
// specialist may additionally set approval_prompt, asking the
// plan-execute node to suspend for human sign-off before proceeding
// (§7 Interrupt, seed scenario 6).
func planExecuteRouting(result *a2a.TaskResult) map[string]any {
	for _, artifact := range result.Artifacts {
		if artifact.Metadata["needs_plan_execute"] != "true" {
			continue
		}
		routing := map[string]any{"instruction": artifact.Metadata["instruction"]}
		if prompt := artifact.Metadata["approval_prompt"]; prompt != "" {
			routing["approval_prompt"] = prompt
		}
		return routing
	}
	return nil
}

// summarizeConversationNode replaces the rolling summary and marks
// messages outside the preserved window for removal (§4.5).
func summarizeConversationNode(deps Dependencies) graph.NodeFunc {
	return func(ctx context.Context, s graph.State) graph.StepResult {
		messages, _ := s[graph.KeyMessages].([]graph.Message)
		summary, _ := s[graph.KeySummary].(string)

		preserved, removed := window(messages, deps.Conversation.MaxMessagesToPreserve, deps.Conversation.MaxTokensToPreserve)
		newSummary, err := summarize(ctx, deps, summary, removed)
		if err != nil {
			return graph.Fail(fmt.Errorf("orchestrator: summarize: %w", err))
		}

		return graph.Complete(graph.State{
			graph.KeySummary:          newSummary,
			graph.KeyMessages:         removeDirectives(removed),
			graph.KeyLastSummaryIndex: len(messages) - len(preserved),
		})
	}
}

func summarize(ctx context.Context, deps Dependencies, existing string, dropped []graph.Message) (string, error) {
	if len(dropped) == 0 {
		return existing, nil
	}
	reqMessages := []llm.Message{
		{Role: "system", Content: "Produce an updated rolling summary of the conversation so far, folding in the prior summary and the messages below."},
	}
	if existing != "" {
		reqMessages = append(reqMessages, llm.Message{Role: "assistant", Content: "Prior summary: " + existing})
	}
	for _, m := range dropped {
		reqMessages = append(reqMessages, toLLMMessage(m))
	}
	resp, err := deps.LLM.Complete(ctx, llm.Request{Messages: reqMessages, Model: deps.Model})
	if err != nil {
		return "", err
	}
	return resp.Message.Content, nil
}

// updateMemoryNode extracts entities from messages since the last
// update, merges them into current memory, and persists the result. The
// cursor advances only on success, so a failed extraction is retried
// next trigger instead of silently skipping messages (§7, §9).
func updateMemoryNode(deps Dependencies) graph.NodeFunc {
	return func(ctx context.Context, s graph.State) graph.StepResult {
		messages, _ := s[graph.KeyMessages].([]graph.Message)
		userID, _ := s[graph.KeyUserID].(string)
		existing, _ := s[graph.KeyMemory].(memory.UserMemory)
		cursor, _ := s[graph.KeyLastMemoryUpdateIndex].(int)

		if cursor > len(messages) {
			cursor = 0
		}
		fresh := messages[cursor:]
		if len(fresh) == 0 {
			return graph.Complete(graph.State{})
		}

		extracted, err := deps.Extractor.Extract(ctx, fresh)
		if err != nil {
			return graph.Fail(fmt.Errorf("orchestrator: memory extraction: %w", err))
		}

		merged := memory.Merge(existing, extracted)
		delta := graph.State{
			graph.KeyMemory:                merged,
			graph.KeyLastMemoryUpdateIndex: len(messages),
		}

		var persistErr *memory.PersistenceError
		switch err := deps.Memory.Save(ctx, userID, merged); {
		case errors.As(err, &persistErr):
			// The cache write already succeeded; a durable-backend
			// failure is recorded, not failed (§7 PersistenceError),
			// and the next successful Save rewrites the durable copy.
			delta[graph.KeyEvents] = []graph.Event{{
				Name: "persistence_error",
				Data: map[string]any{"user_id": userID, "err": persistErr.Error()},
			}}
		case err != nil:
			return graph.Fail(fmt.Errorf("orchestrator: memory persist: %w", err))
		}

		return graph.Complete(delta)
	}
}

// planExecuteNode consumes the routing payload a tool call flagged as
// needing multi-step planning (§4.5). It does not start a nested run of
// the graph: it appends a system message naming the instruction and
// clears the routing flags, and the graph's edge then returns to chatbot.
// A routing payload carrying an approval_prompt first suspends the run
// until a resumed call supplies the human's reply (§7 Interrupt, seed
// scenario 6).
func planExecuteNode(deps Dependencies) graph.NodeFunc {
	return func(ctx context.Context, s graph.State) graph.StepResult {
		task, _ := s[graph.KeyPlanExecuteTask].(map[string]any)
		instruction, _ := task["instruction"].(string)
		prompt, _ := task["approval_prompt"].(string)

		delta := graph.State{
			graph.KeyNeedsPlanExecute: false,
			graph.KeyPlanExecuteTask:  map[string]any(nil),
		}
		if instruction == "" {
			return graph.Complete(delta)
		}

		if prompt != "" {
			approved, answered := approvalReply(s)
			if !answered {
				return graph.Suspend(&graph.Suspension{
					Prompt:   prompt,
					NodeName: nodePlanExecute,
					Payload:  map[string]any{"instruction": instruction, "approval_prompt": prompt},
				})
			}
			delta[graph.KeyPlanExecuteApproval] = ""
			delta[graph.KeyMessages] = []graph.Message{{
				ID:      uuid.NewString(),
				Role:    "system",
				Content: fmt.Sprintf("plan_execute result (approved=%v) pending further chatbot turns: %s", approved, instruction),
			}}
			return graph.Complete(delta)
		}

		delta[graph.KeyMessages] = []graph.Message{{
			ID:      uuid.NewString(),
			Role:    "system",
			Content: "plan_execute result pending further chatbot turns: " + instruction,
		}}
		return graph.Complete(delta)
	}
}

// approvalReply reports whether a resumed call has supplied a reply to a
// pending approval prompt, and whether that reply counts as approved
// ("yes", case-insensitive).
func approvalReply(s graph.State) (approved, answered bool) {
	raw, ok := s[graph.KeyPlanExecuteApproval].(string)
	if !ok || raw == "" {
		return false, false
	}
	return strings.EqualFold(strings.TrimSpace(raw), "yes"), true
}

func toLLMMessage(m graph.Message) llm.Message {
	calls := make([]llm.ToolCall, 0, len(m.ToolCalls))
	for _, c := range m.ToolCalls {
		calls = append(calls, llm.ToolCall{ID: c.ID, Name: c.Name, Arguments: c.Arguments})
	}
	return llm.Message{Role: m.Role, Content: m.Content, ToolCalls: calls, ToolCallID: m.ToolCallID}
}

func fromLLMMessage(m llm.Message) graph.Message {
	calls := make([]graph.ToolCall, 0, len(m.ToolCalls))
	for _, c := range m.ToolCalls {
		calls = append(calls, graph.ToolCall{ID: c.ID, Name: c.Name, Arguments: c.Arguments})
	}
	return graph.Message{ID: uuid.NewString(), Role: m.Role, Content: m.Content, ToolCalls: calls, ToolCallID: m.ToolCallID}
}

// removeDirectives converts each dropped message into a Remove sentinel
// so the messages reducer elides it on the next merge, instead of
// dropping it from the delta silently (which the add-messages reducer
// would just treat as "not mentioned", leaving the prior copy in place).
func removeDirectives(dropped []graph.Message) []graph.Message {
	out := make([]graph.Message, 0, len(dropped))
	for _, m := range dropped {
		out = append(out, graph.Message{ID: m.ID, Remove: true})
	}
	return out
}

func lastMessage(messages []graph.Message) *graph.Message {
	if len(messages) == 0 {
		return nil
	}
	return &messages[len(messages)-1]
}

func specialistName(toolName string) (string, bool) {
	if len(toolName) <= len(taskAgentPrefix) || toolName[:len(taskAgentPrefix)] != taskAgentPrefix {
		return "", false
	}
	return toolName[len(taskAgentPrefix):], true
}

func toolCatalogue(reg *agentregistry.Registry) []llm.Tool {
	tools := []llm.Tool{{
		Name:        toolAgentRegistryQuery,
		Description: "Look up which specialist agent, if any, advertises a given capability tag.",
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{"capability": map[string]any{"type": "string"}}},
	}}
	for _, a := range reg.ListHealthy() {
		tools = append(tools, llm.Tool{
			Name:        taskAgentPrefix + a.Name,
			Description: fmt.Sprintf("Delegate a task to the %s specialist (capabilities: %v).", a.Name, a.Capabilities),
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"instruction": map[string]any{"type": "string"},
				},
				"required": []string{"instruction"},
			},
		})
	}
	return tools
}

func systemPrompt(summary, memoryContext string) string {
	out := ""
	if summary != "" {
		out += "Conversation summary so far:\n" + summary + "\n\n"
	}
	if memoryContext != "" {
		out += "Known CRM context for this user:\n" + memoryContext
	}
	return out
}
