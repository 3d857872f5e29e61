// Package orchestrator assembles the orchestrator graph (C5): the
// six-node wiring, background trigger predicates, and the deterministic
// message-preservation windowing function described in §4.5, built on
// top of the graph runtime (C4), memory subsystem (C6), and agent
// registry (C7).
package orchestrator

import (
	"context"

	"goa.design/orchestra/graph"
)

const (
	nodeInitializeMemory      = "initialize_memory"
	nodeChatbot               = "chatbot"
	nodeTools                 = "tools"
	nodeSummarizeConversation = "summarize_conversation"
	nodeUpdateMemory          = "update_memory"
	nodePlanExecute           = "plan_execute"
)

// Build assembles the orchestrator graph against deps and returns the
// frozen, runnable Graph.
func Build(deps Dependencies) (*graph.Graph, error) {
	schema := graph.DefaultOrchestratorSchema()
	b := graph.NewBuilder(schema)

	b.AddNode(nodeInitializeMemory, initializeMemoryNode(deps))
	b.AddNode(nodeChatbot, chatbotNode(deps))
	b.AddNode(nodeTools, toolsNode(deps))
	b.AddNode(nodeSummarizeConversation, summarizeConversationNode(deps))
	b.AddNode(nodeUpdateMemory, updateMemoryNode(deps))
	b.AddNode(nodePlanExecute, planExecuteNode(deps))

	b.SetEntry(nodeInitializeMemory)
	b.AddEdge(nodeInitializeMemory, graph.To(nodeChatbot))
	b.AddConditionalEdge(nodeChatbot, chatbotRouting)
	b.AddConditionalEdge(nodeTools, toolsRouting(deps))
	b.AddEdge(nodeSummarizeConversation, graph.End())
	b.AddEdge(nodeUpdateMemory, graph.End())
	b.AddEdge(nodePlanExecute, graph.To(nodeChatbot))

	return b.Freeze()
}

// chatbotRouting implements "chatbot → tools if the last message
// contains tool calls; else chatbot → END unless routing flags request
// plan_execute" (§4.5).
func chatbotRouting(_ context.Context, s graph.State) graph.Destination {
	messages, _ := s[graph.KeyMessages].([]graph.Message)
	if last := lastMessage(messages); last != nil && len(last.ToolCalls) > 0 {
		return graph.To(nodeTools)
	}
	if needs, _ := s[graph.KeyNeedsPlanExecute].(bool); needs {
		return graph.To(nodePlanExecute)
	}
	return graph.End()
}

// toolsRouting implements "tools → chatbot normally; or tools →
// [summarize_conversation, update_memory] in parallel when either
// trigger fires" (§4.5).
func toolsRouting(deps Dependencies) graph.Condition {
	return func(_ context.Context, s graph.State) graph.Destination {
		messages, _ := s[graph.KeyMessages].([]graph.Message)
		lastSummaryIdx, _ := s[graph.KeyLastSummaryIndex].(int)
		lastMemoryIdx, _ := s[graph.KeyLastMemoryUpdateIndex].(int)

		unsummarized := len(messages) - lastSummaryIdx
		fireSummary := shouldSummarize(unsummarized, windowExceedsTokenBudget(messages, deps.Conversation), deps.Conversation)

		userSinceUpdate := countUserMessagesSince(messages, lastMemoryIdx)
		fireMemory := shouldUpdateMemory(userSinceUpdate, messages, deps.Conversation)

		if !fireSummary && !fireMemory {
			return graph.To(nodeChatbot)
		}

		var sends []graph.Send
		if fireSummary {
			sends = append(sends, graph.Send{Target: nodeSummarizeConversation})
		}
		if fireMemory {
			sends = append(sends, graph.Send{Target: nodeUpdateMemory})
		}
		return graph.Fan(sends...)
	}
}
