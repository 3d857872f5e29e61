package orchestrator

import (
	"strings"

	"goa.design/orchestra/config"
	"goa.design/orchestra/graph"
)

// crmKeywords are the terms that, when present in a recent user message,
// signal the conversation touched CRM-domain content worth capturing into
// memory even if the message-count trigger hasn't fired yet (§4.5).
var crmKeywords = []string{
	"account", "contact", "opportunity", "lead", "case", "deal", "pipeline", "crm",
}

// shouldSummarize reports whether summarize_conversation should fire:
// unsummarized message count >= the configured trigger, and the
// preserved window would exceed the token budget (§4.5).
func shouldSummarize(unsummarizedCount int, windowExceedsBudget bool, cfg config.ConversationConfig) bool {
	return unsummarizedCount >= cfg.SummaryTriggerMessages && windowExceedsBudget
}

// shouldUpdateMemory reports whether update_memory should fire: either
// enough user messages have accumulated since the last update, or any of
// the last three messages mentions a CRM keyword (§4.5).
func shouldUpdateMemory(userMessagesSinceUpdate int, recent []graph.Message, cfg config.ConversationConfig) bool {
	if userMessagesSinceUpdate >= cfg.MemoryUpdateTriggerCount {
		return true
	}
	return mentionsCRMKeyword(lastN(recent, 3))
}

func mentionsCRMKeyword(messages []graph.Message) bool {
	for _, m := range messages {
		lower := strings.ToLower(m.Content)
		for _, kw := range crmKeywords {
			if strings.Contains(lower, kw) {
				return true
			}
		}
	}
	return false
}

func lastN(messages []graph.Message, n int) []graph.Message {
	if len(messages) <= n {
		return messages
	}
	return messages[len(messages)-n:]
}

// countUserMessagesSince counts user-role messages at index >= cursor.
func countUserMessagesSince(messages []graph.Message, cursor int) int {
	if cursor < 0 {
		cursor = 0
	}
	if cursor > len(messages) {
		return 0
	}
	count := 0
	for _, m := range messages[cursor:] {
		if m.Role == "user" {
			count++
		}
	}
	return count
}

// windowExceedsTokenBudget reports whether messages, unwindowed, would
// exceed cfg's token budget -- the predicate shouldSummarize needs before
// committing to a background summarization pass.
func windowExceedsTokenBudget(messages []graph.Message, cfg config.ConversationConfig) bool {
	total := 0
	for _, m := range messages {
		total += approxTokens(m.Content)
	}
	return total > cfg.MaxTokensToPreserve
}
