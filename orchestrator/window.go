package orchestrator

import "goa.design/orchestra/graph"

// approxTokens approximates a message's token cost as len(text)/4, an
// ASCII-English heuristic documented rather than pulling in a real
// tokenizer (no example repo in the pack carries one, and the spec asks
// only for a documented, deterministic approximation).
func approxTokens(text string) int {
	return len(text) / 4
}

// window selects the newest messages to preserve, per §4.5: at most
// maxCount messages, total approximate tokens <= maxTokens, with system
// messages and the most recent user message always preserved regardless
// of the budget. Every other message is returned in removed, in its
// original relative order, for the caller to mark with a Remove
// sentinel.
func window(messages []graph.Message, maxCount, maxTokens int) (preserved, removed []graph.Message) {
	if len(messages) == 0 {
		return nil, nil
	}

	mustKeep := make(map[string]bool, len(messages))
	for _, m := range messages {
		if m.Role == "system" {
			mustKeep[m.ID] = true
		}
	}
	if idx := lastUserIndex(messages); idx >= 0 {
		mustKeep[messages[idx].ID] = true
	}

	keep := make(map[string]bool, len(messages))
	tokens := 0
	count := 0

	// Walk from newest to oldest, greedily keeping messages within
	// budget; mustKeep messages are always admitted even over budget.
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		cost := approxTokens(m.Content)
		if mustKeep[m.ID] {
			keep[m.ID] = true
			tokens += cost
			continue
		}
		if count >= maxCount || tokens+cost > maxTokens {
			continue
		}
		keep[m.ID] = true
		tokens += cost
		count++
	}

	preserved = make([]graph.Message, 0, len(messages))
	removed = make([]graph.Message, 0, len(messages))
	for _, m := range messages {
		if keep[m.ID] {
			preserved = append(preserved, m)
		} else {
			removed = append(removed, m)
		}
	}
	return preserved, removed
}

func lastUserIndex(messages []graph.Message) int {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return i
		}
	}
	return -1
}
