package memory

import (
	"fmt"
	"strings"
)

const (
	maxAccountsInContext      = 5
	maxContactsInContext      = 5
	maxOpportunitiesInContext = 3
)

// ContextString renders mem into a compact, token-budgeted text block for
// the chatbot system prompt (§4.6 Context projection): at most 5
// accounts, 5 contacts, and 3 non-closed opportunities.
func ContextString(mem UserMemory) string {
	var b strings.Builder

	writeSection(&b, "Accounts", truncate(mem.Accounts, maxAccountsInContext))
	writeSection(&b, "Contacts", truncate(mem.Contacts, maxContactsInContext))
	writeSection(&b, "Opportunities", truncate(nonClosed(mem.Opportunities), maxOpportunitiesInContext))

	if b.Len() == 0 {
		return ""
	}
	return b.String()
}

func nonClosed(opportunities []Entity) []Entity {
	out := make([]Entity, 0, len(opportunities))
	for _, o := range opportunities {
		stage, _ := o.Attributes["stage"].(string)
		if strings.EqualFold(stage, "closed") || strings.EqualFold(stage, "closed_won") || strings.EqualFold(stage, "closed_lost") {
			continue
		}
		out = append(out, o)
	}
	return out
}

func truncate(items []Entity, n int) []Entity {
	if len(items) <= n {
		return items
	}
	return items[:n]
}

func writeSection(b *strings.Builder, title string, items []Entity) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "%s:\n", title)
	for _, e := range items {
		fmt.Fprintf(b, "- %s", e.DisplayName)
		if e.ID != "" {
			fmt.Fprintf(b, " (id=%s)", e.ID)
		}
		for k, v := range e.Attributes {
			fmt.Fprintf(b, ", %s=%v", k, v)
		}
		b.WriteString("\n")
	}
}
