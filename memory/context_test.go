package memory_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"goa.design/orchestra/memory"
)

func TestContextString_CapsAccountsAtFive(t *testing.T) {
	mem := memory.UserMemory{}
	for i := 0; i < 8; i++ {
		mem.Accounts = append(mem.Accounts, memory.Entity{DisplayName: "Account"})
	}
	ctx := memory.ContextString(mem)
	assert.Equal(t, 5, strings.Count(ctx, "- Account"))
}

func TestContextString_ExcludesClosedOpportunities(t *testing.T) {
	mem := memory.UserMemory{Opportunities: []memory.Entity{
		{DisplayName: "Open Deal", Attributes: map[string]any{"stage": "negotiation"}},
		{DisplayName: "Won Deal", Attributes: map[string]any{"stage": "closed_won"}},
	}}
	ctx := memory.ContextString(mem)
	assert.Contains(t, ctx, "Open Deal")
	assert.NotContains(t, ctx, "Won Deal")
}

func TestContextString_EmptyMemoryYieldsEmptyString(t *testing.T) {
	assert.Equal(t, "", memory.ContextString(memory.Empty()))
}
