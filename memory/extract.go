package memory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"goa.design/orchestra/graph"
	"goa.design/orchestra/llm"
)

// userMemorySchema constrains the shape an extraction response must have
// before it is trusted enough to unmarshal into a UserMemory: each of the
// six named collections, when present, is an array of objects whose id
// and name, when present, are strings and whose attributes, when present,
// is an object. Other properties are not checked. Compiled once at
// package init since the schema is fixed.
var userMemorySchema = compileUserMemorySchema()

func compileUserMemorySchema() *jsonschema.Schema {
	entity := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id":         map[string]any{"type": "string"},
			"name":       map[string]any{"type": "string"},
			"attributes": map[string]any{"type": "object"},
		},
	}
	collections := map[string]any{}
	for _, key := range []string{"accounts", "contacts", "opportunities", "cases", "tasks", "leads"} {
		collections[key] = map[string]any{"type": "array", "items": entity}
	}
	doc := map[string]any{
		"type":       "object",
		"properties": collections,
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("user_memory.json", doc); err != nil {
		panic(fmt.Errorf("memory: add user memory schema resource: %w", err))
	}
	schema, err := c.Compile("user_memory.json")
	if err != nil {
		panic(fmt.Errorf("memory: compile user memory schema: %w", err))
	}
	return schema
}

// Extractor produces a fresh UserMemory containing only entities
// explicitly mentioned in messages — never inventing identifiers,
// preserving external ids verbatim, and preserving relational links by
// id or name (§4.6 Extraction contract). The LM-backed extraction
// behaviour itself is out of scope (§1 Non-goals: "the language-model
// provider"); this package only specifies the contract and drives it
// through llm.Client.
type Extractor struct {
	client llm.Client
	model  string
}

// NewExtractor builds an Extractor that drives client with a fixed
// extraction prompt/model.
func NewExtractor(client llm.Client, model string) *Extractor {
	return &Extractor{client: client, model: model}
}

const extractionSystemPrompt = `Extract only explicitly mentioned CRM entities from the conversation ` +
	`below as a JSON object with keys accounts, contacts, opportunities, cases, tasks, leads. ` +
	`Never invent an id. Preserve any id mentioned verbatim. Reference other entities by id or name only.`

// Extract runs one LM call over messages and parses the response into a
// UserMemory. A malformed response is surfaced as an error; the caller
// (orchestrator/nodes.go's update_memory) fails its step on it without
// advancing the cursor (§7, §9 Open Question).
func (x *Extractor) Extract(ctx context.Context, messages []graph.Message) (UserMemory, error) {
	reqMessages := make([]llm.Message, 0, len(messages)+1)
	reqMessages = append(reqMessages, llm.Message{Role: "system", Content: extractionSystemPrompt})
	for _, m := range messages {
		reqMessages = append(reqMessages, llm.Message{Role: m.Role, Content: m.Content})
	}

	resp, err := x.client.Complete(ctx, llm.Request{Messages: reqMessages, Model: x.model})
	if err != nil {
		return UserMemory{}, fmt.Errorf("memory: extraction call: %w", err)
	}

	var doc any
	if err := json.Unmarshal([]byte(resp.Message.Content), &doc); err != nil {
		return UserMemory{}, fmt.Errorf("memory: extraction response decode: %w", err)
	}
	if err := userMemorySchema.Validate(doc); err != nil {
		return UserMemory{}, fmt.Errorf("memory: extraction response failed schema validation: %w", err)
	}

	var mem UserMemory
	if err := json.Unmarshal([]byte(resp.Message.Content), &mem); err != nil {
		return UserMemory{}, fmt.Errorf("memory: extraction response decode: %w", err)
	}
	return mem, nil
}
