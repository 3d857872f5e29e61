// Package anthropic adapts llm.Client onto the Anthropic Claude Messages
// API, grounded on the teacher's features/model/anthropic adapter but
// trimmed to a single blocking call (no streaming, no thinking budget)
// since the graph runtime already models suspension at node boundaries.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"goa.design/orchestra/llm"
)

// MessagesClient captures the subset of the Anthropic SDK used by the
// adapter, so tests can substitute a fake.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Client implements llm.Client on top of Anthropic Claude Messages.
type Client struct {
	msg          MessagesClient
	defaultModel string
	temperature  float64
	maxTokens    int
}

// New builds an adapter from an Anthropic Messages client.
func New(msg MessagesClient, defaultModel string, temperature float64, maxTokens int) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if defaultModel == "" {
		return nil, errors.New("anthropic: default model is required")
	}
	return &Client{msg: msg, defaultModel: defaultModel, temperature: temperature, maxTokens: maxTokens}, nil
}

// NewFromAPIKey constructs a client using the SDK's default HTTP transport.
func NewFromAPIKey(apiKey, defaultModel string, temperature float64, maxTokens int) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	c := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&c.Messages, defaultModel, temperature, maxTokens)
}

// Complete issues one Messages.New request and translates the reply.
func (c *Client) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	if len(req.Messages) == 0 {
		return llm.Response{}, errors.New("anthropic: messages are required")
	}

	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	if maxTokens <= 0 {
		return llm.Response{}, errors.New("anthropic: max_tokens must be positive")
	}

	params, err := c.encodeRequest(req, modelID, maxTokens)
	if err != nil {
		return llm.Response{}, err
	}

	msg, err := c.msg.New(ctx, params)
	if err != nil {
		return llm.Response{}, fmt.Errorf("anthropic: messages.new: %w", err)
	}
	return decodeResponse(msg), nil
}

func (c *Client) encodeRequest(req llm.Request, modelID string, maxTokens int) (sdk.MessageNewParams, error) {
	var system []sdk.TextBlockParam
	msgs := make([]sdk.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = append(system, sdk.TextBlockParam{Text: m.Content})
			continue
		}
		role := sdk.MessageParamRoleUser
		if m.Role == "assistant" {
			role = sdk.MessageParamRoleAssistant
		}
		msgs = append(msgs, sdk.MessageParam{
			Role:    role,
			Content: []sdk.ContentBlockParamUnion{sdk.NewTextBlock(m.Content)},
		})
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(modelID),
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
	}
	if len(system) > 0 {
		params.System = system
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}
	if temperature > 0 {
		params.Temperature = sdk.Float(temperature)
	}
	for _, t := range req.Tools {
		params.Tools = append(params.Tools, sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{
			Properties: t.Parameters,
		}, t.Name))
	}
	return params, nil
}

func decodeResponse(msg *sdk.Message) llm.Response {
	out := llm.Message{Role: "assistant"}
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case sdk.TextBlock:
			out.Content += b.Text
		case sdk.ToolUseBlock:
			args := map[string]any{}
			_ = json.Unmarshal(b.Input, &args)
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{ID: b.ID, Name: b.Name, Arguments: args})
		}
	}
	return llm.Response{Message: out}
}
