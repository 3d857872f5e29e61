// Package openai adapts llm.Client onto the OpenAI Chat Completions API
// via github.com/openai/openai-go, grounded on the teacher's
// features/model/openai adapter shape but ported to the official SDK
// already wired into this module's dependency stack.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"goa.design/orchestra/llm"
)

// ChatClient captures the subset of the openai-go client used by the
// adapter, so tests can substitute a fake.
type ChatClient interface {
	New(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) (*sdk.ChatCompletion, error)
}

// Client implements llm.Client via OpenAI Chat Completions.
type Client struct {
	chat         ChatClient
	defaultModel string
	temperature  float64
	maxTokens    int
}

// New builds an adapter from a Chat Completions client.
func New(chat ChatClient, defaultModel string, temperature float64, maxTokens int) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai: chat client is required")
	}
	if defaultModel == "" {
		return nil, errors.New("openai: default model is required")
	}
	return &Client{chat: chat, defaultModel: defaultModel, temperature: temperature, maxTokens: maxTokens}, nil
}

// NewFromAPIKey constructs a client using the SDK's default HTTP transport.
func NewFromAPIKey(apiKey, defaultModel string, temperature float64, maxTokens int) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	c := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(c.Chat.Completions, defaultModel, temperature, maxTokens)
}

// Complete issues one Chat Completions request and translates the reply.
func (c *Client) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	if len(req.Messages) == 0 {
		return llm.Response{}, errors.New("openai: messages are required")
	}

	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}

	messages := make([]sdk.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			messages = append(messages, sdk.SystemMessage(m.Content))
		case "assistant":
			messages = append(messages, sdk.AssistantMessage(m.Content))
		case "tool":
			messages = append(messages, sdk.ToolMessage(m.Content, m.ToolCallID))
		default:
			messages = append(messages, sdk.UserMessage(m.Content))
		}
	}

	params := sdk.ChatCompletionNewParams{
		Model:    modelID,
		Messages: messages,
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}
	if temperature > 0 {
		params.Temperature = sdk.Float(temperature)
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	if maxTokens > 0 {
		params.MaxCompletionTokens = sdk.Int(int64(maxTokens))
	}
	for _, t := range req.Tools {
		params.Tools = append(params.Tools, sdk.ChatCompletionToolParam{
			Function: sdk.FunctionDefinitionParam{
				Name:        t.Name,
				Description: sdk.String(t.Description),
				Parameters:  t.Parameters,
			},
		})
	}

	resp, err := c.chat.New(ctx, params)
	if err != nil {
		return llm.Response{}, fmt.Errorf("openai: chat completions: %w", err)
	}
	return decodeResponse(resp)
}

func decodeResponse(resp *sdk.ChatCompletion) (llm.Response, error) {
	if len(resp.Choices) == 0 {
		return llm.Response{}, errors.New("openai: empty choices")
	}
	choice := resp.Choices[0].Message
	out := llm.Message{Role: "assistant", Content: choice.Content}
	for _, call := range choice.ToolCalls {
		args := map[string]any{}
		_ = json.Unmarshal([]byte(call.Function.Arguments), &args)
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{ID: call.ID, Name: call.Function.Name, Arguments: args})
	}
	return llm.Response{Message: out}, nil
}
