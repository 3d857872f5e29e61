// Package bedrock adapts llm.Client onto the AWS Bedrock Converse API,
// grounded on the teacher's features/model/bedrock adapter shape but
// trimmed to a single blocking Converse call (no streaming).
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"goa.design/orchestra/llm"
)

// RuntimeClient mirrors the subset of the Bedrock runtime client the
// adapter needs, matching *bedrockruntime.Client so tests can substitute
// a fake.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Client implements llm.Client on top of AWS Bedrock Converse.
type Client struct {
	runtime      RuntimeClient
	defaultModel string
	temperature  float32
	maxTokens    int
}

// New builds an adapter from a Bedrock runtime client.
func New(runtime RuntimeClient, defaultModel string, temperature float32, maxTokens int) (*Client, error) {
	if runtime == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	if defaultModel == "" {
		return nil, errors.New("bedrock: default model is required")
	}
	return &Client{runtime: runtime, defaultModel: defaultModel, temperature: temperature, maxTokens: maxTokens}, nil
}

// Complete issues one Converse call and translates the reply.
func (c *Client) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	if len(req.Messages) == 0 {
		return llm.Response{}, errors.New("bedrock: messages are required")
	}

	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}

	var system []brtypes.SystemContentBlock
	var messages []brtypes.Message
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = append(system, &brtypes.SystemContentBlockMemberText{Value: m.Content})
			continue
		}
		role := brtypes.ConversationRoleUser
		if m.Role == "assistant" {
			role = brtypes.ConversationRoleAssistant
		}
		messages = append(messages, brtypes.Message{
			Role:    role,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: m.Content}},
		})
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(modelID),
		System:   system,
		Messages: messages,
	}

	cfg := &brtypes.InferenceConfiguration{}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = float64(c.temperature)
	}
	if temperature > 0 {
		t := float32(temperature)
		cfg.Temperature = &t
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	if maxTokens > 0 {
		mt := int32(maxTokens)
		cfg.MaxTokens = &mt
	}
	input.InferenceConfig = cfg

	if len(req.Tools) > 0 {
		toolConfig, err := encodeTools(req.Tools)
		if err != nil {
			return llm.Response{}, err
		}
		input.ToolConfig = toolConfig
	}

	out, err := c.runtime.Converse(ctx, input)
	if err != nil {
		return llm.Response{}, fmt.Errorf("bedrock: converse: %w", err)
	}
	return decodeResponse(out)
}

func encodeTools(tools []llm.Tool) (*brtypes.ToolConfiguration, error) {
	specs := make([]brtypes.Tool, 0, len(tools))
	for _, t := range tools {
		specs = append(specs, &brtypes.ToolMemberToolSpec{
			Value: brtypes.ToolSpecification{
				Name:        aws.String(t.Name),
				Description: aws.String(t.Description),
				InputSchema: &brtypes.ToolInputSchemaMemberJson{
					Value: document.NewLazyDocument(t.Parameters),
				},
			},
		})
	}
	return &brtypes.ToolConfiguration{Tools: specs}, nil
}

func decodeResponse(out *bedrockruntime.ConverseOutput) (llm.Response, error) {
	msgOutput, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return llm.Response{}, errors.New("bedrock: unexpected output variant")
	}

	reply := llm.Message{Role: "assistant"}
	for _, block := range msgOutput.Value.Content {
		switch b := block.(type) {
		case *brtypes.ContentBlockMemberText:
			reply.Content += b.Value
		case *brtypes.ContentBlockMemberToolUse:
			args := map[string]any{}
			if raw, err := b.Value.Input.MarshalSmithyDocument(); err == nil {
				_ = json.Unmarshal(raw, &args)
			}
			reply.ToolCalls = append(reply.ToolCalls, llm.ToolCall{
				ID:        aws.ToString(b.Value.ToolUseId),
				Name:      aws.ToString(b.Value.Name),
				Arguments: args,
			})
		}
	}
	return llm.Response{Message: reply}, nil
}
