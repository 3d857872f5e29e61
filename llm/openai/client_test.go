package openai_test

import (
	"context"
	"testing"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/orchestra/llm"
	"goa.design/orchestra/llm/openai"
)

type fakeChat struct {
	resp *sdk.ChatCompletion
	err  error
}

func (f *fakeChat) New(context.Context, sdk.ChatCompletionNewParams, ...option.RequestOption) (*sdk.ChatCompletion, error) {
	return f.resp, f.err
}

func TestClient_CompleteTranslatesReply(t *testing.T) {
	fake := &fakeChat{resp: &sdk.ChatCompletion{
		Choices: []sdk.ChatCompletionChoice{{
			Message: sdk.ChatCompletionMessage{Content: "hello there"},
		}},
	}}
	client, err := openai.New(fake, "gpt-default", 0, 512)
	require.NoError(t, err)

	resp, err := client.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello there", resp.Message.Content)
}

func TestClient_CompleteRequiresMessages(t *testing.T) {
	client, err := openai.New(&fakeChat{}, "gpt-default", 0, 512)
	require.NoError(t, err)
	_, err = client.Complete(context.Background(), llm.Request{})
	assert.Error(t, err)
}

func TestClient_CompleteSurfacesEmptyChoicesAsError(t *testing.T) {
	client, err := openai.New(&fakeChat{resp: &sdk.ChatCompletion{}}, "gpt-default", 0, 512)
	require.NoError(t, err)
	_, err = client.Complete(context.Background(), llm.Request{Messages: []llm.Message{{Role: "user", Content: "hi"}}})
	assert.Error(t, err)
}
