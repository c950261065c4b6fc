package ragllm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intelligencedev/docmemory/internal/apperr"
)

// fakeClient is a Client test double, following the teacher's fakeProvider
// pattern in internal/llm/llm_test.go: echo the last user message back as
// the completion unless an error is configured.
type fakeClient struct {
	resp string
	err  error
}

func (f *fakeClient) Complete(ctx context.Context, messages []Message, temperature float64, maxTokens int) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.resp != "" {
		return f.resp, nil
	}
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content, nil
		}
	}
	return "", nil
}

func TestFakeClient_EchoesLastUserMessage(t *testing.T) {
	var c Client = &fakeClient{}
	out, err := c.Complete(context.Background(), []Message{
		{Role: "system", Content: "be terse"},
		{Role: "user", Content: "what is the capital of France"},
	}, 0, 100)
	require.NoError(t, err)
	assert.Equal(t, "what is the capital of France", out)
}

func TestFakeClient_PropagatesError(t *testing.T) {
	wantErr := apperr.New(apperr.Upstream, "boom")
	c := &fakeClient{err: wantErr}
	_, err := c.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}}, 0, 100)
	require.Error(t, err)
	assert.Equal(t, apperr.Upstream, apperr.KindOf(err))
}
