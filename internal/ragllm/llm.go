// Package ragllm implements the LLM Client: the reasoning/selection
// operations the Retrieval Planner and Activity Set call out to (ranking
// candidates, synthesizing an answer from retrieved chunks). Grounded on the
// teacher's internal/llm/openai.Client, narrowed to the one call shape this
// service needs — a single non-streaming chat completion — stripped of the
// teacher's multi-provider routing (Gemini raw HTTP, responses API,
// streaming, tool calling), which the Document Service's reasoning surface
// doesn't exercise.
package ragllm

import (
	"context"
	"time"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/intelligencedev/docmemory/internal/apperr"
	"github.com/intelligencedev/docmemory/internal/config"
)

// Message is one turn of a chat-style prompt.
type Message struct {
	Role    string // "system", "user", or "assistant"
	Content string
}

// Client performs reasoning/selection completions against an LLM.
type Client interface {
	Complete(ctx context.Context, messages []Message, temperature float64, maxTokens int) (string, error)
}

// OpenAIClient implements Client via the OpenAI Chat Completions API,
// following the teacher's sdk.NewClient/sdk.ChatCompletionNewParams/
// Chat.Completions.New call sequence.
type OpenAIClient struct {
	sdk   sdk.Client
	model string
}

// NewOpenAIClient constructs an OpenAIClient from cfg.
func NewOpenAIClient(cfg config.LLMConfig) *OpenAIClient {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAIClient{
		sdk:   sdk.NewClient(opts...),
		model: cfg.Model,
	}
}

// Complete sends messages as a single chat completion request and returns
// the first choice's text. temperature of 0 is the default for the
// reasoning/selection operations this client exists for: deterministic
// output matters more than creative variance when ranking or selecting
// retrieval candidates.
func (c *OpenAIClient) Complete(ctx context.Context, messages []Message, temperature float64, maxTokens int) (string, error) {
	if len(messages) == 0 {
		return "", apperr.New(apperr.Validation, "at least one message is required")
	}

	params := sdk.ChatCompletionNewParams{
		Model:       sdk.ChatModel(c.model),
		Messages:    adaptMessages(messages),
		Temperature: sdk.Float(temperature),
	}
	if maxTokens > 0 {
		params.MaxTokens = sdk.Int(int64(maxTokens))
	}

	cctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	comp, err := c.sdk.Chat.Completions.New(cctx, params)
	if err != nil {
		return "", classifyLLMError(err)
	}
	if len(comp.Choices) == 0 {
		return "", apperr.New(apperr.Upstream, "llm returned no choices")
	}
	return comp.Choices[0].Message.Content, nil
}

func adaptMessages(messages []Message) []sdk.ChatCompletionMessageParamUnion {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			out = append(out, sdk.SystemMessage(m.Content))
		case "assistant":
			out = append(out, sdk.AssistantMessage(m.Content))
		default:
			out = append(out, sdk.UserMessage(m.Content))
		}
	}
	return out
}

func classifyLLMError(err error) error {
	// The SDK surfaces HTTP status via its own error type; without importing
	// that type here (kept to the narrow interface the rest of the service
	// depends on), treat every transport/API failure as Upstream and let the
	// orchestrator's retry policy decide whether to retry it.
	return apperr.Wrap(apperr.Upstream, err, "llm completion failed")
}
