package chunker

import (
	"strings"

	"github.com/intelligencedev/docmemory/internal/apperr"
)

// ModelLimits mirrors the per-model context windows enforced by
// original_source's core/chunking.py (GPT35_MAX_TOKENS, GPT4_MAX_TOKENS). A
// target_size that would let a single chunk exceed the model's window is
// clamped; a model outside this table is rejected rather than silently
// guessed at, the way count_tokens raises for an unsupported model.
var ModelLimits = map[string]int{
	"gpt-3.5-turbo": 16384,
	"gpt-4":         32768,
}

// CountTokens approximates token count the way the teacher's
// internal/rag/chunker approximates length: a characters-per-token
// heuristic. This keeps the chunker dependency-free at the tokenizer layer
// (no vendored BPE tables) while matching the proportions the original
// tiktoken-based counts produced for prose-sized inputs.
const charsPerToken = 4

// CountTokens returns the approximate token count of text under model, or a
// Validation error if model isn't one this service has calibrated limits
// for.
func CountTokens(text, model string) (int, error) {
	if _, ok := ModelLimits[model]; !ok {
		return 0, apperr.Newf(apperr.Validation, "unsupported model %q", model)
	}
	if text == "" {
		return 0, nil
	}
	n := len([]rune(text))
	tokens := n / charsPerToken
	if n%charsPerToken != 0 {
		tokens++
	}
	return tokens, nil
}

// countWords is used by overlap computation, which works word-by-word like
// _get_overlap_text in the original implementation.
func countWords(text string) []string {
	return strings.Fields(text)
}
