package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intelligencedev/docmemory/internal/apperr"
)

func TestCountTokens_UnsupportedModel(t *testing.T) {
	_, err := CountTokens("hello", "llama-3")
	require.Error(t, err)
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))
}

func TestCountTokens_Empty(t *testing.T) {
	n, err := CountTokens("", "gpt-4")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestChunk_EmptyTextRejected(t *testing.T) {
	c := New()
	_, err := c.Chunk("   ", DefaultTargetSize, DefaultOverlap, "gpt-4")
	require.Error(t, err)
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))
}

func TestChunk_UnsupportedModelRejected(t *testing.T) {
	c := New()
	_, err := c.Chunk("hello world", DefaultTargetSize, DefaultOverlap, "claude")
	require.Error(t, err)
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))
}

func TestChunk_SmallTextIsSingleChunk(t *testing.T) {
	c := New()
	chunks, err := c.Chunk("A short paragraph about nothing in particular.", DefaultTargetSize, DefaultOverlap, "gpt-4")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].ChunkNumber)
	assert.Empty(t, chunks[0].OverlapStart)
	assert.Empty(t, chunks[0].OverlapEnd)
}

func TestChunk_ContiguousChunkNumbers(t *testing.T) {
	c := New()
	para := strings.Repeat("word ", 400)
	text := strings.Join([]string{para, para, para, para, para}, "\n\n")
	chunks, err := c.Chunk(text, 100, 20, "gpt-4")
	require.NoError(t, err)
	require.True(t, len(chunks) > 1)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.ChunkNumber)
		assert.LessOrEqual(t, ch.TokenCount, 100+2*20)
	}
}

func TestChunk_OverlapLinksNeighbors(t *testing.T) {
	c := New()
	para := strings.Repeat("alpha beta gamma delta ", 300)
	chunks, err := c.Chunk(para, 50, 10, "gpt-4")
	require.NoError(t, err)
	require.True(t, len(chunks) > 1)
	assert.Empty(t, chunks[0].OverlapStart)
	assert.NotEmpty(t, chunks[0].OverlapEnd)
	assert.NotEmpty(t, chunks[len(chunks)-1].OverlapStart)
	assert.Empty(t, chunks[len(chunks)-1].OverlapEnd)
}

func TestChunk_CachesByContentHash(t *testing.T) {
	c := New()
	text := "Some text that gets chunked more than once."
	first, err := c.Chunk(text, DefaultTargetSize, DefaultOverlap, "gpt-4")
	require.NoError(t, err)
	second, err := c.Chunk(text, DefaultTargetSize, DefaultOverlap, "gpt-4")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestChunk_TargetSizeClampedToModelLimit(t *testing.T) {
	c := New()
	chunks, err := c.Chunk("short text", 99999999, DefaultOverlap, "gpt-3.5-turbo")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
}

func TestSplitLargeParagraph_FallsBackToWhitespace(t *testing.T) {
	// A single "paragraph" with no punctuation or newlines at all forces the
	// whitespace fallback in splitLargeParagraph.
	words := make([]string, 0, 2000)
	for i := 0; i < 2000; i++ {
		words = append(words, "tok")
	}
	text := strings.Join(words, " ")
	pieces, err := splitLargeParagraph(text, 50, "gpt-4")
	require.NoError(t, err)
	assert.True(t, len(pieces) > 1)
	for _, p := range pieces {
		tokens, err := CountTokens(p, "gpt-4")
		require.NoError(t, err)
		assert.LessOrEqual(t, tokens, 50)
	}
}

func TestSplitByWhitespace_OversizedSingleTokenIsValidation(t *testing.T) {
	huge := strings.Repeat("x", 10000)
	_, err := splitByWhitespace(huge, 10, "gpt-4")
	require.Error(t, err)
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))
}

func TestChunk_OverlapIsFoldedIntoContent(t *testing.T) {
	c := New()
	para := strings.Repeat("alpha beta gamma delta ", 300)
	chunks, err := c.Chunk(para, 50, 10, "gpt-4")
	require.NoError(t, err)
	require.True(t, len(chunks) > 1)

	for i, ch := range chunks {
		if ch.OverlapStart != "" {
			assert.True(t, strings.HasPrefix(ch.Text, ch.OverlapStart), "chunk %d text should start with its overlap", i)
		}
		if ch.OverlapEnd != "" {
			assert.True(t, strings.HasSuffix(ch.Text, ch.OverlapEnd), "chunk %d text should end with its overlap", i)
		}
		tokens, err := CountTokens(ch.Text, "gpt-4")
		require.NoError(t, err)
		assert.Equal(t, tokens, ch.TokenCount)
	}
}

func TestMergeChunks_CombinesSmallAdjacent(t *testing.T) {
	chunks := []string{"one", "two", "three"}
	merged := mergeChunks(chunks, DefaultTargetSize, "gpt-4")
	require.Len(t, merged, 1)
	assert.Equal(t, "one\n\ntwo\n\nthree", merged[0])
}
