// Package chunker splits document text into token-bounded chunks, preferring
// semantic boundaries over hard cuts. It is grounded on
// original_source/src/backend/src/core/chunking.py (SEMANTIC_BOUNDARIES,
// DEFAULT_CHUNK_SIZE, OVERLAP_SIZE, the paragraph-first split with a
// boundary-ordered recursive fallback, and the overlap/merge passes), carried
// into Go in the shape of the teacher's internal/rag/chunker.SimpleChunker
// (a struct exposing one Chunk method, strategy selection by content).
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"sync"

	"github.com/intelligencedev/docmemory/internal/apperr"
)

// semanticBoundaries is tried in order, most-specific first, exactly as in
// chunking.py: a paragraph-plus-sentence boundary beats a bare newline beats
// a bare clause punctuation mark.
var semanticBoundaries = []string{".\n\n", "\n\n", ".\n", ".", "\n", ";", ":", "!", "?"}

// DefaultTargetSize and DefaultOverlap are the service-wide defaults from
// spec §4.1.
const (
	DefaultTargetSize = 4000
	DefaultOverlap    = 200
)

// Chunk is one token-bounded slice of a document, annotated with the text
// that overlaps its neighbors so a caller can stitch a window back together
// without re-chunking.
type Chunk struct {
	ChunkNumber  int
	Text         string
	TokenCount   int
	OverlapStart string
	OverlapEnd   string
}

// Chunker splits text into Chunks. It caches the result of the last split
// per input hash, mirroring chunking.py's DocumentChunker._cache, which
// keyed on hash(text) to avoid re-chunking the same document across retried
// activity attempts.
type Chunker struct {
	mu    sync.Mutex
	cache map[string][]Chunk
}

// New constructs a Chunker.
func New() *Chunker {
	return &Chunker{cache: make(map[string][]Chunk)}
}

// Chunk splits text into chunks of at most targetSize tokens under model,
// preferring semantic boundaries and attaching overlapSize tokens of
// trailing/leading context to each neighbor. targetSize <= 0 uses
// DefaultTargetSize; overlapSize < 0 uses DefaultOverlap.
func (c *Chunker) Chunk(text string, targetSize, overlapSize int, model string) ([]Chunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperr.New(apperr.Validation, "cannot chunk empty text")
	}
	limit, ok := ModelLimits[model]
	if !ok {
		return nil, apperr.Newf(apperr.Validation, "unsupported model %q", model)
	}
	if targetSize <= 0 {
		targetSize = DefaultTargetSize
	}
	if overlapSize < 0 {
		overlapSize = DefaultOverlap
	}
	if targetSize > limit {
		targetSize = limit
	}

	key := cacheKey(text, targetSize, overlapSize, model)
	c.mu.Lock()
	if cached, ok := c.cache[key]; ok {
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	raw, err := splitText(text, targetSize, model)
	if err != nil {
		return nil, err
	}
	merged := mergeChunks(raw, targetSize, model)
	withOverlap, err := attachOverlap(merged, overlapSize, model)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[key] = withOverlap
	c.mu.Unlock()
	return withOverlap, nil
}

func cacheKey(text string, targetSize, overlapSize int, model string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:]) + "|" + strconv.Itoa(targetSize) + "|" + strconv.Itoa(overlapSize) + "|" + model
}

// splitText is the paragraph-first pass from chunking.py's split_text:
// accumulate paragraphs into a chunk until adding the next one would exceed
// targetSize, then flush. A paragraph that alone exceeds targetSize is
// handed to splitLargeParagraph.
func splitText(text string, targetSize int, model string) ([]string, error) {
	paragraphs := strings.Split(text, "\n\n")
	var chunks []string
	var current strings.Builder

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			chunks = append(chunks, s)
		}
		current.Reset()
	}

	for _, para := range paragraphs {
		para = strings.TrimRight(para, " \t")
		if para == "" {
			continue
		}
		candidate := current.String()
		if candidate != "" {
			candidate += "\n\n"
		}
		candidate += para

		tokens, err := CountTokens(candidate, model)
		if err != nil {
			return nil, err
		}
		if tokens <= targetSize {
			current.Reset()
			current.WriteString(candidate)
			continue
		}

		// candidate overflows target_size; flush what we had and deal with
		// para on its own.
		flush()
		paraTokens, err := CountTokens(para, model)
		if err != nil {
			return nil, err
		}
		if paraTokens <= targetSize {
			current.WriteString(para)
			continue
		}
		sub, err := splitLargeParagraph(para, targetSize, model)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, sub...)
	}
	flush()

	if len(chunks) == 0 {
		return nil, apperr.New(apperr.Validation, "chunking produced no output")
	}
	return chunks, nil
}

// splitLargeParagraph recursively tries each semantic boundary in order,
// falling back to a hard whitespace split only once every boundary has
// failed to produce a piece within targetSize, matching
// _split_large_paragraph's boundary cascade.
func splitLargeParagraph(para string, targetSize int, model string) ([]string, error) {
	tokens, err := CountTokens(para, model)
	if err != nil {
		return nil, err
	}
	if tokens <= targetSize {
		return []string{para}, nil
	}

	for _, boundary := range semanticBoundaries {
		pieces := splitKeepBoundary(para, boundary)
		if len(pieces) <= 1 {
			continue
		}
		var out []string
		var current strings.Builder
		overflowed := false
		for _, p := range pieces {
			candidate := current.String() + p
			ct, err := CountTokens(candidate, model)
			if err != nil {
				return nil, err
			}
			if ct <= targetSize {
				current.Reset()
				current.WriteString(candidate)
				continue
			}
			if s := strings.TrimSpace(current.String()); s != "" {
				out = append(out, s)
			}
			current.Reset()
			pt, err := CountTokens(p, model)
			if err != nil {
				return nil, err
			}
			if pt > targetSize {
				overflowed = true
				break
			}
			current.WriteString(p)
		}
		if s := strings.TrimSpace(current.String()); s != "" {
			out = append(out, s)
		}
		if !overflowed && len(out) > 0 {
			return out, nil
		}
	}

	return splitByWhitespace(para, targetSize, model)
}

// splitKeepBoundary splits on boundary, re-appending it to every piece but
// the last so no text is lost.
func splitKeepBoundary(text, boundary string) []string {
	parts := strings.Split(text, boundary)
	if len(parts) <= 1 {
		return []string{text}
	}
	out := make([]string, 0, len(parts))
	for i, p := range parts {
		if i < len(parts)-1 {
			p += boundary
		}
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitByWhitespace is the last-resort fallback when no semantic boundary
// fits within targetSize: accumulate whole words.
func splitByWhitespace(text string, targetSize int, model string) ([]string, error) {
	words := countWords(text)
	if len(words) == 0 {
		return []string{text}, nil
	}
	var out []string
	var current strings.Builder
	for _, w := range words {
		candidate := current.String()
		if candidate != "" {
			candidate += " "
		}
		candidate += w
		ct, err := CountTokens(candidate, model)
		if err != nil {
			return nil, err
		}
		if ct <= targetSize {
			current.Reset()
			current.WriteString(candidate)
			continue
		}
		if current.Len() == 0 {
			return nil, apperr.Newf(apperr.Validation, "token %q alone exceeds target size %d", w, targetSize)
		}
		out = append(out, current.String())
		current.Reset()
		current.WriteString(w)
	}
	if current.Len() > 0 {
		out = append(out, current.String())
	}
	return out, nil
}

// mergeChunks merges an adjacent pair whenever the combination still fits
// targetSize, the way merge_chunks folds runs of small chunks produced by
// paragraph boundaries that happened to fall well under the limit.
func mergeChunks(chunks []string, targetSize int, model string) []string {
	if len(chunks) == 0 {
		return chunks
	}
	merged := []string{chunks[0]}
	for _, next := range chunks[1:] {
		last := merged[len(merged)-1]
		candidate := last + "\n\n" + next
		tokens, err := CountTokens(candidate, model)
		if err == nil && tokens <= targetSize {
			merged[len(merged)-1] = candidate
			continue
		}
		merged = append(merged, next)
	}
	return merged
}

// attachOverlap builds the final Chunk slice. Chunk i's OverlapStart is a
// trailing slice of chunk i-1's own text and its OverlapEnd is a leading
// slice of chunk i+1's own text, exactly as _process_chunks/_get_overlap_text
// pull overlap windows from the *neighboring* chunk, word-by-word and
// bounded by token count. The persisted Text is the neighbor overlap folded
// around the chunk's own content (full_text = overlap_start + chunk +
// overlap_end), with TokenCount recomputed on that combined string so the
// target_size+2*OVERLAP bound and the token-sum invariant are both
// enforceable on what is actually stored.
func attachOverlap(texts []string, overlapSize int, model string) ([]Chunk, error) {
	out := make([]Chunk, len(texts))
	for i, t := range texts {
		var overlapStart, overlapEnd string
		var err error
		if i > 0 {
			overlapStart, err = overlapText(texts[i-1], overlapSize, model, false)
			if err != nil {
				return nil, err
			}
		}
		if i < len(texts)-1 {
			overlapEnd, err = overlapText(texts[i+1], overlapSize, model, true)
			if err != nil {
				return nil, err
			}
		}

		full := t
		if overlapStart != "" {
			full = overlapStart + " " + full
		}
		if overlapEnd != "" {
			full = full + " " + overlapEnd
		}
		tokens, err := CountTokens(full, model)
		if err != nil {
			return nil, err
		}
		out[i] = Chunk{
			ChunkNumber:  i,
			Text:         full,
			TokenCount:   tokens,
			OverlapStart: overlapStart,
			OverlapEnd:   overlapEnd,
		}
	}
	return out, nil
}

// overlapText returns up to overlapSize tokens' worth of words taken from
// the start (fromStart=true) or end of text, truncating at a word boundary
// the way _get_overlap_text does.
func overlapText(text string, overlapSize int, model string, fromStart bool) (string, error) {
	if overlapSize <= 0 {
		return "", nil
	}
	words := countWords(text)
	if len(words) == 0 {
		return "", nil
	}

	var built []string
	if fromStart {
		for _, w := range words {
			candidate := append(append([]string{}, built...), w)
			tokens, err := CountTokens(strings.Join(candidate, " "), model)
			if err != nil {
				return "", err
			}
			if tokens > overlapSize {
				break
			}
			built = candidate
		}
	} else {
		for i := len(words) - 1; i >= 0; i-- {
			candidate := append([]string{words[i]}, built...)
			tokens, err := CountTokens(strings.Join(candidate, " "), model)
			if err != nil {
				return "", err
			}
			if tokens > overlapSize {
				break
			}
			built = candidate
		}
	}
	return strings.Join(built, " "), nil
}
