// Package chunker splits extracted document text into bounded, overlapping,
// sentence-aware chunks for embedding.
package chunker

import (
	"errors"
	"log/slog"
	"strings"
	"unicode/utf8"
)

// ErrInvalidChunks is returned by callers when Validate rejects a chunk set.
var ErrInvalidChunks = errors.New("generated chunks are invalid")

// CharsPerToken is the fixed ratio used to approximate token counts.
const CharsPerToken = 4

// WarnTokens is the per-chunk estimate above which Validate logs a warning.
const WarnTokens = 600

// sentenceEndings are searched backwards from the window end. The boundary falls after the terminator's whitespace.
var sentenceEndings = []string{". ", "! ", "? ", ".\n", "!\n", "?\n"}

// Options controls chunk size and overlap.
type Options struct {
	MaxTokens         int
	OverlapChars      int
	PreserveSentences bool
}

// DefaultOptions returns 500-token (2000 character) chunks with 200 characters of overlap.
func DefaultOptions() Options {
	return Options{MaxTokens: 500, OverlapChars: 200, PreserveSentences: true}
}

// MaxChars is the chunk length bound implied by MaxTokens.
func (o Options) MaxChars() int {
	return o.MaxTokens * CharsPerToken
}

// Metadata is copied onto every chunk produced for a document.
type Metadata struct {
	DocumentID     string
	DocumentTitle  string
	DocumentType   string
	IsDownloadable bool
	DownloadURL    string
	TotalChunks    int
}

// Chunk is one bounded slice of a document's text. Start and End are the byte
// offsets of the untrimmed window in the source text.
type Chunk struct {
	Content  string
	Index    int
	Start    int
	End      int
	Metadata Metadata
}

// Split cuts text into chunks. Empty or whitespace-only text yields no chunks.
// Identical input and options always produce identical boundaries.
func Split(text string, meta Metadata, opts Options) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	maxChars := opts.MaxChars()
	if maxChars <= 0 {
		maxChars = DefaultOptions().MaxChars()
	}
	overlap := opts.OverlapChars
	if overlap < 0 {
		overlap = 0
	}

	var chunks []Chunk
	start := 0
	for start < len(text) {
		end := start + maxChars
		if end >= len(text) {
			end = len(text)
		} else {
			if opts.PreserveSentences {
				end = start + findBoundary(text[start:end])
			}
			end = alignRuneStart(text, end)
			if end <= start {
				// A single rune wider than the window.
				_, size := utf8.DecodeRuneInString(text[start:])
				end = start + size
			}
		}

		if content := strings.TrimSpace(text[start:end]); content != "" {
			chunks = append(chunks, Chunk{Content: content, Index: len(chunks), Start: start, End: end, Metadata: meta})
		}

		if end >= len(text) {
			break
		}
		start = nextStart(text, start, end, overlap)
	}

	for i := range chunks {
		chunks[i].Metadata.TotalChunks = len(chunks)
	}
	return chunks
}

// nextStart steps back overlap bytes from end. The result always exceeds the
// previous start; when the overlap would not, the cursor jumps to end.
func nextStart(text string, prevStart, end, overlap int) int {
	next := alignRuneStart(text, end-overlap)
	if next <= prevStart {
		return end
	}
	return next
}

// findBoundary returns the length of window to keep: just past the last sentence
// terminator, else the last space, else the whole window.
func findBoundary(window string) int {
	boundary := -1
	for _, ending := range sentenceEndings {
		if i := strings.LastIndex(window, ending); i >= 0 && i+len(ending) > boundary {
			boundary = i + len(ending)
		}
	}
	if boundary == -1 {
		boundary = strings.LastIndexByte(window, ' ')
	}
	if boundary > 0 {
		return boundary
	}
	return len(window)
}

// alignRuneStart moves i back to the first byte of the rune containing it.
func alignRuneStart(text string, i int) int {
	if i <= 0 {
		return 0
	}
	if i >= len(text) {
		return len(text)
	}
	for i > 0 && !utf8.RuneStart(text[i]) {
		i--
	}
	return i
}

// EstimateTokens approximates the token count of s as ceil(len/4).
func EstimateTokens(s string) int {
	return (len(s) + CharsPerToken - 1) / CharsPerToken
}

// Validate reports whether a chunk set is usable. An empty set or any blank chunk is
// invalid; chunks over WarnTokens only produce a warning.
func Validate(chunks []Chunk) bool {
	if len(chunks) == 0 {
		return false
	}
	for _, c := range chunks {
		if strings.TrimSpace(c.Content) == "" {
			return false
		}
		if tokens := EstimateTokens(c.Content); tokens > WarnTokens {
			slog.Warn("chunk exceeds token limit", "chunk_index", c.Index, "tokens", tokens)
		}
	}
	return true
}

// Stats summarizes the estimated token distribution of a chunk set.
type Stats struct {
	TotalChunks       int `json:"total_chunks"`
	AvgTokensPerChunk int `json:"avg_tokens_per_chunk"`
	MinTokens         int `json:"min_tokens"`
	MaxTokens         int `json:"max_tokens"`
	TotalTokens       int `json:"total_tokens"`
}

// ComputeStats returns token statistics; all zero for an empty set.
func ComputeStats(chunks []Chunk) Stats {
	if len(chunks) == 0 {
		return Stats{}
	}
	st := Stats{TotalChunks: len(chunks), MinTokens: -1}
	for _, c := range chunks {
		n := EstimateTokens(c.Content)
		st.TotalTokens += n
		if st.MinTokens < 0 || n < st.MinTokens {
			st.MinTokens = n
		}
		if n > st.MaxTokens {
			st.MaxTokens = n
		}
	}
	// Nearest integer, halves rounded up.
	st.AvgTokensPerChunk = (2*st.TotalTokens + len(chunks)) / (2 * len(chunks))
	return st
}
