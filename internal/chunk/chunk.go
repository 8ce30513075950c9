// Package chunk splits raw document text into token-bounded, overlapping
// segments for embedding and retrieval.
//
// Token counts are an offline estimate (1.3 tokens per word, rounded up); the
// splitter never calls a tokenizer. Paragraphs are the primary split unit,
// with oversized paragraphs re-split into sentences. Consecutive chunks share
// a trailing window of whole segments so retrieval does not lose context at
// chunk boundaries.
package chunk

import (
	"math"
	"regexp"
	"strings"
)

// Chunk is one token-bounded slice of a document.
type Chunk struct {
	Content    string
	TokenCount int
	Position   int
}

// Options configures the splitter.
type Options struct {
	// MaxTokens is the estimated-token budget per chunk. Default 500.
	MaxTokens int

	// OverlapTokens is the budget for the trailing window carried into the
	// next chunk. Default 100.
	OverlapTokens int
}

// DefaultOptions returns the standard chunking configuration.
func DefaultOptions() Options {
	return Options{MaxTokens: 500, OverlapTokens: 100}
}

var paragraphSplitter = regexp.MustCompile(`\n[ \t]*\n`)

// segment is an indivisible unit of text: a paragraph, or a sentence from an
// oversized paragraph.
type segment struct {
	text    string
	tokens  int
	newPara bool // true when the segment opened a new paragraph in the source
}

// EstimateTokens returns a cheap deterministic token estimate for s.
func EstimateTokens(s string) int {
	words := len(strings.Fields(s))
	if words == 0 {
		return 0
	}
	return int(math.Ceil(float64(words) * 1.3))
}

// Split divides text into ordered, possibly overlapping chunks.
//
// Content is never dropped: a single sentence larger than the token budget is
// emitted whole as one oversized chunk. Empty or whitespace-only input yields
// no chunks.
func Split(text string, opts Options) []Chunk {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 500
	}
	if opts.OverlapTokens < 0 {
		opts.OverlapTokens = 0
	}

	segments := segmentize(text, opts.MaxTokens)
	if len(segments) == 0 {
		return nil
	}

	var chunks []Chunk
	var cur []segment
	fromOverlap := 0 // leading segments of cur seeded from the previous chunk

	for _, seg := range segments {
		if len(cur) > fromOverlap && segmentTokens(cur)+seg.tokens > opts.MaxTokens {
			chunks = append(chunks, buildChunk(cur, len(chunks)))
			cur = overlapTail(cur, opts.OverlapTokens)
			fromOverlap = len(cur)
		}
		cur = append(cur, seg)
	}
	if len(cur) > fromOverlap {
		chunks = append(chunks, buildChunk(cur, len(chunks)))
	}
	return chunks
}

// segmentize splits text on blank-line paragraph boundaries, then re-splits
// any paragraph over the token budget into sentences.
func segmentize(text string, maxTokens int) []segment {
	var segments []segment
	for _, para := range paragraphSplitter.Split(text, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		tokens := EstimateTokens(para)
		if tokens <= maxTokens {
			segments = append(segments, segment{text: para, tokens: tokens, newPara: true})
			continue
		}
		for i, sentence := range splitSentences(para) {
			segments = append(segments, segment{
				text:    sentence,
				tokens:  EstimateTokens(sentence),
				newPara: i == 0,
			})
		}
	}
	return segments
}

// splitSentences cuts after '.', '?' or '!' runs followed by whitespace.
func splitSentences(p string) []string {
	var out []string
	start := 0
	for i := 0; i < len(p); i++ {
		if !isSentenceEnd(p[i]) {
			continue
		}
		j := i + 1
		for j < len(p) && isSentenceEnd(p[j]) {
			j++
		}
		if j < len(p) && !isSpace(p[j]) {
			i = j - 1
			continue
		}
		if s := strings.TrimSpace(p[start:j]); s != "" {
			out = append(out, s)
		}
		for j < len(p) && isSpace(p[j]) {
			j++
		}
		start = j
		i = j - 1
	}
	if start < len(p) {
		if s := strings.TrimSpace(p[start:]); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func isSentenceEnd(c byte) bool { return c == '.' || c == '?' || c == '!' }

func isSpace(c byte) bool { return c == ' ' || c == '\t' || c == '\n' || c == '\r' }

func segmentTokens(segs []segment) int {
	total := 0
	for _, s := range segs {
		total += s.tokens
	}
	return total
}

// overlapTail selects the trailing whole segments of a closed chunk that fit
// within the overlap budget. A chunk consisting of a single segment larger
// than the budget seeds nothing: repeating it would only duplicate an already
// oversized chunk.
func overlapTail(segs []segment, overlapTokens int) []segment {
	if overlapTokens <= 0 {
		return nil
	}
	total := 0
	i := len(segs)
	for i > 0 && total+segs[i-1].tokens <= overlapTokens {
		total += segs[i-1].tokens
		i--
	}
	if i == len(segs) {
		// Nothing fits. Carry the last segment anyway so consecutive chunks
		// still share context, except for single-segment chunks.
		if len(segs) == 1 {
			return nil
		}
		i = len(segs) - 1
	}
	tail := make([]segment, len(segs)-i)
	copy(tail, segs[i:])
	return tail
}

func buildChunk(segs []segment, position int) Chunk {
	var b strings.Builder
	for i, s := range segs {
		if i > 0 {
			if s.newPara {
				b.WriteString("\n\n")
			} else {
				b.WriteString(" ")
			}
		}
		b.WriteString(s.text)
	}
	content := b.String()
	return Chunk{
		Content:    content,
		TokenCount: EstimateTokens(content),
		Position:   position,
	}
}
