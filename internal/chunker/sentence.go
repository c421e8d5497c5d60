package chunker

import (
	"regexp"
	"strings"
)

// Default grouping for the semantic strategy.
const (
	DefaultSentencesPerChunk = 5
	DefaultOverlapSentences  = 1
)

var sentencePattern = regexp.MustCompile(`[^.!?]+[.!?]+|[^.!?]+$`)

// SentenceSplitter is the "semantic" strategy: it detects sentence
// boundaries and groups a fixed number of sentences per chunk with a
// sentence-level overlap, so chunks break at meaning boundaries instead of
// byte counts.
type SentenceSplitter struct {
	perChunk int
	overlap  int
}

// NewSentenceSplitter creates a semantic splitter. Non-positive arguments
// fall back to the defaults; the overlap is clamped below the group size.
func NewSentenceSplitter(perChunk, overlap int) *SentenceSplitter {
	if perChunk <= 0 {
		perChunk = DefaultSentencesPerChunk
	}
	if overlap < 0 {
		overlap = DefaultOverlapSentences
	}
	if overlap >= perChunk {
		overlap = perChunk - 1
	}
	return &SentenceSplitter{perChunk: perChunk, overlap: overlap}
}

func (s *SentenceSplitter) Name() string { return "semantic" }

// Split returns ordered sentence-group chunks covering text. Chunks are
// contiguous substrings of the input, so offsets are exact.
func (s *SentenceSplitter) Split(text string) []Chunk {
	if strings.Trim(text, whitespace) == "" {
		return nil
	}

	sentences := sentencePattern.FindAllStringIndex(text, -1)
	if len(sentences) == 0 {
		c, ok := trimSpan(text, 0, len(text), 0, s.Name())
		if !ok {
			return nil
		}
		return []Chunk{c}
	}

	var chunks []Chunk
	i, index := 0, 0
	for i < len(sentences) {
		end := min(i+s.perChunk, len(sentences))
		if c, ok := trimSpan(text, sentences[i][0], sentences[end-1][1], index, s.Name()); ok {
			chunks = append(chunks, c)
			index++
		}
		if end >= len(sentences) {
			break
		}
		i = end - s.overlap
	}
	return chunks
}
