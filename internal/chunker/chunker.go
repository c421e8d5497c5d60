// Package chunker splits document text into ordered, position-indexed chunks
// ready for embedding and storage.
package chunker

import "strings"

// Chunk is one split piece of a document's text. Start and End are byte
// offsets into the source text; Type names the splitting strategy that
// produced the chunk.
type Chunk struct {
	Content string
	Index   int
	Start   int
	End     int
	Type    string
}

// Splitter splits document text into ordered chunks.
type Splitter interface {
	Split(text string) []Chunk
	// Name returns the strategy tag recorded as the chunk type.
	Name() string
}

// span is a half-open [start, end) byte range into the source text.
type span struct {
	start, end int
}

const whitespace = " \t\n\r"

// trimSpan trims surrounding whitespace from text[start:end] and returns the
// chunk with offsets adjusted to the trimmed content. Returns false for
// whitespace-only ranges.
func trimSpan(text string, start, end, index int, typ string) (Chunk, bool) {
	raw := text[start:end]
	trimmed := strings.Trim(raw, whitespace)
	if trimmed == "" {
		return Chunk{}, false
	}
	lead := len(raw) - len(strings.TrimLeft(raw, whitespace))
	newStart := start + lead
	return Chunk{
		Content: trimmed,
		Index:   index,
		Start:   newStart,
		End:     newStart + len(trimmed),
		Type:    typ,
	}, true
}
