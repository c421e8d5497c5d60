package chunker

import "strings"

// Default sizing for the standard strategy.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// defaultSeparators is the split cascade: paragraph breaks first, then line
// breaks, sentence ends, words, and finally a hard character cut.
var defaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// RecursiveSplitter is the "standard" strategy: it cuts text at the
// highest-level separator that keeps pieces under the chunk size, descending
// the separator cascade for oversized pieces, then reassembles the pieces
// into chunks of at most the chunk size with a trailing overlap.
type RecursiveSplitter struct {
	chunkSize  int
	overlap    int
	separators []string
}

// NewRecursiveSplitter creates a standard splitter. Non-positive arguments
// fall back to the defaults.
func NewRecursiveSplitter(chunkSize, overlap int) *RecursiveSplitter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = DefaultChunkOverlap
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 2
	}
	return &RecursiveSplitter{
		chunkSize:  chunkSize,
		overlap:    overlap,
		separators: defaultSeparators,
	}
}

func (s *RecursiveSplitter) Name() string { return "standard" }

// Split returns ordered chunks covering text. Every chunk is a contiguous,
// whitespace-trimmed substring of the input, so the reported offsets are
// exact even where consecutive chunks overlap.
func (s *RecursiveSplitter) Split(text string) []Chunk {
	atoms := s.atomize(text, 0, s.separators)
	return s.assemble(text, atoms)
}

// atomize cuts text into spans no longer than chunkSize, preferring the
// earliest separator in the cascade that produces a fit.
func (s *RecursiveSplitter) atomize(text string, base int, seps []string) []span {
	if len(text) <= s.chunkSize {
		if strings.Trim(text, whitespace) == "" {
			return nil
		}
		return []span{{base, base + len(text)}}
	}
	if len(seps) == 0 || seps[0] == "" {
		return hardCut(text, base, s.chunkSize)
	}

	parts := strings.SplitAfter(text, seps[0])
	if len(parts) == 1 {
		return s.atomize(text, base, seps[1:])
	}

	var out []span
	off := 0
	for _, p := range parts {
		switch {
		case len(p) > s.chunkSize:
			out = append(out, s.atomize(p, base+off, seps[1:])...)
		case strings.Trim(p, whitespace) != "":
			out = append(out, span{base + off, base + off + len(p)})
		}
		off += len(p)
	}
	return out
}

func hardCut(text string, base, size int) []span {
	var out []span
	for i := 0; i < len(text); i += size {
		end := min(i+size, len(text))
		out = append(out, span{base + i, base + end})
	}
	return out
}

// assemble merges consecutive atoms into chunks of at most chunkSize,
// stepping each new window back so it overlaps the previous chunk's tail by
// up to the configured overlap.
func (s *RecursiveSplitter) assemble(text string, atoms []span) []Chunk {
	var chunks []Chunk
	i, index := 0, 0
	for i < len(atoms) {
		start := atoms[i].start
		j := i
		for j+1 < len(atoms) && atoms[j+1].end-start <= s.chunkSize {
			j++
		}
		end := atoms[j].end

		if c, ok := trimSpan(text, start, end, index, s.Name()); ok {
			chunks = append(chunks, c)
			index++
		}

		if j+1 >= len(atoms) {
			break
		}
		next := j + 1
		for k := j; k > i; k-- {
			if end-atoms[k].start > s.overlap {
				break
			}
			next = k
		}
		i = next
	}
	return chunks
}
