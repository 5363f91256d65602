package indexing

import (
	"strings"
	"unicode"
)

// Chunker splits text into overlapping windows measured in characters.
// Windows prefer to end at a paragraph break, then a line break, then a
// space, as long as that keeps them at least half full.
type Chunker struct {
	Size    int
	Overlap int
}

// Span is one chunk of text with its character offsets in the source.
type Span struct {
	Text  string
	Start int
	End   int
}

// NewChunker returns a chunker, falling back to 1000/200 for invalid values.
func NewChunker(size, overlap int) Chunker {
	if size <= 0 {
		size = 1000
	}
	if overlap < 0 || overlap >= size {
		overlap = min(200, size/5)
	}
	return Chunker{Size: size, Overlap: overlap}
}

// Split returns the non-blank chunks of text in order. A Chunker built
// without NewChunker gets the same fallbacks.
func (c Chunker) Split(text string) []Span {
	if c.Size <= 0 || c.Overlap < 0 || c.Overlap >= c.Size {
		c = NewChunker(c.Size, c.Overlap)
	}
	r := []rune(text)
	n := len(r)
	var spans []Span

	for start := 0; start < n; {
		end := min(start+c.Size, n)
		if end < n {
			if cut := lastBoundary(r[start:end]); cut > c.Size/2 {
				end = start + cut
			}
		}

		if span, ok := trimmedSpan(r, start, end); ok {
			spans = append(spans, span)
		}
		if end >= n {
			break
		}

		next := end - c.Overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return spans
}

// lastBoundary returns the index just past the best break in window, or 0.
func lastBoundary(window []rune) int {
	for i := len(window) - 1; i > 0; i-- {
		if window[i] == '\n' && window[i-1] == '\n' {
			return i + 1
		}
	}
	for i := len(window) - 1; i >= 0; i-- {
		if window[i] == '\n' {
			return i + 1
		}
	}
	for i := len(window) - 1; i >= 0; i-- {
		if window[i] == ' ' {
			return i + 1
		}
	}
	return 0
}

func trimmedSpan(r []rune, start, end int) (Span, bool) {
	for start < end && unicode.IsSpace(r[start]) {
		start++
	}
	for end > start && unicode.IsSpace(r[end-1]) {
		end--
	}
	if start == end {
		return Span{}, false
	}
	return Span{Text: string(r[start:end]), Start: start, End: end}, true
}

// normalizeText collapses runs of blank lines and trims trailing spaces.
func normalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := 0
	for _, line := range lines {
		line = strings.TrimRightFunc(line, unicode.IsSpace)
		if line == "" {
			blank++
			if blank > 1 {
				continue
			}
		} else {
			blank = 0
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
