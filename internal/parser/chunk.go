package parser

import (
	"iter"
	"strings"
	"unicode"

	"docuflow/internal/models"
)

type window struct {
	contextStart int
	start        int
	end          int
}

// windows splits text into consecutive spans of at most size-overlap
// characters, each preceded by up to overlap characters of context. Span
// ends move back to just after the nearest whitespace so tokens stay whole;
// a token longer than a span is cut hard.
func windows(text []rune, size, overlap int) iter.Seq2[int, window] {
	return func(yield func(int, window) bool) {
		step := size - overlap
		if step <= 0 {
			step = size
		}
		n := len(text)
		for i, start := 0, 0; start < n; i++ {
			end := start + step
			if end >= n {
				end = n
			} else {
				end = breakBefore(text, start, end)
			}
			w := window{contextStart: contextStart(text, start, overlap), start: start, end: end}
			if !yield(i, w) {
				return
			}
			start = end
		}
	}
}

// breakBefore returns the largest b in (start, end] that follows a whitespace
// character, or end when the range holds none.
func breakBefore(text []rune, start, end int) int {
	for b := end; b > start+1; b-- {
		if unicode.IsSpace(text[b-1]) {
			return b
		}
	}
	return end
}

// contextStart returns where the overlap context before start begins,
// moved forward to a token start.
func contextStart(text []rune, start, overlap int) int {
	cs := start - overlap
	if cs <= 0 {
		return 0
	}
	if unicode.IsSpace(text[cs-1]) {
		return cs
	}
	for i := cs; i < start; i++ {
		if unicode.IsSpace(text[i]) {
			return i + 1
		}
	}
	return cs
}

// normalizeText collapses every whitespace run to one newline when the run
// holds a line break, otherwise to one space, and trims both ends.
func normalizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	pending := rune(0)
	for _, r := range s {
		if unicode.IsSpace(r) {
			if r == '\n' || r == '\r' {
				pending = '\n'
			} else if pending == 0 {
				pending = ' '
			}
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		if pending != 0 && b.Len() > 0 {
			b.WriteRune(pending)
		}
		pending = 0
		b.WriteRune(r)
	}
	return b.String()
}

func countNonSpace(s string) int {
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}

// Reassemble rebuilds the text covered by chunks by taking, from each
// chunk, only the characters its span owns.
func Reassemble(chunks []models.Chunk) string {
	var b strings.Builder
	for _, c := range chunks {
		r := []rune(c.Text)
		own := c.Span.Len()
		if own > len(r) {
			own = len(r)
		}
		b.WriteString(string(r[len(r)-own:]))
	}
	return b.String()
}
