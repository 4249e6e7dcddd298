package parser

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docuflow/internal/models"
)

// stubExtractor returns fixed page texts.
type stubExtractor struct {
	pages []string
	err   error
}

func (s stubExtractor) ExtractPages([]byte) ([]string, error) {
	return s.pages, s.err
}

// stubOCR returns fixed text per page.
type stubOCR struct {
	pages map[int]string
	err   error
	calls []int
}

func (s *stubOCR) RecognizePage(_ context.Context, _ []byte, page int) (string, error) {
	s.calls = append(s.calls, page)
	if s.err != nil {
		return "", s.err
	}
	return s.pages[page], nil
}

func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = "word" + strings.Repeat("x", i%7)
	}
	return strings.Join(parts, " ")
}

func TestFragment_ChunkInvariants(t *testing.T) {
	pages := []string{words(120), words(80), "Notice period is three months from the date of delivery."}
	f := NewWithExtractor(Options{ChunkSize: 200, ChunkOverlap: 50, MinPageChars: 10}, stubExtractor{pages: pages}, nil)

	doc, err := f.Fragment(context.Background(), "doc-1", models.CategoryContract, []byte("%PDF"))
	require.NoError(t, err)

	chunks := slices.Collect(doc.Chunks())
	require.Greater(t, len(chunks), 3)

	prevEnd := 0
	for i, c := range chunks {
		assert.Equal(t, i, c.Ordinal)
		assert.Equal(t, "doc-1", c.DocumentID)
		assert.Equal(t, models.CategoryContract, c.Category)
		assert.Equal(t, prevEnd, c.Span.Start, "spans must tile the text")
		assert.Greater(t, c.Span.End, c.Span.Start)
		assert.LessOrEqual(t, utf8.RuneCountInString(c.Text), 200)
		prevEnd = c.Span.End
	}
	assert.Equal(t, doc.Len(), prevEnd)
	assert.Equal(t, doc.Text(), Reassemble(chunks))
}

func TestFragment_WindowsBreakOnWhitespace(t *testing.T) {
	f := NewWithExtractor(Options{ChunkSize: 60, ChunkOverlap: 20}, stubExtractor{pages: []string{words(60)}}, nil)
	doc, err := f.Fragment(context.Background(), "d", models.CategoryOther, nil)
	require.NoError(t, err)

	text := []rune(doc.Text())
	for c := range doc.Chunks() {
		if c.Span.End < len(text) {
			assert.Equal(t, ' ', text[c.Span.End-1], "span %d should end after whitespace", c.Ordinal)
		}
		assert.False(t, strings.HasPrefix(c.Text, " "))
	}
}

func TestFragment_OverlapCarriesContext(t *testing.T) {
	f := NewWithExtractor(Options{ChunkSize: 80, ChunkOverlap: 30}, stubExtractor{pages: []string{words(50)}}, nil)
	doc, err := f.Fragment(context.Background(), "d", models.CategoryOther, nil)
	require.NoError(t, err)

	chunks := slices.Collect(doc.Chunks())
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks[1:] {
		assert.Greater(t, utf8.RuneCountInString(c.Text), c.Span.Len(), "chunk %d should carry context", c.Ordinal)
	}
}

func TestDocument_ChunksRestartable(t *testing.T) {
	f := NewWithExtractor(Options{ChunkSize: 50, ChunkOverlap: 10}, stubExtractor{pages: []string{words(40)}}, nil)
	doc, err := f.Fragment(context.Background(), "d", models.CategoryOther, nil)
	require.NoError(t, err)

	// stop early, then range again from the beginning
	for c := range doc.Chunks() {
		if c.Ordinal == 1 {
			break
		}
	}
	first := slices.Collect(doc.Chunks())
	second := slices.Collect(doc.Chunks())
	assert.Equal(t, first, second)
	assert.Equal(t, 0, first[0].Ordinal)
}

func TestFragment_Unreadable(t *testing.T) {
	f := NewWithExtractor(Options{}, stubExtractor{err: errors.New("xref missing")}, nil)
	doc, err := f.Fragment(context.Background(), "d", models.CategoryOther, nil)
	assert.ErrorIs(t, err, models.ErrDocumentUnreadable)
	assert.Nil(t, doc)
}

func TestFragment_EmptyWhenOCRFails(t *testing.T) {
	ocr := &stubOCR{err: errors.New("tesseract crashed")}
	f := NewWithExtractor(Options{MinPageChars: 50}, stubExtractor{pages: []string{"", "  ", ""}}, ocr)

	doc, err := f.Fragment(context.Background(), "d", models.CategoryOther, nil)
	assert.ErrorIs(t, err, models.ErrDocumentEmpty)
	assert.Nil(t, doc)
	assert.Equal(t, []int{1, 2, 3}, ocr.calls)
}

func TestFragment_OCRFallbackPerPage(t *testing.T) {
	ocr := &stubOCR{pages: map[int]string{2: "Scanned   page\n\n text recognised by OCR engine here"}}
	pages := []string{words(30), ""}
	f := NewWithExtractor(Options{ChunkSize: 1000, ChunkOverlap: 100, MinPageChars: 20}, stubExtractor{pages: pages}, ocr)

	doc, err := f.Fragment(context.Background(), "d", models.CategoryMedical, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, ocr.calls)
	assert.Contains(t, doc.Text(), "Scanned page\ntext recognised")
	assert.Equal(t, []int{1, 2}, doc.Pages())
}

func TestFragment_SkipsBlankPageWithWarning(t *testing.T) {
	ocr := &stubOCR{pages: map[int]string{}}
	pages := []string{words(30), "", words(10)}
	f := NewWithExtractor(Options{ChunkSize: 100, ChunkOverlap: 20, MinPageChars: 5}, stubExtractor{pages: pages}, ocr)

	doc, err := f.Fragment(context.Background(), "d", models.CategoryOther, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, doc.Pages())
	require.Len(t, doc.Warnings, 1)
	assert.Contains(t, doc.Warnings[0], "page 2")

	chunks := slices.Collect(doc.Chunks())
	assert.Equal(t, 1, chunks[0].Page)
	assert.Equal(t, 3, chunks[len(chunks)-1].Page)
}

func TestFragment_KeepsSparseTextWhenOCRFails(t *testing.T) {
	ocr := &stubOCR{err: errors.New("no tesseract")}
	f := NewWithExtractor(Options{MinPageChars: 50}, stubExtractor{pages: []string{"Signed: J. Smith"}}, ocr)

	doc, err := f.Fragment(context.Background(), "d", models.CategoryContract, nil)
	require.NoError(t, err)
	assert.Equal(t, "Signed: J. Smith", doc.Text())
	assert.Len(t, doc.Warnings, 1)
}

func TestFragment_CancelledDuringOCR(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := NewWithExtractor(Options{MinPageChars: 50}, stubExtractor{pages: []string{""}}, &stubOCR{})

	_, err := f.Fragment(ctx, "d", models.CategoryOther, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{in: "", want: ""},
		{in: "  a  b \t c  ", want: "a b c"},
		{in: "line one  \n\n   line two", want: "line one\nline two"},
		{in: "a\r\nb", want: "a\nb"},
		{in: "x\x00y", want: "xy"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, normalizeText(tc.in))
	}
}

func TestOptions_Normalized(t *testing.T) {
	o := Options{ChunkSize: 90, ChunkOverlap: 200, MinPageChars: -1}.normalized()
	assert.Equal(t, 30, o.ChunkOverlap)
	assert.Equal(t, 0, o.MinPageChars)
}
