// Package parser extracts text from PDF payloads and splits it into
// overlapping, ordered, citation-bearing chunks.
package parser

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sort"

	"github.com/rs/zerolog/log"

	"docuflow/internal/config"
	"docuflow/internal/models"
)

// Options controls extraction and windowing. Sizes are in characters.
type Options struct {
	ChunkSize    int
	ChunkOverlap int
	// MinPageChars is the non-space character count below which a page is
	// treated as scanned and sent to OCR.
	MinPageChars int
}

// OptionsFrom reads the fragmenter options out of the RAG configuration.
func OptionsFrom(cfg config.RAGConfig) Options {
	return Options{
		ChunkSize:    cfg.ChunkSize,
		ChunkOverlap: cfg.ChunkOverlap,
		MinPageChars: cfg.MinPageChars,
	}
}

func (o Options) normalized() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = config.DefaultChunkSize
	}
	if o.ChunkOverlap < 0 {
		o.ChunkOverlap = 0
	}
	if o.ChunkOverlap >= o.ChunkSize {
		o.ChunkOverlap = o.ChunkSize / 3
	}
	if o.MinPageChars < 0 {
		o.MinPageChars = 0
	}
	return o
}

// Fragmenter turns a PDF payload into a Document.
type Fragmenter struct {
	opts      Options
	extractor PageExtractor
	ocr       OCR
}

// New returns a Fragmenter reading text layers with PDFExtractor. ocr may be
// nil, in which case scanned pages are skipped with a warning.
func New(opts Options, ocr OCR) *Fragmenter {
	return NewWithExtractor(opts, PDFExtractor{}, ocr)
}

// NewWithExtractor returns a Fragmenter with a custom text layer extractor.
func NewWithExtractor(opts Options, extractor PageExtractor, ocr OCR) *Fragmenter {
	return &Fragmenter{opts: opts.normalized(), extractor: extractor, ocr: ocr}
}

// Document is the extracted text of one upload. Chunks can be ranged over
// any number of times; each pass starts again at ordinal 0.
type Document struct {
	ID       string
	Category models.Category
	// Warnings lists pages that were skipped or degraded.
	Warnings []string

	opts       Options
	text       []rune
	pageStarts []int
	pageNums   []int
}

// Fragment extracts every page of data. It fails with
// models.ErrDocumentUnreadable or models.ErrDocumentEmpty before any chunk
// exists, so a failed document never yields partial output.
func (f *Fragmenter) Fragment(ctx context.Context, documentID string, category models.Category, data []byte) (*Document, error) {
	pages, err := f.extractor.ExtractPages(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrDocumentUnreadable, err)
	}

	doc := &Document{ID: documentID, Category: category, opts: f.opts}
	for i, raw := range pages {
		pageNum := i + 1
		text := normalizeText(raw)
		if countNonSpace(text) < f.opts.MinPageChars {
			text, err = f.recognize(ctx, data, pageNum, text, doc)
			if err != nil {
				return nil, err
			}
		}
		if text == "" {
			doc.warn("page %d: no text after OCR, skipped", pageNum)
			continue
		}
		if len(doc.text) > 0 {
			doc.text = append(doc.text, '\n')
		}
		doc.pageStarts = append(doc.pageStarts, len(doc.text))
		doc.pageNums = append(doc.pageNums, pageNum)
		doc.text = append(doc.text, []rune(text)...)
	}

	if len(doc.text) == 0 {
		return nil, fmt.Errorf("%w: %d pages without text", models.ErrDocumentEmpty, len(pages))
	}

	for _, w := range doc.Warnings {
		log.Warn().Str("document_id", documentID).Msg(w)
	}
	return doc, nil
}

// recognize runs OCR for a near-empty page and returns whichever text is
// richer. Only cancellation is reported as an error.
func (f *Fragmenter) recognize(ctx context.Context, data []byte, pageNum int, direct string, doc *Document) (string, error) {
	if f.ocr == nil {
		if direct != "" {
			doc.warn("page %d: sparse text layer and OCR disabled", pageNum)
		}
		return direct, nil
	}

	raw, err := f.ocr.RecognizePage(ctx, data, pageNum)
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if err != nil {
		if direct != "" {
			doc.warn("page %d: OCR failed, kept text layer: %v", pageNum, err)
		} else {
			doc.warn("page %d: OCR failed: %v", pageNum, err)
		}
		return direct, nil
	}

	recognized := normalizeText(raw)
	if countNonSpace(recognized) > countNonSpace(direct) {
		return recognized, nil
	}
	return direct, nil
}

func (d *Document) warn(format string, args ...any) {
	d.Warnings = append(d.Warnings, fmt.Sprintf(format, args...))
}

// Text returns the full extracted text that spans point into.
func (d *Document) Text() string {
	return string(d.text)
}

// Len returns the text length in characters.
func (d *Document) Len() int {
	return len(d.text)
}

// Pages returns the page numbers that contributed text.
func (d *Document) Pages() []int {
	return slices.Clone(d.pageNums)
}

// Chunks lazily produces the document's chunks in ordinal order.
func (d *Document) Chunks() iter.Seq[models.Chunk] {
	return func(yield func(models.Chunk) bool) {
		for ordinal, w := range windows(d.text, d.opts.ChunkSize, d.opts.ChunkOverlap) {
			c := models.Chunk{
				DocumentID: d.ID,
				Category:   d.Category,
				Ordinal:    ordinal,
				Text:       string(d.text[w.contextStart:w.end]),
				Span:       models.Span{Start: w.start, End: w.end},
				Page:       d.pageAt(w.start),
			}
			if !yield(c) {
				return
			}
		}
	}
}

// pageAt returns the page number holding the character at offset.
func (d *Document) pageAt(offset int) int {
	i := sort.Search(len(d.pageStarts), func(i int) bool { return d.pageStarts[i] > offset }) - 1
	if i < 0 {
		return 0
	}
	return d.pageNums[i]
}
