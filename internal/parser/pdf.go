package parser

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog/log"
)

// PageExtractor returns the direct text layer of every page, in page order.
// A page without a text layer yields an empty string, not an error; an error
// means the payload as a whole cannot be read.
type PageExtractor interface {
	ExtractPages(data []byte) ([]string, error)
}

// PDFExtractor reads text layers with github.com/ledongthuc/pdf.
type PDFExtractor struct{}

func (PDFExtractor) ExtractPages(data []byte) (pages []string, err error) {
	// the reader panics on some malformed object graphs
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = fmt.Errorf("pdf reader: %v", r)
		}
	}()

	if len(data) == 0 {
		return nil, errors.New("empty payload")
	}
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}

	numPages := reader.NumPage()
	pages = make([]string, numPages)
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			log.Warn().Err(err).Int("page", i).Msg("Text layer unreadable, page left for OCR")
			continue
		}
		pages[i-1] = text
	}
	return pages, nil
}
