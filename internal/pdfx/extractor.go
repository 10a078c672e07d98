package pdfx

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

var (
	// ErrCorruptDocument indicates the byte stream is not a parseable PDF
	ErrCorruptDocument = errors.New("corrupt document")

	// ErrEmptyDocument indicates the PDF has no pages or yielded no content.
	// Non-fatal: downstream stages may proceed with an empty result set.
	ErrEmptyDocument = errors.New("empty document")

	// ErrDocumentTooLarge indicates the upload exceeds the configured size
	// limit. The byte stream is never parsed.
	ErrDocumentTooLarge = errors.New("document too large")
)

// Extractor turns raw PDF bytes into per-page text and table grids
type Extractor struct {
	maxFileSize int64
	maxTextSize int
}

// NewExtractor creates a new page extractor with the specified constraints
func NewExtractor(maxFileSize int64) *Extractor {
	return &Extractor{
		maxFileSize: maxFileSize,
		maxTextSize: 10 * 1024 * 1024, // 10MB text limit
	}
}

// ExtractPages extracts text and tables from every page of the PDF
func (e *Extractor) ExtractPages(data []byte) ([]Page, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty byte stream", ErrCorruptDocument)
	}
	if e.maxFileSize > 0 && int64(len(data)) > e.maxFileSize {
		return nil, fmt.Errorf("%w: %d bytes (max: %d bytes)", ErrDocumentTooLarge, len(data), e.maxFileSize)
	}

	if err := e.validate(data); err != nil {
		return nil, err
	}

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptDocument, err)
	}

	numPages := reader.NumPage()
	if numPages == 0 {
		return nil, fmt.Errorf("%w: zero pages", ErrEmptyDocument)
	}

	pages := make([]Page, 0, numPages)
	totalText := 0
	for pageNum := 1; pageNum <= numPages; pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			pages = append(pages, Page{Number: pageNum, Tables: []Table{}})
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			// Continue with other pages even if one fails
			text = ""
		}
		text = strings.TrimSpace(text)

		if totalText+len(text) > e.maxTextSize {
			remaining := e.maxTextSize - totalText
			if remaining < 0 {
				remaining = 0
			}
			if remaining < len(text) {
				text = text[:remaining]
			}
		}
		totalText += len(text)

		pages = append(pages, Page{
			Number: pageNum,
			Text:   text,
			Tables: e.extractTables(page, pageNum),
		})
	}

	if allEmpty(pages) {
		return pages, fmt.Errorf("%w: no text or tables on any page", ErrEmptyDocument)
	}

	return pages, nil
}

// validate runs pdfcpu's relaxed validation over the byte stream
func (e *Extractor) validate(data []byte) error {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	ctx, err := api.ReadContext(bytes.NewReader(data), conf)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptDocument, err)
	}
	if err := ctx.EnsurePageCount(); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptDocument, err)
	}
	return nil
}

func allEmpty(pages []Page) bool {
	for _, p := range pages {
		if !p.IsEmpty() {
			return false
		}
	}
	return true
}
