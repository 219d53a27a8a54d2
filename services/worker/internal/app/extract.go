package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Extraction is the text of a document, one entry per page.
type Extraction struct {
	Pages       []string
	FailedPages []int
}

// Text joins the pages with single spaces.
func (e Extraction) Text() string {
	return strings.Join(e.Pages, " ")
}

// Extractor turns raw PDF bytes into page texts.
type Extractor interface {
	Extract(ctx context.Context, data []byte) (Extraction, error)
}

// PDFExtractor extracts plain text with ledongthuc/pdf. A page that fails
// or panics is replaced by a placeholder instead of failing the document.
type PDFExtractor struct{}

func (PDFExtractor) Extract(ctx context.Context, data []byte) (res Extraction, err error) {
	if len(data) == 0 {
		return Extraction{}, errors.New("empty pdf")
	}
	reader, err := openPDF(data)
	if err != nil {
		return Extraction{}, err
	}
	total := reader.NumPage()
	if total == 0 {
		return Extraction{}, errors.New("pdf has no pages")
	}
	res.Pages = make([]string, 0, total)
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return Extraction{}, err
		}
		text, err := extractPage(reader, i)
		if err != nil {
			res.Pages = append(res.Pages, pagePlaceholder(i))
			res.FailedPages = append(res.FailedPages, i)
			continue
		}
		res.Pages = append(res.Pages, text)
	}
	return res, nil
}

func openPDF(data []byte) (reader *pdf.Reader, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("open pdf: %v", r)
		}
	}()
	reader, err = pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	return reader, nil
}

func extractPage(reader *pdf.Reader, num int) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("page %d: %v", num, r)
		}
	}()
	page := reader.Page(num)
	if page.V.IsNull() {
		return "", fmt.Errorf("page %d: missing page object", num)
	}
	text, err = page.GetPlainText(nil)
	if err != nil {
		return "", fmt.Errorf("page %d: %w", num, err)
	}
	return normalizeText(text), nil
}

func pagePlaceholder(num int) string {
	return fmt.Sprintf("[page %d: text extraction failed]", num)
}

func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\x00", " ")
	text = strings.ToValidUTF8(text, "")
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	return strings.Join(strings.Fields(text), " ")
}
