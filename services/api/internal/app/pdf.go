package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"pdfchat/internal/util"
	"pdfchat/pkg/domain"
	"pdfchat/pkg/queue"
)

const (
	pdfContentType = "application/pdf"

	DefaultPDFPageSize = 10
	MaxPageSize        = 100
)

// Upload stores the raw bytes under a fresh key and records the document as
// UNPARSED. The blob is removed again when the metadata write fails.
func (a *App) Upload(ctx context.Context, user domain.User, filename, contentType string, r io.Reader, size int64) (domain.PDFDocument, error) {
	if strings.TrimSpace(contentType) != pdfContentType {
		return domain.PDFDocument{}, ErrInvalidPDFFileType
	}
	name := filepath.Base(strings.TrimSpace(filename))
	if name == "." || name == "/" || name == "" {
		name = "document.pdf"
	}
	key := path.Join("pdfs", user.UUID, uuid.NewString()+".pdf")
	if err := a.objects.Put(ctx, key, r, size, pdfContentType); err != nil {
		return domain.PDFDocument{}, fmt.Errorf("save file: %w", err)
	}
	doc, err := a.pdfs.CreatePDF(ctx, domain.PDFDocument{
		UserID:           user.ID,
		BlobKey:          key,
		OriginalFilename: name,
		SizeBytes:        size,
		UploadedAt:       a.now().UTC(),
		ParseStatus:      domain.ParseUnparsed,
	})
	if err != nil {
		if delErr := a.objects.Delete(ctx, key); delErr != nil {
			util.LoggerFromContext(ctx).Warn("orphaned pdf blob", "key", key, "error", delErr)
		}
		return domain.PDFDocument{}, fmt.Errorf("save pdf metadata: %w", err)
	}
	return doc, nil
}

// List returns one page of the user's documents, newest first.
func (a *App) List(ctx context.Context, user domain.User, page, size int) (domain.Page[domain.PDFDocument], error) {
	req := domain.PageRequest{Page: page, Size: size}
	if err := validatePage(req); err != nil {
		return domain.Page[domain.PDFDocument]{}, err
	}
	items, total, err := a.pdfs.ListPDFs(ctx, user.ID, req.Offset(), req.Size)
	if err != nil {
		return domain.Page[domain.PDFDocument]{}, fmt.Errorf("list pdfs: %w", err)
	}
	return domain.NewPage(req, total, items), nil
}

// RequestParsing moves an owned document to PARSING and enqueues the parse job.
func (a *App) RequestParsing(ctx context.Context, user domain.User, pdfID string) (domain.PDFDocument, error) {
	doc, err := a.ownedPDF(ctx, user, pdfID)
	if err != nil {
		return domain.PDFDocument{}, err
	}
	observed := doc.ParseStatus
	if err := doc.MarkParsing(); err != nil {
		if errors.Is(err, domain.ErrAlreadyParsing) {
			return domain.PDFDocument{}, ErrPDFAlreadyParsing
		}
		return domain.PDFDocument{}, err
	}
	ok, err := a.pdfs.UpdatePDFStatus(ctx, doc, observed)
	if err != nil {
		return domain.PDFDocument{}, fmt.Errorf("mark parsing: %w", err)
	}
	if !ok {
		return domain.PDFDocument{}, ErrPDFAlreadyParsing
	}
	if _, err := a.jobs.EnqueueParse(ctx, queue.ParseJob{PDFID: doc.ID, UserID: user.ID}); err != nil {
		failed := doc
		if markErr := failed.MarkParseFailed("could not schedule parsing, retry later"); markErr == nil {
			if _, upErr := a.pdfs.UpdatePDFStatus(ctx, failed, domain.ParseParsing); upErr != nil {
				util.LoggerFromContext(ctx).Error("record parse enqueue failure", "pdf_id", doc.ID, "error", upErr)
			}
		}
		return domain.PDFDocument{}, fmt.Errorf("enqueue parse: %w", err)
	}
	return doc, nil
}

// SelectForChat makes an owned, parsed document the user's only selection.
func (a *App) SelectForChat(ctx context.Context, user domain.User, pdfID string) (domain.PDFDocument, error) {
	doc, err := a.ownedPDF(ctx, user, pdfID)
	if err != nil {
		return domain.PDFDocument{}, err
	}
	if err := doc.CanSelect(); err != nil {
		if errors.Is(err, domain.ErrNotParsed) {
			return domain.PDFDocument{}, ErrPDFNotParsed
		}
		return domain.PDFDocument{}, err
	}
	ok, err := a.pdfs.SelectPDF(ctx, user.ID, doc.ID)
	if err != nil {
		return domain.PDFDocument{}, fmt.Errorf("select pdf: %w", err)
	}
	if !ok {
		return domain.PDFDocument{}, ErrSelectionFailed
	}
	doc.SelectedForChat = true
	return doc, nil
}

func (a *App) ownedPDF(ctx context.Context, user domain.User, pdfID string) (domain.PDFDocument, error) {
	pdfID = strings.TrimSpace(pdfID)
	if pdfID == "" {
		return domain.PDFDocument{}, ErrPDFNotFound
	}
	doc, ok, err := a.pdfs.GetPDF(ctx, pdfID)
	if err != nil {
		return domain.PDFDocument{}, fmt.Errorf("fetch pdf: %w", err)
	}
	if !ok || doc.UserID != user.ID {
		return domain.PDFDocument{}, ErrPDFNotFound
	}
	return doc, nil
}

func validatePage(req domain.PageRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if req.Size > MaxPageSize {
		return fmt.Errorf("%w: size must not exceed %d", domain.ErrInvalidPage, MaxPageSize)
	}
	return nil
}
