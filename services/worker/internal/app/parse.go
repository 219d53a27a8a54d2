package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"pdfchat/pkg/domain"
	"pdfchat/pkg/queue"
)

const maxParseErrorLen = 500

// HandleParse extracts the text of a PARSING document and records the
// outcome. Deliveries for documents in any other state are acknowledged
// without work.
func (w *Worker) HandleParse(ctx context.Context, job queue.JobStatus) (err error) {
	pj := queue.ParseJobFrom(job)
	logger := slog.With("job_id", job.ID, "pdf_id", pj.PDFID, "attempt", job.Attempts)
	start := time.Now()
	outcome := "failed"
	defer func() {
		w.metrics.JobsTotal.WithLabelValues("parse", outcome).Inc()
		w.metrics.JobDuration.WithLabelValues("parse").Observe(time.Since(start).Seconds())
	}()

	doc, ok, err := w.pdfs.GetPDF(ctx, pj.PDFID)
	if err != nil {
		outcome = "retry"
		return fmt.Errorf("fetch pdf: %w", err)
	}
	if !ok {
		return queue.Permanent(fmt.Errorf("pdf %s not found", pj.PDFID))
	}
	switch doc.ParseStatus {
	case domain.ParseParsing:
	case domain.ParseUnparsed, domain.ParseSuccess, domain.ParseFailure:
		outcome = "skipped"
		logger.Info("parse job skipped", "status", doc.ParseStatus)
		return nil
	default:
		return queue.Permanent(fmt.Errorf("pdf %s: %w", doc.ID, domain.ErrUnknownStatus))
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("parse job panicked", "panic", r)
			w.failParse(ctx, doc, fmt.Errorf("unexpected error: %v", r))
			outcome = "failed"
			err = queue.Permanent(fmt.Errorf("parse panic: %v", r))
		}
	}()

	extraction, err := w.extract(ctx, doc)
	if err != nil {
		logger.Warn("pdf extraction failed", "error", err)
		w.failParse(ctx, doc, err)
		return queue.Permanent(err)
	}
	w.metrics.PagesExtracted.WithLabelValues("ok").Add(float64(len(extraction.Pages) - len(extraction.FailedPages)))
	w.metrics.PagesExtracted.WithLabelValues("placeholder").Add(float64(len(extraction.FailedPages)))

	writeCtx, cancel := detached(ctx)
	defer cancel()
	text, err := w.pdfs.SavePDFText(writeCtx, domain.PDFText{
		PDFID:       doc.ID,
		Content:     extraction.Text(),
		PageCount:   len(extraction.Pages),
		FailedPages: extraction.FailedPages,
		CreatedAt:   w.now().UTC(),
	})
	if err != nil {
		w.failParse(ctx, doc, fmt.Errorf("save text: %w", err))
		return queue.Permanent(err)
	}
	parsed := doc
	if err := parsed.MarkParsed(text.ID); err != nil {
		w.failParse(ctx, doc, err)
		return queue.Permanent(err)
	}
	applied, err := w.pdfs.UpdatePDFStatus(writeCtx, parsed, domain.ParseParsing)
	if err != nil {
		w.failParse(ctx, doc, fmt.Errorf("mark parsed: %w", err))
		return queue.Permanent(err)
	}
	if !applied {
		outcome = "skipped"
		logger.Warn("pdf left PARSING while extracting, result discarded", "text_id", text.ID)
		return nil
	}
	outcome = "success"
	logger.Info("pdf parsed", "pages", len(extraction.Pages), "failed_pages", len(extraction.FailedPages))
	return nil
}

func (w *Worker) extract(ctx context.Context, doc domain.PDFDocument) (Extraction, error) {
	rc, err := w.objects.Get(ctx, doc.BlobKey)
	if err != nil {
		return Extraction{}, fmt.Errorf("read blob: %w", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return Extraction{}, fmt.Errorf("read blob: %w", err)
	}
	return w.extractor.Extract(ctx, data)
}

// failParse records PARSED_FAILURE when the document is still PARSING.
func (w *Worker) failParse(ctx context.Context, doc domain.PDFDocument, cause error) {
	failed := doc
	if err := failed.MarkParseFailed(parseFailureMessage(cause)); err != nil {
		slog.Error("cannot fail pdf", "pdf_id", doc.ID, "error", err)
		return
	}
	writeCtx, cancel := detached(ctx)
	defer cancel()
	if _, err := w.pdfs.UpdatePDFStatus(writeCtx, failed, domain.ParseParsing); err != nil {
		slog.Error("record parse failure", "pdf_id", doc.ID, "error", err)
	}
}

func parseFailureMessage(err error) string {
	msg := "Failed to parse PDF: " + err.Error()
	if errors.Is(err, context.Canceled) {
		msg = "Failed to parse PDF: worker shut down during extraction"
	}
	if len(msg) > maxParseErrorLen {
		msg = strings.ToValidUTF8(msg[:maxParseErrorLen], "")
	}
	return msg
}
