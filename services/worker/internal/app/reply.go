package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"pdfchat/pkg/ai"
	"pdfchat/pkg/domain"
	"pdfchat/pkg/queue"
)

// Failure messages stored as the response of a failed turn.
const (
	msgMissingText = "Error: the parsed text of this PDF is unavailable. Try parsing the document again."
	msgTransport   = "Error: could not reach the language model service. Please try again later."
	msgAPIStatus   = "Error: the language model service returned status %d."
	msgMalformed   = "Error: the language model returned a response that could not be read."
	msgUnexpected  = "Error: an unexpected error occurred while generating the reply."
)

var errMissingText = errors.New("parsed text unavailable")

// HandleReply drives one turn through PROCESSING to a terminal state. A turn
// that is already terminal, or claimed by another delivery, is left alone.
func (w *Worker) HandleReply(ctx context.Context, job queue.JobStatus) (err error) {
	rj, err := queue.ReplyJobFrom(job)
	if err != nil {
		return err
	}
	logger := slog.With("job_id", job.ID, "turn_id", rj.TurnID, "attempt", job.Attempts)
	start := time.Now()
	outcome := "failed"
	defer func() {
		w.metrics.JobsTotal.WithLabelValues("reply", outcome).Inc()
		w.metrics.JobDuration.WithLabelValues("reply").Observe(time.Since(start).Seconds())
	}()

	turn, ok, err := w.chats.GetTurn(ctx, rj.TurnID)
	if err != nil {
		outcome = "retry"
		return fmt.Errorf("fetch turn: %w", err)
	}
	if !ok {
		return queue.Permanent(fmt.Errorf("turn %d not found", rj.TurnID))
	}

	turn, claimed, err := w.claimTurn(ctx, turn, job.Attempts)
	if err != nil {
		outcome = "retry"
		return err
	}
	if !claimed {
		outcome = "skipped"
		logger.Info("reply job skipped", "status", turn.ReplyStatus)
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("reply job panicked", "panic", r)
			w.failTurn(ctx, turn, msgUnexpected)
			outcome = "failed"
			err = queue.Permanent(fmt.Errorf("reply panic: %v", r))
		}
	}()

	response, genErr := w.reply(ctx, &turn)
	if genErr != nil {
		category, msg := classify(genErr)
		w.metrics.LLMCallsTotal.WithLabelValues(category).Inc()
		logger.Warn("reply failed", "category", category, "retries", turn.RetryAttempts, "error", genErr)
		w.failTurn(ctx, turn, msg)
		return queue.Permanent(genErr)
	}

	done := turn
	if err := done.Complete(response, w.now()); err != nil {
		w.failTurn(ctx, turn, msgUnexpected)
		return queue.Permanent(err)
	}
	writeCtx, cancel := detached(ctx)
	defer cancel()
	applied, err := w.chats.UpdateTurn(writeCtx, done, domain.ReplyProcessing)
	if err != nil {
		w.failTurn(ctx, turn, msgUnexpected)
		return queue.Permanent(fmt.Errorf("save reply: %w", err))
	}
	if !applied {
		outcome = "skipped"
		logger.Warn("turn left PROCESSING while generating, reply discarded")
		return nil
	}
	outcome = "success"
	w.metrics.LLMCallsTotal.WithLabelValues("success").Inc()
	logger.Info("reply completed", "retries", turn.RetryAttempts, "duration_ms", time.Since(start).Milliseconds())
	return nil
}

// claimTurn moves a PENDING turn to PROCESSING. A PROCESSING turn is resumed
// only on a redelivery of its job, which means the earlier consumer died.
func (w *Worker) claimTurn(ctx context.Context, turn domain.ChatTurn, attempts int) (domain.ChatTurn, bool, error) {
	switch turn.ReplyStatus {
	case domain.ReplyPending:
		next := turn
		if err := next.MarkProcessing(); err != nil {
			return turn, false, err
		}
		ok, err := w.chats.UpdateTurn(ctx, next, domain.ReplyPending)
		if err != nil {
			return turn, false, fmt.Errorf("claim turn: %w", err)
		}
		return next, ok, nil
	case domain.ReplyProcessing:
		return turn, attempts > 1, nil
	case domain.ReplySucceeded, domain.ReplyFailed:
		return turn, false, nil
	default:
		return turn, false, queue.Permanent(fmt.Errorf("turn %d: %w", turn.ID, domain.ErrUnknownStatus))
	}
}

func (w *Worker) reply(ctx context.Context, turn *domain.ChatTurn) (string, error) {
	text, err := w.documentText(ctx, turn.PDFID)
	if err != nil {
		return "", err
	}
	system, user := buildPrompt(turn.PDFFilename, text, turn.UserMessage, w.maxContextRunes)
	return w.generate(ctx, turn, system, user)
}

func (w *Worker) documentText(ctx context.Context, pdfID string) (string, error) {
	doc, ok, err := w.pdfs.GetPDF(ctx, pdfID)
	if err != nil {
		return "", fmt.Errorf("fetch pdf: %w", err)
	}
	if !ok || doc.ParseStatus != domain.ParseSuccess || doc.TextID == "" {
		return "", errMissingText
	}
	text, ok, err := w.pdfs.GetPDFText(ctx, doc.TextID)
	if err != nil {
		return "", fmt.Errorf("fetch pdf text: %w", err)
	}
	if !ok || strings.TrimSpace(text.Content) == "" {
		return "", errMissingText
	}
	return text.Content, nil
}

// generate calls the model, retrying transport failures, 429 and 5xx with
// exponential backoff. Each retry is persisted on the turn.
func (w *Worker) generate(ctx context.Context, turn *domain.ChatTurn, system, user string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		if attempt > 1 {
			turn.RetryAttempts++
			if _, err := w.chats.UpdateTurn(ctx, *turn, domain.ReplyProcessing); err != nil {
				slog.Warn("persist retry attempt", "turn_id", turn.ID, "error", err)
			}
			delay := w.backoff << (attempt - 2)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}
		if err := w.limiter.Wait(ctx); err != nil {
			return "", err
		}
		callCtx, cancel := context.WithTimeout(ctx, w.timeout)
		started := time.Now()
		out, err := w.generator.GenerateText(callCtx, system, user)
		cancel()
		w.metrics.LLMCallDuration.Observe(time.Since(started).Seconds())
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !ai.Retryable(err) {
			return "", err
		}
		w.metrics.LLMCallsTotal.WithLabelValues("retry").Inc()
	}
	return "", lastErr
}

// failTurn writes FAILED_RETRIES_EXHAUSTED with msg as the response.
func (w *Worker) failTurn(ctx context.Context, turn domain.ChatTurn, msg string) {
	failed := turn
	if err := failed.Fail(msg, w.now()); err != nil {
		slog.Error("cannot fail turn", "turn_id", turn.ID, "error", err)
		return
	}
	writeCtx, cancel := detached(ctx)
	defer cancel()
	if _, err := w.chats.UpdateTurn(writeCtx, failed, domain.ReplyProcessing); err != nil {
		slog.Error("record reply failure", "turn_id", turn.ID, "error", err)
	}
}

// classify maps a generation error to a metric label and a user-facing message.
func classify(err error) (string, string) {
	var apiErr *ai.APIError
	switch {
	case errors.Is(err, errMissingText):
		return "missing_text", msgMissingText
	case errors.As(err, &apiErr):
		return "api_error", fmt.Sprintf(msgAPIStatus, apiErr.StatusCode)
	case errors.Is(err, ai.ErrMalformedResponse):
		return "malformed", msgMalformed
	case errors.Is(err, ai.ErrTransport), errors.Is(err, context.DeadlineExceeded):
		return "transport", msgTransport
	default:
		return "unexpected", msgUnexpected
	}
}
