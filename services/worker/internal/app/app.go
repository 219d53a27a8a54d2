package app

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"
	"pdfchat/internal/metrics"
	"pdfchat/pkg/ai"
	"pdfchat/pkg/storage"
	"pdfchat/pkg/store"
)

// Config wires the background handlers to their collaborators.
type Config struct {
	PDFs      store.PDFStore
	Chats     store.ChatStore
	Objects   storage.ObjectStore
	Generator ai.TextGenerator
	Extractor Extractor
	Metrics   *metrics.Metrics

	// MaxAttempts bounds LLM calls per turn, counting the first.
	MaxAttempts int
	// Backoff is the delay before the second attempt; it doubles after that.
	Backoff time.Duration
	// Timeout is the deadline of a single LLM call.
	Timeout time.Duration
	// Limiter paces outbound LLM calls across all reply consumers.
	Limiter         *rate.Limiter
	MaxContextRunes int
	Now             func() time.Time
}

// Worker runs parse and reply jobs.
type Worker struct {
	pdfs      store.PDFStore
	chats     store.ChatStore
	objects   storage.ObjectStore
	generator ai.TextGenerator
	extractor Extractor
	metrics   *metrics.Metrics

	maxAttempts     int
	backoff         time.Duration
	timeout         time.Duration
	limiter         *rate.Limiter
	maxContextRunes int
	now             func() time.Time
}

// New validates the wiring and applies defaults.
func New(cfg Config) (*Worker, error) {
	switch {
	case cfg.PDFs == nil:
		return nil, errors.New("pdf store required")
	case cfg.Chats == nil:
		return nil, errors.New("chat store required")
	case cfg.Objects == nil:
		return nil, errors.New("object store required")
	case cfg.Generator == nil:
		return nil, errors.New("text generator required")
	}
	w := &Worker{
		pdfs:            cfg.PDFs,
		chats:           cfg.Chats,
		objects:         cfg.Objects,
		generator:       cfg.Generator,
		extractor:       cfg.Extractor,
		metrics:         cfg.Metrics,
		maxAttempts:     cfg.MaxAttempts,
		backoff:         cfg.Backoff,
		timeout:         cfg.Timeout,
		limiter:         cfg.Limiter,
		maxContextRunes: cfg.MaxContextRunes,
		now:             cfg.Now,
	}
	if w.extractor == nil {
		w.extractor = PDFExtractor{}
	}
	if w.metrics == nil {
		w.metrics = metrics.New()
	}
	if w.maxAttempts <= 0 {
		w.maxAttempts = 3
	}
	if w.backoff <= 0 {
		w.backoff = time.Second
	}
	if w.timeout <= 0 {
		w.timeout = 60 * time.Second
	}
	if w.limiter == nil {
		w.limiter = rate.NewLimiter(rate.Inf, 1)
	}
	if w.now == nil {
		w.now = time.Now
	}
	return w, nil
}

// detached keeps terminal writes alive when the job context is cancelled
// during shutdown.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
}
