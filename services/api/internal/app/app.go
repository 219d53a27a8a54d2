package app

import (
	"context"
	"errors"
	"time"

	"pdfchat/pkg/auth"
	"pdfchat/pkg/queue"
	"pdfchat/pkg/storage"
	"pdfchat/pkg/store"
)

// Enqueuer defers background work onto the job streams. *queue.Jobs
// satisfies it.
type Enqueuer interface {
	EnqueueParse(ctx context.Context, job queue.ParseJob) (queue.JobStatus, error)
	EnqueueReply(ctx context.Context, job queue.ReplyJob) (queue.JobStatus, error)
}

// Config wires the application services to their collaborators. All
// dependencies are constructed by the caller.
type Config struct {
	Users    store.UserStore
	PDFs     store.PDFStore
	Chats    store.ChatStore
	Objects  storage.ObjectStore
	Sessions store.SessionStore
	Jobs     Enqueuer
	Now      func() time.Time
}

// App implements the account, PDF and chat use cases.
type App struct {
	users    store.UserStore
	pdfs     store.PDFStore
	chats    store.ChatStore
	objects  storage.ObjectStore
	sessions store.SessionStore
	jobs     Enqueuer
	now      func() time.Time

	checkPassword func(password, hash string) bool
}

// New validates the wiring and constructs the application.
func New(cfg Config) (*App, error) {
	switch {
	case cfg.Users == nil:
		return nil, errors.New("user store required")
	case cfg.PDFs == nil:
		return nil, errors.New("pdf store required")
	case cfg.Chats == nil:
		return nil, errors.New("chat store required")
	case cfg.Objects == nil:
		return nil, errors.New("object store required")
	case cfg.Sessions == nil:
		return nil, errors.New("session store required")
	case cfg.Jobs == nil:
		return nil, errors.New("job enqueuer required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &App{
		users:    cfg.Users,
		pdfs:     cfg.PDFs,
		chats:    cfg.Chats,
		objects:  cfg.Objects,
		sessions: cfg.Sessions,
		jobs:     cfg.Jobs,
		now:      now,

		checkPassword: auth.CheckPassword,
	}, nil
}
