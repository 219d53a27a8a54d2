package store

import (
	"context"
	"errors"
	"time"

	"pdfchat/pkg/domain"
)

var (
	// ErrDuplicateEmail is returned when a user with the same email exists.
	ErrDuplicateEmail = errors.New("store: duplicate email")
	// ErrNoRowsAffected is returned when a targeted write matched nothing.
	ErrNoRowsAffected = errors.New("store: no rows affected")
)

// UserStore persists accounts.
type UserStore interface {
	CreateUser(ctx context.Context, u domain.User) (domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error)
	GetUserByID(ctx context.Context, id int64) (domain.User, bool, error)
	GetUserByUUID(ctx context.Context, uuid string) (domain.User, bool, error)
	SetUserStatus(ctx context.Context, email string, status domain.UserStatus) (bool, error)
}

// PDFStore persists PDF metadata and the extracted text records.
type PDFStore interface {
	CreatePDF(ctx context.Context, doc domain.PDFDocument) (domain.PDFDocument, error)
	GetPDF(ctx context.Context, id string) (domain.PDFDocument, bool, error)
	// ListPDFs returns one page of a user's documents, newest first, and the
	// total count.
	ListPDFs(ctx context.Context, userID int64, offset, limit int) ([]domain.PDFDocument, int64, error)
	// UpdatePDFStatus writes the lifecycle fields of doc only when the stored
	// status still equals expected. It reports whether the write happened.
	UpdatePDFStatus(ctx context.Context, doc domain.PDFDocument, expected domain.ParseStatus) (bool, error)
	// SelectPDF makes id the only selected document of the user. It reports
	// false when no parsed document with that id belongs to the user.
	SelectPDF(ctx context.Context, userID int64, id string) (bool, error)
	GetSelectedPDF(ctx context.Context, userID int64) (domain.PDFDocument, bool, error)
	SavePDFText(ctx context.Context, text domain.PDFText) (domain.PDFText, error)
	GetPDFText(ctx context.Context, id string) (domain.PDFText, bool, error)
	ListPDFsByStatus(ctx context.Context, status domain.ParseStatus, before time.Time) ([]domain.PDFDocument, error)
}

// ChatStore persists chat turns.
type ChatStore interface {
	CreateTurn(ctx context.Context, turn domain.ChatTurn) (domain.ChatTurn, error)
	GetTurn(ctx context.Context, id int64) (domain.ChatTurn, bool, error)
	// ListTurns returns one page of a user's turns ordered by message time
	// descending with id as a tie-break, and the total count.
	ListTurns(ctx context.Context, userID int64, offset, limit int) ([]domain.ChatTurn, int64, error)
	// UpdateTurn writes the reply fields only when the stored status still
	// equals expected.
	UpdateTurn(ctx context.Context, turn domain.ChatTurn, expected domain.ReplyStatus) (bool, error)
	ListUnfinishedTurns(ctx context.Context, before time.Time) ([]domain.ChatTurn, error)
}

// SessionStore issues and verifies bearer tokens.
type SessionStore interface {
	NewSession(userUUID string) (string, error)
	GetUserIDByToken(token string) (string, bool, error)
	DeleteSession(token string) error
}
