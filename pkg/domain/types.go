package domain

import (
	"fmt"
	"strings"
	"time"
)

type UserStatus string

const (
	StatusActive   UserStatus = "active"
	StatusDisabled UserStatus = "disabled"
)

// ParseStatus is the extraction lifecycle of an uploaded PDF.
type ParseStatus string

const (
	ParseUnparsed ParseStatus = "UNPARSED"
	ParseParsing  ParseStatus = "PARSING"
	ParseSuccess  ParseStatus = "PARSED_SUCCESS"
	ParseFailure  ParseStatus = "PARSED_FAILURE"
)

// ReplyStatus is the LLM reply lifecycle of a chat turn.
type ReplyStatus string

const (
	ReplyPending    ReplyStatus = "PENDING"
	ReplyProcessing ReplyStatus = "PROCESSING"
	ReplySucceeded  ReplyStatus = "COMPLETED_SUCCESS"
	ReplyFailed     ReplyStatus = "FAILED_RETRIES_EXHAUSTED"
)

type User struct {
	ID           int64      `json:"-"`
	UUID         string     `json:"user_uuid"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Status       UserStatus `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// CheckActive returns nil when the account may log in and authenticate.
func (u User) CheckActive() error {
	switch u.Status {
	case StatusActive:
		return nil
	case StatusDisabled:
		return ErrAccountDisabled
	default:
		return fmt.Errorf("%w: user status %q", ErrUnknownStatus, u.Status)
	}
}

func (u User) IsActive() bool {
	return u.CheckActive() == nil
}

// NormalizeEmail is applied before every store write or lookup by email.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type PDFDocument struct {
	ID               string      `json:"id"`
	UserID           int64       `json:"user_id"`
	BlobKey          string      `json:"-"`
	OriginalFilename string      `json:"original_filename"`
	SizeBytes        int64       `json:"size_bytes"`
	UploadedAt       time.Time   `json:"upload_date"`
	ParseStatus      ParseStatus `json:"parse_status"`
	ParseError       string      `json:"parse_error_message,omitempty"`
	SelectedForChat  bool        `json:"is_selected_for_chat"`
	TextID           string      `json:"-"`
}

// MarkParsing moves the document into PARSING. Documents that are already
// being parsed or have parsed successfully are rejected.
func (d *PDFDocument) MarkParsing() error {
	switch d.ParseStatus {
	case ParseUnparsed, ParseFailure:
		d.ParseStatus = ParseParsing
		d.ParseError = ""
		return nil
	case ParseParsing, ParseSuccess:
		return ErrAlreadyParsing
	default:
		return unknownParseStatus(d.ParseStatus)
	}
}

// MarkParsed records a successful extraction.
func (d *PDFDocument) MarkParsed(textID string) error {
	switch d.ParseStatus {
	case ParseParsing:
		d.ParseStatus = ParseSuccess
		d.ParseError = ""
		d.TextID = textID
		return nil
	case ParseUnparsed, ParseSuccess, ParseFailure:
		return fmt.Errorf("%w: cannot mark %s document as parsed", ErrInvalidTransition, d.ParseStatus)
	default:
		return unknownParseStatus(d.ParseStatus)
	}
}

// MarkParseFailed records a failed extraction. It is accepted from any
// non-terminal state so that enqueue failures can also be recorded.
func (d *PDFDocument) MarkParseFailed(msg string) error {
	switch d.ParseStatus {
	case ParseUnparsed, ParseParsing:
		d.ParseStatus = ParseFailure
		d.ParseError = msg
		d.SelectedForChat = false
		return nil
	case ParseSuccess, ParseFailure:
		return fmt.Errorf("%w: cannot fail %s document", ErrInvalidTransition, d.ParseStatus)
	default:
		return unknownParseStatus(d.ParseStatus)
	}
}

// CanSelect reports whether the document may be selected for chat.
func (d PDFDocument) CanSelect() error {
	switch d.ParseStatus {
	case ParseSuccess:
		return nil
	case ParseUnparsed, ParseParsing, ParseFailure:
		return ErrNotParsed
	default:
		return unknownParseStatus(d.ParseStatus)
	}
}

func unknownParseStatus(s ParseStatus) error {
	return fmt.Errorf("%w: parse status %q", ErrUnknownStatus, s)
}

type PDFText struct {
	ID          string    `json:"id"`
	PDFID       string    `json:"pdf_id"`
	Content     string    `json:"text_content"`
	PageCount   int       `json:"page_count"`
	FailedPages []int     `json:"failed_pages,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type ChatTurn struct {
	ID            int64       `json:"id"`
	UserID        int64       `json:"-"`
	PDFID         string      `json:"pdf_id"`
	PDFFilename   string      `json:"pdf_filename"`
	UserMessage   string      `json:"user_message"`
	UserMessageAt time.Time   `json:"user_timestamp"`
	Response      string      `json:"llm_response,omitempty"`
	ReplyStatus   ReplyStatus `json:"llm_status"`
	RespondedAt   *time.Time  `json:"llm_timestamp,omitempty"`
	RetryAttempts int         `json:"retry_attempts"`
}

// NewChatTurn builds a PENDING turn bound to the given parsed document.
func NewChatTurn(userID int64, doc PDFDocument, message string, now time.Time) ChatTurn {
	return ChatTurn{
		UserID:        userID,
		PDFID:         doc.ID,
		PDFFilename:   doc.OriginalFilename,
		UserMessage:   message,
		UserMessageAt: now.UTC(),
		ReplyStatus:   ReplyPending,
	}
}

// Terminal reports whether the turn has reached a final state.
func (t ChatTurn) Terminal() (bool, error) {
	switch t.ReplyStatus {
	case ReplySucceeded, ReplyFailed:
		return true, nil
	case ReplyPending, ReplyProcessing:
		return false, nil
	default:
		return false, unknownReplyStatus(t.ReplyStatus)
	}
}

// MarkProcessing claims a PENDING turn for a worker.
func (t *ChatTurn) MarkProcessing() error {
	switch t.ReplyStatus {
	case ReplyPending:
		t.ReplyStatus = ReplyProcessing
		return nil
	case ReplyProcessing, ReplySucceeded, ReplyFailed:
		return fmt.Errorf("%w: cannot process %s turn", ErrInvalidTransition, t.ReplyStatus)
	default:
		return unknownReplyStatus(t.ReplyStatus)
	}
}

// Complete stores a successful reply.
func (t *ChatTurn) Complete(response string, now time.Time) error {
	switch t.ReplyStatus {
	case ReplyProcessing:
		ts := now.UTC()
		t.ReplyStatus = ReplySucceeded
		t.Response = response
		t.RespondedAt = &ts
		return nil
	case ReplyPending, ReplySucceeded, ReplyFailed:
		return fmt.Errorf("%w: cannot complete %s turn", ErrInvalidTransition, t.ReplyStatus)
	default:
		return unknownReplyStatus(t.ReplyStatus)
	}
}

// Fail records a terminal failure. The message is stored as the response so
// clients can display it.
func (t *ChatTurn) Fail(msg string, now time.Time) error {
	switch t.ReplyStatus {
	case ReplyPending, ReplyProcessing:
		ts := now.UTC()
		t.ReplyStatus = ReplyFailed
		t.Response = msg
		t.RespondedAt = &ts
		return nil
	case ReplySucceeded, ReplyFailed:
		return fmt.Errorf("%w: cannot fail %s turn", ErrInvalidTransition, t.ReplyStatus)
	default:
		return unknownReplyStatus(t.ReplyStatus)
	}
}

func unknownReplyStatus(s ReplyStatus) error {
	return fmt.Errorf("%w: reply status %q", ErrUnknownStatus, s)
}
