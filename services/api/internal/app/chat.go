package app

import (
	"context"
	"fmt"
	"unicode/utf8"

	"pdfchat/internal/util"
	"pdfchat/pkg/domain"
	"pdfchat/pkg/queue"
)

const (
	DefaultHistoryPageSize = 20
	maxMessageRunes        = 4000
)

// Submit records a PENDING turn against the selected document and enqueues
// the reply job.
func (a *App) Submit(ctx context.Context, user domain.User, message string) (domain.ChatTurn, error) {
	if n := utf8.RuneCountInString(message); n < 1 || n > maxMessageRunes {
		return domain.ChatTurn{}, ErrInvalidMessage
	}
	doc, ok, err := a.pdfs.GetSelectedPDF(ctx, user.ID)
	if err != nil {
		return domain.ChatTurn{}, fmt.Errorf("fetch selected pdf: %w", err)
	}
	if !ok {
		return domain.ChatTurn{}, ErrNoPDFSelected
	}
	if err := doc.CanSelect(); err != nil {
		return domain.ChatTurn{}, ErrPDFNotParsedForChat
	}
	turn, err := a.chats.CreateTurn(ctx, domain.NewChatTurn(user.ID, doc, message, a.now()))
	if err != nil {
		return domain.ChatTurn{}, fmt.Errorf("create turn: %w", err)
	}
	if turn.ID <= 0 {
		return domain.ChatTurn{}, ErrTurnNotPersisted
	}
	if _, err := a.jobs.EnqueueReply(ctx, queue.ReplyJob{TurnID: turn.ID, UserID: user.ID}); err != nil {
		failed := turn
		if markErr := failed.Fail("Reply could not be scheduled. Please resend your message.", a.now()); markErr == nil {
			if _, upErr := a.chats.UpdateTurn(ctx, failed, domain.ReplyPending); upErr != nil {
				util.LoggerFromContext(ctx).Error("record reply enqueue failure", "turn_id", turn.ID, "error", upErr)
			}
		}
		return domain.ChatTurn{}, fmt.Errorf("enqueue reply: %w", err)
	}
	return turn, nil
}

// History returns one page of the user's turns, newest first.
func (a *App) History(ctx context.Context, user domain.User, page, size int) (domain.Page[domain.ChatTurn], error) {
	req := domain.PageRequest{Page: page, Size: size}
	if err := validatePage(req); err != nil {
		return domain.Page[domain.ChatTurn]{}, err
	}
	items, total, err := a.chats.ListTurns(ctx, user.ID, req.Offset(), req.Size)
	if err != nil {
		return domain.Page[domain.ChatTurn]{}, fmt.Errorf("list turns: %w", err)
	}
	return domain.NewPage(req, total, items), nil
}
