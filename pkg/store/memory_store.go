package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"pdfchat/pkg/domain"
)

// MemoryStore keeps users, documents and chat turns in-process. It is used by
// tests and single-node local runs.
type MemoryStore struct {
	mu     sync.RWMutex
	users  map[int64]domain.User
	email  map[string]int64 // email -> user ID
	uuids  map[string]int64 // uuid -> user ID
	pdfs   map[string]domain.PDFDocument
	pdfAt  map[string]time.Time // pdf ID -> last metadata write
	texts  map[string]domain.PDFText
	turns  map[int64]domain.ChatTurn
	nextID int64
	now    func() time.Time
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[int64]domain.User),
		email: make(map[string]int64),
		uuids: make(map[string]int64),
		pdfs:  make(map[string]domain.PDFDocument),
		pdfAt: make(map[string]time.Time),
		texts: make(map[string]domain.PDFText),
		turns: make(map[int64]domain.ChatTurn),
		now:   time.Now,
	}
}

// SetClock replaces the time source used for update timestamps.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryStore) newID() int64 {
	m.nextID++
	return m.nextID
}

func (m *MemoryStore) CreateUser(_ context.Context, u domain.User) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u.Email = domain.NormalizeEmail(u.Email)
	if _, exists := m.email[u.Email]; exists {
		return domain.User{}, ErrDuplicateEmail
	}
	u.ID = m.newID()
	m.users[u.ID] = u
	m.email[u.Email] = u.ID
	m.uuids[u.UUID] = u.ID
	return u, nil
}

func (m *MemoryStore) GetUserByEmail(_ context.Context, email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.email[domain.NormalizeEmail(email)]
	if !ok {
		return domain.User{}, false, nil
	}
	return m.users[id], true, nil
}

func (m *MemoryStore) GetUserByID(_ context.Context, id int64) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) GetUserByUUID(_ context.Context, id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	uid, ok := m.uuids[id]
	if !ok {
		return domain.User{}, false, nil
	}
	return m.users[uid], true, nil
}

func (m *MemoryStore) SetUserStatus(_ context.Context, email string, status domain.UserStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.email[domain.NormalizeEmail(email)]
	if !ok {
		return false, nil
	}
	u := m.users[id]
	u.Status = status
	u.UpdatedAt = m.now().UTC()
	m.users[id] = u
	return true, nil
}

func (m *MemoryStore) CreatePDF(_ context.Context, doc domain.PDFDocument) (domain.PDFDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	m.pdfs[doc.ID] = doc
	m.pdfAt[doc.ID] = m.now().UTC()
	return doc, nil
}

func (m *MemoryStore) GetPDF(_ context.Context, id string) (domain.PDFDocument, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.pdfs[id]
	return doc, ok, nil
}

func (m *MemoryStore) ListPDFs(_ context.Context, userID int64, offset, limit int) ([]domain.PDFDocument, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := make([]domain.PDFDocument, 0)
	for _, doc := range m.pdfs {
		if doc.UserID == userID {
			all = append(all, doc)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].UploadedAt.Equal(all[j].UploadedAt) {
			return all[i].UploadedAt.After(all[j].UploadedAt)
		}
		return all[i].ID > all[j].ID
	})
	return pageSlice(all, offset, limit), int64(len(all)), nil
}

func (m *MemoryStore) UpdatePDFStatus(_ context.Context, doc domain.PDFDocument, expected domain.ParseStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.pdfs[doc.ID]
	if !ok || current.ParseStatus != expected {
		return false, nil
	}
	current.ParseStatus = doc.ParseStatus
	current.ParseError = doc.ParseError
	current.SelectedForChat = doc.SelectedForChat
	current.TextID = doc.TextID
	m.pdfs[doc.ID] = current
	m.pdfAt[doc.ID] = m.now().UTC()
	return true, nil
}

func (m *MemoryStore) SelectPDF(_ context.Context, userID int64, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	target, ok := m.pdfs[id]
	if !ok || target.UserID != userID || target.ParseStatus != domain.ParseSuccess {
		return false, nil
	}
	now := m.now().UTC()
	for key, doc := range m.pdfs {
		if doc.UserID == userID && doc.SelectedForChat && key != id {
			doc.SelectedForChat = false
			m.pdfs[key] = doc
			m.pdfAt[key] = now
		}
	}
	target.SelectedForChat = true
	m.pdfs[id] = target
	m.pdfAt[id] = now
	return true, nil
}

func (m *MemoryStore) GetSelectedPDF(_ context.Context, userID int64) (domain.PDFDocument, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, doc := range m.pdfs {
		if doc.UserID == userID && doc.SelectedForChat {
			return doc, true, nil
		}
	}
	return domain.PDFDocument{}, false, nil
}

func (m *MemoryStore) SavePDFText(_ context.Context, text domain.PDFText) (domain.PDFText, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if text.ID == "" {
		text.ID = uuid.NewString()
	}
	if text.CreatedAt.IsZero() {
		text.CreatedAt = m.now().UTC()
	}
	m.texts[text.ID] = text
	return text, nil
}

func (m *MemoryStore) GetPDFText(_ context.Context, id string) (domain.PDFText, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	text, ok := m.texts[id]
	return text, ok, nil
}

// ListPDFsByStatus returns documents in status last updated before the cutoff.
func (m *MemoryStore) ListPDFsByStatus(_ context.Context, status domain.ParseStatus, before time.Time) ([]domain.PDFDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.PDFDocument, 0)
	for id, doc := range m.pdfs {
		if doc.ParseStatus == status && m.pdfAt[id].Before(before) {
			res = append(res, doc)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		a, b := m.pdfAt[res[i].ID], m.pdfAt[res[j].ID]
		if !a.Equal(b) {
			return a.Before(b)
		}
		return res[i].ID < res[j].ID
	})
	return res, nil
}

func (m *MemoryStore) CreateTurn(_ context.Context, turn domain.ChatTurn) (domain.ChatTurn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	turn.ID = m.newID()
	m.turns[turn.ID] = turn
	return turn, nil
}

func (m *MemoryStore) GetTurn(_ context.Context, id int64) (domain.ChatTurn, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	turn, ok := m.turns[id]
	return turn, ok, nil
}

func (m *MemoryStore) ListTurns(_ context.Context, userID int64, offset, limit int) ([]domain.ChatTurn, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := make([]domain.ChatTurn, 0)
	for _, turn := range m.turns {
		if turn.UserID == userID {
			all = append(all, turn)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].UserMessageAt.Equal(all[j].UserMessageAt) {
			return all[i].UserMessageAt.After(all[j].UserMessageAt)
		}
		return all[i].ID > all[j].ID
	})
	return pageSlice(all, offset, limit), int64(len(all)), nil
}

func (m *MemoryStore) UpdateTurn(_ context.Context, turn domain.ChatTurn, expected domain.ReplyStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.turns[turn.ID]
	if !ok || current.ReplyStatus != expected {
		return false, nil
	}
	current.ReplyStatus = turn.ReplyStatus
	current.Response = turn.Response
	current.RespondedAt = turn.RespondedAt
	current.RetryAttempts = turn.RetryAttempts
	m.turns[turn.ID] = current
	return true, nil
}

func (m *MemoryStore) ListUnfinishedTurns(_ context.Context, before time.Time) ([]domain.ChatTurn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.ChatTurn, 0)
	for _, turn := range m.turns {
		done, err := turn.Terminal()
		if err != nil {
			return nil, fmt.Errorf("turn %d: %w", turn.ID, err)
		}
		if !done && turn.UserMessageAt.Before(before) {
			res = append(res, turn)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func pageSlice[T any](all []T, offset, limit int) []T {
	if offset < 0 || offset >= len(all) {
		return []T{}
	}
	end := offset + limit
	if limit <= 0 || limit > len(all)-offset {
		end = len(all)
	}
	return append([]T(nil), all[offset:end]...)
}
