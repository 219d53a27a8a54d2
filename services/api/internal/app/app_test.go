package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"pdfchat/pkg/auth"
	"pdfchat/pkg/domain"
	"pdfchat/pkg/queue"
	"pdfchat/pkg/storage"
	"pdfchat/pkg/store"
)

type fakeJobs struct {
	mu       sync.Mutex
	parse    []queue.ParseJob
	reply    []queue.ReplyJob
	parseErr error
	replyErr error
}

func (f *fakeJobs) EnqueueParse(_ context.Context, job queue.ParseJob) (queue.JobStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.parseErr != nil {
		return queue.JobStatus{}, f.parseErr
	}
	f.parse = append(f.parse, job)
	return queue.JobStatus{ID: fmt.Sprintf("parse-%d", len(f.parse)), TargetID: job.PDFID}, nil
}

func (f *fakeJobs) EnqueueReply(_ context.Context, job queue.ReplyJob) (queue.JobStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replyErr != nil {
		return queue.JobStatus{}, f.replyErr
	}
	f.reply = append(f.reply, job)
	return queue.JobStatus{ID: fmt.Sprintf("reply-%d", len(f.reply))}, nil
}

type fixture struct {
	app     *App
	mem     *store.MemoryStore
	objects *storage.FileStore
	jobs    *fakeJobs
	clock   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	objects, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	sessions, err := store.NewJWTHS256SessionStore(
		"0123456789abcdef0123456789abcdef",
		30*time.Minute,
		store.NewMemoryTokenRevoker(),
		store.JWTOptions{},
	)
	require.NoError(t, err)
	f := &fixture{
		mem:     store.NewMemoryStore(),
		objects: objects,
		jobs:    &fakeJobs{},
		clock:   time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.app, err = New(Config{
		Users:    f.mem,
		PDFs:     f.mem,
		Chats:    f.mem,
		Objects:  objects,
		Sessions: sessions,
		Jobs:     f.jobs,
		Now: func() time.Time {
			f.clock = f.clock.Add(time.Second)
			return f.clock
		},
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) register(t *testing.T, email string) domain.User {
	t.Helper()
	u, err := f.app.Register(context.Background(), email, "correct-horse")
	require.NoError(t, err)
	return u
}

func (f *fixture) parsedPDF(t *testing.T, user domain.User, name string) domain.PDFDocument {
	t.Helper()
	doc, err := f.mem.CreatePDF(context.Background(), domain.PDFDocument{
		UserID:           user.ID,
		OriginalFilename: name,
		UploadedAt:       f.clock,
		ParseStatus:      domain.ParseSuccess,
	})
	require.NoError(t, err)
	return doc
}

func TestRegisterRejectsCaseInsensitiveDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u, err := f.app.Register(ctx, "A@x.com", "correct-horse")
	require.NoError(t, err)
	require.Equal(t, "a@x.com", u.Email)
	require.NotEmpty(t, u.UUID)

	_, err = f.app.Register(ctx, "a@x.com", "another-pass")
	require.ErrorIs(t, err, ErrUserAlreadyExists)
}

func TestRegisterValidatesInput(t *testing.T) {
	f := newFixture(t)
	_, err := f.app.Register(context.Background(), "", "correct-horse")
	require.ErrorIs(t, err, ErrEmailAndPasswordRequired)
	_, err = f.app.Register(context.Background(), "short@x.com", "short")
	require.Error(t, err)
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "alice@example.com")
	f.register(t, "bob@example.com")
	ok, err := f.mem.SetUserStatus(ctx, "bob@example.com", domain.StatusDisabled)
	require.NoError(t, err)
	require.True(t, ok)

	var compared []string
	f.app.checkPassword = func(password, hash string) bool {
		compared = append(compared, hash)
		return auth.CheckPassword(password, hash)
	}
	attempts := []struct {
		name     string
		email    string
		password string
	}{
		{"wrong password", "alice@example.com", "wrong-password"},
		{"unknown email", "nobody@example.com", "correct-horse"},
		{"disabled with correct password", "bob@example.com", "correct-horse"},
		{"disabled with wrong password", "bob@example.com", "wrong-password"},
	}
	for _, tc := range attempts {
		compared = nil
		_, _, err := f.app.Login(ctx, tc.email, tc.password)
		require.ErrorIs(t, err, ErrInvalidCredentials, tc.name)
		require.Equal(t, ErrInvalidCredentials.Error(), err.Error(), tc.name)
		require.Len(t, compared, 1, "%s: every failure pays exactly one bcrypt comparison", tc.name)
		cost, err := bcrypt.Cost([]byte(compared[0]))
		require.NoError(t, err, tc.name)
		require.Equal(t, bcrypt.DefaultCost, cost, tc.name)
	}
	f.app.checkPassword = auth.CheckPassword

	token, user, err := f.app.Login(ctx, "ALICE@example.com", "correct-horse")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	resolved, ok := f.app.Authenticate(ctx, token)
	require.True(t, ok)
	require.Equal(t, user.UUID, resolved.UUID)
}

func TestAuthenticateRejectsDisabledAndLoggedOutUsers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "carol@example.com")
	token, _, err := f.app.Login(ctx, "carol@example.com", "correct-horse")
	require.NoError(t, err)

	require.NoError(t, f.app.Logout(ctx, token))
	_, ok := f.app.Authenticate(ctx, token)
	require.False(t, ok)

	token, _, err = f.app.Login(ctx, "carol@example.com", "correct-horse")
	require.NoError(t, err)
	_, err = f.mem.SetUserStatus(ctx, "carol@example.com", domain.StatusDisabled)
	require.NoError(t, err)
	_, ok = f.app.Authenticate(ctx, token)
	require.False(t, ok)

	_, ok = f.app.ResolveUser(ctx, "not-a-uuid")
	require.False(t, ok)
}

func TestUploadCreatesUnparsedUnselectedDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.register(t, "dave@example.com")

	body := []byte("%PDF-1.4 fake")
	doc, err := f.app.Upload(ctx, user, "../report.pdf", "application/pdf", bytes.NewReader(body), int64(len(body)))
	require.NoError(t, err)
	require.Equal(t, domain.ParseUnparsed, doc.ParseStatus)
	require.False(t, doc.SelectedForChat)
	require.Equal(t, "report.pdf", doc.OriginalFilename)
	require.NotEmpty(t, doc.BlobKey)

	rc, err := f.objects.Get(ctx, doc.BlobKey)
	require.NoError(t, err)
	defer rc.Close()
	got := new(bytes.Buffer)
	_, err = got.ReadFrom(rc)
	require.NoError(t, err)
	require.Equal(t, body, got.Bytes())
}

func TestUploadRejectsNonPDF(t *testing.T) {
	f := newFixture(t)
	user := f.register(t, "erin@example.com")
	_, err := f.app.Upload(context.Background(), user, "notes.txt", "text/plain", bytes.NewReader([]byte("x")), 1)
	require.ErrorIs(t, err, ErrInvalidPDFFileType)
}

func TestListPaginatesNewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.register(t, "frank@example.com")
	for i := 0; i < 25; i++ {
		_, err := f.app.Upload(ctx, user, fmt.Sprintf("doc-%02d.pdf", i), "application/pdf", bytes.NewReader([]byte("x")), 1)
		require.NoError(t, err)
	}

	var prev time.Time
	for page, want := range []int{10, 10, 5, 0} {
		res, err := f.app.List(ctx, user, page+1, 10)
		require.NoError(t, err)
		require.EqualValues(t, 25, res.TotalItems)
		require.EqualValues(t, 3, res.TotalPages)
		require.Len(t, res.Data, want)
		for _, doc := range res.Data {
			if !prev.IsZero() {
				require.True(t, doc.UploadedAt.Before(prev), "expected strictly descending upload dates")
			}
			prev = doc.UploadedAt
		}
	}

	far, err := f.app.List(ctx, user, 1<<62, 4)
	require.NoError(t, err)
	require.Empty(t, far.Data)
	require.EqualValues(t, 25, far.TotalItems)
	require.Equal(t, 1<<62, far.CurrentPage)

	_, err = f.app.List(ctx, user, 0, 10)
	require.ErrorIs(t, err, domain.ErrInvalidPage)
	_, err = f.app.List(ctx, user, 1, MaxPageSize+1)
	require.ErrorIs(t, err, domain.ErrInvalidPage)
}

func TestRequestParsingTransitionsAndEnqueues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.register(t, "gina@example.com")
	other := f.register(t, "hank@example.com")
	doc, err := f.app.Upload(ctx, user, "a.pdf", "application/pdf", bytes.NewReader([]byte("x")), 1)
	require.NoError(t, err)

	_, err = f.app.RequestParsing(ctx, other, doc.ID)
	require.ErrorIs(t, err, ErrPDFNotFound)

	parsing, err := f.app.RequestParsing(ctx, user, doc.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ParseParsing, parsing.ParseStatus)
	require.Equal(t, []queue.ParseJob{{PDFID: doc.ID, UserID: user.ID}}, f.jobs.parse)

	_, err = f.app.RequestParsing(ctx, user, doc.ID)
	require.ErrorIs(t, err, ErrPDFAlreadyParsing)
}

func TestRequestParsingEnqueueFailureMarksFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.register(t, "ivy@example.com")
	doc, err := f.app.Upload(ctx, user, "a.pdf", "application/pdf", bytes.NewReader([]byte("x")), 1)
	require.NoError(t, err)

	f.jobs.parseErr = errors.New("redis down")
	_, err = f.app.RequestParsing(ctx, user, doc.ID)
	require.Error(t, err)

	stored, ok, err := f.mem.GetPDF(ctx, doc.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, domain.ParseFailure, stored.ParseStatus)
	require.NotEmpty(t, stored.ParseError)

	f.jobs.parseErr = nil
	_, err = f.app.RequestParsing(ctx, user, doc.ID)
	require.NoError(t, err, "a failed document can be parsed again")
}

func TestSelectForChatRequiresParsedAndIsExclusive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.register(t, "jack@example.com")
	unparsed, err := f.app.Upload(ctx, user, "raw.pdf", "application/pdf", bytes.NewReader([]byte("x")), 1)
	require.NoError(t, err)
	a := f.parsedPDF(t, user, "a.pdf")
	b := f.parsedPDF(t, user, "b.pdf")

	_, err = f.app.SelectForChat(ctx, user, unparsed.ID)
	require.ErrorIs(t, err, ErrPDFNotParsed)
	_, err = f.app.SelectForChat(ctx, user, "missing")
	require.ErrorIs(t, err, ErrPDFNotFound)

	for _, id := range []string{a.ID, b.ID, b.ID} {
		doc, err := f.app.SelectForChat(ctx, user, id)
		require.NoError(t, err)
		require.True(t, doc.SelectedForChat)
	}
	page, err := f.app.List(ctx, user, 1, 10)
	require.NoError(t, err)
	selected := 0
	for _, doc := range page.Data {
		if doc.SelectedForChat {
			selected++
			require.Equal(t, b.ID, doc.ID)
		}
	}
	require.Equal(t, 1, selected)
}

func TestSubmitWithoutSelectionCreatesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.register(t, "kate@example.com")
	f.parsedPDF(t, user, "a.pdf")

	_, err := f.app.Submit(ctx, user, "What is this about?")
	require.ErrorIs(t, err, ErrNoPDFSelected)

	history, err := f.app.History(ctx, user, 1, DefaultHistoryPageSize)
	require.NoError(t, err)
	require.Zero(t, history.TotalItems)
	require.Empty(t, f.jobs.reply)
}

func TestSubmitCreatesPendingTurnAndEnqueues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.register(t, "liam@example.com")
	doc := f.parsedPDF(t, user, "manual.pdf")
	_, err := f.app.SelectForChat(ctx, user, doc.ID)
	require.NoError(t, err)

	turn, err := f.app.Submit(ctx, user, "Summarize chapter one")
	require.NoError(t, err)
	require.Equal(t, domain.ReplyPending, turn.ReplyStatus)
	require.Empty(t, turn.Response)
	require.Equal(t, doc.ID, turn.PDFID)
	require.Equal(t, "manual.pdf", turn.PDFFilename)
	require.Equal(t, []queue.ReplyJob{{TurnID: turn.ID, UserID: user.ID}}, f.jobs.reply)

	_, err = f.app.Submit(ctx, user, "")
	require.ErrorIs(t, err, ErrInvalidMessage)
	_, err = f.app.Submit(ctx, user, strings.Repeat("é", maxMessageRunes+1))
	require.ErrorIs(t, err, ErrInvalidMessage)

	blank, err := f.app.Submit(ctx, user, "   ")
	require.NoError(t, err, "any 1 to 4000 characters are accepted")
	require.Equal(t, "   ", blank.UserMessage)
	_, err = f.app.Submit(ctx, user, strings.Repeat("é", maxMessageRunes))
	require.NoError(t, err)
}

func TestSubmitEnqueueFailureFailsTurn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.register(t, "mia@example.com")
	doc := f.parsedPDF(t, user, "manual.pdf")
	_, err := f.app.SelectForChat(ctx, user, doc.ID)
	require.NoError(t, err)

	f.jobs.replyErr = errors.New("redis down")
	_, err = f.app.Submit(ctx, user, "hello")
	require.Error(t, err)

	history, err := f.app.History(ctx, user, 1, 20)
	require.NoError(t, err)
	require.Len(t, history.Data, 1)
	require.Equal(t, domain.ReplyFailed, history.Data[0].ReplyStatus)
	require.NotEmpty(t, history.Data[0].Response)
}

func TestHistoryOrdersNewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.register(t, "noah@example.com")
	doc := f.parsedPDF(t, user, "manual.pdf")
	_, err := f.app.SelectForChat(ctx, user, doc.ID)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := f.app.Submit(ctx, user, fmt.Sprintf("question %d", i))
		require.NoError(t, err)
	}

	history, err := f.app.History(ctx, user, 1, 2)
	require.NoError(t, err)
	require.EqualValues(t, 3, history.TotalItems)
	require.EqualValues(t, 2, history.TotalPages)
	require.Len(t, history.Data, 2)
	require.Equal(t, "question 2", history.Data[0].UserMessage)
	require.Equal(t, "question 1", history.Data[1].UserMessage)

	far, err := f.app.History(ctx, user, 1<<62, 4)
	require.NoError(t, err)
	require.Empty(t, far.Data)
	require.EqualValues(t, 3, far.TotalItems)
}

// racingPDFs loses every selection write, as when the document changes
// between the ownership check and the update.
type racingPDFs struct {
	*store.MemoryStore
}

func (racingPDFs) SelectPDF(context.Context, int64, string) (bool, error) {
	return false, nil
}

func TestSelectForChatReportsLostSelection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.register(t, "olga@example.com")
	doc := f.parsedPDF(t, user, "manual.pdf")
	f.app.pdfs = racingPDFs{f.mem}

	_, err := f.app.SelectForChat(ctx, user, doc.ID)
	require.ErrorIs(t, err, ErrSelectionFailed)

	stored, ok, err := f.mem.GetPDF(ctx, doc.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, stored.SelectedForChat)
}
