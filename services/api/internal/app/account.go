package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"pdfchat/internal/util"
	"pdfchat/pkg/auth"
	"pdfchat/pkg/domain"
	"pdfchat/pkg/store"
)

// dummyPasswordHash is compared against when the email is unknown so every
// failed login pays one bcrypt comparison at the default cost.
var dummyPasswordHash = sync.OnceValue(func() string {
	hash, err := auth.HashPassword("pdfchat-unknown-account")
	if err != nil {
		panic(fmt.Sprintf("hash dummy password: %v", err))
	}
	return hash
})

// Register creates an active account. Emails are compared case-insensitively.
func (a *App) Register(ctx context.Context, email, password string) (domain.User, error) {
	email = domain.NormalizeEmail(email)
	if email == "" || password == "" {
		return domain.User{}, ErrEmailAndPasswordRequired
	}
	if err := auth.ValidatePassword(password); err != nil {
		return domain.User{}, err
	}
	_, exists, err := a.users.GetUserByEmail(ctx, email)
	if err != nil {
		return domain.User{}, fmt.Errorf("check email: %w", err)
	}
	if exists {
		return domain.User{}, ErrUserAlreadyExists
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	now := a.now().UTC()
	user, err := a.users.CreateUser(ctx, domain.User{
		UUID:         uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		Status:       domain.StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return domain.User{}, ErrUserAlreadyExists
		}
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// Login verifies credentials and issues an access token.
func (a *App) Login(ctx context.Context, email, password string) (string, domain.User, error) {
	email = domain.NormalizeEmail(email)
	user, ok, err := a.users.GetUserByEmail(ctx, email)
	if err != nil {
		return "", domain.User{}, fmt.Errorf("fetch user: %w", err)
	}
	known := ok && user.PasswordHash != ""
	hash := user.PasswordHash
	if !known {
		hash = dummyPasswordHash()
	}
	// The password is always checked first; disabled accounts fail after it.
	matched := a.checkPassword(password, hash)
	if !known || !matched {
		return "", domain.User{}, ErrInvalidCredentials
	}
	if err := user.CheckActive(); err != nil {
		logInactive(ctx, user, err)
		return "", domain.User{}, ErrInvalidCredentials
	}
	token, err := a.sessions.NewSession(user.UUID)
	if err != nil {
		return "", domain.User{}, fmt.Errorf("issue token: %w", err)
	}
	return token, user, nil
}

// Authenticate resolves a bearer token to its active user.
func (a *App) Authenticate(ctx context.Context, token string) (domain.User, bool) {
	subject, ok, err := a.sessions.GetUserIDByToken(token)
	if err != nil || !ok {
		return domain.User{}, false
	}
	return a.ResolveUser(ctx, subject)
}

// ResolveUser returns the active user for a UUID. Malformed, unknown and
// disabled subjects all report false.
func (a *App) ResolveUser(ctx context.Context, userUUID string) (domain.User, bool) {
	if _, err := uuid.Parse(strings.TrimSpace(userUUID)); err != nil {
		return domain.User{}, false
	}
	user, ok, err := a.users.GetUserByUUID(ctx, userUUID)
	if err != nil || !ok {
		return domain.User{}, false
	}
	if err := user.CheckActive(); err != nil {
		logInactive(ctx, user, err)
		return domain.User{}, false
	}
	return user, true
}

func logInactive(ctx context.Context, user domain.User, err error) {
	if errors.Is(err, domain.ErrUnknownStatus) {
		util.LoggerFromContext(ctx).Error("user has unknown status", "user_uuid", user.UUID, "error", err)
	}
}

// Logout revokes the presented token until it would have expired.
func (a *App) Logout(_ context.Context, token string) error {
	if err := a.sessions.DeleteSession(token); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}
