package store

import (
	"errors"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newHSStore(t *testing.T, revoker TokenRevoker, opts JWTOptions) *JWTSessionStore {
	t.Helper()
	s, err := NewJWTHS256SessionStore(testSecret, time.Minute, revoker, opts)
	if err != nil {
		t.Fatalf("new hs256 store: %v", err)
	}
	return s
}

func TestJWTSessionStoreRoundTrip(t *testing.T) {
	s := newHSStore(t, nil, JWTOptions{})
	token, err := s.NewSession("5f1c5a4e-2b8e-4f5e-9d41-3c1c2b7f0a11")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	subject, ok, err := s.GetUserIDByToken(token)
	if err != nil || !ok {
		t.Fatalf("verify token: ok=%v err=%v", ok, err)
	}
	if subject != "5f1c5a4e-2b8e-4f5e-9d41-3c1c2b7f0a11" {
		t.Fatalf("unexpected subject %q", subject)
	}
}

func TestNewJWTHS256SessionStoreRejectsShortSecret(t *testing.T) {
	if _, err := NewJWTHS256SessionStore("short", time.Minute, nil, JWTOptions{}); err == nil {
		t.Fatalf("expected short secret to be rejected")
	}
	if _, err := NewJWTHS256SessionStore(testSecret, 0, nil, JWTOptions{}); err == nil {
		t.Fatalf("expected zero ttl to be rejected")
	}
}

func TestJWTSessionStoreEnforcesAudience(t *testing.T) {
	signing := newHSStore(t, nil, JWTOptions{Issuer: "issuer-a", Audience: "aud-a", Leeway: time.Second})
	verify := newHSStore(t, nil, JWTOptions{Issuer: "issuer-a", Audience: "aud-b", Leeway: time.Second})

	token, err := signing.NewSession("user-claim")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if _, _, err := verify.GetUserIDByToken(token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected audience mismatch to fail, got %v", err)
	}
}

func TestJWTSessionStoreRejectsWrongSecret(t *testing.T) {
	signing := newHSStore(t, nil, JWTOptions{})
	other, err := NewJWTHS256SessionStore(strings.Repeat("z", 40), time.Minute, nil, JWTOptions{})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	token, err := signing.NewSession("user-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if _, ok, err := other.GetUserIDByToken(token); err == nil || ok {
		t.Fatalf("expected signature mismatch to fail")
	}
}

func TestJWTSessionStoreRejectsExpired(t *testing.T) {
	s := newHSStore(t, nil, JWTOptions{Leeway: time.Second})
	s.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, err := s.NewSession("user-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	s.now = time.Now
	if _, ok, err := s.GetUserIDByToken(token); !errors.Is(err, ErrTokenInvalid) || ok {
		t.Fatalf("expected expired token to fail, ok=%v err=%v", ok, err)
	}
}

func TestJWTSessionStoreRejectsOtherAlgorithms(t *testing.T) {
	s := newHSStore(t, nil, JWTOptions{})
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   "user-1",
		Issuer:    defaultJWTIssuer,
		Audience:  jwt.ClaimStrings{defaultJWTAudience},
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		IssuedAt:  jwt.NewNumericDate(now),
		ID:        "jti-1",
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, _, err := s.GetUserIDByToken(token); err == nil {
		t.Fatalf("expected HS512 token to be rejected")
	}
}

func TestJWTSessionStoreRequiresJTIClaim(t *testing.T) {
	s := newHSStore(t, nil, JWTOptions{})
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   "user-1",
		Issuer:    defaultJWTIssuer,
		Audience:  jwt.ClaimStrings{defaultJWTAudience},
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		IssuedAt:  jwt.NewNumericDate(now),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, _, err := s.GetUserIDByToken(token); err == nil {
		t.Fatalf("expected missing jti to fail")
	}
}

func TestJWTSessionStoreRevokesByJTI(t *testing.T) {
	revoker := NewMemoryTokenRevoker()
	s := newHSStore(t, revoker, JWTOptions{})

	token, err := s.NewSession("user-revoke")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := s.DeleteSession(token); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if _, ok, err := s.GetUserIDByToken(token); !errors.Is(err, ErrTokenRevoked) || ok {
		t.Fatalf("expected revoked token to fail, ok=%v err=%v", ok, err)
	}
}

func TestJWTSessionStoreRevokesByUserCutoff(t *testing.T) {
	revoker := NewMemoryTokenRevoker()
	s := newHSStore(t, revoker, JWTOptions{})

	token, err := s.NewSession("user-cutoff")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := s.RevokeUserSessions("user-cutoff", time.Now().UTC()); err != nil {
		t.Fatalf("revoke user: %v", err)
	}
	if _, ok, err := s.GetUserIDByToken(token); err == nil || ok {
		t.Fatalf("expected user-revoked token to fail, ok=%v err=%v", ok, err)
	}
}
