package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alphabot-ai/scribe/internal/store"
	"github.com/alphabot-ai/scribe/internal/store/sqlite"
)

func newTestService(t *testing.T, accessTTL time.Duration) *Service {
	t.Helper()
	st, err := sqlite.Open("file:" + t.Name() + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return NewService(st, "test-secret", accessTTL, time.Hour)
}

func TestRegisterLoginAuthenticate(t *testing.T) {
	svc := newTestService(t, time.Hour)
	ctx := context.Background()

	user, err := svc.Register(ctx, "  Alice@Example.com ", "correct-horse")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.Email != "alice@example.com" {
		t.Fatalf("expected normalized email, got %q", user.Email)
	}

	if _, err := svc.Register(ctx, "alice@example.com", "another-pass"); err != store.ErrDuplicateEmail {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}

	pair, got, err := svc.Login(ctx, "ALICE@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if got.ID != user.ID || pair.TokenType != "bearer" || pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("unexpected login result: %+v %+v", pair, got)
	}

	verified, err := svc.Authenticate(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if verified.UserID != user.ID {
		t.Fatalf("expected user %d, got %d", user.ID, verified.UserID)
	}

	// a refresh token is not an access token
	if _, err := svc.Authenticate(ctx, pair.RefreshToken); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for refresh token, got %v", err)
	}

	refreshed, err := svc.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, err := svc.Authenticate(ctx, refreshed.AccessToken); err != nil {
		t.Fatalf("authenticate refreshed token: %v", err)
	}
	if _, err := svc.Refresh(ctx, pair.AccessToken); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken refreshing with access token, got %v", err)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	svc := newTestService(t, time.Hour)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "bob@example.com", "long-enough"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, _, err := svc.Login(ctx, "bob@example.com", "wrong-password"); err != ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, _, err := svc.Login(ctx, "nobody@example.com", "long-enough"); err != ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc := newTestService(t, time.Hour)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "not-an-email", "long-enough"); err == nil {
		t.Fatalf("expected invalid email error")
	}
	if _, err := svc.Register(ctx, "carol@example.com", "short"); err == nil {
		t.Fatalf("expected short password error")
	}
}

func TestTokenExpiration(t *testing.T) {
	svc := newTestService(t, -1*time.Second)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "dave@example.com", "long-enough"); err != nil {
		t.Fatalf("register: %v", err)
	}
	pair, _, err := svc.Login(ctx, "dave@example.com", "long-enough")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := svc.Authenticate(ctx, pair.AccessToken); err == nil {
		t.Fatalf("expected expired token error")
	}
}

func TestForeignSignatureRejected(t *testing.T) {
	svc := newTestService(t, time.Hour)
	other := NewService(nil, "other-secret", time.Hour, time.Hour)

	token, err := other.sign(1, tokenTypeAccess, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := svc.Authenticate(context.Background(), token); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}
