package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/soleforge/soleforge-backend/internal/data/repos/testutil"
	"github.com/soleforge/soleforge-backend/internal/platform/apierr"
)

func newTestAuth(t *testing.T, env *testEnv) AuthService {
	t.Helper()
	t.Setenv("JWT_SECRET", "test-secret-key")
	auth, err := NewAuthService(env.tx, testutil.Logger(t), env.repos.Users, env.repos.UserTokens)
	if err != nil {
		t.Fatalf("NewAuthService: %v", err)
	}
	return auth
}

func TestRegisterLoginVerifyRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	auth := newTestAuth(t, env)
	ctx := context.Background()

	user, err := auth.Register(ctx, RegisterInput{
		Email:     "Maker@Example.com",
		Password:  "long-enough-pw",
		FirstName: "Sam",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if user.Email != "maker@example.com" {
		t.Fatalf("email not normalized: %q", user.Email)
	}
	if user.Password == "long-enough-pw" {
		t.Fatal("password stored in the clear")
	}

	if _, err := auth.Register(ctx, RegisterInput{Email: "maker@example.com", Password: "long-enough-pw"}); !errors.Is(err, apierr.ErrValidation) {
		t.Fatalf("duplicate email: err = %v, want ErrValidation", err)
	}

	logged, pair, err := auth.Login(ctx, "maker@example.com", "long-enough-pw")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if logged.ID != user.ID {
		t.Fatalf("login returned user %s, want %s", logged.ID, user.ID)
	}

	var id uuid.UUID
	if id, err = auth.VerifyAccessToken(pair.AccessToken); err != nil {
		t.Fatalf("VerifyAccessToken: %v", err)
	}
	if id != user.ID {
		t.Fatalf("token user = %s, want %s", id, user.ID)
	}

	if _, _, err := auth.Login(ctx, "maker@example.com", "wrong-password"); !errors.Is(err, apierr.ErrValidation) {
		t.Fatalf("bad password: err = %v, want ErrValidation", err)
	}
	if _, err := auth.VerifyAccessToken("not-a-jwt"); err == nil {
		t.Fatal("garbage token verified")
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	env := newTestEnv(t)
	auth := newTestAuth(t, env)
	ctx := context.Background()

	if _, err := auth.Register(ctx, RegisterInput{Email: "rotate@example.com", Password: "long-enough-pw"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	_, pair, err := auth.Login(ctx, "rotate@example.com", "long-enough-pw")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	next, err := auth.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if next.RefreshToken == pair.RefreshToken {
		t.Fatal("refresh token was not rotated")
	}

	// The consumed token is gone.
	if _, err := auth.Refresh(ctx, pair.RefreshToken); !errors.Is(err, apierr.ErrValidation) {
		t.Fatalf("replayed refresh: err = %v, want ErrValidation", err)
	}

	if err := auth.Logout(ctx, next.RefreshToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := auth.Refresh(ctx, next.RefreshToken); !errors.Is(err, apierr.ErrValidation) {
		t.Fatalf("refresh after logout: err = %v, want ErrValidation", err)
	}
}
