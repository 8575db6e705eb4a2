package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	s, err := store.NewSQLite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	cfg := config.AuthConfig{
		JWTSecret:   "test-secret-for-auth-tests-0123456789",
		JWTExpiry:   config.Duration{Duration: time.Hour},
		AllowGuests: true,
	}
	return NewService(s, cfg)
}

func TestGuest_RoundTrip(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	id, token, err := svc.Guest(ctx, "  alice ")
	if err != nil {
		t.Fatal(err)
	}
	if id.DisplayName != "alice" {
		t.Errorf("display name = %q, want alice (trimmed)", id.DisplayName)
	}

	got, err := svc.ValidateToken(ctx, token)
	if err != nil {
		t.Fatal(err)
	}
	if got.UserID != id.UserID || got.DisplayName != "alice" {
		t.Errorf("token identity %+v does not match issued %+v", got, id)
	}
}

func TestGuest_SameNameSameIdentity(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	first, _, err := svc.Guest(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	second, _, err := svc.Guest(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if first.UserID != second.UserID {
		t.Errorf("same name produced different identities: %s != %s", first.UserID, second.UserID)
	}
}

func TestGuest_InvalidName(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for _, name := range []string{"", "   ", strings.Repeat("x", 64), "bad\x00name"} {
		if _, _, err := svc.Guest(ctx, name); err != ErrInvalidName {
			t.Errorf("Guest(%q) err = %v, want ErrInvalidName", name, err)
		}
	}
}

func TestGuest_RegisteredNameRejected(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "carol", "supersecret"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := svc.Guest(ctx, "carol"); err != ErrNameTaken {
		t.Errorf("expected ErrNameTaken, got %v", err)
	}
}

func TestRegisterAndLogin(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "dave", "supersecret")
	if err != nil {
		t.Fatal(err)
	}

	id, token, err := svc.Login(ctx, "dave", "supersecret")
	if err != nil {
		t.Fatal(err)
	}
	if id.UserID != user.ID {
		t.Errorf("login identity %s, want %s", id.UserID, user.ID)
	}
	if _, err := svc.ValidateToken(ctx, token); err != nil {
		t.Errorf("issued token did not validate: %v", err)
	}

	if _, _, err := svc.Login(ctx, "dave", "wrong-password"); err != ErrInvalidCredentials {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, _, err := svc.Login(ctx, "nobody", "supersecret"); err != ErrInvalidCredentials {
		t.Errorf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}
}

func TestRegister_Duplicate(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "erin", "supersecret"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Register(ctx, "erin", "othersecret"); err != ErrUserExists {
		t.Errorf("expected ErrUserExists, got %v", err)
	}
}

func TestRename(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	a, _, err := svc.Guest(ctx, "frank")
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := svc.Guest(ctx, "grace"); err != nil {
		t.Fatal(err)
	}

	name, err := svc.Rename(ctx, a.UserID, " heidi ")
	if err != nil {
		t.Fatal(err)
	}
	if name != "heidi" {
		t.Errorf("renamed to %q, want heidi", name)
	}

	if _, err := svc.Rename(ctx, a.UserID, "grace"); err != ErrNameTaken {
		t.Errorf("expected ErrNameTaken, got %v", err)
	}
}

func TestValidateToken_Garbage(t *testing.T) {
	svc := newTestService(t)

	if _, err := svc.ValidateToken(context.Background(), "not-a-token"); err != ErrUnauthorized {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}
