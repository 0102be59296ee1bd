package identity

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	t.Setenv("EVIDORA_AUTH_SECRET", "test-secret")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)
	return NewService(NewMemoryStore(), opts...)
}

func TestAuthenticateAndResolve(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	cred, id, err := svc.Authenticate(ctx, "f-user", "factory", "F1")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if cred.Token == "" {
		t.Fatal("expected a token")
	}
	if time.Until(cred.ExpiresAt) <= 0 {
		t.Fatalf("expected future expiry, got %v", cred.ExpiresAt)
	}
	if id.Role != RoleFactory || id.OrganizationID != "F1" {
		t.Fatalf("unexpected identity: %+v", id)
	}

	resolved, err := svc.Resolve(ctx, cred.Token)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved != id {
		t.Fatalf("resolved identity mismatch: %+v != %+v", resolved, id)
	}
}

func TestAuthenticateFactoryRequiresOrganization(t *testing.T) {
	svc := newTestService(t)

	_, _, err := svc.Authenticate(context.Background(), "f-user", "factory", "")
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestAuthenticateBuyerDefaultsOrganization(t *testing.T) {
	svc := newTestService(t)

	_, id, err := svc.Authenticate(context.Background(), "b-user", "buyer", "")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if id.OrganizationID != "b-user" {
		t.Fatalf("expected org to default to user id, got %q", id.OrganizationID)
	}
}

func TestAuthenticateRejectsUnknownRole(t *testing.T) {
	svc := newTestService(t)

	_, _, err := svc.Authenticate(context.Background(), "someone", "admin", "")
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestResolveRejectsGarbage(t *testing.T) {
	svc := newTestService(t)

	if _, err := svc.Resolve(context.Background(), "not-a-token"); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential, got %v", err)
	}
}

func TestResolveRejectsExpiredCredential(t *testing.T) {
	current := time.Now().UTC()
	svc := newTestService(t, WithClock(func() time.Time { return current }), WithTTL(time.Hour))

	cred, _, err := svc.Authenticate(context.Background(), "f-user", "factory", "F1")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	current = current.Add(2 * time.Hour)
	if _, err := svc.Resolve(context.Background(), cred.Token); !errors.Is(err, ErrExpiredCredential) {
		t.Fatalf("expected ErrExpiredCredential, got %v", err)
	}
}

func TestResolveRejectsUnknownSession(t *testing.T) {
	t.Setenv("EVIDORA_AUTH_SECRET", "test-secret")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)

	issuing := NewService(NewMemoryStore())
	cred, _, err := issuing.Authenticate(context.Background(), "f-user", "factory", "F1")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	// A different service instance shares the signing secret but not the
	// session store, so the lookup must fail.
	other := NewService(NewMemoryStore())
	if _, err := other.Resolve(context.Background(), cred.Token); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential, got %v", err)
	}
}

func TestRevokeStopsResolution(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	cred, _, err := svc.Authenticate(ctx, "f-user", "factory", "F1")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if _, err := svc.Resolve(ctx, cred.Token); err != nil {
		t.Fatalf("Resolve before revoke: %v", err)
	}

	if err := svc.Revoke(ctx, cred.SessionID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := svc.Resolve(ctx, cred.Token); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential after revoke, got %v", err)
	}
}
