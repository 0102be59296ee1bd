package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const defaultCredentialTTL = 24 * time.Hour

// Credential is an issued bearer value with its validity window.
type Credential struct {
	Token     string    `json:"token"`
	SessionID string    `json:"-"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Service issues credentials and resolves bearer values to identities.
type Service struct {
	sessions SessionStore
	now      func() time.Time
	ttl      time.Duration
}

// Option configures Service behavior.
type Option func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithTTL overrides the credential validity window.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// NewService constructs a Service backed by the given session store.
func NewService(store SessionStore, opts ...Option) *Service {
	svc := &Service{
		sessions: store,
		now:      time.Now,
		ttl:      defaultCredentialTTL,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Authenticate issues a credential for the given user. A factory must
// name its organization; a buyer may omit it, in which case the user ID
// doubles as the requesting organization.
func (s *Service) Authenticate(ctx context.Context, userID, rawRole, orgID string) (Credential, Identity, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Credential{}, Identity{}, fmt.Errorf("%w: userId is required", ErrInvalidInput)
	}
	role, err := ParseRole(rawRole)
	if err != nil {
		return Credential{}, Identity{}, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, rawRole)
	}
	orgID = strings.TrimSpace(orgID)
	if role == RoleFactory && orgID == "" {
		return Credential{}, Identity{}, fmt.Errorf("%w: factory role requires organizationId", ErrInvalidInput)
	}
	if role == RoleBuyer && orgID == "" {
		orgID = userID
	}

	now := s.now().UTC()
	session := Session{
		ID:             uuid.NewString(),
		UserID:         userID,
		Role:           role,
		OrganizationID: orgID,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.ttl),
	}
	token, err := signCredential(session)
	if err != nil {
		return Credential{}, Identity{}, err
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return Credential{}, Identity{}, fmt.Errorf("create session: %w", err)
	}
	cred := Credential{Token: token, SessionID: session.ID, ExpiresAt: session.ExpiresAt}
	id := Identity{UserID: userID, Role: role, OrganizationID: orgID}
	return cred, id, nil
}

// Resolve validates a bearer value and returns the identity it was
// issued for. The session record is authoritative for expiry.
func (s *Service) Resolve(ctx context.Context, token string) (Identity, error) {
	claims, err := parseCredential(token)
	if err != nil {
		return Identity{}, err
	}
	session, err := s.sessions.Find(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Identity{}, ErrInvalidCredential
		}
		return Identity{}, err
	}
	if s.now().UTC().After(session.ExpiresAt) {
		return Identity{}, ErrExpiredCredential
	}
	return Identity{
		UserID:         session.UserID,
		Role:           session.Role,
		OrganizationID: session.OrganizationID,
	}, nil
}

// Revoke discards a session so its credential stops resolving. Callers
// use it to unwind an issuance whose surrounding operation failed.
func (s *Service) Revoke(ctx context.Context, sessionID string) error {
	return s.sessions.Delete(ctx, sessionID)
}
