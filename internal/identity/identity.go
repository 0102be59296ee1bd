package identity

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Role is the organization role a credential is bound to.
type Role string

const (
	// RoleBuyer originates evidence requests.
	RoleBuyer Role = "buyer"
	// RoleFactory owns evidence and fulfills requests.
	RoleFactory Role = "factory"
)

// ParseRole normalizes and validates a role string.
func ParseRole(raw string) (Role, error) {
	switch Role(strings.TrimSpace(strings.ToLower(raw))) {
	case RoleBuyer:
		return RoleBuyer, nil
	case RoleFactory:
		return RoleFactory, nil
	default:
		return "", ErrInvalidInput
	}
}

// Identity is a resolved credential. Role and OrganizationID are fixed
// for the session lifetime.
type Identity struct {
	UserID         string `json:"userId"`
	Role           Role   `json:"role"`
	OrganizationID string `json:"organizationId"`
}

// Session is the server-side record backing an issued credential.
type Session struct {
	ID             string
	UserID         string
	Role           Role
	OrganizationID string
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

var (
	ErrInvalidInput      = errors.New("identity: invalid input")
	ErrNotFound          = errors.New("identity: session not found")
	ErrInvalidCredential = errors.New("identity: invalid credential")
	ErrExpiredCredential = errors.New("identity: credential expired")
)

type identityContextKey struct{}

// ContextWithIdentity attaches the resolved identity to the context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// FromContext extracts the resolved identity from the context.
func FromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	v, ok := ctx.Value(identityContextKey{}).(Identity)
	if !ok || v.UserID == "" {
		return Identity{}, false
	}
	return v, true
}
