package identity

import (
	"errors"
	"os"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"
)

const (
	issuer            = "evidora"
	secretEnvVariable = "EVIDORA_AUTH_SECRET"
)

var (
	errMissingSecret = errors.New("identity: auth secret is not configured")

	secretMu sync.Mutex
	secret   cachedSecret
)

type cachedSecret struct {
	value []byte
	err   error
	ready bool
}

// credentialClaims is the signed payload of an issued credential. The
// session record remains authoritative; claims exist so malformed or
// forged bearer values are rejected before any store lookup.
type credentialClaims struct {
	Role           string `json:"role"`
	OrganizationID string `json:"org,omitempty"`
	jwt.RegisteredClaims
}

// signCredential signs an HS256 token for the session. The token ID is
// the session ID, which resolution uses for the store lookup.
func signCredential(s Session) (string, error) {
	secretBytes, err := loadSecret()
	if err != nil {
		return "", err
	}
	claims := credentialClaims{
		Role:           string(s.Role),
		OrganizationID: s.OrganizationID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   s.UserID,
			IssuedAt:  jwt.NewNumericDate(s.CreatedAt),
			ExpiresAt: jwt.NewNumericDate(s.ExpiresAt),
			ID:        s.ID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secretBytes)
}

// parseCredential verifies the signature and required claims and returns
// the embedded session ID.
func parseCredential(token string) (*credentialClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidCredential
	}
	secretBytes, err := loadSecret()
	if err != nil {
		return nil, err
	}
	parsed, err := jwt.ParseWithClaims(token, &credentialClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidCredential
		}
		return secretBytes, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredCredential
		}
		return nil, ErrInvalidCredential
	}
	claims, ok := parsed.Claims.(*credentialClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidCredential
	}
	if claims.Issuer != issuer || claims.ID == "" || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidCredential
	}
	return claims, nil
}

func loadSecret() ([]byte, error) {
	secretMu.Lock()
	defer secretMu.Unlock()
	if secret.ready {
		return secret.value, secret.err
	}
	raw := strings.TrimSpace(os.Getenv(secretEnvVariable))
	if raw == "" {
		secret.err = errMissingSecret
		secret.ready = true
		return nil, secret.err
	}
	secret.value = []byte(raw)
	secret.err = nil
	secret.ready = true
	return secret.value, nil
}

// ResetSecretForTests clears the cached secret value. Only intended for test use.
func ResetSecretForTests() {
	secretMu.Lock()
	defer secretMu.Unlock()
	secret = cachedSecret{}
}
