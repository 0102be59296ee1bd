package evidence

import (
	"errors"
	"time"
)

// Document is an evidence document owned by exactly one organization.
// Documents are never deleted; the only mutation after creation is an
// appended version.
type Document struct {
	ID         string    `json:"id"`
	OwnerOrgID string    `json:"ownerOrgId"`
	Name       string    `json:"name"`
	DocType    string    `json:"docType"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Version is one element of a document's append-only version chain.
// Expiry is an opaque caller-supplied date string, passed through
// unparsed. Numbers start at 1 and follow insertion order.
type Version struct {
	ID         string    `json:"id"`
	EvidenceID string    `json:"evidenceId"`
	Number     int       `json:"versionNumber"`
	Expiry     string    `json:"expiry,omitempty"`
	Notes      string    `json:"notes,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

var (
	ErrNotFound     = errors.New("evidence: not found")
	ErrNotOwner     = errors.New("evidence: not owner")
	ErrInvalidInput = errors.New("evidence: invalid input")
)
