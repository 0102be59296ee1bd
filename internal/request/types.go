package request

import (
	"errors"
	"time"
)

// Status is the derived request-level status. It is never set directly:
// completed iff every item is fulfilled.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// ItemStatus is the per-item state. The only transition is
// pending -> fulfilled; it never reverts.
type ItemStatus string

const (
	ItemPending   ItemStatus = "pending"
	ItemFulfilled ItemStatus = "fulfilled"
)

// Item is one fulfillable line of a request.
type Item struct {
	ID          string     `json:"id"`
	RequestID   string     `json:"requestId"`
	DocType     string     `json:"docType"`
	Status      ItemStatus `json:"status"`
	EvidenceID  string     `json:"evidenceId,omitempty"`
	VersionID   string     `json:"versionId,omitempty"`
	FulfilledAt *time.Time `json:"fulfilledAt,omitempty"`
}

// Request is a buyer's ask against one factory organization.
type Request struct {
	ID           string    `json:"id"`
	BuyerOrgID   string    `json:"buyerOrgId"`
	BuyerUserID  string    `json:"buyerId"`
	FactoryOrgID string    `json:"factoryOrgId"`
	Title        string    `json:"title"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
	Items        []Item    `json:"items"`
}

var (
	ErrNotFound     = errors.New("request: not found")
	ErrItemNotFound = errors.New("request: item not found")
	ErrConflict     = errors.New("request: item already fulfilled")
	ErrNotOwner     = errors.New("request: not owner")
	ErrInvalidInput = errors.New("request: invalid input")
)

// DeriveStatus recomputes the request-level status from item states.
// Pure so the derived value can never drift from the items.
func DeriveStatus(items []Item) Status {
	if len(items) == 0 {
		return StatusPending
	}
	for _, it := range items {
		if it.Status != ItemFulfilled {
			return StatusPending
		}
	}
	return StatusCompleted
}
