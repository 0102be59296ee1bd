package ledger

import (
	"context"
	"errors"
	"time"
)

// Audit actions recorded by the workflow.
const (
	ActionLogin          = "LOGIN"
	ActionCreateEvidence = "CREATE_EVIDENCE"
	ActionAddVersion     = "ADD_VERSION"
	ActionCreateRequest  = "CREATE_REQUEST"
	ActionFulfillItem    = "FULFILL_ITEM"
	ActionAccessDenied   = "ACCESS_DENIED"
)

// Audit object types.
const (
	ObjectSession     = "Session"
	ObjectEvidence    = "Evidence"
	ObjectVersion     = "Version"
	ObjectRequest     = "Request"
	ObjectRequestItem = "RequestItem"
)

// Entry is one immutable audit record. Entries carry no foreign keys so
// they outlive the objects they reference.
type Entry struct {
	Sequence    uint64            `json:"sequenceId"`
	Timestamp   time.Time         `json:"timestamp"`
	ActorUserID string            `json:"actorUserId"`
	ActorRole   string            `json:"actorRole"`
	Action      string            `json:"action"`
	ObjectType  string            `json:"objectType"`
	ObjectID    string            `json:"objectId"`
	Metadata    map[string]string `json:"metadata"`
}

var (
	// ErrInvalidEntry rejects entries missing attribution or action.
	ErrInvalidEntry = errors.New("ledger: invalid entry")
)

// Ledger is the append-only audit log. Append assigns the sequence at
// write time; sequences are unique and strictly increasing but need not
// be gap-free. A failed append must fail the business operation that
// triggered it.
type Ledger interface {
	Append(ctx context.Context, e Entry) (uint64, error)
	List(ctx context.Context, limit, offset int) ([]Entry, error)
}

// ClampLimit normalizes paging arguments shared by implementations.
func ClampLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}

func validate(e Entry) error {
	if e.ActorUserID == "" || e.ActorRole == "" || e.Action == "" {
		return ErrInvalidEntry
	}
	if e.ObjectType == "" || e.ObjectID == "" {
		return ErrInvalidEntry
	}
	return nil
}
