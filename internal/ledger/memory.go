package ledger

import (
	"context"
	"sync"
	"time"

	"evidora.org/internal/obs"
)

// InMemory implements Ledger with in-process concurrency safety.
type InMemory struct {
	mu      sync.RWMutex
	seq     uint64
	entries []Entry
	now     func() time.Time
}

// NewInMemory creates an empty ledger.
func NewInMemory() *InMemory {
	return &InMemory{now: time.Now}
}

var _ Ledger = (*InMemory)(nil)

func (l *InMemory) Append(ctx context.Context, e Entry) (uint64, error) {
	if err := validate(e); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	e.Sequence = l.seq
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now().UTC()
	}
	if e.Metadata == nil {
		e.Metadata = map[string]string{}
	}
	l.entries = append(l.entries, e)
	obs.IncAuditAppended()
	return e.Sequence, nil
}

// List returns entries newest first.
func (l *InMemory) List(ctx context.Context, limit, offset int) ([]Entry, error) {
	limit = ClampLimit(limit)
	if offset < 0 {
		offset = 0
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	start := len(l.entries) - 1 - offset
	res := make([]Entry, 0, limit)
	for i := start; i >= 0 && len(res) < limit; i-- {
		res = append(res, l.entries[i])
	}
	return res, nil
}
