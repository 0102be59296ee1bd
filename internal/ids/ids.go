package ids

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Entity prefixes keep identifiers readable in logs and audit metadata
// without a type lookup.
const (
	PrefixEvidence = "ev"
	PrefixVersion  = "ver"
	PrefixRequest  = "req"
	PrefixItem     = "item"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier suitable for storage keys.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewWithPrefix returns a ULID tagged with an entity prefix, e.g. "ev_01H...".
// An empty prefix behaves like New.
func NewWithPrefix(prefix string) string {
	if prefix == "" {
		return New()
	}
	return prefix + "_" + New()
}
