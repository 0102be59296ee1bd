package evidence

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"evidora.org/internal/identity"
	"evidora.org/internal/ids"
	"evidora.org/internal/ledger"
)

// Service owns evidence documents and their version chains. Mutations
// commit together with their audit entry or not at all.
type Service interface {
	// CreateDocument creates a document plus its initial version atomically.
	CreateDocument(ctx context.Context, actor identity.Identity, name, docType, expiry, notes string) (Document, Version, error)
	// AddVersion appends to the document's version chain. The caller's
	// ownership is re-validated here even though the access guard has
	// already ruled.
	AddVersion(ctx context.Context, actor identity.Identity, documentID, notes, expiry string) (Version, error)
	// ResolveVersion returns the version only if it belongs to the document.
	ResolveVersion(ctx context.Context, documentID, versionID string) (Version, error)
	// Document looks up a document by ID.
	Document(ctx context.Context, documentID string) (Document, error)
}

// InMemory implements Service with in-process concurrency safety.
type InMemory struct {
	mu       sync.RWMutex
	docs     map[string]*Document
	versions map[string][]Version // evidenceID -> append-only chain
	audit    ledger.Ledger
	now      func() time.Time
}

// NewInMemory creates an empty store writing audit entries to the given ledger.
func NewInMemory(audit ledger.Ledger) *InMemory {
	return &InMemory{
		docs:     make(map[string]*Document),
		versions: make(map[string][]Version),
		audit:    audit,
		now:      time.Now,
	}
}

var _ Service = (*InMemory)(nil)

// WithClock overrides the time source. Test use.
func (s *InMemory) WithClock(fn func() time.Time) *InMemory {
	if fn != nil {
		s.now = fn
	}
	return s
}

func (s *InMemory) CreateDocument(ctx context.Context, actor identity.Identity, name, docType, expiry, notes string) (Document, Version, error) {
	name = strings.TrimSpace(name)
	docType = strings.TrimSpace(docType)
	if name == "" || docType == "" {
		return Document{}, Version{}, fmt.Errorf("%w: name and docType are required", ErrInvalidInput)
	}
	if actor.OrganizationID == "" {
		return Document{}, Version{}, fmt.Errorf("%w: actor has no organization", ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	doc := Document{
		ID:         ids.NewWithPrefix(ids.PrefixEvidence),
		OwnerOrgID: actor.OrganizationID,
		Name:       name,
		DocType:    docType,
		CreatedAt:  now,
	}
	ver := Version{
		ID:         ids.NewWithPrefix(ids.PrefixVersion),
		EvidenceID: doc.ID,
		Number:     1,
		Expiry:     expiry,
		Notes:      notes,
		CreatedAt:  now,
	}
	s.docs[doc.ID] = &doc
	s.versions[doc.ID] = []Version{ver}

	_, err := s.audit.Append(ctx, ledger.Entry{
		ActorUserID: actor.UserID,
		ActorRole:   string(actor.Role),
		Action:      ledger.ActionCreateEvidence,
		ObjectType:  ledger.ObjectEvidence,
		ObjectID:    doc.ID,
		Metadata: map[string]string{
			"factoryId": actor.OrganizationID,
			"name":      name,
			"docType":   docType,
			"versionId": ver.ID,
		},
	})
	if err != nil {
		// The document and its audit entry commit together or not at all.
		delete(s.docs, doc.ID)
		delete(s.versions, doc.ID)
		return Document{}, Version{}, fmt.Errorf("audit create evidence: %w", err)
	}
	return doc, ver, nil
}

func (s *InMemory) AddVersion(ctx context.Context, actor identity.Identity, documentID, notes, expiry string) (Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[documentID]
	if !ok {
		return Version{}, ErrNotFound
	}
	if doc.OwnerOrgID != actor.OrganizationID {
		return Version{}, ErrNotOwner
	}

	chain := s.versions[documentID]
	ver := Version{
		ID:         ids.NewWithPrefix(ids.PrefixVersion),
		EvidenceID: documentID,
		Number:     len(chain) + 1,
		Expiry:     expiry,
		Notes:      notes,
		CreatedAt:  s.now().UTC(),
	}
	s.versions[documentID] = append(chain, ver)

	_, err := s.audit.Append(ctx, ledger.Entry{
		ActorUserID: actor.UserID,
		ActorRole:   string(actor.Role),
		Action:      ledger.ActionAddVersion,
		ObjectType:  ledger.ObjectVersion,
		ObjectID:    ver.ID,
		Metadata: map[string]string{
			"factoryId":     actor.OrganizationID,
			"evidenceId":    documentID,
			"versionNumber": strconv.Itoa(ver.Number),
		},
	})
	if err != nil {
		s.versions[documentID] = s.versions[documentID][:len(chain)]
		return Version{}, fmt.Errorf("audit add version: %w", err)
	}
	return ver, nil
}

func (s *InMemory) ResolveVersion(ctx context.Context, documentID, versionID string) (Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.docs[documentID]; !ok {
		return Version{}, ErrNotFound
	}
	for _, ver := range s.versions[documentID] {
		if ver.ID == versionID {
			return ver, nil
		}
	}
	return Version{}, ErrNotFound
}

func (s *InMemory) Document(ctx context.Context, documentID string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[documentID]
	if !ok {
		return Document{}, ErrNotFound
	}
	return *doc, nil
}
