package request

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"evidora.org/internal/evidence"
	"evidora.org/internal/identity"
	"evidora.org/internal/ids"
	"evidora.org/internal/ledger"
)

// VersionResolver is the slice of the evidence store the engine needs
// to validate a cited fulfillment.
type VersionResolver interface {
	Document(ctx context.Context, documentID string) (evidence.Document, error)
	ResolveVersion(ctx context.Context, documentID, versionID string) (evidence.Version, error)
}

// Service owns requests and their line items and enforces the
// fulfillment state machine. Every mutation commits atomically with its
// audit entry.
type Service interface {
	// Create creates the request and its items atomically, all pending.
	// At least one item is required.
	Create(ctx context.Context, actor identity.Identity, factoryOrgID, title string, docTypes []string) (Request, error)
	// ListForFactory returns requests targeting the given factory,
	// newest first, items embedded. The filter is applied here, never by
	// the caller.
	ListForFactory(ctx context.Context, factoryOrgID string) ([]Request, error)
	// Fulfill transitions one item pending -> fulfilled and recomputes
	// the derived request status in the same atomic unit. Re-fulfilling
	// is a Conflict, not a silent success.
	Fulfill(ctx context.Context, actor identity.Identity, requestID, itemID, evidenceID, versionID string) (Item, Request, error)
	// Get looks up a single request with items.
	Get(ctx context.Context, requestID string) (Request, error)
}

// InMemory implements Service with in-process concurrency safety.
// Fulfillments of one request are serialized through a per-request lock
// so the concurrent tie-break yields exactly one success.
type InMemory struct {
	mu   sync.RWMutex
	reqs map[string]*Request

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex

	evidence VersionResolver
	audit    ledger.Ledger
	now      func() time.Time
}

// NewInMemory creates an empty engine.
func NewInMemory(resolver VersionResolver, audit ledger.Ledger) *InMemory {
	return &InMemory{
		reqs:     make(map[string]*Request),
		locks:    make(map[string]*sync.Mutex),
		evidence: resolver,
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

func (s *InMemory) Create(ctx context.Context, actor identity.Identity, factoryOrgID, title string, docTypes []string) (Request, error) {
	factoryOrgID = strings.TrimSpace(factoryOrgID)
	title = strings.TrimSpace(title)
	if factoryOrgID == "" || title == "" {
		return Request{}, fmt.Errorf("%w: factoryOrgId and title are required", ErrInvalidInput)
	}
	if len(docTypes) == 0 {
		return Request{}, fmt.Errorf("%w: at least one item is required", ErrInvalidInput)
	}
	for _, dt := range docTypes {
		if strings.TrimSpace(dt) == "" {
			return Request{}, fmt.Errorf("%w: item docType must not be empty", ErrInvalidInput)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	req := Request{
		ID:           ids.NewWithPrefix(ids.PrefixRequest),
		BuyerOrgID:   actor.OrganizationID,
		BuyerUserID:  actor.UserID,
		FactoryOrgID: factoryOrgID,
		Title:        title,
		Status:       StatusPending,
		CreatedAt:    s.now().UTC(),
	}
	for _, dt := range docTypes {
		req.Items = append(req.Items, Item{
			ID:        ids.NewWithPrefix(ids.PrefixItem),
			RequestID: req.ID,
			DocType:   strings.TrimSpace(dt),
			Status:    ItemPending,
		})
	}
	s.reqs[req.ID] = &req

	_, err := s.audit.Append(ctx, ledger.Entry{
		ActorUserID: actor.UserID,
		ActorRole:   string(actor.Role),
		Action:      ledger.ActionCreateRequest,
		ObjectType:  ledger.ObjectRequest,
		ObjectID:    req.ID,
		Metadata: map[string]string{
			"buyerId":   actor.UserID,
			"factoryId": factoryOrgID,
			"title":     title,
			"itemCount": strconv.Itoa(len(req.Items)),
			"docTypes":  strings.Join(docTypes, ","),
		},
	})
	if err != nil {
		delete(s.reqs, req.ID)
		return Request{}, fmt.Errorf("audit create request: %w", err)
	}
	return copyRequest(&req), nil
}

func (s *InMemory) ListForFactory(ctx context.Context, factoryOrgID string) ([]Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := make([]Request, 0)
	for _, req := range s.reqs {
		if req.FactoryOrgID != factoryOrgID {
			continue
		}
		res = append(res, copyRequest(req))
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.After(res[j].CreatedAt)
		}
		return res[i].ID > res[j].ID
	})
	return res, nil
}

func (s *InMemory) Get(ctx context.Context, requestID string) (Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.reqs[requestID]
	if !ok {
		return Request{}, ErrNotFound
	}
	return copyRequest(req), nil
}

func (s *InMemory) Fulfill(ctx context.Context, actor identity.Identity, requestID, itemID, evidenceID, versionID string) (Item, Request, error) {
	reqLock, err := s.requestLock(requestID)
	if err != nil {
		return Item{}, Request{}, err
	}
	reqLock.Lock()
	defer reqLock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.reqs[requestID]
	if !ok {
		return Item{}, Request{}, ErrNotFound
	}
	var item *Item
	for i := range req.Items {
		if req.Items[i].ID == itemID {
			item = &req.Items[i]
			break
		}
	}
	if item == nil {
		return Item{}, Request{}, ErrItemNotFound
	}
	if item.Status != ItemPending {
		return Item{}, Request{}, ErrConflict
	}

	// Ownership was already judged by the access guard; re-check here so
	// the engine stays safe for callers that bypass the policy layer.
	if req.FactoryOrgID != actor.OrganizationID {
		return Item{}, Request{}, ErrNotOwner
	}
	doc, err := s.evidence.Document(ctx, evidenceID)
	if err != nil {
		return Item{}, Request{}, fmt.Errorf("%w: evidence %s", ErrNotFound, evidenceID)
	}
	if doc.OwnerOrgID != req.FactoryOrgID {
		return Item{}, Request{}, ErrNotOwner
	}
	if _, err := s.evidence.ResolveVersion(ctx, evidenceID, versionID); err != nil {
		return Item{}, Request{}, fmt.Errorf("%w: version %s", ErrNotFound, versionID)
	}

	prevItem := *item
	prevStatus := req.Status

	now := s.now().UTC()
	item.Status = ItemFulfilled
	item.EvidenceID = evidenceID
	item.VersionID = versionID
	item.FulfilledAt = &now
	req.Status = DeriveStatus(req.Items)

	meta := map[string]string{
		"factoryId":      actor.OrganizationID,
		"buyerId":        req.BuyerUserID,
		"requestId":      req.ID,
		"docType":        item.DocType,
		"evidenceId":     evidenceID,
		"versionId":      versionID,
		"previousStatus": string(prevItem.Status),
		"newStatus":      string(item.Status),
		"requestStatus":  string(req.Status),
	}
	if req.Status != prevStatus {
		meta["requestPreviousStatus"] = string(prevStatus)
		meta["requestNewStatus"] = string(req.Status)
	}
	_, err = s.audit.Append(ctx, ledger.Entry{
		ActorUserID: actor.UserID,
		ActorRole:   string(actor.Role),
		Action:      ledger.ActionFulfillItem,
		ObjectType:  ledger.ObjectRequestItem,
		ObjectID:    item.ID,
		Metadata:    meta,
	})
	if err != nil {
		// Roll the transition back: an audit-less mutation is unacceptable.
		*item = prevItem
		req.Status = prevStatus
		return Item{}, Request{}, fmt.Errorf("audit fulfill item: %w", err)
	}
	out := *item
	ts := now
	out.FulfilledAt = &ts
	return out, copyRequest(req), nil
}

// requestLock returns the single-writer lock for a request, creating it
// on first use. Requests are never deleted, so locks are never reaped.
func (s *InMemory) requestLock(requestID string) (*sync.Mutex, error) {
	s.mu.RLock()
	_, ok := s.reqs[requestID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	l, ok := s.locks[requestID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[requestID] = l
	}
	return l, nil
}

func copyRequest(req *Request) Request {
	out := *req
	out.Items = make([]Item, len(req.Items))
	copy(out.Items, req.Items)
	for i := range out.Items {
		if req.Items[i].FulfilledAt != nil {
			ts := *req.Items[i].FulfilledAt
			out.Items[i].FulfilledAt = &ts
		}
	}
	return out
}
