package request

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"evidora.org/internal/evidence"
	"evidora.org/internal/identity"
	"evidora.org/internal/ledger"
)

var (
	buyerB1   = identity.Identity{UserID: "b1-user", Role: identity.RoleBuyer, OrganizationID: "B1"}
	factoryF1 = identity.Identity{UserID: "f1-user", Role: identity.RoleFactory, OrganizationID: "F1"}
	factoryF2 = identity.Identity{UserID: "f2-user", Role: identity.RoleFactory, OrganizationID: "F2"}
)

type fixture struct {
	audit    *ledger.InMemory
	evidence *evidence.InMemory
	engine   *InMemory
}

func newFixture() *fixture {
	audit := ledger.NewInMemory()
	ev := evidence.NewInMemory(audit)
	return &fixture{
		audit:    audit,
		evidence: ev,
		engine:   NewInMemory(ev, audit),
	}
}

// evidenceFor creates a document owned by the given factory and returns ids.
func (f *fixture) evidenceFor(t *testing.T, factory identity.Identity) (string, string) {
	t.Helper()
	doc, ver, err := f.evidence.CreateDocument(context.Background(), factory, "Report", "Test Report", "", "")
	if err != nil {
		t.Fatalf("create evidence: %v", err)
	}
	return doc.ID, ver.ID
}

func TestCreateRequiresAtLeastOneItem(t *testing.T) {
	f := newFixture()
	if _, err := f.engine.Create(context.Background(), buyerB1, "F1", "Audit pack", nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestCreateStartsPendingAndAudits(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	req, err := f.engine.Create(ctx, buyerB1, "F1", "Audit pack", []string{"Test Report", "Certificate"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if req.Status != StatusPending {
		t.Fatalf("expected pending, got %s", req.Status)
	}
	if len(req.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(req.Items))
	}
	for _, it := range req.Items {
		if it.Status != ItemPending || it.RequestID != req.ID {
			t.Fatalf("unexpected item: %+v", it)
		}
	}

	entries, _ := f.audit.List(ctx, 10, 0)
	if len(entries) != 1 || entries[0].Action != ledger.ActionCreateRequest {
		t.Fatalf("expected one CREATE_REQUEST entry, got %+v", entries)
	}
	if entries[0].Metadata["itemCount"] != "2" {
		t.Fatalf("unexpected metadata: %+v", entries[0].Metadata)
	}
}

func TestListForFactoryFiltersAndOrdersNewestFirst(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	current := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	f.engine.WithClock(func() time.Time { return current })

	first, err := f.engine.Create(ctx, buyerB1, "F1", "first", []string{"a"})
	if err != nil {
		t.Fatal(err)
	}
	current = current.Add(time.Minute)
	if _, err := f.engine.Create(ctx, buyerB1, "F2", "other factory", []string{"a"}); err != nil {
		t.Fatal(err)
	}
	current = current.Add(time.Minute)
	second, err := f.engine.Create(ctx, buyerB1, "F1", "second", []string{"a"})
	if err != nil {
		t.Fatal(err)
	}

	res, err := f.engine.ListForFactory(ctx, "F1")
	if err != nil {
		t.Fatalf("ListForFactory: %v", err)
	}
	if len(res) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(res))
	}
	for _, r := range res {
		if r.FactoryOrgID != "F1" {
			t.Fatalf("foreign request leaked: %+v", r)
		}
	}
	if res[0].ID != second.ID || res[1].ID != first.ID {
		t.Fatalf("expected newest first, got %s then %s", res[0].ID, res[1].ID)
	}

	empty, err := f.engine.ListForFactory(ctx, "F9")
	if err != nil {
		t.Fatal(err)
	}
	if empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty slice, got %#v", empty)
	}
}

func TestFulfillTransitionsItemAndDerivesStatus(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	req, err := f.engine.Create(ctx, buyerB1, "F1", "Audit pack", []string{"Test Report", "Certificate"})
	if err != nil {
		t.Fatal(err)
	}
	evID, verID := f.evidenceFor(t, factoryF1)

	item, updated, err := f.engine.Fulfill(ctx, factoryF1, req.ID, req.Items[0].ID, evID, verID)
	if err != nil {
		t.Fatalf("Fulfill: %v", err)
	}
	if item.Status != ItemFulfilled || item.EvidenceID != evID || item.VersionID != verID || item.FulfilledAt == nil {
		t.Fatalf("unexpected item: %+v", item)
	}
	if updated.Status != StatusPending {
		t.Fatalf("one of two items fulfilled, expected pending, got %s", updated.Status)
	}

	_, updated, err = f.engine.Fulfill(ctx, factoryF1, req.ID, req.Items[1].ID, evID, verID)
	if err != nil {
		t.Fatal(err)
	}
	if updated.Status != StatusCompleted {
		t.Fatalf("all items fulfilled, expected completed, got %s", updated.Status)
	}

	entries, _ := f.audit.List(ctx, 10, 0)
	// newest first: FULFILL_ITEM x2, CREATE_EVIDENCE, CREATE_REQUEST
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(entries))
	}
	last := entries[0]
	if last.Action != ledger.ActionFulfillItem {
		t.Fatalf("expected FULFILL_ITEM, got %s", last.Action)
	}
	if last.Metadata["previousStatus"] != "pending" || last.Metadata["newStatus"] != "fulfilled" {
		t.Fatalf("missing transition metadata: %+v", last.Metadata)
	}
	if last.Metadata["requestPreviousStatus"] != "pending" || last.Metadata["requestNewStatus"] != "completed" {
		t.Fatalf("missing request flip metadata: %+v", last.Metadata)
	}
	if entries[1].Metadata["requestNewStatus"] != "" {
		t.Fatalf("first fulfillment should not record a flip: %+v", entries[1].Metadata)
	}
}

func TestFulfillTwiceIsConflictAndLeavesStateUntouched(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	req, err := f.engine.Create(ctx, buyerB1, "F1", "Audit pack", []string{"Test Report"})
	if err != nil {
		t.Fatal(err)
	}
	evID, verID := f.evidenceFor(t, factoryF1)

	first, _, err := f.engine.Fulfill(ctx, factoryF1, req.ID, req.Items[0].ID, evID, verID)
	if err != nil {
		t.Fatal(err)
	}
	before, _ := f.audit.List(ctx, 100, 0)

	if _, _, err := f.engine.Fulfill(ctx, factoryF1, req.ID, req.Items[0].ID, evID, verID); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	after, _ := f.audit.List(ctx, 100, 0)
	if len(after) != len(before) {
		t.Fatalf("conflict must not append audit entries: %d -> %d", len(before), len(after))
	}
	got, err := f.engine.Get(ctx, req.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Items[0].VersionID != first.VersionID || !got.Items[0].FulfilledAt.Equal(*first.FulfilledAt) {
		t.Fatalf("item changed on conflict: %+v", got.Items[0])
	}
}

func TestFulfillValidationFailures(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	req, err := f.engine.Create(ctx, buyerB1, "F1", "Audit pack", []string{"Test Report"})
	if err != nil {
		t.Fatal(err)
	}
	itemID := req.Items[0].ID
	evID, verID := f.evidenceFor(t, factoryF1)

	if _, _, err := f.engine.Fulfill(ctx, factoryF1, "req_missing", itemID, evID, verID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown request: expected ErrNotFound, got %v", err)
	}
	if _, _, err := f.engine.Fulfill(ctx, factoryF1, req.ID, "item_missing", evID, verID); !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("unknown item: expected ErrItemNotFound, got %v", err)
	}
	if _, _, err := f.engine.Fulfill(ctx, factoryF1, req.ID, itemID, "ev_missing", verID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown evidence: expected ErrNotFound, got %v", err)
	}
	if _, _, err := f.engine.Fulfill(ctx, factoryF1, req.ID, itemID, evID, "ver_missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown version: expected ErrNotFound, got %v", err)
	}

	// Defensive ownership checks, independent of the access guard.
	if _, _, err := f.engine.Fulfill(ctx, factoryF2, req.ID, itemID, evID, verID); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("foreign factory: expected ErrNotOwner, got %v", err)
	}
	foreignEv, foreignVer := f.evidenceFor(t, factoryF2)
	if _, _, err := f.engine.Fulfill(ctx, factoryF1, req.ID, itemID, foreignEv, foreignVer); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("foreign evidence: expected ErrNotOwner, got %v", err)
	}

	// Nothing above may have advanced the state machine.
	got, _ := f.engine.Get(ctx, req.ID)
	if got.Items[0].Status != ItemPending || got.Status != StatusPending {
		t.Fatalf("state advanced by failed fulfillments: %+v", got)
	}
}

func TestConcurrentFulfillOneWinnerOneConflict(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	req, err := f.engine.Create(ctx, buyerB1, "F1", "Audit pack", []string{"Test Report"})
	if err != nil {
		t.Fatal(err)
	}
	evID, verID := f.evidenceFor(t, factoryF1)

	const attempts = 20
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := f.engine.Fulfill(ctx, factoryF1, req.ID, req.Items[0].ID, evID, verID)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var successes, conflicts int
	for err := range errs {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if successes != 1 || conflicts != attempts-1 {
		t.Fatalf("expected exactly one success, got %d successes / %d conflicts", successes, conflicts)
	}
}

// failAfter lets the first n appends through, then fails.
type failAfter struct {
	ledger.Ledger
	mu        sync.Mutex
	remaining int
}

func (f *failAfter) Append(ctx context.Context, e ledger.Entry) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remaining <= 0 {
		return 0, errors.New("ledger storage failure")
	}
	f.remaining--
	return f.Ledger.Append(ctx, e)
}

func TestFulfillRollsBackWhenAuditAppendFails(t *testing.T) {
	audit := ledger.NewInMemory()
	ev := evidence.NewInMemory(audit)
	failing := &failAfter{Ledger: audit, remaining: 1} // let the create-request append through
	engine := NewInMemory(ev, failing)
	ctx := context.Background()

	req, err := engine.Create(ctx, buyerB1, "F1", "Audit pack", []string{"Test Report"})
	if err != nil {
		t.Fatal(err)
	}
	doc, ver, err := ev.CreateDocument(ctx, factoryF1, "Report", "Test Report", "", "")
	if err != nil {
		t.Fatal(err)
	}

	if _, _, err := engine.Fulfill(ctx, factoryF1, req.ID, req.Items[0].ID, doc.ID, ver.ID); err == nil {
		t.Fatal("expected fulfillment to fail when the ledger rejects the append")
	}

	got, err := engine.Get(ctx, req.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Items[0].Status != ItemPending || got.Items[0].EvidenceID != "" || got.Status != StatusPending {
		t.Fatalf("mutation survived a failed audit append: %+v", got)
	}
}
