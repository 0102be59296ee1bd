package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func entry(action, objectID string) Entry {
	return Entry{
		ActorUserID: "u1",
		ActorRole:   "factory",
		Action:      action,
		ObjectType:  ObjectEvidence,
		ObjectID:    objectID,
	}
}

func TestAppendAssignsIncreasingSequences(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()

	var last uint64
	for i := 0; i < 5; i++ {
		seq, err := l.Append(ctx, entry(ActionCreateEvidence, "ev_1"))
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		if seq <= last {
			t.Fatalf("sequence not increasing: %d after %d", seq, last)
		}
		last = seq
	}
}

func TestAppendRejectsUnattributedEntry(t *testing.T) {
	l := NewInMemory()
	e := entry(ActionCreateEvidence, "ev_1")
	e.ActorUserID = ""
	if _, err := l.Append(context.Background(), e); !errors.Is(err, ErrInvalidEntry) {
		t.Fatalf("expected ErrInvalidEntry, got %v", err)
	}
}

func TestListNewestFirstWithPaging(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if _, err := l.Append(ctx, entry(ActionCreateRequest, "req_1")); err != nil {
			t.Fatal(err)
		}
	}

	page, err := l.List(ctx, 3, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(page) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(page))
	}
	if page[0].Sequence != 10 || page[2].Sequence != 8 {
		t.Fatalf("expected newest first, got %d..%d", page[0].Sequence, page[2].Sequence)
	}

	page, err = l.List(ctx, 3, 8)
	if err != nil {
		t.Fatalf("List with offset: %v", err)
	}
	if len(page) != 2 || page[0].Sequence != 2 {
		t.Fatalf("unexpected offset page: %+v", page)
	}
}

func TestConcurrentAppendsProduceUniqueSequences(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()

	const n = 100
	seqs := make(chan uint64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seq, err := l.Append(ctx, entry(ActionFulfillItem, "item_1"))
			if err != nil {
				t.Error(err)
				return
			}
			seqs <- seq
		}()
	}
	wg.Wait()
	close(seqs)

	seen := make(map[uint64]bool, n)
	for seq := range seqs {
		if seen[seq] {
			t.Fatalf("duplicate sequence %d", seq)
		}
		seen[seq] = true
	}
	if len(seen) != n {
		t.Fatalf("expected %d unique sequences, got %d", n, len(seen))
	}
}
