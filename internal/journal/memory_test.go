package journal

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryStoreAppendAndGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	record := &OrderRecord{ID: "r1", AgentName: "inj-usdt", MarketID: "INJ/USDT", Side: "buy", Price: 100, Quantity: 2, CreatedAt: 1000}
	if err := store.Append(ctx, record); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := store.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusSubmitted {
		t.Fatalf("expected default status submitted, got %s", got.Status)
	}
	if got.Price != 100 || got.Quantity != 2 {
		t.Fatalf("unexpected record: %+v", got)
	}

	// Mutating the returned copy must not affect the store.
	got.Price = 1
	again, _ := store.Get(ctx, "r1")
	if again.Price != 100 {
		t.Fatalf("store record mutated through returned copy")
	}
}

func TestMemoryStoreAppendConflict(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Append(ctx, &OrderRecord{ID: "r1", CreatedAt: 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Append(ctx, &OrderRecord{ID: "r1", CreatedAt: 2}); !errors.Is(err, ErrRecordConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestMemoryStoreGetMissing(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryStoreListRecent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		if err := store.Append(ctx, &OrderRecord{ID: id, AgentName: "inj-usdt", CreatedAt: int64(1000 + i)}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if err := store.Append(ctx, &OrderRecord{ID: "other", AgentName: "weth-usdt", CreatedAt: 2000}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	records, err := store.ListRecent(ctx, "inj-usdt", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("unexpected record count: %d", len(records))
	}
	if records[0].ID != "c" || records[1].ID != "b" {
		t.Fatalf("records not in reverse chronological order: %s %s", records[0].ID, records[1].ID)
	}
}

func TestMemoryStoreCounts(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Append(ctx, &OrderRecord{ID: "a", AgentName: "inj-usdt", CreatedAt: 100}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Append(ctx, &OrderRecord{ID: "b", AgentName: "inj-usdt", CreatedAt: 200}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	count, err := store.CountSince(ctx, "inj-usdt", 150)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Fatalf("unexpected count since: %d", count)
	}

	active, err := store.CountActive(ctx, "inj-usdt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if active != 2 {
		t.Fatalf("unexpected active count: %d", active)
	}

	if err := store.UpdateStatus(ctx, "a", StatusCancelled); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	active, _ = store.CountActive(ctx, "inj-usdt")
	if active != 1 {
		t.Fatalf("active count not reduced after cancel: %d", active)
	}
}

func TestMemoryStoreUpdateStatusMissing(t *testing.T) {
	store := NewMemoryStore()
	if err := store.UpdateStatus(context.Background(), "missing", StatusFilled); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
