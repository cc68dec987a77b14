package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestGuardMarkAndCheck(t *testing.T) {
	guard := NewGuard(NewMemoryStore(time.Hour))
	ctx := context.Background()

	ok, err := guard.HasProcessed(ctx, "tenant-001", "tx-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("never-marked id must be false")
	}

	if err := guard.MarkProcessed(ctx, "tenant-001", "tx-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ok, err = guard.HasProcessed(ctx, "tenant-001", "tx-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("marked id must be true")
	}
}

func TestGuardRepeatedMarksAreIdempotent(t *testing.T) {
	guard := NewGuard(NewMemoryStore(time.Hour))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := guard.MarkProcessed(ctx, "tenant-001", "tx-1"); err != nil {
			t.Fatalf("mark %d failed: %v", i, err)
		}
	}

	ok, _ := guard.HasProcessed(ctx, "tenant-001", "tx-1")
	if !ok {
		t.Error("still true after repeated marks")
	}
}

func TestGuardTenantIsolation(t *testing.T) {
	guard := NewGuard(NewMemoryStore(time.Hour))
	ctx := context.Background()

	guard.MarkProcessed(ctx, "tenant-001", "tx-1")

	ok, _ := guard.HasProcessed(ctx, "tenant-002", "tx-1")
	if ok {
		t.Error("marker must not leak across tenants")
	}
}

func TestGuardRetentionExpiry(t *testing.T) {
	guard := NewGuard(NewMemoryStore(20 * time.Millisecond))
	ctx := context.Background()

	guard.MarkProcessed(ctx, "tenant-001", "tx-1")
	time.Sleep(40 * time.Millisecond)

	ok, err := guard.HasProcessed(ctx, "tenant-001", "tx-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expired marker must read as unprocessed")
	}
}

func TestGuardRequiresTransactionID(t *testing.T) {
	guard := NewGuard(NewMemoryStore(time.Hour))
	ctx := context.Background()

	if err := guard.MarkProcessed(ctx, "tenant-001", ""); err == nil {
		t.Error("expected error for empty tx id")
	}
	if _, err := guard.HasProcessed(ctx, "tenant-001", ""); err == nil {
		t.Error("expected error for empty tx id")
	}
}

func TestNewFactory(t *testing.T) {
	store, err := New(domain.IdempotencyConfig{Store: "memory"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	store.Close()

	if _, err := New(domain.IdempotencyConfig{Store: "bogus"}); err == nil {
		t.Error("expected error for unsupported store")
	}
}
