package memory

import (
	"context"
	"errors"
	"testing"

	"dust-sweeper/internal/domain"
	"dust-sweeper/internal/storage"
)

func TestUsageEventStore(t *testing.T) {
	store := NewUsageEventStore()
	ctx := context.Background()

	events := []*domain.UsageEvent{
		{EventID: "e2", WalletAddress: "0xw", Endpoint: "post /api/quote", CostCents: 5, PaymentType: domain.PaymentCredits, CreatedAt: 200},
		{EventID: "e1", WalletAddress: "0xw", Endpoint: "get /api/quote/{id}", PaymentType: domain.PaymentFree, CreatedAt: 100},
		{EventID: "e3", WalletAddress: "0xother", CreatedAt: 150},
		{EventID: "e4", WalletAddress: "0xw", CreatedAt: 900},
	}
	for _, e := range events {
		if err := store.Insert(ctx, e); err != nil {
			t.Fatalf("Insert %s: %v", e.EventID, err)
		}
	}

	if err := store.Insert(ctx, events[0]); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}

	got, err := store.GetByWallet(ctx, "0xw", 100, 200)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].EventID != "e1" || got[1].EventID != "e2" {
		t.Errorf("GetByWallet = %+v", got)
	}
}
