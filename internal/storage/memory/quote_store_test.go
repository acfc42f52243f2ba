package memory

import (
	"context"
	"errors"
	"testing"

	"dust-sweeper/internal/domain"
	"dust-sweeper/internal/storage"
)

func TestQuoteStore_InsertAndGet(t *testing.T) {
	store := NewQuoteStore()
	ctx := context.Background()

	q := &domain.Quote{
		ID:            "q1",
		WalletAddress: "0xabc",
		SourceTokens:  []domain.SourceToken{{Address: "0x1", Chain: domain.ChainBase, Amount: "10", Reasons: []string{"r"}}},
		Route:         domain.Route{Steps: []domain.RouteStep{{Type: domain.StepSwap, Chain: domain.ChainBase}}},
		ExpiresAt:     2000,
	}
	if err := store.Insert(ctx, q); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	// Mutating the caller's copy must not leak into the store
	q.SourceTokens[0].Reasons[0] = "changed"
	q.Route.Steps[0].Type = domain.StepBridge

	got, err := store.GetByID(ctx, "q1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.SourceTokens[0].Reasons[0] != "r" {
		t.Errorf("Reasons aliased: %v", got.SourceTokens[0].Reasons)
	}
	if got.Route.Steps[0].Type != domain.StepSwap {
		t.Errorf("Steps aliased: %v", got.Route.Steps)
	}

	if err := store.Insert(ctx, q); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
	if _, err := store.GetByID(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if err := store.Insert(ctx, &domain.Quote{}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
}

func TestQuoteStore_DeleteExpired(t *testing.T) {
	store := NewQuoteStore()
	ctx := context.Background()

	for _, q := range []*domain.Quote{
		{ID: "a", ExpiresAt: 1000},
		{ID: "b", ExpiresAt: 2000},
		{ID: "c", ExpiresAt: 3000},
	} {
		if err := store.Insert(ctx, q); err != nil {
			t.Fatal(err)
		}
	}

	n, err := store.DeleteExpired(ctx, 2000)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("deleted = %d, want 2", n)
	}
	if _, err := store.GetByID(ctx, "c"); err != nil {
		t.Errorf("c should remain: %v", err)
	}
}
