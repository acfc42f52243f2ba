package memory

import (
	"context"
	"sort"
	"sync"

	"dust-sweeper/internal/domain"
	"dust-sweeper/internal/storage"
)

// CreditStore is an in-memory implementation of storage.CreditStore.
// A single mutex serializes updates, which covers the per-wallet requirement.
type CreditStore struct {
	mu        sync.RWMutex
	accounts  map[string]*domain.CreditAccount       // keyed by wallet
	entries   map[string][]*domain.CreditTransaction // keyed by wallet, oldest first
	ids       map[string]struct{}
	processed map[string]struct{} // deposit tx hashes
}

// NewCreditStore creates a new in-memory credit store.
func NewCreditStore() *CreditStore {
	return &CreditStore{
		accounts:  make(map[string]*domain.CreditAccount),
		entries:   make(map[string][]*domain.CreditTransaction),
		ids:       make(map[string]struct{}),
		processed: make(map[string]struct{}),
	}
}

// Compile-time interface check.
var _ storage.CreditStore = (*CreditStore)(nil)

// GetAccount retrieves an account. Returns ErrNotFound if not exists.
func (s *CreditStore) GetAccount(_ context.Context, wallet string) (*domain.CreditAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[wallet]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneAccount(a), nil
}

// Update applies fn atomically. See storage.CreditStore.
func (s *CreditStore) Update(_ context.Context, wallet string, fn storage.AccountUpdate) (*domain.CreditAccount, error) {
	if wallet == "" || fn == nil {
		return nil, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.accounts[wallet]
	if !ok {
		current = &domain.CreditAccount{WalletAddress: wallet}
	}
	acct := cloneAccount(current)

	entry, err := fn(acct)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return cloneAccount(current), nil
	}

	if entry.ID == "" || acct.BalanceCents < 0 || entry.BalanceAfter != acct.BalanceCents {
		return nil, storage.ErrInvalidInput
	}
	if _, exists := s.ids[entry.ID]; exists {
		return nil, storage.ErrDuplicateKey
	}
	marksDeposit := entry.Type == domain.CreditTxDeposit && entry.TxHash != nil
	if marksDeposit {
		if _, exists := s.processed[*entry.TxHash]; exists {
			return nil, storage.ErrDuplicateKey
		}
	}

	s.accounts[wallet] = acct
	e := *entry
	s.entries[wallet] = append(s.entries[wallet], &e)
	s.ids[entry.ID] = struct{}{}
	if marksDeposit {
		s.processed[*entry.TxHash] = struct{}{}
	}
	return cloneAccount(acct), nil
}

// IsDepositProcessed reports whether txHash has been credited.
func (s *CreditStore) IsDepositProcessed(_ context.Context, txHash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.processed[txHash]
	return ok, nil
}

// Transactions returns entries newest first.
func (s *CreditStore) Transactions(_ context.Context, wallet string, limit, offset int) ([]*domain.CreditTransaction, error) {
	if limit <= 0 || offset < 0 {
		return nil, storage.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.entries[wallet]
	result := make([]*domain.CreditTransaction, 0, limit)
	for i := len(all) - 1 - offset; i >= 0 && len(result) < limit; i-- {
		e := *all[i]
		result = append(result, &e)
	}
	return result, nil
}

// Totals aggregates a wallet's ledger.
func (s *CreditStore) Totals(_ context.Context, wallet string) (*storage.CreditTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t := &storage.CreditTotals{}
	for _, e := range s.entries[wallet] {
		t.TransactionCount++
		switch e.Type {
		case domain.CreditTxDeposit:
			t.Deposited += e.AmountCents
		case domain.CreditTxDeduction:
			t.Spent -= e.AmountCents
		case domain.CreditTxRefund:
			t.Refunded += e.AmountCents
		case domain.CreditTxExpiry:
			t.Expired -= e.AmountCents
		}
	}
	return t, nil
}

// ExpiryCandidates returns wallets with balance > 0 and ExpiresAt <= now, sorted.
func (s *CreditStore) ExpiryCandidates(_ context.Context, now int64) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var wallets []string
	for w, a := range s.accounts {
		if a.BalanceCents > 0 && a.ExpiresAt != nil && *a.ExpiresAt <= now {
			wallets = append(wallets, w)
		}
	}
	sort.Strings(wallets)
	return wallets, nil
}

func cloneAccount(a *domain.CreditAccount) *domain.CreditAccount {
	c := *a
	if a.ExpiresAt != nil {
		v := *a.ExpiresAt
		c.ExpiresAt = &v
	}
	return &c
}
