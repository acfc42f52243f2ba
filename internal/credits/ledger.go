// Package credits is the prepaid credits ledger: balances per wallet,
// idempotent deposit crediting, atomic deduction and scheduled expiry.
package credits

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dust-sweeper/internal/cache"
	"dust-sweeper/internal/domain"
	"dust-sweeper/internal/idhash"
	"dust-sweeper/internal/logger"
	"dust-sweeper/internal/observability"
	"dust-sweeper/internal/storage"
)

// Default ledger policy.
const (
	DefaultMinDepositCents = 100
	DefaultMaxBalanceCents = 1_000_000
	DefaultExpiry          = 90 * 24 * time.Hour
	DefaultBalanceCacheTTL = 60 * time.Second

	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 100

	// MicrosPerCent converts USDC base units (6 decimals) to cents.
	MicrosPerCent = 10_000
)

// Soft failure reasons reported in results.
const (
	ReasonInsufficientCredits = "insufficient credits"
	ReasonAlreadyProcessed    = "already processed"
	ReasonBelowMinimum        = "below minimum deposit"
	ReasonMaxBalance          = "maximum balance exceeded"
	ReasonAccountNotFound     = "account not found"
)

// Deposit origins, used for metrics and logs.
const (
	OriginWebhook = "webhook"
	OriginChain   = "chain"
	OriginNATS    = "nats"
	OriginManual  = "manual"
)

const balanceKeyPrefix = "credits:balance:"

var (
	// ErrInvalidWallet is returned for a malformed wallet address.
	ErrInvalidWallet = errors.New("invalid wallet address")

	// ErrInvalidAmount is returned for a non-positive or malformed amount.
	ErrInvalidAmount = errors.New("invalid amount")

	// errRejected aborts an account update without writing.
	errRejected = errors.New("rejected")
)

// Config holds ledger policy.
type Config struct {
	MinDepositCents int64
	MaxBalanceCents int64
	Expiry          time.Duration
	BalanceCacheTTL time.Duration
}

// DefaultConfig returns default ledger policy.
func DefaultConfig() Config {
	return Config{
		MinDepositCents: DefaultMinDepositCents,
		MaxBalanceCents: DefaultMaxBalanceCents,
		Expiry:          DefaultExpiry,
		BalanceCacheTTL: DefaultBalanceCacheTTL,
	}
}

// Balance is a wallet's spendable credit.
type Balance struct {
	WalletAddress string `json:"walletAddress"`
	BalanceCents  int64  `json:"balanceCents"`
	ExpiresAt     *int64 `json:"expiresAt"`
}

// Result is the outcome of a balance mutation. A rejected mutation has
// Success false, a reason in Error and the unchanged balance.
type Result struct {
	Success    bool   `json:"success"`
	NewBalance int64  `json:"newBalance"`
	Error      string `json:"error,omitempty"`
}

// DepositResult is the outcome of crediting a deposit.
type DepositResult struct {
	Success      bool   `json:"success"`
	CreditsAdded int64  `json:"creditsAdded"`
	NewBalance   int64  `json:"newBalance"`
	Error        string `json:"error,omitempty"`
}

// Stats aggregates a wallet's ledger.
type Stats struct {
	WalletAddress    string `json:"walletAddress"`
	BalanceCents     int64  `json:"balanceCents"`
	ExpiresAt        *int64 `json:"expiresAt"`
	TotalDeposited   int64  `json:"totalDeposited"`
	TotalSpent       int64  `json:"totalSpent"`
	TotalRefunded    int64  `json:"totalRefunded"`
	TotalExpired     int64  `json:"totalExpired"`
	TransactionCount int    `json:"transactionCount"`
}

// AddOptions are optional attributes of a credit.
type AddOptions struct {
	TxHash      string
	Description string
	Origin      string
}

// Ledger is the CreditsLedger.
type Ledger struct {
	store  storage.CreditStore
	cache  cache.Cache
	config Config
	now    func() time.Time
	newID  func() string
	logger *logger.Logger
}

// Options for creating Ledger.
type Options struct {
	Store  storage.CreditStore
	Cache  cache.Cache // optional, balance cache
	Config *Config
	Now    func() time.Time
	NewID  func() string
	Logger *logger.Logger
}

// NewLedger creates a credits ledger.
func NewLedger(opts Options) *Ledger {
	cfg := DefaultConfig()
	if opts.Config != nil {
		cfg = *opts.Config
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &Ledger{
		store:  opts.Store,
		cache:  opts.Cache,
		config: cfg,
		now:    now,
		newID:  newID,
		logger: logger.OrNop(opts.Logger).WithComponent("credits-ledger"),
	}
}

// GetBalance returns the wallet's balance. Unknown wallets have zero balance.
func (l *Ledger) GetBalance(ctx context.Context, wallet string) (*Balance, error) {
	wallet, err := normalizeWallet(wallet)
	if err != nil {
		return nil, err
	}

	key := balanceKeyPrefix + wallet
	if l.cache != nil {
		var cached Balance
		ok, err := cache.GetJSON(ctx, l.cache, key, &cached)
		if err != nil {
			l.logger.Warn("balance cache read failed", zap.String("wallet", wallet), zap.Error(err))
		}
		observability.RecordCacheLookup("balance", ok)
		if ok {
			return &cached, nil
		}
	}

	bal := &Balance{WalletAddress: wallet}
	acct, err := l.store.GetAccount(ctx, wallet)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("get account: %w", err)
	default:
		bal.BalanceCents = acct.BalanceCents
		bal.ExpiresAt = acct.ExpiresAt
	}

	if l.cache != nil {
		if err := cache.SetJSON(ctx, l.cache, key, bal, l.config.BalanceCacheTTL); err != nil {
			l.logger.Warn("balance cache write failed", zap.String("wallet", wallet), zap.Error(err))
		}
	}
	return bal, nil
}

// Deduct spends amountCents for endpoint. Insufficient balance is a
// soft failure and writes nothing.
func (l *Ledger) Deduct(ctx context.Context, wallet string, amountCents int64, endpoint string) (*Result, error) {
	wallet, err := normalizeWallet(wallet)
	if err != nil {
		return nil, err
	}
	if amountCents <= 0 {
		return nil, fmt.Errorf("%w: deduction must be positive, got %d", ErrInvalidAmount, amountCents)
	}

	nowMs := l.now().UnixMilli()
	var current int64
	acct, err := l.update(ctx, "deduct", wallet, func(a *domain.CreditAccount) (*domain.CreditTransaction, error) {
		current = a.BalanceCents
		if a.BalanceCents < amountCents {
			return nil, errRejected
		}
		a.BalanceCents -= amountCents
		a.UpdatedAt = nowMs
		return &domain.CreditTransaction{
			ID:            idhash.ComputeTransactionID(wallet, domain.CreditTxDeduction, l.newID()),
			WalletAddress: wallet,
			Type:          domain.CreditTxDeduction,
			AmountCents:   -amountCents,
			BalanceAfter:  a.BalanceCents,
			Endpoint:      optional(endpoint),
			CreatedAt:     nowMs,
		}, nil
	})
	if errors.Is(err, errRejected) {
		return &Result{NewBalance: current, Error: ReasonInsufficientCredits}, nil
	}
	if err != nil {
		return nil, err
	}
	return &Result{Success: true, NewBalance: acct.BalanceCents}, nil
}

// AddCredits credits amountCents and pushes the expiry to now + Expiry.
// Amounts below the minimum deposit and credits that would lift the balance
// above the maximum are soft failures. A TxHash makes the credit idempotent.
func (l *Ledger) AddCredits(ctx context.Context, wallet string, amountCents int64, opts AddOptions) (*DepositResult, error) {
	wallet, err := normalizeWallet(wallet)
	if err != nil {
		return nil, err
	}
	if amountCents < l.config.MinDepositCents {
		observability.RecordLedgerOperation("add", "rejected")
		return &DepositResult{Error: fmt.Sprintf("%s of %d cents", ReasonBelowMinimum, l.config.MinDepositCents)}, nil
	}

	reference := l.newID()
	var txHash *string
	if opts.TxHash != "" {
		reference = idhash.DepositReference(opts.TxHash)
		txHash = &reference
	}

	now := l.now()
	nowMs := now.UnixMilli()
	expiresAt := now.Add(l.config.Expiry).UnixMilli()
	var current int64
	acct, err := l.update(ctx, "add", wallet, func(a *domain.CreditAccount) (*domain.CreditTransaction, error) {
		current = a.BalanceCents
		if a.BalanceCents+amountCents > l.config.MaxBalanceCents {
			return nil, errRejected
		}
		if a.CreatedAt == 0 {
			a.CreatedAt = nowMs
		}
		a.BalanceCents += amountCents
		a.ExpiresAt = &expiresAt
		a.UpdatedAt = nowMs
		return &domain.CreditTransaction{
			ID:            idhash.ComputeTransactionID(wallet, domain.CreditTxDeposit, reference),
			WalletAddress: wallet,
			Type:          domain.CreditTxDeposit,
			AmountCents:   amountCents,
			BalanceAfter:  a.BalanceCents,
			TxHash:        txHash,
			Description:   optional(opts.Description),
			CreatedAt:     nowMs,
		}, nil
	})
	switch {
	case errors.Is(err, errRejected):
		return &DepositResult{NewBalance: current, Error: ReasonMaxBalance}, nil
	case errors.Is(err, storage.ErrDuplicateKey):
		return &DepositResult{NewBalance: current, Error: ReasonAlreadyProcessed}, nil
	case err != nil:
		return nil, err
	}

	l.logger.Info("credits added",
		zap.String("wallet", wallet),
		zap.String("type", string(domain.CreditTxDeposit)),
		zap.Int64("amount_cents", amountCents),
		zap.Int64("balance_after", acct.BalanceCents),
		zap.String("origin", opts.Origin))
	return &DepositResult{Success: true, CreditsAdded: amountCents, NewBalance: acct.BalanceCents}, nil
}

// Refund returns amountCents to an existing account.
func (l *Ledger) Refund(ctx context.Context, wallet string, amountCents int64, reason string) (*Result, error) {
	wallet, err := normalizeWallet(wallet)
	if err != nil {
		return nil, err
	}
	if amountCents <= 0 {
		return nil, fmt.Errorf("%w: refund must be positive, got %d", ErrInvalidAmount, amountCents)
	}

	nowMs := l.now().UnixMilli()
	acct, err := l.update(ctx, "refund", wallet, func(a *domain.CreditAccount) (*domain.CreditTransaction, error) {
		if a.CreatedAt == 0 {
			return nil, errRejected
		}
		a.BalanceCents += amountCents
		a.UpdatedAt = nowMs
		return &domain.CreditTransaction{
			ID:            idhash.ComputeTransactionID(wallet, domain.CreditTxRefund, l.newID()),
			WalletAddress: wallet,
			Type:          domain.CreditTxRefund,
			AmountCents:   amountCents,
			BalanceAfter:  a.BalanceCents,
			Description:   optional(reason),
			CreatedAt:     nowMs,
		}, nil
	})
	if errors.Is(err, errRejected) {
		return &Result{Error: ReasonAccountNotFound}, nil
	}
	if err != nil {
		return nil, err
	}

	l.logger.Info("credits refunded",
		zap.String("wallet", wallet),
		zap.String("type", string(domain.CreditTxRefund)),
		zap.Int64("amount_cents", amountCents),
		zap.Int64("balance_after", acct.BalanceCents))
	return &Result{Success: true, NewBalance: acct.BalanceCents}, nil
}

// ProcessDepositWebhook credits a USDC deposit reported by the payment
// webhook. See ProcessDeposit.
func (l *Ledger) ProcessDepositWebhook(ctx context.Context, wallet, txHash, amountRaw string) (*DepositResult, error) {
	return l.ProcessDeposit(ctx, OriginWebhook, wallet, txHash, amountRaw)
}

// ProcessDeposit converts amountRaw USDC base units to cents and credits
// them once per txHash. A replayed txHash is a soft failure with reason
// "already processed" and leaves the balance unchanged.
func (l *Ledger) ProcessDeposit(ctx context.Context, origin, wallet, txHash, amountRaw string) (res *DepositResult, err error) {
	defer func() {
		switch {
		case err != nil:
			observability.RecordDeposit(origin, "error")
		case res.Success:
			observability.RecordDeposit(origin, "credited")
		case res.Error == ReasonAlreadyProcessed:
			observability.RecordDeposit(origin, "duplicate")
		default:
			observability.RecordDeposit(origin, "rejected")
		}
	}()

	if strings.TrimSpace(txHash) == "" {
		return nil, fmt.Errorf("%w: missing tx hash", ErrInvalidAmount)
	}
	cents, err := MicrosToCents(amountRaw)
	if err != nil {
		return nil, err
	}

	// Cheap pre-check; the store re-checks the marker inside the update.
	processed, err := l.store.IsDepositProcessed(ctx, idhash.DepositReference(txHash))
	if err != nil {
		return nil, fmt.Errorf("check deposit: %w", err)
	}
	if processed {
		l.logger.Info("deposit already processed",
			zap.String("tx_hash", txHash),
			zap.String("origin", origin))
		return &DepositResult{Error: ReasonAlreadyProcessed}, nil
	}

	return l.AddCredits(ctx, wallet, cents, AddOptions{
		TxHash:      txHash,
		Description: fmt.Sprintf("USDC deposit (%s)", origin),
		Origin:      origin,
	})
}

// MicrosToCents converts a decimal string of USDC base units to cents,
// truncating sub-cent remainders.
func MicrosToCents(amountRaw string) (int64, error) {
	raw, ok := new(big.Int).SetString(strings.TrimSpace(amountRaw), 10)
	if !ok || raw.Sign() < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, amountRaw)
	}
	cents := raw.Quo(raw, big.NewInt(MicrosPerCent))
	if !cents.IsInt64() {
		return 0, fmt.Errorf("%w: %q out of range", ErrInvalidAmount, amountRaw)
	}
	return cents.Int64(), nil
}

// ExpireOldCredits zeroes every account whose expiry has passed, recording
// one expiry entry each. Returns how many accounts were expired.
func (l *Ledger) ExpireOldCredits(ctx context.Context) (int, error) {
	nowMs := l.now().UnixMilli()
	wallets, err := l.store.ExpiryCandidates(ctx, nowMs)
	if err != nil {
		return 0, fmt.Errorf("list expiry candidates: %w", err)
	}

	expired := 0
	for _, wallet := range wallets {
		var amount int64
		acct, err := l.update(ctx, "expire", wallet, func(a *domain.CreditAccount) (*domain.CreditTransaction, error) {
			// Re-check under the lock; a deposit may have extended it.
			if a.BalanceCents <= 0 || a.ExpiresAt == nil || *a.ExpiresAt > nowMs {
				return nil, nil
			}
			amount = a.BalanceCents
			ref := idhash.ExpiryReference(*a.ExpiresAt, a.UpdatedAt)
			a.BalanceCents = 0
			a.UpdatedAt = nowMs
			return &domain.CreditTransaction{
				ID:            idhash.ComputeTransactionID(wallet, domain.CreditTxExpiry, ref),
				WalletAddress: wallet,
				Type:          domain.CreditTxExpiry,
				AmountCents:   -amount,
				BalanceAfter:  0,
				Description:   optional("credits expired"),
				CreatedAt:     nowMs,
			}, nil
		})
		if errors.Is(err, storage.ErrDuplicateKey) {
			continue
		}
		if err != nil {
			return expired, fmt.Errorf("expire %s: %w", wallet, err)
		}
		if amount == 0 {
			continue
		}
		expired++
		l.logger.Info("credits expired",
			zap.String("wallet", wallet),
			zap.String("type", string(domain.CreditTxExpiry)),
			zap.Int64("amount_cents", -amount),
			zap.Int64("balance_after", acct.BalanceCents))
	}

	observability.RecordCreditsExpired(expired)
	return expired, nil
}

// History returns the wallet's ledger entries, newest first. limit is
// clamped to 1..MaxHistoryLimit; zero means DefaultHistoryLimit.
func (l *Ledger) History(ctx context.Context, wallet string, limit, offset int) ([]*domain.CreditTransaction, error) {
	wallet, err := normalizeWallet(wallet)
	if err != nil {
		return nil, err
	}
	switch {
	case limit <= 0:
		limit = DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}

	txs, err := l.store.Transactions(ctx, wallet, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txs, nil
}

// Stats returns balance and ledger totals for the wallet.
func (l *Ledger) Stats(ctx context.Context, wallet string) (*Stats, error) {
	bal, err := l.GetBalance(ctx, wallet)
	if err != nil {
		return nil, err
	}
	totals, err := l.store.Totals(ctx, bal.WalletAddress)
	if err != nil {
		return nil, fmt.Errorf("ledger totals: %w", err)
	}
	return &Stats{
		WalletAddress:    bal.WalletAddress,
		BalanceCents:     bal.BalanceCents,
		ExpiresAt:        bal.ExpiresAt,
		TotalDeposited:   totals.Deposited,
		TotalSpent:       totals.Spent,
		TotalRefunded:    totals.Refunded,
		TotalExpired:     totals.Expired,
		TransactionCount: totals.TransactionCount,
	}, nil
}

// update runs fn through the store and drops the cached balance after
// any committed change.
func (l *Ledger) update(ctx context.Context, op, wallet string, fn storage.AccountUpdate) (*domain.CreditAccount, error) {
	acct, err := l.store.Update(ctx, wallet, fn)
	switch {
	case errors.Is(err, errRejected), errors.Is(err, storage.ErrDuplicateKey):
		observability.RecordLedgerOperation(op, "rejected")
		return nil, err
	case err != nil:
		observability.RecordLedgerOperation(op, "error")
		return nil, fmt.Errorf("%s credits: %w", op, err)
	}
	observability.RecordLedgerOperation(op, "ok")
	l.invalidate(ctx, wallet)
	return acct, nil
}

func (l *Ledger) invalidate(ctx context.Context, wallet string) {
	if l.cache == nil {
		return
	}
	if err := l.cache.Delete(ctx, balanceKeyPrefix+wallet); err != nil {
		l.logger.Warn("balance cache invalidation failed", zap.String("wallet", wallet), zap.Error(err))
	}
}

func normalizeWallet(wallet string) (string, error) {
	w, err := domain.NormalizeWallet(wallet)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidWallet, err)
	}
	return w, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
