package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"dust-sweeper/internal/domain"
	"dust-sweeper/internal/storage"
)

// CreditStore implements storage.CreditStore using PostgreSQL.
// Update serializes per wallet with SELECT ... FOR UPDATE inside one
// transaction that spans the balance write, the ledger insert and the
// processed-deposit marker.
type CreditStore struct {
	pool *Pool
}

// NewCreditStore creates a new CreditStore.
func NewCreditStore(pool *Pool) *CreditStore {
	return &CreditStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CreditStore = (*CreditStore)(nil)

const accountColumns = `wallet_address, balance_cents, expires_at, created_at, updated_at`

// GetAccount retrieves an account. Returns ErrNotFound if not exists.
func (s *CreditStore) GetAccount(ctx context.Context, wallet string) (acct *domain.CreditAccount, err error) {
	defer func(start time.Time) { observe("account_get", start, err) }(time.Now())

	query := `SELECT ` + accountColumns + ` FROM credit_accounts WHERE wallet_address = $1`
	acct, err = scanAccount(s.pool.QueryRow(ctx, query, wallet))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return acct, nil
}

// Update applies fn inside a transaction holding the wallet's row lock.
func (s *CreditStore) Update(ctx context.Context, wallet string, fn storage.AccountUpdate) (acct *domain.CreditAccount, err error) {
	if wallet == "" || fn == nil {
		return nil, storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("account_update", start, err) }(time.Now())

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// 1. Ensure the row exists, then lock it. The placeholder is rolled back
	// with everything else if fn aborts.
	_, err = tx.Exec(ctx, `
		INSERT INTO credit_accounts (wallet_address, balance_cents, created_at, updated_at)
		VALUES ($1, 0, 0, 0)
		ON CONFLICT (wallet_address) DO NOTHING
	`, wallet)
	if err != nil {
		return nil, fmt.Errorf("ensure account: %w", err)
	}

	current, err := scanAccount(tx.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM credit_accounts WHERE wallet_address = $1 FOR UPDATE`, wallet))
	if err != nil {
		return nil, fmt.Errorf("lock account: %w", err)
	}

	// 2. Apply
	next := *current
	if current.ExpiresAt != nil {
		v := *current.ExpiresAt
		next.ExpiresAt = &v
	}
	entry, err := fn(&next)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return current, nil
	}
	if entry.ID == "" || next.BalanceCents < 0 || entry.BalanceAfter != next.BalanceCents {
		return nil, storage.ErrInvalidInput
	}

	// 3. Write balance, entry and marker
	_, err = tx.Exec(ctx, `
		UPDATE credit_accounts
		SET balance_cents = $2, expires_at = $3, created_at = $4, updated_at = $5
		WHERE wallet_address = $1
	`, wallet, next.BalanceCents, next.ExpiresAt, next.CreatedAt, next.UpdatedAt)
	if err != nil {
		if isCheckViolation(err) {
			return nil, storage.ErrInvalidInput
		}
		return nil, fmt.Errorf("update account: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO credit_transactions (
			id, wallet_address, type, amount_cents, balance_after,
			endpoint, tx_hash, description, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, entry.ID, wallet, string(entry.Type), entry.AmountCents, entry.BalanceAfter,
		entry.Endpoint, entry.TxHash, entry.Description, entry.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, storage.ErrDuplicateKey
		}
		return nil, fmt.Errorf("insert transaction: %w", err)
	}

	if entry.Type == domain.CreditTxDeposit && entry.TxHash != nil {
		_, err = tx.Exec(ctx, `
			INSERT INTO processed_deposits (tx_hash, wallet_address, transaction_id, processed_at)
			VALUES ($1, $2, $3, $4)
		`, *entry.TxHash, wallet, entry.ID, entry.CreatedAt)
		if err != nil {
			if isDuplicateKeyError(err) {
				return nil, storage.ErrDuplicateKey
			}
			return nil, fmt.Errorf("mark deposit processed: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &next, nil
}

// IsDepositProcessed reports whether txHash has been credited.
func (s *CreditStore) IsDepositProcessed(ctx context.Context, txHash string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM processed_deposits WHERE tx_hash = $1)`, txHash).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check processed deposit: %w", err)
	}
	return exists, nil
}

// Transactions returns entries newest first.
func (s *CreditStore) Transactions(ctx context.Context, wallet string, limit, offset int) ([]*domain.CreditTransaction, error) {
	if limit <= 0 || offset < 0 {
		return nil, storage.ErrInvalidInput
	}

	query := `
		SELECT id, wallet_address, type, amount_cents, balance_after,
		       endpoint, tx_hash, description, created_at
		FROM credit_transactions
		WHERE wallet_address = $1
		ORDER BY seq DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := s.pool.Query(ctx, query, wallet, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var result []*domain.CreditTransaction
	for rows.Next() {
		var t domain.CreditTransaction
		var typ string
		if err := rows.Scan(
			&t.ID, &t.WalletAddress, &typ, &t.AmountCents, &t.BalanceAfter,
			&t.Endpoint, &t.TxHash, &t.Description, &t.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		t.Type = domain.CreditTxType(typ)
		result = append(result, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return result, nil
}

// Totals aggregates a wallet's ledger.
func (s *CreditStore) Totals(ctx context.Context, wallet string) (*storage.CreditTotals, error) {
	query := `
		SELECT
			COALESCE(SUM(amount_cents) FILTER (WHERE type = 'deposit'), 0),
			COALESCE(-SUM(amount_cents) FILTER (WHERE type = 'deduction'), 0),
			COALESCE(SUM(amount_cents) FILTER (WHERE type = 'refund'), 0),
			COALESCE(-SUM(amount_cents) FILTER (WHERE type = 'expiry'), 0),
			COUNT(*)
		FROM credit_transactions
		WHERE wallet_address = $1
	`
	var t storage.CreditTotals
	var count int64
	err := s.pool.QueryRow(ctx, query, wallet).Scan(&t.Deposited, &t.Spent, &t.Refunded, &t.Expired, &count)
	if err != nil {
		return nil, fmt.Errorf("query totals: %w", err)
	}
	t.TransactionCount = int(count)
	return &t, nil
}

// ExpiryCandidates returns wallets with balance > 0 and expires_at <= now, sorted.
func (s *CreditStore) ExpiryCandidates(ctx context.Context, now int64) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT wallet_address FROM credit_accounts
		WHERE balance_cents > 0 AND expires_at IS NOT NULL AND expires_at <= $1
		ORDER BY wallet_address
	`, now)
	if err != nil {
		return nil, fmt.Errorf("query expiry candidates: %w", err)
	}
	defer rows.Close()

	var wallets []string
	for rows.Next() {
		var w string
		if err := rows.Scan(&w); err != nil {
			return nil, fmt.Errorf("scan wallet: %w", err)
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

func scanAccount(row pgx.Row) (*domain.CreditAccount, error) {
	var a domain.CreditAccount
	if err := row.Scan(&a.WalletAddress, &a.BalanceCents, &a.ExpiresAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}
