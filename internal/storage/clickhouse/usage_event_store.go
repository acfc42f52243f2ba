package clickhouse

import (
	"context"
	"fmt"
	"time"

	"dust-sweeper/internal/domain"
	"dust-sweeper/internal/observability"
	"dust-sweeper/internal/storage"
)

// UsageEventStore implements storage.UsageEventStore using ClickHouse.
type UsageEventStore struct {
	conn *Conn
}

// NewUsageEventStore creates a new UsageEventStore.
func NewUsageEventStore(conn *Conn) *UsageEventStore {
	return &UsageEventStore{conn: conn}
}

// Compile-time interface check.
var _ storage.UsageEventStore = (*UsageEventStore)(nil)

// Insert adds an event. MergeTree does not enforce keys, so event_id is
// checked explicitly before the insert.
func (s *UsageEventStore) Insert(ctx context.Context, e *domain.UsageEvent) (err error) {
	if e == nil || e.EventID == "" {
		return storage.ErrInvalidInput
	}

	start := time.Now()
	defer func() {
		observability.RecordDBQuery("clickhouse", "usage_insert", time.Since(start).Seconds(), err)
	}()

	exists, err := s.exists(ctx, e.EventID)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists {
		return storage.ErrDuplicateKey
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO usage_events (
			event_id, wallet_address, endpoint, method, cost_cents,
			payment_type, response_status, response_time_ms, created_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	err = batch.Append(
		e.EventID, e.WalletAddress, e.Endpoint, e.Method, e.CostCents,
		string(e.PaymentType), uint16(e.ResponseStatus), e.ResponseTimeMs, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append to batch: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByWallet retrieves a wallet's events within [start, end] (inclusive), ordered by created_at ASC.
func (s *UsageEventStore) GetByWallet(ctx context.Context, wallet string, start, end int64) ([]*domain.UsageEvent, error) {
	query := `
		SELECT event_id, wallet_address, endpoint, method, cost_cents,
		       payment_type, response_status, response_time_ms, created_at
		FROM usage_events FINAL
		WHERE wallet_address = ? AND created_at >= ? AND created_at <= ?
		ORDER BY created_at ASC, event_id ASC
	`

	rows, err := s.conn.Query(ctx, query, wallet, start, end)
	if err != nil {
		return nil, fmt.Errorf("query by wallet: %w", err)
	}
	defer rows.Close()

	return scanUsageEvents(rows)
}

func (s *UsageEventStore) exists(ctx context.Context, eventID string) (bool, error) {
	var count uint64
	err := s.conn.QueryRow(ctx, `SELECT count(*) FROM usage_events WHERE event_id = ?`, eventID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func scanUsageEvents(rows chRows) ([]*domain.UsageEvent, error) {
	var events []*domain.UsageEvent

	for rows.Next() {
		var e domain.UsageEvent
		var paymentType string
		var status uint16

		err := rows.Scan(
			&e.EventID, &e.WalletAddress, &e.Endpoint, &e.Method, &e.CostCents,
			&paymentType, &status, &e.ResponseTimeMs, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan usage event: %w", err)
		}
		e.PaymentType = domain.PaymentType(paymentType)
		e.ResponseStatus = int(status)
		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return events, nil
}
