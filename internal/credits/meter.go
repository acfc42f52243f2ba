package credits

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"dust-sweeper/internal/domain"
	"dust-sweeper/internal/idhash"
	"dust-sweeper/internal/logger"
	"dust-sweeper/internal/storage"
)

// MeterResult is the outcome of metering one request.
type MeterResult struct {
	Allowed    bool   `json:"allowed"`
	NewBalance int64  `json:"newBalance"`
	CostCents  int64  `json:"costCents"`
	Error      string `json:"error,omitempty"`
}

// MeterRequest charges costCents for a call to endpoint. Free calls are
// allowed without touching the ledger.
func (l *Ledger) MeterRequest(ctx context.Context, wallet, endpoint string, costCents int64) (*MeterResult, error) {
	if costCents <= 0 {
		res := &MeterResult{Allowed: true}
		if wallet == "" {
			return res, nil
		}
		bal, err := l.GetBalance(ctx, wallet)
		if err != nil {
			return nil, err
		}
		res.NewBalance = bal.BalanceCents
		return res, nil
	}

	r, err := l.Deduct(ctx, wallet, costCents, endpoint)
	if err != nil {
		return nil, err
	}
	return &MeterResult{
		Allowed:    r.Success,
		NewBalance: r.NewBalance,
		CostCents:  costCents,
		Error:      r.Error,
	}, nil
}

// UsageRecorder writes usage events for metered requests.
type UsageRecorder struct {
	store  storage.UsageEventStore
	now    func() time.Time
	logger *logger.Logger
}

// NewUsageRecorder creates a recorder. A nil store disables recording.
func NewUsageRecorder(store storage.UsageEventStore, log *logger.Logger) *UsageRecorder {
	return &UsageRecorder{
		store:  store,
		now:    time.Now,
		logger: logger.OrNop(log).WithComponent("usage-recorder"),
	}
}

// Usage describes one completed request.
type Usage struct {
	RequestID      string
	WalletAddress  string
	Endpoint       string
	Method         string
	CostCents      int64
	Charged        bool
	ResponseStatus int
	ResponseTime   time.Duration
}

// Record stores the usage event. Failures are logged and returned.
func (r *UsageRecorder) Record(ctx context.Context, u Usage) error {
	if r == nil || r.store == nil {
		return nil
	}

	payment := domain.PaymentFree
	if u.Charged {
		payment = domain.PaymentCredits
	}
	createdAt := r.now().UnixMilli()
	e := &domain.UsageEvent{
		EventID:        idhash.ComputeUsageEventID(u.WalletAddress, u.Method, u.Endpoint, u.RequestID, createdAt),
		WalletAddress:  u.WalletAddress,
		Endpoint:       u.Endpoint,
		Method:         u.Method,
		CostCents:      u.CostCents,
		PaymentType:    payment,
		ResponseStatus: u.ResponseStatus,
		ResponseTimeMs: u.ResponseTime.Milliseconds(),
		CreatedAt:      createdAt,
	}
	if err := r.store.Insert(ctx, e); err != nil {
		r.logger.Warn("usage event not recorded",
			zap.String("wallet", u.WalletAddress),
			zap.String("endpoint", u.Endpoint),
			zap.Error(err))
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}
