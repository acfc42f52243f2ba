package credits

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"dust-sweeper/internal/logger"
)

// DefaultExpirySchedule runs expiry at the top of every hour.
const DefaultExpirySchedule = "@hourly"

// ExpiryJob runs ExpireOldCredits on a cron schedule.
type ExpiryJob struct {
	ledger  *Ledger
	cron    *cron.Cron
	timeout time.Duration
	logger  *logger.Logger
}

// NewExpiryJob schedules ledger expiry. schedule is a standard cron
// expression or descriptor such as "@hourly".
func NewExpiryJob(ledger *Ledger, schedule string, log *logger.Logger) (*ExpiryJob, error) {
	if schedule == "" {
		schedule = DefaultExpirySchedule
	}
	j := &ExpiryJob{
		ledger:  ledger,
		timeout: 5 * time.Minute,
		logger:  logger.OrNop(log).WithComponent("credits-expiry"),
	}
	j.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := j.cron.AddFunc(schedule, j.run); err != nil {
		return nil, fmt.Errorf("invalid expiry schedule %q: %w", schedule, err)
	}
	return j, nil
}

// Start begins scheduling in the background.
func (j *ExpiryJob) Start() {
	j.cron.Start()
	j.logger.Info("credits expiry scheduled")
}

// Stop stops scheduling and waits for a running job, bounded by ctx.
func (j *ExpiryJob) Stop(ctx context.Context) error {
	done := j.cron.Stop().Done()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce expires credits immediately.
func (j *ExpiryJob) RunOnce(ctx context.Context) (int, error) {
	return j.ledger.ExpireOldCredits(ctx)
}

func (j *ExpiryJob) run() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	start := time.Now()
	n, err := j.RunOnce(ctx)
	if err != nil {
		j.logger.Error("credits expiry failed", zap.Int("expired", n), zap.Error(err))
		return
	}
	j.logger.Info("credits expiry complete",
		zap.Int("expired", n),
		zap.Duration("duration", time.Since(start)))
}
