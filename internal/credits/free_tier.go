package credits

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"dust-sweeper/internal/cache"
	"dust-sweeper/internal/logger"
)

// Free tier defaults.
const (
	DefaultFreeTierLimit  = 10
	DefaultFreeTierWindow = 24 * time.Hour
)

const freeTierKeyPrefix = "credits:free:"

// FreeTier grants a number of priced requests per caller per window without
// touching the ledger. The window opens on the caller's first free request.
// Counts live in the cache, so an evicted entry starts a fresh window.
type FreeTier struct {
	cache  cache.Cache
	limit  int
	window time.Duration
	now    func() time.Time
	logger *logger.Logger

	// Serializes read-modify-write per process. Replicas sharing Redis may
	// grant a few extra requests under contention.
	mu sync.Mutex
}

// FreeTierOptions for creating FreeTier.
type FreeTierOptions struct {
	Cache  cache.Cache
	Limit  int           // <= 0 disables the free tier
	Window time.Duration // DefaultFreeTierWindow if zero
	Now    func() time.Time
	Logger *logger.Logger
}

// freeTierUsage is the cached counter for one caller.
type freeTierUsage struct {
	Used    int   `json:"used"`
	ResetAt int64 `json:"resetAt"` // unix ms
}

// NewFreeTier returns nil when the options disable the free tier. A nil
// *FreeTier grants nothing.
func NewFreeTier(opts FreeTierOptions) *FreeTier {
	if opts.Cache == nil || opts.Limit <= 0 {
		return nil
	}
	window := opts.Window
	if window <= 0 {
		window = DefaultFreeTierWindow
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &FreeTier{
		cache:  opts.Cache,
		limit:  opts.Limit,
		window: window,
		now:    now,
		logger: logger.OrNop(opts.Logger).WithComponent("free-tier"),
	}
}

// Limit returns the allowance per window.
func (f *FreeTier) Limit() int {
	if f == nil {
		return 0
	}
	return f.limit
}

// Use consumes one free request for id and returns how many remain. It
// reports false once the allowance for the current window is spent.
func (f *FreeTier) Use(ctx context.Context, id string) (bool, int, error) {
	if f == nil || id == "" {
		return false, 0, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now().UnixMilli()
	u, err := f.load(ctx, id, now)
	if err != nil {
		return false, 0, err
	}
	if u.Used >= f.limit {
		return false, 0, nil
	}
	u.Used++
	if err := f.store(ctx, id, u, now); err != nil {
		return false, 0, err
	}
	return true, f.limit - u.Used, nil
}

// Release gives back one request taken by Use, for a request rejected
// before doing any work.
func (f *FreeTier) Release(ctx context.Context, id string) {
	if f == nil || id == "" {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now().UnixMilli()
	u, err := f.load(ctx, id, now)
	if err == nil && u.Used > 0 {
		u.Used--
		err = f.store(ctx, id, u, now)
	}
	if err != nil {
		f.logger.Warn("free request not released", zap.String("caller", id), zap.Error(err))
	}
}

// load returns the counter for id, or a fresh window when none is active.
func (f *FreeTier) load(ctx context.Context, id string, now int64) (freeTierUsage, error) {
	var u freeTierUsage
	ok, err := cache.GetJSON(ctx, f.cache, freeTierKeyPrefix+id, &u)
	if err != nil {
		return u, err
	}
	if !ok || u.ResetAt <= now {
		u = freeTierUsage{ResetAt: now + f.window.Milliseconds()}
	}
	return u, nil
}

func (f *FreeTier) store(ctx context.Context, id string, u freeTierUsage, now int64) error {
	ttl := time.Duration(u.ResetAt-now) * time.Millisecond
	return cache.SetJSON(ctx, f.cache, freeTierKeyPrefix+id, u, ttl)
}
