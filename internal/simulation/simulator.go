// Package simulation detects hidden transfer taxes and verifies swap output
// by simulating transactions before they are signed.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"dust-sweeper/internal/cache"
	"dust-sweeper/internal/domain"
	"dust-sweeper/internal/logger"
	"dust-sweeper/internal/observability"
)

// Default configuration values.
const (
	DefaultMaxHiddenTax         = 0.05
	DefaultSwapTolerancePercent = 5.0
	DefaultCacheTTL             = 5 * time.Minute
	DefaultTimeout              = 10 * time.Second

	// DefaultSinkRecipient receives simulated transfers.
	DefaultSinkRecipient = "0x000000000000000000000000000000000000dead"
)

// ErrInvalidAmount is returned for non-positive simulation amounts.
var ErrInvalidAmount = errors.New("amount must be positive")

// Config holds simulator thresholds.
type Config struct {
	// MaxHiddenTax is the largest tolerated transfer tax, as a fraction.
	MaxHiddenTax         float64
	SwapTolerancePercent float64
	CacheTTL             time.Duration
	Timeout              time.Duration
	SinkRecipient        string
}

// DefaultConfig returns default simulator settings.
func DefaultConfig() Config {
	return Config{
		MaxHiddenTax:         DefaultMaxHiddenTax,
		SwapTolerancePercent: DefaultSwapTolerancePercent,
		CacheTTL:             DefaultCacheTTL,
		Timeout:              DefaultTimeout,
		SinkRecipient:        DefaultSinkRecipient,
	}
}

// TaxResult is the outcome of SimulateTransferTax.
type TaxResult struct {
	// HiddenTax is the fraction of the amount lost in transfer, 0..1.
	HiddenTax      float64  `json:"hiddenTax"`
	ActualReceived *big.Int `json:"actualReceived"`
	ExpectedAmount *big.Int `json:"expectedAmount"`
	// Assumed is set when no backend answered and zero tax was assumed.
	Assumed      bool    `json:"assumed"`
	Backend      string  `json:"backend,omitempty"`
	RevertReason *string `json:"revertReason,omitempty"`
}

// SwapOutcome is the outcome of ValidateSwapOutcome.
type SwapOutcome struct {
	Valid           bool     `json:"valid"`
	SimulatedOutput *big.Int `json:"simulatedOutput"`
	// Deviation from the expected output, in percent.
	Deviation    float64 `json:"deviation"`
	Assumed      bool    `json:"assumed"`
	Backend      string  `json:"backend,omitempty"`
	RevertReason *string `json:"revertReason,omitempty"`
}

// ProceedRequest describes the checks for ShouldProceedWithSweep.
type ProceedRequest struct {
	Transfer domain.TransferSimulation
	// Swap is optional; when set ExpectedOutput must be set too.
	Swap             *domain.SwapSimulation
	ExpectedOutput   *big.Int
	TolerancePercent float64 // 0 uses the configured tolerance
}

// ProceedDecision composes the tax and swap checks.
type ProceedDecision struct {
	Proceed          bool         `json:"proceed"`
	RequiresApproval bool         `json:"requiresApproval"`
	Reasons          []string     `json:"reasons,omitempty"`
	Tax              *TaxResult   `json:"tax,omitempty"`
	Swap             *SwapOutcome `json:"swap,omitempty"`
}

// Simulator runs simulations on a remote backend with a local fallback.
// When both fail it assumes success: simulator outages must not block
// sweeps, and the Assumed flag makes the caller ask for approval.
type Simulator struct {
	remote Backend
	local  Backend
	cache  cache.Cache
	config Config
	logger *logger.Logger
}

// Options for creating Simulator.
type Options struct {
	Remote Backend     // optional
	Local  Backend     // optional
	Cache  cache.Cache // optional
	Config *Config
	Logger *logger.Logger
}

// NewSimulator creates a transaction simulator.
func NewSimulator(opts Options) *Simulator {
	cfg := DefaultConfig()
	if opts.Config != nil {
		cfg = *opts.Config
	}
	if cfg.SinkRecipient == "" {
		cfg.SinkRecipient = DefaultSinkRecipient
	}
	return &Simulator{
		remote: opts.Remote,
		local:  opts.Local,
		cache:  opts.Cache,
		config: cfg,
		logger: logger.OrNop(opts.Logger).WithComponent("tx-simulator"),
	}
}

// SimulateTransferTax simulates transferring sim.Amount of sim.Token and
// measures how much arrives. An empty sim.To uses the sink recipient.
// A reverting transfer is reported as a 100% tax.
func (s *Simulator) SimulateTransferTax(ctx context.Context, sim domain.TransferSimulation) (*TaxResult, error) {
	if err := sim.Token.Validate(); err != nil {
		return nil, err
	}
	if sim.Amount == nil || sim.Amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if sim.To == "" {
		sim.To = s.config.SinkRecipient
	}

	key := fmt.Sprintf("sim:transfer:%s:%s:%s", sim.Token.Key(), domain.NormalizeAddress(sim.From), sim.Amount)
	var cached TaxResult
	if s.lookup(ctx, key, &cached) {
		return &cached, nil
	}

	res, backend := s.run(ctx, func(b Backend, ctx context.Context) (*domain.SimulationResult, error) {
		return b.SimulateTransfer(ctx, sim)
	})

	expected := new(big.Int).Set(sim.Amount)
	if res == nil {
		s.logger.Warn("transfer simulation unavailable, assuming no tax",
			zap.String("token", sim.Token.Key()))
		return &TaxResult{
			ActualReceived: new(big.Int).Set(expected),
			ExpectedAmount: expected,
			Assumed:        true,
		}, nil
	}

	out := &TaxResult{ExpectedAmount: expected, Backend: backend, RevertReason: res.RevertReason}
	switch {
	case !res.Success:
		out.HiddenTax = 1
		out.ActualReceived = new(big.Int)
	default:
		received := res.OutputAmount
		if received == nil {
			received = expected
		}
		out.ActualReceived = new(big.Int).Set(received)
		out.HiddenTax = lossFraction(expected, received)
	}

	s.store(ctx, key, out)
	return out, nil
}

// HasHiddenTransferFee reports whether the tax exceeds the configured maximum.
func (s *Simulator) HasHiddenTransferFee(res *TaxResult) bool {
	return res != nil && res.HiddenTax > s.config.MaxHiddenTax
}

// ValidateSwapOutcome simulates a swap and compares its output with
// expectedOutput. tolerancePercent <= 0 uses the configured tolerance.
func (s *Simulator) ValidateSwapOutcome(ctx context.Context, sim domain.SwapSimulation, expectedOutput *big.Int, tolerancePercent float64) (*SwapOutcome, error) {
	if !sim.Chain.Valid() {
		return nil, domain.ErrUnsupportedChain
	}
	if err := domain.ValidateAddress(sim.Chain, sim.Aggregator); err != nil {
		return nil, err
	}
	if expectedOutput == nil || expectedOutput.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if tolerancePercent <= 0 {
		tolerancePercent = s.config.SwapTolerancePercent
	}

	key := fmt.Sprintf("sim:swap:%s:%s:%s:%s",
		sim.Chain, domain.NormalizeAddress(sim.Aggregator), domain.NormalizeAddress(sim.From),
		crypto.Keccak256Hash(sim.Calldata).Hex())

	var res *domain.SimulationResult
	var backend string
	var cached domain.SimulationResult
	if s.lookup(ctx, key, &cached) {
		res, backend = &cached, "cache"
	} else {
		res, backend = s.run(ctx, func(b Backend, ctx context.Context) (*domain.SimulationResult, error) {
			return b.SimulateSwap(ctx, sim)
		})
		if res != nil {
			s.store(ctx, key, res)
		}
	}

	if res == nil {
		s.logger.Warn("swap simulation unavailable, assuming expected output",
			zap.String("chain", sim.Chain.String()),
			zap.String("aggregator", sim.Aggregator))
		return &SwapOutcome{
			Valid:           true,
			SimulatedOutput: new(big.Int).Set(expectedOutput),
			Assumed:         true,
		}, nil
	}

	out := &SwapOutcome{Backend: backend, RevertReason: res.RevertReason}
	if !res.Success || res.OutputAmount == nil {
		out.SimulatedOutput = new(big.Int)
		out.Deviation = 100
		return out, nil
	}

	out.SimulatedOutput = new(big.Int).Set(res.OutputAmount)
	diff := new(big.Int).Sub(res.OutputAmount, expectedOutput)
	out.Deviation = ratio(diff.Abs(diff).Mul(diff, big.NewInt(100)), expectedOutput)
	out.Valid = out.Deviation <= tolerancePercent
	return out, nil
}

// ShouldProceedWithSweep runs the tax check and, when a swap is supplied,
// the swap check. It refuses only on a tax above the maximum or a swap
// outside tolerance. Any detected tax or assumed result requires approval.
func (s *Simulator) ShouldProceedWithSweep(ctx context.Context, req ProceedRequest) (*ProceedDecision, error) {
	tax, err := s.SimulateTransferTax(ctx, req.Transfer)
	if err != nil {
		return nil, err
	}

	d := &ProceedDecision{Proceed: true, Tax: tax}
	switch {
	case s.HasHiddenTransferFee(tax):
		d.Proceed = false
		d.Reasons = append(d.Reasons, fmt.Sprintf("hidden transfer tax %.2f%% exceeds %.2f%%",
			tax.HiddenTax*100, s.config.MaxHiddenTax*100))
		return d, nil
	case tax.Assumed:
		d.RequiresApproval = true
		d.Reasons = append(d.Reasons, "transfer simulation unavailable")
	case tax.HiddenTax > 0:
		d.RequiresApproval = true
		d.Reasons = append(d.Reasons, fmt.Sprintf("transfer tax %.2f%% detected", tax.HiddenTax*100))
	}

	if req.Swap == nil {
		return d, nil
	}

	swap, err := s.ValidateSwapOutcome(ctx, *req.Swap, req.ExpectedOutput, req.TolerancePercent)
	if err != nil {
		return nil, err
	}
	d.Swap = swap
	switch {
	case !swap.Valid:
		d.Proceed = false
		d.Reasons = append(d.Reasons, fmt.Sprintf("simulated swap output deviates %.2f%% from quote", swap.Deviation))
	case swap.Assumed:
		d.RequiresApproval = true
		d.Reasons = append(d.Reasons, "swap simulation unavailable")
	}
	return d, nil
}

// run tries the remote backend, then the local one. Returns nil when both fail.
func (s *Simulator) run(ctx context.Context, fn func(Backend, context.Context) (*domain.SimulationResult, error)) (*domain.SimulationResult, string) {
	for _, b := range []Backend{s.remote, s.local} {
		if b == nil {
			continue
		}
		bctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
		start := time.Now()
		res, err := fn(b, bctx)
		cancel()
		observability.RecordSourceCall("simulation", b.Name(), time.Since(start).Seconds(), err)
		if err != nil {
			s.logger.Warn("simulation backend failed", zap.String("backend", b.Name()), zap.Error(err))
			continue
		}
		if res != nil {
			return res, b.Name()
		}
	}
	return nil, ""
}

func (s *Simulator) lookup(ctx context.Context, key string, dst interface{}) bool {
	if s.cache == nil {
		return false
	}
	ok, err := cache.GetJSON(ctx, s.cache, key, dst)
	if err != nil {
		s.logger.Warn("simulation cache read failed", zap.Error(err))
	}
	observability.RecordCacheLookup("simulation", ok)
	return ok
}

func (s *Simulator) store(ctx context.Context, key string, v interface{}) {
	if s.cache == nil {
		return
	}
	if err := cache.SetJSON(ctx, s.cache, key, v, s.config.CacheTTL); err != nil {
		s.logger.Warn("simulation cache write failed", zap.Error(err))
	}
}

// lossFraction returns (expected - received) / expected, floored at 0.
func lossFraction(expected, received *big.Int) float64 {
	if received.Cmp(expected) >= 0 {
		return 0
	}
	return ratio(new(big.Int).Sub(expected, received), expected)
}

func ratio(num, den *big.Int) float64 {
	f, _ := new(big.Rat).SetFrac(num, den).Float64()
	return math.Round(f*1e6) / 1e6
}
