// Package orchestrator runs the quote flow: request validation, the safety
// gate and route building, then quote storage.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"dust-sweeper/internal/domain"
	"dust-sweeper/internal/logger"
	"dust-sweeper/internal/observability"
	"dust-sweeper/internal/route"
)

// DefaultMaxTokens bounds how many tokens one quote request may carry.
const DefaultMaxTokens = 50

var (
	// ErrNoTokens is returned for a request without tokens.
	ErrNoTokens = errors.New("no tokens provided")

	// ErrTooManyTokens is returned when a request exceeds the token limit.
	ErrTooManyTokens = errors.New("too many tokens")

	// ErrDuplicateToken is returned when a token appears twice in a request.
	ErrDuplicateToken = errors.New("duplicate token")

	// ErrInvalidAmount is returned for a missing or non-positive token amount.
	ErrInvalidAmount = errors.New("invalid token amount")

	// ErrInvalidWallet is returned for a malformed wallet address.
	ErrInvalidWallet = errors.New("invalid wallet address")

	// ErrInvalidSlippage is returned for slippage outside 1..1000 bps.
	ErrInvalidSlippage = route.ErrInvalidSlippage
)

// QuoteBuilder builds quotes from validated requests.
type QuoteBuilder interface {
	BuildQuote(ctx context.Context, req route.Request) (*domain.Quote, error)
}

// QuoteStore persists quotes for their lifetime.
type QuoteStore interface {
	Put(ctx context.Context, q *domain.Quote, ttl time.Duration) error
	Get(ctx context.Context, id string) (*domain.Quote, error)
}

// Orchestrator coordinates the quote flow.
// Flow: validation → SafetyGate → RouteBuilder → QuoteStore
type Orchestrator struct {
	builder   QuoteBuilder
	quotes    QuoteStore
	ttl       time.Duration
	maxTokens int
	logger    *logger.Logger
}

// Options for creating Orchestrator.
type Options struct {
	Builder   QuoteBuilder
	Quotes    QuoteStore
	QuoteTTL  time.Duration // cache lifetime; zero caches until expiresAt
	MaxTokens int
	Logger    *logger.Logger
}

// New creates a new Orchestrator.
func New(opts Options) *Orchestrator {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Orchestrator{
		builder:   opts.Builder,
		quotes:    opts.Quotes,
		ttl:       opts.QuoteTTL,
		maxTokens: maxTokens,
		logger:    logger.OrNop(opts.Logger).WithComponent("orchestrator"),
	}
}

// QuoteRequest is a client's request for a sweep quote.
type QuoteRequest struct {
	Wallet      string
	Tokens      []route.TokenAmount
	Destination domain.Destination
	SlippageBps int
}

// RequestQuote validates req, builds the quote and stores it.
// Validation failures are returned before any check runs or anything is written.
func (o *Orchestrator) RequestQuote(ctx context.Context, req QuoteRequest) (q *domain.Quote, err error) {
	defer func() { observability.RecordQuoteRequest(outcome(q, err)) }()

	// 1. Validate
	wallet, err := o.validate(req)
	if err != nil {
		return nil, err
	}

	// 2. Safety gate and route
	q, err = o.builder.BuildQuote(ctx, route.Request{
		Wallet:      wallet,
		Tokens:      req.Tokens,
		Destination: req.Destination,
		SlippageBps: req.SlippageBps,
	})
	if err != nil {
		return nil, fmt.Errorf("build quote: %w", err)
	}

	// 3. Store
	if err := o.quotes.Put(ctx, q, o.ttl); err != nil {
		return nil, fmt.Errorf("store quote: %w", err)
	}

	o.logger.Info("quote issued",
		zap.String("quote_id", q.ID),
		zap.String("wallet", wallet),
		zap.Int64("expires_at", q.ExpiresAt),
		zap.Bool("requires_approval", q.RequiresApproval))
	return q, nil
}

// GetQuote returns a stored quote while it is active.
func (o *Orchestrator) GetQuote(ctx context.Context, id string) (*domain.Quote, error) {
	return o.quotes.Get(ctx, id)
}

func (o *Orchestrator) validate(req QuoteRequest) (string, error) {
	wallet, err := domain.NormalizeWallet(req.Wallet)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidWallet, err)
	}
	if len(req.Tokens) == 0 {
		return "", ErrNoTokens
	}
	if len(req.Tokens) > o.maxTokens {
		return "", fmt.Errorf("%w: %d exceeds %d", ErrTooManyTokens, len(req.Tokens), o.maxTokens)
	}
	if req.SlippageBps < 0 || req.SlippageBps > route.MaxSlippageBps {
		return "", fmt.Errorf("%w: %d", ErrInvalidSlippage, req.SlippageBps)
	}

	seen := make(map[string]struct{}, len(req.Tokens))
	for i, t := range req.Tokens {
		if err := t.Token.Validate(); err != nil {
			return "", fmt.Errorf("token %d: %w", i, err)
		}
		if t.Amount == nil || t.Amount.Sign() <= 0 {
			return "", fmt.Errorf("token %d: %w", i, ErrInvalidAmount)
		}
		key := t.Token.Key()
		if _, dup := seen[key]; dup {
			return "", fmt.Errorf("%w: %s", ErrDuplicateToken, key)
		}
		seen[key] = struct{}{}
	}
	return wallet, nil
}

func outcome(q *domain.Quote, err error) string {
	switch {
	case err != nil:
		if IsValidationError(err) {
			return "invalid"
		}
		return "error"
	case len(q.Route.Steps) == 0:
		return "empty"
	default:
		return "ok"
	}
}

// IsValidationError reports whether err was caused by invalid request input.
func IsValidationError(err error) bool {
	for _, target := range []error{
		ErrNoTokens, ErrTooManyTokens, ErrDuplicateToken, ErrInvalidAmount, ErrInvalidWallet,
		ErrInvalidSlippage, route.ErrInvalidDestination, domain.ErrInvalidAddress, domain.ErrUnsupportedChain,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
