// Package api exposes quotes and credits over HTTP.
package api

import (
	"context"
	"math/big"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"dust-sweeper/internal/credits"
	"dust-sweeper/internal/domain"
	"dust-sweeper/internal/evm"
	"dust-sweeper/internal/logger"
	"dust-sweeper/internal/observability"
	"dust-sweeper/internal/orchestrator"
)

// WalletHeader carries the caller's wallet for metered requests.
const WalletHeader = "X-Wallet-Address"

// QuoteService runs the quote flow.
type QuoteService interface {
	RequestQuote(ctx context.Context, req orchestrator.QuoteRequest) (*domain.Quote, error)
	GetQuote(ctx context.Context, id string) (*domain.Quote, error)
}

// Ledger is the credits ledger surface the API uses.
type Ledger interface {
	GetBalance(ctx context.Context, wallet string) (*credits.Balance, error)
	History(ctx context.Context, wallet string, limit, offset int) ([]*domain.CreditTransaction, error)
	Stats(ctx context.Context, wallet string) (*credits.Stats, error)
	ProcessDepositWebhook(ctx context.Context, wallet, txHash, amountRaw string) (*credits.DepositResult, error)
	MeterRequest(ctx context.Context, wallet, endpoint string, costCents int64) (*credits.MeterResult, error)
	Refund(ctx context.Context, wallet string, amountCents int64, reason string) (*credits.Result, error)
}

// DepositVerifier confirms webhook deposits on chain.
type DepositVerifier interface {
	Verify(ctx context.Context, txHash string) (*evm.Deposit, error)
}

// DepositInfo is published by the deposit-address endpoint.
type DepositInfo struct {
	Chain           string `json:"chain"`
	ChainID         int64  `json:"chainId"`
	Token           string `json:"token"`
	TokenSymbol     string `json:"tokenSymbol"`
	Decimals        int    `json:"decimals"`
	Address         string `json:"address"`
	MinDepositCents int64  `json:"minDepositCents"`
}

// NewDepositInfo describes USDC deposits on Base to treasury.
func NewDepositInfo(treasury string, minDepositCents int64) DepositInfo {
	info := domain.ChainBase.Info()
	return DepositInfo{
		Chain:           info.Name,
		ChainID:         info.ChainID,
		Token:           info.StableAddress,
		TokenSymbol:     info.StableSymbol,
		Decimals:        info.StableDecimals,
		Address:         domain.NormalizeAddress(treasury),
		MinDepositCents: minDepositCents,
	}
}

// Server is the HTTP API.
type Server struct {
	router        *mux.Router
	quotes        QuoteService
	ledger        Ledger
	pricing       *credits.Pricing
	usage         *credits.UsageRecorder
	freeTier      *credits.FreeTier
	verifier      DepositVerifier
	limiter       *RateLimiter
	webhookSecret []byte
	deposit       DepositInfo
	metricsPath   string
	logger        *logger.Logger
}

// Options for creating Server.
type Options struct {
	Quotes        QuoteService
	Ledger        Ledger
	Pricing       *credits.Pricing
	Usage         *credits.UsageRecorder // optional
	FreeTier      *credits.FreeTier      // optional, nil grants no free requests
	Verifier      DepositVerifier        // optional
	Limiter       *RateLimiter           // optional
	WebhookSecret string
	Deposit       DepositInfo
	MetricsPath   string // empty disables the metrics endpoint
	Logger        *logger.Logger
}

// NewServer creates the API and registers its routes.
func NewServer(opts Options) *Server {
	pricing := opts.Pricing
	if pricing == nil {
		pricing = credits.NewPricing(credits.DefaultPricing())
	}
	s := &Server{
		router:        mux.NewRouter(),
		quotes:        opts.Quotes,
		ledger:        opts.Ledger,
		pricing:       pricing,
		usage:         opts.Usage,
		freeTier:      opts.FreeTier,
		verifier:      opts.Verifier,
		limiter:       opts.Limiter,
		webhookSecret: []byte(opts.WebhookSecret),
		deposit:       opts.Deposit,
		metricsPath:   opts.MetricsPath,
		logger:        logger.OrNop(opts.Logger).WithComponent("api"),
	}
	s.registerRoutes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	r := s.router

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.metricsPath != "" {
		r.Handle(s.metricsPath, observability.Handler()).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.requestMiddleware)
	if s.limiter != nil {
		api.Use(s.limiter.Middleware)
	}
	api.Use(s.meteringMiddleware)

	api.HandleFunc("/quote", s.handleCreateQuote).Methods(http.MethodPost)
	api.HandleFunc("/quote/{id}", s.handleGetQuote).Methods(http.MethodGet)
	api.HandleFunc("/pricing", s.handlePricing).Methods(http.MethodGet)

	api.HandleFunc("/credits/balance", s.handleBalance).Methods(http.MethodGet)
	api.HandleFunc("/credits/history", s.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/credits/stats", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/credits/deposit-address", s.handleDepositAddress).Methods(http.MethodGet)
	api.HandleFunc("/credits/webhook", s.handleWebhook).Methods(http.MethodPost)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func parseAmount(s string) (*big.Int, bool) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() <= 0 {
		return nil, false
	}
	return v, true
}

// StartLimiterCleanup periodically drops idle rate limiter entries.
func (s *Server) StartLimiterCleanup(ctx context.Context, interval time.Duration) {
	if s.limiter != nil {
		s.limiter.StartCleanup(ctx, interval)
	}
}
