package simulation

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dust-sweeper/internal/cache"
	"dust-sweeper/internal/domain"
)

var (
	testToken = domain.TokenRef{Chain: domain.ChainBase, Address: "0x4200000000000000000000000000000000000042", Decimals: 18}
	testFrom  = "0x1111111111111111111111111111111111111111"
	testAggr  = "0x5555555555555555555555555555555555555555"
)

type fakeBackend struct {
	name     string
	transfer *domain.SimulationResult
	swap     *domain.SimulationResult
	err      error
	calls    atomic.Int32
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) SimulateTransfer(context.Context, domain.TransferSimulation) (*domain.SimulationResult, error) {
	f.calls.Add(1)
	return f.transfer, f.err
}

func (f *fakeBackend) SimulateSwap(context.Context, domain.SwapSimulation) (*domain.SimulationResult, error) {
	f.calls.Add(1)
	return f.swap, f.err
}

func received(n int64) *domain.SimulationResult {
	return &domain.SimulationResult{Success: true, OutputAmount: big.NewInt(n)}
}

func reverted(reason string) *domain.SimulationResult {
	return &domain.SimulationResult{Success: false, OutputAmount: new(big.Int), RevertReason: &reason}
}

func transfer(amount int64) domain.TransferSimulation {
	return domain.TransferSimulation{Token: testToken, From: testFrom, Amount: big.NewInt(amount)}
}

func TestSimulateTransferTax(t *testing.T) {
	down := errors.New("down")

	tests := []struct {
		name        string
		remote      *fakeBackend
		local       *fakeBackend
		wantTax     float64
		wantBackend string
		wantAssumed bool
		wantFee     bool
	}{
		{
			name:        "no tax",
			remote:      &fakeBackend{name: "remote", transfer: received(1000)},
			wantTax:     0,
			wantBackend: "remote",
		},
		{
			name:        "small tax",
			remote:      &fakeBackend{name: "remote", transfer: received(970)},
			wantTax:     0.03,
			wantBackend: "remote",
		},
		{
			name:        "tax above threshold",
			remote:      &fakeBackend{name: "remote", transfer: received(900)},
			wantTax:     0.1,
			wantBackend: "remote",
			wantFee:     true,
		},
		{
			name:        "revert counts as total loss",
			remote:      &fakeBackend{name: "remote", transfer: reverted("blacklisted")},
			wantTax:     1,
			wantBackend: "remote",
			wantFee:     true,
		},
		{
			name:        "remote down falls back to local",
			remote:      &fakeBackend{name: "remote", err: down},
			local:       &fakeBackend{name: "eth_call", transfer: received(1000)},
			wantBackend: "eth_call",
		},
		{
			name:        "both down assumes no tax",
			remote:      &fakeBackend{name: "remote", err: down},
			local:       &fakeBackend{name: "eth_call", err: down},
			wantAssumed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := Options{Remote: tt.remote}
			if tt.local != nil {
				opts.Local = tt.local
			}
			s := NewSimulator(opts)

			res, err := s.SimulateTransferTax(context.Background(), transfer(1000))
			require.NoError(t, err)
			assert.InDelta(t, tt.wantTax, res.HiddenTax, 1e-9)
			assert.Equal(t, tt.wantBackend, res.Backend)
			assert.Equal(t, tt.wantAssumed, res.Assumed)
			assert.Equal(t, tt.wantFee, s.HasHiddenTransferFee(res))
			assert.Equal(t, int64(1000), res.ExpectedAmount.Int64())
		})
	}
}

func TestSimulateTransferTax_Validation(t *testing.T) {
	s := NewSimulator(Options{})

	_, err := s.SimulateTransferTax(context.Background(), transfer(0))
	assert.ErrorIs(t, err, ErrInvalidAmount)

	bad := transfer(1)
	bad.Token.Address = "0x12"
	_, err = s.SimulateTransferTax(context.Background(), bad)
	assert.ErrorIs(t, err, domain.ErrInvalidAddress)
}

func TestSimulateTransferTax_Cache(t *testing.T) {
	remote := &fakeBackend{name: "remote", transfer: received(980)}
	s := NewSimulator(Options{Remote: remote, Cache: cache.NewMemoryCache()})

	for i := 0; i < 3; i++ {
		res, err := s.SimulateTransferTax(context.Background(), transfer(1000))
		require.NoError(t, err)
		assert.InDelta(t, 0.02, res.HiddenTax, 1e-9)
	}
	assert.Equal(t, int32(1), remote.calls.Load())
}

func TestSimulateTransferTax_AssumedNotCached(t *testing.T) {
	remote := &fakeBackend{name: "remote", err: errors.New("down")}
	s := NewSimulator(Options{Remote: remote, Cache: cache.NewMemoryCache()})

	for i := 0; i < 2; i++ {
		_, err := s.SimulateTransferTax(context.Background(), transfer(1000))
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), remote.calls.Load())
}

func TestValidateSwapOutcome(t *testing.T) {
	swap := domain.SwapSimulation{Chain: domain.ChainBase, From: testFrom, Aggregator: testAggr, Calldata: []byte{1, 2, 3}}

	tests := []struct {
		name          string
		result        *domain.SimulationResult
		err           error
		tolerance     float64
		wantValid     bool
		wantDeviation float64
		wantAssumed   bool
	}{
		{name: "exact", result: received(1000), wantValid: true, wantDeviation: 0},
		{name: "within default tolerance", result: received(960), wantValid: true, wantDeviation: 4},
		{name: "boundary", result: received(950), wantValid: true, wantDeviation: 5},
		{name: "outside tolerance", result: received(940), wantValid: false, wantDeviation: 6},
		{name: "more than expected also deviates", result: received(1100), wantValid: false, wantDeviation: 10},
		{name: "custom tolerance", result: received(940), tolerance: 10, wantValid: true, wantDeviation: 6},
		{name: "revert", result: reverted("too little received"), wantValid: false, wantDeviation: 100},
		{name: "unavailable", err: errors.New("down"), wantValid: true, wantAssumed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSimulator(Options{Remote: &fakeBackend{name: "remote", swap: tt.result, err: tt.err}})

			out, err := s.ValidateSwapOutcome(context.Background(), swap, big.NewInt(1000), tt.tolerance)
			require.NoError(t, err)
			assert.Equal(t, tt.wantValid, out.Valid)
			assert.InDelta(t, tt.wantDeviation, out.Deviation, 1e-9)
			assert.Equal(t, tt.wantAssumed, out.Assumed)
		})
	}
}

func TestValidateSwapOutcome_Validation(t *testing.T) {
	s := NewSimulator(Options{})
	swap := domain.SwapSimulation{Chain: domain.ChainBase, From: testFrom, Aggregator: testAggr}

	_, err := s.ValidateSwapOutcome(context.Background(), swap, big.NewInt(0), 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	swap.Aggregator = "nope"
	_, err = s.ValidateSwapOutcome(context.Background(), swap, big.NewInt(1), 0)
	assert.ErrorIs(t, err, domain.ErrInvalidAddress)
}

func TestShouldProceedWithSweep(t *testing.T) {
	swap := &domain.SwapSimulation{Chain: domain.ChainBase, From: testFrom, Aggregator: testAggr}

	tests := []struct {
		name         string
		backend      *fakeBackend
		withSwap     bool
		wantProceed  bool
		wantApproval bool
	}{
		{
			name:        "clean transfer",
			backend:     &fakeBackend{name: "remote", transfer: received(1000)},
			wantProceed: true,
		},
		{
			name:         "small tax needs approval",
			backend:      &fakeBackend{name: "remote", transfer: received(990)},
			wantProceed:  true,
			wantApproval: true,
		},
		{
			name:        "large tax blocks",
			backend:     &fakeBackend{name: "remote", transfer: received(800)},
			wantProceed: false,
		},
		{
			name:         "simulator down fails open with approval",
			backend:      &fakeBackend{name: "remote", err: errors.New("down")},
			wantProceed:  true,
			wantApproval: true,
		},
		{
			name:        "swap within tolerance",
			backend:     &fakeBackend{name: "remote", transfer: received(1000), swap: received(490)},
			withSwap:    true,
			wantProceed: true,
		},
		{
			name:        "swap outside tolerance blocks",
			backend:     &fakeBackend{name: "remote", transfer: received(1000), swap: received(400)},
			withSwap:    true,
			wantProceed: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSimulator(Options{Remote: tt.backend})
			req := ProceedRequest{Transfer: transfer(1000)}
			if tt.withSwap {
				req.Swap = swap
				req.ExpectedOutput = big.NewInt(500)
			}

			d, err := s.ShouldProceedWithSweep(context.Background(), req)
			require.NoError(t, err)
			assert.Equal(t, tt.wantProceed, d.Proceed, "reasons: %v", d.Reasons)
			assert.Equal(t, tt.wantApproval, d.RequiresApproval, "reasons: %v", d.Reasons)
			if !d.Proceed || d.RequiresApproval {
				assert.NotEmpty(t, d.Reasons)
			}
		})
	}
}

func TestHTTPBackend(t *testing.T) {
	var got simulateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"success":true,"outputAmount":"950","stateChanges":[{"address":"0xabc","key":"balance","before":"0","after":"950"}]}`))
	}))
	defer server.Close()

	b := NewHTTPBackend(server.URL, "secret", DefaultTimeout)
	res, err := b.SimulateTransfer(context.Background(), domain.TransferSimulation{
		Token:  testToken,
		From:   testFrom,
		To:     DefaultSinkRecipient,
		Amount: big.NewInt(1000),
	})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, int64(950), res.OutputAmount.Int64())
	require.Len(t, res.StateChanges, 1)
	assert.Equal(t, "950", res.StateChanges[0].After)

	assert.Equal(t, int64(8453), got.ChainID)
	assert.Equal(t, "transfer", got.Kind)
	assert.Equal(t, testToken.Address, got.To)
	assert.Equal(t, "0xa9059cbb", got.Input[:10])
}

func TestHTTPBackend_NoOutputAmount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"success":true}`))
	}))
	defer server.Close()

	b := NewHTTPBackend(server.URL, "", DefaultTimeout)
	res, err := b.SimulateTransfer(context.Background(), transfer(1000))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Nil(t, res.OutputAmount)

	// A success without an amount is read as the full transfer arriving.
	s := NewSimulator(Options{Remote: b})
	tax, err := s.SimulateTransferTax(context.Background(), transfer(1000))
	require.NoError(t, err)
	assert.Zero(t, tax.HiddenTax)
	assert.Equal(t, int64(1000), tax.ActualReceived.Int64())
	assert.False(t, tax.Assumed)
	assert.Equal(t, b.Name(), tax.Backend)
}

func TestHTTPBackend_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `{}`},
		{"missing success", http.StatusOK, `{"outputAmount":"1"}`},
		{"bad amount", http.StatusOK, `{"success":true,"outputAmount":"lots"}`},
		{"not json", http.StatusOK, `<html>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			b := NewHTTPBackend(server.URL, "", DefaultTimeout)
			_, err := b.SimulateSwap(context.Background(), domain.SwapSimulation{Chain: domain.ChainBase, Aggregator: testAggr})
			assert.Error(t, err)
		})
	}
}

func TestHTTPBackend_RejectsSolana(t *testing.T) {
	b := NewHTTPBackend("http://unused", "", DefaultTimeout)
	_, err := b.SimulateSwap(context.Background(), domain.SwapSimulation{Chain: domain.ChainSolana})
	assert.ErrorIs(t, err, domain.ErrUnsupportedChain)
}
