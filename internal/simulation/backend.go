package simulation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/tidwall/gjson"

	"dust-sweeper/internal/domain"
	"dust-sweeper/internal/evm"
)

// Backend executes hypothetical transactions.
type Backend interface {
	Name() string
	SimulateTransfer(ctx context.Context, sim domain.TransferSimulation) (*domain.SimulationResult, error)
	SimulateSwap(ctx context.Context, sim domain.SwapSimulation) (*domain.SimulationResult, error)
}

const maxResponseSize = 1 << 20

// HTTPBackend calls a remote simulation service.
//
// Request body:
//
//	{"chainId":8453,"from":"0x..","to":"0x..","input":"0x..","value":"0x0","kind":"transfer","token":"0x.."}
//
// Response body:
//
//	{"success":true,"outputAmount":"123","revertReason":"","stateChanges":[{"address":"0x..","key":"..","before":"..","after":".."}]}
//
// For transfers outputAmount is the recipient's balance delta; for swaps it
// is the amount of output token received.
type HTTPBackend struct {
	url    string
	apiKey string
	client *http.Client
}

// NewHTTPBackend creates a remote simulation backend.
func NewHTTPBackend(url, apiKey string, timeout time.Duration) *HTTPBackend {
	return &HTTPBackend{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
	}
}

// Name implements Backend.
func (b *HTTPBackend) Name() string { return "remote" }

type simulateRequest struct {
	ChainID int64  `json:"chainId"`
	Kind    string `json:"kind"`
	From    string `json:"from"`
	To      string `json:"to"`
	Input   string `json:"input"`
	Value   string `json:"value"`
	Token   string `json:"token,omitempty"`
}

// SimulateTransfer implements Backend.
func (b *HTTPBackend) SimulateTransfer(ctx context.Context, sim domain.TransferSimulation) (*domain.SimulationResult, error) {
	if !sim.Token.Chain.IsEVM() {
		return nil, fmt.Errorf("%w: remote simulation needs an EVM chain", domain.ErrUnsupportedChain)
	}
	return b.post(ctx, simulateRequest{
		ChainID: sim.Token.Chain.Info().ChainID,
		Kind:    "transfer",
		From:    sim.From,
		To:      sim.Token.Address,
		Input:   hexutil.Encode(evm.TransferCalldata(sim.To, sim.Amount)),
		Value:   "0x0",
		Token:   sim.Token.Address,
	})
}

// SimulateSwap implements Backend.
func (b *HTTPBackend) SimulateSwap(ctx context.Context, sim domain.SwapSimulation) (*domain.SimulationResult, error) {
	if !sim.Chain.IsEVM() {
		return nil, fmt.Errorf("%w: remote simulation needs an EVM chain", domain.ErrUnsupportedChain)
	}
	value := "0x0"
	if sim.Value != nil && sim.Value.Sign() > 0 {
		value = hexutil.EncodeBig(sim.Value)
	}
	return b.post(ctx, simulateRequest{
		ChainID: sim.Chain.Info().ChainID,
		Kind:    "swap",
		From:    sim.From,
		To:      sim.Aggregator,
		Input:   hexutil.Encode(sim.Calldata),
		Value:   value,
	})
}

func (b *HTTPBackend) post(ctx context.Context, body simulateRequest) (*domain.SimulationResult, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		req.Header.Set("X-API-Key", b.apiKey)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return parseResult(raw)
}

func parseResult(raw []byte) (*domain.SimulationResult, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("invalid simulation response")
	}
	success := gjson.GetBytes(raw, "success")
	if !success.Exists() {
		return nil, fmt.Errorf("simulation response missing success")
	}

	// OutputAmount stays nil when the backend does not report one.
	res := &domain.SimulationResult{Success: success.Bool()}
	if out := strings.TrimSpace(gjson.GetBytes(raw, "outputAmount").String()); out != "" {
		amount, ok := new(big.Int).SetString(out, 0)
		if !ok {
			return nil, fmt.Errorf("invalid outputAmount %q", out)
		}
		res.OutputAmount = amount
	}
	if reason := gjson.GetBytes(raw, "revertReason").String(); reason != "" {
		res.RevertReason = &reason
	}
	gjson.GetBytes(raw, "stateChanges").ForEach(func(_, v gjson.Result) bool {
		res.StateChanges = append(res.StateChanges, domain.StateChange{
			Address: v.Get("address").String(),
			Key:     v.Get("key").String(),
			Before:  v.Get("before").String(),
			After:   v.Get("after").String(),
		})
		return true
	})
	return res, nil
}

var _ Backend = (*HTTPBackend)(nil)
