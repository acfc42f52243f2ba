package evm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"dust-sweeper/internal/domain"
)

// Default configuration values.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0
)

// revertCode is the JSON-RPC error code geth uses for execution reverts.
const revertCode = 3

// HTTPClient implements RPCClient using HTTP JSON-RPC 2.0.
type HTTPClient struct {
	endpoint    string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
	requestID   atomic.Uint64
}

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *HTTPClient) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.retryDelay = d
	}
}

// WithMaxDelay sets maximum retry delay.
func WithMaxDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.maxDelay = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

// NewHTTPClient creates a new EVM JSON-RPC HTTP client.
func NewHTTPClient(endpoint string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		endpoint:    endpoint,
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// rpcRequest represents a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// rpcResponse represents a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// rpcError represents a JSON-RPC 2.0 error.
type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// RevertError reports a call that executed and reverted.
type RevertError struct {
	Reason string
}

func (e *RevertError) Error() string {
	if e.Reason == "" {
		return "execution reverted"
	}
	return "execution reverted: " + e.Reason
}

// call performs a JSON-RPC call with retries and exponential backoff.
func (c *HTTPClient) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	reqID := c.requestID.Add(1)
	reqBody := rpcRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limited (429)")
			continue
		}

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
			continue
		}

		var rpcResp rpcResponse
		if err := json.Unmarshal(respBody, &rpcResp); err != nil {
			lastErr = fmt.Errorf("unmarshal response: %w", err)
			continue
		}

		if rpcResp.Error != nil {
			// RPC errors are not retried
			return rpcResp.Error
		}

		if result != nil && rpcResp.Result != nil {
			if err := json.Unmarshal(rpcResp.Result, result); err != nil {
				return fmt.Errorf("unmarshal result: %w", err)
			}
		}

		return nil
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// GetTransactionReceipt retrieves a receipt by transaction hash.
func (c *HTTPClient) GetTransactionReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	var result *receiptJSON
	if err := c.call(ctx, "eth_getTransactionReceipt", []interface{}{txHash}, &result); err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}

	r := &Receipt{
		TxHash:      domain.NormalizeAddress(result.TransactionHash),
		From:        domain.NormalizeAddress(result.From),
		Status:      uint64(result.Status),
		BlockNumber: uint64(result.BlockNumber),
		Logs:        make([]Log, 0, len(result.Logs)),
	}
	if result.To != nil {
		r.To = domain.NormalizeAddress(*result.To)
	}
	for _, l := range result.Logs {
		r.Logs = append(r.Logs, l.toLog())
	}
	return r, nil
}

// receiptJSON is the raw RPC response for eth_getTransactionReceipt.
type receiptJSON struct {
	TransactionHash string         `json:"transactionHash"`
	From            string         `json:"from"`
	To              *string        `json:"to"`
	Status          hexutil.Uint64 `json:"status"`
	BlockNumber     hexutil.Uint64 `json:"blockNumber"`
	Logs            []logJSON      `json:"logs"`
}

type logJSON struct {
	Address         string         `json:"address"`
	Topics          []string       `json:"topics"`
	Data            hexutil.Bytes  `json:"data"`
	BlockNumber     hexutil.Uint64 `json:"blockNumber"`
	TransactionHash string         `json:"transactionHash"`
	LogIndex        hexutil.Uint   `json:"logIndex"`
	Removed         bool           `json:"removed"`
}

func (l logJSON) toLog() Log {
	topics := make([]string, len(l.Topics))
	for i, t := range l.Topics {
		topics[i] = strings.ToLower(t)
	}
	return Log{
		Address:     domain.NormalizeAddress(l.Address),
		Topics:      topics,
		Data:        l.Data,
		TxHash:      domain.NormalizeAddress(l.TransactionHash),
		BlockNumber: uint64(l.BlockNumber),
		LogIndex:    uint(l.LogIndex),
		Removed:     l.Removed,
	}
}

// Call executes eth_call at the latest block.
func (c *HTTPClient) Call(ctx context.Context, msg CallMsg) ([]byte, error) {
	arg := map[string]interface{}{
		"to":    msg.To,
		"input": hexutil.Encode(msg.Data),
	}
	if msg.From != "" {
		arg["from"] = msg.From
	}
	if msg.Value != nil && msg.Value.Sign() > 0 {
		arg["value"] = hexutil.EncodeBig(msg.Value)
	}

	var result hexutil.Bytes
	err := c.call(ctx, "eth_call", []interface{}{arg, "latest"}, &result)
	if err != nil {
		var rpcErr *rpcError
		if errors.As(err, &rpcErr) && isRevert(rpcErr) {
			return nil, &RevertError{Reason: revertReason(rpcErr)}
		}
		return nil, err
	}
	return result, nil
}

func isRevert(e *rpcError) bool {
	return e.Code == revertCode || strings.Contains(e.Message, "execution reverted")
}

// revertReason decodes an Error(string) payload, falling back to the node message.
func revertReason(e *rpcError) string {
	var hexData string
	if len(e.Data) > 0 && json.Unmarshal(e.Data, &hexData) == nil {
		if data, err := hexutil.Decode(hexData); err == nil {
			if reason, err := abi.UnpackRevert(data); err == nil {
				return reason
			}
		}
	}
	msg := strings.TrimPrefix(e.Message, "execution reverted")
	return strings.TrimSpace(strings.TrimPrefix(msg, ":"))
}

// BlockNumber retrieves the latest block number.
func (c *HTTPClient) BlockNumber(ctx context.Context) (uint64, error) {
	var result hexutil.Uint64
	if err := c.call(ctx, "eth_blockNumber", nil, &result); err != nil {
		return 0, err
	}
	return uint64(result), nil
}

// GetLogs retrieves logs matching filter in the inclusive block range.
func (c *HTTPClient) GetLogs(ctx context.Context, filter LogsFilter, fromBlock, toBlock uint64) ([]Log, error) {
	if fromBlock > toBlock {
		return nil, fmt.Errorf("invalid block range %d..%d", fromBlock, toBlock)
	}
	params := filter.params()
	params["fromBlock"] = hexutil.EncodeUint64(fromBlock)
	params["toBlock"] = hexutil.EncodeUint64(toBlock)

	var result []logJSON
	if err := c.call(ctx, "eth_getLogs", []interface{}{params}, &result); err != nil {
		return nil, err
	}
	logs := make([]Log, 0, len(result))
	for _, l := range result {
		logs = append(logs, l.toLog())
	}
	return logs, nil
}

// bigFromWord decodes a 32-byte ABI word.
func bigFromWord(b []byte) *big.Int {
	return new(big.Int).SetBytes(b)
}

var (
	_ RPCClient = (*HTTPClient)(nil)
	_ LogReader = (*HTTPClient)(nil)
)
