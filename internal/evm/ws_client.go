package evm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"dust-sweeper/internal/logger"
)

var errClientClosed = errors.New("websocket client closed")

// WSClientConfig configures WebSocket client behavior.
type WSClientConfig struct {
	// ReconnectDelay is the first wait before redialing; it doubles per
	// failed attempt up to MaxReconnectDelay.
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	PingInterval      time.Duration
	// ReadTimeout must exceed PingInterval; a silent connection is redialed.
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	DialTimeout      time.Duration
	SubscribeTimeout time.Duration
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSClientConfig {
	return WSClientConfig{
		ReconnectDelay:    time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		DialTimeout:       10 * time.Second,
		SubscribeTimeout:  30 * time.Second,
	}
}

// subscription is one eth_subscribe "logs" stream. The channel survives
// reconnects; only the server-side id changes.
type subscription struct {
	filter LogsFilter
	ch     chan Log
}

// WSClientImpl implements WSClient using gorilla/websocket.
// A single read loop owns the connection; on a read error it redials with
// backoff and re-establishes every subscription.
type WSClientImpl struct {
	endpoint string
	config   WSClientConfig
	logger   *logger.Logger

	connMu sync.Mutex // guards conn and serializes writes
	conn   *websocket.Conn

	closed atomic.Bool
	nextID atomic.Uint64

	subsMu sync.RWMutex
	subs   map[string]*subscription // server subscription id -> stream

	pendingMu sync.Mutex
	pending   map[uint64]chan string // request id -> subscription id waiter

	done chan struct{}
	wg   sync.WaitGroup
}

// NewWSClient dials endpoint and starts the read and ping loops.
func NewWSClient(ctx context.Context, endpoint string, config *WSClientConfig, log *logger.Logger) (*WSClientImpl, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}

	c := &WSClientImpl{
		endpoint: endpoint,
		config:   cfg,
		logger:   logger.OrNop(log).WithComponent("evm-ws"),
		subs:     make(map[string]*subscription),
		pending:  make(map[uint64]chan string),
		done:     make(chan struct{}),
	}

	if err := c.dial(ctx); err != nil {
		return nil, err
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.pingLoop()

	return c, nil
}

// dial opens a connection and swaps it in, closing any previous one.
func (c *WSClientImpl) dial(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: c.config.DialTimeout}
	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.closed.Load() {
		conn.Close()
		return errClientClosed
	}
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = conn
	return nil
}

func (c *WSClientImpl) currentConn() *websocket.Conn {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn
}

// write sends v as one JSON frame.
func (c *WSClientImpl) write(v interface{}) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	return c.conn.WriteJSON(v)
}

// SubscribeLogs subscribes to logs matching the filter. The channel is
// closed when the client is closed.
func (c *WSClientImpl) SubscribeLogs(ctx context.Context, filter LogsFilter) (<-chan Log, error) {
	id, err := c.subscribe(ctx, filter)
	if err != nil {
		return nil, err
	}

	// Dispatch blocks rather than drops, so the buffer only absorbs bursts.
	sub := &subscription{filter: filter, ch: make(chan Log, 1024)}
	c.subsMu.Lock()
	c.subs[id] = sub
	c.subsMu.Unlock()

	return sub.ch, nil
}

// subscribe sends eth_subscribe and waits for the subscription id.
func (c *WSClientImpl) subscribe(ctx context.Context, filter LogsFilter) (string, error) {
	if c.closed.Load() {
		return "", errClientClosed
	}

	reqID := c.nextID.Add(1)
	waiter := make(chan string, 1)
	c.pendingMu.Lock()
	c.pending[reqID] = waiter
	c.pendingMu.Unlock()

	forget := func() {
		c.pendingMu.Lock()
		delete(c.pending, reqID)
		c.pendingMu.Unlock()
	}

	err := c.write(wsRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  "eth_subscribe",
		Params:  []interface{}{"logs", filter.params()},
	})
	if err != nil {
		forget()
		return "", fmt.Errorf("write subscribe: %w", err)
	}

	timer := time.NewTimer(c.config.SubscribeTimeout)
	defer timer.Stop()

	select {
	case id, ok := <-waiter:
		if !ok || id == "" {
			return "", fmt.Errorf("subscription rejected")
		}
		return id, nil
	case <-timer.C:
		forget()
		return "", fmt.Errorf("subscription timeout after %s", c.config.SubscribeTimeout)
	case <-c.done:
		return "", errClientClosed
	case <-ctx.Done():
		forget()
		return "", ctx.Err()
	}
}

// Close closes the connection and every subscription channel. It is safe
// to call more than once.
func (c *WSClientImpl) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	c.wg.Wait()

	c.subsMu.Lock()
	for id, sub := range c.subs {
		close(sub.ch)
		delete(c.subs, id)
	}
	c.subsMu.Unlock()

	c.pendingMu.Lock()
	for id, waiter := range c.pending {
		close(waiter)
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()

	return nil
}

func (c *WSClientImpl) readLoop() {
	defer c.wg.Done()

	for {
		conn := c.currentConn()
		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err == nil {
			c.handleMessage(message)
			continue
		}
		if c.closed.Load() {
			return
		}

		c.logger.Warn("websocket read failed, reconnecting", zap.Error(err))
		if !c.redial() {
			return
		}
		// Confirmations arrive through this loop, so resubscribe elsewhere.
		go c.resubscribeAll()
	}
}

// redial retries dial with exponential backoff until it succeeds or the
// client is closed.
func (c *WSClientImpl) redial() bool {
	delay := c.config.ReconnectDelay
	for attempt := 1; ; attempt++ {
		select {
		case <-c.done:
			return false
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.config.DialTimeout)
		err := c.dial(ctx)
		cancel()
		if err == nil {
			c.logger.Info("websocket reconnected", zap.Int("attempt", attempt))
			return true
		}
		if errors.Is(err, errClientClosed) {
			return false
		}
		c.logger.Warn("websocket reconnect failed",
			zap.Int("attempt", attempt),
			zap.Duration("next_delay", delay),
			zap.Error(err))

		delay *= 2
		if delay > c.config.MaxReconnectDelay {
			delay = c.config.MaxReconnectDelay
		}
	}
}

// resubscribeAll re-issues every subscription on the new connection and
// rekeys it under the new server id.
func (c *WSClientImpl) resubscribeAll() {
	c.subsMu.RLock()
	old := make(map[string]*subscription, len(c.subs))
	for id, sub := range c.subs {
		old[id] = sub
	}
	c.subsMu.RUnlock()

	for oldID, sub := range old {
		ctx, cancel := context.WithTimeout(context.Background(), c.config.SubscribeTimeout)
		newID, err := c.subscribe(ctx, sub.filter)
		cancel()
		if err != nil {
			c.logger.Warn("resubscribe failed", zap.String("subscription", oldID), zap.Error(err))
			continue
		}

		c.subsMu.Lock()
		if _, ok := c.subs[oldID]; ok {
			delete(c.subs, oldID)
			c.subs[newID] = sub
		}
		c.subsMu.Unlock()
	}
}

// handleMessage classifies an incoming frame without decoding it fully.
func (c *WSClientImpl) handleMessage(message []byte) {
	if gjson.GetBytes(message, "method").String() == "eth_subscription" {
		c.dispatchLog(message)
		return
	}

	id := gjson.GetBytes(message, "id")
	if !id.Exists() {
		return
	}

	if e := gjson.GetBytes(message, "error"); e.Exists() {
		c.logger.Warn("subscription error response",
			zap.Int64("code", e.Get("code").Int()),
			zap.String("message", e.Get("message").String()))
		c.resolve(id.Uint(), "")
		return
	}

	if result := gjson.GetBytes(message, "result"); result.Type == gjson.String {
		c.resolve(id.Uint(), result.String())
	}
}

// resolve hands a subscription id to its waiter; "" closes the waiter.
func (c *WSClientImpl) resolve(reqID uint64, subID string) {
	c.pendingMu.Lock()
	waiter, ok := c.pending[reqID]
	delete(c.pending, reqID)
	c.pendingMu.Unlock()

	if !ok {
		return
	}
	if subID == "" {
		close(waiter)
		return
	}
	waiter <- subID
}

func (c *WSClientImpl) dispatchLog(message []byte) {
	subID := gjson.GetBytes(message, "params.subscription").String()
	raw := gjson.GetBytes(message, "params.result").Raw
	if subID == "" || raw == "" {
		return
	}

	var lj logJSON
	if err := json.Unmarshal([]byte(raw), &lj); err != nil {
		c.logger.Warn("malformed log notification", zap.String("subscription", subID), zap.Error(err))
		return
	}

	c.subsMu.RLock()
	sub, ok := c.subs[subID]
	c.subsMu.RUnlock()
	if !ok {
		return
	}

	select {
	case sub.ch <- lj.toLog():
	case <-c.done:
	}
}

func (c *WSClientImpl) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				// A dead connection surfaces as a read error.
				_ = c.conn.WriteMessage(websocket.PingMessage, nil)
			}
			c.connMu.Unlock()
		}
	}
}

type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

var _ WSClient = (*WSClientImpl)(nil)
