// Package messaging consumes externally published deposit events from NATS.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"dust-sweeper/internal/config"
	"dust-sweeper/internal/credits"
	"dust-sweeper/internal/domain"
	"dust-sweeper/internal/logger"
)

// ErrMalformedEvent is returned for a message without a usable tx hash.
var ErrMalformedEvent = errors.New("malformed deposit event")

// fetchWait bounds one JetStream pull.
const fetchWait = 5 * time.Second

// DepositConsumer handles NATS JetStream consumption of deposit events,
// falling back to a core NATS queue subscription when JetStream is absent.
type DepositConsumer struct {
	conn      *nats.Conn
	js        nats.JetStreamContext
	sub       *nats.Subscription
	config    *config.NATSConfig
	logger    *logger.Logger
	msgChan   chan domain.DepositEvent
	isRunning atomic.Bool
	sendMu    sync.RWMutex // held for read while sending on msgChan
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewDepositConsumer creates a new deposit consumer.
func NewDepositConsumer(cfg *config.NATSConfig, log *logger.Logger) *DepositConsumer {
	pending := cfg.MaxPending
	if pending <= 0 {
		pending = 1024
	}
	return &DepositConsumer{
		config:  cfg,
		logger:  logger.OrNop(log).WithComponent("nats-consumer"),
		msgChan: make(chan domain.DepositEvent, pending),
	}
}

// Name returns the source name.
func (n *DepositConsumer) Name() string { return credits.OriginNATS }

// Subscribe connects and starts delivering deposit events. The channel is
// closed when ctx is cancelled or Disconnect is called.
func (n *DepositConsumer) Subscribe(ctx context.Context) (<-chan domain.DepositEvent, error) {
	if err := n.Connect(ctx); err != nil {
		return nil, err
	}
	go func() {
		<-ctx.Done()
		_ = n.Disconnect()
	}()
	return n.msgChan, nil
}

// Connect connects to NATS server and sets up the subscription.
func (n *DepositConsumer) Connect(_ context.Context) error {
	if !n.config.Enabled {
		return errors.New("nats is disabled")
	}

	n.logger.Info("Connecting to NATS server", zap.String("url", n.config.URL))

	opts := []nats.Option{
		nats.Name("dust-sweeper"),
		nats.Timeout(n.config.ConnectTimeout),
		nats.ReconnectWait(n.config.ReconnectDelay),
		nats.MaxReconnects(n.config.ReconnectAttempts),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			n.logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			n.logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			n.logger.Info("NATS connection closed")
		}),
	}

	conn, err := nats.Connect(n.config.URL, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	n.conn = conn

	// Try JetStream first, if not available fall back to core NATS
	js, err := conn.JetStream()
	if err != nil {
		n.logger.Warn("JetStream not available, using core NATS", zap.Error(err))
		return n.setupCoreNATSSubscription()
	}
	n.js = js
	return n.setupJetStreamSubscription()
}

// setupJetStreamSubscription binds a durable pull consumer on the stream.
func (n *DepositConsumer) setupJetStreamSubscription() error {
	sub, err := n.js.PullSubscribe(n.config.Subject, n.config.Consumer, nats.BindStream(n.config.StreamName))
	if err != nil {
		n.logger.Warn("Failed to bind JetStream consumer, falling back to core NATS", zap.Error(err))
		return n.setupCoreNATSSubscription()
	}

	n.sub = sub
	n.isRunning.Store(true)
	n.wg.Add(1)
	go n.processJetStreamMessages()

	n.logger.Info("Subscribed to NATS JetStream",
		zap.String("stream", n.config.StreamName),
		zap.String("subject", n.config.Subject),
		zap.String("consumer", n.config.Consumer))
	return nil
}

// processJetStreamMessages pulls batches until stopped.
func (n *DepositConsumer) processJetStreamMessages() {
	defer n.wg.Done()

	for n.isRunning.Load() {
		msgs, err := n.sub.Fetch(10, nats.MaxWait(fetchWait))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) {
				continue
			}
			if !n.isRunning.Load() {
				return
			}
			n.logger.Error("Failed to fetch messages", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		for _, msg := range msgs {
			n.handleMessage(msg)
		}
	}
}

// setupCoreNATSSubscription sets up a queue subscription on the subject.
func (n *DepositConsumer) setupCoreNATSSubscription() error {
	sub, err := n.conn.QueueSubscribe(n.config.Subject, n.config.Consumer, n.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	n.sub = sub
	n.isRunning.Store(true)

	n.logger.Info("Subscribed to core NATS",
		zap.String("subject", n.config.Subject),
		zap.String("queue_group", n.config.Consumer))
	return nil
}

// handleMessage parses a message and forwards it. A full channel naks the
// message so JetStream redelivers it.
func (n *DepositConsumer) handleMessage(msg *nats.Msg) {
	ev, err := ParseDepositEvent(msg.Data)
	if err != nil {
		n.logger.Error("Dropping deposit message", zap.Error(err))
		// Redelivery cannot fix a malformed payload
		if msg.Reply != "" {
			_ = msg.Term()
		}
		return
	}

	n.sendMu.RLock()
	defer n.sendMu.RUnlock()
	if !n.isRunning.Load() {
		return
	}
	select {
	case n.msgChan <- ev:
		if msg.Reply != "" {
			_ = msg.Ack()
		}
	default:
		n.logger.Warn("Message channel is full, rejecting message", zap.String("tx_hash", ev.TxHash))
		if msg.Reply != "" {
			_ = msg.Nak()
		}
	}
}

// Disconnect stops consumption, closes the connection and the channel.
func (n *DepositConsumer) Disconnect() error {
	n.closeOnce.Do(func() {
		n.isRunning.Store(false)
		if n.sub != nil {
			_ = n.sub.Unsubscribe()
		}
		if n.conn != nil {
			n.conn.Close()
		}
		n.wg.Wait()
		n.sendMu.Lock()
		close(n.msgChan)
		n.sendMu.Unlock()
		n.logger.Info("Disconnected from NATS")
	})
	return nil
}

// IsConnected checks if connected to NATS.
func (n *DepositConsumer) IsConnected() bool {
	return n.isRunning.Load() && n.conn != nil && n.conn.IsConnected()
}

// ParseDepositEvent extracts a deposit from a JSON payload. Field names
// of the common publishers are accepted: txHash/tx_hash/hash,
// walletAddress/wallet/from and amount/value (string or number).
func ParseDepositEvent(data []byte) (domain.DepositEvent, error) {
	if !gjson.ValidBytes(data) {
		return domain.DepositEvent{}, fmt.Errorf("%w: invalid json", ErrMalformedEvent)
	}
	res := gjson.GetManyBytes(data,
		"txHash", "tx_hash", "hash",
		"walletAddress", "wallet", "from",
		"amount", "value",
		"blockNumber",
	)

	ev := domain.DepositEvent{
		TxHash:      firstString(res[0:3]),
		Wallet:      firstString(res[3:6]),
		AmountRaw:   firstString(res[6:8]),
		Origin:      credits.OriginNATS,
		BlockNumber: res[8].Uint(),
	}
	if ev.TxHash == "" {
		return domain.DepositEvent{}, fmt.Errorf("%w: missing tx hash", ErrMalformedEvent)
	}
	return ev, nil
}

func firstString(results []gjson.Result) string {
	for _, r := range results {
		if !r.Exists() {
			continue
		}
		if s := strings.TrimSpace(r.String()); s != "" {
			return s
		}
	}
	return ""
}
