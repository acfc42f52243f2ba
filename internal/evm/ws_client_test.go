package evm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func idleServer(t *testing.T) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func TestWSClient_Connect(t *testing.T) {
	server := idleServer(t)
	defer server.Close()

	client, err := NewWSClient(context.Background(), wsURL(server), nil, nil)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	if client.closed.Load() {
		t.Error("client should not be closed")
	}
}

func TestWSClient_SubscribeLogs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()

		_, msg, err := c.ReadMessage()
		if err != nil {
			return
		}

		var req wsRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			t.Errorf("unmarshal request: %v", err)
			return
		}
		if req.Method != "eth_subscribe" {
			t.Errorf("expected eth_subscribe, got %s", req.Method)
		}
		if len(req.Params) != 2 || req.Params[0] != "logs" {
			t.Errorf("unexpected params %v", req.Params)
		}

		c.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": "0xcd0c3e8af590364c09d0fa6a1210faf5"})

		time.Sleep(50 * time.Millisecond)
		c.WriteJSON(map[string]interface{}{
			"jsonrpc": "2.0",
			"method":  "eth_subscription",
			"params": map[string]interface{}{
				"subscription": "0xcd0c3e8af590364c09d0fa6a1210faf5",
				"result": map[string]interface{}{
					"address":         testUSDC,
					"topics":          []string{TransferEventTopic, AddressTopic(testWallet), AddressTopic(testTreasury)},
					"data":            "0x00000000000000000000000000000000000000000000000000000000000f4240",
					"blockNumber":     "0x64",
					"transactionHash": testTxHash,
					"logIndex":        "0x0",
					"removed":         false,
				},
			},
		})

		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	ctx := context.Background()
	client, err := NewWSClient(ctx, wsURL(server), nil, nil)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	ch, err := client.SubscribeLogs(ctx, LogsFilter{
		Addresses: []string{testUSDC},
		Topics:    [][]string{{TransferEventTopic}, nil, {AddressTopic(testTreasury)}},
	})
	if err != nil {
		t.Fatalf("SubscribeLogs: %v", err)
	}

	select {
	case l := <-ch:
		if l.TxHash != testTxHash {
			t.Errorf("TxHash = %s", l.TxHash)
		}
		if l.BlockNumber != 100 {
			t.Errorf("BlockNumber = %d, want 100", l.BlockNumber)
		}
		tr, ok := DecodeTransfer(l)
		if !ok {
			t.Fatal("expected transfer log")
		}
		if tr.Amount.Int64() != 1_000_000 || tr.To != testTreasury {
			t.Errorf("unexpected transfer %+v", tr)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for notification")
	}
}

func TestWSClient_SubscriptionRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()

		_, msg, err := c.ReadMessage()
		if err != nil {
			return
		}
		var req wsRequest
		json.Unmarshal(msg, &req)
		c.WriteJSON(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"error":   map[string]interface{}{"code": -32602, "message": "invalid params"},
		})

		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	client, err := NewWSClient(context.Background(), wsURL(server), nil, nil)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	if _, err := client.SubscribeLogs(context.Background(), LogsFilter{}); err == nil {
		t.Error("expected rejected subscription error")
	}
}

func TestWSClient_Close(t *testing.T) {
	server := idleServer(t)
	defer server.Close()

	client, err := NewWSClient(context.Background(), wsURL(server), nil, nil)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if !client.closed.Load() {
		t.Error("client should be closed")
	}
	if err := client.Close(); err != nil {
		t.Errorf("double Close: %v", err)
	}

	if _, err := client.SubscribeLogs(context.Background(), LogsFilter{}); err == nil {
		t.Error("expected error subscribing after close")
	}
}

func notification(subID, txHash string) map[string]interface{} {
	return map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "eth_subscription",
		"params": map[string]interface{}{
			"subscription": subID,
			"result": map[string]interface{}{
				"address":         testUSDC,
				"topics":          []string{TransferEventTopic, AddressTopic(testWallet), AddressTopic(testTreasury)},
				"data":            "0x00000000000000000000000000000000000000000000000000000000000f4240",
				"blockNumber":     "0x65",
				"transactionHash": txHash,
				"logIndex":        "0x0",
				"removed":         false,
			},
		},
	}
}

func TestWSClient_ResubscribesAfterReconnect(t *testing.T) {
	var conns atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		n := conns.Add(1)

		_, msg, err := c.ReadMessage()
		if err != nil {
			return
		}
		var req wsRequest
		json.Unmarshal(msg, &req)

		if n == 1 {
			// Confirm, then drop the connection.
			c.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": "0x1"})
			time.Sleep(100 * time.Millisecond)
			return
		}
		c.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": "0x2"})
		c.WriteJSON(notification("0x2", testTxHash))

		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	cfg := DefaultWSConfig()
	cfg.ReconnectDelay = 10 * time.Millisecond
	ctx := context.Background()
	client, err := NewWSClient(ctx, wsURL(server), &cfg, nil)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	ch, err := client.SubscribeLogs(ctx, LogsFilter{Addresses: []string{testUSDC}})
	if err != nil {
		t.Fatalf("SubscribeLogs: %v", err)
	}

	select {
	case l := <-ch:
		if l.TxHash != testTxHash {
			t.Errorf("TxHash = %s", l.TxHash)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no log after reconnect")
	}
	if got := conns.Load(); got < 2 {
		t.Errorf("connections = %d, want >= 2", got)
	}
}

func TestLogsFilter_Params(t *testing.T) {
	f := LogsFilter{
		Addresses: []string{testUSDC},
		Topics:    [][]string{{TransferEventTopic}, nil, {AddressTopic(testTreasury)}},
	}
	p := f.params()

	topics, ok := p["topics"].([]interface{})
	if !ok || len(topics) != 3 {
		t.Fatalf("topics = %v", p["topics"])
	}
	if topics[1] != nil {
		t.Errorf("wildcard position should be nil, got %v", topics[1])
	}
}
