package messaging

import (
	"context"
	"errors"
	"testing"

	"dust-sweeper/internal/config"
	"dust-sweeper/internal/credits"
)

func TestParseDepositEvent(t *testing.T) {
	tests := []struct {
		name       string
		payload    string
		wantHash   string
		wantWallet string
		wantAmount string
		wantErr    bool
	}{
		{
			name:       "camel case",
			payload:    `{"txHash":"0xabc","walletAddress":"0xw","amount":"2500000"}`,
			wantHash:   "0xabc",
			wantWallet: "0xw",
			wantAmount: "2500000",
		},
		{
			name:       "snake case with numeric value",
			payload:    `{"tx_hash":"0xdef","from":"0xf","value":1000000}`,
			wantHash:   "0xdef",
			wantWallet: "0xf",
			wantAmount: "1000000",
		},
		{
			name:     "hash only",
			payload:  `{"hash":"0x1"}`,
			wantHash: "0x1",
		},
		{
			name:    "missing hash",
			payload: `{"wallet":"0xw","amount":"1"}`,
			wantErr: true,
		},
		{
			name:    "not json",
			payload: `deposit 0xabc`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := ParseDepositEvent([]byte(tt.payload))
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedEvent) {
					t.Fatalf("Expected ErrMalformedEvent, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDepositEvent: %v", err)
			}
			if ev.TxHash != tt.wantHash || ev.Wallet != tt.wantWallet || ev.AmountRaw != tt.wantAmount {
				t.Errorf("got %+v", ev)
			}
			if ev.Origin != credits.OriginNATS {
				t.Errorf("Origin = %q", ev.Origin)
			}
		})
	}
}

func TestDepositConsumer_Disabled(t *testing.T) {
	c := NewDepositConsumer(&config.NATSConfig{Enabled: false}, nil)

	if _, err := c.Subscribe(context.Background()); err == nil {
		t.Fatal("Expected error for disabled NATS")
	}
	if c.IsConnected() {
		t.Error("disabled consumer reports connected")
	}
	if c.Name() != credits.OriginNATS {
		t.Errorf("Name = %q", c.Name())
	}
}
