package evm

import (
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestTransferEventTopic(t *testing.T) {
	want := "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"
	if TransferEventTopic != want {
		t.Errorf("TransferEventTopic = %s, want %s", TransferEventTopic, want)
	}
}

func TestTransferCalldata(t *testing.T) {
	data := TransferCalldata("0x000000000000000000000000000000000000dEaD", big.NewInt(1000))
	if len(data) != 68 {
		t.Fatalf("len = %d, want 68", len(data))
	}
	if got := hex.EncodeToString(data[:4]); got != "a9059cbb" {
		t.Errorf("selector = %s, want a9059cbb", got)
	}
	if common.BytesToAddress(data[4:36]) != common.HexToAddress("0x000000000000000000000000000000000000dead") {
		t.Errorf("recipient word = %x", data[4:36])
	}
	if new(big.Int).SetBytes(data[36:]).Int64() != 1000 {
		t.Errorf("amount word = %x", data[36:])
	}
}

func TestDecodeTransfer(t *testing.T) {
	from := "0x1111111111111111111111111111111111111111"
	to := "0x2222222222222222222222222222222222222222"
	amount := common.LeftPadBytes(big.NewInt(2_500_000).Bytes(), 32)

	tests := []struct {
		name string
		log  Log
		ok   bool
	}{
		{
			name: "erc20 transfer",
			log: Log{
				Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
				Topics:  []string{TransferEventTopic, AddressTopic(from), AddressTopic(to)},
				Data:    amount,
			},
			ok: true,
		},
		{
			name: "erc721 transfer has indexed id",
			log: Log{
				Topics: []string{TransferEventTopic, AddressTopic(from), AddressTopic(to), AddressTopic(to)},
			},
		},
		{
			name: "other event",
			log: Log{
				Topics: []string{AddressTopic(from), AddressTopic(from), AddressTopic(to)},
				Data:   amount,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, ok := DecodeTransfer(tt.log)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if tr.From != from || tr.To != to {
				t.Errorf("from/to = %s/%s", tr.From, tr.To)
			}
			if tr.Token != "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913" {
				t.Errorf("Token = %s", tr.Token)
			}
			if tr.Amount.Int64() != 2_500_000 {
				t.Errorf("Amount = %s", tr.Amount)
			}
		})
	}
}
