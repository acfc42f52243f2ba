package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseChain(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Chain
		wantErr bool
	}{
		{name: "lower", input: "base", want: ChainBase},
		{name: "mixed case", input: "Arbitrum", want: ChainArbitrum},
		{name: "padded", input: " solana ", want: ChainSolana},
		{name: "unknown", input: "fantom", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseChain(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrUnsupportedChain) {
					t.Fatalf("ParseChain(%q) error = %v, want ErrUnsupportedChain", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseChain(%q): %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseChain(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestChainTableIsTotal(t *testing.T) {
	for _, c := range AllChains() {
		if !c.Valid() {
			t.Fatalf("chain %d missing from table", c)
		}
		info := c.Info()
		if info.StableAddress == "" || info.StableDecimals == 0 {
			t.Errorf("chain %s has no stable asset", info.Name)
		}
		if err := ValidateAddress(c, info.StableAddress); err != nil {
			t.Errorf("chain %s stable address invalid: %v", info.Name, err)
		}
	}
}

func TestChain_JSON(t *testing.T) {
	type wrapper struct {
		Chain Chain `json:"chain"`
	}

	data, err := json.Marshal(wrapper{Chain: ChainOptimism})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"chain":"optimism"}` {
		t.Errorf("marshal = %s", data)
	}

	var w wrapper
	if err := json.Unmarshal([]byte(`{"chain":"bsc"}`), &w); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if w.Chain != ChainBSC {
		t.Errorf("unmarshal chain = %v, want bsc", w.Chain)
	}

	if err := json.Unmarshal([]byte(`{"chain":"tron"}`), &w); err == nil {
		t.Error("expected error for unsupported chain")
	}
}
