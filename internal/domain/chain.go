package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedChain is returned when a chain identifier is not in the chain table.
var ErrUnsupportedChain = errors.New("unsupported chain")

// Chain identifies a supported blockchain.
type Chain uint8

// Supported chains. Order is the canonical route ordering.
const (
	ChainEthereum Chain = iota + 1
	ChainBase
	ChainArbitrum
	ChainOptimism
	ChainPolygon
	ChainBSC
	ChainLinea
	ChainSolana
)

// ChainKind is the address/execution family of a chain.
type ChainKind string

const (
	ChainKindEVM    ChainKind = "evm"
	ChainKindSolana ChainKind = "solana"
)

// ChainInfo is the static configuration of a supported chain.
type ChainInfo struct {
	Name    string
	ChainID int64 // EVM chain id, 0 for non-EVM
	Kind    ChainKind

	// Intermediate stable asset used for cross-chain routes.
	StableSymbol   string
	StableAddress  string
	StableDecimals int
}

var chainTable = map[Chain]ChainInfo{
	ChainEthereum: {
		Name: "ethereum", ChainID: 1, Kind: ChainKindEVM,
		StableSymbol: "USDC", StableAddress: "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", StableDecimals: 6,
	},
	ChainBase: {
		Name: "base", ChainID: 8453, Kind: ChainKindEVM,
		StableSymbol: "USDC", StableAddress: "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913", StableDecimals: 6,
	},
	ChainArbitrum: {
		Name: "arbitrum", ChainID: 42161, Kind: ChainKindEVM,
		StableSymbol: "USDC", StableAddress: "0xaf88d065e77c8cc2239327c5edb3a432268e5831", StableDecimals: 6,
	},
	ChainOptimism: {
		Name: "optimism", ChainID: 10, Kind: ChainKindEVM,
		StableSymbol: "USDC", StableAddress: "0x0b2c639c533813f4aa9d7837caf62653d097ff85", StableDecimals: 6,
	},
	ChainPolygon: {
		Name: "polygon", ChainID: 137, Kind: ChainKindEVM,
		StableSymbol: "USDC", StableAddress: "0x3c499c542cef5e3811e1192ce70d8cc03d5c3359", StableDecimals: 6,
	},
	ChainBSC: {
		Name: "bsc", ChainID: 56, Kind: ChainKindEVM,
		StableSymbol: "USDC", StableAddress: "0x8ac76a51cc950d9822d68b83fe1ad97b32cd580d", StableDecimals: 18,
	},
	ChainLinea: {
		Name: "linea", ChainID: 59144, Kind: ChainKindEVM,
		StableSymbol: "USDC", StableAddress: "0x176211869ca2b568f2a7d4ee941e073a821ee1ff", StableDecimals: 6,
	},
	ChainSolana: {
		Name: "solana", ChainID: 0, Kind: ChainKindSolana,
		StableSymbol: "USDC", StableAddress: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", StableDecimals: 6,
	},
}

var chainByName = func() map[string]Chain {
	m := make(map[string]Chain, len(chainTable))
	for c, info := range chainTable {
		m[info.Name] = c
	}
	return m
}()

// AllChains returns supported chains in canonical order.
func AllChains() []Chain {
	return []Chain{
		ChainEthereum, ChainBase, ChainArbitrum, ChainOptimism,
		ChainPolygon, ChainBSC, ChainLinea, ChainSolana,
	}
}

// ParseChain resolves a chain name (case-insensitive).
func ParseChain(name string) (Chain, error) {
	c, ok := chainByName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedChain, name)
	}
	return c, nil
}

// Info returns the chain's static configuration.
// Panics on an invalid Chain value; use Valid first for untrusted input.
func (c Chain) Info() ChainInfo {
	info, ok := chainTable[c]
	if !ok {
		panic(fmt.Sprintf("domain: unknown chain %d", c))
	}
	return info
}

// Valid reports whether c is a supported chain.
func (c Chain) Valid() bool {
	_, ok := chainTable[c]
	return ok
}

func (c Chain) String() string {
	if info, ok := chainTable[c]; ok {
		return info.Name
	}
	return fmt.Sprintf("chain(%d)", uint8(c))
}

// IsEVM reports whether the chain uses EVM addresses.
func (c Chain) IsEVM() bool {
	return c.Valid() && c.Info().Kind == ChainKindEVM
}

// MarshalText encodes the chain as its name.
func (c Chain) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedChain, uint8(c))
	}
	return []byte(c.Info().Name), nil
}

// UnmarshalText decodes a chain name.
func (c *Chain) UnmarshalText(b []byte) error {
	parsed, err := ParseChain(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
