package domain

import (
	"errors"
	"fmt"
	"strings"

	"filippo.io/edwards25519"
	"github.com/ethereum/go-ethereum/common"
	"github.com/mr-tron/base58"
)

// ErrInvalidAddress is returned when an address is malformed for its chain.
var ErrInvalidAddress = errors.New("invalid address")

// EVMNativeAddress is the conventional placeholder for a chain's native asset.
const EVMNativeAddress = "0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee"

// ValidateAddress checks that addr is a syntactically valid token or account
// address on chain.
func ValidateAddress(chain Chain, addr string) error {
	if !chain.Valid() {
		return ErrUnsupportedChain
	}
	switch chain.Info().Kind {
	case ChainKindEVM:
		if !strings.HasPrefix(addr, "0x") || !common.IsHexAddress(addr) {
			return fmt.Errorf("%w: %q is not a 20-byte hex address", ErrInvalidAddress, addr)
		}
	case ChainKindSolana:
		raw, err := base58.Decode(addr)
		if err != nil || len(raw) != 32 {
			return fmt.Errorf("%w: %q is not a 32-byte base58 key", ErrInvalidAddress, addr)
		}
	}
	return nil
}

// ValidateWallet checks a wallet (owner) address. Solana wallets must be
// ed25519 points; program-derived addresses are off-curve and cannot sign.
func ValidateWallet(chain Chain, addr string) error {
	if err := ValidateAddress(chain, addr); err != nil {
		return err
	}
	if chain.Info().Kind == ChainKindSolana {
		raw, _ := base58.Decode(addr)
		if _, err := new(edwards25519.Point).SetBytes(raw); err != nil {
			return fmt.Errorf("%w: %q is off-curve", ErrInvalidAddress, addr)
		}
	}
	return nil
}

// NormalizeAddress returns the identity form of an address: EVM hex is
// lower-cased, base58 is case-sensitive and kept as is.
func NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if strings.HasPrefix(addr, "0x") || strings.HasPrefix(addr, "0X") {
		return "0x" + strings.ToLower(addr[2:])
	}
	return addr
}

// NormalizeWallet validates a wallet address on any supported chain family
// and returns its normalized form. Used where the chain is not known, as with
// credit accounts.
func NormalizeWallet(addr string) (string, error) {
	addr = NormalizeAddress(addr)
	if strings.HasPrefix(addr, "0x") {
		if err := ValidateWallet(ChainBase, addr); err != nil {
			return "", err
		}
		return addr, nil
	}
	if err := ValidateWallet(ChainSolana, addr); err != nil {
		return "", err
	}
	return addr, nil
}
