// Package idhash derives deterministic identifiers for ledger entries and
// usage events.
package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"dust-sweeper/internal/domain"
)

// ComputeTransactionID computes a deterministic credit transaction id.
// Formula: SHA256(wallet|type|reference)
//
// reference identifies the operation: the tx hash for a deposit, the account
// state for an expiry, a caller-supplied unique key otherwise. Equal
// inputs yield equal ids, so a replayed operation collides on insert.
// Returns hex-encoded hash (64 characters).
func ComputeTransactionID(wallet string, txType domain.CreditTxType, reference string) string {
	data := fmt.Sprintf("%s|%s|%s",
		wallet,
		string(txType),
		reference,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// DepositReference is the reference of a deposit entry. EVM hashes are
// case-insensitive and are lower-cased.
func DepositReference(txHash string) string {
	txHash = strings.TrimSpace(txHash)
	if strings.HasPrefix(txHash, "0x") || strings.HasPrefix(txHash, "0X") {
		return strings.ToLower(txHash)
	}
	return txHash
}

// ExpiryReference is the reference of an expiry entry: the account's expiry
// instant and the time of its last mutation (ms). Concurrent runs over the
// same account state collide; any later mutation yields a new reference.
func ExpiryReference(expiresAt, updatedAt int64) string {
	return fmt.Sprintf("expires:%d:%d", expiresAt, updatedAt)
}
