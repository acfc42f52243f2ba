package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeUsageEventID computes a deterministic usage event id.
// Formula: SHA256(wallet|method|endpoint|request_id|created_at)
// Returns hex-encoded hash (64 characters).
func ComputeUsageEventID(
	wallet string,
	method string,
	endpoint string,
	requestID string,
	createdAt int64,
) string {
	data := fmt.Sprintf("%s|%s|%s|%s|%d",
		wallet,
		method,
		endpoint,
		requestID,
		createdAt,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
