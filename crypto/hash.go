package crypto

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash returns the SHA-256 hash of data as a lowercase hex string, used for
// human-readable logging and JSON-encoded on-disk metadata.
func Hash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// HashBytes returns the raw SHA-256 bytes of data.
func HashBytes(data []byte) []byte {
	h := sha256.Sum256(data)
	return h[:]
}

// HashBytes32 returns the SHA-256 digest of data as a fixed 32-byte array,
// the form every hash field in the data model (core.Block.Hash,
// state_root, prev_hash) uses.
func HashBytes32(data []byte) [32]byte {
	return sha256.Sum256(data)
}
