// Package common provides shared utilities for the Opaque privacy pool.
package common

import (
	"encoding/binary"
	"encoding/hex"
)

// HexToBytes converts a hex string to bytes, accepting an optional 0x prefix
func HexToBytes(s string) ([]byte, error) {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	return hex.DecodeString(s)
}

// Uint64ToBytes converts uint64 to bytes (big endian)
func Uint64ToBytes(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}
