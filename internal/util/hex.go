package util

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

// HashrateHexWidth is the fixed width of the eth_submitHashrate payload in
// hex characters (a 32-byte quantity). Pools reject shorter encodings.
const HashrateHexWidth = 64

// EncodeHashrate encodes a sampled hashrate for submission to the pool.
// The rate is written as a minimal big-endian hex string, a single redundant
// leading zero nibble is stripped, and the result is zero-left-padded to
// exactly 64 characters with a 0x prefix.
func EncodeHashrate(rate uint64) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], rate)

	// Minimal big-endian representation, at least one byte.
	i := 0
	for i < len(buf)-1 && buf[i] == 0 {
		i++
	}
	h := hex.EncodeToString(buf[i:])
	if h[0] == '0' {
		h = h[1:]
	}

	return "0x" + strings.Repeat("0", HashrateHexWidth-len(h)) + h
}

// HexToBytes converts a hex string to bytes
func HexToBytes(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	return hex.DecodeString(s)
}

// BytesToHex converts bytes to hex string with 0x prefix
func BytesToHex(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

// MustHexToBytes converts hex string to bytes, panics on error
func MustHexToBytes(s string) []byte {
	b, err := HexToBytes(s)
	if err != nil {
		panic(fmt.Sprintf("invalid hex string: %s", s))
	}
	return b
}

// NonceToHex formats a solution nonce as 16 hex characters with 0x prefix
func NonceToHex(nonce uint64) string {
	return fmt.Sprintf("0x%016x", nonce)
}
