// Package seal computes and checks solution seal hashes so obviously bad
// nonces can be caught on the CPU before they are wasted on a submission.
package seal

import (
	"encoding/binary"

	"github.com/zeebo/blake3"

	"github.com/tos-network/tos-miner/internal/mining"
)

// Compute returns the seal hash for a header and nonce. The nonce is
// appended to the work header big-endian, matching the order the pool uses
// when it re-checks the share.
func Compute(header mining.Hash, nonce uint64) [32]byte {
	var input [40]byte
	copy(input[:32], header[:])
	binary.BigEndian.PutUint64(input[32:], nonce)

	h := blake3.New()
	h.Write(input[:])

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// MeetsBoundary reports whether a seal hash is within the share boundary.
// Both values are 256-bit big-endian; the hash must not exceed the boundary.
func MeetsBoundary(hash, boundary [32]byte) bool {
	for i := 0; i < len(hash); i++ {
		if hash[i] < boundary[i] {
			return true
		}
		if hash[i] > boundary[i] {
			return false
		}
	}
	return true
}

// Check evaluates a solution against its own work package.
func Check(sol mining.Solution) bool {
	return MeetsBoundary(Compute(sol.Work.Header, sol.Nonce), sol.Work.Boundary)
}
