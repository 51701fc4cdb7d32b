// Package mining defines the work, solution and farm contracts shared
// between the pool orchestrator and the compute engines.
package mining

import "encoding/hex"

// Hash is a 32-byte work identifier, comparable by value.
type Hash [32]byte

// Hex returns the hash as a 0x-prefixed hex string
func (h Hash) Hex() string {
	return "0x" + hex.EncodeToString(h[:])
}

// Short returns an abbreviated form for log lines
func (h Hash) Short() string {
	return "0x" + hex.EncodeToString(h[:4]) + "…"
}

// Work is a unit of mining work handed down by the pool. Identity is the
// header hash; the boundary is a 256-bit big-endian upper bound on the seal
// hash of a valid share.
type Work struct {
	Header   Hash
	Boundary [32]byte
}

// Solution is a nonce found by the farm for the current work.
type Solution struct {
	Work  Work
	Nonce uint64
	Stale bool
}

// Progress is a snapshot of farm throughput.
type Progress struct {
	Rate uint64 // hashes per second
}

// Engine identifies a compute engine class.
type Engine string

// Engine classes the farm can spin up.
const (
	EngineOpenCL Engine = "opencl"
	EngineCUDA   Engine = "cuda"
)
