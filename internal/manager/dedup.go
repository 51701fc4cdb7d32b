package manager

import (
	"sync"

	"github.com/tos-network/tos-miner/internal/mining"
)

// jobWindow is the number of recent job identifiers kept for duplicate
// suppression. Pools occasionally re-announce the current job on reconnect
// or difficulty change; anything older than this window is treated as new
// work again.
const jobWindow = 4

// jobHistory is a bounded FIFO of recently seen job identifiers. It is a
// noise filter only and has no bearing on share validity.
type jobHistory struct {
	mu   sync.Mutex
	seen []mining.Hash
	max  int
}

func newJobHistory(max int) *jobHistory {
	return &jobHistory{max: max}
}

// Offer records a job identifier and reports whether it was new. Accepting
// an identifier past the window size evicts the oldest entry.
func (h *jobHistory) Offer(id mining.Hash) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, s := range h.seen {
		if s == id {
			return false
		}
	}

	h.seen = append(h.seen, id)
	if len(h.seen) > h.max {
		h.seen = append(h.seen[:0], h.seen[len(h.seen)-h.max:]...)
	}
	return true
}

// Len returns the number of identifiers currently in the window
func (h *jobHistory) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.seen)
}
