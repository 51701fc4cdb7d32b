// Package storage provides the optional Redis telemetry sink for tos-miner.
package storage

// ShareRecord is one accept/reject response kept in the recent-shares list.
type ShareRecord struct {
	Pool      string `json:"pool"`
	Accepted  bool   `json:"accepted"`
	Stale     bool   `json:"stale"`
	LatencyMs int64  `json:"latency_ms"`
	Timestamp int64  `json:"timestamp"`
}

// FailoverRecord is one pool rotation event.
type FailoverRecord struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Timestamp int64  `json:"timestamp"`
}

// Counters are the lifetime counters kept in Redis.
type Counters struct {
	Accepted      int64 `json:"accepted"`
	AcceptedStale int64 `json:"accepted_stale"`
	Rejected      int64 `json:"rejected"`
	RejectedStale int64 `json:"rejected_stale"`
	Wasted        int64 `json:"wasted"`
	Failovers     int64 `json:"failovers"`
}
