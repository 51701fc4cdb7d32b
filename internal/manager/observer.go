package manager

import "time"

// Listener receives orchestration events for side channels such as the
// Redis telemetry sink, APM or operator webhooks. Calls must not block and
// have no effect on control flow; the manager invokes them after its own
// state is already updated.
type Listener interface {
	// OnPoolConnected fires after a connection is established.
	OnPoolConnected(pool string)

	// OnPoolDisconnected fires when an established connection drops.
	OnPoolDisconnected(pool string)

	// OnPoolSwitch fires when the failover rotation selects a new pool.
	OnPoolSwitch(from, to string)

	// OnShareResult fires for every accept/reject response, with the
	// round-trip latency since the solution was submitted.
	OnShareResult(accepted, stale bool, latency time.Duration)

	// OnSolutionWasted fires when a solution is discarded because the
	// client was disconnected.
	OnSolutionWasted()

	// OnHashrate fires for every hashrate report.
	OnHashrate(rate uint64)

	// OnShutdown fires once when the manager stops, with the reason.
	OnShutdown(reason string)
}

// NopListener implements Listener with no-ops, for embedding.
type NopListener struct{}

func (NopListener) OnPoolConnected(string)                       {}
func (NopListener) OnPoolDisconnected(string)                    {}
func (NopListener) OnPoolSwitch(string, string)                  {}
func (NopListener) OnShareResult(bool, bool, time.Duration)      {}
func (NopListener) OnSolutionWasted()                            {}
func (NopListener) OnHashrate(uint64)                            {}
func (NopListener) OnShutdown(string)                            {}
