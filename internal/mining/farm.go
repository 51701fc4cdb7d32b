package mining

// Farm is the compute engine collaborator. Implementations own their devices
// and worker goroutines; all calls are fire-and-forget from the caller's
// point of view and must not block on device work.
type Farm interface {
	// IsMining reports whether any engine is currently running.
	IsMining() bool

	// Start spins up an engine class. The first engine of a session is
	// started exclusive; in mixed mode the second class is added with
	// exclusive=false so it attaches to the running session instead of
	// resetting it.
	Start(engine Engine, exclusive bool)

	// Stop shuts down all running engines.
	Stop()

	// SetWork replaces the current work package on all engines.
	SetWork(work Work)

	// Progress samples current throughput.
	Progress() Progress

	// SetPoolAddress records the pool the farm is mining against, for
	// display and device-level telemetry. An empty host clears it.
	SetPoolAddress(host string, port uint16)

	// OnSolutionFound registers the solution callback. The callback's
	// return value tells the farm whether the solution was consumed;
	// the orchestrator always returns false so the farm keeps its own
	// bookkeeping.
	OnSolutionFound(fn func(Solution) bool)

	// OnMinerRestart registers the callback invoked when the farm wants
	// its engines torn down and respun (device hang, epoch change).
	OnMinerRestart(fn func())
}
