// Package manager binds the compute farm to one of several pool endpoints
// with automatic failover. It owns the endpoint registry, deduplicates and
// forwards incoming jobs, tracks the pool difficulty, reports hashrate on a
// timer and passes found solutions through to the connected client.
package manager

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/tos-network/tos-miner/internal/config"
	"github.com/tos-network/tos-miner/internal/mining"
	"github.com/tos-network/tos-miner/internal/pool"
	"github.com/tos-network/tos-miner/internal/seal"
	"github.com/tos-network/tos-miner/internal/util"
)

// Manager is the pool orchestrator. It is driven from three execution
// contexts at once: the client's I/O callbacks, the farm's solution
// callbacks and its own supervisory loop. The running flag is atomic and
// everything else shared across those contexts sits behind mu.
type Manager struct {
	client pool.Client
	farm   mining.Farm

	registry *pool.Registry
	history  *jobHistory

	engine      string
	evalEnabled bool
	maxAttempts int
	tick        time.Duration
	reportEvery int
	grace       time.Duration

	listeners []Listener

	mu           sync.Mutex
	attemptCount int
	lastBoundary [32]byte
	difficulty   string
	lastJob      mining.Hash
	submittedAt  time.Time
	stats        counters

	running atomic.Bool
	quit    chan struct{}
	wg      sync.WaitGroup
}

type counters struct {
	accepted      uint64
	acceptedStale uint64
	rejected      uint64
	rejectedStale uint64
	wasted        uint64
	duplicates    uint64
	failovers     uint64
}

// Stats is a point-in-time snapshot of orchestration state.
type Stats struct {
	Running       bool   `json:"running"`
	Connected     bool   `json:"connected"`
	ActivePool    string `json:"active_pool"`
	Attempts      int    `json:"connection_attempts"`
	Accepted      uint64 `json:"accepted"`
	AcceptedStale uint64 `json:"accepted_stale"`
	Rejected      uint64 `json:"rejected"`
	RejectedStale uint64 `json:"rejected_stale"`
	Wasted        uint64 `json:"wasted"`
	Duplicates    uint64 `json:"duplicate_jobs"`
	Failovers     uint64 `json:"failovers"`
	Difficulty    string `json:"difficulty"`
	LastJob       string `json:"last_job,omitempty"`
	Hashrate      uint64 `json:"hashrate"`
}

// PoolInfo describes one registry entry for the status API.
type PoolInfo struct {
	URL    string `json:"url"`
	Active bool   `json:"active"`
}

// New wires a manager to its client and farm. The manager registers itself
// for every client and farm event; Start must be called separately.
func New(cfg *config.Config, client pool.Client, farm mining.Farm, listeners ...Listener) *Manager {
	m := &Manager{
		client:      client,
		farm:        farm,
		registry:    pool.NewRegistry(),
		history:     newJobHistory(jobWindow),
		engine:      cfg.Miner.Engine,
		evalEnabled: cfg.Miner.EvalSolutions,
		maxAttempts: cfg.Manager.MaxConnectionAttempts,
		tick:        cfg.Manager.TickInterval,
		reportEvery: cfg.Manager.ReportInterval,
		grace:       cfg.Manager.FailoverGrace,
		listeners:   listeners,
	}

	client.OnConnected(m.onConnected)
	client.OnDisconnected(m.onDisconnected)
	client.OnWorkReceived(m.onWorkReceived)
	client.OnSolutionAccepted(m.onSolutionAccepted)
	client.OnSolutionRejected(m.onSolutionRejected)

	farm.OnSolutionFound(m.onSolutionFound)
	farm.OnMinerRestart(m.onMinerRestart)

	return m
}

// AddConnection appends an endpoint to the failover list
func (m *Manager) AddConnection(ep pool.Endpoint) {
	m.registry.Add(ep)
}

// ClearConnections empties the failover list, clears the farm's recorded
// pool address and disconnects the client if connected.
func (m *Manager) ClearConnections() {
	m.registry.Clear()
	m.farm.SetPoolAddress("", 0)
	if m.client.IsConnected() {
		m.client.Disconnect()
	}
}

// Start launches the supervisory loop. With no registered endpoints this is
// a no-op aside from a warning; the manager stays idle.
func (m *Manager) Start() {
	if m.registry.Len() == 0 {
		util.Warn("Manager has no connections defined")
		return
	}
	if !m.running.CompareAndSwap(false, true) {
		return
	}
	m.mu.Lock()
	m.quit = make(chan struct{})
	m.mu.Unlock()
	m.wg.Add(1)
	go m.workLoop()
}

// Stop shuts the manager down: client disconnected, miners stopped, loop
// terminated. Idempotent and safe to call from any goroutine; the loop
// observes the cleared flag within one tick.
func (m *Manager) Stop() {
	if !m.running.CompareAndSwap(true, false) {
		return
	}

	util.Info("Shutting down...")
	m.mu.Lock()
	quit := m.quit
	m.mu.Unlock()
	close(quit)

	if m.client.IsConnected() {
		m.client.Disconnect()
	}
	if m.farm.IsMining() {
		util.Info("Shutting down miners...")
		m.farm.Stop()
	}

	m.wg.Wait()
	m.emitShutdown("stopped")
}

// Running reports whether the supervisory loop is active
func (m *Manager) Running() bool {
	return m.running.Load()
}

// workLoop is the supervisory loop. One pass per tick: drive the connection
// state if the client is not pending, then count down to the next hashrate
// report.
func (m *Manager) workLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()

	reportTicks := 0
	for m.running.Load() {
		// A pending connect/disconnect resolves on its own; take no
		// connection action until it has.
		if !m.client.IsPending() && !m.client.IsConnected() {
			if !m.ensureConnection() {
				// Out of failover endpoints: orderly shutdown.
				m.running.Store(false)
				continue
			}
		}

		reportTicks++
		if reportTicks > m.reportEvery {
			m.reportHashrate()
			reportTicks = 0
		}

		select {
		case <-ticker.C:
		case <-m.quit:
		}
	}
}

// ensureConnection initiates a connection attempt against the active
// endpoint, rotating first when the attempt budget is spent. It returns
// false when the rotation has reached the sentinel and the manager must
// shut down.
func (m *Manager) ensureConnection() bool {
	m.mu.Lock()
	rotate := m.attemptCount >= m.maxAttempts
	if rotate {
		m.attemptCount = 0
	}
	m.mu.Unlock()

	if rotate {
		prev, _ := m.registry.Active()
		next, _ := m.registry.Rotate()

		// Landing on the sentinel is terminal, not a switch.
		if !next.IsSentinel() {
			m.mu.Lock()
			m.stats.failovers++
			m.mu.Unlock()

			util.Warnf("Pool %s unreachable after %d attempts, switching to %s", prev, m.maxAttempts, next)
			m.emitSwitch(prev.String(), next.String())

			if m.farm.IsMining() {
				util.Info("Shutting down miners...")
				m.farm.Stop()
				m.graceWait()
			}
		}
	}

	ep, ok := m.registry.Active()
	if !ok {
		// Connections were cleared while running; nothing to dial.
		util.Warn("No connections registered")
		return true
	}

	if ep.IsSentinel() {
		util.Info("No more failover connections.")
		if m.farm.IsMining() {
			util.Info("Shutting down miners...")
			m.farm.Stop()
		}
		m.emitShutdown("failover exhausted")
		return false
	}

	m.mu.Lock()
	m.attemptCount++
	attempt := m.attemptCount
	m.mu.Unlock()

	m.client.SetEndpoint(ep)
	m.farm.SetPoolAddress(ep.Host, ep.Port)
	util.Infof("Selected pool %s (attempt %d/%d)", ep.Address(), attempt, m.maxAttempts)
	m.client.Connect()
	return true
}

// graceWait gives mining threads time to wind down before the next endpoint
// is dialed. Interrupted by Stop.
func (m *Manager) graceWait() {
	for i := int(m.grace / time.Second); i > 0; i-- {
		util.Infof("Retrying in %d...", i)
		select {
		case <-time.After(time.Second):
		case <-m.quit:
			return
		}
	}
}

// reportHashrate samples farm throughput and submits it in the fixed-width
// wire encoding the pool expects.
func (m *Manager) reportHashrate() {
	rate := m.farm.Progress().Rate
	m.client.SubmitHashrate(util.EncodeHashrate(rate))
	m.emitHashrate(rate)
}

// startMiners spins up engines per the configured mode. In mixed mode the
// second engine class attaches to the session non-exclusively.
func (m *Manager) startMiners() {
	switch m.engine {
	case "cuda":
		m.farm.Start(mining.EngineCUDA, true)
	case "mixed":
		m.farm.Start(mining.EngineCUDA, true)
		m.farm.Start(mining.EngineOpenCL, false)
	default:
		m.farm.Start(mining.EngineOpenCL, true)
	}
}

// onConnected handles an established pool connection.
func (m *Manager) onConnected() {
	m.mu.Lock()
	m.attemptCount = 0
	m.mu.Unlock()

	ep, _ := m.registry.Active()
	util.Infof("Connected to %s %s", ep.Host, m.client.ActiveEndpoint())
	m.emitConnected(ep.String())

	if !m.farm.IsMining() {
		util.Info("Spinning up miners...")
		m.startMiners()
	}
}

// onDisconnected only reports the drop. Miners keep running: the work loop
// decides between a fast reconnect to the same pool and failover.
func (m *Manager) onDisconnected() {
	ep, _ := m.registry.Active()
	util.Infof("Disconnected from %s %s", ep.Host, m.client.ActiveEndpoint())
	m.emitDisconnected(ep.String())
}

// onWorkReceived filters duplicate jobs, refreshes the difficulty display
// when the boundary moved and hands the job to the farm.
func (m *Manager) onWorkReceived(work mining.Work) {
	if !m.history.Offer(work.Header) {
		m.mu.Lock()
		m.stats.duplicates++
		m.mu.Unlock()
		util.Warnf("Duplicate job %s discarded", work.Header.Hex())
		return
	}

	ep, _ := m.registry.Active()
	util.Infof("New job %s  %s%s", work.Header.Short(), ep.Host, m.client.ActiveEndpoint())

	m.mu.Lock()
	m.lastJob = work.Header
	if work.Boundary != m.lastBoundary {
		// The division below is exact 256-bit arithmetic; only redo it
		// when the boundary actually moved.
		m.lastBoundary = work.Boundary
		m.difficulty = util.DisplayDifficulty(work.Boundary[:])
		diff := m.difficulty
		m.mu.Unlock()
		util.Infof("New pool difficulty: %s", diff)
	} else {
		m.mu.Unlock()
	}

	m.farm.SetWork(work)
}

// onSolutionAccepted reports the pool's accept with round-trip latency.
func (m *Manager) onSolutionAccepted(stale bool) {
	m.mu.Lock()
	latency := time.Since(m.submittedAt)
	if stale {
		m.stats.acceptedStale++
	} else {
		m.stats.accepted++
	}
	m.mu.Unlock()

	util.Infof("**Accepted%s %4dms  %s", staleTag(stale), latency.Milliseconds(), m.client.ActiveEndpoint())
	m.emitShare(true, stale, latency)
}

// onSolutionRejected reports the pool's reject with round-trip latency.
func (m *Manager) onSolutionRejected(stale bool) {
	m.mu.Lock()
	latency := time.Since(m.submittedAt)
	if stale {
		m.stats.rejectedStale++
	} else {
		m.stats.rejected++
	}
	m.mu.Unlock()

	util.Warnf("**Rejected%s %4dms  %s", staleTag(stale), latency.Milliseconds(), m.client.ActiveEndpoint())
	m.emitShare(false, stale, latency)
}

// onSolutionFound passes a solution through to the client. Solutions found
// while disconnected are dropped: submitting into a dead session would log a
// nonce and never see a response. Always returns false so the farm keeps
// its own solution bookkeeping.
func (m *Manager) onSolutionFound(sol mining.Solution) bool {
	if m.evalEnabled && !seal.Check(sol) {
		util.Warnf("Nonce %s failed CPU re-check, discarded", util.NonceToHex(sol.Nonce))
		return false
	}

	if m.client.IsConnected() {
		m.mu.Lock()
		m.submittedAt = time.Now()
		m.mu.Unlock()

		if sol.Stale {
			util.Infof("Stale nonce %s", util.NonceToHex(sol.Nonce))
		} else {
			util.Infof("Nonce %s", util.NonceToHex(sol.Nonce))
		}
		m.client.SubmitSolution(sol)
	} else {
		m.mu.Lock()
		m.stats.wasted++
		m.mu.Unlock()

		util.Warnf("Nonce %s wasted. Waiting for connection...", util.NonceToHex(sol.Nonce))
		m.emitWasted()
	}
	return false
}

// onMinerRestart tears the engines down and respins them with the same
// engine selection as a fresh connect.
func (m *Manager) onMinerRestart() {
	util.Info("Restart miners...")
	if m.farm.IsMining() {
		util.Info("Shutting down miners...")
		m.farm.Stop()
	}
	util.Info("Spinning up miners...")
	m.startMiners()
}

// Snapshot returns current orchestration state for the status API.
func (m *Manager) Snapshot() Stats {
	ep, _ := m.registry.Active()

	m.mu.Lock()
	s := Stats{
		Attempts:      m.attemptCount,
		Accepted:      m.stats.accepted,
		AcceptedStale: m.stats.acceptedStale,
		Rejected:      m.stats.rejected,
		RejectedStale: m.stats.rejectedStale,
		Wasted:        m.stats.wasted,
		Duplicates:    m.stats.duplicates,
		Failovers:     m.stats.failovers,
		Difficulty:    m.difficulty,
	}
	if m.lastJob != (mining.Hash{}) {
		s.LastJob = m.lastJob.Hex()
	}
	m.mu.Unlock()

	s.Running = m.running.Load()
	s.Connected = m.client.IsConnected()
	s.ActivePool = ep.String()
	s.Hashrate = m.farm.Progress().Rate
	return s
}

// Pools lists the registered endpoints with the active one marked.
func (m *Manager) Pools() []PoolInfo {
	active := m.registry.ActiveIndex()
	eps := m.registry.List()

	out := make([]PoolInfo, len(eps))
	for i, ep := range eps {
		out[i] = PoolInfo{URL: ep.String(), Active: i == active}
	}
	return out
}

func staleTag(stale bool) string {
	if stale {
		return " (stale)"
	}
	return ""
}

func (m *Manager) emitConnected(pool string) {
	for _, l := range m.listeners {
		l.OnPoolConnected(pool)
	}
}

func (m *Manager) emitDisconnected(pool string) {
	for _, l := range m.listeners {
		l.OnPoolDisconnected(pool)
	}
}

func (m *Manager) emitSwitch(from, to string) {
	for _, l := range m.listeners {
		l.OnPoolSwitch(from, to)
	}
}

func (m *Manager) emitShare(accepted, stale bool, latency time.Duration) {
	for _, l := range m.listeners {
		l.OnShareResult(accepted, stale, latency)
	}
}

func (m *Manager) emitWasted() {
	for _, l := range m.listeners {
		l.OnSolutionWasted()
	}
}

func (m *Manager) emitHashrate(rate uint64) {
	for _, l := range m.listeners {
		l.OnHashrate(rate)
	}
}

func (m *Manager) emitShutdown(reason string) {
	for _, l := range m.listeners {
		l.OnShutdown(reason)
	}
}
