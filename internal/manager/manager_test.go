package manager

import (
	"sync"
	"testing"
	"time"

	"github.com/tos-network/tos-miner/internal/config"
	"github.com/tos-network/tos-miner/internal/mining"
	"github.com/tos-network/tos-miner/internal/pool"
	"github.com/tos-network/tos-miner/internal/util"
)

// fakeClient is a scriptable pool.Client. Connect succeeds synchronously
// when accept is set and silently fails otherwise.
type fakeClient struct {
	mu        sync.Mutex
	accept    bool
	connected bool
	endpoint  pool.Endpoint
	connects  int
	solutions []mining.Solution
	hashrates []string

	onConnected    func()
	onDisconnected func()
	onWork         func(mining.Work)
	onAccepted     func(stale bool)
	onRejected     func(stale bool)
}

func (c *fakeClient) Connect() {
	c.mu.Lock()
	c.connects++
	if !c.accept {
		c.mu.Unlock()
		return
	}
	c.connected = true
	cb := c.onConnected
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (c *fakeClient) Disconnect() {
	c.mu.Lock()
	was := c.connected
	c.connected = false
	cb := c.onDisconnected
	c.mu.Unlock()
	if was && cb != nil {
		cb()
	}
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) IsPending() bool { return false }

func (c *fakeClient) SetEndpoint(ep pool.Endpoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endpoint = ep
}

func (c *fakeClient) ActiveEndpoint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return "[" + c.endpoint.Address() + "]"
}

func (c *fakeClient) SubmitSolution(sol mining.Solution) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.solutions = append(c.solutions, sol)
}

func (c *fakeClient) SubmitHashrate(rate string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hashrates = append(c.hashrates, rate)
}

func (c *fakeClient) OnConnected(fn func())                  { c.onConnected = fn }
func (c *fakeClient) OnDisconnected(fn func())               { c.onDisconnected = fn }
func (c *fakeClient) OnWorkReceived(fn func(mining.Work))    { c.onWork = fn }
func (c *fakeClient) OnSolutionAccepted(fn func(stale bool)) { c.onAccepted = fn }
func (c *fakeClient) OnSolutionRejected(fn func(stale bool)) { c.onRejected = fn }

func (c *fakeClient) connectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects
}

func (c *fakeClient) submitted() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.solutions)
}

type engineStart struct {
	engine    mining.Engine
	exclusive bool
}

type fakeFarm struct {
	mu       sync.Mutex
	mining   bool
	rate     uint64
	starts   []engineStart
	stops    int
	works    []mining.Work
	poolHost string
	poolPort uint16

	onSolution func(mining.Solution) bool
	onRestart  func()
}

func (f *fakeFarm) IsMining() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mining
}

func (f *fakeFarm) Start(engine mining.Engine, exclusive bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mining = true
	f.starts = append(f.starts, engineStart{engine, exclusive})
}

func (f *fakeFarm) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mining = false
	f.stops++
}

func (f *fakeFarm) SetWork(work mining.Work) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.works = append(f.works, work)
}

func (f *fakeFarm) Progress() mining.Progress {
	f.mu.Lock()
	defer f.mu.Unlock()
	return mining.Progress{Rate: f.rate}
}

func (f *fakeFarm) SetPoolAddress(host string, port uint16) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.poolHost = host
	f.poolPort = port
}

func (f *fakeFarm) OnSolutionFound(fn func(mining.Solution) bool) { f.onSolution = fn }
func (f *fakeFarm) OnMinerRestart(fn func())                      { f.onRestart = fn }

func (f *fakeFarm) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

// recListener records emitted events for assertions.
type recListener struct {
	NopListener
	mu        sync.Mutex
	connected []string
	switches  [][2]string
	wasted    int
	hashrates []uint64
	shutdowns []string
}

func (l *recListener) OnPoolConnected(pool string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connected = append(l.connected, pool)
}

func (l *recListener) OnPoolSwitch(from, to string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.switches = append(l.switches, [2]string{from, to})
}

func (l *recListener) OnSolutionWasted() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.wasted++
}

func (l *recListener) OnHashrate(rate uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hashrates = append(l.hashrates, rate)
}

func (l *recListener) OnShutdown(reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.shutdowns = append(l.shutdowns, reason)
}

func testConfig(engine string, attempts int) *config.Config {
	return &config.Config{
		Miner: config.MinerConfig{Engine: engine},
		Manager: config.ManagerConfig{
			MaxConnectionAttempts: attempts,
			TickInterval:          2 * time.Millisecond,
			ReportInterval:        2,
			FailoverGrace:         0,
		},
	}
}

func newTestManager(engine string, attempts int, eps ...pool.Endpoint) (*Manager, *fakeClient, *fakeFarm, *recListener) {
	client := &fakeClient{}
	farm := &fakeFarm{}
	rec := &recListener{}
	m := New(testConfig(engine, attempts), client, farm, rec)
	for _, ep := range eps {
		m.AddConnection(ep)
	}
	return m, client, farm, rec
}

func epA() pool.Endpoint { return pool.Endpoint{Host: "eu1.pool.example", Port: 4444} }
func epB() pool.Endpoint { return pool.Endpoint{Host: "us1.pool.example", Port: 4444} }

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRotateAfterAttemptBudget(t *testing.T) {
	m, client, farm, rec := newTestManager("opencl", 2, epA(), epB())

	// Two failed attempts against the first endpoint.
	for i := 0; i < 2; i++ {
		if !m.ensureConnection() {
			t.Fatal("ensureConnection should not signal shutdown")
		}
	}
	if got := client.connectCount(); got != 2 {
		t.Fatalf("connects = %d, want 2", got)
	}
	client.mu.Lock()
	ep := client.endpoint
	client.mu.Unlock()
	if ep.Host != epA().Host {
		t.Fatalf("dialed %s, want first endpoint", ep.Host)
	}

	// Budget spent: the next pass rotates, stops running miners and dials
	// the second endpoint.
	farm.Start(mining.EngineOpenCL, true)
	if !m.ensureConnection() {
		t.Fatal("rotation to a real endpoint should not signal shutdown")
	}

	client.mu.Lock()
	ep = client.endpoint
	client.mu.Unlock()
	if ep.Host != epB().Host {
		t.Errorf("dialed %s after rotation, want second endpoint", ep.Host)
	}
	if farm.stopCount() != 1 {
		t.Errorf("farm stops = %d, want 1", farm.stopCount())
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.switches) != 1 {
		t.Fatalf("switch events = %d, want 1", len(rec.switches))
	}
	if rec.switches[0][1] != epB().String() {
		t.Errorf("switched to %s, want %s", rec.switches[0][1], epB())
	}
}

func TestSentinelStopsEverything(t *testing.T) {
	m, client, farm, rec := newTestManager("opencl", 1, epA(), pool.Sentinel())

	if !m.ensureConnection() {
		t.Fatal("first attempt should not signal shutdown")
	}
	farm.Start(mining.EngineOpenCL, true)

	// Budget of 1 spent: rotation lands on the sentinel.
	if m.ensureConnection() {
		t.Fatal("reaching the sentinel should signal shutdown")
	}
	if farm.IsMining() {
		t.Error("farm should be stopped at the sentinel")
	}
	if client.connectCount() != 1 {
		t.Errorf("connects = %d, want 1 (sentinel is never dialed)", client.connectCount())
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.shutdowns) != 1 || rec.shutdowns[0] != "failover exhausted" {
		t.Errorf("shutdown events = %v, want one %q", rec.shutdowns, "failover exhausted")
	}
}

func TestConnectResetsAttemptsAndStartsMiners(t *testing.T) {
	m, client, farm, rec := newTestManager("opencl", 3, epA())

	// Burn two attempts, then let the third succeed.
	m.ensureConnection()
	m.ensureConnection()
	client.mu.Lock()
	client.accept = true
	client.mu.Unlock()
	m.ensureConnection()

	if !client.IsConnected() {
		t.Fatal("client should be connected")
	}
	m.mu.Lock()
	attempts := m.attemptCount
	m.mu.Unlock()
	if attempts != 0 {
		t.Errorf("attemptCount = %d after connect, want 0", attempts)
	}

	farm.mu.Lock()
	starts := append([]engineStart(nil), farm.starts...)
	host, port := farm.poolHost, farm.poolPort
	farm.mu.Unlock()
	if len(starts) != 1 || starts[0].engine != mining.EngineOpenCL || !starts[0].exclusive {
		t.Errorf("farm starts = %+v, want one exclusive opencl start", starts)
	}
	if host != epA().Host || port != epA().Port {
		t.Errorf("farm pool address = %s:%d, want %s", host, port, epA().Address())
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.connected) != 1 {
		t.Errorf("connected events = %d, want 1", len(rec.connected))
	}
}

func TestMixedEngineStart(t *testing.T) {
	m, _, farm, _ := newTestManager("mixed", 3, epA())

	m.startMiners()

	farm.mu.Lock()
	starts := append([]engineStart(nil), farm.starts...)
	farm.mu.Unlock()
	want := []engineStart{
		{mining.EngineCUDA, true},
		{mining.EngineOpenCL, false},
	}
	if len(starts) != len(want) {
		t.Fatalf("starts = %+v, want %+v", starts, want)
	}
	for i := range want {
		if starts[i] != want[i] {
			t.Errorf("start[%d] = %+v, want %+v", i, starts[i], want[i])
		}
	}
}

func TestSolutionForwarding(t *testing.T) {
	m, client, _, rec := newTestManager("opencl", 3, epA())

	sol := mining.Solution{Nonce: 0xdeadbeef}

	// Disconnected: the solution is wasted, never submitted.
	if m.onSolutionFound(sol) {
		t.Error("solution callback should always return false")
	}
	if client.submitted() != 0 {
		t.Fatalf("submitted = %d while disconnected, want 0", client.submitted())
	}

	client.mu.Lock()
	client.accept = true
	client.mu.Unlock()
	client.Connect()

	if m.onSolutionFound(sol) {
		t.Error("solution callback should always return false")
	}
	if client.submitted() != 1 {
		t.Fatalf("submitted = %d while connected, want 1", client.submitted())
	}

	snap := m.Snapshot()
	if snap.Wasted != 1 {
		t.Errorf("wasted = %d, want 1", snap.Wasted)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.wasted != 1 {
		t.Errorf("wasted events = %d, want 1", rec.wasted)
	}
}

func TestSolutionEvalDiscardsBadNonce(t *testing.T) {
	cfg := testConfig("opencl", 3)
	cfg.Miner.EvalSolutions = true
	client := &fakeClient{accept: true}
	farm := &fakeFarm{}
	m := New(cfg, client, farm)
	m.AddConnection(epA())
	client.Connect()

	// An all-zero boundary is unsatisfiable: the re-check must reject.
	bad := mining.Solution{Nonce: 1}
	if m.onSolutionFound(bad) {
		t.Error("solution callback should always return false")
	}
	if client.submitted() != 0 {
		t.Errorf("submitted = %d, want 0 after failed re-check", client.submitted())
	}

	// An all-ones boundary accepts any hash.
	good := mining.Solution{Nonce: 1}
	for i := range good.Work.Boundary {
		good.Work.Boundary[i] = 0xff
	}
	m.onSolutionFound(good)
	if client.submitted() != 1 {
		t.Errorf("submitted = %d, want 1 after passing re-check", client.submitted())
	}
}

func TestWorkDedupAndDifficulty(t *testing.T) {
	m, client, farm, _ := newTestManager("opencl", 3, epA())
	client.accept = true
	client.Connect()

	work := mining.Work{Header: hashN(1)}
	work.Boundary[2] = 0x01 // nonzero boundary

	m.onWorkReceived(work)
	m.onWorkReceived(work) // duplicate

	farm.mu.Lock()
	delivered := len(farm.works)
	farm.mu.Unlock()
	if delivered != 1 {
		t.Fatalf("works delivered = %d, want 1", delivered)
	}

	snap := m.Snapshot()
	if snap.Duplicates != 1 {
		t.Errorf("duplicates = %d, want 1", snap.Duplicates)
	}
	if snap.Difficulty == "" {
		t.Error("difficulty should be set after first job")
	}
	if snap.LastJob != hashN(1).Hex() {
		t.Errorf("last job = %s, want %s", snap.LastJob, hashN(1).Hex())
	}

	// Same boundary, new header: job flows through, difficulty unchanged.
	work2 := work
	work2.Header = hashN(2)
	m.onWorkReceived(work2)
	farm.mu.Lock()
	delivered = len(farm.works)
	farm.mu.Unlock()
	if delivered != 2 {
		t.Errorf("works delivered = %d, want 2", delivered)
	}
}

func TestShareResultCounters(t *testing.T) {
	m, client, _, _ := newTestManager("opencl", 3, epA())
	client.accept = true
	client.Connect()

	m.onSolutionFound(mining.Solution{Nonce: 1, Work: allOnesBoundaryWork()})
	m.onSolutionAccepted(false)
	m.onSolutionAccepted(true)
	m.onSolutionRejected(false)
	m.onSolutionRejected(true)

	snap := m.Snapshot()
	if snap.Accepted != 1 || snap.AcceptedStale != 1 || snap.Rejected != 1 || snap.RejectedStale != 1 {
		t.Errorf("counters = %+v, want one of each", snap)
	}
}

func allOnesBoundaryWork() mining.Work {
	var w mining.Work
	for i := range w.Boundary {
		w.Boundary[i] = 0xff
	}
	return w
}

func TestClearConnections(t *testing.T) {
	m, client, farm, _ := newTestManager("opencl", 3, epA(), epB())
	client.accept = true
	client.Connect()
	farm.SetPoolAddress(epA().Host, epA().Port)

	m.ClearConnections()

	if m.registry.Len() != 0 {
		t.Errorf("registry len = %d, want 0", m.registry.Len())
	}
	if client.IsConnected() {
		t.Error("client should be disconnected")
	}
	farm.mu.Lock()
	host := farm.poolHost
	farm.mu.Unlock()
	if host != "" {
		t.Errorf("farm pool host = %q, want cleared", host)
	}
}

func TestReportHashrateEncoding(t *testing.T) {
	m, client, farm, rec := newTestManager("opencl", 3, epA())
	farm.mu.Lock()
	farm.rate = 0xab3
	farm.mu.Unlock()

	m.reportHashrate()

	client.mu.Lock()
	reports := append([]string(nil), client.hashrates...)
	client.mu.Unlock()
	if len(reports) != 1 {
		t.Fatalf("hashrate reports = %d, want 1", len(reports))
	}
	if want := util.EncodeHashrate(0xab3); reports[0] != want {
		t.Errorf("report = %s, want %s", reports[0], want)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.hashrates) != 1 || rec.hashrates[0] != 0xab3 {
		t.Errorf("hashrate events = %v, want [0xab3]", rec.hashrates)
	}
}

func TestStartWithoutConnectionsIsNoop(t *testing.T) {
	m, _, _, _ := newTestManager("opencl", 3)

	m.Start()

	if m.Running() {
		t.Error("manager should stay idle with an empty registry")
	}
}

func TestWorkLoopLifecycle(t *testing.T) {
	m, client, farm, rec := newTestManager("opencl", 3, epA())
	client.mu.Lock()
	client.accept = true
	client.mu.Unlock()
	farm.mu.Lock()
	farm.rate = 1000
	farm.mu.Unlock()

	m.Start()
	defer m.Stop()

	waitFor(t, "connection", client.IsConnected)
	waitFor(t, "miners", farm.IsMining)
	waitFor(t, "hashrate report", func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		return len(client.hashrates) > 0
	})

	m.Stop()

	if m.Running() {
		t.Error("manager should not be running after Stop")
	}
	if client.IsConnected() {
		t.Error("client should be disconnected after Stop")
	}
	if farm.IsMining() {
		t.Error("farm should be stopped after Stop")
	}

	rec.mu.Lock()
	shutdowns := len(rec.shutdowns)
	rec.mu.Unlock()
	if shutdowns != 1 {
		t.Errorf("shutdown events = %d, want 1 (Stop is idempotent)", shutdowns)
	}

	// Second Stop is a no-op.
	m.Stop()
}

func TestMinerRestart(t *testing.T) {
	m, _, farm, _ := newTestManager("opencl", 3, epA())
	farm.Start(mining.EngineOpenCL, true)

	m.onMinerRestart()

	if farm.stopCount() != 1 {
		t.Errorf("farm stops = %d, want 1", farm.stopCount())
	}
	if !farm.IsMining() {
		t.Error("farm should be mining again after restart")
	}
}
