// Package sim provides an in-process pool and farm for running the miner
// without real hardware or a live pool: the client issues synthetic jobs and
// verdicts, the farm grinds them on CPU threads.
package sim

import (
	"math/big"
	"math/rand"
	"sync"
	"time"

	"github.com/tos-network/tos-miner/internal/config"
	"github.com/tos-network/tos-miner/internal/mining"
	"github.com/tos-network/tos-miner/internal/pool"
	"github.com/tos-network/tos-miner/internal/seal"
	"github.com/tos-network/tos-miner/internal/util"
)

const (
	stateDisconnected = iota
	statePending
	stateConnected
)

// Client is a simulated pool. It accepts any endpoint, issues a fresh job on
// a fixed interval and verdicts submitted solutions against the job boundary.
type Client struct {
	workInterval time.Duration
	boundary     [32]byte

	mu       sync.Mutex
	state    int
	endpoint pool.Endpoint
	rng      *rand.Rand
	quit     chan struct{}
	wg       sync.WaitGroup

	onConnected    func()
	onDisconnected func()
	onWork         func(mining.Work)
	onAccepted     func(stale bool)
	onRejected     func(stale bool)
}

// NewClient builds a simulated pool from the sim config. DifficultyBits sets
// the boundary so one solution is expected every 2^bits hashes.
func NewClient(cfg *config.SimConfig) *Client {
	return &Client{
		workInterval: cfg.WorkInterval,
		boundary:     boundaryForBits(cfg.DifficultyBits),
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// boundaryForBits returns the largest target with the top bits zeroed.
func boundaryForBits(bits int) [32]byte {
	max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	target := new(big.Int).Rsh(max, uint(bits))

	var out [32]byte
	target.FillBytes(out[:])
	return out
}

// Connect establishes the simulated session and starts the job feed.
func (c *Client) Connect() {
	c.mu.Lock()
	if c.state != stateDisconnected {
		c.mu.Unlock()
		return
	}
	c.state = stateConnected
	c.quit = make(chan struct{})
	quit := c.quit
	cb := c.onConnected
	c.mu.Unlock()

	if cb != nil {
		cb()
	}

	c.wg.Add(1)
	go c.workFeed(quit)
}

// Disconnect tears the session down and stops the job feed.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.state != stateConnected {
		c.mu.Unlock()
		return
	}
	c.state = stateDisconnected
	close(c.quit)
	cb := c.onDisconnected
	c.mu.Unlock()

	c.wg.Wait()
	if cb != nil {
		cb()
	}
}

// IsConnected reports whether the simulated session is up
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateConnected
}

// IsPending reports whether a connect or disconnect is in flight
func (c *Client) IsPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == statePending
}

// SetEndpoint records the endpoint; the simulation accepts any
func (c *Client) SetEndpoint(ep pool.Endpoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endpoint = ep
}

// ActiveEndpoint describes the simulated remote
func (c *Client) ActiveEndpoint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return "[sim " + c.endpoint.Address() + "]"
}

// SubmitSolution verdicts the solution against the job boundary.
func (c *Client) SubmitSolution(sol mining.Solution) {
	c.mu.Lock()
	onAccepted := c.onAccepted
	onRejected := c.onRejected
	c.mu.Unlock()

	if seal.Check(sol) {
		if onAccepted != nil {
			onAccepted(sol.Stale)
		}
	} else {
		if onRejected != nil {
			onRejected(sol.Stale)
		}
	}
}

// SubmitHashrate logs the report; a real pool would aggregate it.
func (c *Client) SubmitHashrate(rate string) {
	util.Debugf("Simulated pool received hashrate %s", rate)
}

func (c *Client) OnConnected(fn func())                  { c.onConnected = fn }
func (c *Client) OnDisconnected(fn func())               { c.onDisconnected = fn }
func (c *Client) OnWorkReceived(fn func(mining.Work))    { c.onWork = fn }
func (c *Client) OnSolutionAccepted(fn func(stale bool)) { c.onAccepted = fn }
func (c *Client) OnSolutionRejected(fn func(stale bool)) { c.onRejected = fn }

// workFeed emits a job immediately and then on every work interval.
func (c *Client) workFeed(quit chan struct{}) {
	defer c.wg.Done()

	c.emitWork()

	ticker := time.NewTicker(c.workInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.emitWork()
		case <-quit:
			return
		}
	}
}

func (c *Client) emitWork() {
	c.mu.Lock()
	var work mining.Work
	c.rng.Read(work.Header[:])
	work.Boundary = c.boundary
	cb := c.onWork
	c.mu.Unlock()

	if cb != nil {
		cb(work)
	}
}
