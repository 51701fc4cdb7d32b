package sim

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tos-network/tos-miner/internal/mining"
	"github.com/tos-network/tos-miner/internal/seal"
	"github.com/tos-network/tos-miner/internal/util"
)

// Farm is a CPU farm standing in for GPU engines. Each configured thread
// grinds nonces over the current work package with the production sealer.
type Farm struct {
	threads int

	mining  atomic.Bool
	work    atomic.Value // mining.Work
	hashes  atomic.Uint64
	quit    chan struct{}
	wg      sync.WaitGroup

	mu        sync.Mutex
	engines   []mining.Engine
	poolHost  string
	poolPort  uint16
	lastCount uint64
	lastAt    time.Time

	onSolution func(mining.Solution) bool
	onRestart  func()
}

// NewFarm builds a simulated farm with the given thread count.
func NewFarm(threads int) *Farm {
	if threads < 1 {
		threads = 1
	}
	return &Farm{threads: threads}
}

// IsMining reports whether the worker threads are running
func (f *Farm) IsMining() bool {
	return f.mining.Load()
}

// Start launches the worker threads. The engine class is recorded for
// display only; every simulated engine is a CPU thread. A non-exclusive
// start attaches to the running session.
func (f *Farm) Start(engine mining.Engine, exclusive bool) {
	f.mu.Lock()
	f.engines = append(f.engines, engine)
	f.mu.Unlock()

	if !f.mining.CompareAndSwap(false, true) {
		if !exclusive {
			util.Debugf("Engine %s attached to running session", engine)
		}
		return
	}

	f.quit = make(chan struct{})
	f.hashes.Store(0)
	f.mu.Lock()
	f.lastCount = 0
	f.lastAt = time.Now()
	f.mu.Unlock()

	util.Infof("Simulated farm starting %d thread(s) as %s", f.threads, engine)
	for i := 0; i < f.threads; i++ {
		f.wg.Add(1)
		go f.worker(f.quit, rand.Uint64())
	}
}

// Stop shuts down all worker threads.
func (f *Farm) Stop() {
	if !f.mining.CompareAndSwap(true, false) {
		return
	}
	close(f.quit)
	f.wg.Wait()

	f.mu.Lock()
	f.engines = nil
	f.mu.Unlock()
}

// SetWork replaces the current work package. Workers pick it up on their
// next batch.
func (f *Farm) SetWork(work mining.Work) {
	f.work.Store(work)
}

// Progress reports throughput since the previous sample.
func (f *Farm) Progress() mining.Progress {
	now := time.Now()
	count := f.hashes.Load()

	f.mu.Lock()
	defer f.mu.Unlock()

	elapsed := now.Sub(f.lastAt).Seconds()
	if elapsed <= 0 {
		return mining.Progress{}
	}
	rate := uint64(float64(count-f.lastCount) / elapsed)
	f.lastCount = count
	f.lastAt = now
	return mining.Progress{Rate: rate}
}

// SetPoolAddress records the pool for display
func (f *Farm) SetPoolAddress(host string, port uint16) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.poolHost = host
	f.poolPort = port
}

func (f *Farm) OnSolutionFound(fn func(mining.Solution) bool) { f.onSolution = fn }
func (f *Farm) OnMinerRestart(fn func())                      { f.onRestart = fn }

// batchSize is how many nonces a worker grinds between quit checks.
const batchSize = 256

// worker grinds nonces until stopped. Each worker starts from its own
// random nonce so threads never overlap the same search space.
func (f *Farm) worker(quit chan struct{}, nonce uint64) {
	defer f.wg.Done()

	for {
		select {
		case <-quit:
			return
		default:
		}

		w, ok := f.work.Load().(mining.Work)
		if !ok || w.Header == (mining.Hash{}) {
			time.Sleep(10 * time.Millisecond)
			continue
		}

		for i := 0; i < batchSize; i++ {
			hash := seal.Compute(w.Header, nonce)
			if seal.MeetsBoundary(hash, w.Boundary) {
				sol := mining.Solution{Work: w, Nonce: nonce}
				if f.onSolution != nil {
					f.onSolution(sol)
				}
			}
			nonce++
		}
		f.hashes.Add(batchSize)
	}
}
