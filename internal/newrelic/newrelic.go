// Package newrelic provides New Relic APM integration for monitoring.
package newrelic

import (
	"sync"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/tos-network/tos-miner/internal/config"
	"github.com/tos-network/tos-miner/internal/util"
)

// Agent wraps New Relic APM functionality
type Agent struct {
	cfg *config.NewRelicConfig
	app *newrelic.Application
	mu  sync.RWMutex
}

// NewAgent creates a new New Relic agent
func NewAgent(cfg *config.NewRelicConfig) *Agent {
	return &Agent{
		cfg: cfg,
	}
}

// Start initializes the New Relic agent
func (a *Agent) Start() error {
	if !a.cfg.Enabled {
		util.Info("New Relic APM disabled")
		return nil
	}

	if a.cfg.LicenseKey == "" {
		util.Warn("New Relic license key not configured, APM disabled")
		return nil
	}

	app, err := newrelic.NewApplication(
		newrelic.ConfigAppName(a.cfg.AppName),
		newrelic.ConfigLicense(a.cfg.LicenseKey),
		newrelic.ConfigAppLogForwardingEnabled(true),
	)
	if err != nil {
		return err
	}

	// Wait for connection (up to 5 seconds)
	if err := app.WaitForConnection(5 * time.Second); err != nil {
		util.Warnf("New Relic connection timeout: %v (will retry in background)", err)
	}

	a.mu.Lock()
	a.app = app
	a.mu.Unlock()

	util.Infof("New Relic APM enabled for app: %s", a.cfg.AppName)
	return nil
}

// Stop shuts down the New Relic agent
func (a *Agent) Stop() {
	a.mu.RLock()
	app := a.app
	a.mu.RUnlock()

	if app != nil {
		util.Info("Shutting down New Relic agent")
		app.Shutdown(10 * time.Second)
	}
}

// IsEnabled returns true if New Relic is enabled and connected
func (a *Agent) IsEnabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.app != nil
}

// RecordCustomEvent records a custom event
func (a *Agent) RecordCustomEvent(eventType string, params map[string]interface{}) {
	a.mu.RLock()
	app := a.app
	a.mu.RUnlock()

	if app != nil {
		app.RecordCustomEvent(eventType, params)
	}
}

// RecordCustomMetric records a custom metric
func (a *Agent) RecordCustomMetric(name string, value float64) {
	a.mu.RLock()
	app := a.app
	a.mu.RUnlock()

	if app != nil {
		app.RecordCustomMetric(name, value)
	}
}

// RecordShareResult records an accept/reject response from the pool
func (a *Agent) RecordShareResult(pool string, accepted, stale bool, latency time.Duration) {
	status := "rejected"
	if accepted {
		status = "accepted"
	}
	a.RecordCustomEvent("ShareResult", map[string]interface{}{
		"pool":      pool,
		"status":    status,
		"stale":     stale,
		"latencyMs": latency.Milliseconds(),
	})
}

// RecordPoolSwitch records a failover rotation
func (a *Agent) RecordPoolSwitch(from, to string) {
	a.RecordCustomEvent("PoolSwitch", map[string]interface{}{
		"from": from,
		"to":   to,
	})
}

// RecordPoolConnected records an established pool connection
func (a *Agent) RecordPoolConnected(pool string) {
	a.RecordCustomEvent("PoolConnected", map[string]interface{}{
		"pool": pool,
	})
}

// UpdateHashrate updates the throughput metric
func (a *Agent) UpdateHashrate(rate uint64) {
	a.RecordCustomMetric("Custom/Miner/Hashrate", float64(rate))
}
