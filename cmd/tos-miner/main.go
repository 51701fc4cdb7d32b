// TOS Miner - pool-side mining orchestrator
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tos-network/tos-miner/internal/api"
	"github.com/tos-network/tos-miner/internal/config"
	"github.com/tos-network/tos-miner/internal/manager"
	"github.com/tos-network/tos-miner/internal/newrelic"
	"github.com/tos-network/tos-miner/internal/notify"
	"github.com/tos-network/tos-miner/internal/pool"
	"github.com/tos-network/tos-miner/internal/sim"
	"github.com/tos-network/tos-miner/internal/storage"
	"github.com/tos-network/tos-miner/internal/util"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

// telemetryListener mirrors orchestration events into Redis.
type telemetryListener struct {
	manager.NopListener
	redis  *storage.RedisClient
	window time.Duration
}

func (l *telemetryListener) OnPoolConnected(pool string) {
	if err := l.redis.SetActivePool(pool); err != nil {
		util.Warnf("Telemetry write failed: %v", err)
	}
}

func (l *telemetryListener) OnPoolSwitch(from, to string) {
	if err := l.redis.RecordFailover(from, to); err != nil {
		util.Warnf("Telemetry write failed: %v", err)
	}
}

func (l *telemetryListener) OnShareResult(accepted, stale bool, latency time.Duration) {
	pool, _ := l.redis.ActivePool()
	err := l.redis.RecordShare(&storage.ShareRecord{
		Pool:      pool,
		Accepted:  accepted,
		Stale:     stale,
		LatencyMs: latency.Milliseconds(),
	})
	if err != nil {
		util.Warnf("Telemetry write failed: %v", err)
	}
}

func (l *telemetryListener) OnSolutionWasted() {
	if err := l.redis.RecordWasted(); err != nil {
		util.Warnf("Telemetry write failed: %v", err)
	}
}

func (l *telemetryListener) OnHashrate(rate uint64) {
	if err := l.redis.RecordHashrate(rate, l.window); err != nil {
		util.Warnf("Telemetry write failed: %v", err)
	}
}

// apmListener forwards orchestration events to New Relic.
type apmListener struct {
	manager.NopListener
	agent *newrelic.Agent
}

func (l *apmListener) OnPoolConnected(pool string) {
	l.agent.RecordPoolConnected(pool)
}

func (l *apmListener) OnPoolSwitch(from, to string) {
	l.agent.RecordPoolSwitch(from, to)
}

func (l *apmListener) OnShareResult(accepted, stale bool, latency time.Duration) {
	l.agent.RecordShareResult("", accepted, stale, latency)
}

func (l *apmListener) OnHashrate(rate uint64) {
	l.agent.UpdateHashrate(rate)
}

// notifyListener sends operator webhooks for the events worth waking up for.
type notifyListener struct {
	manager.NopListener
	notifier *notify.Notifier
}

func (l *notifyListener) OnPoolConnected(pool string) {
	l.notifier.NotifyConnected(pool)
}

func (l *notifyListener) OnPoolSwitch(from, to string) {
	l.notifier.NotifyPoolSwitch(from, to)
}

func (l *notifyListener) OnShutdown(reason string) {
	l.notifier.NotifyShutdown(reason)
}

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("TOS Miner v%s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := util.InitLogger(cfg.Log.Level, cfg.Log.Format, cfg.Log.File); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer util.Sync()

	util.Infof("TOS Miner v%s starting", version)

	var listeners []manager.Listener

	// Optional Redis telemetry
	var redis *storage.RedisClient
	if cfg.Telemetry.Enabled {
		redis, err = storage.NewRedisClient(
			cfg.Telemetry.RedisURL, cfg.Telemetry.RedisPassword, cfg.Telemetry.RedisDB)
		if err != nil {
			util.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redis.Close()
		listeners = append(listeners, &telemetryListener{
			redis:  redis,
			window: cfg.Telemetry.HashrateWindow,
		})
	}

	// Optional New Relic APM
	agent := newrelic.NewAgent(&cfg.NewRelic)
	if err := agent.Start(); err != nil {
		util.Warnf("New Relic startup failed: %v", err)
	}
	defer agent.Stop()
	if agent.IsEnabled() {
		listeners = append(listeners, &apmListener{agent: agent})
	}

	// Optional operator webhooks
	if cfg.Notify.Enabled {
		listeners = append(listeners, &notifyListener{
			notifier: notify.NewNotifier(&cfg.Notify),
		})
	}

	// The simulation client and farm stand in for the real protocol stack
	// and GPU engines.
	client := sim.NewClient(&cfg.Sim)
	farm := sim.NewFarm(cfg.Sim.Threads)

	mgr := manager.New(cfg, client, farm, listeners...)

	for _, raw := range cfg.Pools {
		ep, err := pool.ParseEndpoint(raw)
		if err != nil {
			util.Fatalf("Bad pool url %q: %v", raw, err)
		}
		mgr.AddConnection(ep)
	}
	if len(cfg.Pools) == 0 {
		util.Fatal("No pools configured")
	}

	// Status API
	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.NewServer(cfg, mgr)
		if err := apiServer.Start(); err != nil {
			util.Fatalf("Failed to start API server: %v", err)
		}
	}

	mgr.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	util.Info("Miner started. Press Ctrl+C to stop.")

	// Exit on signal or when the manager runs out of failover connections.
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-sigChan:
			break loop
		case <-ticker.C:
			if !mgr.Running() {
				util.Info("Manager stopped, exiting")
				break loop
			}
		}
	}

	if apiServer != nil {
		apiServer.Stop()
	}
	mgr.Stop()

	util.Info("Miner stopped")
}
