// Package config handles configuration loading and validation for tos-miner.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the miner
type Config struct {
	Pools     []string        `mapstructure:"pools"`
	Miner     MinerConfig     `mapstructure:"miner"`
	Manager   ManagerConfig   `mapstructure:"manager"`
	Sim       SimConfig       `mapstructure:"sim"`
	API       APIConfig       `mapstructure:"api"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	NewRelic  NewRelicConfig  `mapstructure:"newrelic"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Log       LogConfig       `mapstructure:"log"`
}

// MinerConfig defines compute engine settings
type MinerConfig struct {
	// Engine selects the compute engine class: opencl, cuda or mixed
	// (cuda plus opencl attached to the same session).
	Engine string `mapstructure:"engine"`

	// EvalSolutions enables CPU re-evaluation of found solutions before
	// they are submitted to the pool.
	EvalSolutions bool `mapstructure:"eval_solutions"`
}

// ManagerConfig defines pool orchestration settings
type ManagerConfig struct {
	// MaxConnectionAttempts is the number of connect attempts against one
	// endpoint before rotating to the next failover.
	MaxConnectionAttempts int `mapstructure:"max_connection_attempts"`

	// TickInterval is the supervisory loop cadence.
	TickInterval time.Duration `mapstructure:"tick_interval"`

	// ReportInterval is the number of loop ticks between hashrate reports.
	ReportInterval int `mapstructure:"report_interval"`

	// FailoverGrace is how long miners get to wind down before the next
	// endpoint is dialed.
	FailoverGrace time.Duration `mapstructure:"failover_grace"`
}

// SimConfig defines the built-in simulation pool and farm
type SimConfig struct {
	WorkInterval   time.Duration `mapstructure:"work_interval"`
	DifficultyBits int           `mapstructure:"difficulty_bits"`
	Threads        int           `mapstructure:"threads"`
}

// APIConfig defines the status API server settings
type APIConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Bind       string        `mapstructure:"bind"`
	PushPeriod time.Duration `mapstructure:"push_period"`
}

// TelemetryConfig defines the optional Redis telemetry sink
type TelemetryConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	RedisURL       string        `mapstructure:"redis_url"`
	RedisPassword  string        `mapstructure:"redis_password"`
	RedisDB        int           `mapstructure:"redis_db"`
	HashrateWindow time.Duration `mapstructure:"hashrate_window"`
}

// NewRelicConfig defines New Relic APM settings
type NewRelicConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	LicenseKey string `mapstructure:"license_key"`
	AppName    string `mapstructure:"app_name"`
}

// NotifyConfig defines operator webhook settings
type NotifyConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	DiscordURL   string `mapstructure:"discord_url"`
	TelegramBot  string `mapstructure:"telegram_bot"`
	TelegramChat string `mapstructure:"telegram_chat"`
	RigName      string `mapstructure:"rig_name"`
}

// LogConfig defines logging settings
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// Load reads configuration from file and environment
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/tos-miner")
	}

	v.SetEnvPrefix("TOS_MINER")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Miner defaults
	v.SetDefault("miner.engine", "opencl")
	v.SetDefault("miner.eval_solutions", true)

	// Manager defaults
	v.SetDefault("manager.max_connection_attempts", 3)
	v.SetDefault("manager.tick_interval", "1s")
	v.SetDefault("manager.report_interval", 10)
	v.SetDefault("manager.failover_grace", "3s")

	// Simulation defaults
	v.SetDefault("sim.work_interval", "15s")
	v.SetDefault("sim.difficulty_bits", 20)
	v.SetDefault("sim.threads", 1)

	// API defaults
	v.SetDefault("api.enabled", true)
	v.SetDefault("api.bind", "127.0.0.1:8480")
	v.SetDefault("api.push_period", "1s")

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.redis_url", "127.0.0.1:6379")
	v.SetDefault("telemetry.redis_db", 0)
	v.SetDefault("telemetry.hashrate_window", "10m")

	// New Relic defaults
	v.SetDefault("newrelic.enabled", false)
	v.SetDefault("newrelic.app_name", "tos-miner")

	// Notify defaults
	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.rig_name", "rig")

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	switch c.Miner.Engine {
	case "opencl", "cuda", "mixed":
	default:
		return fmt.Errorf("miner.engine must be opencl, cuda or mixed, got %q", c.Miner.Engine)
	}

	if c.Manager.MaxConnectionAttempts < 1 {
		return fmt.Errorf("manager.max_connection_attempts must be >= 1")
	}

	if c.Manager.TickInterval <= 0 {
		return fmt.Errorf("manager.tick_interval must be positive")
	}

	if c.Manager.ReportInterval < 1 {
		return fmt.Errorf("manager.report_interval must be >= 1")
	}

	if c.Sim.DifficultyBits < 1 || c.Sim.DifficultyBits > 255 {
		return fmt.Errorf("sim.difficulty_bits must be between 1 and 255")
	}

	if c.Telemetry.Enabled && c.Telemetry.RedisURL == "" {
		return fmt.Errorf("telemetry.redis_url is required when telemetry is enabled")
	}

	if c.NewRelic.Enabled && c.NewRelic.LicenseKey == "" {
		return fmt.Errorf("newrelic.license_key is required when newrelic is enabled")
	}

	return nil
}
