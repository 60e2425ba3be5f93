// Package config loads the orchestrator's configuration from defaults,
// an optional YAML file, and environment-variable overrides, in that
// order of precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/swarmflow/swarmflow/executor"
	"github.com/swarmflow/swarmflow/internal/cache"
	"github.com/swarmflow/swarmflow/internal/telemetry"
	"github.com/swarmflow/swarmflow/resilience"
	"github.com/swarmflow/swarmflow/types"
)

// Config is the full orchestrator configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server" env:"SERVER"`
	Log        LogConfig        `yaml:"log" env:"LOG"`
	Redis      RedisConfig      `yaml:"redis" env:"REDIS"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" env:"TELEMETRY"`
	Executor   ExecutorConfig   `yaml:"executor" env:"EXECUTOR"`
	Resilience ResilienceConfig `yaml:"resilience" env:"RESILIENCE"`
	Breaker    BreakerConfig    `yaml:"breaker" env:"BREAKER"`
	Swarm      SwarmConfig      `yaml:"swarm" env:"SWARM"`
}

// ServerConfig covers the process's own listeners and shutdown behavior.
type ServerConfig struct {
	// HTTPPort serves the API and the Prometheus scrape endpoint.
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	// Level: debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format: json or console.
	Format string `yaml:"format" env:"FORMAT"`
	// OutputPaths are zap sink URLs.
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// EnableCaller annotates entries with file:line.
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
}

// RedisConfig configures the allocation/context store.
type RedisConfig struct {
	Addr         string        `yaml:"addr" env:"ADDR"`
	Password     string        `yaml:"password" env:"PASSWORD"`
	DB           int           `yaml:"db" env:"DB"`
	MaxRetries   int           `yaml:"max_retries" env:"MAX_RETRIES"`
	PoolSize     int           `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int           `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	PingInterval time.Duration `yaml:"ping_interval" env:"PING_INTERVAL"`
}

// Cache converts to the cache manager's config.
func (c RedisConfig) Cache() cache.Config {
	return cache.Config{
		Addr:         c.Addr,
		Password:     c.Password,
		DB:           c.DB,
		MaxRetries:   c.MaxRetries,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
		PingInterval: c.PingInterval,
	}
}

// TelemetryConfig configures OTLP export.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// Telemetry converts to the telemetry package's config.
func (c TelemetryConfig) Telemetry() telemetry.Config {
	return telemetry.Config{
		Enabled:      c.Enabled,
		ServiceName:  c.ServiceName,
		OTLPEndpoint: c.OTLPEndpoint,
		SampleRate:   c.SampleRate,
	}
}

// ExecutorConfig configures step execution defaults. ModelCallCredits is
// a decimal string so YAML and env values avoid float drift.
type ExecutorConfig struct {
	DefaultStrategy     string        `yaml:"default_strategy" env:"DEFAULT_STRATEGY"`
	DefaultCodeLanguage string        `yaml:"default_code_language" env:"DEFAULT_CODE_LANGUAGE"`
	ModelCallCredits    string        `yaml:"model_call_credits" env:"MODEL_CALL_CREDITS"`
	StepTimeout         time.Duration `yaml:"step_timeout" env:"STEP_TIMEOUT"`
}

// Executor converts to the executor's config.
func (c ExecutorConfig) Executor() (executor.Config, error) {
	out := executor.Config{
		DefaultStrategy:     c.DefaultStrategy,
		DefaultCodeLanguage: c.DefaultCodeLanguage,
		StepTimeout:         c.StepTimeout,
	}
	credits, err := decimal.NewFromString(c.ModelCallCredits)
	if err != nil {
		return out, fmt.Errorf("invalid model_call_credits %q: %w", c.ModelCallCredits, err)
	}
	out.ModelCallCredits = credits
	return out, nil
}

// ResilienceConfig configures the event publisher pipeline.
type ResilienceConfig struct {
	BatchSize        int           `yaml:"batch_size" env:"BATCH_SIZE"`
	FlushInterval    time.Duration `yaml:"flush_interval" env:"FLUSH_INTERVAL"`
	OverheadBudget   time.Duration `yaml:"overhead_budget" env:"OVERHEAD_BUDGET"`
	PatternCacheSize int           `yaml:"pattern_cache_size" env:"PATTERN_CACHE_SIZE"`
	// SamplingRates maps event type names to a 0..1 publish probability.
	SamplingRates map[string]float64 `yaml:"sampling_rates"`
}

// Resilience converts to the publisher's config.
func (c ResilienceConfig) Resilience() resilience.Config {
	out := resilience.Config{
		BatchSize:        c.BatchSize,
		FlushInterval:    c.FlushInterval,
		OverheadBudget:   c.OverheadBudget,
		PatternCacheSize: c.PatternCacheSize,
	}
	if len(c.SamplingRates) > 0 {
		out.SamplingRates = make(map[types.ResilienceEventType]float64, len(c.SamplingRates))
		for name, rate := range c.SamplingRates {
			out.SamplingRates[types.ResilienceEventType(name)] = rate
		}
	}
	return out
}

// BreakerConfig configures circuit breakers for external collaborators.
type BreakerConfig struct {
	FailureThreshold  int           `yaml:"failure_threshold" env:"FAILURE_THRESHOLD"`
	RecoveryTimeout   time.Duration `yaml:"recovery_timeout" env:"RECOVERY_TIMEOUT"`
	HalfOpenMaxProbes int           `yaml:"half_open_max_probes" env:"HALF_OPEN_MAX_PROBES"`
	HalfOpenSuccesses int           `yaml:"half_open_successes" env:"HALF_OPEN_SUCCESSES"`
}

// Breaker converts to the resilience package's breaker config.
func (c BreakerConfig) Breaker() resilience.BreakerConfig {
	return resilience.BreakerConfig{
		FailureThreshold:  c.FailureThreshold,
		RecoveryTimeout:   c.RecoveryTimeout,
		HalfOpenMaxProbes: c.HalfOpenMaxProbes,
		HalfOpenSuccesses: c.HalfOpenSuccesses,
	}
}

// SwarmConfig seeds the in-memory swarm pools. Values are decimal credit
// strings keyed by swarm id.
type SwarmConfig struct {
	Pools map[string]string `yaml:"pools"`
}

// PoolCredits parses the configured pools.
func (c SwarmConfig) PoolCredits() (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(c.Pools))
	for id, raw := range c.Pools {
		credits, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid credit pool for swarm %s: %w", id, err)
		}
		out[id] = credits
	}
	return out, nil
}

// Default returns the full default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:        9091,
			ShutdownTimeout: 15 * time.Second,
		},
		Log: LogConfig{
			Level:        "info",
			Format:       "json",
			OutputPaths:  []string{"stdout"},
			EnableCaller: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			DB:           0,
			MaxRetries:   3,
			PoolSize:     10,
			MinIdleConns: 2,
			PingInterval: 30 * time.Second,
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			ServiceName:  "swarmflow",
			OTLPEndpoint: "localhost:4317",
			SampleRate:   1.0,
		},
		Executor: ExecutorConfig{
			DefaultStrategy:     "reasoning",
			DefaultCodeLanguage: "javascript",
			ModelCallCredits:    "5",
			StepTimeout:         2 * time.Minute,
		},
		Resilience: ResilienceConfig{
			BatchSize:        50,
			FlushInterval:    5 * time.Second,
			OverheadBudget:   5 * time.Millisecond,
			PatternCacheSize: 100,
			SamplingRates:    map[string]float64{"retry_attempted": 0.25},
		},
		Breaker: BreakerConfig{
			FailureThreshold:  5,
			RecoveryTimeout:   30 * time.Second,
			HalfOpenMaxProbes: 3,
			HalfOpenSuccesses: 2,
		},
		Swarm: SwarmConfig{Pools: map[string]string{}},
	}
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid http port")
	}
	if c.Redis.Addr == "" {
		errs = append(errs, "redis addr is required")
	}
	if c.Resilience.BatchSize <= 0 {
		errs = append(errs, "resilience batch_size must be positive")
	}
	for name, rate := range c.Resilience.SamplingRates {
		if rate < 0 || rate > 1 {
			errs = append(errs, fmt.Sprintf("sampling rate for %s must be in [0,1]", name))
		}
	}
	if _, err := c.Executor.Executor(); err != nil {
		errs = append(errs, err.Error())
	}
	if _, err := c.Swarm.PoolCredits(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
