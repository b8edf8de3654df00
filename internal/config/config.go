// Package config loads the process configuration from YAML, the way the
// teacher's internal/config package does: a single Load(path) entry point,
// nested struct groups, duration strings, and defaults applied after
// unmarshal rather than scattered through the codebase.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration surface from spec.md §6.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	Dedup       DedupConfig       `yaml:"dedup"`
	Correlation CorrelationConfig `yaml:"correlation"`
	Breaker     BreakerDefaults   `yaml:"circuit_breaker"`
	Escalation  EscalationConfig  `yaml:"escalation"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Broadcaster BroadcasterConfig `yaml:"broadcaster"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Messaging   MessagingConfig   `yaml:"messaging"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type ServerConfig struct {
	HTTPPort string `yaml:"http_port"`
}

type StorageConfig struct {
	Backend string `yaml:"backend"` // memory | embedded-kv | redis | redis-cluster
	Path    string `yaml:"path"`
	URL     string `yaml:"url"`
}

type DedupConfig struct {
	WindowSecs int `yaml:"window_secs"`
}

type CorrelationConfig struct {
	Strategies []string `yaml:"strategies"`
}

type BreakerDefaults struct {
	FailureThreshold        int           `yaml:"failure_threshold"`
	SuccessThreshold        int           `yaml:"success_threshold"`
	TimeoutDuration         time.Duration `yaml:"timeout_duration"`
	HalfOpenMaxRequests     int           `yaml:"half_open_max_requests"`
	CountTimeoutAsFailure   bool          `yaml:"count_timeout_as_failure"`
	MinimumRequestThreshold int           `yaml:"minimum_request_threshold"`
}

type EscalationConfig struct {
	PolicyPath    string        `yaml:"policy_path"`
	PollInterval  time.Duration `yaml:"poll_interval"`
}

type SchedulerJobConfig struct {
	Schedule string                 `yaml:"schedule"`
	Enabled  bool                   `yaml:"enabled"`
	Config   map[string]interface{} `yaml:"config"`
	Timeout  time.Duration          `yaml:"timeout"`
}

type SchedulerConfig struct {
	Jobs map[string]SchedulerJobConfig `yaml:"jobs"`
}

type BroadcasterConfig struct {
	SessionTimeoutSecs int `yaml:"session_timeout_secs"`
	HeartbeatSecs      int `yaml:"heartbeat_secs"`
	ChannelCapacity    int `yaml:"channel_capacity"`
	SessionQueueSize   int `yaml:"session_queue_size"`
}

type RateLimitConfig struct {
	Capacity       int           `yaml:"capacity"`
	RefillInterval time.Duration `yaml:"refill_interval"`
	RefillAmount   int           `yaml:"refill_amount"`
}

type MessagingConfig struct {
	Backend string   `yaml:"backend"` // noop | kafka
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses the YAML file at path, applying defaults to any
// zero-valued field that spec.md gives a stated default for.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.HTTPPort == "" {
		cfg.Server.HTTPPort = "8080"
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "memory"
	}
	if cfg.Dedup.WindowSecs == 0 {
		cfg.Dedup.WindowSecs = 900
	}
	if len(cfg.Correlation.Strategies) == 0 {
		cfg.Correlation.Strategies = []string{"temporal", "source", "pattern", "fingerprint", "topology"}
	}
	if cfg.Breaker.FailureThreshold == 0 {
		cfg.Breaker.FailureThreshold = 5
	}
	if cfg.Breaker.SuccessThreshold == 0 {
		cfg.Breaker.SuccessThreshold = 2
	}
	if cfg.Breaker.TimeoutDuration == 0 {
		cfg.Breaker.TimeoutDuration = 30 * time.Second
	}
	if cfg.Breaker.HalfOpenMaxRequests == 0 {
		cfg.Breaker.HalfOpenMaxRequests = 1
	}
	if cfg.Escalation.PollInterval == 0 {
		cfg.Escalation.PollInterval = 15 * time.Second
	}
	if cfg.Broadcaster.SessionTimeoutSecs == 0 {
		cfg.Broadcaster.SessionTimeoutSecs = 120
	}
	if cfg.Broadcaster.HeartbeatSecs == 0 {
		cfg.Broadcaster.HeartbeatSecs = 30
	}
	if cfg.Broadcaster.ChannelCapacity == 0 {
		cfg.Broadcaster.ChannelCapacity = 1024
	}
	if cfg.Broadcaster.SessionQueueSize == 0 {
		cfg.Broadcaster.SessionQueueSize = 64
	}
	if cfg.RateLimit.Capacity == 0 {
		cfg.RateLimit.Capacity = 100
	}
	if cfg.RateLimit.RefillInterval == 0 {
		cfg.RateLimit.RefillInterval = time.Second
	}
	if cfg.RateLimit.RefillAmount == 0 {
		cfg.RateLimit.RefillAmount = 10
	}
	if cfg.Messaging.Backend == "" {
		cfg.Messaging.Backend = "noop"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func validate(cfg *Config) error {
	switch cfg.Storage.Backend {
	case "memory", "embedded-kv", "redis", "redis-cluster":
	default:
		return fmt.Errorf("storage.backend: unsupported value %q", cfg.Storage.Backend)
	}
	if cfg.Storage.Backend == "embedded-kv" && cfg.Storage.Path == "" {
		return fmt.Errorf("storage.path is required for backend %q", cfg.Storage.Backend)
	}
	if (cfg.Storage.Backend == "redis" || cfg.Storage.Backend == "redis-cluster") && cfg.Storage.URL == "" {
		return fmt.Errorf("storage.url is required for backend %q", cfg.Storage.Backend)
	}
	if cfg.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("circuit_breaker.failure_threshold must be >= 1")
	}
	if cfg.Breaker.SuccessThreshold < 1 {
		return fmt.Errorf("circuit_breaker.success_threshold must be >= 1")
	}
	if cfg.Breaker.TimeoutDuration <= 0 {
		return fmt.Errorf("circuit_breaker.timeout_duration must be > 0")
	}
	if cfg.Breaker.HalfOpenMaxRequests < 1 {
		return fmt.Errorf("circuit_breaker.half_open_max_requests must be >= 1")
	}
	switch cfg.Messaging.Backend {
	case "noop", "kafka":
	default:
		return fmt.Errorf("messaging.backend: unsupported value %q", cfg.Messaging.Backend)
	}
	return nil
}
