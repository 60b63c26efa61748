package infra

import (
	"fmt"
	"os"
	"strings"
	"time"

	"credit_market/internal/domain"

	"gopkg.in/yaml.v3"
)

// Config holds every setting of the marketplace process.
// Values loaded by LoadConfig are then overridden from the environment.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Auction struct {
		ExtensionWindow   time.Duration `yaml:"extension_window"`
		SweepInterval     time.Duration `yaml:"sweep_interval"`
		SweepBatch        int           `yaml:"sweep_batch"`
		SettleMaxAttempts int           `yaml:"settle_max_attempts"`
		SettleBaseDelay   time.Duration `yaml:"settle_base_delay"`
		SettleMaxDelay    time.Duration `yaml:"settle_max_delay"`
		// EscalateAfter bounds how long an outage may keep a closed listing pending.
		EscalateAfter     time.Duration `yaml:"escalate_after"`
	} `yaml:"auction"`

	Lock struct {
		Backend   string        `yaml:"backend"` // "local" or "redis"
		RedisAddr string        `yaml:"redis_addr"`
		Expiry    time.Duration `yaml:"expiry"`
		Wait      time.Duration `yaml:"wait"`
	} `yaml:"lock"`

	Kafka struct {
		Enabled      bool          `yaml:"enabled"`
		Brokers      []string      `yaml:"brokers"`
		Topic        string        `yaml:"topic"`
		PollInterval time.Duration `yaml:"poll_interval"`
		MaxAttempts  int           `yaml:"max_attempts"`
	} `yaml:"kafka"`

	Notify struct {
		ListenAddr    string `yaml:"listen_addr"`
		ClientBuffer  int    `yaml:"client_buffer"`
		SessionSecret string `yaml:"session_secret"` // empty: trust the user query parameter
	} `yaml:"notify"`

	Breaker struct {
		MaxFailures uint32        `yaml:"max_failures"`
		OpenTimeout time.Duration `yaml:"open_timeout"`
	} `yaml:"breaker"`
}

// DefaultConfig returns the settings used when a key is absent from the file.
func DefaultConfig() *Config {
	var c Config
	c.App.Name = "credit-market"
	c.Logging.Level = "info"
	c.Logging.Dir = "logs"
	c.Auction.ExtensionWindow = 2 * time.Minute
	c.Auction.SweepInterval = 5 * time.Second
	c.Auction.SweepBatch = 100
	c.Auction.SettleMaxAttempts = 5
	c.Auction.SettleBaseDelay = 200 * time.Millisecond
	c.Auction.SettleMaxDelay = 5 * time.Second
	c.Auction.EscalateAfter = time.Hour
	c.Lock.Backend = "local"
	c.Lock.Expiry = 10 * time.Second
	c.Lock.Wait = 2 * time.Second
	c.Kafka.Topic = "credit-market.integration"
	c.Kafka.PollInterval = time.Second
	c.Kafka.MaxAttempts = 20
	c.Notify.ListenAddr = ":8080"
	c.Notify.ClientBuffer = 64
	c.Breaker.MaxFailures = 5
	c.Breaker.OpenTimeout = 30 * time.Second
	return &c
}

// LoadConfig reads and parses the YAML file at path on top of DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if c.Auction.ExtensionWindow < 0 {
		return &domain.ConfigError{Field: "auction.extension_window", Err: fmt.Errorf("must not be negative")}
	}
	if c.Auction.SweepInterval <= 0 {
		return &domain.ConfigError{Field: "auction.sweep_interval", Err: fmt.Errorf("must be positive")}
	}
	if c.Auction.SweepBatch <= 0 {
		return &domain.ConfigError{Field: "auction.sweep_batch", Err: fmt.Errorf("must be positive")}
	}
	if c.Auction.SettleMaxAttempts <= 0 {
		return &domain.ConfigError{Field: "auction.settle_max_attempts", Err: fmt.Errorf("must be positive")}
	}

	switch c.Lock.Backend {
	case "local":
	case "redis":
		if c.Lock.RedisAddr == "" {
			return &domain.ConfigError{Field: "lock.redis_addr", Err: fmt.Errorf("required for the redis backend")}
		}
	default:
		return &domain.ConfigError{Field: "lock.backend", Err: fmt.Errorf("unknown backend %q", c.Lock.Backend)}
	}
	if c.Lock.Wait <= 0 {
		return &domain.ConfigError{Field: "lock.wait", Err: fmt.Errorf("must be positive")}
	}

	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return &domain.ConfigError{Field: "kafka.brokers", Err: fmt.Errorf("at least one broker is required")}
		}
		if c.Kafka.Topic == "" {
			return &domain.ConfigError{Field: "kafka.topic", Err: fmt.Errorf("required")}
		}
	}

	if c.Notify.ClientBuffer <= 0 {
		return &domain.ConfigError{Field: "notify.client_buffer", Err: fmt.Errorf("must be positive")}
	}

	return nil
}

// overrideWithEnv replaces deployment-specific values when the variable is set.
func overrideWithEnv(cfg *Config) {
	if p := os.Getenv("MARKET_DB_PATH"); p != "" {
		cfg.Database.Path = p
	}
	if addr := os.Getenv("MARKET_REDIS_ADDR"); addr != "" {
		cfg.Lock.RedisAddr = addr
		cfg.Lock.Backend = "redis"
	}
	if brokers := os.Getenv("MARKET_KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = strings.Split(brokers, ",")
		cfg.Kafka.Enabled = true
	}
	if addr := os.Getenv("MARKET_LISTEN_ADDR"); addr != "" {
		cfg.Notify.ListenAddr = addr
	}
	if secret := os.Getenv("MARKET_SESSION_SECRET"); secret != "" {
		cfg.Notify.SessionSecret = secret
	}
}
