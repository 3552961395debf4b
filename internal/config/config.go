package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DatabaseConfig holds database identity configuration
type DatabaseConfig struct {
	Name    string `yaml:"name"`
	DataDir string `yaml:"data_dir"`
}

// ElectionConfig holds leader election configuration
type ElectionConfig struct {
	TimeoutBase       time.Duration `yaml:"timeout_base"`
	TimeoutJitter     time.Duration `yaml:"timeout_jitter"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	ClaimWindow       time.Duration `yaml:"claim_window"`
}

// WriteConfig holds write forwarding configuration
type WriteConfig struct {
	ForwardTimeout time.Duration `yaml:"forward_timeout"`
	ApplyQueueSize int           `yaml:"apply_queue_size"`
}

// OptimisticConfig holds optimistic update configuration
type OptimisticConfig struct {
	Enabled bool `yaml:"enabled"`
}

// BroadcastConfig holds message channel configuration
type BroadcastConfig struct {
	MailboxSize int `yaml:"mailbox_size"`
}

// PresenceConfig holds cluster presence (memberlist) configuration
type PresenceConfig struct {
	Enabled        bool          `yaml:"enabled"`
	BindPort       int           `yaml:"bind_port"`
	SeedNodes      []string      `yaml:"seed_nodes"`
	GossipInterval time.Duration `yaml:"gossip_interval"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout"`
	ProbeInterval  time.Duration `yaml:"probe_interval"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled             bool   `yaml:"enabled"`
	Port                int    `yaml:"port"`
	Path                string `yaml:"path"`
	CoordinationEnabled bool   `yaml:"coordination_enabled"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config represents the complete configuration for a coordinated database
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Election   ElectionConfig   `yaml:"election"`
	Write      WriteConfig      `yaml:"write"`
	Optimistic OptimisticConfig `yaml:"optimistic"`
	Broadcast  BroadcastConfig  `yaml:"broadcast"`
	Presence   PresenceConfig   `yaml:"presence"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// LoadConfig loads configuration from a file
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Set defaults if not specified
	setDefaults(&cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// DefaultConfig returns a configuration with all defaults applied
func DefaultConfig() *Config {
	var cfg Config
	setDefaults(&cfg)
	return &cfg
}

// setDefaults sets default values for unspecified configuration
func setDefaults(cfg *Config) {
	if cfg.Database.Name == "" {
		cfg.Database.Name = "app.db"
	}
	if cfg.Database.DataDir == "" {
		cfg.Database.DataDir = "./datasync"
	}

	if cfg.Election.TimeoutBase == 0 {
		cfg.Election.TimeoutBase = 2 * time.Second
	}
	if cfg.Election.TimeoutJitter == 0 {
		cfg.Election.TimeoutJitter = 500 * time.Millisecond
	}
	if cfg.Election.HeartbeatInterval == 0 {
		cfg.Election.HeartbeatInterval = 500 * time.Millisecond
	}
	if cfg.Election.ClaimWindow == 0 {
		cfg.Election.ClaimWindow = 250 * time.Millisecond
	}

	if cfg.Write.ForwardTimeout == 0 {
		cfg.Write.ForwardTimeout = 5 * time.Second
	}
	if cfg.Write.ApplyQueueSize == 0 {
		cfg.Write.ApplyQueueSize = 256
	}

	if cfg.Broadcast.MailboxSize == 0 {
		cfg.Broadcast.MailboxSize = 64
	}

	if cfg.Presence.BindPort == 0 {
		cfg.Presence.BindPort = 7947
	}
	if cfg.Presence.GossipInterval == 0 {
		cfg.Presence.GossipInterval = 200 * time.Millisecond
	}
	if cfg.Presence.ProbeTimeout == 0 {
		cfg.Presence.ProbeTimeout = 500 * time.Millisecond
	}
	if cfg.Presence.ProbeInterval == 0 {
		cfg.Presence.ProbeInterval = time.Second
	}

	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9380
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate checks configuration consistency
func (c *Config) Validate() error {
	if c.Election.TimeoutBase <= 0 {
		return fmt.Errorf("election.timeout_base must be positive")
	}
	if c.Election.TimeoutJitter < 0 {
		return fmt.Errorf("election.timeout_jitter cannot be negative")
	}
	// Heartbeats must land well inside the election timeout or followers
	// spuriously re-elect.
	if c.Election.HeartbeatInterval >= c.Election.TimeoutBase/2 {
		return fmt.Errorf("election.heartbeat_interval %v must be below half of timeout_base %v",
			c.Election.HeartbeatInterval, c.Election.TimeoutBase)
	}
	if c.Election.ClaimWindow <= 0 {
		return fmt.Errorf("election.claim_window must be positive")
	}
	if c.Write.ForwardTimeout <= 0 {
		return fmt.Errorf("write.forward_timeout must be positive")
	}
	if c.Write.ApplyQueueSize <= 0 {
		return fmt.Errorf("write.apply_queue_size must be positive")
	}
	if c.Broadcast.MailboxSize <= 0 {
		return fmt.Errorf("broadcast.mailbox_size must be positive")
	}
	return nil
}
