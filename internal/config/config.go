package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Address             string   `yaml:"address"`
		ReadTimeoutSeconds  int      `yaml:"read_timeout_seconds"`
		WriteTimeoutSeconds int      `yaml:"write_timeout_seconds"`
		AllowedOrigins      []string `yaml:"allowed_origins"`
	} `yaml:"server"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Backup struct {
		Enabled       bool   `yaml:"enabled"`
		IntervalHours int    `yaml:"interval_hours"`
		Path          string `yaml:"path"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"backup"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Channel  string `yaml:"channel"`
	} `yaml:"redis"`

	Scheduler struct {
		Enabled         bool   `yaml:"enabled"`
		IntervalSeconds int    `yaml:"interval_seconds"`
		Timezone        string `yaml:"timezone"`
		UseMinuteIndex  bool   `yaml:"use_minute_index"`
		LockTTLSeconds  int    `yaml:"lock_ttl_seconds"`
	} `yaml:"scheduler"`

	Hub struct {
		SendBuffer          int     `yaml:"send_buffer"`
		InboundRatePerSec   float64 `yaml:"inbound_rate_per_second"`
		InboundBurst        int     `yaml:"inbound_burst"`
		WriteTimeoutSeconds int     `yaml:"write_timeout_seconds"`
		PongTimeoutSeconds  int     `yaml:"pong_timeout_seconds"`
		MaxMessageBytes     int64   `yaml:"max_message_bytes"`
	} `yaml:"hub"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"logging"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	var cfg Config
	cfg.Scheduler.Enabled = true
	cfg.Monitoring.PrometheusEnabled = true
	cfg.Logging.Pretty = true
	cfg.applyDefaults()
	return &cfg
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/breakwatch.db"
	}
	if c.Backup.Path == "" {
		c.Backup.Path = "data/backups"
	}
	if c.Redis.Channel == "" {
		c.Redis.Channel = "breakwatch:events"
	}
	if c.Hub.SendBuffer <= 0 {
		c.Hub.SendBuffer = 64
	}
	if c.Hub.InboundRatePerSec <= 0 {
		c.Hub.InboundRatePerSec = 20
	}
	if c.Hub.InboundBurst <= 0 {
		c.Hub.InboundBurst = 40
	}
	if c.Hub.MaxMessageBytes <= 0 {
		c.Hub.MaxMessageBytes = 64 << 10
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// SchedulerInterval is the polling interval of the break scheduler.
func (c *Config) SchedulerInterval() time.Duration {
	if c.Scheduler.IntervalSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.Scheduler.IntervalSeconds) * time.Second
}

// SchedulerLocation is the wall-clock zone scheduled starts are evaluated in.
func (c *Config) SchedulerLocation() (*time.Location, error) {
	if c.Scheduler.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Scheduler.Timezone)
}

// SchedulerLockTTL bounds how long a trigger claim lives in Redis.
func (c *Config) SchedulerLockTTL() time.Duration {
	if c.Scheduler.LockTTLSeconds <= 0 {
		return 2 * time.Minute
	}
	return time.Duration(c.Scheduler.LockTTLSeconds) * time.Second
}

func (c *Config) HubWriteTimeout() time.Duration {
	if c.Hub.WriteTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Hub.WriteTimeoutSeconds) * time.Second
}

func (c *Config) HubPongTimeout() time.Duration {
	if c.Hub.PongTimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.Hub.PongTimeoutSeconds) * time.Second
}

func (c *Config) ServerReadTimeout() time.Duration {
	if c.Server.ReadTimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.Server.ReadTimeoutSeconds) * time.Second
}

func (c *Config) ServerWriteTimeout() time.Duration {
	if c.Server.WriteTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Server.WriteTimeoutSeconds) * time.Second
}

func (c *Config) BackupInterval() time.Duration {
	if c.Backup.IntervalHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.Backup.IntervalHours) * time.Hour
}
