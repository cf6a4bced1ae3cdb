package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel string `yaml:"log_level"`

	Server struct {
		Address string `yaml:"address"`
		APIKey  string `yaml:"api_key"`
	} `yaml:"server"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Backup BackupConfig `yaml:"backup"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Telegram struct {
		BotToken      string  `yaml:"bot_token"`
		RatePerSecond float64 `yaml:"rate_per_second"`
		Burst         int     `yaml:"burst"`
	} `yaml:"telegram"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
		GRPCHealthPort    int  `yaml:"grpc_health_port"`
	} `yaml:"monitoring"`

	Booking struct {
		LeadMinutes         int    `yaml:"lead_minutes"`
		Timezone            string `yaml:"timezone"`
		TxTimeoutSeconds    int    `yaml:"tx_timeout_seconds"`
		SlotCacheTTLSeconds int    `yaml:"slot_cache_ttl_seconds"`
		DispatchWorkers     int    `yaml:"dispatch_workers"`
		DispatchTimeoutSecs int    `yaml:"dispatch_timeout_seconds"`
	} `yaml:"booking"`

	Agenda struct {
		Enabled     bool `yaml:"enabled"`
		DailyHour   int  `yaml:"daily_hour"`
		DailyMinute int  `yaml:"daily_minute"`
	} `yaml:"agenda"`

	AgentsConfigPath string `yaml:"agents_config_path"`
}

// BackupConfig controls periodic database snapshots.
type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	IntervalHours int    `yaml:"interval_hours"`
	StoragePath   string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
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
	if c.Database.Path == "" {
		c.Database.Path = "data/agentbook.db"
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.AgentsConfigPath == "" {
		c.AgentsConfigPath = "configs/agents.yaml"
	}
	if c.Monitoring.HealthCheckPort == 0 {
		c.Monitoring.HealthCheckPort = 8090
	}
	if c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Backup.StoragePath == "" {
		c.Backup.StoragePath = "backups"
	}
	if c.Backup.IntervalHours <= 0 {
		c.Backup.IntervalHours = 24
	}
	if c.Backup.RetentionDays <= 0 {
		c.Backup.RetentionDays = 14
	}
}

// LeadTime is the minimum distance between now and a same-day slot.
func (c *Config) LeadTime() time.Duration {
	if c.Booking.LeadMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.Booking.LeadMinutes) * time.Minute
}

// Location is the wall-clock zone agents' schedules are written in.
func (c *Config) Location() (*time.Location, error) {
	if c.Booking.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Booking.Timezone)
}

func (c *Config) TxTimeout() time.Duration {
	if c.Booking.TxTimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.Booking.TxTimeoutSeconds) * time.Second
}

func (c *Config) SlotCacheTTL() time.Duration {
	if c.Booking.SlotCacheTTLSeconds <= 0 {
		return 0
	}
	return time.Duration(c.Booking.SlotCacheTTLSeconds) * time.Second
}

func (c *Config) DispatchWorkers() int {
	if c.Booking.DispatchWorkers <= 0 {
		return 8
	}
	return c.Booking.DispatchWorkers
}

func (c *Config) DispatchTimeout() time.Duration {
	if c.Booking.DispatchTimeoutSecs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Booking.DispatchTimeoutSecs) * time.Second
}
