package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// PipelineConfig holds the analysis pipeline settings.
type PipelineConfig struct {
	InputDir    string `yaml:"input_dir"`
	OutputDir   string `yaml:"output_dir"`
	NumWorkers  int    `yaml:"num_workers"`
	FileTimeout string `yaml:"file_timeout"`
	SplitByDst  bool   `yaml:"split_by_dst"`
}

// LogConfig holds the rotating log settings.
type LogConfig struct {
	Dir          string `yaml:"dir"`
	MaxSizeBytes int64  `yaml:"max_size_bytes"`
	MaxBackups   int    `yaml:"max_backups"`
}

// ClickHouseConfig holds the optional flow sink settings.
type ClickHouseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// WatchConfig holds the input drop-box watcher settings.
type WatchConfig struct {
	SettleInterval string `yaml:"settle_interval"`
	MetricsAddr    string `yaml:"metrics_addr"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Log        LogConfig        `yaml:"log"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Watch      WatchConfig      `yaml:"watch"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig reads the configuration from a YAML file, fills in defaults and
// validates durations.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}
	cfg.applyDefaults()

	if _, err := time.ParseDuration(cfg.Pipeline.FileTimeout); err != nil {
		return nil, fmt.Errorf("invalid file_timeout: %w", err)
	}
	if _, err := time.ParseDuration(cfg.Watch.SettleInterval); err != nil {
		return nil, fmt.Errorf("invalid settle_interval: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Pipeline.InputDir == "" {
		c.Pipeline.InputDir = "captures"
	}
	if c.Pipeline.OutputDir == "" {
		c.Pipeline.OutputDir = "out"
	}
	if c.Pipeline.NumWorkers <= 0 {
		c.Pipeline.NumWorkers = runtime.NumCPU()
	}
	if c.Pipeline.FileTimeout == "" {
		c.Pipeline.FileTimeout = "5m"
	}
	if c.Log.Dir == "" {
		c.Log.Dir = "logs"
	}
	if c.Log.MaxSizeBytes <= 0 {
		c.Log.MaxSizeBytes = 10 << 20
	}
	if c.Log.MaxBackups <= 0 {
		c.Log.MaxBackups = 5
	}
	if c.ClickHouse.Port == 0 {
		c.ClickHouse.Port = 9000
	}
	if c.Watch.SettleInterval == "" {
		c.Watch.SettleInterval = "2s"
	}
	if c.Watch.MetricsAddr == "" {
		c.Watch.MetricsAddr = ":9090"
	}
}

// Timeout returns the per-file wall-clock budget. An unparsable value falls
// back to the default; LoadConfig already rejects it for file-based configs.
func (p *PipelineConfig) Timeout() time.Duration {
	if d, err := time.ParseDuration(p.FileTimeout); err == nil {
		return d
	}
	return 5 * time.Minute
}

// Settle returns how long a dropped file must stay unchanged before the
// watcher picks it up.
func (w *WatchConfig) Settle() time.Duration {
	if d, err := time.ParseDuration(w.SettleInterval); err == nil {
		return d
	}
	return 2 * time.Second
}
