package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	DefaultListen                 = "127.0.0.1:8780"
	DefaultRequestTimeoutSec      = 10
	DefaultPollIntervalSec        = 60
	DefaultTrackerIntervalSec     = 10
	DefaultConsiderHomeSec        = 180
	DefaultSpeedtestHistory       = "speedtest.csv"
	DefaultLogLevel               = "info"
)

// Config holds bridge and mesh connection settings.
type Config struct {
	Mesh   *MeshConfig   `yaml:"mesh,omitempty"`
	Bridge *BridgeConfig `yaml:"bridge,omitempty"`
}

// MeshConfig describes how to reach the mesh's primary node.
type MeshConfig struct {
	Node              string `yaml:"node"`
	Password          string `yaml:"password"`
	RequestTimeoutSec int    `yaml:"request_timeout_sec"`
}

// BridgeConfig is used by the bridge daemon process.
type BridgeConfig struct {
	Listen              string   `yaml:"listen"`
	DataDir             string   `yaml:"data_dir"`
	PollIntervalSec     int      `yaml:"poll_interval_sec"`
	TrackerIntervalSec  int      `yaml:"tracker_interval_sec"`
	ConsiderHomeSec     int      `yaml:"consider_home_sec"`
	TrackedDevices      []string `yaml:"tracked_devices"`
	SpeedtestHistory    string   `yaml:"speedtest_history"`
	LogLevel            string   `yaml:"log_level"`
	NodeImagesPath      string   `yaml:"node_images_path,omitempty"`
}

// Load reads and parses a YAML config file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}

	ApplyDefaults(&cfg)
	return cfg, nil
}

// Save writes a YAML config file to disk. The file carries the mesh admin
// password, so it is written 0600.
func Save(path string, cfg Config) error {
	ApplyDefaults(&cfg)
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate performs minimal validation for required fields.
func Validate(cfg Config) error {
	if cfg.Mesh == nil {
		return fmt.Errorf("config must contain a mesh section")
	}
	if cfg.Mesh.Node == "" {
		return fmt.Errorf("mesh.node is required")
	}
	if cfg.Mesh.Password == "" {
		return fmt.Errorf("mesh.password is required")
	}
	if cfg.Bridge != nil && cfg.Bridge.ConsiderHomeSec < cfg.Bridge.TrackerIntervalSec {
		return fmt.Errorf("bridge.consider_home_sec must not be below bridge.tracker_interval_sec")
	}
	return nil
}

// ApplyDefaults fills in default values when empty.
func ApplyDefaults(cfg *Config) {
	if cfg.Mesh != nil {
		if cfg.Mesh.RequestTimeoutSec == 0 {
			cfg.Mesh.RequestTimeoutSec = DefaultRequestTimeoutSec
		}
	}

	if cfg.Bridge != nil {
		if cfg.Bridge.Listen == "" {
			cfg.Bridge.Listen = DefaultListen
		}
		if cfg.Bridge.PollIntervalSec == 0 {
			cfg.Bridge.PollIntervalSec = DefaultPollIntervalSec
		}
		if cfg.Bridge.TrackerIntervalSec == 0 {
			cfg.Bridge.TrackerIntervalSec = DefaultTrackerIntervalSec
		}
		if cfg.Bridge.ConsiderHomeSec == 0 {
			cfg.Bridge.ConsiderHomeSec = DefaultConsiderHomeSec
		}
		if cfg.Bridge.SpeedtestHistory == "" {
			cfg.Bridge.SpeedtestHistory = filepath.Join(cfg.Bridge.DataDir, DefaultSpeedtestHistory)
		}
		if cfg.Bridge.LogLevel == "" {
			cfg.Bridge.LogLevel = DefaultLogLevel
		}
	}
}
