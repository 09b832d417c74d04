// Package config holds CareBridge daemon configuration. JSON is the
// native format; YAML and TOML files load by extension.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config holds all CareBridge configuration.
type Config struct {
	Server       ServerConfig       `json:"server" yaml:"server" toml:"server"`
	Store        StoreConfig        `json:"store" yaml:"store" toml:"store"`
	Connectivity ConnectivityConfig `json:"connectivity" yaml:"connectivity" toml:"connectivity"`
	Transport    TransportConfig    `json:"transport" yaml:"transport" toml:"transport"`
	Queue        QueueConfig        `json:"queue" yaml:"queue" toml:"queue"`
	Drain        DrainConfig        `json:"drain,omitempty" yaml:"drain,omitempty" toml:"drain"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port     int    `json:"port" yaml:"port" toml:"port"`
	DataDir  string `json:"dataDir" yaml:"dataDir" toml:"dataDir"`
	LogLevel string `json:"logLevel" yaml:"logLevel" toml:"logLevel"`
	// AuthSecret signs API tokens. Empty disables auth (local dev only).
	AuthSecret string `json:"authSecret,omitempty" yaml:"authSecret,omitempty" toml:"authSecret"`
}

// StoreConfig selects the operation record store backend.
type StoreConfig struct {
	Backend string `json:"backend" yaml:"backend" toml:"backend"` // "sqlite" or "file"
	Path    string `json:"path,omitempty" yaml:"path,omitempty" toml:"path"`
}

// ConnectivityConfig selects and tunes the connectivity source.
type ConnectivityConfig struct {
	Source               string     `json:"source" yaml:"source" toml:"source"` // "probe" or "mqtt"
	ProbeURL             string     `json:"probeUrl,omitempty" yaml:"probeUrl,omitempty" toml:"probeUrl"`
	ProbeIntervalSeconds int        `json:"probeIntervalSeconds,omitempty" yaml:"probeIntervalSeconds,omitempty" toml:"probeIntervalSeconds"`
	MQTT                 MQTTConfig `json:"mqtt,omitempty" yaml:"mqtt,omitempty" toml:"mqtt"`
}

// MQTTConfig configures the MQTT connectivity source.
type MQTTConfig struct {
	BrokerURL string `json:"brokerUrl" yaml:"brokerUrl" toml:"brokerUrl"`
	ClientID  string `json:"clientId,omitempty" yaml:"clientId,omitempty" toml:"clientId"`
	Username  string `json:"username,omitempty" yaml:"username,omitempty" toml:"username"`
	Password  string `json:"password,omitempty" yaml:"password,omitempty" toml:"password"`
}

// TransportConfig configures the HTTP transport api_call operations replay
// through.
type TransportConfig struct {
	BaseURL        string `json:"baseUrl" yaml:"baseUrl" toml:"baseUrl"`
	AuthToken      string `json:"authToken,omitempty" yaml:"authToken,omitempty" toml:"authToken"`
	TimeoutSeconds int    `json:"timeoutSeconds,omitempty" yaml:"timeoutSeconds,omitempty" toml:"timeoutSeconds"`
}

// QueueConfig tunes the pending-operation queue.
type QueueConfig struct {
	MaxSize           int `json:"maxSize,omitempty" yaml:"maxSize,omitempty" toml:"maxSize"`
	DefaultMaxRetries int `json:"defaultMaxRetries,omitempty" yaml:"defaultMaxRetries,omitempty" toml:"defaultMaxRetries"`
}

// DrainConfig declares scheduled drain jobs that run in addition to the
// reconnect-triggered drain.
type DrainConfig struct {
	Jobs []DrainJob `json:"jobs,omitempty" yaml:"jobs,omitempty" toml:"jobs"`
}

// DrainJob defines one scheduled drain.
type DrainJob struct {
	ID         string `json:"id" yaml:"id" toml:"id"`
	Kind       string `json:"kind" yaml:"kind" toml:"kind"` // "interval", "cron", "at"
	IntervalMs int64  `json:"intervalMs,omitempty" yaml:"intervalMs,omitempty" toml:"intervalMs"`
	Expr       string `json:"expr,omitempty" yaml:"expr,omitempty" toml:"expr"` // cron expression
	Time       string `json:"time,omitempty" yaml:"time,omitempty" toml:"time"` // "HH:MM" for daily
	Timezone   string `json:"timezone,omitempty" yaml:"timezone,omitempty" toml:"timezone"`
	Enabled    bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     8480,
			DataDir:  "./data",
			LogLevel: "info",
		},
		Store: StoreConfig{
			Backend: "sqlite",
		},
		Connectivity: ConnectivityConfig{
			Source:               "probe",
			ProbeURL:             "https://connectivity.carebridge.dev/generate_204",
			ProbeIntervalSeconds: 15,
		},
		Transport: TransportConfig{
			TimeoutSeconds: 30,
		},
		Queue: QueueConfig{
			MaxSize:           1000,
			DefaultMaxRetries: 3,
		},
	}
}

// Load reads config from a JSON, YAML or TOML file, chosen by extension,
// layered over DefaultConfig.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse yaml config: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse toml config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	// Ensure data directory exists
	if err := os.MkdirAll(cfg.Server.DataDir, 0750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	return cfg, nil
}

// Save writes config to a JSON file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0640)
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case "sqlite", "file":
	default:
		return fmt.Errorf("unknown store backend %q (use sqlite or file)", c.Store.Backend)
	}
	switch c.Connectivity.Source {
	case "probe":
		if c.Connectivity.ProbeURL == "" {
			return fmt.Errorf("probe connectivity source requires probeUrl")
		}
	case "mqtt":
		if c.Connectivity.MQTT.BrokerURL == "" {
			return fmt.Errorf("mqtt connectivity source requires brokerUrl")
		}
	default:
		return fmt.Errorf("unknown connectivity source %q (use probe or mqtt)", c.Connectivity.Source)
	}
	return nil
}

// StorePath returns the configured store path or a default under dataDir.
func (c *Config) StorePath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	if c.Store.Backend == "file" {
		return filepath.Join(c.Server.DataDir, "operations")
	}
	return filepath.Join(c.Server.DataDir, "carebridge.db")
}
