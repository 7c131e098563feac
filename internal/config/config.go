package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the fully resolved client configuration for one invocation.
// It is assembled from defaults, an optional YAML config file and VM_*
// environment variables, in that order, and is not mutated afterwards.
type Config struct {
	Host           string           `yaml:"host"`
	TimeoutSeconds int              `yaml:"timeout"`
	Auth           *AuthConfig      `yaml:"auth,omitempty"`
	Output         OutputConfig     `yaml:"output"`
	Cluster        *ClusterConfig   `yaml:"cluster,omitempty"`
	Logging        *LoggingConfig   `yaml:"logging,omitempty"`
	Export         ExportConfig     `yaml:"export"`
	Telemetry      *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// AuthConfig selects one of: no auth (zero value), basic auth
// (username+password) or bearer token. Token wins if both are set.
type AuthConfig struct {
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	Token    string `yaml:"token,omitempty"`
}

type OutputConfig struct {
	Format string `yaml:"format"`
	Color  bool   `yaml:"color"`
	Pretty bool   `yaml:"pretty"`
}

// ClusterConfig enables cluster-aware routing. Query-class operations go to
// the vmselect host (Config.Host), ingest to VMInsertHost and storage
// administration to VMStorageHost; both overrides fall back to Config.Host.
type ClusterConfig struct {
	UseSelectEndpoint bool   `yaml:"use_select_endpoint"`
	SelectAccountID   string `yaml:"select_account_id"`
	SelectProjectID   string `yaml:"select_project_id"`
	VMInsertHost      string `yaml:"vminsert_host,omitempty"`
	VMStorageHost     string `yaml:"vmstorage_host,omitempty"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file,omitempty"`
}

type ExportConfig struct {
	DefaultFormat string `yaml:"default_format"`
	ChunkSize     int    `yaml:"chunk_size"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

const (
	DefaultHost      = "http://localhost:8428"
	DefaultTimeout   = 30
	DefaultChunkSize = 1000
)

// Default returns the built-in configuration, matching a local standalone
// VictoriaMetrics instance.
func Default() *Config {
	return &Config{
		Host:           DefaultHost,
		TimeoutSeconds: DefaultTimeout,
		Output: OutputConfig{
			Format: "table",
			Color:  true,
			Pretty: true,
		},
		Export: ExportConfig{
			DefaultFormat: "prometheus",
			ChunkSize:     DefaultChunkSize,
		},
	}
}

// Load resolves the configuration. When path is empty the default locations
// are searched: ./.vmcli.yaml, ./vmcli.yaml and
// $XDG_CONFIG_HOME/vmcli/config.yaml. Environment variables with the VM_
// prefix override both defaults and file values.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func findConfigFile() string {
	candidates := []string{".vmcli.yaml", "vmcli.yaml"}
	if dir, err := os.UserConfigDir(); err == nil {
		candidates = append(candidates, filepath.Join(dir, "vmcli", "config.yaml"))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

func (c *Config) applyEnv() {
	if v := os.Getenv("VM_HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv("VM_TIMEOUT"); v != "" {
		if t, err := strconv.Atoi(v); err == nil && t > 0 {
			c.TimeoutSeconds = t
		}
	}
	username := os.Getenv("VM_USERNAME")
	password := os.Getenv("VM_PASSWORD")
	token := os.Getenv("VM_TOKEN")
	if username != "" || password != "" || token != "" {
		if c.Auth == nil {
			c.Auth = &AuthConfig{}
		}
		if username != "" {
			c.Auth.Username = username
		}
		if password != "" {
			c.Auth.Password = password
		}
		if token != "" {
			c.Auth.Token = token
		}
	}
	if v := os.Getenv("VM_OTLP_ENDPOINT"); v != "" {
		if c.Telemetry == nil {
			c.Telemetry = &TelemetryConfig{}
		}
		c.Telemetry.OTLPEndpoint = v
	}
	if v := os.Getenv("VM_LOG_LEVEL"); v != "" {
		if c.Logging == nil {
			c.Logging = &LoggingConfig{}
		}
		c.Logging.Level = v
	}
}

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = DefaultTimeout
	}
	if c.Output.Format == "" {
		c.Output.Format = "table"
	}
	if c.Export.DefaultFormat == "" {
		c.Export.DefaultFormat = "prometheus"
	}
	if c.Export.ChunkSize <= 0 {
		c.Export.ChunkSize = DefaultChunkSize
	}
	if c.Cluster != nil {
		if c.Cluster.SelectAccountID == "" {
			c.Cluster.SelectAccountID = "0"
		}
		if c.Cluster.SelectProjectID == "" {
			c.Cluster.SelectProjectID = "0"
		}
	}
}

// Timeout returns the per-request timeout as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Save writes the configuration to path in YAML form.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	return nil
}
