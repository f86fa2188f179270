// Package config loads the bridge's YAML or JSON5 configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/haasonsaas/hapra/internal/auth"
	"github.com/haasonsaas/hapra/pkg/models"
)

// Config is the main configuration structure for hapra.
type Config struct {
	Version       int                         `yaml:"version"`
	Server        ServerConfig                `yaml:"server"`
	Chat          ChatConfig                  `yaml:"chat"`
	Scheduler     SchedulerConfig             `yaml:"scheduler"`
	Runtime       RuntimeConfig               `yaml:"runtime"`
	Tools         ToolsConfig                 `yaml:"tools"`
	Heartbeat     HeartbeatConfig             `yaml:"heartbeat"`
	Cards         map[string]models.AgentCard `yaml:"cards"`
	Logging       LoggingConfig               `yaml:"logging"`
	Observability ObservabilityConfig         `yaml:"observability"`
	Metrics       MetricsConfig               `yaml:"metrics"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// PublicURL is the address the task scheduler calls back on.
	PublicURL string `yaml:"public_url"`

	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

type ChatConfig struct {
	Timeout              time.Duration  `yaml:"timeout"`
	Rewrites             []auth.Rewrite `yaml:"rewrites"`
	ContainerAliasPrefix string         `yaml:"container_alias_prefix"`
	LoopbackFallback     string         `yaml:"loopback_fallback"`
	ProbeTimeout         time.Duration  `yaml:"probe_timeout"`

	// RateLimit caps outbound chat requests per second. Zero disables it.
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`
}

type SchedulerConfig struct {
	Timeout            time.Duration  `yaml:"timeout"`
	Rewrites           []auth.Rewrite `yaml:"rewrites"`
	InsecureSkipVerify bool           `yaml:"insecure_skip_verify"`
}

type RuntimeConfig struct {
	URL         string        `yaml:"url"`
	UserID      string        `yaml:"user_id"`
	Timeout     time.Duration `yaml:"timeout"`
	TurnTimeout time.Duration `yaml:"turn_timeout"`

	// Streaming selects /run_sse over the blocking /run endpoint. Nil
	// means streaming.
	Streaming *bool `yaml:"streaming"`
}

// StreamingEnabled reports whether turns use server-sent events.
func (c RuntimeConfig) StreamingEnabled() bool {
	return c.Streaming == nil || *c.Streaming
}

type ToolsConfig struct {
	URL              string            `yaml:"url"`
	Tags             []string          `yaml:"tags"`
	DiscoveryTimeout time.Duration     `yaml:"discovery_timeout"`
	InvokeTimeout    time.Duration     `yaml:"invoke_timeout"`
	ModelHeader      string            `yaml:"model_header"`
	Headers          map[string]string `yaml:"headers"`
}

type HeartbeatConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Cron        string `yaml:"cron"`
	Message     string `yaml:"message"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ObservabilityConfig configures tracing.
type ObservabilityConfig struct {
	Tracing TracingConfig `yaml:"tracing"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Endpoint     string  `yaml:"endpoint"`
	ServiceName  string  `yaml:"service_name"`
	Environment  string  `yaml:"environment"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure"`
}

type MetricsConfig struct {
	// Enabled defaults to true.
	Enabled *bool  `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// IsEnabled reports whether /metrics is served.
func (c MetricsConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Load reads and parses the configuration file. A .env file next to it, or
// in the working directory, is loaded first without overriding variables
// that are already set.
func Load(path string) (*Config, error) {
	loadDotEnv(path)

	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every default applied, for running
// without a file.
func Default() *Config {
	cfg := &Config{}
	applyEnvOverrides(cfg)
	applyDefaults(cfg)
	return cfg
}

func loadDotEnv(path string) {
	candidates := []string{".env"}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		candidates = append([]string{filepath.Join(dir, ".env")}, candidates...)
	}
	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			_ = godotenv.Load(candidate)
		}
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("HAPRA_PORT")); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := strings.TrimSpace(os.Getenv("HAPRA_PUBLIC_URL")); v != "" {
		cfg.Server.PublicURL = v
	}
	if v := strings.TrimSpace(os.Getenv("HAPRA_RUNTIME_URL")); v != "" {
		cfg.Runtime.URL = v
	}
	if v := strings.TrimSpace(os.Getenv("HAPRA_TOOLS_URL")); v != "" {
		cfg.Tools.URL = v
	}
	if v := strings.TrimSpace(os.Getenv("HAPRA_LOG_LEVEL")); v != "" {
		cfg.Logging.Level = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.PublicURL == "" {
		cfg.Server.PublicURL = fmt.Sprintf("http://host.docker.internal:%d", cfg.Server.Port)
	}
	cfg.Server.PublicURL = strings.TrimRight(cfg.Server.PublicURL, "/")
	if cfg.Server.ReadHeaderTimeout == 0 {
		cfg.Server.ReadHeaderTimeout = 5 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}

	if cfg.Chat.Timeout == 0 {
		cfg.Chat.Timeout = 60 * time.Second
	}
	if cfg.Chat.Rewrites == nil {
		cfg.Chat.Rewrites = []auth.Rewrite{{From: "happi", To: "chat"}, {From: "8080", To: "8008"}}
	}
	if cfg.Chat.ContainerAliasPrefix == "" {
		cfg.Chat.ContainerAliasPrefix = "http://host.docker.internal"
	}
	if cfg.Chat.LoopbackFallback == "" {
		cfg.Chat.LoopbackFallback = "http://localhost:8008"
	}
	if cfg.Chat.ProbeTimeout == 0 {
		cfg.Chat.ProbeTimeout = 5 * time.Second
	}
	if cfg.Chat.RateLimit > 0 && cfg.Chat.Burst == 0 {
		cfg.Chat.Burst = 1
	}

	if cfg.Scheduler.Timeout == 0 {
		cfg.Scheduler.Timeout = 300 * time.Second
	}
	if cfg.Scheduler.Rewrites == nil {
		cfg.Scheduler.Rewrites = []auth.Rewrite{{From: "localhost", To: "host.docker.internal"}}
	}

	if cfg.Runtime.URL == "" {
		cfg.Runtime.URL = "http://localhost:8001"
	}
	cfg.Runtime.URL = strings.TrimRight(cfg.Runtime.URL, "/")
	if cfg.Runtime.UserID == "" {
		cfg.Runtime.UserID = "user"
	}
	if cfg.Runtime.Timeout == 0 {
		cfg.Runtime.Timeout = 60 * time.Second
	}
	if cfg.Runtime.TurnTimeout == 0 {
		cfg.Runtime.TurnTimeout = 10 * time.Minute
	}

	if cfg.Tools.URL == "" {
		cfg.Tools.URL = "http://localhost:8282/mcp/"
	}
	if cfg.Tools.DiscoveryTimeout == 0 {
		cfg.Tools.DiscoveryTimeout = 600 * time.Second
	}
	if cfg.Tools.InvokeTimeout == 0 {
		cfg.Tools.InvokeTimeout = 60 * time.Second
	}
	if cfg.Tools.ModelHeader == "" {
		cfg.Tools.ModelHeader = "X-HONU-MODEL"
	}

	if cfg.Heartbeat.Name == "" {
		cfg.Heartbeat.Name = "heartbeat"
	}
	if cfg.Heartbeat.Description == "" {
		cfg.Heartbeat.Description = "Periodic agent check-in"
	}
	if cfg.Heartbeat.Cron == "" {
		cfg.Heartbeat.Cron = "*/15 * * * *"
	}
	if cfg.Heartbeat.Message == "" {
		cfg.Heartbeat.Message = "Heartbeat: check whether anything needs your attention."
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Observability.Tracing.ServiceName == "" {
		cfg.Observability.Tracing.ServiceName = "hapra"
	}
	if cfg.Observability.Tracing.SamplingRate == 0 {
		cfg.Observability.Tracing.SamplingRate = 1.0
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}
