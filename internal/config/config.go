// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads EIFL configuration from a YAML file with environment
// variable overrides. The daemon, CLI, and runner agent each consume their
// own section.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	eiflerrors "github.com/eifl-dev/eifl/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config represents the complete EIFL server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Secrets   SecretsConfig   `yaml:"secrets"`
	GitHub    GitHubConfig    `yaml:"github"`
	Log       LogConfig       `yaml:"log"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// ServerConfig configures the HTTP listener and on-disk layout.
type ServerConfig struct {
	// Listen is the TCP address the server binds to.
	// Environment: EIFL_LISTEN
	// Default: 127.0.0.1:8475
	Listen string `yaml:"listen"`

	// PublicURL is the externally reachable base URL of this server. It is
	// used to build clone URLs and status callback targets.
	// Environment: EIFL_PUBLIC_URL
	PublicURL string `yaml:"public_url"`

	// DataDir holds the SQLite database and hosted repositories.
	// Environment: EIFL_DATA_DIR
	// Default: ./data
	DataDir string `yaml:"data_dir"`

	// ReposDir holds the hosted bare repositories.
	// Default: <data_dir>/repos
	ReposDir string `yaml:"repos_dir"`

	// DBPath is the SQLite database file.
	// Default: <data_dir>/eifl.db
	DBPath string `yaml:"db_path"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	// Default: 15s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// PIDFile is the path to the PID file. Empty means no PID file.
	PIDFile string `yaml:"pid_file"`
}

// AuthConfig configures admin API and hook authentication.
type AuthConfig struct {
	// JWTSecret signs admin API tokens (HS256). Required to serve admin routes.
	// Environment: EIFL_JWT_SECRET
	JWTSecret string `yaml:"jwt_secret"`

	// TokenTTL is the lifetime of minted admin tokens.
	// Default: 24h
	TokenTTL time.Duration `yaml:"token_ttl"`

	// HookToken authenticates post-receive hook callbacks from hosted repos.
	// When empty it is derived from JWTSecret so it stays stable across
	// restarts without extra configuration.
	// Environment: EIFL_HOOK_TOKEN
	HookToken string `yaml:"hook_token"`
}

// SchedulerConfig configures the cron tick loop.
type SchedulerConfig struct {
	// TickInterval is the period between scheduler ticks.
	// Default: 60s
	TickInterval time.Duration `yaml:"tick_interval"`

	// Disabled turns the scheduler off entirely (pushes and manual
	// triggers still work).
	Disabled bool `yaml:"disabled"`
}

// SecretsConfig configures encryption of stored secrets.
type SecretsConfig struct {
	// EncryptionKey derives the AEAD key for secret values. Minimum 32
	// characters. Secret management is unavailable without it.
	// Environment: EIFL_ENCRYPTION_KEY
	EncryptionKey string `yaml:"encryption_key"`
}

// GitHubConfig configures the optional GitHub integration.
type GitHubConfig struct {
	// Token authenticates clone URL injection and commit status posts.
	// Environment: GITHUB_TOKEN
	Token string `yaml:"token"`

	// WebhookSecret verifies X-Hub-Signature-256 on webhook deliveries.
	// Environment: EIFL_GITHUB_WEBHOOK_SECRET
	WebhookSecret string `yaml:"webhook_secret"`

	// PostStatuses enables best-effort commit status posting on run
	// transitions for repos with a github.com remote.
	PostStatuses bool `yaml:"post_statuses"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error).
	Level string `yaml:"level"`

	// Format is json or text.
	Format string `yaml:"format"`
}

// TracingConfig configures OpenTelemetry trace export.
type TracingConfig struct {
	// Enabled turns tracing on. Default: false
	Enabled bool `yaml:"enabled"`

	// Exporter selects the span exporter: otlp-grpc, otlp-http, or stdout.
	// Default: otlp-grpc
	Exporter string `yaml:"exporter"`

	// Endpoint is the OTLP endpoint (e.g., "localhost:4317").
	Endpoint string `yaml:"endpoint"`

	// Insecure disables TLS on the exporter connection.
	Insecure bool `yaml:"insecure"`

	// SampleRate is the trace sampling ratio in [0,1]. Default: 1.0
	SampleRate float64 `yaml:"sample_rate"`
}

// AgentConfig represents the runner agent configuration.
type AgentConfig struct {
	// ServerURL is the base URL of the EIFL server.
	// Environment: EIFL_SERVER_URL
	ServerURL string `yaml:"server_url"`

	// Token is the runner's bearer token.
	// Environment: EIFL_RUNNER_TOKEN
	Token string `yaml:"token"`

	// WorkDir holds per-job workspaces.
	// Default: <os temp>/eifl-runner
	WorkDir string `yaml:"work_dir"`

	// PollInterval is the delay between polls when no job is available.
	// Default: 3s
	PollInterval time.Duration `yaml:"poll_interval"`

	// HeartbeatInterval is the period between heartbeats while idle.
	// Default: 30s
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// KeepWorkspaces disables workspace cleanup after each job, useful
	// when debugging step failures.
	KeepWorkspaces bool `yaml:"keep_workspaces"`
}

// Default returns a Config with defaults applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:          "127.0.0.1:8475",
			DataDir:         "data",
			ShutdownTimeout: 15 * time.Second,
		},
		Auth: AuthConfig{
			TokenTTL: 24 * time.Hour,
		},
		Scheduler: SchedulerConfig{
			TickInterval: 60 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Exporter:   "otlp-grpc",
			SampleRate: 1.0,
		},
	}
}

// Load reads the configuration file at path, applies environment overrides,
// fills defaults, and validates. An empty path loads defaults plus
// environment only. A missing file at an explicit path is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &eiflerrors.ConfigError{Key: "file", Reason: fmt.Sprintf("cannot read %s", path), Cause: err}
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, &eiflerrors.ConfigError{Key: "file", Reason: fmt.Sprintf("cannot parse %s", path), Cause: err}
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables onto the configuration.
// Environment always wins over file values.
func (c *Config) applyEnv() {
	if v := os.Getenv("EIFL_LISTEN"); v != "" {
		c.Server.Listen = v
	}
	if v := os.Getenv("EIFL_PUBLIC_URL"); v != "" {
		c.Server.PublicURL = v
	}
	if v := os.Getenv("EIFL_DATA_DIR"); v != "" {
		c.Server.DataDir = v
	}
	if v := os.Getenv("EIFL_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("EIFL_HOOK_TOKEN"); v != "" {
		c.Auth.HookToken = v
	}
	if v := os.Getenv("EIFL_ENCRYPTION_KEY"); v != "" {
		c.Secrets.EncryptionKey = v
	}
	if v := os.Getenv("GITHUB_TOKEN"); v != "" {
		c.GitHub.Token = v
	}
	if v := os.Getenv("EIFL_GITHUB_WEBHOOK_SECRET"); v != "" {
		c.GitHub.WebhookSecret = v
	}
	if v := os.Getenv("EIFL_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// applyDefaults fills derived paths after file and environment are merged.
func (c *Config) applyDefaults() {
	if c.Server.ReposDir == "" {
		c.Server.ReposDir = filepath.Join(c.Server.DataDir, "repos")
	}
	if c.Server.DBPath == "" {
		c.Server.DBPath = filepath.Join(c.Server.DataDir, "eifl.db")
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
	if c.Scheduler.TickInterval <= 0 {
		c.Scheduler.TickInterval = 60 * time.Second
	}
	if c.Auth.TokenTTL <= 0 {
		c.Auth.TokenTTL = 24 * time.Hour
	}
	if c.Tracing.SampleRate <= 0 {
		c.Tracing.SampleRate = 1.0
	}
	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = "otlp-grpc"
	}
}

// Validate checks the configuration for values that would fail at runtime.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return &eiflerrors.ConfigError{Key: "server.listen", Reason: "must not be empty"}
	}
	if c.Secrets.EncryptionKey != "" && len(c.Secrets.EncryptionKey) < 32 {
		return &eiflerrors.ConfigError{Key: "secrets.encryption_key", Reason: "must be at least 32 characters"}
	}
	switch c.Tracing.Exporter {
	case "otlp-grpc", "otlp-http", "stdout":
	default:
		return &eiflerrors.ConfigError{Key: "tracing.exporter", Reason: fmt.Sprintf("unknown exporter %q", c.Tracing.Exporter)}
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return &eiflerrors.ConfigError{Key: "tracing.sample_rate", Reason: "must be within [0,1]"}
	}
	return nil
}

// DefaultAgent returns an AgentConfig with defaults applied.
func DefaultAgent() *AgentConfig {
	return &AgentConfig{
		WorkDir:           filepath.Join(os.TempDir(), "eifl-runner"),
		PollInterval:      3 * time.Second,
		HeartbeatInterval: 30 * time.Second,
	}
}

// LoadAgent reads the runner agent configuration, applying environment
// overrides the same way Load does for the server.
func LoadAgent(path string) (*AgentConfig, error) {
	cfg := DefaultAgent()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &eiflerrors.ConfigError{Key: "file", Reason: fmt.Sprintf("cannot read %s", path), Cause: err}
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, &eiflerrors.ConfigError{Key: "file", Reason: fmt.Sprintf("cannot parse %s", path), Cause: err}
		}
	}

	if v := os.Getenv("EIFL_SERVER_URL"); v != "" {
		cfg.ServerURL = v
	}
	if v := os.Getenv("EIFL_RUNNER_TOKEN"); v != "" {
		cfg.Token = v
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}

	if cfg.ServerURL == "" {
		return nil, &eiflerrors.ConfigError{Key: "server_url", Reason: "must be set (flag, file, or EIFL_SERVER_URL)"}
	}
	if cfg.Token == "" {
		return nil, &eiflerrors.ConfigError{Key: "token", Reason: "must be set (flag, file, or EIFL_RUNNER_TOKEN)"}
	}
	return cfg, nil
}

// CLIConfig is the operator CLI's saved state, written by `eifl setup`
// and `eifl login`.
type CLIConfig struct {
	// ServerURL is the EIFL server the CLI talks to.
	// Environment: EIFL_SERVER_URL
	ServerURL string `yaml:"server_url"`
}

// CLIDir returns the directory holding CLI config and credentials,
// ~/.config/eifl on Linux.
func CLIDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot locate user config dir: %w", err)
	}
	return filepath.Join(base, "eifl"), nil
}

// LoadCLI reads the CLI config. A missing file is not an error; the CLI
// falls back to flags and environment.
func LoadCLI(path string) (*CLIConfig, error) {
	if path == "" {
		dir, err := CLIDir()
		if err != nil {
			return &CLIConfig{}, nil
		}
		path = filepath.Join(dir, "config.yaml")
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &CLIConfig{}, nil
	}
	if err != nil {
		return nil, &eiflerrors.ConfigError{Key: "file", Reason: fmt.Sprintf("cannot read %s", path), Cause: err}
	}

	cfg := &CLIConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &eiflerrors.ConfigError{Key: "file", Reason: fmt.Sprintf("cannot parse %s", path), Cause: err}
	}
	return cfg, nil
}

// SaveCLI writes the CLI config, creating the directory when needed. An
// empty path writes the default location.
func SaveCLI(path string, cfg *CLIConfig) error {
	if path == "" {
		dir, err := CLIDir()
		if err != nil {
			return err
		}
		path = filepath.Join(dir, "config.yaml")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
