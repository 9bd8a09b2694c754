// Package config holds the orchestrator daemon configuration: defaults,
// YAML file loading and environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// SpawnFailurePolicy decides what happens to a workspace when a spawn attempt
// fails before the agent process exists.
type SpawnFailurePolicy string

const (
	// SpawnFailureRetain leaves the workspace on disk for operator inspection
	SpawnFailureRetain SpawnFailurePolicy = "retain"
	// SpawnFailurePurge removes sensitive files but keeps the tree
	SpawnFailurePurge SpawnFailurePolicy = "purge"
	// SpawnFailureRemove deletes the whole workspace tree
	SpawnFailureRemove SpawnFailurePolicy = "remove"
)

// Config is the root configuration
type Config struct {
	Workspace   WorkspaceConfig   `yaml:"workspace"`
	CLI         CLIConfig         `yaml:"cli"`
	Git         GitConfig         `yaml:"git"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Events      EventsConfig      `yaml:"events"`
	Server      ServerConfig      `yaml:"server"`
	Lifecycle   LifecycleConfig   `yaml:"lifecycle"`
	Debug       bool              `yaml:"debug"`
}

// WorkspaceConfig controls per-session working directories
type WorkspaceConfig struct {
	// BasePath is the root under which <workspace>/<project> trees are created
	BasePath string `yaml:"base_path"`
	// SensitivePatterns are base-name globs purged on session cleanup
	SensitivePatterns []string `yaml:"sensitive_patterns"`
	// OnSpawnFailure is the retain/purge/remove policy for pre-spawn failures
	OnSpawnFailure SpawnFailurePolicy `yaml:"on_spawn_failure"`
}

// CLIConfig describes the external agent command
type CLIConfig struct {
	// Command is the agent binary (looked up in PATH)
	Command string `yaml:"command"`
	// ExtraArgs are inserted before the generated arguments
	ExtraArgs []string `yaml:"extra_args"`
	// PassEnv lists parent environment variables forwarded to the child
	PassEnv []string `yaml:"pass_env"`
}

// GitConfig holds the commit identity stamped into agent repositories
type GitConfig struct {
	Binary      string        `yaml:"binary"`
	AuthorName  string        `yaml:"author_name"`
	AuthorEmail string        `yaml:"author_email"`
	Timeout     time.Duration `yaml:"timeout"`
}

// CredentialsConfig configures the vault adapter and provider verification
type CredentialsConfig struct {
	// VaultFile is an age-encrypted YAML key file; empty selects the in-memory vault
	VaultFile string `yaml:"vault_file"`
	// VaultIdentityFile is the age identity used to decrypt VaultFile
	VaultIdentityFile string        `yaml:"vault_identity_file"`
	FetchTimeout      time.Duration `yaml:"fetch_timeout"`
	VerifyTimeout     time.Duration `yaml:"verify_timeout"`
	VerifyInterval    time.Duration `yaml:"verify_interval"`
	// BaseURLs overrides provider API endpoints keyed by provider name
	BaseURLs map[string]string `yaml:"base_urls"`
}

// EventsConfig configures lifecycle event sinks
type EventsConfig struct {
	// RedisAddr enables the Redis stream sink when set
	RedisAddr string `yaml:"redis_addr"`
	// RedisStream is the stream key events are appended to
	RedisStream string `yaml:"redis_stream"`
	// RedisMaxLen caps the stream length (approximate trimming); 0 disables
	RedisMaxLen int64 `yaml:"redis_max_len"`
	// SubscriberBuffer is the channel size for in-process subscribers
	SubscriberBuffer int `yaml:"subscriber_buffer"`
}

// ServerConfig configures the MCP and gRPC health listeners
type ServerConfig struct {
	Name     string `yaml:"name"`
	Version  string `yaml:"version"`
	HTTPMode bool   `yaml:"http_mode"`
	HTTPPort string `yaml:"http_port"`
	GRPCPort string `yaml:"grpc_port"`
}

// LifecycleConfig holds session timing defaults
type LifecycleConfig struct {
	DefaultTimeout  time.Duration `yaml:"default_timeout"`
	KillGrace       time.Duration `yaml:"kill_grace"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DefaultSensitivePatterns is the denylist of secret-bearing file names
func DefaultSensitivePatterns() []string {
	return []string{
		".env",
		".env.*",
		"credentials.json",
		".netrc",
		".git-credentials",
		"*.pem",
		"*.key",
		"id_rsa",
		"id_ed25519",
		".npmrc",
		".pypirc",
		"service-account*.json",
	}
}

// Default returns the configuration used when no file is supplied
func Default() Config {
	return Config{
		Workspace: WorkspaceConfig{
			BasePath:          "/tmp/codegen-workspaces",
			SensitivePatterns: DefaultSensitivePatterns(),
			OnSpawnFailure:    SpawnFailureRetain,
		},
		CLI: CLIConfig{
			Command: "claude",
			PassEnv: []string{"PATH", "HOME", "LANG", "TMPDIR"},
		},
		Git: GitConfig{
			Binary:      "git",
			AuthorName:  "Codegen Agent {{agentId}}",
			AuthorEmail: "agent+{{agentId}}@codegen.local",
			Timeout:     DefaultGitTimeout,
		},
		Credentials: CredentialsConfig{
			FetchTimeout:   DefaultCredentialFetchTimeout,
			VerifyTimeout:  DefaultVerifyTimeout,
			VerifyInterval: DefaultVerifyInterval,
		},
		Events: EventsConfig{
			RedisStream:      "orchestrator:sessions",
			RedisMaxLen:      10000,
			SubscriberBuffer: 64,
		},
		Server: ServerConfig{
			Name:     "codegen-orchestrator",
			Version:  "0.1.0",
			HTTPPort: "8080",
			GRPCPort: "50052",
		},
		Lifecycle: LifecycleConfig{
			DefaultTimeout:  DefaultSessionTimeout,
			KillGrace:       DefaultKillGrace,
			ShutdownTimeout: DefaultShutdownTimeout,
		},
	}
}

// Load reads a YAML file over the defaults, then applies environment overrides.
// An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied config path
		if err != nil {
			return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// ApplyEnv overrides fields from ORCH_* environment variables
func (c *Config) ApplyEnv() {
	c.Workspace.BasePath = getEnv("ORCH_BASE_PATH", c.Workspace.BasePath)
	c.CLI.Command = getEnv("ORCH_CLI_COMMAND", c.CLI.Command)
	c.Events.RedisAddr = getEnv("ORCH_REDIS_ADDR", c.Events.RedisAddr)
	c.Credentials.VaultFile = getEnv("ORCH_VAULT_FILE", c.Credentials.VaultFile)
	c.Credentials.VaultIdentityFile = getEnv("ORCH_VAULT_IDENTITY", c.Credentials.VaultIdentityFile)
	c.Server.GRPCPort = getEnv("ORCH_GRPC_PORT", c.Server.GRPCPort)
	c.Server.HTTPPort = getEnv("ORCH_HTTP_PORT", c.Server.HTTPPort)
	c.Events.SubscriberBuffer = getEnvInt("ORCH_SUBSCRIBER_BUFFER", c.Events.SubscriberBuffer)
}

// Validate reports every configuration problem at once
func (c *Config) Validate() []string {
	var problems []string
	if c.Workspace.BasePath == "" {
		problems = append(problems, "workspace.base_path is required")
	}
	switch c.Workspace.OnSpawnFailure {
	case SpawnFailureRetain, SpawnFailurePurge, SpawnFailureRemove:
	default:
		problems = append(problems, fmt.Sprintf("workspace.on_spawn_failure %q is not one of retain, purge, remove", c.Workspace.OnSpawnFailure))
	}
	if c.CLI.Command == "" {
		problems = append(problems, "cli.command is required")
	}
	if c.Git.AuthorName == "" {
		problems = append(problems, "git.author_name is required")
	}
	if c.Git.AuthorEmail == "" {
		problems = append(problems, "git.author_email is required")
	}
	if c.Credentials.VaultFile != "" && c.Credentials.VaultIdentityFile == "" {
		problems = append(problems, "credentials.vault_identity_file is required with credentials.vault_file")
	}
	if c.Lifecycle.DefaultTimeout <= 0 {
		problems = append(problems, "lifecycle.default_timeout must be positive")
	}
	if c.Lifecycle.KillGrace < 0 {
		problems = append(problems, "lifecycle.kill_grace must not be negative")
	}
	return problems
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
