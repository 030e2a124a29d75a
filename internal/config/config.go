// Package config loads the gateway configuration from YAML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/steward/internal/mcp"
	"github.com/haasonsaas/steward/internal/storage"
)

// EnvConfigPath selects the config file when no flag is given.
const EnvConfigPath = "STEWARD_CONFIG"

// Config is the root gateway configuration.
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Encryption EncryptionConfig `yaml:"encryption"`
	Agents     AgentsConfig     `yaml:"agents"`
	Tools      ToolsConfig      `yaml:"tools"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	LLM        LLMConfig        `yaml:"llm"`
	Server     ServerConfig     `yaml:"server"`
}

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	DSN  string          `yaml:"dsn"`
	Pool *storage.Config `yaml:"pool"`
}

// EncryptionConfig carries the vault key material. Keys map an opaque key id
// to a base64-encoded 256-bit key; CurrentKeyID selects the write key. Prior
// keys stay listed so key-versioned rows remain readable.
type EncryptionConfig struct {
	Keys         map[string]string `yaml:"keys"`
	CurrentKeyID string            `yaml:"current_key_id"`
}

// AgentsConfig points at the agent definition directories.
type AgentsConfig struct {
	Dir       string `yaml:"dir"`
	SystemDir string `yaml:"system_dir"`
	Watch     bool   `yaml:"watch"`
}

// CredentialBinding maps a tool server to the vault service whose credential
// is injected, and the header it is injected as.
type CredentialBinding struct {
	Service string `yaml:"service"`
	Header  string `yaml:"header"`
}

// ToolsConfig holds the MCP server fleet and per-server credential bindings.
type ToolsConfig struct {
	Servers  []*mcp.ServerConfig          `yaml:"servers"`
	Bindings map[string]CredentialBinding `yaml:"bindings"`
}

// SchedulerConfig tunes the cron polling loop.
type SchedulerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

// LLMConfig selects the default provider backing the graph executor.
type LLMConfig struct {
	Provider     string `yaml:"provider"`
	Model        string `yaml:"model"`
	AnthropicKey string `yaml:"anthropic_key"`
	OpenAIKey    string `yaml:"openai_key"`
}

// ServerConfig holds the HTTP listener for metrics and websocket sessions.
type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// Default returns a config with development defaults applied.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			DSN:  "postgres://localhost:5432/assistant_system?sslmode=disable",
			Pool: storage.DefaultConfig(),
		},
		Agents: AgentsConfig{
			Dir:       "agents",
			SystemDir: "system-agents",
		},
		Scheduler: SchedulerConfig{
			PollInterval: 60 * time.Second,
		},
		LLM: LLMConfig{
			Provider: "anthropic",
		},
		Server: ServerConfig{
			Listen: "127.0.0.1:8170",
		},
	}
}

// Load reads and validates the config file at path. An empty path falls back
// to $STEWARD_CONFIG, then to defaults without a file.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate normalizes the config and rejects inconsistent settings.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Database.Pool == nil {
		c.Database.Pool = storage.DefaultConfig()
	}
	if c.Scheduler.PollInterval <= 0 {
		c.Scheduler.PollInterval = 60 * time.Second
	}

	if len(c.Encryption.Keys) > 0 && c.Encryption.CurrentKeyID == "" {
		return fmt.Errorf("encryption.current_key_id is required when keys are configured")
	}
	if c.Encryption.CurrentKeyID != "" {
		if _, ok := c.Encryption.Keys[c.Encryption.CurrentKeyID]; !ok {
			return fmt.Errorf("encryption.current_key_id %q has no key material", c.Encryption.CurrentKeyID)
		}
	}

	seen := make(map[string]struct{}, len(c.Tools.Servers))
	for _, server := range c.Tools.Servers {
		if server == nil {
			continue
		}
		if err := server.Validate(); err != nil {
			return fmt.Errorf("tools.servers: %w", err)
		}
		if _, dup := seen[server.ID]; dup {
			return fmt.Errorf("tools.servers: duplicate server id %q", server.ID)
		}
		seen[server.ID] = struct{}{}
	}
	for serverID, binding := range c.Tools.Bindings {
		if strings.TrimSpace(binding.Service) == "" {
			return fmt.Errorf("tools.bindings[%s]: service is required", serverID)
		}
		if strings.TrimSpace(binding.Header) == "" {
			return fmt.Errorf("tools.bindings[%s]: header is required", serverID)
		}
	}

	c.Agents.Dir = filepath.Clean(c.Agents.Dir)
	c.Agents.SystemDir = filepath.Clean(c.Agents.SystemDir)
	return nil
}
