package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/steward/internal/mcp"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "steward.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv(EnvConfigPath, "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Listen != "127.0.0.1:8170" {
		t.Errorf("listen = %s", cfg.Server.Listen)
	}
	if cfg.Scheduler.PollInterval != 60*time.Second {
		t.Errorf("poll interval = %s", cfg.Scheduler.PollInterval)
	}
	if cfg.LLM.Provider != "anthropic" {
		t.Errorf("provider = %s", cfg.LLM.Provider)
	}
	if cfg.Database.Pool == nil {
		t.Error("pool defaults not applied")
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  dsn: postgres://db:5432/steward?sslmode=disable
server:
  listen: 127.0.0.1:9999
scheduler:
  poll_interval: 5s
tools:
  servers:
    - id: calendar
      transport: stdio
      command: calendar-mcp
  bindings:
    calendar:
      service: google
      header: Authorization
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Listen != "127.0.0.1:9999" {
		t.Errorf("listen = %s", cfg.Server.Listen)
	}
	if cfg.Scheduler.PollInterval != 5*time.Second {
		t.Errorf("poll interval = %s", cfg.Scheduler.PollInterval)
	}
	// Fields the file omits keep their defaults.
	if cfg.LLM.Provider != "anthropic" {
		t.Errorf("provider = %s", cfg.LLM.Provider)
	}
	if len(cfg.Tools.Servers) != 1 || cfg.Tools.Servers[0].ID != "calendar" {
		t.Errorf("servers = %+v", cfg.Tools.Servers)
	}
	if cfg.Tools.Bindings["calendar"].Service != "google" {
		t.Errorf("bindings = %+v", cfg.Tools.Bindings)
	}
}

func TestLoadUsesEnvPath(t *testing.T) {
	path := writeConfig(t, "server:\n  listen: 127.0.0.1:7777\n")
	t.Setenv(EnvConfigPath, path)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Listen != "127.0.0.1:7777" {
		t.Errorf("listen = %s", cfg.Server.Listen)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadBadYAML(t *testing.T) {
	path := writeConfig(t, "server: [not a mapping")
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config { return Default() }

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults pass",
			mutate: func(c *Config) {},
		},
		{
			name:    "empty dsn",
			mutate:  func(c *Config) { c.Database.DSN = "  " },
			wantErr: "database.dsn",
		},
		{
			name: "keys without current id",
			mutate: func(c *Config) {
				c.Encryption.Keys = map[string]string{"k1": "abc"}
			},
			wantErr: "current_key_id is required",
		},
		{
			name: "current id without key material",
			mutate: func(c *Config) {
				c.Encryption.Keys = map[string]string{"k1": "abc"}
				c.Encryption.CurrentKeyID = "k2"
			},
			wantErr: "no key material",
		},
		{
			name: "duplicate server ids",
			mutate: func(c *Config) {
				c.Tools.Servers = []*mcp.ServerConfig{
					{ID: "calendar", Transport: mcp.TransportStdio, Command: "a"},
					{ID: "calendar", Transport: mcp.TransportStdio, Command: "b"},
				}
			},
			wantErr: "duplicate server id",
		},
		{
			name: "invalid server config",
			mutate: func(c *Config) {
				c.Tools.Servers = []*mcp.ServerConfig{{ID: "calendar", Transport: mcp.TransportHTTP}}
			},
			wantErr: "URL is required",
		},
		{
			name: "binding missing service",
			mutate: func(c *Config) {
				c.Tools.Bindings = map[string]CredentialBinding{"calendar": {Header: "Authorization"}}
			},
			wantErr: "service is required",
		},
		{
			name: "binding missing header",
			mutate: func(c *Config) {
				c.Tools.Bindings = map[string]CredentialBinding{"calendar": {Service: "google"}}
			},
			wantErr: "header is required",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tc.wantErr)
			}
		})
	}
}

func TestValidateFillsPoolAndInterval(t *testing.T) {
	cfg := Default()
	cfg.Database.Pool = nil
	cfg.Scheduler.PollInterval = 0

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Database.Pool == nil {
		t.Error("pool not defaulted")
	}
	if cfg.Scheduler.PollInterval != 60*time.Second {
		t.Errorf("poll interval = %s", cfg.Scheduler.PollInterval)
	}
}
