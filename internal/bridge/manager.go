package bridge

import (
	"context"
	"log/slog"
	"sync"

	"github.com/haasonsaas/steward/internal/mcp"
	"github.com/haasonsaas/steward/internal/vault"
)

// CredentialSource resolves a user's decrypted credential for a service.
// Satisfied by *vault.Vault.
type CredentialSource interface {
	Get(ctx context.Context, userID, service string) (*vault.Secret, error)
}

// Manager caches one bridge per user, rebuilding when the cached bridge has
// lost a server connection.
type Manager struct {
	configs  []*mcp.ServerConfig
	bindings map[string]Binding // keyed by server id
	creds    CredentialSource
	logger   *slog.Logger

	mu      sync.Mutex
	bridges map[string]*Bridge
}

// NewManager creates a bridge manager over the configured tool servers.
func NewManager(configs []*mcp.ServerConfig, bindings map[string]Binding, creds CredentialSource, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		configs:  configs,
		bindings: bindings,
		creds:    creds,
		logger:   logger.With("component", "bridge_manager"),
		bridges:  make(map[string]*Bridge),
	}
}

// GetBridge returns the user's bridge, building one if absent or stale. A
// stale bridge (a server process died, a connection dropped) is closed and
// replaced rather than handed out.
func (m *Manager) GetBridge(ctx context.Context, userID string) (*Bridge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.bridges[userID]; ok {
		if b.IsConnected() {
			return b, nil
		}
		m.logger.Info("bridge lost a connection, rebuilding", "user_id", userID)
		b.Close()
		delete(m.bridges, userID)
	}

	configs, err := m.userConfigs(ctx, userID)
	if err != nil {
		return nil, err
	}
	b, err := Connect(ctx, userID, configs, m.logger)
	if err != nil {
		return nil, err
	}
	m.bridges[userID] = b
	return b, nil
}

// userConfigs clones the operator-level server configs and injects the
// user's credentials into the bound header of each server. A bound server
// whose credential is absent or unusable keeps its operator-level
// configuration, exactly like an unmapped server.
func (m *Manager) userConfigs(ctx context.Context, userID string) ([]*mcp.ServerConfig, error) {
	configs := make([]*mcp.ServerConfig, 0, len(m.configs))
	for _, base := range m.configs {
		cfg := base.Clone()
		binding, bound := m.bindings[cfg.ID]
		if !bound {
			configs = append(configs, cfg)
			continue
		}

		secret, err := m.creds.Get(ctx, userID, binding.Service)
		if err != nil {
			return nil, err
		}
		if secret == nil {
			m.logger.Debug("no credential for bound server, using operator credentials",
				"user_id", userID,
				"server", cfg.ID,
				"service", binding.Service)
			configs = append(configs, cfg)
			continue
		}
		value, err := formatHeaderValue(binding.Service, secret.Data)
		if err != nil {
			m.logger.Warn("credential unusable, using operator credentials",
				"user_id", userID,
				"server", cfg.ID,
				"service", binding.Service,
				"error", err)
			configs = append(configs, cfg)
			continue
		}
		if cfg.Headers == nil {
			cfg.Headers = make(map[string]string)
		}
		cfg.Headers[binding.Header] = value
		configs = append(configs, cfg)
	}
	return configs, nil
}

// Invalidate closes and forgets the user's bridge, forcing the next
// GetBridge to rebuild with fresh credentials.
func (m *Manager) Invalidate(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.bridges[userID]; ok {
		b.Close()
		delete(m.bridges, userID)
	}
}

// Cleanup closes every cached bridge.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for userID, b := range m.bridges {
		b.Close()
		delete(m.bridges, userID)
	}
}
