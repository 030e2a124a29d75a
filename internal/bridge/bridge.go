// Package bridge maintains per-user composite tool clients: every configured
// tool server connected under that user's credentials, with the discovered
// catalogs merged into one namespace.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/haasonsaas/steward/internal/mcp"
)

// InternalServer is the pseudo-server for in-process tools. It is always
// permitted by allow-list filtering.
const InternalServer = "_internal"

// ToolHandler executes an in-process tool.
type ToolHandler func(ctx context.Context, arguments map[string]any) (string, error)

// ToolDefinition is the flat catalog entry shape handed to LLM providers.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// FunctionDefinition wraps a tool in the function-calling wire shape.
type FunctionDefinition struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		Parameters  json.RawMessage `json:"parameters"`
	} `json:"function"`
}

type boundTool struct {
	server  string
	tool    *mcp.Tool
	handler ToolHandler // non-nil for internal tools
}

// Bridge is one user's live connection set. Tool names are unique within a
// bridge; the first server to export a name keeps it, later exporters are
// registered under "{server}_{name}".
type Bridge struct {
	userID  string
	logger  *slog.Logger
	clients map[string]*mcp.Client

	mu        sync.RWMutex
	tools     map[string]*boundTool
	toolOrder []string
	closed    bool
}

// connectClient builds an mcp client; overridable in tests.
var connectClient = func(ctx context.Context, cfg *mcp.ServerConfig, logger *slog.Logger) (*mcp.Client, error) {
	client := mcp.NewClient(cfg, logger)
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

// Connect builds a bridge by connecting to every server config in order.
// Individual connection failures are logged and skipped; the bridge is
// usable with whatever servers did connect.
func Connect(ctx context.Context, userID string, configs []*mcp.ServerConfig, logger *slog.Logger) (*Bridge, error) {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bridge{
		userID:  userID,
		logger:  logger.With("component", "bridge", "user_id", userID),
		clients: make(map[string]*mcp.Client),
		tools:   make(map[string]*boundTool),
	}

	for _, cfg := range configs {
		if cfg == nil {
			continue
		}
		client, err := connectClient(ctx, cfg, b.logger)
		if err != nil {
			b.logger.Warn("tool server connection failed, skipping",
				"server", cfg.ID,
				"error", err)
			continue
		}
		b.clients[cfg.ID] = client
		for _, tool := range client.Tools() {
			b.register(cfg.ID, tool, nil)
		}
	}

	return b, nil
}

// register binds a tool under the collision policy.
func (b *Bridge) register(server string, tool *mcp.Tool, handler ToolHandler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	name := tool.Name
	if _, taken := b.tools[name]; taken {
		name = server + "_" + tool.Name
		b.logger.Warn("tool name collision",
			"server", server,
			"tool", tool.Name,
			"registered_as", name)
		if _, stillTaken := b.tools[name]; stillTaken {
			return ""
		}
	}
	b.tools[name] = &boundTool{server: server, tool: tool, handler: handler}
	b.toolOrder = append(b.toolOrder, name)
	return name
}

// RegisterInternalTool adds an in-process tool under the _internal server.
func (b *Bridge) RegisterInternalTool(name, description string, inputSchema json.RawMessage, handler ToolHandler) string {
	if len(inputSchema) == 0 {
		inputSchema = json.RawMessage(`{"type":"object"}`)
	}
	return b.register(InternalServer, &mcp.Tool{
		Name:        name,
		Description: description,
		InputSchema: inputSchema,
	}, handler)
}

// ToolNames returns the registered tool names in registration order.
func (b *Bridge) ToolNames() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]string(nil), b.toolOrder...)
}

// Servers returns the ids of servers that connected, sorted.
func (b *Bridge) Servers() []string {
	ids := make([]string, 0, len(b.clients))
	for id := range b.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Client returns the connected client for a server id, if any.
func (b *Bridge) Client(serverID string) (*mcp.Client, bool) {
	client, ok := b.clients[serverID]
	return client, ok
}

// Definitions returns the catalog in {name, description, input_schema} form,
// restricted to the allowed server names. An empty allow-list means
// unrestricted; _internal always passes.
func (b *Bridge) Definitions(allowedServers []string) []ToolDefinition {
	b.mu.RLock()
	defer b.mu.RUnlock()

	allowed := allowSet(allowedServers)
	defs := make([]ToolDefinition, 0, len(b.toolOrder))
	for _, name := range b.toolOrder {
		bound := b.tools[name]
		if !serverAllowed(bound.server, allowed) {
			continue
		}
		schema := bound.tool.InputSchema
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object"}`)
		}
		defs = append(defs, ToolDefinition{
			Name:        name,
			Description: bound.tool.Description,
			InputSchema: schema,
		})
	}
	return defs
}

// FunctionDefinitions returns the catalog in the wrapped
// {type:"function", function:{...}} form, with the same filtering rules.
func (b *Bridge) FunctionDefinitions(allowedServers []string) []FunctionDefinition {
	defs := b.Definitions(allowedServers)
	out := make([]FunctionDefinition, len(defs))
	for i, def := range defs {
		out[i].Type = "function"
		out[i].Function.Name = def.Name
		out[i].Function.Description = def.Description
		out[i].Function.Parameters = def.InputSchema
	}
	return out
}

func allowSet(allowedServers []string) map[string]struct{} {
	if len(allowedServers) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(allowedServers))
	for _, server := range allowedServers {
		set[server] = struct{}{}
	}
	return set
}

func serverAllowed(server string, allowed map[string]struct{}) bool {
	if allowed == nil || server == InternalServer {
		return true
	}
	_, ok := allowed[server]
	return ok
}

// Call invokes a tool by registered name. Tool errors surface verbatim so
// the model can react to them.
func (b *Bridge) Call(ctx context.Context, name string, arguments map[string]any) (string, error) {
	b.mu.RLock()
	bound, ok := b.tools[name]
	closed := b.closed
	b.mu.RUnlock()

	if closed {
		return "", fmt.Errorf("bridge closed")
	}
	if !ok {
		return "", fmt.Errorf("tool %q not found; available: %s", name, strings.Join(b.ToolNames(), ", "))
	}

	if bound.handler != nil {
		return bound.handler(ctx, arguments)
	}

	client, connected := b.clients[bound.server]
	if !connected {
		return "", fmt.Errorf("server %q not connected", bound.server)
	}
	result, err := client.CallTool(ctx, bound.tool.Name, arguments)
	if err != nil {
		return "", err
	}
	return result.Text(), nil
}

// IsConnected reports whether the bridge is still fit to serve: not closed
// and every server that connected at build time still responding.
func (b *Bridge) IsConnected() bool {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return false
	}
	for _, client := range b.clients {
		if !client.Connected() {
			return false
		}
	}
	return true
}

// Close tears down all server connections. Safe to call more than once.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	for id, client := range b.clients {
		if err := client.Close(); err != nil {
			b.logger.Warn("failed to close tool server client",
				"server", id,
				"error", err)
		}
	}
	return nil
}
