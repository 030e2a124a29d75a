package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/haasonsaas/steward/internal/mcp"
	"github.com/haasonsaas/steward/internal/vault"
)

// fakeTransport serves the handshake and a fixed tool catalog in memory.
type fakeTransport struct {
	tools     []*mcp.Tool
	connected bool
	calls     []string
}

func (t *fakeTransport) Connect(ctx context.Context) error {
	t.connected = true
	return nil
}

func (t *fakeTransport) Close() error {
	t.connected = false
	return nil
}

func (t *fakeTransport) Connected() bool { return t.connected }

func (t *fakeTransport) Notify(ctx context.Context, method string, params any) error {
	return nil
}

func (t *fakeTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	switch method {
	case "initialize":
		return json.Marshal(mcp.InitializeResult{
			ProtocolVersion: "2024-11-05",
			ServerInfo:      mcp.ServerInfo{Name: "fake", Version: "0.0.1"},
		})
	case "tools/list":
		return json.Marshal(mcp.ListToolsResult{Tools: t.tools})
	case "tools/call":
		raw, _ := json.Marshal(params)
		var call mcp.CallToolParams
		if err := json.Unmarshal(raw, &call); err != nil {
			return nil, err
		}
		t.calls = append(t.calls, call.Name)
		return json.Marshal(mcp.ToolCallResult{
			Content: []mcp.ToolResultContent{{Type: "text", Text: "ran " + call.Name}},
		})
	default:
		return nil, fmt.Errorf("unexpected method %s", method)
	}
}

func tool(name string) *mcp.Tool {
	return &mcp.Tool{
		Name:        name,
		Description: name + " tool",
		InputSchema: json.RawMessage(`{"type":"object"}`),
	}
}

// stubConnections reroutes bridge construction to fake transports for the
// duration of one test. Tests that use it cannot run in parallel.
func stubConnections(t *testing.T, transports map[string]*fakeTransport, seen map[string]*mcp.ServerConfig) {
	t.Helper()
	orig := connectClient
	connectClient = func(ctx context.Context, cfg *mcp.ServerConfig, logger *slog.Logger) (*mcp.Client, error) {
		if seen != nil {
			seen[cfg.ID] = cfg
		}
		ft, ok := transports[cfg.ID]
		if !ok {
			return nil, fmt.Errorf("connection refused")
		}
		client := mcp.NewClientWithTransport(cfg, ft, logger)
		if err := client.Connect(ctx); err != nil {
			return nil, err
		}
		return client, nil
	}
	t.Cleanup(func() { connectClient = orig })
}

type credStub map[string][]byte // keyed by userID + "/" + service

func (c credStub) Get(ctx context.Context, userID, service string) (*vault.Secret, error) {
	data, ok := c[userID+"/"+service]
	if !ok {
		return nil, nil
	}
	return &vault.Secret{Service: service, Data: data}, nil
}

func httpServer(id string) *mcp.ServerConfig {
	return &mcp.ServerConfig{ID: id, Transport: mcp.TransportHTTP, URL: "http://localhost/" + id}
}

func TestCredentialHeaderInjection(t *testing.T) {
	ctx := context.Background()
	seen := map[string]*mcp.ServerConfig{}
	stubConnections(t, map[string]*fakeTransport{
		"google-workspace": {tools: []*mcp.Tool{tool("list_events")}},
		"weather":          {tools: []*mcp.Tool{tool("forecast")}},
	}, seen)

	base := []*mcp.ServerConfig{httpServer("google-workspace"), httpServer("weather")}
	m := NewManager(base,
		map[string]Binding{"google-workspace": {Service: "google", Header: "Authorization"}},
		credStub{"alice/google": []byte(`{"access_token":"TA"}`)},
		nil)

	b, err := m.GetBridge(ctx, "alice")
	if err != nil {
		t.Fatalf("GetBridge: %v", err)
	}

	if got := seen["google-workspace"].Headers["Authorization"]; got != "Bearer TA" {
		t.Errorf("Authorization = %q, want %q", got, "Bearer TA")
	}
	if len(seen["weather"].Headers) != 0 {
		t.Errorf("unbound server grew headers: %v", seen["weather"].Headers)
	}
	if len(base[0].Headers) != 0 {
		t.Error("base config was mutated")
	}
	if servers := b.Servers(); len(servers) != 2 {
		t.Errorf("servers = %v", servers)
	}
}

func TestMissingCredentialFallsBackToOperator(t *testing.T) {
	ctx := context.Background()
	seen := map[string]*mcp.ServerConfig{}
	stubConnections(t, map[string]*fakeTransport{
		"google-workspace": {tools: []*mcp.Tool{tool("list_events")}},
		"weather":          {tools: []*mcp.Tool{tool("forecast")}},
	}, seen)

	m := NewManager(
		[]*mcp.ServerConfig{httpServer("google-workspace"), httpServer("weather")},
		map[string]Binding{"google-workspace": {Service: "google", Header: "Authorization"}},
		credStub{}, // alice has no google credential
		nil)

	b, err := m.GetBridge(ctx, "alice")
	if err != nil {
		t.Fatalf("GetBridge: %v", err)
	}
	// The bound server still connects with its operator-level configuration.
	if servers := b.Servers(); len(servers) != 2 {
		t.Errorf("servers = %v, want both", servers)
	}
	if len(seen["google-workspace"].Headers) != 0 {
		t.Errorf("operator config grew headers: %v", seen["google-workspace"].Headers)
	}
}

func TestUnusableCredentialFallsBackToOperator(t *testing.T) {
	ctx := context.Background()
	seen := map[string]*mcp.ServerConfig{}
	stubConnections(t, map[string]*fakeTransport{
		"google-workspace": {tools: []*mcp.Tool{tool("list_events")}},
	}, seen)

	m := NewManager(
		[]*mcp.ServerConfig{httpServer("google-workspace")},
		map[string]Binding{"google-workspace": {Service: "google", Header: "Authorization"}},
		credStub{"alice/google": []byte(`{"refresh_token":"TR"}`)}, // no access_token
		nil)

	b, err := m.GetBridge(ctx, "alice")
	if err != nil {
		t.Fatalf("GetBridge: %v", err)
	}
	if servers := b.Servers(); len(servers) != 1 || servers[0] != "google-workspace" {
		t.Errorf("servers = %v, want [google-workspace]", servers)
	}
	if len(seen["google-workspace"].Headers) != 0 {
		t.Errorf("operator config grew headers: %v", seen["google-workspace"].Headers)
	}
}

func TestConnectionFailureSkipsServer(t *testing.T) {
	ctx := context.Background()
	stubConnections(t, map[string]*fakeTransport{
		"weather": {tools: []*mcp.Tool{tool("forecast")}},
	}, nil)

	b, err := Connect(ctx, "alice",
		[]*mcp.ServerConfig{httpServer("down"), httpServer("weather")}, nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if servers := b.Servers(); len(servers) != 1 || servers[0] != "weather" {
		t.Errorf("servers = %v, want [weather]", servers)
	}
	if names := b.ToolNames(); len(names) != 1 || names[0] != "forecast" {
		t.Errorf("tools = %v", names)
	}
}

func TestToolNameCollision(t *testing.T) {
	ctx := context.Background()
	stubConnections(t, map[string]*fakeTransport{
		"srv1": {tools: []*mcp.Tool{tool("search")}},
		"srv2": {tools: []*mcp.Tool{tool("search"), tool("fetch")}},
	}, nil)

	// Order matters for first-wins; pass srv1 first.
	b, err := Connect(ctx, "alice",
		[]*mcp.ServerConfig{httpServer("srv1"), httpServer("srv2")}, nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	names := b.ToolNames()
	want := []string{"search", "srv2_search", "fetch"}
	if len(names) != len(want) {
		t.Fatalf("tools = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("tools[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestDefinitionsAllowList(t *testing.T) {
	ctx := context.Background()
	stubConnections(t, map[string]*fakeTransport{
		"srv1": {tools: []*mcp.Tool{tool("search")}},
		"srv2": {tools: []*mcp.Tool{tool("fetch")}},
	}, nil)

	b, err := Connect(ctx, "alice",
		[]*mcp.ServerConfig{httpServer("srv1"), httpServer("srv2")}, nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	b.RegisterInternalTool("remember", "store a note", nil, func(ctx context.Context, args map[string]any) (string, error) {
		return "ok", nil
	})

	// Empty allow-list: everything.
	if defs := b.Definitions(nil); len(defs) != 3 {
		t.Errorf("unrestricted defs = %d, want 3", len(defs))
	}

	// Restricted to srv1: srv1 tools plus internal.
	defs := b.Definitions([]string{"srv1"})
	var names []string
	for _, def := range defs {
		names = append(names, def.Name)
	}
	if len(names) != 2 || names[0] != "search" || names[1] != "remember" {
		t.Errorf("restricted defs = %v, want [search remember]", names)
	}
}

func TestFunctionDefinitionsShape(t *testing.T) {
	ctx := context.Background()
	stubConnections(t, map[string]*fakeTransport{
		"srv1": {tools: []*mcp.Tool{tool("search")}},
	}, nil)

	b, err := Connect(ctx, "alice", []*mcp.ServerConfig{httpServer("srv1")}, nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defs := b.FunctionDefinitions(nil)
	if len(defs) != 1 {
		t.Fatalf("defs = %d, want 1", len(defs))
	}
	payload, err := json.Marshal(defs[0])
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, fragment := range []string{`"type":"function"`, `"name":"search"`, `"parameters":{"type":"object"}`} {
		if !strings.Contains(string(payload), fragment) {
			t.Errorf("payload %s missing %s", payload, fragment)
		}
	}
}

func TestCallRoutesToServer(t *testing.T) {
	ctx := context.Background()
	srv2 := &fakeTransport{tools: []*mcp.Tool{tool("search")}}
	stubConnections(t, map[string]*fakeTransport{
		"srv1": {tools: []*mcp.Tool{tool("search")}},
		"srv2": srv2,
	}, nil)

	b, err := Connect(ctx, "alice",
		[]*mcp.ServerConfig{httpServer("srv1"), httpServer("srv2")}, nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	// The prefixed name must route to srv2 under the original tool name.
	out, err := b.Call(ctx, "srv2_search", map[string]any{"q": "go"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if out != "ran search" {
		t.Errorf("result = %q", out)
	}
	if len(srv2.calls) != 1 || srv2.calls[0] != "search" {
		t.Errorf("srv2 calls = %v", srv2.calls)
	}

	if _, err := b.Call(ctx, "no_such_tool", nil); err == nil {
		t.Error("expected error for unknown tool")
	}
}

func TestInternalToolCall(t *testing.T) {
	ctx := context.Background()
	stubConnections(t, map[string]*fakeTransport{}, nil)

	b, err := Connect(ctx, "alice", nil, nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	b.RegisterInternalTool("echo", "echo the input", nil, func(ctx context.Context, args map[string]any) (string, error) {
		return fmt.Sprintf("%v", args["text"]), nil
	})

	out, err := b.Call(ctx, "echo", map[string]any{"text": "hi"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if out != "hi" {
		t.Errorf("result = %q", out)
	}
}

func TestManagerRebuildsStaleBridge(t *testing.T) {
	ctx := context.Background()
	ft := &fakeTransport{tools: []*mcp.Tool{tool("forecast")}}
	stubConnections(t, map[string]*fakeTransport{"weather": ft}, nil)

	m := NewManager([]*mcp.ServerConfig{httpServer("weather")}, nil, credStub{}, nil)

	first, err := m.GetBridge(ctx, "alice")
	if err != nil {
		t.Fatalf("GetBridge: %v", err)
	}
	again, err := m.GetBridge(ctx, "alice")
	if err != nil {
		t.Fatalf("GetBridge: %v", err)
	}
	if first != again {
		t.Error("healthy bridge should be served from cache")
	}

	// Simulate the server dropping the connection.
	ft.connected = false
	rebuilt, err := m.GetBridge(ctx, "alice")
	if err != nil {
		t.Fatalf("GetBridge after drop: %v", err)
	}
	if rebuilt == first {
		t.Error("stale bridge was not rebuilt")
	}
	if !rebuilt.IsConnected() {
		t.Error("rebuilt bridge should be connected")
	}
}

func TestManagerInvalidate(t *testing.T) {
	ctx := context.Background()
	ft := &fakeTransport{tools: []*mcp.Tool{tool("forecast")}}
	stubConnections(t, map[string]*fakeTransport{"weather": ft}, nil)

	m := NewManager([]*mcp.ServerConfig{httpServer("weather")}, nil, credStub{}, nil)
	first, err := m.GetBridge(ctx, "alice")
	if err != nil {
		t.Fatalf("GetBridge: %v", err)
	}
	m.Invalidate("alice")
	if first.IsConnected() {
		t.Error("invalidated bridge should be closed")
	}

	second, err := m.GetBridge(ctx, "alice")
	if err != nil {
		t.Fatalf("GetBridge: %v", err)
	}
	if second == first {
		t.Error("invalidate should force a rebuild")
	}
}

func TestFormatHeaderValue(t *testing.T) {
	cases := []struct {
		service string
		data    string
		want    string
		wantErr bool
	}{
		{"google", `{"access_token":"TA","refresh_token":"TR"}`, "Bearer TA", false},
		{"google", `{"refresh_token":"TR"}`, "", true},
		{"garmin", `{"oauth_token":"x","oauth_secret":"y"}`, `{"oauth_token":"x","oauth_secret":"y"}`, false},
		{"splitwise", `{"api_key":"SK"}`, "SK", false},
		{"custom", `{"api_key":"CK"}`, "CK", false},
		{"custom", `{"token":"CT"}`, "CT", false},
		{"custom", `raw-key`, "raw-key", false},
	}
	for _, tc := range cases {
		got, err := formatHeaderValue(tc.service, []byte(tc.data))
		if tc.wantErr {
			if err == nil {
				t.Errorf("%s %s: expected error", tc.service, tc.data)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: %v", tc.service, err)
			continue
		}
		if got != tc.want {
			t.Errorf("%s: value = %q, want %q", tc.service, got, tc.want)
		}
	}
}
