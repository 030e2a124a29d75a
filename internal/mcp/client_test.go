package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
)

type fakeTransport struct {
	connected bool
	calls     []string
	failCall  map[string]error
	tools     []*Tool
	toolText  map[string]string
	isError   map[string]bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		failCall: make(map[string]error),
		toolText: make(map[string]string),
		isError:  make(map[string]bool),
	}
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
	t.calls = append(t.calls, "notify:"+method)
	return nil
}

func (t *fakeTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	t.calls = append(t.calls, method)
	if err := t.failCall[method]; err != nil {
		return nil, err
	}
	switch method {
	case "initialize":
		return json.Marshal(InitializeResult{
			ProtocolVersion: protocolVersion,
			ServerInfo:      ServerInfo{Name: "calendar", Version: "2.1.0"},
		})
	case "tools/list":
		return json.Marshal(ListToolsResult{Tools: t.tools})
	case "tools/call":
		blob, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		var call CallToolParams
		if err := json.Unmarshal(blob, &call); err != nil {
			return nil, err
		}
		return json.Marshal(ToolCallResult{
			Content: []ToolResultContent{{Type: "text", Text: t.toolText[call.Name]}},
			IsError: t.isError[call.Name],
		})
	default:
		return nil, fmt.Errorf("unexpected method %s", method)
	}
}

func testServerConfig() *ServerConfig {
	return &ServerConfig{ID: "calendar", Name: "Calendar", Transport: TransportStdio, Command: "calendar-mcp"}
}

func TestConnectDiscoversTools(t *testing.T) {
	transport := newFakeTransport()
	transport.tools = []*Tool{
		{Name: "list_events", Description: "Lists events"},
		{Name: "create_event", Description: "Creates an event"},
	}

	client := NewClientWithTransport(testServerConfig(), transport, nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if !client.Connected() {
		t.Error("client not connected")
	}
	if info := client.ServerInfo(); info.Name != "calendar" || info.Version != "2.1.0" {
		t.Errorf("server info = %+v", info)
	}
	if tools := client.Tools(); len(tools) != 2 || tools[0].Name != "list_events" {
		t.Errorf("tools = %+v", tools)
	}

	want := []string{"initialize", "notify:notifications/initialized", "tools/list"}
	if len(transport.calls) != len(want) {
		t.Fatalf("calls = %v", transport.calls)
	}
	for i, method := range want {
		if transport.calls[i] != method {
			t.Errorf("call[%d] = %s, want %s", i, transport.calls[i], method)
		}
	}
}

func TestConnectInitializeFailureClosesTransport(t *testing.T) {
	transport := newFakeTransport()
	transport.failCall["initialize"] = fmt.Errorf("boom")

	client := NewClientWithTransport(testServerConfig(), transport, nil)
	if err := client.Connect(context.Background()); err == nil {
		t.Fatal("expected initialize error")
	}
	if transport.Connected() {
		t.Error("transport left open after failed handshake")
	}
}

func TestCallTool(t *testing.T) {
	transport := newFakeTransport()
	transport.toolText["list_events"] = "3 events today"

	client := NewClientWithTransport(testServerConfig(), transport, nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	result, err := client.CallTool(context.Background(), "list_events", map[string]any{"day": "today"})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if result.IsError {
		t.Error("unexpected error result")
	}
	if result.Text() != "3 events today" {
		t.Errorf("text = %q", result.Text())
	}
}

func TestRefreshToolsReplacesCatalog(t *testing.T) {
	transport := newFakeTransport()
	transport.tools = []*Tool{{Name: "old_tool"}}

	client := NewClientWithTransport(testServerConfig(), transport, nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	transport.tools = []*Tool{{Name: "new_tool"}}
	if err := client.RefreshTools(context.Background()); err != nil {
		t.Fatalf("RefreshTools: %v", err)
	}
	if tools := client.Tools(); len(tools) != 1 || tools[0].Name != "new_tool" {
		t.Errorf("tools = %+v", tools)
	}
}

func TestServerConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     ServerConfig
		wantErr bool
	}{
		{"stdio ok", ServerConfig{ID: "a", Transport: TransportStdio, Command: "bin"}, false},
		{"stdio missing command", ServerConfig{ID: "a", Transport: TransportStdio}, true},
		{"http ok", ServerConfig{ID: "a", Transport: TransportHTTP, URL: "http://localhost:9000"}, false},
		{"http missing url", ServerConfig{ID: "a", Transport: TransportHTTP}, true},
		{"missing id", ServerConfig{Transport: TransportStdio, Command: "bin"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestServerConfigCloneIsDeep(t *testing.T) {
	cfg := &ServerConfig{
		ID:        "a",
		Transport: TransportHTTP,
		URL:       "http://localhost:9000",
		Headers:   map[string]string{"Authorization": "Bearer x"},
		Env:       map[string]string{"KEY": "v"},
		Args:      []string{"--flag"},
	}
	clone := cfg.Clone()
	clone.Headers["Authorization"] = "Bearer y"
	clone.Env["KEY"] = "w"
	clone.Args[0] = "--other"

	if cfg.Headers["Authorization"] != "Bearer x" || cfg.Env["KEY"] != "v" || cfg.Args[0] != "--flag" {
		t.Errorf("clone shares state with original: %+v", cfg)
	}
}
