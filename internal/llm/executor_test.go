package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"testing"

	"github.com/haasonsaas/steward/internal/bridge"
	"github.com/haasonsaas/steward/internal/spawner"
)

type stubClient struct {
	requests  []*Request
	responses []*Response
	err       error
}

func (c *stubClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	copied := *req
	copied.Messages = append([]Message(nil), req.Messages...)
	c.requests = append(c.requests, &copied)
	if c.err != nil {
		return nil, c.err
	}
	if len(c.responses) == 0 {
		return &Response{Text: "done"}, nil
	}
	resp := c.responses[0]
	c.responses = c.responses[1:]
	return resp, nil
}

func testBridge(t *testing.T) *bridge.Bridge {
	t.Helper()
	br, err := bridge.Connect(context.Background(), "alice", nil, slog.Default())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { br.Close() })
	return br
}

func TestChatReturnsTextWithoutTools(t *testing.T) {
	client := &stubClient{responses: []*Response{{Text: "hello"}}}
	exec := NewExecutor(client, testBridge(t), "be helpful", nil, nil)

	out, err := exec.Chat(context.Background(), "hi", "thread-1")
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if out != "hello" {
		t.Errorf("out = %q", out)
	}
	if len(client.requests) != 1 {
		t.Fatalf("requests = %d", len(client.requests))
	}
	req := client.requests[0]
	if req.System != "be helpful" {
		t.Errorf("system = %q", req.System)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != RoleUser || req.Messages[0].Content != "hi" {
		t.Errorf("messages = %+v", req.Messages)
	}
}

func TestChatExecutesToolLoop(t *testing.T) {
	br := testBridge(t)
	var gotArgs map[string]any
	toolName := br.RegisterInternalTool("lookup", "Looks things up", nil, func(ctx context.Context, args map[string]any) (string, error) {
		gotArgs = args
		return "42", nil
	})

	client := &stubClient{responses: []*Response{
		{ToolCalls: []ToolCall{{ID: "call-1", Name: toolName, Arguments: json.RawMessage(`{"q":"meaning"}`)}}},
		{Text: "the answer is 42"},
	}}
	exec := NewExecutor(client, br, "", nil, nil)

	out, err := exec.Chat(context.Background(), "what is the meaning?", "thread-1")
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if out != "the answer is 42" {
		t.Errorf("out = %q", out)
	}
	if gotArgs["q"] != "meaning" {
		t.Errorf("tool args = %v", gotArgs)
	}

	if len(client.requests) != 2 {
		t.Fatalf("requests = %d", len(client.requests))
	}
	second := client.requests[1].Messages
	if len(second) != 3 {
		t.Fatalf("second request messages = %d", len(second))
	}
	if second[1].Role != RoleAssistant || len(second[1].ToolCalls) != 1 {
		t.Errorf("assistant turn = %+v", second[1])
	}
	if second[2].Role != RoleTool || second[2].ToolCallID != "call-1" || second[2].Content != "42" {
		t.Errorf("tool result turn = %+v", second[2])
	}
	if len(client.requests[0].Tools) == 0 {
		t.Error("tool definitions not sent to provider")
	}
}

func TestChatToolFailureFeedsErrorBack(t *testing.T) {
	br := testBridge(t)
	toolName := br.RegisterInternalTool("flaky", "Fails", nil, func(ctx context.Context, args map[string]any) (string, error) {
		return "", fmt.Errorf("upstream down")
	})

	client := &stubClient{responses: []*Response{
		{ToolCalls: []ToolCall{{ID: "call-1", Name: toolName}}},
		{Text: "could not look that up"},
	}}
	exec := NewExecutor(client, br, "", nil, nil)

	out, err := exec.Chat(context.Background(), "try it", "thread-1")
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if out != "could not look that up" {
		t.Errorf("out = %q", out)
	}
	result := client.requests[1].Messages[2]
	if result.Role != RoleTool || result.Content == "" {
		t.Fatalf("tool result = %+v", result)
	}
	if result.Content[:6] != "Error:" {
		t.Errorf("tool result content = %q", result.Content)
	}
}

func TestChatKeepsThreadHistory(t *testing.T) {
	client := &stubClient{responses: []*Response{{Text: "first"}, {Text: "second"}}}
	exec := NewExecutor(client, testBridge(t), "", nil, nil)

	if _, err := exec.Chat(context.Background(), "one", "thread-1"); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if _, err := exec.Chat(context.Background(), "two", "thread-1"); err != nil {
		t.Fatalf("Chat: %v", err)
	}

	second := client.requests[1].Messages
	if len(second) != 3 {
		t.Fatalf("second request messages = %d", len(second))
	}
	if second[0].Content != "one" || second[1].Content != "first" || second[2].Content != "two" {
		t.Errorf("history = %+v", second)
	}

	exec.Forget("thread-1")
	if _, err := exec.Chat(context.Background(), "three", "thread-1"); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	third := client.requests[2].Messages
	if len(third) != 1 {
		t.Errorf("history survived Forget: %+v", third)
	}
}

func TestChatLoopBound(t *testing.T) {
	br := testBridge(t)
	toolName := br.RegisterInternalTool("echo", "Echoes", nil, func(ctx context.Context, args map[string]any) (string, error) {
		return "ok", nil
	})

	// Provider that never stops asking for tools.
	client := &stubClient{}
	for i := 0; i < maxToolRounds+1; i++ {
		client.responses = append(client.responses, &Response{
			ToolCalls: []ToolCall{{ID: fmt.Sprintf("call-%d", i), Name: toolName}},
		})
	}
	exec := NewExecutor(client, br, "", nil, nil)

	if _, err := exec.Chat(context.Background(), "go", "thread-1"); err == nil {
		t.Fatal("expected loop bound error")
	}
}

func TestNewChatClient(t *testing.T) {
	if _, err := NewChatClient(Options{Provider: ProviderAnthropic}); err == nil {
		t.Error("expected error for missing anthropic key")
	}
	if _, err := NewChatClient(Options{Provider: ProviderOpenAI}); err == nil {
		t.Error("expected error for missing openai key")
	}
	if _, err := NewChatClient(Options{Provider: "llama"}); err == nil {
		t.Error("expected error for unknown provider")
	}
	if c, err := NewChatClient(Options{Provider: ProviderAnthropic, AnthropicKey: "k", Model: "m"}); err != nil || c == nil {
		t.Errorf("anthropic client: %v", err)
	}
	if c, err := NewChatClient(Options{Provider: ProviderOpenAI, OpenAIKey: "k", Model: "m"}); err != nil || c == nil {
		t.Errorf("openai client: %v", err)
	}
}

func TestExecutorFactoryOverrides(t *testing.T) {
	factory := NewExecutorFactory(Options{
		Provider:     ProviderAnthropic,
		Model:        "claude",
		AnthropicKey: "ak",
		OpenAIKey:    "ok",
	}, nil)

	exec, err := factory(context.Background(), spawner.ExecutorOptions{UserID: "alice", Bridge: testBridge(t)})
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	if _, ok := exec.(*Executor).client.(*AnthropicClient); !ok {
		t.Errorf("default provider client = %T", exec.(*Executor).client)
	}

	exec, err = factory(context.Background(), spawner.ExecutorOptions{
		UserID:   "alice",
		Provider: ProviderOpenAI,
		Model:    "gpt",
		Bridge:   testBridge(t),
	})
	if err != nil {
		t.Fatalf("factory with override: %v", err)
	}
	if _, ok := exec.(*Executor).client.(*OpenAIClient); !ok {
		t.Errorf("override provider client = %T", exec.(*Executor).client)
	}
}

func TestExecutorFactoryCarriesAgentContext(t *testing.T) {
	factory := NewExecutorFactory(Options{
		Provider:     ProviderAnthropic,
		AnthropicKey: "ak",
		System:       "generic assistant",
	}, nil)

	exec, err := factory(context.Background(), spawner.ExecutorOptions{
		UserID:         "alice",
		Bridge:         testBridge(t),
		System:         "You are the fitness coach.",
		AllowedServers: []string{"google-workspace"},
	})
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	e := exec.(*Executor)
	if e.system != "You are the fitness coach." {
		t.Errorf("system = %q, want the resolved agent identity", e.system)
	}
	if len(e.allowed) != 1 || e.allowed[0] != "google-workspace" {
		t.Errorf("allowed = %v", e.allowed)
	}

	// Without a resolved identity the configured default prompt stands.
	exec, err = factory(context.Background(), spawner.ExecutorOptions{UserID: "alice", Bridge: testBridge(t)})
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	if got := exec.(*Executor).system; got != "generic assistant" {
		t.Errorf("system = %q, want configured default", got)
	}
}

func TestChatSendsAllowListedTools(t *testing.T) {
	br := testBridge(t)
	br.RegisterInternalTool("remember", "Stores a note", nil, func(ctx context.Context, args map[string]any) (string, error) {
		return "ok", nil
	})

	client := &stubClient{responses: []*Response{{Text: "noted"}}}
	exec := NewExecutor(client, br, "", []string{"google-workspace"}, nil)

	if _, err := exec.Chat(context.Background(), "note this", "thread-1"); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	// Internal tools ride along regardless of the server allow-list.
	tools := client.requests[0].Tools
	if len(tools) != 1 || tools[0].Name != "remember" {
		t.Errorf("tools = %+v", tools)
	}
}
