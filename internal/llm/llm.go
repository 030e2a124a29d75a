// Package llm drives provider-backed chat loops for spawned agents. A
// ChatClient issues one completion; the Executor layers the tool-call loop
// and per-thread history on top and satisfies spawner.GraphExecutor.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/haasonsaas/steward/internal/bridge"
	"github.com/haasonsaas/steward/internal/spawner"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Supported providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

const defaultMaxTokens = 4096

// ToolCall is a provider-requested tool invocation.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// Message is one turn of a conversation in provider-neutral form. Tool
// results use RoleTool with ToolCallID set; assistant turns that requested
// tools carry them in ToolCalls.
type Message struct {
	Role       string
	Content    string
	ToolCallID string
	ToolCalls  []ToolCall
}

// Request is one completion request.
type Request struct {
	System    string
	Messages  []Message
	Tools     []bridge.ToolDefinition
	MaxTokens int
}

// Response is the provider's reply: final text, or tool calls to execute
// before the conversation can continue.
type Response struct {
	Text      string
	ToolCalls []ToolCall
}

// ChatClient issues a single completion against a provider.
type ChatClient interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
}

// Options select and configure a provider.
type Options struct {
	Provider     string
	Model        string
	AnthropicKey string
	OpenAIKey    string
	System       string
	MaxTokens    int
}

// NewChatClient builds the client for the configured provider.
func NewChatClient(opts Options) (ChatClient, error) {
	switch opts.Provider {
	case ProviderAnthropic:
		if opts.AnthropicKey == "" {
			return nil, fmt.Errorf("anthropic api key is not configured")
		}
		return NewAnthropicClient(opts.AnthropicKey, opts.Model), nil
	case ProviderOpenAI:
		if opts.OpenAIKey == "" {
			return nil, fmt.Errorf("openai api key is not configured")
		}
		return NewOpenAIClient(opts.OpenAIKey, opts.Model), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", opts.Provider)
	}
}

// NewExecutorFactory returns the factory the spawner uses to build one
// executor per run. Per-run provider and model overrides take precedence
// over the configured defaults.
func NewExecutorFactory(opts Options, logger *slog.Logger) spawner.ExecutorFactory {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "llm")

	return func(ctx context.Context, execOpts spawner.ExecutorOptions) (spawner.GraphExecutor, error) {
		merged := opts
		if execOpts.Provider != "" {
			merged.Provider = execOpts.Provider
		}
		if execOpts.Model != "" {
			merged.Model = execOpts.Model
		}
		// The resolved agent identity beats the configured default prompt.
		if execOpts.System != "" {
			merged.System = execOpts.System
		}
		client, err := NewChatClient(merged)
		if err != nil {
			return nil, err
		}
		return NewExecutor(client, execOpts.Bridge, merged.System, execOpts.AllowedServers, logger.With("user_id", execOpts.UserID)), nil
	}
}
