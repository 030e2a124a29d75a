package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/haasonsaas/steward/internal/bridge"
)

// maxToolRounds bounds tool-call round trips per message so a looping model
// cannot spin forever.
const maxToolRounds = 12

// Executor runs the tool-call loop for one user: each Chat call sends the
// thread history plus the new message, executes any requested tools through
// the bridge, and feeds the results back until the provider returns text.
// Thread history is held in memory for the executor's lifetime.
type Executor struct {
	client  ChatClient
	bridge  *bridge.Bridge
	system  string
	allowed []string
	logger  *slog.Logger

	mu        sync.Mutex
	histories map[string][]Message
}

// NewExecutor creates an executor over the client and the user's bridge. An
// empty allowedServers exposes the bridge's full catalog.
func NewExecutor(client ChatClient, br *bridge.Bridge, system string, allowedServers []string, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		client:    client,
		bridge:    br,
		system:    system,
		allowed:   allowedServers,
		logger:    logger,
		histories: make(map[string][]Message),
	}
}

// Chat processes one message on a thread and returns the final text reply.
func (e *Executor) Chat(ctx context.Context, message, threadID string) (string, error) {
	e.mu.Lock()
	messages := append(append([]Message(nil), e.histories[threadID]...), Message{
		Role:    RoleUser,
		Content: message,
	})
	e.mu.Unlock()

	var tools []bridge.ToolDefinition
	if e.bridge != nil {
		tools = e.bridge.Definitions(e.allowed)
	}

	for round := 0; round < maxToolRounds; round++ {
		resp, err := e.client.Complete(ctx, &Request{
			System:   e.system,
			Messages: messages,
			Tools:    tools,
		})
		if err != nil {
			return "", fmt.Errorf("completion: %w", err)
		}

		if len(resp.ToolCalls) == 0 {
			messages = append(messages, Message{Role: RoleAssistant, Content: resp.Text})
			e.mu.Lock()
			e.histories[threadID] = messages
			e.mu.Unlock()
			return resp.Text, nil
		}

		messages = append(messages, Message{
			Role:      RoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			messages = append(messages, e.execute(ctx, call))
		}
	}
	return "", fmt.Errorf("tool loop did not converge after %d rounds", maxToolRounds)
}

// execute runs one tool call through the bridge. Failures become tool-result
// messages so the model can recover instead of aborting the thread.
func (e *Executor) execute(ctx context.Context, call ToolCall) Message {
	result := Message{Role: RoleTool, ToolCallID: call.ID}
	if e.bridge == nil {
		result.Content = "Error: no tools are connected"
		return result
	}

	var args map[string]any
	if len(call.Arguments) > 0 {
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			e.logger.Warn("tool call has unparseable arguments", "tool", call.Name, "error", err)
			result.Content = fmt.Sprintf("Error: invalid arguments: %v", err)
			return result
		}
	}

	out, err := e.bridge.Call(ctx, call.Name, args)
	if err != nil {
		e.logger.Warn("tool call failed", "tool", call.Name, "error", err)
		result.Content = fmt.Sprintf("Error: %v", err)
		return result
	}
	result.Content = out
	return result
}

// Forget drops the in-memory history of a thread.
func (e *Executor) Forget(threadID string) {
	e.mu.Lock()
	delete(e.histories, threadID)
	e.mu.Unlock()
}
