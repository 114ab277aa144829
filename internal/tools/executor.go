package tools

import (
	"context"

	"github.com/meghx-ai/meghx/internal/llm"
)

// Executor dispatches a tool call to its backing implementation and returns
// the raw result payload. Implementations live outside the core (MCP
// clients, HTTP integrations); the engine only consumes this interface.
type Executor interface {
	Execute(ctx context.Context, call llm.ToolCall) (llm.ToolResult, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, call llm.ToolCall) (llm.ToolResult, error)

func (f ExecutorFunc) Execute(ctx context.Context, call llm.ToolCall) (llm.ToolResult, error) {
	return f(ctx, call)
}
