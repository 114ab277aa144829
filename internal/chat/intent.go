package chat

import (
	"github.com/meghx-ai/meghx/internal/expense"
	"github.com/meghx-ai/meghx/internal/llm"
)

// Intent is the routed branch for a turn.
type Intent string

const (
	IntentRAG       Intent = "rag"
	IntentExpense   Intent = "expense"
	IntentOtherTool Intent = "other_tool"
	IntentChat      Intent = "chat"
)

// RAGToolName is the reserved name of the document retrieval tool. Its
// presence routes the turn to retrieval regardless of other proposed tools.
const RAGToolName = "rag_tool"

// ClassifyIntent routes a turn from the tool calls the model proposed. It is
// deterministic and side-effect free: retrieval wins over everything, then
// financial-record tools (the matching name becomes the workflow action),
// then any other tool, then plain chat.
func ClassifyIntent(msg llm.Message) (Intent, expense.Action) {
	if !msg.HasToolCalls() {
		return IntentChat, ""
	}

	for _, call := range msg.ToolCalls {
		if call.Name == RAGToolName {
			return IntentRAG, ""
		}
	}
	for _, call := range msg.ToolCalls {
		if expense.IsExpenseTool(call.Name) {
			return IntentExpense, expense.ParseAction(call.Name)
		}
	}
	return IntentOtherTool, ""
}

// toolCallNamed returns the first proposed call with the given name.
func toolCallNamed(msg llm.Message, name string) *llm.ToolCall {
	for i := range msg.ToolCalls {
		if msg.ToolCalls[i].Name == name {
			return &msg.ToolCalls[i]
		}
	}
	return nil
}
