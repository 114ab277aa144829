package chat

import "github.com/meghx-ai/meghx/internal/llm"

// historyKeepRecent is the number of trailing messages pruning always keeps
// intact regardless of the limit.
const historyKeepRecent = 2

// PruneHistory bounds a conversation to at most limit messages by dropping
// the oldest entries. The most recent two messages always survive, even when
// the limit is smaller.
func PruneHistory(messages []llm.Message, limit int) []llm.Message {
	if limit < historyKeepRecent {
		limit = historyKeepRecent
	}
	if len(messages) <= limit {
		return messages
	}
	return messages[len(messages)-limit:]
}

// CloneMessages deep-copies a message slice so detached background work can
// never race the foreground turn. Tool calls and results are copied, not
// shared.
func CloneMessages(messages []llm.Message) []llm.Message {
	out := make([]llm.Message, len(messages))
	for i, m := range messages {
		out[i] = m
		if len(m.ToolCalls) > 0 {
			calls := make([]llm.ToolCall, len(m.ToolCalls))
			for j, c := range m.ToolCalls {
				calls[j] = c
				calls[j].Args = append([]byte(nil), c.Args...)
			}
			out[i].ToolCalls = calls
		}
		if m.ToolResult != nil {
			result := *m.ToolResult
			out[i].ToolResult = &result
		}
	}
	return out
}
