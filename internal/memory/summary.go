package memory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/meghx-ai/meghx/internal/llm"
)

const fullSummaryPrompt = "Below is an entire conversation. " +
	"Produce a concise, chronological summary (3-5 bullet points) that captures " +
	"key facts, preferences, and unfinished business. Keep it under 200 tokens."

const deltaSummaryPrompt = "You already have a summary of the conversation so far:\n\n%s\n\n" +
	"Below are the NEW messages that happened after that summary. " +
	"Produce a short bullet list (1-3 items) that captures only the new facts, " +
	"preferences, or unfinished business and append them to the existing summary. " +
	"Keep the whole thing under 200 tokens."

// Summarizer maintains an incremental rolling summary per thread. The cached
// blob starts with an anchor line "::N" recording how many messages the
// summary covers, so subsequent runs only summarize the delta.
type Summarizer struct {
	client   *redis.Client
	provider llm.Provider
}

// NewSummarizer creates a rolling summary maintainer.
func NewSummarizer(client *redis.Client, provider llm.Provider) *Summarizer {
	return &Summarizer{client: client, provider: provider}
}

func summaryKey(userID int64, threadID string) string {
	return fmt.Sprintf("summary:%d:%s", userID, threadID)
}

// Cached returns the current summary body without the anchor line, or ""
// when none exists.
func (s *Summarizer) Cached(ctx context.Context, userID int64, threadID string) (string, error) {
	raw, err := s.client.Get(ctx, summaryKey(userID, threadID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get summary: %w", err)
	}
	_, body, ok := parseAnchor(raw)
	if !ok {
		return raw, nil
	}
	return body, nil
}

// Update refreshes the rolling summary for the thread. Cold start summarizes
// everything; otherwise only messages past the anchor are folded in. A
// corrupt anchor falls back to a full re-summarize, and a failed model call
// leaves the previous cache untouched.
func (s *Summarizer) Update(ctx context.Context, userID int64, threadID string, messages []llm.Message) (string, error) {
	key := summaryKey(userID, threadID)

	raw, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return s.full(ctx, key, messages)
	}
	if err != nil {
		return "", fmt.Errorf("get summary: %w", err)
	}

	covered, body, ok := parseAnchor(raw)
	if !ok || covered < 0 || covered > len(messages) {
		return s.full(ctx, key, messages)
	}

	newMsgs := messages[covered:]
	if len(newMsgs) == 0 {
		return body, nil
	}

	prompt := fmt.Sprintf(deltaSummaryPrompt, body)
	updated, err := s.summarize(ctx, prompt, newMsgs)
	if err != nil {
		return body, nil // graceful degrade: keep the previous summary
	}

	if err := s.store(ctx, key, len(messages), updated); err != nil {
		return updated, err
	}
	return updated, nil
}

func (s *Summarizer) full(ctx context.Context, key string, messages []llm.Message) (string, error) {
	summary, err := s.summarize(ctx, fullSummaryPrompt, messages)
	if err != nil {
		return "", fmt.Errorf("full summary: %w", err)
	}
	if summary == "" {
		return "", nil
	}
	if err := s.store(ctx, key, len(messages), summary); err != nil {
		return summary, err
	}
	return summary, nil
}

func (s *Summarizer) summarize(ctx context.Context, system string, messages []llm.Message) (string, error) {
	transcript := renderTranscript(messages)
	if transcript == "" {
		return "", nil
	}

	resp, err := s.provider.Invoke(ctx, llm.Request{
		System:   system,
		Messages: []llm.Message{llm.UserMessage(transcript)},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

func (s *Summarizer) store(ctx context.Context, key string, covered int, summary string) error {
	blob := fmt.Sprintf("::%d\n%s", covered, summary)
	if err := s.client.Set(ctx, key, blob, 0).Err(); err != nil {
		return fmt.Errorf("set summary: %w", err)
	}
	return nil
}

// parseAnchor splits a cached blob into its covered-message count and body.
func parseAnchor(raw string) (int, string, bool) {
	head, body, found := strings.Cut(raw, "\n")
	if !found || !strings.HasPrefix(head, "::") {
		return 0, "", false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(head, "::"))
	if err != nil {
		return 0, "", false
	}
	return n, body, true
}

func renderTranscript(messages []llm.Message) string {
	var b strings.Builder
	for _, m := range messages {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	return strings.TrimSpace(b.String())
}
