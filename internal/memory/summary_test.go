package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meghx-ai/meghx/internal/llm"
)

type scriptedProvider struct {
	replies []string
	calls   int
	err     error
	lastReq llm.Request
}

func (p *scriptedProvider) Invoke(_ context.Context, req llm.Request) (llm.Message, error) {
	p.lastReq = req
	if p.err != nil {
		return llm.Message{}, p.err
	}
	reply := p.replies[p.calls%len(p.replies)]
	p.calls++
	return llm.AssistantMessage(reply), nil
}

func (p *scriptedProvider) Stream(_ context.Context, _ llm.Request) (<-chan llm.StreamEvent, error) {
	return nil, errors.New("not streamed in tests")
}

func setupSummarizer(t *testing.T, provider llm.Provider) (*Summarizer, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewSummarizer(client, provider), client
}

func turnMessages(n int) []llm.Message {
	msgs := make([]llm.Message, 0, n)
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			msgs = append(msgs, llm.UserMessage("user line"))
		} else {
			msgs = append(msgs, llm.AssistantMessage("assistant line"))
		}
	}
	return msgs
}

func TestSummarizer_ColdStartFullSummary(t *testing.T) {
	provider := &scriptedProvider{replies: []string{"- discussed travel plans"}}
	s, client := setupSummarizer(t, provider)
	ctx := context.Background()

	got, err := s.Update(ctx, 1, "t-1", turnMessages(4))
	require.NoError(t, err)
	assert.Equal(t, "- discussed travel plans", got)

	// cache carries the anchor
	raw, err := client.Get(ctx, summaryKey(1, "t-1")).Result()
	require.NoError(t, err)
	assert.Equal(t, "::4\n- discussed travel plans", raw)
}

func TestSummarizer_DeltaOnlyCoversNewMessages(t *testing.T) {
	provider := &scriptedProvider{replies: []string{"- old summary\n- new item"}}
	s, client := setupSummarizer(t, provider)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, summaryKey(1, "t-1"), "::4\n- old summary", 0).Err())

	got, err := s.Update(ctx, 1, "t-1", turnMessages(6))
	require.NoError(t, err)
	assert.Equal(t, "- old summary\n- new item", got)

	// the delta prompt carried the prior summary, and only 2 new lines
	assert.Contains(t, provider.lastReq.System, "- old summary")
	assert.Equal(t, 1, provider.calls)

	raw, err := client.Get(ctx, summaryKey(1, "t-1")).Result()
	require.NoError(t, err)
	assert.Equal(t, "::6\n- old summary\n- new item", raw)
}

func TestSummarizer_NoNewMessagesReturnsCache(t *testing.T) {
	provider := &scriptedProvider{replies: []string{"should not be called"}}
	s, client := setupSummarizer(t, provider)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, summaryKey(1, "t-1"), "::4\n- settled summary", 0).Err())

	got, err := s.Update(ctx, 1, "t-1", turnMessages(4))
	require.NoError(t, err)
	assert.Equal(t, "- settled summary", got)
	assert.Zero(t, provider.calls)
}

func TestSummarizer_CorruptAnchorFallsBackToFull(t *testing.T) {
	provider := &scriptedProvider{replies: []string{"- rebuilt from scratch"}}
	s, client := setupSummarizer(t, provider)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, summaryKey(1, "t-1"), "no anchor here", 0).Err())

	got, err := s.Update(ctx, 1, "t-1", turnMessages(4))
	require.NoError(t, err)
	assert.Equal(t, "- rebuilt from scratch", got)

	raw, err := client.Get(ctx, summaryKey(1, "t-1")).Result()
	require.NoError(t, err)
	assert.Equal(t, "::4\n- rebuilt from scratch", raw)
}

func TestSummarizer_AnchorBeyondHistoryFallsBackToFull(t *testing.T) {
	provider := &scriptedProvider{replies: []string{"- rebuilt"}}
	s, client := setupSummarizer(t, provider)
	ctx := context.Background()

	// anchor claims more messages than we have (thread was truncated)
	require.NoError(t, client.Set(ctx, summaryKey(1, "t-1"), "::99\n- stale", 0).Err())

	got, err := s.Update(ctx, 1, "t-1", turnMessages(4))
	require.NoError(t, err)
	assert.Equal(t, "- rebuilt", got)
}

func TestSummarizer_ModelFailureKeepsPreviousSummary(t *testing.T) {
	provider := &scriptedProvider{err: errors.New("model down")}
	s, client := setupSummarizer(t, provider)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, summaryKey(1, "t-1"), "::4\n- still good", 0).Err())

	got, err := s.Update(ctx, 1, "t-1", turnMessages(6))
	require.NoError(t, err)
	assert.Equal(t, "- still good", got)

	raw, err := client.Get(ctx, summaryKey(1, "t-1")).Result()
	require.NoError(t, err)
	assert.Equal(t, "::4\n- still good", raw)
}

func TestSummarizer_CachedReturnsBodyWithoutAnchor(t *testing.T) {
	s, client := setupSummarizer(t, &scriptedProvider{replies: []string{""}})
	ctx := context.Background()

	got, err := s.Cached(ctx, 1, "t-1")
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, client.Set(ctx, summaryKey(1, "t-1"), "::4\n- body", 0).Err())
	got, err = s.Cached(ctx, 1, "t-1")
	require.NoError(t, err)
	assert.Equal(t, "- body", got)
}

func TestParseAnchor(t *testing.T) {
	n, body, ok := parseAnchor("::12\nhello")
	assert.True(t, ok)
	assert.Equal(t, 12, n)
	assert.Equal(t, "hello", body)

	_, _, ok = parseAnchor("plain text")
	assert.False(t, ok)

	_, _, ok = parseAnchor("::abc\nhello")
	assert.False(t, ok)
}
