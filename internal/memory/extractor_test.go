package memory

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meghx-ai/meghx/internal/llm"
)

type fakeSemanticStore struct {
	saved []SemanticFact
}

func (s *fakeSemanticStore) Save(_ context.Context, fact SemanticFact) (bool, error) {
	s.saved = append(s.saved, fact)
	return false, nil
}

func (s *fakeSemanticStore) Query(_ context.Context, _ int64, _ string, _ int) ([]string, error) {
	out := make([]string, 0, len(s.saved))
	for _, f := range s.saved {
		out = append(out, f.Fact)
	}
	return out, nil
}

func (s *fakeSemanticStore) DecayOnce(_ context.Context, _ int) (int64, error) { return 0, nil }

type fakeProceduralStore struct {
	saved []Rule
}

func (s *fakeProceduralStore) SaveRules(_ context.Context, _ int64, rules []Rule) error {
	s.saved = append(s.saved, rules...)
	return nil
}

func (s *fakeProceduralStore) Rules(_ context.Context, _ int64) ([]string, error) {
	out := make([]string, 0, len(s.saved))
	for _, r := range s.saved {
		out = append(out, r.Rule)
	}
	return out, nil
}

type fakeSettingsStore struct {
	settings Settings
}

func (s *fakeSettingsStore) Get(_ context.Context, _ int64) (Settings, error) {
	return s.settings, nil
}

func newTestExtractor(t *testing.T, provider llm.Provider, settings Settings) (*Extractor, *fakeSemanticStore, *fakeProceduralStore, *EpisodicStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	episodic := NewEpisodicStore(client, 20, time.Hour, 500)
	semantic := &fakeSemanticStore{}
	procedural := &fakeProceduralStore{}
	ex := NewExtractor(provider, episodic, semantic, procedural,
		&fakeSettingsStore{settings: settings}, slog.Default(), 6, 0.8)
	return ex, semantic, procedural, episodic
}

const extractionReply = `{
  "episodic": [{"role": "user", "content": "asked about trains to Porto", "confidence": 0.9}],
  "semantic": [
    {"fact": "prefers window seats", "confidence": 0.95},
    {"fact": "maybe owns a dog", "confidence": 0.4}
  ],
  "procedural": [{"rule": "Always answer in bullet points", "confidence": 0.9}]
}`

func TestExtractor_SavesAboveThresholdOnly(t *testing.T) {
	provider := &scriptedProvider{replies: []string{extractionReply}}
	ex, semantic, procedural, episodic := newTestExtractor(t, provider, DefaultSettings(90))
	ctx := context.Background()

	counts, err := ex.Extract(ctx, 1, "t-1", []llm.Message{
		llm.UserMessage("i prefer window seats, always answer in bullet points"),
		llm.AssistantMessage("noted"),
	})
	require.NoError(t, err)
	assert.Equal(t, Counts{Episodic: 1, Semantic: 1, Procedural: 1}, counts)

	require.Len(t, semantic.saved, 1, "low-confidence fact dropped")
	assert.Equal(t, "prefers window seats", semantic.saved[0].Fact)
	assert.Equal(t, Fingerprint("prefers window seats"), semantic.saved[0].Fingerprint)
	assert.False(t, semantic.saved[0].Encrypted)
	assert.True(t, semantic.saved[0].RetentionUntil.After(time.Now().AddDate(0, 0, 89)))

	require.Len(t, procedural.saved, 1)
	assert.Equal(t, "Always answer in bullet points", procedural.saved[0].Rule)

	turns, err := episodic.RecentTurns(ctx, 1, "t-1", 10)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "asked about trains to Porto", turns[0].Content)
}

func TestExtractor_MarksPIIFactsEncrypted(t *testing.T) {
	provider := &scriptedProvider{replies: []string{
		`{"semantic": [{"fact": "my email is sam@example.com", "confidence": 0.95}]}`,
	}}
	ex, semantic, _, _ := newTestExtractor(t, provider, DefaultSettings(90))

	_, err := ex.Extract(context.Background(), 1, "t-1", []llm.Message{llm.UserMessage("my email is sam@example.com")})
	require.NoError(t, err)

	require.Len(t, semantic.saved, 1)
	assert.True(t, semantic.saved[0].Encrypted)
}

func TestExtractor_RespectsUserSettings(t *testing.T) {
	provider := &scriptedProvider{replies: []string{extractionReply}}
	settings := DefaultSettings(90)
	settings.AllowSemantic = false
	settings.AllowProcedural = false
	ex, semantic, procedural, _ := newTestExtractor(t, provider, settings)

	counts, err := ex.Extract(context.Background(), 1, "t-1", []llm.Message{llm.UserMessage("hello")})
	require.NoError(t, err)

	assert.Zero(t, counts.Total())
	assert.Empty(t, semantic.saved)
	assert.Empty(t, procedural.saved)
}

func TestExtractor_HandlesFencedJSON(t *testing.T) {
	provider := &scriptedProvider{replies: []string{
		"```json\n" + `{"semantic": [{"fact": "lives in Berlin", "confidence": 0.9}]}` + "\n```",
	}}
	ex, semantic, _, _ := newTestExtractor(t, provider, DefaultSettings(90))

	_, err := ex.Extract(context.Background(), 1, "t-1", []llm.Message{llm.UserMessage("I live in Berlin")})
	require.NoError(t, err)
	require.Len(t, semantic.saved, 1)
}

func TestExtractor_EmptyWindowIsNoop(t *testing.T) {
	provider := &scriptedProvider{replies: []string{extractionReply}}
	ex, _, _, _ := newTestExtractor(t, provider, DefaultSettings(90))

	_, err := ex.Extract(context.Background(), 1, "t-1", []llm.Message{
		{Role: llm.RoleUser, Content: "   "},
	})
	require.NoError(t, err)
	assert.Zero(t, provider.calls)
}

func TestExtractor_GarbageOutputFails(t *testing.T) {
	provider := &scriptedProvider{replies: []string{"not json at all"}}
	ex, semantic, _, _ := newTestExtractor(t, provider, DefaultSettings(90))

	_, err := ex.Extract(context.Background(), 1, "t-1", []llm.Message{llm.UserMessage("hello")})
	assert.Error(t, err)
	assert.Empty(t, semantic.saved)
}

func TestTrailingWindow(t *testing.T) {
	msgs := []llm.Message{
		llm.UserMessage("one"),
		{Role: llm.RoleAssistant, Content: ""},
		llm.UserMessage("two"),
		llm.AssistantMessage("three"),
		llm.UserMessage("four"),
	}

	window := trailingWindow(msgs, 3)
	require.Len(t, window, 3)
	assert.Equal(t, "two", window[0].Content)
	assert.Equal(t, "four", window[2].Content)
}

func TestInjector_GatherAndRender(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	episodic := NewEpisodicStore(client, 20, time.Hour, 500)
	semantic := &fakeSemanticStore{saved: []SemanticFact{{Fact: "prefers window seats"}}}
	procedural := &fakeProceduralStore{saved: []Rule{{Rule: "Always answer in bullet points"}}}
	summarizer := NewSummarizer(client, &scriptedProvider{replies: []string{""}})

	inj := NewInjector(episodic, semantic, procedural,
		&fakeSettingsStore{settings: DefaultSettings(90)}, summarizer, slog.Default(), 20, 3, 30)

	ctx := context.Background()
	require.NoError(t, episodic.PushTurn(ctx, 1, "t-1", EpisodicTurn{Role: "user", Content: "asked about Porto"}))

	got := inj.Gather(ctx, 1, "t-1", []llm.Message{llm.UserMessage("seats?")})
	assert.Len(t, got.Episodic, 1)
	assert.Equal(t, []string{"prefers window seats"}, got.Semantic)
	assert.Equal(t, []string{"Always answer in bullet points"}, got.Procedural)
	assert.Empty(t, got.Summary, "below summary trigger")

	rendered := got.Render()
	assert.Contains(t, rendered, "Rules to follow:")
	assert.Contains(t, rendered, "prefers window seats")
	assert.Contains(t, rendered, "asked about Porto")
	assert.NotContains(t, rendered, "Earlier conversation summary:")
}

func TestInjector_DisabledTiersStayEmpty(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	settings := Settings{} // everything off
	inj := NewInjector(
		NewEpisodicStore(client, 20, time.Hour, 500),
		&fakeSemanticStore{saved: []SemanticFact{{Fact: "hidden"}}},
		&fakeProceduralStore{saved: []Rule{{Rule: "hidden"}}},
		&fakeSettingsStore{settings: settings},
		NewSummarizer(client, &scriptedProvider{replies: []string{""}}),
		slog.Default(), 20, 3, 30,
	)

	got := inj.Gather(context.Background(), 1, "t-1", []llm.Message{llm.UserMessage("hi")})
	assert.Empty(t, got.Episodic)
	assert.Empty(t, got.Semantic)
	assert.Empty(t, got.Procedural)
	assert.Empty(t, got.Render())
}
