package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meghx-ai/meghx/internal/checkpoint"
	"github.com/meghx-ai/meghx/internal/expense"
	"github.com/meghx-ai/meghx/internal/llm"
	"github.com/meghx-ai/meghx/internal/memory"
	"github.com/meghx-ai/meghx/internal/rag"
	"github.com/meghx-ai/meghx/internal/tools"
	"github.com/meghx-ai/meghx/internal/worker"
)

type fakeProvider struct {
	mu      sync.Mutex
	replies []llm.Message
	err     error
	reqs    []llm.Request
}

func (p *fakeProvider) Invoke(_ context.Context, req llm.Request) (llm.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reqs = append(p.reqs, req)
	if p.err != nil {
		return llm.Message{}, p.err
	}
	if len(p.replies) == 0 {
		return llm.Message{}, errors.New("no scripted reply")
	}
	msg := p.replies[0]
	p.replies = p.replies[1:]
	return msg, nil
}

func (p *fakeProvider) Stream(context.Context, llm.Request) (<-chan llm.StreamEvent, error) {
	return nil, errors.New("not implemented")
}

func (p *fakeProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.reqs)
}

func (p *fakeProvider) lastRequest() llm.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reqs[len(p.reqs)-1]
}

type fakeExecutor struct {
	mu      sync.Mutex
	results map[string]llm.ToolResult
	err     error
	calls   []llm.ToolCall
}

func (e *fakeExecutor) Execute(_ context.Context, call llm.ToolCall) (llm.ToolResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, call)
	if e.err != nil {
		return llm.ToolResult{}, e.err
	}
	if res, ok := e.results[call.Name]; ok {
		return res, nil
	}
	return llm.ToolResult{ToolName: call.Name, Content: "ok"}, nil
}

func (e *fakeExecutor) callArgs(t *testing.T, i int) map[string]any {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()
	require.Greater(t, len(e.calls), i)
	var args map[string]any
	require.NoError(t, json.Unmarshal(e.calls[i].Args, &args))
	return args
}

type memCheckpointer struct {
	mu      sync.Mutex
	snaps   map[string]checkpoint.Snapshot
	loadErr error
	deletes int
}

func newMemCheckpointer() *memCheckpointer {
	return &memCheckpointer{snaps: make(map[string]checkpoint.Snapshot)}
}

func (c *memCheckpointer) key(userID int64, threadID string) string {
	return fmt.Sprintf("%d:%s", userID, threadID)
}

func (c *memCheckpointer) Save(_ context.Context, snap checkpoint.Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snaps[c.key(snap.UserID, snap.ThreadID)] = snap
	return nil
}

func (c *memCheckpointer) Load(_ context.Context, userID int64, threadID string) (*checkpoint.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loadErr != nil {
		return nil, c.loadErr
	}
	snap, ok := c.snaps[c.key(userID, threadID)]
	if !ok {
		return nil, checkpoint.ErrNotFound
	}
	return &snap, nil
}

func (c *memCheckpointer) Delete(_ context.Context, userID int64, threadID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deletes++
	delete(c.snaps, c.key(userID, threadID))
	return nil
}

func (c *memCheckpointer) pending(userID int64, threadID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap, ok := c.snaps[c.key(userID, threadID)]
	return ok && snap.HasPendingInterrupt()
}

type fakeChatInjector struct {
	ctx memory.Context
}

func (f *fakeChatInjector) Gather(context.Context, int64, string, []llm.Message) memory.Context {
	return f.ctx
}

type fakeChatExtractor struct {
	mu       sync.Mutex
	counts   memory.Counts
	messages []llm.Message
	calls    int
}

func (f *fakeChatExtractor) Extract(_ context.Context, _ int64, _ string, messages []llm.Message) (memory.Counts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.messages = messages
	return f.counts, nil
}

type fakeSummaryUpdater struct {
	mu       sync.Mutex
	calls    int
	messages []llm.Message
}

func (f *fakeSummaryUpdater) Update(_ context.Context, _ int64, _ string, messages []llm.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.messages = messages
	return "summary", nil
}

type staticSettings struct {
	settings memory.Settings
}

func (s *staticSettings) Get(context.Context, int64) (memory.Settings, error) {
	return s.settings, nil
}

type engineHarness struct {
	engine      *Engine
	provider    *fakeProvider
	refiner     *fakeProvider
	executor    *fakeExecutor
	checkpoints *memCheckpointer
	extractor   *fakeChatExtractor
	summarizer  *fakeSummaryUpdater
	registry    *tools.Registry
	pool        *worker.Pool
}

func newEngineHarness(t *testing.T) *engineHarness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	h := &engineHarness{
		provider:    &fakeProvider{},
		refiner:     &fakeProvider{},
		executor:    &fakeExecutor{results: make(map[string]llm.ToolResult)},
		checkpoints: newMemCheckpointer(),
		extractor:   &fakeChatExtractor{},
		summarizer:  &fakeSummaryUpdater{},
		registry:    tools.NewRegistry(),
		pool:        worker.NewPool(2, logger),
	}
	h.engine = NewEngine(Deps{
		Provider:    h.provider,
		Refiner:     h.refiner,
		Registry:    h.registry,
		Executor:    h.executor,
		Checkpoints: h.checkpoints,
		Injector:    &fakeChatInjector{},
		Extractor:   h.extractor,
		Summarizer:  h.summarizer,
		Settings:    &staticSettings{settings: memory.DefaultSettings(30)},
		Pool:        h.pool,
		Logger:      logger,
	}, Config{MaxTokens: 1024, MaxHistory: 20, SummaryTrigger: 100})
	return h
}

// wait blocks until detached background work for completed turns has drained.
func (h *engineHarness) wait() {
	h.pool.Close()
}

func turnReq(text string) TurnRequest {
	return TurnRequest{UserID: 7, ThreadID: "thread-1", Text: text}
}

func TestTurn_PlainChat(t *testing.T) {
	h := newEngineHarness(t)
	h.provider.replies = []llm.Message{llm.AssistantMessage("Hello there!")}

	result, err := h.engine.Turn(context.Background(), turnReq("hi"))
	require.NoError(t, err)

	assert.Equal(t, "Hello there!", result.Content)
	assert.Equal(t, IntentChat, result.Intent)
	assert.Nil(t, result.Interrupt)
	assert.False(t, result.Degraded)

	// plain replies never pass through the refine model
	assert.Zero(t, h.refiner.calls())

	// history ends with the assistant reply
	last := result.Messages[len(result.Messages)-1]
	assert.Equal(t, llm.RoleAssistant, last.Role)
	assert.Equal(t, "Hello there!", last.Content)

	h.wait()
	assert.Equal(t, 1, h.extractor.calls)
}

func TestTurn_ModelTimeoutDegrades(t *testing.T) {
	h := newEngineHarness(t)
	h.provider.err = llm.ErrTimeout

	result, err := h.engine.Turn(context.Background(), turnReq("hi"))
	require.NoError(t, err)

	assert.True(t, result.Degraded)
	assert.Equal(t, llm.DegradedReply, result.Content)
	assert.Nil(t, result.Interrupt)
	assert.Zero(t, len(h.executor.calls))
	h.wait()
}

func TestTurn_ModelErrorFailsTurn(t *testing.T) {
	h := newEngineHarness(t)
	h.provider.err = errors.New("upstream exploded")

	_, err := h.engine.Turn(context.Background(), turnReq("hi"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, llm.ErrTimeout)
}

func TestTurn_RAGSentinelFixedReply(t *testing.T) {
	h := newEngineHarness(t)
	h.provider.replies = []llm.Message{msgWithCalls("rag_tool")}
	h.executor.results["rag_tool"] = llm.ToolResult{ToolName: "rag_tool", Content: rag.SentinelNoIndex}

	result, err := h.engine.Turn(context.Background(), turnReq("what does my contract say"))
	require.NoError(t, err)

	assert.Equal(t, rag.ReplyNoIndex, result.Content)
	assert.Equal(t, IntentRAG, result.Intent)

	// sentinel replies are verbatim: no refine pass, no retrieval retry
	assert.Zero(t, h.refiner.calls())
	assert.Len(t, h.executor.calls, 1)
	h.wait()
}

func TestTurn_RAGRefinesContent(t *testing.T) {
	h := newEngineHarness(t)
	h.provider.replies = []llm.Message{msgWithCalls("rag_tool")}
	h.executor.results["rag_tool"] = llm.ToolResult{ToolName: "rag_tool", Content: "chunk one\nchunk two"}
	h.refiner.replies = []llm.Message{llm.AssistantMessage("Your contract covers two things.")}

	result, err := h.engine.Turn(context.Background(), turnReq("what does my contract say"))
	require.NoError(t, err)

	assert.Equal(t, "Your contract covers two things.", result.Content)
	assert.Contains(t, h.refiner.lastRequest().System, "DOCUMENT RETRIEVAL")

	// retrieval runs with the caller's identity stamped in
	args := h.executor.callArgs(t, 0)
	assert.EqualValues(t, 7, args["user_id"])
	assert.Equal(t, "thread-1", args["thread_id"])
	h.wait()
}

func TestTurn_RefineFailureKeepsRawContent(t *testing.T) {
	h := newEngineHarness(t)
	h.provider.replies = []llm.Message{msgWithCalls("weather")}
	h.executor.results["weather"] = llm.ToolResult{ToolName: "weather", Content: "22C and sunny"}
	h.refiner.err = errors.New("refiner down")

	result, err := h.engine.Turn(context.Background(), turnReq("weather?"))
	require.NoError(t, err)

	assert.Equal(t, "22C and sunny", result.Content)
	assert.Equal(t, IntentOtherTool, result.Intent)
	h.wait()
}

func TestTurn_ExpenseConfirmThenResume(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()

	call := llm.ToolCall{
		ID:   "call_1",
		Name: "record_expense",
		Args: json.RawMessage(`{"update_args":{"amount":42.50,"category":"food","date":"2026-09-01"}}`),
	}
	h.provider.replies = []llm.Message{{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{call}}}

	// turn 1: the draft pauses for confirmation
	result, err := h.engine.Turn(ctx, turnReq("I spent 42.50 on lunch"))
	require.NoError(t, err)
	require.NotNil(t, result.Interrupt)
	assert.Equal(t, expense.InterruptConfirm, result.Interrupt.Type)
	assert.Contains(t, result.Content, "42.50")
	assert.True(t, h.checkpoints.pending(7, "thread-1"))
	assert.Empty(t, h.executor.calls)

	// turn 2: "yes" resumes without a fresh model call
	h.refiner.replies = []llm.Message{llm.AssistantMessage("Saved **42.50** under food.")}
	modelCalls := h.provider.calls()

	result, err = h.engine.Turn(ctx, turnReq("yes"))
	require.NoError(t, err)

	assert.Equal(t, modelCalls, h.provider.calls())
	assert.Nil(t, result.Interrupt)
	assert.Equal(t, "Saved **42.50** under food.", result.Content)

	args := h.executor.callArgs(t, 0)
	assert.Equal(t, "record_expense", h.executor.calls[0].Name)
	assert.InDelta(t, 42.50, args["amount"].(float64), 0.001)
	assert.Equal(t, "food", args["category"])
	assert.EqualValues(t, 7, args["user_id"])
	assert.Equal(t, "thread-1", args["thread_id"])

	assert.False(t, h.checkpoints.pending(7, "thread-1"))
	h.wait()
}

func TestTurn_PendingInterruptNeverOpensSecond(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()

	require.NoError(t, h.checkpoints.Save(ctx, checkpoint.Snapshot{
		UserID:   7,
		ThreadID: "thread-1",
		Expense: expense.State{
			Version: expense.StateVersion,
			Phase:   expense.PhaseAwaitingConfirmation,
			Action:  expense.ActionRecordExpense,
			Draft:   &expense.Draft{Amount: 10, Category: "food", Subcategory: "other"},
			Pending: expense.InterruptConfirm,
		},
	}))

	// an off-topic message is still treated as a resume attempt
	result, err := h.engine.Turn(ctx, turnReq("what's the weather like"))
	require.NoError(t, err)

	require.NotNil(t, result.Interrupt)
	assert.Equal(t, expense.InterruptConfirmRetry, result.Interrupt.Type)
	assert.Zero(t, h.provider.calls())
	assert.True(t, h.checkpoints.pending(7, "thread-1"))
	h.wait()
}

func TestTurn_CheckpointOutageRunsStateless(t *testing.T) {
	h := newEngineHarness(t)
	h.checkpoints.loadErr = errors.New("redis unreachable")
	h.provider.replies = []llm.Message{llm.AssistantMessage("Hi!")}

	result, err := h.engine.Turn(context.Background(), turnReq("hi"))
	require.NoError(t, err)
	assert.Equal(t, "Hi!", result.Content)
	h.wait()
}

func TestTurn_MutationWithNoMatchesResets(t *testing.T) {
	h := newEngineHarness(t)

	call := llm.ToolCall{
		ID:   "call_1",
		Name: "update_expense",
		Args: json.RawMessage(`{"search_args":{"note":"uber"},"update_args":{"amount":900}}`),
	}
	h.provider.replies = []llm.Message{{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{call}}}
	h.executor.results["find_expenses"] = llm.ToolResult{ToolName: "find_expenses", Content: `{"results":[]}`}

	result, err := h.engine.Turn(context.Background(), turnReq("change my uber expense to 900"))
	require.NoError(t, err)

	assert.Nil(t, result.Interrupt)
	assert.Contains(t, result.Content, "couldn't find any matching expenses")
	assert.False(t, h.checkpoints.pending(7, "thread-1"))

	// only the locating call ran, never the mutation
	require.Len(t, h.executor.calls, 1)
	assert.Equal(t, "find_expenses", h.executor.calls[0].Name)
	h.wait()
}

func TestTurn_ReadOnlyExpenseBypassesInterrupts(t *testing.T) {
	h := newEngineHarness(t)

	call := llm.ToolCall{
		ID:   "call_1",
		Name: "list_user_expenses",
		Args: json.RawMessage(`{"user_id":999,"month":"2026-08"}`),
	}
	h.provider.replies = []llm.Message{{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{call}}}
	h.executor.results["list_user_expenses"] = llm.ToolResult{Content: `[{"amount":12}]`}
	h.refiner.replies = []llm.Message{llm.AssistantMessage("You spent 12 last month.")}

	result, err := h.engine.Turn(context.Background(), turnReq("show my expenses"))
	require.NoError(t, err)

	assert.Nil(t, result.Interrupt)
	assert.Equal(t, "You spent 12 last month.", result.Content)

	// the model-supplied user_id is discarded and replaced with the caller's
	args := h.executor.callArgs(t, 0)
	assert.EqualValues(t, 7, args["user_id"])
	h.wait()
}

func TestTurn_ToolSetFollowsRegistryVersion(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()

	h.registry.Refresh([]tools.Tool{
		{Name: "weather", Capability: tools.CapabilityRead, Definition: llm.ToolDefinition{Name: "weather"}},
	})
	h.provider.replies = []llm.Message{llm.AssistantMessage("one")}
	_, err := h.engine.Turn(ctx, turnReq("hi"))
	require.NoError(t, err)
	assert.Len(t, h.provider.lastRequest().Tools, 1)

	h.registry.Refresh([]tools.Tool{
		{Name: "weather", Capability: tools.CapabilityRead, Definition: llm.ToolDefinition{Name: "weather"}},
		{Name: "rag_tool", Capability: tools.CapabilityRead, Definition: llm.ToolDefinition{Name: "rag_tool"}},
	})
	h.provider.replies = []llm.Message{llm.AssistantMessage("two")}
	_, err = h.engine.Turn(ctx, turnReq("hi again"))
	require.NoError(t, err)
	assert.Len(t, h.provider.lastRequest().Tools, 2)
	h.wait()
}

func TestTurn_BackgroundSummaryAfterTrigger(t *testing.T) {
	h := newEngineHarness(t)
	h.engine.cfg.SummaryTrigger = 4
	h.provider.replies = []llm.Message{llm.AssistantMessage("sure")}

	history := []llm.Message{
		llm.UserMessage("a"), llm.AssistantMessage("b"),
		llm.UserMessage("c"), llm.AssistantMessage("d"),
	}
	req := turnReq("e")
	req.History = history

	_, err := h.engine.Turn(context.Background(), req)
	require.NoError(t, err)
	h.wait()

	assert.Equal(t, 1, h.summarizer.calls)
	// the trailing exchange stays out of the summarized window
	assert.Len(t, h.summarizer.messages, 4)
	assert.Equal(t, 1, h.extractor.calls)
}

func TestStream_EventOrdering(t *testing.T) {
	h := newEngineHarness(t)
	h.provider.replies = []llm.Message{llm.AssistantMessage("Hello there, how can I help you today?")}

	events := NewStreamer(h.engine).Stream(context.Background(), turnReq("hi"))

	var tokens []string
	var sawDone bool
	var done Event
	for ev := range events {
		switch ev.Type {
		case EventToken:
			assert.False(t, sawDone, "token after done")
			tokens = append(tokens, ev.Token)
		case EventDone:
			sawDone = true
			done = ev
		case EventError:
			t.Fatalf("unexpected error event: %v", ev.Err)
		}
	}

	require.True(t, sawDone)
	var joined string
	for _, tok := range tokens {
		joined += tok
	}
	assert.Equal(t, "Hello there, how can I help you today?", joined)
	assert.Equal(t, joined, done.Content)
	h.wait()
}

func TestStream_InterruptEvent(t *testing.T) {
	h := newEngineHarness(t)
	call := llm.ToolCall{
		ID:   "call_1",
		Name: "record_expense",
		Args: json.RawMessage(`{"update_args":{"amount":5,"category":"food"}}`),
	}
	h.provider.replies = []llm.Message{{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{call}}}

	events := NewStreamer(h.engine).Stream(context.Background(), turnReq("spent 5 on coffee"))

	var interrupts int
	for ev := range events {
		if ev.Type == EventInterrupt {
			interrupts++
			require.NotNil(t, ev.Interrupt)
			assert.Equal(t, expense.InterruptConfirm, ev.Interrupt.Type)
		}
	}
	assert.Equal(t, 1, interrupts)
	h.wait()
}

func TestStream_ErrorEvent(t *testing.T) {
	h := newEngineHarness(t)
	h.provider.err = errors.New("upstream exploded")

	events := NewStreamer(h.engine).Stream(context.Background(), turnReq("hi"))

	var got []Event
	for ev := range events {
		got = append(got, ev)
	}
	require.Len(t, got, 1)
	assert.Equal(t, EventError, got[0].Type)
	assert.Error(t, got[0].Err)
}
