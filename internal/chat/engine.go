package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/meghx-ai/meghx/internal/checkpoint"
	"github.com/meghx-ai/meghx/internal/events"
	"github.com/meghx-ai/meghx/internal/expense"
	"github.com/meghx-ai/meghx/internal/llm"
	"github.com/meghx-ai/meghx/internal/memory"
	"github.com/meghx-ai/meghx/internal/metrics"
	"github.com/meghx-ai/meghx/internal/rag"
	"github.com/meghx-ai/meghx/internal/tools"
	"github.com/meghx-ai/meghx/internal/worker"
)

const (
	ragFailedReply  = "I couldn't search your documents right now. Please try again in a moment."
	toolFailedReply = "I couldn't complete that action right now. Please try again in a moment."

	// expense transitions per turn are bounded: find, selection or
	// auto-select, execute, result.
	maxExpenseSteps = 5

	backgroundTimeout = time.Minute
)

// Checkpointer persists paused workflow snapshots between turns.
type Checkpointer interface {
	Save(ctx context.Context, snap checkpoint.Snapshot) error
	Load(ctx context.Context, userID int64, threadID string) (*checkpoint.Snapshot, error)
	Delete(ctx context.Context, userID int64, threadID string) error
}

// ContextInjector assembles the per-turn memory context.
type ContextInjector interface {
	Gather(ctx context.Context, userID int64, threadID string, messages []llm.Message) memory.Context
}

// FactExtractor mines finished turns for durable memories.
type FactExtractor interface {
	Extract(ctx context.Context, userID int64, threadID string, messages []llm.Message) (memory.Counts, error)
}

// SummaryUpdater maintains the rolling conversation summary.
type SummaryUpdater interface {
	Update(ctx context.Context, userID int64, threadID string, messages []llm.Message) (string, error)
}

// Deps are the engine's collaborators, constructed once at process start and
// injected; the engine never reaches for ambient globals.
type Deps struct {
	Provider    llm.Provider
	Refiner     llm.Provider
	Registry    *tools.Registry
	Executor    tools.Executor
	Checkpoints Checkpointer
	Injector    ContextInjector
	Extractor   FactExtractor
	Summarizer  SummaryUpdater
	Settings    memory.SettingsStore
	Pool        *worker.Pool
	Publisher   *events.Publisher
	Logger      *slog.Logger
}

// Config are the engine's tunables.
type Config struct {
	MaxTokens      int
	MaxHistory     int
	SummaryTrigger int
}

// TurnRequest is one incoming user message for a thread.
type TurnRequest struct {
	UserID   int64
	ThreadID string
	History  []llm.Message
	Text     string
}

// Stage is one pipeline step's latency for telemetry.
type Stage struct {
	Name      string  `json:"name"`
	LatencyMS float64 `json:"latency_ms"`
}

// TurnResult is the finalized outcome of a turn. Interrupt is non-nil when
// the turn paused for user input; Content is always the user-visible reply.
type TurnResult struct {
	Content   string
	Intent    Intent
	Interrupt *expense.Interrupt
	Messages  []llm.Message
	Trace     []Stage
	Degraded  bool
}

// Engine runs the turn pipeline: memory injection, the tool-aware model
// call, intent routing, workflow execution, post-processing, and detached
// background memory work.
type Engine struct {
	deps Deps
	cfg  Config

	mu          sync.Mutex
	toolVersion int64
	toolDefs    []llm.ToolDefinition
}

// NewEngine creates an engine.
func NewEngine(deps Deps, cfg Config) *Engine {
	return &Engine{deps: deps, cfg: cfg}
}

// Turn processes one user message. A thread with a pending interrupt treats
// the message as a resume attempt first; it never opens a second interrupt.
func (e *Engine) Turn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	start := time.Now()
	rec := &traceRecorder{}

	messages := append(CloneMessages(req.History), llm.UserMessage(req.Text))
	messages = PruneHistory(messages, e.cfg.MaxHistory)

	snap, err := e.deps.Checkpoints.Load(ctx, req.UserID, req.ThreadID)
	if err != nil && !errors.Is(err, checkpoint.ErrNotFound) {
		// Documented degradation: no pause/resume this turn, never a failure.
		e.deps.Logger.Warn("checkpoint store unavailable, running stateless",
			"user_id", req.UserID, "thread_id", req.ThreadID, "error", err)
	}
	if snap != nil && snap.HasPendingInterrupt() {
		return e.resumeTurn(ctx, req, snap, messages, rec, start)
	}

	return e.freshTurn(ctx, req, messages, rec, start)
}

func (e *Engine) freshTurn(ctx context.Context, req TurnRequest, messages []llm.Message, rec *traceRecorder, start time.Time) (*TurnResult, error) {
	injectStart := time.Now()
	memCtx := e.deps.Injector.Gather(ctx, req.UserID, req.ThreadID, messages)
	rec.record("inject_memory", injectStart)

	system := basePrompt
	if rendered := memCtx.Render(); rendered != "" {
		system += "\n\n" + rendered
	}

	modelStart := time.Now()
	resp, err := e.deps.Provider.Invoke(ctx, llm.Request{
		System:    system,
		Messages:  messages,
		Tools:     e.toolDefinitions(),
		MaxTokens: e.cfg.MaxTokens,
	})
	rec.record("primary_model", modelStart)
	metrics.ModelLatency.WithLabelValues("primary").Observe(time.Since(modelStart).Seconds())

	if errors.Is(err, llm.ErrTimeout) {
		// Fixed degraded reply; no state transition happened.
		metrics.TurnsTotal.WithLabelValues(string(IntentChat)).Inc()
		return e.finalize(ctx, req, messages, &TurnResult{
			Content:  llm.DegradedReply,
			Intent:   IntentChat,
			Degraded: true,
		}, rec, start)
	}
	if err != nil {
		return nil, fmt.Errorf("primary model call: %w", err)
	}

	intent, action := ClassifyIntent(resp)
	metrics.TurnsTotal.WithLabelValues(string(intent)).Inc()

	result := &TurnResult{Intent: intent}
	switch intent {
	case IntentChat:
		result.Content = resp.Content

	case IntentRAG:
		result.Content = e.runRAG(ctx, req, resp, rec)

	case IntentExpense:
		call := toolCallNamed(resp, string(action))
		step := expense.Begin(action, *call)
		content, interrupt, err := e.driveExpense(ctx, req, step, rec)
		if err != nil {
			return nil, err
		}
		result.Content, result.Interrupt = content, interrupt

	case IntentOtherTool:
		result.Content = e.runOtherTool(ctx, req, resp, rec)
	}

	return e.finalize(ctx, req, messages, result, rec, start)
}

// resumeTurn feeds the user's reply into the paused workflow restored from
// the checkpoint.
func (e *Engine) resumeTurn(ctx context.Context, req TurnRequest, snap *checkpoint.Snapshot, messages []llm.Message, rec *traceRecorder, start time.Time) (*TurnResult, error) {
	step := expense.Resume(snap.Expense, req.Text)

	switch {
	case step.Interrupt != nil:
		metrics.InterruptsResumedTotal.WithLabelValues("retry").Inc()
	case step.Call != nil:
		metrics.InterruptsResumedTotal.WithLabelValues("resolved").Inc()
	default:
		metrics.InterruptsResumedTotal.WithLabelValues("cancelled").Inc()
	}
	metrics.TurnsTotal.WithLabelValues(string(IntentExpense)).Inc()

	content, interrupt, err := e.driveExpense(ctx, req, step, rec)
	if err != nil {
		return nil, err
	}
	return e.finalize(ctx, req, messages, &TurnResult{
		Content:   content,
		Intent:    IntentExpense,
		Interrupt: interrupt,
	}, rec, start)
}

// driveExpense advances the workflow until it pauses or terminates. Tool
// calls get the caller's identity injected immediately before dispatch; the
// model never supplies identifiers.
func (e *Engine) driveExpense(ctx context.Context, req TurnRequest, step expense.Step, rec *traceRecorder) (string, *expense.Interrupt, error) {
	var lastResult string

	for i := 0; i < maxExpenseSteps; i++ {
		switch {
		case step.Interrupt != nil:
			e.persistInterrupt(ctx, req, step)
			metrics.InterruptsRaisedTotal.WithLabelValues(string(step.Interrupt.Type)).Inc()
			e.publishInterrupt(ctx, req, step.Interrupt)
			return step.Interrupt.Message, step.Interrupt, nil

		case step.Call != nil:
			call := injectIdentity(*step.Call, req.UserID, req.ThreadID)
			execStart := time.Now()
			result, err := e.deps.Executor.Execute(ctx, call)
			rec.record("tool_"+call.Name, execStart)

			if err != nil || result.IsError {
				if err != nil {
					e.deps.Logger.Error("tool execution failed", "tool", call.Name, "error", err)
				}
				step = expense.OnExecuteError(step.State)
				continue
			}
			lastResult = result.Content
			step = expense.OnToolResult(step.State, call.Name, result.Content)

		case step.Done:
			if err := e.deps.Checkpoints.Delete(ctx, req.UserID, req.ThreadID); err != nil {
				e.deps.Logger.Warn("checkpoint delete failed", "thread_id", req.ThreadID, "error", err)
			}
			if step.Reply != "" {
				return step.Reply, nil, nil
			}
			return e.refine(ctx, IntentExpense, lastResult, rec), nil, nil

		default:
			return "", nil, fmt.Errorf("expense workflow stalled in phase %s", step.State.Phase)
		}
	}
	return "", nil, errors.New("expense workflow exceeded transition budget")
}

func (e *Engine) runRAG(ctx context.Context, req TurnRequest, resp llm.Message, rec *traceRecorder) string {
	call := toolCallNamed(resp, RAGToolName)

	execStart := time.Now()
	result, err := e.deps.Executor.Execute(ctx, injectIdentity(*call, req.UserID, req.ThreadID))
	rec.record("tool_"+RAGToolName, execStart)
	if err != nil || result.IsError {
		if err != nil {
			e.deps.Logger.Error("retrieval failed", "thread_id", req.ThreadID, "error", err)
		}
		return ragFailedReply
	}

	// Sentinel content maps to its fixed reply verbatim; retrieval is never
	// re-invoked within the turn.
	if reply, ok := rag.SentinelReply(result.Content); ok {
		return reply
	}
	return e.refine(ctx, IntentRAG, result.Content, rec)
}

func (e *Engine) runOtherTool(ctx context.Context, req TurnRequest, resp llm.Message, rec *traceRecorder) string {
	call := resp.ToolCalls[0]

	execStart := time.Now()
	result, err := e.deps.Executor.Execute(ctx, injectIdentity(call, req.UserID, req.ThreadID))
	rec.record("tool_"+call.Name, execStart)
	if err != nil || result.IsError {
		if err != nil {
			e.deps.Logger.Error("tool execution failed", "tool", call.Name, "error", err)
		}
		return toolFailedReply
	}
	return e.refine(ctx, IntentOtherTool, result.Content, rec)
}

// refine runs the post-processing model pass over raw tool output. Plain
// assistant replies never pass through here. Failures keep the unrefined
// content rather than losing the turn.
func (e *Engine) refine(ctx context.Context, intent Intent, content string, rec *traceRecorder) string {
	if content == "" {
		return ""
	}

	refineStart := time.Now()
	resp, err := e.deps.Refiner.Invoke(ctx, llm.Request{
		System:    refinePrompt(intent),
		Messages:  []llm.Message{llm.UserMessage(content)},
		MaxTokens: e.cfg.MaxTokens,
	})
	rec.record("refine", refineStart)
	metrics.ModelLatency.WithLabelValues("refine").Observe(time.Since(refineStart).Seconds())

	if err != nil {
		e.deps.Logger.Warn("refine call failed, keeping raw content", "error", err)
		return content
	}
	return resp.Content
}

// persistInterrupt checkpoints the paused state. Store failure degrades to
// stateless: the interrupt still reaches the user, it just won't survive a
// process restart.
func (e *Engine) persistInterrupt(ctx context.Context, req TurnRequest, step expense.Step) {
	err := e.deps.Checkpoints.Save(ctx, checkpoint.Snapshot{
		UserID:   req.UserID,
		ThreadID: req.ThreadID,
		Expense:  step.State,
	})
	if err != nil {
		e.deps.Logger.Warn("checkpoint save failed, interrupt is not durable",
			"user_id", req.UserID, "thread_id", req.ThreadID, "error", err)
	}
}

func (e *Engine) publishInterrupt(ctx context.Context, req TurnRequest, interrupt *expense.Interrupt) {
	err := e.deps.Publisher.PublishInterruptRaised(ctx, events.InterruptRaised{
		UserID:    req.UserID,
		ThreadID:  req.ThreadID,
		Type:      string(interrupt.Type),
		Action:    string(interrupt.Action),
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		e.deps.Logger.Warn("publishing interrupt event failed", "error", err)
	}
}

// finalize appends the assistant reply, detaches background memory work
// over a deep snapshot, and publishes turn telemetry.
func (e *Engine) finalize(ctx context.Context, req TurnRequest, messages []llm.Message, result *TurnResult, rec *traceRecorder, start time.Time) (*TurnResult, error) {
	result.Messages = append(messages, llm.AssistantMessage(result.Content))
	result.Trace = rec.stages

	e.detachBackground(req, result.Messages)

	err := e.deps.Publisher.PublishTurnCompleted(ctx, events.TurnCompleted{
		UserID:      req.UserID,
		ThreadID:    req.ThreadID,
		Intent:      string(result.Intent),
		Interrupted: result.Interrupt != nil,
		LatencyMS:   float64(time.Since(start).Milliseconds()),
		Timestamp:   time.Now().UTC(),
	})
	if err != nil {
		e.deps.Logger.Warn("publishing turn event failed", "error", err)
	}

	e.deps.Logger.Info("turn completed",
		"user_id", req.UserID,
		"thread_id", req.ThreadID,
		"intent", result.Intent,
		"interrupted", result.Interrupt != nil,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

// detachBackground snapshots the history and hands memory work to the pool.
// The response path never waits on it.
func (e *Engine) detachBackground(req TurnRequest, messages []llm.Message) {
	snapshot := CloneMessages(messages)
	userID, threadID := req.UserID, req.ThreadID

	e.deps.Pool.Submit(context.Background(), "memory", func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, backgroundTimeout)
		defer cancel()

		counts, err := e.deps.Extractor.Extract(ctx, userID, threadID, snapshot)
		if err != nil {
			e.deps.Logger.Warn("background extraction failed", "user_id", userID, "error", err)
		}
		if counts.Total() > 0 {
			pubErr := e.deps.Publisher.PublishMemoryExtracted(ctx, events.MemoryExtracted{
				UserID:    userID,
				ThreadID:  threadID,
				Episodic:  counts.Episodic,
				Semantic:  counts.Semantic,
				Timestamp: time.Now().UTC(),
			})
			if pubErr != nil {
				e.deps.Logger.Warn("publishing memory event failed", "error", pubErr)
			}
		}

		if len(snapshot) > e.cfg.SummaryTrigger {
			settings, err := e.deps.Settings.Get(ctx, userID)
			if err == nil && settings.AllowSummary {
				// the trailing exchange stays out so the next turn still has
				// fresh unsummarized context
				if _, err := e.deps.Summarizer.Update(ctx, userID, threadID, snapshot[:len(snapshot)-2]); err != nil {
					e.deps.Logger.Warn("background summarization failed", "user_id", userID, "error", err)
				}
			}
		}
	})
}

// toolDefinitions returns the model-facing tool set, re-resolving whenever
// the registry version moves.
func (e *Engine) toolDefinitions() []llm.ToolDefinition {
	version := e.deps.Registry.Version()

	e.mu.Lock()
	defer e.mu.Unlock()
	if version != e.toolVersion || e.toolDefs == nil {
		e.toolDefs = tools.Definitions(e.deps.Registry.All())
		e.toolVersion = version
	}
	return e.toolDefs
}

// injectIdentity stamps the caller's identity onto a tool call immediately
// before dispatch. Whatever the model put in these fields was already
// scrubbed by the normalizer.
func injectIdentity(call llm.ToolCall, userID int64, threadID string) llm.ToolCall {
	var args map[string]any
	if err := json.Unmarshal(call.Args, &args); err != nil || args == nil {
		args = map[string]any{}
	}
	args["user_id"] = userID
	args["thread_id"] = threadID
	raw, _ := json.Marshal(args)
	call.Args = raw
	return call
}

type traceRecorder struct {
	stages []Stage
}

func (r *traceRecorder) record(name string, since time.Time) {
	r.stages = append(r.stages, Stage{
		Name:      name,
		LatencyMS: float64(time.Since(since).Microseconds()) / 1000,
	})
}
