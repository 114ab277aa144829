package memory

import (
	"context"
	"log/slog"
	"strings"

	"github.com/meghx-ai/meghx/internal/llm"
)

// Context is the memory bundle injected ahead of a model call. Empty slices
// mean the tier is disabled or degraded for this turn.
type Context struct {
	Episodic   []EpisodicTurn
	Semantic   []string
	Procedural []string
	Summary    string
}

// Injector assembles per-turn memory context. Each tier degrades
// independently: a failing store empties that tier and the turn proceeds.
type Injector struct {
	episodic   *EpisodicStore
	semantic   SemanticStore
	procedural ProceduralStore
	settings   SettingsStore
	summarizer *Summarizer
	logger     *slog.Logger

	episodicLimit  int
	semanticTopK   int
	summaryTrigger int
}

// NewInjector creates a memory injector. summaryTrigger is the message count
// past which the rolling summary joins the context.
func NewInjector(
	episodic *EpisodicStore,
	semantic SemanticStore,
	procedural ProceduralStore,
	settings SettingsStore,
	summarizer *Summarizer,
	logger *slog.Logger,
	episodicLimit, semanticTopK, summaryTrigger int,
) *Injector {
	return &Injector{
		episodic:       episodic,
		semantic:       semantic,
		procedural:     procedural,
		settings:       settings,
		summarizer:     summarizer,
		logger:         logger,
		episodicLimit:  episodicLimit,
		semanticTopK:   semanticTopK,
		summaryTrigger: summaryTrigger,
	}
}

// Gather collects the memory context for a turn. The semantic lookup is
// keyed on the latest user message.
func (inj *Injector) Gather(ctx context.Context, userID int64, threadID string, messages []llm.Message) Context {
	var out Context

	settings, err := inj.settings.Get(ctx, userID)
	if err != nil {
		inj.logger.Warn("memory settings unavailable, skipping injection", "user_id", userID, "error", err)
		return out
	}

	if settings.AllowEpisodic {
		turns, err := inj.episodic.RecentTurns(ctx, userID, threadID, inj.episodicLimit)
		if err != nil {
			inj.logger.Warn("episodic lookup failed", "user_id", userID, "error", err)
		} else {
			out.Episodic = turns
		}
	}

	if settings.AllowSemantic {
		if query := lastUserMessage(messages); query != "" {
			facts, err := inj.semantic.Query(ctx, userID, query, inj.semanticTopK)
			if err != nil {
				inj.logger.Warn("semantic lookup failed", "user_id", userID, "error", err)
			} else {
				out.Semantic = facts
			}
		}
	}

	if settings.AllowProcedural {
		rules, err := inj.procedural.Rules(ctx, userID)
		if err != nil {
			inj.logger.Warn("procedural lookup failed", "user_id", userID, "error", err)
		} else {
			out.Procedural = rules
		}
	}

	if settings.AllowSummary && len(messages) > inj.summaryTrigger {
		summary, err := inj.summarizer.Cached(ctx, userID, threadID)
		if err != nil {
			inj.logger.Warn("summary lookup failed", "user_id", userID, "error", err)
		} else {
			out.Summary = summary
		}
	}

	return out
}

// Render formats the context as a system prompt section. Empty tiers are
// omitted; an entirely empty context renders "".
func (c Context) Render() string {
	var b strings.Builder

	if len(c.Procedural) > 0 {
		b.WriteString("Rules to follow:\n")
		for _, r := range c.Procedural {
			b.WriteString("- " + r + "\n")
		}
	}
	if len(c.Semantic) > 0 {
		b.WriteString("Known facts about the user:\n")
		for _, f := range c.Semantic {
			b.WriteString("- " + f + "\n")
		}
	}
	if len(c.Episodic) > 0 {
		b.WriteString("Recent relevant exchanges:\n")
		for _, t := range c.Episodic {
			b.WriteString("- " + t.Role + ": " + t.Content + "\n")
		}
	}
	if c.Summary != "" {
		b.WriteString("Earlier conversation summary:\n" + c.Summary + "\n")
	}

	return strings.TrimSpace(b.String())
}

func lastUserMessage(messages []llm.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == llm.RoleUser && strings.TrimSpace(messages[i].Content) != "" {
			return messages[i].Content
		}
	}
	return ""
}
