package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/meghx-ai/meghx/internal/crypto"
	"github.com/meghx-ai/meghx/internal/llm"
	"github.com/meghx-ai/meghx/internal/metrics"
)

const extractionPrompt = `You are a highly conservative memory extraction system. Your ONLY job is to identify and extract durable, explicitly stated personal facts, preferences, or behavioral rules about the USER.

STRICT RULES:
- Extract ONLY information explicitly stated by the user in the conversation.
- NEVER extract general knowledge, facts about third parties, or anything inferred rather than stated.
- For procedural rules: only extract if the user says "Always do X" or "From now on, do Y".
- If nothing meets the criteria with high confidence, return empty lists.
- Respond with exactly one JSON object, no extra text:
  {"episodic":[{"role":"user","content":"...","confidence":0.9}],
   "semantic":[{"fact":"...","confidence":0.9}],
   "procedural":[{"rule":"...","confidence":0.9}]}
- Keep lists short: at most 5 episodic, 3 semantic, 2 procedural items.`

const maxRuleChars = 200

type extraction struct {
	Episodic []struct {
		Role       string  `json:"role"`
		Content    string  `json:"content"`
		Confidence float64 `json:"confidence"`
	} `json:"episodic"`
	Semantic []struct {
		Fact       string  `json:"fact"`
		Confidence float64 `json:"confidence"`
	} `json:"semantic"`
	Procedural []struct {
		Rule       string  `json:"rule"`
		Confidence float64 `json:"confidence"`
	} `json:"procedural"`
}

// Extractor mines recent conversation for durable memories after each turn.
// It runs off the reply path; failures are logged and counted, never
// surfaced to the user.
type Extractor struct {
	provider   llm.Provider
	episodic   *EpisodicStore
	semantic   SemanticStore
	procedural ProceduralStore
	settings   SettingsStore
	logger     *slog.Logger

	window    int
	threshold float64
}

// NewExtractor creates a memory extractor. window bounds how many trailing
// messages are examined, threshold drops low-confidence items.
func NewExtractor(
	provider llm.Provider,
	episodic *EpisodicStore,
	semantic SemanticStore,
	procedural ProceduralStore,
	settings SettingsStore,
	logger *slog.Logger,
	window int,
	threshold float64,
) *Extractor {
	return &Extractor{
		provider:   provider,
		episodic:   episodic,
		semantic:   semantic,
		procedural: procedural,
		settings:   settings,
		logger:     logger,
		window:     window,
		threshold:  threshold,
	}
}

// Counts reports how many items an extraction pass saved per tier.
type Counts struct {
	Episodic   int
	Semantic   int
	Procedural int
}

// Total returns the number of items saved across all tiers.
func (c Counts) Total() int {
	return c.Episodic + c.Semantic + c.Procedural
}

// Extract runs one extraction pass over the trailing window of the
// conversation and persists whatever clears the confidence threshold and the
// user's memory settings.
func (e *Extractor) Extract(ctx context.Context, userID int64, threadID string, messages []llm.Message) (Counts, error) {
	metrics.ExtractionTotal.Inc()
	start := time.Now()
	defer func() {
		metrics.ExtractionLatency.Observe(time.Since(start).Seconds())
	}()

	var counts Counts

	window := trailingWindow(messages, e.window)
	if len(window) == 0 {
		return counts, nil
	}

	settings, err := e.settings.Get(ctx, userID)
	if err != nil {
		metrics.ExtractionFailures.Inc()
		return counts, fmt.Errorf("loading memory settings: %w", err)
	}

	result, err := e.invoke(ctx, window)
	if err != nil {
		metrics.ExtractionFailures.Inc()
		return counts, fmt.Errorf("extraction model call: %w", err)
	}

	if settings.AllowEpisodic {
		counts.Episodic = e.saveEpisodic(ctx, userID, threadID, result)
	}
	if settings.AllowSemantic {
		counts.Semantic = e.saveSemantic(ctx, userID, settings, result)
	}
	if settings.AllowProcedural {
		counts.Procedural = e.saveProcedural(ctx, userID, result)
	}
	return counts, nil
}

func (e *Extractor) invoke(ctx context.Context, window []llm.Message) (*extraction, error) {
	resp, err := e.provider.Invoke(ctx, llm.Request{
		System:   extractionPrompt,
		Messages: []llm.Message{llm.UserMessage(renderTranscript(window))},
	})
	if err != nil {
		return nil, err
	}

	var result extraction
	if err := json.Unmarshal([]byte(stripFences(resp.Content)), &result); err != nil {
		return nil, fmt.Errorf("parsing extraction output: %w", err)
	}
	return &result, nil
}

func (e *Extractor) saveEpisodic(ctx context.Context, userID int64, threadID string, result *extraction) int {
	saved := 0
	for _, item := range result.Episodic {
		if item.Confidence < e.threshold || strings.TrimSpace(item.Content) == "" {
			continue
		}
		err := e.episodic.PushTurn(ctx, userID, threadID, EpisodicTurn{
			Role:    item.Role,
			Content: strings.TrimSpace(item.Content),
		})
		if err != nil {
			e.logger.Warn("episodic save failed", "user_id", userID, "error", err)
			continue
		}
		metrics.MemoryExtractedTotal.WithLabelValues("episodic").Inc()
		saved++
	}
	return saved
}

func (e *Extractor) saveSemantic(ctx context.Context, userID int64, settings Settings, result *extraction) int {
	saved := 0
	for _, item := range result.Semantic {
		if item.Confidence < e.threshold {
			continue
		}
		fact := strings.TrimSpace(item.Fact)
		if fact == "" {
			continue
		}

		piiType := crypto.DetectPII(fact)
		if piiType != "" {
			metrics.PIIEncryptedTotal.WithLabelValues(piiType).Inc()
		}

		_, err := e.semantic.Save(ctx, SemanticFact{
			UserID:         userID,
			Fact:           fact,
			Fingerprint:    Fingerprint(fact),
			Confidence:     item.Confidence,
			Encrypted:      piiType != "",
			RetentionUntil: time.Now().UTC().AddDate(0, 0, settings.SemanticRetentionDays),
		})
		if err != nil {
			e.logger.Warn("semantic save failed", "user_id", userID, "error", err)
			continue
		}
		metrics.MemoryExtractedTotal.WithLabelValues("semantic").Inc()
		saved++
	}
	return saved
}

func (e *Extractor) saveProcedural(ctx context.Context, userID int64, result *extraction) int {
	var rules []Rule
	for _, item := range result.Procedural {
		if item.Confidence < e.threshold {
			continue
		}
		text := strings.TrimSpace(item.Rule)
		if text == "" {
			continue
		}
		if len(text) > maxRuleChars {
			text = text[:maxRuleChars]
		}
		rules = append(rules, Rule{Rule: text, Confidence: item.Confidence})
	}
	if len(rules) == 0 {
		return 0
	}

	if err := e.procedural.SaveRules(ctx, userID, rules); err != nil {
		e.logger.Warn("procedural save failed", "user_id", userID, "error", err)
		return 0
	}
	metrics.MemoryExtractedTotal.WithLabelValues("procedural").Inc()
	return len(rules)
}

// trailingWindow returns the last n messages that carry text content.
func trailingWindow(messages []llm.Message, n int) []llm.Message {
	var window []llm.Message
	for i := len(messages) - 1; i >= 0 && len(window) < n; i-- {
		if strings.TrimSpace(messages[i].Content) == "" {
			continue
		}
		window = append(window, messages[i])
	}
	// restore chronological order
	for i, j := 0, len(window)-1; i < j; i, j = i+1, j-1 {
		window[i], window[j] = window[j], window[i]
	}
	return window
}

// stripFences removes a markdown code fence wrapper if the model added one.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
