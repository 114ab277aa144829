package memory

import (
	"encoding/hex"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

// EpisodicTurn is one short chronological exchange kept in the rolling
// per-thread window.
type EpisodicTurn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// SemanticFact is a durable fact about a user. Encrypted facts hold
// ciphertext in Fact and are decrypted on read.
type SemanticFact struct {
	ID             int64     `json:"id"`
	UserID         int64     `json:"user_id"`
	Fact           string    `json:"fact"`
	Fingerprint    string    `json:"fingerprint"`
	Confidence     float64   `json:"confidence"`
	Encrypted      bool      `json:"encrypted"`
	RetentionUntil time.Time `json:"retention_until"`
	CreatedAt      time.Time `json:"created_at"`
}

// Rule is one behavioral instruction in a user's procedural rule set.
type Rule struct {
	Rule       string  `json:"rule"`
	Confidence float64 `json:"confidence"`
}

// Settings are per-user memory preferences. Missing rows fall back to
// DefaultSettings.
type Settings struct {
	AllowEpisodic         bool `json:"allow_episodic"`
	AllowSemantic         bool `json:"allow_semantic"`
	AllowProcedural       bool `json:"allow_procedural"`
	AllowSummary          bool `json:"allow_long_conversation_memory"`
	SemanticRetentionDays int  `json:"semantic_retention_days"`
}

// DefaultSettings returns the opt-out defaults applied when a user has no
// settings row.
func DefaultSettings(retentionDays int) Settings {
	return Settings{
		AllowEpisodic:         true,
		AllowSemantic:         true,
		AllowProcedural:       true,
		AllowSummary:          true,
		SemanticRetentionDays: retentionDays,
	}
}

// Fingerprint returns a stable identity for a fact: the text is lowercased
// and whitespace-collapsed before hashing, so trivial rephrasings of spacing
// and case produce the same fingerprint.
func Fingerprint(text string) string {
	norm := strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(text))), " ")
	sum, _ := blake2b.New(12, nil)
	sum.Write([]byte(norm))
	return "fp_" + hex.EncodeToString(sum.Sum(nil))
}
