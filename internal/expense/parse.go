package expense

import (
	"regexp"
	"strconv"
	"strings"
)

// ConfirmationResult classifies a user's reply to a confirmation interrupt.
type ConfirmationResult int

const (
	ConfirmUnclear ConfirmationResult = iota
	Confirmed
	Declined
)

// ParseConfirmation interprets a confirmation reply by keyword match.
// Affirmative wins when both kinds of keyword appear, matching the order
// the workflow checks them in.
func ParseConfirmation(text string) ConfirmationResult {
	lower := strings.ToLower(text)
	if strings.Contains(lower, "yes") || strings.Contains(lower, "confirm") || strings.Contains(lower, "ok") {
		return Confirmed
	}
	if strings.Contains(lower, "no") || strings.Contains(lower, "cancel") {
		return Declined
	}
	return ConfirmUnclear
}

// maxOrdinalCandidates bounds ordinal-word selection. Beyond three
// candidates the ordinal vocabulary runs out, so larger sets require an
// explicit id token and the selection prompt says so.
const maxOrdinalCandidates = 3

var ordinals = map[string]int{
	"first": 0, "one": 0, "1": 0,
	"second": 1, "two": 1, "2": 1,
	"third": 2, "three": 2, "3": 2,
}

var numberTokenRe = regexp.MustCompile(`\d+`)

// ParseSelection resolves a selection reply to a candidate id. Explicit id
// tokens are tried first; ordinal words ("first", "2") apply only when the
// candidate set is small enough for them to be unambiguous.
func ParseSelection(text string, candidates []Candidate) (int64, bool) {
	lower := strings.ToLower(strings.TrimSpace(text))

	// Explicit id token anywhere in the reply.
	for _, tok := range numberTokenRe.FindAllString(lower, -1) {
		n, err := strconv.ParseInt(tok, 10, 64)
		if err != nil {
			continue
		}
		for _, c := range candidates {
			if c.ID == n {
				return c.ID, true
			}
		}
	}

	if len(candidates) > maxOrdinalCandidates {
		return 0, false
	}

	for word, idx := range ordinals {
		if containsWord(lower, word) && idx < len(candidates) {
			return candidates[idx].ID, true
		}
	}
	return 0, false
}

func containsWord(text, word string) bool {
	for _, f := range strings.FieldsFunc(text, func(r rune) bool {
		return r == ' ' || r == ',' || r == '.' || r == '!' || r == '?' || r == '\'' || r == '"'
	}) {
		if f == word {
			return true
		}
	}
	return false
}
