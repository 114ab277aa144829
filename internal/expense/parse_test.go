package expense

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseConfirmation(t *testing.T) {
	tests := []struct {
		reply string
		want  ConfirmationResult
	}{
		{"yes", Confirmed},
		{"Yes please", Confirmed},
		{"ok go ahead", Confirmed},
		{"confirm it", Confirmed},
		{"no", Declined},
		{"cancel that", Declined},
		{"hmm what was the amount again?", ConfirmUnclear},
		{"", ConfirmUnclear},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseConfirmation(tt.reply), tt.reply)
	}
}

func twoCandidates() []Candidate {
	return []Candidate{
		{ID: 7, Amount: 12.5, Date: "2026-08-01", Category: "food"},
		{ID: 9, Amount: 30.0, Date: "2026-08-03", Category: "food"},
	}
}

func TestParseSelection_ExplicitID(t *testing.T) {
	id, ok := ParseSelection("ID: 9", twoCandidates())
	assert.True(t, ok)
	assert.EqualValues(t, 9, id)

	id, ok = ParseSelection("delete 7 please", twoCandidates())
	assert.True(t, ok)
	assert.EqualValues(t, 7, id)
}

func TestParseSelection_OrdinalWords(t *testing.T) {
	id, ok := ParseSelection("the second one", twoCandidates())
	assert.True(t, ok)
	assert.EqualValues(t, 9, id)

	id, ok = ParseSelection("first", twoCandidates())
	assert.True(t, ok)
	assert.EqualValues(t, 7, id)

	// "2" is an ordinal when it matches no candidate id
	id, ok = ParseSelection("2", twoCandidates())
	assert.True(t, ok)
	assert.EqualValues(t, 9, id)
}

func TestParseSelection_IDTokenWinsOverOrdinal(t *testing.T) {
	// "7" is a candidate id, not the (nonexistent) seventh entry
	id, ok := ParseSelection("7", twoCandidates())
	assert.True(t, ok)
	assert.EqualValues(t, 7, id)
}

func TestParseSelection_OrdinalsRejectedForLargeSets(t *testing.T) {
	many := []Candidate{{ID: 11}, {ID: 12}, {ID: 13}, {ID: 14}}

	_, ok := ParseSelection("the second one", many)
	assert.False(t, ok, "ordinals require an explicit id beyond %d candidates", maxOrdinalCandidates)

	id, ok := ParseSelection("ID: 13", many)
	assert.True(t, ok)
	assert.EqualValues(t, 13, id)
}

func TestParseSelection_Unparseable(t *testing.T) {
	_, ok := ParseSelection("the big one", twoCandidates())
	assert.False(t, ok)

	_, ok = ParseSelection("", twoCandidates())
	assert.False(t, ok)

	// a number that matches nothing and is out of ordinal range
	_, ok = ParseSelection("42", twoCandidates())
	assert.False(t, ok)
}
