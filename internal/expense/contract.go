package expense

import (
	"encoding/json"

	"github.com/meghx-ai/meghx/internal/llm"
)

// Contract is the strict two-bucket argument shape required for any
// financial-record mutation: search_args identify the existing record,
// update_args carry the target values. A field appears in at most one
// bucket.
type Contract struct {
	SearchArgs map[string]any `json:"search_args"`
	UpdateArgs map[string]any `json:"update_args"`
}

// identifier fields are injected by the engine at dispatch time and never
// trusted from model output.
var reservedArgs = []string{"user_id", "thread_id", "expense_id"}

// NormalizeArgs reshapes a model-proposed mutating tool call into the
// Contract. It returns ok=false when the args carry neither bucket: such a
// call is malformed and must be skipped, never executed; the caller asks a
// clarifying question instead. No error is ever raised here.
//
// Absent buckets default to empty maps. Keys present in both buckets are
// kept in update_args only, preserving the disjointness invariant. Reserved
// identifier fields are scrubbed from both buckets.
func NormalizeArgs(call llm.ToolCall) (Contract, bool) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(call.Args, &raw); err != nil {
		return Contract{}, false
	}

	// Unwrap a nested {"args": {...}} envelope some models produce.
	if inner, ok := raw["args"]; ok {
		var unwrapped map[string]json.RawMessage
		if err := json.Unmarshal(inner, &unwrapped); err == nil {
			if _, hasSearch := unwrapped["search_args"]; hasSearch {
				raw = unwrapped
			} else if _, hasUpdate := unwrapped["update_args"]; hasUpdate {
				raw = unwrapped
			}
		}
	}

	searchRaw, hasSearch := raw["search_args"]
	updateRaw, hasUpdate := raw["update_args"]
	if !hasSearch && !hasUpdate {
		return Contract{}, false
	}

	c := Contract{
		SearchArgs: decodeBucket(searchRaw),
		UpdateArgs: decodeBucket(updateRaw),
	}

	for _, key := range reservedArgs {
		delete(c.SearchArgs, key)
		delete(c.UpdateArgs, key)
	}
	for key := range c.UpdateArgs {
		delete(c.SearchArgs, key)
	}

	return c, true
}

func decodeBucket(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return map[string]any{}
	}
	return m
}

// DraftFromContract builds a Draft from the update bucket, applying the
// default category and subcategory.
func DraftFromContract(c Contract) *Draft {
	d := &Draft{
		Amount:      floatArg(c.UpdateArgs, "amount"),
		Category:    stringArg(c.UpdateArgs, "category"),
		Subcategory: stringArg(c.UpdateArgs, "subcategory"),
		Date:        stringArg(c.UpdateArgs, "date"),
		Note:        stringArg(c.UpdateArgs, "note"),
	}
	if d.Category == "" {
		d.Category = "miscellaneous"
	}
	if d.Subcategory == "" {
		d.Subcategory = "other"
	}
	return d
}

func stringArg(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func floatArg(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	}
	return 0
}
