package expense

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/meghx-ai/meghx/internal/llm"
)

// StateVersion guards checkpoint snapshot compatibility.
const StateVersion = 1

// Phase is the workflow position.
type Phase string

const (
	PhaseDrafting             Phase = "drafting"
	PhaseAwaitingConfirmation Phase = "awaiting_confirmation"
	PhaseAwaitingSelection    Phase = "awaiting_selection"
	PhaseExecuting            Phase = "executing"
	PhaseDone                 Phase = "done"
	PhaseCancelled            Phase = "cancelled"
)

// State is the explicit workflow state. Transitions are pure functions that
// return a new State; nothing here mutates in place. All transient fields
// are cleared on the terminal phases.
type State struct {
	Version    int            `json:"version"`
	Phase      Phase          `json:"phase"`
	Action     Action         `json:"action,omitempty"`
	Draft      *Draft         `json:"draft,omitempty"`
	SearchArgs map[string]any `json:"search_args,omitempty"`
	UpdateArgs map[string]any `json:"update_args,omitempty"`
	Candidates []Candidate    `json:"candidates,omitempty"`
	SelectedID int64          `json:"selected_id,omitempty"`
	Confirmed  bool           `json:"confirmed,omitempty"`
	Pending    InterruptType  `json:"pending,omitempty"`
}

// HasPendingInterrupt reports whether the workflow is paused awaiting a
// user reply. While true, the engine must treat any incoming message as a
// resume attempt; it never opens a second interrupt.
func (s State) HasPendingInterrupt() bool {
	return s.Pending != ""
}

// Terminal reports whether the workflow finished.
func (s State) Terminal() bool {
	return s.Phase == PhaseDone || s.Phase == PhaseCancelled
}

// Step is the outcome of a single transition. Exactly one of Interrupt,
// Call, or Reply drives the caller's next move; Done marks a terminal
// transition.
type Step struct {
	State     State
	Interrupt *Interrupt
	Call      *llm.ToolCall
	Reply     string
	Done      bool
}

const (
	replyClarify       = "I couldn't work out the expense details from that. Could you restate the amount, category, and date?"
	replyMissingDraft  = "Please provide expense details like amount, category, and date."
	replyCancelled     = "Expense recording cancelled."
	replyNoMatches     = "I couldn't find any matching expenses for that request. Would you like to try a different amount, date, or note?"
	replyExecuteFailed = "I couldn't save that just now. Your details are kept — reply **YES** to try again or **NO** to cancel."
)

// Begin enters the workflow from a routed expense intent. The tool call is
// the one the model proposed; its arguments are normalized here and never
// executed raw.
func Begin(action Action, call llm.ToolCall) Step {
	switch {
	case action.IsReadOnly():
		// Read-only actions bypass the interrupt machinery entirely.
		return Step{
			State: State{Version: StateVersion, Phase: PhaseExecuting, Action: action},
			Call:  scrubbedCall(string(action), call),
		}

	case action.IsCreate():
		contract, ok := NormalizeArgs(call)
		if !ok {
			// Malformed contract shape: skip the call, ask instead of mutating.
			return Step{State: cancelledState(), Reply: replyClarify, Done: true}
		}
		draft := DraftFromContract(contract)
		if err := draft.Validate(); err != nil {
			return Step{State: cancelledState(), Reply: replyMissingDraft, Done: true}
		}
		next := State{
			Version:    StateVersion,
			Phase:      PhaseAwaitingConfirmation,
			Action:     action,
			Draft:      draft,
			SearchArgs: contract.SearchArgs,
			UpdateArgs: contract.UpdateArgs,
			Pending:    InterruptConfirm,
		}
		return Step{State: next, Interrupt: confirmInterrupt(InterruptConfirm, action, draft,
			"User confirmation required for new expense.")}

	case action.IsMutating():
		contract, ok := NormalizeArgs(call)
		if !ok {
			return Step{State: cancelledState(), Reply: replyClarify, Done: true}
		}
		// No record id is ever taken from the model: locate candidates first.
		next := State{
			Version:    StateVersion,
			Phase:      PhaseExecuting,
			Action:     action,
			SearchArgs: contract.SearchArgs,
			UpdateArgs: contract.UpdateArgs,
		}
		return Step{State: next, Call: newCall(string(ActionFindExpenses), contract.SearchArgs)}
	}

	return Step{State: cancelledState(), Reply: replyClarify, Done: true}
}

// Resume feeds a user's reply into a paused workflow. Unparseable replies
// re-raise the same interrupt type as a retry without losing progress.
func Resume(s State, reply string) Step {
	switch s.Pending {
	case InterruptConfirm, InterruptConfirmRetry:
		return resumeConfirmation(s, reply)
	case InterruptSelection, InterruptSelectionRetry:
		return resumeSelection(s, reply)
	}
	// Nothing pending: clear defensively and finish the turn.
	return Step{State: cancelledState(), Done: true}
}

func resumeConfirmation(s State, reply string) Step {
	switch ParseConfirmation(reply) {
	case Confirmed:
		next := s
		next.Confirmed = true
		next.Pending = ""
		next.Phase = PhaseExecuting
		return Step{State: next, Call: draftCall(s.Action, s.Draft)}

	case Declined:
		return Step{State: cancelledState(), Reply: replyCancelled, Done: true}
	}

	next := s
	next.Pending = InterruptConfirmRetry
	return Step{State: next, Interrupt: &Interrupt{
		Type:    InterruptConfirmRetry,
		Action:  s.Action,
		Draft:   s.Draft,
		Message: "Please reply **YES** to confirm or **NO** to cancel.",
		Reason:  "Invalid confirmation response.",
	}}
}

func resumeSelection(s State, reply string) Step {
	// A selection interrupt without candidates can only come from a corrupt
	// snapshot. Reset instead of retrying against an empty list.
	if len(s.Candidates) == 0 {
		return Step{State: cancelledState(), Reply: replyClarify, Done: true}
	}

	id, ok := ParseSelection(reply, s.Candidates)
	if !ok {
		next := s
		next.Pending = InterruptSelectionRetry
		return Step{State: next, Interrupt: &Interrupt{
			Type:       InterruptSelectionRetry,
			Action:     s.Action,
			Candidates: s.Candidates,
			Message:    fmt.Sprintf("Please reply with a valid ID (e.g., 'ID: %d').", s.Candidates[0].ID),
			Reason:     "Invalid selection response.",
		}}
	}

	next := s
	next.SelectedID = id
	next.Candidates = nil
	next.Pending = ""
	next.Phase = PhaseExecuting
	return Step{State: next, Call: mutateCall(s.Action, s.UpdateArgs, id)}
}

// OnToolResult folds an executed tool result back into the workflow. A find
// result re-enters candidate resolution; any other result is terminal and
// clears every transient field.
func OnToolResult(s State, toolName, payload string) Step {
	if toolName == string(ActionFindExpenses) && s.Action.IsMutating() {
		return onFindResult(s, payload)
	}

	done := cancelledState()
	done.Phase = PhaseDone
	return Step{State: done, Done: true}
}

func onFindResult(s State, payload string) Step {
	candidates := parseCandidates(payload)

	switch len(candidates) {
	case 0:
		// Hard stop: full reset, no interrupt raised.
		return Step{State: cancelledState(), Reply: replyNoMatches, Done: true}

	case 1:
		next := s
		next.SelectedID = candidates[0].ID
		next.Candidates = nil
		next.Phase = PhaseExecuting
		return Step{State: next, Call: mutateCall(s.Action, s.UpdateArgs, candidates[0].ID)}
	}

	next := s
	next.Candidates = candidates
	next.Phase = PhaseAwaitingSelection
	next.Pending = InterruptSelection
	return Step{State: next, Interrupt: &Interrupt{
		Type:       InterruptSelection,
		Action:     s.Action,
		Candidates: candidates,
		Message:    candidateList(s.Action, candidates),
		Reason:     fmt.Sprintf("User selection required for %s.", s.Action.Human()),
	}}
}

// OnExecuteError handles failure of a confirmed mutation after validation
// passed. The draft is deliberately kept so the user is not forced to
// re-enter data; the reply carries retry guidance.
func OnExecuteError(s State) Step {
	if s.Draft != nil && s.Action.IsCreate() {
		next := s
		next.Phase = PhaseAwaitingConfirmation
		next.Confirmed = false
		next.Pending = InterruptConfirmRetry
		return Step{State: next, Interrupt: &Interrupt{
			Type:    InterruptConfirmRetry,
			Action:  s.Action,
			Draft:   s.Draft,
			Message: replyExecuteFailed,
			Reason:  "Tool execution failed after confirmation.",
		}}
	}
	return Step{State: cancelledState(), Reply: replyExecuteFailed, Done: true}
}

func cancelledState() State {
	return State{Version: StateVersion, Phase: PhaseCancelled}
}

func confirmInterrupt(t InterruptType, action Action, draft *Draft, reason string) *Interrupt {
	return &Interrupt{
		Type:    t,
		Action:  action,
		Draft:   draft,
		Message: draft.Summary(),
		Reason:  reason,
	}
}

func newCallID() string {
	return "call_" + strings.ReplaceAll(uuid.New().String(), "-", "")
}

func newCall(name string, args map[string]any) *llm.ToolCall {
	if args == nil {
		args = map[string]any{}
	}
	raw, _ := json.Marshal(args)
	return &llm.ToolCall{ID: newCallID(), Name: name, Args: raw}
}

// scrubbedCall forwards a read-only call with reserved identifier fields
// removed from its flat argument map.
func scrubbedCall(name string, call llm.ToolCall) *llm.ToolCall {
	var args map[string]any
	if err := json.Unmarshal(call.Args, &args); err != nil || args == nil {
		args = map[string]any{}
	}
	for _, key := range reservedArgs {
		delete(args, key)
	}
	return newCall(name, args)
}

func draftCall(action Action, draft *Draft) *llm.ToolCall {
	return newCall(string(action), map[string]any{
		"amount":      draft.Amount,
		"category":    draft.Category,
		"subcategory": draft.Subcategory,
		"date":        draft.Date,
		"note":        draft.Note,
	})
}

func mutateCall(action Action, updateArgs map[string]any, selectedID int64) *llm.ToolCall {
	args := make(map[string]any, len(updateArgs)+1)
	for k, v := range updateArgs {
		args[k] = v
	}
	args["expense_id"] = selectedID
	return newCall(string(action), args)
}

// parseCandidates extracts candidate rows from a find result payload,
// accepting either {"results": [...]} or a bare array. Rows without a
// usable integer id are skipped.
func parseCandidates(payload string) []Candidate {
	var envelope struct {
		Results []json.RawMessage `json:"results"`
	}
	var rows []json.RawMessage
	if err := json.Unmarshal([]byte(payload), &envelope); err == nil && envelope.Results != nil {
		rows = envelope.Results
	} else if err := json.Unmarshal([]byte(payload), &rows); err != nil {
		return nil
	}

	out := make([]Candidate, 0, len(rows))
	for _, row := range rows {
		var c Candidate
		if err := json.Unmarshal(row, &c); err != nil {
			continue
		}
		if c.ID == 0 {
			// Tolerate string-typed ids from loosely typed tool backends.
			var loose struct {
				ID string `json:"expense_id"`
			}
			if err := json.Unmarshal(row, &loose); err != nil {
				continue
			}
			n, err := parseInt(loose.ID)
			if err != nil {
				continue
			}
			c.ID = n
		}
		out = append(out, c)
	}
	return out
}

func parseInt(s string) (int64, error) {
	var n int64
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}
