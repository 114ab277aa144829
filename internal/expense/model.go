package expense

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Action is the closed set of financial-record operations. Unknown tool
// names map to ActionUnsupported instead of passing through by string.
type Action string

const (
	ActionRecordExpense  Action = "record_expense"
	ActionRecordCredit   Action = "record_credit"
	ActionUpdateExpense  Action = "update_expense"
	ActionRemoveExpense  Action = "remove_expense"
	ActionFindExpenses   Action = "find_expenses"
	ActionListExpenses   Action = "list_user_expenses"
	ActionListByCategory Action = "list_cat_subcat_expense"
	ActionSummarize      Action = "summarize_user_expenses"
	ActionUnsupported    Action = "unsupported"
)

var actionsByName = map[string]Action{
	string(ActionRecordExpense):  ActionRecordExpense,
	string(ActionRecordCredit):   ActionRecordCredit,
	string(ActionUpdateExpense):  ActionUpdateExpense,
	string(ActionRemoveExpense):  ActionRemoveExpense,
	string(ActionFindExpenses):   ActionFindExpenses,
	string(ActionListExpenses):   ActionListExpenses,
	string(ActionListByCategory): ActionListByCategory,
	string(ActionSummarize):      ActionSummarize,
}

// ParseAction maps a tool name to its Action, or ActionUnsupported.
func ParseAction(name string) Action {
	if a, ok := actionsByName[name]; ok {
		return a
	}
	return ActionUnsupported
}

// IsExpenseTool reports whether a tool name belongs to the expense tool set.
func IsExpenseTool(name string) bool {
	_, ok := actionsByName[name]
	return ok
}

// IsCreate reports whether the action records a new expense or credit.
func (a Action) IsCreate() bool {
	return a == ActionRecordExpense || a == ActionRecordCredit
}

// IsMutating reports whether the action modifies an existing record.
func (a Action) IsMutating() bool {
	return a == ActionUpdateExpense || a == ActionRemoveExpense
}

// IsReadOnly reports whether the action bypasses the HITL machinery.
func (a Action) IsReadOnly() bool {
	switch a {
	case ActionFindExpenses, ActionListExpenses, ActionListByCategory, ActionSummarize:
		return true
	}
	return false
}

// Human renders the action for user-facing prompts ("update expense").
func (a Action) Human() string {
	return strings.ReplaceAll(string(a), "_", " ")
}

// Draft is a working financial record awaiting user confirmation. It never
// carries user, thread, or record identifiers: those are injected at
// dispatch time, never taken from the model.
type Draft struct {
	Amount      float64 `json:"amount" validate:"required,gt=0"`
	Category    string  `json:"category" validate:"required"`
	Subcategory string  `json:"subcategory"`
	Date        string  `json:"date"`
	Note        string  `json:"note"`
}

var validate = validator.New()

// Validate checks the draft is complete enough to be worth confirming.
func (d *Draft) Validate() error {
	return validate.Struct(d)
}

// Summary renders the draft for the confirmation interrupt.
func (d *Draft) Summary() string {
	var b strings.Builder
	b.WriteString("## Confirm Expense\n\n")
	fmt.Fprintf(&b, "- **Amount**: %.2f\n", d.Amount)
	fmt.Fprintf(&b, "- **Category**: %s/%s\n", d.Category, d.Subcategory)
	fmt.Fprintf(&b, "- **Date**: %s\n", d.Date)
	fmt.Fprintf(&b, "- **Note**: %s\n\n", d.Note)
	b.WriteString("Reply **YES** to confirm or **NO** to cancel.")
	return b.String()
}

// Candidate is one matching record from a find operation. ID is the
// canonical integer identifier.
type Candidate struct {
	ID       int64   `json:"expense_id"`
	Amount   float64 `json:"amount"`
	Date     string  `json:"date"`
	Category string  `json:"category"`
}

// InterruptType tags what kind of user reply resolves a pause.
type InterruptType string

const (
	InterruptConfirm        InterruptType = "confirm_expense"
	InterruptConfirmRetry   InterruptType = "confirm_expense_retry"
	InterruptSelection      InterruptType = "expense_selection"
	InterruptSelectionRetry InterruptType = "expense_selection_retry"
)

// Interrupt is a paused execution awaiting a specific kind of user reply.
// At most one is active per thread.
type Interrupt struct {
	Type       InterruptType `json:"type"`
	Action     Action        `json:"action"`
	Message    string        `json:"message"`
	Reason     string        `json:"reason"`
	Draft      *Draft        `json:"draft,omitempty"`
	Candidates []Candidate   `json:"candidates,omitempty"`
}

func candidateList(action Action, candidates []Candidate) string {
	var b strings.Builder
	b.WriteString("## Select Expense\n\nMultiple matches found:\n")
	for _, c := range candidates {
		fmt.Fprintf(&b, "- ID: %d, Amount: %.2f, Date: %s, Category: %s\n", c.ID, c.Amount, c.Date, c.Category)
	}
	if len(candidates) > maxOrdinalCandidates {
		fmt.Fprintf(&b, "\nReply with the exact ID of the one to %s (e.g., 'ID: %d').", action.Human(), candidates[0].ID)
	} else {
		fmt.Fprintf(&b, "\nReply with the ID or position of the one to %s (e.g., 'ID: %d' or 'the first one').", action.Human(), candidates[0].ID)
	}
	return b.String()
}
