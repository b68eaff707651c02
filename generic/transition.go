/*
transition.go - Explicit state machines

PURPOSE:
  Wage advances, purchase orders and pay runs are long-lived aggregates
  that only change through named actions. Each domain declares its legal
  moves once as a Transitions table; every mutation asks the table for the
  next status before touching anything else.

  ┌─────────┐  action   ┌─────────┐
  │  from   │ ────────▶ │   to    │     anything not in the table is a
  └─────────┘           └─────────┘     StateTransitionError, no side effects

HISTORY:
  Every successful transition appends a HistoryEvent to the aggregate.
  History is append-only and numbered from 1.

SEE ALSO:
  - wageadvance/advance.go, purchase/order.go, payrun/payrun.go
*/
package generic

import (
	"sort"
	"time"
)

// Rule allows Action from any of From, landing in To.
type Rule[S ~string, A ~string] struct {
	From   []S
	Action A
	To     S
}

// Transitions is an immutable transition table.
type Transitions[S ~string, A ~string] struct {
	aggregate string
	table     map[S]map[A]S
}

// NewTransitions builds a table for the named aggregate.
func NewTransitions[S ~string, A ~string](aggregate string, rules ...Rule[S, A]) Transitions[S, A] {
	t := Transitions[S, A]{aggregate: aggregate, table: make(map[S]map[A]S)}
	for _, r := range rules {
		for _, from := range r.From {
			if t.table[from] == nil {
				t.table[from] = make(map[A]S)
			}
			t.table[from][r.Action] = r.To
		}
	}
	return t
}

// Next returns the status reached by applying action in status from.
func (t Transitions[S, A]) Next(id string, from S, action A) (S, error) {
	if to, ok := t.table[from][action]; ok {
		return to, nil
	}
	return from, &StateTransitionError{
		Aggregate: t.aggregate,
		ID:        id,
		From:      string(from),
		Action:    string(action),
	}
}

// Can reports whether action is legal from status.
func (t Transitions[S, A]) Can(from S, action A) bool {
	_, ok := t.table[from][action]
	return ok
}

// Allowed lists legal actions from status, sorted for stable output.
func (t Transitions[S, A]) Allowed(from S) []A {
	actions := make([]A, 0, len(t.table[from]))
	for a := range t.table[from] {
		actions = append(actions, a)
	}
	sort.Slice(actions, func(i, j int) bool { return actions[i] < actions[j] })
	return actions
}

// IsTerminal reports whether no action leaves status.
func (t Transitions[S, A]) IsTerminal(status S) bool {
	return len(t.table[status]) == 0
}

// =============================================================================
// HISTORY
// =============================================================================

// HistoryEvent records one transition. Never edited after append.
type HistoryEvent struct {
	Sequence int       `json:"sequence"`
	Action   string    `json:"action"`
	From     string    `json:"from"`
	To       string    `json:"to"`
	Actor    Actor     `json:"actor"`
	At       time.Time `json:"at"`
	Note     string    `json:"note,omitempty"`
}

// AppendHistory returns history with a new event numbered after the last.
func AppendHistory(history []HistoryEvent, action, from, to string, actor Actor, at time.Time, note string) []HistoryEvent {
	return append(history, HistoryEvent{
		Sequence: len(history) + 1,
		Action:   action,
		From:     from,
		To:       to,
		Actor:    actor,
		At:       at,
		Note:     note,
	})
}
