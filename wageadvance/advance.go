/*
Package wageadvance manages salary advances from request to full repayment.

PURPOSE:
  An employee asks for part of their pay early. The advance is approved,
  disbursed, and then recovered through payroll deductions over a fixed
  number of installments.

STATE MACHINE:
  pending ──approve──▶ approved ──disburse──▶ disbursed ──repay──▶ repaying ──repay──▶ repaid
     │                    │                      │                    │
     └──reject──▶ rejected└──────────────────────┴──────cancel────────┴──▶ cancelled
     └──cancel───────────────────────────────────────────────────────────▶ cancelled

  repaid, rejected and cancelled are terminal.

INVARIANTS:
  1. 0 ≤ AmountRepaid ≤ AmountApproved
  2. AmountRepaid never decreases; each repayment is appended, never edited
  3. Status is repaid iff AmountRepaid == AmountApproved, and FullyRepaidAt
     is stamped in the same write
  4. AmountRepaid equals the sum of the advance's repayment ledger entries

INSTALLMENTS:
  Installment = floor(AmountApproved / n) in kobo. The remainder is absorbed
  by the final installment, so the schedule always sums to AmountApproved.

SEE ALSO:
  - manager.go: Operations and persistence
  - eligibility.go: How much an employee may request
*/
package wageadvance

import (
	"time"

	"github.com/warp/payroll-engine/generic"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusDisbursed Status = "disbursed"
	StatusRepaying  Status = "repaying"
	StatusRepaid    Status = "repaid"
	StatusCancelled Status = "cancelled"
)

type Action string

const (
	ActionApprove  Action = "approve"
	ActionReject   Action = "reject"
	ActionDisburse Action = "disburse"
	ActionRepay    Action = "repay"
	ActionSettle   Action = "settle" // final repayment
	ActionCancel   Action = "cancel"
)

type rule = generic.Rule[Status, Action]

var transitions = generic.NewTransitions("wage_advance",
	rule{From: []Status{StatusPending}, Action: ActionApprove, To: StatusApproved},
	rule{From: []Status{StatusPending}, Action: ActionReject, To: StatusRejected},
	rule{From: []Status{StatusApproved}, Action: ActionDisburse, To: StatusDisbursed},
	rule{From: []Status{StatusDisbursed, StatusRepaying}, Action: ActionRepay, To: StatusRepaying},
	rule{From: []Status{StatusDisbursed, StatusRepaying}, Action: ActionSettle, To: StatusRepaid},
	rule{From: []Status{StatusPending, StatusApproved, StatusDisbursed, StatusRepaying}, Action: ActionCancel, To: StatusCancelled},
)

// Repayment is one recovered amount. Append-only.
type Repayment struct {
	Sequence     int           `json:"sequence"`
	EntryID      string        `json:"entry_id"`
	Amount       generic.Money `json:"amount"`
	BalanceAfter generic.Money `json:"balance_after"`
	Reference    string        `json:"reference,omitempty"` // e.g. payslip ID
	RecordedAt   time.Time     `json:"recorded_at"`
}

// WageAdvance is the aggregate. Mutated only through Manager operations.
type WageAdvance struct {
	ID         string             `json:"id"`
	TenantID   generic.TenantID   `json:"tenant_id"`
	ShopID     generic.ShopID     `json:"shop_id"`
	EmployeeID generic.EmployeeID `json:"employee_id"`

	AmountRequested       generic.Money `json:"amount_requested"`
	AmountApproved        generic.Money `json:"amount_approved"`
	AmountRepaid          generic.Money `json:"amount_repaid"`
	RepaymentInstallments int           `json:"repayment_installments"`
	Reason                string        `json:"reason,omitempty"`

	Status          Status     `json:"status"`
	RequestedAt     time.Time  `json:"requested_at"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	DisbursedAt     *time.Time `json:"disbursed_at,omitempty"`
	FullyRepaidAt   *time.Time `json:"fully_repaid_at,omitempty"`
	ClosedAt        *time.Time `json:"closed_at,omitempty"`
	ClosingNote     string     `json:"closing_note,omitempty"`
	DisbursementRef string     `json:"disbursement_ref,omitempty"`

	// WrittenOff is the balance dropped when a disbursed advance was cancelled.
	WrittenOff generic.Money `json:"written_off,omitempty"`

	Repayments []Repayment            `json:"repayments"`
	History    []generic.HistoryEvent `json:"history"`
}

// RemainingBalance is what is still owed on a disbursed advance, or what
// would be owed on an approved one.
func (a *WageAdvance) RemainingBalance() generic.Money {
	switch a.Status {
	case StatusPending:
		return a.AmountRequested
	case StatusApproved, StatusDisbursed, StatusRepaying:
		return a.AmountApproved.Sub(a.AmountRepaid)
	default:
		return 0
	}
}

// IsActive reports whether the advance still counts against eligibility.
func (a *WageAdvance) IsActive() bool {
	switch a.Status {
	case StatusPending, StatusApproved, StatusDisbursed, StatusRepaying:
		return true
	}
	return false
}

// IsTerminal reports whether no further action is possible.
func (a *WageAdvance) IsTerminal() bool {
	return transitions.IsTerminal(a.Status)
}

// AllowedActions lists what can be done next.
func (a *WageAdvance) AllowedActions() []Action {
	return transitions.Allowed(a.Status)
}

func (a *WageAdvance) transition(action Action, actor generic.Actor, at time.Time, note string) error {
	to, err := transitions.Next(a.ID, a.Status, action)
	if err != nil {
		return err
	}
	a.History = generic.AppendHistory(a.History, string(action), string(a.Status), string(to), actor, at, note)
	a.Status = to
	return nil
}

// =============================================================================
// INSTALLMENTS
// =============================================================================

// Schedule splits amount into n installments. Every installment is
// floor(amount/n) except the last, which absorbs the remainder.
func Schedule(amount generic.Money, n int) []generic.Money {
	if n <= 0 || amount <= 0 {
		return nil
	}
	q := amount / generic.Money(n)
	r := amount - q*generic.Money(n)
	out := make([]generic.Money, n)
	for i := range out {
		out[i] = q
	}
	out[n-1] += r
	return out
}

// NextInstallment is the amount payroll should deduct next.
func (a *WageAdvance) NextInstallment() generic.Money {
	if a.Status != StatusDisbursed && a.Status != StatusRepaying {
		return 0
	}
	remaining := a.AmountApproved.Sub(a.AmountRepaid)
	if !remaining.IsPositive() || a.RepaymentInstallments <= 0 {
		return 0
	}
	schedule := Schedule(a.AmountApproved, a.RepaymentInstallments)
	regular, last := schedule[0], schedule[len(schedule)-1]
	if remaining <= last {
		return remaining
	}
	return regular.Min(remaining)
}
