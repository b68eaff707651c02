/*
Package payrun turns a payroll period into approved, paid payslips.

PURPOSE:
  A PayrollPeriod names the dates being paid for one shop. A PayRun
  computes one payslip per active employee of the shop, collects approval,
  and on completion records the side effects that money has left: wage
  advance repayments and closing the period.

  Tax tables are locked as soon as a calculation references them. A shop
  has at most one run between calculation and completion, so a wage
  advance installment is never deducted by two runs.

STATE MACHINE:
  draft ─calculate─▶ calculating ─calculated─▶ pending_review ─submit─▶ pending_approval ─approve─▶ approved ─process─▶ processing ─complete─▶ completed
                          │                      │    ▲                      │
                          └──fail──▶ draft       │    └──────reopen──────────┘ (approval rejected)
                                                 └─calculate (recalculate)
  cancel is allowed from every non-terminal status.

  A completed run is never recalculated. Corrections go in a new period.

ITEMS:
  pending     not computed yet
  calculated  payslip present and reconciled
  error       ConfigurationError or calculation failure, message recorded
  excluded    left out on purpose by the reviewer

  Run totals only sum calculated items.

SEE ALSO:
  - orchestrator.go: Fan-out/fan-in calculation and the lifecycle commands
  - bank.go: Bank payment schedule with NUBAN validation
  - statutory.go: PAYE, pension and NHF remittance schedules
*/
package payrun

import (
	"fmt"
	"time"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// PAYROLL PERIOD
// =============================================================================

type PeriodStatus string

const (
	PeriodOpen   PeriodStatus = "open"
	PeriodClosed PeriodStatus = "closed"
)

type PayrollPeriod struct {
	ID        string            `json:"id"`
	TenantID  generic.TenantID  `json:"tenant_id"`
	ShopID    generic.ShopID    `json:"shop_id"`
	Name      string            `json:"name"`
	Frequency generic.Frequency `json:"frequency"`
	Period    generic.Period    `json:"period"`
	PayDate   time.Time         `json:"pay_date"`
	Status    PeriodStatus      `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
	ClosedAt  *time.Time        `json:"closed_at,omitempty"`
}

// =============================================================================
// PAY RUN
// =============================================================================

type Status string

const (
	StatusDraft           Status = "draft"
	StatusCalculating     Status = "calculating"
	StatusPendingReview   Status = "pending_review"
	StatusPendingApproval Status = "pending_approval"
	StatusApproved        Status = "approved"
	StatusProcessing      Status = "processing"
	StatusCompleted       Status = "completed"
	StatusCancelled       Status = "cancelled"
)

// ErrRunInProgress is returned when a shop already has a run between
// calculation and completion.
var ErrRunInProgress = fmt.Errorf("another pay run is in progress: %w", generic.ErrInvalidTransition)

type Action string

const (
	ActionCalculate  Action = "calculate"
	ActionCalculated Action = "calculated"
	ActionFail       Action = "fail"
	ActionSubmit     Action = "submit"
	ActionApprove    Action = "approve"
	ActionReopen     Action = "reopen"
	ActionProcess    Action = "process"
	ActionComplete   Action = "complete"
	ActionCancel     Action = "cancel"
)

type rule = generic.Rule[Status, Action]

var transitions = generic.NewTransitions("pay_run",
	rule{From: []Status{StatusDraft, StatusPendingReview}, Action: ActionCalculate, To: StatusCalculating},
	rule{From: []Status{StatusCalculating}, Action: ActionCalculated, To: StatusPendingReview},
	rule{From: []Status{StatusCalculating}, Action: ActionFail, To: StatusDraft},
	rule{From: []Status{StatusPendingReview}, Action: ActionSubmit, To: StatusPendingApproval},
	rule{From: []Status{StatusPendingApproval}, Action: ActionApprove, To: StatusApproved},
	rule{From: []Status{StatusPendingApproval}, Action: ActionReopen, To: StatusPendingReview},
	rule{From: []Status{StatusApproved}, Action: ActionProcess, To: StatusProcessing},
	rule{From: []Status{StatusProcessing}, Action: ActionComplete, To: StatusCompleted},
	rule{From: []Status{StatusDraft, StatusCalculating, StatusPendingReview, StatusPendingApproval, StatusApproved, StatusProcessing},
		Action: ActionCancel, To: StatusCancelled},
)

type ItemStatus string

const (
	ItemPending    ItemStatus = "pending"
	ItemCalculated ItemStatus = "calculated"
	ItemError      ItemStatus = "error"
	ItemExcluded   ItemStatus = "excluded"
)

type PayRunItem struct {
	EmployeeID   generic.EmployeeID `json:"employee_id"`
	EmployeeName string             `json:"employee_name"`
	Role         payroll.Role       `json:"role"`
	Status       ItemStatus         `json:"status"`
	ErrorMessage string             `json:"error_message,omitempty"`
	Payslip      *payroll.Payslip   `json:"payslip,omitempty"`

	// AdvanceOverDeducted is advance deduction the advance could not absorb
	// at completion. It is owed back to the employee.
	AdvanceOverDeducted generic.Money `json:"advance_over_deducted,omitempty"`
}

type PayRun struct {
	ID        string            `json:"id"`
	PeriodID  string            `json:"period_id"`
	TenantID  generic.TenantID  `json:"tenant_id"`
	ShopID    generic.ShopID    `json:"shop_id"`
	Period    generic.Period    `json:"period"`
	Frequency generic.Frequency `json:"frequency"`
	Status    Status            `json:"status"`

	// Inputs and exclusions set before calculation.
	Inputs   map[generic.EmployeeID]payroll.PeriodInputs `json:"inputs,omitempty"`
	Excluded []generic.EmployeeID                        `json:"excluded,omitempty"`

	Items []PayRunItem `json:"items"`

	TotalGross           generic.Money `json:"total_gross"`
	TotalDeductions      generic.Money `json:"total_deductions"`
	TotalNet             generic.Money `json:"total_net"`
	TotalPAYE            generic.Money `json:"total_paye"`
	TotalEmployerPension generic.Money `json:"total_employer_pension"`
	CalculatedCount      int           `json:"calculated_count"`
	ErrorCount           int           `json:"error_count"`
	ExcludedCount        int           `json:"excluded_count"`

	// Set at completion; see PayRunItem.AdvanceOverDeducted.
	TotalAdvanceOverDeducted generic.Money `json:"total_advance_over_deducted,omitempty"`

	RequiresOwnerApproval bool     `json:"requires_owner_approval"`
	OwnerApprovalReasons  []string `json:"owner_approval_reasons,omitempty"`
	ApprovalChainID       string   `json:"approval_chain_id,omitempty"`
	TaxTableIDs           []string `json:"tax_table_ids,omitempty"`
	Warnings              []string `json:"warnings,omitempty"`

	CreatedAt    time.Time  `json:"created_at"`
	CalculatedAt *time.Time `json:"calculated_at,omitempty"`
	ApprovedAt   *time.Time `json:"approved_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`

	History []generic.HistoryEvent `json:"history"`
}

// Item returns the item for an employee.
func (r *PayRun) Item(id generic.EmployeeID) (*PayRunItem, bool) {
	for i := range r.Items {
		if r.Items[i].EmployeeID == id {
			return &r.Items[i], true
		}
	}
	return nil, false
}

// Payslips returns the payslips of calculated items in item order.
func (r *PayRun) Payslips() []*payroll.Payslip {
	var out []*payroll.Payslip
	for _, it := range r.Items {
		if it.Status == ItemCalculated && it.Payslip != nil {
			out = append(out, it.Payslip)
		}
	}
	return out
}

func (r *PayRun) IsExcluded(id generic.EmployeeID) bool {
	for _, ex := range r.Excluded {
		if ex == id {
			return true
		}
	}
	return false
}

// InProgress reports whether the run has started calculating and has not
// yet completed or been cancelled.
func (r *PayRun) InProgress() bool {
	switch r.Status {
	case StatusDraft, StatusCompleted, StatusCancelled:
		return false
	default:
		return true
	}
}

func (r *PayRun) AllowedActions() []Action {
	return transitions.Allowed(r.Status)
}

func (r *PayRun) transition(action Action, actor generic.Actor, at time.Time, note string) error {
	to, err := transitions.Next(r.ID, r.Status, action)
	if err != nil {
		return err
	}
	r.History = generic.AppendHistory(r.History, string(action), string(r.Status), string(to), actor, at, note)
	r.Status = to
	return nil
}

// summarize recomputes the run totals from calculated items. Called only
// after every item is final.
func (r *PayRun) summarize(ownerThreshold generic.Money) {
	r.TotalGross, r.TotalDeductions, r.TotalNet, r.TotalPAYE, r.TotalEmployerPension = 0, 0, 0, 0, 0
	r.CalculatedCount, r.ErrorCount, r.ExcludedCount = 0, 0, 0
	r.RequiresOwnerApproval, r.OwnerApprovalReasons = false, nil
	r.TaxTableIDs = nil

	tables := make(map[string]bool)
	generalManager := false
	for _, it := range r.Items {
		switch it.Status {
		case ItemCalculated:
			slip := it.Payslip
			r.CalculatedCount++
			r.TotalGross = r.TotalGross.Add(slip.GrossPay)
			r.TotalDeductions = r.TotalDeductions.Add(slip.TotalDeductions)
			r.TotalNet = r.TotalNet.Add(slip.NetPay)
			r.TotalPAYE = r.TotalPAYE.Add(slip.Deduction(payroll.DeductionPAYE))
			r.TotalEmployerPension = r.TotalEmployerPension.Add(slip.EmployerPension)
			if slip.Tax != nil && !tables[slip.Tax.TableID] {
				tables[slip.Tax.TableID] = true
				r.TaxTableIDs = append(r.TaxTableIDs, slip.Tax.TableID)
			}
			if it.Role == payroll.RoleGeneralManager {
				generalManager = true
			}
		case ItemError:
			r.ErrorCount++
		case ItemExcluded:
			r.ExcludedCount++
		}
	}

	if generalManager {
		r.OwnerApprovalReasons = append(r.OwnerApprovalReasons, "includes a general manager")
	}
	if ownerThreshold.IsPositive() && r.TotalGross.GreaterThan(ownerThreshold) {
		r.OwnerApprovalReasons = append(r.OwnerApprovalReasons, "total gross "+r.TotalGross.String()+" exceeds "+ownerThreshold.String())
	}
	r.RequiresOwnerApproval = len(r.OwnerApprovalReasons) > 0
}
