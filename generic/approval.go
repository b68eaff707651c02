/*
approval.go - Multi-step approval chains

PURPOSE:
  Some actions need sign-off from more than one person before they take
  effect: a pay run that includes a general manager needs the owner, a
  large fund request needs finance. An ApprovalChain is the envelope that
  walks those steps in order and keeps an append-only history.

CLOSED SET OF SUBJECTS:
  A chain wraps exactly one of a fixed set of approvable kinds. Adding a
  kind means adding a constant here and handling it where chains are
  consumed; there is no open-ended registry.

    ApprovablePayrollPeriod  - pay run for a payroll period
    ApprovableFundRequest    - request to release shop funds
    ApprovablePurchaseOrder  - cross-tenant purchase order

FLOW:
  steps: [manager] → [owner]
  Decide(approve) on the current step advances; the last approval marks
  the chain approved. Any rejection ends the chain.

SEE ALSO:
  - payrun/orchestrator.go: Builds chains for pay-run approval
*/
package generic

import (
	"fmt"
	"time"
)

type ApprovableKind string

const (
	ApprovablePayrollPeriod ApprovableKind = "payroll_period"
	ApprovableFundRequest   ApprovableKind = "fund_request"
	ApprovablePurchaseOrder ApprovableKind = "purchase_order"
)

// ParseApprovableKind accepts only the closed set of kinds.
func ParseApprovableKind(s string) (ApprovableKind, error) {
	switch k := ApprovableKind(s); k {
	case ApprovablePayrollPeriod, ApprovableFundRequest, ApprovablePurchaseOrder:
		return k, nil
	default:
		return "", Invalid("subject.kind", "unknown approvable kind %q", s)
	}
}

// ApprovalSubject identifies the record being approved.
type ApprovalSubject struct {
	Kind        ApprovableKind `json:"kind"`
	ID          string         `json:"id"`
	Amount      Money          `json:"amount"`
	Description string         `json:"description,omitempty"`
}

type ApprovalDecision string

const (
	DecisionPending  ApprovalDecision = "pending"
	DecisionApproved ApprovalDecision = "approved"
	DecisionRejected ApprovalDecision = "rejected"
)

type ApprovalStatus string

const (
	ApprovalPending   ApprovalStatus = "pending"
	ApprovalApproved  ApprovalStatus = "approved"
	ApprovalRejected  ApprovalStatus = "rejected"
	ApprovalCancelled ApprovalStatus = "cancelled"
)

// RoleOwner may act on any step.
const RoleOwner = "owner"

type ApprovalStep struct {
	Index     int              `json:"index"`
	Role      string           `json:"role"`
	Decision  ApprovalDecision `json:"decision"`
	DecidedBy UserID           `json:"decided_by,omitempty"`
	DecidedAt *time.Time       `json:"decided_at,omitempty"`
	Comment   string           `json:"comment,omitempty"`
}

type ApprovalEvent struct {
	Step     int              `json:"step"`
	Actor    Actor            `json:"actor"`
	Decision ApprovalDecision `json:"decision"`
	Comment  string           `json:"comment,omitempty"`
	At       time.Time        `json:"at"`
}

type ApprovalChain struct {
	ID          string          `json:"id"`
	Subject     ApprovalSubject `json:"subject"`
	Steps       []ApprovalStep  `json:"steps"`
	CurrentStep int             `json:"current_step"`
	Status      ApprovalStatus  `json:"status"`
	History     []ApprovalEvent `json:"history"`
}

// NewApprovalChain creates a pending chain with one step per role.
func NewApprovalChain(id string, subject ApprovalSubject, roles ...string) (*ApprovalChain, error) {
	if _, err := ParseApprovableKind(string(subject.Kind)); err != nil {
		return nil, err
	}
	if len(roles) == 0 {
		return nil, Invalid("roles", "approval chain needs at least one step")
	}
	steps := make([]ApprovalStep, len(roles))
	for i, role := range roles {
		steps[i] = ApprovalStep{Index: i, Role: role, Decision: DecisionPending}
	}
	return &ApprovalChain{
		ID:      id,
		Subject: subject,
		Steps:   steps,
		Status:  ApprovalPending,
	}, nil
}

// CurrentRole is the role expected to act next, empty once decided.
func (c *ApprovalChain) CurrentRole() string {
	if c.Status != ApprovalPending {
		return ""
	}
	return c.Steps[c.CurrentStep].Role
}

func (c *ApprovalChain) IsApproved() bool { return c.Status == ApprovalApproved }

// Decide records actor's decision on the current step.
func (c *ApprovalChain) Decide(actor Actor, decision ApprovalDecision, comment string, at time.Time) error {
	if c.Status != ApprovalPending {
		return &StateTransitionError{Aggregate: "approval_chain", ID: c.ID, From: string(c.Status), Action: string(decision)}
	}
	if decision != DecisionApproved && decision != DecisionRejected {
		return Invalid("decision", "must be approved or rejected, got %q", decision)
	}
	step := &c.Steps[c.CurrentStep]
	if actor.Role != step.Role && actor.Role != RoleOwner {
		return Invalid("actor.role", "step %d requires role %q, got %q", step.Index, step.Role, actor.Role)
	}

	decidedAt := at
	step.Decision = decision
	step.DecidedBy = actor.UserID
	step.DecidedAt = &decidedAt
	step.Comment = comment
	c.History = append(c.History, ApprovalEvent{
		Step:     step.Index,
		Actor:    actor,
		Decision: decision,
		Comment:  comment,
		At:       at,
	})

	switch {
	case decision == DecisionRejected:
		c.Status = ApprovalRejected
	case c.CurrentStep == len(c.Steps)-1:
		c.Status = ApprovalApproved
	default:
		c.CurrentStep++
	}
	return nil
}

// Cancel withdraws a pending chain.
func (c *ApprovalChain) Cancel() error {
	if c.Status != ApprovalPending {
		return fmt.Errorf("approval chain %s already %s: %w", c.ID, c.Status, ErrInvalidTransition)
	}
	c.Status = ApprovalCancelled
	return nil
}
