package wageadvance

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/payroll"
)

// Manager runs the wage advance lifecycle.
//
// Every mutation of one advance is serialized by a per-advance lock and
// written with an optimistic version inside a store transaction, so a
// repayment's ledger entry and the advance's new AmountRepaid land together.
type Manager struct {
	store  generic.TxStore
	roster *payroll.Roster
	policy Policy
	locks  *generic.KeyedLocker
	logger *zap.Logger

	// Clock is overridable in tests.
	Clock func() time.Time
}

func NewManager(store generic.TxStore, roster *payroll.Roster, policy Policy, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:  store,
		roster: roster,
		policy: policy,
		locks:  generic.NewKeyedLocker(),
		logger: logger.Named("wageadvance"),
		Clock:  func() time.Time { return time.Now().UTC() },
	}
}

func (m *Manager) Policy() Policy { return m.policy }

// =============================================================================
// QUERIES
// =============================================================================

func (m *Manager) Get(ctx context.Context, id string) (*WageAdvance, error) {
	var a WageAdvance
	if _, err := generic.GetJSON(ctx, m.store, generic.KindWageAdvance, id, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	EmployeeID generic.EmployeeID
	ShopID     generic.ShopID
	Status     Status
}

// List returns matching advances, oldest request first.
func (m *Manager) List(ctx context.Context, f Filter) ([]WageAdvance, error) {
	return list(ctx, m.store, f)
}

func list(ctx context.Context, s generic.DocumentStore, f Filter) ([]WageAdvance, error) {
	var out []WageAdvance
	err := generic.ListJSON(ctx, s, generic.KindWageAdvance, func(doc generic.Document) error {
		var a WageAdvance
		if err := json.Unmarshal(doc.Body, &a); err != nil {
			return err
		}
		if (f.EmployeeID == "" || a.EmployeeID == f.EmployeeID) &&
			(f.ShopID == "" || a.ShopID == f.ShopID) &&
			(f.Status == "" || a.Status == f.Status) {
			out = append(out, a)
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].RequestedAt.Before(out[j].RequestedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, err
}

// Eligibility reports how much the employee may request now.
func (m *Manager) Eligibility(ctx context.Context, employeeID generic.EmployeeID) (*Eligibility, error) {
	emp, err := m.roster.GetEmployee(ctx, employeeID)
	if err != nil {
		return nil, fmt.Errorf("employee %s: %w", employeeID, err)
	}
	shop, err := m.roster.ShopSetting(ctx, emp.ShopID)
	if err != nil {
		return nil, err
	}
	if emp.Detail == nil {
		return nil, &generic.ConfigurationError{Subject: "employee " + string(employeeID), Reason: "missing payroll detail"}
	}
	existing, err := list(ctx, m.store, Filter{EmployeeID: employeeID})
	if err != nil {
		return nil, err
	}
	e := m.policy.Evaluate(employeeID, EstimateMonthlyPay(emp.Detail, *shop), existing)
	return &e, nil
}

// DueInstallments returns what payroll should deduct for the employee in
// period: the next installment of every advance disbursed by period end.
func (m *Manager) DueInstallments(ctx context.Context, employeeID generic.EmployeeID, period generic.Period) ([]payroll.AdvanceInstallment, error) {
	advances, err := list(ctx, m.store, Filter{EmployeeID: employeeID})
	if err != nil {
		return nil, err
	}
	var out []payroll.AdvanceInstallment
	for i := range advances {
		a := &advances[i]
		if a.DisbursedAt == nil || a.DisbursedAt.After(period.End) {
			continue
		}
		if amount := a.NextInstallment(); amount.IsPositive() {
			out = append(out, payroll.AdvanceInstallment{AdvanceID: a.ID, Amount: amount})
		}
	}
	return out, nil
}

// =============================================================================
// COMMANDS
// =============================================================================

type RequestInput struct {
	EmployeeID   generic.EmployeeID
	Amount       generic.Money
	Installments int
	Reason       string
	Actor        generic.Actor
}

// Request creates a pending advance if the employee is eligible for amount.
func (m *Manager) Request(ctx context.Context, in RequestInput) (*WageAdvance, error) {
	if !in.Amount.IsPositive() {
		return nil, generic.Invalid("amount", "must be positive")
	}
	if in.Amount.LessThan(m.policy.MinAmount) {
		return nil, generic.Invalid("amount", "below minimum %s", m.policy.MinAmount)
	}
	if in.Installments < m.policy.MinInstallments || in.Installments > m.policy.MaxInstallments {
		return nil, generic.Invalid("installments", "must be between %d and %d", m.policy.MinInstallments, m.policy.MaxInstallments)
	}

	// Eligibility and creation must not interleave with another request
	// from the same employee.
	unlock := m.locks.Lock("employee:" + string(in.EmployeeID))
	defer unlock()

	elig, err := m.Eligibility(ctx, in.EmployeeID)
	if err != nil {
		return nil, err
	}
	if !elig.Eligible {
		return nil, generic.Invalid("amount", "not eligible: %s", elig.Reason)
	}
	if in.Amount.GreaterThan(elig.Available) {
		return nil, generic.Invalid("amount", "%s exceeds available %s", in.Amount, elig.Available)
	}

	emp, err := m.roster.GetEmployee(ctx, in.EmployeeID)
	if err != nil {
		return nil, err
	}
	now := m.Clock()
	a := &WageAdvance{
		ID:                    uuid.NewString(),
		TenantID:              emp.TenantID,
		ShopID:                emp.ShopID,
		EmployeeID:            emp.ID,
		AmountRequested:       in.Amount,
		RepaymentInstallments: in.Installments,
		Reason:                in.Reason,
		Status:                StatusPending,
		RequestedAt:           now,
	}
	a.History = generic.AppendHistory(nil, "request", "", string(StatusPending), in.Actor, now, in.Reason)
	if _, err := generic.PutJSON(ctx, m.store, generic.KindWageAdvance, a.ID, 0, a); err != nil {
		return nil, err
	}
	m.logger.Info("advance requested",
		zap.String("advance_id", a.ID),
		zap.String("employee_id", string(a.EmployeeID)),
		zap.Stringer("amount", a.AmountRequested),
		zap.Int("installments", a.RepaymentInstallments))
	return a, nil
}

type ApproveInput struct {
	// Amount may lower the requested amount. Zero approves as requested.
	Amount generic.Money
	// Installments may override the requested count. Zero keeps it.
	Installments int
	Actor        generic.Actor
	Note         string
}

func (m *Manager) Approve(ctx context.Context, id string, in ApproveInput) (*WageAdvance, error) {
	return m.mutate(ctx, id, func(_ generic.Store, a *WageAdvance, now time.Time) (bool, error) {
		amount := in.Amount
		if amount.IsZero() {
			amount = a.AmountRequested
		}
		if !amount.IsPositive() || amount.GreaterThan(a.AmountRequested) {
			return false, generic.Invalid("amount", "approved amount must be in (0, %s]", a.AmountRequested)
		}
		if in.Installments != 0 {
			if in.Installments < m.policy.MinInstallments || in.Installments > m.policy.MaxInstallments {
				return false, generic.Invalid("installments", "must be between %d and %d", m.policy.MinInstallments, m.policy.MaxInstallments)
			}
			a.RepaymentInstallments = in.Installments
		}
		if err := a.transition(ActionApprove, in.Actor, now, in.Note); err != nil {
			return false, err
		}
		a.AmountApproved = amount
		a.ApprovedAt = &now
		return true, nil
	})
}

func (m *Manager) Reject(ctx context.Context, id string, actor generic.Actor, reason string) (*WageAdvance, error) {
	if reason == "" {
		return nil, generic.Invalid("reason", "required")
	}
	return m.mutate(ctx, id, func(_ generic.Store, a *WageAdvance, now time.Time) (bool, error) {
		if err := a.transition(ActionReject, actor, now, reason); err != nil {
			return false, err
		}
		a.ClosedAt = &now
		a.ClosingNote = reason
		return true, nil
	})
}

// Disburse pays the approved amount out and records it in the ledger.
func (m *Manager) Disburse(ctx context.Context, id string, actor generic.Actor, reference string) (*WageAdvance, error) {
	return m.mutate(ctx, id, func(s generic.Store, a *WageAdvance, now time.Time) (bool, error) {
		if err := a.transition(ActionDisburse, actor, now, reference); err != nil {
			return false, err
		}
		err := generic.NewLedger(s).Append(ctx, generic.Entry{
			ID:             uuid.NewString(),
			AggregateKind:  generic.AggregateWageAdvance,
			AggregateID:    a.ID,
			Type:           generic.EntryDisbursement,
			Amount:         a.AmountApproved,
			EffectiveAt:    now,
			Reference:      reference,
			IdempotencyKey: "wage_advance:" + a.ID + ":disbursement",
			CreatedBy:      string(actor.UserID),
			CreatedAt:      now,
		})
		if err != nil {
			return false, err
		}
		a.DisbursedAt = &now
		a.DisbursementRef = reference
		return true, nil
	})
}

type RepaymentInput struct {
	AdvanceID string
	Amount    generic.Money
	Reference string
	// IdempotencyKey makes retries safe. A repeated key is a no-op.
	IdempotencyKey string
	Actor          generic.Actor
}

type RepaymentResult struct {
	Advance   *WageAdvance
	Applied   generic.Money // after clamping to the remaining balance
	Duplicate bool
}

// RecordRepayment recovers part of a disbursed advance. Amounts above the
// remaining balance are clamped. The final repayment moves the advance to
// repaid and stamps FullyRepaidAt.
func (m *Manager) RecordRepayment(ctx context.Context, in RepaymentInput) (*RepaymentResult, error) {
	if !in.Amount.IsPositive() {
		return nil, generic.Invalid("amount", "must be positive")
	}
	res := &RepaymentResult{}
	advance, err := m.mutate(ctx, in.AdvanceID, func(s generic.Store, a *WageAdvance, now time.Time) (bool, error) {
		if in.IdempotencyKey != "" {
			seen, err := s.Exists(ctx, in.IdempotencyKey)
			if err != nil {
				return false, err
			}
			if seen {
				res.Duplicate = true
				return false, nil
			}
		}

		remaining := a.AmountApproved.Sub(a.AmountRepaid)
		applied := in.Amount.Min(remaining)
		action := ActionRepay
		if applied == remaining {
			action = ActionSettle
		}
		if err := a.transition(action, in.Actor, now, in.Reference); err != nil {
			return false, err
		}

		entryID := uuid.NewString()
		err := generic.NewLedger(s).Append(ctx, generic.Entry{
			ID:             entryID,
			AggregateKind:  generic.AggregateWageAdvance,
			AggregateID:    a.ID,
			Type:           generic.EntryRepayment,
			Amount:         applied.Neg(),
			EffectiveAt:    now,
			Reference:      in.Reference,
			IdempotencyKey: in.IdempotencyKey,
			CreatedBy:      string(in.Actor.UserID),
			CreatedAt:      now,
		})
		if err != nil {
			return false, err
		}

		a.AmountRepaid = a.AmountRepaid.Add(applied)
		a.Repayments = append(a.Repayments, Repayment{
			Sequence:     len(a.Repayments) + 1,
			EntryID:      entryID,
			Amount:       applied,
			BalanceAfter: a.AmountApproved.Sub(a.AmountRepaid),
			Reference:    in.Reference,
			RecordedAt:   now,
		})
		if a.Status == StatusRepaid {
			a.FullyRepaidAt = &now
		}
		res.Applied = applied
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	res.Advance = advance
	if !res.Duplicate {
		m.logger.Info("repayment recorded",
			zap.String("advance_id", advance.ID),
			zap.Stringer("applied", res.Applied),
			zap.Stringer("remaining", advance.AmountApproved.Sub(advance.AmountRepaid)),
			zap.String("status", string(advance.Status)))
	}
	return res, nil
}

// Cancel closes an advance. Whatever a disbursed advance still has on the
// ledger is written off with a reversal entry, so its balance ends at zero.
func (m *Manager) Cancel(ctx context.Context, id string, actor generic.Actor, reason string) (*WageAdvance, error) {
	advance, err := m.mutate(ctx, id, func(s generic.Store, a *WageAdvance, now time.Time) (bool, error) {
		disbursed := a.DisbursedAt != nil
		if err := a.transition(ActionCancel, actor, now, reason); err != nil {
			return false, err
		}
		a.ClosedAt = &now
		a.ClosingNote = reason
		if !disbursed {
			return true, nil
		}

		ledger := generic.NewLedger(s)
		balance, err := ledger.Total(ctx, generic.AggregateWageAdvance, a.ID)
		if err != nil {
			return false, err
		}
		if !balance.IsPositive() {
			return true, nil
		}
		a.WrittenOff = balance
		return true, ledger.Append(ctx, generic.Entry{
			ID:             uuid.NewString(),
			AggregateKind:  generic.AggregateWageAdvance,
			AggregateID:    a.ID,
			Type:           generic.EntryReversal,
			Amount:         balance.Neg(),
			EffectiveAt:    now,
			Reason:         reason,
			IdempotencyKey: "cancel:" + a.ID,
			CreatedBy:      string(actor.UserID),
			CreatedAt:      now,
		})
	})
	if err != nil {
		return nil, err
	}
	if advance.WrittenOff.IsPositive() {
		m.logger.Info("advance written off",
			zap.String("advance_id", advance.ID),
			zap.Stringer("amount", advance.WrittenOff))
	}
	return advance, nil
}

// mutate loads, changes and saves one advance atomically. fn reports
// whether it changed anything; unchanged advances are not written.
func (m *Manager) mutate(ctx context.Context, id string, fn func(s generic.Store, a *WageAdvance, now time.Time) (bool, error)) (*WageAdvance, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	var out WageAdvance
	err := m.store.WithTx(ctx, func(s generic.Store) error {
		version, err := generic.GetJSON(ctx, s, generic.KindWageAdvance, id, &out)
		if err != nil {
			return err
		}
		changed, err := fn(s, &out, m.Clock())
		if err != nil || !changed {
			return err
		}
		_, err = generic.PutJSON(ctx, s, generic.KindWageAdvance, id, version, &out)
		return err
	})
	if err != nil {
		m.logger.Debug("advance mutation failed", zap.String("advance_id", id), zap.Error(err))
		return nil, err
	}
	return &out, nil
}
