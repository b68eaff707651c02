package payrun

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/tax"
	"github.com/warp/payroll-engine/wageadvance"
)

// Advances supplies due installments to calculation and takes repayments
// when a run completes. *wageadvance.Manager implements it.
type Advances interface {
	DueInstallments(ctx context.Context, employeeID generic.EmployeeID, period generic.Period) ([]payroll.AdvanceInstallment, error)
	RecordRepayment(ctx context.Context, in wageadvance.RepaymentInput) (*wageadvance.RepaymentResult, error)
}

type Config struct {
	// Workers bounds concurrent payslip calculations.
	Workers int
	// OwnerApprovalThreshold applies when the shop sets none.
	OwnerApprovalThreshold generic.Money
}

// Orchestrator runs pay runs through their lifecycle.
type Orchestrator struct {
	store    generic.TxStore
	roster   *payroll.Roster
	tables   tax.TableSource
	advances Advances
	cfg      Config
	locks    *generic.KeyedLocker
	logger   *zap.Logger

	Clock func() time.Time
}

// NewOrchestrator wires an orchestrator. advances may be nil when wage
// advances are not in use.
func NewOrchestrator(store generic.TxStore, roster *payroll.Roster, tables tax.TableSource, advances Advances, cfg Config, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Orchestrator{
		store:    store,
		roster:   roster,
		tables:   tables,
		advances: advances,
		cfg:      cfg,
		locks:    generic.NewKeyedLocker(),
		logger:   logger.Named("payrun"),
		Clock:    func() time.Time { return time.Now().UTC() },
	}
}

// =============================================================================
// PERIODS
// =============================================================================

type PeriodInput struct {
	TenantID  generic.TenantID
	ShopID    generic.ShopID
	Name      string
	Frequency generic.Frequency
	Start     time.Time
	End       time.Time
	PayDate   time.Time
}

// CreatePeriod opens a period. Periods of one shop and frequency may not overlap.
func (o *Orchestrator) CreatePeriod(ctx context.Context, in PeriodInput) (*PayrollPeriod, error) {
	if in.ShopID == "" {
		return nil, generic.Invalid("shop_id", "required")
	}
	if in.Frequency == "" {
		in.Frequency = generic.FrequencyMonthly
	}
	if _, err := in.Frequency.PeriodsPerYear(); err != nil {
		return nil, generic.Invalid("frequency", "%v", err)
	}
	period := generic.Period{Start: generic.DateOf(in.Start), End: generic.DateOf(in.End)}
	if err := period.Validate(); err != nil {
		return nil, err
	}
	if in.PayDate.IsZero() {
		in.PayDate = period.End
	}

	unlock := o.locks.Lock("periods:" + string(in.ShopID))
	defer unlock()

	existing, err := o.ListPeriods(ctx, in.ShopID)
	if err != nil {
		return nil, err
	}
	for _, p := range existing {
		if p.Frequency == in.Frequency && p.Period.Overlaps(&period.Start, &period.End) {
			return nil, generic.Invalid("period", "overlaps period %s (%s)", p.Name, p.Period)
		}
	}

	p := &PayrollPeriod{
		ID:        uuid.NewString(),
		TenantID:  in.TenantID,
		ShopID:    in.ShopID,
		Name:      in.Name,
		Frequency: in.Frequency,
		Period:    period,
		PayDate:   generic.DateOf(in.PayDate),
		Status:    PeriodOpen,
		CreatedAt: o.Clock(),
	}
	if p.Name == "" {
		p.Name = period.String()
	}
	if _, err := generic.PutJSON(ctx, o.store, generic.KindPayrollPeriod, p.ID, 0, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (o *Orchestrator) GetPeriod(ctx context.Context, id string) (*PayrollPeriod, error) {
	var p PayrollPeriod
	if _, err := generic.GetJSON(ctx, o.store, generic.KindPayrollPeriod, id, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPeriods returns a shop's periods by start date.
func (o *Orchestrator) ListPeriods(ctx context.Context, shopID generic.ShopID) ([]PayrollPeriod, error) {
	var out []PayrollPeriod
	err := generic.ListJSON(ctx, o.store, generic.KindPayrollPeriod, func(doc generic.Document) error {
		var p PayrollPeriod
		if err := json.Unmarshal(doc.Body, &p); err != nil {
			return err
		}
		if shopID == "" || p.ShopID == shopID {
			out = append(out, p)
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].Period.Start.Before(out[j].Period.Start) })
	return out, err
}

// =============================================================================
// RUNS
// =============================================================================

type RunInput struct {
	Inputs   map[generic.EmployeeID]payroll.PeriodInputs
	Excluded []generic.EmployeeID
	Actor    generic.Actor
}

// CreateRun starts a draft run for an open period. A period has at most one
// run that isn't cancelled.
func (o *Orchestrator) CreateRun(ctx context.Context, periodID string, in RunInput) (*PayRun, error) {
	period, err := o.GetPeriod(ctx, periodID)
	if err != nil {
		return nil, err
	}
	if period.Status != PeriodOpen {
		return nil, generic.Invalid("period", "period %s is %s", period.Name, period.Status)
	}

	unlock := o.locks.Lock("period:" + periodID)
	defer unlock()

	runs, err := o.ListRuns(ctx, periodID)
	if err != nil {
		return nil, err
	}
	for _, r := range runs {
		if r.Status != StatusCancelled {
			return nil, generic.Invalid("period", "period already has pay run %s (%s)", r.ID, r.Status)
		}
	}

	now := o.Clock()
	run := &PayRun{
		ID:        uuid.NewString(),
		PeriodID:  period.ID,
		TenantID:  period.TenantID,
		ShopID:    period.ShopID,
		Period:    period.Period,
		Frequency: period.Frequency,
		Status:    StatusDraft,
		Inputs:    in.Inputs,
		Excluded:  in.Excluded,
		CreatedAt: now,
	}
	run.History = generic.AppendHistory(nil, "create", "", string(StatusDraft), in.Actor, now, "")
	if _, err := generic.PutJSON(ctx, o.store, generic.KindPayRun, run.ID, 0, run); err != nil {
		return nil, err
	}
	return run, nil
}

func (o *Orchestrator) GetRun(ctx context.Context, id string) (*PayRun, error) {
	var r PayRun
	if _, err := generic.GetJSON(ctx, o.store, generic.KindPayRun, id, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRuns returns the runs of a period, oldest first.
func (o *Orchestrator) ListRuns(ctx context.Context, periodID string) ([]PayRun, error) {
	var out []PayRun
	err := generic.ListJSON(ctx, o.store, generic.KindPayRun, func(doc generic.Document) error {
		var r PayRun
		if err := json.Unmarshal(doc.Body, &r); err != nil {
			return err
		}
		if periodID == "" || r.PeriodID == periodID {
			out = append(out, r)
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, err
}

// SetInputs replaces the variable inputs and exclusions. Only allowed before
// the run goes for approval; call Calculate afterwards.
func (o *Orchestrator) SetInputs(ctx context.Context, id string, in RunInput) (*PayRun, error) {
	return o.mutate(ctx, id, func(_ generic.Store, r *PayRun, _ time.Time) error {
		if r.Status != StatusDraft && r.Status != StatusPendingReview {
			return &generic.StateTransitionError{Aggregate: "pay_run", ID: r.ID, From: string(r.Status), Action: "set_inputs"}
		}
		r.Inputs = in.Inputs
		r.Excluded = in.Excluded
		return nil
	})
}

// =============================================================================
// CALCULATION
// =============================================================================

// Calculate computes every item of the run. Items are independent: each
// worker writes only its own slot and never touches run totals. Totals and
// approval requirements are computed after every worker has finished.
// Per-item failures become error items; only a cancelled context or a
// storage failure aborts the run.
func (o *Orchestrator) Calculate(ctx context.Context, id string, actor generic.Actor) (*PayRun, error) {
	run, err := o.startCalculation(ctx, id, actor)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	items, shop, err := o.calculateItems(ctx, run)
	if err != nil {
		o.logger.Error("pay run calculation failed", zap.String("run_id", id), zap.Error(err))
		// Release the run with a fresh context; ctx may be the reason we failed.
		if _, failErr := o.mutate(context.WithoutCancel(ctx), id, func(_ generic.Store, r *PayRun, now time.Time) error {
			return r.transition(ActionFail, actor, now, err.Error())
		}); failErr != nil {
			o.logger.Error("pay run release failed", zap.String("run_id", id), zap.Error(failErr))
		}
		return nil, err
	}

	threshold := o.cfg.OwnerApprovalThreshold
	if shop.OwnerApprovalThreshold.IsPositive() {
		threshold = shop.OwnerApprovalThreshold
	}

	run, err = o.mutate(ctx, id, func(tx generic.Store, r *PayRun, now time.Time) error {
		if err := r.transition(ActionCalculated, actor, now, ""); err != nil {
			return err
		}
		r.Items = items
		r.summarize(threshold)
		r.CalculatedAt = &now
		// Payslips now reference these tables; they may no longer change.
		return tax.LockTables(ctx, tx, r.TaxTableIDs...)
	})
	if err != nil {
		return nil, err
	}
	o.logger.Info("pay run calculated",
		zap.String("run_id", run.ID),
		zap.Int("calculated", run.CalculatedCount),
		zap.Int("errors", run.ErrorCount),
		zap.Int("excluded", run.ExcludedCount),
		zap.Stringer("total_net", run.TotalNet),
		zap.Bool("requires_owner_approval", run.RequiresOwnerApproval),
		zap.Duration("took", time.Since(started)))
	return run, nil
}

// startCalculation moves the run to calculating. Due advance installments are
// only recorded as repaid when a run completes, so a shop may have one run
// between calculation and completion at a time.
func (o *Orchestrator) startCalculation(ctx context.Context, id string, actor generic.Actor) (*PayRun, error) {
	run, err := o.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	unlock := o.locks.Lock("runs:" + string(run.ShopID))
	defer unlock()

	others, err := o.shopRuns(ctx, run.ShopID)
	if err != nil {
		return nil, err
	}
	for _, other := range others {
		if other.ID != id && other.InProgress() {
			return nil, fmt.Errorf("pay run %s (%s) for %s must complete or be cancelled first: %w",
				other.ID, other.Status, other.Period, ErrRunInProgress)
		}
	}
	return o.mutate(ctx, id, func(_ generic.Store, r *PayRun, now time.Time) error {
		return r.transition(ActionCalculate, actor, now, "")
	})
}

func (o *Orchestrator) shopRuns(ctx context.Context, shopID generic.ShopID) ([]PayRun, error) {
	var out []PayRun
	err := generic.ListJSON(ctx, o.store, generic.KindPayRun, func(doc generic.Document) error {
		var r PayRun
		if err := json.Unmarshal(doc.Body, &r); err != nil {
			return err
		}
		if r.ShopID == shopID {
			out = append(out, r)
		}
		return nil
	})
	return out, err
}

func (o *Orchestrator) calculateItems(ctx context.Context, run *PayRun) ([]PayRunItem, *payroll.ShopTaxSetting, error) {
	shop, err := o.roster.ShopSetting(ctx, run.ShopID)
	if err != nil {
		return nil, nil, err
	}
	employees, err := o.roster.ActiveEmployees(ctx, run.ShopID)
	if err != nil {
		return nil, nil, err
	}

	// One cache per run: every worker sees the same table for the same
	// (jurisdiction, date) and the source is hit once per key.
	calc := payroll.NewCalculator(tax.NewRunCache(tax.NewResolver(o.tables)))

	items := make([]PayRunItem, len(employees))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Workers)
	for i := range employees {
		i := i
		emp := employees[i]
		g.Go(func() error {
			items[i] = o.calculateItem(gctx, calc, run, *shop, emp)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return items, shop, nil
}

func (o *Orchestrator) calculateItem(ctx context.Context, calc *payroll.Calculator, run *PayRun, shop payroll.ShopTaxSetting, emp payroll.Employee) PayRunItem {
	item := PayRunItem{EmployeeID: emp.ID, EmployeeName: emp.Name, Role: emp.Role, Status: ItemPending}
	if run.IsExcluded(emp.ID) {
		item.Status = ItemExcluded
		return item
	}

	fail := func(err error) PayRunItem {
		item.Status = ItemError
		item.ErrorMessage = err.Error()
		o.logger.Warn("pay run item failed",
			zap.String("run_id", run.ID),
			zap.String("employee_id", string(emp.ID)),
			zap.Error(err))
		return item
	}

	var advances []payroll.AdvanceInstallment
	if o.advances != nil {
		due, err := o.advances.DueInstallments(ctx, emp.ID, run.Period)
		if err != nil {
			return fail(fmt.Errorf("load wage advances: %w", err))
		}
		advances = due
	}

	slip, err := calc.Calculate(ctx, payroll.SlipRequest{
		PayRunID: run.ID,
		Employee: emp,
		Shop:     shop,
		Period:   run.Period,
		Inputs:   run.Inputs[emp.ID],
		Advances: advances,
	})
	if err != nil {
		return fail(err)
	}
	item.Status = ItemCalculated
	item.Payslip = slip
	return item
}

// =============================================================================
// APPROVAL
// =============================================================================

// Submit sends a reviewed run for approval. The chain needs a manager, and
// the owner as well when the run requires owner approval.
func (o *Orchestrator) Submit(ctx context.Context, id string, actor generic.Actor) (*PayRun, error) {
	return o.mutate(ctx, id, func(tx generic.Store, r *PayRun, now time.Time) error {
		if r.Status == StatusPendingReview && r.CalculatedCount == 0 {
			return generic.Invalid("items", "run has no calculated payslips")
		}
		if err := r.transition(ActionSubmit, actor, now, ""); err != nil {
			return err
		}
		roles := []string{string(payroll.RoleManager)}
		if r.RequiresOwnerApproval {
			roles = append(roles, generic.RoleOwner)
		}
		chain, err := generic.NewApprovals(tx).Open(ctx, generic.ApprovalSubject{
			Kind:        generic.ApprovablePayrollPeriod,
			ID:          r.ID,
			Amount:      r.TotalNet,
			Description: "pay run for " + r.Period.String(),
		}, roles...)
		if err != nil {
			return err
		}
		r.ApprovalChainID = chain.ID
		return nil
	})
}

// Approve records an approval on the current step. The run moves to
// approved once the last step approves.
func (o *Orchestrator) Approve(ctx context.Context, id string, actor generic.Actor, comment string) (*PayRun, error) {
	return o.decide(ctx, id, actor, generic.DecisionApproved, comment)
}

// Reject sends the run back to review.
func (o *Orchestrator) Reject(ctx context.Context, id string, actor generic.Actor, comment string) (*PayRun, error) {
	return o.decide(ctx, id, actor, generic.DecisionRejected, comment)
}

func (o *Orchestrator) decide(ctx context.Context, id string, actor generic.Actor, decision generic.ApprovalDecision, comment string) (*PayRun, error) {
	return o.mutate(ctx, id, func(tx generic.Store, r *PayRun, now time.Time) error {
		if r.Status != StatusPendingApproval {
			return &generic.StateTransitionError{Aggregate: "pay_run", ID: r.ID, From: string(r.Status), Action: string(decision)}
		}
		chain, err := generic.NewApprovals(tx).Decide(ctx, r.ApprovalChainID, actor, decision, comment, now)
		if err != nil {
			return err
		}
		switch chain.Status {
		case generic.ApprovalApproved:
			if err := r.transition(ActionApprove, actor, now, comment); err != nil {
				return err
			}
			r.ApprovedAt = &now
		case generic.ApprovalRejected:
			if err := r.transition(ActionReopen, actor, now, comment); err != nil {
				return err
			}
			r.ApprovalChainID = ""
		}
		return nil
	})
}

// ApprovalChain returns the run's open chain.
func (o *Orchestrator) ApprovalChain(ctx context.Context, id string) (*generic.ApprovalChain, error) {
	run, err := o.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if run.ApprovalChainID == "" {
		return nil, fmt.Errorf("pay run %s has no approval chain: %w", id, generic.ErrNotFound)
	}
	return generic.NewApprovals(o.store).Get(ctx, run.ApprovalChainID)
}

// =============================================================================
// PAYMENT AND COMPLETION
// =============================================================================

// Process marks an approved run as being paid out.
func (o *Orchestrator) Process(ctx context.Context, id string, actor generic.Actor) (*PayRun, error) {
	return o.mutate(ctx, id, func(_ generic.Store, r *PayRun, now time.Time) error {
		return r.transition(ActionProcess, actor, now, "")
	})
}

// Complete records wage advance repayments for what each payslip actually
// deducted, then completes the run, closes its period and locks the tax
// tables it used. Repayments carry per-payslip idempotency keys, so a
// Complete that failed halfway can be retried.
func (o *Orchestrator) Complete(ctx context.Context, id string, actor generic.Actor) (*PayRun, error) {
	run, err := o.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := transitions.Next(run.ID, run.Status, ActionComplete); err != nil {
		return nil, err
	}

	shortfalls, warnings, err := o.recordRepayments(ctx, run, actor)
	if err != nil {
		return nil, err
	}

	run, err = o.mutate(ctx, id, func(tx generic.Store, r *PayRun, now time.Time) error {
		if err := r.transition(ActionComplete, actor, now, ""); err != nil {
			return err
		}
		r.CompletedAt = &now
		r.Warnings = append(r.Warnings, warnings...)
		for i := range r.Items {
			if amount, ok := shortfalls[r.Items[i].EmployeeID]; ok {
				r.Items[i].AdvanceOverDeducted = amount
				r.TotalAdvanceOverDeducted = r.TotalAdvanceOverDeducted.Add(amount)
			}
		}
		if err := tax.LockTables(ctx, tx, r.TaxTableIDs...); err != nil {
			return err
		}
		var p PayrollPeriod
		version, err := generic.GetJSON(ctx, tx, generic.KindPayrollPeriod, r.PeriodID, &p)
		if err != nil {
			return err
		}
		p.Status = PeriodClosed
		p.ClosedAt = &now
		_, err = generic.PutJSON(ctx, tx, generic.KindPayrollPeriod, p.ID, version, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	o.logger.Info("pay run completed",
		zap.String("run_id", run.ID),
		zap.Strings("tax_tables", run.TaxTableIDs),
		zap.Int("warnings", len(warnings)))
	return run, nil
}

// recordRepayments settles every advance line the payslips deducted. A line
// the advance could not fully absorb, because it was settled or cancelled
// after calculation, is reported per employee as over-deducted so it can be
// refunded.
func (o *Orchestrator) recordRepayments(ctx context.Context, run *PayRun, actor generic.Actor) (map[generic.EmployeeID]generic.Money, []string, error) {
	if o.advances == nil {
		return nil, nil, nil
	}
	shortfalls := make(map[generic.EmployeeID]generic.Money)
	var warnings []string
	short := func(slip *payroll.Payslip, line payroll.DeductionLine, amount generic.Money, reason string) {
		shortfalls[slip.EmployeeID] = shortfalls[slip.EmployeeID].Add(amount)
		warnings = append(warnings, fmt.Sprintf("advance %s over-deducted %s from %s: %s", line.Reference, amount, slip.ID, reason))
		o.logger.Warn("advance over-deducted",
			zap.String("advance_id", line.Reference),
			zap.String("payslip_id", slip.ID),
			zap.Stringer("amount", amount),
			zap.String("reason", reason))
	}

	for _, slip := range run.Payslips() {
		for _, line := range slip.Deductions {
			if line.Kind != payroll.DeductionWageAdvance || !line.Amount.IsPositive() {
				continue
			}
			res, err := o.advances.RecordRepayment(ctx, wageadvance.RepaymentInput{
				AdvanceID:      line.Reference,
				Amount:         line.Amount,
				Reference:      slip.ID,
				IdempotencyKey: "payslip:" + slip.ID + ":" + line.Reference,
				Actor:          actor,
			})
			switch {
			case errors.Is(err, generic.ErrInvalidTransition):
				short(slip, line, line.Amount, err.Error())
				continue
			case err != nil:
				return nil, nil, fmt.Errorf("repay advance %s from %s: %w", line.Reference, slip.ID, err)
			}
			applied := res.Applied
			if res.Duplicate {
				applied = appliedFrom(res.Advance, slip.ID)
			}
			if applied.LessThan(line.Amount) {
				short(slip, line, line.Amount.Sub(applied), "remaining balance was "+applied.String())
			}
		}
	}
	return shortfalls, warnings, nil
}

// appliedFrom is what an earlier attempt repaid from one payslip.
func appliedFrom(a *wageadvance.WageAdvance, payslipID string) generic.Money {
	var total generic.Money
	for _, rp := range a.Repayments {
		if rp.Reference == payslipID {
			total = total.Add(rp.Amount)
		}
	}
	return total
}

// Cancel abandons a run that has not completed. A pending approval chain is
// withdrawn with it.
func (o *Orchestrator) Cancel(ctx context.Context, id string, actor generic.Actor, reason string) (*PayRun, error) {
	return o.mutate(ctx, id, func(tx generic.Store, r *PayRun, now time.Time) error {
		if err := r.transition(ActionCancel, actor, now, reason); err != nil {
			return err
		}
		if r.ApprovalChainID != "" {
			approvals := generic.NewApprovals(tx)
			chain, err := approvals.Get(ctx, r.ApprovalChainID)
			if err != nil {
				return err
			}
			if chain.Status == generic.ApprovalPending {
				if _, err := approvals.Cancel(ctx, chain.ID); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (o *Orchestrator) mutate(ctx context.Context, id string, fn func(tx generic.Store, r *PayRun, now time.Time) error) (*PayRun, error) {
	unlock := o.locks.Lock(id)
	defer unlock()

	var out PayRun
	err := o.store.WithTx(ctx, func(tx generic.Store) error {
		version, err := generic.GetJSON(ctx, tx, generic.KindPayRun, id, &out)
		if err != nil {
			return err
		}
		if err := fn(tx, &out, o.Clock()); err != nil {
			return err
		}
		_, err = generic.PutJSON(ctx, tx, generic.KindPayRun, id, version, &out)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}
