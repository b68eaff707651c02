package payrun_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/generic/store"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/payrun"
	"github.com/warp/payroll-engine/tax"
	"github.com/warp/payroll-engine/wageadvance"
	"github.com/xuri/excelize/v2"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const lagos = "NG-LA"

var (
	manager = generic.Actor{UserID: "u-mgr", TenantID: "tenant-1", Role: "manager"}
	owner   = generic.Actor{UserID: "u-own", TenantID: "tenant-1", Role: generic.RoleOwner}
)

type fixture struct {
	ctx      context.Context
	store    *store.TxMemory
	roster   *payroll.Roster
	registry *tax.Registry
	advances *wageadvance.Manager
	orch     *payrun.Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	s := store.NewTxMemory()
	roster := payroll.NewRoster(s)
	registry := tax.NewRegistry(s)
	require.NoError(t, registry.SeedStatutory(ctx, lagos))
	require.NoError(t, roster.SaveShopSetting(ctx, payroll.DefaultShopTaxSetting("shop-1", "tenant-1", lagos)))

	clock := generic.Date(2026, time.March, 3)
	advances := wageadvance.NewManager(s, roster, wageadvance.DefaultPolicy(), nil)
	advances.Clock = func() time.Time { return clock }
	orch := payrun.NewOrchestrator(s, roster, registry, advances, payrun.Config{Workers: 8}, nil)
	orch.Clock = func() time.Time { return clock }

	return &fixture{ctx: ctx, store: s, roster: roster, registry: registry, advances: advances, orch: orch}
}

func employee(id string, monthly int64) payroll.Employee {
	return payroll.Employee{
		ID:       generic.EmployeeID(id),
		TenantID: "tenant-1",
		ShopID:   "shop-1",
		Name:     "Employee " + id,
		Role:     payroll.RoleStaff,
		Active:   true,
		Detail: &payroll.EmployeePayrollDetail{
			PayType:        payroll.PaySalary,
			PayAmount:      generic.NewMoney(monthly),
			Frequency:      generic.FrequencyMonthly,
			PensionEnabled: true,
			TaxHandling:    tax.ModeShopCalculates,
			PFA:            "ARM Pension",
			Bank:           payroll.BankDetails{BankCode: "058", AccountNumber: "0123456785"},
		},
	}
}

func (f *fixture) hire(t *testing.T, emps ...payroll.Employee) {
	t.Helper()
	for _, e := range emps {
		require.NoError(t, f.roster.SaveEmployee(f.ctx, e))
	}
}

func (f *fixture) marchRun(t *testing.T) *payrun.PayRun {
	t.Helper()
	period, err := f.orch.CreatePeriod(f.ctx, payrun.PeriodInput{
		TenantID: "tenant-1",
		ShopID:   "shop-1",
		Name:     "March 2026",
		Start:    generic.Date(2026, time.March, 1),
		End:      generic.Date(2026, time.March, 31),
	})
	require.NoError(t, err)
	run, err := f.orch.CreateRun(f.ctx, period.ID, payrun.RunInput{Actor: manager})
	require.NoError(t, err)
	return run
}

// runFor opens a period for the given month of 2026 and starts its run.
func (f *fixture) runFor(t *testing.T, month time.Month) *payrun.PayRun {
	t.Helper()
	start := generic.Date(2026, month, 1)
	period, err := f.orch.CreatePeriod(f.ctx, payrun.PeriodInput{
		TenantID: "tenant-1",
		ShopID:   "shop-1",
		Start:    start,
		End:      start.AddDate(0, 1, -1),
	})
	require.NoError(t, err)
	run, err := f.orch.CreateRun(f.ctx, period.ID, payrun.RunInput{Actor: manager})
	require.NoError(t, err)
	return run
}

// disbursedAdvance gives the employee a paid-out advance.
func (f *fixture) disbursedAdvance(t *testing.T, employeeID generic.EmployeeID, naira int64, installments int) *wageadvance.WageAdvance {
	t.Helper()
	adv, err := f.advances.Request(f.ctx, wageadvance.RequestInput{EmployeeID: employeeID, Amount: generic.NewMoney(naira), Installments: installments})
	require.NoError(t, err)
	_, err = f.advances.Approve(f.ctx, adv.ID, wageadvance.ApproveInput{Actor: manager})
	require.NoError(t, err)
	adv, err = f.advances.Disburse(f.ctx, adv.ID, manager, "trf-"+adv.ID)
	require.NoError(t, err)
	return adv
}

// payOut takes a calculated run through approval and payment.
func (f *fixture) payOut(t *testing.T, id string) *payrun.PayRun {
	t.Helper()
	_, err := f.orch.Submit(f.ctx, id, manager)
	require.NoError(t, err)
	_, err = f.orch.Approve(f.ctx, id, manager, "")
	require.NoError(t, err)
	_, err = f.orch.Process(f.ctx, id, manager)
	require.NoError(t, err)
	run, err := f.orch.Complete(f.ctx, id, manager)
	require.NoError(t, err)
	return run
}

// =============================================================================
// CALCULATION
// =============================================================================

func TestCalculate_ItemErrorsDoNotAbortTheBatch(t *testing.T) {
	// GIVEN: 50 employees, 3 without payroll detail
	f := newFixture(t)
	broken := map[string]bool{"emp-05": true, "emp-17": true, "emp-33": true}
	for i := 1; i <= 50; i++ {
		e := employee(fmt.Sprintf("emp-%02d", i), int64(100_000+i*1_000))
		if broken[string(e.ID)] {
			e.Detail = nil
		}
		f.hire(t, e)
	}
	run := f.marchRun(t)

	// WHEN: The run is calculated
	run, err := f.orch.Calculate(f.ctx, run.ID, manager)
	require.NoError(t, err)

	// THEN: 47 payslips, 3 errors, and the run is ready for review
	assert.Equal(t, payrun.StatusPendingReview, run.Status)
	assert.Equal(t, 47, run.CalculatedCount)
	assert.Equal(t, 3, run.ErrorCount)
	require.Len(t, run.Items, 50)
	for id := range broken {
		item, ok := run.Item(generic.EmployeeID(id))
		require.True(t, ok)
		assert.Equal(t, payrun.ItemError, item.Status)
		assert.Contains(t, item.ErrorMessage, "missing payroll detail")
		assert.Nil(t, item.Payslip)
	}

	// Totals cover calculated items only
	var gross, net generic.Money
	for _, slip := range run.Payslips() {
		gross = gross.Add(slip.GrossPay)
		net = net.Add(slip.NetPay)
		assert.True(t, slip.Reconciles())
	}
	assert.Equal(t, gross, run.TotalGross)
	assert.Equal(t, net, run.TotalNet)
	assert.Equal(t, run.TotalGross.Sub(run.TotalDeductions), run.TotalNet)
	assert.Equal(t, []string{lagos + "-nta-2025"}, run.TaxTableIDs)
}

func TestCalculate_RecalculationIsIdempotent(t *testing.T) {
	f := newFixture(t)
	for i := 1; i <= 10; i++ {
		f.hire(t, employee(fmt.Sprintf("emp-%02d", i), int64(150_000+i*7_333)))
	}
	run := f.marchRun(t)

	first, err := f.orch.Calculate(f.ctx, run.ID, manager)
	require.NoError(t, err)
	second, err := f.orch.Calculate(f.ctx, run.ID, manager)
	require.NoError(t, err)

	a, err := json.Marshal(first.Items)
	require.NoError(t, err)
	b, err := json.Marshal(second.Items)
	require.NoError(t, err)
	assert.JSONEq(t, string(a), string(b))
	assert.Equal(t, first.TotalNet, second.TotalNet)
}

func TestCalculate_ExcludedAndInputs(t *testing.T) {
	f := newFixture(t)
	hourly := employee("emp-hourly", 1)
	hourly.Detail.PayType = payroll.PayHourly
	hourly.Detail.PayAmount = generic.NewMoney(1_500)
	f.hire(t, employee("emp-1", 200_000), employee("emp-2", 200_000), hourly)
	run := f.marchRun(t)

	_, err := f.orch.SetInputs(f.ctx, run.ID, payrun.RunInput{
		Inputs:   map[generic.EmployeeID]payroll.PeriodInputs{"emp-hourly": {HoursWorked: generic.MustParseRate("100")}},
		Excluded: []generic.EmployeeID{"emp-2"},
	})
	require.NoError(t, err)

	run, err = f.orch.Calculate(f.ctx, run.ID, manager)
	require.NoError(t, err)

	item, _ := run.Item("emp-2")
	assert.Equal(t, payrun.ItemExcluded, item.Status)
	assert.Equal(t, 1, run.ExcludedCount)
	item, _ = run.Item("emp-hourly")
	require.Equal(t, payrun.ItemCalculated, item.Status)
	assert.Equal(t, generic.NewMoney(150_000), item.Payslip.GrossPay)
}

func TestCalculate_CancelledContextReleasesRun(t *testing.T) {
	f := newFixture(t)
	f.hire(t, employee("emp-1", 200_000), employee("emp-2", 300_000))
	run := f.marchRun(t)

	ctx, cancel := context.WithCancel(f.ctx)
	cancel()
	_, err := f.orch.Calculate(ctx, run.ID, manager)
	require.ErrorIs(t, err, context.Canceled)

	got, err := f.orch.GetRun(f.ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, payrun.StatusDraft, got.Status)
	assert.Empty(t, got.Items)
}

func TestCreateRun_OnePerPeriod(t *testing.T) {
	f := newFixture(t)
	run := f.marchRun(t)

	_, err := f.orch.CreateRun(f.ctx, run.PeriodID, payrun.RunInput{})
	assert.ErrorIs(t, err, generic.ErrValidation)

	_, err = f.orch.Cancel(f.ctx, run.ID, manager, "wrong inputs")
	require.NoError(t, err)
	_, err = f.orch.CreateRun(f.ctx, run.PeriodID, payrun.RunInput{})
	assert.NoError(t, err)
}

func TestCreatePeriod_RejectsOverlap(t *testing.T) {
	f := newFixture(t)
	f.marchRun(t)

	_, err := f.orch.CreatePeriod(f.ctx, payrun.PeriodInput{
		ShopID: "shop-1",
		Start:  generic.Date(2026, time.March, 25),
		End:    generic.Date(2026, time.April, 24),
	})
	assert.ErrorIs(t, err, generic.ErrValidation)

	_, err = f.orch.CreatePeriod(f.ctx, payrun.PeriodInput{
		ShopID:    "shop-1",
		Frequency: generic.FrequencyWeekly,
		Start:     generic.Date(2026, time.March, 2),
		End:       generic.Date(2026, time.March, 8),
	})
	assert.NoError(t, err)
}

// =============================================================================
// APPROVAL
// =============================================================================

func TestApproval_GeneralManagerNeedsOwner(t *testing.T) {
	// GIVEN: A run that includes a general manager
	f := newFixture(t)
	gm := employee("emp-gm", 900_000)
	gm.Role = payroll.RoleGeneralManager
	f.hire(t, employee("emp-1", 200_000), gm)
	run := f.marchRun(t)
	run, err := f.orch.Calculate(f.ctx, run.ID, manager)
	require.NoError(t, err)
	assert.True(t, run.RequiresOwnerApproval)

	// WHEN: It is submitted and the manager approves
	_, err = f.orch.Submit(f.ctx, run.ID, manager)
	require.NoError(t, err)
	run, err = f.orch.Approve(f.ctx, run.ID, manager, "checked")
	require.NoError(t, err)

	// THEN: Still waiting on the owner
	assert.Equal(t, payrun.StatusPendingApproval, run.Status)
	chain, err := f.orch.ApprovalChain(f.ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, generic.RoleOwner, chain.CurrentRole())
	assert.Equal(t, generic.ApprovablePayrollPeriod, chain.Subject.Kind)

	// A second manager approval is not enough
	_, err = f.orch.Approve(f.ctx, run.ID, manager, "")
	assert.ErrorIs(t, err, generic.ErrValidation)

	// WHEN: The owner approves
	run, err = f.orch.Approve(f.ctx, run.ID, owner, "")
	require.NoError(t, err)

	// THEN: Approved
	assert.Equal(t, payrun.StatusApproved, run.Status)
	require.NotNil(t, run.ApprovedAt)
}

func TestApproval_ThresholdNeedsOwner(t *testing.T) {
	f := newFixture(t)
	setting := payroll.DefaultShopTaxSetting("shop-1", "tenant-1", lagos)
	setting.OwnerApprovalThreshold = generic.NewMoney(300_000)
	require.NoError(t, f.roster.SaveShopSetting(f.ctx, setting))
	f.hire(t, employee("emp-1", 200_000), employee("emp-2", 200_000))
	run := f.marchRun(t)

	run, err := f.orch.Calculate(f.ctx, run.ID, manager)

	require.NoError(t, err)
	assert.True(t, run.RequiresOwnerApproval)
	require.Len(t, run.OwnerApprovalReasons, 1)
	assert.Contains(t, run.OwnerApprovalReasons[0], "exceeds")
}

func TestApproval_RejectReturnsToReview(t *testing.T) {
	f := newFixture(t)
	f.hire(t, employee("emp-1", 200_000))
	run := f.marchRun(t)
	_, err := f.orch.Calculate(f.ctx, run.ID, manager)
	require.NoError(t, err)
	_, err = f.orch.Submit(f.ctx, run.ID, manager)
	require.NoError(t, err)

	run, err = f.orch.Reject(f.ctx, run.ID, manager, "bonus missing")

	require.NoError(t, err)
	assert.Equal(t, payrun.StatusPendingReview, run.Status)
	assert.Empty(t, run.ApprovalChainID)
	assert.Contains(t, run.AllowedActions(), payrun.ActionCalculate)
}

func TestCancel_WithdrawsApprovalChain(t *testing.T) {
	f := newFixture(t)
	f.hire(t, employee("emp-1", 200_000))
	run := f.marchRun(t)
	_, err := f.orch.Calculate(f.ctx, run.ID, manager)
	require.NoError(t, err)
	run, err = f.orch.Submit(f.ctx, run.ID, manager)
	require.NoError(t, err)
	chainID := run.ApprovalChainID

	_, err = f.orch.Cancel(f.ctx, run.ID, manager, "duplicate")
	require.NoError(t, err)

	chain, err := generic.NewApprovals(f.store).Get(f.ctx, chainID)
	require.NoError(t, err)
	assert.Equal(t, generic.ApprovalCancelled, chain.Status)
}

// =============================================================================
// COMPLETION
// =============================================================================

func TestComplete_RepaysAdvancesAndLocksTables(t *testing.T) {
	// GIVEN: An employee with a disbursed ₦60,000 advance over 3 installments
	f := newFixture(t)
	f.hire(t, employee("emp-1", 500_000), employee("emp-2", 250_000))
	adv, err := f.advances.Request(f.ctx, wageadvance.RequestInput{EmployeeID: "emp-1", Amount: generic.NewMoney(60_000), Installments: 3})
	require.NoError(t, err)
	_, err = f.advances.Approve(f.ctx, adv.ID, wageadvance.ApproveInput{Actor: manager})
	require.NoError(t, err)
	_, err = f.advances.Disburse(f.ctx, adv.ID, manager, "trf-1")
	require.NoError(t, err)

	// WHEN: The run goes all the way through
	run := f.marchRun(t)
	run, err = f.orch.Calculate(f.ctx, run.ID, manager)
	require.NoError(t, err)
	item, _ := run.Item("emp-1")
	assert.Equal(t, generic.NewMoney(20_000), item.Payslip.Deduction(payroll.DeductionWageAdvance))

	_, err = f.orch.Submit(f.ctx, run.ID, manager)
	require.NoError(t, err)
	_, err = f.orch.Approve(f.ctx, run.ID, manager, "")
	require.NoError(t, err)
	_, err = f.orch.Process(f.ctx, run.ID, manager)
	require.NoError(t, err)
	run, err = f.orch.Complete(f.ctx, run.ID, manager)
	require.NoError(t, err)

	// THEN: The installment is recovered against the advance
	assert.Equal(t, payrun.StatusCompleted, run.Status)
	got, err := f.advances.Get(f.ctx, adv.ID)
	require.NoError(t, err)
	assert.Equal(t, generic.NewMoney(20_000), got.AmountRepaid)
	assert.Equal(t, wageadvance.StatusRepaying, got.Status)
	require.Len(t, got.Repayments, 1)
	assert.Equal(t, payroll.PayslipID(run.ID, "emp-1"), got.Repayments[0].Reference)

	// THEN: The referenced tax table can no longer change
	table, err := f.registry.Get(f.ctx, lagos+"-nta-2025")
	require.NoError(t, err)
	assert.True(t, table.Locked)
	_, err = f.registry.Update(f.ctx, *table)
	assert.ErrorIs(t, err, tax.ErrTableLocked)

	// THEN: The period is closed and the run can't be recalculated
	period, err := f.orch.GetPeriod(f.ctx, run.PeriodID)
	require.NoError(t, err)
	assert.Equal(t, payrun.PeriodClosed, period.Status)
	_, err = f.orch.Calculate(f.ctx, run.ID, manager)
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)
	_, err = f.orch.Cancel(f.ctx, run.ID, manager, "")
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)
}

func TestCalculate_LocksReferencedTablesBeforeCompletion(t *testing.T) {
	// GIVEN: A March run, which falls under the NTA table
	f := newFixture(t)
	f.hire(t, employee("emp-1", 500_000))
	run := f.marchRun(t)

	// WHEN: It is calculated but not yet paid
	run, err := f.orch.Calculate(f.ctx, run.ID, manager)
	require.NoError(t, err)
	require.Equal(t, []string{lagos + "-nta-2025"}, run.TaxTableIDs)

	// THEN: The table behind the payslips is frozen
	table, err := f.registry.Get(f.ctx, lagos+"-nta-2025")
	require.NoError(t, err)
	assert.True(t, table.Locked)
	table.Bands[len(table.Bands)-1].Rate = decimal.RequireFromString("0.3")
	_, err = f.registry.Update(f.ctx, *table)
	assert.ErrorIs(t, err, tax.ErrTableLocked)

	// THEN: Tables no payslip uses stay editable
	pita, err := f.registry.Get(f.ctx, lagos+"-pita-2011")
	require.NoError(t, err)
	assert.False(t, pita.Locked)
	_, err = f.registry.Update(f.ctx, *pita)
	assert.NoError(t, err)

	// THEN: Cancelling the run does not unlock it
	_, err = f.orch.Cancel(f.ctx, run.ID, manager, "wrong inputs")
	require.NoError(t, err)
	table, err = f.registry.Get(f.ctx, lagos+"-nta-2025")
	require.NoError(t, err)
	assert.True(t, table.Locked)
}

func TestCalculate_OneRunInProgressPerShop(t *testing.T) {
	// GIVEN: A ₦60,000 advance repaid in one installment, and a calculated March run
	f := newFixture(t)
	f.hire(t, employee("emp-1", 500_000))
	adv := f.disbursedAdvance(t, "emp-1", 60_000, 1)
	march := f.runFor(t, time.March)
	march, err := f.orch.Calculate(f.ctx, march.ID, manager)
	require.NoError(t, err)
	item, _ := march.Item("emp-1")
	assert.Equal(t, generic.NewMoney(60_000), item.Payslip.Deduction(payroll.DeductionWageAdvance))

	// WHEN: April is calculated before March completes
	april := f.runFor(t, time.April)
	_, err = f.orch.Calculate(f.ctx, april.ID, manager)

	// THEN: It is refused and April stays a draft
	assert.ErrorIs(t, err, payrun.ErrRunInProgress)
	assert.True(t, generic.IsConflict(err))
	april, err = f.orch.GetRun(f.ctx, april.ID)
	require.NoError(t, err)
	assert.Equal(t, payrun.StatusDraft, april.Status)

	// THEN: Recalculating March itself is still allowed
	_, err = f.orch.Calculate(f.ctx, march.ID, manager)
	require.NoError(t, err)

	// WHEN: March completes and April is calculated
	march = f.payOut(t, march.ID)
	assert.Zero(t, march.TotalAdvanceOverDeducted)
	april, err = f.orch.Calculate(f.ctx, april.ID, manager)
	require.NoError(t, err)

	// THEN: The settled advance is deducted exactly once
	item, _ = april.Item("emp-1")
	assert.Zero(t, item.Payslip.Deduction(payroll.DeductionWageAdvance))
	got, err := f.advances.Get(f.ctx, adv.ID)
	require.NoError(t, err)
	assert.Equal(t, wageadvance.StatusRepaid, got.Status)
	assert.Len(t, got.Repayments, 1)
}

func TestCalculate_CancelledRunFreesTheShop(t *testing.T) {
	f := newFixture(t)
	f.hire(t, employee("emp-1", 200_000))
	march := f.runFor(t, time.March)
	_, err := f.orch.Calculate(f.ctx, march.ID, manager)
	require.NoError(t, err)
	_, err = f.orch.Cancel(f.ctx, march.ID, manager, "")
	require.NoError(t, err)

	april := f.runFor(t, time.April)
	_, err = f.orch.Calculate(f.ctx, april.ID, manager)

	assert.NoError(t, err)
}

func TestComplete_ReportsAdvanceOverDeduction(t *testing.T) {
	cases := []struct {
		name        string
		manual      int64 // repaid outside payroll after calculation
		wantApplied generic.Money
		wantOwed    generic.Money
	}{
		{"advance settled meanwhile", 60_000, 0, generic.NewMoney(60_000)},
		{"advance partly repaid meanwhile", 45_000, generic.NewMoney(15_000), generic.NewMoney(45_000)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			// GIVEN: A run calculated with a ₦60,000 installment
			f := newFixture(t)
			f.hire(t, employee("emp-1", 500_000), employee("emp-2", 200_000))
			adv := f.disbursedAdvance(t, "emp-1", 60_000, 1)
			run := f.marchRun(t)
			_, err := f.orch.Calculate(f.ctx, run.ID, manager)
			require.NoError(t, err)

			// WHEN: Part of the advance is repaid by hand before the run completes
			_, err = f.advances.RecordRepayment(f.ctx, wageadvance.RepaymentInput{
				AdvanceID: adv.ID,
				Amount:    generic.NewMoney(tc.manual),
				Reference: "cash",
				Actor:     manager,
			})
			require.NoError(t, err)
			run = f.payOut(t, run.ID)

			// THEN: Only what the advance could absorb is recovered
			got, err := f.advances.Get(f.ctx, adv.ID)
			require.NoError(t, err)
			assert.Equal(t, generic.NewMoney(60_000), got.AmountRepaid)
			assert.Equal(t, wageadvance.StatusRepaid, got.Status)
			assert.Equal(t, tc.wantApplied, got.AmountRepaid.Sub(generic.NewMoney(tc.manual)))

			// THEN: The excess is owed back to the employee, not silently kept
			item, _ := run.Item("emp-1")
			assert.Equal(t, tc.wantOwed, item.AdvanceOverDeducted)
			other, _ := run.Item("emp-2")
			assert.Zero(t, other.AdvanceOverDeducted)
			assert.Equal(t, tc.wantOwed, run.TotalAdvanceOverDeducted)
			require.Len(t, run.Warnings, 1)
			assert.Contains(t, run.Warnings[0], "over-deducted")
		})
	}
}

func TestComplete_RequiresProcessing(t *testing.T) {
	f := newFixture(t)
	f.hire(t, employee("emp-1", 200_000))
	run := f.marchRun(t)

	_, err := f.orch.Complete(f.ctx, run.ID, manager)

	var stErr *generic.StateTransitionError
	require.ErrorAs(t, err, &stErr)
	assert.Equal(t, "draft", stErr.From)
}

// =============================================================================
// SCHEDULES
// =============================================================================

func TestValidateNUBAN(t *testing.T) {
	tests := []struct {
		bank    string
		account string
		valid   bool
	}{
		{"058", "0123456785", true},
		{"044", "1234567895", true},
		{"057", "0000000011", true},
		{"033", "2000000004", true},
		{"058", "0123456789", false}, // bad check digit
		{"058", "012345678", false},  // 9 digits
		{"058", "01234567AB", false}, // non-numeric
		{"999", "0123456785", false}, // unknown bank
	}
	for _, tt := range tests {
		t.Run(tt.bank+"/"+tt.account, func(t *testing.T) {
			err := payrun.ValidateNUBAN(tt.bank, tt.account)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestBankSchedule_SegregatesInvalidRecords(t *testing.T) {
	// GIVEN: One valid account, one failing the check digit, one with no details
	f := newFixture(t)
	bad := employee("emp-2", 200_000)
	bad.Detail.Bank.AccountNumber = "0123456789"
	none := employee("emp-3", 200_000)
	none.Detail.Bank = payroll.BankDetails{}
	f.hire(t, employee("emp-1", 200_000), bad, none)
	run := f.marchRun(t)
	run, err := f.orch.Calculate(f.ctx, run.ID, manager)
	require.NoError(t, err)

	// Not available before approval
	_, err = f.orch.BankSchedule(f.ctx, run.ID)
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)

	// WHEN: The schedule is built
	schedule := payrun.BuildBankSchedule(run)

	// THEN: Only the valid record is payable
	require.Len(t, schedule.Records, 1)
	assert.Equal(t, generic.EmployeeID("emp-1"), schedule.Records[0].EmployeeID)
	assert.Equal(t, "Guaranty Trust Bank", schedule.Records[0].BankName)
	require.Len(t, schedule.Invalid, 2)
	assert.Contains(t, schedule.Invalid[0].Reasons[0], "NUBAN")
	assert.Equal(t, "missing bank details", schedule.Invalid[1].Reasons[0])
	assert.Equal(t, run.TotalNet, schedule.Total.Add(schedule.InvalidTotal))
}

func TestBankSchedule_WriteXLSX(t *testing.T) {
	// GIVEN: A schedule with one payable and one rejected record
	f := newFixture(t)
	bad := employee("emp-2", 200_000)
	bad.Detail.Bank.AccountNumber = "0123456789"
	f.hire(t, employee("emp-1", 200_000), bad)
	run := f.marchRun(t)
	run, err := f.orch.Calculate(f.ctx, run.ID, manager)
	require.NoError(t, err)
	schedule := payrun.BuildBankSchedule(run)

	// WHEN: Written as a workbook
	var buf bytes.Buffer
	require.NoError(t, schedule.WriteXLSX(&buf))

	// THEN: Payments carry the record and a total, Rejected the reasons
	wb, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer wb.Close()

	payments, err := wb.GetRows("Payments")
	require.NoError(t, err)
	require.Len(t, payments, 3) // header, record, total
	assert.Equal(t, "Account Number", payments[0][5])
	assert.Equal(t, "0123456785", payments[1][5], "leading zero kept")
	assert.Equal(t, "Salary Mar 2026", payments[1][8])
	assert.Equal(t, "TOTAL", payments[2][6])

	raw, err := wb.GetCellValue("Payments", "H3", excelize.Options{RawCellValue: true})
	require.NoError(t, err)
	total, err := strconv.ParseFloat(raw, 64)
	require.NoError(t, err)
	assert.InDelta(t, schedule.Total.Decimal().InexactFloat64(), total, 0.001)

	rejected, err := wb.GetRows("Rejected")
	require.NoError(t, err)
	require.Len(t, rejected, 2)
	assert.Contains(t, rejected[1][9], "NUBAN")
}

func TestStatutorySchedules_GroupByPFAAndJurisdiction(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.registry.SeedStatutory(f.ctx, "NG-FC"))
	abuja := employee("emp-2", 300_000)
	abuja.Jurisdiction = "NG-FC"
	abuja.Detail.PFA = "Stanbic IBTC Pension"
	abuja.Detail.NHFEnabled = true
	f.hire(t, employee("emp-1", 500_000), abuja, employee("emp-3", 200_000))
	run := f.marchRun(t)
	run, err := f.orch.Calculate(f.ctx, run.ID, manager)
	require.NoError(t, err)

	s, err := f.orch.StatutorySchedules(f.ctx, run.ID)
	require.NoError(t, err)

	require.Len(t, s.PAYE, 2)
	assert.Equal(t, "NG-FC", s.PAYE[0].Jurisdiction)
	assert.Equal(t, 1, s.PAYE[0].EmployeeCount)
	assert.Equal(t, lagos, s.PAYE[1].Jurisdiction)
	assert.Equal(t, 2, s.PAYE[1].EmployeeCount)
	assert.Equal(t, run.TotalPAYE, s.PAYE[0].TotalPAYE.Add(s.PAYE[1].TotalPAYE))

	require.Len(t, s.Pension, 2)
	assert.Equal(t, "ARM Pension", s.Pension[0].PFA)
	assert.Len(t, s.Pension[0].Contributions, 2)
	assert.Equal(t, generic.NewMoney(56_000), s.Pension[0].EmployeeTotal) // 8% of 700,000
	assert.Equal(t, generic.NewMoney(70_000), s.Pension[0].EmployerTotal)
	assert.Equal(t, run.TotalEmployerPension, s.Pension[0].EmployerTotal.Add(s.Pension[1].EmployerTotal))
	assert.Equal(t, generic.NewMoney(7_500), s.NHFTotal) // 2.5% of 300,000
}
