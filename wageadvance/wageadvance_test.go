package wageadvance_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/generic/store"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/tax"
	"github.com/warp/payroll-engine/wageadvance"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var manager = generic.Actor{UserID: "mgr-1", TenantID: "tenant-1", Role: "manager"}

type fixture struct {
	ctx     context.Context
	store   *store.TxMemory
	manager *wageadvance.Manager
}

// newFixture registers emp-1 on ₦500,000/month, so half a month is ₦250,000.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	s := store.NewTxMemory()
	roster := payroll.NewRoster(s)
	require.NoError(t, roster.SaveShopSetting(ctx, payroll.DefaultShopTaxSetting("shop-1", "tenant-1", "NG-LA")))
	require.NoError(t, roster.SaveEmployee(ctx, payroll.Employee{
		ID:       "emp-1",
		TenantID: "tenant-1",
		ShopID:   "shop-1",
		Name:     "Ada",
		Role:     payroll.RoleStaff,
		Active:   true,
		Detail: &payroll.EmployeePayrollDetail{
			PayType:     payroll.PaySalary,
			PayAmount:   generic.NewMoney(500_000),
			Frequency:   generic.FrequencyMonthly,
			TaxHandling: tax.ModeShopCalculates,
		},
	}))

	m := wageadvance.NewManager(s, roster, wageadvance.DefaultPolicy(), nil)
	clock := generic.Date(2026, time.March, 2)
	m.Clock = func() time.Time { return clock }
	return &fixture{ctx: ctx, store: s, manager: m}
}

// disbursed walks an advance to disbursed.
func (f *fixture) disbursed(t *testing.T, amount int64, installments int) *wageadvance.WageAdvance {
	t.Helper()
	a, err := f.manager.Request(f.ctx, wageadvance.RequestInput{
		EmployeeID:   "emp-1",
		Amount:       generic.NewMoney(amount),
		Installments: installments,
		Reason:       "rent",
	})
	require.NoError(t, err)
	_, err = f.manager.Approve(f.ctx, a.ID, wageadvance.ApproveInput{Actor: manager})
	require.NoError(t, err)
	a, err = f.manager.Disburse(f.ctx, a.ID, manager, "transfer-001")
	require.NoError(t, err)
	return a
}

func (f *fixture) repay(t *testing.T, id string, amount int64, key string) *wageadvance.RepaymentResult {
	t.Helper()
	res, err := f.manager.RecordRepayment(f.ctx, wageadvance.RepaymentInput{
		AdvanceID:      id,
		Amount:         generic.NewMoney(amount),
		IdempotencyKey: key,
		Actor:          generic.SystemActor,
	})
	require.NoError(t, err)
	return res
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestRepayment_ThreeInstallmentsSettleTheAdvance(t *testing.T) {
	// GIVEN: ₦120,000 disbursed over 3 installments
	f := newFixture(t)
	a := f.disbursed(t, 120_000, 3)
	assert.Equal(t, wageadvance.StatusDisbursed, a.Status)
	assert.Equal(t, generic.NewMoney(40_000), a.NextInstallment())

	// WHEN: Two installments are recovered
	f.repay(t, a.ID, 40_000, "slip-1")
	res := f.repay(t, a.ID, 40_000, "slip-2")

	// THEN: ₦40,000 remains and the advance is repaying
	assert.Equal(t, wageadvance.StatusRepaying, res.Advance.Status)
	assert.Equal(t, generic.NewMoney(40_000), res.Advance.RemainingBalance())
	assert.Nil(t, res.Advance.FullyRepaidAt)

	// WHEN: The last installment is recovered
	res = f.repay(t, a.ID, 40_000, "slip-3")

	// THEN: Repaid, stamped, and the ledger balance is zero
	assert.Equal(t, wageadvance.StatusRepaid, res.Advance.Status)
	assert.Equal(t, generic.NewMoney(120_000), res.Advance.AmountRepaid)
	require.NotNil(t, res.Advance.FullyRepaidAt)
	assert.Len(t, res.Advance.Repayments, 3)
	assert.True(t, res.Advance.IsTerminal())

	outstanding, err := generic.NewLedger(f.store).Total(f.ctx, generic.AggregateWageAdvance, a.ID)
	require.NoError(t, err)
	assert.True(t, outstanding.IsZero())
}

func TestRepayment_ClampsToRemainingBalance(t *testing.T) {
	f := newFixture(t)
	a := f.disbursed(t, 50_000, 2)

	res := f.repay(t, a.ID, 80_000, "slip-1")

	assert.Equal(t, generic.NewMoney(50_000), res.Applied)
	assert.Equal(t, wageadvance.StatusRepaid, res.Advance.Status)
	assert.Equal(t, res.Advance.AmountApproved, res.Advance.AmountRepaid)
}

func TestRepayment_DuplicateKeyIsNoOp(t *testing.T) {
	f := newFixture(t)
	a := f.disbursed(t, 60_000, 3)

	f.repay(t, a.ID, 20_000, "slip-1")
	res := f.repay(t, a.ID, 20_000, "slip-1")

	assert.True(t, res.Duplicate)
	assert.Equal(t, generic.NewMoney(20_000), res.Advance.AmountRepaid)
	assert.Len(t, res.Advance.Repayments, 1)
}

func TestRepayment_RejectedBeforeDisbursement(t *testing.T) {
	f := newFixture(t)
	a, err := f.manager.Request(f.ctx, wageadvance.RequestInput{EmployeeID: "emp-1", Amount: generic.NewMoney(10_000), Installments: 1})
	require.NoError(t, err)

	_, err = f.manager.RecordRepayment(f.ctx, wageadvance.RepaymentInput{AdvanceID: a.ID, Amount: generic.NewMoney(10_000)})

	assert.ErrorIs(t, err, generic.ErrInvalidTransition)
	got, err := f.manager.Get(f.ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.AmountRepaid.IsZero())
}

func TestRepayment_ConcurrentWritersNeverOverpay(t *testing.T) {
	// GIVEN: ₦120,000 outstanding
	f := newFixture(t)
	a := f.disbursed(t, 120_000, 3)

	// WHEN: 20 payroll workers each try to recover ₦10,000 at once
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, conflicts := 0, 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.manager.RecordRepayment(f.ctx, wageadvance.RepaymentInput{
				AdvanceID: a.ID,
				Amount:    generic.NewMoney(10_000),
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else if generic.IsConflict(err) {
				conflicts++
			}
		}()
	}
	wg.Wait()

	// THEN: Exactly the balance is recovered, the rest hit a terminal advance
	assert.Equal(t, 12, succeeded)
	assert.Equal(t, 8, conflicts)

	got, err := f.manager.Get(f.ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, generic.NewMoney(120_000), got.AmountRepaid)
	assert.Equal(t, wageadvance.StatusRepaid, got.Status)
	assert.Len(t, got.Repayments, 12)

	entries, err := generic.NewLedger(f.store).Total(f.ctx, generic.AggregateWageAdvance, a.ID, generic.EntryRepayment)
	require.NoError(t, err)
	assert.Equal(t, got.AmountRepaid.Neg(), entries)
}

func TestTransitions_TerminalStatesRejectEverything(t *testing.T) {
	f := newFixture(t)
	a, err := f.manager.Request(f.ctx, wageadvance.RequestInput{EmployeeID: "emp-1", Amount: generic.NewMoney(10_000), Installments: 1})
	require.NoError(t, err)

	rejected, err := f.manager.Reject(f.ctx, a.ID, manager, "too soon after last advance")
	require.NoError(t, err)
	assert.Equal(t, wageadvance.StatusRejected, rejected.Status)
	assert.Empty(t, rejected.AllowedActions())

	_, err = f.manager.Approve(f.ctx, a.ID, wageadvance.ApproveInput{Actor: manager})
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)
	_, err = f.manager.Cancel(f.ctx, a.ID, manager, "")
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)
}

func TestCancel_FromRepaying(t *testing.T) {
	f := newFixture(t)
	a := f.disbursed(t, 30_000, 3)
	f.repay(t, a.ID, 10_000, "slip-1")

	got, err := f.manager.Cancel(f.ctx, a.ID, manager, "employee left")

	require.NoError(t, err)
	assert.Equal(t, wageadvance.StatusCancelled, got.Status)
	assert.Equal(t, "employee left", got.ClosingNote)
	assert.Len(t, got.History, 5) // request, approve, disburse, repay, cancel

	// The unrecovered ₦20,000 is written off on the ledger
	assert.Equal(t, generic.NewMoney(20_000), got.WrittenOff)
	ledger := generic.NewLedger(f.store)
	balance, err := ledger.Total(f.ctx, generic.AggregateWageAdvance, a.ID)
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
	reversed, err := ledger.Total(f.ctx, generic.AggregateWageAdvance, a.ID, generic.EntryReversal)
	require.NoError(t, err)
	assert.Equal(t, generic.NewMoney(-20_000), reversed)
}

func TestCancel_BeforeDisbursementWritesNothingOff(t *testing.T) {
	f := newFixture(t)
	a, err := f.manager.Request(f.ctx, wageadvance.RequestInput{EmployeeID: "emp-1", Amount: generic.NewMoney(10_000), Installments: 1})
	require.NoError(t, err)

	got, err := f.manager.Cancel(f.ctx, a.ID, manager, "changed mind")

	require.NoError(t, err)
	assert.Zero(t, got.WrittenOff)
	entries, err := generic.NewLedger(f.store).Entries(f.ctx, generic.AggregateWageAdvance, a.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestApprove_CannotExceedRequested(t *testing.T) {
	f := newFixture(t)
	a, err := f.manager.Request(f.ctx, wageadvance.RequestInput{EmployeeID: "emp-1", Amount: generic.NewMoney(10_000), Installments: 2})
	require.NoError(t, err)

	_, err = f.manager.Approve(f.ctx, a.ID, wageadvance.ApproveInput{Amount: generic.NewMoney(20_000), Actor: manager})
	assert.ErrorIs(t, err, generic.ErrValidation)

	got, err := f.manager.Approve(f.ctx, a.ID, wageadvance.ApproveInput{Amount: generic.NewMoney(8_000), Actor: manager})
	require.NoError(t, err)
	assert.Equal(t, generic.NewMoney(8_000), got.AmountApproved)
	require.NotNil(t, got.ApprovedAt)
}

// =============================================================================
// ELIGIBILITY
// =============================================================================

func TestRequest_AboveAvailableIsRejected(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.Request(f.ctx, wageadvance.RequestInput{EmployeeID: "emp-1", Amount: generic.NewMoney(250_001), Installments: 3})

	assert.ErrorIs(t, err, generic.ErrValidation)
	list, err := f.manager.List(f.ctx, wageadvance.Filter{EmployeeID: "emp-1"})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRequest_ActiveAdvanceBlocksAnother(t *testing.T) {
	// GIVEN: One advance outstanding and a ceiling of one
	f := newFixture(t)
	f.disbursed(t, 100_000, 2)

	elig, err := f.manager.Eligibility(f.ctx, "emp-1")
	require.NoError(t, err)
	assert.False(t, elig.Eligible)
	assert.Equal(t, 1, elig.ActiveCount)
	assert.Equal(t, generic.NewMoney(100_000), elig.OutstandingBalance)
	assert.Equal(t, generic.NewMoney(150_000), elig.Available)

	// WHEN: A second advance is requested
	_, err = f.manager.Request(f.ctx, wageadvance.RequestInput{EmployeeID: "emp-1", Amount: generic.NewMoney(10_000), Installments: 1})

	// THEN: Rejected by the ceiling even though money is available
	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestRequest_InstallmentBounds(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.Request(f.ctx, wageadvance.RequestInput{EmployeeID: "emp-1", Amount: generic.NewMoney(10_000), Installments: 0})
	assert.ErrorIs(t, err, generic.ErrValidation)
	_, err = f.manager.Request(f.ctx, wageadvance.RequestInput{EmployeeID: "emp-1", Amount: generic.NewMoney(10_000), Installments: 7})
	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestPolicy_EvaluateSubtractsOutstanding(t *testing.T) {
	p := wageadvance.DefaultPolicy()
	p.MaxActiveAdvances = 3
	existing := []wageadvance.WageAdvance{
		{Status: wageadvance.StatusRepaying, AmountApproved: generic.NewMoney(60_000), AmountRepaid: generic.NewMoney(20_000)},
		{Status: wageadvance.StatusPending, AmountRequested: generic.NewMoney(30_000)},
		{Status: wageadvance.StatusRepaid, AmountApproved: generic.NewMoney(90_000), AmountRepaid: generic.NewMoney(90_000)},
	}

	e := p.Evaluate("emp-1", generic.NewMoney(200_000), existing)

	assert.Equal(t, generic.NewMoney(100_000), e.MaxAmount)
	assert.Equal(t, 2, e.ActiveCount)
	assert.Equal(t, generic.NewMoney(70_000), e.OutstandingBalance)
	assert.Equal(t, generic.NewMoney(30_000), e.Available)
	assert.True(t, e.Eligible)
}

func TestEstimateMonthlyPay(t *testing.T) {
	shop := payroll.DefaultShopTaxSetting("shop-1", "tenant-1", "NG-LA")
	tests := []struct {
		name   string
		detail payroll.EmployeePayrollDetail
		want   generic.Money
	}{
		{"monthly salary", payroll.EmployeePayrollDetail{PayType: payroll.PaySalary, PayAmount: generic.NewMoney(300_000), Frequency: generic.FrequencyMonthly}, generic.NewMoney(300_000)},
		{"weekly salary", payroll.EmployeePayrollDetail{PayType: payroll.PaySalary, PayAmount: generic.NewMoney(60_000), Frequency: generic.FrequencyWeekly}, generic.NewMoney(260_000)},
		{"hourly", payroll.EmployeePayrollDetail{PayType: payroll.PayHourly, PayAmount: generic.NewMoney(1_000), Frequency: generic.FrequencyMonthly}, generic.NewMoney(160_000)},
		{"daily", payroll.EmployeePayrollDetail{PayType: payroll.PayDaily, PayAmount: generic.NewMoney(5_000), Frequency: generic.FrequencyWeekly}, generic.NewMoney(110_000)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := tt.detail
			assert.Equal(t, tt.want, wageadvance.EstimateMonthlyPay(&d, shop))
		})
	}
}

// =============================================================================
// INSTALLMENTS
// =============================================================================

func TestSchedule_RemainderOnLastInstallment(t *testing.T) {
	s := wageadvance.Schedule(generic.MustParseMoney("100.00"), 3)

	require.Len(t, s, 3)
	assert.Equal(t, generic.MustParseMoney("33.33"), s[0])
	assert.Equal(t, generic.MustParseMoney("33.33"), s[1])
	assert.Equal(t, generic.MustParseMoney("33.34"), s[2])
	assert.Equal(t, generic.MustParseMoney("100.00"), generic.Sum(s...))
}

func TestNextInstallment_AfterPartialRecovery(t *testing.T) {
	a := wageadvance.WageAdvance{
		Status:                wageadvance.StatusRepaying,
		AmountApproved:        generic.MustParseMoney("100.00"),
		AmountRepaid:          generic.MustParseMoney("66.66"),
		RepaymentInstallments: 3,
	}
	assert.Equal(t, generic.MustParseMoney("33.34"), a.NextInstallment())

	a.AmountRepaid = generic.MustParseMoney("20.00")
	assert.Equal(t, generic.MustParseMoney("33.33"), a.NextInstallment())
}

func TestDueInstallments(t *testing.T) {
	f := newFixture(t)
	a := f.disbursed(t, 90_000, 3)

	march := generic.Period{Start: generic.Date(2026, time.March, 1), End: generic.Date(2026, time.March, 31)}
	due, err := f.manager.DueInstallments(f.ctx, "emp-1", march)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, payroll.AdvanceInstallment{AdvanceID: a.ID, Amount: generic.NewMoney(30_000)}, due[0])

	february := generic.Period{Start: generic.Date(2026, time.February, 1), End: generic.Date(2026, time.February, 28)}
	due, err = f.manager.DueInstallments(f.ctx, "emp-1", february)
	require.NoError(t, err)
	assert.Empty(t, due)
}
