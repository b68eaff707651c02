package wageadvance

import (
	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/payroll"
)

// Policy bounds what may be requested.
type Policy struct {
	PercentageAllowed decimal.Decimal // of estimated monthly pay
	MaxActiveAdvances int
	MinInstallments   int
	MaxInstallments   int
	MinAmount         generic.Money
}

// DefaultPolicy allows half a month's pay over at most 6 installments, one
// advance at a time.
func DefaultPolicy() Policy {
	return Policy{
		PercentageAllowed: decimal.RequireFromString("0.5"),
		MaxActiveAdvances: 1,
		MinInstallments:   1,
		MaxInstallments:   6,
		MinAmount:         generic.NewMoney(1_000),
	}
}

func (p Policy) Validate() error {
	if !p.PercentageAllowed.IsPositive() || p.PercentageAllowed.GreaterThan(decimal.NewFromInt(1)) {
		return generic.Invalid("percentage_allowed", "must be in (0, 1]")
	}
	if p.MaxActiveAdvances < 1 {
		return generic.Invalid("max_active_advances", "must be at least 1")
	}
	if p.MinInstallments < 1 || p.MaxInstallments < p.MinInstallments {
		return generic.Invalid("installments", "need 1 ≤ min ≤ max")
	}
	return nil
}

// Eligibility explains how much an employee may request right now.
type Eligibility struct {
	EmployeeID          generic.EmployeeID `json:"employee_id"`
	EstimatedMonthlyPay generic.Money      `json:"estimated_monthly_pay"`
	PercentageAllowed   decimal.Decimal    `json:"percentage_allowed"`
	MaxAmount           generic.Money      `json:"max_amount"`
	ActiveCount         int                `json:"active_count"`
	OutstandingBalance  generic.Money      `json:"outstanding_balance"`
	Available           generic.Money      `json:"available"`
	Eligible            bool               `json:"eligible"`
	Reason              string             `json:"reason,omitempty"`
}

// Evaluate computes max = percentage × monthly pay − outstanding balance of
// active advances.
func (p Policy) Evaluate(employeeID generic.EmployeeID, monthlyPay generic.Money, existing []WageAdvance) Eligibility {
	e := Eligibility{
		EmployeeID:          employeeID,
		EstimatedMonthlyPay: monthlyPay,
		PercentageAllowed:   p.PercentageAllowed,
		MaxAmount:           monthlyPay.MulRate(p.PercentageAllowed),
	}
	for i := range existing {
		if existing[i].IsActive() {
			e.ActiveCount++
			e.OutstandingBalance = e.OutstandingBalance.Add(existing[i].RemainingBalance())
		}
	}
	e.Available = e.MaxAmount.Sub(e.OutstandingBalance).FloorZero()

	switch {
	case e.ActiveCount >= p.MaxActiveAdvances:
		e.Reason = "active advance limit reached"
	case !e.Available.IsPositive():
		e.Reason = "no amount available"
	case e.Available.LessThan(p.MinAmount):
		e.Reason = "available amount below minimum " + p.MinAmount.String()
	default:
		e.Eligible = true
	}
	return e
}

// standardMonthlyDays is used to estimate pay for daily workers.
const standardMonthlyDays = 22

// EstimateMonthlyPay converts the pay detail to a monthly figure, including
// allowances and excluding variable pay.
func EstimateMonthlyPay(d *payroll.EmployeePayrollDetail, shop payroll.ShopTaxSetting) generic.Money {
	if d == nil {
		return 0
	}
	periods, err := d.Frequency.PeriodsPerYear()
	if err != nil {
		return 0
	}

	var perPeriod generic.Money
	switch d.PayType {
	case payroll.PaySalary:
		perPeriod = d.PayAmount
	case payroll.PayHourly:
		hours := shop.OvertimeThresholdHours
		if !hours.IsPositive() {
			hours = decimal.NewFromInt(160)
		}
		perPeriod = d.PayAmount.MulRate(hours)
	case payroll.PayDaily:
		// Daily workers are estimated on a monthly calendar regardless of frequency.
		monthly := d.PayAmount * standardMonthlyDays
		for _, a := range d.Allowances {
			monthly = monthly.Add((a.Amount * generic.Money(periods)).DivRound(12))
		}
		return monthly
	}
	for _, a := range d.Allowances {
		perPeriod = perPeriod.Add(a.Amount)
	}
	return (perPeriod * generic.Money(periods)).DivRound(12)
}
