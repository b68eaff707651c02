package payroll

import (
	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
)

// =============================================================================
// EARNINGS
// =============================================================================

type AllowanceLine struct {
	Code        string        `json:"code"`
	Amount      generic.Money `json:"amount"`
	Pensionable bool          `json:"pensionable"`
}

// Earnings is the gross side of a payslip.
type Earnings struct {
	Basic         generic.Money   `json:"basic"`
	RegularHours  decimal.Decimal `json:"regular_hours"`
	OvertimeHours decimal.Decimal `json:"overtime_hours"`
	OvertimePay   generic.Money   `json:"overtime_pay"`
	Allowances    []AllowanceLine `json:"allowances,omitempty"`
	Bonus         generic.Money   `json:"bonus"`
	Commission    generic.Money   `json:"commission"`

	// CommissionCapped is set when Commission was reduced to the shop cap.
	CommissionCapped bool `json:"commission_capped"`

	Gross generic.Money `json:"gross"`
}

// PensionableBase is basic pay plus pensionable allowances.
func (e Earnings) PensionableBase() generic.Money {
	base := e.Basic
	for _, a := range e.Allowances {
		if a.Pensionable {
			base = base.Add(a.Amount)
		}
	}
	return base
}

// ComputeEarnings derives the period's earnings from the pay detail.
//
//	salary: basic = PayAmount
//	hourly: basic = min(hours, threshold) × rate, overtime = excess × rate × multiplier
//	daily:  basic = days × rate
func ComputeEarnings(d *EmployeePayrollDetail, shop ShopTaxSetting, in PeriodInputs) (Earnings, error) {
	var e Earnings
	if in.HoursWorked.IsNegative() || in.DaysWorked.IsNegative() {
		return e, generic.Invalid("hours_worked", "hours and days must not be negative")
	}
	if in.Bonus.IsNegative() || in.Commission.IsNegative() {
		return e, generic.Invalid("bonus", "bonus and commission must not be negative")
	}

	switch d.PayType {
	case PaySalary:
		e.Basic = d.PayAmount
	case PayHourly:
		e.RegularHours = in.HoursWorked
		threshold := shop.OvertimeThresholdHours
		if threshold.IsPositive() && in.HoursWorked.GreaterThan(threshold) {
			e.RegularHours = threshold
			e.OvertimeHours = in.HoursWorked.Sub(threshold)
			multiplier := shop.OvertimeMultiplier
			if multiplier.IsZero() {
				multiplier = decimal.NewFromInt(1)
			}
			e.OvertimePay = d.PayAmount.MulRate(e.OvertimeHours.Mul(multiplier))
		}
		e.Basic = d.PayAmount.MulRate(e.RegularHours)
	case PayDaily:
		e.Basic = d.PayAmount.MulRate(in.DaysWorked)
	default:
		return e, generic.Invalid("pay_type", "unknown pay type %q", d.PayType)
	}

	for _, a := range d.Allowances {
		e.Allowances = append(e.Allowances, AllowanceLine{Code: a.Code, Amount: a.Amount, Pensionable: a.Pensionable})
	}
	e.Bonus = in.Bonus
	e.Commission = in.Commission
	if shop.CommissionCap != nil && e.Commission.GreaterThan(*shop.CommissionCap) {
		e.Commission = *shop.CommissionCap
		e.CommissionCapped = true
	}

	e.Gross = e.Basic.Add(e.OvertimePay).Add(e.Bonus).Add(e.Commission)
	for _, a := range e.Allowances {
		e.Gross = e.Gross.Add(a.Amount)
	}
	return e, nil
}
