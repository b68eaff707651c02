/*
deductions.go - Deduction Aggregator

PURPOSE:
  Collects every deduction for one employee in one period and caps the
  total at gross pay.

CAPPING POLICY:
  Deductions are applied in a fixed priority order against the gross pay
  that remains:

    1. PAYE           (statutory, remitted to the state)
    2. Pension        (statutory, remitted to the PFA)
    3. NHF
    4. NHIS
    5. Wage advance   (recoverable next period)
    6. Custom         (in declaration order)

  A line that doesn't fit is reduced to what is left. The payslip carries
  WarningPartialDeductionShortfall and each line keeps both the requested
  and the applied amount. Net pay is never negative.

EMPLOYER PENSION:
  Recorded alongside the deductions but never deducted from the employee.
*/
package payroll

import (
	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/tax"
)

type DeductionKind string

const (
	DeductionPAYE        DeductionKind = "paye"
	DeductionPension     DeductionKind = "pension"
	DeductionNHF         DeductionKind = "nhf"
	DeductionNHIS        DeductionKind = "nhis"
	DeductionWageAdvance DeductionKind = "wage_advance"
	DeductionCustom      DeductionKind = "custom"
)

// WarningPartialDeductionShortfall marks a payslip whose deductions were capped.
const WarningPartialDeductionShortfall = "partial_deduction_shortfall"

// DeductionLine is one deduction on a payslip.
type DeductionLine struct {
	Kind      DeductionKind `json:"kind"`
	Code      string        `json:"code"`
	Reference string        `json:"reference,omitempty"` // Advance or custom deduction ID
	Requested generic.Money `json:"requested"`
	Amount    generic.Money `json:"amount"`
}

// Shortfall is what could not be deducted.
func (l DeductionLine) Shortfall() generic.Money { return l.Requested.Sub(l.Amount) }

// StatutoryAmounts are the per-period statutory contributions before capping.
type StatutoryAmounts struct {
	PensionEmployee generic.Money `json:"pension_employee"`
	PensionEmployer generic.Money `json:"pension_employer"`
	NHF             generic.Money `json:"nhf"`
	NHIS            generic.Money `json:"nhis"`
}

// Annualised returns contributions for a full year, as tax relief input.
func (s StatutoryAmounts) Annualised(periodsPerYear int) tax.StatutoryContributions {
	n := generic.Money(periodsPerYear)
	return tax.StatutoryContributions{
		Pension: s.PensionEmployee * n,
		NHF:     s.NHF * n,
		NHIS:    s.NHIS * n,
	}
}

// ComputeStatutory applies pension, NHF and NHIS rules. Employee rates fall
// back to shop defaults; pension is bounded by the table's per-period limits.
func ComputeStatutory(d *EmployeePayrollDetail, shop ShopTaxSetting, table *tax.TaxTable, e Earnings) StatutoryAmounts {
	var s StatutoryAmounts
	if d.PensionEnabled {
		base := e.PensionableBase()
		s.PensionEmployee = boundPension(base.MulRate(rateOr(d.PensionEmployeeRate, shop.DefaultPensionEmployeeRate)), table)
		s.PensionEmployer = boundPension(base.MulRate(rateOr(d.PensionEmployerRate, shop.DefaultPensionEmployerRate)), table)
	}
	if d.NHFEnabled {
		s.NHF = e.Basic.MulRate(rateOr(d.NHFRate, shop.DefaultNHFRate))
	}
	if d.NHISEnabled {
		s.NHIS = d.NHISAmount
		if s.NHIS.IsZero() {
			s.NHIS = shop.DefaultNHISAmount
		}
	}
	return s
}

func rateOr(rate, fallback decimal.Decimal) decimal.Decimal {
	if rate.IsZero() {
		return fallback
	}
	return rate
}

func boundPension(amount generic.Money, table *tax.TaxTable) generic.Money {
	if table == nil || amount.IsZero() {
		return amount
	}
	if table.PensionMin != nil {
		amount = amount.Max(*table.PensionMin)
	}
	if table.PensionMax != nil {
		amount = amount.Min(*table.PensionMax)
	}
	return amount
}

// =============================================================================
// AGGREGATION
// =============================================================================

// DeductionInput is everything the aggregator needs for one period.
type DeductionInput struct {
	Gross     generic.Money
	Basic     generic.Money
	PAYE      generic.Money
	Statutory StatutoryAmounts
	Advances  []AdvanceInstallment
	Custom    []CustomDeduction
	Period    generic.Period
}

type DeductionResult struct {
	Lines     []DeductionLine
	Total     generic.Money
	Shortfall generic.Money
	Warnings  []string
}

// Aggregate builds the deduction lines in priority order and caps them at gross.
func Aggregate(in DeductionInput) DeductionResult {
	var requested []DeductionLine
	want := func(kind DeductionKind, code, ref string, amount generic.Money) {
		if amount.IsPositive() {
			requested = append(requested, DeductionLine{Kind: kind, Code: code, Reference: ref, Requested: amount})
		}
	}

	want(DeductionPAYE, "PAYE", "", in.PAYE)
	want(DeductionPension, tax.CodePension, "", in.Statutory.PensionEmployee)
	want(DeductionNHF, tax.CodeNHF, "", in.Statutory.NHF)
	want(DeductionNHIS, tax.CodeNHIS, "", in.Statutory.NHIS)
	for _, a := range in.Advances {
		want(DeductionWageAdvance, "WAGE_ADVANCE", a.AdvanceID, a.Amount)
	}
	for _, c := range in.Custom {
		if !c.AppliesTo(in.Period) {
			continue
		}
		amount := c.Amount
		if c.Type == CustomPercentage {
			amount = in.Basic.MulRate(c.Rate)
		}
		want(DeductionCustom, c.Name, c.ID, amount)
	}

	var res DeductionResult
	remaining := in.Gross.FloorZero()
	for _, line := range requested {
		line.Amount = line.Requested.Min(remaining)
		remaining = remaining.Sub(line.Amount)
		res.Total = res.Total.Add(line.Amount)
		res.Shortfall = res.Shortfall.Add(line.Shortfall())
		res.Lines = append(res.Lines, line)
	}
	if res.Shortfall.IsPositive() {
		res.Warnings = append(res.Warnings, WarningPartialDeductionShortfall)
	}
	return res
}
