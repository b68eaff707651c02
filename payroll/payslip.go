/*
payslip.go - Payslip Compositor

PURPOSE:
  Merges earnings, the tax result and the capped deductions into a Payslip
  and enforces the reconciliation invariant at composition time:

    GrossPay − TotalDeductions == NetPay     (to the kobo)

  A payslip that doesn't reconcile is never returned.

DETERMINISM:
  A payslip carries no timestamps or random IDs. Its ID is derived from the
  pay run and employee, so recomputing with unchanged inputs yields a
  byte-identical payslip.
*/
package payroll

import (
	"context"
	"fmt"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/tax"
)

// Payslip is the computed pay statement for one employee in one period.
type Payslip struct {
	ID           string             `json:"id"`
	PayRunID     string             `json:"pay_run_id"`
	EmployeeID   generic.EmployeeID `json:"employee_id"`
	EmployeeName string             `json:"employee_name"`
	TenantID     generic.TenantID   `json:"tenant_id"`
	ShopID       generic.ShopID     `json:"shop_id"`
	Period       generic.Period     `json:"period"`
	Frequency    generic.Frequency  `json:"frequency"`
	Jurisdiction string             `json:"jurisdiction"`

	Earnings   Earnings                  `json:"earnings"`
	Tax        *tax.TaxCalculationResult `json:"tax"`
	Statutory  StatutoryAmounts          `json:"statutory"`
	Deductions []DeductionLine           `json:"deductions"`

	GrossPay        generic.Money `json:"gross_pay"`
	TotalDeductions generic.Money `json:"total_deductions"`
	NetPay          generic.Money `json:"net_pay"`
	EmployerPension generic.Money `json:"employer_pension"`
	Shortfall       generic.Money `json:"shortfall"`
	Warnings        []string      `json:"warnings,omitempty"`

	PFA        string      `json:"pfa,omitempty"`
	PensionPIN string      `json:"pension_pin,omitempty"`
	Bank       BankDetails `json:"bank"`
}

// PayslipID derives the payslip ID from its pay run and employee.
func PayslipID(payRunID string, employeeID generic.EmployeeID) string {
	return payRunID + ":" + string(employeeID)
}

// Reconciles reports whether the payslip satisfies gross − deductions == net
// and the total equals the sum of its lines.
func (p *Payslip) Reconciles() bool {
	var sum generic.Money
	for _, l := range p.Deductions {
		sum = sum.Add(l.Amount)
	}
	return sum == p.TotalDeductions &&
		p.GrossPay.Sub(p.TotalDeductions) == p.NetPay &&
		!p.NetPay.IsNegative()
}

// Deduction returns the applied amount for a kind, summed across lines.
func (p *Payslip) Deduction(kind DeductionKind) generic.Money {
	var total generic.Money
	for _, l := range p.Deductions {
		if l.Kind == kind {
			total = total.Add(l.Amount)
		}
	}
	return total
}

// HasWarning reports whether w was raised.
func (p *Payslip) HasWarning(w string) bool {
	for _, have := range p.Warnings {
		if have == w {
			return true
		}
	}
	return false
}

// =============================================================================
// CALCULATOR
// =============================================================================

// SlipRequest is everything needed to compute one payslip.
type SlipRequest struct {
	PayRunID string
	Employee Employee
	Shop     ShopTaxSetting
	Period   generic.Period
	Inputs   PeriodInputs
	Advances []AdvanceInstallment
}

// Calculator computes payslips. It holds no mutable state and is safe for
// concurrent use.
type Calculator struct {
	Tables tax.TableResolver
}

func NewCalculator(tables tax.TableResolver) *Calculator {
	return &Calculator{Tables: tables}
}

// Calculate composes the payslip for one employee. Configuration problems
// (no payroll detail, no tax table) are returned as generic.ConfigurationError.
func (c *Calculator) Calculate(ctx context.Context, req SlipRequest) (*Payslip, error) {
	emp := req.Employee
	subject := "employee " + string(emp.ID)
	if emp.Detail == nil {
		return nil, &generic.ConfigurationError{Subject: subject, Reason: "missing payroll detail"}
	}
	d := emp.Detail
	if err := d.Validate(subject); err != nil {
		return nil, err
	}
	if err := req.Period.Validate(); err != nil {
		return nil, err
	}

	jurisdiction := emp.Jurisdiction
	if jurisdiction == "" {
		jurisdiction = req.Shop.Jurisdiction
	}
	if jurisdiction == "" {
		return nil, &generic.ConfigurationError{Subject: subject, Reason: "no tax jurisdiction for employee or shop"}
	}

	table, err := c.Tables.Resolve(ctx, jurisdiction, req.Period.End)
	if err != nil {
		return nil, err
	}

	earnings, err := ComputeEarnings(d, req.Shop, req.Inputs)
	if err != nil {
		return nil, err
	}
	periodsPerYear, _ := d.Frequency.PeriodsPerYear()
	statutory := ComputeStatutory(d, req.Shop, table, earnings)

	taxResult, err := tax.Compute(table, tax.Input{
		Jurisdiction:   jurisdiction,
		Date:           req.Period.End,
		AnnualGross:    earnings.Gross * generic.Money(periodsPerYear),
		PeriodsPerYear: periodsPerYear,
		Settings:       emp.TaxSettings,
		Statutory:      statutory.Annualised(periodsPerYear),
		Mode:           d.TaxHandling,
	})
	if err != nil {
		return nil, err
	}

	deductions := Aggregate(DeductionInput{
		Gross:     earnings.Gross,
		Basic:     earnings.Basic,
		PAYE:      taxResult.Withholding,
		Statutory: statutory,
		Advances:  req.Advances,
		Custom:    emp.CustomDeductions,
		Period:    req.Period,
	})

	slip := &Payslip{
		ID:           PayslipID(req.PayRunID, emp.ID),
		PayRunID:     req.PayRunID,
		EmployeeID:   emp.ID,
		EmployeeName: emp.Name,
		TenantID:     emp.TenantID,
		ShopID:       emp.ShopID,
		Period:       req.Period,
		Frequency:    d.Frequency,
		Jurisdiction: jurisdiction,
		Earnings:     earnings,
		Tax:          taxResult,
		Statutory:    statutory,
		PFA:          d.PFA,
		PensionPIN:   d.PensionPIN,
		Bank:         d.Bank,
	}
	return Compose(slip, deductions)
}

// Compose fills the totals from deductions and verifies reconciliation.
func Compose(slip *Payslip, deductions DeductionResult) (*Payslip, error) {
	slip.Deductions = deductions.Lines
	slip.GrossPay = slip.Earnings.Gross
	slip.TotalDeductions = deductions.Total
	slip.NetPay = slip.GrossPay.Sub(slip.TotalDeductions)
	slip.EmployerPension = slip.Statutory.PensionEmployer
	slip.Shortfall = deductions.Shortfall
	slip.Warnings = deductions.Warnings
	if slip.Earnings.CommissionCapped {
		slip.Warnings = append(slip.Warnings, "commission_capped")
	}

	if !slip.Reconciles() {
		return nil, fmt.Errorf("payslip %s does not reconcile: gross %s, deductions %s, net %s",
			slip.ID, slip.GrossPay, slip.TotalDeductions, slip.NetPay)
	}
	return slip, nil
}
