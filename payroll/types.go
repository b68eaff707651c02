/*
Package payroll turns one employee's pay data for one period into a payslip.

PURPOSE:
  Everything here is a pure function of its inputs: the employee record,
  the shop's tax settings, the period's variable inputs (hours, bonus,
  commission), due wage-advance installments and the resolved tax table.
  The same inputs always produce a byte-identical Payslip.

FLOW:
  Earnings ──▶ statutory contributions ──▶ tax.Compute ──▶ Aggregate ──▶ Compose
  (basic,       (pension, NHF, NHIS,       (annualised    (cap at       (gross −
   overtime,     uncapped)                  gross)         gross pay)    deductions
   allowances,                                                           == net)
   commission)

KEY CONCEPTS IN THIS FILE (types.go):
  - Employee: roster record with payroll detail and tax settings
  - EmployeePayrollDetail: pay type/amount/frequency, statutory toggles
  - ShopTaxSetting: shop-level defaults and overtime rules
  - CustomDeduction: recurring fixed or percentage deduction

SEE ALSO:
  - earnings.go: Earnings computation
  - deductions.go: Deduction Aggregator
  - payslip.go: Payslip Compositor
  - payrun/orchestrator.go: Runs this for every employee in a period
*/
package payroll

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/tax"
)

// =============================================================================
// EMPLOYEE
// =============================================================================

type Role string

const (
	RoleStaff          Role = "staff"
	RoleCashier        Role = "cashier"
	RoleManager        Role = "manager"
	RoleGeneralManager Role = "general_manager"
	RoleOwner          Role = "owner"
)

// Employee is a roster record as maintained by staff management.
type Employee struct {
	ID           generic.EmployeeID `json:"id"`
	TenantID     generic.TenantID   `json:"tenant_id"`
	ShopID       generic.ShopID     `json:"shop_id"`
	Name         string             `json:"name"`
	Role         Role               `json:"role"`
	Active       bool               `json:"active"`
	Jurisdiction string             `json:"jurisdiction,omitempty"` // Overrides the shop's

	Detail           *EmployeePayrollDetail  `json:"payroll_detail,omitempty"`
	TaxSettings      tax.EmployeeTaxSettings `json:"tax_settings"`
	CustomDeductions []CustomDeduction       `json:"custom_deductions,omitempty"`
}

// =============================================================================
// PAYROLL DETAIL
// =============================================================================

type PayType string

const (
	PaySalary PayType = "salary" // PayAmount per pay period
	PayHourly PayType = "hourly" // PayAmount per hour
	PayDaily  PayType = "daily"  // PayAmount per day
)

// Allowance is a recurring per-period earning on top of basic pay.
type Allowance struct {
	Code        string        `json:"code"`
	Name        string        `json:"name,omitempty"`
	Amount      generic.Money `json:"amount"`
	Pensionable bool          `json:"pensionable"`
}

type BankDetails struct {
	BankName      string `json:"bank_name"`
	BankCode      string `json:"bank_code"`
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
}

// EmployeePayrollDetail holds how an employee is paid. Zero rates fall back
// to the shop defaults.
type EmployeePayrollDetail struct {
	PayType   PayType           `json:"pay_type"`
	PayAmount generic.Money     `json:"pay_amount"`
	Frequency generic.Frequency `json:"frequency"`

	PensionEnabled      bool            `json:"pension_enabled"`
	PensionEmployeeRate decimal.Decimal `json:"pension_employee_rate"`
	PensionEmployerRate decimal.Decimal `json:"pension_employer_rate"`
	PFA                 string          `json:"pfa,omitempty"`
	PensionPIN          string          `json:"pension_pin,omitempty"`

	NHFEnabled bool            `json:"nhf_enabled"`
	NHFRate    decimal.Decimal `json:"nhf_rate"`

	NHISEnabled bool          `json:"nhis_enabled"`
	NHISAmount  generic.Money `json:"nhis_amount"`

	TaxHandling tax.HandlingMode `json:"tax_handling"`
	Allowances  []Allowance      `json:"allowances,omitempty"`
	Bank        BankDetails      `json:"bank"`
}

// Validate reports a ConfigurationError for details that can't be paid.
func (d *EmployeePayrollDetail) Validate(subject string) error {
	switch d.PayType {
	case PaySalary, PayHourly, PayDaily:
	default:
		return &generic.ConfigurationError{Subject: subject, Reason: "unknown pay type " + string(d.PayType)}
	}
	if !d.PayAmount.IsPositive() {
		return &generic.ConfigurationError{Subject: subject, Reason: "pay amount must be positive"}
	}
	if _, err := d.Frequency.PeriodsPerYear(); err != nil {
		return &generic.ConfigurationError{Subject: subject, Reason: err.Error()}
	}
	if _, err := tax.ParseHandlingMode(string(d.TaxHandling)); err != nil {
		return &generic.ConfigurationError{Subject: subject, Reason: err.Error()}
	}
	for _, r := range []decimal.Decimal{d.PensionEmployeeRate, d.PensionEmployerRate, d.NHFRate} {
		if r.IsNegative() || r.GreaterThan(decimal.NewFromInt(1)) {
			return &generic.ConfigurationError{Subject: subject, Reason: "statutory rates must be between 0 and 1"}
		}
	}
	return nil
}

// =============================================================================
// SHOP SETTINGS
// =============================================================================

// ShopTaxSetting is shop-level payroll configuration.
type ShopTaxSetting struct {
	ShopID       generic.ShopID   `json:"shop_id"`
	TenantID     generic.TenantID `json:"tenant_id"`
	Jurisdiction string           `json:"jurisdiction"`

	// Hours per period above which hourly work is overtime; zero disables overtime.
	OvertimeThresholdHours decimal.Decimal `json:"overtime_threshold_hours"`
	OvertimeMultiplier     decimal.Decimal `json:"overtime_multiplier"`

	DefaultPensionEmployeeRate decimal.Decimal `json:"default_pension_employee_rate"`
	DefaultPensionEmployerRate decimal.Decimal `json:"default_pension_employer_rate"`
	DefaultNHFRate             decimal.Decimal `json:"default_nhf_rate"`
	DefaultNHISAmount          generic.Money   `json:"default_nhis_amount"`

	CommissionCap          *generic.Money `json:"commission_cap,omitempty"`
	OwnerApprovalThreshold generic.Money  `json:"owner_approval_threshold"` // Zero = never by amount
}

// DefaultShopTaxSetting returns the statutory defaults: pension 8% / 10%,
// NHF 2.5%, overtime at 1.5× above 160 hours.
func DefaultShopTaxSetting(shopID generic.ShopID, tenantID generic.TenantID, jurisdiction string) ShopTaxSetting {
	return ShopTaxSetting{
		ShopID:                     shopID,
		TenantID:                   tenantID,
		Jurisdiction:               jurisdiction,
		OvertimeThresholdHours:     decimal.NewFromInt(160),
		OvertimeMultiplier:         decimal.RequireFromString("1.5"),
		DefaultPensionEmployeeRate: decimal.RequireFromString("0.08"),
		DefaultPensionEmployerRate: decimal.RequireFromString("0.10"),
		DefaultNHFRate:             decimal.RequireFromString("0.025"),
	}
}

func (s *ShopTaxSetting) Validate() error {
	if s.ShopID == "" {
		return generic.Invalid("shop_id", "required")
	}
	if s.Jurisdiction == "" {
		return generic.Invalid("jurisdiction", "required")
	}
	if s.OvertimeThresholdHours.IsNegative() {
		return generic.Invalid("overtime_threshold_hours", "must not be negative")
	}
	if s.OvertimeMultiplier.IsNegative() {
		return generic.Invalid("overtime_multiplier", "must not be negative")
	}
	if s.CommissionCap != nil && s.CommissionCap.IsNegative() {
		return generic.Invalid("commission_cap", "must not be negative")
	}
	if s.OwnerApprovalThreshold.IsNegative() {
		return generic.Invalid("owner_approval_threshold", "must not be negative")
	}
	return nil
}

// =============================================================================
// CUSTOM DEDUCTIONS
// =============================================================================

type CustomDeductionType string

const (
	CustomFixed      CustomDeductionType = "fixed"
	CustomPercentage CustomDeductionType = "percentage" // Rate × basic
)

type CustomDeduction struct {
	ID            string              `json:"id"`
	Name          string              `json:"name"`
	Type          CustomDeductionType `json:"type"`
	Amount        generic.Money       `json:"amount"`
	Rate          decimal.Decimal     `json:"rate"`
	EffectiveFrom *time.Time          `json:"effective_from,omitempty"`
	EffectiveTo   *time.Time          `json:"effective_to,omitempty"`
	IsActive      bool                `json:"is_active"`
}

// AppliesTo reports whether the deduction is active and in force during p.
func (c CustomDeduction) AppliesTo(p generic.Period) bool {
	return c.IsActive && p.Overlaps(c.EffectiveFrom, c.EffectiveTo)
}

// =============================================================================
// PERIOD INPUTS
// =============================================================================

// PeriodInputs are the variable earnings for one employee in one period.
type PeriodInputs struct {
	HoursWorked decimal.Decimal `json:"hours_worked"`
	DaysWorked  decimal.Decimal `json:"days_worked"`
	Bonus       generic.Money   `json:"bonus"`
	Commission  generic.Money   `json:"commission"`
}

// AdvanceInstallment is a wage-advance installment due in a period.
type AdvanceInstallment struct {
	AdvanceID string        `json:"advance_id"`
	Amount    generic.Money `json:"amount"`
}
