/*
calculator.go - End-to-end PAYE calculation

PURPOSE:
  Produces a TaxCalculationResult for one employee for one pay period:
  resolve table → reliefs → bands → minimum tax → period tax.

HANDLING MODES:
  shop_calculates:     the shop withholds PeriodTax
  employee_calculates: the tax is computed for reference, Withholding is 0
  exempt:              no tax at all, ExemptionReason says why

ROUNDING:
  AnnualTax is the sum of rounded band taxes (or the rounded minimum tax).
  PeriodTax = AnnualTax ÷ periods per year, rounded half-up to the kobo.
*/
package tax

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
)

type HandlingMode string

const (
	ModeShopCalculates     HandlingMode = "shop_calculates"
	ModeEmployeeCalculates HandlingMode = "employee_calculates"
	ModeExempt             HandlingMode = "exempt"
)

// ParseHandlingMode defaults "" to shop_calculates.
func ParseHandlingMode(s string) (HandlingMode, error) {
	switch m := HandlingMode(s); m {
	case "":
		return ModeShopCalculates, nil
	case ModeShopCalculates, ModeEmployeeCalculates, ModeExempt:
		return m, nil
	default:
		return "", generic.Invalid("tax_handling", "unknown tax handling mode %q", s)
	}
}

// Input describes one employee's tax position for a period.
type Input struct {
	Jurisdiction   string
	Date           time.Time // Selects the table and evaluates proof expiry
	AnnualGross    generic.Money
	PeriodsPerYear int
	Settings       EmployeeTaxSettings
	Statutory      StatutoryContributions
	Mode           HandlingMode
}

// TaxCalculationResult is the full, auditable outcome of a calculation.
type TaxCalculationResult struct {
	TableID      string       `json:"table_id"`
	LawVersion   LawVersion   `json:"law_version"`
	Jurisdiction string       `json:"jurisdiction"`
	Mode         HandlingMode `json:"mode"`

	AnnualGross   generic.Money   `json:"annual_gross"`
	Reliefs       []AppliedRelief `json:"reliefs"`
	TotalRelief   generic.Money   `json:"total_relief"`
	TaxableIncome generic.Money   `json:"taxable_income"`

	Bands             []BandTax     `json:"bands"`
	BandTax           generic.Money `json:"band_tax"`
	MinimumTax        generic.Money `json:"minimum_tax"`
	MinimumTaxApplied bool          `json:"minimum_tax_applied"`

	AnnualTax      generic.Money   `json:"annual_tax"`
	PeriodsPerYear int             `json:"periods_per_year"`
	PeriodTax      generic.Money   `json:"period_tax"`
	Withholding    generic.Money   `json:"withholding"`
	EffectiveRate  decimal.Decimal `json:"effective_rate"`

	IsExempt        bool   `json:"is_exempt"`
	ExemptionReason string `json:"exemption_reason,omitempty"`
}

// =============================================================================
// CALCULATOR
// =============================================================================

type Calculator struct {
	Resolver TableResolver
}

func NewCalculator(r TableResolver) *Calculator {
	return &Calculator{Resolver: r}
}

// Calculate resolves the table for in.Date and computes tax.
func (c *Calculator) Calculate(ctx context.Context, in Input) (*TaxCalculationResult, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	table, err := c.Resolver.Resolve(ctx, in.Jurisdiction, in.Date)
	if err != nil {
		return nil, err
	}
	return Compute(table, in)
}

func (in Input) validate() error {
	if in.Jurisdiction == "" {
		return generic.Invalid("jurisdiction", "required")
	}
	if in.Date.IsZero() {
		return generic.Invalid("date", "required")
	}
	if in.AnnualGross.IsNegative() {
		return generic.Invalid("annual_gross", "must not be negative")
	}
	if in.PeriodsPerYear <= 0 {
		return generic.Invalid("periods_per_year", "must be positive")
	}
	if _, err := ParseHandlingMode(string(in.Mode)); err != nil {
		return err
	}
	return nil
}

// Compute runs the pipeline against an already resolved table.
func Compute(table *TaxTable, in Input) (*TaxCalculationResult, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	rules, err := RulesFor(table.LawVersion)
	if err != nil {
		return nil, &generic.ConfigurationError{Subject: "tax table " + table.ID, Reason: err.Error()}
	}
	mode, _ := ParseHandlingMode(string(in.Mode))

	res := &TaxCalculationResult{
		TableID:        table.ID,
		LawVersion:     rules.Version(),
		Jurisdiction:   table.Jurisdiction,
		Mode:           mode,
		AnnualGross:    in.AnnualGross,
		PeriodsPerYear: in.PeriodsPerYear,
		EffectiveRate:  decimal.Zero,
	}

	switch {
	case mode == ModeExempt:
		res.IsExempt = true
		res.ExemptionReason = "tax handling mode exempt"
		return res, nil
	case in.Settings.IsTaxExempt:
		res.IsExempt = true
		res.ExemptionReason = in.Settings.ExemptionReason
		if res.ExemptionReason == "" {
			res.ExemptionReason = "employee marked tax exempt"
		}
		return res, nil
	}

	reliefs := CalculateReliefs(table, ReliefInput{
		AnnualGross: in.AnnualGross,
		Settings:    in.Settings,
		Statutory:   in.Statutory,
		AsOf:        in.Date,
	})
	res.Reliefs = reliefs.Applied
	res.TotalRelief = reliefs.Total
	if reliefs.IsExempt {
		res.IsExempt = true
		res.ExemptionReason = reliefs.ExemptionReason
		return res, nil
	}

	res.TaxableIncome = in.AnnualGross.Sub(reliefs.Total).FloorZero()
	bands := ApplyBands(res.TaxableIncome, table.Bands)
	res.Bands = bands.Breakdown
	res.BandTax = bands.Total

	res.AnnualTax = bands.Total
	res.MinimumTax = rules.MinimumTax(table, in.AnnualGross)
	if res.MinimumTax.GreaterThan(res.AnnualTax) {
		res.AnnualTax = res.MinimumTax
		res.MinimumTaxApplied = true
	}

	res.PeriodTax = res.AnnualTax.DivRound(in.PeriodsPerYear)
	if mode == ModeShopCalculates {
		res.Withholding = res.PeriodTax
	}
	res.EffectiveRate = res.AnnualTax.Ratio(in.AnnualGross)
	return res, nil
}
