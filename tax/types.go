/*
Package tax computes Nigerian personal income tax (PAYE) from versioned tax tables.

PURPOSE:
  A TaxTable is the full statutory definition for one jurisdiction over one
  date range: its progressive bands, the reliefs it grants and the law
  version that decides which relief kinds are legal. The package resolves the
  table for a date, evaluates reliefs, applies bands and derives period tax.

PIPELINE:
  Resolver ──▶ CalculateReliefs ──▶ ApplyBands ──▶ minimum tax ──▶ period tax
    (date)      (exemption, CRA,     (per band,       (law rules)    (annual ÷
                 rent, statutory,    rounded)                        periods)
                 others)

KEY CONCEPTS IN THIS FILE (types.go):
  - LawVersion: pita_2011 | nta_2025, selects a LawRules strategy
  - TaxTable: jurisdiction + [EffectiveFrom, EffectiveTo) + bands + reliefs
  - TaxBand: [Lower, Upper) at Rate; nil Upper is unbounded
  - TaxRelief: a table-defined relief (fixed, percentage, CRA, rent...)

IMMUTABILITY:
  Once a completed payslip references a table it is Locked. Locked tables
  can't be updated; corrections are published as new tables with a new
  date range.

SEE ALSO:
  - resolver.go: Date-based table selection
  - relief.go: Relief Calculator
  - bands.go: Tax Band Engine
  - calculator.go: End-to-end TaxCalculationResult
*/
package tax

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
)

// =============================================================================
// TAX TABLE
// =============================================================================

type LawVersion string

const (
	LawPITA2011 LawVersion = "pita_2011"
	LawNTA2025  LawVersion = "nta_2025"
)

// TaxTable is the statutory definition for one jurisdiction and date range.
type TaxTable struct {
	ID            string     `json:"id"`
	Jurisdiction  string     `json:"jurisdiction"`
	EffectiveYear int        `json:"effective_year"`
	EffectiveFrom time.Time  `json:"effective_from"`
	EffectiveTo   *time.Time `json:"effective_to,omitempty"` // Exclusive, nil = open-ended
	LawVersion    LawVersion `json:"law_version"`
	Description   string     `json:"description,omitempty"`

	LowIncomeThreshold generic.Money   `json:"low_income_threshold"`
	MinimumTaxRate     decimal.Decimal `json:"minimum_tax_rate"`

	// Per-period bounds on each pension contribution, if set.
	PensionMin *generic.Money `json:"pension_min,omitempty"`
	PensionMax *generic.Money `json:"pension_max,omitempty"`

	Bands   []TaxBand   `json:"bands"`
	Reliefs []TaxRelief `json:"reliefs"`

	Locked bool `json:"locked"`
}

// Covers reports whether date falls in [EffectiveFrom, EffectiveTo).
func (t *TaxTable) Covers(date time.Time) bool {
	d := generic.DateOf(date)
	if d.Before(generic.DateOf(t.EffectiveFrom)) {
		return false
	}
	return t.EffectiveTo == nil || d.Before(generic.DateOf(*t.EffectiveTo))
}

// OverlapsTable reports whether both tables share at least one day.
func (t *TaxTable) OverlapsTable(o *TaxTable) bool {
	if t.EffectiveTo != nil && !generic.DateOf(o.EffectiveFrom).Before(generic.DateOf(*t.EffectiveTo)) {
		return false
	}
	if o.EffectiveTo != nil && !generic.DateOf(t.EffectiveFrom).Before(generic.DateOf(*o.EffectiveTo)) {
		return false
	}
	return true
}

// Relief returns the active relief of the given type, if any.
func (t *TaxTable) Relief(rt ReliefType) (TaxRelief, bool) {
	for _, r := range t.Reliefs {
		if r.Type == rt && r.Active {
			return r, true
		}
	}
	return TaxRelief{}, false
}

// =============================================================================
// BANDS
// =============================================================================

// TaxBand taxes annual income in [Lower, Upper) at Rate.
type TaxBand struct {
	Lower generic.Money   `json:"lower_limit"`
	Upper *generic.Money  `json:"upper_limit,omitempty"` // nil = unbounded
	Rate  decimal.Decimal `json:"rate"`
}

func (b TaxBand) String() string {
	if b.Upper == nil {
		return fmt.Sprintf("%s+ @ %s", b.Lower, b.Rate)
	}
	return fmt.Sprintf("%s-%s @ %s", b.Lower, *b.Upper, b.Rate)
}

// =============================================================================
// RELIEFS
// =============================================================================

type ReliefType string

const (
	ReliefFixed              ReliefType = "fixed"
	ReliefPercentage         ReliefType = "percentage"
	ReliefCappedPercentage   ReliefType = "capped_percentage"
	ReliefCRA                ReliefType = "cra"
	ReliefRent               ReliefType = "rent_relief"
	ReliefLowIncomeExemption ReliefType = "low_income_exemption"

	// ReliefStatutory marks pension, NHF and NHIS contributions. Never defined
	// on a table; applied from the employee's own contributions.
	ReliefStatutory ReliefType = "statutory"
)

// ReliefBase is what a percentage relief is applied to.
type ReliefBase string

const (
	BaseGross   ReliefBase = "gross"
	BaseTaxable ReliefBase = "taxable" // gross less reliefs applied so far
)

// Statutory relief codes.
const (
	CodePension = "PENSION"
	CodeNHF     = "NHF"
	CodeNHIS    = "NHIS"
)

// TaxRelief is a relief defined by a tax table.
//
//	fixed:             Amount
//	percentage:        Rate × base
//	capped_percentage: min(Rate × base, Cap)
//	cra:               max(Amount, Rate × gross) + AdditionalRate × gross, capped by Cap if set
//	rent_relief:       min(Rate × annual rent, Cap); zero for homeowners or without valid proof
//	low_income_exemption: gross ≤ threshold exempts the employee entirely
type TaxRelief struct {
	Code           string          `json:"code"`
	Name           string          `json:"name,omitempty"`
	Type           ReliefType      `json:"type"`
	Amount         generic.Money   `json:"amount"`
	Rate           decimal.Decimal `json:"rate"`
	AdditionalRate decimal.Decimal `json:"additional_rate"`
	Cap            *generic.Money  `json:"cap,omitempty"`
	Base           ReliefBase      `json:"base,omitempty"`
	RequiresProof  bool            `json:"requires_proof"`
	Active         bool            `json:"active"`
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate checks the table is well-formed for its law version.
func (t *TaxTable) Validate() error {
	if t.Jurisdiction == "" {
		return generic.Invalid("jurisdiction", "required")
	}
	if t.EffectiveFrom.IsZero() {
		return generic.Invalid("effective_from", "required")
	}
	if t.EffectiveTo != nil && !generic.DateOf(*t.EffectiveTo).After(generic.DateOf(t.EffectiveFrom)) {
		return generic.Invalid("effective_to", "must be after effective_from")
	}
	rules, err := RulesFor(t.LawVersion)
	if err != nil {
		return err
	}
	if t.LowIncomeThreshold.IsNegative() {
		return generic.Invalid("low_income_threshold", "must not be negative")
	}
	if !validRate(t.MinimumTaxRate) {
		return generic.Invalid("minimum_tax_rate", "must be between 0 and 1")
	}
	if t.PensionMin != nil && t.PensionMax != nil && t.PensionMin.GreaterThan(*t.PensionMax) {
		return generic.Invalid("pension_min", "exceeds pension_max")
	}
	if err := validateBands(t.Bands); err != nil {
		return err
	}

	seen := make(map[string]bool, len(t.Reliefs))
	for i, r := range t.Reliefs {
		field := fmt.Sprintf("reliefs[%d]", i)
		if r.Code == "" {
			return generic.Invalid(field+".code", "required")
		}
		if seen[r.Code] {
			return generic.Invalid(field+".code", "duplicate relief code %q", r.Code)
		}
		seen[r.Code] = true

		switch r.Type {
		case ReliefFixed, ReliefPercentage, ReliefCappedPercentage, ReliefCRA, ReliefRent, ReliefLowIncomeExemption:
		default:
			return generic.Invalid(field+".type", "unknown relief type %q", r.Type)
		}
		if !rules.AllowsRelief(r.Type) {
			return generic.Invalid(field+".type", "%s does not allow %s reliefs", t.LawVersion, r.Type)
		}
		if !validRate(r.Rate) || !validRate(r.AdditionalRate) {
			return generic.Invalid(field+".rate", "must be between 0 and 1")
		}
		if r.Amount.IsNegative() || (r.Cap != nil && r.Cap.IsNegative()) {
			return generic.Invalid(field, "amount and cap must not be negative")
		}
		if r.Type == ReliefCappedPercentage && r.Cap == nil {
			return generic.Invalid(field+".cap", "required for capped_percentage")
		}
		if r.Base != "" && r.Base != BaseGross && r.Base != BaseTaxable {
			return generic.Invalid(field+".base", "unknown base %q", r.Base)
		}
	}
	return nil
}

// validateBands requires contiguous, non-overlapping, increasing bands from
// zero, with only the last band unbounded.
func validateBands(bands []TaxBand) error {
	if len(bands) == 0 {
		return generic.Invalid("bands", "at least one band is required")
	}
	if !bands[0].Lower.IsZero() {
		return generic.Invalid("bands[0].lower_limit", "first band must start at 0")
	}
	for i, b := range bands {
		field := fmt.Sprintf("bands[%d]", i)
		if !validRate(b.Rate) {
			return generic.Invalid(field+".rate", "must be between 0 and 1")
		}
		last := i == len(bands)-1
		if b.Upper == nil {
			if !last {
				return generic.Invalid(field+".upper_limit", "only the last band may be unbounded")
			}
			continue
		}
		if last {
			return generic.Invalid(field+".upper_limit", "last band must be unbounded")
		}
		if !b.Upper.GreaterThan(b.Lower) {
			return generic.Invalid(field+".upper_limit", "must be greater than lower_limit")
		}
		if bands[i+1].Lower != *b.Upper {
			return generic.Invalid(fmt.Sprintf("bands[%d].lower_limit", i+1), "must equal previous upper_limit %s", *b.Upper)
		}
	}
	return nil
}

func validRate(r decimal.Decimal) bool {
	return !r.IsNegative() && r.LessThanOrEqual(decimal.NewFromInt(1))
}
