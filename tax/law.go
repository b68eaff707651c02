package tax

import (
	"github.com/warp/payroll-engine/generic"
)

// =============================================================================
// LAW VERSIONS - one strategy per statute
// =============================================================================

// LawRules holds the behavior that differs between tax statutes. The band
// engine and relief calculator never branch on the law version directly;
// they ask the rules.
type LawRules interface {
	Version() LawVersion

	// AllowsRelief reports whether tables under this law may define rt.
	AllowsRelief(rt ReliefType) bool

	// MinimumTax is the floor on annual tax for the given gross income.
	MinimumTax(t *TaxTable, annualGross generic.Money) generic.Money
}

var lawRules = map[LawVersion]LawRules{
	LawPITA2011: pitaRules{},
	LawNTA2025:  ntaRules{},
}

// RulesFor returns the strategy for a law version.
func RulesFor(v LawVersion) (LawRules, error) {
	r, ok := lawRules[v]
	if !ok {
		return nil, generic.Invalid("law_version", "unknown law version %q", v)
	}
	return r, nil
}

// pitaRules: Personal Income Tax Act 2011 (as amended). CRA applies and a
// minimum tax of MinimumTaxRate × gross is charged when band tax is lower.
type pitaRules struct{}

func (pitaRules) Version() LawVersion { return LawPITA2011 }

func (pitaRules) AllowsRelief(rt ReliefType) bool { return true }

func (pitaRules) MinimumTax(t *TaxTable, annualGross generic.Money) generic.Money {
	if t.MinimumTaxRate.IsZero() {
		return 0
	}
	return annualGross.MulRate(t.MinimumTaxRate)
}

// ntaRules: Nigeria Tax Act 2025. CRA is abolished in favour of rent relief
// and there is no minimum tax.
type ntaRules struct{}

func (ntaRules) Version() LawVersion { return LawNTA2025 }

func (ntaRules) AllowsRelief(rt ReliefType) bool { return rt != ReliefCRA }

func (ntaRules) MinimumTax(*TaxTable, generic.Money) generic.Money { return 0 }
