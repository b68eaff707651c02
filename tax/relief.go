/*
relief.go - Relief Calculator

PURPOSE:
  Turns an employee's tax settings and annual gross income into an ordered
  list of AppliedRelief and a total. Every relief the table defines is
  recorded, including the ones that came to zero, together with the reason
  and the proof status. Nothing is silently dropped.

EVALUATION ORDER (fixed):
  1. Low-income exemption: gross ≤ threshold short-circuits, no bands run
  2. CRA
  3. Rent relief
  4. Statutory contributions: PENSION, NHF, NHIS
  5. Every other table relief, in table order

  Percentage reliefs with base "taxable" see the base after all earlier
  reliefs, so order changes the answer.

PROOF STATUS:
  Derived on every evaluation from the proof document and its expiry
  relative to the evaluation date: missing | expired | valid.
*/
package tax

import (
	"slices"
	"time"

	"github.com/warp/payroll-engine/generic"
)

// =============================================================================
// EMPLOYEE TAX SETTINGS
// =============================================================================

type ProofStatus string

const (
	ProofMissing     ProofStatus = "missing"
	ProofExpired     ProofStatus = "expired"
	ProofValid       ProofStatus = "valid"
	ProofNotRequired ProofStatus = "not_required"
)

// EmployeeTaxSettings are the per-employee inputs to relief evaluation.
type EmployeeTaxSettings struct {
	IsHomeowner       bool          `json:"is_homeowner"`
	AnnualRent        generic.Money `json:"annual_rent"`
	IsTaxExempt       bool          `json:"is_tax_exempt"`
	ExemptionReason   string        `json:"exemption_reason,omitempty"`
	ActiveReliefCodes []string      `json:"active_relief_codes,omitempty"`

	ProofDocument    string     `json:"proof_document,omitempty"`
	ProofDocumentExp *time.Time `json:"proof_document_expiry,omitempty"`
}

// ProofStatus derives the proof status as of a date. Never stored.
func (s EmployeeTaxSettings) ProofStatus(asOf time.Time) ProofStatus {
	if s.ProofDocument == "" {
		return ProofMissing
	}
	if s.ProofDocumentExp != nil && generic.DateOf(*s.ProofDocumentExp).Before(generic.DateOf(asOf)) {
		return ProofExpired
	}
	return ProofValid
}

func (s EmployeeTaxSettings) hasCode(code string) bool {
	return slices.Contains(s.ActiveReliefCodes, code)
}

// StatutoryContributions are the employee's own annual contributions that
// reduce taxable income.
type StatutoryContributions struct {
	Pension generic.Money `json:"pension"`
	NHF     generic.Money `json:"nhf"`
	NHIS    generic.Money `json:"nhis"`
}

// =============================================================================
// RESULT
// =============================================================================

// AppliedRelief is one evaluated relief. Amount may be zero.
type AppliedRelief struct {
	Code          string        `json:"code"`
	Type          ReliefType    `json:"type"`
	Amount        generic.Money `json:"amount"`
	RequiresProof bool          `json:"requires_proof"`
	ProofStatus   ProofStatus   `json:"proof_status,omitempty"`
	Note          string        `json:"note,omitempty"`
}

type ReliefResult struct {
	Applied         []AppliedRelief `json:"applied"`
	Total           generic.Money   `json:"total"`
	IsExempt        bool            `json:"is_exempt"`
	ExemptionReason string          `json:"exemption_reason,omitempty"`
}

// =============================================================================
// CALCULATION
// =============================================================================

// ReliefInput is everything the relief calculator reads.
type ReliefInput struct {
	AnnualGross generic.Money
	Settings    EmployeeTaxSettings
	Statutory   StatutoryContributions
	AsOf        time.Time
}

// CalculateReliefs evaluates the table's reliefs for one employee.
func CalculateReliefs(table *TaxTable, in ReliefInput) ReliefResult {
	var res ReliefResult
	gross := in.AnnualGross.FloorZero()

	// 1. Exemption check
	if ex, ok := table.Relief(ReliefLowIncomeExemption); ok {
		threshold := table.LowIncomeThreshold
		if ex.Amount.IsPositive() {
			threshold = ex.Amount
		}
		if !gross.GreaterThan(threshold) {
			res.IsExempt = true
			res.ExemptionReason = "annual income " + gross.String() + " within low income threshold " + threshold.String()
			res.Applied = append(res.Applied, AppliedRelief{Code: ex.Code, Type: ex.Type, Amount: gross, ProofStatus: ProofNotRequired, Note: "exempt"})
			res.Total = gross
			return res
		}
	}

	add := func(a AppliedRelief) {
		res.Applied = append(res.Applied, a)
		res.Total = res.Total.Add(a.Amount)
	}
	remaining := func() generic.Money { return gross.Sub(res.Total).FloorZero() }
	proof := in.Settings.ProofStatus(in.AsOf)

	// 2. CRA
	if cra, ok := table.Relief(ReliefCRA); ok {
		amount := gross.MulRate(cra.Rate).Max(cra.Amount).Add(gross.MulRate(cra.AdditionalRate))
		if cra.Cap != nil {
			amount = amount.Min(*cra.Cap)
		}
		add(gatedByProof(cra, amount, proof))
	}

	// 3. Rent relief
	if rent, ok := table.Relief(ReliefRent); ok {
		a := AppliedRelief{Code: rent.Code, Type: rent.Type, RequiresProof: rent.RequiresProof, ProofStatus: ProofNotRequired}
		if rent.RequiresProof {
			a.ProofStatus = proof
		}
		switch {
		case in.Settings.IsHomeowner:
			a.Note = "homeowner"
		case !in.Settings.AnnualRent.IsPositive():
			a.Note = "no rent declared"
		case rent.RequiresProof && proof != ProofValid:
			a.Note = "proof " + string(proof)
		default:
			a.Amount = in.Settings.AnnualRent.MulRate(rent.Rate)
			if rent.Cap != nil {
				a.Amount = a.Amount.Min(*rent.Cap)
			}
		}
		add(a)
	}

	// 4. Statutory contributions
	for _, s := range []struct {
		code   string
		amount generic.Money
	}{
		{CodePension, in.Statutory.Pension},
		{CodeNHF, in.Statutory.NHF},
		{CodeNHIS, in.Statutory.NHIS},
	} {
		if s.amount.IsPositive() {
			add(AppliedRelief{Code: s.code, Type: ReliefStatutory, Amount: s.amount, ProofStatus: ProofNotRequired})
		}
	}

	// 5. Everything else
	for _, r := range table.Reliefs {
		if !r.Active {
			continue
		}
		switch r.Type {
		case ReliefFixed, ReliefPercentage, ReliefCappedPercentage:
		default:
			continue
		}
		if !in.Settings.hasCode(r.Code) {
			continue
		}

		base := gross
		if r.Base == BaseTaxable {
			base = remaining()
		}
		var amount generic.Money
		switch r.Type {
		case ReliefFixed:
			amount = r.Amount
		case ReliefPercentage, ReliefCappedPercentage:
			amount = base.MulRate(r.Rate)
		}
		if r.Cap != nil {
			amount = amount.Min(*r.Cap)
		}
		add(gatedByProof(r, amount, proof))
	}
	return res
}

// gatedByProof zeroes a relief that needs proof the employee can't show.
func gatedByProof(r TaxRelief, amount generic.Money, proof ProofStatus) AppliedRelief {
	a := AppliedRelief{Code: r.Code, Type: r.Type, Amount: amount, RequiresProof: r.RequiresProof, ProofStatus: ProofNotRequired}
	if r.RequiresProof {
		a.ProofStatus = proof
		if proof != ProofValid {
			a.Amount = 0
			a.Note = "proof " + string(proof)
		}
	}
	return a
}
