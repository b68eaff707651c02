/*
Package factory provides JSON to Go tax table conversion.

PURPOSE:
  Converts JSON tax table definitions into tax.TaxTable values. Tax tables
  are administered outside the engine (by an operator or an admin UI) and
  arrive as JSON; the factory turns them into validated Go structs.

JSON SCHEMA:
  {
    "id": "lagos-nta-2025",
    "jurisdiction": "NG-LA",
    "law_version": "nta_2025",
    "effective_from": "2026-01-01",
    "effective_to": null,
    "low_income_threshold": "800000",
    "bands": [
      {"lower_limit": "0",      "upper_limit": "800000",  "rate": "0"},
      {"lower_limit": "800000", "upper_limit": "3000000", "rate": "0.15"},
      {"lower_limit": "3000000", "rate": "0.18"}
    ],
    "reliefs": [
      {"code": "RENT", "type": "rent_relief", "rate": "0.20", "cap": "500000", "requires_proof": true}
    ]
  }

PRESETS:
  "preset": "pita_2011" or "nta_2025" starts from the statutory table and
  lets the remaining fields override it. Bands or reliefs given in the JSON
  replace the preset's entirely.

KEY FEATURES:
  - Money as strings or numbers, rates as decimal strings
  - Dates as YYYY-MM-DD
  - Reliefs default to active
  - Result is validated before it is returned

USAGE:
  f := NewTaxTableFactory()
  table, err := f.ParseTaxTable(jsonString)
  registry.Publish(ctx, *table)

SEE ALSO:
  - tax/types.go: TaxTable definition and validation
  - tax/presets.go: Statutory tables
*/
package factory

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/tax"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// TaxTableJSON is the JSON representation of a tax table.
type TaxTableJSON struct {
	ID                 string           `json:"id"`
	Preset             string           `json:"preset,omitempty"` // pita_2011, nta_2025
	Jurisdiction       string           `json:"jurisdiction"`
	LawVersion         string           `json:"law_version,omitempty"`
	Description        string           `json:"description,omitempty"`
	EffectiveFrom      string           `json:"effective_from"`
	EffectiveTo        string           `json:"effective_to,omitempty"`
	LowIncomeThreshold *generic.Money   `json:"low_income_threshold,omitempty"`
	MinimumTaxRate     *decimal.Decimal `json:"minimum_tax_rate,omitempty"`
	PensionMin         *generic.Money   `json:"pension_min,omitempty"`
	PensionMax         *generic.Money   `json:"pension_max,omitempty"`
	Bands              []BandJSON       `json:"bands,omitempty"`
	Reliefs            []ReliefJSON     `json:"reliefs,omitempty"`
}

// BandJSON represents one tax band. A missing upper_limit is unbounded.
type BandJSON struct {
	LowerLimit generic.Money   `json:"lower_limit"`
	UpperLimit *generic.Money  `json:"upper_limit,omitempty"`
	Rate       decimal.Decimal `json:"rate"`
}

// ReliefJSON represents one relief definition.
type ReliefJSON struct {
	Code           string           `json:"code"`
	Name           string           `json:"name,omitempty"`
	Type           string           `json:"type"`
	Amount         generic.Money    `json:"amount,omitempty"`
	Rate           *decimal.Decimal `json:"rate,omitempty"`
	AdditionalRate *decimal.Decimal `json:"additional_rate,omitempty"`
	Cap            *generic.Money   `json:"cap,omitempty"`
	Base           string           `json:"base,omitempty"`
	RequiresProof  bool             `json:"requires_proof,omitempty"`
	Active         *bool            `json:"active,omitempty"` // Default true
}

// =============================================================================
// TAX TABLE FACTORY
// =============================================================================

// TaxTableFactory converts JSON tax tables to Go structs.
type TaxTableFactory struct{}

func NewTaxTableFactory() *TaxTableFactory {
	return &TaxTableFactory{}
}

// ParseTaxTable parses a JSON string into a validated TaxTable.
func (f *TaxTableFactory) ParseTaxTable(jsonStr string) (*tax.TaxTable, error) {
	var tj TaxTableJSON
	if err := json.Unmarshal([]byte(jsonStr), &tj); err != nil {
		return nil, fmt.Errorf("failed to parse tax table JSON: %w", err)
	}
	return f.FromJSON(tj)
}

// FromJSON converts TaxTableJSON to a validated tax.TaxTable.
func (f *TaxTableFactory) FromJSON(tj TaxTableJSON) (*tax.TaxTable, error) {
	from, err := generic.ParseDate(tj.EffectiveFrom)
	if err != nil {
		return nil, generic.Invalid("effective_from", "%v", err)
	}
	var to *time.Time
	if tj.EffectiveTo != "" {
		parsed, err := generic.ParseDate(tj.EffectiveTo)
		if err != nil {
			return nil, generic.Invalid("effective_to", "%v", err)
		}
		to = &parsed
	}

	table, err := presetTable(tj, from, to)
	if err != nil {
		return nil, err
	}

	if tj.LawVersion != "" {
		table.LawVersion = tax.LawVersion(tj.LawVersion)
	}
	if tj.Description != "" {
		table.Description = tj.Description
	}
	if tj.LowIncomeThreshold != nil {
		table.LowIncomeThreshold = *tj.LowIncomeThreshold
	}
	if tj.MinimumTaxRate != nil {
		table.MinimumTaxRate = *tj.MinimumTaxRate
	}
	table.PensionMin = tj.PensionMin
	table.PensionMax = tj.PensionMax

	if len(tj.Bands) > 0 {
		table.Bands = make([]tax.TaxBand, len(tj.Bands))
		for i, bj := range tj.Bands {
			table.Bands[i] = tax.TaxBand{Lower: bj.LowerLimit, Upper: bj.UpperLimit, Rate: bj.Rate}
		}
	}
	if len(tj.Reliefs) > 0 {
		table.Reliefs = make([]tax.TaxRelief, len(tj.Reliefs))
		for i, rj := range tj.Reliefs {
			table.Reliefs[i] = parseRelief(rj)
		}
	}

	if err := table.Validate(); err != nil {
		return nil, err
	}
	return &table, nil
}

func presetTable(tj TaxTableJSON, from time.Time, to *time.Time) (tax.TaxTable, error) {
	switch tj.Preset {
	case "":
		return tax.TaxTable{
			ID:            tj.ID,
			Jurisdiction:  tj.Jurisdiction,
			EffectiveYear: from.Year(),
			EffectiveFrom: from,
			EffectiveTo:   to,
		}, nil
	case string(tax.LawPITA2011):
		return tax.PITA2011Table(tj.ID, tj.Jurisdiction, from, to), nil
	case string(tax.LawNTA2025):
		t := tax.NTA2025Table(tj.ID, tj.Jurisdiction, from)
		t.EffectiveTo = to
		return t, nil
	default:
		return tax.TaxTable{}, generic.Invalid("preset", "unknown preset %q", tj.Preset)
	}
}

func parseRelief(rj ReliefJSON) tax.TaxRelief {
	r := tax.TaxRelief{
		Code:          rj.Code,
		Name:          rj.Name,
		Type:          tax.ReliefType(rj.Type),
		Amount:        rj.Amount,
		Cap:           rj.Cap,
		Base:          tax.ReliefBase(rj.Base),
		RequiresProof: rj.RequiresProof,
		Active:        rj.Active == nil || *rj.Active,
	}
	if rj.Rate != nil {
		r.Rate = *rj.Rate
	}
	if rj.AdditionalRate != nil {
		r.AdditionalRate = *rj.AdditionalRate
	}
	return r
}

// ToJSON converts a TaxTable back to its JSON form.
func (f *TaxTableFactory) ToJSON(t *tax.TaxTable) TaxTableJSON {
	tj := TaxTableJSON{
		ID:                 t.ID,
		Jurisdiction:       t.Jurisdiction,
		LawVersion:         string(t.LawVersion),
		Description:        t.Description,
		EffectiveFrom:      t.EffectiveFrom.Format("2006-01-02"),
		LowIncomeThreshold: &t.LowIncomeThreshold,
		MinimumTaxRate:     &t.MinimumTaxRate,
		PensionMin:         t.PensionMin,
		PensionMax:         t.PensionMax,
	}
	if t.EffectiveTo != nil {
		tj.EffectiveTo = t.EffectiveTo.Format("2006-01-02")
	}
	for _, b := range t.Bands {
		tj.Bands = append(tj.Bands, BandJSON{LowerLimit: b.Lower, UpperLimit: b.Upper, Rate: b.Rate})
	}
	for _, r := range t.Reliefs {
		active := r.Active
		rate, additional := r.Rate, r.AdditionalRate
		tj.Reliefs = append(tj.Reliefs, ReliefJSON{
			Code:           r.Code,
			Name:           r.Name,
			Type:           string(r.Type),
			Amount:         r.Amount,
			Rate:           &rate,
			AdditionalRate: &additional,
			Cap:            r.Cap,
			Base:           string(r.Base),
			RequiresProof:  r.RequiresProof,
			Active:         &active,
		})
	}
	return tj
}
