/*
presets.go - Statutory tax tables

PURPOSE:
  Ready-made tables for the two statutes the engine supports. Operators can
  publish these as-is for a jurisdiction or use them as a starting point.

AVAILABLE TABLES:
  PITA2011Table: Personal Income Tax Act 2011 (as amended)
    Bands: 300k@7%, 300k@11%, 500k@15%, 500k@19%, 1.6m@21%, above 3.2m@24%
    CRA = max(₦200,000, 1% of gross) + 20% of gross
    Minimum tax 1% of gross; exempt at or below ₦360,000

  NTA2025Table: Nigeria Tax Act 2025, in force from 2026-01-01
    Bands: 800k@0%, 2.2m@15%, 9m@18%, 13m@21%, 25m@23%, above 50m@25%
    Rent relief 20% of annual rent, capped at ₦500,000, proof required
    No CRA, no minimum tax; exempt at or below ₦800,000

CUTOVER:
  StatutoryTables returns both for a jurisdiction with PITA ending exactly
  where NTA starts, so every date resolves to exactly one.
*/
package tax

import (
	"time"

	"github.com/warp/payroll-engine/generic"
)

// NTA2025Effective is the first day the Nigeria Tax Act 2025 applies.
var NTA2025Effective = generic.Date(2026, time.January, 1)

// PITA2011Effective is the start date used for the PITA preset.
var PITA2011Effective = generic.Date(2011, time.January, 1)

func naira(n int64) generic.Money { return generic.NewMoney(n) }

func nairaPtr(n int64) *generic.Money {
	m := generic.NewMoney(n)
	return &m
}

// bandsFromWidths builds contiguous bands from band widths; the last rate
// applies to everything above.
func bandsFromWidths(widths []int64, rates []string) []TaxBand {
	bands := make([]TaxBand, 0, len(rates))
	var lower generic.Money
	for i, rate := range rates {
		b := TaxBand{Lower: lower, Rate: generic.MustParseRate(rate)}
		if i < len(widths) {
			upper := lower.Add(naira(widths[i]))
			b.Upper = &upper
			lower = upper
		}
		bands = append(bands, b)
	}
	return bands
}

// PITA2011Table returns the PITA table for jurisdiction over [from, to).
func PITA2011Table(id, jurisdiction string, from time.Time, to *time.Time) TaxTable {
	return TaxTable{
		ID:                 id,
		Jurisdiction:       jurisdiction,
		EffectiveYear:      from.Year(),
		EffectiveFrom:      from,
		EffectiveTo:        to,
		LawVersion:         LawPITA2011,
		Description:        "Personal Income Tax Act 2011 (as amended)",
		LowIncomeThreshold: naira(360_000),
		MinimumTaxRate:     generic.MustParseRate("0.01"),
		Bands: bandsFromWidths(
			[]int64{300_000, 300_000, 500_000, 500_000, 1_600_000},
			[]string{"0.07", "0.11", "0.15", "0.19", "0.21", "0.24"},
		),
		Reliefs: []TaxRelief{
			{Code: "LOW_INCOME", Name: "Low income exemption", Type: ReliefLowIncomeExemption, Active: true},
			{
				Code:           "CRA",
				Name:           "Consolidated relief allowance",
				Type:           ReliefCRA,
				Amount:         naira(200_000),
				Rate:           generic.MustParseRate("0.01"),
				AdditionalRate: generic.MustParseRate("0.20"),
				Base:           BaseGross,
				Active:         true,
			},
		},
	}
}

// NTA2025Table returns the NTA 2025 table for jurisdiction from from, open-ended.
func NTA2025Table(id, jurisdiction string, from time.Time) TaxTable {
	return TaxTable{
		ID:                 id,
		Jurisdiction:       jurisdiction,
		EffectiveYear:      from.Year(),
		EffectiveFrom:      from,
		LawVersion:         LawNTA2025,
		Description:        "Nigeria Tax Act 2025",
		LowIncomeThreshold: naira(800_000),
		Bands: bandsFromWidths(
			[]int64{800_000, 2_200_000, 9_000_000, 13_000_000, 25_000_000},
			[]string{"0", "0.15", "0.18", "0.21", "0.23", "0.25"},
		),
		Reliefs: []TaxRelief{
			{Code: "LOW_INCOME", Name: "Low income exemption", Type: ReliefLowIncomeExemption, Active: true},
			{
				Code:          "RENT",
				Name:          "Rent relief",
				Type:          ReliefRent,
				Rate:          generic.MustParseRate("0.20"),
				Cap:           nairaPtr(500_000),
				RequiresProof: true,
				Active:        true,
			},
		},
	}
}

// StatutoryTables returns PITA up to the NTA cutover and NTA after it.
func StatutoryTables(jurisdiction string) []TaxTable {
	cutover := NTA2025Effective
	return []TaxTable{
		PITA2011Table(jurisdiction+"-pita-2011", jurisdiction, PITA2011Effective, &cutover),
		NTA2025Table(jurisdiction+"-nta-2025", jurisdiction, NTA2025Effective),
	}
}
