package factory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/tax"
)

func TestParseTaxTable_Explicit(t *testing.T) {
	f := NewTaxTableFactory()

	table, err := f.ParseTaxTable(`{
		"id": "ng-ab-nta",
		"jurisdiction": "NG-AB",
		"law_version": "nta_2025",
		"effective_from": "2026-01-01",
		"low_income_threshold": "800000",
		"bands": [
			{"lower_limit": "0", "upper_limit": "800000", "rate": "0"},
			{"lower_limit": "800000", "upper_limit": "3000000", "rate": "0.15"},
			{"lower_limit": "3000000", "rate": "0.18"}
		],
		"reliefs": [
			{"code": "RENT", "type": "rent_relief", "rate": "0.20", "cap": 500000, "requires_proof": true},
			{"code": "LIFE", "type": "fixed", "amount": "50000", "active": false}
		]
	}`)
	require.NoError(t, err)

	assert.Equal(t, tax.LawNTA2025, table.LawVersion)
	assert.Equal(t, generic.Date(2026, time.January, 1), table.EffectiveFrom)
	assert.Nil(t, table.EffectiveTo)
	require.Len(t, table.Bands, 3)
	assert.Nil(t, table.Bands[2].Upper)
	assert.Equal(t, generic.NewMoney(500_000), *table.Reliefs[0].Cap)
	assert.True(t, table.Reliefs[0].Active, "reliefs default to active")
	assert.False(t, table.Reliefs[1].Active)
}

func TestParseTaxTable_Preset(t *testing.T) {
	f := NewTaxTableFactory()

	table, err := f.ParseTaxTable(`{
		"id": "ng-kn-pita",
		"preset": "pita_2011",
		"jurisdiction": "NG-KN",
		"effective_from": "2020-01-01",
		"effective_to": "2026-01-01",
		"low_income_threshold": 400000
	}`)
	require.NoError(t, err)

	assert.Equal(t, tax.LawPITA2011, table.LawVersion)
	assert.Len(t, table.Bands, 6)
	assert.Equal(t, generic.NewMoney(400_000), table.LowIncomeThreshold, "overrides preset")
	_, hasCRA := table.Relief(tax.ReliefCRA)
	assert.True(t, hasCRA)

	// Round trip through ToJSON keeps the table usable
	again, err := f.FromJSON(f.ToJSON(table))
	require.NoError(t, err)
	assert.Equal(t, table.Bands, again.Bands)
	assert.Equal(t, *table.EffectiveTo, *again.EffectiveTo)
}

func TestParseTaxTable_Rejects(t *testing.T) {
	f := NewTaxTableFactory()

	cases := map[string]string{
		"bad json":       `{`,
		"bad date":       `{"jurisdiction":"NG-LA","preset":"nta_2025","effective_from":"01/01/2026"}`,
		"unknown preset": `{"jurisdiction":"NG-LA","preset":"vat","effective_from":"2026-01-01"}`,
		"cra under nta": `{"jurisdiction":"NG-LA","preset":"nta_2025","effective_from":"2026-01-01",
			"reliefs":[{"code":"CRA","type":"cra","amount":"200000"}]}`,
		"gap in bands": `{"jurisdiction":"NG-LA","law_version":"pita_2011","effective_from":"2020-01-01",
			"bands":[{"lower_limit":"0","upper_limit":"100","rate":"0.1"},{"lower_limit":"200","rate":"0.2"}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.ParseTaxTable(body)
			assert.Error(t, err)
		})
	}
}

func TestParseTaxTable_Calculates(t *testing.T) {
	f := NewTaxTableFactory()
	table, err := f.ParseTaxTable(`{"id":"x","preset":"nta_2025","jurisdiction":"NG-RI","effective_from":"2026-01-01"}`)
	require.NoError(t, err)

	res, err := tax.NewCalculator(tax.NewResolver(tax.StaticSource{*table})).Calculate(context.Background(), tax.Input{
		Jurisdiction:   "NG-RI",
		Date:           generic.Date(2026, time.April, 30),
		AnnualGross:    generic.NewMoney(3_000_000),
		PeriodsPerYear: 12,
	})
	require.NoError(t, err)
	// 2,200,000 × 15%
	assert.Equal(t, generic.NewMoney(330_000), res.AnnualTax)
}

func TestParseTaxTablesYAML(t *testing.T) {
	f := NewTaxTableFactory()

	// GIVEN: A seed file with a preset and an explicit table
	tables, err := f.ParseTaxTablesYAML([]byte(`
tax_tables:
  - id: NG-OG-nta-2025
    preset: nta_2025
    jurisdiction: NG-OG
    effective_from: 2026-01-01
  - id: NG-EN-flat
    jurisdiction: NG-EN
    law_version: nta_2025
    effective_from: "2026-01-01"
    low_income_threshold: 800000
    bands:
      - lower_limit: 0
        upper_limit: 800000
        rate: 0
      - lower_limit: 800000
        rate: "0.15"
`))

	// THEN: Both parse, dates unquoted or not
	require.NoError(t, err)
	require.Len(t, tables, 2)
	assert.Equal(t, generic.Date(2026, time.January, 1), tables[0].EffectiveFrom)
	assert.Equal(t, "NG-EN", tables[1].Jurisdiction)
	require.Len(t, tables[1].Bands, 2)
	assert.True(t, tables[1].Bands[1].Rate.Equal(decimal.RequireFromString("0.15")))
}

func TestParseTaxTablesYAML_RejectsInvalidEntry(t *testing.T) {
	f := NewTaxTableFactory()
	_, err := f.ParseTaxTablesYAML([]byte(`
tax_tables:
  - id: bad
    preset: vat
    jurisdiction: NG-LA
    effective_from: 2026-01-01
`))
	assert.ErrorContains(t, err, "tax_tables[0] bad")
}
