package tax

import (
	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
)

// =============================================================================
// TAX BAND ENGINE
// =============================================================================

// BandTax is the tax charged within one band.
type BandTax struct {
	Lower         generic.Money   `json:"lower_limit"`
	Upper         *generic.Money  `json:"upper_limit,omitempty"`
	Rate          decimal.Decimal `json:"rate"`
	TaxableAmount generic.Money   `json:"taxable_amount"`
	Tax           generic.Money   `json:"tax"`
}

// BandResult is the output of ApplyBands. Total is always the sum of the
// per-band Tax values.
type BandResult struct {
	Breakdown []BandTax     `json:"breakdown"`
	Total     generic.Money `json:"total"`
}

// ApplyBands charges annual taxable income through ascending marginal bands.
// Each band's tax is rounded half-up to the kobo before summing. Zero or
// negative income returns an empty result without evaluating any band.
func ApplyBands(taxable generic.Money, bands []TaxBand) BandResult {
	var res BandResult
	if !taxable.IsPositive() {
		return res
	}

	for _, b := range bands {
		if !taxable.GreaterThan(b.Lower) {
			break
		}
		top := taxable
		if b.Upper != nil {
			top = top.Min(*b.Upper)
		}
		inBand := top.Sub(b.Lower).FloorZero()
		tax := inBand.MulRate(b.Rate)

		res.Breakdown = append(res.Breakdown, BandTax{
			Lower:         b.Lower,
			Upper:         b.Upper,
			Rate:          b.Rate,
			TaxableAmount: inBand,
			Tax:           tax,
		})
		res.Total = res.Total.Add(tax)
	}
	return res
}
