/*
Package generic provides the domain-agnostic building blocks of the payroll engine.

PURPOSE:
  Payroll, wage advances and purchase orders all move money, version their
  aggregates and walk explicit state machines. This package holds the pieces
  they share so that each domain package only encodes its own rules.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: An amount in integer kobo (1/100 naira). No floating point, ever.
  - Rates: decimal.Decimal fractions (0.08 = 8%) applied via Money.MulRate
  - Identifiers: Type-safe tenant/shop/employee IDs

ROUNDING:
  Every time a rate is applied to Money the result is rounded half-up
  (away from zero) to a whole kobo. The same rule is used for division
  (annual tax to period tax, installments). Sums of Money never round.

DESIGN PRINCIPLES:
  1. Precision: arithmetic on int64 kobo, rates on decimal.Decimal
  2. Type Safety: strong typing for IDs prevents mixing tenants and shops
  3. Auditability: money changes go through the append-only Ledger

USAGE:
  gross := generic.NewMoney(500_000)                      // ₦500,000.00
  pension := gross.MulRate(decimal.RequireFromString("0.08")) // ₦40,000.00

SEE ALSO:
  - ledger.go: Append-only money movements
  - errors.go: Error taxonomy shared by all domains
  - store.go: Persistence interfaces
*/
package generic

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Integer kobo
// =============================================================================

// Money is an amount of naira stored as integer kobo.
type Money int64

const koboPerNaira = 100

// MaxNaira is the largest whole naira amount Money holds, in either sign.
const MaxNaira = math.MaxInt64 / koboPerNaira

var (
	hundred = decimal.NewFromInt(koboPerNaira)
	maxKobo = decimal.NewFromInt(math.MaxInt64)
	minKobo = decimal.NewFromInt(-math.MaxInt64)
)

// NewMoney returns whole naira as Money. It panics outside ±MaxNaira; check
// untrusted input with CheckNaira first.
func NewMoney(naira int64) Money {
	if err := CheckNaira(naira); err != nil {
		panic(err)
	}
	return Money(naira * koboPerNaira)
}

// CheckNaira rejects whole naira amounts Money cannot hold.
func CheckNaira(naira int64) error {
	if naira > MaxNaira || naira < -MaxNaira {
		return Invalid("amount", "%d naira is outside the supported range", naira)
	}
	return nil
}

// MoneyFromKobo wraps a raw kobo amount.
func MoneyFromKobo(kobo int64) Money { return Money(kobo) }

// MoneyFromDecimal converts a naira decimal to Money, rounding half-up to the
// kobo. Amounts Money cannot hold are a ValidationError.
func MoneyFromDecimal(d decimal.Decimal) (Money, error) {
	kobo := d.Mul(hundred).Round(0)
	if kobo.GreaterThan(maxKobo) || kobo.LessThan(minKobo) {
		return 0, Invalid("amount", "%s naira is outside the supported range", d)
	}
	return Money(kobo.IntPart()), nil
}

// ParseMoney parses a naira amount such as "1250.50".
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, Invalid("amount", "invalid money amount %q: %v", s, err)
	}
	return MoneyFromDecimal(d)
}

// MustParseMoney is ParseMoney for constants; it panics on bad input.
func MustParseMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

// MustParseRate parses a decimal rate constant.
func MustParseRate(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (m Money) Kobo() int64 { return int64(m) }
func (m Money) Decimal() decimal.Decimal { return decimal.New(int64(m), -2) }
func (m Money) Add(o Money) Money { return m + o }
func (m Money) Sub(o Money) Money { return m - o }
func (m Money) Neg() Money { return -m }
func (m Money) IsZero() bool { return m == 0 }
func (m Money) IsPositive() bool { return m > 0 }
func (m Money) IsNegative() bool { return m < 0 }
func (m Money) GreaterThan(o Money) bool { return m > o }
func (m Money) LessThan(o Money) bool { return m < o }
func (m Money) Min(o Money) Money { return min(m, o) }
func (m Money) Max(o Money) Money { return max(m, o) }
func (m Money) String() string { return m.Decimal().StringFixed(2) }

// FloorZero returns m, or zero when m is negative.
func (m Money) FloorZero() Money { return max(m, 0) }

// MulRate applies a rate and rounds half-up to the kobo.
func (m Money) MulRate(rate decimal.Decimal) Money {
	return Money(decimal.NewFromInt(int64(m)).Mul(rate).Round(0).IntPart())
}

// DivRound divides by n and rounds half-up to the kobo.
// n must be positive.
func (m Money) DivRound(n int) Money {
	if n <= 0 {
		panic("generic: DivRound by non-positive divisor")
	}
	return Money(decimal.NewFromInt(int64(m)).Div(decimal.NewFromInt(int64(n))).Round(0).IntPart())
}

// Ratio returns m/o as a decimal rounded to 6 places, zero when o is zero.
func (m Money) Ratio(o Money) decimal.Decimal {
	if o == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(m)).DivRound(decimal.NewFromInt(int64(o)), 6)
}

// Sum adds all amounts.
func Sum(amounts ...Money) Money {
	var total Money
	for _, a := range amounts {
		total += a
	}
	return total
}

// MarshalJSON renders Money as a naira number with two decimals.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalJSON accepts either a JSON number or a quoted decimal string.
func (m *Money) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*m = 0
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		s = raw
	}
	parsed, err := ParseMoney(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type TenantID string
type ShopID string
type EmployeeID string
type UserID string

// Actor is whoever triggers a state transition.
type Actor struct {
	UserID   UserID   `json:"user_id"`
	TenantID TenantID `json:"tenant_id,omitempty"`
	Role     string   `json:"role,omitempty"`
}

// SystemActor is used for transitions performed by the engine itself.
var SystemActor = Actor{UserID: "system", Role: "system"}
