/*
ledger.go - Append-only money ledger

PURPOSE:
  The Ledger is the immutable record of every money movement against an
  aggregate: wage-advance disbursements and repayments, purchase-order
  payments. Aggregates keep a running total for convenience, but the total
  must always equal the sum of the aggregate's entries.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. EVER.
  2. IMMUTABLE: Once written, entries cannot be modified
  3. IDEMPOTENT: Same idempotency key = same entry (no duplicates)

CORRECTIONS:
  A wrong payment is never edited. A reversal entry with the opposite sign
  is appended and both stay in history.

EXAMPLE FLOW (wage advance of ₦120,000):
  1. Disbursed:        EntryDisbursement +120,000
  2. Payroll deducts:  EntryRepayment     -40,000
  3. Payroll deducts:  EntryRepayment     -40,000
  Outstanding = sum of entries = 40,000

SEE ALSO:
  - store.go: Low-level persistence interface
*/
package generic

import (
	"context"
	"time"
)

// =============================================================================
// ENTRY - Atomic money movement
// =============================================================================

// AggregateKind identifies which aggregate family an entry belongs to.
type AggregateKind string

const (
	AggregateWageAdvance   AggregateKind = "wage_advance"
	AggregatePurchaseOrder AggregateKind = "purchase_order"
)

type EntryType string

const (
	EntryDisbursement EntryType = "disbursement" // Money paid out to an employee
	EntryRepayment    EntryType = "repayment"    // Money recovered against an advance
	EntryPayment      EntryType = "payment"      // Money paid against an order
	EntryReversal     EntryType = "reversal"     // Undo a previous entry
)

type Entry struct {
	ID             string
	AggregateKind  AggregateKind
	AggregateID    string
	Type           EntryType
	Amount         Money // Signed
	EffectiveAt    time.Time
	Reference      string
	Reason         string
	IdempotencyKey string
	Metadata       map[string]string

	CreatedBy string
	CreatedAt time.Time
}

// =============================================================================
// LEDGER
// =============================================================================

// Ledger is the source of truth for money movements.
type Ledger interface {
	// Append adds an entry. Fails if the idempotency key exists.
	Append(ctx context.Context, e Entry) error

	// Entries returns all entries of an aggregate, chronologically.
	Entries(ctx context.Context, kind AggregateKind, aggregateID string) ([]Entry, error)

	// Total sums the entries of an aggregate, optionally filtered by type.
	Total(ctx context.Context, kind AggregateKind, aggregateID string, types ...EntryType) (Money, error)
}

// DefaultLedger implements Ledger on top of an EntryStore.
type DefaultLedger struct {
	Store EntryStore
}

func NewLedger(store EntryStore) *DefaultLedger {
	return &DefaultLedger{Store: store}
}

func (l *DefaultLedger) Append(ctx context.Context, e Entry) error {
	if e.IdempotencyKey != "" {
		exists, err := l.Store.Exists(ctx, e.IdempotencyKey)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateIdempotencyKey
		}
	}
	return l.Store.Append(ctx, e)
}

func (l *DefaultLedger) Entries(ctx context.Context, kind AggregateKind, aggregateID string) ([]Entry, error) {
	return l.Store.Load(ctx, kind, aggregateID)
}

func (l *DefaultLedger) Total(ctx context.Context, kind AggregateKind, aggregateID string, types ...EntryType) (Money, error) {
	entries, err := l.Store.Load(ctx, kind, aggregateID)
	if err != nil {
		return 0, err
	}
	var total Money
	for _, e := range entries {
		if len(types) > 0 && !containsType(types, e.Type) {
			continue
		}
		total += e.Amount
	}
	return total, nil
}

func containsType(types []EntryType, t EntryType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}
