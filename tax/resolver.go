/*
resolver.go - Date-based tax table selection

PURPOSE:
  Given a jurisdiction and a date, return the one table in force on that
  date. Selection is purely by date: there is no "current table" flag, so a
  back-dated pay run always re-derives the tax that was law at the time.

CUTOVER:
  PITA 2011 ends the day before NTA 2025 begins. A date in
  [2026-01-01, ∞) resolves to the NTA table; anything earlier to PITA.

AMBIGUITY IS AN ERROR:
  Zero matches or more than one match both fail with
  NoApplicableTaxTableError. Overlapping tables are bad data and are never
  resolved by picking the latest.

CACHING:
  RunCache memoizes Resolve per (jurisdiction, day) for the lifetime of one
  pay run. Concurrent workers asking for the same key share one lookup.
*/
package tax

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/warp/payroll-engine/generic"
)

// ErrNoApplicableTaxTable is matched by every NoApplicableTaxTableError.
var ErrNoApplicableTaxTable = errors.New("no applicable tax table")

// NoApplicableTaxTableError reports zero or ambiguous matches.
type NoApplicableTaxTableError struct {
	Jurisdiction string
	Date         time.Time
	Matches      []string // IDs of matching tables when ambiguous
}

func (e *NoApplicableTaxTableError) Error() string {
	if len(e.Matches) == 0 {
		return fmt.Sprintf("no applicable tax table for %s on %s", e.Jurisdiction, e.Date.Format("2006-01-02"))
	}
	return fmt.Sprintf("ambiguous tax tables for %s on %s: %v", e.Jurisdiction, e.Date.Format("2006-01-02"), e.Matches)
}

// Unwrap makes the error match both ErrNoApplicableTaxTable and
// generic.ErrConfiguration.
func (e *NoApplicableTaxTableError) Unwrap() []error {
	return []error{ErrNoApplicableTaxTable, generic.ErrConfiguration}
}

// TableSource lists the tables known for a jurisdiction.
type TableSource interface {
	TablesFor(ctx context.Context, jurisdiction string) ([]TaxTable, error)
}

// TableResolver returns the table in force for a jurisdiction on a date.
type TableResolver interface {
	Resolve(ctx context.Context, jurisdiction string, date time.Time) (*TaxTable, error)
}

// =============================================================================
// RESOLVER
// =============================================================================

type Resolver struct {
	Source TableSource
}

func NewResolver(source TableSource) *Resolver {
	return &Resolver{Source: source}
}

// Resolve returns the unique table with EffectiveFrom ≤ date < EffectiveTo.
func (r *Resolver) Resolve(ctx context.Context, jurisdiction string, date time.Time) (*TaxTable, error) {
	tables, err := r.Source.TablesFor(ctx, jurisdiction)
	if err != nil {
		return nil, fmt.Errorf("load tax tables for %s: %w", jurisdiction, err)
	}
	return Select(tables, jurisdiction, date)
}

// Select picks the unique table covering date from tables.
func Select(tables []TaxTable, jurisdiction string, date time.Time) (*TaxTable, error) {
	var matches []*TaxTable
	for i := range tables {
		t := &tables[i]
		if t.Jurisdiction == jurisdiction && t.Covers(date) {
			matches = append(matches, t)
		}
	}
	if len(matches) == 1 {
		table := *matches[0]
		return &table, nil
	}

	e := &NoApplicableTaxTableError{Jurisdiction: jurisdiction, Date: generic.DateOf(date)}
	for _, m := range matches {
		e.Matches = append(e.Matches, m.ID)
	}
	return nil, e
}

// =============================================================================
// RUN CACHE
// =============================================================================

// RunCache memoizes a TableResolver. Create one per pay run; never share
// across runs, since tables can be published in between.
type RunCache struct {
	next    TableResolver
	group   singleflight.Group
	entries sync.Map // key -> cacheEntry
}

type cacheEntry struct {
	table *TaxTable
	err   error
}

func NewRunCache(next TableResolver) *RunCache {
	return &RunCache{next: next}
}

func (c *RunCache) Resolve(ctx context.Context, jurisdiction string, date time.Time) (*TaxTable, error) {
	key := jurisdiction + "|" + generic.DateOf(date).Format("2006-01-02")
	if v, ok := c.entries.Load(key); ok {
		e := v.(cacheEntry)
		return e.table, e.err
	}

	v, _, _ := c.group.Do(key, func() (any, error) {
		table, err := c.next.Resolve(ctx, jurisdiction, date)
		e := cacheEntry{table: table, err: err}
		// Context failures are not a property of the data.
		if err == nil || !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			c.entries.Store(key, e)
		}
		return e, nil
	})
	e := v.(cacheEntry)
	return e.table, e.err
}

var (
	_ TableResolver = (*Resolver)(nil)
	_ TableResolver = (*RunCache)(nil)
)
