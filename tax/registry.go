package tax

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/warp/payroll-engine/generic"
)

// ErrTableLocked is returned when updating a table a payslip already references.
var ErrTableLocked = fmt.Errorf("tax table is referenced by a completed payslip: %w", generic.ErrInvalidTransition)

// =============================================================================
// REGISTRY - administrative CRUD over persisted tables
// =============================================================================

// Registry stores tax tables as versioned documents and serves them to the
// Resolver.
type Registry struct {
	Store generic.DocumentStore
}

func NewRegistry(store generic.DocumentStore) *Registry {
	return &Registry{Store: store}
}

// Publish validates and stores a new table. It fails when the table would
// share a day with another table of the same jurisdiction.
func (r *Registry) Publish(ctx context.Context, t TaxTable) (*TaxTable, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.Locked = false
	if err := t.Validate(); err != nil {
		return nil, err
	}
	existing, err := r.TablesFor(ctx, t.Jurisdiction)
	if err != nil {
		return nil, err
	}
	for i := range existing {
		if existing[i].OverlapsTable(&t) {
			return nil, generic.Invalid("effective_from", "overlaps table %s for %s", existing[i].ID, t.Jurisdiction)
		}
	}
	if _, err := generic.PutJSON(ctx, r.Store, generic.KindTaxTable, t.ID, 0, t); err != nil {
		return nil, fmt.Errorf("publish tax table %s: %w", t.ID, err)
	}
	return &t, nil
}

// Update replaces an unlocked table.
func (r *Registry) Update(ctx context.Context, t TaxTable) (*TaxTable, error) {
	var current TaxTable
	version, err := generic.GetJSON(ctx, r.Store, generic.KindTaxTable, t.ID, &current)
	if err != nil {
		return nil, err
	}
	if current.Locked {
		return nil, ErrTableLocked
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	others, err := r.TablesFor(ctx, t.Jurisdiction)
	if err != nil {
		return nil, err
	}
	for i := range others {
		if others[i].ID != t.ID && others[i].OverlapsTable(&t) {
			return nil, generic.Invalid("effective_from", "overlaps table %s for %s", others[i].ID, t.Jurisdiction)
		}
	}
	if _, err := generic.PutJSON(ctx, r.Store, generic.KindTaxTable, t.ID, version, t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *Registry) Get(ctx context.Context, id string) (*TaxTable, error) {
	var t TaxTable
	if _, err := generic.GetJSON(ctx, r.Store, generic.KindTaxTable, id, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// List returns all tables, or those of one jurisdiction when it is non-empty.
func (r *Registry) List(ctx context.Context, jurisdiction string) ([]TaxTable, error) {
	var tables []TaxTable
	err := generic.ListJSON(ctx, r.Store, generic.KindTaxTable, func(doc generic.Document) error {
		var t TaxTable
		if err := json.Unmarshal(doc.Body, &t); err != nil {
			return err
		}
		if jurisdiction == "" || t.Jurisdiction == jurisdiction {
			tables = append(tables, t)
		}
		return nil
	})
	return tables, err
}

// TablesFor implements TableSource.
func (r *Registry) TablesFor(ctx context.Context, jurisdiction string) ([]TaxTable, error) {
	return r.List(ctx, jurisdiction)
}

// Lock marks tables as referenced. Safe to call repeatedly.
func (r *Registry) Lock(ctx context.Context, ids ...string) error {
	return LockTables(ctx, r.Store, ids...)
}

// LockTables marks tables as referenced using s, which may be a transaction.
func LockTables(ctx context.Context, s generic.DocumentStore, ids ...string) error {
	for _, id := range ids {
		var t TaxTable
		version, err := generic.GetJSON(ctx, s, generic.KindTaxTable, id, &t)
		if errors.Is(err, generic.ErrNotFound) {
			// Tables supplied by a static source are not persisted.
			continue
		}
		if err != nil {
			return err
		}
		if t.Locked {
			continue
		}
		t.Locked = true
		if _, err := generic.PutJSON(ctx, s, generic.KindTaxTable, id, version, t); err != nil {
			return fmt.Errorf("lock tax table %s: %w", id, err)
		}
	}
	return nil
}

// SeedStatutory publishes the statutory tables for a jurisdiction unless the
// jurisdiction already has tables.
func (r *Registry) SeedStatutory(ctx context.Context, jurisdiction string) error {
	existing, err := r.TablesFor(ctx, jurisdiction)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	for _, t := range StatutoryTables(jurisdiction) {
		if _, err := r.Publish(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// STATIC SOURCE
// =============================================================================

// StaticSource serves a fixed set of tables. Handy for tests and one-off
// calculations.
type StaticSource []TaxTable

func (s StaticSource) TablesFor(_ context.Context, jurisdiction string) ([]TaxTable, error) {
	var out []TaxTable
	for _, t := range s {
		if t.Jurisdiction == jurisdiction {
			out = append(out, t)
		}
	}
	return out, nil
}

var (
	_ TableSource = (*Registry)(nil)
	_ TableSource = StaticSource(nil)
)
