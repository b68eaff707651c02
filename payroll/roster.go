package payroll

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/warp/payroll-engine/generic"
)

// =============================================================================
// ROSTER - employee and shop settings persistence
// =============================================================================

// Roster stores employees and shop tax settings as documents.
type Roster struct {
	Store generic.DocumentStore
}

func NewRoster(store generic.DocumentStore) *Roster {
	return &Roster{Store: store}
}

// SaveEmployee creates or replaces an employee record.
func (r *Roster) SaveEmployee(ctx context.Context, e Employee) error {
	if e.ID == "" {
		return generic.Invalid("id", "required")
	}
	if e.ShopID == "" {
		return generic.Invalid("shop_id", "required")
	}
	if e.Detail != nil {
		if err := e.Detail.Validate("employee " + string(e.ID)); err != nil {
			return generic.Invalid("payroll_detail", "%v", err)
		}
	}
	return upsert(ctx, r.Store, generic.KindEmployee, string(e.ID), e)
}

func (r *Roster) GetEmployee(ctx context.Context, id generic.EmployeeID) (*Employee, error) {
	var e Employee
	if _, err := generic.GetJSON(ctx, r.Store, generic.KindEmployee, string(id), &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// ActiveEmployees lists active employees of a shop, ordered by ID.
func (r *Roster) ActiveEmployees(ctx context.Context, shopID generic.ShopID) ([]Employee, error) {
	var out []Employee
	err := generic.ListJSON(ctx, r.Store, generic.KindEmployee, func(doc generic.Document) error {
		var e Employee
		if err := json.Unmarshal(doc.Body, &e); err != nil {
			return err
		}
		if e.ShopID == shopID && e.Active {
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

func (r *Roster) SaveShopSetting(ctx context.Context, s ShopTaxSetting) error {
	if err := s.Validate(); err != nil {
		return err
	}
	return upsert(ctx, r.Store, generic.KindShopTaxSetting, string(s.ShopID), s)
}

// ShopSetting returns the shop's settings, or a ConfigurationError if none exist.
func (r *Roster) ShopSetting(ctx context.Context, shopID generic.ShopID) (*ShopTaxSetting, error) {
	var s ShopTaxSetting
	_, err := generic.GetJSON(ctx, r.Store, generic.KindShopTaxSetting, string(shopID), &s)
	if errors.Is(err, generic.ErrNotFound) {
		return nil, &generic.ConfigurationError{Subject: "shop " + string(shopID), Reason: "no tax settings"}
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// upsert writes v over whatever version is stored, retrying once on a race.
func upsert(ctx context.Context, s generic.DocumentStore, kind generic.DocumentKind, id string, v any) error {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		var version int64
		doc, getErr := s.GetDocument(ctx, kind, id)
		switch {
		case getErr == nil:
			version = doc.Version
		case !errors.Is(getErr, generic.ErrNotFound):
			return getErr
		}
		if _, err = generic.PutJSON(ctx, s, kind, id, version, v); !errors.Is(err, generic.ErrConcurrentModification) {
			return err
		}
	}
	return err
}
