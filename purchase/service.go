package purchase

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/payroll-engine/generic"
)

// Service runs purchase order commands. Each command on an order is
// serialized per order and committed in one store transaction together with
// its stock and ledger side effects.
type Service struct {
	store  generic.TxStore
	locks  *generic.KeyedLocker
	logger *zap.Logger

	Clock func() time.Time
}

func NewService(store generic.TxStore, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  store,
		locks:  generic.NewKeyedLocker(),
		logger: logger.Named("purchase"),
		Clock:  func() time.Time { return time.Now().UTC() },
	}
}

// =============================================================================
// CREATE
// =============================================================================

type ItemInput struct {
	ProductID string
	SKU       string
	Name      string
	Quantity  int64
	UnitPrice generic.Money
}

type CreateInput struct {
	BuyerTenantID    generic.TenantID
	SupplierTenantID generic.TenantID
	ShopID           generic.ShopID
	SupplierShopID   generic.ShopID
	Items            []ItemInput
	Tax              generic.Money
	Shipping         generic.Money
	Discount         generic.Money
	PaymentDueDate   *time.Time
	Notes            string
	Actor            generic.Actor
}

func (in CreateInput) validate() error {
	switch {
	case in.BuyerTenantID == "":
		return generic.Invalid("buyer_tenant_id", "required")
	case in.SupplierTenantID == "":
		return generic.Invalid("supplier_tenant_id", "required")
	case in.BuyerTenantID == in.SupplierTenantID:
		return generic.Invalid("supplier_tenant_id", "buyer and supplier must be different tenants")
	case in.ShopID == "":
		return generic.Invalid("shop_id", "delivery shop required")
	case len(in.Items) == 0:
		return generic.Invalid("items", "at least one item required")
	case in.Tax.IsNegative() || in.Shipping.IsNegative() || in.Discount.IsNegative():
		return generic.Invalid("amounts", "tax, shipping and discount must not be negative")
	case in.Actor.TenantID != "" && in.Actor.TenantID != in.BuyerTenantID:
		return generic.Invalid("actor.tenant_id", "only the buyer can create an order")
	}
	for i, it := range in.Items {
		if it.ProductID == "" {
			return generic.Invalid("items", "item %d: product_id required", i)
		}
		if it.Quantity <= 0 {
			return generic.Invalid("items", "item %d: quantity must be positive", i)
		}
		if it.UnitPrice.IsNegative() {
			return generic.Invalid("items", "item %d: unit price must not be negative", i)
		}
	}
	return nil
}

// Create opens a draft order for the buyer.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Order, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	now := s.Clock()
	id := uuid.NewString()
	o := &Order{
		ID:               id,
		OrderNumber:      "PO-" + strings.ToUpper(id[:8]),
		BuyerTenantID:    in.BuyerTenantID,
		SupplierTenantID: in.SupplierTenantID,
		ShopID:           in.ShopID,
		SupplierShopID:   in.SupplierShopID,
		Tax:              in.Tax,
		Shipping:         in.Shipping,
		Discount:         in.Discount,
		PaymentDueDate:   in.PaymentDueDate,
		Notes:            in.Notes,
		Status:           StatusDraft,
		CreatedAt:        now,
	}
	for _, it := range in.Items {
		o.Items = append(o.Items, Item{
			ProductID: it.ProductID,
			SKU:       it.SKU,
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}
	o.totals()
	if o.Total.IsNegative() {
		return nil, generic.Invalid("discount", "discount %s exceeds order value", o.Discount)
	}
	o.refreshPaymentStatus(now)
	o.History = generic.AppendHistory(nil, "create", "", string(StatusDraft), in.Actor, now, "")

	if _, err := generic.PutJSON(ctx, s.store, generic.KindPurchaseOrder, o.ID, 0, o); err != nil {
		return nil, err
	}
	s.logger.Info("purchase order created",
		zap.String("order_id", o.ID),
		zap.String("buyer", string(o.BuyerTenantID)),
		zap.String("supplier", string(o.SupplierTenantID)),
		zap.Stringer("total", o.Total))
	return o, nil
}

// =============================================================================
// QUERIES
// =============================================================================

func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	var o Order
	if _, err := generic.GetJSON(ctx, s.store, generic.KindPurchaseOrder, id, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

type Filter struct {
	TenantID generic.TenantID // matches either side
	Status   Status
}

func (s *Service) List(ctx context.Context, f Filter) ([]Order, error) {
	var out []Order
	err := generic.ListJSON(ctx, s.store, generic.KindPurchaseOrder, func(doc generic.Document) error {
		var o Order
		if err := json.Unmarshal(doc.Body, &o); err != nil {
			return err
		}
		if (f.TenantID == "" || o.BuyerTenantID == f.TenantID || o.SupplierTenantID == f.TenantID) &&
			(f.Status == "" || o.Status == f.Status) {
			out = append(out, o)
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, err
}

// StockLevel reads on-hand quantity. Unknown products have zero.
func (s *Service) StockLevel(ctx context.Context, tenant generic.TenantID, shop generic.ShopID, product string) (StockLevel, error) {
	level, _, err := getStock(ctx, s.store, tenant, shop, product)
	return level, err
}

// SetStock overwrites on-hand quantity, e.g. after a stock count.
func (s *Service) SetStock(ctx context.Context, level StockLevel) (StockLevel, error) {
	if level.TenantID == "" || level.ProductID == "" {
		return level, generic.Invalid("stock", "tenant_id and product_id required")
	}
	if level.Quantity < 0 {
		return level, generic.Invalid("quantity", "must not be negative")
	}
	key := stockKey(level.TenantID, level.ShopID, level.ProductID)
	unlock := s.locks.Lock("stock:" + key)
	defer unlock()

	_, version, err := getStock(ctx, s.store, level.TenantID, level.ShopID, level.ProductID)
	if err != nil {
		return level, err
	}
	level.UpdatedAt = s.Clock()
	_, err = generic.PutJSON(ctx, s.store, generic.KindStockLevel, key, version, level)
	return level, err
}

// =============================================================================
// COMMANDS
// =============================================================================

// Transition applies action for actor. Ship and receive move stock in the
// same transaction; if any line fails nothing is written.
func (s *Service) Transition(ctx context.Context, id string, action Action, actor generic.Actor, note string) (*Order, error) {
	o, err := s.mutate(ctx, id, func(tx generic.Store, o *Order, now time.Time) error {
		if err := o.transition(action, actor, now, note); err != nil {
			return err
		}
		switch action {
		case ActionShip:
			for _, it := range o.Items {
				if err := adjustStock(ctx, tx, o.SupplierTenantID, o.SupplierShopID, it.ProductID, -it.Quantity, now); err != nil {
					return err
				}
			}
		case ActionReceive:
			for _, it := range o.Items {
				if err := adjustStock(ctx, tx, o.BuyerTenantID, o.ShopID, it.ProductID, it.Quantity, now); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("purchase order transition",
		zap.String("order_id", o.ID),
		zap.String("action", string(action)),
		zap.String("status", string(o.Status)),
		zap.String("actor", string(actor.UserID)))
	return o, nil
}

type PaymentInput struct {
	OrderID        string
	Amount         generic.Money
	Method         string
	Reference      string
	IdempotencyKey string
	Actor          generic.Actor
}

// RecordPayment appends a payment. Payments above the outstanding amount are
// rejected, never clamped.
func (s *Service) RecordPayment(ctx context.Context, in PaymentInput) (*Order, error) {
	if !in.Amount.IsPositive() {
		return nil, generic.Invalid("amount", "must be positive")
	}
	return s.mutate(ctx, in.OrderID, func(tx generic.Store, o *Order, now time.Time) error {
		if o.Status == StatusDraft || o.Status == StatusCancelled {
			return &generic.StateTransitionError{Aggregate: "purchase_order", ID: o.ID, From: string(o.Status), Action: "pay"}
		}
		if _, err := o.PartyOf(in.Actor); err != nil {
			return err
		}
		if in.Amount.GreaterThan(o.Outstanding()) {
			return generic.Invalid("amount", "payment %s exceeds outstanding %s", in.Amount, o.Outstanding())
		}

		entryID := uuid.NewString()
		err := generic.NewLedger(tx).Append(ctx, generic.Entry{
			ID:             entryID,
			AggregateKind:  generic.AggregatePurchaseOrder,
			AggregateID:    o.ID,
			Type:           generic.EntryPayment,
			Amount:         in.Amount,
			EffectiveAt:    now,
			Reference:      in.Reference,
			IdempotencyKey: in.IdempotencyKey,
			Metadata:       map[string]string{"method": in.Method},
			CreatedBy:      string(in.Actor.UserID),
			CreatedAt:      now,
		})
		if err != nil {
			return err
		}
		o.Payments = append(o.Payments, Payment{
			Sequence:   len(o.Payments) + 1,
			EntryID:    entryID,
			Amount:     in.Amount,
			Method:     in.Method,
			Reference:  in.Reference,
			PaidAt:     now,
			RecordedBy: in.Actor.UserID,
		})
		o.PaidAmount = o.PaidAmount.Add(in.Amount)
		o.refreshPaymentStatus(now)
		return nil
	})
}

// RefreshPaymentStatuses re-derives payment status of every open order as of
// asOf and returns how many changed. Used by the overdue sweep.
func (s *Service) RefreshPaymentStatuses(ctx context.Context, asOf time.Time) (int, error) {
	orders, err := s.List(ctx, Filter{})
	if err != nil {
		return 0, err
	}
	changed := 0
	for i := range orders {
		o := &orders[i]
		want := DerivePaymentStatus(o.PaidAmount, o.Total, o.PaymentDueDate, asOf, o.Status == StatusCancelled)
		if want == o.PaymentStatus {
			continue
		}
		_, err := s.mutate(ctx, o.ID, func(_ generic.Store, o *Order, _ time.Time) error {
			o.refreshPaymentStatus(asOf)
			return nil
		})
		if err != nil {
			s.logger.Warn("payment status refresh failed", zap.String("order_id", o.ID), zap.Error(err))
			continue
		}
		changed++
	}
	return changed, nil
}

func (s *Service) mutate(ctx context.Context, id string, fn func(tx generic.Store, o *Order, now time.Time) error) (*Order, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	var out Order
	err := s.store.WithTx(ctx, func(tx generic.Store) error {
		version, err := generic.GetJSON(ctx, tx, generic.KindPurchaseOrder, id, &out)
		if err != nil {
			return err
		}
		if err := fn(tx, &out, s.Clock()); err != nil {
			return err
		}
		_, err = generic.PutJSON(ctx, tx, generic.KindPurchaseOrder, id, version, &out)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}
