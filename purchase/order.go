/*
Package purchase runs cross-tenant purchase orders.

PURPOSE:
  A buyer tenant orders goods from a supplier tenant for delivery to one of
  the buyer's shops. Both tenants act on the same order; each action is
  allowed for one side only, except cancel which either side may perform.

STATE MACHINE:
  draft ─submit─▶ submitted ─approve─▶ approved ─process─▶ processing ─ship─▶ shipped ─receive─▶ received ─complete─▶ completed
    │                │                    │                    │
    └────────────────┴────────cancel──────┴────────────────────┴──▶ cancelled

  who acts:  submit, receive, complete  → buyer
             approve, process, ship     → supplier
             cancel                     → either (buyer cancel / supplier reject)

SIDE EFFECTS (atomic with the status change):
  ship     supplier stock −= quantity, per line; insufficient stock aborts
  receive  buyer shop stock += quantity, per line

PAYMENTS:
  Payments are append-only ledger entries. PaidAmount is their sum, and
  PaymentStatus is always re-derived from (paid, total, due date, as-of,
  cancelled) by DerivePaymentStatus. Nothing writes a payment status directly.

INVARIANTS:
  1. Total == Subtotal + Tax + Shipping − Discount
  2. Subtotal == Σ line totals
  3. 0 ≤ PaidAmount ≤ Total, PaidAmount == Σ payments
*/
package purchase

import (
	"time"

	"github.com/warp/payroll-engine/generic"
)

type Status string

const (
	StatusDraft      Status = "draft"
	StatusSubmitted  Status = "submitted"
	StatusApproved   Status = "approved"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusReceived   Status = "received"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

type Action string

const (
	ActionSubmit   Action = "submit"
	ActionApprove  Action = "approve"
	ActionProcess  Action = "process"
	ActionShip     Action = "ship"
	ActionReceive  Action = "receive"
	ActionComplete Action = "complete"
	ActionCancel   Action = "cancel"
)

// ParseAction accepts the closed set of order actions.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionSubmit, ActionApprove, ActionProcess, ActionShip, ActionReceive, ActionComplete, ActionCancel:
		return a, nil
	}
	return "", generic.Invalid("action", "unknown purchase order action %q", s)
}

type rule = generic.Rule[Status, Action]

var transitions = generic.NewTransitions("purchase_order",
	rule{From: []Status{StatusDraft}, Action: ActionSubmit, To: StatusSubmitted},
	rule{From: []Status{StatusSubmitted}, Action: ActionApprove, To: StatusApproved},
	rule{From: []Status{StatusApproved}, Action: ActionProcess, To: StatusProcessing},
	rule{From: []Status{StatusProcessing}, Action: ActionShip, To: StatusShipped},
	rule{From: []Status{StatusShipped}, Action: ActionReceive, To: StatusReceived},
	rule{From: []Status{StatusReceived}, Action: ActionComplete, To: StatusCompleted},
	rule{From: []Status{StatusDraft, StatusSubmitted, StatusApproved, StatusProcessing}, Action: ActionCancel, To: StatusCancelled},
)

// Party is the side of the order an actor belongs to.
type Party string

const (
	PartyBuyer    Party = "buyer"
	PartySupplier Party = "supplier"
	PartySystem   Party = "system"
)

var actionParty = map[Action]Party{
	ActionSubmit:   PartyBuyer,
	ActionApprove:  PartySupplier,
	ActionProcess:  PartySupplier,
	ActionShip:     PartySupplier,
	ActionReceive:  PartyBuyer,
	ActionComplete: PartyBuyer,
}

// =============================================================================
// ORDER
// =============================================================================

type Item struct {
	ProductID string        `json:"product_id"`
	SKU       string        `json:"sku,omitempty"`
	Name      string        `json:"name"`
	Quantity  int64         `json:"quantity"`
	UnitPrice generic.Money `json:"unit_price"`
	Total     generic.Money `json:"total"`
}

type Payment struct {
	Sequence   int            `json:"sequence"`
	EntryID    string         `json:"entry_id"`
	Amount     generic.Money  `json:"amount"`
	Method     string         `json:"method,omitempty"`
	Reference  string         `json:"reference,omitempty"`
	PaidAt     time.Time      `json:"paid_at"`
	RecordedBy generic.UserID `json:"recorded_by"`
}

type Order struct {
	ID               string           `json:"id"`
	OrderNumber      string           `json:"order_number"`
	BuyerTenantID    generic.TenantID `json:"buyer_tenant_id"`
	SupplierTenantID generic.TenantID `json:"supplier_tenant_id"`
	ShopID           generic.ShopID   `json:"shop_id"`
	SupplierShopID   generic.ShopID   `json:"supplier_shop_id,omitempty"`

	Items    []Item        `json:"items"`
	Subtotal generic.Money `json:"subtotal"`
	Tax      generic.Money `json:"tax"`
	Shipping generic.Money `json:"shipping"`
	Discount generic.Money `json:"discount"`
	Total    generic.Money `json:"total"`

	PaidAmount     generic.Money `json:"paid_amount"`
	PaymentDueDate *time.Time    `json:"payment_due_date,omitempty"`
	PaymentStatus  PaymentStatus `json:"payment_status"`
	Payments       []Payment     `json:"payments"`

	Status       Status     `json:"status"`
	Notes        string     `json:"notes,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	SubmittedAt  *time.Time `json:"submitted_at,omitempty"`
	ApprovedAt   *time.Time `json:"approved_at,omitempty"`
	ShippedAt    *time.Time `json:"shipped_at,omitempty"`
	ReceivedAt   *time.Time `json:"received_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
	CancelledBy  Party      `json:"cancelled_by,omitempty"`
	CancelReason string     `json:"cancel_reason,omitempty"`

	History []generic.HistoryEvent `json:"history"`
}

// Outstanding is what remains to be paid.
func (o *Order) Outstanding() generic.Money {
	return o.Total.Sub(o.PaidAmount).FloorZero()
}

// AllowedActions lists the next legal actions regardless of party.
func (o *Order) AllowedActions() []Action {
	return transitions.Allowed(o.Status)
}

// PartyOf maps an actor to its side of the order.
func (o *Order) PartyOf(actor generic.Actor) (Party, error) {
	switch actor.TenantID {
	case "":
		if actor == generic.SystemActor {
			return PartySystem, nil
		}
	case o.BuyerTenantID:
		return PartyBuyer, nil
	case o.SupplierTenantID:
		return PartySupplier, nil
	}
	return "", generic.Invalid("actor.tenant_id", "tenant %q is not a party to order %s", actor.TenantID, o.OrderNumber)
}

// totals recomputes line totals, subtotal and total.
func (o *Order) totals() {
	o.Subtotal = 0
	for i := range o.Items {
		o.Items[i].Total = o.Items[i].UnitPrice * generic.Money(o.Items[i].Quantity)
		o.Subtotal = o.Subtotal.Add(o.Items[i].Total)
	}
	o.Total = o.Subtotal.Add(o.Tax).Add(o.Shipping).Sub(o.Discount)
}

// refreshPaymentStatus is the only writer of PaymentStatus.
func (o *Order) refreshPaymentStatus(asOf time.Time) {
	o.PaymentStatus = DerivePaymentStatus(o.PaidAmount, o.Total, o.PaymentDueDate, asOf, o.Status == StatusCancelled)
}

func (o *Order) transition(action Action, actor generic.Actor, at time.Time, note string) error {
	to, err := transitions.Next(o.ID, o.Status, action)
	if err != nil {
		return err
	}
	party, err := o.PartyOf(actor)
	if err != nil {
		return err
	}
	if want, ok := actionParty[action]; ok && party != want && party != PartySystem {
		return generic.Invalid("actor", "%s can only be performed by the %s", action, want)
	}

	o.History = generic.AppendHistory(o.History, string(action), string(o.Status), string(to), actor, at, note)
	o.Status = to

	stamp := at
	switch action {
	case ActionSubmit:
		o.SubmittedAt = &stamp
	case ActionApprove:
		o.ApprovedAt = &stamp
	case ActionShip:
		o.ShippedAt = &stamp
	case ActionReceive:
		o.ReceivedAt = &stamp
	case ActionComplete:
		o.CompletedAt = &stamp
	case ActionCancel:
		o.CancelledAt = &stamp
		o.CancelledBy = party
		o.CancelReason = note
	}
	o.refreshPaymentStatus(at)
	return nil
}

// =============================================================================
// PAYMENT STATUS
// =============================================================================

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentPartial   PaymentStatus = "partial"
	PaymentPaid      PaymentStatus = "paid"
	PaymentOverdue   PaymentStatus = "overdue"
	PaymentCancelled PaymentStatus = "cancelled"
)

// DerivePaymentStatus is a pure function of its inputs. An order is overdue
// once asOf falls on a day after the due date and it is not fully paid.
func DerivePaymentStatus(paid, total generic.Money, due *time.Time, asOf time.Time, cancelled bool) PaymentStatus {
	switch {
	case cancelled:
		return PaymentCancelled
	case paid >= total:
		return PaymentPaid
	case due != nil && generic.DateOf(asOf).After(generic.DateOf(*due)):
		return PaymentOverdue
	case paid.IsPositive():
		return PaymentPartial
	default:
		return PaymentPending
	}
}
