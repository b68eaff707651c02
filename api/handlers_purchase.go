package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/purchase"
)

// =============================================================================
// PURCHASE ORDERS
// =============================================================================

// CreateOrder opens a draft order. The buyer is the caller's tenant.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var body CreateOrderRequest
	if !h.decode(w, r, &body) {
		return
	}
	due, err := parseOptionalDate("payment_due_date", body.PaymentDueDate)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	actor := actorFrom(r)
	items := make([]purchase.ItemInput, len(body.Items))
	for i, it := range body.Items {
		items[i] = purchase.ItemInput{
			ProductID: it.ProductID,
			SKU:       it.SKU,
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		}
	}

	order, err := h.Orders.Create(r.Context(), purchase.CreateInput{
		BuyerTenantID:    actor.TenantID,
		SupplierTenantID: body.SupplierTenantID,
		ShopID:           body.ShopID,
		SupplierShopID:   body.SupplierShopID,
		Items:            items,
		Tax:              body.Tax,
		Shipping:         body.Shipping,
		Discount:         body.Discount,
		PaymentDueDate:   due,
		Notes:            body.Notes,
		Actor:            actor,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

// ListOrders filters by ?tenant_id= (either side) and ?status=.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	orders, err := h.Orders.List(r.Context(), purchase.Filter{
		TenantID: generic.TenantID(q.Get("tenant_id")),
		Status:   purchase.Status(q.Get("status")),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(orders))
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.Orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// OrderAction applies one lifecycle action on behalf of the caller's party.
func (h *Handler) OrderAction(w http.ResponseWriter, r *http.Request) {
	var body ActionRequest
	if !h.decode(w, r, &body) {
		return
	}
	action, err := purchase.ParseAction(chi.URLParam(r, "action"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	order, err := h.Orders.Transition(r.Context(), chi.URLParam(r, "id"), action, actorFrom(r), body.note())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *Handler) RecordOrderPayment(w http.ResponseWriter, r *http.Request) {
	var body OrderPaymentRequest
	if !h.decode(w, r, &body) {
		return
	}
	order, err := h.Orders.RecordPayment(r.Context(), purchase.PaymentInput{
		OrderID:        chi.URLParam(r, "id"),
		Amount:         body.Amount,
		Method:         body.Method,
		Reference:      body.Reference,
		IdempotencyKey: body.IdempotencyKey,
		Actor:          actorFrom(r),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

// OverdueSweep recomputes payment status for every open order as of now
// or ?as_of=YYYY-MM-DD.
func (h *Handler) OverdueSweep(w http.ResponseWriter, r *http.Request) {
	asOf := h.now()
	if s := r.URL.Query().Get("as_of"); s != "" {
		parsed, err := generic.ParseDate(s)
		if err != nil {
			h.fail(w, r, generic.Invalid("as_of", "%v", err))
			return
		}
		asOf = parsed
	}
	n, err := h.Orders.RefreshPaymentStatuses(r.Context(), asOf)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, OverdueSweepResponse{AsOf: asOf, Updated: n})
}

// =============================================================================
// STOCK
// =============================================================================

// GetStock reads ?tenant_id=&shop_id=&product_id=. An empty shop is central stock.
func (h *Handler) GetStock(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	level, err := h.Orders.StockLevel(r.Context(),
		generic.TenantID(q.Get("tenant_id")), generic.ShopID(q.Get("shop_id")), q.Get("product_id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, level)
}

// SetStock overwrites the on-hand quantity, e.g. after a count.
func (h *Handler) SetStock(w http.ResponseWriter, r *http.Request) {
	var body purchase.StockLevel
	if !h.decode(w, r, &body) {
		return
	}
	level, err := h.Orders.SetStock(r.Context(), body)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, level)
}
