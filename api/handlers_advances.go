package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/wageadvance"
)

// =============================================================================
// WAGE ADVANCES
// =============================================================================

func (h *Handler) RequestAdvance(w http.ResponseWriter, r *http.Request) {
	var body AdvanceRequest
	if !h.decode(w, r, &body) {
		return
	}
	adv, err := h.Advances.Request(r.Context(), wageadvance.RequestInput{
		EmployeeID:   body.EmployeeID,
		Amount:       body.Amount,
		Installments: body.Installments,
		Reason:       body.Reason,
		Actor:        actorFrom(r),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, adv)
}

// ListAdvances filters by ?employee_id=, ?shop_id= and ?status=.
func (h *Handler) ListAdvances(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	advances, err := h.Advances.List(r.Context(), wageadvance.Filter{
		EmployeeID: generic.EmployeeID(q.Get("employee_id")),
		ShopID:     generic.ShopID(q.Get("shop_id")),
		Status:     wageadvance.Status(q.Get("status")),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(advances))
}

func (h *Handler) GetAdvance(w http.ResponseWriter, r *http.Request) {
	adv, err := h.Advances.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, adv)
}

// ApproveAdvance may lower the amount or change the installment count.
func (h *Handler) ApproveAdvance(w http.ResponseWriter, r *http.Request) {
	var body ApproveAdvanceRequest
	if !h.decode(w, r, &body) {
		return
	}
	adv, err := h.Advances.Approve(r.Context(), chi.URLParam(r, "id"), wageadvance.ApproveInput{
		Amount:       body.Amount,
		Installments: body.Installments,
		Actor:        actorFrom(r),
		Note:         body.Note,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, adv)
}

// AdvanceAction handles reject, disburse and cancel.
func (h *Handler) AdvanceAction(w http.ResponseWriter, r *http.Request) {
	var body ActionRequest
	if !h.decode(w, r, &body) {
		return
	}
	ctx, id, actor := r.Context(), chi.URLParam(r, "id"), actorFrom(r)

	var (
		adv *wageadvance.WageAdvance
		err error
	)
	switch action := wageadvance.Action(chi.URLParam(r, "action")); action {
	case wageadvance.ActionReject:
		adv, err = h.Advances.Reject(ctx, id, actor, body.note())
	case wageadvance.ActionDisburse:
		adv, err = h.Advances.Disburse(ctx, id, actor, body.note())
	case wageadvance.ActionCancel:
		adv, err = h.Advances.Cancel(ctx, id, actor, body.note())
	default:
		err = generic.Invalid("action", "unknown wage advance action %q", action)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, adv)
}

// RecordRepayment applies a manual repayment. A repeated idempotency key
// returns 200 with duplicate set instead of 201.
func (h *Handler) RecordRepayment(w http.ResponseWriter, r *http.Request) {
	var body RepaymentRequest
	if !h.decode(w, r, &body) {
		return
	}
	res, err := h.Advances.RecordRepayment(r.Context(), wageadvance.RepaymentInput{
		AdvanceID:      chi.URLParam(r, "id"),
		Amount:         body.Amount,
		Reference:      body.Reference,
		IdempotencyKey: body.IdempotencyKey,
		Actor:          actorFrom(r),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, RepaymentResponse{Advance: res.Advance, Applied: res.Applied, Duplicate: res.Duplicate})
}
