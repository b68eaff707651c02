package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/payrun"
)

// =============================================================================
// PAY PERIODS
// =============================================================================

func (h *Handler) CreatePeriod(w http.ResponseWriter, r *http.Request) {
	var body CreatePeriodRequest
	if !h.decode(w, r, &body) {
		return
	}
	in := payrun.PeriodInput{
		TenantID:  body.TenantID,
		ShopID:    body.ShopID,
		Name:      body.Name,
		Frequency: body.Frequency,
	}
	if in.TenantID == "" {
		in.TenantID = actorFrom(r).TenantID
	}
	var err error
	if in.Start, err = generic.ParseDate(body.Start); err != nil {
		h.fail(w, r, generic.Invalid("start", "%v", err))
		return
	}
	if in.End, err = generic.ParseDate(body.End); err != nil {
		h.fail(w, r, generic.Invalid("end", "%v", err))
		return
	}
	payDate, err := parseOptionalDate("pay_date", body.PayDate)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if payDate != nil {
		in.PayDate = *payDate
	}

	period, err := h.PayRuns.CreatePeriod(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, period)
}

func (h *Handler) ListPeriods(w http.ResponseWriter, r *http.Request) {
	periods, err := h.PayRuns.ListPeriods(r.Context(), generic.ShopID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(periods))
}

func (h *Handler) GetPeriod(w http.ResponseWriter, r *http.Request) {
	period, err := h.PayRuns.GetPeriod(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, period)
}

// =============================================================================
// PAY RUNS
// =============================================================================

func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	var body RunRequest
	if !h.decode(w, r, &body) {
		return
	}
	run, err := h.PayRuns.CreateRun(r.Context(), chi.URLParam(r, "id"), payrun.RunInput{
		Inputs:   body.Inputs,
		Excluded: body.Excluded,
		Actor:    actorFrom(r),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, run)
}

func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.PayRuns.ListRuns(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(runs))
}

func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.PayRuns.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// SetRunInputs replaces per-employee overtime, bonus and exclusions on a draft run.
func (h *Handler) SetRunInputs(w http.ResponseWriter, r *http.Request) {
	var body RunRequest
	if !h.decode(w, r, &body) {
		return
	}
	run, err := h.PayRuns.SetInputs(r.Context(), chi.URLParam(r, "id"), payrun.RunInput{
		Inputs:   body.Inputs,
		Excluded: body.Excluded,
		Actor:    actorFrom(r),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// RunAction dispatches the lifecycle commands on /payruns/{id}/{action}.
func (h *Handler) RunAction(w http.ResponseWriter, r *http.Request) {
	var body ActionRequest
	if !h.decode(w, r, &body) {
		return
	}
	ctx, id, actor := r.Context(), chi.URLParam(r, "id"), actorFrom(r)

	var (
		run *payrun.PayRun
		err error
	)
	switch action := payrun.Action(chi.URLParam(r, "action")); action {
	case payrun.ActionCalculate:
		run, err = h.PayRuns.Calculate(ctx, id, actor)
	case payrun.ActionSubmit:
		run, err = h.PayRuns.Submit(ctx, id, actor)
	case payrun.ActionApprove:
		run, err = h.PayRuns.Approve(ctx, id, actor, body.note())
	case "reject":
		run, err = h.PayRuns.Reject(ctx, id, actor, body.note())
	case payrun.ActionProcess:
		run, err = h.PayRuns.Process(ctx, id, actor)
	case payrun.ActionComplete:
		run, err = h.PayRuns.Complete(ctx, id, actor)
	case payrun.ActionCancel:
		run, err = h.PayRuns.Cancel(ctx, id, actor, body.note())
	default:
		err = generic.Invalid("action", "unknown pay run action %q", action)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *Handler) GetRunApproval(w http.ResponseWriter, r *http.Request) {
	chain, err := h.PayRuns.ApprovalChain(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chain)
}

func (h *Handler) ListPayslips(w http.ResponseWriter, r *http.Request) {
	run, err := h.PayRuns.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(run.Payslips()))
}

// GetPayslip returns one employee's item: the payslip, or the error that
// kept them out of the run.
func (h *Handler) GetPayslip(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	run, err := h.PayRuns.GetRun(r.Context(), runID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	empID := generic.EmployeeID(chi.URLParam(r, "employeeID"))
	item, ok := run.Item(empID)
	if !ok {
		h.fail(w, r, fmt.Errorf("payslip %s: %w", payroll.PayslipID(runID, empID), generic.ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// =============================================================================
// SCHEDULES
// =============================================================================

// BankSchedule returns JSON, or an XLSX workbook with ?format=xlsx.
func (h *Handler) BankSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	schedule, err := h.PayRuns.BankSchedule(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	switch r.URL.Query().Get("format") {
	case "", "json":
		writeJSON(w, http.StatusOK, schedule)
	case "xlsx":
		var buf bytes.Buffer
		if err := schedule.WriteXLSX(&buf); err != nil {
			h.fail(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="bank-schedule-%s.xlsx"`, id))
		w.WriteHeader(http.StatusOK)
		w.Write(buf.Bytes())
	default:
		h.fail(w, r, generic.Invalid("format", "must be json or xlsx"))
	}
}

func (h *Handler) StatutorySchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := h.PayRuns.StatutorySchedules(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, schedules)
}
