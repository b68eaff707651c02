/*
handlers.go - HTTP API handlers for the payroll engine

PURPOSE:
  Exposes tax, payroll, wage advance and purchase order operations via a
  REST API. Handles HTTP request/response and JSON serialization, and
  delegates everything else to the domain services.

ENDPOINTS:
  Tax:
    POST   /api/tax/tables                 Publish table (factory JSON)
    PUT    /api/tax/tables/{id}            Update an unreferenced table
    GET    /api/tax/tables?jurisdiction=   List tables
    GET    /api/tax/tables/{id}            Get table
    GET    /api/tax/resolve?jurisdiction=&date=
    POST   /api/tax/calculate              Stateless PAYE calculation

  Shops and employees:
    PUT    /api/shops/{id}/tax-settings    Save shop settings
    GET    /api/shops/{id}/tax-settings
    GET    /api/shops/{id}/employees       Active employees
    POST   /api/employees                  Save employee
    GET    /api/employees/{id}
    GET    /api/employees/{id}/advance-eligibility

  Payroll (handlers_payroll.go), wage advances (handlers_advances.go),
  purchase orders and stock (handlers_purchase.go).

  Approvals:
    POST   /api/approvals                  Open a fund request or PO chain
    GET    /api/approvals?kind=&subject_id=
    GET    /api/approvals/{id}
    POST   /api/approvals/{id}/decide
    POST   /api/approvals/{id}/cancel

ACTOR:
  The caller is taken from X-User-ID, X-Tenant-ID and X-User-Role. There is
  no authentication here; a gateway in front is expected to set them.

ERROR HANDLING:
  Errors are returned as JSON with an HTTP status derived from the error:
  - 400: Validation errors, invalid input
  - 404: Aggregate not found
  - 409: Invalid transition, concurrent modification, duplicate key
  - 422: Configuration errors (no tax table, missing payroll detail)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/warp/payroll-engine/factory"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/payrun"
	"github.com/warp/payroll-engine/purchase"
	"github.com/warp/payroll-engine/tax"
	"github.com/warp/payroll-engine/wageadvance"
	"go.uber.org/zap"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Services are the domain services the API delegates to.
type Services struct {
	Registry *tax.Registry
	Roster   *payroll.Roster
	PayRuns  *payrun.Orchestrator
	Advances *wageadvance.Manager
	Orders   *purchase.Service
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Services
	Factory   *factory.TaxTableFactory
	Approvals *generic.Approvals
	Logger    *zap.Logger

	// Clock is the as-of time for stateless calculations and the overdue sweep.
	Clock func() time.Time
}

func NewHandler(store generic.DocumentStore, svc Services, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Services:  svc,
		Factory:   factory.NewTaxTableFactory(),
		Approvals: generic.NewApprovals(store),
		Logger:    logger.Named("api"),
		Clock:     time.Now,
	}
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Time: h.Clock().UTC()})
}

// =============================================================================
// TAX HANDLERS
// =============================================================================

func (h *Handler) PublishTaxTable(w http.ResponseWriter, r *http.Request) {
	var body factory.TaxTableJSON
	if !h.decode(w, r, &body) {
		return
	}
	table, err := h.Factory.FromJSON(body)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	saved, err := h.Registry.Publish(r.Context(), *table)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (h *Handler) UpdateTaxTable(w http.ResponseWriter, r *http.Request) {
	var body factory.TaxTableJSON
	if !h.decode(w, r, &body) {
		return
	}
	body.ID = chi.URLParam(r, "id")
	table, err := h.Factory.FromJSON(body)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	saved, err := h.Registry.Update(r.Context(), *table)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (h *Handler) ListTaxTables(w http.ResponseWriter, r *http.Request) {
	tables, err := h.Registry.List(r.Context(), r.URL.Query().Get("jurisdiction"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(tables))
}

func (h *Handler) GetTaxTable(w http.ResponseWriter, r *http.Request) {
	table, err := h.Registry.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, table)
}

// ResolveTaxTable returns the single table in force for a jurisdiction on a date.
func (h *Handler) ResolveTaxTable(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	date := generic.DateOf(h.Clock())
	if s := q.Get("date"); s != "" {
		parsed, err := generic.ParseDate(s)
		if err != nil {
			h.fail(w, r, generic.Invalid("date", "%v", err))
			return
		}
		date = parsed
	}
	table, err := tax.NewResolver(h.Registry).Resolve(r.Context(), q.Get("jurisdiction"), date)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ResolveTaxTableResponse{Table: table})
}

// CalculateTax runs the tax calculator without touching any employee record.
func (h *Handler) CalculateTax(w http.ResponseWriter, r *http.Request) {
	var body CalculateTaxRequest
	if !h.decode(w, r, &body) {
		return
	}
	date := generic.DateOf(h.Clock())
	if body.Date != "" {
		parsed, err := generic.ParseDate(body.Date)
		if err != nil {
			h.fail(w, r, generic.Invalid("date", "%v", err))
			return
		}
		date = parsed
	}
	mode := tax.ModeShopCalculates
	if body.Mode != "" {
		parsed, err := tax.ParseHandlingMode(body.Mode)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		mode = parsed
	}
	if body.PeriodsPerYear == 0 {
		body.PeriodsPerYear = 12
	}

	res, err := tax.NewCalculator(tax.NewResolver(h.Registry)).Calculate(r.Context(), tax.Input{
		Jurisdiction:   body.Jurisdiction,
		Date:           date,
		AnnualGross:    body.AnnualGross,
		PeriodsPerYear: body.PeriodsPerYear,
		Settings:       body.Settings,
		Statutory:      body.Statutory,
		Mode:           mode,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// =============================================================================
// SHOP AND EMPLOYEE HANDLERS
// =============================================================================

func (h *Handler) SaveShopSetting(w http.ResponseWriter, r *http.Request) {
	var body payroll.ShopTaxSetting
	if !h.decode(w, r, &body) {
		return
	}
	body.ShopID = generic.ShopID(chi.URLParam(r, "id"))
	if body.TenantID == "" {
		body.TenantID = actorFrom(r).TenantID
	}
	if err := h.Roster.SaveShopSetting(r.Context(), body); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *Handler) GetShopSetting(w http.ResponseWriter, r *http.Request) {
	s, err := h.Roster.ShopSetting(r.Context(), generic.ShopID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) ListShopEmployees(w http.ResponseWriter, r *http.Request) {
	emps, err := h.Roster.ActiveEmployees(r.Context(), generic.ShopID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(emps))
}

// SaveEmployee creates or replaces a roster record.
func (h *Handler) SaveEmployee(w http.ResponseWriter, r *http.Request) {
	var body payroll.Employee
	if !h.decode(w, r, &body) {
		return
	}
	if body.TenantID == "" {
		body.TenantID = actorFrom(r).TenantID
	}
	if err := h.Roster.SaveEmployee(r.Context(), body); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, body)
}

func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	emp, err := h.Roster.GetEmployee(r.Context(), generic.EmployeeID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, emp)
}

func (h *Handler) AdvanceEligibility(w http.ResponseWriter, r *http.Request) {
	e, err := h.Advances.Eligibility(r.Context(), generic.EmployeeID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// =============================================================================
// APPROVAL HANDLERS
// =============================================================================

// OpenApproval starts a chain for a fund request or purchase order. Pay run
// chains are opened by submitting the run.
func (h *Handler) OpenApproval(w http.ResponseWriter, r *http.Request) {
	var body OpenApprovalRequest
	if !h.decode(w, r, &body) {
		return
	}
	kind, err := generic.ParseApprovableKind(body.Kind)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if kind == generic.ApprovablePayrollPeriod {
		h.fail(w, r, generic.Invalid("kind", "pay run approvals are opened by submitting the run"))
		return
	}
	if body.SubjectID == "" {
		h.fail(w, r, generic.Invalid("subject_id", "required"))
		return
	}
	chain, err := h.Approvals.Open(r.Context(), generic.ApprovalSubject{
		Kind:        kind,
		ID:          body.SubjectID,
		Amount:      body.Amount,
		Description: body.Description,
	}, body.Roles...)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, chain)
}

func (h *Handler) ListApprovals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	kind, err := generic.ParseApprovableKind(q.Get("kind"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	chains, err := h.Approvals.ForSubject(r.Context(), kind, q.Get("subject_id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(chains))
}

func (h *Handler) GetApproval(w http.ResponseWriter, r *http.Request) {
	chain, err := h.Approvals.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chain)
}

func (h *Handler) DecideApproval(w http.ResponseWriter, r *http.Request) {
	var body DecideRequest
	if !h.decode(w, r, &body) {
		return
	}
	decision := generic.ApprovalDecision(body.Decision)
	if decision != generic.DecisionApproved && decision != generic.DecisionRejected {
		h.fail(w, r, generic.Invalid("decision", "must be approved or rejected"))
		return
	}
	id := chi.URLParam(r, "id")
	if !h.standaloneChain(w, r, id) {
		return
	}
	chain, err := h.Approvals.Decide(r.Context(), id, actorFrom(r), decision, body.Comment, h.Clock())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chain)
}

func (h *Handler) CancelApproval(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.standaloneChain(w, r, id) {
		return
	}
	chain, err := h.Approvals.Cancel(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chain)
}

// standaloneChain reports whether the chain may be driven through the
// approvals endpoints. Pay run chains move only with their run.
func (h *Handler) standaloneChain(w http.ResponseWriter, r *http.Request, id string) bool {
	chain, err := h.Approvals.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return false
	}
	if chain.Subject.Kind == generic.ApprovablePayrollPeriod {
		h.fail(w, r, generic.Invalid("kind", "pay run approvals are decided through /api/payruns/%s", chain.Subject.ID))
		return false
	}
	return true
}

// =============================================================================
// HELPERS
// =============================================================================

const (
	headerUserID   = "X-User-ID"
	headerTenantID = "X-Tenant-ID"
	headerRole     = "X-User-Role"
)

func actorFrom(r *http.Request) generic.Actor {
	return generic.Actor{
		UserID:   generic.UserID(r.Header.Get(headerUserID)),
		TenantID: generic.TenantID(r.Header.Get(headerTenantID)),
		Role:     r.Header.Get(headerRole),
	}
}

// decode reads a JSON body. An empty body leaves v untouched.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		h.fail(w, r, generic.Invalid("body", "%v", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// statusFor maps the domain error taxonomy onto HTTP.
func statusFor(err error) int {
	switch {
	case generic.IsNotFound(err):
		return http.StatusNotFound
	case generic.IsConflict(err):
		return http.StatusConflict
	case errors.Is(err, generic.ErrConfiguration):
		return http.StatusUnprocessableEntity
	case generic.IsClientError(err):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error("request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	writeError(w, status, strings.ToLower(http.StatusText(status)), err)
}

func (h *Handler) now() time.Time { return h.Clock().UTC() }

func parseOptionalDate(field, s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := generic.ParseDate(s)
	if err != nil {
		return nil, generic.Invalid(field, "%v", err)
	}
	return &t, nil
}

// nonNil keeps empty lists as [] in JSON.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
