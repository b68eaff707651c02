/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address from X-Forwarded-For / X-Real-IP
  3. RequestLog: One structured zap line per request
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests, origins from configuration

ROUTE GROUPS:
  /health                 Liveness
  /api/tax/*              Tax tables, resolution, calculation
  /api/shops/*            Shop tax settings, roster
  /api/employees/*        Employees, advance eligibility
  /api/periods/*          Payroll periods and their runs
  /api/payruns/*          Pay run lifecycle, payslips, schedules
  /api/advances/*         Wage advances
  /api/purchase-orders/*  Purchase orders
  /api/stock              Stock levels
  /api/approvals/*        Approval chains

SECURITY NOTE:
  No authentication middleware. The actor headers are trusted.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// RouterOptions configures cross-cutting middleware.
type RouterOptions struct {
	AllowedOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.Logger))
	r.Use(middleware.Recoverer)
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", headerUserID, headerTenantID, headerRole},
		ExposedHeaders: []string{"Content-Disposition"},
	}))

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		// Tax routes
		r.Route("/tax", func(r chi.Router) {
			r.Get("/tables", h.ListTaxTables)
			r.Post("/tables", h.PublishTaxTable)
			r.Get("/tables/{id}", h.GetTaxTable)
			r.Put("/tables/{id}", h.UpdateTaxTable)
			r.Get("/resolve", h.ResolveTaxTable)
			r.Post("/calculate", h.CalculateTax)
		})

		// Shop routes
		r.Route("/shops/{id}", func(r chi.Router) {
			r.Get("/tax-settings", h.GetShopSetting)
			r.Put("/tax-settings", h.SaveShopSetting)
			r.Get("/employees", h.ListShopEmployees)
			r.Get("/periods", h.ListPeriods)
		})

		// Employee routes
		r.Route("/employees", func(r chi.Router) {
			r.Post("/", h.SaveEmployee)
			r.Get("/{id}", h.GetEmployee)
			r.Get("/{id}/advance-eligibility", h.AdvanceEligibility)
		})

		// Payroll routes
		r.Route("/periods", func(r chi.Router) {
			r.Post("/", h.CreatePeriod)
			r.Get("/{id}", h.GetPeriod)
			r.Get("/{id}/payruns", h.ListRuns)
			r.Post("/{id}/payruns", h.CreateRun)
		})
		r.Route("/payruns/{id}", func(r chi.Router) {
			r.Get("/", h.GetRun)
			r.Put("/inputs", h.SetRunInputs)
			r.Get("/approval", h.GetRunApproval)
			r.Get("/payslips", h.ListPayslips)
			r.Get("/payslips/{employeeID}", h.GetPayslip)
			r.Get("/bank-schedule", h.BankSchedule)
			r.Get("/statutory-schedules", h.StatutorySchedules)
			r.Post("/{action}", h.RunAction)
		})

		// Wage advance routes
		r.Route("/advances", func(r chi.Router) {
			r.Get("/", h.ListAdvances)
			r.Post("/", h.RequestAdvance)
			r.Get("/{id}", h.GetAdvance)
			r.Post("/{id}/approve", h.ApproveAdvance)
			r.Post("/{id}/repayments", h.RecordRepayment)
			r.Post("/{id}/{action}", h.AdvanceAction)
		})

		// Purchase order routes
		r.Route("/purchase-orders", func(r chi.Router) {
			r.Get("/", h.ListOrders)
			r.Post("/", h.CreateOrder)
			r.Post("/overdue-sweep", h.OverdueSweep)
			r.Get("/{id}", h.GetOrder)
			r.Post("/{id}/payments", h.RecordOrderPayment)
			r.Post("/{id}/{action}", h.OrderAction)
		})
		r.Get("/stock", h.GetStock)
		r.Put("/stock", h.SetStock)

		// Approval routes
		r.Route("/approvals", func(r chi.Router) {
			r.Get("/", h.ListApprovals)
			r.Post("/", h.OpenApproval)
			r.Get("/{id}", h.GetApproval)
			r.Post("/{id}/decide", h.DecideApproval)
			r.Post("/{id}/cancel", h.CancelApproval)
		})
	})

	return r
}

// requestLogger writes one line per request once the response is done.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("http request",
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("remote", r.RemoteAddr))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
