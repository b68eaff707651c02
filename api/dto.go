/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON bodies the API accepts. Responses are the domain
  aggregates themselves (they carry their own json tags); requests are
  separate types so clients never set server-owned fields like status,
  totals or history.

NAMING CONVENTION:
  - *Request: Request body types from clients
  - *Response: Response wrappers that aren't a domain aggregate

MONEY:
  Amounts are naira as JSON strings or numbers ("120000.50" or 120000.5)
  and are stored as integer kobo.

DATES:
  YYYY-MM-DD strings.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/taxtable.go: TaxTableJSON, the tax table request body
*/
package api

import (
	"time"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/tax"
	"github.com/warp/payroll-engine/wageadvance"
)

// =============================================================================
// COMMON
// =============================================================================

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type HealthResponse struct {
	Status string    `json:"status"`
	Time   time.Time `json:"time"`
}

// ActionRequest is the optional body of a lifecycle command.
type ActionRequest struct {
	Comment   string `json:"comment,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Reference string `json:"reference,omitempty"`
}

// note returns whichever free-text field the client filled in.
func (r ActionRequest) note() string {
	switch {
	case r.Comment != "":
		return r.Comment
	case r.Reason != "":
		return r.Reason
	}
	return r.Reference
}

// =============================================================================
// TAX
// =============================================================================

type CalculateTaxRequest struct {
	Jurisdiction   string                     `json:"jurisdiction"`
	Date           string                     `json:"date"`
	AnnualGross    generic.Money              `json:"annual_gross"`
	PeriodsPerYear int                        `json:"periods_per_year"`
	Mode           string                     `json:"mode,omitempty"`
	Settings       tax.EmployeeTaxSettings    `json:"settings"`
	Statutory      tax.StatutoryContributions `json:"statutory"`
}

type ResolveTaxTableResponse struct {
	Table *tax.TaxTable `json:"table"`
}

// =============================================================================
// PAYROLL
// =============================================================================

type CreatePeriodRequest struct {
	TenantID  generic.TenantID  `json:"tenant_id"`
	ShopID    generic.ShopID    `json:"shop_id"`
	Name      string            `json:"name"`
	Frequency generic.Frequency `json:"frequency,omitempty"`
	Start     string            `json:"start"`
	End       string            `json:"end"`
	PayDate   string            `json:"pay_date,omitempty"`
}

type RunRequest struct {
	Inputs   map[generic.EmployeeID]payroll.PeriodInputs `json:"inputs,omitempty"`
	Excluded []generic.EmployeeID                        `json:"excluded,omitempty"`
}

// =============================================================================
// WAGE ADVANCES
// =============================================================================

type AdvanceRequest struct {
	EmployeeID   generic.EmployeeID `json:"employee_id"`
	Amount       generic.Money      `json:"amount"`
	Installments int                `json:"installments"`
	Reason       string             `json:"reason"`
}

type ApproveAdvanceRequest struct {
	Amount       generic.Money `json:"amount,omitempty"`
	Installments int           `json:"installments,omitempty"`
	Note         string        `json:"note,omitempty"`
}

type RepaymentRequest struct {
	Amount         generic.Money `json:"amount"`
	Reference      string        `json:"reference,omitempty"`
	IdempotencyKey string        `json:"idempotency_key,omitempty"`
}

// =============================================================================
// PURCHASE ORDERS
// =============================================================================

type OrderItemRequest struct {
	ProductID string        `json:"product_id"`
	SKU       string        `json:"sku,omitempty"`
	Name      string        `json:"name"`
	Quantity  int64         `json:"quantity"`
	UnitPrice generic.Money `json:"unit_price"`
}

type CreateOrderRequest struct {
	SupplierTenantID generic.TenantID   `json:"supplier_tenant_id"`
	ShopID           generic.ShopID     `json:"shop_id"`
	SupplierShopID   generic.ShopID     `json:"supplier_shop_id,omitempty"`
	Items            []OrderItemRequest `json:"items"`
	Tax              generic.Money      `json:"tax,omitempty"`
	Shipping         generic.Money      `json:"shipping,omitempty"`
	Discount         generic.Money      `json:"discount,omitempty"`
	PaymentDueDate   string             `json:"payment_due_date,omitempty"`
	Notes            string             `json:"notes,omitempty"`
}

type OrderPaymentRequest struct {
	Amount         generic.Money `json:"amount"`
	Method         string        `json:"method"`
	Reference      string        `json:"reference,omitempty"`
	IdempotencyKey string        `json:"idempotency_key,omitempty"`
}

type OverdueSweepResponse struct {
	AsOf    time.Time `json:"as_of"`
	Updated int       `json:"updated"`
}

// =============================================================================
// APPROVALS
// =============================================================================

type OpenApprovalRequest struct {
	Kind        string        `json:"kind"`
	SubjectID   string        `json:"subject_id"`
	Amount      generic.Money `json:"amount"`
	Description string        `json:"description,omitempty"`
	Roles       []string      `json:"roles"`
}

type DecideRequest struct {
	Decision string `json:"decision"` // approved or rejected
	Comment  string `json:"comment,omitempty"`
}

type RepaymentResponse struct {
	Advance   *wageadvance.WageAdvance `json:"advance"`
	Applied   generic.Money            `json:"applied"`
	Duplicate bool                     `json:"duplicate"`
}
