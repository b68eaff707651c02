package purchase_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/generic/store"
	"github.com/warp/payroll-engine/purchase"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var (
	buyer    = generic.Actor{UserID: "buyer-user", TenantID: "tenant-buyer", Role: "manager"}
	supplier = generic.Actor{UserID: "supplier-user", TenantID: "tenant-supplier", Role: "manager"}
	outsider = generic.Actor{UserID: "someone", TenantID: "tenant-other", Role: "owner"}
)

var today = generic.Date(2026, time.April, 10)

func newService() (*purchase.Service, *store.TxMemory) {
	s := store.NewTxMemory()
	svc := purchase.NewService(s, nil)
	svc.Clock = func() time.Time { return today }
	return svc, s
}

// order of 10 × ₦9,000 rice + ₦10,000 tax + ₦5,000 shipping − ₦5,000 discount = ₦100,000
func createOrder(t *testing.T, svc *purchase.Service) *purchase.Order {
	t.Helper()
	due := generic.Date(2026, time.April, 30)
	o, err := svc.Create(context.Background(), purchase.CreateInput{
		BuyerTenantID:    "tenant-buyer",
		SupplierTenantID: "tenant-supplier",
		ShopID:           "shop-ikeja",
		Items:            []purchase.ItemInput{{ProductID: "rice-50kg", Name: "Rice 50kg", Quantity: 10, UnitPrice: generic.NewMoney(9_000)}},
		Tax:              generic.NewMoney(10_000),
		Shipping:         generic.NewMoney(5_000),
		Discount:         generic.NewMoney(5_000),
		PaymentDueDate:   &due,
		Actor:            buyer,
	})
	require.NoError(t, err)
	return o
}

type step struct {
	action purchase.Action
	actor  generic.Actor
}

func advance(t *testing.T, svc *purchase.Service, id string, steps ...step) *purchase.Order {
	t.Helper()
	var o *purchase.Order
	var err error
	for _, st := range steps {
		o, err = svc.Transition(context.Background(), id, st.action, st.actor, "")
		require.NoError(t, err, "action %s", st.action)
	}
	return o
}

func pay(svc *purchase.Service, id string, amount int64) (*purchase.Order, error) {
	return svc.RecordPayment(context.Background(), purchase.PaymentInput{
		OrderID: id,
		Amount:  generic.NewMoney(amount),
		Method:  "transfer",
		Actor:   buyer,
	})
}

// =============================================================================
// TOTALS
// =============================================================================

func TestCreate_TotalsReconcile(t *testing.T) {
	svc, _ := newService()

	o := createOrder(t, svc)

	assert.Equal(t, purchase.StatusDraft, o.Status)
	assert.Equal(t, generic.NewMoney(90_000), o.Subtotal)
	assert.Equal(t, generic.NewMoney(100_000), o.Total)
	assert.Equal(t, o.Subtotal.Add(o.Tax).Add(o.Shipping).Sub(o.Discount), o.Total)
	assert.Equal(t, purchase.PaymentPending, o.PaymentStatus)
	assert.Regexp(t, `^PO-[0-9A-F]{8}$`, o.OrderNumber)
}

func TestCreate_Rejects(t *testing.T) {
	svc, _ := newService()
	base := purchase.CreateInput{
		BuyerTenantID:    "tenant-buyer",
		SupplierTenantID: "tenant-supplier",
		ShopID:           "shop-ikeja",
		Items:            []purchase.ItemInput{{ProductID: "p1", Quantity: 1, UnitPrice: generic.NewMoney(100)}},
	}

	tests := []struct {
		name   string
		mutate func(in *purchase.CreateInput)
	}{
		{"same tenant", func(in *purchase.CreateInput) { in.SupplierTenantID = in.BuyerTenantID }},
		{"no items", func(in *purchase.CreateInput) { in.Items = nil }},
		{"zero quantity", func(in *purchase.CreateInput) { in.Items[0].Quantity = 0 }},
		{"discount above value", func(in *purchase.CreateInput) { in.Discount = generic.NewMoney(101) }},
		{"created by supplier", func(in *purchase.CreateInput) { in.Actor = supplier }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := base
			in.Items = append([]purchase.ItemInput(nil), base.Items...)
			tt.mutate(&in)
			_, err := svc.Create(context.Background(), in)
			assert.ErrorIs(t, err, generic.ErrValidation)
		})
	}
}

// =============================================================================
// WORKFLOW
// =============================================================================

func TestWorkflow_FullLifecycleMovesStock(t *testing.T) {
	// GIVEN: Supplier holds 25 bags, buyer shop holds 3
	ctx := context.Background()
	svc, _ := newService()
	_, err := svc.SetStock(ctx, purchase.StockLevel{TenantID: "tenant-supplier", ProductID: "rice-50kg", Quantity: 25})
	require.NoError(t, err)
	_, err = svc.SetStock(ctx, purchase.StockLevel{TenantID: "tenant-buyer", ShopID: "shop-ikeja", ProductID: "rice-50kg", Quantity: 3})
	require.NoError(t, err)
	o := createOrder(t, svc)

	// WHEN: The order runs through to shipped
	o = advance(t, svc, o.ID,
		step{purchase.ActionSubmit, buyer},
		step{purchase.ActionApprove, supplier},
		step{purchase.ActionProcess, supplier},
		step{purchase.ActionShip, supplier},
	)

	// THEN: Supplier stock is decremented by the line quantity
	assert.Equal(t, purchase.StatusShipped, o.Status)
	require.NotNil(t, o.ShippedAt)
	level, err := svc.StockLevel(ctx, "tenant-supplier", "", "rice-50kg")
	require.NoError(t, err)
	assert.Equal(t, int64(15), level.Quantity)

	// WHEN: The buyer receives and completes
	o = advance(t, svc, o.ID,
		step{purchase.ActionReceive, buyer},
		step{purchase.ActionComplete, buyer},
	)

	// THEN: Buyer shop stock is incremented
	assert.Equal(t, purchase.StatusCompleted, o.Status)
	level, err = svc.StockLevel(ctx, "tenant-buyer", "shop-ikeja", "rice-50kg")
	require.NoError(t, err)
	assert.Equal(t, int64(13), level.Quantity)
	assert.Len(t, o.History, 7)
	assert.Empty(t, o.AllowedActions())
}

func TestWorkflow_ShipWithoutStockChangesNothing(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService()
	_, err := svc.SetStock(ctx, purchase.StockLevel{TenantID: "tenant-supplier", ProductID: "rice-50kg", Quantity: 4})
	require.NoError(t, err)
	o := createOrder(t, svc)
	advance(t, svc, o.ID,
		step{purchase.ActionSubmit, buyer},
		step{purchase.ActionApprove, supplier},
		step{purchase.ActionProcess, supplier},
	)

	_, err = svc.Transition(ctx, o.ID, purchase.ActionShip, supplier, "")

	assert.ErrorIs(t, err, generic.ErrValidation)
	got, err := svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, purchase.StatusProcessing, got.Status)
	level, err := svc.StockLevel(ctx, "tenant-supplier", "", "rice-50kg")
	require.NoError(t, err)
	assert.Equal(t, int64(4), level.Quantity)
}

func TestWorkflow_ShipFromDraftIsStateTransitionError(t *testing.T) {
	svc, _ := newService()
	o := createOrder(t, svc)

	_, err := svc.Transition(context.Background(), o.ID, purchase.ActionShip, supplier, "")

	var stErr *generic.StateTransitionError
	require.ErrorAs(t, err, &stErr)
	assert.Equal(t, "draft", stErr.From)
}

func TestWorkflow_WrongPartyIsRejected(t *testing.T) {
	svc, _ := newService()
	o := createOrder(t, svc)

	_, err := svc.Transition(context.Background(), o.ID, purchase.ActionSubmit, supplier, "")
	assert.ErrorIs(t, err, generic.ErrValidation)

	_, err = svc.Transition(context.Background(), o.ID, purchase.ActionSubmit, outsider, "")
	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestWorkflow_EitherPartyCancels(t *testing.T) {
	tests := []struct {
		name  string
		actor generic.Actor
		party purchase.Party
	}{
		{"buyer cancels", buyer, purchase.PartyBuyer},
		{"supplier rejects", supplier, purchase.PartySupplier},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newService()
			o := createOrder(t, svc)
			advance(t, svc, o.ID, step{purchase.ActionSubmit, buyer})

			got, err := svc.Transition(context.Background(), o.ID, purchase.ActionCancel, tt.actor, "out of stock")

			require.NoError(t, err)
			assert.Equal(t, purchase.StatusCancelled, got.Status)
			assert.Equal(t, tt.party, got.CancelledBy)
			assert.Equal(t, purchase.PaymentCancelled, got.PaymentStatus)
		})
	}
}

func TestWorkflow_CannotCancelAfterShipping(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService()
	_, err := svc.SetStock(ctx, purchase.StockLevel{TenantID: "tenant-supplier", ProductID: "rice-50kg", Quantity: 10})
	require.NoError(t, err)
	o := createOrder(t, svc)
	advance(t, svc, o.ID,
		step{purchase.ActionSubmit, buyer},
		step{purchase.ActionApprove, supplier},
		step{purchase.ActionProcess, supplier},
		step{purchase.ActionShip, supplier},
	)

	_, err = svc.Transition(ctx, o.ID, purchase.ActionCancel, buyer, "")
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)
}

// =============================================================================
// PAYMENTS
// =============================================================================

func TestPayments_TwoPaymentsSettleAndThirdIsRejected(t *testing.T) {
	// GIVEN: A submitted order totalling ₦100,000
	ctx := context.Background()
	svc, s := newService()
	o := createOrder(t, svc)
	advance(t, svc, o.ID, step{purchase.ActionSubmit, buyer})

	// WHEN: ₦30,000 is paid
	o, err := pay(svc, o.ID, 30_000)
	require.NoError(t, err)
	assert.Equal(t, purchase.PaymentPartial, o.PaymentStatus)

	// WHEN: ₦70,000 is paid
	o, err = pay(svc, o.ID, 70_000)
	require.NoError(t, err)

	// THEN: Paid in full
	assert.Equal(t, purchase.PaymentPaid, o.PaymentStatus)
	assert.Equal(t, generic.NewMoney(100_000), o.PaidAmount)
	assert.True(t, o.Outstanding().IsZero())

	// WHEN: A third payment is attempted
	_, err = pay(svc, o.ID, 1)

	// THEN: Rejected, nothing recorded
	assert.ErrorIs(t, err, generic.ErrValidation)
	got, err := svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Len(t, got.Payments, 2)

	ledgerTotal, err := generic.NewLedger(s).Total(ctx, generic.AggregatePurchaseOrder, o.ID, generic.EntryPayment)
	require.NoError(t, err)
	assert.Equal(t, got.PaidAmount, ledgerTotal)
}

func TestPayments_DraftOrderCannotBePaid(t *testing.T) {
	svc, _ := newService()
	o := createOrder(t, svc)

	_, err := pay(svc, o.ID, 10_000)

	assert.ErrorIs(t, err, generic.ErrInvalidTransition)
}

func TestPayments_DuplicateIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService()
	o := createOrder(t, svc)
	advance(t, svc, o.ID, step{purchase.ActionSubmit, buyer})
	in := purchase.PaymentInput{OrderID: o.ID, Amount: generic.NewMoney(10_000), IdempotencyKey: "bank-ref-1", Actor: buyer}

	_, err := svc.RecordPayment(ctx, in)
	require.NoError(t, err)
	_, err = svc.RecordPayment(ctx, in)

	assert.ErrorIs(t, err, generic.ErrDuplicateIdempotencyKey)
	got, err := svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, generic.NewMoney(10_000), got.PaidAmount)
}

func TestDerivePaymentStatus(t *testing.T) {
	due := generic.Date(2026, time.April, 30)
	total := generic.NewMoney(100_000)
	tests := []struct {
		name      string
		paid      generic.Money
		due       *time.Time
		asOf      time.Time
		cancelled bool
		want      purchase.PaymentStatus
	}{
		{"nothing paid", 0, &due, generic.Date(2026, time.April, 1), false, purchase.PaymentPending},
		{"part paid", generic.NewMoney(1), &due, generic.Date(2026, time.April, 1), false, purchase.PaymentPartial},
		{"due today is not overdue", generic.NewMoney(1), &due, due.Add(20 * time.Hour), false, purchase.PaymentPartial},
		{"past due", generic.NewMoney(1), &due, generic.Date(2026, time.May, 1), false, purchase.PaymentOverdue},
		{"paid after due", total, &due, generic.Date(2026, time.May, 1), false, purchase.PaymentPaid},
		{"no due date", 0, nil, generic.Date(2030, time.January, 1), false, purchase.PaymentPending},
		{"cancelled wins", generic.NewMoney(1), &due, generic.Date(2026, time.May, 1), true, purchase.PaymentCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := purchase.DerivePaymentStatus(tt.paid, total, tt.due, tt.asOf, tt.cancelled)
			assert.Equal(t, tt.want, got)
			// Pure: same inputs, same answer
			assert.Equal(t, got, purchase.DerivePaymentStatus(tt.paid, total, tt.due, tt.asOf, tt.cancelled))
		})
	}
}

func TestRefreshPaymentStatuses_MarksOverdue(t *testing.T) {
	// GIVEN: A part-paid order due April 30
	ctx := context.Background()
	svc, _ := newService()
	o := createOrder(t, svc)
	advance(t, svc, o.ID, step{purchase.ActionSubmit, buyer})
	_, err := pay(svc, o.ID, 20_000)
	require.NoError(t, err)

	// WHEN: The sweep runs before and after the due date
	changed, err := svc.RefreshPaymentStatuses(ctx, generic.Date(2026, time.April, 20))
	require.NoError(t, err)
	assert.Zero(t, changed)

	changed, err = svc.RefreshPaymentStatuses(ctx, generic.Date(2026, time.May, 2))
	require.NoError(t, err)

	// THEN: The order is overdue
	assert.Equal(t, 1, changed)
	got, err := svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, purchase.PaymentOverdue, got.PaymentStatus)
}
