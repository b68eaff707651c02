package api

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/generic/store"
	"github.com/warp/payroll-engine/purchase"
)

type countingRefresher struct {
	calls atomic.Int32
	err   error
}

func (c *countingRefresher) RefreshPaymentStatuses(context.Context, time.Time) (int, error) {
	c.calls.Add(1)
	return 1, c.err
}

func TestOverdueScheduler_SweepsOnStartAndStops(t *testing.T) {
	// GIVEN: A scheduler with a short interval
	r := &countingRefresher{}
	s := NewOverdueScheduler(r, nil)
	s.CheckInterval = 10 * time.Millisecond

	// WHEN: Started
	s.Start()
	s.Start()

	// THEN: It sweeps immediately and then on every tick
	require.Eventually(t, func() bool { return r.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)

	s.Stop()
	after := r.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, r.calls.Load(), "no sweeps after Stop")
	s.Stop()
}

func TestOverdueScheduler_Disabled(t *testing.T) {
	r := &countingRefresher{}
	s := NewOverdueScheduler(r, nil)
	s.Enabled = false

	s.Start()
	time.Sleep(10 * time.Millisecond)
	s.Stop()

	assert.Zero(t, r.calls.Load())
}

func TestOverdueScheduler_RunNowReportsZeroOnError(t *testing.T) {
	r := &countingRefresher{err: errors.New("disk full")}
	s := NewOverdueScheduler(r, nil)

	assert.Zero(t, s.RunNow(context.Background()))
	assert.Equal(t, int32(1), r.calls.Load())
}

func TestOverdueScheduler_MarksOrdersOverdue(t *testing.T) {
	// GIVEN: An unpaid order due 30 April
	ctx := context.Background()
	svc := purchase.NewService(store.NewTxMemory(), nil)
	svc.Clock = func() time.Time { return generic.Date(2026, time.April, 10) }
	due := generic.Date(2026, time.April, 30)
	order, err := svc.Create(ctx, purchase.CreateInput{
		BuyerTenantID:    "tenant-buyer",
		SupplierTenantID: "tenant-sup",
		ShopID:           "shop-1",
		Items:            []purchase.ItemInput{{ProductID: "oil-5l", Name: "Oil 5L", Quantity: 4, UnitPrice: generic.NewMoney(12_000)}},
		PaymentDueDate:   &due,
		Actor:            generic.Actor{UserID: "u", TenantID: "tenant-buyer"},
	})
	require.NoError(t, err)

	// WHEN: The sweep runs in May
	s := NewOverdueScheduler(svc, nil)
	s.Clock = func() time.Time { return generic.Date(2026, time.May, 2) }
	n := s.RunNow(ctx)

	// THEN: The order is overdue
	assert.Equal(t, 1, n)
	got, err := svc.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, purchase.PaymentOverdue, got.PaymentStatus)
}
