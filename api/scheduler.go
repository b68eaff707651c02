/*
scheduler.go - Automated purchase order overdue sweep

PURPOSE:
  Periodically recomputes the payment status of open purchase orders so
  that orders past their payment due date become overdue without anyone
  touching them.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Sweeps once immediately on start
  - Only orders whose derived status changed are rewritten

CONFIGURATION:
  - CheckInterval: How often to sweep (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewOverdueScheduler(orders, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers_purchase.go: OverdueSweep endpoint (manual sweep)
  - purchase/service.go: RefreshPaymentStatuses
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PaymentStatusRefresher is the part of the purchase service the sweep uses.
type PaymentStatusRefresher interface {
	RefreshPaymentStatuses(ctx context.Context, asOf time.Time) (int, error)
}

// OverdueScheduler handles automated overdue detection.
type OverdueScheduler struct {
	Orders        PaymentStatusRefresher
	CheckInterval time.Duration
	Enabled       bool
	Clock         func() time.Time

	logger *zap.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewOverdueScheduler(orders PaymentStatusRefresher, logger *zap.Logger) *OverdueScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OverdueScheduler{
		Orders:        orders,
		CheckInterval: time.Hour,
		Enabled:       true,
		Clock:         time.Now,
		logger:        logger.Named("scheduler"),
	}
}

// Start begins the scheduler. Calling it twice is a no-op.
func (s *OverdueScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.logger.Info("disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.run(s.ticker, s.stop)

	s.logger.Info("started", zap.Duration("interval", s.CheckInterval))
}

// Stop stops the scheduler and waits for an in-flight sweep.
func (s *OverdueScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil
	s.logger.Info("stopped")
}

func (s *OverdueScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	s.RunNow(ctx)
	for {
		select {
		case <-ticker.C:
			s.RunNow(ctx)
		case <-stop:
			return
		}
	}
}

// RunNow performs one sweep and returns how many orders changed.
func (s *OverdueScheduler) RunNow(ctx context.Context) int {
	asOf := s.Clock().UTC()
	n, err := s.Orders.RefreshPaymentStatuses(ctx, asOf)
	if err != nil {
		s.logger.Error("overdue sweep failed", zap.Time("as_of", asOf), zap.Error(err))
		return 0
	}
	if n > 0 {
		s.logger.Info("overdue sweep", zap.Time("as_of", asOf), zap.Int("updated", n))
	}
	return n
}
