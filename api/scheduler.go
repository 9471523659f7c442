/*
scheduler.go - Automated reconciliation scheduler

PURPOSE:
  Periodically runs the time-advance scan so that periods become overdue,
  leases expire and invoices go past due without any request touching them.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on Start
  - Each run is bounded by Timeout; a run that fails is logged and the
    next tick tries again (the scan is idempotent)
  - Stop cancels an in-flight run and waits for it to return
  - The last run is kept and exposed through LastRun

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Timeout:       Deadline for one run (default: 5 minutes)
  - Enabled:       Whether scheduler is active (default: true)

USAGE:
  scheduler := NewReconciliationScheduler(svc, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: ReconcileAll endpoint (manual reconciliation)
  - rent/reconcile.go: Status Reconciler
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/rent-engine/generic"
	"github.com/warp/rent-engine/rent"
)

// Reconciler is the part of rent.Service the scheduler drives.
type Reconciler interface {
	Today() generic.Date
	ReconcileAll(ctx context.Context, today generic.Date) (*rent.ReconcileReport, error)
}

// ReconciliationScheduler handles automated reconciliation.
type ReconciliationScheduler struct {
	Reconciler    Reconciler
	CheckInterval time.Duration
	Timeout       time.Duration
	Enabled       bool

	log     *zap.Logger
	ticker  *time.Ticker
	stop    chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	runMu   sync.Mutex
	lastRun *ScheduledRun
	nextRun time.Time
}

// ScheduledRun records the outcome of one scan.
type ScheduledRun struct {
	StartedAt time.Time
	Duration  time.Duration
	Report    *rent.ReconcileReport
	Err       error
}

// NewReconciliationScheduler creates a new scheduler.
func NewReconciliationScheduler(r Reconciler, log *zap.Logger) *ReconciliationScheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &ReconciliationScheduler{
		Reconciler:    r,
		CheckInterval: 1 * time.Hour,
		Timeout:       5 * time.Minute,
		Enabled:       true,
		log:           log.Named("scheduler"),
	}
}

// Start begins the scheduler.
func (rs *ReconciliationScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		rs.log.Info("Scheduler disabled, not starting")
		return
	}
	if rs.ticker != nil {
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.stop = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	rs.cancel = cancel
	rs.setNextRun(time.Now())
	rs.wg.Add(1)

	go rs.run(ctx, rs.ticker, rs.stop)

	rs.log.Info("Scheduler started", zap.Duration("interval", rs.CheckInterval))
}

// Stop stops the scheduler, cancels an in-flight run and waits for it to
// return.
func (rs *ReconciliationScheduler) Stop() {
	rs.mu.Lock()
	if rs.ticker == nil {
		rs.mu.Unlock()
		return
	}
	rs.ticker.Stop()
	close(rs.stop)
	rs.cancel()
	rs.ticker = nil
	rs.mu.Unlock()

	rs.wg.Wait()
	rs.log.Info("Scheduler stopped")
}

func (rs *ReconciliationScheduler) run(ctx context.Context, ticker *time.Ticker, stop <-chan struct{}) {
	defer rs.wg.Done()

	// Run immediately on start
	rs.runOnce(ctx)

	for {
		select {
		case <-ticker.C:
			rs.runOnce(ctx)
		case <-stop:
			return
		}
	}
}

// RunNow performs one scan as of the service's today. Concurrent calls are
// serialized.
func (rs *ReconciliationScheduler) RunNow() *ScheduledRun {
	return rs.runOnce(context.Background())
}

func (rs *ReconciliationScheduler) runOnce(ctx context.Context) *ScheduledRun {
	rs.runMu.Lock()
	defer rs.runMu.Unlock()

	if err := ctx.Err(); err != nil {
		return &ScheduledRun{StartedAt: time.Now(), Err: err}
	}
	if rs.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rs.Timeout)
		defer cancel()
	}

	start := time.Now()
	today := rs.Reconciler.Today()
	report, err := rs.Reconciler.ReconcileAll(ctx, today)
	run := &ScheduledRun{StartedAt: start, Duration: time.Since(start), Report: report, Err: err}

	rs.mu.Lock()
	rs.lastRun = run
	rs.setNextRun(start)
	rs.mu.Unlock()

	if err != nil {
		rs.log.Error("Reconciliation run failed", zap.String("as_of", today.String()), zap.Error(err))
		return run
	}

	fields := []zap.Field{
		zap.String("as_of", report.AsOf.String()),
		zap.Int("leases", report.Leases),
		zap.Int("invoices", report.Invoices),
		zap.Int("changes", len(report.Changes)),
		zap.Duration("duration", run.Duration),
	}
	if report.Failed > 0 {
		rs.log.Warn("Reconciliation completed with failures", append(fields, zap.Int("failed", report.Failed))...)
	} else {
		rs.log.Info("Reconciliation completed", fields...)
	}
	return run
}

func (rs *ReconciliationScheduler) setNextRun(from time.Time) {
	if rs.ticker != nil {
		rs.nextRun = from.Add(rs.CheckInterval)
	}
}

// LastRun returns the most recent run, or nil before the first one.
func (rs *ReconciliationScheduler) LastRun() *ScheduledRun {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.lastRun
}

// GetNextRunTime returns when the next scheduled run is expected. It is zero
// when the scheduler is not running.
func (rs *ReconciliationScheduler) GetNextRunTime() time.Time {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.ticker == nil {
		return time.Time{}
	}
	return rs.nextRun
}
