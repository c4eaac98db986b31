// Package scheduler runs the engine's periodic jobs: clearing
// advancement, daily accrual, the default sweep, and liquidity
// snapshots. Each job is ticker-driven and never overlaps itself.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/maharlikacoop/vaultledger/internal/metrics"
	"github.com/maharlikacoop/vaultledger/pkg/vault"
)

const (
	jobAdvanceClearing = "advance_clearing"
	jobDailyAccrual    = "daily_accrual"
	jobDefaultSweep    = "default_sweep"
	jobSnapshot        = "liquidity_snapshot"
)

// Engine is the slice of the vault service the jobs drive.
type Engine interface {
	AdvanceClearing(ctx context.Context) (int, error)
	RunDailyAccrual(ctx context.Context) (int, error)
	SweepDefaults(ctx context.Context) (int, error)
	RecordSnapshot(ctx context.Context, period time.Duration) error
	ComputeLiquidityIndex(ctx context.Context) (vault.LiquidityIndex, error)
}

// Intervals configures how often each job fires.
type Intervals struct {
	Clearing time.Duration
	Accrual  time.Duration
	Sweep    time.Duration
	Snapshot time.Duration
}

// DefaultIntervals returns the stock cadence: clearing and sweeps run
// every minute, accrual hourly (the per-day idempotency guard makes
// extra runs harmless), snapshots every fifteen minutes.
func DefaultIntervals() Intervals {
	return Intervals{
		Clearing: time.Minute,
		Accrual:  time.Hour,
		Sweep:    time.Minute,
		Snapshot: 15 * time.Minute,
	}
}

// Scheduler owns the background job loops.
type Scheduler struct {
	engine    Engine
	intervals Intervals
	logger    *zap.Logger
	metrics   *metrics.Collectors
}

// New wires a Scheduler. Metrics are optional.
func New(engine Engine, intervals Intervals, logger *zap.Logger, collectors *metrics.Collectors) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		engine:    engine,
		intervals: intervals,
		logger:    logger,
		metrics:   collectors,
	}
}

// Run starts every job loop and blocks until the context is cancelled.
func (scheduler *Scheduler) Run(ctx context.Context) {
	var waitGroup sync.WaitGroup
	scheduler.spawn(ctx, &waitGroup, jobAdvanceClearing, scheduler.intervals.Clearing, scheduler.runClearing)
	scheduler.spawn(ctx, &waitGroup, jobDailyAccrual, scheduler.intervals.Accrual, scheduler.runAccrual)
	scheduler.spawn(ctx, &waitGroup, jobDefaultSweep, scheduler.intervals.Sweep, scheduler.runSweep)
	scheduler.spawn(ctx, &waitGroup, jobSnapshot, scheduler.intervals.Snapshot, scheduler.runSnapshot)
	waitGroup.Wait()
}

// spawn runs one job loop. Each tick runs the job in its own goroutine;
// the mutex keeps a run slower than the interval from overlapping the
// next tick of the same job.
func (scheduler *Scheduler) spawn(ctx context.Context, waitGroup *sync.WaitGroup, name string, interval time.Duration, job func(ctx context.Context) error) {
	if interval <= 0 {
		return
	}
	waitGroup.Add(1)
	go func() {
		defer waitGroup.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		var running sync.Mutex
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !running.TryLock() {
					scheduler.logger.Warn("job still running, tick skipped", zap.String("job", name))
					continue
				}
				waitGroup.Add(1)
				go func() {
					defer waitGroup.Done()
					defer running.Unlock()
					if err := job(ctx); err != nil {
						scheduler.countFailure(name)
						scheduler.logger.Error("job failed", zap.String("job", name), zap.Error(err))
					}
				}()
			}
		}
	}()
}

func (scheduler *Scheduler) runClearing(ctx context.Context) error {
	processed, err := scheduler.engine.AdvanceClearing(ctx)
	if processed > 0 {
		scheduler.logger.Info("clearing advanced", zap.Int("entries", processed))
		if scheduler.metrics != nil {
			scheduler.metrics.EntriesSettled.Add(float64(processed))
		}
	}
	return err
}

func (scheduler *Scheduler) runAccrual(ctx context.Context) error {
	credited, err := scheduler.engine.RunDailyAccrual(ctx)
	if credited > 0 {
		scheduler.logger.Info("daily accrual posted", zap.Int("members", credited))
		if scheduler.metrics != nil {
			scheduler.metrics.AccrualsPosted.Add(float64(credited))
		}
	}
	return err
}

func (scheduler *Scheduler) runSweep(ctx context.Context) error {
	settled, err := scheduler.engine.SweepDefaults(ctx)
	if settled > 0 {
		scheduler.logger.Info("defaults settled", zap.Int("loans", settled))
		if scheduler.metrics != nil {
			scheduler.metrics.LoansDefaulted.Add(float64(settled))
		}
	}
	if err != nil && scheduler.metrics != nil {
		scheduler.metrics.SweepFailures.Inc()
	}
	return err
}

func (scheduler *Scheduler) runSnapshot(ctx context.Context) error {
	if err := scheduler.engine.RecordSnapshot(ctx, scheduler.intervals.Snapshot); err != nil {
		return err
	}
	index, err := scheduler.engine.ComputeLiquidityIndex(ctx)
	if err != nil {
		return err
	}
	if scheduler.metrics != nil {
		scheduler.metrics.LiquidityRatio.Set(float64(index.Ratio))
	}
	if index.Level != vault.LiquidityHealthy {
		scheduler.logger.Warn("liquidity degraded",
			zap.Int64("ratio", index.Ratio),
			zap.String("level", string(index.Level)),
		)
	}
	return nil
}

func (scheduler *Scheduler) countFailure(job string) {
	if scheduler.metrics != nil {
		scheduler.metrics.JobFailures.WithLabelValues(job).Inc()
	}
}
