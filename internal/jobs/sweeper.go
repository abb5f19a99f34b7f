package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/credpool/internal/metrics"
	"github.com/Checker-Finance/credpool/pkg/model"
)

// Pool is the subset of the allocator the sweeper drives.
type Pool interface {
	SweepExpired(ctx context.Context) (int, error)
	Stats(ctx context.Context) (model.PoolStats, error)
}

// ExpirySweeper periodically retires expired credentials and refreshes the
// pool gauges.
type ExpirySweeper struct {
	logger   *zap.Logger
	pool     Pool
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewExpirySweeper constructs a background job that runs every interval.
func NewExpirySweeper(logger *zap.Logger, pool Pool, interval time.Duration) *ExpirySweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExpirySweeper{
		logger:   logger,
		pool:     pool,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start runs one sweep immediately, then one per interval until ctx is
// cancelled or Stop is called.
func (s *ExpirySweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("expiry_sweeper.started", zap.Duration("interval", s.interval))
	s.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-s.stopCh:
			s.logger.Info("expiry_sweeper.stopped", zap.String("cause", "manual stop"))
			return
		case <-ctx.Done():
			s.logger.Info("expiry_sweeper.stopped", zap.String("cause", "context canceled"))
			return
		}
	}
}

// Stop halts the sweeper. Safe to call more than once.
func (s *ExpirySweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// RunOnce executes one sweep cycle and returns the number of credentials retired.
func (s *ExpirySweeper) RunOnce(ctx context.Context) int {
	start := time.Now()

	retired, err := s.pool.SweepExpired(ctx)
	if err != nil {
		metrics.IncError("expiry_sweeper", "sweep_failed")
		s.logger.Error("expiry_sweeper.sweep_failed", zap.Error(err))
		return retired
	}
	metrics.SetLastSweep(time.Now())

	stats, err := s.pool.Stats(ctx)
	if err != nil {
		s.logger.Warn("expiry_sweeper.stats_failed", zap.Error(err))
	} else {
		metrics.SetPoolStats(stats)
	}

	s.logger.Info("expiry_sweeper.success",
		zap.Int("retired", retired),
		zap.Int("active", stats.Active),
		zap.Int("available", stats.Available),
		zap.Duration("duration", time.Since(start)))
	return retired
}
