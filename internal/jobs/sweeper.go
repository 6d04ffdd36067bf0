package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/loadmatch/internal/config"
	ordersvc "github.com/Additional-Code/loadmatch/internal/service/order"
)

// Canceller cancels AVAILABLE orders scheduled before a cutoff.
type Canceller interface {
	CancelStale(ctx context.Context, cutoff time.Time) (int, error)
}

// Sweeper cancels orders nobody joined long after their scheduled time.
type Sweeper struct {
	orders   Canceller
	cron     *cron.Cron
	schedule string
	grace    time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// Params collects dependencies via Fx.
type Params struct {
	fx.In

	Orders *ordersvc.Service
	Config config.Config
	Logger *zap.Logger
}

// Module runs the sweeper for the lifetime of the Fx app when enabled.
var Module = fx.Options(
	fx.Provide(func(p Params) *Sweeper {
		return NewSweeper(p.Orders, p.Config.Lifecycle, p.Logger)
	}),
	fx.Invoke(func(lc fx.Lifecycle, cfg config.Config, sweeper *Sweeper) {
		if !cfg.Lifecycle.SweeperEnabled {
			return
		}
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error { return sweeper.Start() },
			OnStop: func(ctx context.Context) error {
				sweeper.Stop(ctx)
				return nil
			},
		})
	}),
)

// NewSweeper builds a Sweeper; call Start to schedule it.
func NewSweeper(orders Canceller, cfg config.Lifecycle, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		orders:   orders,
		cron:     cron.New(),
		schedule: cfg.SweeperSchedule,
		grace:    cfg.SweeperGrace,
		logger:   logger.With(zap.String("component", "stale_order_sweeper")),
		now:      time.Now,
	}
}

// Start schedules the sweep.
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, func() { s.Sweep(context.Background()) }); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("sweeper started", zap.String("schedule", s.schedule), zap.Duration("grace", s.grace))
	return nil
}

// Stop waits for a running sweep or for ctx to end.
func (s *Sweeper) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
	s.logger.Info("sweeper stopped")
}

// Sweep runs one pass and returns how many orders it cancelled.
func (s *Sweeper) Sweep(ctx context.Context) int {
	cutoff := s.now().Add(-s.grace)
	n, err := s.orders.CancelStale(ctx, cutoff)
	if err != nil {
		s.logger.Error("stale order sweep failed", zap.Error(err))
	}
	if n > 0 {
		s.logger.Info("stale orders cancelled", zap.Int("count", n), zap.Time("cutoff", cutoff))
	}
	return n
}
