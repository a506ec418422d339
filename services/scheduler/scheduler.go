package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"wecodesec-tools/pkg/config"
	"wecodesec-tools/services/aitask"
)

// Sweeper is the unit of work fired on every tick.
type Sweeper interface {
	SweepPendingTasks(ctx context.Context) (aitask.SweepReport, error)
}

// Scheduler drives a Sweeper on a fixed interval. A tick that arrives while
// the previous sweep is still running is dropped, and a panicking sweep does
// not stop later ticks.
type Scheduler struct {
	sweeper  Sweeper
	interval time.Duration

	mu      sync.Mutex
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

func New(interval time.Duration, sweeper Sweeper) *Scheduler {
	return &Scheduler{
		sweeper:  sweeper,
		interval: interval,
	}
}

func Provide(cfg *config.Config, svc *aitask.Service) *Scheduler {
	return New(cfg.Scheduler.Interval, svc)
}

// Start schedules the sweep. The first one fires one interval from now.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("scheduler already started")
	}
	if s.interval < time.Second {
		return errors.New("scheduler interval must be at least 1s")
	}

	logger := cronLogger{log: zap.L().Named("scheduler")}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	// Recover sits inside SkipIfStillRunning so a panicking sweep still
	// hands back the run token.
	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(logger),
		cron.Recover(logger),
	), cron.WithLogger(logger))
	s.cron.Schedule(cron.Every(s.interval), cron.FuncJob(s.tick))
	s.cron.Start()
	s.running = true

	zap.L().Info("[Scheduler] started", zap.Duration("interval", s.interval))
	return nil
}

// Stop cancels an in-flight sweep and waits for it to return or for ctx to
// expire, whichever comes first.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.cancel()
	done := s.cron.Stop()
	s.mu.Unlock()

	select {
	case <-done.Done():
		zap.L().Info("[Scheduler] stopped")
		return nil
	case <-ctx.Done():
		zap.L().Warn("[Scheduler] stop timed out waiting for sweep", zap.Error(ctx.Err()))
		return ctx.Err()
	}
}

// RunOnce runs a single sweep on the caller's goroutine.
func (s *Scheduler) RunOnce(ctx context.Context) (aitask.SweepReport, error) {
	return s.sweeper.SweepPendingTasks(ctx)
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	zap.L().Debug("[Scheduler] tick")
	if _, err := s.sweeper.SweepPendingTasks(ctx); err != nil {
		zap.L().Error("[Scheduler] sweep failed", zap.Error(err))
	}
}

func Register(lc fx.Lifecycle, cfg *config.Config, s *Scheduler) {
	if !cfg.Scheduler.Enabled {
		zap.L().Info("[Scheduler] disabled by SCHEDULER.ENABLED")
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return s.Start()
		},
		OnStop: s.Stop,
	})
}

var Module = fx.Module("scheduler",
	fx.Provide(Provide),
	fx.Invoke(Register),
)
