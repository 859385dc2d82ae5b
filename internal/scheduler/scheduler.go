package scheduler

import (
	"context"
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/tally/internal/clock"
	"github.com/smallbiznis/tally/internal/config"
	expirydomain "github.com/smallbiznis/tally/internal/expiry/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	sweepLockKey   = "tally:lock:expiry_sweep"
	warningLockKey = "tally:lock:expiry_warnings"
)

type Params struct {
	fx.In

	Config    config.Config
	Log       *zap.Logger
	Clock     clock.Clock
	ExpirySvc expirydomain.Service
	Locker    *Locker `optional:"true"`
}

// Scheduler drives the periodic expiry sweep and warning runs. Each run is
// guarded by a redis lock so only one instance sweeps at a time.
type Scheduler struct {
	cfg       config.Config
	log       *zap.Logger
	clock     clock.Clock
	expirySvc expirydomain.Service
	locker    *Locker

	cancel context.CancelFunc
	done   chan struct{}
}

func New(p Params) *Scheduler {
	return &Scheduler{
		cfg:       p.Config,
		log:       p.Log.Named("scheduler"),
		clock:     p.Clock,
		expirySvc: p.ExpirySvc,
		locker:    p.Locker,
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(runCtx)
	s.log.Info("scheduler started",
		zap.Duration("sweep_interval", s.cfg.SweepInterval),
		zap.Duration("warning_interval", s.cfg.WarningInterval),
	)
	return nil
}

func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	sweep := time.NewTicker(s.cfg.SweepInterval)
	defer sweep.Stop()
	warn := time.NewTicker(s.cfg.WarningInterval)
	defer warn.Stop()

	// An initial sweep catches schedules that lapsed while no instance was
	// running.
	s.runSweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep.C:
			s.runSweep(ctx)
		case <-warn.C:
			s.runWarnings(ctx)
		}
	}
}

func (s *Scheduler) runSweep(ctx context.Context) {
	token, acquired, err := s.locker.TryLock(ctx, sweepLockKey, s.cfg.SweepInterval)
	if err != nil {
		s.log.Warn("failed to acquire sweep lock", zap.Error(err))
		return
	}
	if !acquired {
		s.log.Debug("sweep lock held elsewhere, skipping run")
		return
	}
	defer func() {
		if err := s.locker.Release(ctx, sweepLockKey, token); err != nil {
			s.log.Warn("failed to release sweep lock", zap.Error(err))
		}
	}()

	runID := ulid.MustNew(ulid.Timestamp(s.clock.Now()), rand.Reader).String()
	if _, err := s.expirySvc.ProcessExpiredCredits(ctx, runID); err != nil {
		s.log.Error("expiry sweep failed", zap.String("run_id", runID), zap.Error(err))
	}
}

func (s *Scheduler) runWarnings(ctx context.Context) {
	token, acquired, err := s.locker.TryLock(ctx, warningLockKey, s.cfg.WarningInterval)
	if err != nil {
		s.log.Warn("failed to acquire warning lock", zap.Error(err))
		return
	}
	if !acquired {
		return
	}
	defer func() {
		if err := s.locker.Release(ctx, warningLockKey, token); err != nil {
			s.log.Warn("failed to release warning lock", zap.Error(err))
		}
	}()

	warned, err := s.expirySvc.SendExpiryWarnings(ctx, s.cfg.WarningDaysAhead)
	if err != nil {
		s.log.Error("expiry warning run failed", zap.Error(err))
		return
	}
	if warned > 0 {
		s.log.Info("expiry warnings sent", zap.Int("warned", warned))
	}
}
