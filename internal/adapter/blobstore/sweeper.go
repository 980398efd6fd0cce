package blobstore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// sweepTimeout bounds a single sweep run.
const sweepTimeout = time.Minute

// Sweepable is anything that can drop its expired entries.
type Sweepable interface {
	Sweep(ctx context.Context) (int, error)
}

// Sweeper runs Sweep on a cron schedule ("@every 1h", "0 * * * *", ...).
type Sweeper struct {
	cron     *cron.Cron
	target   Sweepable
	schedule string
	logger   *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// NewSweeper validates schedule and registers the sweep job. The job does
// not run until Start.
func NewSweeper(target Sweepable, schedule string, logger *slog.Logger) (*Sweeper, error) {
	sched, err := cron.ParseStandard(schedule)
	if err != nil {
		return nil, fmt.Errorf("blob sweeper: invalid schedule %q: %w", schedule, err)
	}
	s := &Sweeper{
		cron:     cron.New(),
		target:   target,
		schedule: schedule,
		logger:   logger,
	}
	s.cron.Schedule(sched, cron.FuncJob(s.run))
	return s, nil
}

// Start begins running the schedule. Calling Start twice is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.started = true
	s.logger.Info("blob sweeper started", "schedule", s.schedule)
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.started = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
}

// RunOnce sweeps immediately, outside the schedule.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()
	return s.target.Sweep(ctx)
}

func (s *Sweeper) run() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	start := time.Now()
	n, err := s.RunOnce(ctx)
	if err != nil {
		s.logger.Warn("blob sweep failed", "error", err, "duration", time.Since(start))
		return
	}
	if n > 0 {
		s.logger.Info("expired blobs removed", "count", n, "duration", time.Since(start))
	}
}
