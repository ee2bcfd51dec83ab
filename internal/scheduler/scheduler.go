// Package scheduler runs the in-process periodic jobs, backed by gocron/v2.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
)

// Sweeper is a job that removes expired objects and reports how many it removed.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Scheduler owns the gocron scheduler and the context handed to every job run.
type Scheduler struct {
	scheduler gocron.Scheduler
	log       zerolog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
}

// New creates a stopped scheduler.
func New(log zerolog.Logger) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		scheduler: s,
		log:       log.With().Str("component", "scheduler").Logger(),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// AddSweep runs sw every interval. Runs never overlap; a run that would start while the
// previous one is still going is skipped.
func (s *Scheduler) AddSweep(name string, interval time.Duration, timeout time.Duration, sw Sweeper) error {
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", name)
	}

	run := func() {
		ctx, cancel := context.WithTimeout(s.ctx, timeout)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error().Str("job", name).Interface("panic", r).Msg("job panicked")
			}
		}()

		removed, err := sw.Sweep(ctx)
		if err != nil {
			s.log.Error().Err(err).Str("job", name).Int("removed", removed).Msg("job failed")
			return
		}
		s.log.Debug().Str("job", name).Int("removed", removed).Msg("job finished")
	}

	_, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(run),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("add job %s: %w", name, err)
	}
	s.log.Info().Str("job", name).Dur("interval", interval).Msg("job scheduled")
	return nil
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	s.scheduler.Start()
}

// Shutdown cancels in-flight runs and waits for them to return.
func (s *Scheduler) Shutdown() error {
	s.cancel()
	return s.scheduler.Shutdown()
}
