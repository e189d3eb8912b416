// Package jobs runs the periodic maintenance sweeps: stale offers, stranded payments and
// presence rows whose heartbeat stopped.
package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"kisanmandi/pkg/config"
)

type OfferSweeper interface {
	ExpireStale(ctx context.Context, ttl time.Duration) (int, error)
	ReconcilePayments(ctx context.Context) (int, error)
	ReconcileMessages(ctx context.Context) (int, error)
}

type PresenceSweeper interface {
	SweepStale(ctx context.Context) (int, error)
}

// Task is one unit of periodic work. It reports how many rows it changed.
type Task func(ctx context.Context) (int, error)

type Scheduler struct {
	cron    *cron.Cron
	timeout time.Duration
	logger  *log.Logger
}

func NewScheduler() *Scheduler {
	logger := log.New(log.Writer(), "[jobs] ", log.LstdFlags)
	return &Scheduler{
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(logger)))),
		timeout: time.Minute,
		logger:  logger,
	}
}

// Add registers task under a standard cron expression or descriptor such as "@every 5m".
func (s *Scheduler) Add(name, spec string, task Task) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("jobs: %s: invalid schedule %q: %w", name, spec, err)
	}
	_, err := s.cron.AddFunc(spec, func() { s.run(name, task) })
	return err
}

func (s *Scheduler) run(name string, task Task) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	n, err := task(ctx)
	if err != nil {
		s.logger.Printf("%s failed: %v", name, err)
		return
	}
	if n > 0 {
		s.logger.Printf("%s: %d updated", name, n)
	}
}

// Entries lists the registered jobs with their next fire time.
func (s *Scheduler) Entries() []cron.Entry {
	return s.cron.Entries()
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OfferSweep expires pending offers older than ttl, completes accepted offers whose payment was
// recorded but never settled, then re-posts conversation messages that failed after a transition.
func OfferSweep(svc OfferSweeper, ttl time.Duration) Task {
	return func(ctx context.Context) (int, error) {
		expired, err := svc.ExpireStale(ctx, ttl)
		if err != nil {
			return expired, fmt.Errorf("expire offers: %w", err)
		}
		settled, err := svc.ReconcilePayments(ctx)
		if err != nil {
			return expired + settled, fmt.Errorf("reconcile payments: %w", err)
		}
		reposted, err := svc.ReconcileMessages(ctx)
		if err != nil {
			return expired + settled + reposted, fmt.Errorf("reconcile offer messages: %w", err)
		}
		return expired + settled + reposted, nil
	}
}

func PresenceSweep(svc PresenceSweeper) Task {
	return svc.SweepStale
}

// Register wires both sweeps using the configured schedules. An empty schedule disables a sweep.
func Register(s *Scheduler, cfg config.Config, offers OfferSweeper, pres PresenceSweeper) error {
	if cfg.Jobs.OfferSweep != "" {
		if err := s.Add("offer-sweep", cfg.Jobs.OfferSweep, OfferSweep(offers, cfg.Offers.PendingTTL)); err != nil {
			return err
		}
	}
	if cfg.Jobs.PresenceSweep != "" {
		if err := s.Add("presence-sweep", cfg.Jobs.PresenceSweep, PresenceSweep(pres)); err != nil {
			return err
		}
	}
	return nil
}
