// Package schedule runs a job on a cron schedule until its context ends.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Job is one scheduled pass. A returned error is logged and the schedule
// carries on.
type Job func(ctx context.Context) error

type Config struct {
	// Spec is a standard five-field cron expression or a descriptor such as
	// "@hourly" or "@every 6h".
	Spec     string
	Location *time.Location
	// RunOnStart runs the job once before waiting for the first tick.
	RunOnStart bool
	// Name labels the job in logs.
	Name string
}

type Scheduler struct {
	cfg      Config
	job      Job
	schedule cron.Schedule
	clock    clockwork.Clock
	log      *logrus.Entry
}

// New parses cfg.Spec. Recording job outcomes is left to job itself.
func New(cfg Config, job Job, clock clockwork.Clock, log *logrus.Entry) (*Scheduler, error) {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Name == "" {
		cfg.Name = "watch"
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	sched, err := cron.ParseStandard(cfg.Spec)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", cfg.Spec, err)
	}
	return &Scheduler{
		cfg:      cfg,
		job:      job,
		schedule: sched,
		clock:    clock,
		log:      log.WithField("component", "schedule"),
	}, nil
}

// Next is the first activation after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t.In(s.cfg.Location))
}

// Run blocks until ctx is done, then waits for a running job to finish.
// Ticks that arrive while the job is still running are skipped.
func (s *Scheduler) Run(ctx context.Context) error {
	logger := cron.PrintfLogger(s.log)
	c := cron.New(
		cron.WithLocation(s.cfg.Location),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	c.Schedule(s.schedule, cron.FuncJob(func() { s.runJob(ctx) }))

	if s.cfg.RunOnStart {
		s.runJob(ctx)
	}

	c.Start()
	s.log.Infof("schedule: %s on %q, next run %s", s.cfg.Name, s.cfg.Spec, s.Next(s.clock.Now()).Format(time.RFC3339))

	<-ctx.Done()
	s.log.Println("schedule: shutting down")
	<-c.Stop().Done()
	return nil
}

func (s *Scheduler) runJob(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	start := s.clock.Now()
	if err := s.job(ctx); err != nil {
		s.log.WithError(err).Errorf("schedule: %s failed after %s", s.cfg.Name, s.clock.Since(start).Round(time.Second))
		return
	}
	s.log.Infof("schedule: %s finished in %s", s.cfg.Name, s.clock.Since(start).Round(time.Second))
}
