// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package schedule runs a job on a cron schedule, one run at a time.
package schedule

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// RunFunc is one scheduled run. at is the UTC tick time, used as the run
// timestamp.
type RunFunc func(ctx context.Context, at time.Time) error

// Scheduler fires RunFunc on each tick. A tick that arrives while the
// previous run is still active is skipped.
type Scheduler struct {
	sched cron.Schedule
	run   RunFunc
	log   *zap.Logger

	runs    atomic.Int64
	skipped atomic.Int64
	active  atomic.Bool
}

// New parses a standard five-field cron expression or descriptor
// ("@daily", "@every 6h").
func New(expr string, run RunFunc, log *zap.Logger) (*Scheduler, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("parsing schedule %q: %w", expr, err)
	}
	return NewWithSchedule(sched, run, log), nil
}

// NewWithSchedule uses an existing cron.Schedule.
func NewWithSchedule(sched cron.Schedule, run RunFunc, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{sched: sched, run: run, log: log.Named("schedule")}
}

// Next returns the first tick after t.
func (s *Scheduler) Next(t time.Time) time.Time { return s.sched.Next(t) }

// Runs returns how many runs have started.
func (s *Scheduler) Runs() int64 { return s.runs.Load() }

// Skipped returns how many ticks were skipped because a run was active.
func (s *Scheduler) Skipped() int64 { return s.skipped.Load() }

// Start blocks until ctx is cancelled, then waits for the active run, which
// sees the same cancellation, to return.
func (s *Scheduler) Start(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.Recover(cronLogger{s.log.Sugar()})))
	c.Schedule(s.sched, cron.FuncJob(func() { s.tick(ctx) }))
	c.Start()
	s.log.Info("scheduler started", zap.Time("next", s.sched.Next(time.Now())))

	<-ctx.Done()
	s.log.Info("scheduler stopping; waiting for active run")
	<-c.Stop().Done()
	s.log.Info("scheduler stopped", zap.Int64("runs", s.Runs()), zap.Int64("skipped", s.Skipped()))
	return nil
}

func (s *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if !s.active.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		s.log.Warn("previous run still active; skipping tick")
		return
	}
	defer s.active.Store(false)

	n := s.runs.Add(1)
	at := time.Now().UTC()
	log := s.log.With(zap.Int64("run", n), zap.Time("at", at))
	log.Info("scheduled run starting")
	if err := s.run(ctx, at); err != nil {
		log.Error("scheduled run failed", zap.Error(err))
		return
	}
	log.Info("scheduled run finished", zap.Duration("took", time.Since(at)))
}

// cronLogger routes cron's own messages through zap.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
