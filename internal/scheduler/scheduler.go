// Package scheduler runs the report on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Job is one scheduled run.
type Job func(ctx context.Context) error

// Scheduler wraps a cron instance running a single job. A run that is still
// going when the next one is due causes that next one to be skipped.
type Scheduler struct {
	cron *cron.Cron
	spec string
	log  *logrus.Entry

	// ctx is set by Run before the cron goroutine starts.
	ctx context.Context
}

// New parses spec (standard five-field syntax or descriptors such as
// "@weekly") in the given IANA timezone, empty meaning local time.
func New(spec, timezone string, job Job, log *logrus.Entry) (*Scheduler, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("component", "scheduler")

	loc := time.Local
	if timezone != "" {
		l, err := time.LoadLocation(timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", timezone, err)
		}
		loc = l
	}

	logger := cronLogger{log: log}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	s := &Scheduler{cron: c, spec: spec, log: log, ctx: context.Background()}
	if _, err := c.AddFunc(spec, s.wrap(job)); err != nil {
		return nil, fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) wrap(job Job) func() {
	return func() {
		ctx := s.ctx
		if ctx.Err() != nil {
			return
		}
		s.log.Info("⏰ Scheduled run starting")
		if err := job(ctx); err != nil {
			s.log.WithError(err).Error("Scheduled run failed")
			return
		}
		s.log.Info("Scheduled run finished")
	}
}

// Next returns the next activation time, or the zero time before Run.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// Run starts the schedule and blocks until ctx is cancelled. It then waits
// for a running job to finish before returning.
func (s *Scheduler) Run(ctx context.Context) error {
	s.ctx = ctx
	s.cron.Start()
	s.log.WithFields(logrus.Fields{"spec": s.spec, "next": s.Next()}).Info("📅 Scheduler started")

	<-ctx.Done()

	s.log.Info("Stopping scheduler, waiting for running job")
	<-s.cron.Stop().Done()
	return nil
}

// cronLogger adapts logrus to cron.Logger.
type cronLogger struct {
	log *logrus.Entry
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithFields(fields(keysAndValues)).WithError(err).Error(msg)
}

func fields(kv []interface{}) logrus.Fields {
	f := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		f[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return f
}
