// Package schedule maps the digest period onto a cron schedule and runs it.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ryosukesatoh/social-digest/internal/logger"
)

// ErrInvalidPeriod is returned for non-positive or non-finite periods.
var ErrInvalidPeriod = errors.New("schedule: period must be a positive number of hours")

// CronExpression derives the cron expression for a period given in hours.
func CronExpression(hours float64) (string, error) {
	if hours <= 0 || math.IsNaN(hours) || math.IsInf(hours, 0) {
		return "", fmt.Errorf("%w, got %v", ErrInvalidPeriod, hours)
	}

	switch {
	case hours < 1:
		minutes := max(int(math.Round(hours*60)), 1)
		return fmt.Sprintf("*/%d * * * *", minutes), nil
	case hours == 24:
		return "0 0 * * *", nil
	case hours == 168:
		return "0 0 * * 0", nil
	case hours == math.Trunc(hours) && hours < 24:
		return fmt.Sprintf("0 */%d * * *", int(hours)), nil
	default:
		return "@every " + time.Duration(hours*float64(time.Hour)).String(), nil
	}
}

// Scheduler runs jobs on cron schedules. A job never starts while its
// previous execution is still running, and a panicking job is logged.
type Scheduler struct {
	cron     *cron.Cron
	wrappers []cron.JobWrapper
	log      logger.Logger
}

func New(log logger.Logger) *Scheduler {
	cl := cronLogger{log: log}
	wrappers := []cron.JobWrapper{cron.Recover(cl), cron.SkipIfStillRunning(cl)}
	return &Scheduler{
		cron:     cron.New(cron.WithChain(wrappers...), cron.WithLogger(cl)),
		wrappers: wrappers,
		log:      log,
	}
}

// Add registers job under a standard five-field expression or descriptor.
func (s *Scheduler) Add(spec string, job func()) error {
	if _, err := s.cron.AddFunc(spec, job); err != nil {
		return fmt.Errorf("schedule: invalid expression %q: %w", spec, err)
	}
	s.log.Info("Scheduled job", logger.String("cron", spec))
	return nil
}

// Next returns the next activation time, or zero when nothing is scheduled.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	next := entries[0].Next
	for _, e := range entries[1:] {
		if e.Next.Before(next) {
			next = e.Next
		}
	}
	return next
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts new activations. The returned context is done once running
// jobs have returned.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// cronLogger adapts logger.Logger to cron.Logger.
type cronLogger struct {
	log logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logger.Error(err))...)
}

func kvFields(keysAndValues []any) []logger.Field {
	fields := make([]logger.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprint(keysAndValues[i])
		}
		fields = append(fields, logger.Any(key, keysAndValues[i+1]))
	}
	return fields
}
