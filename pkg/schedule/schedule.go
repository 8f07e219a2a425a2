package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule computes the next run after a given time.
type Schedule interface {
	Next(from time.Time) time.Time
}

// everySchedule runs at fixed intervals.
type everySchedule struct {
	interval time.Duration
}

// Every creates a schedule that runs at fixed intervals.
func Every(d time.Duration) Schedule {
	return &everySchedule{interval: d}
}

func (s *everySchedule) Next(from time.Time) time.Time {
	return from.Add(s.interval)
}

// cronSchedule wraps a cron expression evaluated in a fixed location.
type cronSchedule struct {
	schedule cron.Schedule
	loc      *time.Location
}

// parser accepts five fields, an optional leading seconds field, and
// descriptors such as @hourly.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Cron parses a cron expression. tz names an IANA zone; empty means UTC.
func Cron(expr, tz string) (Schedule, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("schedule: invalid cron expression %q: %w", expr, err)
	}
	loc := time.UTC
	if tz != "" {
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("schedule: invalid timezone %q: %w", tz, err)
		}
	}
	return &cronSchedule{schedule: sched, loc: loc}, nil
}

func (s *cronSchedule) Next(from time.Time) time.Time {
	return s.schedule.Next(from.In(s.loc))
}

// ErrNoSchedule is returned when a repeat entry has neither pattern nor interval.
var ErrNoSchedule = errors.New("schedule: no pattern or interval")

// NextRun returns the next firing of a repeat entry. A pattern takes
// precedence over an interval.
func NextRun(pattern string, every time.Duration, tz string, from time.Time) (time.Time, error) {
	switch {
	case pattern != "":
		s, err := Cron(pattern, tz)
		if err != nil {
			return time.Time{}, err
		}
		return s.Next(from), nil
	case every > 0:
		// Interval repeats fire on multiples of the interval since the epoch.
		next := from.Truncate(every).Add(every)
		return next, nil
	}
	return time.Time{}, ErrNoSchedule
}
