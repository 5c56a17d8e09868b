package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrSchedule reports a trigger that cannot be computed.
var ErrSchedule = errors.New("scheduling error")

// Trigger modes for continuous operation.
const (
	ModeInterval = "interval"
	ModeDaily    = "daily"
	ModeCron     = "cron"
)

// Trigger describes when the next cycle starts.
type Trigger struct {
	Mode     string
	Interval time.Duration // interval: delay from the start of the last run
	Hour     int           // daily: local wall clock
	Minute   int
	Cron     string // cron: standard 5-field expression
	Location *time.Location
}

// NextTrigger returns the start time of the next cycle. lastRun is the start
// of the previous cycle, zero if none ran yet. The result is never before now.
func NextTrigger(now time.Time, t Trigger, lastRun time.Time) (time.Time, error) {
	loc := t.Location
	if loc == nil {
		loc = time.Local
	}
	switch t.Mode {
	case ModeInterval:
		if t.Interval <= 0 {
			return time.Time{}, fmt.Errorf("%w: interval must be positive, got %s", ErrSchedule, t.Interval)
		}
		if lastRun.IsZero() {
			return now, nil
		}
		next := lastRun.Add(t.Interval)
		if next.Before(now) {
			return now, nil
		}
		return next, nil
	case ModeDaily:
		if t.Hour < 0 || t.Hour > 23 || t.Minute < 0 || t.Minute > 59 {
			return time.Time{}, fmt.Errorf("%w: invalid time of day %02d:%02d", ErrSchedule, t.Hour, t.Minute)
		}
		return nextCron(fmt.Sprintf("%d %d * * *", t.Minute, t.Hour), now.In(loc))
	case ModeCron:
		return nextCron(t.Cron, now.In(loc))
	default:
		return time.Time{}, fmt.Errorf("%w: unknown mode %q", ErrSchedule, t.Mode)
	}
}

func nextCron(expr string, now time.Time) (time.Time, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrSchedule, err)
	}
	next := sched.Next(now)
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("%w: %q never fires", ErrSchedule, expr)
	}
	return next, nil
}
