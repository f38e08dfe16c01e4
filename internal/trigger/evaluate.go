package trigger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/volunteerhub/volunteerhub/pkg/recordstore"
)

// DefaultConditionPollInterval bounds how late a condition trigger can
// notice matching rows.
const DefaultConditionPollInterval = 5 * time.Minute

var ErrNotTimeTrigger = errors.New("not a time trigger")

// NextRun returns the first fire time of t strictly after now, evaluated
// in now's location. Monthly days past the end of a month clamp to the
// month's last day.
func NextRun(t Trigger, now time.Time) (time.Time, error) {
	if t.Kind != KindTime || t.Time == nil {
		return time.Time{}, ErrNotTimeTrigger
	}
	tt := t.Time

	if tt.Frequency == FrequencyCron {
		sched, err := cron.ParseStandard(tt.Cron)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", tt.Cron, err)
		}
		next := sched.Next(now)
		if next.IsZero() {
			return time.Time{}, fmt.Errorf("cron expression %q never fires", tt.Cron)
		}
		return next, nil
	}

	hour, minute, err := parseClock(tt.At)
	if err != nil {
		return time.Time{}, err
	}
	loc := now.Location()
	y, m, d := now.Date()
	at := func(y int, m time.Month, d int) time.Time {
		return time.Date(y, m, d, hour, minute, 0, 0, loc)
	}

	switch tt.Frequency {
	case FrequencyDaily:
		next := at(y, m, d)
		if !next.After(now) {
			next = at(y, m, d+1)
		}
		return next, nil

	case FrequencyWeekly:
		if tt.DayOfWeek == nil || *tt.DayOfWeek < 0 || *tt.DayOfWeek > 6 {
			return time.Time{}, errors.New("weekly trigger needs day_of_week between 0 and 6")
		}
		ahead := (*tt.DayOfWeek - int(now.Weekday()) + 7) % 7
		next := at(y, m, d+ahead)
		if !next.After(now) {
			next = at(y, m, d+ahead+7)
		}
		return next, nil

	case FrequencyMonthly:
		if tt.DayOfMonth == nil || *tt.DayOfMonth < 1 || *tt.DayOfMonth > 31 {
			return time.Time{}, errors.New("monthly trigger needs day_of_month between 1 and 31")
		}
		dom := *tt.DayOfMonth
		next := at(y, m, min(dom, daysIn(y, m, loc)))
		if !next.After(now) {
			// time.Date normalises month 13 into January of the next year.
			ny, nm, _ := time.Date(y, m+1, 1, 0, 0, 0, 0, loc).Date()
			next = at(ny, nm, min(dom, daysIn(ny, nm, loc)))
		}
		return next, nil
	}
	return time.Time{}, fmt.Errorf("unknown frequency %q", tt.Frequency)
}

// Upcoming returns the next n fire times of t after now.
func Upcoming(t Trigger, now time.Time, n int) ([]time.Time, error) {
	runs := make([]time.Time, 0, n)
	for range n {
		next, err := NextRun(t, now)
		if err != nil {
			return nil, err
		}
		runs = append(runs, next)
		now = next
	}
	return runs, nil
}

func daysIn(y int, m time.Month, loc *time.Location) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, loc).Day()
}

// MatchEvent reports whether an event named name with payload starts t.
// Every condition key must be present in the payload with an equal value;
// there is no wildcard or partial matching.
func MatchEvent(t Trigger, name string, payload map[string]any) bool {
	if t.Kind != KindEvent || t.Event == nil {
		return false
	}
	return t.Event.Name == name && recordstore.Matches(payload, t.Event.Conditions)
}

// Counter is the part of the record store a condition trigger needs.
type Counter interface {
	Count(ctx context.Context, table string, filter recordstore.Filter) (int, error)
}

// ConditionMet reports whether any row matches the condition.
func ConditionMet(ctx context.Context, counter Counter, t Trigger) (bool, error) {
	if t.Kind != KindCondition || t.Condition == nil {
		return false, errors.New("not a condition trigger")
	}
	n, err := counter.Count(ctx, t.Condition.Table, recordstore.Filter(t.Condition.Filter))
	if err != nil {
		return false, fmt.Errorf("count %s: %w", t.Condition.Table, err)
	}
	return n > 0, nil
}
