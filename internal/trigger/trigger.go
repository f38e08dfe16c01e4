// Package trigger defines the three ways a workflow can be started and
// evaluates them: time triggers compute their next fire time, event
// triggers match published events, condition triggers probe the record
// store.
package trigger

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/volunteerhub/volunteerhub/pkg/cerr"
	"github.com/volunteerhub/volunteerhub/pkg/recordstore"
)

type Kind string

const (
	KindTime      Kind = "time"
	KindEvent     Kind = "event"
	KindCondition Kind = "condition"
	// KindManual marks firings requested through RunWorkflow. It is never
	// stored on a workflow.
	KindManual Kind = "manual"
)

type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyCron    Frequency = "cron"
)

// Trigger is a tagged variant: exactly one of Time, Event and Condition is
// set, matching Kind.
type Trigger struct {
	Kind      Kind       `yaml:"kind" json:"kind"`
	Time      *Time      `yaml:"time,omitempty" json:"time,omitempty"`
	Event     *Event     `yaml:"event,omitempty" json:"event,omitempty"`
	Condition *Condition `yaml:"condition,omitempty" json:"condition,omitempty"`
}

type Time struct {
	Frequency Frequency `yaml:"frequency" json:"frequency"`
	// At is the local time of day, HH:MM. Unused for cron.
	At string `yaml:"time,omitempty" json:"time,omitempty"`
	// DayOfWeek is 0 (Sunday) through 6, weekly only.
	DayOfWeek *int `yaml:"day_of_week,omitempty" json:"day_of_week,omitempty"`
	// DayOfMonth is 1 through 31, monthly only.
	DayOfMonth *int   `yaml:"day_of_month,omitempty" json:"day_of_month,omitempty"`
	Cron       string `yaml:"cron,omitempty" json:"cron,omitempty"`
}

type Event struct {
	Name       string         `yaml:"name" json:"name"`
	Conditions map[string]any `yaml:"conditions,omitempty" json:"conditions,omitempty"`
}

type Condition struct {
	Table  string         `yaml:"table" json:"table"`
	Filter map[string]any `yaml:"filter,omitempty" json:"filter,omitempty"`
}

func NewDaily(at string) Trigger {
	return Trigger{Kind: KindTime, Time: &Time{Frequency: FrequencyDaily, At: at}}
}

func NewWeekly(dayOfWeek int, at string) Trigger {
	return Trigger{Kind: KindTime, Time: &Time{Frequency: FrequencyWeekly, At: at, DayOfWeek: &dayOfWeek}}
}

func NewMonthly(dayOfMonth int, at string) Trigger {
	return Trigger{Kind: KindTime, Time: &Time{Frequency: FrequencyMonthly, At: at, DayOfMonth: &dayOfMonth}}
}

func NewCron(expr string) Trigger {
	return Trigger{Kind: KindTime, Time: &Time{Frequency: FrequencyCron, Cron: expr}}
}

func NewEvent(name string, conditions map[string]any) Trigger {
	return Trigger{Kind: KindEvent, Event: &Event{Name: name, Conditions: conditions}}
}

func NewCondition(table string, filter map[string]any) Trigger {
	return Trigger{Kind: KindCondition, Condition: &Condition{Table: table, Filter: filter}}
}

// Violations lists every problem with t, with fields rooted at prefix
// (for example "triggers[2]"). A trigger without violations can be
// registered by the scheduler.
func (t Trigger) Violations(prefix string) []cerr.Violation {
	var vs []cerr.Violation
	add := func(field, rule, msg string) {
		vs = append(vs, cerr.Violation{Field: prefix + "." + field, Rule: rule, Message: msg})
	}

	set := 0
	for _, present := range []bool{t.Time != nil, t.Event != nil, t.Condition != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		add("kind", "trigger.one_variant", "exactly one of time, event or condition must be set")
		return vs
	}

	switch t.Kind {
	case KindTime:
		if t.Time == nil {
			add("time", "trigger.variant_mismatch", "time trigger requires a time block")
			return vs
		}
		vs = append(vs, t.Time.violations(prefix+".time")...)
	case KindEvent:
		if t.Event == nil {
			add("event", "trigger.variant_mismatch", "event trigger requires an event block")
			return vs
		}
		if strings.TrimSpace(t.Event.Name) == "" {
			add("event.name", "required", "event name is required")
		}
	case KindCondition:
		if t.Condition == nil {
			add("condition", "trigger.variant_mismatch", "condition trigger requires a condition block")
			return vs
		}
		if err := recordstore.ValidateIdentifier(t.Condition.Table); err != nil {
			add("condition.table", "identifier", err.Error())
		}
		for col := range t.Condition.Filter {
			if err := recordstore.ValidateIdentifier(col); err != nil {
				add("condition.filter", "identifier", err.Error())
			}
		}
	default:
		add("kind", "trigger.kind", fmt.Sprintf("unknown trigger kind %q", t.Kind))
	}
	return vs
}

func (t *Time) violations(prefix string) []cerr.Violation {
	var vs []cerr.Violation
	add := func(field, rule, msg string) {
		vs = append(vs, cerr.Violation{Field: prefix + "." + field, Rule: rule, Message: msg})
	}

	if t.Frequency == FrequencyCron {
		if _, err := cron.ParseStandard(t.Cron); err != nil {
			add("cron", "cron.parse", err.Error())
		}
		return vs
	}

	if _, _, err := parseClock(t.At); err != nil {
		add("time", "time.hhmm", err.Error())
	}
	switch t.Frequency {
	case FrequencyDaily:
	case FrequencyWeekly:
		if t.DayOfWeek == nil || *t.DayOfWeek < 0 || *t.DayOfWeek > 6 {
			add("day_of_week", "time.day_of_week", "weekly trigger needs day_of_week between 0 (Sunday) and 6")
		}
	case FrequencyMonthly:
		if t.DayOfMonth == nil || *t.DayOfMonth < 1 || *t.DayOfMonth > 31 {
			add("day_of_month", "time.day_of_month", "monthly trigger needs day_of_month between 1 and 31")
		}
	default:
		add("frequency", "time.frequency", fmt.Sprintf("unknown frequency %q", t.Frequency))
	}
	return vs
}

// String renders t for logs and previews.
func (t Trigger) String() string {
	switch {
	case t.Kind == KindTime && t.Time != nil:
		tt := t.Time
		switch tt.Frequency {
		case FrequencyWeekly:
			if tt.DayOfWeek != nil {
				return fmt.Sprintf("weekly on day %d at %s", *tt.DayOfWeek, tt.At)
			}
		case FrequencyMonthly:
			if tt.DayOfMonth != nil {
				return fmt.Sprintf("monthly on day %d at %s", *tt.DayOfMonth, tt.At)
			}
		case FrequencyCron:
			return "cron " + tt.Cron
		}
		return string(tt.Frequency) + " at " + tt.At
	case t.Kind == KindEvent && t.Event != nil:
		return "on event " + t.Event.Name
	case t.Kind == KindCondition && t.Condition != nil:
		return "when rows exist in " + t.Condition.Table
	}
	return string(t.Kind)
}

func parseClock(at string) (hour, minute int, err error) {
	hh, mm, ok := strings.Cut(at, ":")
	if !ok || len(hh) != 2 || len(mm) != 2 {
		return 0, 0, fmt.Errorf("time %q is not HH:MM", at)
	}
	hour, err = strconv.Atoi(hh)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("time %q has an invalid hour", at)
	}
	minute, err = strconv.Atoi(mm)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("time %q has an invalid minute", at)
	}
	return hour, minute, nil
}
