// Package recurrence implements the iCalendar-style recurrence rules that
// bound ruleset validity windows: parsing and serializing the rule grammar,
// occurrence queries and human-readable rendering.
package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Frequency is the base repetition unit of a rule.
type Frequency string

const (
	Secondly Frequency = "SECONDLY"
	Minutely Frequency = "MINUTELY"
	Hourly   Frequency = "HOURLY"
	Daily    Frequency = "DAILY"
	Weekly   Frequency = "WEEKLY"
	Monthly  Frequency = "MONTHLY"
	Yearly   Frequency = "YEARLY"
)

// ErrInvalidRecurrence marks malformed rule strings and illegal field
// combinations. Construction fails fast; a Rule that validates is usable.
var ErrInvalidRecurrence = errors.New("invalid recurrence rule")

// Weekday is a by-weekday entry with an optional ordinal offset ("first
// Monday" = offset 1, "last Friday" = offset -1). Offsets only take effect
// for MONTHLY and YEARLY frequencies; elsewhere they are ignored.
type Weekday struct {
	Day    time.Weekday
	Offset int
}

// Rule describes a repeating schedule. Count and Until are mutually
// exclusive; both absent means the series never ends. The zero value is not
// valid; use New or Parse.
type Rule struct {
	Frequency Frequency
	Interval  int
	Count     int       // 0 = unset
	Until     time.Time // zero = unset
	ByWeekday []Weekday
	ByMonth   []time.Month
	WeekStart time.Weekday
}

// New returns an unbounded rule with the given frequency and defaults
// (interval 1, week starts Monday).
func New(freq Frequency) Rule {
	return Rule{Frequency: freq, Interval: 1, WeekStart: time.Monday}
}

// Validate checks the rule invariants.
func (r Rule) Validate() error {
	switch r.Frequency {
	case Secondly, Minutely, Hourly, Daily, Weekly, Monthly, Yearly:
	default:
		return fmt.Errorf("%w: unknown frequency %q", ErrInvalidRecurrence, r.Frequency)
	}
	if r.Interval < 1 {
		return fmt.Errorf("%w: interval must be >= 1, got %d", ErrInvalidRecurrence, r.Interval)
	}
	if r.Count < 0 {
		return fmt.Errorf("%w: count must be positive, got %d", ErrInvalidRecurrence, r.Count)
	}
	if r.Count > 0 && !r.Until.IsZero() {
		return fmt.Errorf("%w: count and until are mutually exclusive", ErrInvalidRecurrence)
	}
	for _, m := range r.ByMonth {
		if m < time.January || m > time.December {
			return fmt.Errorf("%w: month %d out of range", ErrInvalidRecurrence, m)
		}
	}
	for _, wd := range r.ByWeekday {
		if wd.Offset < -53 || wd.Offset > 53 {
			return fmt.Errorf("%w: weekday offset %d out of range", ErrInvalidRecurrence, wd.Offset)
		}
	}
	return nil
}

// Bounded reports whether the series terminates via count or until.
func (r Rule) Bounded() bool {
	return r.Count > 0 || !r.Until.IsZero()
}

var frequencyUnits = map[Frequency]string{
	Secondly: "second",
	Minutely: "minute",
	Hourly:   "hour",
	Daily:    "day",
	Weekly:   "week",
	Monthly:  "month",
	Yearly:   "year",
}

// HumanText renders a structured description from independently omissible
// clauses, e.g. "every 2 weeks on Mon, Wed until 2025-01-01".
func (r Rule) HumanText() string {
	var b strings.Builder
	unit := frequencyUnits[r.Frequency]
	if unit == "" {
		unit = strings.ToLower(string(r.Frequency))
	}
	if r.Interval > 1 {
		fmt.Fprintf(&b, "every %d %ss", r.Interval, unit)
	} else {
		fmt.Fprintf(&b, "every %s", unit)
	}
	if len(r.ByWeekday) > 0 {
		days := make([]string, len(r.ByWeekday))
		withOffsets := r.Frequency == Monthly || r.Frequency == Yearly
		for i, wd := range r.ByWeekday {
			days[i] = wd.describe(withOffsets)
		}
		fmt.Fprintf(&b, " on %s", strings.Join(days, ", "))
	}
	if len(r.ByMonth) > 0 {
		months := make([]string, len(r.ByMonth))
		for i, m := range r.ByMonth {
			months[i] = m.String()[:3]
		}
		fmt.Fprintf(&b, " in %s", strings.Join(months, ", "))
	}
	switch {
	case r.Count > 0:
		fmt.Fprintf(&b, " for %d times", r.Count)
	case !r.Until.IsZero():
		fmt.Fprintf(&b, " until %s", r.Until.Format("2006-01-02"))
	}
	return b.String()
}

func (wd Weekday) describe(withOffset bool) string {
	name := wd.Day.String()[:3]
	if !withOffset || wd.Offset == 0 {
		return name
	}
	if wd.Offset == -1 {
		return "last " + name
	}
	if wd.Offset < 0 {
		return fmt.Sprintf("%s-to-last %s", ordinal(-wd.Offset), name)
	}
	return fmt.Sprintf("%s %s", ordinal(wd.Offset), name)
}

func ordinal(n int) string {
	switch n {
	case 1:
		return "1st"
	case 2:
		return "2nd"
	case 3:
		return "3rd"
	default:
		return fmt.Sprintf("%dth", n)
	}
}
