package recurrence

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"
)

var rruleFrequencies = map[Frequency]rrule.Frequency{
	Secondly: rrule.SECONDLY,
	Minutely: rrule.MINUTELY,
	Hourly:   rrule.HOURLY,
	Daily:    rrule.DAILY,
	Weekly:   rrule.WEEKLY,
	Monthly:  rrule.MONTHLY,
	Yearly:   rrule.YEARLY,
}

var rruleWeekdays = map[time.Weekday]rrule.Weekday{
	time.Monday:    rrule.MO,
	time.Tuesday:   rrule.TU,
	time.Wednesday: rrule.WE,
	time.Thursday:  rrule.TH,
	time.Friday:    rrule.FR,
	time.Saturday:  rrule.SA,
	time.Sunday:    rrule.SU,
}

// compile expands the rule into an rrule iterator anchored at dtstart.
// Occurrences carry dtstart's time of day.
func (r Rule) compile(dtstart time.Time) (*rrule.RRule, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	opt := rrule.ROption{
		Freq:     rruleFrequencies[r.Frequency],
		Dtstart:  dtstart,
		Interval: r.Interval,
		Count:    r.Count,
		Until:    r.Until,
		Wkst:     rruleWeekdays[r.WeekStart],
	}
	withOffsets := r.Frequency == Monthly || r.Frequency == Yearly
	for _, wd := range r.ByWeekday {
		day := rruleWeekdays[wd.Day]
		// Ordinal offsets are only meaningful for monthly/yearly series;
		// for other frequencies the plain weekday applies.
		if withOffsets && wd.Offset != 0 {
			day = day.Nth(wd.Offset)
		}
		opt.Byweekday = append(opt.Byweekday, day)
	}
	for _, m := range r.ByMonth {
		opt.Bymonth = append(opt.Bymonth, int(m))
	}
	rr, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecurrence, err)
	}
	return rr, nil
}

// NextOccurrence returns the next occurrence at or after the given instant.
// When after precedes dtstart the first occurrence of the series is
// returned. ok is false when the bounded series is exhausted.
func (r Rule) NextOccurrence(dtstart, after time.Time) (next time.Time, ok bool, err error) {
	rr, err := r.compile(dtstart)
	if err != nil {
		return time.Time{}, false, err
	}
	if after.Before(dtstart) {
		after = dtstart
	}
	next = rr.After(after, true)
	if next.IsZero() {
		return time.Time{}, false, nil
	}
	return next, true, nil
}

// LastOccurrenceBefore returns the latest occurrence at or before the given
// instant; ok is false when no occurrence has happened yet.
func (r Rule) LastOccurrenceBefore(dtstart, t time.Time) (occ time.Time, ok bool, err error) {
	rr, err := r.compile(dtstart)
	if err != nil {
		return time.Time{}, false, err
	}
	occ = rr.Before(t, true)
	if occ.IsZero() {
		return time.Time{}, false, nil
	}
	return occ, true, nil
}

// IsActiveAt reports whether t's calendar date (in dtstart's location) falls
// on an occurrence of the series, honouring the count/until bound.
func (r Rule) IsActiveAt(dtstart, t time.Time) (bool, error) {
	rr, err := r.compile(dtstart)
	if err != nil {
		return false, err
	}
	local := t.In(dtstart.Location())
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, dtstart.Location())
	dayEnd := dayStart.AddDate(0, 0, 1).Add(-time.Nanosecond)
	return len(rr.Between(dayStart, dayEnd, true)) > 0, nil
}
