package validity

import (
	"time"

	"assetrules/internal/recurrence"
)

// Mutations translate single-field editor edits into consistent updates of
// the calendar event and, when present, the recurrence rule. After every
// mutation the serialized Recurrence field matches the parsed rule, and the
// event start remains the series anchor.

// sync re-serializes the recurrence rule into the event.
func (w *Window) sync() {
	if w.rule != nil {
		w.event.Recurrence = w.rule.String()
	} else {
		w.event.Recurrence = ""
	}
}

// SetStart moves the window start, shifting the end by the same amount to
// preserve the window duration. The start is also the recurrence anchor, so
// no rule field needs touching.
func (w *Window) SetStart(start time.Time) {
	dur := w.event.End.Sub(w.event.Start)
	w.event.Start = start
	w.event.End = start.Add(dur)
}

// SetEnd sets the window end. An end before the start is accepted: plain
// windows become inactive, recurring windows treat the span as crossing
// midnight (see IsActive).
func (w *Window) SetEnd(end time.Time) {
	w.event.End = end
}

// SetAllDay widens the window to 00:00-23:59 of the current start/end dates.
// Disabling all-day leaves the times untouched for the caller to refine.
func (w *Window) SetAllDay(allDay bool) {
	if !allDay {
		return
	}
	s, e := w.event.Start, w.event.End
	w.event.Start = time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, s.Location())
	w.event.End = time.Date(e.Year(), e.Month(), e.Day(), 23, 59, 0, 0, e.Location())
}

// SetRecurring attaches (or replaces) the recurrence rule.
func (w *Window) SetRecurring(rule recurrence.Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	w.rule = &rule
	w.sync()
	return nil
}

// ClearRecurring turns the window back into a single period.
func (w *Window) ClearRecurring() {
	w.rule = nil
	w.sync()
}

// SetNeverEnds drops any count/until bound.
func (w *Window) SetNeverEnds() error {
	if w.rule == nil {
		return ErrNotRecurring
	}
	w.rule.Count = 0
	w.rule.Until = time.Time{}
	w.sync()
	return nil
}

// SetUntil bounds the series by date, clearing any occurrence count. The
// bound is inclusive of the whole given day.
func (w *Window) SetUntil(date time.Time) error {
	if w.rule == nil {
		return ErrNotRecurring
	}
	w.rule.Count = 0
	w.rule.Until = time.Date(date.Year(), date.Month(), date.Day(), 23, 59, 59, 0, time.UTC)
	w.sync()
	return nil
}

// SetCount bounds the series by occurrence count, clearing any until date.
func (w *Window) SetCount(count int) error {
	if w.rule == nil {
		return ErrNotRecurring
	}
	prev := *w.rule
	w.rule.Until = time.Time{}
	w.rule.Count = count
	if err := w.rule.Validate(); err != nil {
		*w.rule = prev
		return err
	}
	w.sync()
	return nil
}

// SetByWeekday replaces the rule's weekday filter.
func (w *Window) SetByWeekday(days []recurrence.Weekday) error {
	if w.rule == nil {
		return ErrNotRecurring
	}
	prev := *w.rule
	w.rule.ByWeekday = days
	if err := w.rule.Validate(); err != nil {
		*w.rule = prev
		return err
	}
	w.sync()
	return nil
}

// SetFrequency replaces the repetition unit and interval.
func (w *Window) SetFrequency(freq recurrence.Frequency, interval int) error {
	if w.rule == nil {
		return ErrNotRecurring
	}
	prev := *w.rule
	w.rule.Frequency = freq
	w.rule.Interval = interval
	if err := w.rule.Validate(); err != nil {
		*w.rule = prev
		return err
	}
	w.sync()
	return nil
}
