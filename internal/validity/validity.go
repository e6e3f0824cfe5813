// Package validity decides whether a ruleset's calendar validity window is
// active at an instant, combining a base period with an optional recurrence
// rule, and keeps the two representations consistent under edits.
package validity

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"assetrules/internal/recurrence"
)

// ErrNotRecurring is returned by recurrence-only mutations on a plain window.
var ErrNotRecurring = errors.New("validity window has no recurrence rule")

// CalendarEvent is the persisted validity window: a start/end period and an
// optional recurrence rule string. The wire form uses epoch milliseconds.
type CalendarEvent struct {
	Start      time.Time
	End        time.Time
	Recurrence string
}

type calendarEventJSON struct {
	Start      int64  `json:"start"`
	End        int64  `json:"end"`
	Recurrence string `json:"recurrence,omitempty"`
}

func (e CalendarEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(calendarEventJSON{
		Start:      e.Start.UnixMilli(),
		End:        e.End.UnixMilli(),
		Recurrence: e.Recurrence,
	})
}

func (e *CalendarEvent) UnmarshalJSON(data []byte) error {
	var raw calendarEventJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.Start = time.UnixMilli(raw.Start).UTC()
	e.End = time.UnixMilli(raw.End).UTC()
	e.Recurrence = raw.Recurrence
	return nil
}

// Window evaluates and edits a calendar event. It owns the invariant that
// the event fields and the parsed recurrence rule stay mutually consistent
// after every mutation.
type Window struct {
	event CalendarEvent
	rule  *recurrence.Rule
}

// NewWindow parses the event's recurrence rule (when present) and fails fast
// on malformed rules.
func NewWindow(event CalendarEvent) (*Window, error) {
	w := &Window{event: event}
	if event.Recurrence != "" {
		rule, err := recurrence.Parse(event.Recurrence)
		if err != nil {
			return nil, err
		}
		w.rule = &rule
	}
	return w, nil
}

// Event returns the current calendar event.
func (w *Window) Event() CalendarEvent { return w.event }

// Rule returns a copy of the recurrence rule, or false for a plain window.
func (w *Window) Rule() (recurrence.Rule, bool) {
	if w.rule == nil {
		return recurrence.Rule{}, false
	}
	return *w.rule, true
}

// Recurring reports whether the window repeats.
func (w *Window) Recurring() bool { return w.rule != nil }

// IsActive reports whether t falls inside the window. A non-recurring
// inverted window (end before start) is permanently inactive, not an error.
// For recurring windows the occurrence span is the start-to-end duration: a
// span whose end time of day precedes its start crosses midnight into the
// next calendar day, and an end at 23:59 means end of day.
func (w *Window) IsActive(t time.Time) bool {
	start := w.event.Start
	end := endOfDayAdjusted(w.event.End)
	if w.rule == nil {
		return !t.Before(start) && t.Before(end)
	}
	dur := end.Sub(start)
	if dur <= 0 {
		// Day-crossing span: the window runs into the next calendar day.
		dur += 24 * time.Hour
	}
	occ, ok, err := w.rule.LastOccurrenceBefore(start, t)
	if err != nil || !ok {
		return false
	}
	return t.Sub(occ) < dur
}

// endOfDayAdjusted widens an end stamped 23:59 to the following midnight so
// the window covers the whole final minute of the day.
func endOfDayAdjusted(end time.Time) time.Time {
	if end.Hour() == 23 && end.Minute() == 59 {
		return time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, end.Location()).AddDate(0, 0, 1)
	}
	return end
}

// allDay reports whether the window covers whole days (00:00 to 23:59).
func (w *Window) allDay() bool {
	s, e := w.event.Start, w.event.End
	return s.Hour() == 0 && s.Minute() == 0 && e.Hour() == 23 && e.Minute() == 59
}

// Describe renders a human-readable description: an absolute range for plain
// windows, or the recurrence text plus the daily time span, with a duration
// suffix when one occurrence spans more than a day.
func (w *Window) Describe() string {
	if w.rule == nil {
		return fmt.Sprintf("from %s to %s",
			w.event.Start.Format("2006-01-02 15:04"),
			w.event.End.Format("2006-01-02 15:04"))
	}
	text := w.rule.HumanText()
	if w.allDay() {
		text += " all day"
	} else {
		text += fmt.Sprintf(" from %s to %s",
			w.event.Start.Format("15:04"), w.event.End.Format("15:04"))
	}
	if days := spanDays(w.event.Start, endOfDayAdjusted(w.event.End)); days > 1 {
		text += fmt.Sprintf(" over %d days", days)
	}
	return text
}

func spanDays(start, end time.Time) int {
	dur := end.Sub(start)
	if dur <= 0 {
		return 1
	}
	days := int(dur / (24 * time.Hour))
	if dur%(24*time.Hour) != 0 {
		days++
	}
	return days
}
