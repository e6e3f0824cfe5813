package validity

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assetrules/internal/recurrence"
)

// 2025-01-06 is a Monday.
func monday(hour, min int) time.Time {
	return time.Date(2025, 1, 6, hour, min, 0, 0, time.UTC)
}

func mustWindow(t *testing.T, event CalendarEvent) *Window {
	t.Helper()
	w, err := NewWindow(event)
	require.NoError(t, err)
	return w
}

func TestPlainWindowIsActive(t *testing.T) {
	w := mustWindow(t, CalendarEvent{Start: monday(9, 0), End: monday(17, 0)})

	assert.False(t, w.Recurring())
	assert.False(t, w.IsActive(monday(8, 59)))
	assert.True(t, w.IsActive(monday(9, 0)))
	assert.True(t, w.IsActive(monday(12, 0)))
	assert.False(t, w.IsActive(monday(17, 0)), "the end instant is exclusive")
}

func TestPlainInvertedWindowNeverActive(t *testing.T) {
	w := mustWindow(t, CalendarEvent{Start: monday(17, 0), End: monday(9, 0)})
	assert.False(t, w.IsActive(monday(12, 0)))
	assert.False(t, w.IsActive(monday(18, 0)))
}

func TestAllDayWindowCoversFinalMinute(t *testing.T) {
	w := mustWindow(t, CalendarEvent{Start: monday(0, 0), End: monday(23, 59)})

	assert.True(t, w.IsActive(monday(0, 0)))
	assert.True(t, w.IsActive(time.Date(2025, 1, 6, 23, 59, 30, 0, time.UTC)))
	assert.False(t, w.IsActive(time.Date(2025, 1, 7, 0, 0, 0, 0, time.UTC)))
}

func TestRecurringWeeklyWindow(t *testing.T) {
	w := mustWindow(t, CalendarEvent{
		Start:      monday(9, 0),
		End:        monday(17, 0),
		Recurrence: "FREQ=WEEKLY;BYDAY=MO,WE",
	})
	require.True(t, w.Recurring())

	tests := []struct {
		at   time.Time
		want bool
	}{
		{monday(10, 0), true},
		{time.Date(2025, 1, 8, 10, 0, 0, 0, time.UTC), true},   // Wednesday
		{time.Date(2025, 1, 13, 10, 0, 0, 0, time.UTC), true},  // next Monday
		{time.Date(2025, 1, 14, 10, 0, 0, 0, time.UTC), false}, // Tuesday
		{time.Date(2025, 1, 13, 20, 0, 0, 0, time.UTC), false}, // Monday, after hours
		{time.Date(2025, 1, 13, 8, 59, 0, 0, time.UTC), false}, // Monday, before hours
		{monday(8, 0), false},                                  // before the series anchor
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, w.IsActive(tt.at), "at %s", tt.at)
	}
}

func TestRecurringAllDayWindow(t *testing.T) {
	w := mustWindow(t, CalendarEvent{
		Start:      monday(0, 0),
		End:        monday(23, 59),
		Recurrence: "FREQ=DAILY",
	})

	assert.True(t, w.IsActive(time.Date(2025, 1, 8, 23, 59, 30, 0, time.UTC)))
	assert.True(t, w.IsActive(time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)))
}

func TestRecurringMidnightCrossingWindow(t *testing.T) {
	// 22:00 to 06:00 runs into the next calendar day.
	w := mustWindow(t, CalendarEvent{
		Start:      monday(22, 0),
		End:        monday(6, 0),
		Recurrence: "FREQ=DAILY",
	})

	assert.True(t, w.IsActive(monday(23, 0)))
	assert.True(t, w.IsActive(time.Date(2025, 1, 7, 2, 0, 0, 0, time.UTC)))
	assert.False(t, w.IsActive(time.Date(2025, 1, 7, 6, 0, 0, 0, time.UTC)))
	assert.False(t, w.IsActive(time.Date(2025, 1, 7, 12, 0, 0, 0, time.UTC)))
}

func TestRecurringBoundedWindow(t *testing.T) {
	w := mustWindow(t, CalendarEvent{
		Start:      monday(9, 0),
		End:        monday(17, 0),
		Recurrence: "FREQ=DAILY;COUNT=3",
	})

	assert.True(t, w.IsActive(time.Date(2025, 1, 8, 10, 0, 0, 0, time.UTC)))
	assert.False(t, w.IsActive(time.Date(2025, 1, 9, 10, 0, 0, 0, time.UTC)), "series exhausted after three occurrences")
}

func TestNewWindowRejectsMalformedRecurrence(t *testing.T) {
	_, err := NewWindow(CalendarEvent{
		Start:      monday(9, 0),
		End:        monday(17, 0),
		Recurrence: "FREQ=DAILY;INTERVAL=0",
	})
	assert.ErrorIs(t, err, recurrence.ErrInvalidRecurrence)
}

func TestMutationsKeepRecurrenceStringConsistent(t *testing.T) {
	w := mustWindow(t, CalendarEvent{
		Start:      monday(9, 0),
		End:        monday(17, 0),
		Recurrence: "FREQ=WEEKLY;BYDAY=MO,WE",
	})

	require.NoError(t, w.SetCount(5))
	assert.Equal(t, "FREQ=WEEKLY;BYDAY=MO,WE;COUNT=5", w.Event().Recurrence)

	require.NoError(t, w.SetUntil(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)))
	rule, ok := w.Rule()
	require.True(t, ok)
	assert.Zero(t, rule.Count, "an until bound clears the count")
	assert.Equal(t, "FREQ=WEEKLY;BYDAY=MO,WE;UNTIL=20250301T235959Z", w.Event().Recurrence)

	require.NoError(t, w.SetNeverEnds())
	assert.Equal(t, "FREQ=WEEKLY;BYDAY=MO,WE", w.Event().Recurrence)

	require.NoError(t, w.SetFrequency(recurrence.Daily, 2))
	assert.Equal(t, "FREQ=DAILY;INTERVAL=2;BYDAY=MO,WE", w.Event().Recurrence)

	w.ClearRecurring()
	assert.Empty(t, w.Event().Recurrence)
	assert.False(t, w.Recurring())
}

func TestFailedMutationLeavesRuleIntact(t *testing.T) {
	w := mustWindow(t, CalendarEvent{
		Start:      monday(9, 0),
		End:        monday(17, 0),
		Recurrence: "FREQ=DAILY;COUNT=3",
	})

	assert.Error(t, w.SetCount(-1))
	assert.Equal(t, "FREQ=DAILY;COUNT=3", w.Event().Recurrence)

	assert.Error(t, w.SetFrequency(recurrence.Daily, 0))
	assert.Equal(t, "FREQ=DAILY;COUNT=3", w.Event().Recurrence)
}

func TestRecurrenceMutationsOnPlainWindow(t *testing.T) {
	w := mustWindow(t, CalendarEvent{Start: monday(9, 0), End: monday(17, 0)})

	assert.ErrorIs(t, w.SetNeverEnds(), ErrNotRecurring)
	assert.ErrorIs(t, w.SetCount(3), ErrNotRecurring)
	assert.ErrorIs(t, w.SetUntil(monday(0, 0)), ErrNotRecurring)
	assert.ErrorIs(t, w.SetByWeekday(nil), ErrNotRecurring)
	assert.ErrorIs(t, w.SetFrequency(recurrence.Daily, 1), ErrNotRecurring)

	rule := recurrence.New(recurrence.Daily)
	require.NoError(t, w.SetRecurring(rule))
	assert.Equal(t, "FREQ=DAILY", w.Event().Recurrence)
}

func TestSetStartPreservesDuration(t *testing.T) {
	w := mustWindow(t, CalendarEvent{Start: monday(9, 0), End: monday(17, 0)})

	w.SetStart(time.Date(2025, 1, 7, 10, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2025, 1, 7, 18, 0, 0, 0, time.UTC), w.Event().End)
}

func TestSetAllDay(t *testing.T) {
	w := mustWindow(t, CalendarEvent{Start: monday(9, 0), End: monday(17, 0)})

	w.SetAllDay(true)
	assert.Equal(t, monday(0, 0), w.Event().Start)
	assert.Equal(t, monday(23, 59), w.Event().End)

	w.SetAllDay(false)
	assert.Equal(t, monday(0, 0), w.Event().Start, "disabling all-day leaves the times untouched")
}

func TestCalendarEventJSON(t *testing.T) {
	event := CalendarEvent{
		Start:      monday(9, 0),
		End:        monday(17, 0),
		Recurrence: "FREQ=DAILY",
	}
	data, err := json.Marshal(event)
	require.NoError(t, err)
	assert.JSONEq(t, `{"start":1736154000000,"end":1736182800000,"recurrence":"FREQ=DAILY"}`, string(data))

	var back CalendarEvent
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, event, back)
}

func TestDescribe(t *testing.T) {
	plain := mustWindow(t, CalendarEvent{Start: monday(9, 0), End: monday(17, 0)})
	assert.Equal(t, "from 2025-01-06 09:00 to 2025-01-06 17:00", plain.Describe())

	timed := mustWindow(t, CalendarEvent{
		Start:      monday(9, 0),
		End:        monday(17, 0),
		Recurrence: "FREQ=WEEKLY;BYDAY=MO,WE",
	})
	assert.Equal(t, "every week on Mon, Wed from 09:00 to 17:00", timed.Describe())

	allDay := mustWindow(t, CalendarEvent{
		Start:      monday(0, 0),
		End:        monday(23, 59),
		Recurrence: "FREQ=DAILY",
	})
	assert.Equal(t, "every day all day", allDay.Describe())

	multiDay := mustWindow(t, CalendarEvent{
		Start:      monday(9, 0),
		End:        time.Date(2025, 1, 8, 17, 0, 0, 0, time.UTC),
		Recurrence: "FREQ=WEEKLY",
	})
	assert.Equal(t, "every week from 09:00 to 17:00 over 3 days", multiDay.Describe())
}
