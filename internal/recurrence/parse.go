package recurrence

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var weekdayTokens = map[string]time.Weekday{
	"MO": time.Monday,
	"TU": time.Tuesday,
	"WE": time.Wednesday,
	"TH": time.Thursday,
	"FR": time.Friday,
	"SA": time.Saturday,
	"SU": time.Sunday,
}

var weekdayNames = map[time.Weekday]string{
	time.Monday:    "MO",
	time.Tuesday:   "TU",
	time.Wednesday: "WE",
	time.Thursday:  "TH",
	time.Friday:    "FR",
	time.Saturday:  "SA",
	time.Sunday:    "SU",
}

var bydayPattern = regexp.MustCompile(`^([+-]?\d{1,2})?(MO|TU|WE|TH|FR|SA|SU)$`)

// Parse decodes the canonical recurrence grammar
// (FREQ=...;INTERVAL=...;BYDAY=...;COUNT=...|UNTIL=...). An optional
// "RRULE:" prefix is tolerated. Malformed parts, non-positive intervals and
// COUNT together with UNTIL fail with ErrInvalidRecurrence; no partial rule
// is ever returned.
func Parse(s string) (Rule, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "RRULE:")
	if s == "" {
		return Rule{}, fmt.Errorf("%w: empty rule string", ErrInvalidRecurrence)
	}
	r := Rule{Interval: 1, WeekStart: time.Monday}
	seenFreq := false
	for _, part := range strings.Split(s, ";") {
		if part == "" {
			continue
		}
		key, value, found := strings.Cut(part, "=")
		if !found || value == "" {
			return Rule{}, fmt.Errorf("%w: malformed part %q", ErrInvalidRecurrence, part)
		}
		switch strings.ToUpper(key) {
		case "FREQ":
			r.Frequency = Frequency(strings.ToUpper(value))
			seenFreq = true
		case "INTERVAL":
			n, err := strconv.Atoi(value)
			if err != nil {
				return Rule{}, fmt.Errorf("%w: interval %q", ErrInvalidRecurrence, value)
			}
			r.Interval = n
		case "COUNT":
			n, err := strconv.Atoi(value)
			if err != nil || n < 1 {
				return Rule{}, fmt.Errorf("%w: count %q", ErrInvalidRecurrence, value)
			}
			r.Count = n
		case "UNTIL":
			t, err := parseUntil(value)
			if err != nil {
				return Rule{}, err
			}
			r.Until = t
		case "BYDAY":
			days, err := parseByDay(value)
			if err != nil {
				return Rule{}, err
			}
			r.ByWeekday = days
		case "BYMONTH":
			for _, tok := range strings.Split(value, ",") {
				n, err := strconv.Atoi(tok)
				if err != nil || n < 1 || n > 12 {
					return Rule{}, fmt.Errorf("%w: month %q", ErrInvalidRecurrence, tok)
				}
				r.ByMonth = append(r.ByMonth, time.Month(n))
			}
		case "WKST":
			day, ok := weekdayTokens[strings.ToUpper(value)]
			if !ok {
				return Rule{}, fmt.Errorf("%w: week start %q", ErrInvalidRecurrence, value)
			}
			r.WeekStart = day
		default:
			return Rule{}, fmt.Errorf("%w: unsupported part %q", ErrInvalidRecurrence, key)
		}
	}
	if !seenFreq {
		return Rule{}, fmt.Errorf("%w: missing FREQ", ErrInvalidRecurrence)
	}
	if err := r.Validate(); err != nil {
		return Rule{}, err
	}
	return r, nil
}

func parseUntil(value string) (time.Time, error) {
	for _, layout := range []string{"20060102T150405Z", "20060102T150405", "20060102"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: until %q", ErrInvalidRecurrence, value)
}

func parseByDay(value string) ([]Weekday, error) {
	var days []Weekday
	for _, tok := range strings.Split(value, ",") {
		m := bydayPattern.FindStringSubmatch(strings.ToUpper(tok))
		if m == nil {
			return nil, fmt.Errorf("%w: weekday %q", ErrInvalidRecurrence, tok)
		}
		wd := Weekday{Day: weekdayTokens[m[2]]}
		if m[1] != "" {
			n, err := strconv.Atoi(strings.TrimPrefix(m[1], "+"))
			if err != nil || n == 0 {
				return nil, fmt.Errorf("%w: weekday offset %q", ErrInvalidRecurrence, m[1])
			}
			wd.Offset = n
		}
		days = append(days, wd)
	}
	return days, nil
}

// String serializes the rule to its canonical grammar. Defaults (interval 1,
// Monday week start) are omitted; Parse(r.String()) reproduces r exactly.
func (r Rule) String() string {
	parts := []string{"FREQ=" + string(r.Frequency)}
	if r.Interval > 1 {
		parts = append(parts, fmt.Sprintf("INTERVAL=%d", r.Interval))
	}
	if len(r.ByWeekday) > 0 {
		toks := make([]string, len(r.ByWeekday))
		for i, wd := range r.ByWeekday {
			if wd.Offset != 0 {
				toks[i] = fmt.Sprintf("%d%s", wd.Offset, weekdayNames[wd.Day])
			} else {
				toks[i] = weekdayNames[wd.Day]
			}
		}
		parts = append(parts, "BYDAY="+strings.Join(toks, ","))
	}
	if len(r.ByMonth) > 0 {
		toks := make([]string, len(r.ByMonth))
		for i, m := range r.ByMonth {
			toks[i] = strconv.Itoa(int(m))
		}
		parts = append(parts, "BYMONTH="+strings.Join(toks, ","))
	}
	if r.WeekStart != time.Monday {
		parts = append(parts, "WKST="+weekdayNames[r.WeekStart])
	}
	if r.Count > 0 {
		parts = append(parts, fmt.Sprintf("COUNT=%d", r.Count))
	} else if !r.Until.IsZero() {
		parts = append(parts, "UNTIL="+r.Until.UTC().Format("20060102T150405Z"))
	}
	return strings.Join(parts, ";")
}
