// Package schedule resolves spoken day/time phrases into concrete visit
// slots and computes office business-hours status, all in one fixed civil
// timezone.
package schedule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultTimezone = "America/New_York"

	// Fallback slot when the caller's time phrase is absent or unparsable.
	defaultHour   = 10
	defaultMinute = 0

	visitDuration = time.Hour

	weekdayOpenHour  = 9
	weekdayCloseHour = 18
	saturdayOpen     = 10
	saturdayClose    = 16
)

var timePhraseRe = regexp.MustCompile(`(?i)(\d{1,2})(?::(\d{2}))?\s*(am|pm)?`)

type Resolver struct {
	loc *time.Location
}

func NewResolver(timezone string) (*Resolver, error) {
	if strings.TrimSpace(timezone) == "" {
		timezone = DefaultTimezone
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
	}
	return &Resolver{loc: loc}, nil
}

func (r *Resolver) Location() *time.Location {
	return r.loc
}

// ResolveVisit turns a spoken day phrase ("tomorrow", "Saturday") and time
// phrase ("11", "2:30 pm") into a concrete one-hour slot relative to ref.
//
// A day phrase naming the reference weekday resolves to next week, never
// today. A phrase matching no known token resolves to the reference date;
// that is the documented default, not an error.
func (r *Resolver) ResolveVisit(dayPhrase, timePhrase string, ref time.Time) (start, end time.Time) {
	ref = ref.In(r.loc)
	target := ref

	day := strings.ToLower(strings.TrimSpace(dayPhrase))
	switch {
	case strings.Contains(day, "tomorrow"):
		target = ref.AddDate(0, 0, 1)
	case strings.Contains(day, "today"):
		// No change.
	default:
		if offset, ok := weekdayOffset(day, ref.Weekday()); ok {
			target = ref.AddDate(0, 0, offset)
		}
	}

	hour, minute := parseTimePhrase(timePhrase)
	start = time.Date(target.Year(), target.Month(), target.Day(), hour, minute, 0, 0, r.loc)
	return start, start.Add(visitDuration)
}

// weekdayOffset returns the smallest positive forward offset from `from` to
// the first weekday named inside the phrase. Same weekday maps to +7 so
// "Monday" spoken on a Monday means the following Monday.
func weekdayOffset(phrase string, from time.Weekday) (int, bool) {
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		name := strings.ToLower(wd.String())
		if !strings.Contains(phrase, name) {
			continue
		}
		offset := int(wd) - int(from)
		if offset <= 0 {
			offset += 7
		}
		return offset, true
	}
	return 0, false
}

// parseTimePhrase accepts H[:MM][am|pm] with tolerant spacing. Anything it
// cannot make a valid clock time out of resolves to 10:00.
func parseTimePhrase(phrase string) (hour, minute int) {
	hour, minute = defaultHour, defaultMinute

	m := timePhraseRe.FindStringSubmatch(strings.TrimSpace(phrase))
	if m == nil {
		return hour, minute
	}

	h, err := strconv.Atoi(m[1])
	if err != nil {
		return defaultHour, defaultMinute
	}
	mm := 0
	if m[2] != "" {
		mm, err = strconv.Atoi(m[2])
		if err != nil {
			return defaultHour, defaultMinute
		}
	}

	meridiem := strings.ToLower(m[3])
	switch meridiem {
	case "am", "pm":
		if h < 1 || h > 12 {
			return defaultHour, defaultMinute
		}
		if meridiem == "pm" && h < 12 {
			h += 12
		}
		if meridiem == "am" && h == 12 {
			h = 0
		}
	default:
		if h < 0 || h > 23 {
			return defaultHour, defaultMinute
		}
	}
	if mm < 0 || mm > 59 {
		return defaultHour, defaultMinute
	}
	return h, mm
}

// Status reports whether the office is open at a given instant, with a
// caller-facing message composed from the configured hours.
type Status struct {
	Open        bool
	Message     string
	CurrentTime string
	CurrentDay  string
}

func (r *Resolver) BusinessStatus(ref time.Time) Status {
	ctx := r.TimeContext(ref)
	st := Status{CurrentTime: ctx.TimeString, CurrentDay: ctx.DayName}

	switch {
	case ctx.Weekday == time.Sunday:
		st.Message = fmt.Sprintf("We're closed on %ss, but I can still help you and schedule something for the week.", ctx.DayName)
	case ctx.Weekday == time.Saturday:
		st.Open = ctx.Hour >= saturdayOpen && ctx.Hour < saturdayClose
		if st.Open {
			st.Message = fmt.Sprintf("We're open! Saturday hours %s-%s. It's %s.", formatHour(saturdayOpen), formatHour(saturdayClose), ctx.TimeString)
		} else {
			st.Message = fmt.Sprintf("Saturday hours are %s-%s. Currently closed, but I can still schedule a visit.", formatHour(saturdayOpen), formatHour(saturdayClose))
		}
	default:
		st.Open = ctx.Hour >= weekdayOpenHour && ctx.Hour < weekdayCloseHour
		if st.Open {
			st.Message = fmt.Sprintf("We're open! Weekday hours %s-%s. It's %s.", formatHour(weekdayOpenHour), formatHour(weekdayCloseHour), ctx.TimeString)
		} else {
			st.Message = fmt.Sprintf("Weekday hours are %s-%s. Currently closed, but I can still schedule a visit.", formatHour(weekdayOpenHour), formatHour(weekdayCloseHour))
		}
	}
	return st
}

// HoursTable is the static summary handed back with business-hours results.
func HoursTable() map[string]string {
	return map[string]string{
		"weekdays": fmt.Sprintf("%s-%s (Mon-Fri)", formatHour(weekdayOpenHour), formatHour(weekdayCloseHour)),
		"saturday": fmt.Sprintf("%s-%s", formatHour(saturdayOpen), formatHour(saturdayClose)),
		"sunday":   "Closed",
	}
}

// Context is the live time snapshot injected into agent instructions.
type Context struct {
	Weekday    time.Weekday
	Hour       int
	Minute     int
	DayName    string
	TimeString string // "2:05 PM"
	DateString string // "Saturday, February 15, 2026"
}

func (r *Resolver) TimeContext(ref time.Time) Context {
	local := ref.In(r.loc)
	return Context{
		Weekday:    local.Weekday(),
		Hour:       local.Hour(),
		Minute:     local.Minute(),
		DayName:    local.Weekday().String(),
		TimeString: local.Format("3:04 PM"),
		DateString: FormatLongDate(local),
	}
}

// Timestamp renders the store timestamp format for CRM rows.
func (r *Resolver) Timestamp(ref time.Time) string {
	return ref.In(r.loc).Format("1/2/2006, 3:04:05 PM")
}

// FormatLongDate renders "Saturday, February 15, 2026".
func FormatLongDate(t time.Time) string {
	return t.Format("Monday, January 2, 2006")
}

func formatHour(h int) string {
	return time.Date(2000, 1, 1, h, 0, 0, 0, time.UTC).Format("3 PM")
}
