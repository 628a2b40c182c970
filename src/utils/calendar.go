package utils

import (
	"strings"
	"time"

	"github.com/scmhub/calendar"
)

// DepartureCalendar flags departure dates that fall on business days of an exchange calendar.
// Exchange holidays double as a public-holiday proxy for demand.
type DepartureCalendar struct {
	Calendar *calendar.Calendar
	Fallback bool
	Timezone *time.Location
}

// -----------------------------------------------------------------------------

// NewDepartureCalendar loads the calendar for mic (ISO 10383, e.g. XNYS).
// Unknown codes fall back to XNYS, then to a plain Monday to Friday rule.
func NewDepartureCalendar(mic string) *DepartureCalendar {
	mic = strings.ToLower(strings.TrimSpace(mic))
	if mic == "" {
		mic = "xnys"
	}

	cal := calendar.GetCalendar(mic)
	if cal == nil {
		cal = calendar.GetCalendar("xnys")
	}
	if cal == nil {
		return &DepartureCalendar{Fallback: true, Timezone: time.UTC}
	}

	return &DepartureCalendar{Calendar: cal, Timezone: cal.Loc}
}

// -----------------------------------------------------------------------------

// IsBusinessDay reports whether the calendar date of t is a working day.
func (dc *DepartureCalendar) IsBusinessDay(t time.Time) bool {
	if dc == nil {
		return isWeekday(t)
	}
	if dc.Timezone != nil {
		// Keep the calendar date of the departure, not the instant.
		t = time.Date(t.Year(), t.Month(), t.Day(), 12, 0, 0, 0, dc.Timezone)
	}
	if dc.Fallback {
		return isWeekday(t)
	}
	return dc.Calendar.IsBusinessDay(t)
}

// -----------------------------------------------------------------------------

func isWeekday(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}
