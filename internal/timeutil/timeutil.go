// Package timeutil holds the timezone-aware parsing and day arithmetic the
// engine builds on. All functions are pure.
package timeutil

import (
	"fmt"
	"strings"
	"time"

	"timelinecal/internal/model"
)

const (
	dateLayout      = "2006-01-02"
	localTimeLayout = "2006-01-02T15:04:05"
	minuteLayout    = "2006-01-02T15:04"
)

// DefaultZone is used when a timezone name cannot be resolved.
var DefaultZone = time.UTC

// ResolveLocation loads an IANA zone. An empty name resolves to fallback.
// On failure it returns fallback (or DefaultZone when fallback is nil)
// together with an error wrapping model.ErrTimezoneResolution.
func ResolveLocation(name string, fallback *time.Location) (*time.Location, error) {
	if fallback == nil {
		fallback = DefaultZone
	}
	if name == "" {
		return fallback, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return fallback, fmt.Errorf("%w: %q: %v", model.ErrTimezoneResolution, name, err)
	}
	return loc, nil
}

// ParseDate parses a date-only value at midnight in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, strings.TrimSpace(s), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q", model.ErrInvalidInstant, s)
	}
	return t, nil
}

// Parse resolves a DateTime into an instant in display. All-day values are
// midnight in display. Values without an offset are read in their own
// zone, falling back to display; the returned warning wraps
// model.ErrTimezoneResolution when that fallback happened.
func Parse(dt model.DateTime, display *time.Location) (t time.Time, allDay bool, warning error, err error) {
	if dt.IsDate() {
		t, err = ParseDate(dt.Date, display)
		return t, true, nil, err
	}
	if dt.DateTime == "" {
		return time.Time{}, false, nil, fmt.Errorf("%w: empty value", model.ErrInvalidInstant)
	}

	loc, warning := ResolveLocation(dt.TimeZone, display)
	s := strings.TrimSpace(dt.DateTime)

	if parsed, perr := time.Parse(time.RFC3339Nano, s); perr == nil {
		return parsed.In(display), false, warning, nil
	}
	for _, layout := range []string{localTimeLayout, minuteLayout} {
		if parsed, perr := time.ParseInLocation(layout, s, loc); perr == nil {
			return parsed.In(display), false, warning, nil
		}
	}
	return time.Time{}, false, warning, fmt.Errorf("%w: %q", model.ErrInvalidInstant, dt.DateTime)
}

// FormatDateTime renders t back into the wire shape. All-day values keep
// only their date.
func FormatDateTime(t time.Time, allDay bool) model.DateTime {
	if allDay {
		return model.DateTime{Date: t.Format(dateLayout)}
	}
	return model.DateTime{
		DateTime: t.Format(time.RFC3339),
		TimeZone: t.Location().String(),
	}
}

// StartOfDay returns midnight of t's calendar day in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// NextDay returns midnight of the day after t's calendar day.
func NextDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, t.Location())
}

// MinutesBetween returns whole minutes from a to b (negative when b < a).
func MinutesBetween(a, b time.Time) int {
	return int(b.Sub(a) / time.Minute)
}

// DaysBetween counts calendar days from a's date to b's date, both read in
// a's location.
func DaysBetween(a, b time.Time) int {
	a = StartOfDay(a)
	b = StartOfDay(b.In(a.Location()))
	n := 0
	for a.Before(b) {
		a = NextDay(a)
		n++
	}
	for b.Before(a) {
		b = NextDay(b)
		n--
	}
	return n
}

// Overlaps reports whether the half-open ranges [s1, e1) and [s2, e2) intersect.
func Overlaps(s1, e1, s2, e2 time.Time) bool {
	return s1.Before(e2) && s2.Before(e1)
}

// AlignToDays widens [start, end) to whole calendar days in loc.
func AlignToDays(start, end time.Time, loc *time.Location) (time.Time, time.Time) {
	start = StartOfDay(start.In(loc))
	endLocal := end.In(loc)
	aligned := StartOfDay(endLocal)
	if aligned.Before(endLocal) {
		aligned = NextDay(endLocal)
	}
	return start, aligned
}
