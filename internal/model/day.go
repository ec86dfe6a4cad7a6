package model

import (
	"fmt"
	"time"
)

const dayKeyLayout = "2006-01-02"

// DayKey identifies a calendar day in the display timezone ("2006-01-02").
// Keys sort lexically in date order.
type DayKey string

// DayKeyOf returns the calendar day of t in t's own location.
func DayKeyOf(t time.Time) DayKey {
	return DayKey(t.Format(dayKeyLayout))
}

// ParseDayKey validates s and returns it as a DayKey.
func ParseDayKey(s string) (DayKey, error) {
	if _, err := time.Parse(dayKeyLayout, s); err != nil {
		return "", fmt.Errorf("invalid day %q: %w", s, err)
	}
	return DayKey(s), nil
}

// Start returns midnight of the day in loc.
func (d DayKey) Start(loc *time.Location) time.Time {
	t, err := time.ParseInLocation(dayKeyLayout, string(d), loc)
	if err != nil {
		return time.Time{}
	}
	return t
}

// UTC returns midnight of the day in UTC, the normalized form of the key.
func (d DayKey) UTC() time.Time {
	return d.Start(time.UTC)
}

// Next returns the following calendar day.
func (d DayKey) Next() DayKey {
	return DayKeyOf(d.UTC().AddDate(0, 0, 1))
}
