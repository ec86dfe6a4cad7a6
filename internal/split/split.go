package split

import (
	"time"

	"timelinecal/internal/model"
	"timelinecal/internal/timeutil"
)

// Config bounds splitting to the active window.
type Config struct {
	// WindowStart / WindowEnd clip segment durations. A zero WindowEnd
	// means no clipping.
	WindowStart time.Time
	WindowEnd   time.Time

	// DayStartMinutes is the minute at which the rendered day begins.
	// Continuation segments report StartMinutesInDay relative to it.
	DayStartMinutes int
}

// Split projects an occurrence onto every calendar day it touches, in the
// occurrence's location. Days outside the window are skipped, but
// ContinuationIndex always counts from the day holding the true start.
func Split(occ model.Occurrence, cfg Config) []model.Segment {
	if !occ.End.After(occ.Start) {
		return nil
	}

	winStart, winEnd := cfg.WindowStart, cfg.WindowEnd
	if winEnd.IsZero() {
		winStart, winEnd = occ.Start, occ.End
	}
	if !timeutil.Overlaps(occ.Start, occ.End, winStart, winEnd) {
		return nil
	}

	first := timeutil.StartOfDay(occ.Start)
	day, k := first, 0
	if winStart.After(occ.Start) {
		day = timeutil.StartOfDay(winStart.In(occ.Start.Location()))
		k = timeutil.DaysBetween(first, day)
	}

	var out []model.Segment
	for ; day.Before(occ.End) && day.Before(winEnd); day, k = timeutil.NextDay(day), k+1 {
		next := timeutil.NextDay(day)

		from := latest(occ.Start, day, winStart)
		to := earliest(occ.End, next, winEnd)
		if !from.Before(to) {
			continue
		}

		seg := model.Segment{
			Day:                 model.DayKeyOf(day),
			EventID:             occ.EventID,
			RecurringEventID:    occ.RecurringEventID,
			InstanceKey:         occ.InstanceKey,
			Title:               occ.Title,
			Color:               occ.Color,
			ResourceID:          occ.ResourceID,
			Metadata:            occ.Metadata,
			AllDay:              occ.AllDay,
			VisibleStartMinutes: timeutil.MinutesBetween(day, from),
			DurationMinutes:     timeutil.MinutesBetween(from, to),
			ContinuationIndex:   k,
			OccurrenceStart:     occ.Start,
			OccurrenceEnd:       occ.End,
		}
		if k == 0 {
			seg.StartMinutesInDay = timeutil.MinutesBetween(day, occ.Start)
		} else {
			// Carried over: report how far above the day start it began.
			seg.StartMinutesInDay = cfg.DayStartMinutes - timeutil.MinutesBetween(occ.Start, day)
		}
		out = append(out, seg)
	}
	return out
}

func latest(ts ...time.Time) time.Time {
	out := ts[0]
	for _, t := range ts[1:] {
		if t.After(out) {
			out = t
		}
	}
	return out
}

func earliest(ts ...time.Time) time.Time {
	out := ts[0]
	for _, t := range ts[1:] {
		if t.Before(out) {
			out = t
		}
	}
	return out
}
