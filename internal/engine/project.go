package engine

import (
	"errors"
	"fmt"
	"time"

	appLog "timelinecal/internal/log"
	"timelinecal/internal/model"
	"timelinecal/internal/recur"
	"timelinecal/internal/split"
	"timelinecal/internal/timeutil"
)

// cycle carries what projecting a definition needs for one update cycle.
type cycle struct {
	loc             *time.Location
	windowStart     time.Time
	windowEnd       time.Time
	dayStartMinutes int
	maxOccurrences  int

	// suppressed maps a recurring definition id to the original starts its
	// overrides replace.
	suppressed map[string][]time.Time
}

// bounds resolves a definition's start and end in the display zone.
func (cy *cycle) bounds(def model.EventDefinition) (start, end time.Time, allDay bool, warnings []error, err error) {
	start, allDay, warn, err := timeutil.Parse(def.Start, cy.loc)
	if warn != nil {
		warnings = append(warnings, warn)
	}
	if err != nil {
		return start, end, allDay, warnings, fmt.Errorf("start: %w", err)
	}
	end, endAllDay, warn, err := timeutil.Parse(def.End, cy.loc)
	if warn != nil && len(warnings) == 0 {
		warnings = append(warnings, warn)
	}
	if err != nil {
		return start, end, allDay, warnings, fmt.Errorf("end: %w", err)
	}
	if allDay != endAllDay {
		return start, end, allDay, warnings, fmt.Errorf("%w: start and end mix date and date-time values", model.ErrInvalidInstant)
	}
	if allDay && !end.After(start) {
		// A single-date all-day event covers that date.
		end = start.AddDate(0, 0, 1)
	}
	if !end.After(start) {
		return start, end, allDay, warnings, fmt.Errorf("%w: end %s is not after start %s", model.ErrInvalidInstant, end, start)
	}
	return start, end, allDay, warnings, nil
}

// project expands and splits one definition against the cycle's window.
func (cy *cycle) project(def model.EventDefinition) ([]model.Segment, []error, error) {
	start, end, allDay, warnings, err := cy.bounds(def)
	if err != nil {
		return nil, warnings, err
	}

	base := model.Occurrence{
		EventID:          def.ID,
		RecurringEventID: def.RecurringEventID,
		Title:            def.Title,
		Color:            def.Color,
		ResourceID:       def.ResourceID,
		Metadata:         def.Metadata,
		AllDay:           allDay,
	}
	splitCfg := split.Config{
		WindowStart:     cy.windowStart,
		WindowEnd:       cy.windowEnd,
		DayStartMinutes: cy.dayStartMinutes,
	}

	if !def.IsRecurring() {
		if !timeutil.Overlaps(start, end, cy.windowStart, cy.windowEnd) {
			return nil, warnings, nil
		}
		return split.Split(occurrenceAt(base, start, end), splitCfg), warnings, nil
	}

	// Timed rules repeat on the event's own wall clock.
	anchorStart, anchorEnd := start, end
	if !allDay && def.Start.TimeZone != "" {
		if eventLoc, lerr := timeutil.ResolveLocation(def.Start.TimeZone, cy.loc); lerr == nil {
			anchorStart, anchorEnd = start.In(eventLoc), end.In(eventLoc)
		}
	}

	res, err := recur.Expand(recur.Input{
		Rule:         def.RecurrenceRule,
		Start:        anchorStart,
		End:          anchorEnd,
		AllDay:       allDay,
		ExcludeDates: def.ExcludeDates,
		Suppressed:   cy.suppressed[def.ID],
	}, recur.Config{
		DisplayLocation: cy.loc,
		WindowStart:     cy.windowStart,
		WindowEnd:       cy.windowEnd,
		MaxOccurrences:  cy.maxOccurrences,
	})
	if err != nil {
		return nil, warnings, err
	}
	if res.Truncated {
		appLog.Error("engine: truncated occurrences due to cap",
			errors.New("max occurrences reached"),
			"id", def.ID,
			"cap", len(res.Spans),
		)
	}

	var segs []model.Segment
	for _, span := range res.Spans {
		segs = append(segs, split.Split(occurrenceAt(base, span.Start, span.End), splitCfg)...)
	}
	return segs, warnings, nil
}

func occurrenceAt(base model.Occurrence, start, end time.Time) model.Occurrence {
	occ := base
	occ.Start = start
	occ.End = end
	occ.DurationMinutes = timeutil.MinutesBetween(start, end)
	// InstanceKey: use start time in RFC3339 as a stable per-instance key.
	occ.InstanceKey = start.Format(time.RFC3339)
	return occ
}

// suppressedStarts collects, per recurring definition, the original starts
// of the overrides that replace its occurrences.
func suppressedStarts(defs []model.EventDefinition, loc *time.Location) map[string][]time.Time {
	out := make(map[string][]time.Time)
	for _, def := range defs {
		if def.RecurringEventID == "" || def.OriginalStartTime == nil {
			continue
		}
		t, _, _, err := timeutil.Parse(*def.OriginalStartTime, loc)
		if err != nil {
			continue
		}
		out[def.RecurringEventID] = append(out[def.RecurringEventID], t)
	}
	return out
}
