package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	appLog "timelinecal/internal/log"
	"timelinecal/internal/model"
)

// namespace seeds the deterministic ids of VEVENTs that carry no UID.
var namespace = uuid.MustParse("6f1c7f7e-5c1a-4d0e-9a55-3b2d8f4e7a10")

const (
	propColor        = ical.ComponentProperty("COLOR")
	propRecurrenceID = ical.ComponentProperty("RECURRENCE-ID")
	propDuration     = ical.ComponentProperty("DURATION")
)

// ParseICS parses one iCalendar payload into event definitions.
//
//   - DTSTART/DTEND keep their wall-clock value and TZID; UTC values keep
//     their Z suffix. Zone resolution happens in the engine.
//   - RRULE is passed through; EXDATE becomes date-only exclusions.
//   - A VEVENT with RECURRENCE-ID becomes an override of the definition
//     sharing its UID, with id "<UID>@<RECURRENCE-ID>".
//
// A VEVENT that cannot be converted is logged and skipped.
func ParseICS(sourceID string, body []byte) ([]model.EventDefinition, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "source", sourceID)
		return nil, fmt.Errorf("parse calendar: %w", err)
	}

	events := make([]model.EventDefinition, 0)
	for _, ve := range cal.Events() {
		def, perr := parseVEvent(ve)
		if perr != nil {
			appLog.Error("ics vevent parse failed", perr, "source", sourceID, "uid", value(ve, ical.ComponentPropertyUniqueId))
			continue
		}
		events = append(events, def)
	}

	appLog.Info("ics parse completed", "source", sourceID, "event_count", len(events))
	return events, nil
}

func parseVEvent(ve *ical.VEvent) (model.EventDefinition, error) {
	var out model.EventDefinition

	startProp := ve.GetProperty(ical.ComponentPropertyDtStart)
	if startProp == nil || strings.TrimSpace(startProp.Value) == "" {
		return out, errors.New("missing DTSTART")
	}
	start, err := dateTime(startProp)
	if err != nil {
		return out, fmt.Errorf("DTSTART: %w", err)
	}
	out.Start = start

	switch endProp := ve.GetProperty(ical.ComponentPropertyDtEnd); {
	case endProp != nil:
		if out.End, err = dateTime(endProp); err != nil {
			return out, fmt.Errorf("DTEND: %w", err)
		}
	case ve.GetProperty(propDuration) != nil:
		d, derr := parseDuration(ve.GetProperty(propDuration).Value)
		if derr != nil {
			return out, fmt.Errorf("DURATION: %w", derr)
		}
		if out.End, err = shift(start, d); err != nil {
			return out, fmt.Errorf("DURATION: %w", err)
		}
	default:
		// A date-only DTSTART alone covers that day; the engine widens it.
		out.End = start
	}

	uid := value(ve, ical.ComponentPropertyUniqueId)
	if uid == "" {
		seed := value(ve, ical.ComponentPropertySummary) + "|" + startProp.Value
		uid = uuid.NewSHA1(namespace, []byte(seed)).String()
	}
	out.ID = uid

	out.Title = value(ve, ical.ComponentPropertySummary)
	out.Color = value(ve, propColor)
	if loc := value(ve, ical.ComponentPropertyLocation); loc != "" {
		setMeta(&out, "location", loc)
	}
	if desc := value(ve, ical.ComponentPropertyDescription); desc != "" {
		setMeta(&out, "description", desc)
	}
	if seq := value(ve, ical.ComponentPropertySequence); seq != "" {
		if n, err := strconv.Atoi(seq); err == nil {
			setMeta(&out, "sequence", n)
		}
	}

	if rid := ve.GetProperty(propRecurrenceID); rid != nil && strings.TrimSpace(rid.Value) != "" {
		original, err := dateTime(rid)
		if err != nil {
			return out, fmt.Errorf("RECURRENCE-ID: %w", err)
		}
		out.ID = uid + "@" + strings.TrimSpace(rid.Value)
		out.RecurringEventID = uid
		out.OriginalStartTime = &original
		return out, nil
	}

	if rrule := value(ve, ical.ComponentPropertyRrule); rrule != "" {
		out.RecurrenceRule = rrule
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			day, err := exdateDay(part, param(p, "TZID"), start.TimeZone)
			if err != nil {
				return out, fmt.Errorf("EXDATE: %w", err)
			}
			out.ExcludeDates = append(out.ExcludeDates, day)
		}
	}

	return out, nil
}

func value(ve *ical.VEvent, prop ical.ComponentProperty) string {
	if p := ve.GetProperty(prop); p != nil {
		return strings.TrimSpace(p.Value)
	}
	return ""
}

func param(p *ical.IANAProperty, name string) string {
	if vs, ok := p.ICalParameters[name]; ok && len(vs) > 0 {
		return vs[0]
	}
	return ""
}

func setMeta(def *model.EventDefinition, k string, v any) {
	if def.Metadata == nil {
		def.Metadata = make(map[string]any)
	}
	def.Metadata[k] = v
}

const (
	icsDate      = "20060102"
	icsLocal     = "20060102T150405"
	icsUTC       = "20060102T150405Z"
	wireDate     = "2006-01-02"
	wireLocal    = "2006-01-02T15:04:05"
	wireUTC      = "2006-01-02T15:04:05Z"
	valueDateKey = "VALUE"
)

// dateTime converts a DATE or DATE-TIME property into the wire shape.
func dateTime(p *ical.IANAProperty) (model.DateTime, error) {
	v := strings.TrimSpace(p.Value)
	if strings.EqualFold(param(p, valueDateKey), "DATE") || !strings.Contains(v, "T") {
		t, err := time.Parse(icsDate, v)
		if err != nil {
			return model.DateTime{}, fmt.Errorf("%w: %q", model.ErrInvalidInstant, v)
		}
		return model.DateTime{Date: t.Format(wireDate)}, nil
	}
	if strings.HasSuffix(v, "Z") {
		t, err := time.Parse(icsUTC, v)
		if err != nil {
			return model.DateTime{}, fmt.Errorf("%w: %q", model.ErrInvalidInstant, v)
		}
		return model.DateTime{DateTime: t.Format(wireUTC)}, nil
	}
	t, err := time.Parse(icsLocal, v)
	if err != nil {
		return model.DateTime{}, fmt.Errorf("%w: %q", model.ErrInvalidInstant, v)
	}
	return model.DateTime{DateTime: t.Format(wireLocal), TimeZone: param(p, "TZID")}, nil
}

// shift moves a wire value by d, keeping its shape.
func shift(dt model.DateTime, d time.Duration) (model.DateTime, error) {
	switch {
	case dt.IsDate():
		t, err := time.Parse(wireDate, dt.Date)
		if err != nil {
			return dt, err
		}
		return model.DateTime{Date: t.Add(d).Format(wireDate)}, nil
	case strings.HasSuffix(dt.DateTime, "Z"):
		t, err := time.Parse(wireUTC, dt.DateTime)
		if err != nil {
			return dt, err
		}
		return model.DateTime{DateTime: t.Add(d).Format(wireUTC)}, nil
	default:
		// Wall-clock arithmetic; DST shifts are resolved by the engine.
		t, err := time.Parse(wireLocal, dt.DateTime)
		if err != nil {
			return dt, err
		}
		return model.DateTime{DateTime: t.Add(d).Format(wireLocal), TimeZone: dt.TimeZone}, nil
	}
}

// exdateDay returns the calendar date an EXDATE value falls on in the
// event's zone.
func exdateDay(v, tzid, eventZone string) (string, error) {
	switch {
	case !strings.Contains(v, "T"):
		t, err := time.Parse(icsDate, v)
		if err != nil {
			return "", fmt.Errorf("%w: %q", model.ErrInvalidInstant, v)
		}
		return t.Format(wireDate), nil
	case strings.HasSuffix(v, "Z"):
		t, err := time.Parse(icsUTC, v)
		if err != nil {
			return "", fmt.Errorf("%w: %q", model.ErrInvalidInstant, v)
		}
		if loc, err := time.LoadLocation(eventZone); err == nil && eventZone != "" {
			t = t.In(loc)
		}
		return t.Format(wireDate), nil
	default:
		t, err := time.Parse(icsLocal, v)
		if err != nil {
			return "", fmt.Errorf("%w: %q", model.ErrInvalidInstant, v)
		}
		if tzid != "" && eventZone != "" && tzid != eventZone {
			from, ferr := time.LoadLocation(tzid)
			to, terr := time.LoadLocation(eventZone)
			if ferr == nil && terr == nil {
				t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, from).In(to)
			}
		}
		return t.Format(wireDate), nil
	}
}

// parseDuration reads an RFC 5545 dur-value such as "PT1H30M" or "P2D".
func parseDuration(v string) (time.Duration, error) {
	s := strings.TrimSpace(v)
	neg := false
	switch {
	case strings.HasPrefix(s, "-"):
		neg = true
		s = s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}
	if !strings.HasPrefix(s, "P") || len(s) < 2 {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	s = s[1:]

	var total time.Duration
	inTime := false
	num := ""
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			num += string(r)
		case r == 'T':
			inTime = true
		default:
			n, err := strconv.Atoi(num)
			if err != nil {
				return 0, fmt.Errorf("invalid duration %q", v)
			}
			num = ""
			var unit time.Duration
			switch {
			case r == 'W' && !inTime:
				unit = 7 * 24 * time.Hour
			case r == 'D' && !inTime:
				unit = 24 * time.Hour
			case r == 'H' && inTime:
				unit = time.Hour
			case r == 'M' && inTime:
				unit = time.Minute
			case r == 'S' && inTime:
				unit = time.Second
			default:
				return 0, fmt.Errorf("invalid duration %q", v)
			}
			total += time.Duration(n) * unit
		}
	}
	if num != "" {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	if neg {
		total = -total
	}
	return total, nil
}
