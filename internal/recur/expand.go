package recur

import (
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"timelinecal/internal/model"
	"timelinecal/internal/timeutil"
)

const (
	defaultMaxOccurrences = 5000
)

// Config controls how recurrence expansion is performed.
type Config struct {
	// DisplayLocation is the timezone occurrences are converted to.
	// If nil, time.UTC is used.
	DisplayLocation *time.Location

	// WindowStart / WindowEnd define the half-open window [start, end).
	WindowStart time.Time
	WindowEnd   time.Time

	// MaxOccurrences is a safety cap against very large expansions.
	// If zero, defaultMaxOccurrences is used.
	MaxOccurrences int
}

// Input describes one recurring definition.
type Input struct {
	Rule string

	// Start / End are the anchor occurrence in the event's own timezone.
	// Occurrences keep the anchor's wall-clock time across DST changes.
	Start time.Time
	End   time.Time

	AllDay bool

	// ExcludeDates are "2006-01-02" values compared against the date of each
	// occurrence start in the anchor's timezone.
	ExcludeDates []string

	// Suppressed are original starts replaced by per-occurrence overrides.
	Suppressed []time.Time
}

// Span is one concrete occurrence.
type Span struct {
	Start time.Time
	End   time.Time
}

// Result wraps the expanded spans and whether the cap was hit.
type Result struct {
	Spans     []Span
	Truncated bool
}

// Expand returns, in start order, every occurrence of in that intersects the
// window, including occurrences that start before the window but extend into
// it. A malformed rule yields an error wrapping model.ErrInvalidRecurrence and
// no spans at all.
func Expand(in Input, cfg Config) (Result, error) {
	var result Result

	if !cfg.WindowStart.Before(cfg.WindowEnd) {
		return result, model.ErrInvalidWindow
	}
	if cfg.DisplayLocation == nil {
		cfg.DisplayLocation = time.UTC
	}
	if cfg.MaxOccurrences <= 0 {
		cfg.MaxOccurrences = defaultMaxOccurrences
	}
	if !in.End.After(in.Start) {
		return result, fmt.Errorf("%w: end %s is not after start %s", model.ErrInvalidInstant, in.End, in.Start)
	}

	rule, err := parseRule(in.Rule, in.Start)
	if err != nil {
		return result, err
	}

	excluded, err := excludedDates(in.ExcludeDates)
	if err != nil {
		return result, err
	}
	suppressed := make(map[int64]struct{}, len(in.Suppressed))
	for _, s := range in.Suppressed {
		suppressed[s.Unix()] = struct{}{}
	}

	var set rrule.Set
	set.RRule(rule)

	// Occurrences starting up to one duration before the window may still
	// reach into it.
	dur := in.End.Sub(in.Start)
	spanDays := 0
	if in.AllDay {
		spanDays = timeutil.DaysBetween(in.Start, in.End)
		dur = time.Duration(spanDays+1) * 24 * time.Hour
	}
	loc := in.Start.Location()
	starts := set.Between(cfg.WindowStart.Add(-dur).In(loc), cfg.WindowEnd.In(loc), true)

	for _, occStart := range starts {
		if _, ok := excluded[occStart.Format("2006-01-02")]; ok {
			continue
		}
		if _, ok := suppressed[occStart.Unix()]; ok {
			continue
		}

		var occEnd time.Time
		if in.AllDay {
			// All-day: [date 00:00, date+N 00:00) so DST shifts never leak in.
			occStart = timeutil.StartOfDay(occStart)
			occEnd = occStart.AddDate(0, 0, spanDays)
		} else {
			// Preserve original duration.
			occEnd = occStart.Add(in.End.Sub(in.Start))
		}

		if !timeutil.Overlaps(occStart, occEnd, cfg.WindowStart, cfg.WindowEnd) {
			continue
		}
		if len(result.Spans) == cfg.MaxOccurrences {
			result.Truncated = true
			break
		}
		result.Spans = append(result.Spans, Span{
			Start: occStart.In(cfg.DisplayLocation),
			End:   occEnd.In(cfg.DisplayLocation),
		})
	}

	return result, nil
}

func parseRule(raw string, dtStart time.Time) (*rrule.RRule, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "RRULE:")
	if raw == "" {
		return nil, fmt.Errorf("%w: empty rule", model.ErrInvalidRecurrence)
	}

	opt, err := rrule.StrToROption(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", model.ErrInvalidRecurrence, raw, err)
	}

	// Ensure Dtstart is set to the event's anchor start.
	opt.Dtstart = dtStart
	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", model.ErrInvalidRecurrence, raw, err)
	}
	return r, nil
}

func excludedDates(dates []string) (map[string]struct{}, error) {
	out := make(map[string]struct{}, len(dates))
	for _, d := range dates {
		t, err := time.Parse("2006-01-02", strings.TrimSpace(d))
		if err != nil {
			return nil, fmt.Errorf("%w: exclude date %q: %v", model.ErrInvalidInstant, d, err)
		}
		out[t.Format("2006-01-02")] = struct{}{}
	}
	return out, nil
}
