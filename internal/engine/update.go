package engine

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"time"

	"timelinecal/internal/layout"
	appLog "timelinecal/internal/log"
	"timelinecal/internal/model"
	"timelinecal/internal/timeutil"
)

// UpdateResult describes what one cycle did.
//
// A recurring definition is listed in Unchanged when neither it, its
// overrides, nor the window changed since the previous cycle; otherwise it
// is listed in Updated.
type UpdateResult struct {
	Added     []string
	Updated   []string
	Deleted   []string
	Unchanged []string

	// ShortCircuited is set when nothing changed and the cache was left
	// untouched.
	ShortCircuited bool
	// Rebuilt is set when the cycle discarded all cached state first.
	Rebuilt bool

	ChangedDays []model.DayKey

	// Diagnostics holds non-fatal problems: *model.ValidationError values
	// for skipped definitions and timezone fallbacks.
	Diagnostics []error
}

type diff struct {
	added, updated, deleted, unchanged []string
}

func (d diff) empty() bool {
	return len(d.added) == 0 && len(d.updated) == 0 && len(d.deleted) == 0
}

// Update runs one cycle: classify events against the last seen
// definitions, reprocess only what changed, and re-layout only the day
// buckets whose segment set changed. Malformed definitions are skipped and
// reported in the result; the returned error is non-nil only for an
// inverted window or a cancelled ctx, in which case nothing is committed.
func (c *Cache) Update(ctx context.Context, events []model.EventDefinition, p Params) (UpdateResult, error) {
	var result UpdateResult

	if !p.WindowStart.Before(p.WindowEnd) {
		return result, fmt.Errorf("%w: %s is not before %s", model.ErrInvalidWindow,
			p.WindowStart.Format(time.RFC3339), p.WindowEnd.Format(time.RFC3339))
	}

	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()

	loc, zerr := timeutil.ResolveLocation(p.TimeZone, c.fallback)
	if zerr != nil {
		result.Diagnostics = append(result.Diagnostics, zerr)
	}
	winStart, winEnd := timeutil.AlignToDays(p.WindowStart, p.WindowEnd, loc)
	opts := layout.Options{
		Mode:               p.OverlapType,
		MinStartDifference: p.MinStartDifference,
		StackInsetPercent:  c.stackInsetPercent,
	}
	if opts.Mode == "" {
		opts.Mode = model.OverlapNone
	}

	rebuild := c.needsRebuild(loc, opts, winStart, winEnd)
	prevRaw, prevDays, prevOcc := c.raw, c.days, c.occupies
	if rebuild {
		prevRaw = map[string]model.EventDefinition{}
		prevDays = map[model.DayKey][]model.PackedSegment{}
		prevOcc = map[string]map[model.DayKey]struct{}{}
	}
	windowChanged := rebuild || !winStart.Equal(c.windowStart) || !winEnd.Equal(c.windowEnd)

	incoming, order, idErrs := index(events)
	result.Diagnostics = append(result.Diagnostics, idErrs...)

	cy := &cycle{
		loc:             loc,
		windowStart:     winStart,
		windowEnd:       winEnd,
		dayStartMinutes: c.dayStartMinutes,
		maxOccurrences:  c.maxOccurrences,
		suppressed:      suppressedStarts(events, loc),
	}

	delta := windowDelta(c.windowStart, c.windowEnd, winStart, winEnd)
	d := classify(prevRaw, incoming, order, func(def model.EventDefinition) bool {
		if def.IsRecurring() {
			return windowChanged
		}
		if rebuild || len(delta) == 0 {
			return false
		}
		start, end, _, _, err := cy.bounds(def)
		if err != nil {
			return false
		}
		for _, r := range delta {
			if timeutil.Overlaps(start, end, r[0], r[1]) {
				return true
			}
		}
		return false
	})
	result.Added, result.Updated, result.Deleted, result.Unchanged = d.added, d.updated, d.deleted, d.unchanged
	result.Rebuilt = rebuild

	if d.empty() && !windowChanged {
		c.mu.Lock()
		c.stats.Cycles++
		c.stats.ShortCircuits++
		c.mu.Unlock()
		result.ShortCircuited = true
		c.report(result.Diagnostics)
		appLog.Debug("engine: update cycle short-circuited", "unchanged", len(d.unchanged))
		return result, nil
	}

	// Reprocess added and updated definitions.
	fresh := make(map[string][]model.Segment)
	freshByDay := make(map[model.DayKey][]model.Segment)
	reprocessed := 0
	for _, id := range append(append([]string(nil), d.added...), d.updated...) {
		reprocessed++
		segs, warnings, err := cy.project(incoming[id])
		for _, w := range warnings {
			result.Diagnostics = append(result.Diagnostics, &model.ValidationError{EventID: id, Err: w})
		}
		if err != nil {
			result.Diagnostics = append(result.Diagnostics, &model.ValidationError{EventID: id, Err: err})
			continue
		}
		fresh[id] = segs
		for _, s := range segs {
			freshByDay[s.Day] = append(freshByDay[s.Day], s)
		}
	}
	if err := ctx.Err(); err != nil {
		return UpdateResult{}, err
	}

	// Invalidate prior segments of updated and deleted definitions.
	removed := make(map[string]struct{}, len(d.updated)+len(d.deleted))
	dirty := make(map[model.DayKey]struct{})
	for _, id := range append(append([]string(nil), d.updated...), d.deleted...) {
		removed[id] = struct{}{}
		for day := range prevOcc[id] {
			dirty[day] = struct{}{}
		}
	}
	for day := range freshByDay {
		dirty[day] = struct{}{}
	}
	patchable := make(map[string]bool)
	for _, id := range d.updated {
		if s, ok := fresh[id]; ok && sameLayoutInputs(priorSegments(id, prevDays, prevOcc), s) {
			patchable[id] = true
		}
	}

	// Merge and re-layout the dirty buckets; drop buckets leaving the window.
	startKey, endKey := model.DayKeyOf(winStart), model.DayKeyOf(winEnd)
	inWindow := func(day model.DayKey) bool { return day >= startKey && day < endKey }

	staged := make(map[model.DayKey][]model.PackedSegment)
	relayouts := 0
	for day := range dirty {
		if !inWindow(day) {
			staged[day] = nil
			continue
		}
		packed, relaid := mergeDay(prevDays[day], freshByDay[day], removed, patchable, opts)
		if relaid {
			relayouts++
		}
		staged[day] = packed
	}

	type dayDrop struct {
		id  string
		day model.DayKey
	}
	var drops []dayDrop
	if windowChanged {
		for day, bucket := range prevDays {
			if inWindow(day) {
				continue
			}
			staged[day] = nil
			for _, p := range bucket {
				drops = append(drops, dayDrop{id: p.EventID, day: day})
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return UpdateResult{}, err
	}

	// Commit.
	c.mu.Lock()
	if rebuild {
		c.days = make(map[model.DayKey][]model.PackedSegment)
		c.occupies = make(map[string]map[model.DayKey]struct{})
	}
	for day, bucket := range staged {
		if len(bucket) == 0 {
			delete(c.days, day)
			continue
		}
		c.days[day] = bucket
	}
	for id := range removed {
		delete(c.occupies, id)
	}
	for id, segs := range fresh {
		if len(segs) == 0 {
			delete(c.occupies, id)
			continue
		}
		days := make(map[model.DayKey]struct{}, len(segs))
		for _, s := range segs {
			days[s.Day] = struct{}{}
		}
		c.occupies[id] = days
	}
	for _, drop := range drops {
		if days, ok := c.occupies[drop.id]; ok {
			delete(days, drop.day)
			if len(days) == 0 {
				delete(c.occupies, drop.id)
			}
		}
	}
	c.raw = incoming
	c.loc = loc
	c.layoutOpts = opts
	c.windowStart, c.windowEnd = winStart, winEnd

	c.stats.Cycles++
	c.stats.Reprocessed += reprocessed
	c.stats.Relayouts += relayouts
	if rebuild {
		c.stats.FullRebuilds++
	}
	c.mu.Unlock()

	for day := range staged {
		result.ChangedDays = append(result.ChangedDays, day)
	}
	sort.Slice(result.ChangedDays, func(i, j int) bool { return result.ChangedDays[i] < result.ChangedDays[j] })

	c.report(result.Diagnostics)
	appLog.Debug("engine: update cycle",
		"added", len(d.added),
		"updated", len(d.updated),
		"deleted", len(d.deleted),
		"unchanged", len(d.unchanged),
		"changed_days", len(result.ChangedDays),
		"relayouts", relayouts,
		"rebuild", rebuild,
	)
	return result, nil
}

func (c *Cache) needsRebuild(loc *time.Location, opts layout.Options, winStart, winEnd time.Time) bool {
	if c.loc == nil || c.loc.String() != loc.String() || c.layoutOpts != opts {
		return true
	}
	// A jump that leaves nothing of the old window in place.
	return !timeutil.Overlaps(winStart, winEnd, c.windowStart, c.windowEnd)
}

// mergeDay builds a day's new bucket. When every change on the day is a
// layout-neutral patch the previous placements are kept and only segment
// payloads are replaced.
func mergeDay(prev []model.PackedSegment, added []model.Segment, removed map[string]struct{}, patchable map[string]bool, opts layout.Options) ([]model.PackedSegment, bool) {
	relayout := false
	segs := make([]model.Segment, 0, len(prev)+len(added))
	for _, p := range prev {
		if _, ok := removed[p.EventID]; ok {
			if !patchable[p.EventID] {
				relayout = true
			}
			continue
		}
		segs = append(segs, p.Segment)
	}
	for _, s := range added {
		if !patchable[s.EventID] {
			relayout = true
		}
		segs = append(segs, s)
	}

	if relayout {
		return layout.Pack(segs, opts), true
	}

	replacement := make(map[segmentKey]model.Segment, len(added))
	for _, s := range added {
		replacement[keyOf(s)] = s
	}
	out := make([]model.PackedSegment, len(prev))
	for i, p := range prev {
		out[i] = p
		if s, ok := replacement[keyOf(p.Segment)]; ok {
			out[i].Segment = s
		}
	}
	return out, false
}

// index keys events by id. Later duplicates win.
func index(events []model.EventDefinition) (map[string]model.EventDefinition, []string, []error) {
	out := make(map[string]model.EventDefinition, len(events))
	order := make([]string, 0, len(events))
	var errs []error
	for _, ev := range events {
		if ev.ID == "" {
			errs = append(errs, &model.ValidationError{Err: model.ErrMissingID})
			continue
		}
		if _, ok := out[ev.ID]; ok {
			errs = append(errs, &model.ValidationError{EventID: ev.ID, Err: model.ErrDuplicateID})
		} else {
			order = append(order, ev.ID)
		}
		out[ev.ID] = ev
	}
	return out, order, errs
}

// classify sorts incoming definitions into added, updated and unchanged,
// and prior ones missing from incoming into deleted. moved reports whether
// an otherwise identical definition is affected by the window change.
// A changed override forces its recurring parent, before and after the
// change, to be reprocessed.
func classify(prev, next map[string]model.EventDefinition, order []string, moved func(model.EventDefinition) bool) diff {
	var d diff
	var same []string

	for _, id := range order {
		def := next[id]
		old, ok := prev[id]
		switch {
		case !ok:
			d.added = append(d.added, id)
		case !reflect.DeepEqual(old, def) || moved(def):
			d.updated = append(d.updated, id)
		default:
			same = append(same, id)
		}
	}
	for id := range prev {
		if _, ok := next[id]; !ok {
			d.deleted = append(d.deleted, id)
		}
	}
	sort.Strings(d.deleted)

	// An override that moves between series, or detaches, touches both its
	// old and its new parent.
	parents := make(map[string]struct{})
	mark := func(defs map[string]model.EventDefinition, ids []string) {
		for _, id := range ids {
			if p := defs[id].RecurringEventID; p != "" {
				parents[p] = struct{}{}
			}
		}
	}
	mark(next, d.added)
	mark(next, d.updated)
	mark(prev, d.updated)
	mark(prev, d.deleted)
	for _, id := range same {
		if _, ok := parents[id]; ok {
			d.updated = append(d.updated, id)
			continue
		}
		d.unchanged = append(d.unchanged, id)
	}
	return d
}

// windowDelta returns the non-empty ranges covered by exactly one of the
// two windows.
func windowDelta(oldStart, oldEnd, newStart, newEnd time.Time) [][2]time.Time {
	var out [][2]time.Time
	add := func(a, b time.Time) {
		if b.Before(a) {
			a, b = b, a
		}
		if a.Before(b) {
			out = append(out, [2]time.Time{a, b})
		}
	}
	if oldStart.IsZero() && oldEnd.IsZero() {
		return nil
	}
	add(oldStart, newStart)
	add(oldEnd, newEnd)
	return out
}

type segmentKey struct {
	eventID           string
	instanceKey       string
	day               model.DayKey
	continuationIndex int
}

func keyOf(s model.Segment) segmentKey {
	return segmentKey{s.EventID, s.InstanceKey, s.Day, s.ContinuationIndex}
}

type layoutInputs struct {
	key                 segmentKey
	lane                model.Lane
	startMinutesInDay   int
	visibleStartMinutes int
	durationMinutes     int
}

func priorSegments(id string, days map[model.DayKey][]model.PackedSegment, occupies map[string]map[model.DayKey]struct{}) []model.Segment {
	var out []model.Segment
	for day := range occupies[id] {
		for _, p := range days[day] {
			if p.EventID == id {
				out = append(out, p.Segment)
			}
		}
	}
	return out
}

// sameLayoutInputs reports whether two segment sets would be placed
// identically: only payload fields such as title or color differ.
func sameLayoutInputs(a, b []model.Segment) bool {
	if len(a) != len(b) || len(a) == 0 {
		return false
	}
	inputs := func(segs []model.Segment) []layoutInputs {
		out := make([]layoutInputs, len(segs))
		for i, s := range segs {
			out[i] = layoutInputs{keyOf(s), s.Lane(), s.StartMinutesInDay, s.VisibleStartMinutes, s.DurationMinutes}
		}
		sort.Slice(out, func(i, j int) bool {
			if out[i].key.day != out[j].key.day {
				return out[i].key.day < out[j].key.day
			}
			if out[i].key.instanceKey != out[j].key.instanceKey {
				return out[i].key.instanceKey < out[j].key.instanceKey
			}
			return out[i].key.continuationIndex < out[j].key.continuationIndex
		})
		return out
	}
	ia, ib := inputs(a), inputs(b)
	for i := range ia {
		if ia[i] != ib[i] {
			return false
		}
	}
	return true
}

func (c *Cache) report(diags []error) {
	for _, err := range diags {
		var verr *model.ValidationError
		if errors.As(err, &verr) {
			appLog.Warn("engine: definition problem", "id", verr.EventID, "kind", kindOf(err), "err", verr.Err.Error())
		} else {
			appLog.Warn("engine: cycle warning", "kind", kindOf(err), "err", err.Error())
		}
		if c.onDiagnostic != nil {
			c.onDiagnostic(err)
		}
	}
}

func kindOf(err error) string {
	switch {
	case errors.Is(err, model.ErrInvalidRecurrence):
		return "recurrence"
	case errors.Is(err, model.ErrInvalidInstant):
		return "instant"
	case errors.Is(err, model.ErrTimezoneResolution):
		return "timezone"
	case errors.Is(err, model.ErrMissingID):
		return "missing-id"
	case errors.Is(err, model.ErrDuplicateID):
		return "duplicate-id"
	}
	return "other"
}
