package engine

import (
	"sort"
	"sync"
	"time"

	"timelinecal/internal/layout"
	"timelinecal/internal/model"
	"timelinecal/internal/timeutil"
)

// Params are the inputs of one update cycle besides the event list.
type Params struct {
	// WindowStart / WindowEnd bound the materialized range [start, end).
	// They are widened to whole days in the display timezone.
	WindowStart time.Time
	WindowEnd   time.Time

	// TimeZone is the IANA display zone. Unknown names fall back to the
	// cache's fallback zone and are reported as a warning.
	TimeZone string

	OverlapType        model.OverlapType
	MinStartDifference int
}

// Stats counts work done by the cache. Counters only grow until Clear.
type Stats struct {
	Cycles        int `json:"cycles"`
	ShortCircuits int `json:"short_circuits"`
	FullRebuilds  int `json:"full_rebuilds"`
	// Reprocessed counts definitions run through expansion and splitting.
	Reprocessed int `json:"reprocessed"`
	// Relayouts counts day buckets run through the layout engine.
	Relayouts int `json:"relayouts"`
}

// Option configures a Cache.
type Option func(*Cache)

// WithDiagnostics registers fn to receive one *model.ValidationError per
// problematic definition. A definition is reported in the cycle that adds or
// changes it; cycles that leave it untouched report nothing for it.
func WithDiagnostics(fn func(error)) Option {
	return func(c *Cache) {
		c.onDiagnostic = fn
	}
}

// WithDayStartMinutes sets the minute at which the rendered day begins.
func WithDayStartMinutes(minutes int) Option {
	return func(c *Cache) {
		c.dayStartMinutes = minutes
	}
}

// WithStackInsetPercent sets the per-level inset used in stacking mode.
func WithStackInsetPercent(p float64) Option {
	return func(c *Cache) {
		c.stackInsetPercent = p
	}
}

// WithMaxOccurrences caps the occurrences expanded per recurring definition.
func WithMaxOccurrences(n int) Option {
	return func(c *Cache) {
		c.maxOccurrences = n
	}
}

// WithFallbackZone sets the zone used when Params.TimeZone cannot be loaded.
func WithFallbackZone(loc *time.Location) Option {
	return func(c *Cache) {
		c.fallback = loc
	}
}

// Cache holds the laid-out occurrences of the active window and the raw
// definitions they were derived from. It is owned by the caller; there is
// no package-level instance.
//
// Update cycles are serialized. Readers never observe a partially applied
// cycle: day buckets are immutable once published and are swapped in under
// the write lock at the end of a cycle.
type Cache struct {
	cycleMu sync.Mutex

	onDiagnostic      func(error)
	dayStartMinutes   int
	stackInsetPercent float64
	maxOccurrences    int
	fallback          *time.Location

	mu sync.RWMutex

	loc         *time.Location
	layoutOpts  layout.Options
	windowStart time.Time
	windowEnd   time.Time

	raw      map[string]model.EventDefinition
	days     map[model.DayKey][]model.PackedSegment
	occupies map[string]map[model.DayKey]struct{}

	stats Stats
}

// NewCache constructs an empty Cache.
func NewCache(opts ...Option) *Cache {
	c := &Cache{
		fallback: timeutil.DefaultZone,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.reset()
	return c
}

func (c *Cache) reset() {
	c.loc = nil
	c.layoutOpts = layout.Options{}
	c.windowStart, c.windowEnd = time.Time{}, time.Time{}
	c.raw = make(map[string]model.EventDefinition)
	c.days = make(map[model.DayKey][]model.PackedSegment)
	c.occupies = make(map[string]map[model.DayKey]struct{})
}

// Clear drops every cached definition and day bucket. The next Update
// rebuilds from scratch.
func (c *Cache) Clear() {
	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
	c.stats = Stats{}
}

// OccurrencesOnDay returns a copy of the packed segments on day.
func (c *Cache) OccurrencesOnDay(day model.DayKey) []model.PackedSegment {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]model.PackedSegment(nil), c.days[day]...)
}

// OccurrencesCoveringInstant returns the segments whose visible range on
// at's display-zone day contains at.
func (c *Cache) OccurrencesCoveringInstant(at time.Time) []model.PackedSegment {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.loc == nil {
		return nil
	}
	local := at.In(c.loc)
	minute := timeutil.MinutesBetween(timeutil.StartOfDay(local), local)

	var out []model.PackedSegment
	for _, p := range c.days[model.DayKeyOf(local)] {
		from, to := p.Interval()
		if from <= minute && minute < to {
			out = append(out, p)
		}
	}
	return out
}

// HitTest narrows OccurrencesCoveringInstant to the segments whose
// horizontal span contains xPercent (0-100 of the lane width).
func (c *Cache) HitTest(at time.Time, xPercent float64) []model.PackedSegment {
	var out []model.PackedSegment
	for _, p := range c.OccurrencesCoveringInstant(at) {
		if p.Placement.XOffsetPercent <= xPercent && xPercent < p.Placement.XOffsetPercent+p.Placement.WidthPercent {
			out = append(out, p)
		}
	}
	return out
}

// Days returns the keys of all non-empty buckets in date order.
func (c *Cache) Days() []model.DayKey {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]model.DayKey, 0, len(c.days))
	for d := range c.days {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Window returns the day-aligned window of the last committed cycle.
func (c *Cache) Window() (time.Time, time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.windowStart, c.windowEnd
}

// Stats returns a snapshot of the work counters.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}
