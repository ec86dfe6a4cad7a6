package model

import "time"

// DateTime is the wire shape of an event boundary. Exactly one of Date
// (all-day, "2006-01-02") or DateTime (ISO-8601) is expected to be set.
// A DateTime without a UTC offset is interpreted in TimeZone.
type DateTime struct {
	Date     string `yaml:"date,omitempty" json:"date,omitempty"`
	DateTime string `yaml:"dateTime,omitempty" json:"dateTime,omitempty"`
	TimeZone string `yaml:"timeZone,omitempty" json:"timeZone,omitempty"`
}

// IsDate reports whether d is a date-only (all-day) value.
func (d DateTime) IsDate() bool {
	return d.Date != "" && d.DateTime == ""
}

// EventDefinition is the unit of user input. The engine only reads it.
type EventDefinition struct {
	ID    string `yaml:"id" json:"id"`
	Title string `yaml:"title,omitempty" json:"title,omitempty"`
	Color string `yaml:"color,omitempty" json:"color,omitempty"`

	Start DateTime `yaml:"start" json:"start"`
	End   DateTime `yaml:"end" json:"end"`

	// RecurrenceRule is an RFC 5545 RRULE value, with or without the
	// "RRULE:" prefix.
	RecurrenceRule string `yaml:"recurrenceRule,omitempty" json:"recurrenceRule,omitempty"`

	// RecurringEventID links a modified occurrence to the definition that
	// generated it. OriginalStartTime is the start the occurrence had
	// before it was moved.
	RecurringEventID  string    `yaml:"recurringEventId,omitempty" json:"recurringEventId,omitempty"`
	OriginalStartTime *DateTime `yaml:"originalStartTime,omitempty" json:"originalStartTime,omitempty"`

	// ExcludeDates are date-only values ("2006-01-02") suppressed from
	// expansion.
	ExcludeDates []string `yaml:"excludeDates,omitempty" json:"excludeDates,omitempty"`

	ResourceID string `yaml:"resourceId,omitempty" json:"resourceId,omitempty"`

	// Metadata is passed through untouched.
	Metadata map[string]any `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// IsRecurring reports whether the definition carries a recurrence rule.
func (e EventDefinition) IsRecurring() bool {
	return e.RecurrenceRule != ""
}

// Occurrence represents a single concrete instance of an event definition
// (after recurrence expansion and timezone normalization).
type Occurrence struct {
	EventID          string
	RecurringEventID string

	// InstanceKey identifies one occurrence of a recurring definition,
	// derived from the display-zone start.
	InstanceKey string

	Title      string
	Color      string
	ResourceID string
	Metadata   map[string]any

	AllDay bool

	// Start / End are in the display timezone.
	Start time.Time
	End   time.Time

	DurationMinutes int
}

// Segment is the part of an occurrence visible on one calendar day.
type Segment struct {
	Day DayKey `yaml:"day" json:"day"`

	EventID          string         `yaml:"eventId" json:"eventId"`
	RecurringEventID string         `yaml:"recurringEventId,omitempty" json:"recurringEventId,omitempty"`
	InstanceKey      string         `yaml:"instanceKey" json:"instanceKey"`
	Title            string         `yaml:"title,omitempty" json:"title,omitempty"`
	Color            string         `yaml:"color,omitempty" json:"color,omitempty"`
	ResourceID       string         `yaml:"resourceId,omitempty" json:"resourceId,omitempty"`
	Metadata         map[string]any `yaml:"metadata,omitempty" json:"metadata,omitempty"`
	AllDay           bool           `yaml:"allDay,omitempty" json:"allDay,omitempty"`

	// StartMinutesInDay is the start offset relative to the day. It is
	// negative for continuation segments, which visually begin above the
	// day's time range.
	StartMinutesInDay int `yaml:"startMinutesInDay" json:"startMinutesInDay"`

	// VisibleStartMinutes is where the visible portion begins on Day
	// (>= 0). It equals StartMinutesInDay for an unclipped first day.
	VisibleStartMinutes int `yaml:"visibleStartMinutes" json:"visibleStartMinutes"`

	DurationMinutes   int `yaml:"durationMinutes" json:"durationMinutes"`
	ContinuationIndex int `yaml:"continuationIndex" json:"continuationIndex"`

	// OccurrenceStart / OccurrenceEnd are the full, unclipped bounds.
	OccurrenceStart time.Time `yaml:"occurrenceStart" json:"occurrenceStart"`
	OccurrenceEnd   time.Time `yaml:"occurrenceEnd" json:"occurrenceEnd"`
}

// Interval returns the half-open minute range the segment covers on its day.
func (s Segment) Interval() (from, to int) {
	return s.VisibleStartMinutes, s.VisibleStartMinutes + s.DurationMinutes
}

// Lane returns the independent overlap partition the segment belongs to.
func (s Segment) Lane() Lane {
	return Lane{AllDay: s.AllDay, ResourceID: s.ResourceID}
}

// Lane is an overlap-resolution partition within a day.
type Lane struct {
	AllDay     bool
	ResourceID string
}

// OverlapType selects how simultaneous segments are placed.
type OverlapType string

const (
	// OverlapNone divides the lane into equal columns.
	OverlapNone OverlapType = "no-overlap"
	// OverlapStack cascades later segments to the right.
	OverlapStack OverlapType = "overlap"
)

// Placement is the layout assigned to a segment. Column / ColumnCount are
// set in OverlapNone mode; StackLevel in OverlapStack mode. Width and
// offset percentages are set in both.
type Placement struct {
	Mode           OverlapType `yaml:"mode" json:"mode"`
	Column         int         `yaml:"column" json:"column"`
	ColumnCount    int         `yaml:"columnCount" json:"columnCount"`
	StackLevel     int         `yaml:"stackLevel,omitempty" json:"stackLevel,omitempty"`
	WidthPercent   float64     `yaml:"widthPercent" json:"widthPercent"`
	XOffsetPercent float64     `yaml:"xOffsetPercent" json:"xOffsetPercent"`
}

// PackedSegment is a segment with its layout.
type PackedSegment struct {
	Segment   `yaml:",inline"`
	Placement Placement `yaml:"placement" json:"placement"`
}
