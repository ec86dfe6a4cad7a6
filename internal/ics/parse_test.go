package ics_test

import (
	"context"
	_ "embed"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timelinecal/internal/engine"
	"timelinecal/internal/ics"
	"timelinecal/internal/model"
)

//go:embed testdata/sample.ics
var sample []byte

func byID(t *testing.T, defs []model.EventDefinition) map[string]model.EventDefinition {
	t.Helper()
	out := make(map[string]model.EventDefinition, len(defs))
	for _, d := range defs {
		out[d.ID] = d
	}
	require.Len(t, out, len(defs), "ids must be unique")
	return out
}

func TestParseICS(t *testing.T) {
	t.Parallel()
	defs, err := ics.ParseICS("sample", sample)
	require.NoError(t, err)
	require.Len(t, defs, 5)
	got := byID(t, defs)

	standup := got["standup@example.com"]
	assert.Equal(t, "Standup", standup.Title)
	assert.Equal(t, "teal", standup.Color)
	assert.Equal(t, model.DateTime{DateTime: "2025-06-02T09:30:00", TimeZone: "Europe/Berlin"}, standup.Start)
	assert.Equal(t, model.DateTime{DateTime: "2025-06-02T09:45:00", TimeZone: "Europe/Berlin"}, standup.End)
	assert.Equal(t, "FREQ=WEEKLY;BYDAY=MO,WE,FR;COUNT=10", standup.RecurrenceRule)
	assert.Equal(t, []string{"2025-06-04", "2025-06-06"}, standup.ExcludeDates)

	moved := got["standup@example.com@20250609T093000"]
	assert.Equal(t, "standup@example.com", moved.RecurringEventID)
	require.NotNil(t, moved.OriginalStartTime)
	assert.Equal(t, model.DateTime{DateTime: "2025-06-09T09:30:00", TimeZone: "Europe/Berlin"}, *moved.OriginalStartTime)
	assert.Empty(t, moved.RecurrenceRule)

	offsite := got["offsite@example.com"]
	assert.Equal(t, model.DateTime{Date: "2025-06-12"}, offsite.Start)
	assert.Equal(t, model.DateTime{Date: "2025-06-14"}, offsite.End)
	assert.Equal(t, map[string]any{"location": "Lisbon", "description": "Bring a jacket", "sequence": 2}, offsite.Metadata)

	review := got["review@example.com"]
	assert.Equal(t, model.DateTime{DateTime: "2025-06-03T13:00:00Z"}, review.Start)
	assert.Equal(t, model.DateTime{DateTime: "2025-06-03T14:30:00Z"}, review.End)

	var generated model.EventDefinition
	for id, d := range got {
		if d.Title == "No uid" {
			generated = d
			_, err := uuid.Parse(id)
			assert.NoError(t, err)
		}
	}
	require.NotEmpty(t, generated.ID)

	again, err := ics.ParseICS("sample", sample)
	require.NoError(t, err)
	assert.Contains(t, byID(t, again), generated.ID, "generated ids are stable")
}

func TestParseICSErrors(t *testing.T) {
	for name, body := range map[string]string{
		"empty":      "",
		"whitespace": "  \r\n",
		"not_ics":    "BEGIN:VCALENDAR\r\nthis is not a calendar",
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := ics.ParseICS(name, []byte(body))
			require.Error(t, err)
		})
	}
}

func TestImportedCalendarLayout(t *testing.T) {
	t.Parallel()
	defs, err := ics.ParseICS("sample", sample)
	require.NoError(t, err)

	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	c := engine.NewCache()
	res, err := c.Update(context.Background(), defs, engine.Params{
		WindowStart: time.Date(2025, 6, 2, 0, 0, 0, 0, berlin),
		WindowEnd:   time.Date(2025, 6, 16, 0, 0, 0, 0, berlin),
		TimeZone:    "Europe/Berlin",
	})
	require.NoError(t, err)
	assert.Empty(t, res.Diagnostics)

	starts := func(day model.DayKey) map[string]int {
		out := map[string]int{}
		for _, s := range c.OccurrencesOnDay(day) {
			out[s.EventID] = s.StartMinutesInDay
		}
		return out
	}

	assert.Equal(t, map[string]int{"standup@example.com": 570}, starts("2025-06-02"))
	assert.Equal(t, map[string]int{"review@example.com": 900}, starts("2025-06-03"))
	assert.Empty(t, starts("2025-06-04"), "excluded by local EXDATE")
	assert.Empty(t, starts("2025-06-06"), "excluded by UTC EXDATE")
	assert.Equal(t, map[string]int{"standup@example.com@20250609T093000": 660}, starts("2025-06-09"))
	assert.Equal(t, map[string]int{"standup@example.com": 570}, starts("2025-06-11"))
	assert.Equal(t, map[string]int{"offsite@example.com": 0}, starts("2025-06-12"))
	assert.Contains(t, starts("2025-06-13"), "offsite@example.com")
	assert.Empty(t, starts("2025-06-14"))
}
