package timeutil_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timelinecal/internal/model"
	"timelinecal/internal/timeutil"
)

func mustZone(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func TestParse(t *testing.T) {
	seoul := mustZone(t, "Asia/Seoul")
	berlin := mustZone(t, "Europe/Berlin")

	for name, test := range map[string]struct {
		input          model.DateTime
		expected       time.Time
		expectedAllDay bool
		expectWarning  bool
		expectErr      bool
	}{
		"all_day": {
			input:          model.DateTime{Date: "2025-03-04"},
			expected:       time.Date(2025, 3, 4, 0, 0, 0, 0, seoul),
			expectedAllDay: true,
		},
		"offset": {
			input:    model.DateTime{DateTime: "2025-03-04T09:00:00Z"},
			expected: time.Date(2025, 3, 4, 18, 0, 0, 0, seoul),
		},
		"local_in_zone": {
			input:    model.DateTime{DateTime: "2025-03-04T09:00:00", TimeZone: "Europe/Berlin"},
			expected: time.Date(2025, 3, 4, 9, 0, 0, 0, berlin),
		},
		"local_without_zone_uses_display": {
			input:    model.DateTime{DateTime: "2025-03-04T09:30"},
			expected: time.Date(2025, 3, 4, 9, 30, 0, 0, seoul),
		},
		"unknown_zone_falls_back": {
			input:         model.DateTime{DateTime: "2025-03-04T09:00:00", TimeZone: "Mars/Olympus"},
			expected:      time.Date(2025, 3, 4, 9, 0, 0, 0, seoul),
			expectWarning: true,
		},
		"garbage": {
			input:     model.DateTime{DateTime: "tomorrow-ish"},
			expectErr: true,
		},
		"bad_date": {
			input:     model.DateTime{Date: "2025-13-01"},
			expectErr: true,
		},
		"empty": {
			input:     model.DateTime{},
			expectErr: true,
		},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			got, allDay, warning, err := timeutil.Parse(test.input, seoul)
			if test.expectErr {
				require.ErrorIs(t, err, model.ErrInvalidInstant)
				return
			}
			require.NoError(t, err)
			if test.expectWarning {
				require.ErrorIs(t, warning, model.ErrTimezoneResolution)
			} else {
				require.NoError(t, warning)
			}
			assert.True(t, test.expected.Equal(got), "expected %s, got %s", test.expected, got)
			assert.Equal(t, seoul, got.Location())
			assert.Equal(t, test.expectedAllDay, allDay)
		})
	}
}

func TestResolveLocation(t *testing.T) {
	t.Parallel()

	loc, err := timeutil.ResolveLocation("", nil)
	require.NoError(t, err)
	assert.Equal(t, timeutil.DefaultZone, loc)

	loc, err = timeutil.ResolveLocation("Nowhere/Special", nil)
	require.ErrorIs(t, err, model.ErrTimezoneResolution)
	assert.Equal(t, timeutil.DefaultZone, loc)
}

func TestDayArithmetic(t *testing.T) {
	t.Parallel()
	berlin := mustZone(t, "Europe/Berlin")

	// 2025-03-30 is 23 hours long in Berlin.
	mid := time.Date(2025, 3, 30, 12, 0, 0, 0, berlin)
	assert.Equal(t, time.Date(2025, 3, 30, 0, 0, 0, 0, berlin), timeutil.StartOfDay(mid))
	assert.Equal(t, time.Date(2025, 3, 31, 0, 0, 0, 0, berlin), timeutil.NextDay(mid))
	assert.Equal(t, 23*60, timeutil.MinutesBetween(timeutil.StartOfDay(mid), timeutil.NextDay(mid)))

	assert.Equal(t, 2, timeutil.DaysBetween(mid, mid.AddDate(0, 0, 2)))
	assert.Equal(t, -1, timeutil.DaysBetween(mid, mid.AddDate(0, 0, -1)))
	assert.Equal(t, 0, timeutil.DaysBetween(mid, mid.Add(time.Hour)))
}

func TestAlignToDays(t *testing.T) {
	t.Parallel()
	start, end := timeutil.AlignToDays(
		time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC),
		time.UTC,
	)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC), end)

	_, end = timeutil.AlignToDays(start, time.Date(2025, 1, 3, 0, 1, 0, 0, time.UTC), time.UTC)
	assert.Equal(t, time.Date(2025, 1, 4, 0, 0, 0, 0, time.UTC), end)
}

func TestOverlaps(t *testing.T) {
	t.Parallel()
	base := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	assert.True(t, timeutil.Overlaps(base, base.Add(time.Hour), base.Add(30*time.Minute), base.Add(2*time.Hour)))
	assert.False(t, timeutil.Overlaps(base, base.Add(time.Hour), base.Add(time.Hour), base.Add(2*time.Hour)))
}

func TestFormatDateTime(t *testing.T) {
	t.Parallel()
	ts := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, model.DateTime{Date: "2025-01-01"}, timeutil.FormatDateTime(ts, true))
	assert.Equal(t, model.DateTime{DateTime: "2025-01-01T09:00:00Z", TimeZone: "UTC"}, timeutil.FormatDateTime(ts, false))
}
