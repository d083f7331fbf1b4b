package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"icalproxy/internal/apperr"
	"icalproxy/internal/config"
)

func TestCompileValid(t *testing.T) {
	cal := config.Calendar{
		TimeOverrides: []config.TimeOverride{
			{Regex: "standup", StartTime: "09:00:00", EndTime: "09:15:00", Timezone: "America/New_York"},
			{Regex: "^Weekly", StartTime: "14:30:00", EndTime: "15:00:00", Timezone: "Europe/Berlin"},
		},
		LocationOverrides: []config.LocationOverride{
			{Regex: "standup", Location: "Room 4"},
		},
	}

	set, err := Compile(cal)
	require.NoError(t, err)
	require.Len(t, set.Time, 2)
	require.Len(t, set.Location, 1)
	assert.False(t, set.Empty())

	// Declaration order is preserved; it is the precedence order.
	assert.Equal(t, 9, set.Time[0].Start.Hour)
	assert.Equal(t, 14, set.Time[1].Start.Hour)
	assert.Equal(t, 30, set.Time[1].Start.Minute)
	assert.Equal(t, "America/New_York", set.Time[0].Zone.String())

	// Patterns are case-insensitive substring matchers.
	assert.True(t, set.Time[0].Pattern.MatchString("Daily STANDUP meeting"))
	assert.True(t, set.Location[0].Pattern.MatchString("Standup"))
}

func TestCompileEmpty(t *testing.T) {
	set, err := Compile(config.Calendar{})
	require.NoError(t, err)
	assert.True(t, set.Empty())
}

func TestCompileBadRegex(t *testing.T) {
	_, err := Compile(config.Calendar{
		TimeOverrides: []config.TimeOverride{
			{Regex: "([unclosed", StartTime: "09:00:00", EndTime: "10:00:00", Timezone: "UTC"},
		},
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindConfig, apperr.KindOf(err))
}

func TestCompileUnknownTimezone(t *testing.T) {
	_, err := Compile(config.Calendar{
		TimeOverrides: []config.TimeOverride{
			{Regex: "x", StartTime: "09:00:00", EndTime: "10:00:00", Timezone: "Mars/Olympus_Mons"},
		},
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindConfig, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "Mars/Olympus_Mons")
}

func TestCompileBadWallClock(t *testing.T) {
	for _, bad := range []string{"9:00", "25:00:00", "09:61:00", "morning", ""} {
		_, err := Compile(config.Calendar{
			TimeOverrides: []config.TimeOverride{
				{Regex: "x", StartTime: bad, EndTime: "10:00:00", Timezone: "UTC"},
			},
		})
		require.Error(t, err, "start_time %q should not compile", bad)
		assert.Equal(t, apperr.KindConfig, apperr.KindOf(err))
	}
}

func TestCompileMissingFields(t *testing.T) {
	_, err := Compile(config.Calendar{
		TimeOverrides: []config.TimeOverride{
			{Regex: "x", StartTime: "09:00:00", EndTime: "10:00:00"},
		},
	})
	require.Error(t, err, "missing timezone")

	_, err = Compile(config.Calendar{
		LocationOverrides: []config.LocationOverride{{Regex: "x"}},
	})
	require.Error(t, err, "missing location")

	_, err = Compile(config.Calendar{
		LocationOverrides: []config.LocationOverride{{Location: "Room 1"}},
	})
	require.Error(t, err, "missing regex")
}

func TestParseWallClock(t *testing.T) {
	wc, err := ParseWallClock("23:59:59")
	require.NoError(t, err)
	assert.Equal(t, WallClock{Hour: 23, Minute: 59, Second: 59}, wc)

	wc, err = ParseWallClock("00:00:00")
	require.NoError(t, err)
	assert.Equal(t, WallClock{}, wc)
}
