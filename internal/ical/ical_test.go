package ical

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"icalproxy/internal/apperr"
)

func buildICS(eventLines ...string) []byte {
	lines := []string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//icalproxy//test//EN",
		"BEGIN:VEVENT",
		"UID:event-1@test",
		"DTSTAMP:20240101T000000Z",
	}
	lines = append(lines, eventLines...)
	lines = append(lines, "END:VEVENT", "END:VCALENDAR")
	return []byte(strings.Join(lines, "\r\n") + "\r\n")
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse([]byte("this is not a calendar"))
	require.Error(t, err)
	assert.Equal(t, apperr.KindParse, apperr.KindOf(err))
}

func TestParseRejectsEmpty(t *testing.T) {
	_, err := Parse([]byte("   \n"))
	require.Error(t, err)
	assert.Equal(t, apperr.KindParse, apperr.KindOf(err))
}

func TestTimestampModes(t *testing.T) {
	tests := []struct {
		name     string
		dtstart  string
		wantMode TimeMode
		wantTime time.Time
	}{
		{
			name:     "utc",
			dtstart:  "DTSTART:20240101T100000Z",
			wantMode: ModeUTC,
			wantTime: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
		},
		{
			name:     "floating",
			dtstart:  "DTSTART:20240101T100000",
			wantMode: ModeFloating,
			wantTime: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
		},
		{
			name:     "date only",
			dtstart:  "DTSTART;VALUE=DATE:20240101",
			wantMode: ModeDate,
			wantTime: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			doc, err := Parse(buildICS("SUMMARY:Test", tc.dtstart, "DTEND:20240101T110000Z"))
			require.NoError(t, err)
			events := doc.Events()
			require.Len(t, events, 1)

			ts, err := events[0].Start()
			require.NoError(t, err)
			assert.Equal(t, tc.wantMode, ts.Mode)
			assert.True(t, ts.Time.Equal(tc.wantTime), "got %v want %v", ts.Time, tc.wantTime)
		})
	}
}

func TestTimestampZoned(t *testing.T) {
	doc, err := Parse(buildICS(
		"SUMMARY:Zoned",
		"DTSTART;TZID=America/New_York:20240101T100000",
		"DTEND;TZID=America/New_York:20240101T110000",
	))
	require.NoError(t, err)

	ts, err := doc.Events()[0].Start()
	require.NoError(t, err)
	assert.Equal(t, ModeZoned, ts.Mode)
	assert.Equal(t, "America/New_York", ts.TZID)

	// 10:00 EST is 15:00 UTC.
	assert.True(t, ts.Time.Equal(time.Date(2024, 1, 1, 15, 0, 0, 0, time.UTC)))
}

func TestTimestampUnresolvableTZID(t *testing.T) {
	doc, err := Parse(buildICS(
		"SUMMARY:Bad zone",
		"DTSTART;TZID=Not/A_Zone:20240101T100000",
		"DTEND:20240101T110000Z",
	))
	require.NoError(t, err)

	_, err = doc.Events()[0].Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Not/A_Zone")
}

func TestTimestampMissing(t *testing.T) {
	doc, err := Parse(buildICS("SUMMARY:No times"))
	require.NoError(t, err)

	_, err = doc.Events()[0].Start()
	require.Error(t, err)
	_, err = doc.Events()[0].End()
	require.Error(t, err)
}

func TestSetTimestampRoundTrip(t *testing.T) {
	doc, err := Parse(buildICS(
		"SUMMARY:Zoned",
		"DTSTART;TZID=Europe/Berlin:20240601T090000",
		"DTEND;TZID=Europe/Berlin:20240601T100000",
	))
	require.NoError(t, err)
	event := doc.Events()[0]

	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	event.SetStart(Timestamp{
		Time: time.Date(2024, 6, 1, 14, 0, 0, 0, berlin),
		Mode: ModeZoned,
		Loc:  berlin,
		TZID: "Europe/Berlin",
	})

	reparsed, err := Parse(doc.Serialize())
	require.NoError(t, err)
	ts, err := reparsed.Events()[0].Start()
	require.NoError(t, err)
	assert.Equal(t, ModeZoned, ts.Mode)
	assert.Equal(t, "Europe/Berlin", ts.TZID)
	assert.True(t, ts.Time.Equal(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)))
}

func TestSummaryAndLocationUnescaped(t *testing.T) {
	doc, err := Parse(buildICS(
		`SUMMARY:Lunch\, then sync\; bring notes`,
		"DTSTART:20240101T100000Z",
		"DTEND:20240101T110000Z",
		`LOCATION:Caf\\e one`,
	))
	require.NoError(t, err)
	event := doc.Events()[0]

	assert.Equal(t, "Lunch, then sync; bring notes", event.Summary())
	assert.Equal(t, `Caf\e one`, event.Location())
}

func TestSetLocationEscapes(t *testing.T) {
	doc, err := Parse(buildICS(
		"SUMMARY:Meeting",
		"DTSTART:20240101T100000Z",
		"DTEND:20240101T110000Z",
	))
	require.NoError(t, err)

	doc.Events()[0].SetLocation("Building A, Floor 2; Room 5")

	reparsed, err := Parse(doc.Serialize())
	require.NoError(t, err)
	assert.Equal(t, "Building A, Floor 2; Room 5", reparsed.Events()[0].Location())

	out := string(doc.Serialize())
	assert.Contains(t, out, `Building A\, Floor 2\; Room 5`)
}

func TestRoundTripPreservesUntouchedProperties(t *testing.T) {
	raw := buildICS(
		"SUMMARY:Untouched",
		"DTSTART:20240101T100000Z",
		"DTEND:20240101T110000Z",
		"DESCRIPTION:keep me",
		"X-CUSTOM-FIELD:opaque value",
		"STATUS:CONFIRMED",
	)
	doc, err := Parse(raw)
	require.NoError(t, err)

	out := string(doc.Serialize())
	assert.Contains(t, out, "DESCRIPTION:keep me")
	assert.Contains(t, out, "X-CUSTOM-FIELD:opaque value")
	assert.Contains(t, out, "STATUS:CONFIRMED")
	assert.Contains(t, out, "UID:event-1@test")
}

func TestEscapeTextRoundTrip(t *testing.T) {
	for _, s := range []string{
		"plain",
		"a,b;c",
		`back\slash`,
		"line\nbreak",
		"",
	} {
		assert.Equal(t, s, unescapeText(escapeText(s)), "round trip of %q", s)
	}
}
