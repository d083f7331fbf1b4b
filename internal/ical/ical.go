// Package ical adapts raw iCalendar bytes to a mutable in-memory document
// the override engine can work on, and serializes it back. Properties not
// touched through this package survive a parse/serialize round trip.
package ical

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"

	"icalproxy/internal/apperr"
)

// TimeMode describes how a DTSTART/DTEND value was serialized upstream.
type TimeMode int

const (
	// ModeUTC is an absolute UTC value ("20240101T100000Z").
	ModeUTC TimeMode = iota
	// ModeZoned is a local value qualified by a TZID parameter.
	ModeZoned
	// ModeFloating is a bare local value with no zone attached.
	ModeFloating
	// ModeDate is a date-only value (all-day events).
	ModeDate
)

const (
	layoutUTC      = "20060102T150405Z"
	layoutLocal    = "20060102T150405"
	layoutDateOnly = "20060102"
)

// Timestamp is a parsed DTSTART/DTEND value together with its
// serialization mode. For ModeZoned, Loc and TZID carry the event's zone;
// for every other mode Loc is UTC (floating and date-only values are
// interpreted as UTC by this proxy).
type Timestamp struct {
	Time time.Time
	Mode TimeMode
	Loc  *time.Location
	TZID string
}

// Document wraps a parsed calendar.
type Document struct {
	cal *ics.Calendar
}

// Parse reads an iCalendar byte stream into a Document. Malformed input
// yields a parse-kind error.
func Parse(raw []byte) (*Document, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, apperr.New(apperr.KindParse, "empty calendar body")
	}
	cal, err := ics.ParseCalendar(bytes.NewReader(raw))
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindParse, "invalid iCalendar data")
	}
	return &Document{cal: cal}, nil
}

// Serialize renders the document back to iCalendar bytes.
func (d *Document) Serialize() []byte {
	return []byte(d.cal.Serialize())
}

// Events returns the document's VEVENT components. The returned values
// alias the document; mutations through them are visible in Serialize.
func (d *Document) Events() []*Event {
	ves := d.cal.Events()
	events := make([]*Event, 0, len(ves))
	for _, ve := range ves {
		events = append(events, &Event{ve: ve})
	}
	return events
}

// Event is a single VEVENT component.
type Event struct {
	ve *ics.VEvent
}

// Summary returns the event's SUMMARY text, unescaped, or "" if absent.
func (e *Event) Summary() string {
	p := e.ve.GetProperty(ics.ComponentPropertySummary)
	if p == nil {
		return ""
	}
	return unescapeText(p.Value)
}

// Location returns the event's LOCATION text, unescaped, or "" if absent.
func (e *Event) Location() string {
	p := e.ve.GetProperty(ics.ComponentPropertyLocation)
	if p == nil {
		return ""
	}
	return unescapeText(p.Value)
}

// SetLocation sets or replaces the event's LOCATION, escaping the text
// per RFC 5545. Any prior value (and its parameters) is discarded.
func (e *Event) SetLocation(text string) {
	e.ve.SetProperty(ics.ComponentPropertyLocation, escapeText(text))
}

// Start returns the parsed DTSTART. Absent or unparseable values are
// errors; the caller decides how fatal that is.
func (e *Event) Start() (Timestamp, error) {
	return e.timestamp(ics.ComponentPropertyDtStart)
}

// End returns the parsed DTEND.
func (e *Event) End() (Timestamp, error) {
	return e.timestamp(ics.ComponentPropertyDtEnd)
}

// SetStart replaces DTSTART with ts, serialized according to ts.Mode.
func (e *Event) SetStart(ts Timestamp) {
	e.setTimestamp(ics.ComponentPropertyDtStart, ts)
}

// SetEnd replaces DTEND with ts, serialized according to ts.Mode.
func (e *Event) SetEnd(ts Timestamp) {
	e.setTimestamp(ics.ComponentPropertyDtEnd, ts)
}

func (e *Event) timestamp(prop ics.ComponentProperty) (Timestamp, error) {
	p := e.ve.GetProperty(prop)
	if p == nil {
		return Timestamp{}, fmt.Errorf("missing %s", string(prop))
	}

	v := strings.TrimSpace(p.Value)
	if v == "" {
		return Timestamp{}, fmt.Errorf("empty %s", string(prop))
	}

	// TZID parameter takes precedence: the value is local to that zone.
	if tzids, ok := p.ICalParameters["TZID"]; ok && len(tzids) > 0 && tzids[0] != "" {
		tzid := tzids[0]
		loc, err := time.LoadLocation(tzid)
		if err != nil {
			return Timestamp{}, fmt.Errorf("%s: unresolvable TZID %q: %w", string(prop), tzid, err)
		}
		t, err := time.ParseInLocation(layoutLocal, v, loc)
		if err != nil {
			return Timestamp{}, fmt.Errorf("%s: invalid zoned value %q: %w", string(prop), v, err)
		}
		return Timestamp{Time: t, Mode: ModeZoned, Loc: loc, TZID: tzid}, nil
	}

	// Explicit VALUE=DATE, or no time part at all: date-only.
	if isDateValue(p) {
		t, err := time.ParseInLocation(layoutDateOnly, v, time.UTC)
		if err != nil {
			return Timestamp{}, fmt.Errorf("%s: invalid date value %q: %w", string(prop), v, err)
		}
		return Timestamp{Time: t, Mode: ModeDate, Loc: time.UTC}, nil
	}

	// UTC form, e.g. 20240101T100000Z.
	if strings.HasSuffix(v, "Z") {
		t, err := time.Parse(layoutUTC, v)
		if err != nil {
			return Timestamp{}, fmt.Errorf("%s: invalid UTC value %q: %w", string(prop), v, err)
		}
		return Timestamp{Time: t, Mode: ModeUTC, Loc: time.UTC}, nil
	}

	// Floating local date-time; interpreted as UTC.
	t, err := time.ParseInLocation(layoutLocal, v, time.UTC)
	if err != nil {
		return Timestamp{}, fmt.Errorf("%s: invalid value %q: %w", string(prop), v, err)
	}
	return Timestamp{Time: t, Mode: ModeFloating, Loc: time.UTC}, nil
}

func (e *Event) setTimestamp(prop ics.ComponentProperty, ts Timestamp) {
	switch ts.Mode {
	case ModeZoned:
		e.ve.SetProperty(prop, ts.Time.In(ts.Loc).Format(layoutLocal),
			&ics.KeyValues{Key: "TZID", Value: []string{ts.TZID}})
	default:
		// UTC form. Floating and date-only inputs are rewritten as UTC,
		// matching how tz-aware replacement values serialize.
		e.ve.SetProperty(prop, ts.Time.UTC().Format(layoutUTC))
	}
}

func isDateValue(p *ics.IANAProperty) bool {
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

// escapeText escapes a text value per RFC 5545 section 3.3.11.
func escapeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case ';':
			b.WriteString(`\;`)
		case ',':
			b.WriteString(`\,`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			// Bare CR never appears in a text value.
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// unescapeText reverses RFC 5545 text escaping.
func unescapeText(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	escaped := false
	for _, r := range s {
		if !escaped {
			if r == '\\' {
				escaped = true
			} else {
				b.WriteRune(r)
			}
			continue
		}
		switch r {
		case 'n', 'N':
			b.WriteRune('\n')
		default:
			b.WriteRune(r)
		}
		escaped = false
	}
	return b.String()
}
