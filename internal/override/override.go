// Package override applies compiled rule sets to parsed calendars. Each
// VEVENT is matched independently against the time rules and the location
// rules; within each kind the first matching rule (declaration order)
// wins and evaluation stops.
package override

import (
	"time"

	"icalproxy/internal/apperr"
	"icalproxy/internal/ical"
	"icalproxy/internal/rules"
)

// Transform parses raw iCalendar bytes, applies the rule set, and
// serializes the result. It is all-or-nothing: on any error no output is
// produced. Errors are parse-kind (bad input) or transform-kind (a
// matched event is missing required timing data).
func Transform(raw []byte, set rules.Set) ([]byte, error) {
	doc, err := ical.Parse(raw)
	if err != nil {
		return nil, err
	}
	if err := Apply(doc, set); err != nil {
		return nil, err
	}
	return doc.Serialize(), nil
}

// Apply rewrites doc in place according to set. The caller owns doc and
// must be its sole consumer afterwards. Events carry no state across one
// another; document order is preserved.
func Apply(doc *ical.Document, set rules.Set) error {
	if set.Empty() {
		return nil
	}
	for _, event := range doc.Events() {
		if err := applyToEvent(event, set); err != nil {
			return err
		}
	}
	return nil
}

func applyToEvent(event *ical.Event, set rules.Set) error {
	// An absent SUMMARY matches nothing; the event passes through.
	summary := event.Summary()

	for _, rule := range set.Time {
		if !rule.Pattern.MatchString(summary) {
			continue
		}
		if err := rewriteTimes(event, rule); err != nil {
			return apperr.Wrap(err, apperr.KindTransform,
				"time override %q on event %q", rule.Pattern.String(), summary)
		}
		break
	}

	for _, rule := range set.Location {
		if rule.Pattern.MatchString(summary) {
			event.SetLocation(rule.Location)
			break
		}
	}

	return nil
}

// rewriteTimes replaces the event's start and end times of day with the
// rule's wall-clock values, interpreted in the rule's zone and converted
// back into the event's own zone. The event's calendar date and its
// serialization mode are both preserved; the date is taken from DTSTART
// for the end time as well, so an end earlier than the start stays on the
// same date (no overnight rollover).
func rewriteTimes(event *ical.Event, rule rules.TimeRule) error {
	start, err := event.Start()
	if err != nil {
		return err
	}
	// DTEND must be present even though its value is fully replaced;
	// guessing timing data for an event that never declared it is worse
	// than failing the request.
	if _, err := event.End(); err != nil {
		return err
	}

	eventZone := start.Loc
	if eventZone == nil {
		eventZone = time.UTC
	}
	year, month, day := start.Time.Date()

	newStart := time.Date(year, month, day,
		rule.Start.Hour, rule.Start.Minute, rule.Start.Second, 0, rule.Zone).In(eventZone)
	newEnd := time.Date(year, month, day,
		rule.End.Hour, rule.End.Minute, rule.End.Second, 0, rule.Zone).In(eventZone)

	mode := outputMode(start)
	event.SetStart(ical.Timestamp{Time: newStart, Mode: mode, Loc: eventZone, TZID: start.TZID})
	event.SetEnd(ical.Timestamp{Time: newEnd, Mode: mode, Loc: eventZone, TZID: start.TZID})

	return nil
}

// outputMode maps the original DTSTART mode to the mode used for the
// rewritten values. Zone-qualified and UTC values keep their form;
// floating and date-only values come out as UTC date-times, since the
// replacement instants are zone-aware.
func outputMode(start ical.Timestamp) ical.TimeMode {
	if start.Mode == ical.ModeZoned {
		return ical.ModeZoned
	}
	return ical.ModeUTC
}
