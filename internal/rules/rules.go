// Package rules compiles configuration-declared override rules into a
// ready-to-evaluate rule set. Compilation is pure: it either returns a
// complete Set or a config-kind error, and never partially succeeds.
package rules

import (
	"fmt"
	"regexp"
	"time"

	"icalproxy/internal/apperr"
	"icalproxy/internal/config"
)

// WallClock is a time-of-day independent of date and timezone.
type WallClock struct {
	Hour   int
	Minute int
	Second int
}

// ParseWallClock parses an "HH:MM:SS" value.
func ParseWallClock(s string) (WallClock, error) {
	t, err := time.Parse("15:04:05", s)
	if err != nil {
		return WallClock{}, fmt.Errorf("invalid wall-clock time %q (want HH:MM:SS): %w", s, err)
	}
	return WallClock{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second()}, nil
}

// TimeRule replaces a matching event's start/end times of day with fixed
// values interpreted in Zone, keeping the event's original calendar date.
type TimeRule struct {
	Pattern *regexp.Regexp
	Start   WallClock
	End     WallClock
	Zone    *time.Location
}

// LocationRule replaces a matching event's LOCATION with Location.
type LocationRule struct {
	Pattern  *regexp.Regexp
	Location string
}

// Set holds the compiled rules for one calendar. Both slices keep
// declaration order; evaluation is top-to-bottom with first match wins,
// independently per kind.
type Set struct {
	Time     []TimeRule
	Location []LocationRule
}

// Empty reports whether the set contains no rules at all.
func (s Set) Empty() bool {
	return len(s.Time) == 0 && len(s.Location) == 0
}

// Compile turns the declared overrides of one calendar into a Set.
// Any invalid declaration (bad regex, bad wall-clock value, unknown
// timezone, missing field) yields a config-kind error; callers surface
// these at startup so a broken registry never serves requests.
func Compile(cal config.Calendar) (Set, error) {
	var set Set

	for i, decl := range cal.TimeOverrides {
		rule, err := compileTimeRule(decl)
		if err != nil {
			return Set{}, apperr.Wrap(err, apperr.KindConfig, "time_overrides[%d]", i)
		}
		set.Time = append(set.Time, rule)
	}

	for i, decl := range cal.LocationOverrides {
		rule, err := compileLocationRule(decl)
		if err != nil {
			return Set{}, apperr.Wrap(err, apperr.KindConfig, "location_overrides[%d]", i)
		}
		set.Location = append(set.Location, rule)
	}

	return set, nil
}

func compileTimeRule(decl config.TimeOverride) (TimeRule, error) {
	pattern, err := compilePattern(decl.Regex)
	if err != nil {
		return TimeRule{}, err
	}
	if decl.StartTime == "" || decl.EndTime == "" {
		return TimeRule{}, fmt.Errorf("start_time and end_time are required")
	}
	start, err := ParseWallClock(decl.StartTime)
	if err != nil {
		return TimeRule{}, err
	}
	end, err := ParseWallClock(decl.EndTime)
	if err != nil {
		return TimeRule{}, err
	}
	if decl.Timezone == "" {
		return TimeRule{}, fmt.Errorf("timezone is required")
	}
	zone, err := time.LoadLocation(decl.Timezone)
	if err != nil {
		return TimeRule{}, fmt.Errorf("unknown timezone %q: %w", decl.Timezone, err)
	}
	return TimeRule{Pattern: pattern, Start: start, End: end, Zone: zone}, nil
}

func compileLocationRule(decl config.LocationOverride) (LocationRule, error) {
	pattern, err := compilePattern(decl.Regex)
	if err != nil {
		return LocationRule{}, err
	}
	if decl.Location == "" {
		return LocationRule{}, fmt.Errorf("location is required")
	}
	return LocationRule{Pattern: pattern, Location: decl.Location}, nil
}

// compilePattern compiles a declared regex as case-insensitive. Matching
// is substring search, so patterns need no anchors.
func compilePattern(expr string) (*regexp.Regexp, error) {
	if expr == "" {
		return nil, fmt.Errorf("regex is required")
	}
	pattern, err := regexp.Compile("(?i)" + expr)
	if err != nil {
		return nil, fmt.Errorf("invalid regex %q: %w", expr, err)
	}
	return pattern, nil
}
