package ics

import (
	"regexp"
	"strconv"
	"time"

	appLog "epddash/internal/log"
	"epddash/internal/model"
)

// DefaultDuration is assumed for timed events that have no usable DTEND.
const DefaultDuration = 60 * time.Minute

// TimeLayout is the serialized form of Event.Start/End: ISO-8601 in UTC
// with milliseconds.
const TimeLayout = "2006-01-02T15:04:05.000Z"

var icsTimeRe = regexp.MustCompile(`^(\d{4})(\d{2})(\d{2})(?:T(\d{2})(\d{2})(\d{2})(Z)?)?$`)

// Resolved is an event whose start and end instants are known.
type Resolved struct {
	Event model.Event
	Start time.Time
	End   time.Time
}

// Normalizer converts raw VEVENT properties into events with absolute
// start/end times.
type Normalizer struct {
	// Location is used for floating date-times and date-only values.
	// Nil means time.Local.
	Location *time.Location

	// HonorTZID makes a loadable TZID parameter on DTSTART/DTEND take
	// precedence over Location.
	HonorTZID bool

	// Duration is added to a timed start when DTEND is missing.
	// Zero means DefaultDuration.
	Duration time.Duration
}

// ParseTime parses YYYYMMDD, YYYYMMDDTHHMMSS or YYYYMMDDTHHMMSSZ. The first
// two are interpreted in loc; the last is UTC. Anything else reports false.
func ParseTime(raw string, loc *time.Location) (time.Time, bool) {
	m := icsTimeRe.FindStringSubmatch(raw)
	if m == nil {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.Local
	}

	year := atoi(m[1])
	month := time.Month(atoi(m[2]))
	day := atoi(m[3])
	if m[4] == "" {
		return time.Date(year, month, day, 0, 0, 0, 0, loc), true
	}

	hour, minute, sec := atoi(m[4]), atoi(m[5]), atoi(m[6])
	if m[7] == "Z" {
		return time.Date(year, month, day, hour, minute, sec, 0, time.UTC), true
	}
	return time.Date(year, month, day, hour, minute, sec, 0, loc), true
}

// IsDateOnly reports whether raw is exactly an 8-digit date.
func IsDateOnly(raw string) bool {
	if len(raw) != 8 {
		return false
	}
	for i := 0; i < len(raw); i++ {
		if raw[i] < '0' || raw[i] > '9' {
			return false
		}
	}
	return true
}

// FormatTime renders t in the serialized event form.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// Resolve builds an event from props. It reports false when DTSTART is
// missing or unparseable. A missing or unparseable DTEND falls back to the
// end of the start day for date-only starts and to start+Duration otherwise.
func (n Normalizer) Resolve(props *Properties) (Resolved, bool) {
	startKey, rawStart, ok := props.Lookup("DTSTART")
	if !ok {
		return Resolved{}, false
	}
	start, ok := ParseTime(rawStart, n.locationFor(startKey))
	if !ok {
		appLog.Debug("ics: dropping event with unparseable DTSTART", "value", rawStart)
		return Resolved{}, false
	}

	end, ok := time.Time{}, false
	if endKey, rawEnd, found := props.Lookup("DTEND"); found {
		end, ok = ParseTime(rawEnd, n.locationFor(endKey))
	}
	if !ok {
		end = n.fallbackEnd(rawStart, start)
	}

	ev := model.Event{
		Summary: model.NoTitle,
		Start:   FormatTime(start),
		End:     FormatTime(end),
	}
	if _, uid, found := props.Lookup("UID"); found {
		ev.ID = uid
	}
	if _, summary, found := props.Lookup("SUMMARY"); found && summary != "" {
		ev.Summary = summary
	}

	return Resolved{Event: ev, Start: start, End: end}, true
}

func (n Normalizer) fallbackEnd(rawStart string, start time.Time) time.Time {
	if IsDateOnly(rawStart) {
		return time.Date(start.Year(), start.Month(), start.Day(), 23, 59, 59, int(999*time.Millisecond), start.Location())
	}
	d := n.Duration
	if d <= 0 {
		d = DefaultDuration
	}
	return start.Add(d)
}

func (n Normalizer) locationFor(key string) *time.Location {
	loc := n.Location
	if loc == nil {
		loc = time.Local
	}
	if !n.HonorTZID {
		return loc
	}
	tzid, ok := Param(key, "TZID")
	if !ok || tzid == "" {
		return loc
	}
	tz, err := time.LoadLocation(tzid)
	if err != nil {
		appLog.Debug("ics: unknown TZID, using display zone", "tzid", tzid)
		return loc
	}
	return tz
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
