// Package clock is the single source of "now" per practice timezone; all
// schedule arithmetic in internal/schedule, internal/slots, and
// internal/reminders routes through it. Grounded on the teacher's
// internal/clinic.Config.IsOpenAt/NextOpenTime timezone handling
// (time.LoadLocation with a UTC fallback on an invalid IANA name).
package clock

import "time"

// Now returns the current instant expressed in the given IANA timezone,
// falling back to UTC if tz is empty or invalid.
func Now(tz string) time.Time {
	return In(time.Now(), tz)
}

// In converts instant to the given timezone, falling back to UTC.
func In(instant time.Time, tz string) time.Time {
	loc, err := time.LoadLocation(tz)
	if err != nil || tz == "" {
		loc = time.UTC
	}
	return instant.In(loc)
}

// Today returns midnight of the current date in the practice timezone.
func Today(tz string) time.Time {
	now := Now(tz)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}

// DateOnly truncates instant to midnight in tz, used as the date-row key for
// schedule overrides / holiday lookups.
func DateOnly(instant time.Time, tz string) time.Time {
	local := In(instant, tz)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseWallClock parses an "HH:MM" string into hour/minute, matching the
// teacher's DayHours.Open/Close representation.
func ParseWallClock(v string) (hour, minute int, ok bool) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, 0, false
	}
	return t.Hour(), t.Minute(), true
}

// AtWallClock returns the instant on date (in tz) at the given "HH:MM".
func AtWallClock(date time.Time, tz, clock string) (time.Time, bool) {
	hour, minute, ok := ParseWallClock(clock)
	if !ok {
		return time.Time{}, false
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.UTC
	}
	d := date.In(loc)
	return time.Date(d.Year(), d.Month(), d.Day(), hour, minute, 0, 0, loc), true
}
