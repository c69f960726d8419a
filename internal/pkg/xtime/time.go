package xtime

import (
	"fmt"
	"time"
)

// DayKeyLayout formats the period key persisted for daily usage resets.
const DayKeyLayout = "2006-01-02"

func UTCNow() time.Time {
	return time.Now().UTC()
}

// Period represents a time period with Start (inclusive) and End (exclusive)
// The period is a half-open interval [Start, End).
type Period struct {
	Start time.Time
	End   time.Time
}

func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// Day returns the calendar day containing t in loc, expressed in UTC.
func Day(t time.Time, loc *time.Location) Period {
	if loc == nil {
		loc = time.UTC
	}

	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	return Period{Start: start.UTC(), End: start.AddDate(0, 0, 1).UTC()}
}

// Hour returns the clock hour containing t in loc, expressed in UTC.
// Half-hour offset zones are honoured because truncation happens on local wall time.
func Hour(t time.Time, loc *time.Location) Period {
	if loc == nil {
		loc = time.UTC
	}

	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), 0, 0, 0, loc)

	return Period{Start: start.UTC(), End: start.Add(time.Hour).UTC()}
}

// DayKey is the stable identifier of the calendar day containing t in loc.
func DayKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}

	return t.In(loc).Format(DayKeyLayout)
}

// LoadLocation resolves an IANA zone name, treating empty as UTC.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" || name == "UTC" {
		return time.UTC, nil
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load time location %q: %w", name, err)
	}

	return loc, nil
}
