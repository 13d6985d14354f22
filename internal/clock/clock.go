// Package clock produces formatted local timestamps, or Unavailable when the
// time source cannot be trusted.
package clock

import (
	"fmt"
	"time"

	"github.com/afroash/temper-node/internal/models"
)

// DefaultLayout matches the portal table's "Time" column.
const DefaultLayout = "2006-01-02 15:04:05"

// Clock is the time service used for readings and alert cadence.
type Clock interface {
	Now() time.Time
	Stamp() models.Stamp
}

// earliestTrusted is the cut-off below which a wall clock is assumed to be unset.
var earliestTrusted = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// SystemClock formats the host clock.
type SystemClock struct {
	layout   string
	location *time.Location
	now      func() time.Time
}

// NewSystemClock loads the named zone ("" or "Local" for the host zone).
func NewSystemClock(layout, timezone string) (*SystemClock, error) {
	loc, err := loadLocation(timezone)
	if err != nil {
		return nil, err
	}
	if layout == "" {
		layout = DefaultLayout
	}
	return &SystemClock{layout: layout, location: loc, now: time.Now}, nil
}

func loadLocation(timezone string) (*time.Location, error) {
	if timezone == "" || timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", timezone, err)
	}
	return loc, nil
}

func (c *SystemClock) Now() time.Time {
	return c.now()
}

// Stamp returns Unavailable while the host clock still looks unset.
func (c *SystemClock) Stamp() models.Stamp {
	return format(c.now(), c.layout, c.location)
}

func format(t time.Time, layout string, loc *time.Location) models.Stamp {
	if t.Before(earliestTrusted) {
		return models.UnavailableStamp()
	}
	return models.StampOf(t.In(loc).Format(layout))
}
