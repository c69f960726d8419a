package biz

import (
	"time"

	"github.com/looplj/agentpay/internal/pkg/xtime"
)

// Clock fixes the time source and the zone whose calendar bounds usage windows.
type Clock struct {
	Now      func() time.Time
	Location *time.Location
}

func NewClock(cfg LedgerConfig) (*Clock, error) {
	loc, err := xtime.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, err
	}

	return &Clock{Now: xtime.UTCNow, Location: loc}, nil
}

func (c *Clock) now() time.Time {
	if c == nil || c.Now == nil {
		return xtime.UTCNow()
	}

	return c.Now()
}

func (c *Clock) loc() *time.Location {
	if c == nil || c.Location == nil {
		return time.UTC
	}

	return c.Location
}

// DayKey identifies the ledger period containing t.
func (c *Clock) DayKey(t time.Time) string {
	return xtime.DayKey(t, c.loc())
}

// Current is the clock's present instant.
func (c *Clock) Current() time.Time {
	return c.now()
}
