package calendar

import (
	"fmt"
	"time"

	"testerhub-engagement/pkg/config"
)

// Clock supplies the current calendar day. Every component asks the same
// Clock so a check-in and the status read after it agree on "today".
type Clock interface {
	Now() time.Time
	Today() Date
}

type zoneClock struct {
	loc *time.Location
	now func() time.Time
}

func NewClock(loc *time.Location) Clock {
	return &zoneClock{loc: loc, now: time.Now}
}

// ProvideClock builds the process clock from ENGAGEMENT.TIMEZONE.
func ProvideClock(cfg *config.Config) (Clock, error) {
	loc, err := time.LoadLocation(cfg.Engagement.Timezone)
	if err != nil {
		return nil, fmt.Errorf("calendar: load timezone %q: %w", cfg.Engagement.Timezone, err)
	}
	return NewClock(loc), nil
}

func (c *zoneClock) Now() time.Time { return c.now().In(c.loc) }
func (c *zoneClock) Today() Date    { return DateOf(c.Now()) }

// FixedClock always reports the same instant. Used by tests and replays.
type FixedClock struct {
	At time.Time
}

func (c *FixedClock) Now() time.Time { return c.At }
func (c *FixedClock) Today() Date    { return DateOf(c.At) }

// Advance moves the clock forward by n days.
func (c *FixedClock) Advance(days int) {
	c.At = c.At.AddDate(0, 0, days)
}

// FixedOn returns a FixedClock at noon UTC of d.
func FixedOn(d Date) *FixedClock {
	return &FixedClock{At: d.Time().Add(12 * time.Hour)}
}
