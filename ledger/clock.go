package ledger

import (
	"fmt"
	"time"
)

// DateLayout is the wire and storage format of submission dates.
const DateLayout = "2006-01-02"

// Clock supplies the current calendar date in the ledger's reference zone.
type Clock interface {
	Today() time.Time
}

// ZoneClock reads the wall clock in a fixed location.
type ZoneClock struct {
	Location *time.Location
	Now      func() time.Time
}

// NewZoneClock loads the IANA zone name, e.g. "Asia/Seoul".
func NewZoneClock(zone string) (*ZoneClock, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", zone, err)
	}
	return &ZoneClock{Location: loc, Now: time.Now}, nil
}

// Today returns midnight of the current date in the clock's zone.
func (c *ZoneClock) Today() time.Time {
	now := c.Now().In(c.Location)
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, c.Location)
}

// parseDate parses a YYYY-MM-DD string. An empty string yields today.
func parseDate(clock Clock, s string) (time.Time, error) {
	if s == "" {
		return clock.Today(), nil
	}
	today := clock.Today()
	d, err := time.ParseInLocation(DateLayout, s, today.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q is not YYYY-MM-DD", ErrValidation, s)
	}
	return d, nil
}
