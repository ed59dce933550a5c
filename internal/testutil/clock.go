package testutil

import (
	"time"

	"github.com/benbjohnson/clock"
)

// Epoch is where NewClock starts: 2025-01-01 00:00:00 UTC.
var Epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// NewClock returns a mock clock set to Epoch, or to now when given.
func NewClock(now ...time.Time) *clock.Mock {
	t := Epoch
	if len(now) > 0 {
		t = now[0]
	}
	c := clock.NewMock()
	c.Set(t)
	return c
}
