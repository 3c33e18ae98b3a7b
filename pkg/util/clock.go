package util

import "time"

// Clock abstracts time so order and trade timestamps are deterministic in
// tests.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// ManualClock returns a fixed instant until advanced.
type ManualClock struct {
	Current time.Time
}

func (c *ManualClock) Now() time.Time { return c.Current }

func (c *ManualClock) Advance(d time.Duration) { c.Current = c.Current.Add(d) }
