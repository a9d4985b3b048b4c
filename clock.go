package tagcache

import "time"

// Clock is the time source used for all phase calculations.
// Inject a fake in tests to control entry lifecycles.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
