package tagcache

import (
	"fmt"
	"math"
	"time"
)

// Unbounded marks a policy duration with no deadline.
// An entry whose expire duration is Unbounded never becomes Expired by time
// alone; only explicit invalidation moves it forward.
const Unbounded = time.Duration(math.MaxInt64)

// Policy is a lifecycle triple. Durations are measured from the moment a
// value is committed, and are resolved into absolute deadlines exactly once,
// at commit time.
type Policy struct {
	// Stale is how long the entry is served without any revalidation.
	Stale time.Duration
	// Revalidate marks the point at which a background refresh is due.
	Revalidate time.Duration
	// Expire is the hard deadline after which the entry behaves like a miss.
	Expire time.Duration
}

// Validate checks the ordering invariant stale <= revalidate <= expire.
// Unbounded sorts after every bounded duration.
func (p Policy) Validate() error {
	if p.Stale < 0 || p.Revalidate < 0 || p.Expire < 0 {
		return fmt.Errorf("policy durations must not be negative")
	}
	if p.Revalidate < p.Stale {
		return fmt.Errorf("revalidate (%s) must not precede stale (%s)", p.Revalidate, p.Stale)
	}
	if p.Expire < p.Revalidate {
		return fmt.Errorf("expire (%s) must not precede revalidate (%s)", p.Expire, p.Revalidate)
	}
	return nil
}

// deadline converts a duration into an absolute deadline.
// Unbounded maps to the zero time, meaning "never".
func deadline(now time.Time, d time.Duration) time.Time {
	if d == Unbounded {
		return time.Time{}
	}
	return now.Add(d)
}

// resolveAt folds the policy into absolute deadlines relative to now.
func (p Policy) resolveAt(now time.Time) (staleAt, revalidateAt, expireAt time.Time) {
	return deadline(now, p.Stale), deadline(now, p.Revalidate), deadline(now, p.Expire)
}

// Named lifecycle profiles. Callers may override or extend these via
// Config.Profiles or a YAML config file (see LoadProfiles).
var builtinProfiles = map[string]Policy{
	"default": {Stale: 5 * time.Minute, Revalidate: 15 * time.Minute, Expire: time.Hour},
	"seconds": {Stale: time.Second, Revalidate: time.Second, Expire: time.Minute},
	"minutes": {Stale: time.Minute, Revalidate: 5 * time.Minute, Expire: time.Hour},
	"hours":   {Stale: 5 * time.Minute, Revalidate: time.Hour, Expire: 24 * time.Hour},
	"days":    {Stale: 5 * time.Minute, Revalidate: 24 * time.Hour, Expire: 7 * 24 * time.Hour},
	"weeks":   {Stale: 5 * time.Minute, Revalidate: 7 * 24 * time.Hour, Expire: 30 * 24 * time.Hour},
	"max":     {Stale: 5 * time.Minute, Revalidate: Unbounded, Expire: Unbounded},
}

// Profile returns a built-in named profile.
func Profile(name string) (Policy, bool) {
	p, ok := builtinProfiles[name]
	return p, ok
}
