package tagcache

import "time"

// Phase classifies an entry relative to its lifecycle deadlines.
type Phase int

const (
	// Fresh entries are served as-is.
	Fresh Phase = iota
	// Stale entries are served as-is while a background refresh is scheduled.
	Stale
	// Expired entries are treated like misses: the next populate blocks.
	Expired
)

func (p Phase) String() string {
	switch p {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	case Expired:
		return "expired"
	}
	return "unknown"
}

// entry is the stored representation of a cached value.
// All fields are guarded by the owning shard's mutex.
type entry struct {
	key          string
	value        any
	createdAt    time.Time
	staleAt      time.Time
	revalidateAt time.Time
	expireAt     time.Time
	tags         []string
	revalidating bool
	generation   uint64
	// retained so a Get without a producer can still refresh
	policy  Policy
	produce Producer
}

// phase computes the lifecycle phase at the given instant.
// A zero deadline means "never", as set by unbounded policy durations.
func (e *entry) phase(now time.Time) Phase {
	if !e.expireAt.IsZero() && !now.Before(e.expireAt) {
		return Expired
	}
	if e.staleAt.IsZero() || now.Before(e.staleAt) {
		return Fresh
	}
	return Stale
}

// Entry is a read-only snapshot of a cache entry.
type Entry struct {
	Key          string
	Value        any
	CreatedAt    time.Time
	StaleAt      time.Time
	RevalidateAt time.Time
	ExpireAt     time.Time
	Tags         []string
	Generation   uint64
}

func (e *entry) snapshot() Entry {
	tags := make([]string, len(e.tags))
	copy(tags, e.tags)
	return Entry{
		Key:          e.key,
		Value:        e.value,
		CreatedAt:    e.createdAt,
		StaleAt:      e.staleAt,
		RevalidateAt: e.revalidateAt,
		ExpireAt:     e.expireAt,
		Tags:         tags,
		Generation:   e.generation,
	}
}
