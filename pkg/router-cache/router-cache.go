// Package routercache is a small per-session TTL cache for route payloads.
//
// It is intentionally decoupled from the server-side cache: there are no
// tags and no background revalidation. Entries simply become misses once
// their staleness window passes, and a session evicts everything explicitly
// via Refresh after a mutation it knows about.
package routercache

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Segment classifies a route payload for staleness purposes.
type Segment int

const (
	// Static segments tolerate a longer staleness window.
	Static Segment = iota
	// Dynamic segments go stale quickly.
	Dynamic
)

type Config struct {
	// StaticWindow is how long static route payloads stay usable.
	// Defaults to 5 minutes.
	StaticWindow time.Duration
	// DynamicWindow is how long dynamic route payloads stay usable.
	// Defaults to 30 seconds.
	DynamicWindow time.Duration
	// Now overrides the time source, for tests.
	Now func() time.Time
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
}

// RouterCache holds one session's route payloads.
// It requires no coordination beyond its own mutex.
type RouterCache struct {
	session       string
	staticWindow  time.Duration
	dynamicWindow time.Duration
	now           func() time.Time
	log           zerolog.Logger

	mu      sync.Mutex
	entries map[string]clientEntry
}

type clientEntry struct {
	value      any
	fetchedAt  time.Time
	staleAfter time.Time
}

func New(config Config) *RouterCache {
	staticWindow := config.StaticWindow
	if staticWindow == 0 {
		staticWindow = 5 * time.Minute
	}
	dynamicWindow := config.DynamicWindow
	if dynamicWindow == 0 {
		dynamicWindow = 30 * time.Second
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	logger := log.Logger
	if config.Logger != nil {
		logger = *config.Logger
	}
	return &RouterCache{
		session:       uuid.NewString(),
		staticWindow:  staticWindow,
		dynamicWindow: dynamicWindow,
		now:           now,
		log:           logger,
		entries:       make(map[string]clientEntry),
	}
}

// Session identifies this cache instance in logs.
func (r *RouterCache) Session() string { return r.session }

// Put stores a route payload under the window for its segment kind.
func (r *RouterCache) Put(route string, segment Segment, value any) {
	window := r.staticWindow
	if segment == Dynamic {
		window = r.dynamicWindow
	}
	fetchedAt := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[route] = clientEntry{
		value:      value,
		fetchedAt:  fetchedAt,
		staleAfter: fetchedAt.Add(window),
	}
}

// Get returns the payload for a route. Entries past their window are
// dropped and reported as misses; the caller fetches fresh data.
func (r *RouterCache) Get(route string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[route]
	if !ok {
		return nil, false
	}
	if !r.now().Before(e.staleAfter) {
		delete(r.entries, route)
		return nil, false
	}
	return e.value, true
}

// Refresh unconditionally evicts every entry for this session, and returns
// the number of entries dropped. Call it after a mutation known to change
// server data.
func (r *RouterCache) Refresh() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	dropped := len(r.entries)
	r.entries = make(map[string]clientEntry)
	r.log.Debug().Str("session", r.session).Int("entries", dropped).Msg("Refreshed router cache")
	return dropped
}

// Len reports the number of live entries, counting ones past their window.
func (r *RouterCache) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
