package tagcache

import (
	"context"
	"fmt"
	"sync"
	"time"

	cachekey "github.com/tag-cache/tag-cache/pkg/cache-key"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Producer computes a value for a cache key. It returns the value together
// with the tags to register it under; a nil tag slice keeps the tags passed
// to Populate. Callers must always pass the same producer for a given key.
type Producer func(ctx context.Context) (any, []string, error)

// ProducerError wraps a producer failure during a synchronous populate.
// Background revalidation failures are logged instead and never surface.
type ProducerError struct {
	Key string
	Err error
}

func (e *ProducerError) Error() string {
	return fmt.Sprintf("producer for %s: %v", e.Key, e.Err)
}

func (e *ProducerError) Unwrap() error { return e.Err }

type Config struct {
	// Namespace distinguishes cache instances that share key material,
	// in the same way an origin id prefixes HTTP cache keys.
	Namespace string
	// Keyer to use for scope resolution. Built from Namespace if nil.
	Keyer *cachekey.Keyer
	// Clock used for all phase calculations. Wall clock if nil.
	Clock Clock
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
	// RevalidateTimeout bounds each background producer call so that no
	// outstanding revalidation can block shutdown indefinitely.
	// Defaults to 30 seconds.
	RevalidateTimeout time.Duration
	// SweepInterval is how often expired entries are removed.
	// Defaults to one minute; a negative value disables the sweep.
	SweepInterval time.Duration
	// Profiles adds to or overrides the built-in named lifecycle profiles.
	Profiles map[string]Policy
}

// Cache is a tag-indexed stale-while-revalidate cache. One instance is meant
// to be created per process and injected into callers.
type Cache struct {
	store    *store
	keyer    cachekey.Keyer
	clock    Clock
	log      zerolog.Logger
	flights  singleflight.Group
	profiles map[string]Policy

	revalidateTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Status describes how a Populate call was served.
type Status struct {
	// Key the value was stored under.
	Key string
	// Phase of the entry that served the value. After a synchronous
	// populate this is Fresh.
	Phase Phase
	// Hit is false when the producer had to run synchronously.
	Hit bool
	// Collapsed is true when the call was coalesced with a concurrent
	// populate for the same key.
	Collapsed bool
	// Revalidating is true when this call scheduled a background refresh.
	Revalidating bool
	// TTL is the time left until the entry expires; zero when unbounded.
	TTL time.Duration
}

// CreateCache initializes the cache instance and starts the background
// sweep. Call Close to release it.
func CreateCache(config Config) *Cache {
	logger := log.Logger
	if config.Logger != nil {
		logger = *config.Logger
	}
	var clock Clock = systemClock{}
	if config.Clock != nil {
		clock = config.Clock
	}
	keyer := cachekey.NewKeyer(config.Namespace)
	if config.Keyer != nil {
		keyer = *config.Keyer
	}
	revalidateTimeout := config.RevalidateTimeout
	if revalidateTimeout == 0 {
		revalidateTimeout = 30 * time.Second
	}
	sweepInterval := config.SweepInterval
	if sweepInterval == 0 {
		sweepInterval = time.Minute
	}

	profiles := make(map[string]Policy, len(builtinProfiles)+len(config.Profiles))
	for name, pol := range builtinProfiles {
		profiles[name] = pol
	}
	for name, pol := range config.Profiles {
		profiles[name] = pol
	}

	registerMetrics()

	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache{
		store:             newStore(),
		keyer:             keyer,
		clock:             clock,
		log:               logger,
		profiles:          profiles,
		revalidateTimeout: revalidateTimeout,
		ctx:               ctx,
		cancel:            cancel,
	}

	if sweepInterval > 0 {
		c.wg.Add(1)
		go c.sweepLoop(sweepInterval)
	}

	return c
}

// Close stops the sweep loop and waits for in-flight background
// revalidations until the given context is done. Revalidations that do not
// finish in time are abandoned; their results are never committed.
func (c *Cache) Close(ctx context.Context) error {
	c.cancel()
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Profile resolves a named lifecycle profile, including any configured
// overrides.
func (c *Cache) Profile(name string) (Policy, bool) {
	pol, ok := c.profiles[name]
	return pol, ok
}

// Key derives the cache key for an operation without touching the cache.
func (c *Cache) Key(operation string, args []string, scope cachekey.Scope) string {
	return c.keyer.Key(operation, args, scope)
}

// Populate is the primary entry point. It resolves the key from the
// operation, arguments and scope, then serves from cache when possible:
// Fresh entries are returned as-is, Stale entries are returned while a
// background refresh is scheduled, and Expired entries or misses block on a
// single shared producer call.
func (c *Cache) Populate(ctx context.Context, operation string, args []string, scope cachekey.Scope, pol Policy, tags []string, produce Producer) (any, Status, error) {
	key := c.keyer.Key(operation, args, scope)
	return c.populateKey(ctx, key, pol, tags, produce)
}

func (c *Cache) populateKey(ctx context.Context, key string, pol Policy, tags []string, produce Producer) (any, Status, error) {
	now := c.clock.Now()
	snap, phase, ok := c.store.lookup(key, now)
	if ok && phase != Expired {
		lookupsTotal.WithLabelValues(phase.String()).Inc()
		status := Status{Key: key, Phase: phase, Hit: true, TTL: ttl(snap.ExpireAt, now)}
		if phase == Stale {
			status.Revalidating = c.scheduleRefresh(key, produce)
		}
		return snap.Value, status, nil
	}
	if ok {
		lookupsTotal.WithLabelValues(Expired.String()).Inc()
	} else {
		lookupsTotal.WithLabelValues("miss").Inc()
	}

	// Cold or expired: coalesce all concurrent callers into one producer
	// call. On failure nothing is written, so a previous expired entry is
	// left in place for a later retry.
	value, err, collapsed := c.flights.Do(key, func() (any, error) {
		value, producedTags, err := produce(ctx)
		if err != nil {
			return nil, err
		}
		if producedTags == nil {
			producedTags = tags
		}
		committed := c.store.commit(key, value, pol, producedTags, produce, c.clock.Now())
		populatesTotal.Inc()
		c.log.Trace().Str("key", key).Uint64("generation", committed.Generation).Msg("Cache write")
		return value, nil
	})
	if err != nil {
		producerErrorsTotal.WithLabelValues("populate").Inc()
		return nil, Status{Key: key, Phase: Expired, Collapsed: collapsed}, &ProducerError{Key: key, Err: err}
	}
	now = c.clock.Now()
	snap, _, _ = c.store.lookup(key, now)
	return value, Status{Key: key, Phase: Fresh, Collapsed: collapsed, TTL: ttl(snap.ExpireAt, now)}, nil
}

// Get returns the current value and phase for a key without ever blocking.
// A Stale read schedules a background refresh using the producer retained
// from the last populate.
func (c *Cache) Get(key string) (any, Phase, bool) {
	now := c.clock.Now()
	snap, phase, ok := c.store.lookup(key, now)
	if !ok {
		lookupsTotal.WithLabelValues("miss").Inc()
		return nil, Expired, false
	}
	lookupsTotal.WithLabelValues(phase.String()).Inc()
	if phase == Stale {
		c.scheduleRefresh(key, nil)
	}
	return snap.Value, phase, true
}

// InvalidateTag immediately expires every entry registered under the tag and
// returns the number of entries affected. Unknown tags are a no-op returning
// zero; the operation is idempotent.
func (c *Cache) InvalidateTag(tag string) int {
	count := c.store.expireTag(tag, c.clock.Now())
	invalidatedTotal.WithLabelValues("tag").Add(float64(count))
	c.log.Debug().Str("tag", tag).Int("entries", count).Msg("Invalidated tag")
	return count
}

// InvalidateKey immediately expires the entry for the key, reporting whether
// an entry transitioned. The entry stays registered until the next sweep or
// populate, so in-flight revalidations can detect the generation bump and
// discard their results.
func (c *Cache) InvalidateKey(key string) bool {
	expired := c.store.expireKey(key, c.clock.Now())
	if expired {
		invalidatedTotal.WithLabelValues("key").Inc()
		c.log.Debug().Str("key", key).Msg("Invalidated key")
	}
	return expired
}

// Stats is a point-in-time size snapshot.
type Stats struct {
	Entries int `json:"entries"`
	Tags    int `json:"tags"`
}

func (c *Cache) Stats() Stats {
	return Stats{Entries: c.store.len(), Tags: c.store.tags.len()}
}

func ttl(expireAt, now time.Time) time.Duration {
	if expireAt.IsZero() {
		return 0
	}
	return expireAt.Sub(now)
}
