package tagcache

import (
	"hash/fnv"
	"sync"
	"time"
)

const storeShards = 64

// store is the key -> entry map, sharded so that writes contend on an
// expected O(1) set of keys rather than a single global lock. Tag index
// mutations for a key happen inside that key's shard critical section, so
// no reader can observe a registered tag without a discoverable entry.
//
// Lock ordering: shard mutex first, then the tag-index mutex. Bulk tag
// invalidation snapshots the key set first and then locks each affected
// shard individually, never both at once in the reverse order.
type store struct {
	shards [storeShards]shard
	tags   *tagIndex
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func newStore() *store {
	s := &store{tags: newTagIndex()}
	for i := range s.shards {
		s.shards[i].entries = make(map[string]*entry)
	}
	return s
}

func (s *store) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &s.shards[h.Sum32()%storeShards]
}

// lookup returns a snapshot of the entry and its phase at now.
// It never blocks on revalidation.
func (s *store) lookup(key string, now time.Time) (Entry, Phase, bool) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.entries[key]
	if !ok {
		return Entry{}, Expired, false
	}
	return e.snapshot(), e.phase(now), true
}

// commit installs a freshly produced value under key, replacing any previous
// entry and bumping the generation. The tag registration is swapped inside
// the same critical section.
func (s *store) commit(key string, value any, pol Policy, tags []string, produce Producer, now time.Time) Entry {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	var generation uint64 = 1
	var revalidating bool
	var oldTags []string
	if prev, ok := sh.entries[key]; ok {
		generation = prev.generation + 1
		// keep the flag so a refresh already in flight is not doubled up;
		// its result will fail the generation check and be discarded
		revalidating = prev.revalidating
		oldTags = prev.tags
	}

	e := s.newEntry(key, value, pol, tags, produce, now)
	e.generation = generation
	e.revalidating = revalidating
	sh.entries[key] = e
	s.tags.replace(key, oldTags, e.tags)
	return e.snapshot()
}

// commitIfGeneration installs a revalidation result only if the entry's
// generation still matches the one observed when the refresh started.
// A mismatch means an invalidation or a newer populate won the race and the
// result must be discarded.
func (s *store) commitIfGeneration(key string, observed uint64, value any, pol Policy, tags []string, produce Producer, now time.Time) bool {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	prev, ok := sh.entries[key]
	if !ok || prev.generation != observed {
		return false
	}

	e := s.newEntry(key, value, pol, tags, produce, now)
	e.generation = observed + 1
	e.revalidating = prev.revalidating
	sh.entries[key] = e
	s.tags.replace(key, prev.tags, e.tags)
	return true
}

func (s *store) newEntry(key string, value any, pol Policy, tags []string, produce Producer, now time.Time) *entry {
	staleAt, revalidateAt, expireAt := pol.resolveAt(now)
	owned := make([]string, len(tags))
	copy(owned, tags)
	return &entry{
		key:          key,
		value:        value,
		createdAt:    now,
		staleAt:      staleAt,
		revalidateAt: revalidateAt,
		expireAt:     expireAt,
		tags:         owned,
		policy:       pol,
		produce:      produce,
	}
}

// revalJob captures everything a background refresh needs; the generation is
// re-checked at commit time.
type revalJob struct {
	key        string
	generation uint64
	policy     Policy
	tags       []string
	produce    Producer
}

// beginRevalidation claims the one background refresh slot for a stale key.
// It returns false when the key is absent, not stale, or already refreshing.
func (s *store) beginRevalidation(key string, now time.Time) (revalJob, bool) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.entries[key]
	if !ok || e.revalidating || e.phase(now) != Stale {
		return revalJob{}, false
	}
	e.revalidating = true
	tags := make([]string, len(e.tags))
	copy(tags, e.tags)
	return revalJob{
		key:        key,
		generation: e.generation,
		policy:     e.policy,
		tags:       tags,
		produce:    e.produce,
	}, true
}

// endRevalidation clears the in-flight flag regardless of outcome.
func (s *store) endRevalidation(key string) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if e, ok := sh.entries[key]; ok {
		e.revalidating = false
	}
}

// expireKey moves the entry to Expired at now, leaving it registered so that
// concurrent readers see "expired" rather than "not found". The generation
// bump is what makes in-flight revalidation results discardable.
// Returns false when the key is unknown or the entry was already Expired.
func (s *store) expireKey(key string, now time.Time) bool {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.entries[key]
	if !ok || e.phase(now) == Expired {
		return false
	}
	e.expireAt = now
	e.generation++
	return true
}

// expireTag expires every key currently indexed under the tag and reports
// how many entries actually transitioned. The key set is snapshotted first;
// keys attached while the loop runs are not guaranteed to be covered.
func (s *store) expireTag(tag string, now time.Time) int {
	count := 0
	for _, key := range s.tags.snapshot(tag) {
		if s.expireKey(key, now) {
			count++
		}
	}
	return count
}

// sweep removes entries whose expireAt has passed and that have no refresh
// in flight, detaching their tags. Returns the number of removed entries.
func (s *store) sweep(now time.Time) int {
	removed := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for key, e := range sh.entries {
			if e.revalidating || e.phase(now) != Expired {
				continue
			}
			delete(sh.entries, key)
			s.tags.replace(key, e.tags, nil)
			removed++
		}
		sh.mu.Unlock()
	}
	return removed
}

func (s *store) len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		n += len(sh.entries)
		sh.mu.Unlock()
	}
	return n
}
