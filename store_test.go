package tagcache

import (
	"sort"
	"testing"
	"time"
)

var testPolicy = Policy{Stale: time.Second, Revalidate: 10 * time.Second, Expire: 60 * time.Second}

// checkTagSymmetry verifies that every (tag, key) pair in the index matches
// a present entry tagged with it, and vice versa.
func checkTagSymmetry(t *testing.T, s *store) {
	t.Helper()

	entryTags := make(map[string]map[string]bool)
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for key, e := range sh.entries {
			tags := make(map[string]bool)
			for _, tag := range e.tags {
				tags[tag] = true
			}
			entryTags[key] = tags
		}
		sh.mu.Unlock()
	}

	s.tags.mu.Lock()
	defer s.tags.mu.Unlock()
	for tag, keys := range s.tags.keys {
		for key := range keys {
			if !entryTags[key][tag] {
				t.Fatalf("index has (%s, %s) but entry is missing the tag", tag, key)
			}
		}
	}
	for key, tags := range entryTags {
		for tag := range tags {
			if _, ok := s.tags.keys[tag][key]; !ok {
				t.Fatalf("entry %s carries tag %s that is not indexed", key, tag)
			}
		}
	}
}

func TestTagSymmetryAfterMutations(t *testing.T) {
	s := newStore()
	now := time.Now()

	s.commit("k1", "v1", testPolicy, []string{"a", "b"}, nil, now)
	s.commit("k2", "v2", testPolicy, []string{"b", "c"}, nil, now)
	checkTagSymmetry(t, s)

	// repopulating with a different tag set must retag atomically
	s.commit("k1", "v1b", testPolicy, []string{"c"}, nil, now)
	checkTagSymmetry(t, s)

	keys := s.tags.snapshot("c")
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "k1" || keys[1] != "k2" {
		t.Fatalf("tag c should cover k1 and k2, got %v", keys)
	}
	if got := s.tags.snapshot("a"); len(got) != 0 {
		t.Fatalf("tag a should be empty after retag, got %v", got)
	}

	// invalidation leaves entries registered
	if count := s.expireTag("c", now); count != 2 {
		t.Fatalf("expected 2 entries expired, got %d", count)
	}
	checkTagSymmetry(t, s)
	if _, phase, ok := s.lookup("k1", now); !ok || phase != Expired {
		t.Fatalf("k1 should still be findable and expired, got ok=%v phase=%s", ok, phase)
	}

	// the sweep detaches tags together with the entries
	if removed := s.sweep(now); removed != 2 {
		t.Fatalf("expected sweep to remove 2 entries, got %d", removed)
	}
	checkTagSymmetry(t, s)
	if s.len() != 0 || s.tags.len() != 0 {
		t.Fatalf("store should be empty after sweep, got %d entries and %d tags", s.len(), s.tags.len())
	}
}

func TestInvalidateUnknownIsNoop(t *testing.T) {
	s := newStore()
	now := time.Now()
	if count := s.expireTag("nope", now); count != 0 {
		t.Fatalf("unknown tag invalidation returned %d", count)
	}
	if s.expireKey("nope", now) {
		t.Fatal("unknown key invalidation reported success")
	}
}

func TestInvalidateTagIdempotent(t *testing.T) {
	s := newStore()
	now := time.Now()
	s.commit("k1", "v1", testPolicy, []string{"a"}, nil, now)

	if count := s.expireTag("a", now); count != 1 {
		t.Fatalf("first invalidation affected %d entries, want 1", count)
	}
	gen1 := currentGeneration(t, s, "k1")
	if count := s.expireTag("a", now); count != 0 {
		t.Fatalf("second invalidation affected %d entries, want 0", count)
	}
	if gen2 := currentGeneration(t, s, "k1"); gen2 != gen1 {
		t.Fatalf("second invalidation changed generation from %d to %d", gen1, gen2)
	}
	checkTagSymmetry(t, s)
}

func TestSweepSkipsRevalidatingEntries(t *testing.T) {
	s := newStore()
	now := time.Now()
	s.commit("k1", "v1", testPolicy, []string{"a"}, nil, now)

	at := now.Add(5 * time.Second) // stale
	if _, ok := s.beginRevalidation("k1", at); !ok {
		t.Fatal("could not claim revalidation slot")
	}
	s.expireKey("k1", at)
	if removed := s.sweep(at); removed != 0 {
		t.Fatalf("sweep removed %d entries with a refresh in flight", removed)
	}
	s.endRevalidation("k1")
	if removed := s.sweep(at); removed != 1 {
		t.Fatalf("sweep removed %d entries, want 1", removed)
	}
}

func TestBeginRevalidationClaimsOnce(t *testing.T) {
	s := newStore()
	now := time.Now()
	s.commit("k1", "v1", testPolicy, []string{"a"}, nil, now)

	fresh := now.Add(500 * time.Millisecond)
	if _, ok := s.beginRevalidation("k1", fresh); ok {
		t.Fatal("fresh entry should not be claimable for revalidation")
	}
	stale := now.Add(5 * time.Second)
	job, ok := s.beginRevalidation("k1", stale)
	if !ok {
		t.Fatal("stale entry should be claimable")
	}
	if job.generation != 1 {
		t.Fatalf("claimed generation %d, want 1", job.generation)
	}
	if _, ok := s.beginRevalidation("k1", stale); ok {
		t.Fatal("second claim should fail while the first is in flight")
	}
	s.endRevalidation("k1")
	if _, ok := s.beginRevalidation("k1", stale); !ok {
		t.Fatal("claim should succeed again after the first finished")
	}
}

func TestCommitIfGenerationRejectsStaleWrites(t *testing.T) {
	s := newStore()
	now := time.Now()
	s.commit("k1", "v1", testPolicy, []string{"a"}, nil, now)

	// invalidation bumps the generation, so the pending write must lose
	s.expireKey("k1", now.Add(5*time.Second))
	if s.commitIfGeneration("k1", 1, "v2", testPolicy, []string{"a"}, nil, now.Add(6*time.Second)) {
		t.Fatal("stale-generation commit was accepted")
	}
	snap, phase, ok := s.lookup("k1", now.Add(6*time.Second))
	if !ok || phase != Expired || snap.Value != "v1" {
		t.Fatalf("entry should stay expired with old value, got ok=%v phase=%s value=%v", ok, phase, snap.Value)
	}

	// matching generation commits and moves the generation forward
	if !s.commitIfGeneration("k1", snap.Generation, "v3", testPolicy, []string{"a"}, nil, now.Add(7*time.Second)) {
		t.Fatal("matching-generation commit was rejected")
	}
	snap2, phase, _ := s.lookup("k1", now.Add(7*time.Second))
	if phase != Fresh || snap2.Value != "v3" {
		t.Fatalf("committed entry should be fresh v3, got phase=%s value=%v", phase, snap2.Value)
	}
	if snap2.Generation <= snap.Generation {
		t.Fatalf("generation did not increase: %d -> %d", snap.Generation, snap2.Generation)
	}
}

func currentGeneration(t *testing.T, s *store, key string) uint64 {
	t.Helper()
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.entries[key]
	if !ok {
		t.Fatalf("entry %s missing", key)
	}
	return e.generation
}
