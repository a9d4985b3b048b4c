package tagcache

import "sync"

// tagIndex is the tag -> set-of-keys inverse mapping.
//
// The index keeps referential symmetry with the entry store: for every
// (tag, key) pair present here, the stored entry's tag set contains the tag,
// and vice versa. To uphold that, all mutations happen while the caller
// holds the owning key's shard lock; the index mutex nests strictly inside
// the shard critical section.
type tagIndex struct {
	mu   sync.Mutex
	keys map[string]map[string]struct{}
}

func newTagIndex() *tagIndex {
	return &tagIndex{keys: make(map[string]map[string]struct{})}
}

func (t *tagIndex) attach(tag, key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attachLocked(tag, key)
}

func (t *tagIndex) attachLocked(tag, key string) {
	set, ok := t.keys[tag]
	if !ok {
		set = make(map[string]struct{})
		t.keys[tag] = set
	}
	set[key] = struct{}{}
}

func (t *tagIndex) detach(tag, key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.detachLocked(tag, key)
}

func (t *tagIndex) detachLocked(tag, key string) {
	set, ok := t.keys[tag]
	if !ok {
		return
	}
	delete(set, key)
	if len(set) == 0 {
		delete(t.keys, tag)
	}
}

// replace swaps the key's registration from the old tag set to the new one
// in a single critical section.
func (t *tagIndex) replace(key string, old, new []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, tag := range old {
		t.detachLocked(tag, key)
	}
	for _, tag := range new {
		t.attachLocked(tag, key)
	}
}

// snapshot returns the keys currently registered under the tag.
// The result is a copy; keys attached after snapshot returns are not seen,
// which is what makes bulk tag invalidation best-effort across the group.
func (t *tagIndex) snapshot(tag string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.keys[tag]
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	return keys
}

func (t *tagIndex) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.keys)
}
