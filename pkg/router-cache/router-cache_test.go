package routercache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (m *manualClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *manualClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

func newTestCache() (*RouterCache, *manualClock) {
	clock := &manualClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	rc := New(Config{
		StaticWindow:  5 * time.Minute,
		DynamicWindow: 30 * time.Second,
		Now:           clock.Now,
	})
	return rc, clock
}

func TestGetWithinWindow(t *testing.T) {
	rc, clock := newTestCache()
	rc.Put("/posts", Static, "post list")
	rc.Put("/dashboard", Dynamic, "dashboard")

	clock.Advance(20 * time.Second)
	v, ok := rc.Get("/posts")
	require.True(t, ok)
	assert.Equal(t, "post list", v)
	v, ok = rc.Get("/dashboard")
	require.True(t, ok)
	assert.Equal(t, "dashboard", v)
}

func TestWindowsAreIndependent(t *testing.T) {
	rc, clock := newTestCache()
	rc.Put("/posts", Static, "post list")
	rc.Put("/dashboard", Dynamic, "dashboard")

	// past the dynamic window, inside the static one
	clock.Advance(time.Minute)
	_, ok := rc.Get("/dashboard")
	assert.False(t, ok, "dynamic entry should have gone stale")
	_, ok = rc.Get("/posts")
	assert.True(t, ok, "static entry should still be usable")

	clock.Advance(10 * time.Minute)
	_, ok = rc.Get("/posts")
	assert.False(t, ok, "static entry should have gone stale")
}

func TestStaleEntriesAreDropped(t *testing.T) {
	rc, clock := newTestCache()
	rc.Put("/dashboard", Dynamic, "dashboard")
	clock.Advance(time.Minute)

	_, ok := rc.Get("/dashboard")
	require.False(t, ok)
	assert.Equal(t, 0, rc.Len(), "stale entry should be removed on access")
}

func TestRefreshEvictsEverything(t *testing.T) {
	rc, _ := newTestCache()
	rc.Put("/posts", Static, "post list")
	rc.Put("/dashboard", Dynamic, "dashboard")

	assert.Equal(t, 2, rc.Refresh())
	assert.Equal(t, 0, rc.Len())
	_, ok := rc.Get("/posts")
	assert.False(t, ok)

	// refresh on an empty cache is fine
	assert.Equal(t, 0, rc.Refresh())
}

func TestPutOverwrites(t *testing.T) {
	rc, clock := newTestCache()
	rc.Put("/posts", Static, "old")
	clock.Advance(4 * time.Minute)
	rc.Put("/posts", Static, "new")

	// the window restarts from the second put
	clock.Advance(4 * time.Minute)
	v, ok := rc.Get("/posts")
	require.True(t, ok)
	assert.Equal(t, "new", v)
}

func TestSessionsAreDistinct(t *testing.T) {
	a, _ := newTestCache()
	b, _ := newTestCache()
	assert.NotEmpty(t, a.Session())
	assert.NotEqual(t, a.Session(), b.Session())
}
