package cachekey

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyIsDeterministic(t *testing.T) {
	keyer := NewKeyer("origin")
	a := keyer.Key("getProfile", []string{"x"}, Global())
	b := keyer.Key("getProfile", []string{"x"}, Global())
	assert.Equal(t, a, b)
}

func TestScopesNeverCollide(t *testing.T) {
	keyer := NewKeyer("origin")
	keys := []string{
		keyer.Key("getProfile", nil, Global()),
		keyer.Key("getProfile", nil, Private("u1")),
		keyer.Key("getProfile", nil, Private("u2")),
		keyer.Key("getProfile", nil, Remote(Fingerprint("mobile", "en"))),
		keyer.Key("getProfile", nil, Remote(Fingerprint("mobile", "fi"))),
	}
	seen := make(map[string]bool)
	for _, key := range keys {
		require.False(t, seen[key], "duplicate key %s", key)
		seen[key] = true
	}
}

func TestArgumentsAffectKey(t *testing.T) {
	keyer := NewKeyer("origin")
	assert.NotEqual(t,
		keyer.Key("get", []string{"a", "b"}, Global()),
		keyer.Key("get", []string{"b", "a"}, Global()))
	assert.NotEqual(t,
		keyer.Key("get", []string{"a"}, Global()),
		keyer.Key("get", []string{"a", ""}, Global()))
}

func TestComponentBoundariesAreUnambiguous(t *testing.T) {
	keyer := NewKeyer("origin")
	// "ab","c" must not hash like "a","bc"
	assert.NotEqual(t,
		keyer.Key("get", []string{"ab", "c"}, Global()),
		keyer.Key("get", []string{"a", "bc"}, Global()))
}

func TestKeyCarriesReadablePrefix(t *testing.T) {
	keyer := NewKeyer("origin")
	key := keyer.Key("getProfile", nil, Private("u1"))
	assert.True(t, strings.HasPrefix(key, "origin:private:getProfile:"), key)
	// the principal itself never appears in the key
	assert.NotContains(t, key, "u1")
}

func TestCustomSum(t *testing.T) {
	keyer := Keyer{Namespace: "origin", Sum: func(parts []string) string {
		return strings.Join(parts, "|")
	}}
	key := keyer.Key("get", []string{"a"}, Global())
	assert.Equal(t, "origin:global:get:get|a|global|", key)
}

func TestScopeKind(t *testing.T) {
	assert.Equal(t, ScopeGlobal, Global().Kind())
	assert.Equal(t, ScopePrivate, Private("u1").Kind())
	assert.Equal(t, ScopeRemote, Remote("fp").Kind())
	// zero value behaves like the global scope
	assert.Equal(t, ScopeGlobal, Scope{}.Kind())
}
