package cachekey

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strings"
)

const (
	// ScopeGlobal shares entries across all callers.
	ScopeGlobal = "global"
	// ScopePrivate partitions entries per principal.
	ScopePrivate = "private"
	// ScopeRemote partitions entries per request-context fingerprint.
	ScopeRemote = "remote"
)

// Scope is the partitioning dimension folded into key derivation.
// Two resolutions with different scopes never collide on the same key.
type Scope struct {
	kind      string
	qualifier string
}

// Global returns the scope shared by all callers.
func Global() Scope { return Scope{kind: ScopeGlobal} }

// Private returns a scope keyed to a single principal. No entry resolved
// under one principal is ever visible to another.
func Private(principalID string) Scope {
	return Scope{kind: ScopePrivate, qualifier: principalID}
}

// Remote returns a scope keyed to a fingerprint of dynamic request context.
// Keep fingerprints bounded to a few discrete dimensions: every unique
// fingerprint is effectively its own cache partition, so unbounded
// cardinality defeats caching entirely.
func Remote(fingerprint string) Scope {
	return Scope{kind: ScopeRemote, qualifier: fingerprint}
}

// Kind reports the scope class (global, private or remote).
func (s Scope) Kind() string {
	if s.kind == "" {
		return ScopeGlobal
	}
	return s.kind
}

// Fingerprint combines a small number of discrete context dimensions into a
// fingerprint string for Remote scopes.
func Fingerprint(dimensions ...string) string {
	return strings.Join(dimensions, "\x1f")
}

// Keyer derives deterministic, collision-resistant cache keys from a logical
// operation, its arguments and a scope.
type Keyer struct {
	// Namespace distinguishes key spaces of independent cache instances.
	Namespace string
	// Sum overrides the hash function. The default is SHA-256 over
	// length-prefixed components.
	Sum func(parts []string) string
}

func NewKeyer(namespace string) Keyer {
	return Keyer{Namespace: namespace}
}

// Key derives the cache key. The readable prefix carries the namespace,
// scope kind and operation for logs and debugging; the digest covers the
// operation, every argument and the scope so that no two distinct inputs
// share a key.
func (k Keyer) Key(operation string, args []string, scope Scope) string {
	parts := make([]string, 0, len(args)+3)
	parts = append(parts, operation)
	parts = append(parts, args...)
	parts = append(parts, scope.Kind(), scope.qualifier)

	sum := k.Sum
	if sum == nil {
		sum = defaultSum
	}
	return k.Namespace + ":" + scope.Kind() + ":" + operation + ":" + sum(parts)
}

// defaultSum hashes components with an 8-byte length prefix each, so that
// component boundaries are unambiguous ("ab","c" never equals "a","bc").
func defaultSum(parts []string) string {
	h := sha256.New()
	var prefix [8]byte
	for _, part := range parts {
		binary.BigEndian.PutUint64(prefix[:], uint64(len(part)))
		h.Write(prefix[:])
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}
