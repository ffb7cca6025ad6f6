// Package coordkey provides the consistent-hashing primitive used to map a
// cache key to its owning edge. Every key-routing decision in the system —
// which edge is the beacon for a key, which shard of the directory table
// holds its entry, which lock stripe serializes it — is derived from the
// same 32-bit hash so that those decisions never disagree with each other.
package coordkey

import (
	"github.com/cespare/xxhash/v2"
)

// HashFn maps arbitrary key bytes to a 32-bit slot. Implementations must be
// pure, deterministic, and stable across process restarts: the same bytes
// always produce the same slot, on every edge, forever.
type HashFn interface {
	// Hash32 returns the 32-bit slot for key.
	Hash32(key []byte) uint32
}

// xxhashFn is the default HashFn. xxhash is preferred over FNV-1a for
// its better avalanche behavior on short keys, which matters here
// because cache keys are frequently short trace identifiers.
type xxhashFn struct{}

// XXHash is the default HashFn used by EdgeWrapper unless overridden by
// Config.HashAlgorithm.
var XXHash HashFn = xxhashFn{}

func (xxhashFn) Hash32(key []byte) uint32 {
	sum := xxhash.Sum64(key)
	return uint32(sum) ^ uint32(sum>>32)
}

// fnvHashFn reproduces the FNV-1a shard-ownership scheme earlier
// deployments used, kept as a selectable fallback so data placed under
// FNV-1a key routing is not silently re-sharded.
type fnvHashFn struct{}

// FNV1a is the parity fallback HashFn.
var FNV1a HashFn = fnvHashFn{}

func (fnvHashFn) Hash32(key []byte) uint32 {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)
	h := uint32(offset32)
	for _, b := range key {
		h ^= uint32(b)
		h *= prime32
	}
	return h
}

// EdgeForKey returns the index, in [0, edgeCount), of the edge that is the
// beacon for key: the authoritative owner of its directory entry.
// edgeCount must be > 0.
func EdgeForKey(fn HashFn, key []byte, edgeCount int) int {
	if edgeCount <= 0 {
		return 0
	}
	return int(fn.Hash32(key) % uint32(edgeCount))
}

// ShardForKey returns the index, in [0, shardCount), of the lock/table
// stripe that owns key. Used by PerKeyRwLock and DirectoryTable so that
// both structures partition the keyspace identically.
func ShardForKey(fn HashFn, key []byte, shardCount int) int {
	if shardCount <= 0 {
		return 0
	}
	return int(fn.Hash32(key) % uint32(shardCount))
}
