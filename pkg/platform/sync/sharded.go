package sync

import (
	"sync"
)

const defaultShards = 32

// ShardedMutex serializes work per key without a single global lock.
// Keys are spread across a fixed set of mutexes by hash, so two different
// keys may share a shard; the same key always maps to the same shard.
type ShardedMutex struct {
	shards []sync.Mutex
}

// NewShardedMutex creates a ShardedMutex with the given number of shards.
// Non-positive counts fall back to 32.
func NewShardedMutex(shards int) *ShardedMutex {
	if shards <= 0 {
		shards = defaultShards
	}
	return &ShardedMutex{shards: make([]sync.Mutex, shards)}
}

// Lock acquires the lock for the given key's shard.
// Empty keys default to shard 0.
func (m *ShardedMutex) Lock(key string) {
	m.shards[m.shardFor(key)].Lock()
}

// Unlock releases the lock for the given key's shard.
func (m *ShardedMutex) Unlock(key string) {
	m.shards[m.shardFor(key)].Unlock()
}

// WithLock runs fn while holding the key's shard lock.
func (m *ShardedMutex) WithLock(key string, fn func()) {
	m.Lock(key)
	defer m.Unlock(key)
	fn()
}

func (m *ShardedMutex) shardFor(key string) int {
	if key == "" {
		return 0
	}
	return int(hashString(key) % uint32(len(m.shards)))
}

// hashString is a djb2-style hash used only for shard selection.
func hashString(s string) uint32 {
	var h uint32
	for i := 0; i < len(s); i++ {
		h = h*31 + uint32(s[i])
	}
	return h
}
