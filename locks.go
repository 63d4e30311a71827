package authcore

import (
	"hash/fnv"
	"sync"
)

const lockShards = 64

// accountLocks serializes read-modify-write cycles on per-account records.
// The engine is the sole writer of lockout and two-factor state, so
// in-process serialization is sufficient to make counter updates atomic per
// account: N concurrent failures always count N.
type accountLocks struct {
	shards [lockShards]sync.Mutex
}

// lock acquires the shard for accountID and returns its unlock func.
func (l *accountLocks) lock(accountID string) func() {
	h := fnv.New32a()
	h.Write([]byte(accountID))
	shard := &l.shards[h.Sum32()%lockShards]
	shard.Lock()
	return shard.Unlock
}
