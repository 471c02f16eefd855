package call

import (
	"hash/fnv"
	"sync"

	"github.com/google/uuid"

	"wavelink-backend/pkg/constants"
)

// callLocks serializes state transitions per call id. Concurrent answer,
// decline and end requests for the same call take the same shard, so a
// transition always observes the previous one's writes. Distinct calls
// hashing to the same shard merely contend, they stay correct.
type callLocks struct {
	shards [constants.CallLockShards]sync.Mutex
}

func (l *callLocks) shard(callID uuid.UUID) *sync.Mutex {
	h := fnv.New32a()
	h.Write(callID[:])
	return &l.shards[h.Sum32()%constants.CallLockShards]
}

func (l *callLocks) Lock(callID uuid.UUID) func() {
	mu := l.shard(callID)
	mu.Lock()
	return mu.Unlock
}
