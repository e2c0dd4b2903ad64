// Package lock provides an in-process exclusive lock keyed by resource id.
// It realizes the per-seat row lock for single-instance deployments that
// run without MySQL.
package lock

import (
	"context"
	"sync"
)

const shardCount = 64

// KeyedMutex hands out one exclusive lock per key.  Unrelated keys never
// contend beyond a short critical section on their shard's map.  Waiting
// is cancellable through the caller's context.
type KeyedMutex struct {
	shards [shardCount]shard
}

type shard struct {
	mu    sync.Mutex
	slots map[uint64]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewKeyedMutex returns a ready to use KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	k := &KeyedMutex{}
	for i := range k.shards {
		k.shards[i].slots = make(map[uint64]*slot)
	}
	return k
}

// Lock blocks until the lock for key is held or ctx is done.  On success
// it returns the release function, which must be called exactly once.
func (k *KeyedMutex) Lock(ctx context.Context, key uint64) (func(), error) {
	sh := &k.shards[key%shardCount]

	sh.mu.Lock()
	s, ok := sh.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		sh.slots[key] = s
	}
	s.refs++
	sh.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		sh.drop(key, s)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			sh.drop(key, s)
		})
	}, nil
}

// Held reports how many keys currently have a holder or waiter.
func (k *KeyedMutex) Held() int {
	n := 0
	for i := range k.shards {
		sh := &k.shards[i]
		sh.mu.Lock()
		n += len(sh.slots)
		sh.mu.Unlock()
	}
	return n
}

func (sh *shard) drop(key uint64, s *slot) {
	sh.mu.Lock()
	s.refs--
	if s.refs == 0 {
		delete(sh.slots, key)
	}
	sh.mu.Unlock()
}
