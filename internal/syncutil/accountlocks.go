// Package syncutil provides the per-account mutual exclusion used by the ledger.
package syncutil

import (
	"context"
	"hash/fnv"
)

const shardCount = 256

// AccountLocks is a fixed pool of context-aware mutexes keyed by account id.
// Keys that hash to the same shard share a lock; LockPair orders acquisition
// by shard index so two opposite transfers can never deadlock.
type AccountLocks struct {
	shards [shardCount]chan struct{}
}

// NewAccountLocks builds an unlocked pool.
func NewAccountLocks() *AccountLocks {
	l := &AccountLocks{}
	for i := range l.shards {
		l.shards[i] = make(chan struct{}, 1)
		l.shards[i] <- struct{}{}
	}
	return l
}

// Lock acquires the lock for id or returns ctx.Err() if ctx ends first.
func (l *AccountLocks) Lock(ctx context.Context, id string) (func(), error) {
	return l.acquire(ctx, shardIndex(id))
}

// LockPair acquires the locks for two accounts in shard order.
func (l *AccountLocks) LockPair(ctx context.Context, a, b string) (func(), error) {
	ia, ib := shardIndex(a), shardIndex(b)
	if ia == ib {
		return l.acquire(ctx, ia)
	}
	if ib < ia {
		ia, ib = ib, ia
	}
	first, err := l.acquire(ctx, ia)
	if err != nil {
		return nil, err
	}
	second, err := l.acquire(ctx, ib)
	if err != nil {
		first()
		return nil, err
	}
	return func() {
		second()
		first()
	}, nil
}

func (l *AccountLocks) acquire(ctx context.Context, idx uint32) (func(), error) {
	ch := l.shards[idx]
	select {
	case <-ch:
		return func() { ch <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func shardIndex(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % shardCount
}
