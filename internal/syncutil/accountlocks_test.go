package syncutil

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestLockMutualExclusion(t *testing.T) {
	locks := NewAccountLocks()
	ctx := context.Background()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locks.Lock(ctx, "acct-1")
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			defer unlock()
			v := counter
			time.Sleep(time.Microsecond)
			counter = v + 1
		}()
	}
	wg.Wait()

	if counter != 100 {
		t.Fatalf("expected 100, got %d", counter)
	}
}

func TestLockRespectsContext(t *testing.T) {
	locks := NewAccountLocks()
	unlock, err := locks.Lock(context.Background(), "busy")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := locks.Lock(ctx, "busy"); err != context.DeadlineExceeded {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}

func TestLockPairOppositeOrderDoesNotDeadlock(t *testing.T) {
	locks := NewAccountLocks()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			unlock, err := locks.LockPair(ctx, "alice", "bob")
			if err != nil {
				t.Errorf("lock pair: %v", err)
				return
			}
			unlock()
		}()
		go func() {
			defer wg.Done()
			unlock, err := locks.LockPair(ctx, "bob", "alice")
			if err != nil {
				t.Errorf("lock pair: %v", err)
				return
			}
			unlock()
		}()
	}
	wg.Wait()
}

func TestLockPairSameAccount(t *testing.T) {
	locks := NewAccountLocks()
	unlock, err := locks.LockPair(context.Background(), "same", "same")
	if err != nil {
		t.Fatalf("lock pair: %v", err)
	}
	unlock()
}
