package keylock

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLock_SerializesSameKey(t *testing.T) {
	m := New()

	var (
		active  int32
		maxSeen int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := m.Lock("node-1")
			defer unlock()

			n := atomic.AddInt32(&active, 1)
			if n > atomic.LoadInt32(&maxSeen) {
				atomic.StoreInt32(&maxSeen, n)
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Errorf("expected at most 1 holder, saw %d", maxSeen)
	}
	if m.Len() != 0 {
		t.Errorf("expected lock map to be empty, got %d entries", m.Len())
	}
}

func TestLock_IndependentKeys(t *testing.T) {
	m := New()

	unlockA := m.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := m.Lock("b")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}
}

func TestLock_UnlockTwice(t *testing.T) {
	m := New()

	unlock := m.Lock("a")
	unlock()
	unlock()

	if m.Len() != 0 {
		t.Errorf("expected empty map, got %d", m.Len())
	}
}
