package transport

import (
	"sync"
	"testing"
	"time"
)

func TestTurnstileBoundsConcurrency(t *testing.T) {
	ts := NewTurnstile(2)
	ts.Acquire()
	ts.Acquire()
	if ts.InUse() != 2 {
		t.Fatalf("in use = %d, want 2", ts.InUse())
	}

	acquired := make(chan struct{})
	go func() {
		ts.Acquire()
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("third acquire must block at capacity")
	case <-time.After(20 * time.Millisecond):
	}

	ts.Release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("release must unblock a waiter")
	}
}

func TestTurnstileExtraReleaseIgnored(t *testing.T) {
	ts := NewTurnstile(1)
	ts.Release()
	ts.Release()
	if ts.InUse() != 0 {
		t.Fatalf("in use = %d after spurious releases", ts.InUse())
	}
	ts.Acquire()
	if ts.InUse() != 1 {
		t.Fatalf("in use = %d after acquire", ts.InUse())
	}
}

func TestTurnstileUnbounded(t *testing.T) {
	ts := NewTurnstile(0)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ts.Acquire()
		}()
	}
	wg.Wait()
	if ts.InUse() != 0 {
		t.Fatalf("unbounded turnstile reports in use = %d", ts.InUse())
	}
}
