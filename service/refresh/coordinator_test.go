package refresh

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCoalescesBurstIntoSingleFanout(t *testing.T) {
	c := NewCoordinator(30 * time.Millisecond)
	defer c.Close()

	const subscribers = 4
	counts := make([]int32, subscribers)
	for i := 0; i < subscribers; i++ {
		i := i
		c.Register(func() { atomic.AddInt32(&counts[i], 1) })
	}

	var wg sync.WaitGroup
	for k := 0; k < 10; k++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RequestRefresh()
		}()
	}
	wg.Wait()

	time.Sleep(100 * time.Millisecond)

	for i, n := range counts {
		if got := atomic.LoadInt32(&counts[i]); got != 1 {
			t.Errorf("subscriber %d invoked %d times, want 1 (raw %d)", i, got, n)
		}
	}
}

func TestSecondWindowFiresAgain(t *testing.T) {
	c := NewCoordinator(20 * time.Millisecond)
	defer c.Close()

	var n int32
	c.Register(func() { atomic.AddInt32(&n, 1) })

	c.RequestRefresh()
	time.Sleep(60 * time.Millisecond)
	c.RequestRefresh()
	time.Sleep(60 * time.Millisecond)

	if got := atomic.LoadInt32(&n); got != 2 {
		t.Fatalf("callback invoked %d times across two windows, want 2", got)
	}
}

func TestUnregisterDuringPendingFanout(t *testing.T) {
	c := NewCoordinator(40 * time.Millisecond)
	defer c.Close()

	var fired int32
	unregister := c.Register(func() { atomic.AddInt32(&fired, 1) })

	c.RequestRefresh()
	unregister()
	unregister() // idempotent

	time.Sleep(100 * time.Millisecond)

	if got := atomic.LoadInt32(&fired); got != 0 {
		t.Fatalf("callback fired %d times after unregister, want 0", got)
	}
}

func TestUnregisterWaitsForRunningCallback(t *testing.T) {
	c := NewCoordinator(5 * time.Millisecond)
	defer c.Close()

	entered := make(chan struct{})
	release := make(chan struct{})
	unregister := c.Register(func() {
		close(entered)
		<-release
	})

	c.RequestRefresh()
	<-entered

	returned := make(chan struct{})
	go func() {
		unregister()
		close(returned)
	}()

	select {
	case <-returned:
		t.Fatalf("unregister returned while its callback was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatalf("unregister never returned after the callback finished")
	}
}

func TestPanickingCallbackDoesNotBlockOthers(t *testing.T) {
	c := NewCoordinator(10 * time.Millisecond)
	defer c.Close()

	var survived int32
	c.Register(func() { panic("boom") })
	c.Register(func() { atomic.AddInt32(&survived, 1) })
	c.Register(func() { panic("boom again") })

	c.RequestRefresh()
	time.Sleep(60 * time.Millisecond)

	if got := atomic.LoadInt32(&survived); got != 1 {
		t.Fatalf("healthy callback invoked %d times, want 1", got)
	}
}

func TestCloseStopsPendingFanout(t *testing.T) {
	c := NewCoordinator(40 * time.Millisecond)

	var fired int32
	c.Register(func() { atomic.AddInt32(&fired, 1) })

	c.RequestRefresh()
	c.Close()
	c.RequestRefresh()

	time.Sleep(100 * time.Millisecond)

	if got := atomic.LoadInt32(&fired); got != 0 {
		t.Fatalf("callback fired %d times after Close, want 0", got)
	}
}
