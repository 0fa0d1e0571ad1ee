package worker

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolRunsSubmittedTasks(t *testing.T) {
	p := NewPool(4)
	defer p.Stop()

	const n = 50
	var count int64
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		p.Submit(func() {
			atomic.AddInt64(&count, 1)
			wg.Done()
		})
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for submitted tasks to complete")
	}

	if got := atomic.LoadInt64(&count); got != n {
		t.Fatalf("expected %d completions, got %d", n, got)
	}
}

func TestNewPoolClampsSize(t *testing.T) {
	p := NewPool(0)
	defer p.Stop()

	done := make(chan struct{})
	p.Submit(func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pool with size 0 should still run at least one worker")
	}
}
