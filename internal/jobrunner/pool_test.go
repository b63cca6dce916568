package jobrunner

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPool_RunsAllSubmittedJobs(t *testing.T) {
	pool := New(context.Background(), 3, nil)
	defer pool.Shutdown()

	var count int64
	var wg sync.WaitGroup
	const n = 20
	wg.Add(n)
	for i := 0; i < n; i++ {
		if err := pool.Submit(func(ctx context.Context) {
			atomic.AddInt64(&count, 1)
			wg.Done()
		}); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for jobs to run")
	}

	if got := atomic.LoadInt64(&count); got != n {
		t.Errorf("expected %d jobs run, got %d", n, got)
	}
}

func TestPool_ZeroOrNegativeWorkersDefaultsToOne(t *testing.T) {
	pool := New(context.Background(), 0, nil)
	defer pool.Shutdown()

	if pool.maxWorkers != 1 {
		t.Errorf("expected maxWorkers defaulted to 1, got %d", pool.maxWorkers)
	}
}

func TestPool_SubmitAfterShutdownFails(t *testing.T) {
	pool := New(context.Background(), 1, nil)
	pool.Shutdown()

	err := pool.Submit(func(ctx context.Context) {})
	if err != ErrShuttingDown {
		t.Errorf("expected ErrShuttingDown, got %v", err)
	}
}

func TestPool_ShutdownCancelsInFlightJobContext(t *testing.T) {
	pool := New(context.Background(), 1, nil)

	started := make(chan struct{})
	cancelled := make(chan struct{})
	err := pool.Submit(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(cancelled)
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	<-started
	pool.Shutdown()

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Error("expected job's context to be cancelled by Shutdown")
	}
}

func TestPool_ParentContextCancelStopsWorkers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pool := New(ctx, 2, nil)

	cancel()

	done := make(chan struct{})
	go func() {
		pool.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("expected workers to exit once parent context is cancelled")
	}
}
