package huevec

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// TestWorkerPoolBasic verifies basic task execution.
func TestWorkerPoolBasic(t *testing.T) {
	pool := newWorkerPool(2)
	defer pool.close()

	done := make(chan int, 1)

	err := pool.submit(context.Background(), func() { done <- 42 })
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	select {
	case v := <-done:
		if v != 42 {
			t.Errorf("expected 42, got %d", v)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("timeout waiting for task")
	}
}

// TestWorkerPoolConcurrency verifies concurrent submission from many
// goroutines.
func TestWorkerPoolConcurrency(t *testing.T) {
	const numWorkers = 4
	const numTasks = 100

	pool := newWorkerPool(numWorkers)

	var count atomic.Int32
	var wg sync.WaitGroup
	wg.Add(numTasks)

	for i := 0; i < numTasks; i++ {
		go func() {
			defer wg.Done()
			if err := pool.submit(context.Background(), func() { count.Add(1) }); err != nil {
				t.Errorf("submit failed: %v", err)
			}
		}()
	}
	wg.Wait()

	// close drains everything still queued.
	pool.close()

	if got := count.Load(); got != numTasks {
		t.Errorf("expected %d executed tasks, got %d", numTasks, got)
	}
}

// TestWorkerPoolCloseDrainsQueuedWork verifies close waits for queued
// tasks instead of dropping them.
func TestWorkerPoolCloseDrainsQueuedWork(t *testing.T) {
	pool := newWorkerPool(1)

	gate := make(chan struct{})
	started := make(chan struct{})
	var count atomic.Int32

	ctx := context.Background()
	if err := pool.submit(ctx, func() {
		close(started)
		<-gate
		count.Add(1)
	}); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	<-started

	// These sit in the buffer while the single worker is blocked.
	for i := 0; i < 2; i++ {
		if err := pool.submit(ctx, func() { count.Add(1) }); err != nil {
			t.Fatalf("submit %d failed: %v", i, err)
		}
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(gate)
	}()
	pool.close()

	if got := count.Load(); got != 3 {
		t.Errorf("expected 3 executed tasks after close, got %d", got)
	}
}

// TestWorkerPoolSubmitAfterClose verifies rejection after shutdown.
func TestWorkerPoolSubmitAfterClose(t *testing.T) {
	pool := newWorkerPool(2)
	pool.close()

	err := pool.submit(context.Background(), func() {})
	if !errors.Is(err, ErrPipelineClosed) {
		t.Errorf("expected ErrPipelineClosed after close, got %v", err)
	}
}

// TestWorkerPoolBackpressure verifies the context is honored while the
// work channel is full.
func TestWorkerPoolBackpressure(t *testing.T) {
	pool := newWorkerPool(1)

	gate := make(chan struct{})
	started := make(chan struct{})

	ctx := context.Background()
	if err := pool.submit(ctx, func() {
		close(started)
		<-gate
	}); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	<-started

	// Fill the buffer (2x one worker).
	for i := 0; i < 2; i++ {
		if err := pool.submit(ctx, func() {}); err != nil {
			t.Fatalf("submit %d failed: %v", i, err)
		}
	}

	cctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := pool.submit(cctx, func() {})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded under backpressure, got %v", err)
	}

	close(gate)
	pool.close()
}

// TestWorkerPoolZeroWorkers verifies the default worker count.
func TestWorkerPoolZeroWorkers(t *testing.T) {
	pool := newWorkerPool(0)
	defer pool.close()

	if pool.numWorkers <= 0 {
		t.Errorf("expected positive worker count, got %d", pool.numWorkers)
	}

	done := make(chan struct{})
	if err := pool.submit(context.Background(), func() { close(done) }); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("timeout waiting for task")
	}
}

// TestWorkerPoolCloseIdempotent verifies close can be called repeatedly.
func TestWorkerPoolCloseIdempotent(t *testing.T) {
	pool := newWorkerPool(2)
	pool.close()
	pool.close()
}
