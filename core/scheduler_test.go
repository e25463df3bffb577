package core

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestSchedulerRunsTask(t *testing.T) {
	s := NewScheduler(2)
	defer func() { s.Cancel(); s.Wait() }()

	done := make(chan struct{})
	s.Schedule(func(ctx context.Context) { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not run in time")
	}
}

func TestSchedulerAfterFiresAtDelay(t *testing.T) {
	s := NewScheduler(1)
	defer func() { s.Cancel(); s.Wait() }()

	start := time.Now()
	done := make(chan time.Time, 1)
	s.After(50*time.Millisecond, func(ctx context.Context) { done <- time.Now() })

	select {
	case fired := <-done:
		if fired.Sub(start) < 40*time.Millisecond {
			t.Fatalf("task fired too early: %v", fired.Sub(start))
		}
	case <-time.After(time.Second):
		t.Fatal("delayed task never fired")
	}
}

func TestSchedulerQueueDepth(t *testing.T) {
	s := NewScheduler(1)
	defer func() { s.Cancel(); s.Wait() }()

	block := make(chan struct{})
	s.Schedule(func(ctx context.Context) { <-block })

	// Give the first task a moment to be picked up by the lone worker, then
	// queue a second task that must wait.
	time.Sleep(20 * time.Millisecond)
	s.Schedule(func(ctx context.Context) {})

	if depth := s.QueueDepth(); depth < 1 {
		t.Fatalf("expected at least 1 queued task, got %d", depth)
	}
	close(block)
}

func TestSchedulerCancelStopsFutureTimers(t *testing.T) {
	s := NewScheduler(1)
	var fired int32
	s.After(50*time.Millisecond, func(ctx context.Context) { atomic.AddInt32(&fired, 1) })
	s.Cancel()
	s.Wait()
	time.Sleep(100 * time.Millisecond)
	if atomic.LoadInt32(&fired) != 0 {
		t.Fatalf("expected cancelled scheduler to drop pending timers")
	}
}
