package core

// scheduler.go implements the Cooperative Scheduler of spec §5: a fixed
// worker pool pulling tasks from a shared ready queue, plus a min-heap timer
// wheel for scheduled wake-ups (ping intervals, pong timeouts, handshake
// deadlines).
//
// Design Notes §9 directs replacing the original's ucontext-based
// stack-rollback coroutines with "structured cooperative tasks" rather than
// raw stack switching — Go already gives goroutines+channels as the
// idiomatic structured-concurrency primitive, so this scheduler is a plain
// worker pool over buffered channels, not a from-scratch green-thread
// runtime. No external worker-pool dependency is introduced: none of the
// pack's examples actually import one (see DESIGN.md), so stdlib
// goroutines/channels are the grounded choice here, not a gap-filler.

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// Task is a unit of cooperative work submitted to the Scheduler. It must
// return promptly or on ctx cancellation; long blocking work should instead
// be decomposed into further Schedule/ScheduleAt calls.
type Task func(ctx context.Context)

// Scheduler is a fixed-size worker pool draining a shared ready queue, with
// a timer goroutine feeding delayed tasks back into that queue when they
// come due.
type Scheduler struct {
	workers int
	ready   chan Task

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	timersMu sync.Mutex
	timers   timerHeap
	timerC   chan struct{}

	queuedMu sync.Mutex
	queued   int
}

// NewScheduler starts a Scheduler with the given number of worker goroutines.
func NewScheduler(workers int) *Scheduler {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		workers: workers,
		ready:   make(chan Task, 1024),
		ctx:     ctx,
		cancel:  cancel,
		timerC:  make(chan struct{}, 1),
	}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.runWorker()
	}
	s.wg.Add(1)
	go s.runTimers()
	return s
}

func (s *Scheduler) runWorker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case t, ok := <-s.ready:
			if !ok {
				return
			}
			s.queuedMu.Lock()
			s.queued--
			s.queuedMu.Unlock()
			t(s.ctx)
		}
	}
}

// Schedule enqueues t to run as soon as a worker is free.
func (s *Scheduler) Schedule(t Task) {
	s.queuedMu.Lock()
	s.queued++
	s.queuedMu.Unlock()
	select {
	case s.ready <- t:
	case <-s.ctx.Done():
	}
}

// QueueDepth reports the number of tasks currently waiting for a worker,
// for Metrics/HealthLogger consumption.
func (s *Scheduler) QueueDepth() int {
	s.queuedMu.Lock()
	defer s.queuedMu.Unlock()
	return s.queued
}

// timerEntry is one pending delayed task.
type timerEntry struct {
	at    time.Time
	task  Task
	index int
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *timerHeap) Push(x interface{}) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// ScheduleAt arranges for t to be enqueued onto the ready queue at or after
// when. Used for ping intervals, pong/handshake timeouts and TTL checks.
func (s *Scheduler) ScheduleAt(when time.Time, t Task) {
	s.timersMu.Lock()
	heap.Push(&s.timers, &timerEntry{at: when, task: t})
	s.timersMu.Unlock()
	select {
	case s.timerC <- struct{}{}:
	default:
	}
}

// After is a convenience wrapper around ScheduleAt for relative delays.
func (s *Scheduler) After(d time.Duration, t Task) {
	s.ScheduleAt(time.Now().Add(d), t)
}

func (s *Scheduler) runTimers() {
	defer s.wg.Done()
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		s.timersMu.Lock()
		var wait time.Duration
		if len(s.timers) == 0 {
			wait = time.Hour
		} else {
			wait = time.Until(s.timers[0].at)
			if wait < 0 {
				wait = 0
			}
		}
		s.timersMu.Unlock()
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-s.ctx.Done():
			return
		case <-s.timerC:
			continue
		case <-timer.C:
			s.drainDueTimers()
		}
	}
}

func (s *Scheduler) drainDueTimers() {
	now := time.Now()
	s.timersMu.Lock()
	var due []*timerEntry
	for len(s.timers) > 0 && !s.timers[0].at.After(now) {
		e := heap.Pop(&s.timers).(*timerEntry)
		due = append(due, e)
	}
	s.timersMu.Unlock()
	for _, e := range due {
		s.Schedule(e.task)
	}
}

// Cancel stops the scheduler: workers exit without draining the ready queue,
// so tasks still queued there may never run, and every parked timer task is
// dropped without running. Callers that need a
// task to observe cancellation should check ctx.Done() inside the Task.
func (s *Scheduler) Cancel() {
	s.cancel()
}

// Wait blocks until all worker and timer goroutines have exited following Cancel.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
