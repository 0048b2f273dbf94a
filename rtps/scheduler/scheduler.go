// Package scheduler implements the TimedEventScheduler: a single
// goroutine driving a min-heap of fire-time-ordered events (heartbeat,
// lease expiry, ACKNACK response, deadline, flow-controller refill).
package scheduler

import (
	"container/heap"
	"sync"
	"time"
)

// Handle identifies one scheduled event for Cancel/Reschedule.
type Handle uint64

type event struct {
	handle    Handle
	fireAt    time.Time
	callback  func()
	cancelled bool
	index     int // heap index, maintained by container/heap
}

type eventHeap []*event

func (h eventHeap) Len() int           { return len(h) }
func (h eventHeap) Less(i, j int) bool { return h[i].fireAt.Before(h[j].fireAt) }
func (h eventHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *eventHeap) Push(x interface{}) {
	e := x.(*event)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *eventHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Scheduler runs scheduled closures on a single goroutine, in fire-time
// order. Callbacks must be cheap and non-blocking; they may mutate
// endpoint state that the caller already holds under its own lock.
type Scheduler struct {
	mu     sync.Mutex
	queue  eventHeap
	byID   map[Handle]*event
	nextID Handle

	wake chan struct{}
	stop chan struct{}
	done chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates a Scheduler. Call Start to begin running events.
func New() *Scheduler {
	return &Scheduler{
		byID: make(map[Handle]*event),
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Start launches the scheduler's single driving goroutine. Calling Start
// more than once has no additional effect.
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		go s.run()
	})
}

// Stop halts the driving goroutine and cancels all pending events. It
// blocks until the goroutine has exited.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	<-s.done
}

// Schedule queues callback to run after delay and returns a Handle usable
// with Cancel/Reschedule.
func (s *Scheduler) Schedule(delay time.Duration, callback func()) Handle {
	return s.scheduleAt(time.Now().Add(delay), callback)
}

func (s *Scheduler) scheduleAt(fireAt time.Time, callback func()) Handle {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	e := &event{handle: id, fireAt: fireAt, callback: callback}
	s.byID[id] = e
	heap.Push(&s.queue, e)
	s.mu.Unlock()

	s.nudge()
	return id
}

// Cancel removes a pending event from the queue so it never fires.
// Idempotent. An event that the driving goroutine has already dequeued
// for firing is no longer reachable by its handle, so cancelling it then
// has no effect and its callback still runs.
func (s *Scheduler) Cancel(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.byID[h]; ok {
		e.cancelled = true
		delete(s.byID, h)
		heap.Remove(&s.queue, e.index)
	}
}

// Reschedule moves a pending event to fire after newDelay from now. A
// no-op if the handle has already fired or been cancelled.
func (s *Scheduler) Reschedule(h Handle, newDelay time.Duration) {
	s.mu.Lock()
	e, ok := s.byID[h]
	if !ok || e.cancelled {
		s.mu.Unlock()
		return
	}
	e.fireAt = time.Now().Add(newDelay)
	heap.Fix(&s.queue, e.index)
	s.mu.Unlock()

	s.nudge()
}

func (s *Scheduler) nudge() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run() {
	defer close(s.done)
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		s.mu.Lock()
		var wait time.Duration
		var fire *event
		if s.queue.Len() > 0 {
			next := s.queue[0]
			wait = time.Until(next.fireAt)
			if wait <= 0 {
				fire = heap.Pop(&s.queue).(*event)
				delete(s.byID, fire.handle)
			}
		} else {
			wait = time.Hour
		}
		s.mu.Unlock()

		if fire != nil {
			if !fire.cancelled {
				fire.callback()
			}
			continue
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-s.stop:
			return
		case <-s.wake:
		case <-timer.C:
		}
	}
}

// Pending reports the number of events still queued (for tests and
// introspection).
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}
