// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package loop implements the Loop component of this module: the
// single-threaded reactor under which Chain, Mempool and Pool cooperate.
// Real asynchronous socket readiness notification (kqueue/
// epoll/IOCP) is not exposed by the Go standard library, which instead
// gives every goroutine its own blocking, netpoller-backed Read/Write; this
// package reconciles that with the reactor contract the way idiomatic Go
// programs do it: one dedicated owner goroutine (the loop) serializes every
// callback, and each registered handle gets its own small pump goroutine
// that only ever blocks in a syscall and forwards what it read back onto
// the loop's event channel. No component logic ever runs outside the loop
// goroutine; the pump goroutines carry bytes, not callbacks.
package loop

import (
	"container/heap"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// Handle identifies a registered I/O source.
type Handle uint64

// TimerID identifies a registered timer.
type TimerID uint64

// ReadyCallback is invoked on the loop goroutine when data is available (or
// the source errored/closed) on a registered handle.
type ReadyCallback func(data []byte, err error)

// TimerCallback is invoked on the loop goroutine when a timer fires.
type TimerCallback func()

// DeferredCallback is invoked on the loop goroutine before the next poll
// iteration; Loop.Defer is the only way foreign goroutines (worker-pool
// results, pump goroutines) may schedule work onto loop-owned state.
type DeferredCallback func()

// ErrStopped is returned by registration methods once the loop has been
// asked to stop.
var ErrStopped = errors.New("loop: stopped")

type handleEntry struct {
	id     Handle
	reader io.Reader
	cb     ReadyCallback
	cancel context.CancelFunc
	gen    uint64
}

type timerEntry struct {
	id       TimerID
	deadline time.Time
	repeat   time.Duration
	cb       TimerCallback
	index    int
	gen      uint64
	canceled bool
}

// timerHeap is a min-heap of timerEntry ordered by deadline, giving
// addTimer/cancelTimer their documented O(log n) behavior under many
// concurrent timers (ping/pong, per-peer stall deadlines, retarget
// housekeeping).
type timerHeap []*timerEntry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
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

type readEvent struct {
	handle Handle
	gen    uint64
	data   []byte
	err    error
}

// Loop is a single-threaded reactor: every callback registered through it
// executes on the goroutine that calls Start, never concurrently with
// another callback. It is not safe to call any other method from within a
// callback except Defer, AddTimer, CancelTimer, AddHandle and
// RemoveHandle, all of which only enqueue work rather than touch loop state
// directly from a foreign goroutine.
type Loop struct {
	mu       sync.Mutex
	handles  map[Handle]*handleEntry
	timers   timerHeap
	timerIdx map[TimerID]*timerEntry
	nextID   uint64

	events   chan readEvent
	deferred chan DeferredCallback
	stopCh   chan struct{}
	stopped  atomic.Bool
	wg       sync.WaitGroup

	// generation increments on Stop so in-flight pump/worker results that
	// race the shutdown are discarded rather than delivered to a dying
	// loop.
	generation atomic.Uint64
}

// New returns an unstarted Loop with the given event-channel buffer depth
// (0 is a valid, fully synchronous choice).
func New(eventBuffer int) *Loop {
	return &Loop{
		handles:  make(map[Handle]*handleEntry),
		timerIdx: make(map[TimerID]*timerEntry),
		events:   make(chan readEvent, eventBuffer),
		deferred: make(chan DeferredCallback, 256),
		stopCh:   make(chan struct{}),
	}
}

// AddHandle registers reader for readiness notification. Each registration
// spawns one pump goroutine performing blocking reads of up to bufSize
// bytes at a time and forwarding them as events; cb fires on the loop
// goroutine for every read (including a final call with io.EOF or another
// error when the source dies).
func (l *Loop) AddHandle(reader io.Reader, bufSize int, cb ReadyCallback) (Handle, error) {
	if l.stopped.Load() {
		return 0, ErrStopped
	}
	l.mu.Lock()
	l.nextID++
	id := Handle(l.nextID)
	ctx, cancel := context.WithCancel(context.Background())
	gen := l.generation.Load()
	entry := &handleEntry{id: id, reader: reader, cb: cb, cancel: cancel, gen: gen}
	l.handles[id] = entry
	l.mu.Unlock()

	l.wg.Add(1)
	go l.pump(ctx, entry, bufSize)
	return id, nil
}

func (l *Loop) pump(ctx context.Context, entry *handleEntry, bufSize int) {
	defer l.wg.Done()
	buf := make([]byte, bufSize)
	for {
		n, err := entry.reader.Read(buf)
		var chunk []byte
		if n > 0 {
			chunk = append([]byte(nil), buf[:n]...)
		}
		select {
		case l.events <- readEvent{handle: entry.id, gen: entry.gen, data: chunk, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

// RemoveHandle unregisters a handle and stops its pump goroutine. Any event
// already in flight for it is dropped by dispatchEvent, which no longer
// finds the handle registered.
func (l *Loop) RemoveHandle(h Handle) {
	l.mu.Lock()
	entry, ok := l.handles[h]
	if ok {
		delete(l.handles, h)
	}
	l.mu.Unlock()
	if ok {
		entry.cancel()
	}
}

// AddTimer schedules cb to run after d, repeating every d thereafter if
// repeat is true, and returns an id usable with CancelTimer.
func (l *Loop) AddTimer(d time.Duration, repeat bool, cb TimerCallback) TimerID {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	id := TimerID(l.nextID)
	entry := &timerEntry{
		id:       id,
		deadline: time.Now().Add(d),
		cb:       cb,
		gen:      l.generation.Load(),
	}
	if repeat {
		entry.repeat = d
	}
	heap.Push(&l.timers, entry)
	l.timerIdx[id] = entry
	return id
}

// CancelTimer prevents a pending timer from firing; it is a no-op if the
// timer has already fired (and was not repeating) or was already canceled.
func (l *Loop) CancelTimer(id TimerID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.timerIdx[id]; ok {
		e.canceled = true
		delete(l.timerIdx, id)
	}
}

// Defer queues cb to run on the loop goroutine before the next poll
// iteration. This is the only loop-safe way for a foreign goroutine (a
// worker-pool script-verification result, a pump's completion side
// channel) to touch loop-owned component state.
func (l *Loop) Defer(cb DeferredCallback) {
	if l.stopped.Load() {
		return
	}
	select {
	case l.deferred <- cb:
	case <-l.stopCh:
	}
}

// nextTimerWait returns the duration until the next timer fires, or -1 if
// there are no pending timers.
func (l *Loop) nextTimerWait() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	for l.timers.Len() > 0 {
		top := l.timers[0]
		if top.canceled {
			heap.Pop(&l.timers)
			continue
		}
		return time.Until(top.deadline)
	}
	return -1
}

// popDueTimers pops and returns every timer whose deadline has passed,
// re-arming repeating ones.
func (l *Loop) popDueTimers(now time.Time) []*timerEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var due []*timerEntry
	for l.timers.Len() > 0 && !l.timers[0].deadline.After(now) {
		e := heap.Pop(&l.timers).(*timerEntry)
		if e.canceled {
			continue
		}
		due = append(due, e)
		if e.repeat > 0 {
			next := &timerEntry{id: e.id, deadline: now.Add(e.repeat), repeat: e.repeat, cb: e.cb, gen: e.gen}
			heap.Push(&l.timers, next)
			l.timerIdx[e.id] = next
		} else {
			delete(l.timerIdx, e.id)
		}
	}
	return due
}

// Start runs the reactor until Stop is called; it is the only blocking
// call in the component model. All ReadyCallback, TimerCallback
// and DeferredCallback invocations happen synchronously from within Start's
// goroutine.
func (l *Loop) Start() {
	for {
		if l.stopped.Load() {
			l.drainDeferred()
			return
		}

		wait := l.nextTimerWait()
		var timerC <-chan time.Time
		var timer *time.Timer
		if wait >= 0 {
			timer = time.NewTimer(wait)
			timerC = timer.C
		}

		select {
		case <-l.stopCh:
			if timer != nil {
				timer.Stop()
			}
			l.drainDeferred()
			return

		case cb := <-l.deferred:
			if timer != nil {
				timer.Stop()
			}
			cb()

		case ev := <-l.events:
			if timer != nil {
				timer.Stop()
			}
			l.dispatchEvent(ev)

		case now := <-orNow(timerC):
			for _, e := range l.popDueTimers(now) {
				if e.gen == l.generation.Load() {
					e.cb()
				}
			}
		}
	}
}

// orNow adapts a possibly-nil timer channel into a channel select can
// always read from without panicking on a nil channel blocking forever
// (which is the desired behavior when there are no pending timers).
func orNow(c <-chan time.Time) <-chan time.Time { return c }

func (l *Loop) dispatchEvent(ev readEvent) {
	l.mu.Lock()
	entry, ok := l.handles[ev.handle]
	l.mu.Unlock()
	if !ok || entry.gen != l.generation.Load() {
		return
	}
	entry.cb(ev.data, ev.err)
}

func (l *Loop) drainDeferred() {
	for {
		select {
		case cb := <-l.deferred:
			cb()
		default:
			return
		}
	}
}

// Stop sets the stop flag and wakes the poll; pump goroutines finish their
// in-flight syscall and exit, and any event already queued for a generation
// that no longer matches is discarded rather than dispatched. Stop blocks
// until every pump goroutine has exited.
func (l *Loop) Stop() {
	if l.stopped.CompareAndSwap(false, true) {
		l.generation.Add(1)
		close(l.stopCh)
	}
	l.mu.Lock()
	for _, e := range l.handles {
		e.cancel()
	}
	l.handles = make(map[Handle]*handleEntry)
	l.mu.Unlock()
	l.wg.Wait()
}
