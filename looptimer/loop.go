// Package looptimer implements the single-threaded cooperative event loop
// that every colugo node runs on, plus the periodic and one-shot callback
// scheduling primitives built on top of it.
//
// All endpoint I/O completion, discovery callbacks and timers execute
// serially on one Loop goroutine; callers off that goroutine (mDNS browser
// threads in particular) marshal work onto it with Post instead of touching
// shared state directly.
package looptimer

import (
	"os"
	"os/signal"
	"sync"
)

// defaultQueueDepth bounds the loop's task channel. Posts beyond this depth
// from off-loop goroutines still succeed (Post spawns a one-off goroutine
// to avoid blocking a busy mDNS thread) but a consistently full queue means
// the application's callbacks are too slow relative to the event rate.
const defaultQueueDepth = 256

// Loop is a single-threaded, cooperative task queue. Nothing here runs in
// parallel: Run drains tasks one at a time on its own goroutine until Stop
// is called.
type Loop struct {
	tasks chan func()
	quit  chan struct{}

	mu       sync.Mutex
	stopOnce sync.Once
	running  bool
}

// New creates a Loop. Call Run to start draining tasks; it blocks the
// calling goroutine.
func New() *Loop {
	return &Loop{
		tasks: make(chan func(), defaultQueueDepth),
		quit:  make(chan struct{}),
	}
}

// Post enqueues fn to run on the loop goroutine. Safe to call from any
// goroutine, including mDNS browser callbacks. If the queue is momentarily
// full, Post does not block the caller — it hands the send off to a short-
// lived goroutine so a slow off-loop producer can never deadlock the loop.
func (l *Loop) Post(fn func()) {
	select {
	case l.tasks <- fn:
	default:
		go func() {
			select {
			case l.tasks <- fn:
			case <-l.quit:
			}
		}()
	}
}

// Run drains tasks until Stop is called. Blocking; call it from the
// goroutine that owns the node's lifecycle.
func (l *Loop) Run() {
	l.mu.Lock()
	l.running = true
	l.mu.Unlock()

	for {
		select {
		case <-l.quit:
			l.mu.Lock()
			l.running = false
			l.mu.Unlock()
			return
		case fn := <-l.tasks:
			fn()
		}
	}
}

// Stop causes Run to return. Idempotent; safe to call from any goroutine,
// including a signal handler's marshaled callback.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.quit)
	})
}

// Running reports whether Run is currently draining tasks.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// NotifyStopOnSignal installs a handler for the given signals that posts
// Stop onto the loop rather than running in signal context, per the event
// loop's "stop runs on the loop, not in signal context" contract. Returns a
// function that removes the handler.
func NotifyStopOnSignal(l *Loop, sig ...os.Signal) (remove func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sig...)
	done := make(chan struct{})

	go func() {
		select {
		case <-ch:
			l.Post(l.Stop)
		case <-done:
		}
	}()

	return func() {
		signal.Stop(ch)
		close(done)
	}
}
