package looptimer

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduleAfterFiresOnce(t *testing.T) {
	l := runLoop(t)

	var fired atomic.Int32
	done := make(chan struct{})
	ScheduleAfter(l, 10*time.Millisecond, func() {
		fired.Add(1)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("callback never fired")
	}
	time.Sleep(20 * time.Millisecond)
	if got := fired.Load(); got != 1 {
		t.Fatalf("fired %d times, want 1", got)
	}
}

func TestOneShotCancel(t *testing.T) {
	l := runLoop(t)

	var fired atomic.Bool
	o := ScheduleAfter(l, 20*time.Millisecond, func() {
		fired.Store(true)
	})
	o.Cancel()

	time.Sleep(50 * time.Millisecond)
	if fired.Load() {
		t.Fatal("cancelled callback fired anyway")
	}
}

func TestTimerRepeats(t *testing.T) {
	l := runLoop(t)

	var count atomic.Int32
	tm := NewTimer(l, 10*time.Millisecond, func() {
		count.Add(1)
	})
	tm.Start()
	t.Cleanup(tm.Stop)

	deadline := time.After(time.Second)
	for count.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("only fired %d times in 1s, want >= 3", count.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestTimerStopHaltsFiring(t *testing.T) {
	l := runLoop(t)

	var count atomic.Int32
	tm := NewTimer(l, 5*time.Millisecond, func() {
		count.Add(1)
	})
	tm.Start()
	time.Sleep(30 * time.Millisecond)
	tm.Stop()
	seen := count.Load()
	time.Sleep(30 * time.Millisecond)
	if count.Load() != seen {
		t.Fatalf("timer fired after Stop: before=%d after=%d", seen, count.Load())
	}
}

func TestTimerStartIsIdempotent(t *testing.T) {
	l := runLoop(t)
	tm := NewTimer(l, 5*time.Millisecond, func() {})
	tm.Start()
	tm.Start()
	tm.Stop()
}
