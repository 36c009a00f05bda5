package looptimer

import (
	"testing"
	"time"

	"go.uber.org/goleak"
	"pgregory.net/rapid"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func runLoop(t *testing.T) *Loop {
	t.Helper()
	l := New()
	done := make(chan struct{})
	go func() {
		l.Run()
		close(done)
	}()
	t.Cleanup(func() {
		l.Stop()
		<-done
	})
	return l
}

func TestLoopPostRunsSerially(t *testing.T) {
	l := runLoop(t)

	var order []int
	results := make(chan struct{})
	for i := 0; i < 5; i++ {
		i := i
		l.Post(func() {
			order = append(order, i)
			if len(order) == 5 {
				close(results)
			}
		})
	}

	select {
	case <-results:
	case <-time.After(time.Second):
		t.Fatal("tasks did not all run")
	}
	if len(order) != 5 {
		t.Fatalf("got %d tasks, want 5", len(order))
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("order[%d] = %d, want %d (posts must run in FIFO order)", i, v, i)
		}
	}
}

func TestLoopStopIsIdempotent(t *testing.T) {
	l := New()
	done := make(chan struct{})
	go func() {
		l.Run()
		close(done)
	}()

	l.Stop()
	l.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestLoopPostFromOffLoopGoroutine(t *testing.T) {
	l := runLoop(t)

	received := make(chan string, 1)
	go func() {
		l.Post(func() { received <- "hello" })
	}()

	select {
	case v := <-received:
		if v != "hello" {
			t.Fatalf("got %q, want %q", v, "hello")
		}
	case <-time.After(time.Second):
		t.Fatal("off-loop Post never ran")
	}
}

func TestNotifyStopOnSignalRemove(t *testing.T) {
	l := New()
	remove := NotifyStopOnSignal(l)
	remove()
}

// TestLoopStopLeavesNoGoroutines checks that for any number of posted tasks
// and repeating Timers started before Stop, nothing survives it: the Loop
// goroutine and every Timer goroutine must exit once Stop runs and its
// Timers are stopped.
func TestLoopStopLeavesNoGoroutines(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		posts := rapid.IntRange(0, 20).Draw(rt, "posts")
		repeaters := rapid.IntRange(0, 5).Draw(rt, "repeaters")

		l := New()
		done := make(chan struct{})
		go func() {
			l.Run()
			close(done)
		}()

		for i := 0; i < posts; i++ {
			l.Post(func() {})
		}

		var timers []*Timer
		for i := 0; i < repeaters; i++ {
			tm := NewTimer(l, time.Millisecond, func() {})
			tm.Start()
			timers = append(timers, tm)
		}

		time.Sleep(5 * time.Millisecond)

		for _, tm := range timers {
			tm.Stop()
		}
		l.Stop()

		select {
		case <-done:
		case <-time.After(time.Second):
			rt.Fatal("Run did not return after Stop")
		}
	})

	if err := goleak.Find(); err != nil {
		t.Fatalf("goroutines leaked across Loop/Timer lifecycles: %v", err)
	}
}
