package colugo

import (
	"errors"
	"testing"
	"time"

	"github.com/pickledgator/colugo/directory"
)

func newTestNode(t *testing.T) *Node {
	t.Helper()
	n, err := New("test-node")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	go n.Start()
	t.Cleanup(n.Stop)
	return n
}

func TestAddPublisherRejectsDuplicateTopic(t *testing.T) {
	n := newTestNode(t)

	if _, err := n.AddPublisher("sensors/temp"); err != nil {
		t.Fatalf("first AddPublisher: %v", err)
	}
	if _, err := n.AddPublisher("sensors/temp"); !errors.Is(err, ErrDuplicateLocalEndpoint) {
		t.Fatalf("second AddPublisher: got %v, want ErrDuplicateLocalEndpoint", err)
	}
}

func TestAddReplyServerRejectsDuplicateTopic(t *testing.T) {
	n := newTestNode(t)
	handler := func(req []byte, reply func(interface{}) error) {}

	if _, err := n.AddReplyServer("echo", handler); err != nil {
		t.Fatalf("first AddReplyServer: %v", err)
	}
	if _, err := n.AddReplyServer("echo", handler); !errors.Is(err, ErrDuplicateLocalEndpoint) {
		t.Fatalf("second AddReplyServer: got %v, want ErrDuplicateLocalEndpoint", err)
	}
}

func TestAddSubscriberRegistersAsClient(t *testing.T) {
	n := newTestNode(t)

	sub, err := n.AddSubscriber("sensors/temp", func([]byte) {}, nil)
	if err != nil {
		t.Fatalf("AddSubscriber: %v", err)
	}
	if sub.Topic() != "sensors/temp" {
		t.Fatalf("Topic() = %q, want %q", sub.Topic(), "sensors/temp")
	}

	found := false
	for _, s := range n.disc.Clients() {
		if s.Topic == "sensors/temp" && s.Kind == directory.Sub {
			found = true
		}
	}
	if !found {
		t.Fatal("AddSubscriber should register a Sub entry in the client directory")
	}
}

func TestNodeStopIsIdempotent(t *testing.T) {
	n, err := New("idempotent-stop")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	go n.Start()
	time.Sleep(50 * time.Millisecond)

	n.Stop()
	n.Stop()
}

func TestAddRepeaterFiresPeriodically(t *testing.T) {
	n := newTestNode(t)

	count := make(chan struct{}, 10)
	n.AddRepeater(20*time.Millisecond, func() {
		select {
		case count <- struct{}{}:
		default:
		}
	})

	select {
	case <-count:
	case <-time.After(2 * time.Second):
		t.Fatal("repeater never fired")
	}
}

func TestAddDelayedCallbackFiresOnce(t *testing.T) {
	n := newTestNode(t)

	fired := make(chan struct{})
	n.AddDelayedCallback(20*time.Millisecond, func() {
		close(fired)
	})

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("delayed callback never fired")
	}
}
