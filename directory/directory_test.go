package directory

import (
	"fmt"
	"testing"

	"pgregory.net/rapid"
)

func TestDirectoryAddRejectsDuplicate(t *testing.T) {
	d := NewDirectory("node-a")
	s := New("topic", "127.0.0.1", 10001, Pub, "node-a")

	if !d.Add(s) {
		t.Fatal("first Add should succeed")
	}
	if d.Add(s) {
		t.Fatal("second Add of an equal Service should be rejected")
	}
	if d.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", d.Len())
	}
}

func TestDirectoryRemoveByTopicAndUUID(t *testing.T) {
	d := NewDirectory("node-a")
	s := New("topic", "127.0.0.1", 10001, Rep, "node-a")
	d.Add(s)

	if !d.Remove("topic", "node-a") {
		t.Fatal("Remove should find the matching (topic, node_uuid) pair")
	}
	if d.Len() != 0 {
		t.Fatal("directory should be empty after removal")
	}
	if d.Remove("topic", "node-a") {
		t.Fatal("second Remove of the same pair should fail")
	}
}

func TestDirectoryByTopic(t *testing.T) {
	d := NewDirectory("node-a")
	d.Add(New("a", "127.0.0.1", 10001, Pub, "node-a"))
	d.Add(New("b", "127.0.0.1", 10002, Pub, "node-a"))
	d.Add(New("a", "127.0.0.1", 10003, Pub, "node-b"))

	got := d.ByTopic("a")
	if len(got) != 2 {
		t.Fatalf("ByTopic(a) returned %d services, want 2", len(got))
	}
}

// serviceGen generates arbitrary Services over a small alphabet, so rapid
// can explore collisions between Add calls.
func serviceGen() *rapid.Generator[Service] {
	return rapid.Custom(func(t *rapid.T) Service {
		topic := rapid.SampledFrom([]string{"a", "b", "c"}).Draw(t, "topic")
		nodeUUID := rapid.SampledFrom([]string{"node-1", "node-2"}).Draw(t, "nodeUUID")
		port := rapid.IntRange(10001, 10003).Draw(t, "port")
		kind := Kind(rapid.IntRange(1, 4).Draw(t, "kind"))
		return New(topic, "127.0.0.1", port, kind, nodeUUID)
	})
}

func TestDirectoryNeverHoldsDuplicates(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		d := NewDirectory("node-1")
		ops := rapid.SliceOfN(serviceGen(), 0, 50).Draw(t, "ops")
		for _, s := range ops {
			d.Add(s)
		}

		all := d.All()
		for i := 0; i < len(all); i++ {
			for j := i + 1; j < len(all); j++ {
				if all[i].Equal(all[j]) {
					t.Fatalf("directory holds duplicate services: %v and %v", all[i], all[j])
				}
			}
		}
	})
}

func TestDirectoryAllIsACopy(t *testing.T) {
	d := NewDirectory("node-a")
	d.Add(New("topic", "127.0.0.1", 10001, Pub, "node-a"))

	snap := d.All()
	snap[0].Port = 99999
	if d.All()[0].Port == 99999 {
		t.Fatal("mutating the snapshot returned by All must not affect the directory")
	}
}

func ExampleDirectory_Add() {
	d := NewDirectory("node-a")
	s := New("sensors/temp", "127.0.0.1", 10001, Pub, "node-a")
	fmt.Println(d.Add(s))
	fmt.Println(d.Add(s))
	// Output:
	// true
	// false
}
