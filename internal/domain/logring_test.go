package domain

import "testing"

func TestLogRingEviction(t *testing.T) {
	ring := NewLogRing(3)
	for i := 0; i < 5; i++ {
		ring.Push(LogEntry{Message: string(rune('a' + i))})
	}
	all := ring.All()
	if len(all) != 3 {
		t.Fatalf("expected ring capped at 3 entries, got %d", len(all))
	}
	want := []string{"c", "d", "e"}
	for i, e := range all {
		if e.Message != want[i] {
			t.Fatalf("expected oldest-first order %v, got %q at index %d", want, e.Message, i)
		}
	}
}

func TestLogRingRecentN(t *testing.T) {
	ring := NewLogRing(5)
	ring.Push(LogEntry{Message: "1"})
	ring.Push(LogEntry{Message: "2"})
	ring.Push(LogEntry{Message: "3"})

	recent := ring.Recent(2)
	if len(recent) != 2 || recent[0].Message != "2" || recent[1].Message != "3" {
		t.Fatalf("expected last 2 entries [2 3], got %+v", recent)
	}
}
