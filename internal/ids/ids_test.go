package ids

import (
	"testing"
	"time"
)

func TestNewIsSortable(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := NewAt(base)
	b := NewAt(base.Add(time.Millisecond))
	if len(a) != 26 {
		t.Fatalf("unexpected id length %d", len(a))
	}
	if a >= b {
		t.Fatalf("expected %s < %s", a, b)
	}
}

func TestNewMonotonicWithinMillisecond(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	prev := NewAt(at)
	for i := 0; i < 50; i++ {
		next := NewAt(at)
		if next <= prev {
			t.Fatalf("ids not monotonic: %s then %s", prev, next)
		}
		prev = next
	}
}
