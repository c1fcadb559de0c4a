package timers

import (
	"testing"
	"time"
)

func TestManualFiresInDueOrder(t *testing.T) {
	m := NewManual()
	var got []int
	m.AfterFunc(30*time.Millisecond, func() { got = append(got, 3) })
	m.AfterFunc(10*time.Millisecond, func() { got = append(got, 1) })
	m.AfterFunc(10*time.Millisecond, func() { got = append(got, 2) })

	m.Advance(20 * time.Millisecond)
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("after 20ms got %v, want [1 2]", got)
	}
	m.Advance(20 * time.Millisecond)
	if len(got) != 3 || got[2] != 3 {
		t.Fatalf("after 40ms got %v, want [1 2 3]", got)
	}
	if m.Now() != 40*time.Millisecond {
		t.Fatalf("now = %v, want 40ms", m.Now())
	}
}

func TestManualStop(t *testing.T) {
	m := NewManual()
	fired := false
	tm := m.AfterFunc(time.Second, func() { fired = true })
	if !tm.Stop() {
		t.Fatalf("first Stop should report true")
	}
	if tm.Stop() {
		t.Fatalf("second Stop should report false")
	}
	m.Advance(2 * time.Second)
	if fired {
		t.Fatalf("stopped timer fired")
	}
	if m.Pending() != 0 {
		t.Fatalf("pending = %d, want 0", m.Pending())
	}
}

func TestManualCallbackCanSchedule(t *testing.T) {
	m := NewManual()
	var order []string
	m.AfterFunc(time.Second, func() {
		order = append(order, "outer")
		m.AfterFunc(time.Second, func() { order = append(order, "inner") })
	})
	m.Advance(3 * time.Second)
	if len(order) != 2 || order[1] != "inner" {
		t.Fatalf("order = %v", order)
	}
}
