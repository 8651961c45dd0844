// internal/detector/window_test.go
package detector

import (
	"fmt"
	"testing"

	"github.com/signalnine/auspex/internal/protocol"
)

func sampleN(n int) *protocol.MetricSample {
	return &protocol.MetricSample{Host: fmt.Sprintf("host%d", n), Kind: protocol.KindSystem}
}

func TestWindowNeverExceedsCapacity(t *testing.T) {
	w := NewWindow(10)
	for i := 0; i < 500; i++ {
		w.Push(sampleN(i))
		if w.Len() > 10 {
			t.Fatalf("after %d pushes window holds %d samples, capacity 10", i+1, w.Len())
		}
	}
	if w.Len() != 10 {
		t.Errorf("expected full window of 10, got %d", w.Len())
	}
}

func TestWindowEvictsOldestFirst(t *testing.T) {
	w := NewWindow(3)
	for i := 0; i < 5; i++ {
		w.Push(sampleN(i))
	}

	snap := w.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(snap))
	}
	for i, want := range []string{"host2", "host3", "host4"} {
		if snap[i].Host != want {
			t.Errorf("snap[%d].Host = %s, want %s", i, snap[i].Host, want)
		}
	}
}

func TestWindowSnapshotIsCopy(t *testing.T) {
	w := NewWindow(5)
	w.Push(sampleN(0))
	snap := w.Snapshot()

	w.Push(sampleN(1))
	if len(snap) != 1 {
		t.Errorf("snapshot grew after later push: len %d", len(snap))
	}

	snap[0] = nil
	if w.Snapshot()[0] == nil {
		t.Error("mutating a snapshot leaked into the window")
	}
}

func TestWindowShrinkToHalf(t *testing.T) {
	w := NewWindow(10)
	for i := 0; i < 10; i++ {
		w.Push(sampleN(i))
	}

	w.ShrinkToHalf()
	if w.Len() != 5 {
		t.Fatalf("expected 5 samples after shrink, got %d", w.Len())
	}
	if got := w.Snapshot()[0].Host; got != "host5" {
		t.Errorf("shrink should drop oldest; first sample = %s, want host5", got)
	}

	// Shrinking an already-small window is a no-op.
	w.ShrinkToHalf()
	if w.Len() != 5 {
		t.Errorf("second shrink changed length to %d", w.Len())
	}
}

func TestWindowMinimumCapacity(t *testing.T) {
	w := NewWindow(0)
	w.Push(sampleN(0))
	w.Push(sampleN(1))
	if w.Len() != 1 {
		t.Errorf("zero-capacity window should clamp to 1, got len %d", w.Len())
	}
}
