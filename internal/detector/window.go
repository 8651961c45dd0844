// internal/detector/window.go
package detector

import (
	"sync"

	"github.com/signalnine/auspex/internal/protocol"
)

// Window is a bounded, ordered buffer of samples shared between the ingest
// path and the detection loop. All operations hold the lock only for the
// append/copy/trim itself, never for a whole ingest or detect pass.
type Window struct {
	mu       sync.Mutex
	samples  []*protocol.MetricSample
	capacity int
}

// NewWindow creates a window with the given capacity (>= 1).
func NewWindow(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{
		samples:  make([]*protocol.MetricSample, 0, capacity),
		capacity: capacity,
	}
}

// Push appends a sample, evicting from the front once over capacity.
func (w *Window) Push(s *protocol.MetricSample) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.samples = append(w.samples, s)
	if over := len(w.samples) - w.capacity; over > 0 {
		w.samples = append(w.samples[:0], w.samples[over:]...)
	}
}

// Snapshot returns a copy of the current contents.
func (w *Window) Snapshot() []*protocol.MetricSample {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := make([]*protocol.MetricSample, len(w.samples))
	copy(snap, w.samples)
	return snap
}

// ShrinkToHalf trims the oldest samples down to capacity/2. Called once per
// detection cycle so recent samples stay eligible for one more cycle.
func (w *Window) ShrinkToHalf() {
	w.mu.Lock()
	defer w.mu.Unlock()

	target := w.capacity / 2
	if over := len(w.samples) - target; over > 0 {
		w.samples = append(w.samples[:0], w.samples[over:]...)
	}
}

// Len returns the current number of buffered samples.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.samples)
}
