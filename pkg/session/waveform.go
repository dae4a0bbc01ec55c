package session

import "sync"

// DefaultWaveformCapacity is the number of points kept for display.
const DefaultWaveformCapacity = 360

// WaveformBuffer keeps the most recent values in a fixed-size ring. Appends
// are O(1); readers get consistent copies.
type WaveformBuffer struct {
	mu    sync.RWMutex
	data  []float64
	start int
	size  int
}

// NewWaveformBuffer creates a buffer; capacity <= 0 uses DefaultWaveformCapacity.
func NewWaveformBuffer(capacity int) *WaveformBuffer {
	if capacity <= 0 {
		capacity = DefaultWaveformCapacity
	}
	return &WaveformBuffer{data: make([]float64, capacity)}
}

// Append adds v, evicting the oldest value when full.
func (w *WaveformBuffer) Append(v float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.size < len(w.data) {
		w.data[(w.start+w.size)%len(w.data)] = v
		w.size++
		return
	}
	w.data[w.start] = v
	w.start = (w.start + 1) % len(w.data)
}

// Snapshot returns the values oldest first.
func (w *WaveformBuffer) Snapshot() []float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]float64, w.size)
	for i := 0; i < w.size; i++ {
		out[i] = w.data[(w.start+i)%len(w.data)]
	}
	return out
}

func (w *WaveformBuffer) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.size
}

func (w *WaveformBuffer) Cap() int { return len(w.data) }

func (w *WaveformBuffer) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.start, w.size = 0, 0
}
