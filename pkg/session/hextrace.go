package session

import (
	"bytes"
	"errors"
	"strings"
	"sync"

	"github.com/smallnest/ringbuffer"
)

// DefaultHexTraceSize is the byte budget of the raw packet trace.
const DefaultHexTraceSize = 4096

// HexTrace is a bounded log of hex-rendered packets, one per line. When full,
// the oldest lines are evicted.
type HexTrace struct {
	mu  sync.Mutex
	buf *ringbuffer.RingBuffer
}

func NewHexTrace(size int) *HexTrace {
	if size <= 0 {
		size = DefaultHexTraceSize
	}
	return &HexTrace{buf: ringbuffer.New(size)}
}

// Add appends a line. Lines longer than the trace are truncated.
func (h *HexTrace) Add(line string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	capacity := h.buf.Capacity()
	if len(line)+1 > capacity {
		line = line[:capacity-1]
	}
	for capacity-h.buf.Length() < len(line)+1 {
		if !h.dropOldest() {
			h.buf.Reset()
			break
		}
	}
	_, _ = h.buf.Write([]byte(line + "\n"))
}

// dropOldest discards bytes up to and including the first newline.
func (h *HexTrace) dropOldest() bool {
	one := make([]byte, 1)
	for {
		n, err := h.buf.TryRead(one)
		if n == 0 || errors.Is(err, ringbuffer.ErrIsEmpty) {
			return false
		}
		if one[0] == '\n' {
			return true
		}
	}
}

// Lines returns the trace oldest first.
func (h *HexTrace) Lines() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := h.buf.Length()
	if n == 0 {
		return nil
	}
	data := make([]byte, n)
	read, _ := h.buf.TryRead(data)
	data = data[:read]
	_, _ = h.buf.Write(data)

	return strings.Split(string(bytes.TrimSuffix(data, []byte("\n"))), "\n")
}

func (h *HexTrace) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf.Reset()
}
