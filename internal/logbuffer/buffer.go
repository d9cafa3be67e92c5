package logbuffer

import (
	"strings"
	"sync"
	"time"
)

const (
	// DefaultBufferSize is the default number of lines to keep
	DefaultBufferSize = 200
	// MaxLineSize is the maximum size of a single line in bytes
	MaxLineSize = 1024
)

// Line is one captured line of external tool output
type Line struct {
	Timestamp time.Time `json:"timestamp"`
	Stream    string    `json:"stream"` // "stdout" or "stderr"
	Text      string    `json:"text"`
}

// RingBuffer is a thread-safe circular buffer that keeps the newest lines
type RingBuffer struct {
	mu       sync.RWMutex
	lines    []Line
	head     int // next write position
	count    int
	capacity int
	dropped  int // lines overwritten since the last Clear
}

// New creates a new RingBuffer with the specified capacity
func New(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}
	return &RingBuffer{
		lines:    make([]Line, capacity),
		capacity: capacity,
	}
}

// Add appends a line, overwriting the oldest one when full.
// Lines longer than MaxLineSize are truncated.
func (rb *RingBuffer) Add(line Line) {
	if len(line.Text) > MaxLineSize {
		line.Text = line.Text[:MaxLineSize-3] + "..."
	}
	if line.Timestamp.IsZero() {
		line.Timestamp = time.Now()
	}

	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.lines[rb.head] = line
	rb.head = (rb.head + 1) % rb.capacity
	if rb.count < rb.capacity {
		rb.count++
	} else {
		rb.dropped++
	}
}

// GetAll returns all lines in chronological order (oldest first)
func (rb *RingBuffer) GetAll() []Line {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if rb.count == 0 {
		return nil
	}

	start := 0
	if rb.count == rb.capacity {
		start = rb.head
	}

	result := make([]Line, 0, rb.count)
	for i := 0; i < rb.count; i++ {
		result = append(result, rb.lines[(start+i)%rb.capacity])
	}
	return result
}

// Tail returns at most n newest lines joined by newlines, oldest first
func (rb *RingBuffer) Tail(n int) string {
	all := rb.GetAll()
	if n > 0 && len(all) > n {
		all = all[len(all)-n:]
	}

	var sb strings.Builder
	for i, l := range all {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(l.Text)
	}
	return sb.String()
}

// Clear removes all lines from the buffer
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.head = 0
	rb.count = 0
	rb.dropped = 0
}

// Count returns the number of lines currently in the buffer
func (rb *RingBuffer) Count() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

// Dropped returns how many lines were overwritten since the last Clear
func (rb *RingBuffer) Dropped() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.dropped
}

// Capacity returns the maximum number of lines the buffer can hold
func (rb *RingBuffer) Capacity() int {
	return rb.capacity
}
