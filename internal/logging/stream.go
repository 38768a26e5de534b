package logging

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

// LogEntry represents a structured log entry
type LogEntry struct {
	Line      uint64                 `json:"line"`
	Time      time.Time              `json:"time"`
	Level     string                 `json:"level"`
	Message   string                 `json:"msg"`
	Component string                 `json:"component,omitempty"`
	Attrs     map[string]interface{} `json:"attrs,omitempty"`
}

// RingBuffer stores the most recent log entries. Every entry keeps its
// absolute line number, counted from process start, so remote readers can
// page through the log incrementally even after old lines are evicted.
type RingBuffer struct {
	entries []LogEntry
	size    int
	head    int
	count   int
	total   uint64
	mu      sync.RWMutex
}

// NewRingBuffer creates a new ring buffer with the specified size
func NewRingBuffer(size int) *RingBuffer {
	return &RingBuffer{
		entries: make([]LogEntry, size),
		size:    size,
	}
}

// Add adds a log entry to the ring buffer, assigning it the next absolute
// line number.
func (rb *RingBuffer) Add(entry LogEntry) {
	rb.mu.Lock()
	entry.Line = rb.total
	rb.total++
	rb.entries[rb.head] = entry
	rb.head = (rb.head + 1) % rb.size
	if rb.count < rb.size {
		rb.count++
	}
	rb.mu.Unlock()
}

// Lines returns the total number of lines logged since process start,
// including lines already evicted from the buffer.
func (rb *RingBuffer) Lines() uint64 {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.total
}

// GetRecent returns the most recent n entries
func (rb *RingBuffer) GetRecent(n int) []LogEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n > rb.count {
		n = rb.count
	}

	result := make([]LogEntry, n)
	start := (rb.head - n + rb.size) % rb.size
	for i := 0; i < n; i++ {
		result[i] = rb.entries[(start+i)%rb.size]
	}
	return result
}

// Window returns up to limit entries starting at absolute line number
// start, and the line number to resume from. Lines already evicted are
// skipped; the caller detects the gap by comparing the first entry's Line
// with its request.
func (rb *RingBuffer) Window(start uint64, limit int) ([]LogEntry, uint64) {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	oldest := rb.total - uint64(rb.count)
	if start < oldest {
		start = oldest
	}
	if start >= rb.total {
		return nil, rb.total
	}
	available := int(rb.total - start)
	if limit <= 0 || limit > available {
		limit = available
	}

	result := make([]LogEntry, limit)
	first := (rb.head - rb.count + int(start-oldest) + 2*rb.size) % rb.size
	for i := 0; i < limit; i++ {
		result[i] = rb.entries[(first+i)%rb.size]
	}
	return result, start + uint64(limit)
}

// StreamHandler is a slog handler that captures logs to a ring buffer
type StreamHandler struct {
	buffer   *RingBuffer
	fallback slog.Handler
	level    slog.Level
	attrs    []slog.Attr
	groups   []string
}

// NewStreamHandler creates a handler that captures logs to the ring buffer
func NewStreamHandler(buffer *RingBuffer, fallback io.Writer, level slog.Level) *StreamHandler {
	return &StreamHandler{
		buffer:   buffer,
		fallback: slog.NewJSONHandler(fallback, &slog.HandlerOptions{Level: level}),
		level:    level,
	}
}

// Enabled implements slog.Handler
func (h *StreamHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

// Handle implements slog.Handler
func (h *StreamHandler) Handle(ctx context.Context, r slog.Record) error {
	// Extract attributes
	attrs := make(map[string]interface{})
	var component string

	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "component" {
			component = a.Value.String()
		} else {
			attrs[a.Key] = a.Value.Any()
		}
		return true
	})

	// Add handler-level attrs
	for _, a := range h.attrs {
		if a.Key == "component" {
			component = a.Value.String()
		} else {
			attrs[a.Key] = a.Value.Any()
		}
	}

	entry := LogEntry{
		Time:      r.Time,
		Level:     r.Level.String(),
		Message:   r.Message,
		Component: component,
		Attrs:     attrs,
	}

	h.buffer.Add(entry)

	// Also write to fallback
	return h.fallback.Handle(ctx, r)
}

// WithAttrs implements slog.Handler
func (h *StreamHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &StreamHandler{
		buffer:   h.buffer,
		fallback: h.fallback.WithAttrs(attrs),
		level:    h.level,
		attrs:    append(h.attrs, attrs...),
		groups:   h.groups,
	}
}

// WithGroup implements slog.Handler
func (h *StreamHandler) WithGroup(name string) slog.Handler {
	return &StreamHandler{
		buffer:   h.buffer,
		fallback: h.fallback.WithGroup(name),
		level:    h.level,
		attrs:    h.attrs,
		groups:   append(h.groups, name),
	}
}

// Install routes slog's default logger through a fresh ring buffer backed
// by the given writer, and returns the buffer for the log window API.
func Install(w io.Writer, level slog.Level) *RingBuffer {
	buffer := NewRingBuffer(1000)
	slog.SetDefault(slog.New(NewStreamHandler(buffer, w, level)))
	return buffer
}
