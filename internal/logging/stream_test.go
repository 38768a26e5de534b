package logging

import (
	"bytes"
	"fmt"
	"log/slog"
	"testing"
)

func addN(rb *RingBuffer, n int) {
	for i := 0; i < n; i++ {
		rb.Add(LogEntry{Message: fmt.Sprintf("line %d", i)})
	}
}

func TestRingBuffer_WindowBasic(t *testing.T) {
	rb := NewRingBuffer(10)
	addN(rb, 5)

	entries, next := rb.Window(0, 0)
	if len(entries) != 5 {
		t.Fatalf("Window(0) returned %d entries, want 5", len(entries))
	}
	if next != 5 {
		t.Errorf("next = %d, want 5", next)
	}
	for i, e := range entries {
		if e.Line != uint64(i) {
			t.Errorf("entries[%d].Line = %d, want %d", i, e.Line, i)
		}
	}

	// Resuming from next returns nothing until new lines arrive.
	entries, next = rb.Window(next, 0)
	if len(entries) != 0 || next != 5 {
		t.Errorf("Window(5) = %d entries, next %d; want 0 entries, next 5", len(entries), next)
	}
	addN(rb, 2)
	entries, _ = rb.Window(next, 0)
	if len(entries) != 2 || entries[0].Line != 5 {
		t.Errorf("incremental Window = %d entries starting at %d, want 2 starting at 5", len(entries), entries[0].Line)
	}
}

func TestRingBuffer_WindowAfterEviction(t *testing.T) {
	rb := NewRingBuffer(4)
	addN(rb, 10)

	if rb.Lines() != 10 {
		t.Fatalf("Lines() = %d, want 10", rb.Lines())
	}
	// Lines 0..5 are gone; asking for them starts at the oldest survivor.
	entries, next := rb.Window(0, 0)
	if len(entries) != 4 {
		t.Fatalf("Window(0) after eviction = %d entries, want 4", len(entries))
	}
	if entries[0].Line != 6 {
		t.Errorf("first surviving line = %d, want 6", entries[0].Line)
	}
	if next != 10 {
		t.Errorf("next = %d, want 10", next)
	}
}

func TestRingBuffer_WindowLimit(t *testing.T) {
	rb := NewRingBuffer(10)
	addN(rb, 8)
	entries, next := rb.Window(2, 3)
	if len(entries) != 3 || entries[0].Line != 2 || next != 5 {
		t.Errorf("Window(2, 3) = %d entries from %d, next %d; want 3 from 2, next 5", len(entries), entries[0].Line, next)
	}
}

func TestStreamHandler_CapturesComponent(t *testing.T) {
	rb := NewRingBuffer(10)
	var out bytes.Buffer
	logger := slog.New(NewStreamHandler(rb, &out, slog.LevelDebug))

	logger.With("component", "camera").Info("camera ready", "serial", "111")

	entries := rb.GetRecent(1)
	if len(entries) != 1 {
		t.Fatal("handler did not buffer the record")
	}
	e := entries[0]
	if e.Component != "camera" {
		t.Errorf("Component = %q, want camera", e.Component)
	}
	if e.Message != "camera ready" {
		t.Errorf("Message = %q", e.Message)
	}
	if e.Attrs["serial"] != "111" {
		t.Errorf("Attrs[serial] = %v, want 111", e.Attrs["serial"])
	}
	if out.Len() == 0 {
		t.Error("fallback JSON writer received nothing")
	}
}

func TestInstall_SetsDefault(t *testing.T) {
	old := slog.Default()
	defer slog.SetDefault(old)

	var out bytes.Buffer
	rb := Install(&out, slog.LevelInfo)
	slog.Info("hello")
	if rb.Lines() != 1 {
		t.Errorf("Lines() = %d after one log, want 1", rb.Lines())
	}
}
