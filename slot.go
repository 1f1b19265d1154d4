package camrecord

import "sync/atomic"

// FrameSlot holds the most recent frame of one stream.
//
// Semantics:
//   - Single-slot buffer (latest frame only)
//   - Overwrite policy: a new frame replaces the old one (drop-oldest)
//   - Write and Read never block (atomic pointer swap, no lock)
//
// One writer per slot (the owning CaptureWorker), any number of readers.
// Frames are immutable once written, so readers share the pointer without
// copying pixel data.
type FrameSlot struct {
	frame  atomic.Pointer[Frame]
	writes atomic.Uint64
}

// NewFrameSlot creates an empty slot.
func NewFrameSlot() *FrameSlot {
	return &FrameSlot{}
}

// Write publishes f as the latest frame. Never blocks.
func (s *FrameSlot) Write(f *Frame) {
	s.frame.Store(f)
	s.writes.Add(1)
}

// Read returns the latest frame, or nil if nothing was ever written.
func (s *FrameSlot) Read() *Frame {
	return s.frame.Load()
}

// Writes returns the number of frames written so far. Readers that poll
// slower than the producer observe Writes growing faster than their reads.
func (s *FrameSlot) Writes() uint64 {
	return s.writes.Load()
}
