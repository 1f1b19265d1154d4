package camrecord

import (
	"fmt"
	"time"
)

// Frame represents a single RGB video frame with metadata
type Frame struct {
	// Seq is the monotonic sequence number assigned by the producer
	Seq uint64
	// Timestamp is when the frame was captured/decoded
	Timestamp time.Time
	// Width in pixels
	Width int
	// Height in pixels
	Height int
	// Data contains packed RGB pixels, row-major, exactly Width*Height*3 bytes
	Data []byte
	// Position is the 0-based frame index inside a file (looping sources only)
	Position int
	// SourceStream identifies the producer (e.g., "left", "/dev/video0")
	SourceStream string
	// TraceID is a unique identifier for tracing a frame through the system
	TraceID string
}

// ExpectedSize returns the byte length a packed RGB frame of this size must have.
func (f *Frame) ExpectedSize() int {
	return f.Width * f.Height * 3
}

// Side identifies the logical position of a stream in a stereo pair.
type Side int

const (
	// SideLeft is the first (or only) camera
	SideLeft Side = iota
	// SideRight is the second camera in Dual mode
	SideRight
)

// String returns a human-readable string representation of the side
func (s Side) String() string {
	switch s {
	case SideLeft:
		return "left"
	case SideRight:
		return "right"
	default:
		return "unknown"
	}
}

// SourceKind distinguishes live devices from looping files.
type SourceKind int

const (
	// KindLive is a hardware capture device
	KindLive SourceKind = iota
	// KindFile is a decoded video file replayed in a loop
	KindFile
)

// String returns a human-readable string representation of the kind
func (k SourceKind) String() string {
	switch k {
	case KindLive:
		return "live"
	case KindFile:
		return "file"
	default:
		return "unknown"
	}
}

// CameraSource selects one or two devices for a capture run.
//
// Build it with Single or Dual. The value is immutable once passed to
// StartRecording or StartPreview.
type CameraSource struct {
	left  string
	right string
	dual  bool
}

// Single selects one device. It is captured as the left side.
func Single(device string) CameraSource {
	return CameraSource{left: device}
}

// Dual selects a left and a right device.
func Dual(left, right string) CameraSource {
	return CameraSource{left: left, right: right, dual: true}
}

// IsDual reports whether two devices are selected.
func (c CameraSource) IsDual() bool { return c.dual }

// Devices returns the selected devices in start order (left first).
func (c CameraSource) Devices() []string {
	if c.dual {
		return []string{c.left, c.right}
	}
	return []string{c.left}
}

// String returns a human-readable string representation of the source
func (c CameraSource) String() string {
	if c.dual {
		return fmt.Sprintf("Dual(%s, %s)", c.left, c.right)
	}
	return fmt.Sprintf("Single(%s)", c.left)
}

// DevicePath maps a camera index to its V4L2 device node.
func DevicePath(index int) string {
	return fmt.Sprintf("/dev/video%d", index)
}

// WorkerStats contains current capture worker statistics
type WorkerStats struct {
	// Side is the logical side the worker feeds
	Side Side
	// Source is the FrameSource name
	Source string
	// State is the worker lifecycle state
	State WorkerState
	// FramesCaptured is the number of frames pulled and published to the slot
	FramesCaptured uint64
	// PullFailures is the number of absorbed pull errors (dropped frames)
	PullFailures uint64
	// FramesWritten is the number of frames appended to the sink
	FramesWritten uint64
	// FPSReal is the measured capture rate
	FPSReal float64
	// FPSStdDev is the standard deviation of the instantaneous capture rate
	FPSStdDev float64
	// IsStable is true if the capture cadence is stable
	IsStable bool
	// Err is the error that ended the worker, if any
	Err error
}
