package camrecord

import "context"

// FrameSource produces RGB frames of a fixed size on demand.
//
// Implementations:
//   - LiveCamera: V4L2 device through a GStreamer pipeline
//   - LoopingFile: decoded video file, restarted at end-of-stream
//
// Contract:
//   - Open() acquires the device/file; errors wrap ErrSourceUnavailable
//   - PullFrame() blocks until a frame is available, bounded by the
//     source's own timeout. Transient errors wrap ErrPullFailed; fatal
//     errors wrap ErrSourceExhausted or ErrDecode
//   - Every returned Frame owns a freshly allocated Data buffer
//   - Close() releases the handle and is safe to call more than once
type FrameSource interface {
	Open(ctx context.Context) error
	PullFrame(ctx context.Context) (*Frame, error)
	Close() error
	Kind() SourceKind
	Name() string
}

// FrameSink persists frames to storage.
//
// Contract:
//   - Open() prepares the output; errors wrap ErrSink
//   - WriteFrame() appends one frame; errors wrap ErrSink
//   - Close() finalizes the container and is safe to call more than once
type FrameSink interface {
	Open(path string, fps int) error
	WriteFrame(f *Frame) error
	Close() error
	Path() string
}

// SourceFactory builds the FrameSource for one device.
type SourceFactory func(device string, side Side) FrameSource

// SinkFactory builds an unopened FrameSink.
type SinkFactory func() FrameSink
