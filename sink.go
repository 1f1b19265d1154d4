package camrecord

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/e7canasta/camrecord/internal/gstpipe"
)

// FileSink is a FrameSink that encodes frames to an H.264 MP4 file.
//
// The encoder pipeline is built on the first frame, since the frame carries
// the dimensions the caps need.
type FileSink struct {
	mu      sync.Mutex
	path    string
	fps     int
	enc     *gstpipe.Encoder
	written uint64
	opened  bool
}

// NewFileSink creates an unopened sink.
func NewFileSink() *FileSink {
	return &FileSink{}
}

// Open prepares path for writing at fps.
func (s *FileSink) Open(path string, fps int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opened {
		return fmt.Errorf("%w: sink already open at %s", ErrSink, s.path)
	}
	if fps < 1 {
		return fmt.Errorf("%w: invalid fps %d", ErrSink, fps)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrSink, err)
	}

	s.path = path
	s.fps = fps
	s.opened = true
	return nil
}

// WriteFrame appends f to the file.
func (s *FileSink) WriteFrame(f *Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.opened {
		return fmt.Errorf("%w: sink not open", ErrSink)
	}
	if len(f.Data) != f.ExpectedSize() {
		return fmt.Errorf("%w: frame %d has %d bytes, want %d",
			ErrSink, f.Seq, len(f.Data), f.ExpectedSize())
	}

	if s.enc == nil {
		enc, err := gstpipe.OpenEncoder(s.path, f.Width, f.Height, s.fps)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrSink, s.path, err)
		}
		s.enc = enc
	}

	if err := s.enc.Push(f.Data); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSink, s.path, err)
	}
	s.written++

	return nil
}

// Close finalizes the container. Idempotent.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.opened {
		return nil
	}
	s.opened = false

	if s.enc == nil {
		slog.Debug("camrecord: sink closed without frames", "path", s.path)
		return nil
	}

	err := s.enc.Close()
	s.enc = nil
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSink, s.path, err)
	}

	slog.Info("camrecord: recording file finalized", "path", s.path, "frames", s.written)
	return nil
}

// Path returns the output path.
func (s *FileSink) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}
