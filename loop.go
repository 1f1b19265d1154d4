package camrecord

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/camrecord/internal/gstpipe"
)

// Decoder produces the frames of one video file in order.
//
// Next returns io.EOF at end-of-stream. Rewind repositions at the first
// frame. Duration may be 0 when the container does not report one.
type Decoder interface {
	Open() error
	Next() ([]byte, error)
	Rewind() error
	Duration() time.Duration
	Close() error
}

// LoopingFile is a FrameSource that replays a video file forever.
//
// At end-of-stream the decoder is rewound and decoding resumes at frame 0,
// so the sequence of Positions is 0..N-1, 0..N-1, ... Seq keeps increasing
// across loops.
type LoopingFile struct {
	path   string
	width  int
	height int
	label  string

	mu       sync.Mutex
	dec      Decoder
	opened   bool
	position int
	seq      uint64
	loops    uint64
}

// NewLoopingFile creates an unopened looping source decoded by GStreamer.
func NewLoopingFile(path string, width, height int, pullTimeout time.Duration) *LoopingFile {
	return NewLoopingFileWithDecoder(path, width, height,
		gstpipe.NewFileDecoder(path, width, height, pullTimeout))
}

// NewLoopingFileWithDecoder creates an unopened looping source over dec.
func NewLoopingFileWithDecoder(path string, width, height int, dec Decoder) *LoopingFile {
	return &LoopingFile{
		path:   path,
		width:  width,
		height: height,
		label:  filepath.Base(path),
		dec:    dec,
	}
}

// Open opens the file. A missing or unreadable file wraps
// ErrSourceUnavailable; an existing file the pipeline rejects for any other
// reason wraps ErrDecode.
func (l *LoopingFile) Open(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.opened {
		return nil
	}

	if err := l.dec.Open(); err != nil {
		if l.undecodable(err) {
			return fmt.Errorf("%w: %s: %v", ErrDecode, l.path, err)
		}
		return fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, l.path, err)
	}

	l.opened = true
	l.position = 0

	slog.Debug("camrecord: looping file opened",
		"path", l.path,
		"duration", l.dec.Duration(),
	)
	return nil
}

// undecodable reports whether an Open failure is about the content of the
// file rather than access to it.
func (l *LoopingFile) undecodable(err error) bool {
	var perr *gstpipe.PipelineError
	if errors.As(err, &perr) {
		switch perr.Category {
		case gstpipe.ErrCategoryCodec:
			return true
		case gstpipe.ErrCategoryResource:
			return false
		}
	}
	info, statErr := os.Stat(l.path)
	return statErr == nil && info.Mode().IsRegular()
}

// PullFrame decodes the frame at the cursor, wrapping to frame 0 at
// end-of-stream.
func (l *LoopingFile) PullFrame(ctx context.Context) (*Frame, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.opened {
		return nil, fmt.Errorf("%w: %s not open", ErrSourceExhausted, l.path)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := l.dec.Next()
	if errors.Is(err, io.EOF) {
		if err := l.rewind(); err != nil {
			return nil, err
		}
		data, err = l.dec.Next()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %s: file has no frames", ErrDecode, l.path)
		}
	}
	if err != nil {
		if errors.Is(err, gstpipe.ErrTimeout) {
			return nil, fmt.Errorf("%w: %s: %v", ErrPullFailed, l.path, err)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrDecode, l.path, err)
	}

	if len(data) != l.width*l.height*3 {
		return nil, fmt.Errorf("%w: %s: frame size %d, want %d",
			ErrDecode, l.path, len(data), l.width*l.height*3)
	}

	l.seq++
	frame := &Frame{
		Seq:          l.seq,
		Timestamp:    time.Now(),
		Width:        l.width,
		Height:       l.height,
		Data:         data,
		Position:     l.position,
		SourceStream: l.label,
		TraceID:      uuid.New().String(),
	}
	l.position++

	return frame, nil
}

func (l *LoopingFile) rewind() error {
	if err := l.dec.Rewind(); err != nil {
		return fmt.Errorf("%w: %s: rewind: %v", ErrDecode, l.path, err)
	}
	l.position = 0
	l.loops++

	slog.Debug("camrecord: looping file rewound", "path", l.path, "loops", l.loops)
	return nil
}

// Close releases the decoder. Idempotent.
func (l *LoopingFile) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.opened {
		return nil
	}
	l.opened = false
	return l.dec.Close()
}

// Duration returns the media duration (0 when unknown).
func (l *LoopingFile) Duration() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dec.Duration()
}

// Loops returns how many times the file wrapped.
func (l *LoopingFile) Loops() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loops
}

// Path returns the file path.
func (l *LoopingFile) Path() string { return l.path }

// Kind returns KindFile.
func (l *LoopingFile) Kind() SourceKind { return KindFile }

// Name returns the file name.
func (l *LoopingFile) Name() string { return l.label }
