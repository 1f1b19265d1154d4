package camrecord

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

const (
	testWidth  = 8
	testHeight = 6
)

// fakeSource is an in-memory FrameSource.
type fakeSource struct {
	name    string
	openErr error
	// block makes PullFrame wait for ctx cancellation without producing
	block bool
	// transient is the number of ErrPullFailed pulls after the first frame
	transient int
	// exhaustAfter returns ErrSourceExhausted once this many frames were produced (0 = never)
	exhaustAfter uint64

	mu     sync.Mutex
	opened bool
	seq    uint64

	opens  atomic.Int32
	closes atomic.Int32
}

func (s *fakeSource) Open(ctx context.Context) error {
	s.opens.Add(1)
	if s.openErr != nil {
		return s.openErr
	}
	s.mu.Lock()
	s.opened = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSource) PullFrame(ctx context.Context) (*Frame, error) {
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.opened {
		return nil, fmt.Errorf("%w: %s closed", ErrSourceExhausted, s.name)
	}
	if s.exhaustAfter > 0 && s.seq >= s.exhaustAfter {
		return nil, fmt.Errorf("%w: %s unplugged", ErrSourceExhausted, s.name)
	}
	if s.seq > 0 && s.transient > 0 {
		s.transient--
		return nil, fmt.Errorf("%w: %s glitch", ErrPullFailed, s.name)
	}

	s.seq++
	return &Frame{
		Seq:          s.seq,
		Timestamp:    time.Now(),
		Width:        testWidth,
		Height:       testHeight,
		Data:         make([]byte, testWidth*testHeight*3),
		SourceStream: s.name,
	}, nil
}

func (s *fakeSource) Close() error {
	s.closes.Add(1)
	s.mu.Lock()
	s.opened = false
	s.mu.Unlock()
	return nil
}

func (s *fakeSource) Kind() SourceKind { return KindLive }
func (s *fakeSource) Name() string     { return s.name }

func (s *fakeSource) isOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}

// fakeSink is an in-memory FrameSink.
type fakeSink struct {
	openErr error
	// failAt makes the n-th WriteFrame fail (0 = never)
	failAt int
	// create makes Open create an empty file at the output path
	create bool

	mu     sync.Mutex
	path   string
	fps    int
	seqs   []uint64
	closed int
}

func (s *fakeSink) Open(path string, fps int) error {
	if s.openErr != nil {
		return s.openErr
	}
	if s.create {
		if err := os.WriteFile(path, nil, 0o644); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.path = path
	s.fps = fps
	return nil
}

func (s *fakeSink) WriteFrame(f *Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failAt > 0 && len(s.seqs)+1 == s.failAt {
		return fmt.Errorf("%w: disk full", ErrSink)
	}
	s.seqs = append(s.seqs, f.Seq)
	return nil
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *fakeSink) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

func (s *fakeSink) written() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint64(nil), s.seqs...)
}

func (s *fakeSink) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fakeRig wires fake sources and sinks into a recorder and remembers them by
// device and side.
type fakeRig struct {
	mu      sync.Mutex
	sources map[string]*fakeSource
	sinks   []*fakeSink
	built   atomic.Int32

	// configure customizes each source before it is handed out
	configure func(src *fakeSource)
	// sinkFor customizes the sink of the n-th NewSink call (0-based)
	sinkFor func(n int, sink *fakeSink)
}

func newFakeRig() *fakeRig {
	return &fakeRig{sources: make(map[string]*fakeSource)}
}

func (r *fakeRig) newSource(device string, side Side) FrameSource {
	r.built.Add(1)
	src := &fakeSource{name: device}
	if device == "bad" {
		src.openErr = fmt.Errorf("%w: %s: no such device", ErrSourceUnavailable, device)
	}
	if r.configure != nil {
		r.configure(src)
	}

	r.mu.Lock()
	r.sources[device] = src
	r.mu.Unlock()
	return src
}

func (r *fakeRig) newSink() FrameSink {
	r.mu.Lock()
	defer r.mu.Unlock()

	sink := &fakeSink{}
	if r.sinkFor != nil {
		r.sinkFor(len(r.sinks), sink)
	}
	r.sinks = append(r.sinks, sink)
	return sink
}

func (r *fakeRig) source(device string) *fakeSource {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sources[device]
}

func (r *fakeRig) sinkCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sinks)
}

func (r *fakeRig) sink(n int) *fakeSink {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sinks[n]
}

func (r *fakeRig) recorder() *DualCameraRecorder {
	cfg := DefaultRecorderConfig()
	cfg.NewSource = r.newSource
	cfg.NewSink = r.newSink
	cfg.Worker.StartGrace = 500 * time.Millisecond
	cfg.Worker.RetryDelay = time.Millisecond
	cfg.Worker.MaxRetryDelay = 2 * time.Millisecond
	return NewDualCameraRecorder(cfg)
}

// fakeDecoder is an in-memory Decoder over a fixed number of frames. The
// first byte of each frame holds its index.
type fakeDecoder struct {
	frames   int
	duration time.Duration
	openErr  error
	// failAt makes Next fail at this index (-1 = never)
	failAt int

	pos     int
	rewinds int
	opened  bool
	closed  bool
}

func newFakeDecoder(frames int) *fakeDecoder {
	return &fakeDecoder{frames: frames, failAt: -1, duration: time.Duration(frames) * time.Second / 5}
}

func (d *fakeDecoder) Open() error {
	if d.openErr != nil {
		return d.openErr
	}
	d.opened = true
	d.closed = false
	d.pos = 0
	return nil
}

func (d *fakeDecoder) Next() ([]byte, error) {
	if d.pos == d.failAt {
		return nil, errors.New("corrupt NAL unit")
	}
	if d.pos >= d.frames {
		return nil, io.EOF
	}
	data := make([]byte, testWidth*testHeight*3)
	data[0] = byte(d.pos)
	d.pos++
	return data, nil
}

func (d *fakeDecoder) Rewind() error {
	d.pos = 0
	d.rewinds++
	return nil
}

func (d *fakeDecoder) Duration() time.Duration { return d.duration }

func (d *fakeDecoder) Close() error {
	d.closed = true
	return nil
}

// waitFor polls cond until it holds or timeout elapses.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
