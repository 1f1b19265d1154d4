package camrecord

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func fastWorkerConfig() WorkerConfig {
	cfg := DefaultWorkerConfig()
	cfg.StartGrace = 500 * time.Millisecond
	cfg.RetryDelay = time.Millisecond
	cfg.MaxRetryDelay = 2 * time.Millisecond
	return cfg
}

// TestFrameSlot_RoundTrip verifies that a written frame is read back with the
// same sequence number and a packed RGB buffer of exactly width*height*3 bytes.
func TestFrameSlot_RoundTrip(t *testing.T) {
	slot := NewFrameSlot()

	if got := slot.Read(); got != nil {
		t.Fatalf("Read() on empty slot = %+v, want nil", got)
	}

	for seq := uint64(1); seq <= 3; seq++ {
		slot.Write(&Frame{
			Seq:    seq,
			Width:  640,
			Height: 480,
			Data:   make([]byte, 640*480*3),
		})
	}

	got := slot.Read()
	if got == nil {
		t.Fatal("Read() = nil after Write()")
	}
	if got.Seq != 3 {
		t.Errorf("Seq = %d, want 3 (latest frame wins)", got.Seq)
	}
	if len(got.Data) != 640*480*3 || len(got.Data) != got.ExpectedSize() {
		t.Errorf("len(Data) = %d, want %d", len(got.Data), 640*480*3)
	}
	if slot.Writes() != 3 {
		t.Errorf("Writes() = %d, want 3", slot.Writes())
	}

	t.Log("✅ FrameSlot keeps the latest frame intact")
}

// TestCaptureWorker_StartStop exercises the happy path in preview mode:
//  1. Start returns once the first frame reached the slot (state Running)
//  2. Frames keep arriving with increasing Seq
//  3. Stop joins the loop, closes the source and leaves the worker Idle
//  4. A second Stop is a no-op
func TestCaptureWorker_StartStop(t *testing.T) {
	src := &fakeSource{name: "cam0"}
	slot := NewFrameSlot()
	w := NewCaptureWorker(SideLeft, src, slot, fastWorkerConfig())

	if w.State() != StateIdle {
		t.Fatalf("initial state = %v, want idle", w.State())
	}

	if err := w.Start(context.Background(), 60); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if w.State() != StateRunning {
		t.Errorf("state after Start() = %v, want running", w.State())
	}
	if slot.Read() == nil {
		t.Error("slot empty after Start() returned")
	}
	if w.IsRecording() {
		t.Error("IsRecording() = true without a session")
	}

	if !waitFor(time.Second, func() bool { return w.Stats().FramesCaptured >= 5 }) {
		t.Fatalf("only %d frames captured", w.Stats().FramesCaptured)
	}
	first := slot.Read().Seq
	if !waitFor(time.Second, func() bool { return slot.Read().Seq > first }) {
		t.Error("slot stopped updating")
	}

	if err := w.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if w.State() != StateIdle {
		t.Errorf("state after Stop() = %v, want idle", w.State())
	}
	if src.isOpen() {
		t.Error("source still open after Stop()")
	}
	select {
	case <-w.Done():
	default:
		t.Error("Done() not closed after Stop()")
	}

	captured := w.Stats().FramesCaptured
	time.Sleep(50 * time.Millisecond)
	if w.Stats().FramesCaptured != captured {
		t.Error("frames captured after Stop() returned")
	}

	if err := w.Stop(); err != nil {
		t.Errorf("second Stop() failed: %v", err)
	}
	if src.closes.Load() != 1 {
		t.Errorf("source closed %d times, want 1", src.closes.Load())
	}

	t.Logf("✅ Worker captured %d frames and stopped cleanly", captured)
}

// TestCaptureWorker_StartFailures verifies that every failed Start leaves
// nothing running and reports the right error kind.
func TestCaptureWorker_StartFailures(t *testing.T) {
	testCases := []struct {
		name    string
		source  *fakeSource
		fps     int
		wantErr error
		// wantCloses is the number of source Close calls expected
		wantCloses int32
	}{
		{
			name:       "source_unavailable",
			source:     &fakeSource{name: "gone", openErr: errors.New("no such device")},
			fps:        30,
			wantErr:    ErrSourceUnavailable,
			wantCloses: 0,
		},
		{
			name:       "no_frame_within_grace",
			source:     &fakeSource{name: "silent", block: true},
			fps:        30,
			wantErr:    ErrStartTimeout,
			wantCloses: 1,
		},
		{
			name:       "invalid_fps",
			source:     &fakeSource{name: "cam"},
			fps:        0,
			wantErr:    ErrInvalidParameter,
			wantCloses: 0,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := fastWorkerConfig()
			cfg.StartGrace = 50 * time.Millisecond
			w := NewCaptureWorker(SideLeft, tc.source, NewFrameSlot(), cfg)

			err := w.Start(context.Background(), tc.fps)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("Start() error = %v, want %v", err, tc.wantErr)
			}
			if w.State() != StateIdle {
				t.Errorf("state = %v, want idle", w.State())
			}
			if got := tc.source.closes.Load(); got != tc.wantCloses {
				t.Errorf("source closed %d times, want %d", got, tc.wantCloses)
			}
			if err := w.Stop(); err != nil {
				t.Errorf("Stop() after failed Start() = %v", err)
			}
		})
	}
}

// TestCaptureWorker_AbsorbsTransientFailures verifies that pull glitches of a
// live camera are dropped frames, not fatal errors.
func TestCaptureWorker_AbsorbsTransientFailures(t *testing.T) {
	src := &fakeSource{name: "flaky", transient: 5}
	w := NewCaptureWorker(SideLeft, src, NewFrameSlot(), fastWorkerConfig())

	if err := w.Start(context.Background(), 60); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer w.Stop()

	if !waitFor(2*time.Second, func() bool { return w.Stats().FramesCaptured >= 10 }) {
		t.Fatalf("capture did not recover: %+v", w.Stats())
	}

	stats := w.Stats()
	if stats.PullFailures != 5 {
		t.Errorf("PullFailures = %d, want 5", stats.PullFailures)
	}
	if stats.State != StateRunning {
		t.Errorf("State = %v, want running", stats.State)
	}
	if stats.Err != nil {
		t.Errorf("Err = %v, want nil", stats.Err)
	}

	t.Logf("✅ %d glitches absorbed, %d frames captured", stats.PullFailures, stats.FramesCaptured)
}

// TestCaptureWorker_ExhaustedSource verifies that a source that can no longer
// produce frames ends the worker: the source is released, the state returns
// to Idle and the slot keeps the last frame.
func TestCaptureWorker_ExhaustedSource(t *testing.T) {
	testCases := []struct {
		name   string
		source *fakeSource
		cfg    func(*WorkerConfig)
	}{
		{
			name:   "unplugged",
			source: &fakeSource{name: "usb", exhaustAfter: 3},
		},
		{
			name:   "retry_budget_spent",
			source: &fakeSource{name: "dying", transient: 1000},
			cfg:    func(c *WorkerConfig) { c.MaxConsecutiveFailures = 5 },
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := fastWorkerConfig()
			if tc.cfg != nil {
				tc.cfg(&cfg)
			}
			slot := NewFrameSlot()
			w := NewCaptureWorker(SideRight, tc.source, slot, cfg)

			if err := w.Start(context.Background(), 60); err != nil {
				t.Fatalf("Start() failed: %v", err)
			}

			select {
			case <-w.Done():
			case <-time.After(2 * time.Second):
				w.Stop()
				t.Fatal("worker did not stop on an exhausted source")
			}

			if !errors.Is(w.Err(), ErrSourceExhausted) {
				t.Errorf("Err() = %v, want ErrSourceExhausted", w.Err())
			}
			if w.State() != StateIdle {
				t.Errorf("State() = %v, want idle", w.State())
			}
			if tc.source.isOpen() {
				t.Error("source still open")
			}
			if slot.Read() == nil {
				t.Error("slot lost its last frame")
			}
			if err := w.Stop(); err != nil {
				t.Errorf("Stop() = %v", err)
			}
		})
	}
}

// TestCaptureWorker_RecordsUntilTarget verifies the self-terminating
// recording: fps*duration frames are written in increasing Seq order, then
// the sink and the source are closed.
func TestCaptureWorker_RecordsUntilTarget(t *testing.T) {
	src := &fakeSource{name: "cam"}
	sink := &fakeSink{}
	session := NewRecordingSession(t.TempDir(), 20, 1, Single("cam"), time.Now())
	w := NewCaptureWorker(SideLeft, src, NewFrameSlot(), fastWorkerConfig())

	if err := w.Start(context.Background(), 20); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	start := time.Now()
	if err := w.BeginRecording(session, sink); err != nil {
		t.Fatalf("BeginRecording() failed: %v", err)
	}
	if !w.IsRecording() {
		t.Error("IsRecording() = false after BeginRecording()")
	}

	select {
	case <-w.Done():
	case <-time.After(3 * time.Second):
		w.Stop()
		t.Fatal("recording did not end on its own")
	}
	elapsed := time.Since(start)

	written := sink.written()
	if len(written) != 20 {
		t.Fatalf("wrote %d frames, want 20", len(written))
	}
	// Frames captured before BeginRecording are previewed only
	for i, seq := range written {
		if seq != written[0]+uint64(i) {
			t.Fatalf("frame %d has Seq %d, want %d", i, seq, written[0]+uint64(i))
		}
	}
	if session.FramesWritten(SideLeft) != 20 {
		t.Errorf("session FramesWritten = %d, want 20", session.FramesWritten(SideLeft))
	}
	if !strings.HasSuffix(sink.Path(), "_left.mp4") {
		t.Errorf("sink path = %q, want *_left.mp4", sink.Path())
	}
	if sink.closeCount() != 1 {
		t.Errorf("sink closed %d times, want 1", sink.closeCount())
	}
	if src.isOpen() {
		t.Error("source still open")
	}
	if elapsed < 900*time.Millisecond {
		t.Errorf("recording lasted %v, want about 1s", elapsed)
	}

	w.Stop()
	t.Logf("✅ 20 frames recorded in %v", elapsed)
}

// TestCaptureWorker_BeginRecording verifies that a rejected BeginRecording
// leaves the worker as it was and releases the sink it was handed.
func TestCaptureWorker_BeginRecording(t *testing.T) {
	testCases := []struct {
		name    string
		sink    *fakeSink
		noStart bool
		twice   bool
		wantErr error
		// wantRunning is the worker state expected after the call
		wantRunning bool
		// wantCloses is the number of sink Close calls expected
		wantCloses int
	}{
		{
			name:        "sink_open_fails",
			sink:        &fakeSink{openErr: errors.New("read-only file system")},
			wantErr:     ErrSink,
			wantRunning: true,
			wantCloses:  0,
		},
		{
			name:       "worker_not_running",
			sink:       &fakeSink{},
			noStart:    true,
			wantCloses: 0,
		},
		{
			name:        "already_recording",
			sink:        &fakeSink{},
			twice:       true,
			wantRunning: true,
			wantCloses:  1,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			src := &fakeSource{name: "cam"}
			w := NewCaptureWorker(SideLeft, src, NewFrameSlot(), fastWorkerConfig())
			defer w.Stop()

			if !tc.noStart {
				if err := w.Start(context.Background(), 30); err != nil {
					t.Fatalf("Start() failed: %v", err)
				}
			}
			session := NewRecordingSession(t.TempDir(), 30, 10, Single("cam"), time.Now())

			if tc.twice {
				if err := w.BeginRecording(session, &fakeSink{}); err != nil {
					t.Fatalf("first BeginRecording() failed: %v", err)
				}
			}

			err := w.BeginRecording(session, tc.sink)
			if err == nil {
				t.Fatal("BeginRecording() succeeded, want error")
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Errorf("BeginRecording() error = %v, want %v", err, tc.wantErr)
			}
			if got := w.State() == StateRunning; got != tc.wantRunning {
				t.Errorf("running = %v, want %v", got, tc.wantRunning)
			}
			if w.IsRecording() != tc.twice {
				t.Errorf("IsRecording() = %v, want %v", w.IsRecording(), tc.twice)
			}
			if got := tc.sink.closeCount(); got != tc.wantCloses {
				t.Errorf("sink closed %d times, want %d", got, tc.wantCloses)
			}
			if len(tc.sink.written()) != 0 {
				t.Errorf("rejected sink received %d frames", len(tc.sink.written()))
			}
		})
	}

	if err := NewCaptureWorker(SideLeft, &fakeSource{}, NewFrameSlot(), fastWorkerConfig()).BeginRecording(nil, nil); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("BeginRecording(nil, nil) = %v, want ErrInvalidParameter", err)
	}
}
