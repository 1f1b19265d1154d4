package camrecord

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Allowed recording parameter ranges.
const (
	MinFPS      = 1
	MaxFPS      = 60
	MinDuration = 1
	MaxDuration = 300
)

// SessionStore persists the summary of a finished recording session.
type SessionStore interface {
	SaveSession(ctx context.Context, summary SessionSummary) error
}

// RecorderConfig contains configuration for a DualCameraRecorder
type RecorderConfig struct {
	// Camera configures LiveCamera sources built by the default factory
	Camera CameraConfig
	// Worker configures every CaptureWorker
	Worker WorkerConfig
	// NewSource builds the source of one device (default: LoopingFile for
	// video files, LiveCamera otherwise)
	NewSource SourceFactory
	// NewSink builds the sink of one side (default: FileSink)
	NewSink SinkFactory
	// Catalog receives session summaries when a recording ends (optional)
	Catalog SessionStore
	// Clock returns the current time (default: time.Now)
	Clock func() time.Time
}

// DefaultRecorderConfig returns the default recorder configuration.
func DefaultRecorderConfig() RecorderConfig {
	return RecorderConfig{
		Camera: DefaultCameraConfig(),
		Worker: DefaultWorkerConfig(),
	}
}

// ValidateRecording checks fps and duration against their allowed ranges.
func ValidateRecording(fps, duration int) error {
	if fps < MinFPS || fps > MaxFPS {
		return fmt.Errorf("%w: fps %d (must be %d-%d)", ErrInvalidParameter, fps, MinFPS, MaxFPS)
	}
	if duration < MinDuration || duration > MaxDuration {
		return fmt.Errorf("%w: duration %ds (must be %d-%d)", ErrInvalidParameter, duration, MinDuration, MaxDuration)
	}
	return nil
}

// activeSet is the group of workers started by one StartRecording or
// StartPreview call.
type activeSet struct {
	source  CameraSource
	workers []*CaptureWorker
	slots   [2]*FrameSlot
	session *RecordingSession

	finalizeOnce sync.Once
}

// DualCameraRecorder runs one or two CaptureWorkers under a single
// start/stop lifecycle.
//
// Lifecycle operations (StartRecording, StartPreview, StopRecording) are
// serialized. Frame and status reads (LeftFrame, RightFrame, IsRecording)
// never block: they load the active set through an atomic pointer.
type DualCameraRecorder struct {
	cfg RecorderConfig

	mu     sync.Mutex
	active atomic.Pointer[activeSet]
}

// NewDualCameraRecorder creates an idle recorder.
func NewDualCameraRecorder(cfg RecorderConfig) *DualCameraRecorder {
	if cfg.Camera.Width <= 0 || cfg.Camera.Height <= 0 {
		def := DefaultCameraConfig()
		cfg.Camera.Width, cfg.Camera.Height = def.Width, def.Height
	}
	if cfg.Camera.PullTimeout <= 0 {
		cfg.Camera.PullTimeout = DefaultCameraConfig().PullTimeout
	}
	if cfg.Camera.StartTimeout <= 0 {
		cfg.Camera.StartTimeout = DefaultCameraConfig().StartTimeout
	}
	if cfg.NewSource == nil {
		cfg.NewSource = defaultSourceFactory(cfg.Camera)
	}
	if cfg.NewSink == nil {
		cfg.NewSink = func() FrameSink { return NewFileSink() }
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	return &DualCameraRecorder{cfg: cfg}
}

// defaultSourceFactory replays video files in a loop and opens anything
// else as a V4L2 device.
func defaultSourceFactory(cam CameraConfig) SourceFactory {
	return func(device string, side Side) FrameSource {
		if IsVideoFile(device) {
			return NewLoopingFile(device, cam.Width, cam.Height, cam.PullTimeout)
		}
		return NewLiveCamera(device, side.String(), cam)
	}
}

// StartRecording starts capturing source and recording it to outputDir for
// duration seconds at fps.
//
// Parameters are validated before any device is touched. Every side starts
// in preview mode and records only once all sides are running. In Dual mode
// the start is all-or-nothing: if either side fails, the side already
// started is stopped, no output file is left behind and a
// *PartialStartFailure naming the failed device is returned.
// On success the call returns immediately and capture runs in background
// goroutines until the duration elapses or StopRecording is called.
func (r *DualCameraRecorder) StartRecording(ctx context.Context, source CameraSource, outputDir string, fps, duration int) error {
	if err := ValidateRecording(fps, duration); err != nil {
		return err
	}
	if outputDir == "" {
		return fmt.Errorf("%w: empty output directory", ErrInvalidParameter)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.IsRecording() {
		return ErrAlreadyRecording
	}
	r.stopLocked()

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSink, outputDir, err)
	}

	session := NewRecordingSession(outputDir, fps, duration, source, r.cfg.Clock())

	set, err := r.activate(ctx, source, fps, session)
	if err != nil {
		return err
	}
	r.active.Store(set)

	go r.watch(set)

	slog.Info("camrecord: recording started",
		"session", session.ID,
		"source", source.String(),
		"output_dir", outputDir,
		"fps", fps,
		"duration_s", duration,
	)
	return nil
}

// StartPreview runs the workers of source without a recording session, so
// LeftFrame and RightFrame deliver live frames and IsRecording stays false.
func (r *DualCameraRecorder) StartPreview(ctx context.Context, source CameraSource, fps int) error {
	if fps < MinFPS || fps > MaxFPS {
		return fmt.Errorf("%w: fps %d (must be %d-%d)", ErrInvalidParameter, fps, MinFPS, MaxFPS)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.IsRecording() {
		return ErrAlreadyRecording
	}
	r.stopLocked()

	set, err := r.activate(ctx, source, fps, nil)
	if err != nil {
		return err
	}
	r.active.Store(set)

	slog.Info("camrecord: preview started", "source", source.String(), "fps", fps)
	return nil
}

// activate starts one worker per device, left first, then attaches session
// to all of them. Nothing is recorded until every side is running. On
// failure every worker already started is stopped before returning.
func (r *DualCameraRecorder) activate(ctx context.Context, source CameraSource, fps int, session *RecordingSession) (*activeSet, error) {
	set := &activeSet{source: source, session: session}
	devices := source.Devices()

	for i, device := range devices {
		side := Side(i)
		slot := NewFrameSlot()
		worker := NewCaptureWorker(side, r.cfg.NewSource(device, side), slot, r.cfg.Worker)

		if err := worker.Start(ctx, fps); err != nil {
			set.stop()
			return nil, r.startFailure(source, device, side, err)
		}

		set.workers = append(set.workers, worker)
		set.slots[side] = slot
	}

	if session == nil {
		return set, nil
	}

	if i, err := r.beginRecording(set, session); err != nil {
		return nil, r.startFailure(source, devices[i], Side(i), err)
	}
	return set, nil
}

// beginRecording opens one sink per worker and only then attaches them, so
// either every side records or none does. On failure the workers are stopped
// and any output file already created is removed. It returns the index of
// the failing side.
func (r *DualCameraRecorder) beginRecording(set *activeSet, session *RecordingSession) (int, error) {
	sinks := make([]FrameSink, 0, len(set.workers))

	rollback := func(attached int) {
		set.stop()
		for i, sink := range sinks {
			if i >= attached {
				sink.Close()
			}
			path := session.OutputPath(Side(i))
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				slog.Warn("camrecord: failed to remove partial recording", "path", path, "error", err)
			}
		}
	}

	for i, w := range set.workers {
		sink := r.cfg.NewSink()
		if err := w.openSink(session, sink); err != nil {
			rollback(0)
			return i, err
		}
		sinks = append(sinks, sink)
	}

	for i, w := range set.workers {
		if err := w.attach(session, sinks[i]); err != nil {
			rollback(i)
			return i, err
		}
	}
	return 0, nil
}

// startFailure logs a failed start and shapes the error for the source mode.
func (r *DualCameraRecorder) startFailure(source CameraSource, device string, side Side, err error) error {
	slog.Error("camrecord: failed to start camera",
		"side", side.String(),
		"device", device,
		"source", source.String(),
		"error", err,
	)

	if source.IsDual() {
		return &PartialStartFailure{Device: device, Side: side, Err: err}
	}
	return err
}

// stop stops every worker of set in start order. Workers close their own
// attached sinks.
func (set *activeSet) stop() {
	for _, w := range set.workers {
		w.Stop()
	}
}

// watch finalizes the session once every worker of set has exited.
func (r *DualCameraRecorder) watch(set *activeSet) {
	for _, w := range set.workers {
		<-w.Done()
	}
	r.finalize(set)
}

// finalize writes the session manifest and catalogs the session. Runs at
// most once per set, whether triggered by the watcher or by StopRecording.
func (r *DualCameraRecorder) finalize(set *activeSet) {
	set.finalizeOnce.Do(func() {
		if set.session == nil {
			return
		}

		stats := make([]WorkerStats, 0, len(set.workers))
		for _, w := range set.workers {
			stats = append(stats, w.Stats())
		}
		summary := set.session.Summarize(r.cfg.Clock(), stats)

		if err := WriteManifest(set.session.ManifestPath(), summary); err != nil {
			slog.Error("camrecord: failed to write session manifest",
				"session", summary.ID,
				"error", err,
			)
		}

		if r.cfg.Catalog != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := r.cfg.Catalog.SaveSession(ctx, summary); err != nil {
				slog.Error("camrecord: failed to catalog session",
					"session", summary.ID,
					"error", err,
				)
			}
		}

		slog.Info("camrecord: recording session finalized",
			"session", summary.ID,
			"manifest", set.session.ManifestPath(),
			"left_frames", set.session.FramesWritten(SideLeft),
			"right_frames", set.session.FramesWritten(SideRight),
		)
	})
}

// StopRecording stops every active worker in start order and waits for
// them. Safe to call when nothing is running.
func (r *DualCameraRecorder) StopRecording() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stopLocked()
}

func (r *DualCameraRecorder) stopLocked() {
	set := r.active.Swap(nil)
	if set == nil {
		return
	}

	set.stop()
	r.finalize(set)

	slog.Info("camrecord: capture stopped", "source", set.source.String())
}

// IsRecording reports whether at least one worker is running with an
// active recording session. Never blocks.
func (r *DualCameraRecorder) IsRecording() bool {
	set := r.active.Load()
	if set == nil || set.session == nil {
		return false
	}
	for _, w := range set.workers {
		if w.IsRecording() {
			return true
		}
	}
	return false
}

// LeftFrame returns the latest left frame, or nil. Never blocks.
func (r *DualCameraRecorder) LeftFrame() *Frame {
	return r.frame(SideLeft)
}

// RightFrame returns the latest right frame, or nil. Never blocks.
func (r *DualCameraRecorder) RightFrame() *Frame {
	return r.frame(SideRight)
}

func (r *DualCameraRecorder) frame(side Side) *Frame {
	set := r.active.Load()
	if set == nil || set.slots[side] == nil {
		return nil
	}
	return set.slots[side].Read()
}

// Session returns the current recording session, or nil.
func (r *DualCameraRecorder) Session() *RecordingSession {
	set := r.active.Load()
	if set == nil {
		return nil
	}
	return set.session
}

// Stats returns the statistics of the active workers in start order.
func (r *DualCameraRecorder) Stats() []WorkerStats {
	set := r.active.Load()
	if set == nil {
		return nil
	}
	stats := make([]WorkerStats, 0, len(set.workers))
	for _, w := range set.workers {
		stats = append(stats, w.Stats())
	}
	return stats
}
