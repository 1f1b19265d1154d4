package camrecord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/camrecord/internal/backoff"
	"github.com/e7canasta/camrecord/internal/fpsstats"
)

// WorkerState is the lifecycle state of a CaptureWorker.
type WorkerState int32

const (
	// StateIdle means no capture goroutine is running
	StateIdle WorkerState = iota
	// StateStarting means the source is opening or has not produced a frame yet
	StateStarting
	// StateRunning means frames are flowing
	StateRunning
	// StateStopping means Stop is joining the capture goroutine
	StateStopping
)

// String returns a human-readable string representation of the state
func (s WorkerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// WorkerConfig contains configuration for a CaptureWorker
type WorkerConfig struct {
	// StartGrace bounds the wait for the first frame (default: 5s)
	StartGrace time.Duration
	// MaxConsecutiveFailures is the number of pull errors in a row a live
	// source may produce before the worker gives up (default: 30)
	MaxConsecutiveFailures int
	// RetryDelay is the initial delay after a failed pull (default: 10ms)
	RetryDelay time.Duration
	// MaxRetryDelay caps the delay between failed pulls (default: 500ms)
	MaxRetryDelay time.Duration
	// StatsWindow is the number of frame timestamps kept for cadence stats
	StatsWindow int
}

// DefaultWorkerConfig returns the default worker configuration.
func DefaultWorkerConfig() WorkerConfig {
	bo := backoff.DefaultConfig()
	return WorkerConfig{
		StartGrace:             5 * time.Second,
		MaxConsecutiveFailures: bo.MaxRetries,
		RetryDelay:             bo.RetryDelay,
		MaxRetryDelay:          bo.MaxRetryDelay,
		StatsWindow:            300,
	}
}

func (c WorkerConfig) backoffConfig() backoff.Config {
	return backoff.Config{
		MaxRetries:    c.MaxConsecutiveFailures,
		RetryDelay:    c.RetryDelay,
		MaxRetryDelay: c.MaxRetryDelay,
	}
}

// recordTarget is the session and sink a running worker appends frames to.
type recordTarget struct {
	session *RecordingSession
	sink    FrameSink
}

// CaptureWorker drives one FrameSource on its own goroutine.
//
// Each iteration pulls a frame, publishes it to the FrameSlot and, once
// BeginRecording attached a RecordingSession, appends it to the FrameSink.
// The loop is paced at the configured fps and ends on Stop, on a fatal source
// error, on a sink error, or once the session has written fps*duration
// frames.
//
// The worker owns its source and its attached sink: both are closed on every
// exit path of the loop, and Stop joins the loop before returning.
type CaptureWorker struct {
	side   Side
	source FrameSource
	slot   *FrameSlot
	cfg    WorkerConfig

	state atomic.Int32

	// Lifecycle (Start/Stop serialized by mu)
	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Set by Start before the loop runs, read-only while it runs
	fps int

	// target is nil until BeginRecording; recMu orders attach against loop exit
	target atomic.Pointer[recordTarget]
	recMu  sync.Mutex
	exited bool

	// Statistics (atomic for thread-safety)
	framesCaptured atomic.Uint64
	pullFailures   atomic.Uint64
	framesWritten  atomic.Uint64
	window         *fpsstats.Window

	stateMu sync.Mutex
	done    chan struct{}
	err     error
}

// NewCaptureWorker creates an idle worker for source feeding slot.
func NewCaptureWorker(side Side, source FrameSource, slot *FrameSlot, cfg WorkerConfig) *CaptureWorker {
	def := DefaultWorkerConfig()
	if cfg.StartGrace <= 0 {
		cfg.StartGrace = def.StartGrace
	}
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = def.MaxConsecutiveFailures
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.MaxRetryDelay <= 0 {
		cfg.MaxRetryDelay = def.MaxRetryDelay
	}
	if cfg.StatsWindow <= 0 {
		cfg.StatsWindow = def.StatsWindow
	}

	done := make(chan struct{})
	close(done)

	return &CaptureWorker{
		side:   side,
		source: source,
		slot:   slot,
		cfg:    cfg,
		window: fpsstats.NewWindow(cfg.StatsWindow),
		done:   done,
	}
}

// Start opens the source and runs the capture loop in preview mode: frames
// reach the slot but nothing is recorded until BeginRecording.
//
// Start returns once the first frame reached the slot. It fails with
// ErrSourceUnavailable when the source cannot be opened and ErrStartTimeout
// when no frame arrived within the start grace period. On failure nothing is
// left running.
func (w *CaptureWorker) Start(ctx context.Context, fps int) error {
	if fps < 1 || fps > 60 {
		return fmt.Errorf("%w: fps %d (must be 1-60)", ErrInvalidParameter, fps)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel != nil {
		return fmt.Errorf("camrecord: %s worker already started", w.side)
	}

	w.state.Store(int32(StateStarting))

	slog.Info("camrecord: starting worker",
		"side", w.side.String(),
		"source", w.source.Name(),
		"kind", w.source.Kind().String(),
		"fps", fps,
	)

	if err := w.source.Open(ctx); err != nil {
		w.state.Store(int32(StateIdle))
		if !errors.Is(err, ErrSourceUnavailable) && !errors.Is(err, ErrDecode) {
			err = fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, w.source.Name(), err)
		}
		return err
	}

	w.fps = fps
	w.recMu.Lock()
	w.exited = false
	w.recMu.Unlock()
	w.target.Store(nil)
	w.framesCaptured.Store(0)
	w.pullFailures.Store(0)
	w.framesWritten.Store(0)
	w.window.Reset()

	ready := make(chan struct{})
	done := make(chan struct{})

	w.stateMu.Lock()
	w.done = done
	w.err = nil
	w.stateMu.Unlock()

	// The loop outlives ctx: only Stop (or the loop itself) ends a run
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w.cancel = cancel

	w.wg.Add(1)
	go w.run(runCtx, ready, done)

	timer := time.NewTimer(w.cfg.StartGrace)
	defer timer.Stop()

	select {
	case <-ready:
		w.state.CompareAndSwap(int32(StateStarting), int32(StateRunning))
		slog.Info("camrecord: worker running", "side", w.side.String(), "source", w.source.Name())
		return nil

	case <-done:
		// The loop may have produced its only frame and finished already
		select {
		case <-ready:
			return nil
		default:
		}
		w.teardown()
		err := w.Err()
		if err == nil {
			err = errors.New("capture loop exited before the first frame")
		}
		if errors.Is(err, ErrDecode) || errors.Is(err, ErrSourceUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, w.source.Name(), err)

	case <-timer.C:
		w.teardown()
		return fmt.Errorf("%w: %s produced no frame within %v", ErrStartTimeout, w.source.Name(), w.cfg.StartGrace)

	case <-ctx.Done():
		w.teardown()
		return ctx.Err()
	}
}

// Stop signals the capture loop and joins it. The source and sink are
// closed when Stop returns. Idempotent.
func (w *CaptureWorker) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel == nil {
		slog.Debug("camrecord: worker not started, nothing to stop", "side", w.side.String())
		return nil
	}

	slog.Info("camrecord: stopping worker", "side", w.side.String(), "source", w.source.Name())

	w.state.Store(int32(StateStopping))
	w.teardown()

	slog.Info("camrecord: worker stopped",
		"side", w.side.String(),
		"frames_captured", w.framesCaptured.Load(),
		"frames_written", w.framesWritten.Load(),
		"pull_failures", w.pullFailures.Load(),
	)
	return nil
}

// BeginRecording opens sink at the session's path for this side and starts
// appending every captured frame to it. The worker must be running.
func (w *CaptureWorker) BeginRecording(session *RecordingSession, sink FrameSink) error {
	if session == nil || sink == nil {
		return fmt.Errorf("%w: session and sink are required", ErrInvalidParameter)
	}
	if err := w.openSink(session, sink); err != nil {
		return err
	}
	if err := w.attach(session, sink); err != nil {
		sink.Close()
		return err
	}
	return nil
}

// openSink opens sink for this side without attaching it.
func (w *CaptureWorker) openSink(session *RecordingSession, sink FrameSink) error {
	if w.State() != StateRunning {
		return fmt.Errorf("camrecord: %s worker is not running", w.side)
	}
	if err := sink.Open(session.OutputPath(w.side), w.fps); err != nil {
		if !errors.Is(err, ErrSink) {
			err = fmt.Errorf("%w: %v", ErrSink, err)
		}
		return err
	}
	return nil
}

// attach hands an open sink to the capture loop. It fails if the loop has
// already exited, in which case the caller still owns the sink.
func (w *CaptureWorker) attach(session *RecordingSession, sink FrameSink) error {
	w.recMu.Lock()
	defer w.recMu.Unlock()

	if w.exited || w.State() != StateRunning {
		return fmt.Errorf("camrecord: %s worker is not running", w.side)
	}
	if w.target.Load() != nil {
		return fmt.Errorf("camrecord: %s worker is already recording", w.side)
	}

	w.framesWritten.Store(0)
	w.target.Store(&recordTarget{session: session, sink: sink})

	slog.Info("camrecord: worker recording",
		"side", w.side.String(),
		"source", w.source.Name(),
		"path", session.OutputPath(w.side),
	)
	return nil
}

// teardown cancels the loop and waits for it. Caller holds mu.
func (w *CaptureWorker) teardown() {
	w.cancel()
	w.wg.Wait()
	w.cancel = nil
	w.state.Store(int32(StateIdle))
}

// run is the capture loop.
func (w *CaptureWorker) run(ctx context.Context, ready chan<- struct{}, done chan<- struct{}) {
	defer w.wg.Done()
	defer close(done)
	defer w.finish()

	ticker := time.NewTicker(time.Second / time.Duration(w.fps))
	defer ticker.Stop()

	bo := backoff.New(w.cfg.backoffConfig())
	signalled := false

	for {
		// Stop is only observed between frames
		select {
		case <-ctx.Done():
			return
		default:
		}

		frame, err := w.source.PullFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if isFatalPull(err) {
				w.fail(err)
				return
			}

			w.pullFailures.Add(1)
			if bo.Failure() {
				w.fail(fmt.Errorf("%w: %d consecutive pull failures: %v", ErrSourceExhausted, bo.Failures(), err))
				return
			}

			slog.Warn("camrecord: frame pull failed, dropping frame",
				"side", w.side.String(),
				"source", w.source.Name(),
				"error", err,
				"consecutive", bo.Failures(),
			)

			if bo.Wait(ctx) != nil {
				return
			}
			continue
		}
		bo.Success()

		w.slot.Write(frame)
		w.framesCaptured.Add(1)
		w.window.Add(frame.Timestamp)

		if !signalled {
			close(ready)
			signalled = true
		}

		if target := w.target.Load(); target != nil {
			if err := target.sink.WriteFrame(frame); err != nil {
				if !errors.Is(err, ErrSink) {
					err = fmt.Errorf("%w: %v", ErrSink, err)
				}
				w.fail(err)
				return
			}
			w.framesWritten.Add(1)

			if target.session.complete(target.session.addWritten(w.side)) {
				// The last frame occupies one full period, so a session
				// lasts Duration seconds and not one period less.
				select {
				case <-ctx.Done():
				case <-ticker.C:
				}
				slog.Info("camrecord: recording complete",
					"side", w.side.String(),
					"frames_written", w.framesWritten.Load(),
					"duration_s", target.session.Duration,
				)
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// finish releases the sink and the source on every exit path of run.
func (w *CaptureWorker) finish() {
	w.recMu.Lock()
	w.exited = true
	target := w.target.Swap(nil)
	w.recMu.Unlock()

	if target != nil {
		if err := target.sink.Close(); err != nil {
			slog.Error("camrecord: failed to close sink", "side", w.side.String(), "error", err)
			w.fail(err)
		}
	}

	if err := w.source.Close(); err != nil {
		slog.Warn("camrecord: failed to close source", "side", w.side.String(), "error", err)
	}

	w.state.Store(int32(StateIdle))

	slog.Debug("camrecord: capture loop exited",
		"side", w.side.String(),
		"frames_captured", w.framesCaptured.Load(),
		"error", w.Err(),
	)
}

// fail records the first error that ended the loop.
func (w *CaptureWorker) fail(err error) {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()

	if w.err != nil {
		return
	}
	w.err = err

	slog.Error("camrecord: worker failed",
		"side", w.side.String(),
		"source", w.source.Name(),
		"error", err,
	)
}

func isFatalPull(err error) bool {
	return errors.Is(err, ErrSourceExhausted) ||
		errors.Is(err, ErrDecode) ||
		errors.Is(err, ErrSourceUnavailable)
}

// Done is closed when the capture loop exits.
func (w *CaptureWorker) Done() <-chan struct{} {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	return w.done
}

// Err returns the error that ended the last run, or nil.
func (w *CaptureWorker) Err() error {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	return w.err
}

// State returns the lifecycle state.
func (w *CaptureWorker) State() WorkerState {
	return WorkerState(w.state.Load())
}

// IsRecording reports whether the worker is Running with an active session.
func (w *CaptureWorker) IsRecording() bool {
	return w.State() == StateRunning && w.target.Load() != nil
}

// Side returns the side this worker feeds.
func (w *CaptureWorker) Side() Side { return w.side }

// Slot returns the slot this worker publishes to.
func (w *CaptureWorker) Slot() *FrameSlot { return w.slot }

// Stats returns current worker statistics.
//
// Thread-safe - uses atomic operations for counters.
func (w *CaptureWorker) Stats() WorkerStats {
	cadence := w.window.Stats()

	return WorkerStats{
		Side:           w.side,
		Source:         w.source.Name(),
		State:          w.State(),
		FramesCaptured: w.framesCaptured.Load(),
		PullFailures:   w.pullFailures.Load(),
		FramesWritten:  w.framesWritten.Load(),
		FPSReal:        cadence.FPSMean,
		FPSStdDev:      cadence.FPSStdDev,
		IsStable:       cadence.IsStable,
		Err:            w.Err(),
	}
}
