package gstpipe

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// eosTimeout bounds how long Close waits for the muxer to finalize the file
const eosTimeout = 5 * time.Second

// Encoder writes packed RGB frames to an H.264/MP4 file.
type Encoder struct {
	path string

	mu       sync.Mutex
	pipeline *gst.Pipeline
	src      *app.Source
	pushed   uint64
}

// OpenEncoder builds the recording pipeline for frames of the given size and
// starts it.
func OpenEncoder(path string, width, height, fps int) (*Encoder, error) {
	Init()

	pipeline, err := gst.NewPipelineFromString(EncoderLaunch())
	if err != nil {
		return nil, fmt.Errorf("failed to create encode pipeline: %w", err)
	}

	srcElem, err := pipeline.GetElementByName("src")
	if err != nil {
		return nil, fmt.Errorf("failed to find appsrc: %w", err)
	}
	if err := setProperty(srcElem, "appsrc", "caps", gst.NewCapsFromString(RawCaps(width, height, fps))); err != nil {
		return nil, err
	}

	fileSink, err := pipeline.GetElementByName("sink")
	if err != nil {
		return nil, fmt.Errorf("failed to find filesink: %w", err)
	}
	if err := setProperty(fileSink, "filesink", "location", path); err != nil {
		return nil, err
	}

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("failed to start encode pipeline: %w", err)
	}

	slog.Info("gstpipe: encoder started",
		"path", path,
		"resolution", fmt.Sprintf("%dx%d", width, height),
		"fps", fps,
	)

	return &Encoder{
		path:     path,
		pipeline: pipeline,
		src:      app.SrcFromElement(srcElem),
	}, nil
}

// Push appends one frame.
func (e *Encoder) Push(data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pipeline == nil {
		return ErrClosed
	}

	// Errors posted since the last push (disk full, encoder failure)
	if err := pollBus(e.pipeline, 0); err != nil {
		return err
	}

	if ret := e.src.PushBuffer(gst.NewBufferFromBytes(data)); ret != gst.FlowOK {
		return fmt.Errorf("gstpipe: push buffer returned %v", ret)
	}
	e.pushed++

	return nil
}

// Close sends end-of-stream, waits for the muxer to finalize the container,
// and releases the pipeline. Idempotent.
func (e *Encoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pipeline == nil {
		return nil
	}

	pipeline := e.pipeline
	e.pipeline = nil

	var closeErr error
	e.src.EndStream()

	// Wait for EOS to travel to the filesink so the moov atom is written
	deadline := time.Now().Add(eosTimeout)
	for time.Now().Before(deadline) {
		err := pollBus(pipeline, 100*time.Millisecond)
		if errors.Is(err, ErrEOS) {
			break
		}
		if err != nil {
			closeErr = err
			break
		}
	}

	if err := pipeline.SetState(gst.StateNull); err != nil && closeErr == nil {
		closeErr = fmt.Errorf("failed to set encode pipeline to NULL: %w", err)
	}

	slog.Info("gstpipe: encoder closed", "path", e.path, "frames", e.pushed)
	return closeErr
}
