package gstpipe

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// FileDecoder decodes a video file into packed RGB frames of a fixed size.
//
// Next returns io.EOF at end-of-stream; Rewind flush-seeks back to the first
// frame so decoding can start over.
type FileDecoder struct {
	path        string
	width       int
	height      int
	pullTimeout time.Duration

	mu       sync.Mutex
	pipeline *gst.Pipeline
	sink     *app.Sink
	duration time.Duration
}

// NewFileDecoder creates an unopened decoder for path.
func NewFileDecoder(path string, width, height int, pullTimeout time.Duration) *FileDecoder {
	return &FileDecoder{
		path:        path,
		width:       width,
		height:      height,
		pullTimeout: pullTimeout,
	}
}

// Open builds the pipeline, prerolls it to learn the duration, then starts
// decoding.
func (d *FileDecoder) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pipeline != nil {
		return nil
	}

	if _, err := os.Stat(d.path); err != nil {
		return fmt.Errorf("gstpipe: %w", err)
	}

	Init()

	pipeline, err := gst.NewPipelineFromString(DecoderLaunch(d.width, d.height))
	if err != nil {
		return fmt.Errorf("failed to create decode pipeline: %w", err)
	}

	src, err := pipeline.GetElementByName("src")
	if err != nil {
		return fmt.Errorf("failed to find filesrc: %w", err)
	}
	if err := setProperty(src, "filesrc", "location", d.path); err != nil {
		return err
	}

	sinkElem, err := pipeline.GetElementByName("sink")
	if err != nil {
		return fmt.Errorf("failed to find appsink: %w", err)
	}

	// Preroll so the demuxer knows the duration
	if err := pipeline.SetState(gst.StatePaused); err != nil {
		pipeline.SetState(gst.StateNull)
		return fmt.Errorf("failed to preroll %s: %w", d.path, err)
	}
	if err := waitForState(pipeline, gst.StatePaused, 5*time.Second); err != nil {
		pipeline.SetState(gst.StateNull)
		return err
	}

	if ok, ns := pipeline.QueryDuration(gst.FormatTime); ok && ns > 0 {
		d.duration = time.Duration(ns)
	}

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		pipeline.SetState(gst.StateNull)
		return fmt.Errorf("failed to start decoding %s: %w", d.path, err)
	}

	d.pipeline = pipeline
	d.sink = app.SinkFromElement(sinkElem)

	slog.Debug("gstpipe: file decoder opened",
		"path", d.path,
		"duration", d.duration,
		"resolution", fmt.Sprintf("%dx%d", d.width, d.height),
	)

	return nil
}

// Next returns the pixel data of the next frame, or io.EOF at end-of-stream.
func (d *FileDecoder) Next() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pipeline == nil {
		return nil, ErrClosed
	}

	data, err := pullCopy(d.sink, d.pullTimeout)
	if err == nil {
		return data, nil
	}

	if errors.Is(err, ErrEOS) {
		return nil, io.EOF
	}

	// A timeout on a local file almost always hides a bus error
	busErr := pollBus(d.pipeline, 0)
	if errors.Is(busErr, ErrEOS) {
		return nil, io.EOF
	}
	if busErr != nil {
		return nil, busErr
	}
	return nil, err
}

// Rewind seeks back to the first frame.
func (d *FileDecoder) Rewind() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pipeline == nil {
		return ErrClosed
	}

	if !d.pipeline.SeekSimple(0, gst.FormatTime, gst.SeekFlagFlush|gst.SeekFlagKeyUnit) {
		return fmt.Errorf("gstpipe: seek to start failed for %s", d.path)
	}

	slog.Debug("gstpipe: file decoder rewound", "path", d.path)
	return nil
}

// Duration returns the media duration learned at Open (0 when unknown).
func (d *FileDecoder) Duration() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.duration
}

// Close stops the pipeline and releases the file. Idempotent.
func (d *FileDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pipeline == nil {
		return nil
	}

	err := d.pipeline.SetState(gst.StateNull)
	d.pipeline = nil
	d.sink = nil
	if err != nil {
		return fmt.Errorf("failed to set decode pipeline to NULL: %w", err)
	}
	return nil
}
