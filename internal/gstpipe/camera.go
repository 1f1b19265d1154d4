package gstpipe

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// CameraConfig contains configuration for a V4L2 capture pipeline
type CameraConfig struct {
	Device string
	Width  int
	Height int
	FPS    int
	Bayer  bool
}

// Camera is a running V4L2 capture pipeline with an appsink at its end.
type Camera struct {
	cfg      CameraConfig
	pipeline *gst.Pipeline
	sink     *app.Sink

	mu     sync.Mutex
	closed bool
}

// OpenCamera creates the capture pipeline and waits up to startTimeout for
// it to reach PLAYING.
func OpenCamera(cfg CameraConfig, startTimeout time.Duration) (*Camera, error) {
	Init()

	launch := CameraLaunch(cfg.Width, cfg.Height, cfg.FPS, cfg.Bayer)
	pipeline, err := gst.NewPipelineFromString(launch)
	if err != nil {
		return nil, fmt.Errorf("failed to create camera pipeline: %w", err)
	}

	src, err := pipeline.GetElementByName("src")
	if err != nil {
		return nil, fmt.Errorf("failed to find v4l2src: %w", err)
	}
	if err := setProperty(src, "v4l2src", "device", cfg.Device); err != nil {
		return nil, err
	}

	sinkElem, err := pipeline.GetElementByName("sink")
	if err != nil {
		return nil, fmt.Errorf("failed to find appsink: %w", err)
	}

	c := &Camera{
		cfg:      cfg,
		pipeline: pipeline,
		sink:     app.SinkFromElement(sinkElem),
	}

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("failed to start camera pipeline: %w", err)
	}

	if err := waitForState(pipeline, gst.StatePlaying, startTimeout); err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, err
	}

	slog.Info("gstpipe: camera pipeline playing",
		"device", cfg.Device,
		"resolution", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"fps", cfg.FPS,
		"bayer", cfg.Bayer,
	)

	return c, nil
}

// Pull waits up to timeout for the next frame and returns a copy of its
// pixel data.
func (c *Camera) Pull(timeout time.Duration) ([]byte, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	data, err := pullCopy(c.sink, timeout)
	if err == nil {
		return data, nil
	}

	// Surface bus errors (unplugged device, negotiation failure) over a bare timeout
	if busErr := pollBus(c.pipeline, 0); busErr != nil {
		return nil, busErr
	}
	return nil, err
}

// Close stops the pipeline and releases the device. Idempotent.
func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if err := c.pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("failed to set camera pipeline to NULL: %w", err)
	}

	slog.Debug("gstpipe: camera pipeline closed", "device", c.cfg.Device)
	return nil
}

// pullCopy pulls one sample from sink and copies its buffer.
//
// GStreamer reuses buffers, so the data is copied before Unmap.
func pullCopy(sink *app.Sink, timeout time.Duration) ([]byte, error) {
	sample := sink.TryPullSample(timeout)
	if sample == nil {
		if sink.IsEOS() {
			return nil, ErrEOS
		}
		return nil, ErrTimeout
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		return nil, fmt.Errorf("gstpipe: sample without buffer")
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		return nil, fmt.Errorf("gstpipe: empty buffer received")
	}

	frameData := make([]byte, len(data))
	copy(frameData, data)
	buffer.Unmap()

	return frameData, nil
}
