package camrecord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/camrecord/internal/discovery"
	"github.com/e7canasta/camrecord/internal/gstpipe"
)

// CameraConfig contains configuration for a live V4L2 camera
type CameraConfig struct {
	// Width and Height of the delivered RGB frames
	Width  int
	Height int
	// FPS requested from the sensor (Bayer caps only)
	FPS int
	// Bayer forces the raw Bayer pipeline
	Bayer bool
	// DetectBayer probes the device with v4l2-ctl at Open
	DetectBayer bool
	// StartTimeout bounds the wait for the pipeline to reach PLAYING
	StartTimeout time.Duration
	// PullTimeout bounds each frame pull
	PullTimeout time.Duration
}

// DefaultCameraConfig returns 640x480 at 30 FPS with Bayer auto-detection.
func DefaultCameraConfig() CameraConfig {
	return CameraConfig{
		Width:        640,
		Height:       480,
		FPS:          30,
		DetectBayer:  true,
		StartTimeout: 5 * time.Second,
		PullTimeout:  1 * time.Second,
	}
}

// LiveCamera is a FrameSource backed by a V4L2 device.
type LiveCamera struct {
	device string
	label  string
	cfg    CameraConfig

	mu  sync.Mutex
	cam *gstpipe.Camera

	seq        uint64
	mismatches atomic.Uint64
}

// NewLiveCamera creates an unopened camera. device is a node path
// ("/dev/video2") or a bare index ("2").
func NewLiveCamera(device string, label string, cfg CameraConfig) *LiveCamera {
	return &LiveCamera{
		device: ResolveDevice(device),
		label:  label,
		cfg:    cfg,
	}
}

// ResolveDevice maps a bare camera index to its device node and leaves
// anything else unchanged.
func ResolveDevice(device string) string {
	if n, err := strconv.Atoi(device); err == nil && n >= 0 {
		return DevicePath(n)
	}
	return device
}

// Open starts the capture pipeline. Errors wrap ErrSourceUnavailable.
func (c *LiveCamera) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cam != nil {
		return nil
	}

	if _, err := os.Stat(c.device); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, c.device, err)
	}

	bayer := c.cfg.Bayer
	if !bayer && c.cfg.DetectBayer {
		bayer = discovery.Scanner{}.IsBayer(ctx, c.device)
	}

	cam, err := gstpipe.OpenCamera(gstpipe.CameraConfig{
		Device: c.device,
		Width:  c.cfg.Width,
		Height: c.cfg.Height,
		FPS:    c.cfg.FPS,
		Bayer:  bayer,
	}, c.cfg.StartTimeout)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, c.device, err)
	}
	c.cam = cam

	slog.Info("camrecord: camera opened",
		"device", c.device,
		"label", c.label,
		"resolution", fmt.Sprintf("%dx%d", c.cfg.Width, c.cfg.Height),
		"bayer", bayer,
	)
	return nil
}

// PullFrame returns the latest frame from the device.
//
// Timeouts and recoverable bus errors wrap ErrPullFailed. End-of-stream and
// device loss wrap ErrSourceExhausted.
func (c *LiveCamera) PullFrame(ctx context.Context) (*Frame, error) {
	c.mu.Lock()
	cam := c.cam
	c.mu.Unlock()

	if cam == nil {
		return nil, fmt.Errorf("%w: %s not open", ErrSourceExhausted, c.device)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := cam.Pull(c.cfg.PullTimeout)
	if err != nil {
		return nil, c.classifyPullError(err)
	}

	expected := c.cfg.Width * c.cfg.Height * 3
	if len(data) != expected {
		if c.mismatches.Add(1) == 1 {
			slog.Warn("camrecord: frame size mismatch",
				"device", c.device,
				"expected_bytes", expected,
				"got_bytes", len(data),
			)
		}
		return nil, fmt.Errorf("%w: %s: frame size %d, want %d", ErrPullFailed, c.device, len(data), expected)
	}

	c.seq++
	return &Frame{
		Seq:          c.seq,
		Timestamp:    time.Now(),
		Width:        c.cfg.Width,
		Height:       c.cfg.Height,
		Data:         data,
		SourceStream: c.label,
		TraceID:      uuid.New().String(),
	}, nil
}

func (c *LiveCamera) classifyPullError(err error) error {
	if errors.Is(err, gstpipe.ErrEOS) || errors.Is(err, gstpipe.ErrClosed) {
		return fmt.Errorf("%w: %s: %v", ErrSourceExhausted, c.device, err)
	}

	var perr *gstpipe.PipelineError
	if errors.As(err, &perr) && perr.Category == gstpipe.ErrCategoryDevice {
		return fmt.Errorf("%w: %s: %v", ErrSourceExhausted, c.device, err)
	}

	return fmt.Errorf("%w: %s: %v", ErrPullFailed, c.device, err)
}

// Close releases the device. Idempotent.
func (c *LiveCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cam == nil {
		return nil
	}

	err := c.cam.Close()
	c.cam = nil

	slog.Debug("camrecord: camera closed", "device", c.device, "frames", c.seq)
	return err
}

// Kind returns KindLive.
func (c *LiveCamera) Kind() SourceKind { return KindLive }

// Name returns the device node.
func (c *LiveCamera) Name() string { return c.device }
