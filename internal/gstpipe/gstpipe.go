// Package gstpipe wraps the GStreamer pipelines used for capture, decode and
// encode. Callers get plain byte slices; GStreamer types stay in here.
package gstpipe

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tinyzimmer/go-gst/gst"
)

var (
	// ErrTimeout is returned when no sample arrived within the pull timeout
	ErrTimeout = errors.New("gstpipe: pull timeout")
	// ErrEOS is returned when the pipeline reached end-of-stream
	ErrEOS = errors.New("gstpipe: end of stream")
	// ErrClosed is returned when a pipeline is used after Close
	ErrClosed = errors.New("gstpipe: pipeline closed")
)

var initOnce sync.Once

// Init initializes GStreamer once per process. Safe to call from every
// constructor; teardown happens at process exit.
func Init() {
	initOnce.Do(func() {
		gst.Init(nil)
		slog.Debug("gstpipe: gstreamer initialized")
	})
}

// CheckAvailable verifies that GStreamer can instantiate elements.
func CheckAvailable() error {
	Init()

	elem, err := gst.NewElement("fakesrc")
	if err != nil {
		return fmt.Errorf("gstreamer not available or not properly installed: %w", err)
	}
	elem.SetState(gst.StateNull)

	return nil
}

// HasElement reports whether a GStreamer element factory is installed.
func HasElement(factory string) bool {
	Init()

	elem, err := gst.NewElement(factory)
	if err != nil {
		return false
	}
	elem.SetState(gst.StateNull)
	return true
}

// propertySetter is the part of *gst.Element used to configure a parsed
// pipeline.
type propertySetter interface {
	SetProperty(name string, value interface{}) error
}

// setProperty sets a property on a named element of a parsed pipeline.
func setProperty(elem propertySetter, element, name string, value interface{}) error {
	if err := elem.SetProperty(name, value); err != nil {
		return fmt.Errorf("failed to set %s %s: %w", element, name, err)
	}
	return nil
}

// CameraLaunch builds the capture pipeline description for a V4L2 device.
//
// Pipeline structure (Bayer sensor):
//
//	v4l2src → video/x-bayer,rggb → bayer2rgb → videoconvert → videoscale → RGB,WxH → appsink
//
// Pipeline structure (regular sensor):
//
//	v4l2src → videoconvert → videoscale → RGB,WxH → appsink
//
// The device is set as a property after parsing, so paths need no quoting.
func CameraLaunch(width, height, fps int, bayer bool) string {
	sink := "appsink name=sink sync=false max-buffers=1 drop=true"
	if bayer {
		return fmt.Sprintf(
			"v4l2src name=src ! video/x-bayer,format=rggb,width=%d,height=%d,framerate=%d/1 ! "+
				"bayer2rgb ! videoconvert ! videoscale ! video/x-raw,format=RGB,width=%d,height=%d ! %s",
			width, height, fps, width, height, sink,
		)
	}
	return fmt.Sprintf(
		"v4l2src name=src ! videoconvert ! videoscale ! "+
			"video/x-raw,format=RGB,width=%d,height=%d ! %s",
		width, height, sink,
	)
}

// DecoderLaunch builds the file decode pipeline description.
//
//	filesrc → decodebin → videoconvert → videoscale → RGB,WxH → appsink
//
// The appsink does not drop: decoding is pull-driven so every frame of the
// file is delivered in order.
func DecoderLaunch(width, height int) string {
	return fmt.Sprintf(
		"filesrc name=src ! decodebin ! videoconvert ! videoscale ! "+
			"video/x-raw,format=RGB,width=%d,height=%d ! "+
			"appsink name=sink sync=false max-buffers=2 drop=false",
		width, height,
	)
}

// EncoderLaunch builds the recording pipeline description.
//
//	appsrc → videoconvert → x264enc → mp4mux → filesink
func EncoderLaunch() string {
	return "appsrc name=src format=time is-live=true do-timestamp=true ! " +
		"videoconvert ! x264enc tune=zerolatency speed-preset=ultrafast ! " +
		"mp4mux ! filesink name=sink"
}

// RawCaps builds the caps string for packed RGB frames.
func RawCaps(width, height, fps int) string {
	return fmt.Sprintf(
		"video/x-raw,format=RGB,width=%d,height=%d,framerate=%d/1",
		width, height, fps,
	)
}
