package gstpipe

import (
	"fmt"
	"strings"

	"github.com/tinyzimmer/go-gst/gst"
)

// ErrorCategory represents the classification of GStreamer errors for telemetry
type ErrorCategory int

const (
	// ErrCategoryDevice indicates device failures (busy, missing, unplugged)
	ErrCategoryDevice ErrorCategory = iota
	// ErrCategoryCodec indicates codec/stream failures (decode errors, format issues)
	ErrCategoryCodec
	// ErrCategoryResource indicates file or disk failures (not found, permission, no space)
	ErrCategoryResource
	// ErrCategoryUnknown indicates unclassified errors
	ErrCategoryUnknown
)

// String returns a human-readable string representation of the error category
func (e ErrorCategory) String() string {
	switch e {
	case ErrCategoryDevice:
		return "device"
	case ErrCategoryCodec:
		return "codec"
	case ErrCategoryResource:
		return "resource"
	default:
		return "unknown"
	}
}

// PipelineError is an error message posted on a pipeline bus.
type PipelineError struct {
	Category ErrorCategory
	Message  string
	Debug    string
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline error [%s]: %s", e.Category, e.Message)
}

// newPipelineError converts a bus GError into a classified PipelineError.
func newPipelineError(gerr *gst.GError) *PipelineError {
	if gerr == nil {
		return &PipelineError{Category: ErrCategoryUnknown, Message: "unknown error"}
	}
	return &PipelineError{
		Category: Classify(gerr.Error(), gerr.DebugString()),
		Message:  gerr.Error(),
		Debug:    gerr.DebugString(),
	}
}

// Classify categorizes a GStreamer error from its message and debug string.
//
// go-gst's GError does not expose the error domain, so classification relies
// on keyword heuristics. Order matters: codec keywords are checked before
// resource keywords because "could not decode" style messages also mention
// the file.
func Classify(message, debug string) ErrorCategory {
	combined := strings.ToLower(message + " " + debug)

	if containsAny(combined, deviceKeywords) {
		return ErrCategoryDevice
	}
	if containsAny(combined, codecKeywords) {
		return ErrCategoryCodec
	}
	if containsAny(combined, resourceKeywords) {
		return ErrCategoryResource
	}
	return ErrCategoryUnknown
}

var deviceKeywords = []string{
	"v4l2",
	"/dev/video",
	"device",
	"busy",
	"cannot identify",
	"no such device",
	"unplugged",
}

var codecKeywords = []string{
	"codec",
	"decode",
	"encode",
	"demux",
	"format",
	"negotiation",
	"not negotiated",
	"caps",
	"no decoder",
	"missing plugin",
	"type not found",
	"could not determine type",
	"invalid",
	"no data",
}

var resourceKeywords = []string{
	"not found",
	"no such file",
	"permission",
	"could not open",
	"no space",
	"read error",
	"write error",
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
