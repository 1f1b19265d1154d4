package camrecord

import (
	"errors"
	"fmt"
)

// Error taxonomy. Every public operation wraps one of these so callers can
// branch with errors.Is.
var (
	// ErrInvalidParameter is returned for out-of-range fps/duration, before
	// any resource is touched.
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrSourceUnavailable is returned when a device or file cannot be opened.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrStartTimeout is returned when a source opened but produced no frame
	// within the start grace period.
	ErrStartTimeout = errors.New("start timeout")
	// ErrPullFailed is a transient pull error (dropped frame).
	ErrPullFailed = errors.New("pull failed")
	// ErrSourceExhausted means the source cannot produce more frames.
	ErrSourceExhausted = errors.New("source exhausted")
	// ErrDecode is returned when a video file is unreadable or corrupt.
	ErrDecode = errors.New("decode error")
	// ErrNotLoaded is returned when a playback side has no file.
	ErrNotLoaded = errors.New("not loaded")
	// ErrNoRecordingsFound is returned when a directory holds no video files.
	ErrNoRecordingsFound = errors.New("no recordings found")
	// ErrSink is returned when a recording write fails.
	ErrSink = errors.New("sink error")
	// ErrAlreadyRecording is returned by StartRecording while a session runs.
	ErrAlreadyRecording = errors.New("already recording")
)

// PartialStartFailure reports that one side of a Dual start failed. The other
// side has already been torn down when this error is returned.
type PartialStartFailure struct {
	// Device is the device that failed to start
	Device string
	// Side is the side of the failed device
	Side Side
	// Err is the underlying start error
	Err error
}

func (e *PartialStartFailure) Error() string {
	return fmt.Sprintf("partial start failure: %s camera %s: %v", e.Side, e.Device, e.Err)
}

func (e *PartialStartFailure) Unwrap() error {
	return e.Err
}
