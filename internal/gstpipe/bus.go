package gstpipe

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
)

// pollBus drains pending bus messages without blocking longer than wait.
//
// Returns *PipelineError on an error message, ErrEOS on end-of-stream, nil
// when the bus holds nothing relevant.
func pollBus(pipeline *gst.Pipeline, wait time.Duration) error {
	bus := pipeline.GetPipelineBus()

	for {
		msg := bus.TimedPop(wait)
		if msg == nil {
			return nil
		}

		switch msg.Type() {
		case gst.MessageEOS:
			return ErrEOS

		case gst.MessageError:
			perr := newPipelineError(msg.ParseError())
			slog.Error("gstpipe: pipeline error",
				"error", perr.Message,
				"debug", perr.Debug,
				"category", perr.Category.String(),
			)
			return perr

		case gst.MessageStateChanged:
			if msg.Source() == pipeline.GetName() {
				old, new := msg.ParseStateChanged()
				slog.Debug("gstpipe: pipeline state changed", "from", old, "to", new)
			}
		}

		// Only the first pop may wait; drain the rest immediately
		wait = 0
	}
}

// waitForState blocks until the pipeline reports target, an error, or the
// timeout elapses.
func waitForState(pipeline *gst.Pipeline, target gst.State, timeout time.Duration) error {
	bus := pipeline.GetPipelineBus()
	deadline := time.Now().Add(timeout)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("gstpipe: pipeline did not reach %v within %v", target, timeout)
		}

		msg := bus.TimedPop(minDuration(remaining, 100*time.Millisecond))
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageError:
			return newPipelineError(msg.ParseError())

		case gst.MessageEOS:
			return ErrEOS

		case gst.MessageAsyncDone:
			if target == gst.StatePaused {
				return nil
			}

		case gst.MessageStateChanged:
			if msg.Source() != pipeline.GetName() {
				continue
			}
			_, newState := msg.ParseStateChanged()
			if newState == target {
				slog.Debug("gstpipe: pipeline reached state", "state", target)
				return nil
			}
		}
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
