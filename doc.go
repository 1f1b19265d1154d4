// Package camrecord captures video from one or two V4L2 cameras, exposes the
// latest frame of each camera to a polling preview, and records the streams
// to MP4 files for a bounded duration. Recordings (or any video files) can be
// replayed as looping virtual cameras.
//
// # Quick Start
//
// Record ten seconds from two cameras at 30 FPS:
//
//	rec := camrecord.NewDualCameraRecorder(camrecord.DefaultRecorderConfig())
//
//	err := rec.StartRecording(ctx, camrecord.Dual("/dev/video0", "/dev/video2"), "recordings", 30, 10)
//	if err != nil {
//	    var partial *camrecord.PartialStartFailure
//	    if errors.As(err, &partial) {
//	        log.Printf("camera %s failed, nothing is running", partial.Device)
//	    }
//	    return err
//	}
//	defer rec.StopRecording()
//
//	ticker := time.NewTicker(33 * time.Millisecond)
//	for range ticker.C {
//	    if !rec.IsRecording() {
//	        break
//	    }
//	    show(rec.LeftFrame(), rec.RightFrame()) // nil until the first frame
//	}
//
// Replay a recording directory as a stereo pair:
//
//	pb, err := camrecord.LoadFromDirectory("recordings")
//	if err != nil {
//	    return err // ErrNoRecordingsFound for an empty directory
//	}
//	defer pb.Close()
//	fmt.Println(pb.Status())
//	left, err := pb.LeftFrame() // wraps to frame 0 at end-of-stream
//
// # Architecture
//
//	FrameSource ──▶ CaptureWorker ──▶ FrameSlot ──▶ LeftFrame()/RightFrame()
//	(LiveCamera,    (one goroutine,    (latest frame,
//	 LoopingFile)    paced at fps)      non-blocking)
//	                      │
//	                      └──▶ FrameSink (FileSink, only while recording)
//
// DualCameraRecorder runs one CaptureWorker per device. The two workers are
// not synchronized with each other: both are paced at the same rate and a
// poller may observe frames one capture period apart.
//
// # Errors
//
// Every operation returns an error wrapping one of the sentinels in this
// package (ErrInvalidParameter, ErrSourceUnavailable, ErrStartTimeout,
// ErrDecode, ErrNotLoaded, ErrNoRecordingsFound, ErrSink, ...), or a
// *PartialStartFailure for a Dual start where one camera failed. Transient
// pull errors of a live camera are absorbed as dropped frames.
//
// # Requirements
//
// GStreamer 1.x with the base, good and ugly plugin sets (v4l2src, decodebin,
// x264enc, mp4mux). v4l2-ctl (v4l-utils) is used to probe camera names and
// Bayer formats when available.
package camrecord
