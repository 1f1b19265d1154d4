package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli"

	"github.com/e7canasta/camrecord"
	"github.com/e7canasta/camrecord/internal/snapshot"
)

var snapshotFlags = []cli.Flag{
	cli.DurationFlag{Name: "for", Usage: "stop after this long (default: until interrupted)"},
	cli.StringFlag{Name: "snapshot-dir", Usage: "save frames to this directory"},
	cli.StringFlag{Name: "snapshot-format", Value: "png", Usage: "png or jpeg"},
	cli.IntFlag{Name: "snapshot-every", Value: 30, Usage: "save one frame every N polls"},
}

var simulateCommand = cli.Command{
	Name:      "simulate",
	Aliases:   []string{"sim"},
	Usage:     "Replay a directory of recordings as looping virtual cameras",
	ArgsUsage: "[dir]",
	Flags:     snapshotFlags,
	Action:    runSimulate,
}

var previewCommand = cli.Command{
	Name:   "preview",
	Usage:  "Capture from live cameras without recording",
	Flags:  append(recordingFlags, snapshotFlags...),
	Action: runPreview,
}

// poller drives the preview loop shared by simulate and preview: one read
// per side every interval, with optional snapshots.
type poller struct {
	interval time.Duration
	limit    time.Duration
	every    int
	saver    *snapshot.Saver
}

func newPoller(c *cli.Context, interval time.Duration) (*poller, error) {
	p := &poller{
		interval: interval,
		limit:    c.Duration("for"),
		every:    c.Int("snapshot-every"),
	}
	if p.every <= 0 {
		p.every = 1
	}
	if dir := c.String("snapshot-dir"); dir != "" {
		saver, err := snapshot.NewSaver(dir, c.String("snapshot-format"), 90)
		if err != nil {
			return nil, err
		}
		p.saver = saver
	}
	return p, nil
}

// run calls read for every side until ctx is done or the time limit passes.
// read returns nil frames for sides with nothing to show.
func (p *poller) run(ctx context.Context, desc string, read func() (left, right *camrecord.Frame)) {
	if p.limit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.limit)
		defer cancel()
	}

	bar := newProgress(-1, desc)
	defer func() {
		_ = bar.Finish()
		fmt.Fprintln(os.Stderr)
	}()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	polls := 0
	for {
		select {
		case <-ctx.Done():
			if p.saver != nil {
				saved, dropped := p.saver.Stats()
				slog.Info("camrecord: snapshots", "saved", saved, "dropped", dropped)
			}
			return
		case <-ticker.C:
		}

		left, right := read()
		polls++
		_ = bar.Add(1)

		if p.saver == nil || polls%p.every != 0 {
			continue
		}
		for i, frame := range []*camrecord.Frame{left, right} {
			if frame == nil {
				continue
			}
			side := camrecord.Side(i).String()
			if _, err := p.saver.Save(side, frame); err != nil {
				slog.Warn("camrecord: snapshot failed", "side", side, "error", err)
			}
		}
	}
}

func runSimulate(c *cli.Context) error {
	cfg, err := setup(c)
	if err != nil {
		return err
	}

	dir := cfg.Playback.Dir
	if arg := c.Args().Get(0); arg != "" {
		dir = arg
	}

	playback, err := camrecord.LoadFromDirectoryWith(dir, cfg.PlaybackConfig())
	if err != nil {
		return err
	}
	defer playback.Close()

	fmt.Println(playback.Status())

	p, err := newPoller(c, cfg.PreviewInterval())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p.run(ctx, fmt.Sprintf("simulating %s", dir), func() (*camrecord.Frame, *camrecord.Frame) {
		return playbackFrame(playback.LeftFrame), playbackFrame(playback.RightFrame)
	})
	return nil
}

// playbackFrame reads one side; an absent side is silent, decode errors are
// logged and shown as an empty frame.
func playbackFrame(read func() (*camrecord.Frame, error)) *camrecord.Frame {
	frame, err := read()
	if err != nil {
		if !errors.Is(err, camrecord.ErrNotLoaded) {
			slog.Warn("camrecord: playback read failed", "error", err)
		}
		return nil
	}
	return frame
}

func runPreview(c *cli.Context) error {
	cfg, err := setup(c)
	if err != nil {
		return err
	}
	if err := applyRecordingFlags(c, cfg); err != nil {
		return err
	}
	source, err := cfg.Source()
	if err != nil {
		return err
	}

	p, err := newPoller(c, cfg.PreviewInterval())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	recorder := camrecord.NewDualCameraRecorder(cfg.RecorderConfig())
	if err := recorder.StartPreview(ctx, source, cfg.Recording.FPS); err != nil {
		return err
	}
	defer recorder.StopRecording()

	p.run(ctx, fmt.Sprintf("preview %s", source), func() (*camrecord.Frame, *camrecord.Frame) {
		return recorder.LeftFrame(), recorder.RightFrame()
	})

	for _, st := range recorder.Stats() {
		fmt.Printf("%-5s %s: %d frames, %d dropped, %.1f fps (stable=%v)\n",
			st.Side, st.Source, st.FramesCaptured, st.PullFailures, st.FPSReal, st.IsStable)
	}
	return nil
}
