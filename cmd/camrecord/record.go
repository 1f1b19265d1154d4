package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/urfave/cli"

	"github.com/e7canasta/camrecord"
	"github.com/e7canasta/camrecord/internal/catalog"
	"github.com/e7canasta/camrecord/internal/config"
)

var recordingFlags = []cli.Flag{
	cli.StringFlag{Name: "left, l", Usage: "left (or only) camera, index or device path"},
	cli.StringFlag{Name: "right, r", Usage: "right camera for dual mode"},
	cli.IntFlag{Name: "fps", Usage: "frames per second (1-60)"},
}

var recordCommand = cli.Command{
	Name:    "record",
	Aliases: []string{"rec"},
	Usage:   "Record one or two cameras for a fixed duration",
	Flags: append(recordingFlags,
		cli.IntFlag{Name: "duration, d", Usage: "recording duration in seconds (1-300)"},
		cli.StringFlag{Name: "output, o", Usage: "output directory"},
		cli.BoolFlag{Name: "catalog", Usage: "store the session in the SQLite catalog"},
	),
	Action: runRecord,
}

// applyRecordingFlags overrides the configured recording parameters with
// command flags.
func applyRecordingFlags(c *cli.Context, cfg *config.Config) error {
	if v := c.String("left"); v != "" {
		cfg.Recording.Left = v
	}
	if v := c.String("right"); v != "" {
		cfg.Recording.Right = v
	}
	if c.IsSet("fps") {
		cfg.Recording.FPS = c.Int("fps")
	}
	if c.IsSet("duration") {
		cfg.Recording.DurationS = c.Int("duration")
	}
	if v := c.String("output"); v != "" {
		cfg.Recording.OutputDir = v
	}
	if c.Bool("catalog") {
		cfg.Catalog.Enabled = true
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// openCatalog opens the session catalog when enabled; nil otherwise.
func openCatalog(cfg *config.Config) (*catalog.DB, error) {
	if !cfg.Catalog.Enabled {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Catalog.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create catalog directory: %w", err)
	}
	return catalog.Open(cfg.Catalog.Path)
}

func runRecord(c *cli.Context) error {
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

	rc := cfg.RecorderConfig()
	db, err := openCatalog(cfg)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
		rc.Catalog = db
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	recorder := camrecord.NewDualCameraRecorder(rc)
	if err := recorder.StartRecording(ctx, source, cfg.Recording.OutputDir, cfg.Recording.FPS, cfg.Recording.DurationS); err != nil {
		return err
	}

	session := recorder.Session()
	bar := newProgress(int(session.TargetFrames()), fmt.Sprintf("recording %s", source))

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

wait:
	for {
		select {
		case <-ctx.Done():
			slog.Info("camrecord: interrupted, stopping recording")
			break wait
		case <-ticker.C:
			_ = bar.Set(int(session.FramesWritten(camrecord.SideLeft)))
			if !recorder.IsRecording() {
				break wait
			}
		}
	}

	// Joins the workers and waits for the manifest to be written
	recorder.StopRecording()
	_ = bar.Set(int(session.FramesWritten(camrecord.SideLeft)))
	_ = bar.Finish()
	fmt.Fprintln(os.Stderr)

	summary, err := camrecord.ReadManifest(session.ManifestPath())
	if err != nil {
		return err
	}

	failed := 0
	for _, side := range summary.Sides {
		fmt.Printf("%-5s %s: %d frames, %.1f fps (stable=%v)\n",
			side.Side, side.Path, side.FramesWritten, side.FPSReal, side.Stable)
		if side.Error != "" {
			failed++
			fmt.Printf("      error: %s\n", side.Error)
		}
	}
	fmt.Printf("manifest: %s\n", session.ManifestPath())

	if failed > 0 {
		return fmt.Errorf("%d of %d sides ended with an error", failed, len(summary.Sides))
	}
	return nil
}
