// Command camrecord records one or two cameras to disk, replays recordings as
// virtual cameras, and serves the recorder over MQTT.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli"

	"github.com/e7canasta/camrecord/internal/config"
)

const defaultConfigPath = "config/camrecord.yaml"

var app = cli.NewApp()

func init() {
	app.Name = "camrecord"
	app.Usage = "Dual-camera capture, recording and stereo playback"
	app.UsageText = "camrecord [global options] command [command options]"
	app.HideVersion = true
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Value: defaultConfigPath,
			Usage: "path to configuration file (optional unless set explicitly)",
		},
		cli.StringFlag{
			Name:  "log-level",
			Usage: "debug, info, warn or error (overrides log.level)",
		},
		cli.StringFlag{
			Name:  "log-format",
			Usage: "text or json (overrides log.format)",
		},
	}
	app.Commands = []cli.Command{
		camerasCommand,
		recordCommand,
		previewCommand,
		simulateCommand,
		recordingsCommand,
		serveCommand,
	}
}

// setup loads the configuration, applies the global flags and installs the
// slog handler.
func setup(c *cli.Context) (*config.Config, error) {
	path := c.GlobalString("config")

	var cfg *config.Config
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) && !c.GlobalIsSet("config") {
		// No config file: defaults plus environment
		cfg = &config.Config{}
		if err := config.LoadEnvFile(".env"); err != nil {
			return nil, err
		}
		if err := config.ApplyEnv(cfg); err != nil {
			return nil, err
		}
		if err := config.Validate(cfg); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
	} else {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if lvl := c.GlobalString("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	if format := c.GlobalString("log-format"); format != "" {
		cfg.Log.Format = format
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	slog.SetDefault(newLogger(cfg.Log))
	slog.Debug("camrecord: configuration loaded", "config", path, "instance_id", cfg.InstanceID)
	return cfg, nil
}

func newLogger(lc config.LogConfig) *slog.Logger {
	var level slog.Level
	switch lc.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if lc.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// newProgress creates a bar with max steps, or a spinner when max is -1.
func newProgress(max int, desc string) *progressbar.ProgressBar {
	return progressbar.NewOptions(max,
		progressbar.OptionSetDescription(desc),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}))
}

func main() {
	if err := app.Run(os.Args); err != nil {
		slog.Error("camrecord: command failed", "error", err)
		os.Exit(1)
	}
}
