package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/urfave/cli"

	"github.com/e7canasta/camrecord"
	"github.com/e7canasta/camrecord/internal/config"
	"github.com/e7canasta/camrecord/internal/control"
	"github.com/e7canasta/camrecord/internal/discovery"
)

var serveCommand = cli.Command{
	Name:  "serve",
	Usage: "Run the recorder under MQTT control",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "broker", Usage: "MQTT broker (overrides mqtt.broker)"},
	},
	Action: runServe,
}

// service owns the recorder and the loaded playback set for the MQTT
// callbacks.
type service struct {
	cfg      *config.Config
	recorder *camrecord.DualCameraRecorder

	mu       sync.Mutex
	playback *camrecord.StereoPlaybackSystem

	shutdownOnce sync.Once
	shutdown     chan struct{}
}

func (s *service) callbacks() control.CommandCallbacks {
	return control.CommandCallbacks{
		OnStartRecording: func(ctx context.Context, req control.StartRequest) error {
			return s.recorder.StartRecording(ctx, req.Source, req.OutputDir, req.FPS, req.Duration)
		},
		OnStopRecording: func() error {
			s.recorder.StopRecording()
			return nil
		},
		OnGetStatus:      s.status,
		OnLoadPlayback:   s.loadPlayback,
		OnListCameras:    listCameras,
		OnListRecordings: s.listRecordings,
		OnShutdown: func() error {
			s.shutdownOnce.Do(func() { close(s.shutdown) })
			return nil
		},
	}
}

func (s *service) status() map[string]interface{} {
	status := map[string]interface{}{
		"instance_id": s.cfg.InstanceID,
		"recording":   s.recorder.IsRecording(),
	}
	if session := s.recorder.Session(); session != nil {
		status["session_id"] = session.ID
		status["session_source"] = session.Source.String()
		status["target_frames"] = session.TargetFrames()
	}

	var workers []map[string]interface{}
	for _, st := range s.recorder.Stats() {
		workers = append(workers, map[string]interface{}{
			"side":            st.Side.String(),
			"source":          st.Source,
			"state":           st.State.String(),
			"frames_captured": st.FramesCaptured,
			"frames_written":  st.FramesWritten,
			"pull_failures":   st.PullFailures,
			"fps_real":        st.FPSReal,
			"stable":          st.IsStable,
		})
	}
	status["workers"] = workers

	s.mu.Lock()
	if s.playback != nil {
		status["playback"] = s.playback.Status()
	}
	s.mu.Unlock()

	return status
}

func (s *service) loadPlayback(dir string) (string, error) {
	playback, err := camrecord.LoadFromDirectoryWith(dir, s.cfg.PlaybackConfig())
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	previous := s.playback
	s.playback = playback
	s.mu.Unlock()

	if previous != nil {
		if err := previous.Close(); err != nil {
			slog.Warn("camrecord: failed to close previous playback", "error", err)
		}
	}
	return playback.Status(), nil
}

func (s *service) closePlayback() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playback != nil {
		s.playback.Close()
		s.playback = nil
	}
}

func (s *service) listRecordings() ([]map[string]interface{}, error) {
	recs, err := camrecord.ListRecordings(s.cfg.Recording.OutputDir)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]interface{}, 0, len(recs))
	for _, r := range recs {
		out = append(out, map[string]interface{}{
			"name":     r.Name,
			"side":     r.Side,
			"size":     r.Size,
			"modified": r.ModTime.UTC().Format(time.RFC3339),
		})
	}
	return out, nil
}

func listCameras(ctx context.Context) ([]map[string]interface{}, error) {
	cams, err := discovery.ListCameras(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]interface{}, 0, len(cams))
	for _, cam := range cams {
		out = append(out, map[string]interface{}{
			"index":  cam.Index,
			"device": cam.Device,
			"name":   cam.Name,
			"bayer":  cam.Bayer,
		})
	}
	return out, nil
}

func runServe(c *cli.Context) error {
	cfg, err := setup(c)
	if err != nil {
		return err
	}
	if broker := c.String("broker"); broker != "" {
		cfg.MQTT.Broker = broker
	}
	if cfg.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required for serve")
	}

	slog.Info("camrecord: starting service",
		"instance_id", cfg.InstanceID,
		"broker", cfg.MQTT.Broker,
		"control_topic", cfg.MQTT.Topics.Control,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	rc := cfg.RecorderConfig()
	db, err := openCatalog(cfg)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
		rc.Catalog = db
	}

	svc := &service{
		cfg:      cfg,
		recorder: camrecord.NewDualCameraRecorder(rc),
		shutdown: make(chan struct{}),
	}

	client, err := control.Connect(cfg.MQTT.Broker, cfg.MQTT.ClientID)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	handler := control.NewHandler(control.Config{
		ControlTopic: cfg.MQTT.Topics.Control,
		StatusTopic:  cfg.MQTT.Topics.Status,
		QoS:          cfg.MQTT.QoS,
		Left:         cfg.Recording.Left,
		Right:        cfg.Recording.Right,
		OutputDir:    cfg.Recording.OutputDir,
		FPS:          cfg.Recording.FPS,
		Duration:     cfg.Recording.DurationS,
	}, client, svc.callbacks())

	if err := handler.Start(ctx); err != nil {
		return err
	}

	select {
	case sig := <-sigChan:
		slog.Info("camrecord: received shutdown signal", "signal", sig)
	case <-svc.shutdown:
		slog.Info("camrecord: shutdown requested over MQTT")
		// Let the shutdown acknowledgement go out
		time.Sleep(250 * time.Millisecond)
	}

	timeout := cfg.ShutdownTimeout()
	slog.Info("camrecord: shutting down gracefully", "timeout", timeout)

	done := make(chan struct{})
	go func() {
		handler.Stop()
		svc.recorder.StopRecording()
		svc.closePlayback()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("camrecord: service stopped successfully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("shutdown timed out after %v", timeout)
	}
}
