package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/e7canasta/camrecord"
	"github.com/e7canasta/camrecord/internal/config"
	"github.com/e7canasta/camrecord/internal/control"
)

func testService(t *testing.T) *service {
	t.Helper()
	cfg := config.Default()
	cfg.Recording.OutputDir = t.TempDir()
	return &service{
		cfg:      cfg,
		recorder: camrecord.NewDualCameraRecorder(cfg.RecorderConfig()),
		shutdown: make(chan struct{}),
	}
}

// TestService_IdleStatus verifies the status of a service that has not
// recorded anything.
func TestService_IdleStatus(t *testing.T) {
	svc := testService(t)

	status := svc.status()
	if status["recording"] != false {
		t.Errorf("recording = %v, want false", status["recording"])
	}
	if _, ok := status["session_id"]; ok {
		t.Error("idle status carries a session_id")
	}
	if _, ok := status["playback"]; ok {
		t.Error("idle status carries playback")
	}
}

// TestService_Commands runs control commands through the handler against
// the service callbacks.
func TestService_Commands(t *testing.T) {
	svc := testService(t)
	dir := svc.cfg.Recording.OutputDir
	for _, name := range []string{"recording_20260101_120000_left.mp4", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	h := control.NewHandler(control.Config{OutputDir: dir}, nil, svc.callbacks())
	ctx := context.Background()

	resp := h.Handle(ctx, control.Command{Command: "list_recordings"})
	recs, _ := resp.Data["recordings"].([]map[string]interface{})
	if resp.Status != "success" || len(recs) != 1 || recs[0]["side"] != "left" {
		t.Errorf("list_recordings = %+v", resp)
	}

	resp = h.Handle(ctx, control.Command{
		Command: "load_playback",
		Params:  map[string]interface{}{"dir": t.TempDir()},
	})
	if resp.Status != "error" {
		t.Errorf("load_playback of an empty dir = %+v, want error", resp)
	}

	resp = h.Handle(ctx, control.Command{
		Command: "start_recording",
		Params:  map[string]interface{}{"left": "0", "fps": float64(0)},
	})
	if resp.Status != "error" {
		t.Errorf("start_recording with fps 0 = %+v, want error", resp)
	}

	if resp := h.Handle(ctx, control.Command{Command: "shutdown"}); resp.Status != "shutting_down" {
		t.Errorf("shutdown = %+v", resp)
	}
	select {
	case <-svc.shutdown:
	default:
		t.Error("shutdown channel not closed")
	}
	// A second shutdown must not panic
	h.Handle(ctx, control.Command{Command: "shutdown"})
}

// TestService_LoadPlaybackError verifies that a failed load keeps the
// previous state.
func TestService_LoadPlaybackError(t *testing.T) {
	svc := testService(t)
	_, err := svc.loadPlayback(filepath.Join(t.TempDir(), "missing"))
	if !errors.Is(err, camrecord.ErrNoRecordingsFound) {
		t.Errorf("loadPlayback() = %v, want ErrNoRecordingsFound", err)
	}
	if svc.playback != nil {
		t.Error("playback set after a failed load")
	}
	svc.closePlayback()
}

// TestNewLogger verifies level mapping.
func TestNewLogger(t *testing.T) {
	testCases := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}

	for _, tc := range testCases {
		for _, format := range []string{"text", "json"} {
			logger := newLogger(config.LogConfig{Level: tc.level, Format: format})
			ctx := context.Background()
			if !logger.Enabled(ctx, tc.want) {
				t.Errorf("%s/%s: level %v disabled", tc.level, format, tc.want)
			}
			if tc.want > slog.LevelDebug && logger.Enabled(ctx, tc.want-4) {
				t.Errorf("%s/%s: level below %v enabled", tc.level, format, tc.want)
			}
		}
	}
}
