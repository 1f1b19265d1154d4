package control

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/e7canasta/camrecord"
)

func testHandler(callbacks CommandCallbacks) *Handler {
	return NewHandler(Config{
		ControlTopic: "camrecord/control/test",
		StatusTopic:  "camrecord/status/test",
		Left:         "/dev/video0",
		OutputDir:    "recordings",
		FPS:          30,
		Duration:     10,
	}, nil, callbacks)
}

// TestParseCommand covers JSON decoding of incoming commands.
func TestParseCommand(t *testing.T) {
	testCases := []struct {
		name      string
		payload   string
		want      string
		shouldErr bool
	}{
		{"plain", `{"command":"get_status"}`, "get_status", false},
		{"with_params", `{"command":"start_recording","params":{"fps":15}}`, "start_recording", false},
		{"missing_command", `{"params":{}}`, "", true},
		{"invalid_json", `{command`, "", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cmd, err := ParseCommand([]byte(tc.payload))
			if tc.shouldErr {
				if err == nil {
					t.Errorf("ParseCommand() = %+v, want error", cmd)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseCommand() failed: %v", err)
			}
			if cmd.Command != tc.want {
				t.Errorf("Command = %s, want %s", cmd.Command, tc.want)
			}
		})
	}
}

// TestHandle_StartRecording verifies parameter parsing and defaults of
// start_recording.
func TestHandle_StartRecording(t *testing.T) {
	testCases := []struct {
		name       string
		params     map[string]interface{}
		wantSource string
		wantFPS    int
		wantDur    int
		wantErr    bool
	}{
		{
			name:       "defaults",
			wantSource: "Single(/dev/video0)",
			wantFPS:    30,
			wantDur:    10,
		},
		{
			name:       "dual_with_indices",
			params:     map[string]interface{}{"left": float64(0), "right": float64(2), "fps": float64(15), "duration": "60"},
			wantSource: "Dual(0, 2)",
			wantFPS:    15,
			wantDur:    60,
		},
		{
			name:    "fractional_fps",
			params:  map[string]interface{}{"fps": 29.97},
			wantErr: true,
		},
		{
			name:    "bad_duration",
			params:  map[string]interface{}{"duration": true},
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var got StartRequest
			called := false
			h := testHandler(CommandCallbacks{
				OnStartRecording: func(ctx context.Context, req StartRequest) error {
					called = true
					got = req
					return nil
				},
			})

			resp := h.Handle(context.Background(), Command{Command: "start_recording", Params: tc.params})
			if tc.wantErr {
				if resp.Status != "error" || called {
					t.Errorf("response = %+v, called = %v, want error without call", resp, called)
				}
				return
			}

			if resp.Status != "recording" {
				t.Fatalf("Status = %s (%s), want recording", resp.Status, resp.Error)
			}
			if got.Source.String() != tc.wantSource || got.FPS != tc.wantFPS || got.Duration != tc.wantDur {
				t.Errorf("request = %s %d fps %ds, want %s %d fps %ds",
					got.Source, got.FPS, got.Duration, tc.wantSource, tc.wantFPS, tc.wantDur)
			}
			if got.OutputDir != "recordings" {
				t.Errorf("OutputDir = %s", got.OutputDir)
			}
		})
	}
}

// TestHandle_Errors verifies that callback errors and unknown commands are
// reported in the response.
func TestHandle_Errors(t *testing.T) {
	h := testHandler(CommandCallbacks{
		OnStartRecording: func(ctx context.Context, req StartRequest) error {
			return &camrecord.PartialStartFailure{Device: "/dev/video2", Side: camrecord.SideRight, Err: camrecord.ErrSourceUnavailable}
		},
		OnLoadPlayback: func(dir string) (string, error) {
			return "", camrecord.ErrNoRecordingsFound
		},
	})

	testCases := []struct {
		cmd       string
		wantError string
	}{
		{"start_recording", "/dev/video2"},
		{"load_playback", "no recordings found"},
		{"stop_recording", "not implemented"},
		{"reboot", "unknown command"},
	}

	for _, tc := range testCases {
		resp := h.Handle(context.Background(), Command{Command: tc.cmd})
		if resp.Status != "error" || !strings.Contains(resp.Error, tc.wantError) {
			t.Errorf("%s: response = %+v, want error mentioning %q", tc.cmd, resp, tc.wantError)
		}
		if resp.CommandAck != tc.cmd {
			t.Errorf("%s: CommandAck = %s", tc.cmd, resp.CommandAck)
		}
	}
}

// TestHandle_Queries verifies the read-only commands.
func TestHandle_Queries(t *testing.T) {
	var loadedDir string
	h := testHandler(CommandCallbacks{
		OnStopRecording: func() error { return nil },
		OnGetStatus: func() map[string]interface{} {
			return map[string]interface{}{"recording": true}
		},
		OnLoadPlayback: func(dir string) (string, error) {
			loadedDir = dir
			return "a.mp4: loaded, 2.0s\nNot loaded", nil
		},
		OnListCameras: func(ctx context.Context) ([]map[string]interface{}, error) {
			return []map[string]interface{}{{"index": 0}}, nil
		},
		OnListRecordings: func() ([]map[string]interface{}, error) {
			return nil, errors.New("permission denied")
		},
		OnShutdown: func() error { return nil },
	})

	ctx := context.Background()

	if resp := h.Handle(ctx, Command{Command: "stop_recording"}); resp.Status != "stopped" {
		t.Errorf("stop_recording = %+v", resp)
	}
	if resp := h.Handle(ctx, Command{Command: "get_status"}); resp.Data["recording"] != true {
		t.Errorf("get_status = %+v", resp)
	}
	if resp := h.Handle(ctx, Command{Command: "load_playback"}); resp.Status != "loaded" || loadedDir != "recordings" {
		t.Errorf("load_playback = %+v (dir %s)", resp, loadedDir)
	}
	h.Handle(ctx, Command{Command: "load_playback", Params: map[string]interface{}{"dir": "/srv/sim"}})
	if loadedDir != "/srv/sim" {
		t.Errorf("load_playback dir = %s, want /srv/sim", loadedDir)
	}
	if resp := h.Handle(ctx, Command{Command: "list_cameras"}); resp.Status != "success" {
		t.Errorf("list_cameras = %+v", resp)
	}
	if resp := h.Handle(ctx, Command{Command: "list_recordings"}); resp.Error != "permission denied" {
		t.Errorf("list_recordings = %+v", resp)
	}
	if resp := h.Handle(ctx, Command{Command: "shutdown"}); resp.Status != "shutting_down" {
		t.Errorf("shutdown = %+v", resp)
	}
}

// TestStop_Idempotent verifies Stop on a handler that never started.
func TestStop_Idempotent(t *testing.T) {
	h := testHandler(CommandCallbacks{})
	if err := h.Stop(); err != nil {
		t.Errorf("first Stop() = %v", err)
	}
	if err := h.Stop(); err != nil {
		t.Errorf("second Stop() = %v", err)
	}
}

// TestBrokerURL verifies scheme handling.
func TestBrokerURL(t *testing.T) {
	testCases := map[string]string{
		"localhost:1883":           "tcp://localhost:1883",
		"tcp://10.0.0.5:1883":      "tcp://10.0.0.5:1883",
		"ssl://broker.example:8883": "ssl://broker.example:8883",
	}
	for in, want := range testCases {
		if got := BrokerURL(in); got != want {
			t.Errorf("BrokerURL(%q) = %q, want %q", in, got, want)
		}
	}
}
