// Package control exposes the recorder over MQTT: commands arrive as JSON on
// the control topic and every command is answered on the status topic.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/e7canasta/camrecord"
)

// Command represents a control plane command
type Command struct {
	Command string                 `json:"command"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// Response represents a command response
type Response struct {
	CommandAck string                 `json:"command_ack"`
	Status     string                 `json:"status"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Timestamp  string                 `json:"timestamp"`
}

// Config contains control plane settings
type Config struct {
	ControlTopic string
	StatusTopic  string
	QoS          byte

	// Defaults for start_recording parameters the command omits
	Left      string
	Right     string
	OutputDir string
	FPS       int
	Duration  int
}

// StartRequest is the parsed start_recording command.
type StartRequest struct {
	Source    camrecord.CameraSource
	OutputDir string
	FPS       int
	Duration  int
}

// CommandCallbacks contains callback functions for commands
type CommandCallbacks struct {
	OnStartRecording func(ctx context.Context, req StartRequest) error
	OnStopRecording  func() error
	OnGetStatus      func() map[string]interface{}
	OnLoadPlayback   func(dir string) (status string, err error)
	OnListCameras    func(ctx context.Context) ([]map[string]interface{}, error)
	OnListRecordings func() ([]map[string]interface{}, error)
	OnShutdown       func() error
}

// Handler handles control plane commands
type Handler struct {
	cfg      Config
	client   mqtt.Client
	commands chan Command

	callbacks CommandCallbacks

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewHandler creates a new control plane handler. client may be nil when
// commands are fed through Handle only.
func NewHandler(cfg Config, client mqtt.Client, callbacks CommandCallbacks) *Handler {
	return &Handler{
		cfg:       cfg,
		client:    client,
		commands:  make(chan Command, 10),
		callbacks: callbacks,
	}
}

// Start starts listening for control commands
func (h *Handler) Start(ctx context.Context) error {
	topic := h.cfg.ControlTopic

	slog.Info("control: subscribing to control plane", "topic", topic, "qos", h.cfg.QoS)

	token := h.client.Subscribe(topic, h.cfg.QoS, h.messageHandler)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("control plane subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control plane subscription failed: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel

	h.wg.Add(1)
	go h.processCommands(runCtx)

	slog.Info("control: handler started")
	return nil
}

// Stop unsubscribes and waits for the command in progress. Idempotent.
func (h *Handler) Stop() error {
	h.once.Do(func() {
		if h.client != nil && h.client.IsConnected() {
			token := h.client.Unsubscribe(h.cfg.ControlTopic)
			token.WaitTimeout(2 * time.Second)
		}
		if h.cancel != nil {
			h.cancel()
		}
		h.wg.Wait()
		slog.Info("control: handler stopped")
	})
	return nil
}

// messageHandler is called when a control message is received
func (h *Handler) messageHandler(client mqtt.Client, msg mqtt.Message) {
	cmd, err := ParseCommand(msg.Payload())
	if err != nil {
		slog.Error("control: failed to parse control command", "error", err)
		h.sendResponse(Response{
			CommandAck: "unknown",
			Status:     "error",
			Error:      "invalid JSON",
		})
		return
	}

	slog.Info("control: command received", "command", cmd.Command)

	select {
	case h.commands <- cmd:
	default:
		slog.Warn("control: command queue full, dropping command", "command", cmd.Command)
	}
}

// ParseCommand decodes a JSON command.
func ParseCommand(payload []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return Command{}, err
	}
	if cmd.Command == "" {
		return Command{}, fmt.Errorf("missing command field")
	}
	return cmd, nil
}

// processCommands processes commands from the queue
func (h *Handler) processCommands(ctx context.Context) {
	defer h.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-h.commands:
			h.sendResponse(h.Handle(ctx, cmd))
		}
	}
}

// Handle executes a command and returns the response to publish.
func (h *Handler) Handle(ctx context.Context, cmd Command) Response {
	resp := Response{CommandAck: cmd.Command}

	switch cmd.Command {
	case "start_recording":
		if h.callbacks.OnStartRecording == nil {
			return notImplemented(resp)
		}
		req, err := h.startRequest(cmd.Params)
		if err != nil {
			return failed(resp, err)
		}
		if err := h.callbacks.OnStartRecording(ctx, req); err != nil {
			return failed(resp, err)
		}
		resp.Status = "recording"
		resp.Data = map[string]interface{}{
			"source":     req.Source.String(),
			"output_dir": req.OutputDir,
			"fps":        req.FPS,
			"duration":   req.Duration,
		}

	case "stop_recording":
		if h.callbacks.OnStopRecording == nil {
			return notImplemented(resp)
		}
		if err := h.callbacks.OnStopRecording(); err != nil {
			return failed(resp, err)
		}
		resp.Status = "stopped"

	case "get_status":
		if h.callbacks.OnGetStatus == nil {
			return notImplemented(resp)
		}
		resp.Status = "success"
		resp.Data = h.callbacks.OnGetStatus()

	case "load_playback":
		if h.callbacks.OnLoadPlayback == nil {
			return notImplemented(resp)
		}
		dir := stringParam(cmd.Params, "dir", h.cfg.OutputDir)
		status, err := h.callbacks.OnLoadPlayback(dir)
		if err != nil {
			return failed(resp, err)
		}
		resp.Status = "loaded"
		resp.Data = map[string]interface{}{"dir": dir, "status": status}

	case "list_cameras":
		if h.callbacks.OnListCameras == nil {
			return notImplemented(resp)
		}
		cams, err := h.callbacks.OnListCameras(ctx)
		if err != nil {
			return failed(resp, err)
		}
		resp.Status = "success"
		resp.Data = map[string]interface{}{"cameras": cams}

	case "list_recordings":
		if h.callbacks.OnListRecordings == nil {
			return notImplemented(resp)
		}
		recs, err := h.callbacks.OnListRecordings()
		if err != nil {
			return failed(resp, err)
		}
		resp.Status = "success"
		resp.Data = map[string]interface{}{"recordings": recs}

	case "shutdown":
		if h.callbacks.OnShutdown == nil {
			return notImplemented(resp)
		}
		if err := h.callbacks.OnShutdown(); err != nil {
			return failed(resp, err)
		}
		resp.Status = "shutting_down"

	default:
		resp.Status = "error"
		resp.Error = fmt.Sprintf("unknown command: %s", cmd.Command)
	}

	return resp
}

// startRequest builds a StartRequest from command params and the defaults.
func (h *Handler) startRequest(params map[string]interface{}) (StartRequest, error) {
	left := stringParam(params, "left", h.cfg.Left)
	right := stringParam(params, "right", h.cfg.Right)
	if left == "" {
		return StartRequest{}, fmt.Errorf("%w: left camera is required", camrecord.ErrInvalidParameter)
	}

	fps, err := intParam(params, "fps", h.cfg.FPS)
	if err != nil {
		return StartRequest{}, err
	}
	duration, err := intParam(params, "duration", h.cfg.Duration)
	if err != nil {
		return StartRequest{}, err
	}

	source := camrecord.Single(left)
	if right != "" {
		source = camrecord.Dual(left, right)
	}

	return StartRequest{
		Source:    source,
		OutputDir: stringParam(params, "output_dir", h.cfg.OutputDir),
		FPS:       fps,
		Duration:  duration,
	}, nil
}

func notImplemented(resp Response) Response {
	resp.Status = "error"
	resp.Error = fmt.Sprintf("%s not implemented", resp.CommandAck)
	return resp
}

func failed(resp Response, err error) Response {
	resp.Status = "error"
	resp.Error = err.Error()
	return resp
}

func stringParam(params map[string]interface{}, key, def string) string {
	switch v := params[key].(type) {
	case string:
		if v != "" {
			return v
		}
	case float64:
		// Camera indices may arrive as numbers
		return strconv.Itoa(int(v))
	}
	return def
}

func intParam(params map[string]interface{}, key string, def int) (int, error) {
	switch v := params[key].(type) {
	case nil:
		return def, nil
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("%w: %s must be an integer, got %v", camrecord.ErrInvalidParameter, key, v)
		}
		return int(v), nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %v", camrecord.ErrInvalidParameter, key, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%w: %s has type %T", camrecord.ErrInvalidParameter, key, v)
	}
}

// sendResponse publishes resp on the status topic
func (h *Handler) sendResponse(resp Response) {
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339)

	if h.client == nil {
		return
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("control: failed to marshal response", "error", err)
		return
	}

	token := h.client.Publish(h.cfg.StatusTopic, h.cfg.QoS, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		slog.Error("control: response publish timeout")
		return
	}
	if err := token.Error(); err != nil {
		slog.Error("control: failed to publish response", "error", err)
		return
	}

	slog.Debug("control: response sent", "command_ack", resp.CommandAck, "status", resp.Status)
}
