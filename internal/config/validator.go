package config

import (
	"fmt"
	"path/filepath"
	"regexp"

	"github.com/e7canasta/camrecord"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

var (
	validLogLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validLogFormats = map[string]bool{"text": true, "json": true}
)

// Validate checks the configuration and fills in defaults
func Validate(cfg *Config) error {
	if cfg.InstanceID == "" {
		cfg.InstanceID = "camrecord"
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}
	if cfg.ShutdownTimeoutS <= 0 {
		cfg.ShutdownTimeoutS = 5
	}

	// Recording defaults match the recorder's UI defaults
	if cfg.Recording.FPS == 0 {
		cfg.Recording.FPS = 30
	}
	if cfg.Recording.DurationS == 0 {
		cfg.Recording.DurationS = 10
	}
	if err := camrecord.ValidateRecording(cfg.Recording.FPS, cfg.Recording.DurationS); err != nil {
		return fmt.Errorf("recording: %w", err)
	}
	if cfg.Recording.OutputDir == "" {
		cfg.Recording.OutputDir = "recordings"
	}
	if cfg.Recording.Right != "" && cfg.Recording.Left == "" {
		return fmt.Errorf("recording.right requires recording.left")
	}
	if cfg.Recording.Right != "" && cfg.Recording.Right == cfg.Recording.Left {
		return fmt.Errorf("recording.left and recording.right must be different devices")
	}

	if cfg.Camera.Width == 0 {
		cfg.Camera.Width = 640
	}
	if cfg.Camera.Height == 0 {
		cfg.Camera.Height = 480
	}
	if cfg.Camera.Width < 0 || cfg.Camera.Height < 0 {
		return fmt.Errorf("camera size must be positive, got %dx%d", cfg.Camera.Width, cfg.Camera.Height)
	}
	if cfg.Camera.StartTimeoutMS <= 0 {
		cfg.Camera.StartTimeoutMS = 5000
	}
	if cfg.Camera.PullTimeoutMS <= 0 {
		cfg.Camera.PullTimeoutMS = 1000
	}

	if cfg.Worker.StartGraceMS <= 0 {
		cfg.Worker.StartGraceMS = 5000
	}
	if cfg.Worker.MaxConsecutiveFailures <= 0 {
		cfg.Worker.MaxConsecutiveFailures = 30
	}
	if cfg.Worker.RetryDelayMS <= 0 {
		cfg.Worker.RetryDelayMS = 10
	}
	if cfg.Worker.MaxRetryDelayMS <= 0 {
		cfg.Worker.MaxRetryDelayMS = 500
	}
	if cfg.Worker.MaxRetryDelayMS < cfg.Worker.RetryDelayMS {
		return fmt.Errorf("worker.max_retry_delay_ms (%d) must be >= worker.retry_delay_ms (%d)",
			cfg.Worker.MaxRetryDelayMS, cfg.Worker.RetryDelayMS)
	}

	if cfg.Playback.Dir == "" {
		cfg.Playback.Dir = cfg.Recording.OutputDir
	}
	if cfg.Playback.PreviewIntervalMS <= 0 {
		cfg.Playback.PreviewIntervalMS = 33
	}

	// Set default topics if not provided
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = cfg.InstanceID
	}
	if cfg.MQTT.Topics.Control == "" {
		cfg.MQTT.Topics.Control = fmt.Sprintf("camrecord/control/%s", cfg.InstanceID)
	}
	if cfg.MQTT.Topics.Status == "" {
		cfg.MQTT.Topics.Status = fmt.Sprintf("camrecord/status/%s", cfg.InstanceID)
	}
	if cfg.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", cfg.MQTT.QoS)
	}

	if cfg.Catalog.Path == "" {
		cfg.Catalog.Path = filepath.Join(cfg.Recording.OutputDir, "catalog.db")
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if !validLogLevels[cfg.Log.Level] {
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", cfg.Log.Level)
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if !validLogFormats[cfg.Log.Format] {
		return fmt.Errorf("log.format must be text or json, got %q", cfg.Log.Format)
	}

	return nil
}
