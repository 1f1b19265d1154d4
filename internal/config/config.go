// Package config loads the camrecord configuration: a YAML file, then a .env
// file and CAMRECORD_* environment variables on top of it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/e7canasta/camrecord"
)

// Config represents the complete camrecord configuration
type Config struct {
	InstanceID       string          `yaml:"instance_id"`
	ShutdownTimeoutS int             `yaml:"shutdown_timeout_s"` // Graceful shutdown timeout in seconds (default: 5)
	Recording        RecordingConfig `yaml:"recording"`
	Camera           CameraConfig    `yaml:"camera"`
	Worker           WorkerConfig    `yaml:"worker"`
	Playback         PlaybackConfig  `yaml:"playback"`
	MQTT             MQTTConfig      `yaml:"mqtt"`
	Catalog          CatalogConfig   `yaml:"catalog"`
	Log              LogConfig       `yaml:"log"`
}

// RecordingConfig contains the default recording parameters
type RecordingConfig struct {
	Left      string `yaml:"left"`       // left (or only) device, e.g. /dev/video0 or 0
	Right     string `yaml:"right"`      // right device, empty for single-camera mode
	FPS       int    `yaml:"fps"`        // 1-60 (default: 30)
	DurationS int    `yaml:"duration_s"` // 1-300 (default: 10)
	OutputDir string `yaml:"output_dir"` // default: recordings
}

// CameraConfig contains live camera settings
type CameraConfig struct {
	Width          int   `yaml:"width"`            // default: 640
	Height         int   `yaml:"height"`           // default: 480
	Bayer          bool  `yaml:"bayer"`            // force the raw Bayer pipeline
	DetectBayer    *bool `yaml:"detect_bayer"`     // probe with v4l2-ctl (default: true)
	StartTimeoutMS int   `yaml:"start_timeout_ms"` // default: 5000
	PullTimeoutMS  int   `yaml:"pull_timeout_ms"`  // default: 1000
}

// WorkerConfig contains capture loop settings
type WorkerConfig struct {
	StartGraceMS           int `yaml:"start_grace_ms"`           // default: 5000
	MaxConsecutiveFailures int `yaml:"max_consecutive_failures"` // default: 30
	RetryDelayMS           int `yaml:"retry_delay_ms"`           // default: 10
	MaxRetryDelayMS        int `yaml:"max_retry_delay_ms"`       // default: 500
}

// PlaybackConfig contains simulation settings
type PlaybackConfig struct {
	Dir               string `yaml:"dir"`                 // default: recordings
	PreviewIntervalMS int    `yaml:"preview_interval_ms"` // poll cadence (default: 33)
}

// MQTTConfig contains MQTT broker settings
type MQTTConfig struct {
	Broker   string     `yaml:"broker"`
	ClientID string     `yaml:"client_id"`
	Topics   MQTTTopics `yaml:"topics"`
	QoS      byte       `yaml:"qos"`
}

// MQTTTopics contains topic names
type MQTTTopics struct {
	Control string `yaml:"control"`
	Status  string `yaml:"status"`
}

// CatalogConfig contains the session catalog settings
type CatalogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"` // default: <output_dir>/catalog.db
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error (default: info)
	Format string `yaml:"format"` // text, json (default: text)
}

// Default returns a validated configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	if err := Validate(cfg); err != nil {
		// Defaults are valid by construction
		panic(err)
	}
	return cfg
}

// Load reads path (optional), applies the .env file and CAMRECORD_*
// variables, then validates. An empty path starts from the defaults.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := LoadEnvFile(".env"); err != nil {
		return nil, err
	}
	if err := ApplyEnv(&cfg); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// LoadEnvFile loads variables from a dotenv file without overriding the
// ones already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides cfg with CAMRECORD_* environment variables.
func ApplyEnv(cfg *Config) error {
	setString(&cfg.InstanceID, "CAMRECORD_INSTANCE_ID")
	setString(&cfg.Recording.Left, "CAMRECORD_LEFT")
	setString(&cfg.Recording.Right, "CAMRECORD_RIGHT")
	setString(&cfg.Recording.OutputDir, "CAMRECORD_OUTPUT_DIR")
	setString(&cfg.Playback.Dir, "CAMRECORD_PLAYBACK_DIR")
	setString(&cfg.MQTT.Broker, "CAMRECORD_MQTT_BROKER")
	setString(&cfg.Catalog.Path, "CAMRECORD_CATALOG_PATH")
	setString(&cfg.Log.Level, "CAMRECORD_LOG_LEVEL")
	setString(&cfg.Log.Format, "CAMRECORD_LOG_FORMAT")

	if err := setInt(&cfg.Recording.FPS, "CAMRECORD_FPS"); err != nil {
		return err
	}
	if err := setInt(&cfg.Recording.DurationS, "CAMRECORD_DURATION_S"); err != nil {
		return err
	}

	if value := os.Getenv("CAMRECORD_CATALOG_ENABLED"); value != "" {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("CAMRECORD_CATALOG_ENABLED: %w", err)
		}
		cfg.Catalog.Enabled = enabled
	}

	return nil
}

func setString(dst *string, key string) {
	if value := os.Getenv(key); value != "" {
		*dst = value
	}
}

func setInt(dst *int, key string) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

// Source returns the configured camera selection. An empty right device
// selects single-camera mode.
func (c *Config) Source() (camrecord.CameraSource, error) {
	if c.Recording.Left == "" {
		return camrecord.CameraSource{}, fmt.Errorf("recording.left is required")
	}
	if c.Recording.Right == "" {
		return camrecord.Single(c.Recording.Left), nil
	}
	return camrecord.Dual(c.Recording.Left, c.Recording.Right), nil
}

// RecorderConfig maps the configuration onto a camrecord.RecorderConfig.
// Catalog, NewSource and NewSink are left for the caller.
func (c *Config) RecorderConfig() camrecord.RecorderConfig {
	rc := camrecord.DefaultRecorderConfig()

	rc.Camera.Width = c.Camera.Width
	rc.Camera.Height = c.Camera.Height
	rc.Camera.FPS = c.Recording.FPS
	rc.Camera.Bayer = c.Camera.Bayer
	rc.Camera.DetectBayer = c.Camera.DetectBayer == nil || *c.Camera.DetectBayer
	rc.Camera.StartTimeout = ms(c.Camera.StartTimeoutMS)
	rc.Camera.PullTimeout = ms(c.Camera.PullTimeoutMS)

	rc.Worker.StartGrace = ms(c.Worker.StartGraceMS)
	rc.Worker.MaxConsecutiveFailures = c.Worker.MaxConsecutiveFailures
	rc.Worker.RetryDelay = ms(c.Worker.RetryDelayMS)
	rc.Worker.MaxRetryDelay = ms(c.Worker.MaxRetryDelayMS)

	return rc
}

// PlaybackConfig maps the configuration onto a camrecord.PlaybackConfig.
func (c *Config) PlaybackConfig() camrecord.PlaybackConfig {
	pc := camrecord.DefaultPlaybackConfig()
	pc.Width = c.Camera.Width
	pc.Height = c.Camera.Height
	pc.PullTimeout = ms(c.Camera.PullTimeoutMS)
	return pc
}

// PreviewInterval returns the preview poll cadence.
func (c *Config) PreviewInterval() time.Duration {
	return ms(c.Playback.PreviewIntervalMS)
}

// ShutdownTimeout returns the graceful shutdown timeout.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutS) * time.Second
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}
