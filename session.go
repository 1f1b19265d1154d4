package camrecord

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// fileStampLayout names recordings so lexicographic order is chronological
const fileStampLayout = "20060102_150405"

// fileStamp is the session file prefix with millisecond resolution, so
// sessions started within the same second get distinct files.
func fileStamp(t time.Time) string {
	return fmt.Sprintf("%s_%03d", t.Format(fileStampLayout), t.Nanosecond()/int(time.Millisecond))
}

// RecordingSession is the metadata of one bounded recording run.
//
// It is created by StartRecording and shared by the workers of the run;
// per-side frame counters are atomic.
type RecordingSession struct {
	ID        string
	OutputDir string
	FPS       int
	Duration  int
	StartedAt time.Time
	Source    CameraSource

	stamp   string
	written [2]atomic.Uint64
}

// NewRecordingSession creates a session. Parameters are not validated here;
// StartRecording validates them before any resource is touched.
func NewRecordingSession(outputDir string, fps, duration int, source CameraSource, now time.Time) *RecordingSession {
	return &RecordingSession{
		ID:        uuid.New().String(),
		OutputDir: outputDir,
		FPS:       fps,
		Duration:  duration,
		StartedAt: now,
		Source:    source,
		stamp:     fileStamp(now),
	}
}

// TargetFrames is the number of frames per side after which the recording
// ends on its own (frames_written / fps >= duration).
func (s *RecordingSession) TargetFrames() uint64 {
	return uint64(s.FPS) * uint64(s.Duration)
}

// OutputPath returns the recording file for side, e.g.
// recording_20250101_120000_000_left.mp4. Left sorts before right.
func (s *RecordingSession) OutputPath(side Side) string {
	return filepath.Join(s.OutputDir, fmt.Sprintf("recording_%s_%s.mp4", s.stamp, side))
}

// ManifestPath returns the session manifest file.
func (s *RecordingSession) ManifestPath() string {
	return filepath.Join(s.OutputDir, fmt.Sprintf("recording_%s.yaml", s.stamp))
}

// FramesWritten returns the frames appended to side's sink so far.
func (s *RecordingSession) FramesWritten(side Side) uint64 {
	return s.written[side].Load()
}

// addWritten counts one written frame and returns the new total.
func (s *RecordingSession) addWritten(side Side) uint64 {
	return s.written[side].Add(1)
}

// complete reports whether side reached the target frame count.
func (s *RecordingSession) complete(written uint64) bool {
	return written >= s.TargetFrames()
}

// SessionSummary is the persisted record of a finished session.
type SessionSummary struct {
	ID        string        `yaml:"id" json:"id"`
	Source    string        `yaml:"source" json:"source"`
	OutputDir string        `yaml:"output_dir" json:"output_dir"`
	FPS       int           `yaml:"fps" json:"fps"`
	Duration  int           `yaml:"duration_seconds" json:"duration_seconds"`
	StartedAt time.Time     `yaml:"started_at" json:"started_at"`
	EndedAt   time.Time     `yaml:"ended_at" json:"ended_at"`
	Sides     []SideSummary `yaml:"sides" json:"sides"`
}

// SideSummary describes one side of a finished session.
type SideSummary struct {
	Side          string  `yaml:"side" json:"side"`
	Device        string  `yaml:"device" json:"device"`
	Path          string  `yaml:"path" json:"path"`
	FramesWritten uint64  `yaml:"frames_written" json:"frames_written"`
	PullFailures  uint64  `yaml:"pull_failures" json:"pull_failures"`
	FPSReal       float64 `yaml:"fps_real" json:"fps_real"`
	FPSStdDev     float64 `yaml:"fps_stddev" json:"fps_stddev"`
	Stable        bool    `yaml:"stable" json:"stable"`
	Error         string  `yaml:"error,omitempty" json:"error,omitempty"`
}

// Summarize builds the session record from the final worker statistics.
func (s *RecordingSession) Summarize(ended time.Time, stats []WorkerStats) SessionSummary {
	summary := SessionSummary{
		ID:        s.ID,
		Source:    s.Source.String(),
		OutputDir: s.OutputDir,
		FPS:       s.FPS,
		Duration:  s.Duration,
		StartedAt: s.StartedAt,
		EndedAt:   ended,
	}

	for _, st := range stats {
		side := SideSummary{
			Side:          st.Side.String(),
			Device:        st.Source,
			Path:          s.OutputPath(st.Side),
			FramesWritten: s.FramesWritten(st.Side),
			PullFailures:  st.PullFailures,
			FPSReal:       st.FPSReal,
			FPSStdDev:     st.FPSStdDev,
			Stable:        st.IsStable,
		}
		if st.Err != nil {
			side.Error = st.Err.Error()
		}
		summary.Sides = append(summary.Sides, side)
	}

	return summary
}

// WriteManifest writes summary as YAML to path.
func WriteManifest(path string, summary SessionSummary) error {
	data, err := yaml.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// ReadManifest loads a session manifest written by WriteManifest.
func ReadManifest(path string) (*SessionSummary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var summary SessionSummary
	if err := yaml.Unmarshal(data, &summary); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &summary, nil
}
