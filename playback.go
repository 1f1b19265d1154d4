package camrecord

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

var videoExtensions = map[string]bool{
	".mp4":  true,
	".mkv":  true,
	".avi":  true,
	".mov":  true,
	".webm": true,
}

// IsVideoFile reports whether path has a recognized video extension.
func IsVideoFile(path string) bool {
	return videoExtensions[strings.ToLower(filepath.Ext(path))]
}

// FindVideoFiles returns the video files directly under dir, sorted by
// file name.
func FindVideoFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	// os.ReadDir sorts by file name
	var files []string
	for _, e := range entries {
		if !e.Type().IsRegular() || !IsVideoFile(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	return files, nil
}

// PlaybackConfig contains configuration for a StereoPlaybackSystem
type PlaybackConfig struct {
	// Width and Height of the decoded RGB frames
	Width  int
	Height int
	// PullTimeout bounds each decoded frame
	PullTimeout time.Duration
	// NewDecoder builds the decoder of one file (default: GStreamer)
	NewDecoder func(path string, width, height int) Decoder
}

// DefaultPlaybackConfig returns 640x480 frames decoded by GStreamer.
func DefaultPlaybackConfig() PlaybackConfig {
	return PlaybackConfig{
		Width:       640,
		Height:      480,
		PullTimeout: time.Second,
	}
}

// StereoPlaybackSystem replays two recordings as looping virtual cameras.
//
// The first video file of the directory (by name) is the left camera and
// the second one the right camera. Each side loops on its own: files of
// different lengths drift apart.
type StereoPlaybackSystem struct {
	dir string

	mu    sync.Mutex
	sides [2]*LoopingFile
}

// LoadFromDirectory loads the recordings of dir with the default
// configuration.
func LoadFromDirectory(dir string) (*StereoPlaybackSystem, error) {
	return LoadFromDirectoryWith(dir, DefaultPlaybackConfig())
}

// LoadFromDirectoryWith loads the recordings of dir.
//
// It fails with ErrNoRecordingsFound when dir holds no video file. One file
// loads the left side only. Both files are opened before returning, so an
// unreadable file is reported here (ErrDecode or ErrSourceUnavailable).
func LoadFromDirectoryWith(dir string, cfg PlaybackConfig) (*StereoPlaybackSystem, error) {
	def := DefaultPlaybackConfig()
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg.Width, cfg.Height = def.Width, def.Height
	}
	if cfg.PullTimeout <= 0 {
		cfg.PullTimeout = def.PullTimeout
	}

	files, err := FindVideoFiles(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s does not exist", ErrNoRecordingsFound, dir)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, dir, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoRecordingsFound, dir)
	}
	if len(files) > 2 {
		slog.Warn("camrecord: more than two recordings found, using the first two",
			"dir", dir,
			"found", len(files),
		)
		files = files[:2]
	}

	sys := &StereoPlaybackSystem{dir: dir}
	for i, path := range files {
		var src *LoopingFile
		if cfg.NewDecoder != nil {
			src = NewLoopingFileWithDecoder(path, cfg.Width, cfg.Height, cfg.NewDecoder(path, cfg.Width, cfg.Height))
		} else {
			src = NewLoopingFile(path, cfg.Width, cfg.Height, cfg.PullTimeout)
		}

		if err := src.Open(context.Background()); err != nil {
			sys.Close()
			return nil, err
		}
		sys.sides[i] = src
	}

	slog.Info("camrecord: playback loaded", "dir", dir, "files", len(files))
	for _, line := range strings.Split(sys.Status(), "\n") {
		slog.Debug("camrecord: playback side", "status", line)
	}

	return sys, nil
}

// LeftFrame decodes the next frame of the left file.
func (p *StereoPlaybackSystem) LeftFrame() (*Frame, error) {
	return p.frame(SideLeft)
}

// RightFrame decodes the next frame of the right file.
func (p *StereoPlaybackSystem) RightFrame() (*Frame, error) {
	return p.frame(SideRight)
}

func (p *StereoPlaybackSystem) frame(side Side) (*Frame, error) {
	p.mu.Lock()
	src := p.sides[side]
	p.mu.Unlock()

	if src == nil {
		return nil, fmt.Errorf("%w: %s camera", ErrNotLoaded, side)
	}
	return src.PullFrame(context.Background())
}

// Loaded reports which sides have a file.
func (p *StereoPlaybackSystem) Loaded() (left, right bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sides[SideLeft] != nil, p.sides[SideRight] != nil
}

// Status returns two lines, left then right, each either
// "<name>: loaded, <duration>s" or "Not loaded".
func (p *StereoPlaybackSystem) Status() string {
	p.mu.Lock()
	sides := p.sides
	p.mu.Unlock()

	lines := make([]string, 0, len(sides))
	for _, src := range sides {
		if src == nil {
			lines = append(lines, "Not loaded")
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: loaded, %.1fs", src.Name(), src.Duration().Seconds()))
	}
	return strings.Join(lines, "\n")
}

// Dir returns the directory the recordings were loaded from.
func (p *StereoPlaybackSystem) Dir() string { return p.dir }

// Close releases both decoders. Subsequent frame reads fail with
// ErrNotLoaded.
func (p *StereoPlaybackSystem) Close() error {
	p.mu.Lock()
	sides := p.sides
	p.sides = [2]*LoopingFile{}
	p.mu.Unlock()

	var errs []error
	for _, src := range sides {
		if src == nil {
			continue
		}
		if err := src.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
