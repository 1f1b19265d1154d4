// Package discovery enumerates V4L2 capture devices and probes their pixel
// formats.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Camera describes one V4L2 device node.
type Camera struct {
	Index  int    `json:"index"`
	Device string `json:"device"`
	Name   string `json:"name"`
	Bayer  bool   `json:"bayer"`
}

// probeTimeout bounds each v4l2-ctl invocation
const probeTimeout = 5 * time.Second

var devicePattern = regexp.MustCompile(`^video(\d+)$`)

// Scanner enumerates cameras. The zero value scans the real system.
type Scanner struct {
	// DevGlob is the device node pattern (default "/dev/video*")
	DevGlob string
	// SysfsRoot is where V4L2 names live (default "/sys/class/video4linux")
	SysfsRoot string
	// Run executes an external command and returns its stdout
	Run func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ListCameras scans the system with the default Scanner.
func ListCameras(ctx context.Context) ([]Camera, error) {
	return Scanner{}.Scan(ctx)
}

// Scan returns the capture devices sorted by index.
func (s Scanner) Scan(ctx context.Context) ([]Camera, error) {
	pattern := s.DevGlob
	if pattern == "" {
		pattern = "/dev/video*"
	}

	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("discovery: failed to scan devices: %w", err)
	}

	var cameras []Camera
	for _, match := range matches {
		select {
		case <-ctx.Done():
			return cameras, ctx.Err()
		default:
		}

		index, ok := DeviceIndex(match)
		if !ok {
			continue
		}

		cam := Camera{
			Index:  index,
			Device: match,
			Name:   s.deviceName(ctx, match, index),
			Bayer:  s.IsBayer(ctx, match),
		}
		cameras = append(cameras, cam)
	}

	sort.Slice(cameras, func(i, j int) bool {
		return cameras[i].Index < cameras[j].Index
	})

	slog.Debug("discovery: scan complete", "cameras", len(cameras))
	return cameras, nil
}

// IsBayer reports whether the device exposes a raw Bayer format.
//
// Detection runs v4l2-ctl --list-formats and looks for Bayer/RGGB/RG16.
// Any probe failure means "not Bayer".
func (s Scanner) IsBayer(ctx context.Context, device string) bool {
	out, err := s.run(ctx, "v4l2-ctl", "--device", device, "--list-formats")
	if err != nil {
		slog.Debug("discovery: format probe failed", "device", device, "error", err)
		return false
	}
	return HasBayerFormat(string(out))
}

// HasBayerFormat checks v4l2-ctl --list-formats output for a Bayer format.
func HasBayerFormat(listFormats string) bool {
	return strings.Contains(listFormats, "Bayer") ||
		strings.Contains(listFormats, "RGGB") ||
		strings.Contains(listFormats, "RG16")
}

// ParseCardType extracts the "Card type" value from v4l2-ctl --info output.
func ParseCardType(info string) string {
	for _, line := range strings.Split(info, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "Card type") {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) == 2 {
			return strings.TrimSpace(parts[1])
		}
	}
	return ""
}

// DeviceIndex extracts N from a /dev/videoN node path.
func DeviceIndex(device string) (int, bool) {
	m := devicePattern.FindStringSubmatch(filepath.Base(device))
	if len(m) < 2 {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// deviceName resolves a display name: sysfs first, then v4l2-ctl, then a
// generated fallback.
func (s Scanner) deviceName(ctx context.Context, device string, index int) string {
	root := s.SysfsRoot
	if root == "" {
		root = "/sys/class/video4linux"
	}

	if data, err := os.ReadFile(filepath.Join(root, filepath.Base(device), "name")); err == nil {
		if name := strings.TrimSpace(string(data)); name != "" {
			return name
		}
	}

	if out, err := s.run(ctx, "v4l2-ctl", "--device", device, "--info"); err == nil {
		if name := ParseCardType(string(out)); name != "" {
			return name
		}
	}

	return fmt.Sprintf("Camera %d", index)
}

func (s Scanner) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	if s.Run != nil {
		return s.Run(ctx, name, args...)
	}
	return exec.CommandContext(ctx, name, args...).Output()
}
