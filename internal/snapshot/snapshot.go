// Package snapshot writes single frames to disk as PNG or JPEG images.
package snapshot

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/e7canasta/camrecord"
)

// Saver writes frames into a directory. Safe for concurrent use.
type Saver struct {
	outputDir   string
	format      string
	jpegQuality int

	saved   atomic.Uint64
	dropped atomic.Uint64
}

// NewSaver creates the output directory and validates the format
// ("png" or "jpeg"). jpegQuality is 1-100 and ignored for PNG.
func NewSaver(outputDir, format string, jpegQuality int) (*Saver, error) {
	if format != "png" && format != "jpeg" {
		return nil, fmt.Errorf("unsupported format: %s (must be png or jpeg)", format)
	}
	if format == "jpeg" && (jpegQuality < 1 || jpegQuality > 100) {
		return nil, fmt.Errorf("jpeg quality must be 1-100, got %d", jpegQuality)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	return &Saver{
		outputDir:   outputDir,
		format:      format,
		jpegQuality: jpegQuality,
	}, nil
}

// Save writes frame as <label>_<seq>_<timestamp>.<ext> and returns the path.
func (s *Saver) Save(label string, frame *camrecord.Frame) (string, error) {
	img, err := ToRGBA(frame)
	if err != nil {
		s.dropped.Add(1)
		return "", err
	}

	name := fmt.Sprintf("%s_%06d_%s.%s",
		label,
		frame.Seq,
		frame.Timestamp.Format("20060102_150405.000"),
		s.format)
	path := filepath.Join(s.outputDir, name)

	file, err := os.Create(path)
	if err != nil {
		s.dropped.Add(1)
		return "", fmt.Errorf("failed to create file: %w", err)
	}

	if err := s.encode(file, img); err != nil {
		file.Close()
		os.Remove(path)
		s.dropped.Add(1)
		return "", err
	}
	if err := file.Close(); err != nil {
		s.dropped.Add(1)
		return "", fmt.Errorf("failed to close %s: %w", path, err)
	}

	s.saved.Add(1)
	return path, nil
}

func (s *Saver) encode(w io.Writer, img image.Image) error {
	switch s.format {
	case "jpeg":
		if err := jpeg.Encode(w, img, &jpeg.Options{Quality: s.jpegQuality}); err != nil {
			return fmt.Errorf("JPEG encode failed: %w", err)
		}
	default:
		if err := png.Encode(w, img); err != nil {
			return fmt.Errorf("PNG encode failed: %w", err)
		}
	}
	return nil
}

// Stats returns how many frames were saved and dropped.
func (s *Saver) Stats() (saved, dropped uint64) {
	return s.saved.Load(), s.dropped.Load()
}

// ToRGBA converts a packed RGB frame to an opaque image.RGBA.
func ToRGBA(frame *camrecord.Frame) (*image.RGBA, error) {
	if frame == nil {
		return nil, fmt.Errorf("nil frame")
	}
	expected := frame.Width * frame.Height * 3
	if frame.Width <= 0 || frame.Height <= 0 || len(frame.Data) != expected {
		return nil, fmt.Errorf("invalid RGB data size: got %d, expected %d (%dx%d)",
			len(frame.Data), expected, frame.Width, frame.Height)
	}

	img := image.NewRGBA(image.Rect(0, 0, frame.Width, frame.Height))
	for i := 0; i < frame.Width*frame.Height; i++ {
		img.Pix[i*4+0] = frame.Data[i*3+0]
		img.Pix[i*4+1] = frame.Data[i*3+1]
		img.Pix[i*4+2] = frame.Data[i*3+2]
		img.Pix[i*4+3] = 255
	}
	return img, nil
}
