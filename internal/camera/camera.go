// Package camera grabs still frames for scene analysis.
package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	log "log/slog"
	"os/exec"
	"strconv"

	"golang.org/x/image/draw"
)

// Camera captures one JPEG frame per call.
type Camera interface {
	Capture(ctx context.Context) ([]byte, error)
	Close() error
}

// Runner executes a capture command and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", name, err, bytes.TrimSpace(stderr.Bytes()))
	}
	return out, nil
}

type StillOptions struct {
	Command string
	Width   int
	Height  int
	Quality int
}

// Still shells out to rpicam-still for every frame. The sensor is only
// powered while a capture runs.
type Still struct {
	opt StillOptions
	run Runner
}

// OpenStill checks that the capture command exists.
func OpenStill(opt StillOptions) (*Still, error) {
	if opt.Command == "" {
		opt.Command = "rpicam-still"
	}
	if _, err := exec.LookPath(opt.Command); err != nil {
		return nil, fmt.Errorf("camera: %w", err)
	}

	log.Info("Camera ready", "command", opt.Command, "width", opt.Width, "height", opt.Height)
	return &Still{opt: opt, run: execRunner}, nil
}

func (s *Still) WithRunner(r Runner) *Still {
	s.run = r
	return s
}

func (s *Still) args() []string {
	return []string{
		"--nopreview",
		"--immediate",
		"--encoding", "jpg",
		"--width", strconv.Itoa(s.opt.Width),
		"--height", strconv.Itoa(s.opt.Height),
		"--quality", strconv.Itoa(s.opt.Quality),
		"--output", "-",
	}
}

func (s *Still) Capture(ctx context.Context) ([]byte, error) {
	out, err := s.run(ctx, s.opt.Command, s.args()...)
	if err != nil {
		return nil, fmt.Errorf("camera: capture: %w", err)
	}
	if len(out) < 2 || out[0] != 0xFF || out[1] != 0xD8 {
		return nil, fmt.Errorf("camera: capture returned %d bytes that are not a JPEG", len(out))
	}
	return out, nil
}

func (s *Still) Close() error {
	log.Info("Camera stopped")
	return nil
}

// Placeholder stands in for the sensor on development machines.
type Placeholder struct {
	frame []byte
}

const (
	PlaceholderWidth  = 320
	PlaceholderHeight = 240
)

func NewPlaceholder() (*Placeholder, error) {
	img := image.NewRGBA(image.Rect(0, 0, PlaceholderWidth, PlaceholderHeight))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.RGBA{R: 100, G: 150, B: 100, A: 255}}, image.Point{}, draw.Src)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("camera: encode placeholder: %w", err)
	}

	log.Info("Placeholder camera started")
	return &Placeholder{frame: buf.Bytes()}, nil
}

func (p *Placeholder) Capture(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return bytes.Clone(p.frame), nil
}

func (p *Placeholder) Close() error { return nil }
