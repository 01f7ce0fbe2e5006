// Package tts speaks assistant replies.
package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"os/exec"
	"strconv"
)

type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// WAVPlayer plays a complete WAV clip.
type WAVPlayer interface {
	PlayWAV(ctx context.Context, data []byte) error
}

// Runner executes a synthesis command with stdin and returns its stdout.
type Runner func(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = bytes.NewReader(stdin)
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", name, err, bytes.TrimSpace(stderr.Bytes()))
	}
	return out, nil
}

// Piper synthesizes with the piper CLI and plays the WAV it writes to stdout.
type Piper struct {
	model  string
	speed  float64
	player WAVPlayer
	run    Runner
}

func NewPiper(model string, speed float64, player WAVPlayer) *Piper {
	if speed <= 0 {
		speed = 1
	}
	return &Piper{model: model, speed: speed, player: player, run: execRunner}
}

func (p *Piper) WithRunner(r Runner) *Piper {
	p.run = r
	return p
}

// Available reports whether the piper binary is on PATH.
func (p *Piper) Available() bool {
	_, err := exec.LookPath("piper")
	return err == nil
}

func (p *Piper) Speak(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}

	wav, err := p.run(ctx, []byte(text), "piper",
		"--model", p.model,
		"--length-scale", strconv.FormatFloat(1/p.speed, 'f', 3, 64),
		"--output_file", "-",
	)
	if err != nil {
		return fmt.Errorf("tts: piper: %w", err)
	}
	if len(wav) == 0 {
		return errors.New("tts: piper produced no audio")
	}

	if err := p.player.PlayWAV(ctx, wav); err != nil {
		return fmt.Errorf("tts: play: %w", err)
	}
	return nil
}

// Fallback tries each speaker in turn until one succeeds.
type Fallback []Speaker

func (f Fallback) Speak(ctx context.Context, text string) error {
	var errs []error
	for i, s := range f {
		err := s.Speak(ctx, text)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		log.Warn("Speaker failed, trying next", "index", i, "err", err)
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return errors.New("tts: no speakers configured")
	}
	return errors.Join(errs...)
}

// Ducker lowers other audio while speech plays.
type Ducker interface {
	Duck(ctx context.Context) error
	Restore(ctx context.Context) error
}

// Ducked wraps a speaker so other streams are lowered for its duration.
type Ducked struct {
	Speaker Speaker
	Ducker  Ducker
}

func (d Ducked) Speak(ctx context.Context, text string) error {
	if err := d.Ducker.Duck(ctx); err != nil {
		log.Warn("Failed to duck audio", "err", err)
	}
	defer func() {
		if err := d.Ducker.Restore(context.WithoutCancel(ctx)); err != nil {
			log.Warn("Failed to restore audio", "err", err)
		}
	}()

	return d.Speaker.Speak(ctx, text)
}
