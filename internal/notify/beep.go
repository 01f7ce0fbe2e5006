// Package notify plays audio to the wearer's earpiece: synthesized speech
// and short earcons.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
	"github.com/faiface/beep/wav"
)

// Player owns the speaker. The device is opened once at a fixed rate and
// every clip is resampled to it.
type Player struct {
	rate beep.SampleRate

	once    sync.Once
	initErr error
	mu      sync.Mutex
}

func NewPlayer(sampleRate int) *Player {
	return &Player{rate: beep.SampleRate(sampleRate)}
}

func (p *Player) init() error {
	p.once.Do(func() {
		p.initErr = speaker.Init(p.rate, p.rate.N(time.Second/10))
	})
	return p.initErr
}

// PlayWAV blocks until the clip finished or ctx is done.
func (p *Player) PlayWAV(ctx context.Context, data []byte) error {
	s, format, err := wav.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("notify: decode wav: %w", err)
	}
	defer s.Close()

	return p.play(ctx, s, format)
}

// PlayMP3 blocks until the clip finished or ctx is done.
func (p *Player) PlayMP3(ctx context.Context, rc io.ReadCloser) error {
	s, format, err := mp3.Decode(rc)
	if err != nil {
		return fmt.Errorf("notify: decode mp3: %w", err)
	}
	defer s.Close()

	return p.play(ctx, s, format)
}

func (p *Player) play(ctx context.Context, s beep.Streamer, format beep.Format) error {
	if err := p.init(); err != nil {
		return fmt.Errorf("notify: init speaker: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if format.SampleRate != p.rate {
		s = beep.Resample(4, format.SampleRate, p.rate, s)
	}

	done := make(chan struct{})
	speaker.Play(beep.Seq(s, beep.Callback(func() {
		close(done)
	})))

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		speaker.Clear()
		return ctx.Err()
	}
}

// Chime plays a short mp3 earcon, e.g. when the assistant wakes.
type Chime struct {
	player *Player
	path   string
}

func NewChime(player *Player, path string) *Chime {
	return &Chime{player: player, path: path}
}

// Play is a no-op when no earcon is configured.
func (c *Chime) Play(ctx context.Context) error {
	if c == nil || c.path == "" {
		return nil
	}

	f, err := os.Open(c.path)
	if err != nil {
		return fmt.Errorf("notify: open chime: %w", err)
	}
	return c.player.PlayMP3(ctx, f)
}
