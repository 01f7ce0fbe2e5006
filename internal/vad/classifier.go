// Package vad decides, frame by frame, whether audio contains speech.
//
// Two algorithms are available: a mean-amplitude energy gate and the WebRTC
// voice activity detector. Both are wrapped by Safe, which enforces the frame
// size and maps any internal failure to silence so a bad frame can never
// latch the segmenter in the speaking state.
package vad

import (
	"errors"
	"fmt"
	log "log/slog"
	"sync/atomic"
)

// ErrFrameSize is returned when a frame does not have the configured length.
var ErrFrameSize = errors.New("vad: unexpected frame size")

type Kind string

const (
	KindEnergy Kind = "energy"
	KindWebRTC Kind = "webrtc"
)

func (k Kind) IsValid() bool {
	return k == KindEnergy || k == KindWebRTC
}

// Detector is a raw speech detector over one PCM16 mono frame.
type Detector interface {
	IsSpeech(frame []byte) (bool, error)
}

type Config struct {
	Kind            Kind
	SampleRate      int
	FrameDurationMs int
	// Aggressiveness is the WebRTC mode, 0 (least) to 3 (most aggressive).
	Aggressiveness int
	// EnergyThreshold is the mean absolute amplitude, in [0, 1], above which
	// a frame counts as speech.
	EnergyThreshold float64
}

func (c Config) frameBytes() int {
	return c.SampleRate * c.FrameDurationMs / 1000 * 2
}

// New builds the detector selected by cfg.Kind and wraps it in Safe.
func New(cfg Config) (*Safe, error) {
	var (
		d   Detector
		err error
	)

	switch cfg.Kind {
	case KindEnergy:
		d, err = NewEnergy(cfg.EnergyThreshold)
	case KindWebRTC:
		d, err = NewWebRTC(cfg.SampleRate, cfg.FrameDurationMs, cfg.Aggressiveness)
	default:
		return nil, fmt.Errorf("vad: unknown kind %q", cfg.Kind)
	}
	if err != nil {
		return nil, err
	}

	return NewSafe(d, cfg.frameBytes()), nil
}

// Safe enforces the frame size contract and turns detector failures into
// silence.
type Safe struct {
	inner      Detector
	frameBytes int
	failures   atomic.Uint64
	onFailure  func(error)
}

func NewSafe(inner Detector, frameBytes int) *Safe {
	return &Safe{inner: inner, frameBytes: frameBytes}
}

// OnFailure registers a hook called for every swallowed detector failure.
func (s *Safe) OnFailure(fn func(error)) {
	s.onFailure = fn
}

// Failures reports how many frames were forced to silence.
func (s *Safe) Failures() uint64 {
	return s.failures.Load()
}

// Classify reports whether frame is speech. Only a wrong frame length is an
// error; everything the detector does wrong reads as silence.
func (s *Safe) Classify(frame []byte) (speech bool, err error) {
	if len(frame) != s.frameBytes {
		return false, fmt.Errorf("%w: got %d bytes, want %d", ErrFrameSize, len(frame), s.frameBytes)
	}

	defer func() {
		if r := recover(); r != nil {
			s.fail(fmt.Errorf("detector panic: %v", r))
			speech, err = false, nil
		}
	}()

	speech, derr := s.inner.IsSpeech(frame)
	if derr != nil {
		s.fail(derr)
		return false, nil
	}

	return speech, nil
}

func (s *Safe) fail(err error) {
	s.failures.Add(1)
	log.Debug("Speech detector failed, treating frame as silence", "err", err)
	if s.onFailure != nil {
		s.onFailure(err)
	}
}
