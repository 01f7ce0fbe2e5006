// Package segment turns a stream of classified frames into utterances.
//
// The Segmenter is a two-state hysteresis machine. While Idle it waits for
// the first speech frame; while Accumulating it keeps every frame, trailing
// silence included, until the silence run reaches the timeout. At that point
// the buffer is finalized: emitted when it holds enough speech, discarded
// otherwise. Either way the machine returns to Idle with an empty buffer.
package segment

import (
	"errors"
	"fmt"
)

type State int

const (
	Idle State = iota
	Accumulating
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Accumulating:
		return "accumulating"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type EventKind int

const (
	// None means the frame was absorbed without a boundary.
	None EventKind = iota
	// Emitted carries a finalized utterance.
	Emitted
	// Discarded means a candidate ended with too little speech.
	Discarded
	// IdleTimeout fires after a long silence with nothing buffered.
	IdleTimeout
)

type Event struct {
	Kind      EventKind
	Utterance *Utterance
	// Frames is the size of a discarded candidate.
	Frames int
}

// Utterance is a finalized speech segment in capture order.
type Utterance struct {
	Frames           [][]byte
	SpeechFrameCount int
	FrameDurationMs  int
}

func (u *Utterance) FrameCount() int {
	return len(u.Frames)
}

func (u *Utterance) DurationMs() int {
	return len(u.Frames) * u.FrameDurationMs
}

func (u *Utterance) SpeechMs() int {
	return u.SpeechFrameCount * u.FrameDurationMs
}

// PCM concatenates the frames.
func (u *Utterance) PCM() []byte {
	n := 0
	for _, f := range u.Frames {
		n += len(f)
	}
	out := make([]byte, 0, n)
	for _, f := range u.Frames {
		out = append(out, f...)
	}
	return out
}

type Config struct {
	FrameDurationMs     int
	SilenceTimeoutMs    int
	MinSpeechDurationMs int
	// AbandonMultiplier scales SilenceTimeoutMs into the idle-timeout period.
	AbandonMultiplier int
}

const DefaultAbandonMultiplier = 3

func (c Config) Validate() error {
	var errs []error
	if c.FrameDurationMs <= 0 {
		errs = append(errs, fmt.Errorf("frame duration %d ms must be positive", c.FrameDurationMs))
	}
	if c.SilenceTimeoutMs < c.FrameDurationMs {
		errs = append(errs, fmt.Errorf("silence timeout %d ms shorter than one frame", c.SilenceTimeoutMs))
	}
	if c.MinSpeechDurationMs < 0 {
		errs = append(errs, fmt.Errorf("min speech duration %d ms is negative", c.MinSpeechDurationMs))
	}
	if c.AbandonMultiplier < 0 {
		errs = append(errs, fmt.Errorf("abandon multiplier %d is negative", c.AbandonMultiplier))
	}
	return errors.Join(errs...)
}

// Segmenter is not safe for concurrent use; one consumer drives it.
type Segmenter struct {
	cfg   Config
	state State

	frames      [][]byte
	speechMs    int
	speechCount int
	silenceMs   int
	idleMs      int
}

func New(cfg Config) (*Segmenter, error) {
	if cfg.AbandonMultiplier == 0 {
		cfg.AbandonMultiplier = DefaultAbandonMultiplier
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("segment: %w", err)
	}
	return &Segmenter{cfg: cfg}, nil
}

func (s *Segmenter) State() State {
	return s.state
}

// Buffered is the number of frames held for the current candidate.
func (s *Segmenter) Buffered() int {
	return len(s.frames)
}

// Push feeds one classified frame. The segmenter takes ownership of frame.
func (s *Segmenter) Push(frame []byte, speech bool) Event {
	if s.state == Idle {
		return s.idle(frame, speech)
	}
	return s.accumulate(frame, speech)
}

func (s *Segmenter) idle(frame []byte, speech bool) Event {
	if speech {
		s.state = Accumulating
		s.frames = [][]byte{frame}
		s.speechCount = 1
		s.speechMs = s.cfg.FrameDurationMs
		s.silenceMs = 0
		s.idleMs = 0
		return Event{}
	}

	s.idleMs += s.cfg.FrameDurationMs
	if s.idleMs > s.cfg.AbandonMultiplier*s.cfg.SilenceTimeoutMs {
		s.idleMs = 0
		return Event{Kind: IdleTimeout}
	}

	return Event{}
}

func (s *Segmenter) accumulate(frame []byte, speech bool) Event {
	s.frames = append(s.frames, frame)

	if speech {
		s.silenceMs = 0
		s.speechCount++
		s.speechMs += s.cfg.FrameDurationMs
		return Event{}
	}

	s.silenceMs += s.cfg.FrameDurationMs
	if s.silenceMs < s.cfg.SilenceTimeoutMs {
		return Event{}
	}

	return s.finalize()
}

func (s *Segmenter) finalize() Event {
	var ev Event
	if s.speechMs >= s.cfg.MinSpeechDurationMs {
		ev = Event{
			Kind: Emitted,
			Utterance: &Utterance{
				Frames:           s.frames,
				SpeechFrameCount: s.speechCount,
				FrameDurationMs:  s.cfg.FrameDurationMs,
			},
		}
	} else {
		ev = Event{Kind: Discarded, Frames: len(s.frames)}
	}

	s.Reset()
	return ev
}

// Reset drops any buffered candidate and returns to Idle.
func (s *Segmenter) Reset() {
	s.state = Idle
	s.frames = nil
	s.speechMs = 0
	s.speechCount = 0
	s.silenceMs = 0
	s.idleMs = 0
}
