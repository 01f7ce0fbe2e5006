package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"time"
)

var (
	// ErrEmpty is returned by Source.Pull when no frame arrived before the timeout.
	ErrEmpty = errors.New("audio: no frame available")
	// ErrClosed is returned once a source is closed and fully drained.
	ErrClosed = errors.New("audio: source closed")
)

// Format describes the fixed frame layout: PCM16 little-endian mono.
type Format struct {
	SampleRate      int
	FrameDurationMs int
}

func (f Format) FrameSamples() int {
	return f.SampleRate * f.FrameDurationMs / 1000
}

// FrameBytes is the exact byte length of one frame.
func (f Format) FrameBytes() int {
	return f.FrameSamples() * 2
}

func (f Format) FrameDuration() time.Duration {
	return time.Duration(f.FrameDurationMs) * time.Millisecond
}

// FramesFor returns how many frames cover d, at least one.
func (f Format) FramesFor(d time.Duration) int {
	n := int(d / f.FrameDuration())
	if n < 1 {
		n = 1
	}
	return n
}

// Frame is one captured block of audio. Data must not be modified after the
// frame has been pushed.
type Frame struct {
	Seq        uint64
	Data       []byte
	CapturedAt time.Time
}

// Source yields frames in capture order.
type Source interface {
	Pull(ctx context.Context, timeout time.Duration) (Frame, error)
}

// Int16ToBytes encodes samples as PCM16 little-endian.
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// BytesToInt16 decodes PCM16 little-endian. A trailing odd byte is ignored.
func BytesToInt16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}
