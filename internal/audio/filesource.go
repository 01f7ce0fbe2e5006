package audio

import (
	"context"
	"fmt"
	log "log/slog"
	"time"

	"airpiece/pkg/audioconv"
)

// FileSource replays a recorded file through the same queue the microphone
// uses. Useful for bench runs without capture hardware.
type FileSource struct {
	format   Format
	queue    *Queue
	path     string
	realtime bool
}

func NewFileSource(format Format, queue *Queue, path string, realtime bool) *FileSource {
	return &FileSource{format: format, queue: queue, path: path, realtime: realtime}
}

// Run decodes the file and pushes whole frames; a trailing partial frame is
// zero-padded. Frames are never evicted: when the consumer falls behind Run
// waits for it. The queue is closed when the file is exhausted.
func (s *FileSource) Run(ctx context.Context) error {
	defer s.queue.Close()

	pcm, err := audioconv.ConvertFile(ctx, s.path, audioconv.Options{SampleRate: s.format.SampleRate})
	if err != nil {
		return fmt.Errorf("decode %s: %w", s.path, err)
	}

	frames := Frames(audioconv.Float32ToInt16(pcm), s.format)
	log.Info("Replaying audio file", "path", s.path, "frames", len(frames))

	var tick <-chan time.Time
	if s.realtime {
		t := time.NewTicker(s.format.FrameDuration())
		defer t.Stop()
		tick = t.C
	}

	for _, f := range frames {
		if tick != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-tick:
			}
		} else if ctx.Err() != nil {
			return nil
		}

		if _, err := s.queue.PushWait(ctx, f); err != nil {
			return nil
		}
	}

	return nil
}

// Close is a no-op; the file is fully read by Run.
func (s *FileSource) Close() error {
	return nil
}

// Frames slices samples into frame-sized PCM16 buffers.
func Frames(samples []int16, format Format) [][]byte {
	n := format.FrameSamples()
	if n <= 0 {
		return nil
	}

	out := make([][]byte, 0, (len(samples)+n-1)/n)
	for start := 0; start < len(samples); start += n {
		chunk := make([]int16, n)
		copy(chunk, samples[start:min(start+n, len(samples))])
		out = append(out, Int16ToBytes(chunk))
	}

	return out
}
