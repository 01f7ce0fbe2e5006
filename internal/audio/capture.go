package audio

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"
)

// Capture reads the default input device one frame at a time and feeds a
// Queue. It never waits on the consumer.
type Capture struct {
	format Format
	queue  *Queue

	buf     []int16
	stream  *portaudio.Stream
	closed  atomic.Bool
	running atomic.Bool
	done    chan struct{}
}

func NewCapture(format Format, queue *Queue) *Capture {
	return &Capture{
		format: format,
		queue:  queue,
		buf:    make([]int16, format.FrameSamples()),
		done:   make(chan struct{}),
	}
}

// Open initializes portaudio and starts the input stream.
func (c *Capture) Open() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio init: %w", err)
	}

	stream, err := portaudio.OpenDefaultStream(1, 0, float64(c.format.SampleRate), len(c.buf), c.buf)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("open input stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("start input stream: %w", err)
	}

	c.stream = stream
	log.Info("Audio stream opened", "rate", c.format.SampleRate, "frame_ms", c.format.FrameDurationMs)

	return nil
}

// Run pushes frames until ctx is done or the stream fails.
func (c *Capture) Run(ctx context.Context) error {
	stream := c.stream
	if stream == nil {
		return errors.New("capture not opened")
	}
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("capture already running")
	}
	defer close(c.done)
	defer c.queue.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := stream.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				log.Warn("Audio input overflowed")
			} else {
				if ctx.Err() != nil || c.closed.Load() {
					return nil
				}
				return fmt.Errorf("read input stream: %w", err)
			}
		}

		c.queue.Push(Int16ToBytes(c.buf))
	}
}

// Close stops the stream, waits briefly for Run to return and releases
// portaudio. Safe to call twice.
func (c *Capture) Close() error {
	if c.stream == nil || !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	stream := c.stream

	var errs []error
	if err := stream.Stop(); err != nil {
		errs = append(errs, err)
	}

	if c.running.Load() {
		select {
		case <-c.done:
		case <-time.After(time.Second):
			log.Warn("Audio reader did not stop in time")
		}
	}
	if err := stream.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := portaudio.Terminate(); err != nil {
		errs = append(errs, err)
	}

	log.Info("Audio stream closed")

	return errors.Join(errs...)
}
