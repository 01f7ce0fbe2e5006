// Package assistant runs the listen, understand and reply loop.
//
// A single goroutine owns all controller state. It pulls frames, classifies
// them, feeds the segmenter and handles each finalized utterance to
// completion before pulling again, so at most one request is ever in
// flight. Control requests from other goroutines are queued and applied
// between frames.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"airpiece/internal/audio"
	"airpiece/internal/eventlog"
	"airpiece/internal/gps"
	"airpiece/internal/metrics"
	"airpiece/internal/nlu"
	"airpiece/internal/segment"
)

type Classifier interface {
	Classify(frame []byte) (bool, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte) (string, error)
}

type Analyst interface {
	AnalyzeScene(ctx context.Context, text string, image []byte, sceneContext string) (string, error)
	GenerateReport(ctx context.Context, events []eventlog.Event) (string, error)
}

type Speaker interface {
	Speak(ctx context.Context, text string) error
}

type EventLog interface {
	Log(ctx context.Context, ev eventlog.Event) (int64, error)
	Today(ctx context.Context) ([]eventlog.Event, error)
}

type Camera interface {
	Capture(ctx context.Context) ([]byte, error)
}

type Archive interface {
	Save(frame []byte, label string, at time.Time) (string, error)
}

type Positioner interface {
	Latest() (gps.Position, bool)
}

type Chime interface {
	Play(ctx context.Context) error
}

// Deps are the controller's collaborators. Camera, Archive, Position, Chime,
// PrepareFrame and the closers are optional.
type Deps struct {
	Source      audio.Source
	Format      audio.Format
	Classifier  Classifier
	Segmenter   *segment.Segmenter
	Transcriber Transcriber
	Analyst     Analyst
	Speaker     Speaker
	Events      EventLog

	Camera   Camera
	Archive  Archive
	Position Positioner
	Chime    Chime
	// PrepareFrame shrinks a captured frame before upload.
	PrepareFrame func([]byte) ([]byte, error)

	// Released in this order at shutdown.
	AudioCloser    io.Closer
	CameraCloser   io.Closer
	PositionCloser io.Closer

	Metrics *metrics.Metrics
	Now     func() time.Time
}

type Options struct {
	CameraEnabled   bool
	FarewellTimeout time.Duration
}

type Phase int

const (
	Initializing Phase = iota
	Active
	Sleeping
	ShuttingDown
)

func (p Phase) String() string {
	switch p {
	case Initializing:
		return "initializing"
	case Active:
		return "active"
	case Sleeping:
		return "sleeping"
	case ShuttingDown:
		return "shutting down"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Mode holds the two independent operating flags.
type Mode struct {
	Listening     bool
	CameraEnabled bool
}

type State struct {
	Phase        Phase
	Mode         Mode
	Running      bool
	LastPosition *gps.Position
}

type request struct {
	action nlu.Action
	reply  chan reply
}

type reply struct {
	text string
	err  error
}

type Controller struct {
	deps Deps
	opt  Options
	log  *slog.Logger

	phase   Phase
	mode    Mode
	running bool
	lastPos *gps.Position

	lastSeq   uint64
	seenFrame bool

	requests chan request
	done     chan struct{}
}

func New(deps Deps, opt Options) (*Controller, error) {
	var missing []error
	for name, ok := range map[string]bool{
		"Source":      deps.Source != nil,
		"Classifier":  deps.Classifier != nil,
		"Segmenter":   deps.Segmenter != nil,
		"Transcriber": deps.Transcriber != nil,
		"Analyst":     deps.Analyst != nil,
		"Speaker":     deps.Speaker != nil,
		"Events":      deps.Events != nil,
	} {
		if !ok {
			missing = append(missing, fmt.Errorf("assistant: missing %s", name))
		}
	}
	if deps.Format.FrameDurationMs <= 0 || deps.Format.SampleRate <= 0 {
		missing = append(missing, errors.New("assistant: audio format not set"))
	}
	if err := errors.Join(missing...); err != nil {
		return nil, err
	}

	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if opt.FarewellTimeout <= 0 {
		opt.FarewellTimeout = 5 * time.Second
	}

	return &Controller{
		deps:     deps,
		opt:      opt,
		log:      slog.With("component", "assistant"),
		phase:    Initializing,
		mode:     Mode{Listening: true, CameraEnabled: opt.CameraEnabled},
		requests: make(chan request, 8),
		done:     make(chan struct{}),
	}, nil
}

// State is only consistent before Run starts or after it returned.
func (c *Controller) State() State {
	return State{Phase: c.phase, Mode: c.mode, Running: c.running, LastPosition: c.lastPos}
}

// Run drives the loop until a stop command, the end of the audio source or
// ctx cancellation, then shuts the collaborators down. It returns nil for
// every ordinary way of stopping.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.done)

	c.running = true
	c.setPhase(Active)
	c.log.Info("Assistant running", "camera", c.mode.CameraEnabled)
	c.report(c.chime(ctx))
	c.report(c.say(ctx, phraseReady))

	frameTimeout := c.deps.Format.FrameDuration()
	for c.running {
		c.refreshPosition()
		c.serveRequests(ctx)
		if !c.running {
			break
		}

		frame, err := c.deps.Source.Pull(ctx, frameTimeout)
		switch {
		case err == nil:
		case errors.Is(err, audio.ErrEmpty):
			continue
		case errors.Is(err, audio.ErrClosed):
			c.log.Info("Audio source finished")
			c.running = false
			continue
		case ctx.Err() != nil:
			c.log.Info("Stop requested", "cause", context.Cause(ctx))
			c.running = false
			continue
		default:
			c.report(stageErr(StagePull, err))
			continue
		}

		c.report(c.cycle(ctx, frame))
	}

	c.shutdown(ctx)
	return nil
}

// cycle classifies one frame and acts on whatever the segmenter emits.
func (c *Controller) cycle(ctx context.Context, frame audio.Frame) error {
	c.trackSequence(frame.Seq)

	speech, err := c.deps.Classifier.Classify(frame.Data)
	if err != nil {
		return stageErr(StageClassify, err)
	}

	ev := c.deps.Segmenter.Push(frame.Data, speech)
	switch ev.Kind {
	case segment.Emitted:
		c.deps.Metrics.Utterances.WithLabelValues("emitted").Inc()
		return c.handleUtterance(ctx, ev.Utterance)
	case segment.Discarded:
		c.deps.Metrics.Utterances.WithLabelValues("discarded").Inc()
		c.log.Debug("Discarded short speech", "frames", ev.Frames)
	case segment.IdleTimeout:
		c.deps.Metrics.IdleTimeouts.Inc()
		c.housekeeping()
	}
	return nil
}

func (c *Controller) housekeeping() {
	c.refreshPosition()
	c.log.Debug("Idle", "phase", c.phase, "gps", c.lastPos != nil)
}

func (c *Controller) trackSequence(seq uint64) {
	if c.seenFrame && seq > c.lastSeq+1 {
		gap := seq - c.lastSeq - 1
		c.deps.Metrics.SequenceGaps.Add(float64(gap))
		c.log.Debug("Frame sequence gap", "missing", gap, "at", seq)
	}
	c.lastSeq, c.seenFrame = seq, true
}

func (c *Controller) refreshPosition() {
	if c.deps.Position == nil {
		return
	}
	if pos, ok := c.deps.Position.Latest(); ok {
		c.lastPos = &pos
	}
}

// Submit queues a control action and waits for the spoken reply.
func (c *Controller) Submit(ctx context.Context, action nlu.Action) (string, error) {
	req := request{action: action, reply: make(chan reply, 1)}

	select {
	case c.requests <- req:
	case <-c.done:
		return "", ErrStopped
	case <-ctx.Done():
		return "", ctx.Err()
	}

	select {
	case r := <-req.reply:
		return r.text, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-c.done:
		select {
		case r := <-req.reply:
			return r.text, r.err
		default:
			return "", ErrStopped
		}
	}
}

func (c *Controller) serveRequests(ctx context.Context) {
	for {
		select {
		case req := <-c.requests:
			req.reply <- c.applyRequest(ctx, req.action)
		default:
			return
		}
	}
}

func (c *Controller) applyRequest(ctx context.Context, action nlu.Action) reply {
	gated := !c.mode.Listening &&
		action != nlu.ActionWake && action != nlu.ActionStop && action != nlu.ActionShutdown
	if gated {
		return reply{err: ErrSleeping}
	}

	c.log.Info("Control request", "action", action)
	c.deps.Metrics.Commands.WithLabelValues(action.String(), "control").Inc()

	text, err := c.dispatch(ctx, action, "")
	c.report(err)
	return reply{text: text}
}

func (c *Controller) setPhase(p Phase) {
	c.phase = p
	c.publishMode()
}

func (c *Controller) publishMode() {
	c.deps.Metrics.SetMode(c.mode.Listening, c.mode.CameraEnabled)
}

// report is the single place cycle errors end up: logged and counted, never
// fatal.
func (c *Controller) report(err error) {
	for _, se := range stageErrors(err, StagePull) {
		c.deps.Metrics.StageErrors.WithLabelValues(string(se.Stage)).Inc()
		if se.Stage == StageTranscribe {
			c.log.Debug("Transcription failed, dropping utterance", "err", se.Err)
			continue
		}
		c.log.Error("Stage failed", "stage", se.Stage, "err", se.Err)
	}
}

func (c *Controller) shutdown(ctx context.Context) {
	c.setPhase(ShuttingDown)
	c.log.Info("Shutting down")

	for _, closer := range []struct {
		name string
		c    io.Closer
	}{
		{"audio", c.deps.AudioCloser},
		{"camera", c.deps.CameraCloser},
		{"position", c.deps.PositionCloser},
	} {
		if closer.c == nil {
			continue
		}
		if err := closer.c.Close(); err != nil {
			c.report(stageErr(StageShutdown, fmt.Errorf("close %s: %w", closer.name, err)))
		}
	}

	farewellCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opt.FarewellTimeout)
	defer cancel()
	c.report(c.say(farewellCtx, phraseFarewell))

	c.log.Info("Shutdown complete")
}
