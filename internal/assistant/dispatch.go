package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"airpiece/internal/audio"
	"airpiece/internal/eventlog"
	"airpiece/internal/nlu"
	"airpiece/internal/segment"
)

const (
	phraseReady       = "Airpiece ready."
	phraseFarewell    = "Airpiece shutting down."
	phraseSleep       = "Going to sleep. Say wake to resume."
	phraseWake        = "I'm listening."
	phraseMute        = "Camera off."
	phraseUnmute      = "Camera on."
	phraseReporting   = "Generating report."
	phraseNoEvents    = "No events logged today."
	phraseReportSaved = "Full report has been saved."
	phraseReportLost  = "The report could not be saved."
	phraseNoLog       = "I couldn't read today's events."
	phraseApology     = "Sorry, I couldn't process that."
	phraseNoFix       = "No GPS fix"

	noteCameraOff    = "The camera is off, so vision is unavailable. Answer from the transcript alone."
	noteCameraFailed = "The camera failed to capture a frame, so vision is unavailable for this request."

	labelMaxLen = 30
)

func (c *Controller) handleUtterance(ctx context.Context, u *segment.Utterance) error {
	started := time.Now()
	defer func() { c.deps.Metrics.HandleSeconds.Observe(time.Since(started).Seconds()) }()

	wav, err := audio.EncodeWAV(u.PCM(), c.deps.Format.SampleRate)
	if err != nil {
		return stageErr(StageEncode, err)
	}

	text, err := c.deps.Transcriber.Transcribe(ctx, wav)
	if err != nil {
		c.deps.Metrics.Utterances.WithLabelValues("dropped").Inc()
		return stageErr(StageTranscribe, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		c.deps.Metrics.Utterances.WithLabelValues("dropped").Inc()
		c.log.Debug("Empty transcript, ignoring", "ms", u.DurationMs())
		return nil
	}

	action := nlu.Interpret(text)
	if !c.mode.Listening && action != nlu.ActionWake {
		c.deps.Metrics.Utterances.WithLabelValues("gated").Inc()
		return nil
	}

	c.log.Info("Heard", "text", text, "action", action)
	c.deps.Metrics.Commands.WithLabelValues(action.String(), "voice").Inc()

	_, err = c.dispatch(ctx, action, text)
	return err
}

// dispatch applies one action and returns what was said.
func (c *Controller) dispatch(ctx context.Context, action nlu.Action, transcript string) (string, error) {
	switch action {
	case nlu.ActionStop, nlu.ActionShutdown:
		// The farewell is spoken once, by shutdown.
		c.running = false
		return phraseFarewell, nil

	case nlu.ActionSleep:
		c.mode.Listening = false
		c.setPhase(Sleeping)
		return c.reply(ctx, phraseSleep)

	case nlu.ActionWake:
		c.mode.Listening = true
		c.setPhase(Active)
		chimeErr := c.chime(ctx)
		text, err := c.reply(ctx, phraseWake)
		return text, errors.Join(chimeErr, err)

	case nlu.ActionMute:
		c.mode.CameraEnabled = false
		c.publishMode()
		return c.reply(ctx, phraseMute)

	case nlu.ActionUnmute:
		c.mode.CameraEnabled = true
		c.publishMode()
		return c.reply(ctx, phraseUnmute)

	case nlu.ActionGenerateReport:
		return c.generateReport(ctx)

	case nlu.ActionStatus:
		return c.status(ctx)

	default:
		return c.observe(ctx, transcript)
	}
}

func (c *Controller) generateReport(ctx context.Context) (string, error) {
	var errs []error
	said := []string{phraseReporting}
	errs = append(errs, c.say(ctx, phraseReporting))

	events, err := c.deps.Events.Today(ctx)
	if err != nil {
		errs = append(errs, stageErr(StagePersist, err), c.say(ctx, phraseNoLog))
		return strings.Join(append(said, phraseNoLog), " "), errors.Join(errs...)
	}
	if len(events) == 0 {
		errs = append(errs, c.say(ctx, phraseNoEvents))
		return strings.Join(append(said, phraseNoEvents), " "), errors.Join(errs...)
	}

	report, err := c.deps.Analyst.GenerateReport(ctx, events)
	if err != nil {
		errs = append(errs, stageErr(StageReport, err), c.say(ctx, phraseApology))
		return strings.Join(append(said, phraseApology), " "), errors.Join(errs...)
	}

	closing := phraseReportSaved
	if _, err := c.deps.Events.Log(ctx, eventlog.Event{Type: eventlog.TypeReport, Response: report}); err != nil {
		errs = append(errs, stageErr(StagePersist, err))
		closing = phraseReportLost
	}

	summary := FirstParagraph(report)
	errs = append(errs, c.say(ctx, summary), c.say(ctx, closing))
	return strings.Join(append(said, summary, closing), " "), errors.Join(errs...)
}

func (c *Controller) status(ctx context.Context) (string, error) {
	var logErr error
	count := "Event log unavailable."

	events, err := c.deps.Events.Today(ctx)
	if err != nil {
		logErr = stageErr(StagePersist, err)
	} else {
		count = fmt.Sprintf("%d events logged today.", len(events))
	}

	text := fmt.Sprintf("Airpiece active. %s %s.", count, gpsPhrase(c.lastPos))
	spoken, err := c.reply(ctx, text)
	return spoken, errors.Join(logErr, err)
}

// observe sends the request to the vision model, with a frame when the
// camera is on, and logs the exchange.
func (c *Controller) observe(ctx context.Context, transcript string) (string, error) {
	var (
		errs      []error
		image     []byte
		imagePath string
		note      string
		now       = c.deps.Now()
		meta      = map[string]string{}
	)

	switch {
	case !c.mode.CameraEnabled || c.deps.Camera == nil:
		note = noteCameraOff
		meta["camera"] = "off"
	default:
		frame, err := c.deps.Camera.Capture(ctx)
		if err != nil {
			errs = append(errs, stageErr(StageCapture, err))
			note = noteCameraFailed
			meta["camera"] = "failed"
			break
		}

		if c.deps.Archive != nil {
			path, err := c.deps.Archive.Save(frame, captureLabel(transcript), now)
			if err != nil {
				errs = append(errs, stageErr(StageArchive, err))
			}
			imagePath = path
		}

		image = frame
		if c.deps.PrepareFrame != nil {
			if small, err := c.deps.PrepareFrame(frame); err == nil {
				image = small
			} else {
				c.log.Warn("Failed to shrink frame, sending original", "err", err)
			}
		}
	}

	response, err := c.deps.Analyst.AnalyzeScene(ctx, transcript, image, sceneContext(now, c.lastPos, note))
	if err != nil {
		errs = append(errs, stageErr(StageAnalyze, err))
		meta["error"] = err.Error()
		response = phraseApology
	}

	ev := eventlog.Event{
		Type:       eventlog.TypeObservation,
		Transcript: transcript,
		Response:   response,
		ImagePath:  imagePath,
		Metadata:   meta,
	}
	if c.lastPos != nil {
		ev.Lat, ev.Lon = &c.lastPos.Lat, &c.lastPos.Lon
	}
	if _, err := c.deps.Events.Log(ctx, ev); err != nil {
		errs = append(errs, stageErr(StagePersist, err))
	}

	errs = append(errs, c.say(ctx, response))
	return response, errors.Join(errs...)
}

func (c *Controller) reply(ctx context.Context, text string) (string, error) {
	return text, c.say(ctx, text)
}

func (c *Controller) say(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	return stageErr(StageSpeak, c.deps.Speaker.Speak(ctx, text))
}

func (c *Controller) chime(ctx context.Context) error {
	if c.deps.Chime == nil {
		return nil
	}
	return stageErr(StageSpeak, c.deps.Chime.Play(ctx))
}
