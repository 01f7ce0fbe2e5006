package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	log "log/slog"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/spf13/afero"

	"airpiece/internal/assistant"
	"airpiece/internal/audio"
	"airpiece/internal/camera"
	"airpiece/internal/config"
	"airpiece/internal/gps"
	"airpiece/internal/notify"
	"airpiece/internal/proxy"
	"airpiece/internal/tts"
	"airpiece/internal/tts/espeak"
	"airpiece/internal/vision"
	"airpiece/pkg/stt"
)

type audioSource interface {
	Run(ctx context.Context) error
	Close() error
}

type transcriber interface {
	assistant.Transcriber
	Close() error
}

func openAudio(cfg config.Audio, format audio.Format, queue *audio.Queue) (audioSource, error) {
	if cfg.Input != "" {
		return audio.NewFileSource(format, queue, cfg.Input, cfg.Realtime), nil
	}

	capture := audio.NewCapture(format, queue)
	if err := capture.Open(); err != nil {
		return nil, fmt.Errorf("audio: %w", err)
	}
	return capture, nil
}

func openTranscriber(cfg config.STT) (transcriber, error) {
	switch cfg.Provider {
	case "whisper":
		return stt.NewWhisper(cfg.WhisperModel, stt.WhisperOptions{Language: cfg.Language})
	default:
		key := os.Getenv("DEEPGRAM_API_KEY")
		if key == "" {
			return nil, errors.New("DEEPGRAM_API_KEY not set")
		}
		return stt.NewDeepgram(stt.DeepgramOptions{APIKey: key, Model: cfg.Model, Language: cfg.Language})
	}
}

func openAnalyst(cfg config.Vision) (*vision.Analyst, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY not set")
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.Proxy != "" {
		httpClient, err := proxy.NewSocksClient(cfg.Proxy, 0)
		if err != nil {
			return nil, fmt.Errorf("socks proxy %s: %w", cfg.Proxy, err)
		}
		opts = append(opts, option.WithHTTPClient(httpClient))
	}

	client := openai.NewClient(opts...)
	return vision.New(client, vision.Options{Model: cfg.Model, MaxTokens: cfg.MaxTokens}), nil
}

// openSpeech prefers piper and keeps espeak as the fallback voice.
func openSpeech(cfg config.TTS, sampleRate int) (assistant.Speaker, *notify.Chime) {
	player := notify.NewPlayer(sampleRate)
	voice := espeak.New(cfg.Voice, 0)

	var speaker tts.Speaker = voice
	if cfg.Engine == "piper" {
		piper := tts.NewPiper(cfg.PiperModel, cfg.Speed, player)
		if piper.Available() {
			speaker = tts.Fallback{piper, voice}
		} else {
			log.Warn("piper not found, using espeak")
		}
	}

	if cfg.Duck {
		speaker = tts.Ducked{
			Speaker: speaker,
			Ducker:  audio.NewDucker([]string{"airpiece", "piper", "espeak"}, 0.3, 10, 300*time.Millisecond),
		}
	}

	var chime *notify.Chime
	if cfg.Chime != "" {
		chime = notify.NewChime(player, cfg.Chime)
	}
	return speaker, chime
}

// openCamera fills the camera fields of deps. It returns nil when the
// backend is "none".
func openCamera(cfg config.Camera, deps *assistant.Deps) (io.Closer, error) {
	var cam camera.Camera

	switch cfg.Backend {
	case "none":
		log.Info("Camera disabled, running without vision frames")
		return nil, nil
	case "placeholder":
		p, err := camera.NewPlaceholder()
		if err != nil {
			return nil, err
		}
		cam = p
	default:
		s, err := camera.OpenStill(camera.StillOptions{
			Command: cfg.Command,
			Width:   cfg.Width,
			Height:  cfg.Height,
			Quality: cfg.JPEGQuality,
		})
		if err != nil {
			return nil, fmt.Errorf("camera: %w", err)
		}
		cam = s
	}

	archive, err := camera.NewArchive(afero.NewOsFs(), cfg.CapturesDir)
	if err != nil {
		cam.Close()
		return nil, err
	}

	deps.Camera = cam
	deps.CameraCloser = cam
	deps.Archive = archive
	deps.PrepareFrame = func(frame []byte) ([]byte, error) {
		return camera.Prepare(frame, cfg.MaxWidth, cfg.JPEGQuality)
	}

	log.Debug("Loaded camera", "backend", cfg.Backend, "captures", cfg.CapturesDir)
	return cam, nil
}

func openGPS(cfg config.GPS, deps *assistant.Deps) (*gps.Poller, error) {
	poller, err := gps.Open(cfg.Port, cfg.Baud)
	if err != nil {
		return nil, err
	}
	deps.Position = poller
	deps.PositionCloser = poller
	return poller, nil
}

func closeQuietly(c io.Closer) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		log.Debug("Close failed", "err", err)
	}
}
