package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	cli "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/lmittmann/tint"
	log "log/slog"

	"airpiece/internal/assistant"
	"airpiece/internal/audio"
	"airpiece/internal/config"
	"airpiece/internal/eventlog"
	"airpiece/internal/ipc"
	"airpiece/internal/metrics"
	"airpiece/internal/nlu"
	"airpiece/internal/segment"
	"airpiece/internal/vad"
)

var logLevelMap = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

func main() {
	configPath := cli.StringP("config", "c", "airpiece.yaml", "Config file path")
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	proxyAddr := cli.StringP("proxy", "p", "", "Socks proxy address for API traffic")
	logLevel := cli.StringP("log", "l", "info", "Log level")
	input := cli.StringP("input", "i", "", "Replay an audio file instead of the microphone")
	cli.Parse()

	setLogger(*logLevel)
	log.Info("Booting up")

	cfg, err := config.Load(afero.NewOsFs(), *configPath)
	if err != nil {
		log.Error("Failed to load config", "path", *configPath, "err", err)
		os.Exit(1)
	}
	if !cli.CommandLine.Changed("log") {
		setLogger(cfg.LogLevel)
	}
	if *proxyAddr != "" {
		cfg.Vision.Proxy = *proxyAddr
	}
	if *input != "" {
		cfg.Audio.Input = *input
	}

	if err := godotenv.Load(*envFile); err != nil {
		log.Debug("No env file loaded", "path", *envFile, "err", err)
	}

	if err := run(cfg); err != nil {
		log.Error("Daemon failed", "err", err)
		os.Exit(1)
	}
}

func setLogger(level string) {
	log.SetDefault(log.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      logLevelMap[level],
		TimeFormat: time.TimeOnly,
	})))
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	format := audio.Format{SampleRate: cfg.Audio.SampleRate, FrameDurationMs: cfg.Audio.FrameMs}

	queue := audio.NewQueue(format.FramesFor(time.Duration(cfg.Audio.QueueMs) * time.Millisecond))
	queue.OnDrop(func(f audio.Frame) {
		m.FramesDropped.Inc()
		log.Warn("Consumer behind, dropped oldest frame", "seq", f.Seq)
	})

	src, err := openAudio(cfg.Audio, format, queue)
	if err != nil {
		return err
	}
	log.Debug("Loaded audio source", "input", cfg.Audio.Input)

	classifier, err := vad.New(vad.Config{
		Kind:            vad.Kind(cfg.VAD.Kind),
		SampleRate:      format.SampleRate,
		FrameDurationMs: format.FrameDurationMs,
		Aggressiveness:  cfg.VAD.Aggressiveness,
		EnergyThreshold: cfg.VAD.EnergyThreshold,
	})
	if err != nil {
		src.Close()
		return err
	}
	classifier.OnFailure(func(err error) {
		m.ClassifierFailures.Inc()
		log.Warn("Speech detector failed, treating frame as silence", "err", err)
	})

	seg, err := segment.New(segment.Config{
		FrameDurationMs:     format.FrameDurationMs,
		SilenceTimeoutMs:    cfg.Segment.SilenceTimeoutMs,
		MinSpeechDurationMs: cfg.Segment.MinSpeechMs,
		AbandonMultiplier:   cfg.Segment.AbandonMultiplier,
	})
	if err != nil {
		src.Close()
		return err
	}

	transcriber, err := openTranscriber(cfg.STT)
	if err != nil {
		src.Close()
		return err
	}
	defer transcriber.Close()
	log.Debug("Loaded transcriber", "provider", cfg.STT.Provider)

	analyst, err := openAnalyst(cfg.Vision)
	if err != nil {
		src.Close()
		return err
	}
	log.Debug("Loaded vision client", "model", cfg.Vision.Model, "proxy", cfg.Vision.Proxy != "")

	speaker, chime := openSpeech(cfg.TTS, format.SampleRate)

	store, err := eventlog.Open(cfg.Store.Path)
	if err != nil {
		src.Close()
		return err
	}
	defer store.Close()
	log.Debug("Loaded event log", "path", cfg.Store.Path)

	deps := assistant.Deps{
		Source:      queue,
		Format:      format,
		Classifier:  classifier,
		Segmenter:   seg,
		Transcriber: transcriber,
		Analyst:     analyst,
		Speaker:     speaker,
		Events:      store,
		AudioCloser: src,
		Metrics:     m,
	}
	if chime != nil {
		deps.Chime = chime
	}

	cam, err := openCamera(cfg.Camera, &deps)
	if err != nil {
		src.Close()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	loopCtx, cancelLoop := context.WithCancel(gctx)
	defer cancelLoop()

	if cfg.GPS.Port != "" {
		poller, err := openGPS(cfg.GPS, &deps)
		if err != nil {
			src.Close()
			closeQuietly(cam)
			return err
		}
		g.Go(func() error { return poller.Run(loopCtx) })
	}

	ctrl, err := assistant.New(deps, assistant.Options{CameraEnabled: cfg.Camera.Enabled && cam != nil})
	if err != nil {
		src.Close()
		closeQuietly(cam)
		return err
	}

	log.Info("Boot up - successful")

	g.Go(func() error {
		if err := src.Run(loopCtx); err != nil {
			return fmt.Errorf("audio: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return ipc.Serve(loopCtx, cfg.Control.Socket, func(ctx context.Context, req ipc.Request) ipc.Response {
			action, err := nlu.ParseAction(req.Cmd)
			if err != nil {
				return ipc.Response{Error: err.Error()}
			}
			text, err := ctrl.Submit(ctx, action)
			if err != nil {
				return ipc.Response{Error: err.Error()}
			}
			return ipc.Response{OK: true, Text: text}
		})
	})

	if cfg.Metrics.Addr != "" {
		g.Go(func() error { return m.Serve(loopCtx, cfg.Metrics.Addr) })
	}

	g.Go(func() error {
		defer cancelLoop()
		return ctrl.Run(loopCtx)
	})

	err = g.Wait()
	log.Info("Daemon stopped")
	return err
}
