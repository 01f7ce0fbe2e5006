// Package config loads the daemon configuration from YAML.
//
// Values in the file are layered over Default(), so a config file only has
// to name what it changes. Secrets never live here; they come from the
// environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

type Audio struct {
	SampleRate int `yaml:"sample_rate"`
	FrameMs    int `yaml:"frame_ms"`
	QueueMs    int `yaml:"queue_ms"`
	// Input replays a file instead of opening the microphone.
	Input    string `yaml:"input"`
	Realtime bool   `yaml:"realtime"`
}

type VAD struct {
	Kind            string  `yaml:"kind"`
	Aggressiveness  int     `yaml:"aggressiveness"`
	EnergyThreshold float64 `yaml:"energy_threshold"`
}

type Segment struct {
	SilenceTimeoutMs  int `yaml:"silence_timeout_ms"`
	MinSpeechMs       int `yaml:"min_speech_ms"`
	AbandonMultiplier int `yaml:"abandon_multiplier"`
}

type Camera struct {
	// Enabled is the initial camera flag; mute and unmute change it at run
	// time.
	Enabled bool `yaml:"enabled"`
	// Backend "none" runs without camera hardware.
	Backend     string `yaml:"backend"`
	Command     string `yaml:"command"`
	Width       int    `yaml:"width"`
	Height      int    `yaml:"height"`
	JPEGQuality int    `yaml:"jpeg_quality"`
	MaxWidth    int    `yaml:"max_width"`
	CapturesDir string `yaml:"captures_dir"`
}

type GPS struct {
	// Port is the serial device; empty disables position polling.
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

type STT struct {
	Provider     string `yaml:"provider"`
	Model        string `yaml:"model"`
	Language     string `yaml:"language"`
	WhisperModel string `yaml:"whisper_model"`
}

type Vision struct {
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
	// Proxy is an optional SOCKS5 address for API traffic.
	Proxy string `yaml:"proxy"`
}

type TTS struct {
	Engine     string  `yaml:"engine"`
	PiperModel string  `yaml:"piper_model"`
	Speed      float64 `yaml:"speed"`
	Voice      string  `yaml:"voice"`
	Duck       bool    `yaml:"duck"`
	Chime      string  `yaml:"chime"`
}

type Store struct {
	Path string `yaml:"path"`
}

type Control struct {
	Socket string `yaml:"socket"`
}

type Dashboard struct {
	Addr         string `yaml:"addr"`
	PollInterval int    `yaml:"poll_ms"`
}

type Metrics struct {
	// Addr serves /metrics; empty disables it.
	Addr string `yaml:"addr"`
}

type Config struct {
	Audio     Audio     `yaml:"audio"`
	VAD       VAD       `yaml:"vad"`
	Segment   Segment   `yaml:"segment"`
	Camera    Camera    `yaml:"camera"`
	GPS       GPS       `yaml:"gps"`
	STT       STT       `yaml:"stt"`
	Vision    Vision    `yaml:"vision"`
	TTS       TTS       `yaml:"tts"`
	Store     Store     `yaml:"store"`
	Control   Control   `yaml:"control"`
	Dashboard Dashboard `yaml:"dashboard"`
	Metrics   Metrics   `yaml:"metrics"`
	WakeWord  string    `yaml:"wake_word"`
	LogLevel  string    `yaml:"log_level"`
}

func Default() Config {
	return Config{
		Audio: Audio{SampleRate: 16000, FrameMs: 30, QueueMs: 1500},
		VAD:   VAD{Kind: "webrtc", Aggressiveness: 2, EnergyThreshold: 0.02},
		Segment: Segment{
			SilenceTimeoutMs:  1500,
			MinSpeechMs:       300,
			AbandonMultiplier: 3,
		},
		Camera: Camera{
			Enabled:     true,
			Backend:     "rpicam",
			Command:     "rpicam-still",
			Width:       1920,
			Height:      1080,
			JPEGQuality: 85,
			MaxWidth:    1280,
			CapturesDir: "data/captures",
		},
		GPS:       GPS{Port: "/dev/ttyAMA0", Baud: 9600},
		STT:       STT{Provider: "deepgram", Model: "nova-2", Language: "en-GB"},
		Vision:    Vision{Model: "gpt-4o", MaxTokens: 1024},
		TTS:       TTS{Engine: "piper", PiperModel: "en_GB-alba-medium", Speed: 1.1, Voice: "en"},
		Store:     Store{Path: "data/airpiece.db"},
		Control:   Control{Socket: "/tmp/airpiece.sock"},
		Dashboard: Dashboard{Addr: ":8080", PollInterval: 1000},
		Metrics:   Metrics{Addr: "127.0.0.1:9464"},
		WakeWord:  "airpiece",
		LogLevel:  "info",
	}
}

// Load reads path from fs over the defaults. A missing file yields the
// defaults unchanged.
func Load(fs afero.Fs, path string) (Config, error) {
	f, err := fs.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		return cfg, cfg.Validate()
	}
	if err != nil {
		return Config{}, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := Decode(f)
	if err != nil {
		return Config{}, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// Decode reads YAML from r over the defaults and validates the result.
// Unknown keys are an error.
func Decode(r io.Reader) (Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode yaml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var (
	vadKinds     = []string{"energy", "webrtc"}
	sttProviders = []string{"deepgram", "whisper"}
	ttsEngines   = []string{"piper", "espeak"}
	cameraKinds  = []string{"rpicam", "placeholder", "none"}
	logLevels    = []string{"debug", "info", "warn", "error"}
)

// Validate returns every problem found, joined.
func (c Config) Validate() error {
	var errs []error

	if c.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", c.Audio.SampleRate))
	}
	if c.Audio.FrameMs <= 0 {
		errs = append(errs, fmt.Errorf("audio.frame_ms %d must be positive", c.Audio.FrameMs))
	}
	if c.Audio.QueueMs < c.Audio.FrameMs {
		errs = append(errs, fmt.Errorf("audio.queue_ms %d must hold at least one frame", c.Audio.QueueMs))
	}

	if !slices.Contains(vadKinds, c.VAD.Kind) {
		errs = append(errs, fmt.Errorf("vad.kind %q is invalid; valid values: %v", c.VAD.Kind, vadKinds))
	}
	if c.VAD.Aggressiveness < 0 || c.VAD.Aggressiveness > 3 {
		errs = append(errs, fmt.Errorf("vad.aggressiveness %d out of range 0..3", c.VAD.Aggressiveness))
	}

	if c.Segment.SilenceTimeoutMs < c.Audio.FrameMs {
		errs = append(errs, fmt.Errorf("segment.silence_timeout_ms %d shorter than one frame", c.Segment.SilenceTimeoutMs))
	}
	if c.Segment.MinSpeechMs < 0 {
		errs = append(errs, fmt.Errorf("segment.min_speech_ms %d is negative", c.Segment.MinSpeechMs))
	}
	if c.Segment.AbandonMultiplier < 1 {
		errs = append(errs, fmt.Errorf("segment.abandon_multiplier %d must be at least 1", c.Segment.AbandonMultiplier))
	}

	if !slices.Contains(cameraKinds, c.Camera.Backend) {
		errs = append(errs, fmt.Errorf("camera.backend %q is invalid; valid values: %v", c.Camera.Backend, cameraKinds))
	}
	if c.Camera.JPEGQuality < 1 || c.Camera.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("camera.jpeg_quality %d out of range 1..100", c.Camera.JPEGQuality))
	}

	if c.GPS.Port != "" && c.GPS.Baud <= 0 {
		errs = append(errs, fmt.Errorf("gps.baud %d must be positive", c.GPS.Baud))
	}

	if !slices.Contains(sttProviders, c.STT.Provider) {
		errs = append(errs, fmt.Errorf("stt.provider %q is invalid; valid values: %v", c.STT.Provider, sttProviders))
	}
	if c.STT.Provider == "whisper" && c.STT.WhisperModel == "" {
		errs = append(errs, errors.New("stt.whisper_model is required for the whisper provider"))
	}

	if c.Vision.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("vision.max_tokens %d must be positive", c.Vision.MaxTokens))
	}

	if !slices.Contains(ttsEngines, c.TTS.Engine) {
		errs = append(errs, fmt.Errorf("tts.engine %q is invalid; valid values: %v", c.TTS.Engine, ttsEngines))
	}

	if c.Store.Path == "" {
		errs = append(errs, errors.New("store.path is required"))
	}

	if !slices.Contains(logLevels, c.LogLevel) {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: %v", c.LogLevel, logLevels))
	}

	return errors.Join(errs...)
}
