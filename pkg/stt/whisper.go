package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"sync"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"airpiece/pkg/audioconv"
)

type WhisperOptions struct {
	Language      string // "en", "auto"; en-GB style tags are cut to the base language
	Threads       int    // <=0 => NumCPU()
	InitialPrompt string // vocabulary hint, e.g. site-survey terms
	BeamSize      int    // 0 = greedy
}

// Whisper transcribes locally with whisper.cpp. Calls are serialized; the
// model is shared but each call gets a fresh context.
type Whisper struct {
	mu    sync.Mutex
	model whisper.Model
	opt   WhisperOptions
}

func NewWhisper(modelPath string, opt WhisperOptions) (*Whisper, error) {
	if modelPath == "" {
		return nil, errors.New("stt: empty whisper model path")
	}
	m, err := whisper.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("stt: load whisper model: %w", err)
	}
	return &Whisper{model: m, opt: opt}, nil
}

func (w *Whisper) Close() error {
	if w.model == nil {
		return nil
	}
	return w.model.Close()
}

// Transcribe decodes a WAV utterance, resampled to 16 kHz, and runs it.
func (w *Whisper) Transcribe(ctx context.Context, wav []byte) (string, error) {
	pcm, err := audioconv.DecodeWAV(wav, audioconv.Options{SampleRate: whisper.SampleRate})
	if err != nil {
		return "", fmt.Errorf("stt: decode wav: %w", err)
	}
	return w.TranscribePCM(ctx, pcm)
}

// TranscribePCM runs mono 16 kHz float32 samples in [-1, 1].
func (w *Whisper) TranscribePCM(ctx context.Context, pcm []float32) (string, error) {
	if w.model == nil {
		return "", errors.New("stt: nil whisper model")
	}
	if len(pcm) == 0 {
		return "", errors.New("stt: no audio samples provided")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	wctx, err := w.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("stt: new context: %w", err)
	}

	lang := w.opt.Language
	if lang == "" {
		lang = "auto"
	}
	lang, _, _ = strings.Cut(lang, "-")
	if err := wctx.SetLanguage(strings.ToLower(lang)); err != nil {
		return "", fmt.Errorf("stt: set language: %w", err)
	}

	threads := w.opt.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	wctx.SetThreads(uint(threads))

	if w.opt.BeamSize > 0 {
		wctx.SetBeamSize(w.opt.BeamSize)
	}
	if w.opt.InitialPrompt != "" {
		wctx.SetInitialPrompt(w.opt.InitialPrompt)
	}

	if err := wctx.Process(pcm, nil, nil, nil); err != nil {
		return "", fmt.Errorf("stt: process: %w", err)
	}

	var parts []string
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		s, err := wctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("stt: next segment: %w", err)
		}
		if t := strings.TrimSpace(s.Text); t != "" {
			parts = append(parts, t)
		}
	}

	return strings.Join(parts, " "), nil
}
