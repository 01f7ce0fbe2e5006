package vad

import (
	"fmt"
	"slices"

	"github.com/maxhawkins/go-webrtcvad"
)

var (
	webrtcRates   = []int{8000, 16000, 32000, 48000}
	webrtcFrameMs = []int{10, 20, 30}
)

// WebRTC wraps the WebRTC voice activity detector. Not safe for concurrent
// use.
type WebRTC struct {
	vad        *webrtcvad.VAD
	sampleRate int
}

func NewWebRTC(sampleRate, frameDurationMs, aggressiveness int) (*WebRTC, error) {
	if aggressiveness < 0 || aggressiveness > 3 {
		return nil, fmt.Errorf("vad: aggressiveness %d out of range 0..3", aggressiveness)
	}

	if !slices.Contains(webrtcRates, sampleRate) || !slices.Contains(webrtcFrameMs, frameDurationMs) {
		return nil, fmt.Errorf("vad: webrtc does not support %d Hz with %d ms frames", sampleRate, frameDurationMs)
	}

	v, err := webrtcvad.New()
	if err != nil {
		return nil, fmt.Errorf("vad: webrtc init: %w", err)
	}
	if err := v.SetMode(aggressiveness); err != nil {
		return nil, fmt.Errorf("vad: webrtc mode: %w", err)
	}

	return &WebRTC{vad: v, sampleRate: sampleRate}, nil
}

func (w *WebRTC) IsSpeech(frame []byte) (bool, error) {
	return w.vad.Process(w.sampleRate, frame)
}
