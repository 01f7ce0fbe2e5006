package vad

import (
	"encoding/binary"
	"fmt"
)

const DefaultEnergyThreshold = 0.02

// Energy flags a frame as speech when its mean absolute amplitude exceeds a
// fixed threshold.
type Energy struct {
	threshold float64
}

func NewEnergy(threshold float64) (*Energy, error) {
	if threshold == 0 {
		threshold = DefaultEnergyThreshold
	}
	if threshold < 0 || threshold >= 1 {
		return nil, fmt.Errorf("vad: energy threshold %.3f out of range (0, 1)", threshold)
	}
	return &Energy{threshold: threshold}, nil
}

func (e *Energy) IsSpeech(frame []byte) (bool, error) {
	return MeanAbs(frame) > e.threshold, nil
}

// MeanAbs returns the mean absolute amplitude of PCM16LE samples, scaled to
// [0, 1].
func MeanAbs(frame []byte) float64 {
	n := len(frame) / 2
	if n == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(frame[i*2:]))
		if v < 0 {
			sum -= float64(v)
		} else {
			sum += float64(v)
		}
	}

	return sum / float64(n) / 32768.0
}
