package vad

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func constFrame(n int, v int16) []byte {
	b := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(v))
	}
	return b
}

type detectorFunc func([]byte) (bool, error)

func (f detectorFunc) IsSpeech(b []byte) (bool, error) { return f(b) }

func TestEnergy(t *testing.T) {
	e, err := NewEnergy(0.02)
	require.NoError(t, err)

	silent, err := e.IsSpeech(constFrame(480, 100))
	require.NoError(t, err)
	assert.False(t, silent)

	loud, err := e.IsSpeech(constFrame(480, -8000))
	require.NoError(t, err)
	assert.True(t, loud)
}

func TestEnergy_Threshold(t *testing.T) {
	e, err := NewEnergy(0)
	require.NoError(t, err)
	assert.Equal(t, DefaultEnergyThreshold, e.threshold)

	_, err = NewEnergy(1.5)
	assert.Error(t, err)
}

func TestMeanAbs(t *testing.T) {
	assert.Zero(t, MeanAbs(nil))
	assert.InDelta(t, 0.5, MeanAbs(constFrame(4, -16384)), 1e-9)
	assert.InDelta(t, 0.5, MeanAbs(constFrame(4, 16384)), 1e-9)
}

func TestSafe_RejectsWrongFrameSize(t *testing.T) {
	s := NewSafe(detectorFunc(func([]byte) (bool, error) { return true, nil }), 960)

	_, err := s.Classify(make([]byte, 100))
	assert.ErrorIs(t, err, ErrFrameSize)
}

func TestSafe_DetectorErrorIsSilence(t *testing.T) {
	var hooked error
	s := NewSafe(detectorFunc(func([]byte) (bool, error) {
		return true, errors.New("decode failed")
	}), 4)
	s.OnFailure(func(err error) { hooked = err })

	speech, err := s.Classify(make([]byte, 4))
	require.NoError(t, err)
	assert.False(t, speech)
	assert.Equal(t, uint64(1), s.Failures())
	assert.EqualError(t, hooked, "decode failed")
}

func TestSafe_DetectorPanicIsSilence(t *testing.T) {
	s := NewSafe(detectorFunc(func([]byte) (bool, error) { panic("boom") }), 4)

	speech, err := s.Classify(make([]byte, 4))
	require.NoError(t, err)
	assert.False(t, speech)
	assert.Equal(t, uint64(1), s.Failures())
}

func TestSafe_Deterministic(t *testing.T) {
	s, err := New(Config{Kind: KindEnergy, SampleRate: 16000, FrameDurationMs: 30, EnergyThreshold: 0.02})
	require.NoError(t, err)

	frame := constFrame(480, 3000)
	first, err := s.Classify(frame)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		got, err := s.Classify(frame)
		require.NoError(t, err)
		assert.Equal(t, first, got)
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Kind: "porcupine"})
	assert.ErrorContains(t, err, "unknown kind")

	_, err = New(Config{Kind: KindWebRTC, SampleRate: 16000, FrameDurationMs: 30, Aggressiveness: 4})
	assert.ErrorContains(t, err, "aggressiveness")

	_, err = New(Config{Kind: KindWebRTC, SampleRate: 22050, FrameDurationMs: 30})
	assert.ErrorContains(t, err, "does not support")

	assert.True(t, KindEnergy.IsValid())
	assert.False(t, Kind("").IsValid())
}
