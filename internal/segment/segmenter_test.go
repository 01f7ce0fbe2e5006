package segment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSegmenter(t *testing.T) *Segmenter {
	t.Helper()
	s, err := New(Config{FrameDurationMs: 30, SilenceTimeoutMs: 1500, MinSpeechDurationMs: 300})
	require.NoError(t, err)
	return s
}

// feed pushes n frames of the given class and collects non-None events.
func feed(s *Segmenter, n int, speech bool, tag byte) []Event {
	var out []Event
	for i := 0; i < n; i++ {
		ev := s.Push([]byte{tag, byte(i)}, speech)
		if ev.Kind != None {
			out = append(out, ev)
		}
	}
	return out
}

func TestSegmenter_SilenceStaysIdle(t *testing.T) {
	s := newTestSegmenter(t)

	events := feed(s, 100, false, 0)
	assert.Equal(t, Idle, s.State())
	assert.Zero(t, s.Buffered())
	for _, ev := range events {
		assert.Equal(t, IdleTimeout, ev.Kind)
	}
}

func TestSegmenter_ScenarioA(t *testing.T) {
	s := newTestSegmenter(t)

	assert.Empty(t, feed(s, 40, false, 's'))
	assert.Zero(t, s.Buffered())

	assert.Empty(t, feed(s, 15, true, 'v'))
	assert.Equal(t, Accumulating, s.State())

	events := feed(s, 50, false, 't')
	require.Len(t, events, 1)
	require.Equal(t, Emitted, events[0].Kind)

	u := events[0].Utterance
	assert.Equal(t, 65, u.FrameCount())
	assert.Equal(t, 15, u.SpeechFrameCount)
	assert.Equal(t, 65*30, u.DurationMs())
	assert.Equal(t, byte('v'), u.Frames[0][0])
	assert.Equal(t, byte('t'), u.Frames[64][0])

	assert.Equal(t, Idle, s.State())
	assert.Zero(t, s.Buffered())
}

func TestSegmenter_KSpeechThenTimeout(t *testing.T) {
	const timeoutFrames = 1500 / 30

	tests := []struct {
		name string
		k    int
		emit bool
	}{
		{"below minimum", 9, false},
		{"exactly minimum", 10, true},
		{"well above", 40, true},
		{"single frame", 1, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestSegmenter(t)

			feed(s, tc.k, true, 1)
			events := feed(s, timeoutFrames, false, 0)
			require.Len(t, events, 1)

			if tc.emit {
				require.Equal(t, Emitted, events[0].Kind)
				assert.Equal(t, tc.k+timeoutFrames, events[0].Utterance.FrameCount())
				assert.GreaterOrEqual(t, events[0].Utterance.SpeechMs(), 300)
			} else {
				assert.Equal(t, Discarded, events[0].Kind)
				assert.Equal(t, tc.k+timeoutFrames, events[0].Frames)
				assert.Nil(t, events[0].Utterance)
			}
			assert.Equal(t, Idle, s.State())
			assert.Zero(t, s.Buffered())
		})
	}
}

func TestSegmenter_SpeechResetsSilenceRun(t *testing.T) {
	s := newTestSegmenter(t)

	feed(s, 5, true, 1)
	assert.Empty(t, feed(s, 49, false, 0))
	feed(s, 5, true, 1)
	assert.Empty(t, feed(s, 49, false, 0))

	events := feed(s, 1, false, 0)
	require.Len(t, events, 1)
	require.Equal(t, Emitted, events[0].Kind)
	assert.Equal(t, 5+49+5+50, events[0].Utterance.FrameCount())
	assert.Equal(t, 10, events[0].Utterance.SpeechFrameCount)
}

func TestSegmenter_FreshBufferAfterDiscard(t *testing.T) {
	s := newTestSegmenter(t)

	feed(s, 3, true, 'a')
	events := feed(s, 50, false, 'a')
	require.Len(t, events, 1)
	require.Equal(t, Discarded, events[0].Kind)

	feed(s, 12, true, 'b')
	events = feed(s, 50, false, 'c')
	require.Len(t, events, 1)
	require.Equal(t, Emitted, events[0].Kind)

	u := events[0].Utterance
	assert.Equal(t, 62, u.FrameCount())
	for _, f := range u.Frames {
		assert.NotEqual(t, byte('a'), f[0])
	}
}

func TestSegmenter_FreshBufferAfterEmit(t *testing.T) {
	s := newTestSegmenter(t)

	feed(s, 20, true, 'a')
	first := feed(s, 50, false, 'a')
	require.Len(t, first, 1)

	feed(s, 11, true, 'b')
	second := feed(s, 50, false, 'b')
	require.Len(t, second, 1)
	require.Equal(t, Emitted, second[0].Kind)
	assert.Equal(t, 61, second[0].Utterance.FrameCount())
	assert.Equal(t, byte('b'), second[0].Utterance.Frames[0][0])
}

func TestSegmenter_IdleTimeoutIsPeriodic(t *testing.T) {
	s := newTestSegmenter(t)

	// 3 * 1500 ms = 4500 ms; fires on the frame that exceeds it.
	var at []int
	for i := 1; i <= 400; i++ {
		if s.Push([]byte{0}, false).Kind == IdleTimeout {
			at = append(at, i)
		}
	}
	assert.Equal(t, []int{151, 302}, at)
}

func TestSegmenter_SpeechResetsIdleCounter(t *testing.T) {
	s := newTestSegmenter(t)

	assert.Empty(t, feed(s, 150, false, 0))
	feed(s, 2, true, 1)
	events := feed(s, 50, false, 0)
	require.Len(t, events, 1)
	assert.Equal(t, Discarded, events[0].Kind)

	assert.Empty(t, feed(s, 150, false, 0))
	events = feed(s, 1, false, 0)
	require.Len(t, events, 1)
	assert.Equal(t, IdleTimeout, events[0].Kind)
}

func TestUtterance_PCM(t *testing.T) {
	u := &Utterance{Frames: [][]byte{{1, 2}, {3, 4}, {5}}, FrameDurationMs: 30}
	assert.Equal(t, []byte{1, 2, 3, 4, 5}, u.PCM())
	assert.Equal(t, 90, u.DurationMs())
}

func TestConfig_Validate(t *testing.T) {
	_, err := New(Config{FrameDurationMs: 0, SilenceTimeoutMs: 10, MinSpeechDurationMs: -1})
	require.Error(t, err)
	assert.ErrorContains(t, err, "frame duration")
	assert.ErrorContains(t, err, "min speech")

	s, err := New(Config{FrameDurationMs: 20, SilenceTimeoutMs: 400})
	require.NoError(t, err)
	assert.Equal(t, DefaultAbandonMultiplier, s.cfg.AbandonMultiplier)
}
