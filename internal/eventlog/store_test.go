package eventlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func openTestStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()

	clock := &fakeClock{t: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
	s, err := Open(filepath.Join(t.TempDir(), "nested", "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s.WithClock(clock.now), clock
}

func ptr(f float64) *float64 { return &f }

func TestStore_LogAndRead(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	id, err := s.Log(ctx, Event{
		Type:       TypeObservation,
		Transcript: "what is that",
		Response:   "a cracked lintel",
		ImagePath:  "data/captures/a.jpg",
		Lat:        ptr(55.9533),
		Lon:        ptr(-3.1883),
		Metadata:   map[string]string{"camera": "on"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	events, err := s.Events(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, TypeObservation, ev.Type)
	assert.Equal(t, "a cracked lintel", ev.Response)
	require.NotNil(t, ev.Lat)
	assert.InDelta(t, 55.9533, *ev.Lat, 1e-9)
	assert.Equal(t, "on", ev.Metadata["camera"])
	assert.True(t, ev.Timestamp.Equal(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)))
}

func TestStore_NullableFields(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	_, err := s.Log(ctx, Event{Type: TypeReport, Response: "all fine"})
	require.NoError(t, err)

	events, err := s.Events(ctx, TypeReport, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Nil(t, events[0].Lat)
	assert.Nil(t, events[0].Lon)
	assert.Empty(t, events[0].Transcript)
	assert.Nil(t, events[0].Metadata)
}

func TestStore_RequiresType(t *testing.T) {
	s, _ := openTestStore(t)
	_, err := s.Log(context.Background(), Event{})
	assert.Error(t, err)
}

func TestStore_EventsFilterAndOrder(t *testing.T) {
	s, clock := openTestStore(t)
	ctx := context.Background()

	for i, typ := range []string{TypeObservation, TypeReport, TypeObservation} {
		_, err := s.Log(ctx, Event{Type: typ, Transcript: string(rune('a' + i))})
		require.NoError(t, err)
		clock.advance(1500 * time.Millisecond)
	}

	all, err := s.Events(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].Transcript)
	assert.Equal(t, "a", all[2].Transcript)

	obs, err := s.Events(ctx, TypeObservation, 1)
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.Equal(t, "c", obs[0].Transcript)
}

func TestStore_Today(t *testing.T) {
	s, clock := openTestStore(t)
	ctx := context.Background()

	_, err := s.Log(ctx, Event{Type: TypeObservation, Transcript: "yesterday"})
	require.NoError(t, err)

	clock.advance(24 * time.Hour)
	today, err := s.Today(ctx)
	require.NoError(t, err)
	assert.Empty(t, today)

	_, err = s.Log(ctx, Event{Type: TypeObservation, Transcript: "first"})
	require.NoError(t, err)
	clock.advance(time.Minute)
	_, err = s.Log(ctx, Event{Type: TypeObservation, Transcript: "second"})
	require.NoError(t, err)

	today, err = s.Today(ctx)
	require.NoError(t, err)
	require.Len(t, today, 2)
	assert.Equal(t, "first", today[0].Transcript)
	assert.Equal(t, "second", today[1].Transcript)
}

func TestStore_Since(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	var last int64
	for i := 0; i < 3; i++ {
		id, err := s.Log(ctx, Event{Type: TypeObservation})
		require.NoError(t, err)
		last = id
	}

	events, err := s.Since(ctx, 1)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(2), events[0].ID)
	assert.Equal(t, last, events[1].ID)

	none, err := s.Since(ctx, last)
	require.NoError(t, err)
	assert.Empty(t, none)
}
