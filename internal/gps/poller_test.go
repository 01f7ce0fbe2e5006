package gps

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sentence wraps body in $...*XX with a correct checksum.
func sentence(body string) string {
	var sum byte
	for i := 0; i < len(body); i++ {
		sum ^= body[i]
	}
	return fmt.Sprintf("$%s*%02X", body, sum)
}

const (
	ggaFix   = "GPGGA,092750.000,5321.6802,N,00630.3372,W,1,8,1.03,61.7,M,55.2,M,,"
	ggaNoFix = "GPGGA,092750.000,,,,,0,0,,,M,,M,,"
	rmcValid = "GPRMC,220516,A,5133.82,N,00042.24,W,173.8,231.8,130694,004.2,W"
	rmcVoid  = "GPRMC,220516,V,5133.82,N,00042.24,W,173.8,231.8,130694,004.2,W"
)

func newTestPoller() *Poller {
	return NewPoller(io.NopCloser(nil))
}

func TestPoller_NoFixInitially(t *testing.T) {
	_, ok := newTestPoller().Latest()
	assert.False(t, ok)
}

func TestPoller_GGA(t *testing.T) {
	p := newTestPoller()

	require.True(t, p.Update(sentence(ggaFix)+"\r\n"))
	pos, ok := p.Latest()
	require.True(t, ok)
	assert.InDelta(t, 53.361337, pos.Lat, 1e-5)
	assert.InDelta(t, -6.505620, pos.Lon, 1e-5)
}

func TestPoller_RMC(t *testing.T) {
	p := newTestPoller()

	require.True(t, p.Update(sentence(rmcValid)))
	pos, ok := p.Latest()
	require.True(t, ok)
	assert.InDelta(t, 51.563667, pos.Lat, 1e-5)
	assert.InDelta(t, -0.704, pos.Lon, 1e-5)
}

func TestPoller_SkipsInvalidAndMalformed(t *testing.T) {
	p := newTestPoller()
	require.True(t, p.Update(sentence(ggaFix)))
	before, _ := p.Latest()

	for _, line := range []string{
		sentence(ggaNoFix),
		sentence(rmcVoid),
		"$GPGGA,garbage*00",
		"not nmea at all",
		"$GPRMC,220516,A,5133.82,N*FF",
		"",
	} {
		assert.False(t, p.Update(line), line)
	}

	after, ok := p.Latest()
	require.True(t, ok)
	assert.Equal(t, before, after)
	assert.Equal(t, uint64(5), p.Skipped())
}

func TestPoller_Run(t *testing.T) {
	r, w := io.Pipe()
	p := NewPoller(r)

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	_, err := fmt.Fprintf(w, "junk\r\n%s\r\n", sentence(rmcValid))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, ok := p.Latest()
		return ok
	}, time.Second, 5*time.Millisecond)

	w.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after the port closed")
	}
}

// stallingReader hands out chunks, with a run of empty reads after each one
// the way a serial port with a read timeout does.
type stallingReader struct {
	chunks []string
	empty  int
}

func (r *stallingReader) Read(b []byte) (int, error) {
	if r.empty > 0 {
		r.empty--
		return 0, nil
	}
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(b, r.chunks[0])
	r.chunks = r.chunks[1:]
	r.empty = 200
	return n, nil
}

func (r *stallingReader) Close() error { return nil }

func TestPoller_RunJoinsSentenceSplitByTimeout(t *testing.T) {
	line := sentence(ggaFix) + "\r\n"
	p := NewPoller(&stallingReader{chunks: []string{line[:20], line[20:]}})

	require.NoError(t, p.Run(context.Background()))

	pos, ok := p.Latest()
	require.True(t, ok)
	assert.InDelta(t, 53.3613, pos.Lat, 1e-4)
	assert.Zero(t, p.Skipped())
}

func TestPoller_RunStopsOnCancel(t *testing.T) {
	r, _ := io.Pipe()
	p := NewPoller(r)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
