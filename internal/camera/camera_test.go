package camera

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h)), nil))
	return buf.Bytes()
}

func TestPlaceholder(t *testing.T) {
	p, err := NewPlaceholder()
	require.NoError(t, err)

	frame, err := p.Capture(context.Background())
	require.NoError(t, err)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(frame))
	require.NoError(t, err)
	assert.Equal(t, PlaceholderWidth, cfg.Width)
	assert.Equal(t, PlaceholderHeight, cfg.Height)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Capture(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStill_Capture(t *testing.T) {
	frame := testJPEG(t, 8, 8)

	var gotName string
	var gotArgs []string
	s := (&Still{opt: StillOptions{Command: "rpicam-still", Width: 1920, Height: 1080, Quality: 85}}).
		WithRunner(func(_ context.Context, name string, args ...string) ([]byte, error) {
			gotName, gotArgs = name, args
			return frame, nil
		})

	out, err := s.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, frame, out)
	assert.Equal(t, "rpicam-still", gotName)
	assert.Contains(t, gotArgs, "1920")
	assert.Contains(t, gotArgs, "-")
}

func TestStill_CaptureErrors(t *testing.T) {
	s := (&Still{opt: StillOptions{Command: "rpicam-still"}}).
		WithRunner(func(context.Context, string, ...string) ([]byte, error) {
			return nil, errors.New("no cameras available")
		})
	_, err := s.Capture(context.Background())
	assert.ErrorContains(t, err, "no cameras available")

	s.WithRunner(func(context.Context, string, ...string) ([]byte, error) {
		return []byte("oops"), nil
	})
	_, err = s.Capture(context.Background())
	assert.ErrorContains(t, err, "not a JPEG")
}

func TestPrepare_Downscales(t *testing.T) {
	out, err := Prepare(testJPEG(t, 1920, 1080), 1280, 85)
	require.NoError(t, err)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 1280, cfg.Width)
	assert.Equal(t, 720, cfg.Height)
}

func TestPrepare_KeepsSmallFrames(t *testing.T) {
	in := testJPEG(t, 320, 240)

	out, err := Prepare(in, 1280, 85)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	out, err = Prepare(in, 0, 85)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = Prepare([]byte("not a jpeg"), 100, 85)
	assert.Error(t, err)
}

func TestArchive_Save(t *testing.T) {
	fs := afero.NewMemMapFs()
	a, err := NewArchive(fs, "data/captures")
	require.NoError(t, err)

	at := time.Date(2026, 3, 14, 9, 26, 53, 42_000_000, time.FixedZone("X", 3600))
	path, err := a.Save([]byte{1, 2, 3}, "obs/../x", at)
	require.NoError(t, err)
	assert.Equal(t, "data/captures/20260314_082653_042_obsx.jpg", path)

	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)

	path, err = a.Save(nil, "", at)
	require.NoError(t, err)
	assert.Equal(t, "data/captures/20260314_082653_042.jpg", path)
}

func TestArchive_SameInstantKeepsBothFrames(t *testing.T) {
	fs := afero.NewMemMapFs()
	a, err := NewArchive(fs, "captures")
	require.NoError(t, err)

	at := time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)
	first, err := a.Save([]byte{1}, "observe", at)
	require.NoError(t, err)
	second, err := a.Save([]byte{2}, "observe", at)
	require.NoError(t, err)

	assert.Equal(t, "captures/20260314_080000_000_observe.jpg", first)
	assert.Equal(t, "captures/20260314_080000_000_observe_2.jpg", second)

	data, err := afero.ReadFile(fs, first)
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, data)
	data, err = afero.ReadFile(fs, second)
	require.NoError(t, err)
	assert.Equal(t, []byte{2}, data)
}
