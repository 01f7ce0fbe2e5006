package audioconv

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
	popus "github.com/pekim/opus"
)

const DefaultSampleRate = 16000

type Options struct {
	SampleRate int // target rate, 0 = DefaultSampleRate
	MaxSamples int // 0 = no limit
}

func (o Options) rate() int {
	if o.SampleRate <= 0 {
		return DefaultSampleRate
	}
	return o.SampleRate
}

// ConvertFile decodes wav/mp3/ogg (vorbis or opus) into mono float32 samples
// in [-1, 1] at the target rate.
func ConvertFile(_ context.Context, path string, opt Options) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return decodeWAV(f, opt)
	case ".mp3":
		return decodeMP3(f, opt)
	case ".ogg", ".oga":
		return decodeOgg(f, opt)
	}

	br := bufio.NewReader(f)
	magic, _ := br.Peek(4)
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	switch string(magic) {
	case "RIFF":
		return decodeWAV(f, opt)
	case "OggS":
		return decodeOgg(f, opt)
	default:
		return nil, fmt.Errorf("unsupported format: %s (supported: wav/mp3/ogg)", filepath.Ext(path))
	}
}

// DecodeWAV decodes an in-memory WAV file.
func DecodeWAV(data []byte, opt Options) ([]float32, error) {
	return decodeWAV(bytes.NewReader(data), opt)
}

func decodeWAV(r io.ReadSeeker, opt Options) ([]float32, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, errors.New("invalid wav")
	}

	pb, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, err
	}
	if pb == nil || len(pb.Data) == 0 {
		return nil, errors.New("empty wav")
	}

	bd := int(dec.BitDepth)
	if bd == 0 {
		bd = 16
	}

	ch, sr := 1, 44100
	if pb.Format != nil {
		if pb.Format.NumChannels > 0 {
			ch = pb.Format.NumChannels
		}
		if pb.Format.SampleRate > 0 {
			sr = pb.Format.SampleRate
		}
	}

	return finish(intSliceToFloat32(pb.Data, bd), ch, sr, opt), nil
}

func decodeMP3(r io.Reader, opt Options) ([]float32, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, err
	}

	var raw bytes.Buffer
	if _, err := io.Copy(&raw, dec); err != nil {
		return nil, err
	}

	ints := make([]int16, raw.Len()/2)
	if err := binary.Read(bytes.NewReader(raw.Bytes()), binary.LittleEndian, &ints); err != nil {
		return nil, err
	}

	sr := dec.SampleRate()
	if sr <= 0 {
		sr = 44100
	}

	// go-mp3 always yields interleaved stereo
	return finish(int16SliceToFloat32(ints), 2, sr, opt), nil
}

func decodeOgg(r io.ReadSeeker, opt Options) ([]float32, error) {
	x, vorbisErr := decodeOggVorbis(r, opt)
	if vorbisErr == nil {
		return x, nil
	}

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	x, opusErr := decodeOggOpus(r, opt)
	if opusErr != nil {
		return nil, fmt.Errorf("cannot decode ogg as vorbis (%v) or opus: %w", vorbisErr, opusErr)
	}

	return x, nil
}

func decodeOggVorbis(r io.Reader, opt Options) ([]float32, error) {
	pcm, format, err := oggvorbis.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if format == nil || format.Channels <= 0 || format.SampleRate <= 0 {
		return nil, errors.New("invalid ogg/vorbis stream")
	}

	return finish(pcm, format.Channels, format.SampleRate, opt), nil
}

func decodeOggOpus(r io.ReadSeeker, opt Options) ([]float32, error) {
	dec, err := popus.NewDecoder(r)
	if err != nil {
		return nil, err
	}
	defer dec.Destroy()

	ch := dec.ChannelCount()
	if ch <= 0 {
		ch = 1
	}

	var (
		pcm []float32
		buf = make([]int16, 48_000*ch/2)
	)
	for {
		n, err := dec.Read(buf) // samples per channel
		if n > 0 {
			pcm = append(pcm, int16SliceToFloat32(buf[:n*ch])...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}

	if len(pcm) == 0 {
		return nil, errors.New("empty ogg/opus stream")
	}

	// opus always decodes at 48 kHz
	return finish(pcm, ch, 48000, opt), nil
}

func finish(x []float32, channels, sampleRate int, opt Options) []float32 {
	x = downmixInterleaved(x, channels)
	x = resampleLinear(x, sampleRate, opt.rate())
	if opt.MaxSamples > 0 && len(x) > opt.MaxSamples {
		x = x[:opt.MaxSamples]
	}
	return x
}

// Float32ToInt16 converts [-1, 1] samples to PCM16, clipping out-of-range input.
func Float32ToInt16(x []float32) []int16 {
	out := make([]int16, len(x))
	for i, v := range x {
		out[i] = int16(math.Round(clamp(float64(v), -1, 1) * 32767))
	}
	return out
}

func intSliceToFloat32(data []int, bitDepth int) []float32 {
	out := make([]float32, len(data))
	scale := 1.0 / float64(int64(1)<<(bitDepth-1))
	for i, v := range data {
		out[i] = float32(clamp(float64(v)*scale, -1.0, 1.0))
	}
	return out
}

func int16SliceToFloat32(data []int16) []float32 {
	out := make([]float32, len(data))
	const scale = 1.0 / 32768.0
	for i, v := range data {
		out[i] = float32(float64(v) * scale)
	}
	return out
}

func downmixInterleaved(in []float32, channels int) []float32 {
	if channels <= 1 {
		return in
	}
	n := len(in) / channels
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		sum := 0.0
		for c := 0; c < channels; c++ {
			sum += float64(in[i*channels+c])
		}
		out[i] = float32(sum / float64(channels))
	}
	return out
}

func resampleLinear(in []float32, inSR, outSR int) []float32 {
	if inSR == outSR || len(in) == 0 {
		return in
	}
	ratio := float64(outSR) / float64(inSR)
	outN := int(math.Ceil(float64(len(in)) * ratio))
	out := make([]float32, outN)
	for i := 0; i < outN; i++ {
		src := float64(i) / ratio
		i0 := int(math.Floor(src))
		switch {
		case i0 >= len(in)-1:
			out[i] = in[len(in)-1]
		default:
			a := float32(src - float64(i0))
			out[i] = in[i0]*(1-a) + in[i0+1]*a
		}
	}
	return out
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
