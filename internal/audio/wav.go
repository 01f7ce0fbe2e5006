package audio

import (
	"fmt"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/afero"
)

const wavName = "utterance.wav"

// EncodeWAV wraps PCM16 mono samples in a WAV container. The encoder needs a
// seekable writer to patch the header, so it writes into an in-memory file.
func EncodeWAV(pcm []byte, sampleRate int) ([]byte, error) {
	mem := afero.NewMemMapFs()

	f, err := mem.Create(wavName)
	if err != nil {
		return nil, fmt.Errorf("create wav buffer: %w", err)
	}

	samples := BytesToInt16(pcm)
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}

	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}

	if err := enc.Write(buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return nil, fmt.Errorf("finalize wav: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, err
	}

	return afero.ReadFile(mem, wavName)
}
