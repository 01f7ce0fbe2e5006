// Package stt turns utterance audio into text, either through Deepgram's
// prerecorded API or a local whisper.cpp model.
package stt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"
	restinterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

type DeepgramOptions struct {
	APIKey   string
	Model    string
	Language string
}

// fileTranscriber is the slice of the Deepgram REST client this package uses.
type fileTranscriber interface {
	FromStream(ctx context.Context, src io.Reader, options *interfaces.PreRecordedTranscriptionOptions) (*restinterfaces.PreRecordedResponse, error)
}

type Deepgram struct {
	rest fileTranscriber
	opt  *interfaces.PreRecordedTranscriptionOptions
}

func NewDeepgram(opt DeepgramOptions) (*Deepgram, error) {
	if opt.APIKey == "" {
		return nil, errors.New("stt: deepgram api key is empty")
	}
	if opt.Model == "" {
		opt.Model = "nova-2"
	}
	if opt.Language == "" {
		opt.Language = "en-GB"
	}

	client.Init(client.InitLib{})
	c := client.NewREST(opt.APIKey, &interfaces.ClientOptions{})

	return newDeepgram(api.New(c), opt), nil
}

func newDeepgram(rest fileTranscriber, opt DeepgramOptions) *Deepgram {
	return &Deepgram{
		rest: rest,
		opt: &interfaces.PreRecordedTranscriptionOptions{
			Model:       opt.Model,
			Language:    opt.Language,
			SmartFormat: true,
		},
	}
}

// Transcribe uploads one WAV utterance and returns the top alternative.
func (d *Deepgram) Transcribe(ctx context.Context, wav []byte) (string, error) {
	res, err := d.rest.FromStream(ctx, bytes.NewReader(wav), d.opt)
	if err != nil {
		return "", fmt.Errorf("stt: deepgram: %w", err)
	}
	return transcript(res), nil
}

func transcript(res *restinterfaces.PreRecordedResponse) string {
	if res == nil || res.Results == nil || len(res.Results.Channels) == 0 {
		return ""
	}
	alts := res.Results.Channels[0].Alternatives
	if len(alts) == 0 {
		return ""
	}
	return strings.TrimSpace(alts[0].Transcript)
}

func (d *Deepgram) Close() error { return nil }
