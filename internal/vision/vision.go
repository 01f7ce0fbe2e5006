// Package vision asks a multimodal chat model about what the wearer sees and
// writes end-of-day survey reports.
package vision

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	log "log/slog"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"

	"airpiece/internal/eventlog"
)

const scenePrompt = `
You are Airpiece, a hands-free AI assistant mounted on a hard hat.
You help with green roof site surveys. You can see through a camera on the user's head.

Guidelines:
- Be concise. Your responses are read aloud through an earpiece while the user is working.
- Keep answers to 1-3 sentences unless asked for detail.
- When logging observations, confirm what you see and the note.
- For plant/species ID, give common name first, then latin name.
- For safety hazards, be direct and specific about the risk.
- You have access to GPS coordinates and timestamps for geolocation.
`

const reportPrompt = `You are a technical report writer for green roof site surveys.`

const reportRequest = `Generate a concise site survey report from these logged events:

%s

Format: Summary, Key Findings (bulleted), Recommended Actions, Issues Noted.
Keep it professional and suitable for a client handover.`

const (
	DefaultModel     = "gpt-4o"
	DefaultMaxTokens = 1024
	reportMaxTokens  = 2048
)

var ErrEmptyResponse = errors.New("vision: empty response")

type Options struct {
	Model     string
	MaxTokens int
}

type Analyst struct {
	client openai.Client
	opt    Options
}

func New(client openai.Client, opt Options) *Analyst {
	if opt.Model == "" {
		opt.Model = DefaultModel
	}
	if opt.MaxTokens <= 0 {
		opt.MaxTokens = DefaultMaxTokens
	}
	return &Analyst{client: client, opt: opt}
}

// AnalyzeScene sends the request, and the JPEG frame when there is one, with
// optional situational context prepended.
func (a *Analyst) AnalyzeScene(ctx context.Context, text string, image []byte, sceneContext string) (string, error) {
	prompt := text
	if sceneContext != "" {
		prompt = sceneContext + "\n\nUser says: " + text
	}

	parts := []openai.ChatCompletionContentPartUnionParam{}
	if len(image) > 0 {
		parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(image),
		}))
	}
	parts = append(parts, openai.TextContentPart(prompt))

	return a.complete(ctx, scenePrompt, openai.UserMessage(parts), a.opt.MaxTokens)
}

// GenerateReport summarises events into a client-facing report.
func (a *Analyst) GenerateReport(ctx context.Context, events []eventlog.Event) (string, error) {
	if len(events) == 0 {
		return "", errors.New("vision: no events to report")
	}

	msg := fmt.Sprintf(reportRequest, Summarize(events))
	return a.complete(ctx, reportPrompt, openai.UserMessage(msg), reportMaxTokens)
}

func (a *Analyst) complete(ctx context.Context, system string, user openai.ChatCompletionMessageParamUnion, maxTokens int) (string, error) {
	started := time.Now()

	resp, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			user,
		},
		Model:               openai.ChatModel(a.opt.Model),
		MaxCompletionTokens: openai.Int(int64(maxTokens)),
	})
	if err != nil {
		return "", fmt.Errorf("vision: chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("vision: no choices in response")
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptyResponse
	}

	log.Debug("Model replied", "model", a.opt.Model, "took", time.Since(started), "chars", len(content))
	return content, nil
}

// Summarize renders one line per event for the report prompt.
func Summarize(events []eventlog.Event) string {
	var b strings.Builder
	for i, e := range events {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "- [%s] (%s) %s → %s",
			e.Timestamp.UTC().Format(time.RFC3339), e.Type, e.Transcript, e.Response)
	}
	return b.String()
}
