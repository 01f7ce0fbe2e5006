package audio

import (
	"context"
	"fmt"
	"math"
	"os/exec"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

const maxVolume = 150

var percentRe = regexp.MustCompile(`(\d+)\s*%`)

type sinkInput struct {
	ID      int
	Volume  int
	AppName string
}

type fadeStep struct {
	id   int
	from int
	to   int
}

// Pactl runs a pactl subcommand and returns its stdout.
type Pactl func(ctx context.Context, args ...string) ([]byte, error)

func execPactl(ctx context.Context, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, "pactl", args...).Output()
}

// Ducker lowers every PulseAudio sink input except our own while the
// assistant speaks, then restores the original levels.
type Ducker struct {
	mu        sync.Mutex
	active    bool
	selfNames []string
	original  map[int]int
	minVolume int
	factor    float64
	fade      time.Duration
	pactl     Pactl
}

// NewDucker keeps streams named in selfNames untouched. Others are scaled by
// factor but never below minVolume percent.
func NewDucker(selfNames []string, factor float64, minVolume int, fade time.Duration) *Ducker {
	return &Ducker{
		selfNames: slices.Clone(selfNames),
		original:  make(map[int]int),
		minVolume: max(0, min(minVolume, maxVolume)),
		factor:    factor,
		fade:      fade,
		pactl:     execPactl,
	}
}

// WithPactl replaces the pactl runner.
func (d *Ducker) WithPactl(p Pactl) *Ducker {
	d.pactl = p
	return d
}

func (d *Ducker) Duck(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.active {
		return nil
	}

	inputs, err := d.listInputs(ctx)
	if err != nil {
		return err
	}

	d.original = make(map[int]int)

	var steps []fadeStep
	for _, in := range inputs {
		if slices.Contains(d.selfNames, in.AppName) {
			continue
		}

		target := math.Max(float64(in.Volume)*d.factor, float64(d.minVolume))
		target = math.Min(target, maxVolume)

		d.original[in.ID] = in.Volume
		steps = append(steps, fadeStep{id: in.ID, from: in.Volume, to: int(math.Round(target))})
	}

	if err := d.fadeAll(ctx, steps); err != nil {
		return err
	}

	d.active = true
	return nil
}

func (d *Ducker) Restore(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.active {
		return nil
	}

	inputs, err := d.listInputs(ctx)
	if err != nil {
		return err
	}

	var steps []fadeStep
	for _, in := range inputs {
		orig, ok := d.original[in.ID]
		if !ok {
			// appeared after ducking
			continue
		}
		steps = append(steps, fadeStep{id: in.ID, from: in.Volume, to: orig})
	}

	if err := d.fadeAll(ctx, steps); err != nil {
		return err
	}

	d.original = make(map[int]int)
	d.active = false
	return nil
}

func (d *Ducker) fadeAll(ctx context.Context, steps []fadeStep) error {
	if len(steps) == 0 {
		return nil
	}

	if d.fade <= 0 {
		for _, s := range steps {
			if err := d.setVolume(ctx, s.id, s.to); err != nil {
				return fmt.Errorf("set volume id=%d: %w", s.id, err)
			}
		}
		return nil
	}

	const minStep = 10 * time.Millisecond

	n := max(1, int(d.fade/minStep))
	pause := d.fade / time.Duration(n)

	for i := 0; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		frac := float64(i) / float64(n)
		for _, s := range steps {
			v := int(math.Round(float64(s.from) + float64(s.to-s.from)*frac))
			if err := d.setVolume(ctx, s.id, v); err != nil {
				return fmt.Errorf("set volume id=%d: %w", s.id, err)
			}
		}

		if i < n && pause > 0 {
			time.Sleep(pause)
		}
	}

	return nil
}

func (d *Ducker) listInputs(ctx context.Context) ([]sinkInput, error) {
	out, err := d.pactl(ctx, "list", "sink-inputs")
	if err != nil {
		return nil, fmt.Errorf("pactl list sink-inputs: %w", err)
	}
	return parseSinkInputs(string(out)), nil
}

func (d *Ducker) setVolume(ctx context.Context, id, percent int) error {
	percent = max(0, min(percent, maxVolume))
	_, err := d.pactl(ctx, "set-sink-input-volume", strconv.Itoa(id), fmt.Sprintf("%d%%", percent))
	return err
}

// parseSinkInputs reads the volume and application.name of each block of
// `pactl list sink-inputs` output.
func parseSinkInputs(text string) []sinkInput {
	blocks := strings.Split(text, "Sink Input #")
	if len(blocks) <= 1 {
		return nil
	}

	var res []sinkInput
	for _, block := range blocks[1:] {
		header, body, ok := strings.Cut(block, "\n")
		if !ok {
			continue
		}

		id, err := strconv.Atoi(strings.TrimSpace(header))
		if err != nil {
			continue
		}

		in := sinkInput{ID: id}
		for _, line := range strings.Split(body, "\n") {
			line = strings.TrimSpace(line)

			if strings.HasPrefix(line, "Volume:") && in.Volume == 0 {
				if m := percentRe.FindStringSubmatch(line); len(m) >= 2 {
					in.Volume, _ = strconv.Atoi(m[1])
				}
			}

			if rest, ok := strings.CutPrefix(line, "application.name ="); ok && in.AppName == "" {
				in.AppName = strings.Trim(strings.TrimSpace(rest), `"`)
			}
		}

		if in.Volume == 0 && in.AppName == "" {
			continue
		}
		res = append(res, in)
	}

	return res
}
