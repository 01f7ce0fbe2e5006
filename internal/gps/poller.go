// Package gps tracks the last known position from an NMEA serial receiver.
package gps

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	log "log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	"go.bug.st/serial"
)

// maxSentence bounds a partial line carried across read timeouts; NMEA 0183
// sentences are at most 82 characters.
const maxSentence = 256

type Position struct {
	Lat float64
	Lon float64
	At  time.Time
}

// Poller reads sentences from a receiver and keeps the newest fix. Latest
// never blocks.
type Poller struct {
	port    io.ReadCloser
	latest  atomic.Pointer[Position]
	skipped atomic.Uint64
	now     func() time.Time

	closeOnce sync.Once
	closed    atomic.Bool
}

// Open opens a serial receiver such as a NEO-6M on /dev/ttyAMA0.
func Open(portName string, baud int) (*Poller, error) {
	port, err := serial.Open(portName, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("gps: open %s: %w", portName, err)
	}
	if err := port.SetReadTimeout(time.Second); err != nil {
		port.Close()
		return nil, fmt.Errorf("gps: set timeout: %w", err)
	}

	log.Info("GPS serial opened", "port", portName, "baud", baud)
	return NewPoller(port), nil
}

// NewPoller reads NMEA lines from r.
func NewPoller(r io.ReadCloser) *Poller {
	return &Poller{port: r, now: time.Now}
}

// Latest returns the most recent fix, if any.
func (p *Poller) Latest() (Position, bool) {
	pos := p.latest.Load()
	if pos == nil {
		return Position{}, false
	}
	return *pos, true
}

// Skipped counts lines that were not a usable fix.
func (p *Poller) Skipped() uint64 {
	return p.skipped.Load()
}

// Run reads until ctx is cancelled, the poller is closed or the port fails.
// A failing port only stops position updates, so Run logs and returns nil.
func (p *Poller) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		p.Close()
	}()

	rd := bufio.NewReader(p.port)
	var partial string
	for {
		line, err := rd.ReadString('\n')
		line, partial = partial+line, ""

		switch {
		case err == nil:
			p.Update(line)
		case errors.Is(err, io.ErrNoProgress):
			// Serial read timeouts surface as empty reads, possibly in the
			// middle of a sentence.
			if len(line) > maxSentence {
				p.skipped.Add(1)
				line = ""
			}
			partial = line
		case ctx.Err() != nil || p.closed.Load():
			return nil
		default:
			p.Update(line)
			log.Warn("GPS read failed, position updates stopped", "err", err)
			return nil
		}
	}
}

// Update parses one NMEA sentence and stores it when it carries a valid fix.
// Malformed sentences are counted and ignored.
func (p *Poller) Update(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	s, err := nmea.Parse(line)
	if err != nil {
		p.skipped.Add(1)
		log.Debug("Skipping NMEA sentence", "err", err)
		return false
	}

	var lat, lon float64
	switch m := s.(type) {
	case nmea.GGA:
		if m.FixQuality == nmea.Invalid {
			p.skipped.Add(1)
			return false
		}
		lat, lon = m.Latitude, m.Longitude
	case nmea.RMC:
		if m.Validity != nmea.ValidRMC {
			p.skipped.Add(1)
			return false
		}
		lat, lon = m.Latitude, m.Longitude
	default:
		return false
	}

	p.latest.Store(&Position{Lat: lat, Lon: lon, At: p.now()})
	return true
}

func (p *Poller) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		err = p.port.Close()
		log.Info("GPS serial closed")
	})
	return err
}
