// Package console decodes the bridge's debug console stream: boot banners,
// fault lines with their one-character markers, and control channel
// diagnostics.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"sdrbridge/core"
	"sdrbridge/protocol"
)

// Kind classifies a console line.
type Kind int

const (
	KindText Kind = iota
	KindBoot
	KindFault
	KindCtrl
)

func (k Kind) String() string {
	switch k {
	case KindBoot:
		return "boot"
	case KindFault:
		return "fault"
	case KindCtrl:
		return "ctrl"
	}
	return "text"
}

// Event is one decoded console line.
type Event struct {
	Kind  Kind
	Text  string
	Fault core.FaultEvent // set for KindFault
}

var ErrBadFault = errors.New("malformed fault line")

// ParseLine decodes a single line without its trailing newline.
func ParseLine(line string) (Event, error) {
	switch {
	case strings.HasPrefix(line, core.ConsoleBoot):
		return Event{Kind: KindBoot, Text: strings.TrimPrefix(line, core.ConsoleBoot)}, nil
	case strings.HasPrefix(line, core.ConsoleCtrl):
		return Event{Kind: KindCtrl, Text: strings.TrimPrefix(line, core.ConsoleCtrl)}, nil
	case len(line) > 1 && strings.HasPrefix(line[1:], core.ConsoleFault):
		f, err := parseFault(line[0], line[1+len(core.ConsoleFault):])
		if err != nil {
			return Event{Kind: KindText, Text: line}, err
		}
		return Event{Kind: KindFault, Text: line, Fault: f}, nil
	}
	return Event{Kind: KindText, Text: line}, nil
}

func parseFault(marker byte, fields string) (core.FaultEvent, error) {
	var e core.FaultEvent
	for _, kv := range strings.Fields(fields) {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return e, fmt.Errorf("%w: field %q", ErrBadFault, kv)
		}
		switch k {
		case "kind":
			kind, ok := core.ParseFaultKind(v)
			if !ok {
				return e, fmt.Errorf("%w: kind %q", ErrBadFault, v)
			}
			e.Kind = kind
		case "dir":
			if v == "rx" {
				e.Dir = core.DirRx
			}
		case "buf":
			n, err := strconv.Atoi(v)
			if err != nil {
				return e, fmt.Errorf("%w: buf: %v", ErrBadFault, err)
			}
			e.Buffer = n
		case "clock":
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil {
				return e, fmt.Errorf("%w: clock: %v", ErrBadFault, err)
			}
			e.Clock = uint32(n)
		case "streaming":
			e.Streaming = v == "1"
		}
	}
	if e.Kind == 0 || e.Kind.Marker() != marker {
		return e, fmt.Errorf("%w: marker %q does not match kind %v", ErrBadFault, marker, e.Kind)
	}
	return e, nil
}

// Decoder reassembles console lines from arbitrary chunks.
type Decoder struct {
	fifo *protocol.FifoBuffer
	log  *zap.Logger
	// skip drops the tail of a line whose head overflowed the buffer.
	skip bool
}

// DecoderBuffer bounds one console line.
const DecoderBuffer = 4096

// NewDecoder returns a decoder that reports malformed lines to log.
func NewDecoder(log *zap.Logger) *Decoder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Decoder{fifo: protocol.NewFifoBuffer(DecoderBuffer), log: log}
}

// Feed consumes data and returns every line it completed.
func (d *Decoder) Feed(data []byte) []Event {
	var events []Event
	for len(data) > 0 {
		n := d.fifo.Write(data)
		data = data[n:]
		events = d.drain(events)
		if n == 0 && d.fifo.Free() == 0 {
			// A line longer than the buffer: drop what is held.
			d.log.Warn("console line overflow", zap.Int("bytes", d.fifo.Available()))
			d.fifo.Reset()
			d.skip = true
		}
	}
	return events
}

func (d *Decoder) drain(events []Event) []Event {
	for {
		line := d.fifo.ReadUntil('\n')
		if line == nil {
			return events
		}
		if d.skip {
			d.skip = false
			continue
		}
		text := strings.TrimRight(string(line), "\r\n")
		if text == "" {
			continue
		}
		e, err := ParseLine(text)
		if err != nil {
			d.log.Warn("console", zap.Error(err), zap.String("line", text))
		}
		events = append(events, e)
	}
}

// Run reads r until it fails or ctx is done, sending each event to out.
func (d *Decoder) Run(ctx context.Context, r io.Reader, out chan<- Event) error {
	buf := make([]byte, 256)
	for {
		n, err := r.Read(buf)
		for _, e := range d.Feed(buf[:n]) {
			select {
			case out <- e:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// Log writes e to log at a level matching its kind.
func Log(log *zap.Logger, e Event) {
	switch e.Kind {
	case KindFault:
		log.Warn("fault",
			zap.Stringer("kind", e.Fault.Kind),
			zap.Stringer("dir", e.Fault.Dir),
			zap.Int("buf", e.Fault.Buffer),
			zap.Uint32("clock", e.Fault.Clock),
			zap.Uint32("clock_us", core.TicksToUS(e.Fault.Clock)),
			zap.Bool("streaming", e.Fault.Streaming))
	case KindBoot:
		log.Info("boot", zap.String("banner", e.Text))
	case KindCtrl:
		log.Info("control", zap.String("msg", e.Text))
	default:
		log.Debug("console", zap.String("text", e.Text))
	}
}
