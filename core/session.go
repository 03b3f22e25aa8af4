package core

import "github.com/google/netstack/tcpip"

// TimeNow in both words of a StartTime requests an immediate start.
const TimeNow = ^uint32(0)

// StartTime is an absolute DSP time in seconds and ticks.
type StartTime struct {
	Secs  uint32
	Ticks uint32
}

// Now is the start time sentinel meaning "as soon as possible".
var Now = StartTime{Secs: TimeNow, Ticks: TimeNow}

// IsNow reports whether t is the immediate-start sentinel. Only the ticks
// word is significant.
func (t StartTime) IsNow() bool { return t.Ticks == TimeNow }

// Session is the receive streaming state. It is created by a start command
// and torn down by stop; the firmware owns exactly one.
type Session struct {
	streaming     bool
	itemsPerFrame uint32
	start         StartTime
	host          tcpip.LinkAddress

	// countdown is the number of frames left before another receive
	// command must be queued.
	countdown int
	seqno     uint32

	// faulted is set when an overrun hits an active stream. The stream is
	// left running; RestartStreaming clears it.
	faulted bool

	overruns  uint32
	underruns uint32
}

func (s *Session) Streaming() bool         { return s.streaming }
func (s *Session) ItemsPerFrame() uint32   { return s.itemsPerFrame }
func (s *Session) Start() StartTime        { return s.start }
func (s *Session) Host() tcpip.LinkAddress { return s.host }
func (s *Session) Countdown() int          { return s.countdown }
func (s *Session) Faulted() bool           { return s.faulted }
func (s *Session) Overruns() uint32        { return s.overruns }
func (s *Session) Underruns() uint32       { return s.underruns }

// Seqno returns the number of frames stamped since the last start. Its low
// 8 bits are the seqno the next stamped frame will carry.
func (s *Session) Seqno() uint32 { return s.seqno }
