package core

import "github.com/google/netstack/tcpip"

// Disposition is an inspector's verdict on a received buffer.
type Disposition uint8

const (
	// Inspected frames are forwarded to the DBSM's send port.
	Inspected Disposition = iota
	// Handled frames were consumed by the inspector; the buffer is
	// released without being sent.
	Handled
)

// Inspector looks at each buffer a DBSM fills before it is forwarded.
// The set of inspectors is closed to this package.
type Inspector interface {
	Inspect(sm *DBSM, buf int) Disposition
	inspector()
}

// NopInspector forwards every frame untouched.
type NopInspector struct{}

func (NopInspector) Inspect(*DBSM, int) Disposition { return Inspected }
func (NopInspector) inspector()                     {}

// SeqnoInspector sits on the Rx path. It stamps the low 8 bits of the
// session's frame counter into the transport word and keeps the receive
// command queue fed.
type SeqnoInspector struct {
	streamer *Streamer
	stamp    bool
}

// NewSeqnoInspector returns an Rx inspector for c. With stamp false the
// transport word is left as the DSP wrote it and only command refill runs.
func NewSeqnoInspector(c *Streamer, stamp bool) *SeqnoInspector {
	return &SeqnoInspector{streamer: c, stamp: stamp}
}

func (in *SeqnoInspector) Inspect(sm *DBSM, buf int) Disposition {
	if in.stamp {
		s := in.streamer.session
		SetSeqno(sm.pool.RAM(buf), uint8(s.seqno))
		s.seqno++
	}
	in.streamer.frameForwarded()
	return Inspected
}

func (*SeqnoInspector) inspector() {}

// ControlHandler receives the payload of a control frame and the link
// address it came from.
type ControlHandler func(src tcpip.LinkAddress, payload []byte)

// ControlInspector sits on the Tx path. Control frames are handed to the
// handler, sample frames go on to the DSP and anything else is dropped.
type ControlInspector struct {
	handler ControlHandler
	dropped uint32
}

func NewControlInspector(h ControlHandler) *ControlInspector {
	return &ControlInspector{handler: h}
}

func (in *ControlInspector) Inspect(sm *DBSM, buf int) Disposition {
	ram := sm.pool.RAM(buf)
	eth := EthernetOf(ram)
	switch eth.Type() {
	case DataEtherType:
		return Inspected
	case ControlEtherType:
		n := (int(sm.pool.LastLine(buf)) + 1) * LineBytes
		if n <= FrameHeaderBytes {
			in.dropped++
			return Handled
		}
		payload := GetBytes(ram, FrameHeaderBytes, n-FrameHeaderBytes)
		if in.handler != nil {
			in.handler(eth.SourceAddress(), payload)
		}
		return Handled
	default:
		in.dropped++
		return Handled
	}
}

// Dropped counts frames discarded for an unknown ethertype or short length.
func (in *ControlInspector) Dropped() uint32 { return in.dropped }

func (*ControlInspector) inspector() {}
