// Package ctrl speaks the bridge's control channel from the host side. It
// builds control frames carrying protocol messages and decodes the
// responses, fault reports and sample frames the bridge sends back.
package ctrl

import (
	"github.com/google/netstack/tcpip"
	"github.com/google/netstack/tcpip/header"
	"github.com/pkg/errors"

	"sdrbridge/core"
	"sdrbridge/protocol"
)

var (
	ErrShortFrame = errors.New("frame too short")
	ErrEtherType  = errors.New("unexpected ethertype")
)

// Client encodes commands for one bridge. It tracks the message sequence
// the bridge expects next.
type Client struct {
	src    tcpip.LinkAddress
	bridge tcpip.LinkAddress
	seq    uint8
}

// NewClient returns a client sending from src to bridge.
func NewClient(src, bridge tcpip.LinkAddress) *Client {
	return &Client{src: src, bridge: bridge, seq: protocol.MessageDest}
}

// Reset makes the next frame carry the initial sequence, which the bridge
// treats as a host reset.
func (c *Client) Reset() { c.seq = protocol.MessageDest }

// Command builds a control frame carrying one command.
func (c *Client) Command(id uint16, args ...uint32) []byte {
	out := protocol.NewScratchOutput()
	protocol.EncodeMessage(out, c.seq, func(o protocol.OutputBuffer) {
		protocol.EncodeCommand(o, id, args...)
	})
	c.seq = (c.seq+1)&protocol.MessageSeqMask | protocol.MessageDest

	frame := make([]byte, header.EthernetMinimumSize+core.TransportHeaderBytes, header.EthernetMinimumSize+core.TransportHeaderBytes+len(out.Result()))
	header.Ethernet(frame).Encode(&header.EthernetFields{
		SrcAddr: c.src,
		DstAddr: c.bridge,
		Type:    core.ControlEtherType,
	})
	frame = append(frame, out.Result()...)
	if len(frame) < header.EthernetMinimumSize+46 {
		frame = append(frame, make([]byte, header.EthernetMinimumSize+46-len(frame))...)
	}
	return frame
}

func (c *Client) StartRxStreaming(items uint32, at core.StartTime) []byte {
	return c.Command(core.CmdStartRxStreaming, items, at.Secs, at.Ticks)
}

func (c *Client) StopRx() []byte     { return c.Command(core.CmdStopRx) }
func (c *Client) RestartRx() []byte  { return c.Command(core.CmdRestartRx) }
func (c *Client) ClearFault() []byte { return c.Command(core.CmdClearFault) }
func (c *Client) GetStatus() []byte  { return c.Command(core.CmdGetStatus) }

func (c *Client) GetDictionary(offset uint32) []byte {
	return c.Command(core.CmdGetDictionary, offset)
}

// Status is the decoded status response.
type Status struct {
	Streaming     bool
	Faulted       bool
	ItemsPerFrame uint32
	Seqno         uint32
	Overruns      uint32
	Underruns     uint32
	Faults        uint32
}

// Fault is a decoded fault report.
type Fault struct {
	Kind   core.FaultKind
	Dir    core.Direction
	Buffer int
	Clock  uint32
}

// Dictionary is one chunk of the bridge's command dictionary.
type Dictionary struct {
	Offset uint32
	Data   []byte
}

// Message is one decoded response. Exactly one field is set.
type Message struct {
	Status     *Status
	Fault      *Fault
	Dictionary *Dictionary
}

// ParseControl decodes every response in a control frame.
func ParseControl(frame []byte) ([]Message, error) {
	if len(frame) < header.EthernetMinimumSize+core.TransportHeaderBytes {
		return nil, ErrShortFrame
	}
	eth := header.Ethernet(frame)
	if eth.Type() != core.ControlEtherType {
		return nil, errors.Wrapf(ErrEtherType, "%#04x", uint16(eth.Type()))
	}
	data := frame[header.EthernetMinimumSize+core.TransportHeaderBytes:]

	var msgs []Message
	for {
		for len(data) > 0 && data[0] == protocol.MessageValueSync {
			data = data[1:]
		}
		if len(data) == 0 || data[0] == 0 {
			return msgs, nil
		}
		_, body, rest, err := protocol.DecodeMessage(data)
		if err != nil {
			return msgs, errors.Wrap(err, "decode message")
		}
		data = rest
		for len(body) > 0 {
			m, err := decodeResponse(&body)
			if err != nil {
				return msgs, errors.Wrap(err, "decode response")
			}
			msgs = append(msgs, m)
		}
	}
}

func decodeResponse(body *[]byte) (Message, error) {
	id, err := protocol.DecodeVLQUint(body)
	if err != nil {
		return Message{}, err
	}
	switch uint16(id) {
	case core.RespStatus:
		v, err := decodeUints(body, 7)
		if err != nil {
			return Message{}, err
		}
		return Message{Status: &Status{
			Streaming:     v[0] != 0,
			Faulted:       v[1] != 0,
			ItemsPerFrame: v[2],
			Seqno:         v[3],
			Overruns:      v[4],
			Underruns:     v[5],
			Faults:        v[6],
		}}, nil
	case core.RespFault:
		v, err := decodeUints(body, 4)
		if err != nil {
			return Message{}, err
		}
		return Message{Fault: &Fault{
			Kind:   core.FaultKind(v[0]),
			Dir:    core.Direction(v[1]),
			Buffer: int(int32(v[2])),
			Clock:  v[3],
		}}, nil
	case core.RespDictionary:
		off, err := protocol.DecodeVLQUint(body)
		if err != nil {
			return Message{}, err
		}
		data, err := protocol.DecodeVLQBytes(body)
		if err != nil {
			return Message{}, err
		}
		return Message{Dictionary: &Dictionary{Offset: off, Data: data}}, nil
	default:
		return Message{}, errors.Errorf("unexpected response id %d", id)
	}
}

func decodeUints(body *[]byte, n int) ([]uint32, error) {
	v := make([]uint32, n)
	for i := range v {
		x, err := protocol.DecodeVLQUint(body)
		if err != nil {
			return nil, err
		}
		v[i] = x
	}
	return v, nil
}

// DataFrame is a decoded Rx sample frame.
type DataFrame struct {
	Src, Dst  tcpip.LinkAddress
	Seqno     uint8
	VRTHeader uint32
	StreamID  uint32
	Samples   []uint32
	Trailer   uint32
}

// ParseData decodes an Rx sample frame.
func ParseData(frame []byte) (DataFrame, error) {
	const hdr = header.EthernetMinimumSize + core.TransportHeaderBytes
	if len(frame) < hdr+(core.VRTHeaderWords+core.VRTTrailerWords)*core.LineBytes {
		return DataFrame{}, ErrShortFrame
	}
	eth := header.Ethernet(frame)
	if eth.Type() != core.DataEtherType {
		return DataFrame{}, errors.Wrapf(ErrEtherType, "%#04x", uint16(eth.Type()))
	}
	df := DataFrame{
		Src:   eth.SourceAddress(),
		Dst:   eth.DestinationAddress(),
		Seqno: frame[header.EthernetMinimumSize+2],
	}
	words := make([]uint32, (len(frame)-hdr)/core.LineBytes)
	for i := range words {
		o := hdr + i*core.LineBytes
		words[i] = uint32(frame[o])<<24 | uint32(frame[o+1])<<16 | uint32(frame[o+2])<<8 | uint32(frame[o+3])
	}
	df.VRTHeader = words[0]
	df.StreamID = words[1]
	n := int(core.VRTFrameWords(df.VRTHeader))
	if n < core.VRTHeaderWords+core.VRTTrailerWords || n > len(words) {
		return DataFrame{}, errors.Wrapf(ErrShortFrame, "vrt size %d", n)
	}
	df.Samples = words[core.VRTHeaderWords : n-core.VRTTrailerWords]
	df.Trailer = words[n-1]
	return df, nil
}

// IsControl reports whether frame carries the control ethertype.
func IsControl(frame []byte) bool {
	return len(frame) >= header.EthernetMinimumSize &&
		header.Ethernet(frame).Type() == core.ControlEtherType
}
