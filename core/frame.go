package core

import (
	"github.com/google/netstack/tcpip"
	"github.com/google/netstack/tcpip/header"
)

// Frame layout shared by both directions. The link region is two bytes of
// alignment pad followed by an Ethernet II header, so the transport header
// and everything after it are line aligned. The MAC skips the pad on the
// wire.
const (
	LinkPad              = 2
	LinkHeaderBytes      = LinkPad + header.EthernetMinimumSize
	TransportHeaderBytes = 4
	FrameHeaderBytes     = LinkHeaderBytes + TransportHeaderBytes

	// TransportLine holds flags(31:16) | seqno(15:8) | fifo status(7:0).
	TransportLine = LinkHeaderBytes / LineBytes

	// FirstPayloadLine is the first line the DSP side reads or writes.
	FirstPayloadLine = FrameHeaderBytes / LineBytes

	seqnoShift = 8
	seqnoMask  = 0xFF << seqnoShift

	// MaxFrameBytes is a full-size Ethernet frame plus the pad.
	MaxFrameBytes = LinkPad + header.EthernetMinimumSize + 1500
	MaxFrameLines = MaxFrameBytes / LineBytes

	// MinFrameBytes is the shortest frame the MAC accepts, plus the pad.
	MinFrameBytes = LinkPad + 60
)

// Ethertypes carried by the bridge.
const (
	DataEtherType    tcpip.NetworkProtocolNumber = 0xBEEF
	ControlEtherType tcpip.NetworkProtocolNumber = 0xBEF0
)

// PutBytes copies b into line memory starting at byte offset off.
func PutBytes(ram []uint32, off int, b []byte) {
	for i, v := range b {
		o := off + i
		shift := uint(3-o%LineBytes) * 8
		line := &ram[o/LineBytes]
		*line = *line&^(0xFF<<shift) | uint32(v)<<shift
	}
}

// GetBytes reads n bytes of line memory starting at byte offset off.
func GetBytes(ram []uint32, off, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		o := off + i
		out[i] = byte(ram[o/LineBytes] >> (uint(3-o%LineBytes) * 8))
	}
	return out
}

// BuildFrameHeader returns the pad, Ethernet header and a zero transport
// header for frames from src to dst.
func BuildFrameHeader(dst, src tcpip.LinkAddress, etherType tcpip.NetworkProtocolNumber) []byte {
	hdr := make([]byte, FrameHeaderBytes)
	eth := header.Ethernet(hdr[LinkPad:LinkHeaderBytes])
	eth.Encode(&header.EthernetFields{
		SrcAddr: src,
		DstAddr: dst,
		Type:    etherType,
	})
	return hdr
}

// EthernetOf returns a copy of the Ethernet header held in ram.
func EthernetOf(ram []uint32) header.Ethernet {
	return header.Ethernet(GetBytes(ram, LinkPad, header.EthernetMinimumSize))
}

// SetSeqno overwrites the sequence byte of the transport header in place.
func SetSeqno(ram []uint32, seqno uint8) {
	t := ram[TransportLine]
	ram[TransportLine] = t&^seqnoMask | uint32(seqno)<<seqnoShift
}

// Seqno reads the sequence byte of the transport header.
func Seqno(ram []uint32) uint8 {
	return uint8(ram[TransportLine] >> seqnoShift)
}

// LinkAddress converts a raw MAC to the netstack representation.
func LinkAddress(mac [6]byte) tcpip.LinkAddress {
	return tcpip.LinkAddress(mac[:])
}
