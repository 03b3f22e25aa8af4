// Package protocol implements the control message framing carried in the
// payload of control Ethernet frames exchanged with the bridge.
//
// A message is laid out as
//
//	len(1) seq(1) commands... crc16(2) sync(1)
//
// where each command is a VLQ encoded command ID followed by its VLQ encoded
// arguments. The layout follows the Klipper/Anchor message block so the same
// CRC and VLQ helpers serve both directions.
package protocol

// Version of the control message format.
const Version = "1"

const (
	MessageHeaderSize  = 2
	MessageTrailerSize = 3
	MessageLengthMin   = MessageHeaderSize + MessageTrailerSize
	MessageLengthMax   = 255

	MessagePositionLen = 0
	MessagePositionSeq = 1
	MessageTrailerCRC  = 3
	MessageTrailerSync = 1

	MessageValueSync = 0x7E
	MessageDest      = 0x10
	MessageSeqMask   = 0x0F
)
