package protocol

import "errors"

var (
	ErrShortMessage = errors.New("message truncated")
	ErrBadLength    = errors.New("message length out of range")
	ErrBadDest      = errors.New("message sequence byte lacks destination bits")
	ErrBadSync      = errors.New("message missing trailing sync byte")
	ErrBadCRC       = errors.New("message CRC mismatch")
	ErrOverflow     = errors.New("message does not fit in output buffer")
)

// CommandHandler handles one decoded command. The handler decodes its own
// arguments from data, advancing it past what it consumed.
type CommandHandler func(cmdID uint16, data *[]byte) error

// EncodeMessage appends a complete message carrying seq to output. body
// writes the commands.
func EncodeMessage(output OutputBuffer, seq uint8, body func(output OutputBuffer)) {
	cursor := output.CurPosition()
	output.Output([]byte{0, seq&MessageSeqMask | MessageDest})
	if body != nil {
		body(output)
	}
	n := len(output.DataSince(cursor)) + MessageTrailerSize
	output.Update(cursor, uint8(n))

	crc := CRC16(output.DataSince(cursor))
	output.Output([]byte{uint8(crc >> 8), uint8(crc), MessageValueSync})
}

// EncodeCommand writes a command ID and its unsigned arguments.
func EncodeCommand(output OutputBuffer, cmdID uint16, args ...uint32) {
	EncodeVLQUint(output, uint32(cmdID))
	for _, a := range args {
		EncodeVLQUint(output, a)
	}
}

// DecodeMessage validates the message at the front of data and returns its
// sequence byte, the command bytes between header and trailer, and the
// remaining input. Leading sync bytes are skipped.
func DecodeMessage(data []byte) (seq uint8, body, rest []byte, err error) {
	data = skipSync(data)
	if len(data) < MessageLengthMin {
		return 0, nil, nil, ErrShortMessage
	}
	n := int(data[MessagePositionLen])
	if n < MessageLengthMin {
		return 0, nil, nil, ErrBadLength
	}
	if len(data) < n {
		return 0, nil, nil, ErrShortMessage
	}
	seq = data[MessagePositionSeq]
	if seq&^MessageSeqMask != MessageDest {
		return 0, nil, nil, ErrBadDest
	}
	if data[n-MessageTrailerSync] != MessageValueSync {
		return 0, nil, nil, ErrBadSync
	}
	crc := uint16(data[n-MessageTrailerCRC])<<8 | uint16(data[n-MessageTrailerCRC+1])
	if crc != CRC16(data[:n-MessageTrailerSize]) {
		return 0, nil, nil, ErrBadCRC
	}
	return seq, data[MessageHeaderSize : n-MessageTrailerSize], data[n:], nil
}

// Transport tracks the host's message sequence and dispatches the commands
// of in-sequence messages. A message carrying the initial sequence while a
// later one is expected is treated as a host reset.
type Transport struct {
	nextSequence  uint8
	handler       CommandHandler
	resetCallback func()
}

func NewTransport(handler CommandHandler) *Transport {
	return &Transport{nextSequence: MessageDest, handler: handler}
}

// SetResetCallback registers a function called when a host reset is seen.
func (t *Transport) SetResetCallback(fn func()) {
	t.resetCallback = fn
}

// Sequence returns the sequence byte the next host message must carry; the
// device acknowledges with the same value.
func (t *Transport) Sequence() uint8 { return t.nextSequence }

// Receive decodes every message in data. Out-of-sequence messages are
// dropped without dispatch. A zero length byte marks link-layer padding and
// ends the input. The first framing or handler error stops processing and
// is returned.
func (t *Transport) Receive(data []byte) error {
	for {
		data = skipSync(data)
		if len(data) == 0 || data[MessagePositionLen] == 0 {
			return nil
		}
		seq, body, rest, err := DecodeMessage(data)
		if err != nil {
			return err
		}
		data = rest

		if seq == MessageDest && t.nextSequence != MessageDest {
			t.nextSequence = MessageDest
			if t.resetCallback != nil {
				t.resetCallback()
			}
		}
		if seq != t.nextSequence {
			continue
		}
		t.nextSequence = (seq+1)&MessageSeqMask | MessageDest
		if err := t.dispatch(body); err != nil {
			return err
		}
	}
}

func (t *Transport) dispatch(body []byte) error {
	for len(body) > 0 {
		id, err := DecodeVLQUint(&body)
		if err != nil {
			return err
		}
		if t.handler == nil {
			continue
		}
		if err := t.handler(uint16(id), &body); err != nil {
			return err
		}
	}
	return nil
}

// Reset returns the transport to its power-on sequence.
func (t *Transport) Reset() {
	t.nextSequence = MessageDest
}

func skipSync(data []byte) []byte {
	for len(data) > 0 && data[0] == MessageValueSync {
		data = data[1:]
	}
	return data
}
