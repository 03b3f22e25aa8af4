package protocol

import "errors"

var (
	ErrInvalidVLQ     = errors.New("invalid VLQ encoding")
	ErrBufferTooSmall = errors.New("buffer too small for VLQ")
)

// EncodeVLQInt writes v most significant group first, 7 bits per byte,
// using the fewest bytes that still sign-extend back to v.
func EncodeVLQInt(output OutputBuffer, v int32) {
	var tmp [5]byte
	n := 0
	if !(-(1<<26) <= v && v < (3<<26)) {
		tmp[n] = byte((v>>28)&0x7F) | 0x80
		n++
	}
	if !(-(1<<19) <= v && v < (3<<19)) {
		tmp[n] = byte((v>>21)&0x7F) | 0x80
		n++
	}
	if !(-(1<<12) <= v && v < (3<<12)) {
		tmp[n] = byte((v>>14)&0x7F) | 0x80
		n++
	}
	if !(-(1<<5) <= v && v < (3<<5)) {
		tmp[n] = byte((v>>7)&0x7F) | 0x80
		n++
	}
	tmp[n] = byte(v & 0x7F)
	output.Output(tmp[:n+1])
}

// EncodeVLQUint encodes v through its int32 bit pattern, so values such as
// 0xFFFFFFFF take a single byte.
func EncodeVLQUint(output OutputBuffer, v uint32) {
	EncodeVLQInt(output, int32(v))
}

// DecodeVLQInt consumes one VLQ value from the front of *data.
func DecodeVLQInt(data *[]byte) (int32, error) {
	if len(*data) == 0 {
		return 0, ErrBufferTooSmall
	}
	c := uint32((*data)[0])
	*data = (*data)[1:]

	v := c & 0x7F
	if c&0x60 == 0x60 {
		v |= ^uint32(0x1F)
	}
	for n := 1; c&0x80 != 0; n++ {
		if n > 5 {
			return 0, ErrInvalidVLQ
		}
		if len(*data) == 0 {
			return 0, ErrBufferTooSmall
		}
		c = uint32((*data)[0])
		*data = (*data)[1:]
		v = v<<7 | c&0x7F
	}
	return int32(v), nil
}

func DecodeVLQUint(data *[]byte) (uint32, error) {
	v, err := DecodeVLQInt(data)
	return uint32(v), err
}

// EncodeVLQBytes writes a length-prefixed byte string.
func EncodeVLQBytes(output OutputBuffer, data []byte) {
	EncodeVLQUint(output, uint32(len(data)))
	output.Output(data)
}

// DecodeVLQBytes returns a length-prefixed byte string. The result aliases
// *data.
func DecodeVLQBytes(data *[]byte) ([]byte, error) {
	length, err := DecodeVLQUint(data)
	if err != nil {
		return nil, err
	}
	if uint32(len(*data)) < length {
		return nil, ErrBufferTooSmall
	}
	result := (*data)[:length]
	*data = (*data)[length:]
	return result, nil
}
