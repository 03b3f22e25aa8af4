package protocol

// InputBuffer is a read cursor over received message bytes.
type InputBuffer interface {
	Data() []byte
	Available() int
	Pop(n int)
}

// OutputBuffer accumulates an outgoing message. Update lets the encoder
// patch the length byte after the body has been written.
type OutputBuffer interface {
	Output(data []byte)
	CurPosition() int
	Update(pos int, val byte)
	DataSince(pos int) []byte
}

// SliceInputBuffer implements InputBuffer over a byte slice.
type SliceInputBuffer struct {
	data []byte
}

func NewSliceInputBuffer(data []byte) *SliceInputBuffer {
	return &SliceInputBuffer{data: data}
}

func (s *SliceInputBuffer) Data() []byte   { return s.data }
func (s *SliceInputBuffer) Available() int { return len(s.data) }

func (s *SliceInputBuffer) Pop(n int) {
	if n > len(s.data) {
		n = len(s.data)
	}
	s.data = s.data[n:]
}

// ScratchOutput is a fixed-size OutputBuffer sized for one control frame
// payload. Writes past the end are dropped; Overflowed reports it.
type ScratchOutput struct {
	buf      [ScratchSize]byte
	pos      int
	overflow bool
}

// ScratchSize bounds the payload of one outgoing control frame.
const ScratchSize = 1024

func NewScratchOutput() *ScratchOutput {
	return &ScratchOutput{}
}

func (s *ScratchOutput) Output(data []byte) {
	n := copy(s.buf[s.pos:], data)
	if n < len(data) {
		s.overflow = true
	}
	s.pos += n
}

func (s *ScratchOutput) CurPosition() int { return s.pos }

func (s *ScratchOutput) Update(pos int, val byte) {
	if pos >= 0 && pos < s.pos {
		s.buf[pos] = val
	}
}

func (s *ScratchOutput) DataSince(pos int) []byte {
	if pos < 0 || pos > s.pos {
		return nil
	}
	return s.buf[pos:s.pos]
}

// Result returns the bytes written so far. The slice aliases the scratch
// storage and is invalidated by Reset.
func (s *ScratchOutput) Result() []byte { return s.buf[:s.pos] }

// Overflowed reports whether any Output was truncated since the last Reset.
func (s *ScratchOutput) Overflowed() bool { return s.overflow }

func (s *ScratchOutput) Reset() {
	s.pos = 0
	s.overflow = false
}

// FifoBuffer is a byte ring used to reassemble the console stream, which
// arrives in arbitrary chunks from a serial port or pipe.
type FifoBuffer struct {
	buf   []byte
	read  int
	write int
}

// NewFifoBuffer creates a ring holding at most capacity-1 bytes.
func NewFifoBuffer(capacity int) *FifoBuffer {
	return &FifoBuffer{buf: make([]byte, capacity)}
}

// Write appends as much of data as fits and returns the count written.
func (f *FifoBuffer) Write(data []byte) int {
	n := 0
	for _, b := range data {
		next := (f.write + 1) % len(f.buf)
		if next == f.read {
			break
		}
		f.buf[f.write] = b
		f.write = next
		n++
	}
	return n
}

// Read moves up to len(data) bytes out of the ring.
func (f *FifoBuffer) Read(data []byte) int {
	n := 0
	for n < len(data) && f.read != f.write {
		data[n] = f.buf[f.read]
		f.read = (f.read + 1) % len(f.buf)
		n++
	}
	return n
}

func (f *FifoBuffer) Available() int {
	if f.write >= f.read {
		return f.write - f.read
	}
	return len(f.buf) - f.read + f.write
}

func (f *FifoBuffer) Free() int { return len(f.buf) - f.Available() - 1 }

func (f *FifoBuffer) IsEmpty() bool { return f.read == f.write }

// ReadUntil removes and returns the bytes up to and including the first
// occurrence of delim. It returns nil and leaves the ring untouched when
// delim has not arrived yet.
func (f *FifoBuffer) ReadUntil(delim byte) []byte {
	n := 0
	for i := f.read; i != f.write; i = (i + 1) % len(f.buf) {
		n++
		if f.buf[i] == delim {
			out := make([]byte, n)
			f.Read(out)
			return out
		}
	}
	return nil
}

func (f *FifoBuffer) Reset() {
	f.read = 0
	f.write = 0
}
