package core

// Buffer pool geometry.
const (
	NumBuffers  = 8
	BufferLines = 512
	LineBytes   = 4

	// MaxLastLine is the largest line index a receive may write.
	MaxLastLine = BufferLines - 1
)

// Fixed buffer assignments, reserved at init and never reallocated.
const (
	CPUTxBuf  = 1 // cpu -> host frames (responses, fault reports)
	DSPRxBuf0 = 2 // dsp rx -> eth, double buffered with DSPRxBuf0+1
	DSPTxBuf0 = 4 // eth -> dsp tx, double buffered with DSPTxBuf0+1
)

// Control word layout.
const (
	bpcRead  = 1 << 31 // drain buffer to port
	bpcWrite = 1 << 30 // fill buffer from port
	bpcClear = 1 << 29

	bpcBufferShift = 26
	bpcPortShift   = 24
	bpcLastShift   = 9
	bpcLineMask    = 0x1FF
)

// BufferControl encodes a buffer pool control word.
func BufferControl(op uint32, buf, port int, first, last uint32) uint32 {
	return op |
		uint32(buf&0x7)<<bpcBufferShift |
		uint32(port&0x3)<<bpcPortShift |
		(last&bpcLineMask)<<bpcLastShift |
		first&bpcLineMask
}

// DecodeBufferControl splits a control word; used by register models.
func DecodeBufferControl(word uint32) (read, write, clear bool, buf, port int, first, last uint32) {
	read = word&bpcRead != 0
	write = word&bpcWrite != 0
	clear = word&bpcClear != 0
	buf = int(word>>bpcBufferShift) & 0x7
	port = int(word>>bpcPortShift) & 0x3
	last = (word >> bpcLastShift) & bpcLineMask
	first = word & bpcLineMask
	return
}

// Status bits for buffer n.
func StatusDone(n int) uint32  { return 1 << uint(n) }
func StatusError(n int) uint32 { return 1 << uint(n+8) }
func StatusIdle(n int) uint32  { return 1 << uint(n+16) }

// ErrorBuffer returns the first of buffers buf0 and buf0+1 whose error bit
// is set in status, or -1.
func ErrorBuffer(status uint32, buf0 int) int {
	for buf := buf0; buf < buf0+2; buf++ {
		if status&StatusError(buf) != 0 {
			return buf
		}
	}
	return -1
}

// BufCmdArgs describes one side of a transfer: the port, the first line of
// the buffer that port sees, and the last line. A LastLine of zero on a send
// means the extent reported by the preceding receive.
type BufCmdArgs struct {
	Port      int
	FirstLine uint32
	LastLine  uint32
}

// Pool is the firmware view of the buffer pool. It holds no state of its
// own beyond the driver.
type Pool struct {
	drv BufferPoolDriver
}

func NewPool(drv BufferPoolDriver) *Pool {
	return &Pool{drv: drv}
}

// Status returns the completion bits latched since the previous poll.
func (p *Pool) Status() uint32 {
	return p.drv.Status()
}

// Clear aborts any transfer on buf and returns it to the firmware, discarding
// in-flight data.
func (p *Pool) Clear(buf int) {
	p.drv.Control(BufferControl(bpcClear, buf, 0, 0, 0))
}

// ReceiveToBuf arms buf to be filled from args.Port.
func (p *Pool) ReceiveToBuf(buf int, args BufCmdArgs) {
	p.drv.Control(BufferControl(bpcWrite, buf, args.Port, args.FirstLine, args.LastLine))
}

// SendFromBuf drains lines first..last of buf to port.
func (p *Pool) SendFromBuf(buf, port int, first, last uint32) {
	p.drv.Control(BufferControl(bpcRead, buf, port, first, last))
}

// LastLine returns the extent of the most recent receive into buf.
func (p *Pool) LastLine(buf int) uint32 {
	return p.drv.LastLine(buf)
}

// RAM returns the line memory of buf.
func (p *Pool) RAM(buf int) []uint32 {
	return p.drv.RAM(buf)
}
