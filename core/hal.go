package core

// Buffer pool ports. A buffer is filled from (written by) or drained to
// (read by) exactly one port per transfer.
const (
	PortSERDES = 0
	PortDSP    = 1
	PortETH    = 2
	PortRAM    = 3
)

// BufferPoolDriver exposes the buffer pool registers the firmware uses.
type BufferPoolDriver interface {
	// Status returns the per-buffer completion bits latched since the
	// previous call. Reading clears them.
	Status() uint32

	// Control writes one buffer control word (see BufferControl).
	Control(word uint32)

	// LastLine returns the last line written by the most recent receive
	// into buf.
	LastLine(buf int) uint32

	// RAM returns the line-addressed memory of buf. Each element holds one
	// big-endian 32-bit line.
	RAM(buf int) []uint32
}

// RxControlDriver exposes the DSP receive chain control registers.
type RxControlDriver interface {
	SetItemsPerFrame(n uint32)
	SetChannels(n uint32)

	// ClearOverrun pulses the overrun clear bit, which also flushes the
	// pending receive command queue.
	ClearOverrun()

	SetVRTHeader(h uint32)
	SetVRTStreamID(id uint32)
	SetVRTTrailer(t uint32)

	// IssueCommand enqueues one receive command. Writing the ticks word
	// commits the command; secs and ticks qualify its start time unless the
	// command word carries the now bit.
	IssueCommand(cmd, secs, ticks uint32)
}

// TxControlDriver exposes the DSP transmit chain control registers.
type TxControlDriver interface {
	// ClearState pulses the transmit state machine reset.
	ClearState()

	SetFreq(f uint32)
	SetScaleIQ(s uint32)
	SetInterpRate(r uint32)
}

// Interrupt pending bits.
const (
	IRQUnderrun = 1 << 0
	IRQOverrun  = 1 << 1
)

// InterruptDriver exposes the programmable interrupt controller. The
// firmware polls it; nothing is delivered asynchronously.
type InterruptDriver interface {
	Pending() uint32

	// Ack clears the pending bits set in mask.
	Ack(mask uint32)
}

// MACDriver reports the bridge's own link address.
type MACDriver interface {
	HardwareAddr() [6]byte
}

// Board groups the drivers a target provides to the firmware.
type Board struct {
	Pool  BufferPoolDriver
	RxCtl RxControlDriver
	TxCtl TxControlDriver
	PIC   InterruptDriver
	MAC   MACDriver
}

// validate panics if a driver is missing. A board without one is a target
// wiring bug.
func (b *Board) validate() {
	switch {
	case b.Pool == nil:
		panic("buffer pool driver not configured")
	case b.RxCtl == nil:
		panic("rx control driver not configured")
	case b.TxCtl == nil:
		panic("tx control driver not configured")
	case b.PIC == nil:
		panic("interrupt driver not configured")
	case b.MAC == nil:
		panic("MAC driver not configured")
	}
}
