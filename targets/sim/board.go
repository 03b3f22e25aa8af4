// Package sim is a software model of the bridge FPGA: the buffer pool, the
// DSP receive and transmit chains, the Ethernet MAC and the interrupt
// controller. It advances one frame time per Tick so tests and the u2sim
// tool can drive the firmware deterministically.
package sim

import (
	"sync"

	"sdrbridge/core"
)

const (
	// DefaultTicksPerFrame is the clock advance per Tick.
	DefaultTicksPerFrame = 1000

	// DefaultFramePeriod is how many Ticks the DSP takes per Rx frame. The
	// link drains a frame per Tick, leaving room for CPU frames.
	DefaultFramePeriod = 2
)

// transfer is one armed buffer pool operation.
type transfer struct {
	active bool
	read   bool // drain to port; otherwise fill from port
	port   int
	first  uint32
	last   uint32
}

// IssuedCommand is a receive command as written to the DSP.
type IssuedCommand struct {
	Cmd   uint32
	Secs  uint32
	Ticks uint32
}

// Samples returns the command's sample count.
func (c IssuedCommand) Samples() uint32 {
	n, _, _ := core.DecodeRxCommand(c.Cmd)
	return n
}

// Now reports whether the command ignores its time qualifier.
func (c IssuedCommand) Now() bool {
	_, now, _ := core.DecodeRxCommand(c.Cmd)
	return now
}

// Chain reports whether the command continues into the next one.
func (c IssuedCommand) Chain() bool {
	_, _, chain := core.DecodeRxCommand(c.Cmd)
	return chain
}

// RxConfig is the receive chain register file.
type RxConfig struct {
	ItemsPerFrame uint32
	Channels      uint32
	VRTHeader     uint32
	VRTStreamID   uint32
	VRTTrailer    uint32
}

// TxConfig is the transmit chain register file.
type TxConfig struct {
	Freq        uint32
	ScaleIQ     uint32
	InterpRate  uint32
	ClearPulses int
}

// Board implements every core driver interface. All methods are safe for
// concurrent use; the firmware and Tick are expected to share one goroutine
// while host traffic comes from another.
type Board struct {
	mu sync.Mutex

	mac           [6]byte
	ticksPerFrame uint64
	framePeriod   int
	ticks         int
	clock         uint64

	ram      [core.NumBuffers][core.BufferLines]uint32
	xfer     [core.NumBuffers]transfer
	lastLine [core.NumBuffers]uint32
	status   uint32
	pending  uint32

	rx       RxConfig
	queue    []IssuedCommand
	issued   []IssuedCommand
	current  *IssuedCommand
	left     uint32
	samples  uint32
	packets  uint32
	rxFrames int
	overruns int

	tx        TxConfig
	stallDSP  bool
	dspFrames [][]uint32

	stallETH bool
	inbound  [][]byte
	outbound [][]byte
}

// Option configures a Board.
type Option func(*Board)

// WithMAC sets the bridge's link address.
func WithMAC(mac [6]byte) Option {
	return func(b *Board) { b.mac = mac }
}

// WithTicksPerFrame sets the clock advance per Tick.
func WithTicksPerFrame(n uint64) Option {
	return func(b *Board) { b.ticksPerFrame = n }
}

// WithFramePeriod sets how many Ticks the DSP takes per Rx frame.
func WithFramePeriod(n int) Option {
	return func(b *Board) { b.framePeriod = n }
}

// New returns a powered-up board with every buffer idle.
func New(opts ...Option) *Board {
	b := &Board{
		mac:           [6]byte{0x00, 0x50, 0xC2, 0x85, 0x3F, 0xFF},
		ticksPerFrame: DefaultTicksPerFrame,
		framePeriod:   DefaultFramePeriod,
	}
	for _, o := range opts {
		o(b)
	}
	if b.framePeriod < 1 {
		b.framePeriod = 1
	}
	return b
}

// Drivers returns the board wired into a core.Board.
func (b *Board) Drivers() core.Board {
	return core.Board{
		Pool:  b,
		RxCtl: (*rxControl)(b),
		TxCtl: (*txControl)(b),
		PIC:   (*pic)(b),
		MAC:   b,
	}
}

// HardwareAddr implements core.MACDriver.
func (b *Board) HardwareAddr() [6]byte { return b.mac }

// Time returns the low 32 bits of the board clock.
func (b *Board) Time() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return uint32(b.clock)
}

// Status implements core.BufferPoolDriver. Done and error bits clear on
// read; idle bits reflect the current state.
func (b *Board) Status() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.status
	b.status = 0
	for i := range b.xfer {
		if !b.xfer[i].active {
			s |= core.StatusIdle(i)
		}
	}
	return s
}

// Control implements core.BufferPoolDriver.
func (b *Board) Control(word uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	read, write, clear, buf, port, first, last := core.DecodeBufferControl(word)
	switch {
	case clear:
		// Clear resets the channel. Memory keeps its contents so header
		// templates survive.
		b.xfer[buf] = transfer{}
		b.lastLine[buf] = 0
		b.status &^= core.StatusDone(buf) | core.StatusError(buf)
	case read || write:
		if b.xfer[buf].active || first > last || port == core.PortRAM {
			b.status |= core.StatusError(buf)
			return
		}
		b.xfer[buf] = transfer{active: true, read: read, port: port, first: first, last: last}
	}
}

// LastLine implements core.BufferPoolDriver.
func (b *Board) LastLine(buf int) uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastLine[buf]
}

// RAM implements core.BufferPoolDriver. The slice aliases buffer memory.
func (b *Board) RAM(buf int) []uint32 {
	return b.ram[buf][:]
}

// Tick advances the model by one link frame time: pending sends complete,
// one inbound Ethernet frame is received, and every frame period the DSP
// produces one Rx frame if a receive command is active.
func (b *Board) Tick() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.completeSends()
	b.receiveETH()
	if b.ticks%b.framePeriod == 0 {
		b.produceRx()
	}
	b.ticks++
	b.clock += b.ticksPerFrame
}

// Run calls Tick n times.
func (b *Board) Run(n int) {
	for i := 0; i < n; i++ {
		b.Tick()
	}
}

func (b *Board) completeSends() {
	for i := range b.xfer {
		x := &b.xfer[i]
		if !x.active || !x.read {
			continue
		}
		switch x.port {
		case core.PortETH:
			if b.stallETH {
				continue
			}
			n := int(x.last-x.first+1) * core.LineBytes
			frame := core.GetBytes(b.ram[i][x.first:], 0, n)
			if x.first == 0 && len(frame) > core.LinkPad {
				frame = frame[core.LinkPad:]
			}
			b.outbound = append(b.outbound, frame)
		case core.PortDSP:
			if b.stallDSP {
				continue
			}
			lines := make([]uint32, x.last-x.first+1)
			copy(lines, b.ram[i][x.first:x.last+1])
			b.dspFrames = append(b.dspFrames, lines)
		}
		*x = transfer{}
		b.status |= core.StatusDone(i)
	}
}

func (b *Board) armedFrom(port int) int {
	for i := range b.xfer {
		x := &b.xfer[i]
		if x.active && !x.read && x.port == port {
			return i
		}
	}
	return -1
}

func (b *Board) receiveETH() {
	if len(b.inbound) == 0 {
		return
	}
	buf := b.armedFrom(core.PortETH)
	if buf < 0 {
		return
	}
	frame := b.inbound[0]
	b.inbound = b.inbound[1:]

	x := &b.xfer[buf]
	wire := append(make([]byte, core.LinkPad), frame...)
	lines := uint32((len(wire) + core.LineBytes - 1) / core.LineBytes)
	if x.first+lines-1 > x.last {
		*x = transfer{}
		b.status |= core.StatusError(buf)
		return
	}
	ram := b.ram[buf][x.first : x.first+lines]
	for i := range ram {
		ram[i] = 0
	}
	core.PutBytes(ram, 0, wire)
	b.lastLine[buf] = x.first + lines - 1
	*x = transfer{}
	b.status |= core.StatusDone(buf)
}

func (b *Board) produceRx() {
	if b.current == nil {
		if len(b.queue) == 0 {
			return
		}
		next := b.queue[0]
		if !next.Now() && b.clock < uint64(next.Secs)*core.ClockFreq+uint64(next.Ticks) {
			return
		}
		b.queue = b.queue[1:]
		b.current = &next
		b.left = next.Samples()
	}

	buf := b.armedFrom(core.PortDSP)
	if buf < 0 {
		// Nowhere to put the samples: the DSP halts and flags overrun.
		b.pending |= core.IRQOverrun
		b.overruns++
		b.current = nil
		b.queue = nil
		return
	}

	items := b.rx.ItemsPerFrame
	if items == 0 || items > b.left {
		items = b.left
	}
	x := &b.xfer[buf]
	words := core.VRTHeaderWords + items + core.VRTTrailerWords
	if x.first+words-1 > x.last {
		*x = transfer{}
		b.status |= core.StatusError(buf)
		return
	}

	ram := b.ram[buf][x.first:]
	hdr := b.rx.VRTHeader&^core.VRTPacketSizeMask | words
	ram[0] = hdr | (b.packets&0xF)<<16
	ram[1] = b.rx.VRTStreamID
	ram[2] = uint32(b.clock / core.ClockFreq)
	ram[3] = 0
	ram[4] = uint32(b.clock % core.ClockFreq)
	for i := uint32(0); i < items; i++ {
		ram[core.VRTHeaderWords+i] = b.samples
		b.samples++
	}
	ram[core.VRTHeaderWords+items] = b.rx.VRTTrailer
	b.lastLine[buf] = x.first + words - 1
	*x = transfer{}
	b.status |= core.StatusDone(buf)
	b.packets++
	b.rxFrames++

	b.left -= items
	if b.left == 0 {
		chain := b.current.Chain()
		b.current = nil
		if !chain {
			b.queue = nil
		}
	}
}

// SendFrame queues a frame (Ethernet header onwards) arriving from the host.
func (b *Board) SendFrame(frame []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inbound = append(b.inbound, append([]byte(nil), frame...))
}

// TakeFrames returns and forgets every frame sent to the host.
func (b *Board) TakeFrames() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.outbound
	b.outbound = nil
	return out
}

// TakeDSPFrames returns and forgets every frame the DSP transmit chain
// consumed, as the lines it read.
func (b *Board) TakeDSPFrames() [][]uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.dspFrames
	b.dspFrames = nil
	return out
}

// StallETH holds Ethernet sends in flight while set.
func (b *Board) StallETH(stall bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stallETH = stall
}

// StallDSP holds DSP transmit reads in flight while set.
func (b *Board) StallDSP(stall bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stallDSP = stall
}

// InjectUnderrun raises the transmit underrun interrupt.
func (b *Board) InjectUnderrun() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending |= core.IRQUnderrun
}

// InjectOverrun raises the receive overrun interrupt and halts the DSP
// receive chain.
func (b *Board) InjectOverrun() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending |= core.IRQOverrun
	b.overruns++
	b.current = nil
	b.queue = nil
}

// InjectBufferError latches the error bit of buf and aborts its transfer.
func (b *Board) InjectBufferError(buf int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.xfer[buf] = transfer{}
	b.status |= core.StatusError(buf)
}

// Issued returns every receive command written since power-up.
func (b *Board) Issued() []IssuedCommand {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]IssuedCommand(nil), b.issued...)
}

// QueuedCommands is the number of receive commands not yet started.
func (b *Board) QueuedCommands() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// RxActive reports whether the DSP receive chain is producing frames.
func (b *Board) RxActive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current != nil || len(b.queue) > 0
}

// RxFrames is the number of frames the DSP has written.
func (b *Board) RxFrames() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rxFrames
}

// Overruns is the number of overrun interrupts raised.
func (b *Board) Overruns() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.overruns
}

func (b *Board) RxConfig() RxConfig {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rx
}

func (b *Board) TxConfig() TxConfig {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tx
}

// Armed reports whether buf has a transfer in flight.
func (b *Board) Armed(buf int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.xfer[buf].active
}
