package core

import (
	"context"

	"github.com/google/netstack/tcpip"

	"sdrbridge/protocol"
)

// Options tune the firmware. Zero fields take the defaults.
type Options struct {
	// FramesPerCmd is how many Rx frames each queued DSP command covers.
	FramesPerCmd int

	// StampSeqno enables the Rx sequence inspector. Without it frames go
	// out with whatever transport word the DSP wrote.
	StampSeqno bool

	// TxScaleIQ is the per-channel transmit gain, applied to I and Q.
	TxScaleIQ uint32
	// TxInterp is the transmit interpolation rate.
	TxInterp uint32

	// Clock timestamps fault events, normally the board time register.
	// Without one, events carry the poll count.
	Clock func() uint32

	// Console receives boot, fault and control diagnostics.
	Console DebugWriter
}

// DefaultOptions returns the options the stock firmware runs with.
func DefaultOptions() Options {
	return Options{
		FramesPerCmd: DefaultFramesPerCmd,
		StampSeqno:   true,
		TxScaleIQ:    256,
		TxInterp:     32,
	}
}

// Stats are counters kept outside the session.
type Stats struct {
	Polls          uint64
	ControlDropped uint32
	OutboxSent     uint32
	OutboxDropped  uint32
}

// Firmware is the bridge main loop: it owns both double-buffer machines,
// the streaming session and the control channel, and recovers from
// underruns, overruns and buffer errors.
type Firmware struct {
	board Board
	opts  Options
	pool  *Pool
	mac   tcpip.LinkAddress

	session  Session
	streamer *Streamer
	rxSM     *DBSM
	txSM     *DBSM
	control  *ControlInspector

	commands   *CommandRegistry
	dictionary *Dictionary
	transport  *protocol.Transport
	peer       tcpip.LinkAddress
	outbox     outbox

	faults  FaultRing
	console DebugWriter
	clock   func() uint32
	polls   uint64
}

// New brings the bridge up on board: the transmit chain is initialised and
// the Tx DBSM starts accepting frames from the host. Receive streaming waits
// for a start command. New panics if board is missing a driver.
func New(board Board, opts Options) *Firmware {
	board.validate()
	def := DefaultOptions()
	if opts.FramesPerCmd <= 0 {
		opts.FramesPerCmd = def.FramesPerCmd
	}
	if opts.TxScaleIQ == 0 {
		opts.TxScaleIQ = def.TxScaleIQ
	}
	if opts.TxInterp == 0 {
		opts.TxInterp = def.TxInterp
	}

	fw := &Firmware{
		board:   board,
		opts:    opts,
		pool:    NewPool(board.Pool),
		mac:     LinkAddress(board.MAC.HardwareAddr()),
		console: opts.Console,
		clock:   opts.Clock,
	}
	if fw.clock == nil {
		fw.clock = func() uint32 { return uint32(fw.polls) }
	}

	fw.streamer = NewStreamer(fw.pool, board.RxCtl, &fw.session, fw.mac, opts.FramesPerCmd)
	fw.rxSM = NewDBSM(fw.pool, DSPRxBuf0,
		BufCmdArgs{Port: PortDSP, FirstLine: FirstPayloadLine, LastLine: MaxLastLine},
		BufCmdArgs{Port: PortETH, FirstLine: 0, LastLine: 0},
		NewSeqnoInspector(fw.streamer, opts.StampSeqno))
	fw.rxSM.SetSendGate(fw.outbox.idle)
	fw.streamer.attach(fw.rxSM)

	fw.control = NewControlInspector(fw.handleControl)
	fw.txSM = NewDBSM(fw.pool, DSPTxBuf0,
		BufCmdArgs{Port: PortETH, FirstLine: 0, LastLine: MaxLastLine},
		BufCmdArgs{Port: PortDSP, FirstLine: FirstPayloadLine, LastLine: 0},
		fw.control)

	fw.commands = NewCommandRegistry()
	fw.registerCommands()
	fw.buildDictionary()
	fw.transport = protocol.NewTransport(fw.commands.Dispatch)
	fw.transport.SetResetCallback(func() {
		fw.debug(ConsoleCtrl + "host reset\n")
	})

	fw.pool.Clear(CPUTxBuf)
	fw.setupTx()
	fw.txSM.Start()

	fw.debug(ConsoleBoot + "sdrbridge txrx " + fw.mac.String() + "\n")
	return fw
}

// buildDictionary publishes the constants and enumerations a host needs to
// drive the bridge.
func (fw *Firmware) buildDictionary() {
	d := NewDictionary(fw.commands)
	d.AddConstant("CLOCK_FREQ", ClockFreq)
	d.AddConstant("MAX_ITEMS_PER_FRAME", MaxItemsPerFrame)
	d.AddConstant("FRAMES_PER_CMD", fw.opts.FramesPerCmd)
	d.AddConstant("BUFFER_LINES", BufferLines)
	d.AddConstant("DATA_ETHERTYPE", uint16(DataEtherType))
	d.AddConstant("CONTROL_ETHERTYPE", uint16(ControlEtherType))
	d.AddConstant("FAULT_RING_SIZE", FaultRingSize)
	d.AddEnumeration("fault_kind", []string{"", FaultUnderrun.String(), FaultOverrun.String(), FaultBufferError.String()})
	d.AddEnumeration("direction", []string{DirTx.String(), DirRx.String()})
	if err := d.Build(); err != nil {
		fw.debug(ConsoleBoot + "dictionary: " + err.Error() + "\n")
	}
	fw.dictionary = d
}

// setupTx puts the transmit chain in a known state: no residual samples,
// no frequency offset, unity gain and the configured interpolation.
func (fw *Firmware) setupTx() {
	tx := fw.board.TxCtl
	tx.ClearState()
	fw.pool.Clear(DSPTxBuf0)
	fw.pool.Clear(DSPTxBuf0 + 1)
	tx.SetFreq(0)
	tx.SetScaleIQ(fw.opts.TxScaleIQ<<16 | fw.opts.TxScaleIQ)
	tx.SetInterpRate(fw.opts.TxInterp)
}

// Poll runs one iteration of the main loop: buffer completions for both
// DBSMs, then the interrupt controller, then any queued CPU frame.
// Completion bits are read once and shared by every consumer.
func (fw *Firmware) Poll() {
	status := fw.pool.Status()

	fw.outbox.complete(status)
	fw.rxSM.Kick()

	// Rx first: a control frame handled on the Tx side may restart the
	// Rx machine, and this status word predates that restart.
	if fw.rxSM.ProcessStatus(status) {
		fw.recordFault(FaultBufferError, DirRx, ErrorBuffer(status, DSPRxBuf0))
	}
	if fw.txSM.ProcessStatus(status) {
		fw.recordFault(FaultBufferError, DirTx, ErrorBuffer(status, DSPTxBuf0))
	}

	fw.handleInterrupts()

	fw.outbox.start(fw.pool, fw.rxSM.Emptying())
	fw.polls++
}

func (fw *Firmware) handleInterrupts() {
	pending := fw.board.PIC.Pending()

	if pending&IRQUnderrun != 0 {
		buf := fw.txSM.Sender()
		fw.txSM.HandleTxUnderrun(fw.board.TxCtl)
		fw.board.PIC.Ack(IRQUnderrun)
		fw.session.underruns++
		fw.recordFault(FaultUnderrun, DirTx, buf)
	}

	if pending&IRQOverrun != 0 {
		buf := fw.rxSM.Receiver()
		fw.rxSM.HandleRxOverrun(fw.board.RxCtl)
		fw.board.PIC.Ack(IRQOverrun)
		fw.session.overruns++
		// The stream is not restarted here. It stays flagged until the
		// host restarts or stops it.
		if fw.session.streaming {
			fw.session.faulted = true
		}
		fw.recordFault(FaultOverrun, DirRx, buf)
	}
}

func (fw *Firmware) recordFault(kind FaultKind, dir Direction, buf int) {
	e := FaultEvent{
		Kind:      kind,
		Dir:       dir,
		Buffer:    buf,
		Clock:     fw.clock(),
		Streaming: fw.session.streaming,
	}
	fw.faults.Record(e)
	fw.debug(e.ConsoleLine())

	dst := fw.peer
	if fw.session.streaming {
		dst = fw.session.host
	}
	fw.respond(dst, RespFault, uint32(kind), uint32(dir), uint32(int32(buf)), e.Clock)
}

// Run polls until ctx is cancelled.
func (fw *Firmware) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		fw.Poll()
	}
}

// handleControl feeds a control frame's payload to the command transport.
// Replies go back to src.
func (fw *Firmware) handleControl(src tcpip.LinkAddress, payload []byte) {
	fw.peer = src
	if err := fw.transport.Receive(payload); err != nil {
		fw.debug(ConsoleCtrl + "from " + src.String() + ": " + err.Error() + "\n")
	}
}

func (fw *Firmware) debug(s string) {
	if fw.console != nil {
		fw.console(s)
	}
}

// StartRxStreaming starts a receive session towards host.
func (fw *Firmware) StartRxStreaming(host tcpip.LinkAddress, itemsPerFrame uint32, at StartTime) error {
	if err := fw.streamer.StartRxStreaming(host, itemsPerFrame, at); err != nil {
		return err
	}
	fw.dropStaleOverrun()
	return nil
}

// RestartStreaming restarts the current session, clearing any fault.
func (fw *Firmware) RestartStreaming() error {
	if err := fw.streamer.RestartStreaming(); err != nil {
		return err
	}
	fw.dropStaleOverrun()
	return nil
}

// StopRx stops receive streaming. It is safe to call when stopped.
func (fw *Firmware) StopRx() {
	fw.streamer.StopRx()
	fw.dropStaleOverrun()
}

// dropStaleOverrun acks an overrun latched before the clear-overrun pulse
// that a start, restart or stop has just issued. The pulse resets the
// condition, so the pending bit belongs to the session that was replaced.
func (fw *Firmware) dropStaleOverrun() {
	fw.board.PIC.Ack(IRQOverrun)
}

// ClearFaults empties the fault ring.
func (fw *Firmware) ClearFaults() {
	fw.faults.Clear()
}

// Faults returns the retained fault events, oldest first.
func (fw *Firmware) Faults() []FaultEvent { return fw.faults.Events() }

// FaultCount is the number of faults recorded since the last clear.
func (fw *Firmware) FaultCount() uint32 { return fw.faults.Total() }

// DumpFaults writes the fault ring to the console.
func (fw *Firmware) DumpFaults() { fw.faults.Dump(fw.console) }

func (fw *Firmware) Session() *Session               { return &fw.session }
func (fw *Firmware) RxSM() *DBSM                     { return fw.rxSM }
func (fw *Firmware) TxSM() *DBSM                     { return fw.txSM }
func (fw *Firmware) Commands() *CommandRegistry      { return fw.commands }
func (fw *Firmware) Dictionary() *Dictionary         { return fw.dictionary }
func (fw *Firmware) HardwareAddr() tcpip.LinkAddress { return fw.mac }

func (fw *Firmware) Stats() Stats {
	return Stats{
		Polls:          fw.polls,
		ControlDropped: fw.control.Dropped(),
		OutboxSent:     fw.outbox.sent,
		OutboxDropped:  fw.outbox.dropped,
	}
}
