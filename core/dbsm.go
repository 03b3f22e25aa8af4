package core

import "strconv"

// bufferState tracks one buffer of a double-buffer pair.
type bufferState uint8

const (
	bufEmpty    bufferState = iota // owned by firmware, nothing armed
	bufFilling                     // armed to receive from the source port
	bufFull                        // received, waiting for the destination
	bufEmptying                    // being drained to the destination port
)

// Phase summarises a DBSM for callers: which buffer of the pair was most
// recently armed as receiver.
type Phase uint8

const (
	PhaseIdle       Phase = iota
	PhaseReceivingA       // A receiving, B sending or waiting
	PhaseReceivingB       // B receiving, A sending or waiting
)

func (p Phase) String() string {
	switch p {
	case PhaseReceivingA:
		return "receiving-a"
	case PhaseReceivingB:
		return "receiving-b"
	default:
		return "idle"
	}
}

// DBSM is a double-buffer state machine. It alternates a pair of pool
// buffers between a source port and a destination port so that one buffer is
// always accepting data while the other is forwarded.
type DBSM struct {
	pool      *Pool
	buf0      int
	recvArgs  BufCmdArgs
	sendArgs  BufCmdArgs
	inspector Inspector
	sendGate  func() bool

	running bool
	rxIdle  bool // no buffer filling; the next drained buffer is re-armed
	txIdle  bool // no buffer emptying

	state    [2]bufferState
	lastLine [2]uint32

	// lastReceiver is the buffer most recently armed to receive, -1 after
	// start. Arming it again before its partner is an invariant violation.
	lastReceiver int
}

// NewDBSM binds buffers buf0 and buf0+1. No hardware activity starts until
// Start. A nil inspector means NopInspector.
func NewDBSM(pool *Pool, buf0 int, recv, send BufCmdArgs, inspector Inspector) *DBSM {
	if inspector == nil {
		inspector = NopInspector{}
	}
	return &DBSM{
		pool:         pool,
		buf0:         buf0,
		recvArgs:     recv,
		sendArgs:     send,
		inspector:    inspector,
		rxIdle:       true,
		txIdle:       true,
		lastReceiver: -1,
	}
}

// Start clears both buffers and arms buffer A for its first receive.
func (sm *DBSM) Start() {
	sm.reset()
	sm.running = true
	sm.armReceive(sm.buf0)
}

// Stop clears both buffers and returns the machine to idle.
func (sm *DBSM) Stop() {
	sm.reset()
	sm.running = false
}

func (sm *DBSM) reset() {
	sm.pool.Clear(sm.buf0)
	sm.pool.Clear(sm.buf0 + 1)
	sm.state = [2]bufferState{}
	sm.lastLine = [2]uint32{}
	sm.rxIdle = true
	sm.txIdle = true
	sm.lastReceiver = -1
}

// ProcessStatus consumes one poll's worth of pool completion bits. Both
// buffers may complete in the same poll; the lower index is handled first.
// It returns true if an error bit forced the machine to restart.
func (sm *DBSM) ProcessStatus(status uint32) (restarted bool) {
	if !sm.running {
		return false
	}
	if status&(StatusError(sm.buf0)|StatusError(sm.buf0+1)) != 0 {
		sm.Stop()
		sm.Start()
		return true
	}
	for i := 0; i < 2; i++ {
		if status&StatusDone(sm.buf0+i) != 0 {
			sm.process(sm.buf0 + i)
		}
	}
	sm.checkInvariants()
	return false
}

func (sm *DBSM) process(buf int) {
	this := buf - sm.buf0
	other := this ^ 1

	switch sm.state[this] {
	case bufFilling:
		sm.state[this] = bufFull
		sm.lastLine[this] = sm.pool.LastLine(buf)

		if sm.inspector.Inspect(sm, buf) == Handled {
			sm.state[this] = bufEmpty
			sm.lastLine[this] = 0
			if sm.state[other] == bufEmpty {
				sm.armReceive(sm.buf0 + other)
			} else {
				sm.rxIdle = true
			}
			return
		}

		olderWaiting := sm.state[other] == bufFull
		if sm.state[other] == bufEmpty {
			sm.armReceive(sm.buf0 + other)
		} else {
			sm.rxIdle = true
		}
		if sm.txIdle && sm.gateOpen() {
			if olderWaiting {
				sm.armSend(sm.buf0 + other)
			} else {
				sm.armSend(buf)
			}
		}

	case bufEmptying:
		sm.state[this] = bufEmpty
		if sm.rxIdle {
			sm.armReceive(buf)
		}
		if sm.state[other] == bufFull && sm.gateOpen() {
			sm.armSend(sm.buf0 + other)
		} else {
			sm.txIdle = true
		}

	default:
		// Completion for a buffer this machine did not arm, e.g. one
		// cleared by recovery while the done bit was already latched.
	}
}

// SetSendGate installs fn, consulted before a send is armed from the
// completion path. While it returns false full buffers wait; Kick retries.
func (sm *DBSM) SetSendGate(fn func() bool) {
	sm.sendGate = fn
}

func (sm *DBSM) gateOpen() bool {
	return sm.sendGate == nil || sm.sendGate()
}

// Kick sends a buffer that was held back by the send gate. If both are full
// the one received first goes.
func (sm *DBSM) Kick() {
	if !sm.running || !sm.txIdle || !sm.gateOpen() {
		return
	}
	for i := 0; i < 2; i++ {
		// The partner of the last receiver was filled first.
		b := sm.buf0 + i
		if sm.lastReceiver >= 0 {
			b = sm.buf0 + ((sm.lastReceiver - sm.buf0 + 1 + i) & 1)
		}
		if sm.state[b-sm.buf0] == bufFull {
			sm.armSend(b)
			return
		}
	}
}

func (sm *DBSM) armReceive(buf int) {
	if buf == sm.lastReceiver {
		panic("dbsm: buffer " + strconv.Itoa(buf) + " armed to receive twice in a row")
	}
	sm.pool.ReceiveToBuf(buf, sm.recvArgs)
	sm.state[buf-sm.buf0] = bufFilling
	sm.lastReceiver = buf
	sm.rxIdle = false
}

func (sm *DBSM) armSend(buf int) {
	i := buf - sm.buf0
	last := sm.sendArgs.LastLine
	if last == 0 {
		last = sm.lastLine[i]
	}
	sm.pool.SendFromBuf(buf, sm.sendArgs.Port, sm.sendArgs.FirstLine, last)
	sm.state[i] = bufEmptying
	sm.txIdle = false
}

// resumeReceive re-arms the partner of the last receiver if nothing is
// filling. If the partner still holds data it is re-armed when drained.
func (sm *DBSM) resumeReceive() {
	if sm.Receiver() >= 0 {
		return
	}
	next := sm.buf0
	if sm.lastReceiver >= 0 {
		next = sm.buf0 + ((sm.lastReceiver - sm.buf0) ^ 1)
	}
	if sm.state[next-sm.buf0] == bufEmpty {
		sm.armReceive(next)
	} else {
		sm.rxIdle = true
	}
}

// HandleTxUnderrun resynchronises the transmit direction after the DSP ran
// dry: the transfer in progress is abandoned, and a buffer already full is
// forwarded next, starting at the configured first line.
func (sm *DBSM) HandleTxUnderrun(tx TxControlDriver) {
	tx.ClearState()
	if !sm.running {
		return
	}
	for i := 0; i < 2; i++ {
		if sm.state[i] == bufEmptying {
			sm.pool.Clear(sm.buf0 + i)
			sm.state[i] = bufEmpty
			sm.lastLine[i] = 0
		}
	}
	sm.txIdle = true
	for i := 0; i < 2; i++ {
		if sm.state[i] == bufFull {
			sm.armSend(sm.buf0 + i)
			break
		}
	}
	sm.resumeReceive()
	sm.checkInvariants()
}

// HandleRxOverrun clears both buffers of the pair after the DSP produced data
// nobody was ready for. Receiving resumes on the partner of the interrupted
// buffer; restarting the hardware command stream is left to the caller.
func (sm *DBSM) HandleRxOverrun(rx RxControlDriver) {
	rx.ClearOverrun()
	for i := 0; i < 2; i++ {
		sm.pool.Clear(sm.buf0 + i)
		sm.state[i] = bufEmpty
		sm.lastLine[i] = 0
	}
	sm.txIdle = true
	if !sm.running {
		sm.rxIdle = true
		return
	}
	sm.resumeReceive()
	sm.checkInvariants()
}

// checkInvariants panics if a running machine has neither a buffer
// receiving nor one that will re-arm the receiver when drained. Continuing
// would stall the pipeline or forward stale frames.
func (sm *DBSM) checkInvariants() {
	if !sm.running {
		return
	}
	if sm.state[0] == bufEmpty && sm.state[1] == bufEmpty {
		panic("dbsm: both buffers of pair " + strconv.Itoa(sm.buf0) + " idle while running")
	}
	if !sm.rxIdle && sm.Receiver() < 0 {
		panic("dbsm: no receiver armed for pair " + strconv.Itoa(sm.buf0))
	}
}

// Running reports whether Start has been called without a later Stop.
func (sm *DBSM) Running() bool { return sm.running }

// FirstBuffer returns buffer A of the pair.
func (sm *DBSM) FirstBuffer() int { return sm.buf0 }

// Receiver returns the buffer currently armed to receive, or -1.
func (sm *DBSM) Receiver() int {
	for i := 0; i < 2; i++ {
		if sm.state[i] == bufFilling {
			return sm.buf0 + i
		}
	}
	return -1
}

// Sender returns the buffer currently being drained, or -1.
func (sm *DBSM) Sender() int {
	for i := 0; i < 2; i++ {
		if sm.state[i] == bufEmptying {
			return sm.buf0 + i
		}
	}
	return -1
}

// Emptying reports whether a buffer is being drained to the destination.
func (sm *DBSM) Emptying() bool { return !sm.txIdle }

// LastLine returns the saved extent of buf, zero when empty.
func (sm *DBSM) LastLine(buf int) uint32 { return sm.lastLine[buf-sm.buf0] }

// SendArgs returns the destination descriptor.
func (sm *DBSM) SendArgs() BufCmdArgs { return sm.sendArgs }

// Phase reports which buffer of the pair was most recently armed.
func (sm *DBSM) Phase() Phase {
	switch {
	case !sm.running || sm.lastReceiver < 0:
		return PhaseIdle
	case sm.lastReceiver == sm.buf0:
		return PhaseReceivingA
	default:
		return PhaseReceivingB
	}
}
