package core

import (
	"errors"
	"fmt"

	"github.com/google/netstack/tcpip"
)

var (
	ErrItemsPerFrame = errors.New("items per frame out of range")
	ErrHostAddress   = errors.New("invalid host link address")
	ErrNoSession     = errors.New("no streaming session to restart")
)

// MaxItemsPerFrame is the most samples one Rx frame can carry once the frame
// header, VRT header and trailer are accounted for.
const MaxItemsPerFrame = MaxFrameLines - FirstPayloadLine - VRTHeaderWords - VRTTrailerWords

// DefaultFramesPerCmd is how many frames one receive command covers.
const DefaultFramesPerCmd = 1000

// Receive command word.
const (
	rxCmdNow         = 1 << 31
	rxCmdChain       = 1 << 30
	rxCmdSamplesMask = 1<<30 - 1
)

// MakeRxCommand encodes a DSP receive command for nsamples samples.
func MakeRxCommand(nsamples uint32, now, chain bool) uint32 {
	cmd := nsamples & rxCmdSamplesMask
	if now {
		cmd |= rxCmdNow
	}
	if chain {
		cmd |= rxCmdChain
	}
	return cmd
}

// DecodeRxCommand splits a receive command word.
func DecodeRxCommand(cmd uint32) (nsamples uint32, now, chain bool) {
	return cmd & rxCmdSamplesMask, cmd&rxCmdNow != 0, cmd&rxCmdChain != 0
}

// Streamer controls receive streaming: it programs the DSP receive chain,
// keeps the hardware command queue topped up and owns the Rx DBSM's buffers
// while a session is active.
type Streamer struct {
	pool         *Pool
	rx           RxControlDriver
	sm           *DBSM
	session      *Session
	mac          tcpip.LinkAddress
	framesPerCmd int
}

// NewStreamer binds the controller to its hardware and session. sm is the
// Rx DBSM; it may be attached later with attach when the DBSM's inspector
// needs the streamer itself.
func NewStreamer(pool *Pool, rx RxControlDriver, session *Session, mac tcpip.LinkAddress, framesPerCmd int) *Streamer {
	if framesPerCmd <= 0 {
		framesPerCmd = DefaultFramesPerCmd
	}
	return &Streamer{
		pool:         pool,
		rx:           rx,
		session:      session,
		mac:          mac,
		framesPerCmd: framesPerCmd,
	}
}

func (c *Streamer) attach(sm *DBSM) { c.sm = sm }

// Session returns the session the streamer drives.
func (c *Streamer) Session() *Session { return c.session }

// StartRxStreaming begins a new session sending frames of itemsPerFrame
// samples to host, starting at the given time or Now.
func (c *Streamer) StartRxStreaming(host tcpip.LinkAddress, itemsPerFrame uint32, at StartTime) error {
	if itemsPerFrame == 0 || itemsPerFrame > MaxItemsPerFrame {
		return fmt.Errorf("%w: %d (1..%d)", ErrItemsPerFrame, itemsPerFrame, MaxItemsPerFrame)
	}
	if uint64(itemsPerFrame)*uint64(c.framesPerCmd) > rxCmdSamplesMask {
		return fmt.Errorf("%w: %d frames of %d items overflow one command", ErrItemsPerFrame, c.framesPerCmd, itemsPerFrame)
	}
	if len(host) != 6 {
		return fmt.Errorf("%w: %q", ErrHostAddress, host)
	}

	c.session.host = host

	// Pre-build the link header in both Rx buffers so the forward path
	// only touches the transport word.
	hdr := BuildFrameHeader(host, c.mac, DataEtherType)
	PutBytes(c.pool.RAM(DSPRxBuf0), 0, hdr)
	PutBytes(c.pool.RAM(DSPRxBuf0+1), 0, hdr)

	c.session.seqno = 0
	c.session.itemsPerFrame = itemsPerFrame
	c.session.start = at
	return c.RestartStreaming()
}

// RestartStreaming reprograms the receive chain from the current session
// and queues two chained commands: the first qualified by the session's
// start time, the second immediate, so the queue never runs dry before the
// inspector tops it up.
func (c *Streamer) RestartStreaming() error {
	s := c.session
	if s.itemsPerFrame == 0 {
		return ErrNoSession
	}

	c.rx.SetItemsPerFrame(s.itemsPerFrame)
	c.rx.SetChannels(1)
	c.rx.ClearOverrun()
	c.rx.SetVRTHeader(VRTHeader(s.itemsPerFrame))
	c.rx.SetVRTStreamID(0)
	c.rx.SetVRTTrailer(0)

	s.streaming = true
	s.faulted = false
	s.countdown = c.framesPerCmd

	c.sm.Start()

	nsamples := uint32(c.framesPerCmd) * s.itemsPerFrame
	if s.start.IsNow() {
		c.rx.IssueCommand(MakeRxCommand(nsamples, true, true), s.start.Secs, s.start.Ticks)
	} else {
		c.rx.IssueCommand(MakeRxCommand(nsamples, false, true), s.start.Secs, s.start.Ticks)
	}
	c.rx.IssueCommand(MakeRxCommand(nsamples, true, true), 0, 0)
	return nil
}

// StopRx ends the session immediately. Frames in flight are discarded, not
// drained. Calling it while stopped only repeats the register pulse.
func (c *Streamer) StopRx() {
	c.session.streaming = false
	c.session.faulted = false
	c.rx.ClearOverrun()
	c.sm.Stop()
}

// frameForwarded runs once per completed Rx frame: it counts down the
// current command batch and, when the batch is used up, queues one more
// immediate chained command.
func (c *Streamer) frameForwarded() {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	s := c.session
	if !s.streaming {
		return
	}
	s.countdown--
	if s.countdown == 0 {
		s.countdown = c.framesPerCmd
		nsamples := uint32(c.framesPerCmd) * s.itemsPerFrame
		c.rx.IssueCommand(MakeRxCommand(nsamples, true, true), 0, 0)
	}
}
