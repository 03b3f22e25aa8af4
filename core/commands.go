package core

import (
	"github.com/google/netstack/tcpip"

	"sdrbridge/protocol"
)

// Control dictionary IDs. Registration in registerCommands must follow this
// order; host tools encode against these constants.
const (
	CmdStartRxStreaming uint16 = iota
	CmdStopRx
	CmdRestartRx
	CmdClearFault
	CmdGetStatus
	CmdGetDictionary

	RespStatus
	RespFault
	RespDictionary
)

func (fw *Firmware) registerCommands() {
	r := fw.commands
	must := func(want, got uint16) {
		if want != got {
			panic("command registered out of order: " + itoa(int(got)))
		}
	}
	must(CmdStartRxStreaming, r.Register("start_rx_streaming", "items=%u secs=%u ticks=%u", fw.handleStartRxStreaming))
	must(CmdStopRx, r.Register("stop_rx", "", fw.handleStopRx))
	must(CmdRestartRx, r.Register("restart_rx", "", fw.handleRestartRx))
	must(CmdClearFault, r.Register("clear_fault", "", fw.handleClearFault))
	must(CmdGetStatus, r.Register("get_status", "", fw.handleGetStatus))
	must(CmdGetDictionary, r.Register("get_dictionary", "offset=%u", fw.handleGetDictionary))

	must(RespStatus, r.RegisterResponse("status", "streaming=%c faulted=%c items=%u seqno=%u overruns=%u underruns=%u faults=%u"))
	must(RespFault, r.RegisterResponse("fault", "kind=%c dir=%c buf=%i clock=%u"))
	must(RespDictionary, r.RegisterResponse("dictionary", "offset=%u data=%*s"))
}

// handleStartRxStreaming starts streaming to whoever sent the command.
func (fw *Firmware) handleStartRxStreaming(data *[]byte) error {
	items, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	secs, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	ticks, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	return fw.StartRxStreaming(fw.peer, items, StartTime{Secs: secs, Ticks: ticks})
}

func (fw *Firmware) handleStopRx(_ *[]byte) error {
	fw.StopRx()
	return nil
}

func (fw *Firmware) handleRestartRx(_ *[]byte) error {
	return fw.RestartStreaming()
}

func (fw *Firmware) handleClearFault(_ *[]byte) error {
	fw.ClearFaults()
	return nil
}

func (fw *Firmware) handleGetStatus(_ *[]byte) error {
	s := fw.session
	fw.respond(fw.peer, RespStatus,
		b2u(s.streaming), b2u(s.faulted), s.itemsPerFrame, s.seqno,
		s.overruns, s.underruns, fw.faults.Total())
	return nil
}

// dictionaryChunk keeps dictionary responses well inside one frame.
const dictionaryChunk = 200

func (fw *Firmware) handleGetDictionary(data *[]byte) error {
	offset, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	chunk := fw.dictionary.GetChunk(offset, dictionaryChunk)
	fw.queueFrame(fw.peer, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(RespDictionary))
		protocol.EncodeVLQUint(output, offset)
		protocol.EncodeVLQBytes(output, chunk)
	})
	return nil
}

// respond queues a response message with unsigned arguments for dst.
func (fw *Firmware) respond(dst tcpip.LinkAddress, id uint16, args ...uint32) {
	fw.queueFrame(dst, func(output protocol.OutputBuffer) {
		protocol.EncodeCommand(output, id, args...)
	})
}

// queueFrame builds a control frame for dst and hands it to the outbox.
// Nothing is sent if no host has been heard from yet.
func (fw *Firmware) queueFrame(dst tcpip.LinkAddress, body func(protocol.OutputBuffer)) {
	if len(dst) != 6 {
		return
	}
	out := protocol.NewScratchOutput()
	protocol.EncodeMessage(out, fw.transport.Sequence(), body)
	if out.Overflowed() {
		fw.debug(ConsoleCtrl + "response overflow\n")
		return
	}
	frame := BuildFrameHeader(dst, fw.mac, ControlEtherType)
	frame = append(frame, out.Result()...)
	if len(frame) < MinFrameBytes {
		frame = append(frame, make([]byte, MinFrameBytes-len(frame))...)
	}
	if !fw.outbox.push(frame) {
		fw.debug(ConsoleCtrl + "outbox full\n")
	}
}

func b2u(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
