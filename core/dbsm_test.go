package core

import (
	"strings"
	"testing"
)

var (
	rxRecv = BufCmdArgs{Port: PortDSP, FirstLine: FirstPayloadLine, LastLine: MaxLastLine}
	rxSend = BufCmdArgs{Port: PortETH}
	txRecv = BufCmdArgs{Port: PortETH, LastLine: MaxLastLine}
	txSend = BufCmdArgs{Port: PortDSP, FirstLine: FirstPayloadLine}
)

func newTestDBSM(in Inspector) (*DBSM, *fakePool) {
	drv := &fakePool{}
	return NewDBSM(NewPool(drv), DSPRxBuf0, rxRecv, rxSend, in), drv
}

func expectPanic(t *testing.T, contains string, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected panic containing %q", contains)
		}
		if s, _ := r.(string); !strings.Contains(s, contains) {
			t.Fatalf("panic %v does not mention %q", r, contains)
		}
	}()
	fn()
}

func TestDBSMStart(t *testing.T) {
	sm, drv := newTestDBSM(nil)

	if sm.Phase() != PhaseIdle {
		t.Errorf("new machine phase = %v, want idle", sm.Phase())
	}
	sm.Start()

	ops := drv.ops()
	if len(ops) != 3 {
		t.Fatalf("expected clear, clear, arm; got %d ops", len(ops))
	}
	if !ops[0].clear || ops[0].buf != DSPRxBuf0 || !ops[1].clear || ops[1].buf != DSPRxBuf0+1 {
		t.Errorf("expected both buffers cleared first, got %+v %+v", ops[0], ops[1])
	}
	arm := ops[2]
	if !arm.write || arm.buf != DSPRxBuf0 || arm.port != PortDSP || arm.first != FirstPayloadLine || arm.last != MaxLastLine {
		t.Errorf("unexpected first receive %+v", arm)
	}
	if sm.Receiver() != DSPRxBuf0 || sm.Phase() != PhaseReceivingA {
		t.Errorf("receiver=%d phase=%v", sm.Receiver(), sm.Phase())
	}
}

func TestDBSMForwardsAndRearms(t *testing.T) {
	sm, drv := newTestDBSM(nil)
	sm.Start()
	drv.ops()

	drv.received(DSPRxBuf0, 42)
	sm.ProcessStatus(drv.Status())

	ops := drv.ops()
	if len(ops) != 2 {
		t.Fatalf("expected arm + send, got %+v", ops)
	}
	if !ops[0].write || ops[0].buf != DSPRxBuf0+1 {
		t.Errorf("expected buffer B armed to receive, got %+v", ops[0])
	}
	if !ops[1].read || ops[1].buf != DSPRxBuf0 || ops[1].port != PortETH || ops[1].first != 0 || ops[1].last != 42 {
		t.Errorf("expected buffer A sent lines 0..42 to ETH, got %+v", ops[1])
	}
	if sm.LastLine(DSPRxBuf0) != 42 {
		t.Errorf("saved last line = %d", sm.LastLine(DSPRxBuf0))
	}
	if !sm.Emptying() || sm.Sender() != DSPRxBuf0 {
		t.Errorf("expected A emptying")
	}
}

// Drive the machine through many frames with receive and send completing
// in the same poll and check that receivers strictly alternate.
func TestDBSMAlternation(t *testing.T) {
	sm, drv := newTestDBSM(nil)
	sm.Start()
	drv.ops()

	var receivers []int
	receivers = append(receivers, sm.Receiver())
	for i := 0; i < 50; i++ {
		if s := sm.Sender(); s >= 0 {
			drv.status |= StatusDone(s)
		}
		drv.received(sm.Receiver(), uint32(10+i%5))
		sm.ProcessStatus(drv.Status())

		for _, op := range drv.ops() {
			if op.write {
				receivers = append(receivers, op.buf)
			}
		}
	}
	for i := 1; i < len(receivers); i++ {
		if receivers[i] == receivers[i-1] {
			t.Fatalf("buffer %d armed twice in a row at step %d", receivers[i], i)
		}
	}
	if len(receivers) != 51 {
		t.Errorf("expected 51 receives, got %d", len(receivers))
	}
}

func TestDBSMSenderBusyHoldsFullBuffer(t *testing.T) {
	sm, drv := newTestDBSM(nil)
	sm.Start()

	drv.received(DSPRxBuf0, 20)
	sm.ProcessStatus(drv.Status())
	drv.received(DSPRxBuf0+1, 21)
	sm.ProcessStatus(drv.Status())
	drv.ops()

	if sm.Receiver() != -1 {
		t.Errorf("no buffer should be receiving while both hold data, got %d", sm.Receiver())
	}

	// A finishes draining: it is re-armed and B goes out.
	drv.status |= StatusDone(DSPRxBuf0)
	sm.ProcessStatus(drv.Status())
	ops := drv.ops()
	if len(ops) != 2 || !ops[0].write || ops[0].buf != DSPRxBuf0 || !ops[1].read || ops[1].buf != DSPRxBuf0+1 || ops[1].last != 21 {
		t.Errorf("unexpected ops after drain %+v", ops)
	}
}

func TestDBSMBothDoneLowerFirst(t *testing.T) {
	sm, drv := newTestDBSM(nil)
	sm.Start()
	drv.received(DSPRxBuf0, 20)
	sm.ProcessStatus(drv.Status())
	drv.ops()

	// A's send and B's receive complete together.
	drv.status |= StatusDone(DSPRxBuf0)
	drv.received(DSPRxBuf0+1, 30)
	sm.ProcessStatus(drv.Status())

	ops := drv.ops()
	if len(ops) != 2 {
		t.Fatalf("expected arm + send, got %+v", ops)
	}
	if !ops[0].write || ops[0].buf != DSPRxBuf0 {
		t.Errorf("expected A re-armed, got %+v", ops[0])
	}
	if !ops[1].read || ops[1].buf != DSPRxBuf0+1 || ops[1].last != 30 {
		t.Errorf("expected B sent, got %+v", ops[1])
	}
}

func TestDBSMHandledFrameIsNotForwarded(t *testing.T) {
	in := &verdictInspector{verdict: Handled}
	sm, drv := newTestDBSM(in)
	sm.Start()
	drv.ops()

	drv.received(DSPRxBuf0, 8)
	sm.ProcessStatus(drv.Status())

	if in.calls != 1 {
		t.Errorf("inspector called %d times", in.calls)
	}
	for _, op := range drv.ops() {
		if op.read {
			t.Errorf("handled frame was sent: %+v", op)
		}
	}
	if sm.Receiver() != DSPRxBuf0+1 {
		t.Errorf("expected B receiving, got %d", sm.Receiver())
	}
	if sm.LastLine(DSPRxBuf0) != 0 {
		t.Errorf("handled buffer kept last line %d", sm.LastLine(DSPRxBuf0))
	}
}

func TestDBSMTxUnderrunResumesAtFirstLine(t *testing.T) {
	drv := &fakePool{}
	sm := NewDBSM(NewPool(drv), DSPTxBuf0, txRecv, txSend, nil)
	tx := &fakeTx{}
	sm.Start()

	// A goes to the DSP, B fills and waits.
	drv.received(DSPTxBuf0, 100)
	sm.ProcessStatus(drv.Status())
	drv.received(DSPTxBuf0+1, 120)
	sm.ProcessStatus(drv.Status())
	drv.ops()

	sm.HandleTxUnderrun(tx)

	if tx.clears != 1 {
		t.Errorf("ClearState pulsed %d times", tx.clears)
	}
	ops := drv.ops()
	if len(ops) != 3 {
		t.Fatalf("expected clear A, send B, arm A; got %+v", ops)
	}
	if !ops[0].clear || ops[0].buf != DSPTxBuf0 {
		t.Errorf("expected emptying buffer cleared, got %+v", ops[0])
	}
	send := ops[1]
	if !send.read || send.buf != DSPTxBuf0+1 || send.port != PortDSP || send.first != FirstPayloadLine || send.last != 120 {
		t.Errorf("expected B sent from the first payload line, got %+v", send)
	}
	if !ops[2].write || ops[2].buf != DSPTxBuf0 {
		t.Errorf("expected A re-armed, got %+v", ops[2])
	}
}

func TestDBSMTxUnderrunNothingQueued(t *testing.T) {
	drv := &fakePool{}
	sm := NewDBSM(NewPool(drv), DSPTxBuf0, txRecv, txSend, nil)
	sm.Start()
	drv.received(DSPTxBuf0, 100)
	sm.ProcessStatus(drv.Status())
	drv.ops()

	sm.HandleTxUnderrun(&fakeTx{})

	if sm.Emptying() {
		t.Error("nothing should be emptying after underrun with no full buffer")
	}
	if sm.Receiver() != DSPTxBuf0+1 {
		t.Errorf("B should still be receiving, got %d", sm.Receiver())
	}
}

func TestDBSMRxOverrunClearsBoth(t *testing.T) {
	sm, drv := newTestDBSM(nil)
	rx := &fakeRx{}
	sm.Start()
	drv.received(DSPRxBuf0, 50)
	sm.ProcessStatus(drv.Status())
	drv.received(DSPRxBuf0+1, 60)
	sm.ProcessStatus(drv.Status())
	drv.ops()

	sm.HandleRxOverrun(rx)

	if rx.clears != 1 {
		t.Errorf("ClearOverrun pulsed %d times", rx.clears)
	}
	if sm.LastLine(DSPRxBuf0) != 0 || sm.LastLine(DSPRxBuf0+1) != 0 {
		t.Errorf("last lines not reset: %d %d", sm.LastLine(DSPRxBuf0), sm.LastLine(DSPRxBuf0+1))
	}
	ops := drv.ops()
	if len(ops) != 3 || !ops[0].clear || !ops[1].clear {
		t.Fatalf("expected two clears and a re-arm, got %+v", ops)
	}
	// B was the last receiver, so A takes the next frame.
	if !ops[2].write || ops[2].buf != DSPRxBuf0 {
		t.Errorf("expected A re-armed, got %+v", ops[2])
	}
	if sm.Emptying() {
		t.Error("overrun should leave nothing emptying")
	}
}

func TestDBSMRxOverrunWhileStopped(t *testing.T) {
	sm, drv := newTestDBSM(nil)
	sm.HandleRxOverrun(&fakeRx{})
	for _, op := range drv.ops() {
		if op.write {
			t.Errorf("stopped machine armed a receive: %+v", op)
		}
	}
}

func TestDBSMErrorRestarts(t *testing.T) {
	sm, drv := newTestDBSM(nil)
	sm.Start()
	drv.received(DSPRxBuf0, 50)
	sm.ProcessStatus(drv.Status())
	drv.ops()

	if !sm.ProcessStatus(StatusError(DSPRxBuf0 + 1)) {
		t.Fatal("error bit should restart the machine")
	}
	ops := drv.ops()
	last := ops[len(ops)-1]
	if !last.write || last.buf != DSPRxBuf0 {
		t.Errorf("expected restart to arm A, got %+v", last)
	}
	if sm.LastLine(DSPRxBuf0) != 0 {
		t.Error("restart kept stale last line")
	}
}

func TestDBSMIgnoresOtherBuffers(t *testing.T) {
	sm, drv := newTestDBSM(nil)
	sm.Start()
	drv.ops()

	if sm.ProcessStatus(StatusDone(DSPTxBuf0) | StatusError(CPUTxBuf)) {
		t.Error("foreign error bit restarted the machine")
	}
	if len(drv.ops()) != 0 {
		t.Error("foreign done bit caused activity")
	}
}

func TestDBSMStopIdempotent(t *testing.T) {
	sm, drv := newTestDBSM(nil)
	sm.Start()
	sm.Stop()
	sm.Stop()

	if sm.Running() || sm.Phase() != PhaseIdle {
		t.Error("machine still running after stop")
	}
	if sm.ProcessStatus(StatusDone(DSPRxBuf0)) {
		t.Error("stopped machine reported restart")
	}
	for _, op := range drv.ops()[3:] {
		if !op.clear {
			t.Errorf("stop issued %+v", op)
		}
	}
}

func TestDBSMArmTwicePanics(t *testing.T) {
	sm, _ := newTestDBSM(nil)
	sm.Start()
	expectPanic(t, "twice in a row", func() {
		sm.armReceive(DSPRxBuf0)
	})
}

func TestDBSMStalledInvariantPanics(t *testing.T) {
	sm, _ := newTestDBSM(nil)
	sm.Start()
	sm.state = [2]bufferState{}
	expectPanic(t, "idle while running", sm.checkInvariants)
}

func TestDBSMSendGate(t *testing.T) {
	sm, drv := newTestDBSM(nil)
	open := false
	sm.SetSendGate(func() bool { return open })
	sm.Start()
	drv.ops()

	drv.received(DSPRxBuf0, 12)
	sm.ProcessStatus(drv.Status())
	for _, op := range drv.ops() {
		if op.read {
			t.Fatalf("sent through a closed gate: %+v", op)
		}
	}
	drv.received(DSPRxBuf0+1, 13)
	sm.ProcessStatus(drv.Status())
	drv.ops()

	sm.Kick()
	if len(drv.ops()) != 0 {
		t.Fatal("Kick ignored the gate")
	}

	open = true
	sm.Kick()
	ops := drv.ops()
	if len(ops) != 1 || !ops[0].read || ops[0].buf != DSPRxBuf0 || ops[0].last != 12 {
		t.Fatalf("expected the older buffer sent first, got %+v", ops)
	}

	// Draining A re-arms it and sends B.
	drv.status |= StatusDone(DSPRxBuf0)
	sm.ProcessStatus(drv.Status())
	ops = drv.ops()
	if len(ops) != 2 || !ops[0].write || ops[0].buf != DSPRxBuf0 || !ops[1].read || ops[1].buf != DSPRxBuf0+1 {
		t.Errorf("unexpected ops %+v", ops)
	}
}
