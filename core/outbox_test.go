package core

import "testing"

func TestOutboxWaitsForLink(t *testing.T) {
	drv := &fakePool{}
	pool := NewPool(drv)
	var o outbox

	frame := make([]byte, 62)
	frame[2] = 0x42
	o.push(frame)

	o.start(pool, true)
	if len(drv.ops()) != 0 {
		t.Fatal("sent while the rx path owns the link")
	}

	o.start(pool, false)
	ops := drv.ops()
	if len(ops) != 2 || !ops[0].clear || !ops[1].read {
		t.Fatalf("expected clear + send, got %+v", ops)
	}
	send := ops[1]
	if send.buf != CPUTxBuf || send.port != PortETH || send.first != 0 || send.last != 15 {
		t.Errorf("send %+v", send)
	}
	if drv.ram[CPUTxBuf][0] != 0x00004200 {
		t.Errorf("frame not copied: %#x", drv.ram[CPUTxBuf][0])
	}

	// Busy until the pool reports completion.
	o.push(make([]byte, 62))
	o.complete(0)
	o.start(pool, false)
	if len(drv.ops()) != 0 || o.idle() {
		t.Error("second frame sent before the first completed")
	}
	o.complete(StatusDone(CPUTxBuf))
	o.start(pool, false)
	if len(drv.ops()) != 2 || o.sent != 2 {
		t.Error("second frame not sent after completion")
	}
}

func TestOutboxOverflow(t *testing.T) {
	var o outbox
	for i := 0; i < OutboxDepth; i++ {
		if !o.push([]byte{byte(i)}) {
			t.Fatalf("push %d rejected", i)
		}
	}
	if o.push([]byte{0xFF}) || o.dropped != 1 {
		t.Error("full outbox accepted a frame")
	}
	if f := o.pop(); f[0] != 0 {
		t.Errorf("popped %v first", f)
	}
}
