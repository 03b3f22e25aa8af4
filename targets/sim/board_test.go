package sim

import (
	"testing"

	"sdrbridge/core"
)

func TestStatusReadToClear(t *testing.T) {
	b := New()
	b.Control(core.BufferControl(1<<30, 4, core.PortETH, 0, core.MaxLastLine))
	b.SendFrame(make([]byte, 60))
	b.Tick()

	s := b.Status()
	if s&core.StatusDone(4) == 0 {
		t.Fatalf("receive not reported: %#x", s)
	}
	if s&core.StatusIdle(4) == 0 {
		t.Error("completed buffer not idle")
	}
	if b.Status()&core.StatusDone(4) != 0 {
		t.Error("done bit survived a read")
	}
	if b.LastLine(4) != 15 {
		t.Errorf("last line = %d", b.LastLine(4))
	}
}

func TestClearKeepsMemory(t *testing.T) {
	b := New()
	b.RAM(2)[0] = 0xDEADBEEF
	b.Control(core.BufferControl(1<<30, 2, core.PortDSP, 5, core.MaxLastLine))
	b.Control(core.BufferControl(1<<29, 2, 0, 0, 0))

	if b.Armed(2) {
		t.Error("clear left the buffer armed")
	}
	if b.RAM(2)[0] != 0xDEADBEEF {
		t.Error("clear wiped memory")
	}
}

func TestDoubleArmIsError(t *testing.T) {
	b := New()
	w := core.BufferControl(1<<30, 3, core.PortDSP, 5, core.MaxLastLine)
	b.Control(w)
	b.Control(w)
	if b.Status()&core.StatusError(3) == 0 {
		t.Error("arming a busy buffer did not raise an error")
	}
}

func TestOverrunWithoutBuffer(t *testing.T) {
	b := New()
	rx := b.Drivers().RxCtl
	rx.SetItemsPerFrame(10)
	rx.IssueCommand(core.MakeRxCommand(100, true, true), 0, 0)
	b.Tick()

	pic := b.Drivers().PIC
	if pic.Pending()&core.IRQOverrun == 0 {
		t.Fatal("no overrun with nothing armed")
	}
	if b.RxActive() {
		t.Error("DSP kept running after overrun")
	}
	pic.Ack(core.IRQOverrun)
	if pic.Pending() != 0 {
		t.Error("ack did not clear")
	}
}

func TestRxFrameLayout(t *testing.T) {
	b := New(WithFramePeriod(1))
	drv := b.Drivers()
	drv.RxCtl.SetItemsPerFrame(4)
	drv.RxCtl.SetVRTHeader(core.VRTHeader(4))
	drv.RxCtl.SetVRTTrailer(0x5A)
	b.Control(core.BufferControl(1<<30, 2, core.PortDSP, core.FirstPayloadLine, core.MaxLastLine))
	drv.RxCtl.IssueCommand(core.MakeRxCommand(8, true, false), 0, 0)
	b.Tick()

	last := b.LastLine(2)
	if last != core.FirstPayloadLine+core.VRTHeaderWords+4+core.VRTTrailerWords-1 {
		t.Errorf("last line %d", last)
	}
	ram := b.RAM(2)
	if core.VRTFrameWords(ram[core.FirstPayloadLine]) != 10 {
		t.Errorf("vrt header %#x", ram[core.FirstPayloadLine])
	}
	if ram[last] != 0x5A {
		t.Errorf("trailer %#x", ram[last])
	}

	// The second frame finishes the unchained command.
	b.Control(core.BufferControl(1<<30, 3, core.PortDSP, core.FirstPayloadLine, core.MaxLastLine))
	b.Tick()
	if b.RxActive() || b.RxFrames() != 2 {
		t.Errorf("active=%v frames=%d", b.RxActive(), b.RxFrames())
	}
	if b.RAM(3)[core.FirstPayloadLine+core.VRTHeaderWords] != 4 {
		t.Error("sample counter not continuous")
	}
}

func TestOversizeFrameIsError(t *testing.T) {
	b := New()
	b.Control(core.BufferControl(1<<30, 4, core.PortETH, 0, 10))
	b.SendFrame(make([]byte, 100))
	b.Tick()
	if b.Status()&core.StatusError(4) == 0 {
		t.Error("frame larger than the armed extent accepted")
	}
}
