package core

// poolOp is a decoded control word written to fakePool.
type poolOp struct {
	read, write, clear bool
	buf, port          int
	first, last        uint32
}

type fakePool struct {
	ram    [NumBuffers][BufferLines]uint32
	last   [NumBuffers]uint32
	status uint32
	log    []poolOp
}

func (p *fakePool) Status() uint32 {
	s := p.status
	p.status = 0
	return s
}

func (p *fakePool) Control(word uint32) {
	var op poolOp
	op.read, op.write, op.clear, op.buf, op.port, op.first, op.last = DecodeBufferControl(word)
	if op.clear {
		p.last[op.buf] = 0
	}
	p.log = append(p.log, op)
}

func (p *fakePool) LastLine(buf int) uint32 { return p.last[buf] }
func (p *fakePool) RAM(buf int) []uint32    { return p.ram[buf][:] }

// ops returns and forgets the control log.
func (p *fakePool) ops() []poolOp {
	out := p.log
	p.log = nil
	return out
}

// received marks buf as filled up to last.
func (p *fakePool) received(buf int, last uint32) {
	p.last[buf] = last
	p.status |= StatusDone(buf)
}

type fakeRx struct {
	items, channels    uint32
	header, sid, trail uint32
	clears             int
	cmds               [][3]uint32
}

func (r *fakeRx) SetItemsPerFrame(n uint32) { r.items = n }
func (r *fakeRx) SetChannels(n uint32)      { r.channels = n }
func (r *fakeRx) ClearOverrun()             { r.clears++ }
func (r *fakeRx) SetVRTHeader(h uint32)     { r.header = h }
func (r *fakeRx) SetVRTStreamID(id uint32)  { r.sid = id }
func (r *fakeRx) SetVRTTrailer(t uint32)    { r.trail = t }
func (r *fakeRx) IssueCommand(cmd, secs, ticks uint32) {
	r.cmds = append(r.cmds, [3]uint32{cmd, secs, ticks})
}

type fakeTx struct {
	clears              int
	freq, scale, interp uint32
}

func (t *fakeTx) ClearState()            { t.clears++ }
func (t *fakeTx) SetFreq(f uint32)       { t.freq = f }
func (t *fakeTx) SetScaleIQ(s uint32)    { t.scale = s }
func (t *fakeTx) SetInterpRate(r uint32) { t.interp = r }

type fakePIC struct{ pending uint32 }

func (p *fakePIC) Pending() uint32 { return p.pending }
func (p *fakePIC) Ack(mask uint32) { p.pending &^= mask }

type fakeMAC [6]byte

func (m fakeMAC) HardwareAddr() [6]byte { return m }

// verdictInspector returns a fixed disposition and counts calls.
type verdictInspector struct {
	verdict Disposition
	calls   int
}

func (v *verdictInspector) Inspect(*DBSM, int) Disposition {
	v.calls++
	return v.verdict
}

func (*verdictInspector) inspector() {}
