package sim

import "sdrbridge/core"

// rxControl is the receive chain register view of a Board.
type rxControl Board

func (r *rxControl) SetItemsPerFrame(n uint32) { r.set(func(c *RxConfig) { c.ItemsPerFrame = n }) }
func (r *rxControl) SetChannels(n uint32)      { r.set(func(c *RxConfig) { c.Channels = n }) }
func (r *rxControl) SetVRTHeader(h uint32)     { r.set(func(c *RxConfig) { c.VRTHeader = h }) }
func (r *rxControl) SetVRTStreamID(id uint32)  { r.set(func(c *RxConfig) { c.VRTStreamID = id }) }
func (r *rxControl) SetVRTTrailer(t uint32)    { r.set(func(c *RxConfig) { c.VRTTrailer = t }) }

func (r *rxControl) set(fn func(*RxConfig)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.rx)
}

// ClearOverrun flushes the command queue and stops the current command.
func (r *rxControl) ClearOverrun() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queue = nil
	r.current = nil
	r.left = 0
}

func (r *rxControl) IssueCommand(cmd, secs, ticks uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := IssuedCommand{Cmd: cmd, Secs: secs, Ticks: ticks}
	r.queue = append(r.queue, c)
	r.issued = append(r.issued, c)
}

// txControl is the transmit chain register view of a Board.
type txControl Board

func (t *txControl) ClearState() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tx.ClearPulses++
}

func (t *txControl) SetFreq(f uint32)       { t.set(func(c *TxConfig) { c.Freq = f }) }
func (t *txControl) SetScaleIQ(s uint32)    { t.set(func(c *TxConfig) { c.ScaleIQ = s }) }
func (t *txControl) SetInterpRate(r uint32) { t.set(func(c *TxConfig) { c.InterpRate = r }) }

func (t *txControl) set(fn func(*TxConfig)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.tx)
}

// pic is the interrupt controller view of a Board.
type pic Board

func (p *pic) Pending() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending
}

func (p *pic) Ack(mask uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending &^= mask
}

var (
	_ core.BufferPoolDriver = (*Board)(nil)
	_ core.MACDriver        = (*Board)(nil)
	_ core.RxControlDriver  = (*rxControl)(nil)
	_ core.TxControlDriver  = (*txControl)(nil)
	_ core.InterruptDriver  = (*pic)(nil)
)
