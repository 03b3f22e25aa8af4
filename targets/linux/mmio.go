//go:build linux

package main

import (
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"sdrbridge/core"
)

// Register map, as offsets from the mapped base.
const (
	offBufferRAM = 0x0000
	bufferStride = core.BufferLines * core.LineBytes

	// Buffer pool
	offBPControl  = 0x5000
	offBPStatus   = 0x5004 // clears on read
	offBPLastLine = 0x5010 // one word per buffer

	// Rx DSP settings
	offRxItems      = 0x5400
	offRxChannels   = 0x5404
	offRxClear      = 0x5408
	offRxVRTHeader  = 0x540C
	offRxVRTStream  = 0x5410
	offRxVRTTrailer = 0x5414
	offRxCmd        = 0x5418
	offRxSecs       = 0x541C
	offRxTicks      = 0x5420 // commits the command

	// Tx DSP settings
	offTxClear  = 0x5480
	offTxFreq   = 0x5484
	offTxScale  = 0x5488
	offTxInterp = 0x548C

	// Interrupt controller
	offPICPending = 0x5800
	offPICAck     = 0x5804 // write one to clear

	offTimeTicks = 0x5C00

	minMapSize = 0x5C04
)

// mmio is the FPGA register window mapped from /dev/mem.
type mmio struct {
	mem  *os.File
	regs []byte
	ram  [core.NumBuffers][]uint32
	mac  [6]byte
}

func openMMIO(base uint64, size int, mac [6]byte) (*mmio, error) {
	if size < minMapSize {
		return nil, fmt.Errorf("mmio window %#x smaller than register map %#x", size, minMapSize)
	}
	f, err := os.OpenFile("/dev/mem", os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("open /dev/mem: %w", err)
	}
	regs, err := unix.Mmap(int(f.Fd()), int64(base), size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap %#x: %w", base, err)
	}
	m := newMMIO(regs, mac)
	m.mem = f
	return m, nil
}

// newMMIO wraps an already mapped window. regs must be word aligned.
func newMMIO(regs []byte, mac [6]byte) *mmio {
	m := &mmio{regs: regs, mac: mac}
	for i := range m.ram {
		p := unsafe.Pointer(&regs[offBufferRAM+i*bufferStride])
		m.ram[i] = unsafe.Slice((*uint32)(p), core.BufferLines)
	}
	return m
}

func (m *mmio) Close() error {
	if m.mem == nil {
		return nil
	}
	for i := range m.ram {
		m.ram[i] = nil
	}
	err := unix.Munmap(m.regs)
	m.regs = nil
	if cerr := m.mem.Close(); err == nil {
		err = cerr
	}
	m.mem = nil
	return err
}

func (m *mmio) reg(off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&m.regs[off]))
}

func (m *mmio) read(off int) uint32     { return atomic.LoadUint32(m.reg(off)) }
func (m *mmio) write(off int, v uint32) { atomic.StoreUint32(m.reg(off), v) }

func (m *mmio) drivers() core.Board {
	return core.Board{
		Pool:  m,
		RxCtl: (*rxRegs)(m),
		TxCtl: (*txRegs)(m),
		PIC:   (*picRegs)(m),
		MAC:   m,
	}
}

// Time reads the free-running DSP clock.
func (m *mmio) Time() uint32 { return m.read(offTimeTicks) }

func (m *mmio) HardwareAddr() [6]byte { return m.mac }

func (m *mmio) Status() uint32          { return m.read(offBPStatus) }
func (m *mmio) Control(word uint32)     { m.write(offBPControl, word) }
func (m *mmio) LastLine(buf int) uint32 { return m.read(offBPLastLine + 4*buf) }
func (m *mmio) RAM(buf int) []uint32    { return m.ram[buf] }

type rxRegs mmio

func (r *rxRegs) m() *mmio { return (*mmio)(r) }

func (r *rxRegs) SetItemsPerFrame(n uint32) { r.m().write(offRxItems, n) }
func (r *rxRegs) SetChannels(n uint32)      { r.m().write(offRxChannels, n) }
func (r *rxRegs) ClearOverrun()             { r.m().write(offRxClear, 1) }
func (r *rxRegs) SetVRTHeader(h uint32)     { r.m().write(offRxVRTHeader, h) }
func (r *rxRegs) SetVRTStreamID(id uint32)  { r.m().write(offRxVRTStream, id) }
func (r *rxRegs) SetVRTTrailer(t uint32)    { r.m().write(offRxVRTTrailer, t) }

func (r *rxRegs) IssueCommand(cmd, secs, ticks uint32) {
	m := r.m()
	m.write(offRxCmd, cmd)
	m.write(offRxSecs, secs)
	m.write(offRxTicks, ticks)
}

type txRegs mmio

func (t *txRegs) m() *mmio { return (*mmio)(t) }

func (t *txRegs) ClearState()            { t.m().write(offTxClear, 1) }
func (t *txRegs) SetFreq(f uint32)       { t.m().write(offTxFreq, f) }
func (t *txRegs) SetScaleIQ(s uint32)    { t.m().write(offTxScale, s) }
func (t *txRegs) SetInterpRate(r uint32) { t.m().write(offTxInterp, r) }

type picRegs mmio

func (p *picRegs) Pending() uint32 { return (*mmio)(p).read(offPICPending) }
func (p *picRegs) Ack(mask uint32) { (*mmio)(p).write(offPICAck, mask) }

var (
	_ core.BufferPoolDriver = (*mmio)(nil)
	_ core.MACDriver        = (*mmio)(nil)
	_ core.RxControlDriver  = (*rxRegs)(nil)
	_ core.TxControlDriver  = (*txRegs)(nil)
	_ core.InterruptDriver  = (*picRegs)(nil)
)
