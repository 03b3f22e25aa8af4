package core

// ClockFreq is the DSP sample clock the board's time registers count in.
const ClockFreq = 100000000

// TicksToUS converts clock ticks to microseconds.
func TicksToUS(ticks uint32) uint32 {
	return uint32(uint64(ticks) * 1000000 / ClockFreq)
}
