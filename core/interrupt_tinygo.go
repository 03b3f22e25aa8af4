//go:build tinygo

package core

import "runtime/interrupt"

// disableInterrupts masks interrupts around read-modify-write of state the
// overrun and underrun handlers also touch.
func disableInterrupts() interrupt.State {
	return interrupt.Disable()
}

func restoreInterrupts(state interrupt.State) {
	interrupt.Restore(state)
}
