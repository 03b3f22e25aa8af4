//go:build !tinygo

package core

// State stands in for the saved interrupt mask on hosted builds.
type State uintptr

// disableInterrupts is a no-op when the poll loop is the only context.
func disableInterrupts() State {
	return 0
}

func restoreInterrupts(state State) {}
