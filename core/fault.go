package core

import "strings"

// FaultKind identifies a recovered hardware condition.
type FaultKind uint8

const (
	FaultUnderrun FaultKind = iota + 1
	FaultOverrun
	FaultBufferError
)

var faultNames = [...]string{"", "underrun", "overrun", "buffer-error"}

func (k FaultKind) String() string {
	if int(k) < len(faultNames) && k != 0 {
		return faultNames[k]
	}
	return "unknown"
}

// Marker is the single character written to the console when k is handled.
func (k FaultKind) Marker() byte {
	switch k {
	case FaultUnderrun:
		return 'U'
	case FaultOverrun:
		return 'O'
	case FaultBufferError:
		return 'E'
	}
	return '?'
}

// Direction is the data path a fault hit.
type Direction uint8

const (
	DirTx Direction = iota // host to DSP
	DirRx                  // DSP to host
)

func (d Direction) String() string {
	if d == DirRx {
		return "rx"
	}
	return "tx"
}

// FaultEvent is the structured record kept for every recovered fault.
type FaultEvent struct {
	Kind FaultKind
	Dir  Direction
	// Buffer is the pool buffer that failed or was active when the fault
	// hit, or -1.
	Buffer    int
	Clock     uint32
	Streaming bool
}

// ConsoleLine formats e the way it is written to the debug console.
func (e FaultEvent) ConsoleLine() string {
	var b strings.Builder
	b.WriteByte(e.Kind.Marker())
	b.WriteString(ConsoleFault)
	b.WriteString("kind=" + e.Kind.String())
	b.WriteString(" dir=" + e.Dir.String())
	b.WriteString(" buf=" + itoa(e.Buffer))
	b.WriteString(" clock=" + utoa(e.Clock))
	b.WriteString(" streaming=" + flag(e.Streaming) + "\n")
	return b.String()
}

// ParseFaultKind is the inverse of FaultKind.String.
func ParseFaultKind(s string) (FaultKind, bool) {
	for i, n := range faultNames {
		if i != 0 && n == s {
			return FaultKind(i), true
		}
	}
	return 0, false
}
