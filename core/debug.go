package core

// DebugWriter receives console output. It is called from the poll loop and
// must not block for long.
type DebugWriter func(string)

// Console line prefixes. Fault lines are preceded by their one-character
// marker.
const (
	ConsoleBoot  = "[BOOT] "
	ConsoleFault = "[FAULT] "
	ConsoleCtrl  = "[CTRL] "
)

// FaultRingSize is how many fault events are kept for post-mortem.
const FaultRingSize = 32

// FaultRing keeps the most recent fault events. It never allocates after
// construction and overwrites the oldest entry when full.
type FaultRing struct {
	events [FaultRingSize]FaultEvent
	head   uint8
	total  uint32
}

// Record stores e.
func (r *FaultRing) Record(e FaultEvent) {
	r.events[r.head] = e
	r.head = (r.head + 1) % FaultRingSize
	r.total++
}

// Total is the number of events recorded since the last Clear, including
// ones that have been overwritten.
func (r *FaultRing) Total() uint32 { return r.total }

// Events returns the retained events, oldest first.
func (r *FaultRing) Events() []FaultEvent {
	n := int(r.total)
	if n > FaultRingSize {
		n = FaultRingSize
	}
	out := make([]FaultEvent, 0, n)
	start := (int(r.head) - n + FaultRingSize) % FaultRingSize
	for i := 0; i < n; i++ {
		out = append(out, r.events[(start+i)%FaultRingSize])
	}
	return out
}

// Clear drops all events.
func (r *FaultRing) Clear() {
	*r = FaultRing{}
}

// Dump writes every retained event to w.
func (r *FaultRing) Dump(w DebugWriter) {
	if w == nil {
		return
	}
	w("[FAULT] === fault ring: " + itoa(int(r.total)) + " total ===\n")
	for _, e := range r.Events() {
		w(e.ConsoleLine())
	}
}
