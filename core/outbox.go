package core

// OutboxDepth is how many CPU-originated frames can wait for the link.
const OutboxDepth = 8

// outbox queues frames the firmware itself sends to the host: command
// responses and fault reports. They leave through CPUTxBuf, one at a time,
// and only while the Rx path is not using the Ethernet port. The Rx path in
// turn holds its sends while a CPU frame is in flight.
type outbox struct {
	frames  [OutboxDepth][]byte
	head    int
	count   int
	busy    bool
	dropped uint32
	sent    uint32
}

func (o *outbox) push(frame []byte) bool {
	if o.count == OutboxDepth {
		o.dropped++
		return false
	}
	o.frames[(o.head+o.count)%OutboxDepth] = frame
	o.count++
	return true
}

func (o *outbox) pop() []byte {
	f := o.frames[o.head]
	o.frames[o.head] = nil
	o.head = (o.head + 1) % OutboxDepth
	o.count--
	return f
}

// complete releases the CPU buffer when its send finished or failed.
func (o *outbox) complete(status uint32) {
	if status&(StatusDone(CPUTxBuf)|StatusError(CPUTxBuf)) != 0 {
		o.busy = false
	}
}

// start sends the next queued frame if the Ethernet port is free.
func (o *outbox) start(pool *Pool, ethBusy bool) {
	if o.busy || o.count == 0 || ethBusy {
		return
	}
	frame := o.pop()
	pool.Clear(CPUTxBuf)
	ram := pool.RAM(CPUTxBuf)
	lines := (len(frame) + LineBytes - 1) / LineBytes
	for i := 0; i < lines; i++ {
		ram[i] = 0
	}
	PutBytes(ram, 0, frame)
	pool.SendFromBuf(CPUTxBuf, PortETH, 0, uint32(lines-1))
	o.busy = true
	o.sent++
}

// idle reports whether the CPU buffer is free for the Rx path.
func (o *outbox) idle() bool { return !o.busy }
