package gateway

import "sync"

type replayEntry struct {
	Seq    int64
	Symbol string
	Data   []byte // pre-built envelope JSON
}

// ReplayBuffer is a fixed-size ring of recent envelopes. Reconnecting
// clients pass the last seq they saw and get everything newer that is
// still buffered.
type ReplayBuffer struct {
	mu   sync.RWMutex
	buf  []replayEntry
	pos  int // next write position
	full bool
}

// NewReplayBuffer creates a replay buffer with the given capacity.
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = 256
	}
	return &ReplayBuffer{buf: make([]replayEntry, capacity)}
}

// Push appends an envelope, overwriting the oldest entry when full.
// The buffer keeps its own copy of data.
func (rb *ReplayBuffer) Push(seq int64, symbol string, data []byte) {
	cp := append([]byte(nil), data...)

	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.buf[rb.pos] = replayEntry{Seq: seq, Symbol: symbol, Data: cp}
	rb.pos = (rb.pos + 1) % len(rb.buf)
	if rb.pos == 0 {
		rb.full = true
	}
}

// Since returns the buffered entries with seq > after, oldest first.
func (rb *ReplayBuffer) Since(after int64) []replayEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	n, start := rb.pos, 0
	if rb.full {
		n, start = len(rb.buf), rb.pos
	}
	var out []replayEntry
	for i := 0; i < n; i++ {
		e := rb.buf[(start+i)%len(rb.buf)]
		if e.Seq > after {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of entries currently in the buffer.
func (rb *ReplayBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	if rb.full {
		return len(rb.buf)
	}
	return rb.pos
}
