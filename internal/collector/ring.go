package collector

import "sync"

// bitRing is a bounded circular buffer of bits with oldest-evicted
// semantics. Single writer appends; readers may query length and copy
// contents concurrently. A reader must snapshot the length once per
// operation rather than assume it is stable across calls.
type bitRing struct {
	mu    sync.Mutex
	buf   []uint8
	start int
	count int
}

func newBitRing(capacity int) *bitRing {
	return &bitRing{buf: make([]uint8, capacity)}
}

func (r *bitRing) Append(bit uint8) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == len(r.buf) {
		r.buf[r.start] = bit
		r.start = (r.start + 1) % len(r.buf)
		return
	}

	r.buf[(r.start+r.count)%len(r.buf)] = bit
	r.count++
}

func (r *bitRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.count
}

// Tail returns a copy of the most recent n bits in production order,
// or all bits when fewer exist.
func (r *bitRing) Tail(n int) []uint8 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n > r.count {
		n = r.count
	}
	if n <= 0 {
		return nil
	}

	out := make([]uint8, n)
	first := r.count - n
	for i := 0; i < n; i++ {
		out[i] = r.buf[(r.start+first+i)%len(r.buf)]
	}

	return out
}

// Snapshot returns a copy of the whole buffer, oldest first.
func (r *bitRing) Snapshot() []uint8 {
	return r.Tail(len(r.buf))
}

// Sum returns the number of one-bits currently buffered.
func (r *bitRing) Sum() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var sum int
	for i := 0; i < r.count; i++ {
		sum += int(r.buf[(r.start+i)%len(r.buf)])
	}

	return sum
}
