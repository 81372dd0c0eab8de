// Package recorder keeps bit-indexed snapshots of biometric samples so
// heart-rate coherence can later be correlated against positions in the
// experiment bit stream.
package recorder

import (
	"sync"
	"time"

	"github.com/mindfield-labs/mindfield/internal/biometric"
)

// DefaultCapacity bounds the snapshot ring; the oldest snapshot is
// evicted once full.
const DefaultCapacity = 10_000

// Snapshot captures the biometric state of every monitored device at a
// single position in the experiment bit stream.
type Snapshot struct {
	Time     time.Time          `json:"time"`
	BitIndex int                `json:"bit_index"`
	Samples  []biometric.Sample `json:"samples"`
}

// Recorder is a bounded ring of snapshots. The bit index for each
// snapshot comes from the injected index func so the recorder stays
// decoupled from the collector.
type Recorder struct {
	mu       sync.Mutex
	buf      []Snapshot
	start    int
	count    int
	bitIndex func() int
	now      func() time.Time
}

// New builds a recorder with the given capacity; zero or less selects
// DefaultCapacity. bitIndex supplies the current experiment bit count.
func New(capacity int, bitIndex func() int) *Recorder {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	return &Recorder{
		buf:      make([]Snapshot, capacity),
		bitIndex: bitIndex,
		now:      time.Now,
	}
}

// Record stamps samples with the current time and experiment bit index
// and appends the snapshot, evicting the oldest when full. The sample
// slice is copied so the caller may reuse it.
func (r *Recorder) Record(samples []biometric.Sample) Snapshot {
	snap := Snapshot{
		Time:     r.now().UTC(),
		BitIndex: r.bitIndex(),
		Samples:  append([]biometric.Sample(nil), samples...),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == len(r.buf) {
		r.buf[r.start] = snap
		r.start = (r.start + 1) % len(r.buf)
		return snap
	}

	r.buf[(r.start+r.count)%len(r.buf)] = snap
	r.count++

	return snap
}

// Len returns the number of buffered snapshots.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.count
}

// Snapshots returns a point-in-time copy of all buffered snapshots,
// oldest first.
func (r *Recorder) Snapshots() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Snapshot, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}

	return out
}
