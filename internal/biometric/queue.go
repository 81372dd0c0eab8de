package biometric

import "sync"

// sampleQueue is a thread-safe bounded FIFO for samples.
//
// Multiple device goroutines push; the presentation layer drains. When
// the queue is full the oldest sample is dropped: live telemetry is
// worth more than stale telemetry, and a stalled reader must not block
// device monitors.
type sampleQueue struct {
	mu      sync.Mutex
	samples []Sample
	cap     int
	closed  bool
}

func newSampleQueue(capacity int) *sampleQueue {
	if capacity <= 0 {
		capacity = 256
	}

	return &sampleQueue{
		samples: make([]Sample, 0, capacity),
		cap:     capacity,
	}
}

// Push appends a sample, evicting the oldest when full.
// Returns false if the queue is closed.
func (q *sampleQueue) Push(s Sample) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	if len(q.samples) >= q.cap {
		// Nil out the evicted slot's slices so the backing array does
		// not retain them.
		q.samples[0] = Sample{}
		q.samples = q.samples[1:]
	}

	q.samples = append(q.samples, s)

	return true
}

// Drain removes and returns all queued samples in arrival order.
func (q *sampleQueue) Drain() []Sample {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.samples) == 0 {
		return nil
	}

	out := make([]Sample, len(q.samples))
	copy(out, q.samples)
	q.samples = q.samples[:0]

	return out
}

// Len returns the number of queued samples.
func (q *sampleQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.samples)
}

// Close rejects further pushes. Queued samples remain drainable.
func (q *sampleQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
}
