package biometric

import (
	"math"
	"sync"
)

// DefaultNormalizationMs is the RMSSD normalization constant k in
// coherence = 1 / (1 + RMSSD/k). Typical resting RMSSD runs 20-100 ms;
// k = 50 puts an average rhythm near 0.5. Parallel implementations in
// the field use 50 or 100 and their outputs are not comparable, so the
// constant is configurable but 50 is the documented default here.
const DefaultNormalizationMs = 50.0

// minRRForCoherence is the minimum buffered RR count before a coherence
// value is meaningful. Below it the score is 0.
const minRRForCoherence = 3

// rrRingCapacity covers roughly the last two minutes of beats at
// typical heart rates.
const rrRingCapacity = 120

// Coherence maps an RR-interval sequence to a [0, 1] regularity score.
//
// It computes the RMSSD of successive differences and applies the
// monotone-decreasing transform 1/(1 + RMSSD/k): a calmer, more regular
// rhythm scores closer to 1. Not a standardized clinical metric.
func Coherence(rrMs []float64, k float64) float64 {
	if len(rrMs) < minRRForCoherence {
		return 0
	}
	if k <= 0 {
		k = DefaultNormalizationMs
	}

	var sum float64
	for i := 1; i < len(rrMs); i++ {
		d := rrMs[i] - rrMs[i-1]
		sum += d * d
	}
	rmssd := math.Sqrt(sum / float64(len(rrMs)-1))

	c := 1.0 / (1.0 + rmssd/k)
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}

	return c
}

// rrRing is a bounded per-device circular buffer of recent RR
// intervals. The backing array is allocated once; eviction moves the
// start index. Single writer (the device goroutine); readers snapshot
// under lock.
type rrRing struct {
	mu    sync.Mutex
	buf   []float64
	start int
	count int
}

func newRRRing(capacity int) *rrRing {
	if capacity <= 0 {
		capacity = rrRingCapacity
	}

	return &rrRing{buf: make([]float64, capacity)}
}

func (r *rrRing) Push(v float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == len(r.buf) {
		r.buf[r.start] = v
		r.start = (r.start + 1) % len(r.buf)
		return
	}

	r.buf[(r.start+r.count)%len(r.buf)] = v
	r.count++
}

// Values returns a point-in-time copy, oldest first.
func (r *rrRing) Values() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]float64, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}

	return out
}

func (r *rrRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.count
}
