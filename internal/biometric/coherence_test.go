package biometric

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCoherence_InsufficientData(t *testing.T) {
	assert.Equal(t, 0.0, Coherence(nil, DefaultNormalizationMs))
	assert.Equal(t, 0.0, Coherence([]float64{800}, DefaultNormalizationMs))
	assert.Equal(t, 0.0, Coherence([]float64{800, 810}, DefaultNormalizationMs))
}

func TestCoherence_PerfectRegularityIsOne(t *testing.T) {
	// Zero successive variance: RMSSD 0, coherence exactly 1.
	rr := []float64{800, 800, 800, 800, 800}
	assert.Equal(t, 1.0, Coherence(rr, DefaultNormalizationMs))
}

func TestCoherence_RMSSDEqualToKIsHalf(t *testing.T) {
	// Alternating +-50 ms gives RMSSD exactly 50 = k.
	rr := []float64{800, 850, 800, 850, 800}
	assert.InDelta(t, 0.5, Coherence(rr, 50), 1e-12)
}

func TestCoherence_MonotoneDecreasingInVolatility(t *testing.T) {
	calm := []float64{800, 805, 800, 805, 800}
	jittery := []float64{800, 900, 750, 950, 700}

	assert.Greater(t,
		Coherence(calm, DefaultNormalizationMs),
		Coherence(jittery, DefaultNormalizationMs),
	)
}

func TestCoherence_Clamped(t *testing.T) {
	rr := []float64{100, 2000, 100, 2000}
	c := Coherence(rr, DefaultNormalizationMs)
	assert.GreaterOrEqual(t, c, 0.0)
	assert.LessOrEqual(t, c, 1.0)
}

func TestRRRing_Bounded(t *testing.T) {
	r := newRRRing(3)

	for i := 1; i <= 5; i++ {
		r.Push(float64(i * 100))
	}

	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []float64{300, 400, 500}, r.Values(), "oldest evicted first")
}

func TestRRRing_BackingArrayIsFixed(t *testing.T) {
	r := newRRRing(3)

	// Many wraps never grow or replace the backing array.
	for i := 0; i < 1000; i++ {
		r.Push(float64(i))
	}

	assert.Equal(t, 3, len(r.buf))
	assert.Equal(t, []float64{997, 998, 999}, r.Values())
}

func TestRRRing_ValuesIsACopy(t *testing.T) {
	r := newRRRing(4)
	r.Push(800)

	vals := r.Values()
	vals[0] = 0

	assert.Equal(t, []float64{800}, r.Values())
}
