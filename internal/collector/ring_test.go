package collector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBitRing_AppendAndTail(t *testing.T) {
	r := newBitRing(8)

	for _, b := range []uint8{1, 0, 1, 1} {
		r.Append(b)
	}

	require.Equal(t, 4, r.Len())
	assert.Equal(t, []uint8{1, 0, 1, 1}, r.Snapshot())
	assert.Equal(t, []uint8{1, 1}, r.Tail(2))
	assert.Equal(t, []uint8{1, 0, 1, 1}, r.Tail(100), "oversized tail returns everything")
	assert.Nil(t, r.Tail(0))
}

func TestBitRing_EvictsOldest(t *testing.T) {
	r := newBitRing(4)

	for i := 0; i < 4; i++ {
		r.Append(0)
	}
	for i := 0; i < 3; i++ {
		r.Append(1)
	}

	require.Equal(t, 4, r.Len(), "capacity is a hard bound")
	assert.Equal(t, []uint8{0, 1, 1, 1}, r.Snapshot())
	assert.Equal(t, 3, r.Sum())
}

func TestBitRing_WrapsManyTimes(t *testing.T) {
	r := newBitRing(3)

	for i := 0; i < 10; i++ {
		r.Append(uint8(i % 2))
	}

	// Last three of 0,1,0,1,0,1,0,1,0,1.
	assert.Equal(t, []uint8{1, 0, 1}, r.Snapshot())
}
