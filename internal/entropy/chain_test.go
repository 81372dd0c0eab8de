package entropy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubSource returns fixed bytes or a fixed error and records calls.
type stubSource struct {
	name  string
	fill  byte
	err   error
	calls int
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Fetch(_ context.Context, n int) ([]byte, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}

	buf := make([]byte, n)
	for i := range buf {
		buf[i] = s.fill
	}
	return buf, nil
}

func TestChain_PrefersSpectral(t *testing.T) {
	spectral := &stubSource{name: "spectral", fill: 0xAA}
	online := &stubSource{name: "online", fill: 0xBB}
	c := NewChain(spectral, online)

	out := c.Fetch(context.Background(), 8)
	require.Len(t, out, 8)
	assert.Equal(t, byte(0xAA), out[0])
	assert.Equal(t, 0, online.calls, "online must not be tried when spectral succeeds")
}

func TestChain_FallsThroughToOnline(t *testing.T) {
	spectral := &stubSource{name: "spectral", err: unavailable("spectral", "no device", nil)}
	online := &stubSource{name: "online", fill: 0xBB}
	c := NewChain(spectral, online)

	out := c.Fetch(context.Background(), 8)
	require.Len(t, out, 8)
	assert.Equal(t, byte(0xBB), out[0])
	assert.Equal(t, 1, spectral.calls)
}

func TestChain_AlwaysReturnsNBytes(t *testing.T) {
	// Every external source forced to fail: the secure fallback still
	// satisfies the contract for all n >= 0.
	spectral := &stubSource{name: "spectral", err: unavailable("spectral", "no device", nil)}
	online := &stubSource{name: "online", err: malformed("online", "garbage", nil)}
	c := NewChain(spectral, online)

	for _, n := range []int{0, 1, 7, 1024, 4096} {
		out := c.Fetch(context.Background(), n)
		assert.Len(t, out, n, "fetch(%d)", n)
	}
}

func TestChain_NoExternalSources(t *testing.T) {
	c := NewChain(nil, nil)

	out := c.Fetch(context.Background(), 16)
	assert.Len(t, out, 16)
}

func TestChain_UnexpectedErrorStillFallsThrough(t *testing.T) {
	// A plain error is outside the recoverable taxonomy. The chain
	// logs it loudly but bit production must never halt.
	spectral := &stubSource{name: "spectral", err: errors.New("nil pointer somewhere")}
	c := NewChain(spectral, nil)

	out := c.Fetch(context.Background(), 8)
	assert.Len(t, out, 8)
}

func TestFallback_BitIsBinary(t *testing.T) {
	f := NewFallback()

	for i := 0; i < 256; i++ {
		b := f.Bit()
		require.LessOrEqual(t, b, uint8(1))
	}
}
