package entropy

import (
	"context"
	"crypto/rand"
)

// Fallback wraps the platform's cryptographically secure RNG.
//
// It is the trust floor of the source chain: always available, zero
// dependencies, and its Fetch never fails.
type Fallback struct{}

// NewFallback returns the secure software source.
func NewFallback() *Fallback {
	return &Fallback{}
}

// Name implements Source.
func (f *Fallback) Name() string { return "fallback" }

// Fetch implements Source. It never returns an error: crypto/rand.Read
// is documented to always succeed (and to crash the program rather than
// return weak randomness).
func (f *Fallback) Fetch(_ context.Context, n int) ([]byte, error) {
	if n <= 0 {
		return []byte{}, nil
	}

	buf := make([]byte, n)
	rand.Read(buf)

	return buf, nil
}

// Bit draws a single uniformly random bit.
func (f *Fallback) Bit() uint8 {
	var b [1]byte
	rand.Read(b[:])

	return b[0] & 1
}
