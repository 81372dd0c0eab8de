// Package drbg implements an HMAC-SHA256 deterministic random bit
// generator in the SP 800-90A shape.
//
// The generator exists so a session's bit stream can be seeded from any
// entropy source and replayed later for audit: two generators seeded
// with identical material produce identical output sequences.
package drbg

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"sync"
)

const stateLen = sha256.Size

// ErrBitCount is returned when a draw requests more than 32 bits.
var ErrBitCount = errors.New("drbg: bit count must be between 1 and 32")

// Generator is an HMAC-based DRBG. The zero value is not usable; use New.
//
// Seeding and bit draws are mutually exclusive under an internal mutex,
// so a reseed replaces the K/V state atomically: concurrent readers
// observe either the old or the new generator state, never a torn mix.
type Generator struct {
	mu     sync.Mutex
	k      []byte
	v      []byte
	seeded bool
}

// New returns an unseeded generator with K = 32 zero bytes and
// V = 32 bytes of 0x01.
func New() *Generator {
	g := &Generator{
		k: make([]byte, stateLen),
		v: make([]byte, stateLen),
	}
	for i := range g.v {
		g.v[i] = 0x01
	}

	return g
}

// Seed mixes material into the generator state, replacing K and V
// atomically. Seeding twice with the same material from a fresh state
// yields identical output sequences.
func (g *Generator) Seed(material []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.update(material)
	g.seeded = true
}

// Reseed is Seed under a name that reads better at call sites that mix
// fresh entropy into a running generator.
func (g *Generator) Reseed(material []byte) {
	g.Seed(material)
}

// Seeded reports whether the generator has received seed material.
func (g *Generator) Seeded() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.seeded
}

// update is the SP 800-90A HMAC_DRBG_Update function: two HMAC passes
// with 0x00 and 0x01 domain separators, each followed by V = HMAC(K, V).
// Caller must hold g.mu.
func (g *Generator) update(material []byte) {
	g.k = hmacSum(g.k, g.v, []byte{0x00}, material)
	g.v = hmacSum(g.k, g.v)

	if len(material) == 0 {
		return
	}

	g.k = hmacSum(g.k, g.v, []byte{0x01}, material)
	g.v = hmacSum(g.k, g.v)
}

// Uint draws bits low-order bits (1 <= bits <= 32) from the stream.
func (g *Generator) Uint(bits int) (uint32, error) {
	if bits < 1 || bits > 32 {
		return 0, ErrBitCount
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	var draw [4]byte
	g.generate(draw[:])

	v := binary.BigEndian.Uint32(draw[:])
	if bits == 32 {
		return v, nil
	}

	return v & ((1 << uint(bits)) - 1), nil
}

// Bit draws a single bit.
func (g *Generator) Bit() uint8 {
	v, _ := g.Uint(1)

	return uint8(v)
}

// generate fills out with successive V = HMAC(K, V) blocks.
// Caller must hold g.mu.
func (g *Generator) generate(out []byte) {
	for n := 0; n < len(out); {
		g.v = hmacSum(g.k, g.v)
		n += copy(out[n:], g.v)
	}
}

func hmacSum(key []byte, parts ...[]byte) []byte {
	mac := hmac.New(sha256.New, key)
	for _, p := range parts {
		mac.Write(p)
	}

	return mac.Sum(nil)
}
