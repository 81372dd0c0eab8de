package entropy

import (
	"context"
	"encoding/binary"
	"math"
	"sync"
	"time"

	"golang.org/x/crypto/sha3"
)

// Radio reads complex baseband samples from an attached software-defined
// radio. Implementations own device setup and teardown per read cycle.
type Radio interface {
	// ReadSamples returns n in-phase/quadrature samples tuned to the
	// configured center frequency. Components are expected in [-1, 1].
	ReadSamples(n int) ([]complex128, error)

	Close() error
}

// OpenRadio opens a radio for one collection cycle. A fresh handle per
// cycle mirrors how RTL dongles are driven: claim, sample, release.
type OpenRadio func() (Radio, error)

// SpectralConfig tunes the spectral extractor.
type SpectralConfig struct {
	// SamplesPerCycle is the number of complex samples read per
	// collection cycle.
	SamplesPerCycle int

	// MaxCycles bounds how many collection cycles a single Fetch may
	// spend before giving up. Prevents unbounded blocking on a failing
	// device.
	MaxCycles int

	// FailureThreshold is the number of consecutive collection failures
	// after which the source enters a cool-down window.
	FailureThreshold int

	// Backoff is the length of the cool-down window. While it is open,
	// calls fail fast without touching the hardware.
	Backoff time.Duration
}

// DefaultSpectralConfig returns the tuning the desk rig ships with:
// 64 Ki samples per cycle at whatever the radio is tuned to, 16 cycle
// budget, 3 strikes then a 30 second cool-down.
func DefaultSpectralConfig() SpectralConfig {
	return SpectralConfig{
		SamplesPerCycle:  65536,
		MaxCycles:        16,
		FailureThreshold: 3,
		Backoff:          30 * time.Second,
	}
}

// Spectral extracts entropy from radio noise.
//
// Each cycle quantizes I/Q samples to signed 8-bit, takes the least
// significant bit of each component interleaved (I, Q, I, Q, ...), packs
// the bits MSB-first into bytes, and whitens the block with SHA3-256
// keyed by a cycle counter and a millisecond timestamp.
type Spectral struct {
	mu   sync.Mutex
	open OpenRadio
	cfg  SpectralConfig

	counter      uint32
	consecutive  int
	coolDownOver time.Time

	now func() time.Time // test seam
}

// NewSpectral creates a spectral extractor that opens radios via open.
func NewSpectral(open OpenRadio, cfg SpectralConfig) *Spectral {
	if cfg.SamplesPerCycle <= 0 {
		cfg.SamplesPerCycle = DefaultSpectralConfig().SamplesPerCycle
	}
	if cfg.MaxCycles <= 0 {
		cfg.MaxCycles = DefaultSpectralConfig().MaxCycles
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultSpectralConfig().FailureThreshold
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultSpectralConfig().Backoff
	}

	return &Spectral{
		open: open,
		cfg:  cfg,
		now:  time.Now,
	}
}

// Name implements Source.
func (s *Spectral) Name() string { return "spectral" }

// CollectRaw reads one cycle of samples and returns the packed LSB
// stream. Fails fast during an open cool-down window.
func (s *Spectral) CollectRaw() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.collectRawLocked()
}

func (s *Spectral) collectRawLocked() ([]byte, error) {
	if s.now().Before(s.coolDownOver) {
		return nil, unavailable("spectral", "cooling down after repeated failures", nil)
	}

	raw, err := s.readCycle()
	if err != nil {
		s.consecutive++
		if s.consecutive >= s.cfg.FailureThreshold {
			s.coolDownOver = s.now().Add(s.cfg.Backoff)
			s.consecutive = 0
		}

		return nil, err
	}

	s.consecutive = 0

	return raw, nil
}

func (s *Spectral) readCycle() ([]byte, error) {
	radio, err := s.open()
	if err != nil {
		return nil, unavailable("spectral", "open radio", err)
	}
	defer radio.Close()

	samples, err := radio.ReadSamples(s.cfg.SamplesPerCycle)
	if err != nil {
		return nil, unavailable("spectral", "read samples", err)
	}
	if len(samples) == 0 {
		return nil, unavailable("spectral", "no samples collected", nil)
	}

	return packIQBits(samples), nil
}

// packIQBits quantizes each sample component to int8, extracts the LSB
// of I and Q interleaved, and packs the bit sequence MSB-first into
// bytes, zero-padding to a byte boundary.
func packIQBits(samples []complex128) []byte {
	nbits := len(samples) * 2
	out := make([]byte, (nbits+7)/8)

	for i, c := range samples {
		ib := quantize(real(c)) & 1
		qb := quantize(imag(c)) & 1

		setBit(out, 2*i, uint8(ib))
		setBit(out, 2*i+1, uint8(qb))
	}

	return out
}

func quantize(v float64) int8 {
	r := math.Round(v * 127.0)
	if r > 127 {
		r = 127
	} else if r < -128 {
		r = -128
	}

	return int8(r)
}

func setBit(buf []byte, idx int, bit uint8) {
	if bit != 0 {
		buf[idx/8] |= 1 << (7 - uint(idx%8))
	}
}

// Whiten returns n bytes of whitened output. It repeatedly collects a
// raw block, hashes it with a monotonically increasing counter and a
// millisecond timestamp, and appends the digest until n bytes are
// accumulated. Errors out after MaxCycles cycles without reaching n.
func (s *Spectral) Whiten(n int) ([]byte, error) {
	if n <= 0 {
		return []byte{}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]byte, 0, n+sha3.New256().Size())

	for cycles := 0; len(out) < n; cycles++ {
		if cycles >= s.cfg.MaxCycles {
			return nil, unavailable("spectral", "could not produce enough output", nil)
		}

		raw, err := s.collectRawLocked()
		if err != nil {
			return nil, err
		}

		var ts [8]byte
		var ctr [4]byte

		binary.BigEndian.PutUint64(ts[:], uint64(s.now().UnixMilli()))
		binary.BigEndian.PutUint32(ctr[:], s.counter)
		s.counter++

		h := sha3.New256()
		h.Write(ts[:])
		h.Write(ctr[:])
		h.Write(raw)

		out = h.Sum(out)
	}

	return out[:n], nil
}

// Fetch implements Source.
func (s *Spectral) Fetch(_ context.Context, n int) ([]byte, error) {
	return s.Whiten(n)
}
