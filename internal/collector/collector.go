package collector

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/mindfield-labs/mindfield/internal/biometric"
	"github.com/mindfield-labs/mindfield/internal/drbg"
	"github.com/mindfield-labs/mindfield/internal/entropy"
)

// Mode selects which buffer newly collected bits land in.
type Mode string

const (
	ModeBaseline   Mode = "baseline"
	ModeExperiment Mode = "experiment"
)

// Config tunes the collector. The zero value is not usable; call
// DefaultConfig and override fields as needed.
type Config struct {
	// Capacity bounds each bit buffer; the oldest bit is evicted
	// once a buffer is full.
	Capacity int

	// Cadence is the interval between internally generated bits.
	Cadence time.Duration

	// RetryDelay is how long a continuous-source run pauses after a
	// provider error before asking again.
	RetryDelay time.Duration

	// StopTimeout bounds how long Stop waits for the producer
	// goroutine to exit.
	StopTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Capacity:    100_000,
		Cadence:     10 * time.Millisecond,
		RetryDelay:  500 * time.Millisecond,
		StopTimeout: time.Second,
	}
}

// Stats summarizes the most recent bits in the active buffer.
type Stats struct {
	Mean    float64 `json:"mean"`
	ZScore  float64 `json:"z_score"`
	Count   int     `json:"count"`
	Markers int     `json:"markers"`
	Mode    Mode    `json:"mode"`
}

// Comparison contrasts the full baseline and experiment buffers.
// EffectPercent expresses the mean shift relative to the expected 0.5.
type Comparison struct {
	BaselineMean   float64 `json:"baseline_mean"`
	ExperimentMean float64 `json:"experiment_mean"`
	EffectPercent  float64 `json:"effect_percent"`
	BaselineBits   int     `json:"baseline_bits"`
	ExperimentBits int     `json:"experiment_bits"`
}

// minStatsBits is the window size below which Stats reports the
// neutral placeholder instead of a z-score from too little data.
const minStatsBits = 10

// minComparisonBits gates BaselineComparison; both buffers must hold
// at least this many bits before a comparison is meaningful.
const minComparisonBits = 100

// Provider yields raw entropy bytes for a continuous-source run. Each
// returned byte is unpacked most-significant bit first.
type Provider func(ctx context.Context) ([]byte, error)

// Collector buffers a stream of bits in a baseline and an experiment
// ring and pins markers to positions in the experiment stream. Bits
// come from the seeded generator when one is available, from the
// crypto/rand fallback otherwise, or from an external Provider during
// a continuous-source run.
type Collector struct {
	cfg      Config
	gen      *drbg.Generator
	fallback *entropy.Fallback
	log      *slog.Logger

	experiment *bitRing
	baseline   *bitRing

	mu      sync.Mutex
	mode    Mode
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	markers []Marker
}

// New builds an idle collector in experiment mode. gen may be nil, in
// which case every internally generated bit comes from the fallback.
func New(cfg Config, gen *drbg.Generator, log *slog.Logger) *Collector {
	if log == nil {
		log = slog.Default()
	}

	return &Collector{
		cfg:        cfg,
		gen:        gen,
		fallback:   entropy.NewFallback(),
		log:        log,
		experiment: newBitRing(cfg.Capacity),
		baseline:   newBitRing(cfg.Capacity),
		mode:       ModeExperiment,
	}
}

// Start begins producing one bit per cadence tick into the buffer for
// mode. It returns false if a run is already active.
func (c *Collector) Start(ctx context.Context, mode Mode) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return false
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.mode = mode
	c.running = true
	c.cancel = cancel
	c.done = make(chan struct{})

	go c.produce(runCtx, c.ringFor(mode), c.done)

	c.log.Info("collection started", "mode", mode, "cadence", c.cfg.Cadence)

	return true
}

// StartContinuous begins a run fed by provider instead of the internal
// generator. Provider errors pause the run for RetryDelay and are
// retried until the run is stopped.
func (c *Collector) StartContinuous(ctx context.Context, mode Mode, provider Provider) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return false
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.mode = mode
	c.running = true
	c.cancel = cancel
	c.done = make(chan struct{})

	go c.consume(runCtx, c.ringFor(mode), provider, c.done)

	c.log.Info("continuous collection started", "mode", mode)

	return true
}

// Stop ends the active run, waiting up to StopTimeout for the producer
// to exit. Buffered bits and markers survive across runs.
func (c *Collector) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	cancel()

	select {
	case <-done:
	case <-time.After(c.cfg.StopTimeout):
		c.log.Warn("producer did not stop in time", "timeout", c.cfg.StopTimeout)
	}

	c.log.Info("collection stopped",
		"experiment_bits", c.experiment.Len(),
		"baseline_bits", c.baseline.Len())
}

// Running reports whether a run is active.
func (c *Collector) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.running
}

// Mode returns the mode of the current or most recent run.
func (c *Collector) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.mode
}

func (c *Collector) ringFor(mode Mode) *bitRing {
	if mode == ModeBaseline {
		return c.baseline
	}

	return c.experiment
}

func (c *Collector) produce(ctx context.Context, ring *bitRing, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.cfg.Cadence)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ring.Append(c.drawBit())
		}
	}
}

func (c *Collector) consume(ctx context.Context, ring *bitRing, provider Provider, done chan struct{}) {
	defer close(done)

	for {
		if ctx.Err() != nil {
			return
		}

		raw, err := provider(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			c.log.Warn("continuous source failed, retrying", "error", err)

			select {
			case <-ctx.Done():
				return
			case <-time.After(c.cfg.RetryDelay):
			}

			continue
		}

		for _, b := range raw {
			for shift := 7; shift >= 0; shift-- {
				ring.Append((b >> shift) & 1)
			}
		}
	}
}

func (c *Collector) drawBit() uint8 {
	if c.gen != nil && c.gen.Seeded() {
		return c.gen.Bit()
	}

	return c.fallback.Bit()
}

// MarkEvent appends a marker pinned to the current experiment bit
// count and returns it.
func (c *Collector) MarkEvent(kind string, samples []biometric.Sample, meta map[string]string) Marker {
	m := newMarker(c.experiment.Len(), kind, samples, meta)

	c.mu.Lock()
	c.markers = append(c.markers, m)
	c.mu.Unlock()

	c.log.Info("event marked", "kind", kind, "bit_index", m.BitIndex)

	return m
}

// Markers returns a copy of all markers in creation order.
func (c *Collector) Markers() []Marker {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Marker, len(c.markers))
	copy(out, c.markers)

	return out
}

// ExperimentLen returns the number of bits currently buffered in the
// experiment ring.
func (c *Collector) ExperimentLen() int {
	return c.experiment.Len()
}

// ExperimentTail returns a copy of the most recent n experiment bits.
func (c *Collector) ExperimentTail(n int) []uint8 {
	return c.experiment.Tail(n)
}

// BaselineSnapshot returns a copy of the whole baseline buffer.
func (c *Collector) BaselineSnapshot() []uint8 {
	return c.baseline.Snapshot()
}

// BaselineTail returns a copy of the most recent n baseline bits.
func (c *Collector) BaselineTail(n int) []uint8 {
	return c.baseline.Tail(n)
}

// Stats summarizes the last window bits of the active buffer. A
// window of zero or less defaults to 1000. With fewer than 10 bits
// buffered it reports the neutral placeholder: mean 0.5, z-score 0.
func (c *Collector) Stats(window int) Stats {
	if window <= 0 {
		window = 1000
	}

	c.mu.Lock()
	mode := c.mode
	markers := len(c.markers)
	c.mu.Unlock()

	bits := c.ringFor(mode).Tail(window)

	s := Stats{
		Mean:    0.5,
		Count:   len(bits),
		Markers: markers,
		Mode:    mode,
	}

	if len(bits) < minStatsBits {
		return s
	}

	var ones int
	for _, b := range bits {
		ones += int(b)
	}

	n := float64(len(bits))
	s.Mean = float64(ones) / n
	// Z-score of the observed one-count against a fair Bernoulli
	// stream: sigma = sqrt(n)/2.
	s.ZScore = (float64(ones) - n/2) / (math.Sqrt(n) / 2)

	return s
}

// BaselineComparison contrasts the full baseline and experiment
// buffers. It returns nil until both hold at least 100 bits.
func (c *Collector) BaselineComparison() *Comparison {
	baseN, baseOnes := c.baseline.Len(), c.baseline.Sum()
	expN, expOnes := c.experiment.Len(), c.experiment.Sum()

	if baseN < minComparisonBits || expN < minComparisonBits {
		return nil
	}

	baseMean := float64(baseOnes) / float64(baseN)
	expMean := float64(expOnes) / float64(expN)

	return &Comparison{
		BaselineMean:   baseMean,
		ExperimentMean: expMean,
		EffectPercent:  (expMean - baseMean) / 0.5 * 100,
		BaselineBits:   baseN,
		ExperimentBits: expN,
	}
}

// ImportBaselineBits appends pre-recorded bits to the baseline buffer,
// skipping any value that is not 0 or 1. It returns the number of bits
// accepted.
func (c *Collector) ImportBaselineBits(values []int) int {
	var accepted int
	for _, v := range values {
		if v != 0 && v != 1 {
			continue
		}
		c.baseline.Append(uint8(v))
		accepted++
	}

	return accepted
}

// ImportBaselineBytes unpacks raw bytes most-significant bit first and
// appends every bit to the baseline buffer. It returns the number of
// bits appended.
func (c *Collector) ImportBaselineBytes(raw []byte) int {
	for _, b := range raw {
		for shift := 7; shift >= 0; shift-- {
			c.baseline.Append((b >> shift) & 1)
		}
	}

	return len(raw) * 8
}
