package biometric

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// Status is a device connection state.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusFailed       Status = "failed"
)

// Config tunes the device monitor.
type Config struct {
	// MaxRetries bounds connection attempts per device.
	MaxRetries int

	// FlakyMaxRetries applies instead to devices whose name matches
	// FlakyPatterns. Known-flaky chest straps get more attempts and a
	// radio-stack reset between them.
	FlakyMaxRetries int

	// FlakyPatterns are case-insensitive substrings of device names
	// that mark a model as flaky.
	FlakyPatterns []string

	// RetryDelay is slept between failed attempts.
	RetryDelay time.Duration

	// PollInterval is how often a connected device's liveness is
	// checked.
	PollInterval time.Duration

	// NormalizationMs is the coherence constant k.
	NormalizationMs float64

	// QueueCapacity bounds the shared output sample queue.
	QueueCapacity int

	// RRBufferLen bounds the per-device RR ring.
	RRBufferLen int
}

// DefaultConfig returns the monitor defaults: 3 attempts (6 for flaky
// models), 2 s between attempts, 1 s liveness polls, k = 50 ms.
func DefaultConfig() Config {
	return Config{
		MaxRetries:      3,
		FlakyMaxRetries: 6,
		FlakyPatterns:   []string{"H808S", "TICKR"},
		RetryDelay:      2 * time.Second,
		PollInterval:    time.Second,
		NormalizationMs: DefaultNormalizationMs,
		QueueCapacity:   256,
		RRBufferLen:     rrRingCapacity,
	}
}

// Target identifies a device to monitor. Name is optional and only
// used to detect flaky models.
type Target struct {
	Address string
	Name    string
}

// device holds per-address monitor state. Owned exclusively by Monitor;
// the run goroutine is the only writer of attempt/status after start.
type device struct {
	target  Target
	status  Status
	attempt int
	rr      *rrRing
	cancel  context.CancelFunc
	done    chan struct{}
}

// Monitor drives one connection state machine per device address:
// Disconnected -> Connecting -> Connected -> (Disconnected | Failed).
//
// Devices are independent: retries happen serially per device, and one
// device's failure never halts the others. All parsed samples flow into
// a single bounded output queue.
type Monitor struct {
	mu        sync.Mutex
	transport Transport
	cfg       Config
	devices   map[string]*device
	out       *sampleQueue
}

// NewMonitor creates a monitor on the given transport.
func NewMonitor(transport Transport, cfg Config) *Monitor {
	def := DefaultConfig()
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.FlakyMaxRetries <= 0 {
		cfg.FlakyMaxRetries = def.FlakyMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.NormalizationMs <= 0 {
		cfg.NormalizationMs = def.NormalizationMs
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = def.QueueCapacity
	}
	if cfg.RRBufferLen <= 0 {
		cfg.RRBufferLen = def.RRBufferLen
	}

	return &Monitor{
		transport: transport,
		cfg:       cfg,
		devices:   make(map[string]*device),
		out:       newSampleQueue(cfg.QueueCapacity),
	}
}

// Connect starts monitoring the given targets. Addresses already being
// monitored are ignored. Each device gets its own goroutine.
func (m *Monitor) Connect(ctx context.Context, targets ...Target) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range targets {
		if t.Address == "" {
			continue
		}
		if _, ok := m.devices[t.Address]; ok {
			continue
		}

		devCtx, cancel := context.WithCancel(ctx)
		d := &device{
			target: t,
			status: StatusDisconnected,
			rr:     newRRRing(m.cfg.RRBufferLen),
			cancel: cancel,
			done:   make(chan struct{}),
		}
		m.devices[t.Address] = d

		go m.run(devCtx, d)
	}
}

// Disconnect stops monitoring one address, waiting briefly for its
// goroutine to observe the stop flag. Never force-kills an in-flight
// hardware call.
func (m *Monitor) Disconnect(address string) {
	m.mu.Lock()
	d, ok := m.devices[address]
	if ok {
		delete(m.devices, address)
	}
	m.mu.Unlock()

	if !ok {
		return
	}

	d.cancel()
	select {
	case <-d.done:
	case <-time.After(5 * time.Second):
		slog.Warn("device monitor slow to stop", "device", address)
	}
}

// DisconnectAll stops every device monitor.
func (m *Monitor) DisconnectAll() {
	m.mu.Lock()
	addrs := make([]string, 0, len(m.devices))
	for addr := range m.devices {
		addrs = append(addrs, addr)
	}
	m.mu.Unlock()

	for _, addr := range addrs {
		m.Disconnect(addr)
	}
}

// Active returns the monitored addresses, sorted.
func (m *Monitor) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.devices))
	for addr := range m.devices {
		out = append(out, addr)
	}
	sort.Strings(out)

	return out
}

// StatusOf reports the connection state of one address.
func (m *Monitor) StatusOf(address string) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.devices[address]
	if !ok {
		return StatusDisconnected, false
	}

	return d.status, true
}

// RecentSamples drains the output queue. Each sample is consumed
// exactly once.
func (m *Monitor) RecentSamples() []Sample {
	return m.out.Drain()
}

// run is the per-device state machine loop.
func (m *Monitor) run(ctx context.Context, d *device) {
	defer close(d.done)

	addr := d.target.Address
	max := m.maxAttempts(d.target)

	for {
		if ctx.Err() != nil {
			m.setStatus(addr, StatusDisconnected)
			return
		}

		d.attempt++
		if d.attempt > max {
			m.failDevice(d)
			return
		}

		m.setStatus(addr, StatusConnecting)
		slog.Debug("connecting to device",
			"device", addr,
			"attempt", d.attempt,
			"max", max,
		)

		conn, err := m.transport.Connect(ctx, addr)
		if err != nil {
			slog.Warn("device connect failed",
				"device", addr,
				"attempt", d.attempt,
				"error", err,
			)

			if m.isFlaky(d.target) {
				if rerr := m.transport.Reset(ctx); rerr != nil {
					slog.Warn("radio stack reset failed", "error", rerr)
				}
			}

			if !sleepCtx(ctx, m.cfg.RetryDelay) {
				m.setStatus(addr, StatusDisconnected)
				return
			}
			continue
		}

		m.setStatus(addr, StatusConnected)
		slog.Info("device connected", "device", addr, "attempt", d.attempt)

		if m.watch(ctx, d, conn) {
			// Only a link that got as far as notifications earns a
			// fresh retry budget; a connect whose subscribe fails
			// still burns an attempt, so a born-dead device is
			// exhausted instead of reconnected forever.
			d.attempt = 0
		}
		conn.Close()

		if ctx.Err() != nil {
			m.setStatus(addr, StatusDisconnected)
			return
		}

		m.setStatus(addr, StatusDisconnected)
		slog.Warn("device link lost, retrying", "device", addr)

		if !sleepCtx(ctx, m.cfg.RetryDelay) {
			return
		}
	}
}

// watch subscribes to notifications and polls liveness until the link
// drops or the context is cancelled. Reports whether the subscription
// was established.
func (m *Monitor) watch(ctx context.Context, d *device, conn Conn) bool {
	addr := d.target.Address

	err := conn.Subscribe(func(payload []byte) {
		m.handleNotification(d, payload)
	})
	if err != nil {
		slog.Warn("subscribe failed", "device", addr, "error", err)
		return false
	}

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return true
		case <-ticker.C:
			if !conn.Alive() {
				return true
			}
		}
	}
}

// handleNotification parses one payload, updates the RR ring, and
// enqueues a sample. Malformed payloads are dropped, not fatal.
func (m *Monitor) handleNotification(d *device, payload []byte) {
	meas, err := ParseMeasurement(payload)
	if err != nil {
		slog.Warn("dropping malformed heart rate payload",
			"device", d.target.Address,
			"error", err,
		)
		return
	}

	for _, rr := range meas.RRIntervalsMs {
		d.rr.Push(rr)
	}

	m.out.Push(Sample{
		Time:          time.Now(),
		Device:        d.target.Address,
		HeartRate:     meas.HeartRate,
		RRIntervalsMs: meas.RRIntervalsMs,
		Coherence:     Coherence(d.rr.Values(), m.cfg.NormalizationMs),
	})
}

// failDevice emits the single synthetic error sample and tears the
// device out of the active set.
func (m *Monitor) failDevice(d *device) {
	addr := d.target.Address

	slog.Error("device retries exhausted", "device", addr)

	m.out.Push(Sample{
		Time:   time.Now(),
		Device: addr,
		Err:    "connect retries exhausted",
	})

	m.mu.Lock()
	d.status = StatusFailed
	delete(m.devices, addr)
	m.mu.Unlock()
}

func (m *Monitor) setStatus(address string, s Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d, ok := m.devices[address]; ok {
		d.status = s
	}
}

func (m *Monitor) maxAttempts(t Target) int {
	if m.isFlaky(t) {
		return m.cfg.FlakyMaxRetries
	}
	return m.cfg.MaxRetries
}

func (m *Monitor) isFlaky(t Target) bool {
	name := strings.ToLower(t.Name)
	for _, p := range m.cfg.FlakyPatterns {
		if p != "" && strings.Contains(name, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// sleepCtx sleeps for d or until ctx is done; reports whether the full
// sleep elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
