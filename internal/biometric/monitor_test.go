package biometric

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn delivers payloads pushed by the test.
type fakeConn struct {
	mu           sync.Mutex
	handler      func([]byte)
	alive        bool
	subscribeErr error
}

func (c *fakeConn) Subscribe(handler func(payload []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribeErr != nil {
		return c.subscribeErr
	}
	c.handler = handler
	return nil
}

func (c *fakeConn) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alive
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alive = false
	return nil
}

func (c *fakeConn) notify(payload []byte) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h != nil {
		h(payload)
	}
}

func (c *fakeConn) subscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler != nil
}

// fakeTransport scripts connection outcomes per address.
type fakeTransport struct {
	mu            sync.Mutex
	ads           []Advertisement
	failures      map[string]int // remaining connect failures per address
	subscribeErrs map[string]error
	bornDead      map[string]bool // connections come up with Alive() == false
	conns         map[string]*fakeConn
	attempts      map[string]int
	resets        int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		failures:      make(map[string]int),
		subscribeErrs: make(map[string]error),
		bornDead:      make(map[string]bool),
		conns:         make(map[string]*fakeConn),
		attempts:      make(map[string]int),
	}
}

func (t *fakeTransport) Scan(_ context.Context, _ time.Duration) ([]Advertisement, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Advertisement(nil), t.ads...), nil
}

func (t *fakeTransport) Connect(_ context.Context, address string) (Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.attempts[address]++
	if t.failures[address] != 0 {
		if t.failures[address] > 0 {
			t.failures[address]--
		}
		return nil, errors.New("connect refused")
	}

	c := &fakeConn{alive: !t.bornDead[address], subscribeErr: t.subscribeErrs[address]}
	t.conns[address] = c
	return c, nil
}

func (t *fakeTransport) Reset(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resets++
	return nil
}

func (t *fakeTransport) attemptCount(address string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts[address]
}

func (t *fakeTransport) resetCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resets
}

func (t *fakeTransport) conn(address string) *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conns[address]
}

func fastConfig() Config {
	return Config{
		MaxRetries:   3,
		RetryDelay:   time.Millisecond,
		PollInterval: 5 * time.Millisecond,
	}
}

func TestMonitor_ConnectAndReceiveSamples(t *testing.T) {
	tr := newFakeTransport()
	m := NewMonitor(tr, fastConfig())
	defer m.DisconnectAll()

	m.Connect(context.Background(), Target{Address: "AA:01"})

	require.Eventually(t, func() bool {
		c := tr.conn("AA:01")
		return c != nil && c.subscribed()
	}, time.Second, time.Millisecond)

	tr.conn("AA:01").notify([]byte{0x00, 0x46})

	require.Eventually(t, func() bool {
		return m.out.Len() > 0
	}, time.Second, time.Millisecond)

	samples := m.RecentSamples()
	require.Len(t, samples, 1)
	assert.Equal(t, "AA:01", samples[0].Device)
	assert.Equal(t, 70, samples[0].HeartRate)
	assert.Equal(t, 0.0, samples[0].Coherence, "no RR data yet")
	assert.False(t, samples[0].Synthetic())

	// Drained once: a second read is empty.
	assert.Empty(t, m.RecentSamples())
}

func TestMonitor_CoherenceBuildsFromRRBuffer(t *testing.T) {
	tr := newFakeTransport()
	m := NewMonitor(tr, fastConfig())
	defer m.DisconnectAll()

	m.Connect(context.Background(), Target{Address: "AA:02"})
	require.Eventually(t, func() bool {
		c := tr.conn("AA:02")
		return c != nil && c.subscribed()
	}, time.Second, time.Millisecond)

	// Identical RR intervals (1024 raw = 1000 ms) across notifications:
	// perfect regularity.
	for i := 0; i < 4; i++ {
		tr.conn("AA:02").notify([]byte{0x10, 0x46, 0x00, 0x04})
	}

	require.Eventually(t, func() bool {
		return m.out.Len() >= 4
	}, time.Second, time.Millisecond)

	samples := m.RecentSamples()
	last := samples[len(samples)-1]
	assert.Equal(t, 1.0, last.Coherence)
}

func TestMonitor_RetriesExhaustedEmitOneSyntheticSample(t *testing.T) {
	tr := newFakeTransport()
	tr.failures["BB:01"] = -1 // always fail

	m := NewMonitor(tr, fastConfig())
	m.Connect(context.Background(), Target{Address: "BB:01"})

	require.Eventually(t, func() bool {
		return len(m.Active()) == 0
	}, time.Second, time.Millisecond, "failed device must leave the active set")

	assert.Equal(t, 3, tr.attemptCount("BB:01"))

	samples := m.RecentSamples()
	require.Len(t, samples, 1, "exactly one synthetic error sample")
	assert.True(t, samples[0].Synthetic())
	assert.Equal(t, 0, samples[0].HeartRate)
	assert.Equal(t, 0.0, samples[0].Coherence)
}

func TestMonitor_FlakyDeviceGetsExtraRetriesAndResets(t *testing.T) {
	tr := newFakeTransport()
	tr.failures["CC:01"] = -1

	cfg := fastConfig()
	cfg.FlakyMaxRetries = 5
	cfg.FlakyPatterns = []string{"H808S"}

	m := NewMonitor(tr, cfg)
	m.Connect(context.Background(), Target{Address: "CC:01", Name: "Polar H808S"})

	require.Eventually(t, func() bool {
		return len(m.Active()) == 0
	}, time.Second, time.Millisecond)

	assert.Equal(t, 5, tr.attemptCount("CC:01"))
	assert.Equal(t, 5, tr.resetCount(), "flaky models reset the stack between attempts")
}

func TestMonitor_TransientFailureThenSuccess(t *testing.T) {
	tr := newFakeTransport()
	tr.failures["DD:01"] = 2 // fail twice, then connect

	m := NewMonitor(tr, fastConfig())
	defer m.DisconnectAll()

	m.Connect(context.Background(), Target{Address: "DD:01"})

	require.Eventually(t, func() bool {
		s, _ := m.StatusOf("DD:01")
		return s == StatusConnected
	}, time.Second, time.Millisecond)

	assert.Equal(t, 3, tr.attemptCount("DD:01"))
	assert.Empty(t, m.RecentSamples(), "no synthetic sample on recovery")
}

func TestMonitor_SubscribeFailureExhaustsRetryBudget(t *testing.T) {
	tr := newFakeTransport()
	tr.subscribeErrs["HH:01"] = errors.New("characteristic gone")

	m := NewMonitor(tr, fastConfig())
	m.Connect(context.Background(), Target{Address: "HH:01"})

	require.Eventually(t, func() bool {
		return len(m.Active()) == 0
	}, time.Second, time.Millisecond, "a device whose subscribe never works must fail out")

	assert.Equal(t, 3, tr.attemptCount("HH:01"),
		"each connect with a failed subscribe burns one attempt")

	samples := m.RecentSamples()
	require.Len(t, samples, 1, "exactly one synthetic error sample")
	assert.True(t, samples[0].Synthetic())
}

func TestMonitor_DeadLinkReconnectsAreRateLimited(t *testing.T) {
	tr := newFakeTransport()
	tr.bornDead["HH:02"] = true

	cfg := fastConfig()
	cfg.RetryDelay = 20 * time.Millisecond
	cfg.PollInterval = time.Millisecond

	m := NewMonitor(tr, cfg)
	defer m.DisconnectAll()

	m.Connect(context.Background(), Target{Address: "HH:02"})
	time.Sleep(150 * time.Millisecond)

	// PollInterval + RetryDelay per cycle bounds the reconnect rate:
	// ~21 ms per attempt over 150 ms allows single digits, never a spin.
	assert.LessOrEqual(t, tr.attemptCount("HH:02"), 10,
		"reconnect after link loss must go through the retry delay")
	assert.Contains(t, m.Active(), "HH:02", "a live subscription keeps the device in the set")
}

func TestMonitor_MalformedPayloadDroppedLoopContinues(t *testing.T) {
	tr := newFakeTransport()
	m := NewMonitor(tr, fastConfig())
	defer m.DisconnectAll()

	m.Connect(context.Background(), Target{Address: "EE:01"})
	require.Eventually(t, func() bool {
		c := tr.conn("EE:01")
		return c != nil && c.subscribed()
	}, time.Second, time.Millisecond)

	tr.conn("EE:01").notify([]byte{0x00}) // malformed: dropped
	tr.conn("EE:01").notify([]byte{0x00, 0x50})

	require.Eventually(t, func() bool {
		return m.out.Len() > 0
	}, time.Second, time.Millisecond)

	samples := m.RecentSamples()
	require.Len(t, samples, 1)
	assert.Equal(t, 80, samples[0].HeartRate)
}

func TestMonitor_DisconnectStopsWithoutSyntheticSample(t *testing.T) {
	tr := newFakeTransport()
	m := NewMonitor(tr, fastConfig())

	m.Connect(context.Background(), Target{Address: "FF:01"})
	require.Eventually(t, func() bool {
		s, _ := m.StatusOf("FF:01")
		return s == StatusConnected
	}, time.Second, time.Millisecond)

	m.Disconnect("FF:01")

	assert.Empty(t, m.Active())
	assert.Empty(t, m.RecentSamples())
}

func TestMonitor_DevicesAreIndependent(t *testing.T) {
	tr := newFakeTransport()
	tr.failures["GG:02"] = -1

	m := NewMonitor(tr, fastConfig())
	defer m.DisconnectAll()

	m.Connect(context.Background(),
		Target{Address: "GG:01"},
		Target{Address: "GG:02"},
	)

	// GG:02 fails out; GG:01 keeps streaming.
	require.Eventually(t, func() bool {
		return len(m.Active()) == 1
	}, time.Second, time.Millisecond)

	require.Eventually(t, func() bool {
		c := tr.conn("GG:01")
		return c != nil && c.subscribed()
	}, time.Second, time.Millisecond)
	tr.conn("GG:01").notify([]byte{0x00, 0x42})

	require.Eventually(t, func() bool {
		for _, s := range m.RecentSamples() {
			if s.Device == "GG:01" && s.HeartRate == 66 {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)

	assert.Equal(t, []string{"GG:01"}, m.Active())
}
