package biometric

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

// BluetoothTransport implements Transport on tinygo.org/x/bluetooth.
//
// Scan results are cached so later Connect calls can resolve a string
// address back to the adapter's native address type.
type BluetoothTransport struct {
	mu      sync.Mutex
	adapter *bluetooth.Adapter
	known   map[string]bluetooth.Address
	links   map[string]bool
	enabled bool
}

// NewBluetoothTransport wraps the default adapter. Enable happens
// lazily on first use so constructing the transport never touches the
// radio.
func NewBluetoothTransport() *BluetoothTransport {
	return &BluetoothTransport{
		adapter: bluetooth.DefaultAdapter,
		known:   make(map[string]bluetooth.Address),
		links:   make(map[string]bool),
	}
}

func (t *BluetoothTransport) ensureEnabled() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.enabled {
		return nil
	}

	if err := t.adapter.Enable(); err != nil {
		return fmt.Errorf("enable bluetooth adapter: %w", err)
	}

	t.adapter.SetConnectHandler(func(dev bluetooth.Device, connected bool) {
		t.mu.Lock()
		t.links[dev.Address.String()] = connected
		t.mu.Unlock()
	})

	t.enabled = true

	return nil
}

// Scan implements Transport. It collects unique advertisers until the
// timeout elapses or ctx is cancelled.
func (t *BluetoothTransport) Scan(ctx context.Context, timeout time.Duration) ([]Advertisement, error) {
	if err := t.ensureEnabled(); err != nil {
		return nil, err
	}

	var (
		mu    sync.Mutex
		seen  = make(map[string]Advertisement)
		errCh = make(chan error, 1)
	)

	go func() {
		errCh <- t.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			addr := result.Address.String()

			mu.Lock()
			seen[addr] = Advertisement{
				Name:    result.LocalName(),
				Address: addr,
				RSSI:    result.RSSI,
			}
			mu.Unlock()

			t.mu.Lock()
			t.known[addr] = result.Address
			t.mu.Unlock()
		})
	}()

	select {
	case <-ctx.Done():
		t.adapter.StopScan()
		<-errCh
		return nil, ctx.Err()
	case <-time.After(timeout):
		t.adapter.StopScan()
		if err := <-errCh; err != nil {
			return nil, fmt.Errorf("ble scan: %w", err)
		}
	case err := <-errCh:
		if err != nil {
			return nil, fmt.Errorf("ble scan: %w", err)
		}
	}

	mu.Lock()
	defer mu.Unlock()

	out := make([]Advertisement, 0, len(seen))
	for _, adv := range seen {
		out = append(out, adv)
	}

	return out, nil
}

// Connect implements Transport. The address must have been seen by a
// prior Scan.
func (t *BluetoothTransport) Connect(_ context.Context, address string) (Conn, error) {
	if err := t.ensureEnabled(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	addr, ok := t.known[address]
	t.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown device address %q (scan first)", address)
	}

	dev, err := t.adapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", address, err)
	}

	t.mu.Lock()
	t.links[address] = true
	t.mu.Unlock()

	srvs, err := dev.DiscoverServices([]bluetooth.UUID{bluetooth.ServiceUUIDHeartRate})
	if err != nil || len(srvs) == 0 {
		dev.Disconnect()
		return nil, fmt.Errorf("discover heart rate service on %s: %w", address, err)
	}

	chars, err := srvs[0].DiscoverCharacteristics([]bluetooth.UUID{bluetooth.CharacteristicUUIDHeartRateMeasurement})
	if err != nil || len(chars) == 0 {
		dev.Disconnect()
		return nil, fmt.Errorf("discover heart rate measurement on %s: %w", address, err)
	}

	return &bleConn{
		transport: t,
		address:   address,
		device:    dev,
		char:      chars[0],
	}, nil
}

// Reset implements Transport. tinygo exposes no radio power cycle, so
// this stops any scan and re-runs Enable, which is enough to unwedge
// the BlueZ stack after a stuck chest strap.
func (t *BluetoothTransport) Reset(_ context.Context) error {
	slog.Info("resetting bluetooth stack")

	t.adapter.StopScan()

	t.mu.Lock()
	t.enabled = false
	t.mu.Unlock()

	return t.ensureEnabled()
}

type bleConn struct {
	transport *BluetoothTransport
	address   string
	device    bluetooth.Device
	char      bluetooth.DeviceCharacteristic
}

func (c *bleConn) Subscribe(handler func(payload []byte)) error {
	return c.char.EnableNotifications(func(buf []byte) {
		handler(buf)
	})
}

func (c *bleConn) Alive() bool {
	c.transport.mu.Lock()
	defer c.transport.mu.Unlock()

	return c.transport.links[c.address]
}

func (c *bleConn) Close() error {
	c.transport.mu.Lock()
	c.transport.links[c.address] = false
	c.transport.mu.Unlock()

	return c.device.Disconnect()
}
