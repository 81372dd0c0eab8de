package biometric

import (
	"context"
	"time"
)

// Advertisement describes a discovered heart-rate device.
type Advertisement struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	RSSI    int16  `json:"rssi"`
}

// Conn is an established notification link to one device.
//
// The lower BLE layer delivers raw heart-rate-measurement payloads; the
// monitor owns parsing and buffering.
type Conn interface {
	// Subscribe registers the notification handler. The handler is
	// invoked from the transport's delivery goroutine.
	Subscribe(handler func(payload []byte)) error

	// Alive reports whether the link is still up.
	Alive() bool

	Close() error
}

// Transport abstracts the BLE lower layer so the monitor's state
// machine is testable without radio hardware.
type Transport interface {
	// Scan discovers advertising devices for at most timeout.
	Scan(ctx context.Context, timeout time.Duration) ([]Advertisement, error)

	// Connect establishes a notification link to the given address.
	Connect(ctx context.Context, address string) (Conn, error)

	// Reset bounces the radio stack. Invoked between attempts for
	// device models known to wedge the host stack.
	Reset(ctx context.Context) error
}
