// Package biometric monitors BLE heart-rate devices and derives a
// coherence (HRV regularity) score from their RR intervals.
//
// Each device gets its own goroutine running a connection state machine
// with bounded retries; known-flaky strap models get extra attempts and
// a radio-stack reset between them. Parsed samples flow into a single
// bounded queue that the presentation layer drains.
//
// The BLE lower layer sits behind the Transport interface. Production
// uses BluetoothTransport (tinygo.org/x/bluetooth); tests use a fake.
// This package is not a BLE stack: it assumes the transport delivers
// heart-rate-measurement notification payloads.
package biometric
