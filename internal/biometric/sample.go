package biometric

import "time"

// Sample is one parsed heart-rate observation from a device.
//
// A synthetic error sample (HeartRate 0, Coherence 0, Err non-empty) is
// emitted exactly once when a device exhausts its connection retries.
type Sample struct {
	// Time is when the notification was observed.
	Time time.Time `json:"time"`

	// Device is the BLE address of the originating device.
	Device string `json:"device"`

	// HeartRate is the reported rate in beats per minute.
	HeartRate int `json:"heart_rate"`

	// RRIntervalsMs holds the RR intervals carried by this
	// notification, in milliseconds. Often empty.
	RRIntervalsMs []float64 `json:"rr_intervals_ms,omitempty"`

	// Coherence is the rolling HRV regularity score in [0, 1] computed
	// over the device's RR buffer at observation time.
	Coherence float64 `json:"coherence"`

	// Err carries the failure description for synthetic error samples.
	Err string `json:"err,omitempty"`
}

// Synthetic reports whether this is a device-failure marker rather than
// a real measurement.
func (s Sample) Synthetic() bool {
	return s.Err != ""
}
