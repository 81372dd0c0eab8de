package collector

import (
	"time"

	"github.com/google/uuid"

	"github.com/mindfield-labs/mindfield/internal/biometric"
)

// Event kinds recorded against the bit stream. KindIntention marks a
// deliberate user action; KindHighCoherence is attached automatically
// when rolling coherence crosses the configured threshold.
const (
	KindIntention     = "intention"
	KindHighCoherence = "high_coherence"
)

// Marker pins an event to a position in the experiment bit stream.
// BitIndex is the number of experiment bits collected at the moment
// the event fired, so later analysis can align windows around it.
// Samples is the biometric state captured alongside the event.
type Marker struct {
	ID       string             `json:"id"`
	Time     time.Time          `json:"time"`
	BitIndex int                `json:"bit_index"`
	Kind     string             `json:"kind"`
	Samples  []biometric.Sample `json:"samples,omitempty"`
	Meta     map[string]string  `json:"meta,omitempty"`
}

func newMarker(bitIndex int, kind string, samples []biometric.Sample, meta map[string]string) Marker {
	return Marker{
		ID:       uuid.Must(uuid.NewV7()).String(),
		Time:     time.Now().UTC(),
		BitIndex: bitIndex,
		Kind:     kind,
		Samples:  samples,
		Meta:     meta,
	}
}
