// Package session archives completed experiment sessions in SQLite and
// exports them as JSON documents or CSV summaries.
package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/mindfield-labs/mindfield/internal/collector"
	"github.com/mindfield-labs/mindfield/internal/recorder"
)

// Kind distinguishes a solo run from a group run with assigned roles.
type Kind string

const (
	KindIndividual Kind = "individual"
	KindGroup      Kind = "group"
)

// Participant assigns a name and role to a monitored device for the
// duration of a group session.
type Participant struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Role    string `json:"role,omitempty"`
}

// Session is one archived experiment run: its summary statistics,
// markers, biometric snapshots, and the trailing experiment bits.
type Session struct {
	ID           string                `json:"id"`
	StartedAt    time.Time             `json:"started_at"`
	EndedAt      time.Time             `json:"ended_at"`
	Mode         collector.Mode        `json:"mode"`
	Kind         Kind                  `json:"kind"`
	Intention    string                `json:"intention,omitempty"`
	Participants []Participant         `json:"participants,omitempty"`
	Stats        collector.Stats       `json:"stats"`
	Comparison   *collector.Comparison `json:"comparison,omitempty"`
	Markers      []collector.Marker    `json:"markers,omitempty"`
	Snapshots    []recorder.Snapshot   `json:"snapshots,omitempty"`
	Bits         []uint8               `json:"-"`
}

// New builds a session shell with a fresh v7 ID and the given start
// time. Callers fill the remaining fields when the run ends.
func New(startedAt time.Time, mode collector.Mode, kind Kind) *Session {
	return &Session{
		ID:        uuid.Must(uuid.NewV7()).String(),
		StartedAt: startedAt.UTC(),
		Mode:      mode,
		Kind:      kind,
	}
}

// packBits packs bits into bytes most-significant bit first; the final
// byte is zero-padded. unpackBits reverses it given the original count.
func packBits(bits []uint8) []byte {
	out := make([]byte, (len(bits)+7)/8)
	for i, b := range bits {
		if b != 0 {
			out[i/8] |= 1 << (7 - uint(i%8))
		}
	}

	return out
}

func unpackBits(raw []byte, n int) []uint8 {
	if n > len(raw)*8 {
		n = len(raw) * 8
	}

	out := make([]uint8, n)
	for i := range out {
		out[i] = (raw[i/8] >> (7 - uint(i%8))) & 1
	}

	return out
}
