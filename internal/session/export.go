package session

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"
)

// exportDocument is the JSON export shape. Bits ride along as ints so
// the document stays readable in other tooling.
type exportDocument struct {
	Session *Session `json:"session"`
	Bits    []int    `json:"bits"`
}

// ExportJSON writes the full session as an indented JSON document.
func ExportJSON(w io.Writer, sess *Session) error {
	bits := make([]int, len(sess.Bits))
	for i, b := range sess.Bits {
		bits[i] = int(b)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(exportDocument{Session: sess, Bits: bits}); err != nil {
		return fmt.Errorf("export json: %w", err)
	}

	return nil
}

// ExportCSV writes one row per biometric sample per snapshot, so the
// archive opens directly in spreadsheet tooling.
func ExportCSV(w io.Writer, sess *Session) error {
	cw := csv.NewWriter(w)

	header := []string{"session_id", "time", "bit_index", "device", "heart_rate", "coherence", "synthetic"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("export csv: %w", err)
	}

	for _, snap := range sess.Snapshots {
		for _, sample := range snap.Samples {
			row := []string{
				sess.ID,
				snap.Time.UTC().Format(time.RFC3339),
				strconv.Itoa(snap.BitIndex),
				sample.Device,
				strconv.Itoa(sample.HeartRate),
				strconv.FormatFloat(sample.Coherence, 'f', 4, 64),
				strconv.FormatBool(sample.Synthetic()),
			}
			if err := cw.Write(row); err != nil {
				return fmt.Errorf("export csv: %w", err)
			}
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("export csv: %w", err)
	}

	return nil
}
