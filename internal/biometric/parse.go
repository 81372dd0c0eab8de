package biometric

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Heart Rate Measurement flag bits (Bluetooth GATT 0x2A37).
const (
	flagHeartRate16Bit = 1 << 0
	flagRRPresent      = 1 << 4
)

// ParseError reports a malformed heart-rate notification payload.
// Malformed samples are dropped and logged; the notification loop
// continues.
type ParseError struct {
	Reason string
	Len    int
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("heart rate payload (%d bytes): %s", e.Len, e.Reason)
}

// IsParseError reports whether err is a payload parse failure.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// Measurement is a decoded heart-rate notification.
type Measurement struct {
	HeartRate     int
	RRIntervalsMs []float64
}

// ParseMeasurement decodes a BLE heart-rate-measurement payload.
//
// Byte 0 is a flags field: bit 0 selects 8-bit vs 16-bit little-endian
// heart-rate encoding, bit 4 indicates one or more 16-bit little-endian
// RR-interval fields (units of 1/1024 s) packed after the heart rate.
func ParseMeasurement(payload []byte) (Measurement, error) {
	if len(payload) < 2 {
		return Measurement{}, &ParseError{Reason: "shorter than flags + heart rate", Len: len(payload)}
	}

	flags := payload[0]

	var m Measurement
	offset := 2

	if flags&flagHeartRate16Bit != 0 {
		if len(payload) < 3 {
			return Measurement{}, &ParseError{Reason: "truncated 16-bit heart rate", Len: len(payload)}
		}
		m.HeartRate = int(binary.LittleEndian.Uint16(payload[1:3]))
		offset = 3
	} else {
		m.HeartRate = int(payload[1])
	}

	if flags&flagRRPresent != 0 {
		for offset+1 < len(payload) {
			raw := binary.LittleEndian.Uint16(payload[offset : offset+2])
			m.RRIntervalsMs = append(m.RRIntervalsMs, float64(raw)*1000.0/1024.0)
			offset += 2
		}
	}

	return m, nil
}
