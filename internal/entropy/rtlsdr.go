package entropy

import (
	"fmt"

	rtlsdr "github.com/jpoirier/gortlsdr"
)

// RTLSDRConfig selects and tunes the dongle used by the spectral
// source.
type RTLSDRConfig struct {
	// DeviceIndex picks the dongle when more than one is attached.
	DeviceIndex int

	// CenterFreqHz is the tuner center frequency.
	CenterFreqHz int

	// SampleRateHz is the baseband sample rate.
	SampleRateHz int
}

// OpenRTLSDR returns an OpenRadio that claims the configured RTL2832U
// dongle. The device is opened, tuned and its buffer reset on every
// call, matching the claim-sample-release cycle Spectral expects.
func OpenRTLSDR(cfg RTLSDRConfig) OpenRadio {
	return func() (Radio, error) {
		dev, err := rtlsdr.Open(cfg.DeviceIndex)
		if err != nil {
			return nil, fmt.Errorf("open rtl-sdr device %d: %w", cfg.DeviceIndex, err)
		}

		if err := dev.SetCenterFreq(cfg.CenterFreqHz); err != nil {
			dev.Close()
			return nil, fmt.Errorf("set center frequency %d Hz: %w", cfg.CenterFreqHz, err)
		}
		if err := dev.SetSampleRate(cfg.SampleRateHz); err != nil {
			dev.Close()
			return nil, fmt.Errorf("set sample rate %d Hz: %w", cfg.SampleRateHz, err)
		}
		if err := dev.ResetBuffer(); err != nil {
			dev.Close()
			return nil, fmt.Errorf("reset buffer: %w", err)
		}

		return &rtlRadio{dev: dev}, nil
	}
}

type rtlRadio struct {
	dev *rtlsdr.Context
}

// ReadSamples implements Radio. The dongle delivers interleaved
// offset-128 unsigned I/Q bytes; an odd trailing byte is dropped.
func (r *rtlRadio) ReadSamples(n int) ([]complex128, error) {
	buf := make([]uint8, 2*n)

	read, err := r.dev.ReadSync(buf, len(buf))
	if err != nil {
		return nil, fmt.Errorf("read %d samples: %w", n, err)
	}

	return iqFromBytes(buf[:read&^1]), nil
}

func (r *rtlRadio) Close() error {
	return r.dev.Close()
}

// iqFromBytes converts interleaved offset-128 unsigned I/Q bytes into
// complex samples with components in [-1, 1].
func iqFromBytes(raw []uint8) []complex128 {
	out := make([]complex128, len(raw)/2)

	for i := range out {
		re := (float64(raw[2*i]) - 127.5) / 127.5
		im := (float64(raw[2*i+1]) - 127.5) / 127.5
		out[i] = complex(re, im)
	}

	return out
}
