package biometric

import (
	"context"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// devicePatterns mark advertised names that are heart-rate monitors.
// Matching is case-insensitive substring over the NFC-normalized name;
// some straps advertise names with composed accents or odd spacing.
var devicePatterns = []string{
	"Polar", "H808S", "H10", "H9", "OH1",
	"Garmin", "HRM-Dual", "HRM-Pro", "HRM-Run",
	"Wahoo", "TICKR", "TICKR X",
	"Suunto", "Smart Sensor",
	"Zephyr", "HxM",
	"RHYTHM", "Scosche",
	"HRM", "Heart Rate",
}

// Scan discovers nearby heart-rate devices, filtered to known monitor
// name patterns and sorted by signal strength, strongest first.
func (m *Monitor) Scan(ctx context.Context, timeout time.Duration) ([]Advertisement, error) {
	found, err := m.transport.Scan(ctx, timeout)
	if err != nil {
		return nil, err
	}

	var out []Advertisement
	for _, adv := range found {
		if matchesHeartRateDevice(adv.Name) {
			out = append(out, adv)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RSSI > out[j].RSSI
	})

	return out, nil
}

func matchesHeartRateDevice(name string) bool {
	if name == "" {
		return false
	}

	n := strings.ToLower(norm.NFC.String(name))
	for _, p := range devicePatterns {
		if strings.Contains(n, strings.ToLower(p)) {
			return true
		}
	}

	return false
}
