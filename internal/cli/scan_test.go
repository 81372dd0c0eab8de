package cli

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindfield-labs/mindfield/internal/biometric"
)

// stubTransport serves a fixed advertisement list; Connect and Reset
// are never reached by the scan command.
type stubTransport struct {
	ads []biometric.Advertisement
	err error
}

func (s *stubTransport) Scan(context.Context, time.Duration) ([]biometric.Advertisement, error) {
	return s.ads, s.err
}

func (s *stubTransport) Connect(context.Context, string) (biometric.Conn, error) {
	return nil, errors.New("not implemented")
}

func (s *stubTransport) Reset(context.Context) error { return nil }

func executeScan(t *testing.T, tr biometric.Transport) (string, error) {
	t.Helper()

	opts := &ScanOptions{
		RootOptions:  &RootOptions{Format: "text"},
		Timeout:      time.Millisecond,
		NewTransport: func() biometric.Transport { return tr },
	}

	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	var out bytes.Buffer
	cmd.SetOut(&out)

	err := runScan(opts, cmd)

	return out.String(), err
}

func TestScan_PrintsDevices(t *testing.T) {
	tr := &stubTransport{ads: []biometric.Advertisement{
		{Address: "AA:01", Name: "Polar H10", RSSI: -40},
	}}

	out, err := executeScan(t, tr)

	require.NoError(t, err)
	assert.Contains(t, out, "AA:01")
	assert.Contains(t, out, "Polar H10")
}

func TestScan_NoDevices(t *testing.T) {
	out, err := executeScan(t, &stubTransport{})

	require.NoError(t, err)
	assert.Contains(t, out, "No heart-rate devices found.")
}

func TestScan_TransportFailure(t *testing.T) {
	_, err := executeScan(t, &stubTransport{err: errors.New("adapter off")})

	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}
