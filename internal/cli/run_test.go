package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindfield-labs/mindfield/internal/biometric"
	"github.com/mindfield-labs/mindfield/internal/session"
)

func TestParseDevices(t *testing.T) {
	targets, participants, err := parseDevices([]string{
		"E1:23:45:67:89:AB=Polar H10",
		"F0:00:00:00:00:01",
	})

	require.NoError(t, err)
	require.Len(t, targets, 2)
	assert.Equal(t, biometric.Target{Address: "E1:23:45:67:89:AB", Name: "Polar H10"}, targets[0])
	assert.Equal(t, biometric.Target{Address: "F0:00:00:00:00:01"}, targets[1])
	assert.Equal(t, "E1:23:45:67:89:AB", participants[0].Address)
	assert.Equal(t, "Polar H10", participants[0].Name)
}

func TestParseDevices_EmptyAddress(t *testing.T) {
	_, _, err := parseDevices([]string{"=Polar"})

	assert.Error(t, err)
}

func TestMeanCoherence_IgnoresSynthetic(t *testing.T) {
	avg, ok := meanCoherence([]biometric.Sample{
		{Coherence: 0.8},
		{Coherence: 0.4},
		{Coherence: 0, Err: "connect retries exhausted"},
	})

	require.True(t, ok)
	assert.InDelta(t, 0.6, avg, 1e-9)

	_, ok = meanCoherence([]biometric.Sample{{Err: "gone"}})
	assert.False(t, ok)
}

// TestRun_ArchivesSession drives a short deviceless run end to end.
// The config points the quantum endpoint at a closed local port so the
// chain falls through to the software source without waiting on the
// network.
func TestRun_ArchivesSession(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	dbPath := filepath.Join(dir, "archive.db")
	require.NoError(t, os.WriteFile(configPath, []byte(`
entropy:
  endpoint_url: http://127.0.0.1:1/api
  timeout: 100ms
collector:
  cadence: 1ms
`), 0o644))

	rootOpts := &RootOptions{Format: "text", Config: configPath}
	cmd := NewRunCommand(rootOpts)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{
		"--db", dbPath,
		"--duration", "300ms",
		"--intention", "short smoke run",
	})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "archived")

	store, err := session.Open(dbPath)
	require.NoError(t, err)
	defer store.Close()

	list, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "short smoke run", list[0].Intention)
	assert.Equal(t, "experiment", list[0].Mode)
	assert.Equal(t, "individual", list[0].Kind)
	assert.Positive(t, list[0].BitCount)

	got, err := store.Load(context.Background(), list[0].ID)
	require.NoError(t, err)
	assert.NotEmpty(t, got.Bits)
}
