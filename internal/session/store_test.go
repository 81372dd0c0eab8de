package session

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindfield-labs/mindfield/internal/biometric"
	"github.com/mindfield-labs/mindfield/internal/collector"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

func TestStore_SaveAndLoadRoundtrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	sess := fixtureSession()

	require.NoError(t, s.Save(ctx, sess))

	got, err := s.Load(ctx, sess.ID)
	require.NoError(t, err)

	assert.Equal(t, sess.ID, got.ID)
	assert.True(t, sess.StartedAt.Equal(got.StartedAt))
	assert.True(t, sess.EndedAt.Equal(got.EndedAt))
	assert.Equal(t, collector.ModeExperiment, got.Mode)
	assert.Equal(t, KindGroup, got.Kind)
	assert.Equal(t, "raise the mean", got.Intention)
	assert.Equal(t, sess.Participants, got.Participants)
	assert.Equal(t, sess.Stats, got.Stats)
	assert.Equal(t, sess.Comparison, got.Comparison)
	assert.Equal(t, sess.Bits, got.Bits)

	require.Len(t, got.Markers, 1)
	assert.Equal(t, "marker-1", got.Markers[0].ID)
	assert.Equal(t, 400, got.Markers[0].BitIndex)
	assert.True(t, sess.Markers[0].Time.Equal(got.Markers[0].Time))

	require.Len(t, got.Snapshots, 1)
	assert.Equal(t, 200, got.Snapshots[0].BitIndex)
	require.Len(t, got.Snapshots[0].Samples, 1)
	assert.Equal(t, 64, got.Snapshots[0].Samples[0].HeartRate)
	assert.Equal(t, []float64{930.5, 940.25}, got.Snapshots[0].Samples[0].RRIntervalsMs)
}

func TestStore_SaveReplacesExisting(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	sess := fixtureSession()

	require.NoError(t, s.Save(ctx, sess))

	sess.Intention = "lower the mean"
	sess.Markers = nil
	sess.Snapshots = sess.Snapshots[:0]
	require.NoError(t, s.Save(ctx, sess))

	got, err := s.Load(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "lower the mean", got.Intention)
	assert.Empty(t, got.Markers)
	assert.Empty(t, got.Snapshots)

	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1, "replace must not duplicate the index row")
}

func TestStore_MarkerSamplesRoundtrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sess := New(time.Date(2026, 8, 3, 8, 0, 0, 0, time.UTC), collector.ModeExperiment, KindIndividual)
	sess.EndedAt = sess.StartedAt.Add(time.Minute)
	sess.Markers = []collector.Marker{
		{
			ID:       "marker-samples",
			Time:     sess.StartedAt.Add(30 * time.Second),
			BitIndex: 12,
			Kind:     collector.KindHighCoherence,
			Samples: []biometric.Sample{
				{Device: "AA:01", HeartRate: 61, Coherence: 0.91},
			},
			Meta: map[string]string{"threshold": "0.80"},
		},
	}

	require.NoError(t, s.Save(ctx, sess))

	got, err := s.Load(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, got.Markers, 1)
	require.Len(t, got.Markers[0].Samples, 1)
	assert.Equal(t, "AA:01", got.Markers[0].Samples[0].Device)
	assert.Equal(t, 0.91, got.Markers[0].Samples[0].Coherence)
	assert.Equal(t, map[string]string{"threshold": "0.80"}, got.Markers[0].Meta)
}

func TestStore_LoadUnknownID(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Load(context.Background(), "no-such-session")
	require.Error(t, err)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestStore_ListNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	older := New(time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC), collector.ModeBaseline, KindIndividual)
	older.EndedAt = older.StartedAt.Add(time.Minute)
	newer := New(time.Date(2026, 8, 2, 9, 0, 0, 0, time.UTC), collector.ModeExperiment, KindIndividual)
	newer.EndedAt = newer.StartedAt.Add(time.Minute)

	require.NoError(t, s.Save(ctx, older))
	require.NoError(t, s.Save(ctx, newer))

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID, list[0].ID)
	assert.Equal(t, older.ID, list[1].ID)
	assert.Equal(t, "experiment", list[0].Mode)
}

func TestPackBits_Roundtrip(t *testing.T) {
	cases := [][]uint8{
		nil,
		{1},
		{1, 0, 1, 1, 0, 0, 1, 0},
		{1, 1, 1, 1, 1, 1, 1, 1, 0, 1, 0},
	}

	for _, bits := range cases {
		packed := packBits(bits)
		got := unpackBits(packed, len(bits))
		if len(bits) == 0 {
			assert.Empty(t, got)
			continue
		}
		assert.Equal(t, bits, got)
	}
}

func TestPackBits_MSBFirst(t *testing.T) {
	assert.Equal(t, []byte{0xA5}, packBits([]uint8{1, 0, 1, 0, 0, 1, 0, 1}))
	assert.Equal(t, []byte{0x80}, packBits([]uint8{1}), "final byte zero-padded")
}
