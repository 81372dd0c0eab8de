package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mindfield-labs/mindfield/internal/biometric"
	"github.com/mindfield-labs/mindfield/internal/collector"
	"github.com/mindfield-labs/mindfield/internal/config"
	"github.com/mindfield-labs/mindfield/internal/drbg"
	"github.com/mindfield-labs/mindfield/internal/recorder"
	"github.com/mindfield-labs/mindfield/internal/session"
)

// seedLen is the entropy drawn to seed the generator at session start.
const seedLen = 48

// markCooldown throttles automatic high-coherence markers so a
// sustained coherent stretch yields one marker, not one per tick.
const markCooldown = 10 * time.Second

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database  string
	Baseline  bool
	Devices   []string
	Intention string
	Duration  time.Duration
	Threshold float64

	// NewTransport allows overriding the BLE transport (for testing).
	NewTransport func() biometric.Transport
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an experiment session",
		Long: `Run an experiment session: seed the generator from the entropy chain,
collect bits, monitor heart-rate devices, and archive the session when
the run ends.

The run stops on Ctrl-C, or after --duration when set. SIGUSR1 pins an
intention marker to the current bit position. With two or more devices
the session is archived as a group session.

Example:
  mindfield run --device E1:23:45:67:89:AB=Polar-H10 --intention "raise the mean"
  mindfield run --baseline --duration 5m`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to archive database (default from config)")
	cmd.Flags().BoolVar(&opts.Baseline, "baseline", false, "collect into the baseline buffer")
	cmd.Flags().StringArrayVar(&opts.Devices, "device", nil, "heart-rate device ADDRESS[=NAME], repeatable")
	cmd.Flags().StringVar(&opts.Intention, "intention", "", "stated intention for this session")
	cmd.Flags().DurationVar(&opts.Duration, "duration", 0, "stop after this long (0 = until interrupted)")
	cmd.Flags().Float64Var(&opts.Threshold, "threshold", 0.8, "coherence level that pins an automatic marker")

	return cmd
}

func runSession(opts *RunOptions, cmd *cobra.Command) error {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	dbPath := opts.Database
	if dbPath == "" {
		dbPath = cfg.Database.Path
	}
	store, err := session.Open(dbPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open archive", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			slog.Error("error closing archive", "error", closeErr)
		}
	}()

	targets, participants, err := parseDevices(opts.Devices)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --device", err)
	}

	mode := collector.ModeExperiment
	if opts.Baseline {
		mode = collector.ModeBaseline
	}
	kind := session.KindIndividual
	if len(targets) > 1 {
		kind = session.KindGroup
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()
	if opts.Duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	// Seed the generator from the chain before the first bit.
	fetch, err := buildSource(cfg, "chain")
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build entropy chain", err)
	}
	seed, _ := fetch(ctx, seedLen)
	gen := drbg.New()
	gen.Seed(seed)
	slog.Info("generator seeded", "bytes", len(seed))

	collectorCfg := collector.DefaultConfig()
	collectorCfg.Capacity = cfg.Collector.Capacity
	collectorCfg.Cadence = cfg.Collector.Cadence
	coll := collector.New(collectorCfg, gen, slog.Default())

	newTransport := opts.NewTransport
	if newTransport == nil {
		newTransport = func() biometric.Transport { return biometric.NewBluetoothTransport() }
	}
	monitor := biometric.NewMonitor(newTransport(), monitorConfig(cfg))

	rec := recorder.New(0, coll.ExperimentLen)

	sess := session.New(time.Now(), mode, kind)
	sess.Intention = opts.Intention
	sess.Participants = participants

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	markChan := make(chan os.Signal, 1)
	signal.Notify(markChan, syscall.SIGUSR1)
	defer signal.Stop(markChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	coll.Start(ctx, mode)
	if len(targets) > 0 {
		monitor.Connect(ctx, targets...)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Session %s started (%s, %s). Press Ctrl-C to stop.\n", sess.ID, mode, kind)

	observe(ctx, coll, monitor, rec, markChan, opts.Threshold, mode)

	coll.Stop()
	monitor.DisconnectAll()

	sess.EndedAt = time.Now().UTC()
	sess.Stats = coll.Stats(0)
	sess.Comparison = coll.BaselineComparison()
	sess.Markers = coll.Markers()
	sess.Snapshots = rec.Snapshots()
	if mode == collector.ModeBaseline {
		sess.Bits = coll.BaselineTail(recorder.DefaultCapacity)
	} else {
		sess.Bits = coll.ExperimentTail(recorder.DefaultCapacity)
	}

	// Archive with a fresh context: the run context is already done.
	saveCtx, saveCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer saveCancel()
	if err := store.Save(saveCtx, sess); err != nil {
		return WrapExitError(ExitFailure, "failed to archive session", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Session %s archived: %d bits, %d markers, z=%+.2f\n",
		sess.ID, sess.Stats.Count, len(sess.Markers), sess.Stats.ZScore)

	return nil
}

// observe ticks once per second: drains biometric samples into the
// recorder, pins automatic markers on high coherence, and pins
// intention markers on demand. Returns when ctx is done.
func observe(ctx context.Context, coll *collector.Collector, monitor *biometric.Monitor,
	rec *recorder.Recorder, markChan <-chan os.Signal, threshold float64, mode collector.Mode) {

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var lastAutoMark time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-markChan:
			samples := monitor.RecentSamples()
			rec.Record(samples)
			coll.MarkEvent(collector.KindIntention, samples, nil)
		case <-ticker.C:
			samples := monitor.RecentSamples()
			if len(samples) == 0 {
				continue
			}
			rec.Record(samples)

			if mode != collector.ModeExperiment || threshold <= 0 {
				continue
			}
			if avg, ok := meanCoherence(samples); ok && avg >= threshold {
				if time.Since(lastAutoMark) >= markCooldown {
					coll.MarkEvent(collector.KindHighCoherence, samples, map[string]string{
						"threshold": fmt.Sprintf("%.2f", threshold),
					})
					lastAutoMark = time.Now()
				}
			}
		}
	}
}

// meanCoherence averages coherence over real (non-synthetic) samples.
func meanCoherence(samples []biometric.Sample) (float64, bool) {
	var sum float64
	var n int
	for _, s := range samples {
		if s.Synthetic() {
			continue
		}
		sum += s.Coherence
		n++
	}
	if n == 0 {
		return 0, false
	}

	return sum / float64(n), true
}

// parseDevices splits repeated ADDRESS[=NAME] flags into monitor
// targets and session participants.
func parseDevices(devices []string) ([]biometric.Target, []session.Participant, error) {
	var targets []biometric.Target
	var participants []session.Participant

	for _, d := range devices {
		address, name, _ := strings.Cut(d, "=")
		address = strings.TrimSpace(address)
		if address == "" {
			return nil, nil, fmt.Errorf("empty device address in %q", d)
		}

		targets = append(targets, biometric.Target{Address: address, Name: name})
		participants = append(participants, session.Participant{Address: address, Name: name})
	}

	return targets, participants, nil
}
