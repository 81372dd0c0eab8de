package cli

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mindfield-labs/mindfield/internal/config"
	"github.com/mindfield-labs/mindfield/internal/entropy"
)

// fetchFunc draws n bytes from a source. The chain variant never
// fails; a single-source draw can.
type fetchFunc func(ctx context.Context, n int) ([]byte, error)

// FetchOptions holds flags for the fetch command.
type FetchOptions struct {
	*RootOptions
	Count  int
	Source string

	// NewSource allows overriding source construction (for testing).
	NewSource func(cfg config.Config, source string) (fetchFunc, error)
}

// NewFetchCommand creates the fetch command.
func NewFetchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FetchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch entropy bytes and print them as hex",
		Long: `Fetch bytes from the entropy chain and print them as hex.

By default the full chain is used: the radio (when an RTL-SDR dongle
is enabled in the config), then the quantum endpoint, then the secure
software fallback. --source restricts the draw to one source; a
restricted draw fails instead of falling through.

Example:
  mindfield fetch -n 32
  mindfield fetch -n 16 --source fallback`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(opts, cmd)
		},
	}

	cmd.Flags().IntVarP(&opts.Count, "count", "n", 32, "number of bytes to fetch")
	cmd.Flags().StringVar(&opts.Source, "source", "chain", "entropy source (chain|spectral|online|fallback)")

	return cmd
}

func runFetch(opts *FetchOptions, cmd *cobra.Command) error {
	if opts.Count <= 0 {
		return WrapExitError(ExitCommandError, "count must be positive", nil)
	}

	cfg, err := config.Load(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	newSource := opts.NewSource
	if newSource == nil {
		newSource = buildSource
	}

	fetch, err := newSource(cfg, opts.Source)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build entropy source", err)
	}

	raw, err := fetch(cmd.Context(), opts.Count)
	if err != nil {
		return WrapExitError(ExitFailure, fmt.Sprintf("source %s failed", opts.Source), err)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	payload := struct {
		Source string `json:"source"`
		Count  int    `json:"count"`
		Hex    string `json:"hex"`
	}{opts.Source, len(raw), hex.EncodeToString(raw)}

	return formatter.Success(payload, func(w io.Writer) {
		fmt.Fprintln(w, payload.Hex)
	})
}

// buildSource assembles the requested source. The spectral slot is
// populated only when an RTL-SDR dongle is enabled in the config;
// otherwise the chain starts at the quantum endpoint.
func buildSource(cfg config.Config, source string) (fetchFunc, error) {
	online := entropy.NewOnline(entropy.OnlineConfig{
		URL:      cfg.Entropy.EndpointURL,
		MaxChunk: cfg.Entropy.MaxChunk,
		Timeout:  cfg.Entropy.Timeout,
	})

	// A nil interface keeps the chain's spectral slot empty; a typed
	// nil pointer would not.
	var spectral entropy.Source
	if cfg.Entropy.SDREnabled {
		spectral = buildSpectral(cfg)
	}

	switch source {
	case "chain":
		chain := entropy.NewChain(spectral, online)
		return func(ctx context.Context, n int) ([]byte, error) {
			return chain.Fetch(ctx, n), nil
		}, nil
	case "spectral":
		if spectral == nil {
			spectral = buildSpectral(cfg)
		}
		return spectral.Fetch, nil
	case "online":
		return online.Fetch, nil
	case "fallback":
		return entropy.NewFallback().Fetch, nil
	default:
		return nil, fmt.Errorf("unknown source %q: must be chain, spectral, online or fallback", source)
	}
}

func buildSpectral(cfg config.Config) *entropy.Spectral {
	open := entropy.OpenRTLSDR(entropy.RTLSDRConfig{
		DeviceIndex:  cfg.Entropy.DeviceIndex,
		CenterFreqHz: cfg.Entropy.CenterFreqHz,
		SampleRateHz: cfg.Entropy.SampleRateHz,
	})

	return entropy.NewSpectral(open, entropy.SpectralConfig{
		SamplesPerCycle:  cfg.Entropy.SamplesPerCycle,
		MaxCycles:        cfg.Entropy.MaxCycles,
		FailureThreshold: cfg.Entropy.FailureThreshold,
		Backoff:          cfg.Entropy.Backoff,
	})
}
