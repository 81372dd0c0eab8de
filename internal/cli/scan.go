package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/mindfield-labs/mindfield/internal/biometric"
	"github.com/mindfield-labs/mindfield/internal/config"
)

// ScanOptions holds flags for the scan command.
type ScanOptions struct {
	*RootOptions
	Timeout time.Duration

	// NewTransport allows overriding the BLE transport (for testing).
	NewTransport func() biometric.Transport
}

// NewScanCommand creates the scan command.
func NewScanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScanOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan for heart-rate devices",
		Long: `Scan for BLE advertisers whose name matches a known heart-rate
monitor model, strongest signal first.

Example:
  mindfield scan --timeout 15s`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(opts, cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "scan duration (default from config)")

	return cmd
}

func runScan(opts *ScanOptions, cmd *cobra.Command) error {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = cfg.Biometric.ScanTimeout
	}

	newTransport := opts.NewTransport
	if newTransport == nil {
		newTransport = func() biometric.Transport { return biometric.NewBluetoothTransport() }
	}

	monitor := biometric.NewMonitor(newTransport(), monitorConfig(cfg))

	ads, err := monitor.Scan(cmd.Context(), timeout)
	if err != nil {
		return WrapExitError(ExitFailure, "scan failed", err)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	return formatter.Success(ads, func(w io.Writer) {
		if len(ads) == 0 {
			fmt.Fprintln(w, "No heart-rate devices found.")
			return
		}
		for _, ad := range ads {
			fmt.Fprintf(w, "%-20s %-24s %4d dBm\n", ad.Address, ad.Name, ad.RSSI)
		}
	})
}

// monitorConfig maps the YAML biometric section onto the monitor.
func monitorConfig(cfg config.Config) biometric.Config {
	mc := biometric.DefaultConfig()
	mc.MaxRetries = cfg.Biometric.MaxRetries
	mc.FlakyMaxRetries = cfg.Biometric.FlakyMaxRetries
	mc.FlakyPatterns = cfg.Biometric.FlakyPatterns
	mc.RetryDelay = cfg.Biometric.RetryDelay
	mc.NormalizationMs = cfg.Biometric.NormalizationMs

	return mc
}
