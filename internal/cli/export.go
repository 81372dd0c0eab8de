package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/mindfield-labs/mindfield/internal/config"
	"github.com/mindfield-labs/mindfield/internal/session"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	Database string
	CSV      bool
	Out      string
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export [session-id]",
		Short: "Export an archived session",
		Long: `Export an archived session as a JSON document or a CSV of biometric
snapshots. Without a session ID, lists archived sessions.

Example:
  mindfield export
  mindfield export 0198c0de-… --csv --out session.csv`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return listSessions(opts, cmd)
			}
			return exportSession(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to archive database (default from config)")
	cmd.Flags().BoolVar(&opts.CSV, "csv", false, "export snapshot rows as CSV instead of JSON")
	cmd.Flags().StringVar(&opts.Out, "out", "", "write to file instead of stdout")

	return cmd
}

func openArchive(opts *ExportOptions) (*session.Store, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}

	path := opts.Database
	if path == "" {
		path = cfg.Database.Path
	}
	if _, err := os.Stat(path); err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("archive not found at %s", path), err)
	}

	store, err := session.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open archive", err)
	}

	return store, nil
}

func listSessions(opts *ExportOptions, cmd *cobra.Command) error {
	store, err := openArchive(opts)
	if err != nil {
		return err
	}
	defer store.Close()

	sessions, err := store.List(cmd.Context())
	if err != nil {
		return WrapExitError(ExitFailure, "failed to list sessions", err)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	return formatter.Success(sessions, func(w io.Writer) {
		if len(sessions) == 0 {
			fmt.Fprintln(w, "No archived sessions.")
			return
		}
		for _, s := range sessions {
			fmt.Fprintf(w, "%s  %s  %-10s %-10s bits=%-7d z=%+.2f  %s\n",
				s.ID, s.StartedAt.Format("2006-01-02 15:04"), s.Mode, s.Kind, s.BitCount, s.ZScore, s.Intention)
		}
	})
}

func exportSession(opts *ExportOptions, id string, cmd *cobra.Command) error {
	store, err := openArchive(opts)
	if err != nil {
		return err
	}
	defer store.Close()

	sess, err := store.Load(cmd.Context(), id)
	if err != nil {
		return WrapExitError(ExitFailure, fmt.Sprintf("failed to load session %s", id), err)
	}

	out := cmd.OutOrStdout()
	if opts.Out != "" {
		f, err := os.Create(opts.Out)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to create output file", err)
		}
		defer f.Close()
		out = f
	}

	if opts.CSV {
		err = session.ExportCSV(out, sess)
	} else {
		err = session.ExportJSON(out, sess)
	}
	if err != nil {
		return WrapExitError(ExitFailure, "export failed", err)
	}

	return nil
}
