package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/replichat/internal/config"
)

// RootOptions holds global flags for all commands, plus the configuration
// and logger resolved from them before any subcommand runs.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
	Format     string // "json" | "text"

	Config *config.Config
	Logger *slog.Logger

	// Now overrides the replicas' wall clock (for testing).
	Now func() time.Time
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the replichat CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "replichat",
		Short: "replichat - replicated chat on a CRDT document",
		Long: `A chat log kept as a replicated document. Every replica edits its own
copy offline and converges with the others by exchanging changes or
running the sync protocol.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return opts.resolve(cmd)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to a CUE config file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewDemoCommand(opts))
	cmd.AddCommand(NewPostCommand(opts))
	cmd.AddCommand(NewEditCommand(opts))
	cmd.AddCommand(NewMessagesCommand(opts))
	cmd.AddCommand(NewForkCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewInspectCommand(opts))
	cmd.AddCommand(NewScenarioCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// Execute runs the CLI with args and returns the process exit code.
// Errors are reported on stderr, in JSON when --format json is set, so
// stdout only ever carries command output.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SilenceErrors = true

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}

	format, _ := cmd.PersistentFlags().GetString("format")
	if !isValidFormat(format) {
		format = "text"
	}
	f := &OutputFormatter{Format: format, Writer: stderr}
	_ = f.Error(ErrorCode(err), err.Error(), nil)
	return GetExitCode(err)
}
