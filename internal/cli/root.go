package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/collate/internal/engine"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Config  string // optional YAML settings file
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the collate CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collate",
		Short: "collate - distinguished point collision search",
		Long: `Search for collisions in a truncated hash by running many hash chains
and matching their distinguished points.

Every result is appended to a search log; a search restarted on the same log
picks up where it left off.`,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Config, "config", "", "YAML settings file")

	cmd.AddCommand(NewSearchCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewCheckCommand(opts))
	cmd.AddCommand(NewHitsCommand(opts))

	return cmd
}

// Execute runs the root command with the process arguments and reports any
// error in the selected format.
func Execute() error {
	opts := &RootOptions{}
	cmd := newRootCommand(opts)
	err := cmd.Execute()
	if err != nil {
		reportError(newFormatter(opts, cmd), err)
	}
	return err
}

func reportError(f *OutputFormatter, err error) {
	code := CodeUsage
	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Reason != "" {
		code = exitErr.Reason
	}
	var details any
	var searchErr *engine.SearchError
	if errors.As(err, &searchErr) {
		details = searchErr.Details
	}
	_ = f.Error(code, err.Error(), details)
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
