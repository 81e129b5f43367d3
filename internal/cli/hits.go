package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/collate/internal/config"
	"github.com/roach88/collate/internal/engine"
	"github.com/roach88/collate/internal/session"
	"github.com/roach88/collate/internal/store"
)

// HitsOptions holds flags for the hits command.
type HitsOptions struct {
	*RootOptions
	Database string
	Import   string
	Kind     string
	RunID    string
	Limit    int

	// RunIDs names an import (for testing). If nil, defaults to
	// UUIDv7Generator.
	RunIDs engine.RunIDGenerator
}

// HitRow is one listed outcome.
type HitRow struct {
	Kind      string  `json:"kind"`
	RunID     string  `json:"run_id"`
	Pair      string  `json:"pair"`
	Remaining *uint64 `json:"remaining,omitempty"`
	Line      string  `json:"line"`
}

// HitsResult is the hits command output.
type HitsResult struct {
	Imported int            `json:"imported,omitempty"`
	Counts   map[string]int `json:"counts"`
	Outcomes []HitRow       `json:"outcomes"`
}

// WriteText implements TextWriter.
func (r HitsResult) WriteText(w io.Writer) error {
	if r.Imported > 0 {
		fmt.Fprintf(w, "Imported %d records\n", r.Imported)
	}
	if len(r.Outcomes) == 0 {
		_, err := fmt.Fprintln(w, "No outcomes found.")
		return err
	}
	for _, o := range r.Outcomes {
		if _, err := fmt.Fprintf(w, "%s  %s\n", o.RunID, o.Line); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "%d collisions, %d inconsistent, %d preimages\n",
		r.Counts[session.KindHit.String()], r.Counts[session.KindError.String()], r.Counts[session.KindPreimage.String()])
	return err
}

// NewHitsCommand creates the hits command.
func NewHitsCommand(rootOpts *RootOptions) *cobra.Command {
	return newHitsCommand(&HitsOptions{RootOptions: rootOpts})
}

func newHitsCommand(opts *HitsOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hits",
		Short: "List outcomes from the outcome index",
		Long: `List collisions, inconsistent pairs and preimages mirrored into the
SQLite outcome index by search --db.

With --import the outcome and session records of a search log are indexed
first, so a log written without --db can be queried too.

Example:
  collate hits --db ./collate.db
  collate hits --db ./collate.db --kind H --limit 10
  collate hits --db ./collate.db --import ./md5-64.log --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHits(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the outcome index (defaults to the configured db)")
	cmd.Flags().StringVar(&opts.Import, "import", "", "index a search log before listing")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "only list outcomes of this kind (H, E or P)")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "only list outcomes first written by this run")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "list at most N outcomes (0 = all)")

	return cmd
}

func runHits(opts *HitsOptions, cmd *cobra.Command) error {
	setupLogging(cmd.ErrOrStderr(), opts.Verbose)

	cfg, err := loadSettings(opts.RootOptions, func(c *config.Config) {
		if opts.Database != "" {
			c.DB = opts.Database
		}
	})
	if err != nil {
		return err
	}
	if cfg.DB == "" {
		return NewExitError(ExitCommandError, "an outcome index is required: use --db or set db in --config").WithReason(CodeStore)
	}

	filter := store.Filter{RunID: opts.RunID, Limit: opts.Limit}
	switch k := strings.ToUpper(opts.Kind); k {
	case "":
	case session.KindHit.String(), session.KindError.String(), session.KindPreimage.String():
		filter.Kind = session.Kind(k[0])
	default:
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid kind %q: must be one of H, E, P", opts.Kind)).WithReason(CodeUsage)
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	st, err := store.Open(cfg.DB)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open outcome index", err).WithReason(CodeStore)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing outcome index", "error", closeErr)
		}
	}()

	var result HitsResult
	if opts.Import != "" {
		f, err := os.Open(opts.Import)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open search log", err).WithReason(CodeLog)
		}
		defer f.Close()

		runIDs := opts.RunIDs
		if runIDs == nil {
			runIDs = engine.UUIDv7Generator{}
		}
		runID := runIDs.Generate()
		rd := session.NewReader(f)
		n, err := st.Import(ctx, runID, rd)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to import search log", err).WithReason(CodeLog)
		}
		slog.Info("imported search log", "path", opts.Import, "run_id", runID, "records", n, "skipped", len(rd.Diagnostics()))
		result.Imported = n
	}

	outcomes, err := st.ListOutcomes(ctx, filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list outcomes", err).WithReason(CodeStore)
	}
	counts, err := st.CountOutcomes(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to count outcomes", err).WithReason(CodeStore)
	}

	result.Counts = make(map[string]int, len(counts))
	for k, n := range counts {
		result.Counts[k.String()] = n
	}
	result.Outcomes = make([]HitRow, 0, len(outcomes))
	for _, o := range outcomes {
		result.Outcomes = append(result.Outcomes, HitRow{
			Kind:      o.Kind.String(),
			RunID:     o.RunID,
			Pair:      o.Pair.String(),
			Remaining: o.Remaining,
			Line:      o.Line,
		})
	}

	return newFormatter(opts.RootOptions, cmd).Success(result)
}
