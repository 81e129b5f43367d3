package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/roach88/collate/internal/chain"
	"github.com/roach88/collate/internal/config"
	"github.com/roach88/collate/internal/engine"
	"github.com/roach88/collate/internal/session"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Log string

	// RunIDs allows overriding the run id source (for testing).
	RunIDs engine.RunIDGenerator

	apply func(*config.Config)
}

// ReplayResult is the outcome of replaying a search log.
type ReplayResult struct {
	RunID    string             `json:"run_id"`
	Replay   engine.ReplayStats `json:"replay"`
	CaughtUp int                `json:"caught_up"`
	Seeded   int                `json:"seeded"`
	Channels int                `json:"channels"`
	Table    int                `json:"table_size"`
	Outcomes []string           `json:"outcomes"`
}

// WriteText implements TextWriter.
func (r ReplayResult) WriteText(w io.Writer) error {
	p := message.NewPrinter(language.English)
	writeReplayText(w, p, r.Replay, r.CaughtUp)
	p.Fprintf(w, "Channels: %d of %d holding a chain, %d distinguished points\n", r.Seeded, r.Channels, r.Table)
	if len(r.Outcomes) == 0 {
		_, err := fmt.Fprintln(w, "No unresolved matches.")
		return err
	}
	for _, line := range r.Outcomes {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	return newReplayCommand(&ReplayOptions{RootOptions: rootOpts})
}

func newReplayCommand(opts *ReplayOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Rebuild a search from its log and resolve pending matches",
		Long: `Replay a search log without running any chains.

Chains and distinguished points are rebuilt exactly as a restarted search
would rebuild them. Matches that have no outcome in the log are reconciled
and their outcomes appended, so a later search starts with nothing pending.

Example:
  collate replay --log ./md5-64.log
  collate replay --log ./md5-64.log --stages 195 --pipes 2 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Log, "log", "", "search log to replay (required)")
	_ = cmd.MarkFlagRequired("log")
	opts.apply = config.Flags(cmd.Flags())

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	setupLogging(cmd.ErrOrStderr(), opts.Verbose)

	cfg, err := loadSettings(opts.RootOptions, opts.apply)
	if err != nil {
		return err
	}
	cfg.Log = opts.Log
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid settings", err).WithReason(CodeConfig)
	}
	t, err := chain.ByName(cfg.Transform, cfg.Bits)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid settings", err).WithReason(CodeConfig)
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	lg, err := session.Open(cfg.Log)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open search log", err).WithReason(CodeLog)
	}
	defer func() {
		if closeErr := lg.Close(); closeErr != nil {
			slog.Error("error closing search log", "error", closeErr)
		}
	}()

	outcomes := &outcomeCollector{}
	search, closeStore, err := newSearch(cfg, t, lg, opts.RunIDs, outcomes)
	if err != nil {
		return err
	}
	defer closeStore()

	replayed, err := replayLog(ctx, search, lg)
	if err != nil {
		return err
	}

	search.Start(ctx)
	caughtUp, err := search.CatchUp(ctx)
	if closeErr := search.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		return WrapExitError(ExitFailure, "catch-up failed", err).WithReason(CodeSearch)
	}

	st := search.Stats()
	result := ReplayResult{
		RunID:    search.RunID(),
		Replay:   replayed,
		CaughtUp: caughtUp,
		Seeded:   st.Seeded,
		Channels: st.Channels,
		Table:    st.TableSize,
		Outcomes: outcomes.Lines(),
	}
	return newFormatter(opts.RootOptions, cmd).SuccessRun(result.RunID, result)
}
