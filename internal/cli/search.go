package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/roach88/collate/internal/chain"
	"github.com/roach88/collate/internal/config"
	"github.com/roach88/collate/internal/device"
	"github.com/roach88/collate/internal/engine"
	"github.com/roach88/collate/internal/session"
	"github.com/roach88/collate/internal/store"
	"github.com/roach88/collate/internal/swsim"
	"github.com/roach88/collate/internal/telemetry"
)

// SearchOptions holds flags for the search command.
type SearchOptions struct {
	*RootOptions
	Log         string
	StopAtFirst bool

	// RunIDs allows overriding the run id source (for testing).
	// If nil, defaults to UUIDv7Generator.
	RunIDs engine.RunIDGenerator

	apply func(*config.Config)
}

// SearchResult summarizes one search run.
type SearchResult struct {
	RunID    string             `json:"run_id"`
	Driver   string             `json:"driver"`
	Replay   engine.ReplayStats `json:"replay"`
	CaughtUp int                `json:"caught_up"`
	Stats    engine.Stats       `json:"stats"`
	Outcomes []string           `json:"outcomes"`
}

// WriteText implements TextWriter.
func (r SearchResult) WriteText(w io.Writer) error {
	p := message.NewPrinter(language.English)
	p.Fprintf(w, "Run %s (%s driver)\n", r.RunID, r.Driver)
	writeReplayText(w, p, r.Replay, r.CaughtUp)
	p.Fprintf(w, "Points: %d ingested, %d published, %d steps (%.4f%% of expected)\n",
		r.Stats.Points, r.Stats.Published, r.Stats.Steps, r.Stats.Progress)
	p.Fprintf(w, "Outcomes: %d collisions, %d preimages, %d inconsistent\n",
		r.Stats.Collisions, r.Stats.Preimages, r.Stats.Inconsistent)
	for _, line := range r.Outcomes {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

func writeReplayText(w io.Writer, p *message.Printer, st engine.ReplayStats, caughtUp int) {
	p.Fprintf(w, "Replayed %d records: %d results, %d hits, %d errors, %d preimages, %d sessions, %d skipped\n",
		st.Records, st.Results, st.Hits, st.Errors, st.Preimages, st.Sessions, st.Skipped)
	p.Fprintf(w, "Caught up on %d of %d held matches\n", caughtUp, st.Deferred)
}

// NewSearchCommand creates the search command.
func NewSearchCommand(rootOpts *RootOptions) *cobra.Command {
	return newSearchCommand(&SearchOptions{RootOptions: rootOpts})
}

func newSearchCommand(opts *SearchOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Run a collision search",
		Long: `Run a collision search, appending every result to the search log.

The log is replayed first: chains and distinguished points are rebuilt and
any match left without an outcome is reconciled before new points are
admitted. A new session record is then written and the chain driver runs
until interrupted, or until --max-hits collisions have been found.

Example:
  collate search --log ./md5-64.log --bits 64 --dist-bits 20
  collate search --log ./sim.log --driver sim --stages 3 --bits 24 --stop-at-first`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Log, "log", "", "search log to replay and append to (required)")
	cmd.Flags().BoolVar(&opts.StopAtFirst, "stop-at-first", false, "stop after the first collision")
	opts.apply = config.Flags(cmd.Flags())

	return cmd
}

func runSearch(opts *SearchOptions, cmd *cobra.Command) error {
	setupLogging(cmd.ErrOrStderr(), opts.Verbose)

	cfg, err := loadSettings(opts.RootOptions, opts.apply)
	if err != nil {
		return err
	}
	if opts.Log != "" {
		cfg.Log = opts.Log
	}
	if opts.StopAtFirst {
		cfg.MaxHits = 1
	}
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid settings", err).WithReason(CodeConfig)
	}

	t, err := chain.ByName(cfg.Transform, cfg.Bits)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid settings", err).WithReason(CodeConfig)
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	slog.Info("opening search log", "path", cfg.Log)
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

	shutdown, err := telemetry.Setup(ctx, cfg.OTLPEndpoint, search.RunID())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to set up tracing", err).WithReason(CodeSearch)
	}
	defer func() {
		if err := shutdown(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("tracing shutdown", "error", err)
		}
	}()

	replayed, err := replayLog(ctx, search, lg)
	if err != nil {
		return err
	}

	search.Start(ctx)
	caughtUp, err := search.CatchUp(ctx)
	if err == nil {
		err = search.BeginSession(ctx, time.Now())
	}

	if err == nil {
		runCtx, stop := context.WithCancel(ctx)
		go func() {
			select {
			case <-search.Stopped():
				slog.Info("hit quota reached, stopping", "max_hits", cfg.MaxHits)
				stop()
			case <-runCtx.Done():
			}
		}()
		err = runDriver(runCtx, cfg, search, t)
		stop()
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			err = nil
		}
	}

	if closeErr := search.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		return WrapExitError(ExitFailure, "search failed", err).WithReason(CodeSearch)
	}

	result := SearchResult{
		RunID:    search.RunID(),
		Driver:   cfg.Driver,
		Replay:   replayed,
		CaughtUp: caughtUp,
		Stats:    search.Stats(),
		Outcomes: outcomes.Lines(),
	}

	return newFormatter(opts.RootOptions, cmd).SuccessRun(result.RunID, result)
}

// outcomeCollector keeps the log line of every outcome a run persists.
type outcomeCollector struct {
	mu    sync.Mutex
	lines []string
}

func (c *outcomeCollector) hook(o engine.Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, o.Record.Format())
}

// Lines returns the collected lines, never nil.
func (c *outcomeCollector) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string{}, c.lines...)
}

// newSearch builds a search appending to lg and, when cfg names one, mirroring
// into the outcome index. The returned function closes the index.
func newSearch(cfg config.Config, t chain.Transform, lg engine.Appender, runIDs engine.RunIDGenerator, outcomes *outcomeCollector) (*engine.Search, func(), error) {
	if runIDs == nil {
		runIDs = engine.UUIDv7Generator{}
	}
	engineOpts := []engine.Option{
		engine.WithLog(lg),
		engine.WithWorkers(cfg.Workers),
		engine.WithTableBits(cfg.TableBits),
		engine.WithMaxHits(cfg.MaxHits),
		engine.WithRunIDGenerator(runIDs),
		engine.WithOutcomeHook(outcomes.hook),
	}

	closeStore := func() {}
	if cfg.DB != "" {
		slog.Info("opening outcome index", "path", cfg.DB)
		st, err := store.Open(cfg.DB)
		if err != nil {
			return nil, nil, WrapExitError(ExitCommandError, "failed to open outcome index", err).WithReason(CodeStore)
		}
		closeStore = func() {
			if closeErr := st.Close(); closeErr != nil {
				slog.Error("error closing outcome index", "error", closeErr)
			}
		}
		engineOpts = append(engineOpts, engine.WithSink(st))
	}

	params := engine.Params{Stages: cfg.Stages, Pipes: cfg.Pipes, Bits: cfg.Bits}
	return engine.New(t, params, engineOpts...), closeStore, nil
}

// replayLog rebuilds search from lg.
func replayLog(ctx context.Context, search *engine.Search, lg *session.Log) (engine.ReplayStats, error) {
	rd, err := lg.Reader()
	if err != nil {
		return engine.ReplayStats{}, WrapExitError(ExitCommandError, "failed to read search log", err).WithReason(CodeLog)
	}
	replayed, err := search.Replay(ctx, rd)
	if err != nil {
		if engine.IsTopologyMismatch(err) {
			return replayed, WrapExitError(ExitCommandError, "search log was written by another topology", err).WithReason(CodeTopology)
		}
		return replayed, WrapExitError(ExitCommandError, "failed to replay search log", err).WithReason(CodeLog)
	}
	return replayed, nil
}

// runDriver produces chain points for search until ctx is cancelled.
func runDriver(ctx context.Context, cfg config.Config, search *engine.Search, t chain.Transform) error {
	switch cfg.Driver {
	case config.DriverSim:
		quantum := swsim.QuantumFor(cfg.DistBits)
		dev := swsim.NewPipeline(t, swsim.PipelineConfig{
			Stages:   cfg.Stages,
			Pipes:    cfg.Pipes,
			DistBits: cfg.DistBits,
			Quantum:  quantum,
		})
		seeder := device.NewSeeder(dev, search.Adjuster(), cfg.Stages, cfg.Pipes,
			device.WithFreq(50*quantum),
			device.WithPause(0),
		)
		poller := device.NewPoller(dev, search, seeder, cfg.Pipes, device.WithIdle(time.Millisecond))
		err := poller.Run(ctx)
		slog.Info("simulated device stopped", "reported", dev.Reported(), "dark", dev.Dark())
		return err

	default:
		seed := cfg.Seed
		if seed == 0 {
			seed = uint64(time.Now().UnixNano())
		}
		farm := swsim.NewFarm(search, t, swsim.FarmConfig{
			Stages:   cfg.Stages,
			Pipes:    cfg.Pipes,
			DistBits: cfg.DistBits,
			Workers:  cfg.FarmWorkers,
			Key:      swsim.KeyFromSeed(seed),
		})
		return farm.Run(ctx)
	}
}
