package cli

import (
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/message"

	"github.com/roach88/collate/internal/analyze"
	"github.com/roach88/collate/internal/chain"
	"github.com/roach88/collate/internal/config"
	"github.com/roach88/collate/internal/engine"
	"github.com/roach88/collate/internal/session"
)

// CheckOptions holds flags for the check command.
type CheckOptions struct {
	*RootOptions
	Log           string
	Verify        bool
	Top           int
	VerifyWorkers int

	apply func(*config.Config)
}

// SessionLength is one session of a checked log.
type SessionLength struct {
	Start   int64    `json:"start"`
	Cycles  uint64   `json:"cycles"`
	Seconds float64  `json:"seconds"`
	Empty   []string `json:"empty,omitempty"`
}

// RankedSegment is one line of the log-probability ranking.
type RankedSegment struct {
	Clock   uint64  `json:"clock"`
	Pipe    int     `json:"pipe"`
	Gap     uint64  `json:"gap"`
	LogProb float64 `json:"logprob"`
}

// SegmentCheck is the re-verification of one segment.
type SegmentCheck struct {
	Clock    uint64   `json:"clock"`
	Channel  string   `json:"channel"`
	OK       bool     `json:"ok"`
	Got      string   `json:"got,omitempty"`
	Expected string   `json:"expected,omitempty"`
	Interior []string `json:"interior,omitempty"`
}

// CheckResult is everything check learns about a log.
type CheckResult struct {
	Sessions     []SessionLength `json:"sessions"`
	TotalCycles  uint64          `json:"total_cycles"`
	TotalSeconds float64         `json:"total_seconds"`
	Rejected     int             `json:"rejected"`
	Damaged      int             `json:"damaged"`
	Ranking      []RankedSegment `json:"ranking"`
	Checks       []SegmentCheck  `json:"checks,omitempty"`
	Failed       int             `json:"failed"`

	report       *analyze.Report
	ranked       []analyze.Segment
	verification []analyze.Verification
	printer      *message.Printer
}

// WriteText implements TextWriter.
func (r CheckResult) WriteText(w io.Writer) error {
	if err := analyze.WriteSessions(w, r.printer, r.report); err != nil {
		return err
	}
	if r.Rejected > 0 || r.Damaged > 0 {
		r.printer.Fprintf(w, "Skipped %d rejected points and %d damaged lines\n", r.Rejected, r.Damaged)
	}
	if err := analyze.WriteRanking(w, r.ranked); err != nil {
		return err
	}
	for _, v := range r.verification {
		if err := analyze.WriteVerification(w, v); err != nil {
			return err
		}
	}
	return nil
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Analyze a finished search log",
		Long: `Analyze a search log offline.

Reports how long each session ran at the configured clock, then ranks every
published segment by the log-probability that no other chain reported while
it ran. With --verify every segment is recomputed from its predecessor and
compared with the logged digest; a failed segment exits with status 1.

Example:
  collate check --log ./md5-64.log
  collate check --log ./md5-64.log --verify --top 20`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Log, "log", "", "search log to check (required)")
	cmd.Flags().BoolVar(&opts.Verify, "verify", false, "recompute every segment")
	cmd.Flags().IntVar(&opts.Top, "top", 0, "only rank the N least likely segments (0 = all)")
	cmd.Flags().IntVar(&opts.VerifyWorkers, "verify-workers", 0, "verification workers (0 = one per CPU)")
	_ = cmd.MarkFlagRequired("log")
	opts.apply = config.Flags(cmd.Flags())

	return cmd
}

func runCheck(opts *CheckOptions, cmd *cobra.Command) error {
	setupLogging(cmd.ErrOrStderr(), opts.Verbose)

	cfg, err := loadSettings(opts.RootOptions, opts.apply)
	if err != nil {
		return err
	}
	cfg.Log = opts.Log
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid settings", err).WithReason(CodeConfig)
	}

	f, err := os.Open(cfg.Log)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open search log", err).WithReason(CodeLog)
	}
	defer f.Close()

	acfg := analyze.Config{Stages: cfg.Stages, Pipes: cfg.Pipes, Freq: cfg.Freq, DistBits: cfg.DistBits}
	rep, err := analyze.Load(session.NewReader(f), acfg)
	if err != nil {
		if engine.IsTopologyMismatch(err) {
			return WrapExitError(ExitCommandError, "search log was written by another topology", err).WithReason(CodeTopology)
		}
		return WrapExitError(ExitCommandError, "failed to read search log", err).WithReason(CodeLog)
	}

	result := CheckResult{
		TotalCycles:  rep.Total,
		TotalSeconds: acfg.Seconds(rep.Total),
		Rejected:     rep.Rejected,
		Damaged:      rep.Damaged,
		report:       rep,
		printer:      analyze.NewPrinter(),
	}
	for _, s := range rep.Sessions {
		sl := SessionLength{Start: s.Start, Cycles: s.Cycles, Seconds: acfg.Seconds(s.Cycles)}
		for _, ch := range s.Empty {
			sl.Empty = append(sl.Empty, ch.String())
		}
		result.Sessions = append(result.Sessions, sl)
	}

	if opts.Verify {
		t, err := chain.ByName(cfg.Transform, cfg.Bits)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid settings", err).WithReason(CodeConfig)
		}
		ctx, cancel := signalContext(cmd)
		defer cancel()

		started := time.Now()
		vs, err := analyze.Verify(ctx, t, rep.Segments, acfg, opts.VerifyWorkers)
		if err != nil {
			return WrapExitError(ExitFailure, "verification interrupted", err).WithReason(CodeVerify)
		}
		newFormatter(opts.RootOptions, cmd).VerboseLog("verified %d segments in %s", len(vs), time.Since(started).Round(time.Millisecond))
		result.verification = vs
		for _, v := range vs {
			result.Checks = append(result.Checks, segmentCheck(v))
			if !v.OK {
				result.Failed++
			}
		}
	}

	ranked := slices.Clone(rep.Segments)
	analyze.Rank(ranked, acfg)
	if opts.Top > 0 && len(ranked) > opts.Top {
		ranked = ranked[:opts.Top]
	}
	result.ranked = ranked
	result.Ranking = make([]RankedSegment, 0, len(ranked))
	for _, s := range ranked {
		result.Ranking = append(result.Ranking, RankedSegment{Clock: s.Clock, Pipe: s.Pipe, Gap: s.Gap, LogProb: s.LogProb})
	}

	if err := newFormatter(opts.RootOptions, cmd).Success(result); err != nil {
		return err
	}
	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d segments failed verification", result.Failed)).WithReason(CodeVerify)
	}
	return nil
}

func segmentCheck(v analyze.Verification) SegmentCheck {
	c := SegmentCheck{
		Clock:   v.Segment.Clock,
		Channel: v.Segment.Channel.String(),
		OK:      v.OK,
	}
	if !v.OK {
		c.Got = v.Got.String()
		c.Expected = v.Segment.Digest.String()
	}
	for _, in := range v.Interior {
		c.Interior = append(c.Interior, session.Result{Clock: in.Clock, Pipe: in.Pipe, Digest: in.Digest}.Format())
	}
	return c
}
