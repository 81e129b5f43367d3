package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/collate/internal/chain"
	"github.com/roach88/collate/internal/clock"
	"github.com/roach88/collate/internal/dptable"
	"github.com/roach88/collate/internal/ledger"
	"github.com/roach88/collate/internal/reconcile"
	"github.com/roach88/collate/internal/session"
)

const tracerName = "github.com/roach88/collate/internal/engine"

// DefaultWorkers is the default size of the reconcile worker pool.
const DefaultWorkers = 4

// Params fixes the shape of a search. All runs on one log must agree on
// Stages and Pipes.
type Params struct {
	Stages int
	Pipes  int
	// Bits is the width on which two outputs must agree.
	Bits uint
}

// Appender receives log records. *session.Writer and *session.Log satisfy it.
type Appender interface {
	Write(rec session.Record) error
}

// Sink mirrors session starts and outcomes into secondary storage.
type Sink interface {
	Write(ctx context.Context, runID string, rec session.Record) error
}

// Outcome is a reconciled pair as handed to hooks.
type Outcome struct {
	Seq    uint64
	Pair   session.Pair
	Result reconcile.Outcome
	Record session.Record
}

type result struct {
	job
	out reconcile.Outcome
}

// Stats is a snapshot of search progress.
type Stats struct {
	Points       uint64
	Published    uint64
	Steps        uint64
	Seeded       int
	Channels     int
	TableSize    int
	Queued       int
	Collisions   int
	Preimages    int
	Inconsistent int
	// Progress is Steps as a percentage of the expected work for a
	// collision at the configured width.
	Progress float64
}

// Option configures a Search.
type Option func(*Search)

// WithWorkers sets the reconcile pool size.
func WithWorkers(n int) Option {
	return func(s *Search) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithTableBits keys the distinguished point table on fewer bits than the
// search width.
func WithTableBits(n uint) Option {
	return func(s *Search) { s.tableBits = n }
}

// WithLog appends ingested points and outcomes to a.
func WithLog(a Appender) Option {
	return func(s *Search) { s.log = a }
}

// WithSink mirrors sessions and outcomes into sink.
func WithSink(sink Sink) Option {
	return func(s *Search) { s.sink = sink }
}

// WithMaxHits stops the search after n collisions. Zero runs until stopped.
func WithMaxHits(n int) Option {
	return func(s *Search) { s.quota = NewHitQuota(n) }
}

// WithTracer replaces the global otel tracer.
func WithTracer(t trace.Tracer) Option {
	return func(s *Search) { s.tracer = t }
}

// WithRunIDGenerator replaces the UUIDv7 run id source.
func WithRunIDGenerator(g RunIDGenerator) Option {
	return func(s *Search) { s.runIDs = g }
}

// WithClockBound sets the largest clock jump the adjuster accepts.
func WithClockBound(bound uint64) Option {
	return func(s *Search) { s.adjuster = clock.NewAdjuster(bound) }
}

// WithOutcomeHook calls fn from the writer goroutine after every outcome has
// been persisted.
func WithOutcomeHook(fn func(Outcome)) Option {
	return func(s *Search) { s.hook = fn }
}

// Search is the collision search context: the channel ledger, the
// distinguished point table and the set of pairs already resolved.
//
// Thread-safety model:
//   - Ingest, Replay, CatchUp, BeginSession and Stats are safe from any
//     goroutine. One mutex serializes ledger ingest, table insertion and match
//     detection, so no match can be missed or reported twice.
//   - Matches are reconciled off the ingest path by a fixed worker pool fed
//     by an unbounded queue.
//   - Outcomes are persisted by a single writer goroutine, which is also the
//     only place channels are killed for inconsistency.
type Search struct {
	transform chain.Transform
	params    Params
	tableBits uint
	workers   int

	mu       sync.Mutex
	ledger   *ledger.Ledger
	table    *dptable.Table
	hits     *session.HitSet
	pending  map[session.Pair]struct{}
	deferred []job
	counts   Stats

	adjuster *clock.Adjuster
	log      Appender
	sink     Sink
	quota    *HitQuota
	hook     func(Outcome)
	tracer   trace.Tracer
	runIDs   RunIDGenerator
	runID    string
	logger   *slog.Logger
	seq      Sequence
	expected float64

	queue      *jobQueue
	outcomes   chan result
	inflight   sync.WaitGroup
	workerWG   sync.WaitGroup
	writerDone chan struct{}
	started    bool
	closeOnce  sync.Once

	stopOnce sync.Once
	stopped  chan struct{}

	errMu sync.Mutex
	err   error
}

// New creates a search over t. The transform must already be truncated to
// the width the pipes produce.
func New(t chain.Transform, p Params, opts ...Option) *Search {
	s := &Search{
		transform:  t,
		params:     p,
		workers:    DefaultWorkers,
		hits:       session.NewHitSet(),
		pending:    make(map[session.Pair]struct{}),
		adjuster:   clock.NewAdjuster(0),
		quota:      NewHitQuota(0),
		runIDs:     UUIDv7Generator{},
		queue:      newJobQueue(),
		writerDone: make(chan struct{}),
		stopped:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}

	s.ledger = ledger.New(p.Stages, p.Pipes)
	s.table = dptable.New(p.Bits, s.tableBits)
	s.outcomes = make(chan result, 4*s.workers)
	s.runID = s.runIDs.Generate()
	s.logger = slog.Default().With("run_id", s.runID)

	s.expected = math.Exp2(float64(p.Bits / 2))
	if p.Bits&1 != 0 {
		s.expected *= math.Sqrt2
	}
	return s
}

// RunID returns the id of this run.
func (s *Search) RunID() string { return s.runID }

// Params returns the search shape.
func (s *Search) Params() Params { return s.params }

// Adjuster returns the clock adjuster shared with the channel drivers.
func (s *Search) Adjuster() *clock.Adjuster { return s.adjuster }

// Transform returns the chain transform.
func (s *Search) Transform() chain.Transform { return s.transform }

// Stopped is closed once the hit quota has been reached.
func (s *Search) Stopped() <-chan struct{} { return s.stopped }

// Start launches the reconcile workers and the outcome writer.
func (s *Search) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	s.logger.Info("search starting",
		"stages", s.params.Stages,
		"pipes", s.params.Pipes,
		"bits", s.params.Bits,
		"workers", s.workers,
	)

	for i := 0; i < s.workers; i++ {
		s.workerWG.Add(1)
		go s.worker(ctx)
	}
	go s.writer(context.WithoutCancel(ctx))
}

// Close stops accepting matches, waits for queued jobs to be reconciled and
// persisted, and returns the first log write error, if any.
func (s *Search) Close() error {
	s.closeOnce.Do(func() {
		s.queue.Close()
		s.mu.Lock()
		started := s.started
		s.mu.Unlock()
		if !started {
			return
		}
		s.workerWG.Wait()
		close(s.outcomes)
		<-s.writerDone
		s.logger.Info("search stopped", "collisions", s.quota.Current())
	})
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// BeginSession starts a live session: it forgets every channel's last point,
// so no link crosses a restart, and appends an S record.
func (s *Search) BeginSession(ctx context.Context, now time.Time) error {
	rec := session.Session{Unix: now.Unix(), Stages: s.params.Stages, Pipes: s.params.Pipes}

	s.mu.Lock()
	s.ledger.ResetChannels()
	err := s.appendLog(rec)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if s.sink != nil {
		if err := s.sink.Write(ctx, s.runID, rec); err != nil {
			s.logger.Warn("mirror session start", "error", err)
		}
	}
	s.logger.Info("session started", "unix", rec.Unix)
	return nil
}

// Ingest admits a live sample with an already adjusted clock.
//
// Samples the ledger rejects are logged and returned as errors; a rejected
// sample never stops the search.
func (s *Search) Ingest(smp ledger.Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ingestLocked(smp, false)
}

func (s *Search) ingestLocked(smp ledger.Sample, replay bool) error {
	h, published, err := s.ledger.Ingest(smp)
	if err != nil {
		s.logIngestError(smp, err, replay)
		return err
	}
	if !replay {
		if err := s.appendLog(session.Result{Clock: smp.Clock, Pipe: smp.Pipe, Digest: smp.Digest}); err != nil {
			return err
		}
	}

	p := s.ledger.Point(h)
	if !published {
		s.logger.Debug("channel seeded", "channel", p.Channel.String(), "clock", p.Clock)
		return nil
	}

	if !replay {
		st := s.ledger.Stats()
		s.logger.Debug("point",
			"progress", fmt.Sprintf("%.4g%%", 100*float64(st.Steps)/s.expected),
			"published", st.Published,
			"clock", p.Clock,
			"digest", p.Digest.String(),
			"channel", p.Channel.String(),
		)
	}

	prev, matched := s.table.Insert(h, p.Digest)
	if !matched {
		return nil
	}

	j := s.newJob(h, prev)
	if s.hits.Contains(j.pair) {
		return nil
	}
	if _, ok := s.pending[j.pair]; ok {
		return nil
	}
	s.pending[j.pair] = struct{}{}

	if replay {
		s.deferred = append(s.deferred, j)
		return nil
	}

	// The two chains now run in lockstep; the older one adds nothing.
	if s.ledger.Kill(j.chB, j.epochB) {
		s.logger.Info("killed merged channel", "channel", j.chB.String(), "clock", j.pair.ClockB)
	}
	s.enqueue(j)
	return nil
}

func (s *Search) logIngestError(smp ledger.Sample, err error, replay bool) {
	switch {
	case errors.Is(err, ledger.ErrPreSeed):
		s.logger.Debug("ignoring pre-seed sample", "clock", smp.Clock, "pipe", smp.Pipe)
	case errors.Is(err, ledger.ErrMisaligned):
		s.logger.Error("channel killed", "clock", smp.Clock, "pipe", smp.Pipe, "replay", replay, "error", err)
	default:
		s.logger.Warn("discarding sample", "clock", smp.Clock, "pipe", smp.Pipe, "replay", replay, "error", err)
	}
}

// newJob builds the reconcile job for the new point h matching occupant.
// Called with mu held.
func (s *Search) newJob(h, occupant ledger.Handle) job {
	a, b := s.ledger.Point(h), s.ledger.Point(occupant)
	return job{
		seq: s.seq.Next(),
		input: reconcile.Input{
			A:    s.endpoint(h),
			B:    s.endpoint(occupant),
			Bits: s.params.Bits,
		},
		pair:   session.Pair{ClockA: a.Clock, PipeA: a.Pipe, ClockB: b.Clock, PipeB: b.Pipe}.Normalize(),
		a:      h,
		b:      occupant,
		chA:    a.Channel,
		chB:    b.Channel,
		epochA: a.Epoch,
		epochB: b.Epoch,
	}
}

func (s *Search) endpoint(h ledger.Handle) reconcile.Endpoint {
	p := s.ledger.Point(h)
	return reconcile.Endpoint{
		Clock:  p.Clock,
		Pipe:   p.Pipe,
		Digest: p.Digest,
		Anchor: s.ledger.Point(p.Prev).Digest,
		Gap:    s.ledger.GapOf(h),
	}
}

// enqueue hands j to the worker pool. Called with mu held.
func (s *Search) enqueue(j job) {
	s.inflight.Add(1)
	if !s.queue.Enqueue(j) {
		s.inflight.Done()
		delete(s.pending, j.pair)
		s.logger.Warn("search closed, dropping match", "seq", j.seq, "pair", j.pair.String())
		return
	}
	s.logger.Info("match queued",
		"seq", j.seq,
		"a", j.chA.String(),
		"b", j.chB.String(),
		"gap_a", j.input.A.Gap,
		"gap_b", j.input.B.Gap,
	)
}

func (s *Search) worker(ctx context.Context) {
	defer s.workerWG.Done()
	for {
		if j, ok := s.queue.TryDequeue(); ok {
			s.outcomes <- result{job: j, out: s.reconcile(ctx, j)}
			continue
		}
		if s.queue.Drained() {
			return
		}
		<-s.queue.Wait()
	}
}

func (s *Search) reconcile(ctx context.Context, j job) reconcile.Outcome {
	_, span := s.tracer.Start(ctx, "reconcile", trace.WithAttributes(
		attribute.Int64("seq", int64(j.seq)),
		attribute.String("pair", j.pair.String()),
		attribute.Int64("gap_a", int64(j.input.A.Gap)),
		attribute.Int64("gap_b", int64(j.input.B.Gap)),
	))
	defer span.End()

	out := reconcile.Reconcile(s.transform, j.input)
	span.SetAttributes(
		attribute.String("outcome", out.Kind.String()),
		attribute.Int64("window", int64(out.Window)),
	)
	return out
}

func (s *Search) writer(ctx context.Context) {
	defer close(s.writerDone)
	for r := range s.outcomes {
		s.persist(ctx, r)
		s.inflight.Done()
	}
}

func (s *Search) persist(ctx context.Context, r result) {
	rec := outcomeRecord(r)
	o := Outcome{Seq: r.seq, Pair: r.pair, Result: r.out, Record: rec}

	if s.log != nil {
		if err := s.log.Write(rec); err != nil {
			s.fail(newLogWriteError(err))
		}
	}
	if s.sink != nil {
		if err := s.sink.Write(ctx, s.runID, rec); err != nil {
			s.logger.Warn("mirror outcome", "seq", r.seq, "error", err)
		}
	}

	s.mu.Lock()
	s.hits.Add(r.pair)
	delete(s.pending, r.pair)
	switch r.out.Kind {
	case reconcile.Collision:
		s.counts.Collisions++
	case reconcile.Preimage:
		s.counts.Preimages++
	case reconcile.Inconsistent:
		s.counts.Inconsistent++
		if !r.out.VerifiedA {
			s.ledger.MarkKilled(r.a)
		}
		if !r.out.VerifiedB {
			s.ledger.MarkKilled(r.b)
		}
		s.ledger.Kill(r.chA, r.epochA)
		s.ledger.Kill(r.chB, r.epochB)
	}
	s.mu.Unlock()

	switch r.out.Kind {
	case reconcile.Collision:
		s.logger.Info("collision",
			"seq", r.seq,
			"remaining", r.out.Remaining,
			"pre_a", r.out.PreA.String(),
			"post_a", r.out.PostA.String(),
			"pre_b", r.out.PreB.String(),
			"post_b", r.out.PostB.String(),
			"agree_bits", r.out.AgreeBits,
		)
	case reconcile.Preimage:
		s.logger.Info("preimage", "seq", r.seq, "pair", r.pair.String(), "anchor", r.out.Aligned.String())
	case reconcile.Inconsistent:
		s.logger.Error("inconsistent pair",
			"seq", r.seq,
			"pair", r.pair.String(),
			"final_a", r.out.FinalA.String(),
			"final_b", r.out.FinalB.String(),
			"verified_a", r.out.VerifiedA,
			"verified_b", r.out.VerifiedB,
		)
	}

	if s.hook != nil {
		s.hook(o)
	}

	if r.out.Kind == reconcile.Collision {
		if err := s.quota.Check(); err != nil {
			s.logger.Info("stopping search", "reason", err)
			s.stopOnce.Do(func() { close(s.stopped) })
		}
	}
}

// outcomeRecord renders the log record for r. Pair order follows the
// reconcile input: A is the newer point.
func outcomeRecord(r result) session.Record {
	a, b := r.input.A, r.input.B
	pair := session.Pair{ClockA: a.Clock, PipeA: a.Pipe, ClockB: b.Clock, PipeB: b.Pipe}
	switch r.out.Kind {
	case reconcile.Collision:
		return session.Hit{
			Pair:      pair,
			Remaining: r.out.Remaining,
			PreA:      r.out.PreA,
			PostA:     r.out.PostA,
			PreB:      r.out.PreB,
			PostB:     r.out.PostB,
		}
	case reconcile.Preimage:
		return session.Preimage{Pair: pair, Anchor: r.out.Aligned}
	default:
		return session.Error{Pair: pair, FinalA: r.out.FinalA, FinalB: r.out.FinalB}
	}
}

// appendLog writes rec to the log if one is configured.
func (s *Search) appendLog(rec session.Record) error {
	if s.log == nil {
		return nil
	}
	if err := s.log.Write(rec); err != nil {
		se := newLogWriteError(err)
		s.fail(se)
		return se
	}
	return nil
}

func (s *Search) fail(err error) {
	s.logger.Error("search log write failed", "error", err)
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Unseeded returns the channels that need a new seed.
func (s *Search) Unseeded() []ledger.ChannelID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Unseeded()
}

// NeedsReseed reports whether ch has no live chain.
func (s *Search) NeedsReseed(ch ledger.ChannelID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.NeedsReseed(ch)
}

// KillPipe kills every live chain on pipe so the seeder starts them over.
func (s *Search) KillPipe(pipe int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.ledger.KillPipe(pipe)
	if n > 0 {
		s.logger.Error("pipe killed", "pipe", pipe, "channels", n)
	}
	return n
}

// Stats returns a snapshot of search progress.
func (s *Search) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	ls := s.ledger.Stats()
	st := s.counts
	st.Points = ls.Points
	st.Published = ls.Published
	st.Steps = ls.Steps
	st.Seeded = s.ledger.Seeded()
	st.Channels = s.ledger.Channels()
	st.TableSize = s.table.Len()
	st.Queued = s.queue.Len()
	st.Progress = 100 * float64(ls.Steps) / s.expected
	return st
}
