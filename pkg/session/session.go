// Package session composes the enforcement pipeline for one page load.
//
// A Session owns every piece of mutable state: the cart reader, policy cache,
// gate, persistence bridge, interceptor and pass counter. Passes may overlap;
// only the newest applied pass ever reaches the gate.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mayankgupta007/min-max-shopify-sub000/pkg/clock"
	"github.com/mayankgupta007/min-max-shopify-sub000/pkg/dom"
	"github.com/mayankgupta007/min-max-shopify-sub000/pkg/gate"
	"github.com/mayankgupta007/min-max-shopify-sub000/pkg/intercept"
	"github.com/mayankgupta007/min-max-shopify-sub000/pkg/limits"
	"github.com/mayankgupta007/min-max-shopify-sub000/pkg/observability"
	"github.com/mayankgupta007/min-max-shopify-sub000/pkg/persist"
	"github.com/mayankgupta007/min-max-shopify-sub000/pkg/productid"
	"github.com/mayankgupta007/min-max-shopify-sub000/pkg/store"
)

// DefaultPollInterval is the periodic re-validation tick.
const DefaultPollInterval = 30 * time.Second

// ErrSuperseded is returned by a pass that finished after a newer pass had
// already been applied. Its verdict was not applied.
var ErrSuperseded = errors.New("session: pass superseded by a newer pass")

// CartReader returns the authoritative cart lines. It never fails.
type CartReader interface {
	Read(ctx context.Context) []limits.CartLine
}

// PolicySource resolves and accumulates policies.
type PolicySource interface {
	GetMany(ctx context.Context, ids []limits.ProductID) (map[limits.ProductID]*limits.Policy, error)
	Known() *limits.PolicySet
	EverKnown() bool
}

// Deps are the collaborators a Session composes.
type Deps struct {
	Doc       *dom.Document
	Matchers  *dom.Matchers
	Resolver  *productid.Resolver
	Cart      CartReader
	Policies  PolicySource
	Store     store.SessionStore
	Telemetry *observability.Provider
}

// Options tune timing and labels. Zero values take package defaults.
type Options struct {
	Clock         clock.Clock
	SnapshotTTL   time.Duration
	SettleDelay   time.Duration
	QuantityDelay time.Duration
	Throttle      time.Duration
	SafetyTimeout time.Duration
	PollInterval  time.Duration
	MutationPaths []string
	Labels        gate.Labels
}

// Session is one page load's validation pipeline.
type Session struct {
	id          string
	deps        Deps
	opts        Options
	clock       clock.Clock
	gate        *gate.Controller
	bridge      *persist.Bridge
	interceptor *intercept.Interceptor
	telemetry   *observability.Provider
	logger      *slog.Logger

	// applyMu orders claim with the gate and persistence writes that follow.
	applyMu sync.Mutex

	mu         sync.Mutex
	started    bool
	primed     bool
	baseCtx    context.Context
	nextSeq    uint64
	appliedSeq uint64
	last       limits.Verdict
}

// New wires a session. Nothing touches the document until Start.
func New(deps Deps, opts Options) *Session {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if deps.Telemetry == nil {
		deps.Telemetry = observability.Disabled()
	}
	if deps.Store == nil {
		deps.Store = store.NewMemoryStore("", opts.Clock)
	}

	s := &Session{
		id:        uuid.NewString(),
		deps:      deps,
		opts:      opts,
		clock:     opts.Clock,
		telemetry: deps.Telemetry,
		baseCtx:   context.Background(),
		last:      limits.Verdict{Valid: true},
	}
	s.logger = slog.Default().With("component", "session", "session_id", s.id)
	s.bridge = persist.NewBridge(deps.Store, opts.Clock, opts.SnapshotTTL)
	s.gate = gate.New(deps.Doc, deps.Matchers, gate.Options{
		Clock:         opts.Clock,
		Throttle:      opts.Throttle,
		SafetyTimeout: opts.SafetyTimeout,
		Labels:        opts.Labels,
		EverKnown:     s.everKnown,
		OnTransition: func(from, to gate.State) {
			s.telemetry.RecordTransition(context.Background(), from.String(), to.String())
		},
	})
	s.interceptor = intercept.New(s.gate, deps.Doc, deps.Matchers, s.settled, intercept.Options{
		Clock:         opts.Clock,
		SettleDelay:   opts.SettleDelay,
		QuantityDelay: opts.QuantityDelay,
		MutationPaths: opts.MutationPaths,
		OnIntent: func(channel string) {
			s.telemetry.RecordIntent(context.Background(), channel)
		},
	})
	return s
}

// ID identifies the session in logs and telemetry.
func (s *Session) ID() string { return s.id }

// Gate exposes the checkout gate.
func (s *Session) Gate() *gate.Controller { return s.gate }

// Interceptor exposes the mutation interceptor, e.g. to wrap an HTTP client.
func (s *Session) Interceptor() *intercept.Interceptor { return s.interceptor }

// Transport wraps base so cart mutations through it are intercepted.
func (s *Session) Transport(base http.RoundTripper) http.RoundTripper {
	return s.interceptor.Transport(base)
}

// Last returns the most recently applied verdict.
func (s *Session) Last() limits.Verdict {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Start applies preemptive gating from a fresh persisted verdict and attaches
// the interceptor. It makes no network calls. ctx bounds passes triggered by
// intercepted mutations.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.baseCtx = ctx
	s.mu.Unlock()

	if snap := s.bridge.Load(ctx); snap != nil && !snap.Valid {
		s.logger.Info("blocking checkout from persisted verdict", "captured_at", snap.CapturedAt)
		s.mu.Lock()
		s.primed = true
		s.mu.Unlock()
		s.gate.Block(snap.Message)
	}
	s.interceptor.Attach()
	return nil
}

// Close detaches the interceptor.
func (s *Session) Close() {
	s.interceptor.Detach()
}

// Revalidate runs one validation pass.
func (s *Session) Revalidate(ctx context.Context) (limits.Verdict, error) {
	return s.pass(ctx, "manual")
}

// VisibilityRegained runs a pass when the page becomes visible again.
func (s *Session) VisibilityRegained(ctx context.Context) (limits.Verdict, error) {
	return s.pass(ctx, "visibility")
}

// Run starts the session, performs the initial pass and then re-validates on
// every poll tick until ctx ends.
func (s *Session) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	defer s.Close()

	if _, err := s.pass(ctx, "initial"); err != nil && !errors.Is(err, ErrSuperseded) {
		s.logger.Warn("initial pass failed", "error", err)
	}

	tick := clock.NewTimeout(s.clock)
	defer tick.Stop()
	var schedule func()
	schedule = func() {
		tick.Reset(s.opts.PollInterval, func() {
			if ctx.Err() != nil {
				return
			}
			if _, err := s.pass(ctx, "poll"); err != nil && !errors.Is(err, ErrSuperseded) {
				s.logger.Warn("periodic pass failed", "error", err)
			}
			schedule()
		})
	}
	schedule()

	<-ctx.Done()
	return nil
}

func (s *Session) settled() {
	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	if _, err := s.pass(ctx, "settle"); err != nil && !errors.Is(err, ErrSuperseded) {
		s.logger.Warn("settle pass failed", "error", err)
	}
}

func (s *Session) everKnown() bool {
	s.mu.Lock()
	primed := s.primed
	s.mu.Unlock()
	return primed || s.deps.Policies.EverKnown()
}

// pass reads the cart, resolves the current product, looks up every relevant
// policy and validates. Panics and errors are contained and routed to the
// gate's fail-safe decision.
func (s *Session) pass(ctx context.Context, trigger string) (verdict limits.Verdict, err error) {
	s.mu.Lock()
	s.nextSeq++
	seq := s.nextSeq
	s.mu.Unlock()

	passID := uuid.NewString()
	ctx, finish := s.telemetry.TrackOperation(ctx, "cartguard.pass", observability.PassOperation(passID, seq, trigger)...)
	logger := s.logger.With("pass_id", passID, "seq", seq, "trigger", trigger)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("validation pass panicked: %v", r)
			verdict = limits.Verdict{}
			s.fail(seq, err, logger)
		}
		finish(err)
	}()

	lines := s.deps.Cart.Read(ctx)
	ids := make([]limits.ProductID, 0, len(lines)+1)
	for _, l := range lines {
		ids = append(ids, l.ProductID)
	}
	if s.deps.Resolver != nil {
		if id, ok := s.deps.Resolver.Resolve(s.deps.Doc); ok {
			ids = append(ids, id)
		} else {
			logger.Debug("no current product on page")
		}
	}

	_, lookupErr := s.deps.Policies.GetMany(ctx, ids)
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = fmt.Errorf("validation pass cancelled: %w", ctxErr)
		s.fail(seq, err, logger)
		return limits.Verdict{}, err
	}

	verdict = limits.Validate(lines, s.deps.Policies.Known())

	if lookupErr != nil && verdict.Valid {
		// Some limits could not be established and nothing known is violated.
		err = fmt.Errorf("validation pass: %w", lookupErr)
		s.fail(seq, err, logger)
		return verdict, err
	}
	if lookupErr != nil {
		logger.Warn("some limits unavailable; applying known violations", "error", lookupErr)
	}

	s.applyMu.Lock()
	defer s.applyMu.Unlock()
	if !s.claim(seq) {
		logger.Debug("discarding superseded pass")
		return verdict, ErrSuperseded
	}
	s.gate.Apply(verdict)
	s.record(ctx, verdict, logger)
	return verdict, nil
}

// claim reports whether seq may reach the gate and marks it applied. Callers
// hold applyMu until their gate and store writes are done.
func (s *Session) claim(seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq < s.appliedSeq {
		return false
	}
	s.appliedSeq = seq
	return true
}

func (s *Session) fail(seq uint64, err error, logger *slog.Logger) {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()
	if !s.claim(seq) {
		logger.Debug("discarding superseded failure", "error", err)
		return
	}
	s.gate.Fail(err)
}

func (s *Session) record(ctx context.Context, v limits.Verdict, logger *slog.Logger) {
	s.mu.Lock()
	s.last = v
	s.mu.Unlock()

	counts := map[limits.ViolationKind]int{}
	for _, vi := range v.Violations {
		counts[vi.Kind]++
	}
	for kind, n := range counts {
		s.telemetry.RecordViolations(ctx, string(kind), n)
	}
	if err := s.bridge.Save(ctx, v); err != nil {
		logger.Warn("persist verdict failed", "error", err)
	}
	logger.Debug("pass applied", "valid", v.Valid, "violations", len(v.Violations))
}
