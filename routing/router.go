package routing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/glimte/sedaflow-go/claimcheck"
	"github.com/glimte/sedaflow-go/contracts"
	"github.com/glimte/sedaflow-go/internal/stage"
	"github.com/glimte/sedaflow-go/observability"
)

// StageStats is a point-in-time snapshot of one stage queue.
type StageStats struct {
	Name      string
	Depth     int
	Capacity  int
	Workers   int
	Enqueued  int64
	Processed int64
	Dropped   int64
}

// Router owns the registered routes, the stage queues, and the sink
// registry. It is the only component that creates stages; all
// concurrency control lives inside the stage queues themselves.
type Router struct {
	mu          sync.RWMutex
	routes      map[string]*Route
	stageRoutes map[string]*Route
	stages      map[string]*stage.Queue
	sinks       map[string]Sink
	closed      bool

	store         claimcheck.Store
	logger        *slog.Logger
	metrics       observability.MetricsRecorder
	defaultPolicy RedeliveryPolicy

	// runCtx outlives any single dispatch so fire-and-forget work
	// (wire taps, dead letter forwards) is not cut short by a
	// caller's context.
	runCtx    context.Context
	runCancel context.CancelFunc
}

// RouterOption configures the Router.
type RouterOption func(*Router)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) RouterOption {
	return func(r *Router) {
		r.logger = logger
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics observability.MetricsRecorder) RouterOption {
	return func(r *Router) {
		r.metrics = metrics
	}
}

// WithClaimCheckStore sets the store backing claim check steps.
// Defaults to an in-memory store.
func WithClaimCheckStore(store claimcheck.Store) RouterOption {
	return func(r *Router) {
		r.store = store
	}
}

// WithDefaultRedelivery sets the policy applied to routes that do not
// carry their own. The zero policy (no redelivery) is the default.
func WithDefaultRedelivery(p RedeliveryPolicy) RouterOption {
	return func(r *Router) {
		r.defaultPolicy = p
	}
}

// NewRouter creates a router with no routes registered.
func NewRouter(options ...RouterOption) *Router {
	ctx, cancel := context.WithCancel(context.Background())

	r := &Router{
		routes:      make(map[string]*Route),
		stageRoutes: make(map[string]*Route),
		stages:      make(map[string]*stage.Queue),
		sinks:       make(map[string]Sink),
		store:       claimcheck.NewMemoryStore(),
		logger:      slog.Default(),
		metrics:     observability.NoopMetrics{},
		runCtx:      ctx,
		runCancel:   cancel,
	}

	for _, opt := range options {
		opt(r)
	}

	return r
}

// Register adds a route. Plain routes become dispatchable entry
// points; stage routes bind a continuation to their stage's worker
// pool and start it. Registration happens once at startup; routes are
// immutable afterwards.
func (r *Router) Register(route *Route) error {
	if route == nil || route.entry == "" {
		return fmt.Errorf("route must have an entry name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return contracts.ErrRouterClosed
	}

	if route.isStage {
		if _, exists := r.stageRoutes[route.entry]; exists {
			return fmt.Errorf("%w: %s", contracts.ErrDuplicateStage, route.entry)
		}
		r.stageRoutes[route.entry] = route
		q := r.ensureStageLocked(route.entry, route.stage)
		q.Start(r.runCtx)
		r.logger.Info("registered stage route",
			"stage", route.entry,
			"capacity", q.Config().Capacity,
			"concurrency", q.Config().Concurrency,
			"overflow", q.Config().Overflow,
		)
		return nil
	}

	if _, exists := r.routes[route.entry]; exists {
		return fmt.Errorf("%w: %s", contracts.ErrDuplicateRoute, route.entry)
	}
	r.routes[route.entry] = route
	r.logger.Info("registered route", "entry", route.entry)
	return nil
}

// RegisterSink adds a named sink for ToSink steps.
func (r *Router) RegisterSink(name string, sink Sink) error {
	if name == "" || sink == nil {
		return fmt.Errorf("sink must have a name and an implementation")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sinks[name]; exists {
		return fmt.Errorf("sink %s already registered", name)
	}
	r.sinks[name] = sink
	return nil
}

// Dispatch hands an envelope to the named entry point and executes
// the bound route synchronously up to its suspension points. The
// returned error is either ErrUnknownEntry, ErrRouterClosed, or a
// StepExecutionError after synchronous redelivery exhaustion.
func (r *Router) Dispatch(ctx context.Context, entry string, env *contracts.Envelope) error {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return contracts.ErrRouterClosed
	}
	route, ok := r.routes[entry]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", contracts.ErrUnknownEntry, entry)
	}

	return r.execute(ctx, route, env)
}

// stageFor returns the queue for name, creating it on first
// reference.
func (r *Router) stageFor(name string) *stage.Queue {
	r.mu.RLock()
	q, ok := r.stages[name]
	r.mu.RUnlock()
	if ok {
		return q
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ensureStageLocked(name, StageConfig{})
}

// ensureStageLocked creates the stage queue if it does not exist yet.
// The first creation fixes the configuration for the stage's
// lifetime; queues are never resized.
func (r *Router) ensureStageLocked(name string, cfg StageConfig) *stage.Queue {
	if q, ok := r.stages[name]; ok {
		return q
	}

	q := stage.New(name, stage.Config{
		Capacity:    cfg.Capacity,
		Concurrency: cfg.Concurrency,
		Overflow:    stage.OverflowPolicy(cfg.Overflow),
	}, r.stageHandler(name),
		stage.WithLogger(r.logger),
		stage.WithMetrics(r.metrics),
	)
	r.stages[name] = q

	// Workers start only once a continuation route is registered;
	// until then the queue just buffers.
	if _, ok := r.stageRoutes[name]; ok {
		q.Start(r.runCtx)
	}
	return q
}

// stageHandler builds the worker callback for a stage. The route
// lookup is deferred to execution time so a queue created by a
// dispatch step picks up its continuation when it is registered.
func (r *Router) stageHandler(name string) stage.Handler {
	return func(ctx context.Context, env *contracts.Envelope) {
		r.mu.RLock()
		route, ok := r.stageRoutes[name]
		r.mu.RUnlock()

		if !ok {
			r.logger.Error("no continuation route for stage, envelope lost",
				"stage", name,
				"envelopeId", env.ID,
			)
			return
		}

		// Failure isolation: the stage route's own policy decides;
		// exhaustion is logged here and never reaches the producer.
		if err := r.execute(ctx, route, env); err != nil {
			r.logger.Error("stage continuation failed",
				"stage", name,
				"envelopeId", env.ID,
				"correlationId", env.CorrelationID,
				"error", err,
			)
		}
	}
}

// StageStats returns snapshots of all stage queues, sorted by nothing
// in particular.
func (r *Router) StageStats() []StageStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make([]StageStats, 0, len(r.stages))
	for _, q := range r.stages {
		s := q.Stats()
		stats = append(stats, StageStats{
			Name:      s.Name,
			Depth:     s.Depth,
			Capacity:  s.Capacity,
			Workers:   s.Workers,
			Enqueued:  s.Enqueued,
			Processed: s.Processed,
			Dropped:   s.Dropped,
		})
	}
	return stats
}

// Shutdown stops accepting dispatches, drains every stage queue
// bounded by ctx, and stops their workers. Draining is preferred over
// abandoning; envelopes still queued when ctx expires are abandoned
// and logged by their queues.
func (r *Router) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	queues := make([]*stage.Queue, 0, len(r.stages))
	for _, q := range r.stages {
		queues = append(queues, q)
	}
	r.mu.Unlock()

	var firstErr error
	for _, q := range queues {
		if err := q.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	r.runCancel()
	r.logger.Info("router shut down", "stages", len(queues))
	return firstErr
}
