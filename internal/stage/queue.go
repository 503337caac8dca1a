package stage

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/glimte/sedaflow-go/contracts"
	"github.com/glimte/sedaflow-go/observability"
)

// OverflowPolicy decides what happens when an envelope arrives at a
// full stage queue.
type OverflowPolicy string

const (
	// Block suspends the producer until space frees. Back-pressure
	// propagates to the originating route instead of losing data.
	Block OverflowPolicy = "block"

	// DropNewest rejects the arriving envelope silently and counts
	// the drop.
	DropNewest OverflowPolicy = "drop-newest"

	// DropOldest evicts the queue head to admit the new envelope and
	// counts the eviction.
	DropOldest OverflowPolicy = "drop-oldest"
)

// Defaults mirror the SEDA endpoint defaults of the systems this
// engine interoperates with.
const (
	DefaultCapacity    = 1000
	DefaultConcurrency = 1
)

// ErrQueueClosed is returned by Enqueue after shutdown began.
var ErrQueueClosed = errors.New("stage: queue closed")

// Config describes one stage queue. The zero value is usable; missing
// fields fall back to the defaults above.
type Config struct {
	Capacity    int
	Concurrency int
	Overflow    OverflowPolicy
}

func (c Config) withDefaults() Config {
	if c.Capacity <= 0 {
		c.Capacity = DefaultCapacity
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.Overflow == "" {
		c.Overflow = Block
	}
	return c
}

// Handler executes the stage's continuation route for one dequeued
// envelope. Failures are the handler's concern (the routing layer
// applies the stage route's own error policy); the queue only tracks
// throughput.
type Handler func(ctx context.Context, env *contracts.Envelope)

// Stats is a point-in-time snapshot of a queue.
type Stats struct {
	Name      string
	Depth     int
	Capacity  int
	Workers   int
	Enqueued  int64
	Processed int64
	Dropped   int64
}

// Queue is a bounded, named queue drained by a fixed pool of worker
// goroutines. Envelopes handled by the same worker preserve FIFO
// order; no ordering holds across workers.
type Queue struct {
	name    string
	cfg     Config
	handler Handler
	logger  *slog.Logger
	metrics observability.MetricsRecorder

	ch        chan *contracts.Envelope
	done      chan struct{}
	wg        sync.WaitGroup
	closing   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once

	enqueued  atomic.Int64
	processed atomic.Int64
	dropped   atomic.Int64
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		q.logger = logger
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics observability.MetricsRecorder) Option {
	return func(q *Queue) {
		q.metrics = metrics
	}
}

// New creates a stage queue. Workers do not run until Start.
func New(name string, cfg Config, handler Handler, options ...Option) *Queue {
	cfg = cfg.withDefaults()

	q := &Queue{
		name:    name,
		cfg:     cfg,
		handler: handler,
		logger:  slog.Default(),
		metrics: observability.NoopMetrics{},
		ch:      make(chan *contracts.Envelope, cfg.Capacity),
		done:    make(chan struct{}),
	}

	for _, opt := range options {
		opt(q)
	}

	return q
}

// Name returns the stage name.
func (q *Queue) Name() string {
	return q.name
}

// Config returns the effective configuration after defaulting.
func (q *Queue) Config() Config {
	return q.cfg
}

// Start launches the worker pool. Subsequent calls are no-ops.
func (q *Queue) Start(ctx context.Context) {
	q.startOnce.Do(func() {
		for i := 0; i < q.cfg.Concurrency; i++ {
			q.wg.Add(1)
			go q.work(ctx, i)
		}
		q.logger.Debug("stage started",
			"stage", q.name,
			"capacity", q.cfg.Capacity,
			"concurrency", q.cfg.Concurrency,
			"overflow", q.cfg.Overflow,
		)
	})
}

// Enqueue admits an envelope under the stage's overflow policy. Under
// Block it suspends the caller until space frees, the context is
// cancelled, or the queue shuts down. Under the drop policies it never
// blocks; a rejected or evicted envelope is counted, not an error.
func (q *Queue) Enqueue(ctx context.Context, env *contracts.Envelope) error {
	if q.closing.Load() {
		return ErrQueueClosed
	}

	switch q.cfg.Overflow {
	case DropNewest:
		select {
		case q.ch <- env:
			q.admitted(ctx)
		default:
			q.drop(ctx, env)
		}
		return nil

	case DropOldest:
		for {
			select {
			case q.ch <- env:
				q.admitted(ctx)
				return nil
			default:
			}
			// Evict the head and retry. A worker may win the race for
			// the head first; that just means space freed anyway.
			select {
			case evicted := <-q.ch:
				q.drop(ctx, evicted)
			default:
			}
		}

	default: // Block
		select {
		case q.ch <- env:
			q.admitted(ctx)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-q.done:
			return ErrQueueClosed
		}
	}
}

func (q *Queue) admitted(ctx context.Context) {
	q.enqueued.Add(1)
	q.metrics.RecordEnqueue(ctx, q.name)
	q.metrics.RecordQueueDepth(ctx, q.name, int64(len(q.ch)))
}

func (q *Queue) drop(ctx context.Context, env *contracts.Envelope) {
	q.dropped.Add(1)
	q.metrics.RecordDrop(ctx, q.name)
	q.logger.Debug("envelope dropped",
		"stage", q.name,
		"envelopeId", env.ID,
		"policy", q.cfg.Overflow,
	)
}

// Shutdown stops admitting new envelopes, waits for the queue to
// drain (bounded by ctx), and stops the workers. Envelopes still
// queued when ctx expires are abandoned; the count is logged.
func (q *Queue) Shutdown(ctx context.Context) error {
	var err error
	q.stopOnce.Do(func() {
		q.closing.Store(true)

		// Drain: poll until empty or the deadline hits.
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
	drain:
		for len(q.ch) > 0 {
			select {
			case <-ctx.Done():
				err = ctx.Err()
				break drain
			case <-ticker.C:
			}
		}

		close(q.done)
		q.wg.Wait()

		if abandoned := len(q.ch); abandoned > 0 {
			q.logger.Warn("stage shut down with envelopes abandoned",
				"stage", q.name,
				"abandoned", abandoned,
			)
		}
	})
	return err
}

// Stats returns a snapshot of the queue's counters.
func (q *Queue) Stats() Stats {
	return Stats{
		Name:      q.name,
		Depth:     len(q.ch),
		Capacity:  q.cfg.Capacity,
		Workers:   q.cfg.Concurrency,
		Enqueued:  q.enqueued.Load(),
		Processed: q.processed.Load(),
		Dropped:   q.dropped.Load(),
	}
}

func (q *Queue) work(ctx context.Context, id int) {
	defer q.wg.Done()

	for {
		select {
		case <-q.done:
			// Final non-blocking sweep so a drained shutdown leaves
			// nothing behind.
			for {
				select {
				case env := <-q.ch:
					q.process(ctx, env)
				default:
					return
				}
			}
		case env := <-q.ch:
			q.process(ctx, env)
		}
	}
}

func (q *Queue) process(ctx context.Context, env *contracts.Envelope) {
	start := time.Now()
	q.handler(ctx, env)
	q.processed.Add(1)
	q.metrics.RecordStageProcess(ctx, q.name, time.Since(start))
}
