package routing

import (
	"time"

	"github.com/glimte/sedaflow-go/internal/reliability"
)

// OverflowPolicy decides what a full stage queue does with an
// arriving envelope.
type OverflowPolicy string

const (
	// Block suspends the producer until space frees (the default);
	// back-pressure reaches the originating route instead of data
	// being lost.
	Block OverflowPolicy = "block"

	// DropNewest rejects the arriving envelope silently, counting
	// the drop.
	DropNewest OverflowPolicy = "drop-newest"

	// DropOldest evicts the queue head to admit the new envelope.
	DropOldest OverflowPolicy = "drop-oldest"
)

// StageConfig configures a stage queue: bounded capacity, fixed
// worker concurrency, and the overflow policy. Zero values fall back
// to the engine defaults (capacity 1000, one worker, Block).
type StageConfig struct {
	Capacity    int
	Concurrency int
	Overflow    OverflowPolicy
}

// RedeliveryPolicy bounds how a route's error handler retries. The
// zero value disables redelivery: a failing envelope dead-letters
// immediately with attempt 0.
type RedeliveryPolicy struct {
	// MaxRedeliveries is the number of re-executions granted after
	// the initial attempt.
	MaxRedeliveries int

	// RedeliveryDelay is the fixed pause before each redelivery.
	// Ignored when Backoff is set.
	RedeliveryDelay time.Duration

	// Backoff optionally replaces the fixed delay with a strategy
	// such as exponential backoff.
	Backoff reliability.DelayStrategy

	// DeadLetterStage names the stage receiving envelopes whose
	// redelivery is exhausted. Empty means exhausted envelopes are
	// only reported, not forwarded.
	DeadLetterStage string
}

func (p RedeliveryPolicy) delay(attempt int) time.Duration {
	if p.Backoff != nil {
		return p.Backoff.NextDelay(attempt)
	}
	return p.RedeliveryDelay
}

// Flow is an ordered sequence of steps, usable as a route body or as
// a choice branch's sub-flow. Flows are built once at startup and are
// immutable after registration.
type Flow struct {
	steps []step
}

// NewFlow creates an empty flow.
func NewFlow() *Flow {
	return &Flow{}
}

// Transform appends a transform step.
func (f *Flow) Transform(fn TransformFunc) *Flow {
	f.steps = append(f.steps, step{kind: stepTransform, transform: fn})
	return f
}

// Choice appends a conditional branch step.
func (f *Flow) Choice(c Choice) *Flow {
	f.steps = append(f.steps, step{kind: stepChoice, branches: c.Branches, otherwise: c.Otherwise})
	return f
}

// ToStage appends an asynchronous hand-off to a named stage. The
// enqueued envelope is a derived copy; the current envelope continues
// through any remaining steps.
func (f *Flow) ToStage(name string) *Flow {
	f.steps = append(f.steps, step{kind: stepDispatch, stage: name})
	return f
}

// WireTap appends a fire-and-forget duplication to a named stage. The
// tap's outcome never affects the current flow.
func (f *Flow) WireTap(name string) *Flow {
	f.steps = append(f.steps, step{kind: stepWireTap, stage: name})
	return f
}

// ClaimCheckStore appends a step that externalizes the body to the
// claim check store, leaving the ticket as the new body.
func (f *Flow) ClaimCheckStore() *Flow {
	f.steps = append(f.steps, step{kind: stepClaimStore})
	return f
}

// ClaimCheckRetrieve appends a step that restores a previously stored
// body, reading the ticket from the current body. A miss is reported
// in headers, not raised.
func (f *Flow) ClaimCheckRetrieve() *Flow {
	f.steps = append(f.steps, step{kind: stepClaimRetrieve})
	return f
}

// ClaimCheckRetrieveHeader is ClaimCheckRetrieve with the ticket read
// from the named header instead of the body.
func (f *Flow) ClaimCheckRetrieveHeader(header string) *Flow {
	f.steps = append(f.steps, step{kind: stepClaimRetrieve, ticketHeader: header})
	return f
}

// ToSink appends a write to a named sink registered on the router.
func (f *Flow) ToSink(name string) *Flow {
	f.steps = append(f.steps, step{kind: stepSink, sink: name})
	return f
}

// Route binds a flow to an entry point. A plain route is executed
// synchronously by Router.Dispatch; a stage route is the continuation
// its stage's workers run for every dequeued envelope.
type Route struct {
	entry   string
	isStage bool
	stage   StageConfig
	flow    *Flow
	policy  *RedeliveryPolicy
}

// From starts a route bound to a named synchronous entry point.
func From(entry string) *Route {
	return &Route{entry: entry, flow: NewFlow()}
}

// FromStage starts a route consumed by the named stage's worker pool.
// The stage queue is created with the given configuration.
func FromStage(name string, cfg StageConfig) *Route {
	return &Route{entry: name, isStage: true, stage: cfg, flow: NewFlow()}
}

// Entry returns the route's entry (or stage) name.
func (r *Route) Entry() string {
	return r.entry
}

// WithRedelivery sets the route's redelivery policy, overriding the
// router-wide default.
func (r *Route) WithRedelivery(p RedeliveryPolicy) *Route {
	r.policy = &p
	return r
}

// Transform appends a transform step. See Flow.Transform.
func (r *Route) Transform(fn TransformFunc) *Route {
	r.flow.Transform(fn)
	return r
}

// Choice appends a conditional branch step. See Flow.Choice.
func (r *Route) Choice(c Choice) *Route {
	r.flow.Choice(c)
	return r
}

// ToStage appends an asynchronous stage hand-off. See Flow.ToStage.
func (r *Route) ToStage(name string) *Route {
	r.flow.ToStage(name)
	return r
}

// WireTap appends a fire-and-forget duplication. See Flow.WireTap.
func (r *Route) WireTap(name string) *Route {
	r.flow.WireTap(name)
	return r
}

// ClaimCheckStore appends a claim check store step.
func (r *Route) ClaimCheckStore() *Route {
	r.flow.ClaimCheckStore()
	return r
}

// ClaimCheckRetrieve appends a claim check retrieve step.
func (r *Route) ClaimCheckRetrieve() *Route {
	r.flow.ClaimCheckRetrieve()
	return r
}

// ClaimCheckRetrieveHeader appends a claim check retrieve step that
// reads its ticket from the named header.
func (r *Route) ClaimCheckRetrieveHeader(header string) *Route {
	r.flow.ClaimCheckRetrieveHeader(header)
	return r
}

// ToSink appends a sink write step.
func (r *Route) ToSink(name string) *Route {
	r.flow.ToSink(name)
	return r
}
