package routing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glimte/sedaflow-go/claimcheck"
	"github.com/glimte/sedaflow-go/contracts"
	"github.com/glimte/sedaflow-go/internal/reliability"
)

// stepFault carries the index of the step that failed so the
// exhaustion error can report it.
type stepFault struct {
	idx int
	err error
}

func (f *stepFault) Error() string {
	return f.err.Error()
}

func (f *stepFault) Unwrap() error {
	return f.err
}

// execute runs a route under its error handler: execute the flow, and
// on failure either redeliver (bounded, delayed, whole route from the
// start with the envelope state as of the failure) or dead-letter.
func (r *Router) execute(ctx context.Context, route *Route, env *contracts.Envelope) error {
	policy := r.defaultPolicy
	if route.policy != nil {
		policy = *route.policy
	}

	for {
		start := time.Now()
		err := r.runFlow(ctx, route.flow, env)
		r.metrics.RecordRouteExecution(ctx, route.entry, time.Since(start), err)

		if err == nil {
			return nil
		}

		var fault *stepFault
		if !errors.As(err, &fault) {
			fault = &stepFault{idx: -1, err: err}
		}

		if _, ok := env.Header(contracts.HeaderFirstFailureAt); !ok {
			env.SetHeader(contracts.HeaderFirstFailureAt, time.Now().UTC().Format(time.RFC3339))
		}

		if env.Attempt < policy.MaxRedeliveries {
			delay := policy.delay(env.Attempt)
			env.Attempt++
			r.metrics.RecordRedelivery(ctx, route.entry)
			r.logger.Warn("redelivering envelope",
				"route", route.entry,
				"envelopeId", env.ID,
				"attempt", env.Attempt,
				"delay", delay,
				"error", fault.err,
			)
			if sleepErr := reliability.Sleep(ctx, delay); sleepErr != nil {
				return sleepErr
			}
			continue
		}

		stepErr := &contracts.StepExecutionError{
			Route:    route.entry,
			StepIdx:  fault.idx,
			Attempts: env.Attempt,
			Err:      fault.err,
		}
		r.deadLetter(ctx, route, policy, env, stepErr)
		return stepErr
	}
}

// deadLetter stamps the envelope with its failure history and
// forwards it to the policy's dead letter stage, exactly once.
func (r *Router) deadLetter(ctx context.Context, route *Route, policy RedeliveryPolicy, env *contracts.Envelope, cause error) {
	env.SetHeader(contracts.HeaderDeadLettered, true)
	env.SetHeader(contracts.HeaderDeadLetterReason, cause.Error())
	env.SetHeader(contracts.HeaderFailedRoute, route.entry)
	env.SetHeader(contracts.HeaderRedeliveryCount, env.Attempt)

	r.metrics.RecordDeadLetter(ctx, route.entry)
	r.logger.Error("envelope dead-lettered",
		"route", route.entry,
		"envelopeId", env.ID,
		"correlationId", env.CorrelationID,
		"attempts", env.Attempt,
		"deadLetterStage", policy.DeadLetterStage,
		"error", cause,
	)

	if policy.DeadLetterStage == "" {
		return
	}
	q := r.stageFor(policy.DeadLetterStage)
	if err := q.Enqueue(r.runCtx, env); err != nil {
		r.logger.Error("dead letter forward failed",
			"stage", policy.DeadLetterStage,
			"envelopeId", env.ID,
			"error", err,
		)
	}
}

// runFlow is the single interpreter loop dispatching over the step
// variants. Steps run in declared order; the first failure aborts the
// flow and is reported with its step index.
func (r *Router) runFlow(ctx context.Context, flow *Flow, env *contracts.Envelope) error {
	for i := range flow.steps {
		if err := r.runStep(ctx, &flow.steps[i], env); err != nil {
			var fault *stepFault
			if errors.As(err, &fault) {
				return err // keep the innermost index
			}
			return &stepFault{idx: i, err: err}
		}
	}
	return nil
}

func (r *Router) runStep(ctx context.Context, s *step, env *contracts.Envelope) error {
	switch s.kind {
	case stepTransform:
		if err := s.transform(ctx, env); err != nil {
			return fmt.Errorf("transform: %w", err)
		}
		return nil

	case stepChoice:
		for i := range s.branches {
			if s.branches[i].When(env) {
				return r.runFlow(ctx, s.branches[i].Then, env)
			}
		}
		if s.otherwise != nil {
			return r.runFlow(ctx, s.otherwise, env)
		}
		return nil // no match, pass through unchanged

	case stepDispatch:
		// The stage receives a derived copy so the worker and the
		// remainder of this route never mutate the same envelope.
		q := r.stageFor(s.stage)
		if err := q.Enqueue(ctx, env.Copy()); err != nil {
			return fmt.Errorf("dispatch to %s: %w", s.stage, err)
		}
		return nil

	case stepWireTap:
		tap := env.Copy()
		q := r.stageFor(s.stage)
		go func() {
			if err := q.Enqueue(r.runCtx, tap); err != nil {
				r.logger.Warn("wire tap enqueue failed",
					"stage", s.stage,
					"envelopeId", tap.ID,
					"error", err,
				)
			}
		}()
		return nil

	case stepClaimStore:
		ticket, err := r.store.Put(ctx, env.Body)
		if err != nil {
			return fmt.Errorf("claim check store: %w", err)
		}
		env.Stash = env.Body
		env.Body = []byte(ticket)
		env.SetHeader(contracts.HeaderClaimTicket, ticket)
		return nil

	case stepClaimRetrieve:
		ticket := env.BodyString()
		if s.ticketHeader != "" {
			ticket = env.HeaderString(s.ticketHeader)
		}
		if !strings.HasPrefix(ticket, claimcheck.TicketPrefix) {
			env.SetHeader(contracts.HeaderClaimRetrieved, false)
			env.SetBodyString("ERROR: invalid claim ticket " + ticket)
			return nil
		}
		payload, err := r.store.Get(ctx, ticket)
		if errors.Is(err, contracts.ErrClaimNotFound) {
			// Reported, not raised: the route continues with the
			// miss recorded in headers.
			env.SetHeader(contracts.HeaderClaimRetrieved, false)
			env.SetBodyString("ERROR: no payload stored for ticket " + ticket)
			return nil
		}
		if err != nil {
			return fmt.Errorf("claim check retrieve: %w", err)
		}
		env.Body = payload
		env.Stash = nil
		env.SetHeader(contracts.HeaderClaimRetrieved, true)
		return nil

	case stepSink:
		r.mu.RLock()
		sink, ok := r.sinks[s.sink]
		r.mu.RUnlock()
		if !ok {
			return &contracts.SinkUnavailableError{Sink: s.sink, Err: contracts.ErrUnknownSink}
		}
		if err := sink.Write(ctx, env); err != nil {
			return &contracts.SinkUnavailableError{Sink: s.sink, Err: err}
		}
		return nil

	default:
		return fmt.Errorf("unknown step kind %v", s.kind)
	}
}
