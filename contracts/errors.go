package contracts

import (
	"errors"
	"fmt"
)

var (
	// Router registration and dispatch errors
	ErrUnknownEntry   = errors.New("router: unknown entry point")
	ErrDuplicateRoute = errors.New("router: route already registered")
	ErrDuplicateStage = errors.New("router: stage already registered")
	ErrRouterClosed   = errors.New("router: shut down")

	// Sink errors
	ErrUnknownSink = errors.New("sink: not registered")

	// Claim check errors
	ErrClaimNotFound = errors.New("claimcheck: ticket not found")
	ErrClaimExists   = errors.New("claimcheck: ticket already stored")
	ErrStoreClosed   = errors.New("claimcheck: store closed")
)

// StepExecutionError wraps a fault raised by a route step after the
// redelivery policy has been exhausted. It is the only step-level
// failure a synchronous caller can observe.
type StepExecutionError struct {
	Route    string
	StepIdx  int
	Attempts int
	Err      error
}

func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("route %s: step %d failed after %d attempts: %v",
		e.Route, e.StepIdx, e.Attempts, e.Err)
}

func (e *StepExecutionError) Unwrap() error {
	return e.Err
}

// SinkUnavailableError reports a failed sink write. It flows through
// the error handler like any other step fault.
type SinkUnavailableError struct {
	Sink string
	Err  error
}

func (e *SinkUnavailableError) Error() string {
	return fmt.Sprintf("sink %s unavailable: %v", e.Sink, e.Err)
}

func (e *SinkUnavailableError) Unwrap() error {
	return e.Err
}
