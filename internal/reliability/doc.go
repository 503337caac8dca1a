// Package reliability provides the delay strategies backing the
// engine's redelivery policies: fixed, linear, and exponential
// backoff, plus a context-aware sleep.
package reliability
