// Package stage implements the SEDA primitive: a bounded, named queue
// drained by a fixed pool of worker goroutines, with a configurable
// overflow policy (block, drop-newest, drop-oldest). The routing layer
// owns stage creation and supplies each queue's continuation handler.
package stage
