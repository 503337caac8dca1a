// Package contracts defines the data types shared across the sedaflow
// engine: the message envelope routed through stages and routes, the
// well-known header keys engine steps write, and the error taxonomy
// surfaced to callers.
//
// An Envelope carries an opaque body plus a mutable header map. The
// engine never interprets the body; transforms and predicates supplied
// at route construction time are the only code that looks inside it.
package contracts
