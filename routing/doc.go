// Package routing implements the staged message-routing engine: an
// in-process router executing declarative routes over bounded stage
// queues with concurrent consumers.
//
// A route is an ordered sequence of steps bound to a named entry
// point: transforms, conditional branches, asynchronous stage
// hand-offs, wire taps, claim check store/retrieve, and sink writes.
// Plain routes run synchronously on the caller of Dispatch up to the
// first stage hand-off; stage routes are the continuations a stage's
// worker pool runs for every dequeued envelope.
//
// Each route executes under a dead letter channel: step failures are
// retried per the route's RedeliveryPolicy and, once exhausted,
// forwarded to the configured dead letter stage with the failure
// history stamped into headers. Failures inside a stage's
// continuation are handled by that stage's own policy and never reach
// the producing route.
//
//	router := routing.NewRouter()
//	_ = router.Register(routing.FromStage("audit", routing.StageConfig{Concurrency: 1}).
//		ToSink("audit-log"))
//	_ = router.Register(routing.From("orders").
//		Transform(parseOrder).
//		WireTap("audit").
//		Choice(routing.Choice{Branches: []routing.Branch{{
//			When: routing.HeaderGreaterThan("amount", 3000),
//			Then: routing.NewFlow().ToStage("vip"),
//		}}}).
//		ToStage("settlement"))
//	_ = router.Dispatch(ctx, "orders", contracts.NewEnvelopeString(payload))
package routing
