// Package queue implements the work-queue engine on top of the store
// capability surface: a Publisher that tags outgoing items with an optional
// ordering key, and a Consumer that turns blocking group reads into a bounded
// pool of handler invocations with at-least-once acknowledgment.
//
// # Delivery semantics
//
// A message is acknowledged only after its handler returns success. Handler
// failures leave the message pending in the store, where group semantics keep
// it until some consumer acknowledges it. Ack failures after a successful
// handler run are logged and not retried; the message will be redelivered and
// the handler must tolerate duplicates.
//
// # Ordering
//
// With ordering enabled, messages carrying the reserved _orderingKey field
// are serialized per key: handlers for one key start in append order and
// never overlap, while distinct keys run in parallel up to the concurrency
// bound. Messages without a key take the unordered path.
//
// # Shutdown
//
// Stop halts polling, then waits for in-flight handlers on a 250ms tick up
// to the configured graceful timeout. Handlers are never cancelled; keyed
// messages still queued at that point are never handed to a handler and
// remain pending in the store. Group reads return only never-delivered
// messages, so a later Start does not pick them up again.
//
// Messages left pending by a consumer that dies are not reclaimed by peers;
// pending-entry reclaim is deliberately out of scope.
package queue
