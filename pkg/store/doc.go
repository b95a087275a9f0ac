// Package store defines the capability surface over the backing log store:
// append-to-stream, blocking consumer-group reads, per-message acks, group
// creation, and a small key/value escape hatch. Concrete backends live in
// subpackages (redis, embedded, postgres, memory); SharedStore owns one
// process-wide client and lazily (re)connects it.
//
// All backends provide the same delivery contract: streams are append-only
// logs, groups start reading at the tail, a group delivers each message to at
// most one consumer at a time, and a delivered message stays pending until
// acknowledged. Messages pending under a consumer that never acks are not
// reclaimed by peers; reclaim is deliberately out of scope.
package store
