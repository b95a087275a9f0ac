// Package pebblestore wraps Pebble with a small surface: point ops, atomic
// batches with a single fsync policy, and prefix iteration helpers. The
// embedded store backend builds its stream, group, and kv keyspaces on it.
package pebblestore
