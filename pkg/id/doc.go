// Package id generates process-local identifiers: monotonic sequence ids and
// the default consumer/group names used by the queue engine.
package id
