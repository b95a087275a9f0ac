// Package client contains the Cobra CLI commands for qbull: publishing work
// items, running consumers, and the key/value escape hatch.
package client
