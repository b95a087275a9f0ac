package id

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// NowMs returns current time in milliseconds since Unix epoch. Overridable in
// tests.
var NowMs = func() int64 { return time.Now().UnixMilli() }

// GroupName returns the default consumer-group name for a stream.
func GroupName(stream string) string {
	return "group:" + stream
}

// ConsumerName returns a consumer identity unique within its group:
// consumer:<stream>-<pid>-<wallclock-ms>. The millisecond part comes from
// next(), so two consumers created in the same millisecond within one process
// get distinct, increasing values.
func ConsumerName(stream string) string {
	return fmt.Sprintf("consumer:%s-%d-%d", stream, os.Getpid(), next())
}

var (
	mu     sync.Mutex
	lastMs int64
)

// next returns a strictly increasing millisecond value per process. If the
// clock repeats or goes backwards, the last value is incremented instead.
func next() int64 {
	mu.Lock()
	defer mu.Unlock()
	ms := NowMs()
	if ms <= lastMs {
		ms = lastMs + 1
	}
	lastMs = ms
	return ms
}
