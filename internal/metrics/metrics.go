// Package metrics is a minimal metrics facade for the sync pipeline.
//
// Core code depends only on this package; concrete backends (Datadog, or
// nothing) are selected at process startup. The default backend is a nop, so
// instrumentation calls are always safe.
package metrics

import "sync"

// Labels attaches low-cardinality dimensions to a metric sample.
type Labels map[string]string

// Backend is implemented by metric sinks.
//
// IMPORTANT: implementations must be safe for concurrent use; pipeline code
// calls IncCounter/ObserveHistogram from wherever it happens to be running.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs the process-wide backend. Call once at startup before
// the pipeline runs; a nil backend restores the nop.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		backend = nopBackend{}
		return
	}
	backend = b
}

// IncCounter adds delta to a counter on the active backend.
func IncCounter(name string, delta float64, labels Labels) {
	mu.RLock()
	b := backend
	mu.RUnlock()
	b.IncCounter(name, delta, labels)
}

// ObserveHistogram records a sample on the active backend.
func ObserveHistogram(name string, value float64, labels Labels) {
	mu.RLock()
	b := backend
	mu.RUnlock()
	b.ObserveHistogram(name, value, labels)
}

// Flush forces buffered metrics out of the active backend.
func Flush() error {
	mu.RLock()
	b := backend
	mu.RUnlock()
	return b.Flush()
}
