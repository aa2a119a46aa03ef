// Package sink implements the output collaborators a DnsMessage is handed
// to once parsed: console, rotating file, Kafka and StatsD (spec §6).
package sink

import (
	"fmt"
	"sync"

	"github.com/minorway/dnsobserve/internal/dnswire"
)

// Sink is the contract every output collaborator implements.
type Sink interface {
	Output(msg *dnswire.Message) error
	Close() error
}

// Facade fans a single DnsMessage out to every configured sink behind one
// mutex, so concurrent workers never interleave writes to the same
// underlying sink (spec §5: "Sinks: behind a façade with its own mutex; one
// writer at a time").
type Facade struct {
	mu    sync.Mutex
	sinks []Sink
}

// NewFacade wraps the given sinks. Nil entries are skipped so callers can
// build the slice conditionally on config flags.
func NewFacade(sinks ...Sink) *Facade {
	f := &Facade{}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

// Output writes msg to every wrapped sink, collecting (not short-circuiting
// on) individual failures so one broken sink doesn't silence the others.
func (f *Facade) Output(msg *dnswire.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var firstErr error
	for _, s := range f.sinks {
		if err := s.Output(msg); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("sink: %w", err)
		}
	}
	return firstErr
}

// Close closes every wrapped sink, returning the first error encountered.
func (f *Facade) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var firstErr error
	for _, s := range f.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
