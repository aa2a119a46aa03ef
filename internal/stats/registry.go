// Package stats implements the process-wide named-counter/timer sink used
// by every other component in the ingest pipeline (spec §2 item 2, §4.8).
package stats

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// Registry is a single sync.Mutex-guarded pair of maps. Critical sections
// are limited to the map operations themselves, never to logging or I/O,
// per the concurrency model's lock-discipline rule.
type Registry struct {
	mu        sync.Mutex
	counters  map[string]uint64
	timers    map[string]time.Duration
	startedAt time.Time

	promCounters map[string]prometheus.Counter
	promReg      *prometheus.Registry
}

// NewRegistry creates an empty Registry backed by its own Prometheus
// registry (so counters can be exported via an HTTP handler without
// colliding with the default global registry).
func NewRegistry() *Registry {
	return &Registry{
		counters:     make(map[string]uint64),
		timers:       make(map[string]time.Duration),
		startedAt:    time.Now(),
		promCounters: make(map[string]prometheus.Counter),
		promReg:      prometheus.NewRegistry(),
	}
}

// Increment bumps a named counter by 1.
func (r *Registry) Increment(name string) {
	r.Add(name, 1)
}

// Add bumps a named counter by n.
func (r *Registry) Add(name string, n uint64) {
	r.mu.Lock()
	r.counters[name] += n
	c := r.promCounterLocked(name)
	r.mu.Unlock()
	c.Add(float64(n))
}

// Set overwrites a named counter's value.
func (r *Registry) Set(name string, value uint64) {
	r.mu.Lock()
	r.counters[name] = value
	r.mu.Unlock()
}

// Get returns the current value of a named counter.
func (r *Registry) Get(name string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters[name]
}

// AddDuration accumulates wall time under a named timer.
func (r *Registry) AddDuration(name string, d time.Duration) {
	r.mu.Lock()
	r.timers[name] += d
	r.mu.Unlock()
}

// Timer starts a stopwatch and returns a func that, when called, records
// the elapsed time under name.
func (r *Registry) Timer(name string) func() {
	start := time.Now()
	return func() {
		r.AddDuration(name, time.Since(start))
	}
}

// promCounterLocked lazily registers a Prometheus counter for name. Caller
// must hold r.mu.
func (r *Registry) promCounterLocked(name string) prometheus.Counter {
	if c, ok := r.promCounters[name]; ok {
		return c
	}
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dnsobserve_" + sanitizeMetricName(name),
		Help: "dnsobserve counter: " + name,
	})
	r.promReg.MustRegister(c)
	r.promCounters[name] = c
	return c
}

func sanitizeMetricName(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c == '.' || c == '-' {
			out[i] = '_'
		} else {
			out[i] = c
		}
	}
	return string(out)
}

// Gatherer exposes the Registry's Prometheus registry for mounting behind
// an HTTP handler (promhttp.HandlerFor), without pulling the driver
// package into a dependency on net/http handler wiring.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.promReg
}

// Snapshot is a point-in-time copy of the registry's counters and timers.
type Snapshot struct {
	Counters map[string]uint64
	Timers   map[string]time.Duration
	Elapsed  time.Duration
}

// TakeSnapshot copies the current counters/timers without resetting them.
func (r *Registry) TakeSnapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := Snapshot{
		Counters: make(map[string]uint64, len(r.counters)),
		Timers:   make(map[string]time.Duration, len(r.timers)),
		Elapsed:  time.Since(r.startedAt),
	}
	for k, v := range r.counters {
		snap.Counters[k] = v
	}
	for k, v := range r.timers {
		snap.Timers[k] = v
	}
	return snap
}

// PrintAndReset logs the current counters (sorted by name, each with a
// per-second rate) followed by the timers (in no particular order) and
// clears them, grounded on the original
// print_and_reset implementation's semantics. This is what the driver's
// stats thread calls on each stats_interval tick.
func (r *Registry) PrintAndReset() {
	r.mu.Lock()
	elapsed := time.Since(r.startedAt).Seconds()
	counters := make(map[string]uint64, len(r.counters))
	for k, v := range r.counters {
		counters[k] = v
	}
	timers := make(map[string]time.Duration, len(r.timers))
	for k, v := range r.timers {
		timers[k] = v
	}
	r.counters = make(map[string]uint64)
	r.timers = make(map[string]time.Duration)
	r.startedAt = time.Now()
	r.mu.Unlock()

	names := make([]string, 0, len(counters))
	for k := range counters {
		names = append(names, k)
	}
	sort.Strings(names)

	event := log.Info()
	for _, name := range names {
		rate := float64(0)
		if elapsed > 0 {
			rate = float64(counters[name]) / elapsed
		}
		event = event.Float64(name+"_per_sec", rate).Uint64(name, counters[name])
	}
	for name, d := range timers {
		event = event.Dur(name, d)
	}
	event.Float64("elapsed_seconds", elapsed).Msg("stats")
}

// Merge folds another registry's counters and timers into this one.
// Implemented as a seam for a future sharded (per-worker) stats design
// (spec §9's "future optimization" note) even though the current driver
// uses a single shared Registry.
func (r *Registry) Merge(other *Registry) {
	snap := other.TakeSnapshot()
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range snap.Counters {
		r.counters[k] += v
	}
	for k, v := range snap.Timers {
		r.timers[k] += v
	}
}
