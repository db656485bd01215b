// Package stats maintains rolling dispatch-latency percentiles and
// per-network request/error counters for the operational stats endpoints
// (spec §4.11).
package stats

import (
	"sync"
	"time"

	mstats "github.com/montanaflynn/stats"
	"github.com/zealws/golang-ring"
)

const ringCapacity = 1024

// Recorder accumulates recent dispatch latencies (as a ring buffer, so
// memory use is bounded regardless of request volume) plus cumulative
// per-network request/error counters.
type Recorder struct {
	mu   sync.Mutex
	ring ring.Ring

	perNetwork map[string]*networkCounters
}

type networkCounters struct {
	Requests int64
	Errors   int64
}

// NewRecorder builds an empty Recorder.
func NewRecorder() *Recorder {
	r := &Recorder{perNetwork: make(map[string]*networkCounters)}
	r.ring.SetCapacity(ringCapacity)
	return r
}

// Record appends one dispatch's latency for a network.
func (r *Recorder) Record(network string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ring.Enqueue(float64(d.Microseconds()))

	c := r.counters(network)
	c.Requests++
}

// RecordError increments a network's error counter.
func (r *Recorder) RecordError(network string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters(network).Errors++
}

func (r *Recorder) counters(network string) *networkCounters {
	c, ok := r.perNetwork[network]
	if !ok {
		c = &networkCounters{}
		r.perNetwork[network] = c
	}
	return c
}

// Percentiles is a snapshot of recent dispatch-latency percentiles, in
// microseconds.
type Percentiles struct {
	P50 float64
	P90 float64
	P99 float64
}

// Snapshot returns the current latency percentiles and per-network counts.
func (r *Recorder) Snapshot() (Percentiles, map[string]NetworkSnapshot) {
	r.mu.Lock()
	values := make([]float64, 0, ringCapacity)
	for _, v := range r.ring.Values() {
		if f, ok := v.(float64); ok {
			values = append(values, f)
		}
	}

	networks := make(map[string]NetworkSnapshot, len(r.perNetwork))
	for k, c := range r.perNetwork {
		networks[k] = NetworkSnapshot{Requests: c.Requests, Errors: c.Errors}
	}
	r.mu.Unlock()

	var p Percentiles
	if len(values) > 0 {
		p.P50, _ = mstats.Percentile(values, 50)
		p.P90, _ = mstats.Percentile(values, 90)
		p.P99, _ = mstats.Percentile(values, 99)
	}
	return p, networks
}

// NetworkSnapshot is one network's cumulative request/error counts.
type NetworkSnapshot struct {
	Requests int64
	Errors   int64
}
