// Package metrics exposes run counters for the indexer, backed by Prometheus
// collectors. A Registry is owned by the orchestrator and injected into every
// component; callers mutate counters only through its increment methods.
package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Counter names as they appear in Snapshot and the end-of-run report.
const (
	BlocksFetched   = "blocks_fetched"
	BlocksProcessed = "blocks_processed"
	BlocksFailed    = "blocks_failed"
	GapsDetected    = "gaps_detected"
	GapsFixed       = "gaps_fixed"
	APIRequests     = "api_requests"
	APIFailures     = "api_failures"
	DBWrites        = "db_writes"
	DBFailures      = "db_failures"
	FileWrites      = "file_writes"
	FileFailures    = "file_failures"
)

// Registry holds the indexer's run counters. Each counter pairs an atomic
// value (readable for the report) with a Prometheus counter registered on a
// private registry (scrapeable via Handler).
type Registry struct {
	reg       *prometheus.Registry
	counters  map[string]*counter
	active    prometheus.Gauge
	startTime atomic.Int64
}

type counter struct {
	value atomic.Int64
	prom  prometheus.Counter
}

// NewRegistry constructs a Registry with all counters at zero.
func NewRegistry() *Registry {
	r := &Registry{
		reg:      prometheus.NewRegistry(),
		counters: make(map[string]*counter),
	}
	for _, name := range []string{
		BlocksFetched, BlocksProcessed, BlocksFailed,
		GapsDetected, GapsFixed,
		APIRequests, APIFailures,
		DBWrites, DBFailures,
		FileWrites, FileFailures,
	} {
		c := &counter{
			prom: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "indexer",
				Name:      name + "_total",
				Help:      "Total " + name + " observed during the run.",
			}),
		}
		r.reg.MustRegister(c.prom)
		r.counters[name] = c
	}
	r.active = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "indexer",
		Name:      "active_workers",
		Help:      "Number of workers currently processing a task.",
	})
	r.reg.MustRegister(r.active)
	r.startTime.Store(time.Now().UnixNano())
	return r
}

// Inc increments the named counter by one.
func (r *Registry) Inc(name string) {
	r.Add(name, 1)
}

// Add increments the named counter by n. Unknown names are ignored so a
// misspelled call site cannot panic a worker loop.
func (r *Registry) Add(name string, n int64) {
	c, ok := r.counters[name]
	if !ok || n <= 0 {
		return
	}
	c.value.Add(n)
	c.prom.Add(float64(n))
}

// Get returns the current value of the named counter.
func (r *Registry) Get(name string) int64 {
	c, ok := r.counters[name]
	if !ok {
		return 0
	}
	return c.value.Load()
}

// IncActiveWorkers marks a worker as busy.
func (r *Registry) IncActiveWorkers() { r.active.Inc() }

// DecActiveWorkers marks a worker as idle.
func (r *Registry) DecActiveWorkers() { r.active.Dec() }

// Snapshot returns the current counter values by name.
func (r *Registry) Snapshot() map[string]int64 {
	out := make(map[string]int64, len(r.counters))
	for name, c := range r.counters {
		out[name] = c.value.Load()
	}
	return out
}

// Reset zeroes the atomic counters and the elapsed clock between runs. The
// Prometheus collectors keep accumulating, as scrapers expect.
func (r *Registry) Reset() {
	for _, c := range r.counters {
		c.value.Store(0)
	}
	r.startTime.Store(time.Now().UnixNano())
}

// Elapsed reports wall time since the registry was created or last reset.
func (r *Registry) Elapsed() time.Duration {
	return time.Since(time.Unix(0, r.startTime.Load()))
}

// SuccessRate computes (total-failed)/total as a percentage for a counter
// pair, or 0 when nothing was attempted.
func (r *Registry) SuccessRate(totalName, failedName string) float64 {
	total := r.Get(totalName)
	if total == 0 {
		return 0
	}
	failed := r.Get(failedName)
	return float64(total-failed) / float64(total) * 100
}

// BlocksPerSecond derives throughput from processed count and elapsed time.
func (r *Registry) BlocksPerSecond() float64 {
	elapsed := r.Elapsed().Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(r.Get(BlocksProcessed)) / elapsed
}

// Handler exposes the private Prometheus registry for scraping.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
