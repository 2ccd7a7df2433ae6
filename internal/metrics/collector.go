// Package metrics keeps in-process counters and histograms for one agent run
// and renders them in the Prometheus text exposition format.
package metrics

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector aggregates counters and histograms.
type Collector struct {
	mu         sync.Mutex
	counters   map[string]*Counter
	histograms map[string]*Histogram
	startTime  time.Time
}

func NewCollector() *Collector {
	return &Collector{
		counters:   make(map[string]*Counter),
		histograms: make(map[string]*Histogram),
		startTime:  time.Now(),
	}
}

// Uptime returns how long the collector has been running.
func (c *Collector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

func (c *Counter) Inc() { c.value.Add(1) }
func (c *Counter) Add(n int64) { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Histogram tracks the distribution of observed values.
type Histogram struct {
	name    string
	help    string
	labels  string
	mu      sync.Mutex
	count   int64
	sum     float64
	buckets []histBucket
}

type histBucket struct {
	le    float64
	count int64
}

// Observe records a value in the histogram.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i := range h.buckets {
		if v <= h.buckets[i].le {
			h.buckets[i].count++
		}
	}
}

// Count returns the number of observations.
func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Labels formats label pairs as k1="v1",k2="v2". Pairs with an odd tail are
// ignored.
func Labels(kv ...string) string {
	parts := make([]string, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		parts = append(parts, fmt.Sprintf("%s=%q", kv[i], kv[i+1]))
	}
	return strings.Join(parts, ",")
}

// Counter returns or creates the counter with the given name and labels.
func (c *Collector) Counter(name, help, labels string) *Counter {
	key := name + "{" + labels + "}"
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctr, ok := c.counters[key]; ok {
		return ctr
	}
	ctr := &Counter{name: name, help: help, labels: labels}
	c.counters[key] = ctr
	return ctr
}

// Histogram returns or creates the histogram with the given name and labels.
func (c *Collector) Histogram(name, help, labels string, buckets []float64) *Histogram {
	key := name + "{" + labels + "}"
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.histograms[key]; ok {
		return h
	}
	sorted := append([]float64(nil), buckets...)
	sort.Float64s(sorted)
	hb := make([]histBucket, len(sorted))
	for i, b := range sorted {
		hb[i] = histBucket{le: b}
	}
	h := &Histogram{name: name, help: help, labels: labels, buckets: hb}
	c.histograms[key] = h
	return h
}

// WriteTo renders every metric, sorted by name and labels.
func (c *Collector) WriteTo(w io.Writer) (int64, error) {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# HELP agent_uptime_seconds Time since start in seconds\n")
	fmt.Fprintf(&sb, "# TYPE agent_uptime_seconds gauge\n")
	fmt.Fprintf(&sb, "agent_uptime_seconds %d\n", int64(c.Uptime().Seconds()))

	c.mu.Lock()
	counters := make([]*Counter, 0, len(c.counters))
	for _, ctr := range c.counters {
		counters = append(counters, ctr)
	}
	histograms := make([]*Histogram, 0, len(c.histograms))
	for _, h := range c.histograms {
		histograms = append(histograms, h)
	}
	c.mu.Unlock()

	sort.Slice(counters, func(i, j int) bool {
		if counters[i].name != counters[j].name {
			return counters[i].name < counters[j].name
		}
		return counters[i].labels < counters[j].labels
	})
	sort.Slice(histograms, func(i, j int) bool {
		if histograms[i].name != histograms[j].name {
			return histograms[i].name < histograms[j].name
		}
		return histograms[i].labels < histograms[j].labels
	})

	helpWritten := make(map[string]bool)
	for _, ctr := range counters {
		if !helpWritten[ctr.name] {
			fmt.Fprintf(&sb, "# HELP %s %s\n", ctr.name, ctr.help)
			fmt.Fprintf(&sb, "# TYPE %s counter\n", ctr.name)
			helpWritten[ctr.name] = true
		}
		if ctr.labels != "" {
			fmt.Fprintf(&sb, "%s{%s} %d\n", ctr.name, ctr.labels, ctr.Value())
		} else {
			fmt.Fprintf(&sb, "%s %d\n", ctr.name, ctr.Value())
		}
	}

	for _, h := range histograms {
		h.mu.Lock()
		if !helpWritten[h.name] {
			fmt.Fprintf(&sb, "# HELP %s %s\n", h.name, h.help)
			fmt.Fprintf(&sb, "# TYPE %s histogram\n", h.name)
			helpWritten[h.name] = true
		}
		prefix := h.name + "_bucket{"
		if h.labels != "" {
			prefix += h.labels + ","
		}
		for _, b := range h.buckets {
			le := fmt.Sprintf("%g", b.le)
			if math.IsInf(b.le, 1) {
				le = "+Inf"
			}
			fmt.Fprintf(&sb, "%sle=\"%s\"} %d\n", prefix, le, b.count)
		}
		if h.labels != "" {
			fmt.Fprintf(&sb, "%s_count{%s} %d\n", h.name, h.labels, h.count)
			fmt.Fprintf(&sb, "%s_sum{%s} %f\n", h.name, h.labels, h.sum)
		} else {
			fmt.Fprintf(&sb, "%s_count %d\n", h.name, h.count)
			fmt.Fprintf(&sb, "%s_sum %f\n", h.name, h.sum)
		}
		h.mu.Unlock()
	}

	n, err := io.WriteString(w, sb.String())
	return int64(n), err
}

// --- Metrics recorded by the agent ---

var (
	toolBuckets      = []float64{0.01, 0.1, 0.5, 1, 5, 10, 30}
	inferenceBuckets = []float64{0.5, 1, 2, 5, 10, 30, 60, 120}
)

// ToolCall records one dispatch outcome.
func (c *Collector) ToolCall(tool, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.Counter("agent_tool_calls_total", "Tool dispatches by outcome", Labels("tool", tool, "outcome", outcome)).Inc()
	c.Histogram("agent_tool_duration_seconds", "Tool dispatch latency in seconds", "", toolBuckets).Observe(d.Seconds())
}

// Inference records one gateway round trip.
func (c *Collector) Inference(gateway string, d time.Duration, err error) {
	if c == nil {
		return
	}
	c.Counter("agent_inferences_total", "Inference requests", Labels("gateway", gateway)).Inc()
	if err != nil {
		c.Counter("agent_inference_errors_total", "Failed inference requests", Labels("gateway", gateway)).Inc()
	}
	c.Histogram("agent_inference_duration_seconds", "Inference latency in seconds", "", inferenceBuckets).Observe(d.Seconds())
}
