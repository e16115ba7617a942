// Package metrics renders counters, gauges and histograms in the Prometheus
// text exposition format.
package metrics

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector aggregates counters, gauges and histograms.
type Collector struct {
	mu         sync.RWMutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	funcs      map[string]*gaugeFunc
	histograms map[string]*Histogram
	prefix     string
	startTime  time.Time
}

// NewCollector creates a collector; prefix names the uptime gauge.
func NewCollector(prefix string) *Collector {
	return &Collector{
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		funcs:      make(map[string]*gaugeFunc),
		histograms: make(map[string]*Histogram),
		prefix:     prefix,
		startTime:  time.Now(),
	}
}

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

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Add(n int64)  { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

func (g *Gauge) Set(v int64)  { g.value.Store(v) }
func (g *Gauge) Value() int64 { return g.value.Load() }

// gaugeFunc is sampled at render time.
type gaugeFunc struct {
	name string
	help string
	fn   func() int64
}

// Histogram tracks the distribution of values.
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

func key(name, labels string) string { return name + "{" + labels + "}" }

// Counter returns or creates a counter.
func (c *Collector) Counter(name, help, labels string) *Counter {
	k := key(name, labels)
	c.mu.RLock()
	ctr, ok := c.counters[k]
	c.mu.RUnlock()
	if ok {
		return ctr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctr, ok := c.counters[k]; ok {
		return ctr
	}
	ctr = &Counter{name: name, help: help, labels: labels}
	c.counters[k] = ctr
	return ctr
}

// Gauge returns or creates a gauge.
func (c *Collector) Gauge(name, help, labels string) *Gauge {
	k := key(name, labels)
	c.mu.Lock()
	defer c.mu.Unlock()
	if g, ok := c.gauges[k]; ok {
		return g
	}
	g := &Gauge{name: name, help: help, labels: labels}
	c.gauges[k] = g
	return g
}

// GaugeFunc registers a gauge whose value is read from fn at scrape time.
func (c *Collector) GaugeFunc(name, help string, fn func() int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.funcs[name] = &gaugeFunc{name: name, help: help, fn: fn}
}

// Histogram returns or creates a histogram.
func (c *Collector) Histogram(name, help, labels string, buckets []float64) *Histogram {
	k := key(name, labels)
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.histograms[k]; ok {
		return h
	}
	bs := append([]float64(nil), buckets...)
	sort.Float64s(bs)
	hb := make([]histBucket, len(bs))
	for i, b := range bs {
		hb[i] = histBucket{le: b}
	}
	h := &Histogram{name: name, help: help, labels: labels, buckets: hb}
	c.histograms[k] = h
	return h
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Handler renders every metric in Prometheus text format.
func (c *Collector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		fmt.Fprint(w, c.Render())
	}
}

// Render returns the exposition text, metrics sorted by name.
func (c *Collector) Render() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var sb strings.Builder
	uptime := c.prefix + "_uptime_seconds"
	fmt.Fprintf(&sb, "# HELP %s Time since start in seconds\n", uptime)
	fmt.Fprintf(&sb, "# TYPE %s gauge\n", uptime)
	fmt.Fprintf(&sb, "%s %d\n", uptime, int64(c.Uptime().Seconds()))

	helpWritten := make(map[string]bool)
	header := func(name, help, typ string) {
		if helpWritten[name] {
			return
		}
		fmt.Fprintf(&sb, "# HELP %s %s\n", name, help)
		fmt.Fprintf(&sb, "# TYPE %s %s\n", name, typ)
		helpWritten[name] = true
	}
	sample := func(name, labels string, v int64) {
		if labels != "" {
			fmt.Fprintf(&sb, "%s{%s} %d\n", name, labels, v)
		} else {
			fmt.Fprintf(&sb, "%s %d\n", name, v)
		}
	}

	for _, k := range sortedKeys(c.counters) {
		ctr := c.counters[k]
		header(ctr.name, ctr.help, "counter")
		sample(ctr.name, ctr.labels, ctr.Value())
	}
	for _, k := range sortedKeys(c.gauges) {
		g := c.gauges[k]
		header(g.name, g.help, "gauge")
		sample(g.name, g.labels, g.Value())
	}
	for _, k := range sortedKeys(c.funcs) {
		f := c.funcs[k]
		header(f.name, f.help, "gauge")
		sample(f.name, "", f.fn())
	}
	for _, k := range sortedKeys(c.histograms) {
		h := c.histograms[k]
		h.mu.Lock()
		header(h.name, h.help, "histogram")
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
		fmt.Fprintf(&sb, "%sle=\"+Inf\"} %d\n", prefix, h.count)
		sample(h.name+"_count", h.labels, h.count)
		if h.labels != "" {
			fmt.Fprintf(&sb, "%s_sum{%s} %f\n", h.name, h.labels, h.sum)
		} else {
			fmt.Fprintf(&sb, "%s_sum %f\n", h.name, h.sum)
		}
		h.mu.Unlock()
	}
	return sb.String()
}
