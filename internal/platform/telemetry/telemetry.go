// Package telemetry keeps in-process counters, gauges and histograms for the
// genomic server and exposes them in Prometheus text format. It uses only
// standard library constructs plus an Echo handler for the admin endpoint.
package telemetry

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// Config holds all configuration for the telemetry provider.
type Config struct {
	ServiceName    string `json:"service_name"`
	ServiceVersion string `json:"service_version"`
	Environment    string `json:"environment"`
	MetricsEnabled *bool  `json:"metrics_enabled"` // nil = use default (true)
}

func (c *Config) metricsOn() bool {
	if c.MetricsEnabled == nil {
		return true
	}
	return *c.MetricsEnabled
}

func (c *Config) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "genomic-server"
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = "0.0.0"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
}

// BoolPtr is a helper to create a *bool for Config fields.
func BoolPtr(b bool) *bool {
	return &b
}

// Metric names.
const (
	MetricRequests          = "genomic.requests"
	MetricRequestDuration   = "genomic.request.duration"
	MetricActiveConnections = "genomic.connections.active"
	MetricPeakConnections   = "genomic.connections.peak"
	MetricRejected          = "genomic.connections.rejected"
	MetricScanDuration      = "genomic.scan.duration"
	MetricDetections        = "genomic.detections"
	MetricPatients          = "genomic.patients.total"
	MetricCatalogSize       = "genomic.catalog.size"
	MetricAdminRequests     = "genomic.admin.request.duration"
)

// ---------------------------------------------------------------------------
// Histogram
// ---------------------------------------------------------------------------

// Histogram is a thread-safe histogram with fixed bucket boundaries. Bucket
// counts are non-cumulative in storage; cumulative counts are computed at
// export time.
type Histogram struct {
	boundaries   []float64
	bucketCounts []int64
	count        int64
	sum          uint64 // math.Float64bits, updated with CAS
	mu           sync.Mutex
}

func newHistogram(boundaries []float64) *Histogram {
	return &Histogram{
		boundaries:   boundaries,
		bucketCounts: make([]int64, len(boundaries)),
	}
}

// Observe records a single value.
func (h *Histogram) Observe(v float64) {
	atomic.AddInt64(&h.count, 1)
	atomicAddFloat64(&h.sum, v)

	h.mu.Lock()
	defer h.mu.Unlock()
	for i, b := range h.boundaries {
		if v <= b {
			h.bucketCounts[i]++
			return
		}
	}
}

// Count returns the total number of observations.
func (h *Histogram) Count() int64 {
	return atomic.LoadInt64(&h.count)
}

// Sum returns the total of all observations.
func (h *Histogram) Sum() float64 {
	return math.Float64frombits(atomic.LoadUint64(&h.sum))
}

func (h *Histogram) cumulativeBuckets() []int64 {
	h.mu.Lock()
	raw := make([]int64, len(h.bucketCounts))
	copy(raw, h.bucketCounts)
	h.mu.Unlock()

	var running int64
	for i, c := range raw {
		running += c
		raw[i] = running
	}
	return raw
}

func atomicAddFloat64(addr *uint64, delta float64) {
	for {
		old := atomic.LoadUint64(addr)
		next := math.Float64frombits(old) + delta
		if atomic.CompareAndSwapUint64(addr, old, math.Float64bits(next)) {
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Keyed stores
// ---------------------------------------------------------------------------

type histogramStore struct {
	mu    sync.RWMutex
	items map[string]*Histogram
}

func (s *histogramStore) getOrCreate(key string, boundaries []float64) *Histogram {
	s.mu.RLock()
	h, ok := s.items[key]
	s.mu.RUnlock()
	if ok {
		return h
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok = s.items[key]; !ok {
		h = newHistogram(boundaries)
		s.items[key] = h
	}
	return h
}

func (s *histogramStore) get(key string) *Histogram {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.items[key]
}

func (s *histogramStore) snapshot() map[string]*Histogram {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make(map[string]*Histogram, len(s.items))
	for k, v := range s.items {
		cp[k] = v
	}
	return cp
}

// int64Store backs both counters and gauges.
type int64Store struct {
	mu    sync.RWMutex
	items map[string]*int64
}

func (s *int64Store) ptr(key string) *int64 {
	s.mu.RLock()
	p, ok := s.items[key]
	s.mu.RUnlock()
	if ok {
		return p
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok = s.items[key]; !ok {
		p = new(int64)
		s.items[key] = p
	}
	return p
}

func (s *int64Store) add(key string, delta int64) int64 {
	return atomic.AddInt64(s.ptr(key), delta)
}

func (s *int64Store) set(key string, v int64) {
	atomic.StoreInt64(s.ptr(key), v)
}

// raise stores v if it is larger than the current value.
func (s *int64Store) raise(key string, v int64) {
	p := s.ptr(key)
	for {
		old := atomic.LoadInt64(p)
		if v <= old || atomic.CompareAndSwapInt64(p, old, v) {
			return
		}
	}
}

func (s *int64Store) get(key string) int64 {
	s.mu.RLock()
	p, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	return atomic.LoadInt64(p)
}

func (s *int64Store) snapshot() map[string]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make(map[string]int64, len(s.items))
	for k, p := range s.items {
		cp[k] = atomic.LoadInt64(p)
	}
	return cp
}

// LabelsKey builds the key of a labeled series. Exported so tests can
// construct the same key.
func LabelsKey(name string, labels ...string) string {
	return name + "|" + strings.Join(labels, "|")
}

// ---------------------------------------------------------------------------
// Provider
// ---------------------------------------------------------------------------

// durationBuckets are histogram boundaries in seconds.
var durationBuckets = []float64{
	0.001, 0.005, 0.010, 0.025, 0.050, 0.100, 0.250, 0.500, 1.0, 2.5, 5.0, 10.0, 30.0,
}

// Provider manages all metric state.
type Provider struct {
	cfg        Config
	histograms *histogramStore
	counters   *int64Store
	gauges     *int64Store
	started    time.Time
}

func NewProvider(cfg Config) *Provider {
	cfg.applyDefaults()
	return &Provider{
		cfg:        cfg,
		histograms: &histogramStore{items: make(map[string]*Histogram)},
		counters:   &int64Store{items: make(map[string]*int64)},
		gauges:     &int64Store{items: make(map[string]*int64)},
		started:    time.Now(),
	}
}

// Resource returns the service identity attributes.
func (p *Provider) Resource() map[string]string {
	return map[string]string{
		"service.name":           p.cfg.ServiceName,
		"service.version":        p.cfg.ServiceVersion,
		"deployment.environment": p.cfg.Environment,
	}
}

// RecordRequest counts one handled request and observes its latency.
// status is the response status, or the error code for failures.
func (p *Provider) RecordRequest(command, status string, d time.Duration) {
	if !p.cfg.metricsOn() {
		return
	}
	p.counters.add(LabelsKey(MetricRequests, command, status), 1)
	p.histograms.getOrCreate(LabelsKey(MetricRequestDuration, command), durationBuckets).Observe(d.Seconds())
}

// ConnectionOpened increments the active connection gauge and keeps the
// peak up to date.
func (p *Provider) ConnectionOpened() {
	n := p.gauges.add(MetricActiveConnections, 1)
	p.gauges.raise(MetricPeakConnections, n)
}

func (p *Provider) ConnectionClosed() {
	p.gauges.add(MetricActiveConnections, -1)
}

// ConnectionRejected counts connections dropped before a worker picked them
// up.
func (p *Provider) ConnectionRejected() {
	p.counters.add(LabelsKey(MetricRejected), 1)
}

// RecordScan observes one disease screening run.
func (p *Provider) RecordScan(matches int, d time.Duration) {
	if !p.cfg.metricsOn() {
		return
	}
	p.histograms.getOrCreate(LabelsKey(MetricScanDuration), durationBuckets).Observe(d.Seconds())
	if matches > 0 {
		p.counters.add(LabelsKey(MetricDetections), int64(matches))
	}
}

// SetPatients sets the patient gauge.
func (p *Provider) SetPatients(n int) {
	p.gauges.set(MetricPatients, int64(n))
}

// SetCatalogSize sets the catalog gauge.
func (p *Provider) SetCatalogSize(n int) {
	p.gauges.set(MetricCatalogSize, int64(n))
}

// ---------------------------------------------------------------------------
// Accessors (for tests and introspection)
// ---------------------------------------------------------------------------

// GetCounter returns the value of a counter with the given label values.
func (p *Provider) GetCounter(name string, labels ...string) int64 {
	return p.counters.get(LabelsKey(name, labels...))
}

// GetGauge returns the current value of the named gauge.
func (p *Provider) GetGauge(name string) int64 {
	return p.gauges.get(name)
}

// GetHistogram returns a histogram, or nil if nothing was observed yet.
func (p *Provider) GetHistogram(name string, labels ...string) *Histogram {
	return p.histograms.get(LabelsKey(name, labels...))
}

// Stats is a point-in-time summary of request handling.
type Stats struct {
	TotalRequests     int64         `json:"total_requests"`
	AverageLatency    time.Duration `json:"average_latency_ns"`
	ActiveConnections int64         `json:"active_connections"`
	PeakConnections   int64         `json:"peak_connections"`
	Uptime            time.Duration `json:"uptime_ns"`
}

// Stats aggregates every request series.
func (p *Provider) Stats() Stats {
	var total int64
	var sum float64
	for key, h := range p.histograms.snapshot() {
		if strings.HasPrefix(key, MetricRequestDuration+"|") {
			total += h.Count()
			sum += h.Sum()
		}
	}
	s := Stats{
		TotalRequests:     total,
		ActiveConnections: p.gauges.get(MetricActiveConnections),
		PeakConnections:   p.gauges.get(MetricPeakConnections),
		Uptime:            time.Since(p.started),
	}
	if total > 0 {
		s.AverageLatency = time.Duration(sum / float64(total) * float64(time.Second))
	}
	return s
}

// ---------------------------------------------------------------------------
// MetricsMiddleware
// ---------------------------------------------------------------------------

// MetricsMiddleware records the latency of admin HTTP requests.
func (p *Provider) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !p.cfg.metricsOn() {
				return next(c)
			}
			start := time.Now()
			err := next(c)

			route := c.Path()
			if route == "" {
				route = c.Request().URL.Path
			}
			key := LabelsKey(MetricAdminRequests, c.Request().Method, route, fmt.Sprintf("%d", c.Response().Status))
			p.histograms.getOrCreate(key, durationBuckets).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// ---------------------------------------------------------------------------
// PrometheusHandler
// ---------------------------------------------------------------------------

// PrometheusHandler returns an Echo handler that serves metrics in Prometheus
// text exposition format.
func (p *Provider) PrometheusHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.String(http.StatusOK, p.Expose())
	}
}

// Expose renders every metric in Prometheus text format.
func (p *Provider) Expose() string {
	var b strings.Builder
	counters := p.counters.snapshot()
	histograms := p.histograms.snapshot()

	b.WriteString("# HELP genomic_requests_total Requests handled by command and status.\n")
	b.WriteString("# TYPE genomic_requests_total counter\n")
	for _, key := range sortedKeys(counters) {
		parts := strings.Split(key, "|")
		if len(parts) == 3 && parts[0] == MetricRequests {
			fmt.Fprintf(&b, "genomic_requests_total{command=%q,status=%q} %d\n", parts[1], parts[2], counters[key])
		}
	}
	b.WriteByte('\n')

	writeHistograms(&b, "genomic_request_duration_seconds", "Request processing latency in seconds.",
		histograms, MetricRequestDuration, []string{"command"})
	writeHistograms(&b, "genomic_scan_duration_seconds", "Disease screening latency in seconds.",
		histograms, MetricScanDuration, nil)
	writeHistograms(&b, "genomic_admin_request_duration_seconds", "Admin HTTP request latency in seconds.",
		histograms, MetricAdminRequests, []string{"method", "route", "status_code"})

	simple := []struct {
		promName string
		key      string
		typ      string
		help     string
		value    int64
	}{
		{"genomic_detections_total", "", "counter", "Disease matches recorded.", counters[LabelsKey(MetricDetections)]},
		{"genomic_connections_rejected_total", "", "counter", "Connections dropped before being served.", counters[LabelsKey(MetricRejected)]},
		{"genomic_connections_active", MetricActiveConnections, "gauge", "Connections currently being served.", 0},
		{"genomic_connections_peak", MetricPeakConnections, "gauge", "Highest number of concurrent connections.", 0},
		{"genomic_patients_total", MetricPatients, "gauge", "Patient ids allocated.", 0},
		{"genomic_catalog_size", MetricCatalogSize, "gauge", "Disease catalog entries.", 0},
	}
	for _, m := range simple {
		v := m.value
		if m.key != "" {
			v = p.gauges.get(m.key)
		}
		fmt.Fprintf(&b, "# HELP %s %s\n", m.promName, m.help)
		fmt.Fprintf(&b, "# TYPE %s %s\n", m.promName, m.typ)
		fmt.Fprintf(&b, "%s %d\n\n", m.promName, v)
	}
	return b.String()
}

// ---------------------------------------------------------------------------
// Prometheus format helpers
// ---------------------------------------------------------------------------

func writeHistograms(b *strings.Builder, name, help string, all map[string]*Histogram, metric string, labelNames []string) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s histogram\n", name)

	for _, key := range sortedKeys(all) {
		parts := strings.Split(key, "|")
		if parts[0] != metric {
			continue
		}
		values := parts[1:]
		var labels []string
		for i, ln := range labelNames {
			if i < len(values) {
				labels = append(labels, fmt.Sprintf("%s=%q", ln, values[i]))
			}
		}
		writeSingleHistogram(b, name, strings.Join(labels, ","), all[key])
	}
	b.WriteByte('\n')
}

func writeSingleHistogram(b *strings.Builder, name, labels string, h *Histogram) {
	cum := h.cumulativeBuckets()
	total := h.Count()

	prefix, suffix := "", ""
	if labels != "" {
		prefix = labels + ","
		suffix = "{" + labels + "}"
	}

	for i, boundary := range h.boundaries {
		fmt.Fprintf(b, "%s_bucket{%sle=\"%g\"} %d\n", name, prefix, boundary, cum[i])
	}
	fmt.Fprintf(b, "%s_bucket{%sle=\"+Inf\"} %d\n", name, prefix, total)
	fmt.Fprintf(b, "%s_sum%s %g\n", name, suffix, h.Sum())
	fmt.Fprintf(b, "%s_count%s %d\n", name, suffix, total)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
